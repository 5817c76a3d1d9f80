package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sipsorcery/sipspeech/internal/metrics"
)

// SynthState is the synthesis handoff's state machine position.
type SynthState int

const (
	// StateIdle: no job running; the pump sends silence or drains a
	// previously claimed buffer.
	StateIdle SynthState = iota
	// StateBusy: a job is in flight; further triggers are rejected.
	StateBusy
	// StateResultReady: a job succeeded and its buffer awaits the pump.
	StateResultReady
)

func (s SynthState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateResultReady:
		return "result_ready"
	}
	return "unknown"
}

// Handoff coordinates the asynchronous completion of a synthesis job with
// the periodic pump that consumes its output. The engine's callback thread
// writes into the buffer through the push-stream contract; the pump claims
// the finished buffer under the same mutex, so a completion can never
// corrupt a buffer mid-claim.
type Handoff struct {
	logger *slog.Logger
	m      *metrics.Metrics
	syn    Synthesizer

	mu     sync.Mutex
	state  SynthState
	buf    []byte
	closed bool
}

// NewHandoff wires the handoff to the engine's synthesizer.
func NewHandoff(syn Synthesizer, logger *slog.Logger, m *metrics.Metrics) *Handoff {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handoff{logger: logger, m: m, syn: syn}
}

// Trigger starts a synthesis job for text if none is in flight. The
// Idle-to-Busy transition is a single compare-and-set under the handoff
// mutex, so concurrent triggers from the DTMF path can never start two jobs.
func (h *Handoff) Trigger(ctx context.Context, text string) bool {
	h.mu.Lock()
	if h.closed || h.state != StateIdle {
		state := h.state
		h.mu.Unlock()
		h.logger.Info("synthesis trigger rejected", slog.String("state", state.String()))
		if h.m != nil {
			h.m.TriggersRejected.Inc()
		}
		return false
	}
	h.state = StateBusy
	h.buf = nil
	h.mu.Unlock()

	if h.m != nil {
		h.m.TriggersAccepted.Inc()
	}
	go func() {
		err := h.syn.Speak(ctx, text, h)
		h.complete(err)
	}()
	return true
}

// Write implements the engine's push-stream contract; it always accepts the
// full buffer. Bytes arriving outside a job (stale engine callbacks after
// failure or close) are discarded.
func (h *Handoff) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.state != StateBusy {
		return len(p), nil
	}
	h.buf = append(h.buf, p...)
	return len(p), nil
}

// Close implements the push-stream contract's close; the end of a job is
// signalled by Speak returning, so there is nothing left to do here.
func (h *Handoff) Close() error { return nil }

// complete resolves the in-flight job: success parks the buffer as
// ResultReady for the pump; failure or a closed session clears it and
// returns to Idle without ever reaching ResultReady.
func (h *Handoff) complete(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.buf = nil
		h.state = StateIdle
		return
	}
	if err != nil {
		h.logger.Warn("synthesis failed", slog.String("error", err.Error()))
		if h.m != nil {
			h.m.SynthesisFailures.Inc()
		}
		h.buf = nil
		h.state = StateIdle
		return
	}
	h.state = StateResultReady
}

// Claim hands the finished buffer to the pump. The check-ResultReady, take
// buffer, clear, set-Idle sequence is one atomic unit under the mutex. An
// empty ResultReady buffer also resets to Idle so a zero-byte synthesis
// cannot wedge the session.
func (h *Handoff) Claim() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateResultReady {
		return nil, false
	}
	if len(h.buf) == 0 {
		h.state = StateIdle
		return nil, false
	}
	buf := h.buf
	h.buf = nil
	h.state = StateIdle
	return buf, true
}

// State reports the current machine position.
func (h *Handoff) State() SynthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// shutdown discards any pending result and makes every later completion or
// write a no-op. Safe to call while a job is in flight.
func (h *Handoff) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.buf = nil
	if h.state == StateResultReady {
		h.state = StateIdle
	}
}
