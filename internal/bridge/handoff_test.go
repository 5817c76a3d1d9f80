package bridge

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSynth blocks in Speak until released, writing audio first if set.
type fakeSynth struct {
	calls   int32
	audio   []byte
	err     error
	release chan struct{}
	texts   chan string
}

func newFakeSynth(audio []byte, err error) *fakeSynth {
	return &fakeSynth{audio: audio, err: err, release: make(chan struct{}), texts: make(chan string, 8)}
}

func (f *fakeSynth) Speak(ctx context.Context, text string, out io.Writer) error {
	atomic.AddInt32(&f.calls, 1)
	f.texts <- text
	if len(f.audio) > 0 {
		_, _ = out.Write(f.audio)
	}
	select {
	case <-f.release:
	case <-ctx.Done():
	}
	return f.err
}

func waitForState(t *testing.T, h *Handoff, want SynthState) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if h.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state never reached %v (now %v)", want, h.State())
}

func TestHandoff_TriggerClaimCycle(t *testing.T) {
	syn := newFakeSynth([]byte{1, 2, 3, 4}, nil)
	h := NewHandoff(syn, nil, nil)

	if !h.Trigger(context.Background(), PromptGreeting) {
		t.Fatalf("trigger on idle handoff rejected")
	}
	if got := <-syn.texts; got != PromptGreeting {
		t.Fatalf("synthesizer got %q, want greeting", got)
	}
	waitForState(t, h, StateBusy)
	close(syn.release)
	waitForState(t, h, StateResultReady)

	buf, ok := h.Claim()
	if !ok || len(buf) != 4 {
		t.Fatalf("expected claimed buffer of 4 bytes, got ok=%v len=%d", ok, len(buf))
	}
	if h.State() != StateIdle {
		t.Fatalf("expected idle after claim, got %v", h.State())
	}
	if _, ok := h.Claim(); ok {
		t.Fatalf("second claim should find nothing")
	}
}

func TestHandoff_RejectsWhileBusy(t *testing.T) {
	syn := newFakeSynth([]byte{1}, nil)
	h := NewHandoff(syn, nil, nil)

	if !h.Trigger(context.Background(), "first") {
		t.Fatalf("first trigger rejected")
	}
	if h.Trigger(context.Background(), "second") {
		t.Fatalf("second trigger accepted while busy")
	}
	close(syn.release)
	waitForState(t, h, StateResultReady)
	if h.Trigger(context.Background(), "third") {
		t.Fatalf("trigger accepted while result pending")
	}
	if got := atomic.LoadInt32(&syn.calls); got != 1 {
		t.Fatalf("expected exactly one synthesis job, got %d", got)
	}
}

func TestHandoff_FailureReturnsToIdle(t *testing.T) {
	syn := newFakeSynth([]byte{1, 2}, errors.New("engine unavailable"))
	h := NewHandoff(syn, nil, nil)

	h.Trigger(context.Background(), "text")
	close(syn.release)
	waitForState(t, h, StateIdle)

	if _, ok := h.Claim(); ok {
		t.Fatalf("failed job must not leave a claimable buffer")
	}
	// handoff is usable again
	syn2 := newFakeSynth([]byte{9}, nil)
	h.syn = syn2
	if !h.Trigger(context.Background(), "retry") {
		t.Fatalf("trigger after failure rejected")
	}
}

func TestHandoff_EmptyResultResetsOnClaim(t *testing.T) {
	syn := newFakeSynth(nil, nil)
	h := NewHandoff(syn, nil, nil)
	h.Trigger(context.Background(), "text")
	close(syn.release)
	waitForState(t, h, StateResultReady)

	if _, ok := h.Claim(); ok {
		t.Fatalf("empty buffer must not be claimable")
	}
	if h.State() != StateIdle {
		t.Fatalf("empty result should reset to idle, got %v", h.State())
	}
}

func TestHandoff_LateCompletionAfterShutdownDiscarded(t *testing.T) {
	syn := newFakeSynth([]byte{1, 2, 3}, nil)
	h := NewHandoff(syn, nil, nil)
	h.Trigger(context.Background(), "text")
	h.shutdown()
	close(syn.release)

	time.Sleep(20 * time.Millisecond)
	if _, ok := h.Claim(); ok {
		t.Fatalf("result arriving after shutdown must be discarded")
	}
	if h.Trigger(context.Background(), "text") {
		t.Fatalf("trigger after shutdown must be rejected")
	}
}

func TestHandoff_WriteOutsideJobDiscarded(t *testing.T) {
	h := NewHandoff(newFakeSynth(nil, nil), nil, nil)
	n, err := h.Write([]byte{1, 2, 3})
	if n != 3 || err != nil {
		t.Fatalf("push-stream write must always accept: n=%d err=%v", n, err)
	}
	if len(h.buf) != 0 {
		t.Fatalf("bytes outside a job must not accumulate")
	}
}

func TestHandoff_ConcurrentTriggersStartOneJob(t *testing.T) {
	syn := newFakeSynth([]byte{1}, nil)
	h := NewHandoff(syn, nil, nil)

	const n = 16
	accepted := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() { accepted <- h.Trigger(context.Background(), "race") }()
	}
	var wins int
	for i := 0; i < n; i++ {
		if <-accepted {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one accepted trigger, got %d", wins)
	}
	close(syn.release)
	waitForState(t, h, StateResultReady)
	if got := atomic.LoadInt32(&syn.calls); got != 1 {
		t.Fatalf("expected one job, got %d", got)
	}
}
