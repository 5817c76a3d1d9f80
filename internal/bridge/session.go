package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sipsorcery/sipspeech/internal/codec"
	"github.com/sipsorcery/sipspeech/internal/dtmf"
	"github.com/sipsorcery/sipspeech/internal/metrics"
)

// Default prompt texts spoken back for keypresses. Tones 0, 1 and 2 carry
// fixed prompts; every other tone falls back to the generic one.
const (
	PromptGreeting = "Hello, and welcome to the speech bridge demonstration. " +
		"Press one to hear about this service, press two for a farewell message, or just start talking."
	PromptAbout = "You pressed one. This call is being bridged to a streaming speech engine. " +
		"Everything you say is transcribed in real time."
	PromptFarewell = "You pressed two. Thank you for trying the speech bridge. Goodbye."
	PromptFallback = "Sorry, that key is not assigned. Press zero to hear the menu again."
)

// Config carries the per-call parameters negotiated by the signaling layer.
type Config struct {
	CallID string
	// PayloadType is the negotiated RTP payload type for outbound audio.
	PayloadType uint8
	// EventPayloadType identifies telephony-event packets on the inbound leg.
	EventPayloadType uint8
	// QueueCapacity bounds the recognition sample queue (0 means default).
	QueueCapacity int
	// Prompts optionally overrides the per-tone prompt texts.
	Prompts map[uint8]string
	// FallbackPrompt optionally overrides the unassigned-key prompt.
	FallbackPrompt string
}

// Session ties the transcoders, the sample queue, the synthesis handoff and
// the playback pump together for one call. All per-call state is created
// here and torn down in Close; nothing outlives the session.
type Session struct {
	cfg    Config
	logger *slog.Logger
	m      *metrics.Metrics

	media      Media
	recognizer Recognizer

	queue   *SampleQueue
	handoff *Handoff
	pump    *Pump
	dec     *codec.G722Decoder
	tones   *dtmf.Decoder

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	closed    bool
	startedAt time.Time
}

// NewSession wires up all per-call components. The send and receive codec
// directions get independent adaptation state: the pump owns the encoder,
// the session the decoder.
func NewSession(cfg Config, media Media, syn Synthesizer, rec Recognizer, logger *slog.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("call_id", cfg.CallID))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		logger:     logger,
		m:          m,
		media:      media,
		recognizer: rec,
		queue:      NewSampleQueue(cfg.QueueCapacity, logger, m),
		dec:        codec.NewG722Decoder(),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.handoff = NewHandoff(syn, logger, m)
	s.pump = NewPump(s.handoff, media, cfg.PayloadType, logger, m)
	s.tones = dtmf.NewDecoder(logger, s.onTone)
	return s
}

// Start begins the playback pump schedule and continuous recognition against
// the sample queue. Idempotent; only the first call has any effect.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("session starting",
		slog.Int("payload_type", int(s.cfg.PayloadType)),
		slog.Int("queue_capacity", cap(s.queue.items)),
	)
	if s.m != nil {
		s.m.ActiveCalls.Inc()
	}
	s.pump.Start()

	if s.recognizer != nil {
		if err := s.recognizer.Start(s.ctx, s.queue); err != nil {
			// the call carries on without recognition rather than dropping
			s.logger.Error("recognizer failed to start", slog.String("error", err.Error()))
			return err
		}
	}
	return nil
}

// HandlePacket is the packet-receive path: telephony events go to the DTMF
// decoder, audio payloads are transcoded and queued for the recognizer. It
// is invoked once per arriving packet from a single receive goroutine.
func (s *Session) HandlePacket(pkt PacketInfo) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if s.m != nil {
		s.m.PacketsReceived.Inc()
	}

	if pkt.TelephonyEvent || pkt.PayloadType == s.cfg.EventPayloadType {
		if ev, ok := dtmf.ParsePayload(pkt.Payload, pkt.Marker, pkt.SyncSource); ok {
			s.tones.Process(ev)
		}
		return
	}

	pcm := s.dec.Decode(pkt.Payload)
	if len(pcm) == 0 {
		return
	}
	s.queue.Write(pcmToBytes(pcm))
}

// onTone maps a deduplicated keypress to a prompt and triggers synthesis.
// A rejection while a job is in flight is logged by the handoff and dropped.
func (s *Session) onTone(tone uint8) {
	if s.m != nil {
		s.m.TonesDetected.Inc()
	}
	s.logger.Info("keypress", slog.Int("tone", int(tone)))
	s.handoff.Trigger(s.ctx, s.promptForTone(tone))
}

func (s *Session) promptForTone(tone uint8) string {
	if text, ok := s.cfg.Prompts[tone]; ok {
		return text
	}
	switch tone {
	case 0:
		return PromptGreeting
	case 1:
		return PromptAbout
	case 2:
		return PromptFarewell
	}
	if s.cfg.FallbackPrompt != "" {
		return s.cfg.FallbackPrompt
	}
	return PromptFallback
}

// Close tears the session down: stop the pump, close the queue (waking any
// blocked engine read), discard pending synthesis and ask the engine to stop
// without waiting for it. Idempotent; double-close and close-before-start
// are safe no-ops beyond the first effective call.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	wasStarted := s.started
	startedAt := s.startedAt
	s.mu.Unlock()

	s.logger.Info("session closing", slog.String("reason", reason))
	s.cancel()
	s.pump.Stop()
	s.queue.Close()
	s.handoff.shutdown()

	if s.recognizer != nil && wasStarted {
		// best effort, never blocks teardown
		go func() {
			if err := s.recognizer.Stop(); err != nil {
				s.logger.Warn("recognizer stop", slog.String("error", err.Error()))
			}
		}()
	}

	if wasStarted && s.m != nil {
		s.m.ActiveCalls.Dec()
		s.m.CallDuration.Observe(time.Since(startedAt).Seconds())
	}
}

// CallID identifies the session in logs and the registry.
func (s *Session) CallID() string { return s.cfg.CallID }

// Closed reports whether Close has taken effect.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// StartedAt is the time Start first took effect (zero before that).
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}
