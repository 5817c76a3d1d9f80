package bridge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sipsorcery/sipspeech/internal/codec"
	"github.com/sipsorcery/sipspeech/internal/metrics"
)

// Pump is the fixed-period scheduler for the outbound media stream. A single
// goroutine ticks every frame period, so ticks are serialized by
// construction and frame N+1 can never overtake frame N. Each tick emits
// exactly one encoded frame: synthesized audio while a claimed buffer has
// full frames left, silence otherwise.
type Pump struct {
	logger *slog.Logger
	m      *metrics.Metrics

	handoff     *Handoff
	enc         *codec.G722Encoder
	sender      Media
	payloadType uint8
	period      time.Duration

	// drain buffer state; touched only from the pump goroutine
	drain  []byte
	cursor int

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
	stopped bool
}

// NewPump builds a pump with its own send-direction encoder state.
func NewPump(handoff *Handoff, sender Media, payloadType uint8, logger *slog.Logger, m *metrics.Metrics) *Pump {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{
		logger:      logger,
		m:           m,
		handoff:     handoff,
		enc:         codec.NewG722Encoder(),
		sender:      sender,
		payloadType: payloadType,
		period:      codec.FramePeriodMs * time.Millisecond,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic schedule; a second call is a no-op.
func (p *Pump) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	go p.run()
}

// Stop cancels the schedule. Safe to call repeatedly or before Start.
func (p *Pump) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
}

func (p *Pump) run() {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick performs one pump step: claim any finished synthesis result, pick the
// next frame (drain or silence), transcode and send. A bad tick is logged
// and skipped; the pump never terminates the session.
func (p *Pump) tick() {
	if buf, ok := p.handoff.Claim(); ok {
		p.drain = buf
		p.cursor = 0
		p.logger.Debug("claimed synthesis buffer", slog.Int("bytes", len(buf)))
	}

	const frameBytes = codec.FrameSamples * 2
	var frame []int16
	if p.drain != nil {
		if p.cursor+frameBytes <= len(p.drain) {
			frame = bytesToPCM(p.drain[p.cursor : p.cursor+frameBytes])
			p.cursor += frameBytes
		} else {
			// a sub-frame tail is not worth a ragged frame; drop it
			p.drain = nil
			p.cursor = 0
		}
	}
	if frame == nil {
		frame = silentFrame
	}

	encoded := p.enc.Encode(frame)
	if err := p.sender.SendFrame(p.payloadType, encoded); err != nil {
		p.logger.Warn("outbound frame send failed", slog.String("error", err.Error()))
		if p.m != nil {
			p.m.SendErrors.Inc()
		}
		return
	}
	if p.m != nil {
		p.m.FramesSent.Inc()
	}
}

// silentFrame is the all-zero PCM frame sent when nothing is draining. The
// pump never mutates it.
var silentFrame = make([]int16, codec.FrameSamples)
