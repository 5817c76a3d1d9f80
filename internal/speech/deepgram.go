// Package speech holds the cloud engine adapters: a websocket synthesizer
// (Deepgram Aura) satisfying bridge.Synthesizer and a streaming recognizer
// (AssemblyAI) satisfying bridge.Recognizer. Both speak 16 kHz linear PCM so
// no resampling sits between them and the G.722 transcoders.
package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/sipsorcery/sipspeech/internal/codec"
)

const (
	defaultVoiceModel = "aura-2-thalia-en"

	// audioIdleWindow closes the stream once no audio has arrived for this
	// long after the first chunk; the engine sends no explicit end marker.
	audioIdleWindow = 400 * time.Millisecond
	speakDeadline   = 12 * time.Second
)

// DeepgramSynthesizer turns prompt text into 16 kHz linear16 PCM over the
// Deepgram speak websocket. Safe for sequential use; the synthesis handoff
// guarantees one Speak at a time per call.
type DeepgramSynthesizer struct {
	apiKey string
	model  string
	logger *slog.Logger
}

func NewDeepgramSynthesizer(apiKey, model string, logger *slog.Logger) *DeepgramSynthesizer {
	if model == "" {
		model = defaultVoiceModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepgramSynthesizer{apiKey: apiKey, model: model, logger: logger}
}

// Speak streams synthesized audio for text into out and returns once the
// engine has gone quiet or ctx is cancelled. Audio already written stays
// written; the caller decides what a partial result means.
func (d *DeepgramSynthesizer) Speak(ctx context.Context, text string, out io.Writer) error {
	if d.apiKey == "" {
		return fmt.Errorf("deepgram: api key missing")
	}
	if text == "" {
		return nil
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   "linear16",
		SampleRate: codec.SampleRate,
	}

	var lastRecvUnix int64
	var seenAudio int32
	var writeFailed int32

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		if _, err := out.Write(data); err != nil {
			atomic.StoreInt32(&writeFailed, 1)
		}
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return fmt.Errorf("deepgram: create ws client: %w", err)
	}

	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		return fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		d.logger.Warn("deepgram flush", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(speakDeadline)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > audioIdleWindow {
					if atomic.LoadInt32(&writeFailed) == 1 {
						return fmt.Errorf("deepgram: audio sink rejected writes")
					}
					return nil
				}
			}
			if time.Now().After(deadline) {
				if atomic.LoadInt32(&seenAudio) == 0 {
					return fmt.Errorf("deepgram: no audio within %s", speakDeadline)
				}
				return nil
			}
		}
	}
}

// speakCallback adapts the SDK's message callback interface; only binary
// audio chunks matter here.
type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
