package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// readChunkBytes is 100 ms of 16 kHz 16-bit PCM per engine read.
	readChunkBytes = 3200

	assemblyAIEndpoint = "wss://streaming.assemblyai.com/v3/ws"
)

// Engine message shapes for the AssemblyAI v3 streaming protocol.
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
	EndOfTurn     bool   `json:"end_of_turn"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// AssemblyAIRecognizer runs continuous transcription against a pull stream:
// once started it reads PCM from the source on its own schedule and forwards
// it over the websocket. A zero-length source read means the stream is over
// and the engine session is terminated.
type AssemblyAIRecognizer struct {
	apiKey       string
	endpoint     string
	logger       *slog.Logger
	onTranscript func(text string, endOfTurn bool)

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	stopCh  chan struct{}
	stopped sync.Once
}

// NewAssemblyAIRecognizer builds a recognizer delivering each Turn transcript
// to onTranscript (which may be nil for log-only operation).
func NewAssemblyAIRecognizer(apiKey string, logger *slog.Logger, onTranscript func(text string, endOfTurn bool)) *AssemblyAIRecognizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssemblyAIRecognizer{
		apiKey:       apiKey,
		endpoint:     assemblyAIEndpoint,
		logger:       logger,
		onTranscript: onTranscript,
		stopCh:       make(chan struct{}),
	}
}

// Start connects to the engine and begins pulling audio from src. It returns
// once the connection is up; the read pump and message loop run until Stop,
// ctx cancellation or end of stream.
func (r *AssemblyAIRecognizer) Start(ctx context.Context, src io.Reader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if r.apiKey == "" {
		return fmt.Errorf("assemblyai: api key missing")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "false")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := map[string][]string{"Authorization": {r.apiKey}}

	conn, resp, err := dialer.Dial(r.endpoint+"?"+params.Encode(), headers)
	if err != nil {
		if resp != nil {
			r.logger.Error("assemblyai dial failed", slog.Int("status", resp.StatusCode))
		}
		return fmt.Errorf("assemblyai: connect: %w", err)
	}

	r.conn = conn
	r.started = true
	go r.readMessages(conn)
	go r.pumpAudio(ctx, conn, src)
	r.logger.Info("recognition stream connected")
	return nil
}

// Stop asks the engine to terminate and closes the connection. Safe to call
// more than once and before Start.
func (r *AssemblyAIRecognizer) Stop() error {
	r.stopped.Do(func() { close(r.stopCh) })
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = conn.Close()
	}
	return nil
}

// pumpAudio is the engine's read schedule: it pulls chunks from src and ships
// them as binary frames. The source blocks while no audio is queued, so this
// loop runs at the pace the call produces samples.
func (r *AssemblyAIRecognizer) pumpAudio(ctx context.Context, conn *websocket.Conn, src io.Reader) {
	buf := make([]byte, readChunkBytes)
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			r.Stop()
			return
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				r.logger.Warn("audio send failed", slog.String("error", werr.Error()))
				r.Stop()
				return
			}
		}
		if err != nil || n == 0 {
			// end of stream: the source is closed, wind the session down
			if err != nil && err != io.EOF {
				r.logger.Warn("audio source read", slog.String("error", err.Error()))
			}
			r.Stop()
			return
		}
	}
}

func (r *AssemblyAIRecognizer) readMessages(conn *websocket.Conn) {
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-r.stopCh: // expected on Stop
			default:
				r.logger.Warn("recognition stream read", slog.String("error", err.Error()))
			}
			return
		}
		r.processMessage(message)
	}
}

func (r *AssemblyAIRecognizer) processMessage(message []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		r.logger.Warn("unparseable engine message", slog.String("error", err.Error()))
		return
	}

	switch envelope.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		r.logger.Info("recognition session began",
			slog.String("session_id", msg.ID),
			slog.String("expires_at", time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339)),
		)
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if msg.Transcript == "" {
			return
		}
		r.logger.Info("transcript",
			slog.String("text", msg.Transcript),
			slog.Bool("end_of_turn", msg.EndOfTurn),
		)
		if r.onTranscript != nil {
			r.onTranscript(msg.Transcript, msg.EndOfTurn)
		}
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		r.logger.Info("recognition session terminated",
			slog.Float64("audio_seconds", msg.AudioDurationSeconds),
			slog.Float64("session_seconds", msg.SessionDurationSeconds),
		)
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		r.logger.Error("recognition engine error", slog.String("error", msg.Error))
	default:
		r.logger.Debug("unhandled engine message", slog.String("type", envelope.Type))
	}
}
