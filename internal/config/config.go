// Package config loads settings from an optional YAML file with environment
// overrides. Secrets only ever come from the environment (a .env file is
// honored for local runs); the YAML carries the non-secret tunables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Media   MediaConfig   `yaml:"media"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Speech  SpeechConfig  `yaml:"speech"`
	Logging LoggingConfig `yaml:"logging"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

type MediaConfig struct {
	ListenAddress string `yaml:"listen_address"`
	// PayloadType is the negotiated RTP payload type for G.722 audio.
	PayloadType uint8 `yaml:"payload_type"`
	// EventPayloadType is the dynamic payload type for telephone-event.
	EventPayloadType uint8 `yaml:"event_payload_type"`
}

type BridgeConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
}

type SpeechConfig struct {
	DeepgramAPIKey   string `yaml:"-"`
	DeepgramModel    string `yaml:"deepgram_model"`
	AssemblyAIAPIKey string `yaml:"-"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		HTTP:    HTTPConfig{Address: ":8080"},
		Media:   MediaConfig{ListenAddress: "0.0.0.0:0", PayloadType: 9, EventPayloadType: 101},
		Bridge:  BridgeConfig{QueueCapacity: 100},
		Speech:  SpeechConfig{DeepgramModel: "aura-2-thalia-en"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variables on top.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.HTTP.Address, "HTTP_ADDRESS")
	setString(&c.Media.ListenAddress, "RTP_LISTEN_ADDRESS")
	setUint8(&c.Media.PayloadType, "RTP_PAYLOAD_TYPE")
	setUint8(&c.Media.EventPayloadType, "RTP_EVENT_PAYLOAD_TYPE")
	setInt(&c.Bridge.QueueCapacity, "BRIDGE_QUEUE_CAPACITY")
	setString(&c.Speech.DeepgramAPIKey, "DEEPGRAM_API_KEY")
	setString(&c.Speech.DeepgramModel, "DEEPGRAM_MODEL")
	setString(&c.Speech.AssemblyAIAPIKey, "ASSEMBLYAI_API_KEY")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
}

func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return fmt.Errorf("config: http.address must not be empty")
	}
	if c.Media.PayloadType == c.Media.EventPayloadType {
		return fmt.Errorf("config: media payload types must differ (both %d)", c.Media.PayloadType)
	}
	if c.Bridge.QueueCapacity < 0 {
		return fmt.Errorf("config: bridge.queue_capacity must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	return nil
}

// SlogLevel maps the configured level string onto slog.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger per the logging section.
func (l LoggingConfig) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint8(dst *uint8, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			*dst = uint8(n)
		}
	}
}
