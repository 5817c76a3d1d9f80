package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_ADDRESS", "RTP_LISTEN_ADDRESS", "RTP_PAYLOAD_TYPE",
		"RTP_EVENT_PAYLOAD_TYPE", "BRIDGE_QUEUE_CAPACITY",
		"DEEPGRAM_API_KEY", "DEEPGRAM_MODEL", "ASSEMBLYAI_API_KEY",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("default http address: %q", cfg.HTTP.Address)
	}
	if cfg.Media.PayloadType != 9 || cfg.Media.EventPayloadType != 101 {
		t.Fatalf("default payload types: %d/%d", cfg.Media.PayloadType, cfg.Media.EventPayloadType)
	}
	if cfg.Bridge.QueueCapacity != 100 {
		t.Fatalf("default queue capacity: %d", cfg.Bridge.QueueCapacity)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
http:
  address: ":9090"
media:
  payload_type: 96
bridge:
  queue_capacity: 50
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Address != ":9090" || cfg.Media.PayloadType != 96 || cfg.Bridge.QueueCapacity != 50 {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	// untouched sections keep their defaults
	if cfg.Media.EventPayloadType != 101 {
		t.Fatalf("default event payload type lost: %d", cfg.Media.EventPayloadType)
	}
	if cfg.Logging.SlogLevel() != slog.LevelDebug {
		t.Fatalf("log level not applied")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  address: \":9090\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HTTP_ADDRESS", ":7070")
	t.Setenv("DEEPGRAM_API_KEY", "dg-secret")
	t.Setenv("BRIDGE_QUEUE_CAPACITY", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Address != ":7070" {
		t.Fatalf("env should override file, got %q", cfg.HTTP.Address)
	}
	if cfg.Speech.DeepgramAPIKey != "dg-secret" {
		t.Fatalf("secret not picked up from env")
	}
	if cfg.Bridge.QueueCapacity != 25 {
		t.Fatalf("numeric override: %d", cfg.Bridge.QueueCapacity)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	clearEnv(t)
	t.Setenv("RTP_PAYLOAD_TYPE", "101") // collides with event payload type
	if _, err := Load(""); err == nil {
		t.Fatalf("expected colliding payload types to fail validation")
	}

	clearEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected unknown log level to fail validation")
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
