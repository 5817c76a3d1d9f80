package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sipsorcery/sipspeech/internal/bridge"
	"github.com/sipsorcery/sipspeech/internal/call"
	"github.com/sipsorcery/sipspeech/internal/config"
	"github.com/sipsorcery/sipspeech/internal/httpserver"
	"github.com/sipsorcery/sipspeech/internal/media"
	"github.com/sipsorcery/sipspeech/internal/metrics"
	"github.com/sipsorcery/sipspeech/internal/speech"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	m := metrics.New()
	reg := call.NewRegistry(logger)

	session, endpoint, err := startDemoCall(cfg, reg, logger, m)
	if err != nil {
		return err
	}

	srv := httpserver.New(reg, logger)
	serverErrors := make(chan error, 1)
	go func() { serverErrors <- srv.Start(cfg.HTTP.Address) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	reg.CloseAll("shutdown")
	_ = session // closed via the registry
	if err := endpoint.Close(); err != nil {
		logger.Warn("media endpoint close", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}

// startDemoCall brings one call leg up without a signaling layer: bind the
// RTP socket, latch the first peer that sends to it and bridge that leg to
// the speech engines.
func startDemoCall(cfg *config.Config, reg *call.Registry, logger *slog.Logger, m *metrics.Metrics) (*bridge.Session, *media.Endpoint, error) {
	syn := speech.NewDeepgramSynthesizer(cfg.Speech.DeepgramAPIKey, cfg.Speech.DeepgramModel, logger)
	rec := speech.NewAssemblyAIRecognizer(cfg.Speech.AssemblyAIAPIKey, logger, nil)

	var session *bridge.Session
	endpoint, err := media.NewEndpoint(cfg.Media.ListenAddress, cfg.Media.EventPayloadType, func(p bridge.PacketInfo) {
		session.HandlePacket(p)
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	session = bridge.NewSession(bridge.Config{
		CallID:           "demo",
		PayloadType:      cfg.Media.PayloadType,
		EventPayloadType: cfg.Media.EventPayloadType,
		QueueCapacity:    cfg.Bridge.QueueCapacity,
	}, endpoint, syn, rec, logger, m)

	if err := reg.Add(session); err != nil {
		endpoint.Close()
		return nil, nil, err
	}
	go endpoint.Serve()

	if err := session.Start(); err != nil {
		// recognition is degraded but the media leg stays up
		logger.Warn("session started without recognition", slog.String("error", err.Error()))
	}
	logger.Info("demo call leg ready", slog.String("rtp_addr", endpoint.LocalAddr().String()))
	return session, endpoint, nil
}
