// Package httpserver is the operational surface: health, metrics and a
// read-only view of the live calls. Media never flows through HTTP.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sipsorcery/sipspeech/internal/call"
)

type Server struct {
	echo   *echo.Echo
	logger *slog.Logger
}

// New constructs the server with its routes bound to the call registry.
func New(reg *call.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := newRouter()

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/calls", func(c echo.Context) error {
		return c.JSON(http.StatusOK, reg.Snapshot())
	})

	return &Server{echo: e, logger: logger}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", slog.String("addr", addr))
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
