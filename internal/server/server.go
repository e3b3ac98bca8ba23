// Package server exposes the OpenAI-compatible HTTP API: speech
// synthesis, transcription, translation, audio chat completions, and
// the model management endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ParseLogLevel maps a config string onto a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Server wraps an http.Server with coordinated shutdown.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	grace      time.Duration
}

type ServerOption func(*Server)

// WithShutdownGrace bounds how long in-flight requests may run after
// the context is cancelled.
func WithShutdownGrace(d time.Duration) ServerOption {
	return func(s *Server) { s.grace = d }
}

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func NewServer(addr string, handler http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: slog.Default(),
		grace:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves until the context is cancelled or the listener fails,
// then drains in-flight requests within the grace period.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "grace", s.grace.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
