// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the HTTP control surface of a pool and its playback
// engine. Clients poll state; nothing is pushed.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tempus/internal/api/middleware"
	"github.com/ManuGH/tempus/internal/health"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/playback"
	"github.com/ManuGH/tempus/internal/pool"
)

// SessionSaver persists the pool session and returns where it was written.
type SessionSaver func(ctx context.Context) (string, error)

// Config configures the server.
type Config struct {
	ListenAddr string
	// RateLimit is requests per minute per client; 0 disables it.
	RateLimit int
	// TracingService names the otelhttp spans; empty disables tracing.
	TracingService string

	// Health serves /healthz and /readyz; nil checks the pool and its
	// devices only.
	Health *health.Manager

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Server exposes one pool and its engine.
type Server struct {
	cfg    Config
	pool   *pool.Pool
	engine *playback.Engine
	save   SessionSaver
	health *health.Manager
	logger zerolog.Logger
}

// New returns a server. save may be nil when sessions are not persisted.
func New(cfg Config, e *playback.Engine, save SessionSaver) *Server {
	hm := cfg.Health
	if hm == nil {
		hm = health.NewManager("")
		hm.RegisterChecker(health.NewPoolChecker(e.Pool()))
		hm.RegisterChecker(health.NewDeviceChecker(e.Pool()))
	}
	return &Server{
		cfg:    cfg.withDefaults(),
		pool:   e.Pool(),
		engine: e,
		save:   save,
		health: hm,
		logger: log.WithComponent("api"),
	}
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
		RateLimit:      s.cfg.RateLimit,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/seek", s.handleSeek)

		r.Post("/play", s.handlePlay(s.engine.Play))
		r.Post("/play/forward", s.handlePlay(s.engine.PlayForward))
		r.Post("/play/backward", s.handlePlay(s.engine.PlayBackward))
		r.Post("/stop", s.handleStop)

		r.Post("/first", s.handleStep(s.engine.First))
		r.Post("/last", s.handleStep(s.engine.Last))
		r.Post("/next", s.handleStep(s.engine.Next))
		r.Post("/previous", s.handleStep(s.engine.Previous))

		r.Get("/time/{direction}", s.handleTime)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Post("/session/save", s.handleSaveSession)
		r.Get("/logs", s.handleLogs)
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout / 2,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str(log.FieldEvent, "api.listening").
			Str("addr", ln.Addr().String()).
			Msg("API server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error().Err(err).Str(log.FieldEvent, "api.server_failed").Msg("API server failed")
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	// Bounded and detached so shutdown completes after the parent is cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	<-errCh
	s.logger.Info().Str(log.FieldEvent, "api.stopped").Msg("API server stopped")
	return nil
}
