// Package core provides the API chassis for the scheduled payments service.
// It creates a chi router and enforces cross-cutting concerns (panic
// recovery, request correlation, logging, metrics, compression, rate
// limiting and error envelopes) before requests reach the domain handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"scheduledpayments/internal/config"
	"scheduledpayments/internal/types"
)

// Server encapsulates all dependencies for the HTTP API, allowing for easy
// injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Optional collaborators. Nil disables the corresponding middleware.
	Metrics     types.MetricsRecorder
	RateLimiter types.RateLimiter

	// HealthChecks back GET /health.
	HealthChecks []HealthCheck

	// V1RouteRegistrars mount domain routes under /v1. Populated by the
	// entry point so that core does not import the handler packages.
	V1RouteRegistrars []func(chi.Router)

	router     *chi.Mux
	httpServer *http.Server
}

// NewServer initializes dependencies and prepares the server for route
// mounting. The caller mounts routes (MountRoutes) after construction.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	return s, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe serves HTTP on the configured port until Shutdown is called.
// It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.Logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests to
// finish until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
