// Package core is the HTTP chassis for the mandate sync service. It builds a
// chi router that serves both a plain HTTP listener and API Gateway events
// under Lambda, and applies the cross-cutting middleware before requests
// reach the webhook handler.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mandatesync/internal/config"
)

// Server holds the router and the dependencies shared by its middleware.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	// RouteRegistrars mount domain handlers. main.go fills this so core
	// never imports handler packages.
	RouteRegistrars []func(chi.Router)

	closers []func()
	router  *chi.Mux
}

// NewServer validates the required dependencies and prepares an empty router.
// Call MountRoutes after all registrars are added.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers fn to run during Shutdown, in reverse order of
// registration.
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases server resources such as the database pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
