package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolops/rollcall/pkg/log"
	"github.com/schoolops/rollcall/pkg/metrics"
)

// Server exposes the engine's observability endpoints: /healthz with the
// component health registry and /metrics with Prometheus output.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a status server listening on addr
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/metrics", metrics.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: log.WithComponent("api"),
	}
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("status server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
