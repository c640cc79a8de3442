// Package api provides the ops HTTP server: health probes, an engine
// status snapshot, and the Prometheus scrape endpoint.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/api/handlers"
)

// drainTimeout bounds the graceful drain when the run context is already
// cancelled and cannot carry a deadline of its own.
const drainTimeout = 5 * time.Second

// Server is the ops HTTP server wrapping the engine. It serves /health,
// /health/ready, /status and, when metrics are initialized, /metrics, and
// drains gracefully on shutdown.
type Server struct {
	server       *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer builds a stopped server around engine; Start begins serving.
// Defaults are applied again here so a Server constructed directly in
// tests behaves like one built from a loaded config. A nil engine leaves
// readiness and status reporting unavailable.
func NewServer(config Config, engine handlers.Engine) *Server {
	config.applyDefaults()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      NewRouter(engine),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Start serves until ctx is cancelled or the listener fails. Cancellation
// triggers a graceful drain and, when the drain completes in time, a nil
// return.
func (s *Server) Start(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Ops server listening", "addr", s.server.Addr)

		// The buffer lets this goroutine finish even when Start has
		// already returned through cancellation.
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Ops server shutdown signal received")
		// A fresh context: the cancelled one would abort the drain immediately
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return s.Stop(drainCtx)
	case err := <-serveErr:
		return fmt.Errorf("ops server failed: %w", err)
	}
}

// Stop drains in-flight requests and closes the listener. Repeat and
// concurrent calls are no-ops after the first.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("Ops server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("ops server shutdown error: %w", err)
			logger.Error("Ops server shutdown error", logger.Err(err))
		} else {
			logger.Info("Ops server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.config.Port
}
