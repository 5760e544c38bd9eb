package wsdhttp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/clipboardstore"
	"github.com/officekit/wsdbroker/pkg/config"
	"github.com/officekit/wsdbroker/pkg/registry"
)

// Server is the admission surface's HTTP server: a liveness probe plus the
// WebSocket route that admits sessions onto document brokers. Grounded on
// the teacher's pkg/api.Server (same Start/Stop/graceful-shutdown shape).
type Server struct {
	server       *http.Server
	handler      *Handler
	shutdownOnce sync.Once
}

// NewServer constructs a Server listening on cfg.Port, admitting sessions
// onto reg. serverID/version are echoed in the WebSocket handshake. store
// backs the clipboard endpoint's post-teardown fallback.
func NewServer(cfg config.AdmissionConfig, reg *registry.Registry, serverID, version string, store *clipboardstore.Store) *Server {
	h := NewHandler(reg, serverID, version, store)
	return &Server{
		server: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     NewRouter(h, cfg.ReadTimeout),
			ReadTimeout: cfg.ReadTimeout,
		},
		handler: h,
	}
}

// OnSessionMessage exposes the handler's delivery hook, for registry.Deps.
func (s *Server) OnSessionMessage(docKey string) func(sessionID, msg string, payload []byte) {
	return s.handler.OnSessionMessage(docKey)
}

// Start serves until ctx is cancelled, then gracefully shuts down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admission server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("admission server failed: %w", err)
	}
}

// Stop gracefully shuts the server down; safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.server.Shutdown(ctx)
	})
	return err
}
