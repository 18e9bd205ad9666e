package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prospecta-ai/prospecta/internal/quota"
	"github.com/prospecta-ai/prospecta/internal/storage"
	"github.com/prospecta-ai/prospecta/internal/supervisor"
)

// Server is the Prospecta HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Broker is optional (nil disables SSE).
type ServerConfig struct {
	DB         *storage.DB
	Supervisor *supervisor.Supervisor
	Quota      *quota.Service
	Broker     *Broker
	Signer     *ApprovalSigner
	Logger     *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Supervisor:          cfg.Supervisor,
		Quota:               cfg.Quota,
		Broker:              cfg.Broker,
		Signer:              cfg.Signer,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Run lifecycle.
	mux.Handle("POST /v1/runs", http.HandlerFunc(h.HandleCreateRun))
	mux.Handle("GET /v1/runs/{run_id}", http.HandlerFunc(h.HandleGetRun))
	mux.Handle("GET /v1/runs/{run_id}/events", http.HandlerFunc(h.HandleRunEvents))

	// Approvals.
	mux.Handle("GET /v1/runs/{run_id}/approval", http.HandlerFunc(h.HandleGetRunApproval))
	mux.Handle("POST /v1/approvals/{token}", http.HandlerFunc(h.HandleResolveApproval))

	// Usage.
	mux.Handle("GET /v1/usage", http.HandlerFunc(h.HandleUsage))

	// Health.
	mux.Handle("GET /health", http.HandlerFunc(h.HandleHealth))

	// Middleware chain: request ID -> tracing -> logging -> routes.
	var handler http.Handler = mux
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
