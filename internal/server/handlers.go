package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prospecta-ai/prospecta/internal/quota"
	"github.com/prospecta-ai/prospecta/internal/storage"
	"github.com/prospecta-ai/prospecta/internal/supervisor"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	supervisor          *supervisor.Supervisor
	quota               *quota.Service
	broker              *Broker
	signer              *ApprovalSigner
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Broker is optional (nil disables SSE).
type HandlersDeps struct {
	DB                  *storage.DB
	Supervisor          *supervisor.Supervisor
	Quota               *quota.Service
	Broker              *Broker
	Signer              *ApprovalSigner
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		supervisor:          d.Supervisor,
		quota:               d.Quota,
		broker:              d.Broker,
		signer:              d.Signer,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, map[string]any{
		"status":         status,
		"postgres":       pgStatus,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}
