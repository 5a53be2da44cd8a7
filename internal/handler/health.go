package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// ServiceName identifies the runner in health responses.
const ServiceName = "CodeEase Code Runner"

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Pinger reports whether the container runtime answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RuntimeStatus describes the container runtime as seen by the last ping.
type RuntimeStatus struct {
	Name      string `json:"name"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Service   string        `json:"service"`
	Runtime   RuntimeStatus `json:"runtime"`
}

// HealthHandler answers liveness probes.
//
// WHY ALWAYS 200?
// The process is alive and /languages still works even when Docker is down,
// so the probe must not restart us. A broken daemon shows up as
// status "degraded" instead, which monitoring can alert on.
type HealthHandler struct {
	runtime     Pinger
	runtimeName string
	timeout     time.Duration
	logger      *slog.Logger
}

func NewHealthHandler(runtime Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		runtime:     runtime,
		runtimeName: "docker",
		timeout:     2 * time.Second,
		logger:      logger,
	}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Service:   ServiceName,
		Runtime:   RuntimeStatus{Name: h.runtimeName, Reachable: true},
	}
	if err := h.runtime.Ping(ctx); err != nil {
		h.logger.Warn("container runtime unreachable", slog.String("error", err.Error()))
		resp.Status = StatusDegraded
		resp.Runtime.Reachable = false
		resp.Runtime.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
