package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nexushq/nexus/api"
	"github.com/nexushq/nexus/internal/registry"
)

// HealthHandler serves the gateway's own liveness/readiness/health surface,
// aggregating live counts from the registry rather than checking any
// persistence dependency (Nexus carries none).
type HealthHandler struct {
	reg       *registry.Registry
	logger    *zap.Logger
	startedAt time.Time
	version   string
}

// NewHealthHandler builds a HealthHandler. startedAt is recorded once at
// server construction so /health can report uptime_seconds.
func NewHealthHandler(reg *registry.Registry, version string, startedAt time.Time, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{reg: reg, logger: logger, startedAt: startedAt, version: version}
}

// HandleHealth serves GET /health: the full backend/model summary.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	total, healthy := h.reg.Counts()
	status := "healthy"
	if total > 0 && healthy == 0 {
		status = "unhealthy"
	} else if healthy < total {
		status = "degraded"
	}

	summary := api.HealthSummary{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Backends: api.BackendCounts{
			Total:     total,
			Healthy:   healthy,
			Unhealthy: total - healthy,
		},
		Models: h.reg.ModelCount(),
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, summary)
}

// HandleHealthz serves the Kubernetes liveness probe: the process is up,
// full stop, independent of backend health.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReady serves the Kubernetes readiness probe. It always reports
// ready, independent of how many backends are registered or their current
// health (an all-backends-down gateway still accepts traffic so requests
// queue rather than get load-balanced away entirely).
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleVersion serves GET /version.
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"version": h.version})
}
