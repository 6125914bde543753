package handler

import (
	"context"
	"net/http"

	"taxdesk/internal/service"
)

// HealthChecker reports dependency health
type HealthChecker interface {
	CheckHealth(ctx context.Context) (*service.HealthStatus, error)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	healthService HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(healthService HealthChecker) *HealthHandler {
	return &HealthHandler{healthService: healthService}
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthStatus, err := h.healthService.CheckHealth(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to perform health check")
		return
	}

	status := http.StatusInternalServerError
	switch healthStatus.Status {
	case service.StatusHealthy, service.StatusDegraded:
		// a missing queue only delays on-demand runs
		status = http.StatusOK
	case service.StatusUnhealthy:
		status = http.StatusServiceUnavailable
	}

	_ = WriteJSON(w, status, healthStatus)
}
