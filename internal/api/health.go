package api

import (
	"context"
	"net/http"
)

// HealthResponse reports dependency connectivity.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Model    string `json:"model"`
}

// HandleHealth handles GET /health. The database is required; a model
// failure only degrades the service.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok", Model: "disabled"}
	status := http.StatusOK

	if err := h.fleet.Ping(ctx); err != nil {
		h.logger.Warn("Database health check failed", "error", err)
		resp.Database = "error"
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if h.model != nil {
		if err := h.model.Health(ctx); err != nil {
			h.logger.Warn("Model health check failed", "error", err)
			resp.Model = "error"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		} else {
			resp.Model = "ok"
		}
	}

	JSON(w, status, resp)
}
