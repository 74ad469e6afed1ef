// Package api provides HTTP handlers for the fleet read surface.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/scope"
	"github.com/ashureev/fleetguard/internal/store"
	"github.com/go-chi/chi/v5"
)

// FleetReader is the read access the presentation endpoints need.
type FleetReader interface {
	Ping(ctx context.Context) error
	List(ctx context.Context, c domain.Collection) ([]store.Record, error)
}

// HealthChecker reports whether a dependency answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler provides common handler utilities.
type Handler struct {
	fleet        FleetReader
	scopes       *scope.Resolver
	model        HealthChecker
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewHandler creates a new Handler. model may be nil when the agent is disabled.
func NewHandler(fleet FleetReader, scopes *scope.Resolver, model HealthChecker, queryTimeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if queryTimeout <= 0 {
		queryTimeout = 3 * time.Second
	}
	return &Handler{
		fleet:        fleet,
		scopes:       scopes,
		model:        model,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the health and read routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/pages", h.HandlePages)
		r.Get("/pages/{page}/collections", h.HandlePageCollections)
		r.Get("/fleet/{collection}", h.HandleFleet)
	})
}
