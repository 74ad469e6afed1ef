package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/fleetguard/internal/api"
	"github.com/ashureev/fleetguard/internal/identity"
	"github.com/ashureev/fleetguard/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize leaves room for a base64 screenshot.
const defaultMaxRequestBodySize = 8 << 20

// HandlerConfig tunes request limits.
type HandlerConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	MaxRequestBody    int64
	// OriginPatterns are accepted for cross-origin WebSocket upgrades.
	OriginPatterns []string
}

// Handler serves turns over HTTP and WebSocket.
type Handler struct {
	service     *Service
	rateLimiter *RateLimiter
	maxBody     int64
	origins     []string
	conns       *connRegistry
	logger      *slog.Logger
}

// NewHandler creates a Handler for service.
func NewHandler(service *Service, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = defaultMaxRequestBodySize
	}
	return &Handler{
		service:     service,
		rateLimiter: NewRateLimiter(cfg.RequestsPerWindow, cfg.Window),
		maxBody:     cfg.MaxRequestBody,
		origins:     cfg.OriginPatterns,
		conns:       newConnRegistry(),
		logger:      logger,
	}
}

// RateLimiter implements a per-operator sliding window limiter.
// The key is the operator only, not operator:session, so clients cannot
// bypass throttling by rotating session ids.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.once.Do(func() { close(r.done) })
}

// startEviction periodically removes expired keys so the map stays bounded.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				var fresh []time.Time
				for _, t := range times {
					if t.After(cutoff) {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

func rateKey(r *http.Request) string {
	if op := identity.OperatorFromContext(r.Context()); op != "" {
		return op
	}
	return identity.IPFromRequest(r)
}

// HandleTurn handles POST /api/agent/turn.
func (h *Handler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	operator := identity.OperatorFromContext(r.Context())
	if operator == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.rateLimiter.Allow(rateKey(r)) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || !identity.ValidSessionID(req.SessionID) {
		req.SessionID = identity.SessionIDFromContext(r.Context())
	}

	h.logger.Info("Agent turn request",
		"operator", operator,
		"session_id", req.SessionID,
		"page_context", req.PageContext,
		"text_length", len(req.Text),
		"has_image", req.Image != "",
		"request_id", chiMiddleware.GetReqID(r.Context()))

	resp, err := h.service.HandleTurn(r.Context(), operator, req)
	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Agent turn failed", "session_id", req.SessionID, "error", err)
		}
		api.Error(w, status, msg)
		return
	}
	w.Header().Set(identity.SessionHeaderName, resp.SessionID)
	api.JSON(w, http.StatusOK, resp)
}

// HandleGetSession handles GET /api/agent/session.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Session(identity.OperatorFromContext(r.Context()), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		status, msg := errorStatus(err)
		api.Error(w, status, msg)
		return
	}
	api.JSON(w, http.StatusOK, view)
}

// HandleDeleteSession handles DELETE /api/agent/session.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	err := h.service.Reset(identity.OperatorFromContext(r.Context()), sessionID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		status, msg := errorStatus(err)
		api.Error(w, status, msg)
		return
	}
	h.conns.close(sessionID, "session reset")
	w.WriteHeader(http.StatusNoContent)
}

// CloseSession drops the live WebSocket of an expired session.
func (h *Handler) CloseSession(sessionID string) {
	h.conns.close(sessionID, "session expired")
}

// errorStatus maps a turn error to an HTTP status and operator-facing message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "still processing the previous message"
	case errors.Is(err, session.ErrNotOwner):
		return http.StatusForbidden, "session belongs to another operator"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, ErrEmptyTurn), errors.Is(err, ErrInvalidImage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrModelTimeout):
		return http.StatusGatewayTimeout, "the assistant took too long to answer, please try again"
	case errors.Is(err, ErrModelUnavailable):
		return http.StatusBadGateway, "the assistant is unavailable, please try again"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// RegisterRoutes registers agent routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agent", func(r chi.Router) {
		r.Post("/turn", h.HandleTurn)
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/session", h.HandleGetSession)
		r.Delete("/session", h.HandleDeleteSession)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	h.service.Close()
}
