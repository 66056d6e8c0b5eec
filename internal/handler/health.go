package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	backend string
	ping    func(ctx context.Context) error
}

// NewHealthHandler creates a new health handler. A nil ping means the
// backend is always ready.
func NewHealthHandler(backend string, ping func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{
		backend: backend,
		ping:    ping,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "not ready",
				"backend": h.backend,
				"reason":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"backend": h.backend,
	})
}
