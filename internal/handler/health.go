package handler

import (
	"context"
	"net/http"
	"time"
)

// Connectivity reports whether the transport is up.
type Connectivity interface {
	IsConnected() bool
}

// StreamChecker reports whether the message stream can be reached.
type StreamChecker interface {
	Check(ctx context.Context) error
}

const streamCheckTimeout = 2 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient Connectivity
	streams    StreamChecker
}

// NewHealthHandler creates a new health handler. streams may be nil, in which
// case readiness only depends on the NATS connection.
func NewHealthHandler(natsClient Connectivity, streams StreamChecker) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		streams:    streams,
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
	if h.natsClient == nil || !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	if h.streams != nil {
		ctx, cancel := context.WithTimeout(r.Context(), streamCheckTimeout)
		defer cancel()
		if err := h.streams.Check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "stream unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
