package handler

import (
	"net/http"

	"github.com/legalforum/chatsync/internal/middleware"
	"github.com/legalforum/chatsync/internal/service"
)

// PresenceHandler handles presence endpoints.
type PresenceHandler struct {
	presence *service.PresenceService
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(presence *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Online handles GET /api/v1/presence/online
func (h *PresenceHandler) Online(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.presence.OnlineUsers())
}

// Heartbeat handles POST /api/v1/presence/heartbeat, for clients without a
// transport connection.
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.presence.Heartbeat(middleware.GetUserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
