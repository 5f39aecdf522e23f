package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/internal/service"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrConversationNotFound), errors.Is(err, service.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSelfConversation),
		errors.Is(err, model.ErrEmptyContent),
		errors.Is(err, model.ErrContentTooLong),
		errors.Is(err, model.ErrInvalidUTF8):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
