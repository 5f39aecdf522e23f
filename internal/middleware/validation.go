package middleware

import (
	"errors"
	"strconv"

	"github.com/google/uuid"
)

// ParseConversationID parses a conversation ID path parameter.
func ParseConversationID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid conversation ID format")
	}
	return n, nil
}

// ValidateParticipantID validates the other party of a new conversation.
func ValidateParticipantID(id int64) error {
	if id <= 0 {
		return errors.New("invalid participant ID")
	}
	return nil
}

// ValidateClientID validates an optional client correlation id.
func ValidateClientID(id string) error {
	if id == "" {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid client ID format")
	}
	return nil
}
