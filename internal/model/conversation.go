// Package model defines data structures for direct-message conversations.
package model

import (
	"time"
)

// Role represents the forum role of a participant.
type Role string

const (
	RoleUser   Role = "user"
	RoleLawyer Role = "lawyer"
)

// Participant is the other party of a direct conversation.
type Participant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`

	// Online is derived from presence polling and is often stale.
	Online bool `json:"online"`
}

// MessageSummary is the denormalized last-message projection of a conversation.
type MessageSummary struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  int64     `json:"senderId"`
}

// Equal reports whether two summaries describe the same message.
func (s *MessageSummary) Equal(o *MessageSummary) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Content == o.Content && s.SenderID == o.SenderID && s.Timestamp.Equal(o.Timestamp)
}

// Conversation represents a direct conversation between the local user and one participant.
type Conversation struct {
	ID          int64           `json:"id"`
	Participant Participant     `json:"participant"`
	LastMessage *MessageSummary `json:"lastMessage,omitempty"`
	UnreadCount int             `json:"unreadCount"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// CreateConversationRequest is the request to get or create a conversation with a participant.
type CreateConversationRequest struct {
	ParticipantID int64 `json:"participantId"`
}
