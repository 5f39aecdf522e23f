package model

import (
	"time"
)

// Message represents a direct message.
//
// Server ids are positive and globally unique. Optimistic messages carry a
// negative local id until the authoritative copy replaces them.
type Message struct {
	// Identity
	ID             int64  `json:"id"`
	ClientID       string `json:"clientId,omitempty"`
	ConversationID int64  `json:"conversationId"`

	// Content
	SenderID   int64  `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`

	CreatedAt time.Time `json:"createdAt"`
	IsRead    bool      `json:"isRead"`

	// Failed is set on an optimistic message whose send request failed.
	Failed bool `json:"failed,omitempty"`
}

// IsOptimistic reports whether the message is a local placeholder.
func (m *Message) IsOptimistic() bool {
	return m.ID < 0
}

// Summary projects the message into a conversation summary.
func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		Content:   m.Content,
		Timestamp: m.CreatedAt,
		SenderID:  m.SenderID,
	}
}

// SendMessageRequest is the request to persist a new message.
type SendMessageRequest struct {
	Content  string `json:"content"`
	ClientID string `json:"clientId,omitempty"`
}

// TopicMessage is the payload broadcast on a conversation topic once a message is persisted.
type TopicMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	SenderID       int64     `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	ClientID       string    `json:"clientId,omitempty"`
}

// NewTopicMessage builds the broadcast payload for a persisted message.
func NewTopicMessage(m *Message) *TopicMessage {
	return &TopicMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        m.Content,
		Timestamp:      m.CreatedAt,
		ClientID:       m.ClientID,
	}
}

// Message converts the broadcast payload back into a message.
func (t *TopicMessage) Message() Message {
	return Message{
		ID:             t.ID,
		ClientID:       t.ClientID,
		ConversationID: t.ConversationID,
		SenderID:       t.SenderID,
		SenderName:     t.SenderName,
		Content:        t.Content,
		CreatedAt:      t.Timestamp,
	}
}

// ChatMessageType is the type tag of a private chat fan-out payload.
const ChatMessageType = "CHAT"

// ChatPayload is the fire-and-forget fan-out hint sent to the other participant.
type ChatPayload struct {
	Content        string `json:"content"`
	ReceiverID     int64  `json:"receiverId"`
	ConversationID int64  `json:"conversationId"`
	Type           string `json:"type"`
}
