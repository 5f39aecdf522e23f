// Package transport defines the publish/subscribe contract used by the chat
// engine and the relay, and the destinations they exchange messages on.
package transport

import (
	"context"
	"fmt"
)

const (
	// DestinationPrivateChat receives fire-and-forget fan-out hints.
	DestinationPrivateChat = "app/chat.private"

	// DestinationPresenceHeartbeat receives client presence heartbeats.
	DestinationPresenceHeartbeat = "app/presence.heartbeat"
)

// ConversationTopic returns the topic every persisted message of a conversation is broadcast on.
func ConversationTopic(conversationID int64) string {
	return fmt.Sprintf("topic/conversation/%d", conversationID)
}

// UserQueue returns the per-user queue persisted messages are copied to.
func UserQueue(userID int64) string {
	return fmt.Sprintf("user/%d/queue/messages", userID)
}

// Handler receives raw payloads delivered on a destination.
type Handler func(payload []byte)

// Subscription is a live subscription handle.
type Subscription interface {
	Destination() string
	Unsubscribe() error
}

// Client is a persistent duplex connection with destination-addressed
// publish/subscribe.
type Client interface {
	// IsConnected reports whether the connection is currently up.
	IsConnected() bool

	// Subscribe registers handler for payloads delivered to destination.
	Subscribe(destination string, handler Handler) (Subscription, error)

	// Send publishes payload, JSON encoded, to destination.
	Send(ctx context.Context, destination string, payload any) error

	// OnConnectionChange registers fn to be called on every connected/disconnected transition.
	OnConnectionChange(fn func(connected bool))
}
