package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/internal/transport"
	"github.com/legalforum/chatsync/pkg/logger"
	"github.com/legalforum/chatsync/pkg/metrics"
	"github.com/legalforum/chatsync/pkg/tracing"
)

// MessageStore persists messages. The returned sequence becomes the message id.
type MessageStore interface {
	PublishMessage(ctx context.Context, msg *model.Message) (uint64, error)
	AllMessages(ctx context.Context, conversationID int64) ([]model.Message, error)
}

// Publisher broadcasts payloads on transport destinations.
type Publisher interface {
	Send(ctx context.Context, destination string, payload any) error
}

// MessageService handles message operations.
type MessageService struct {
	store               MessageStore
	publisher           Publisher
	conversationService *ConversationService
	users               *UserDirectory
	logger              *logger.Logger
	now                 func() time.Time
}

// NewMessageService creates a new message service.
func NewMessageService(
	store MessageStore,
	publisher Publisher,
	conversationService *ConversationService,
	users *UserDirectory,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		store:               store,
		publisher:           publisher,
		conversationService: conversationService,
		users:               users,
		logger:              log,
		now:                 time.Now,
	}
}

// Send persists a message from userID and broadcasts it to the conversation
// topic and to both members' queues.
func (s *MessageService) Send(ctx context.Context, userID, conversationID int64, req *model.SendMessageRequest) (msg *model.Message, err error) {
	ctx, span := tracing.Start(ctx, "MessageService.Send",
		attribute.Int64("conversation.id", conversationID),
		attribute.Int64("user.id", userID),
	)
	defer func() { tracing.End(span, err) }()

	if err := model.ValidateContent(req.Content); err != nil {
		return nil, err
	}
	if _, err := s.conversationService.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	sender, _ := s.users.Get(userID)
	msg = &model.Message{
		ClientID:       req.ClientID,
		ConversationID: conversationID,
		SenderID:       userID,
		SenderName:     sender.Name,
		Content:        req.Content,
		CreatedAt:      s.now().UTC(),
	}

	seq, err := s.store.PublishMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	msg.ID = int64(seq)

	if err := s.conversationService.RecordMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	metrics.MessagesTotal.Inc()

	s.broadcast(ctx, msg)

	return msg, nil
}

// broadcast fans a persisted message out. Failures are logged; the message is
// already stored and clients recover it on the next fetch.
func (s *MessageService) broadcast(ctx context.Context, msg *model.Message) {
	payload := model.NewTopicMessage(msg)

	s.publish(ctx, "topic", transport.ConversationTopic(msg.ConversationID), payload)

	members, err := s.conversationService.Members(msg.ConversationID)
	if err != nil {
		return
	}
	for _, member := range members {
		s.publish(ctx, "queue", transport.UserQueue(member), payload)
	}
}

func (s *MessageService) publish(ctx context.Context, kind, destination string, payload any) {
	if err := s.publisher.Send(ctx, destination, payload); err != nil {
		metrics.BroadcastsTotal.WithLabelValues(kind, "error").Inc()
		s.logger.Warn("broadcast failed",
			zap.String("destination", destination),
			zap.Error(err),
		)
		return
	}
	metrics.BroadcastsTotal.WithLabelValues(kind, "ok").Inc()
}

// List returns the messages of a conversation with read flags computed for userID.
func (s *MessageService) List(ctx context.Context, userID, conversationID int64) (msgs []model.Message, err error) {
	ctx, span := tracing.Start(ctx, "MessageService.List",
		attribute.Int64("conversation.id", conversationID),
	)
	defer func() { tracing.End(span, err) }()

	conv, err := s.conversationService.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	msgs, err = s.store.AllMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	readByMe := s.conversationService.ReadUpTo(conversationID, userID)
	readByOther := s.conversationService.ReadUpTo(conversationID, conv.Participant.ID)
	for i := range msgs {
		if msgs[i].SenderID == userID {
			msgs[i].IsRead = msgs[i].ID <= readByOther
		} else {
			msgs[i].IsRead = msgs[i].ID <= readByMe
		}
	}

	return msgs, nil
}

// HandleFanoutHint accounts for a private chat hint received on the transport.
// Persisted messages are already broadcast by Send, so the hint carries no state.
func (s *MessageService) HandleFanoutHint(payload []byte) {
	var hint model.ChatPayload
	if err := json.Unmarshal(payload, &hint); err != nil || hint.Type != model.ChatMessageType {
		s.logger.Warn("dropping invalid fan-out hint", zap.Error(err))
		return
	}

	metrics.FanoutHintsTotal.Inc()
	s.logger.Debug("fan-out hint",
		zap.Int64("conversation_id", hint.ConversationID),
		zap.Int64("receiver_id", hint.ReceiverID),
	)
}
