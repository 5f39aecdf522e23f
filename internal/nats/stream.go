package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/legalforum/chatsync/internal/model"
)

const (
	// StreamName is the name of the chat messages stream.
	StreamName = "CHAT_MESSAGES"

	// SubjectPrefix is the prefix for all stored message subjects.
	SubjectPrefix = "chat"
)

// StreamOptions configures the messages stream.
type StreamOptions struct {
	MaxAge time.Duration
	// Memory keeps the stream in memory, for development servers.
	Memory bool
}

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
	opts   StreamOptions
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client, opts StreamOptions) *StreamManager {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 365 * 24 * time.Hour
	}
	return &StreamManager{client: client, opts: opts}
}

// EnsureStream ensures the messages stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, m.streamConfig())
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

func (m *StreamManager) streamConfig() jetstream.StreamConfig {
	storage := jetstream.FileStorage
	if m.opts.Memory {
		storage = jetstream.MemoryStorage
	}
	return jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      m.opts.MaxAge,
		Storage:     storage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Direct messages of all conversations",
	}
}

// MessageSubject returns the storage subject of a conversation's messages.
func MessageSubject(conversationID int64) string {
	return fmt.Sprintf("%s.conversation.%d", SubjectPrefix, conversationID)
}

// PublishMessage stores a message and returns its stream sequence, which
// serves as the message id.
func (m *StreamManager) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, MessageSubject(msg.ConversationID), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}

	return ack.Sequence, nil
}

// GetMessages retrieves up to limit messages of a conversation stored after
// afterSequence. It returns the messages, the last sequence seen and whether
// more may follow.
func (m *StreamManager) GetMessages(ctx context.Context, conversationID int64, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error) {
	js := m.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject:     MessageSubject(conversationID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	}

	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}
	defer func() {
		_ = js.DeleteConsumer(context.WithoutCancel(ctx), StreamName, consumer.CachedInfo().Name)
	}()

	batch, err := consumer.FetchNoWait(limit)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var messages []model.Message
	var lastSequence uint64

	for msg := range batch.Messages() {
		if ctx.Err() != nil {
			return nil, 0, false, ctx.Err()
		}

		var message model.Message
		if err := json.Unmarshal(msg.Data(), &message); err != nil {
			continue
		}

		meta, err := msg.Metadata()
		if err != nil {
			continue
		}
		message.ID = int64(meta.Sequence.Stream)
		lastSequence = meta.Sequence.Stream

		messages = append(messages, message)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	hasMore := len(messages) == limit

	return messages, lastSequence, hasMore, nil
}

// AllMessages pages through every stored message of a conversation.
func (m *StreamManager) AllMessages(ctx context.Context, conversationID int64) ([]model.Message, error) {
	const pageSize = 256

	var (
		all   []model.Message
		after uint64
	)
	for {
		page, last, more, err := m.GetMessages(ctx, conversationID, after, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if !more || last == 0 {
			return all, nil
		}
		after = last
	}
}

// StreamStats reports the size of the messages stream.
type StreamStats struct {
	Messages uint64
	Bytes    uint64
}

// Check reports whether the stream exists and answers info requests.
func (m *StreamManager) Check(ctx context.Context) error {
	_, err := m.Stats(ctx)
	return err
}

// Stats returns the current stream state.
func (m *StreamManager) Stats(ctx context.Context) (StreamStats, error) {
	stream, err := m.client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		return StreamStats{}, fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return StreamStats{}, fmt.Errorf("failed to get stream info: %w", err)
	}
	return StreamStats{Messages: info.State.Msgs, Bytes: info.State.Bytes}, nil
}
