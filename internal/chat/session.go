package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/internal/transport"
	"github.com/legalforum/chatsync/pkg/logger"
	"github.com/legalforum/chatsync/pkg/metrics"
)

// ErrUnknownConversation is returned for conversations missing from the store.
var ErrUnknownConversation = errors.New("unknown conversation")

// Backend is the REST persistence collaborator.
type Backend interface {
	ReadMarker
	PresenceSource

	GetConversations(ctx context.Context, userID int64) ([]model.Conversation, error)
	GetMessages(ctx context.Context, conversationID int64) ([]model.Message, error)
	SendMessage(ctx context.Context, conversationID int64, content string, senderID int64, clientID string) (*model.Message, error)
	GetOrCreateConversation(ctx context.Context, participantID int64) (*model.Conversation, error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// LocalUser is the signed-in user.
	LocalUser model.Participant

	MatchWindow             time.Duration
	PresenceMinInterval     time.Duration
	PresenceRefreshInterval time.Duration
	HeartbeatInterval       time.Duration

	// OnChange, if set, is called after a conversation's messages or summary change.
	OnChange func(conversationID int64)

	Now func() time.Time
}

// Session wires the engine components to the backend and the transport for one signed-in user.
type Session struct {
	cfg       SessionConfig
	backend   Backend
	transport transport.Client
	logger    *logger.Logger

	messages      *Reconciler
	conversations *ConversationStore
	subscriptions *SubscriptionManager
	presence      *PresenceTracker

	mu             sync.Mutex
	loading        int64
	loadBuffer     []model.Message
	stopPresence   context.CancelFunc
	stopBackground context.CancelFunc
	background     context.Context
	wg             sync.WaitGroup
}

// NewSession creates a session. Call Start before use.
func NewSession(cfg SessionConfig, backend Backend, t transport.Client, log *logger.Logger) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}

	log = log.With(zap.Int64("user_id", cfg.LocalUser.ID))

	s := &Session{
		cfg:        cfg,
		backend:    backend,
		transport:  t,
		logger:     log,
		messages:   NewReconciler(WithMatchWindow(cfg.MatchWindow)),
		background: context.Background(),
	}
	s.conversations = NewConversationStore(cfg.LocalUser.ID, backend, log.Named("store"))
	s.subscriptions = NewSubscriptionManager(t, s.Receive, log.Named("subscriptions"))
	s.presence = NewPresenceTracker(backend, t, PresenceConfig{
		MinInterval:     cfg.PresenceMinInterval,
		RefreshInterval: cfg.PresenceRefreshInterval,
		Now:             cfg.Now,
	}, log.Named("presence"))
	s.presence.OnUpdate(func(*model.PresenceSnapshot) {
		s.conversations.SetOnline(s.presence.IsOnline)
	})

	return s
}

// Start loads the conversation list, watches the user's queue and starts the
// presence heartbeat.
func (s *Session) Start(ctx context.Context) error {
	convs, err := s.backend.GetConversations(ctx, s.cfg.LocalUser.ID)
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	s.conversations.SetConversations(convs)

	if err := s.subscriptions.Watch(transport.UserQueue(s.cfg.LocalUser.ID)); err != nil {
		s.logger.Warn("failed to watch user queue", zap.Error(err))
	}

	bg, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.background = bg
	s.stopBackground = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop(bg)
	}()

	if _, err := s.presence.Poll(ctx); err != nil {
		s.logger.Warn("initial presence poll failed", zap.Error(err))
	}

	s.logger.Info("session started", zap.Int("conversations", len(convs)))
	return nil
}

// Stop closes the active conversation, drops all subscriptions and stops background work.
func (s *Session) Stop() {
	s.Close()
	s.subscriptions.Close()

	s.mu.Lock()
	cancel := s.stopBackground
	s.stopBackground = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Open makes conversationID the active conversation: it subscribes to its
// topic, loads its messages and marks it read.
func (s *Session) Open(ctx context.Context, conversationID int64) error {
	conv, ok := s.conversations.Get(conversationID)
	if !ok {
		return ErrUnknownConversation
	}

	s.conversations.SetActive(conversationID)
	if err := s.subscriptions.Activate(conversationID); err != nil {
		s.logger.Warn("failed to activate subscription",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	s.mu.Lock()
	s.loading = conversationID
	s.loadBuffer = nil
	s.mu.Unlock()

	msgs, err := s.backend.GetMessages(ctx, conversationID)

	s.mu.Lock()
	buffered := s.loadBuffer
	s.loading = 0
	s.loadBuffer = nil
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	s.messages.LoadInitial(conversationID, msgs)
	// Messages pushed while the fetch was in flight may be missing from it.
	for _, m := range buffered {
		s.messages.ReceiveAuthoritative(conversationID, m)
	}
	if last, ok := s.messages.Last(conversationID); ok {
		s.conversations.ApplyMessage(last)
	}

	if conv.UnreadCount > 0 {
		if err := s.conversations.MarkRead(ctx, conversationID); err != nil {
			s.logger.Warn("mark read failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		}
	}

	s.startPresenceLoop()
	s.notify(conversationID)
	return nil
}

// Close leaves the active conversation. Sends still in flight complete normally.
func (s *Session) Close() {
	s.subscriptions.Deactivate()
	s.conversations.SetActive(0)

	s.mu.Lock()
	stop := s.stopPresence
	s.stopPresence = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Send shows content immediately as an optimistic message, persists it and
// fans it out to the other participant.
//
// A persistence failure leaves the optimistic message in place, flagged as
// failed, and is returned.
func (s *Session) Send(ctx context.Context, conversationID int64, content string) (*model.Message, error) {
	if err := model.ValidateContent(content); err != nil {
		return nil, err
	}
	conv, ok := s.conversations.Get(conversationID)
	if !ok {
		return nil, ErrUnknownConversation
	}

	clientID := uuid.Must(uuid.NewV7()).String()
	local := s.messages.InsertOptimistic(conversationID, model.Message{
		ClientID:   clientID,
		SenderID:   s.cfg.LocalUser.ID,
		SenderName: s.cfg.LocalUser.Name,
		Content:    content,
		CreatedAt:  s.cfg.Now(),
	})
	s.conversations.ApplyMessage(local)
	metrics.OptimisticMessagesTotal.Inc()
	s.notify(conversationID)

	saved, err := s.backend.SendMessage(ctx, conversationID, content, s.cfg.LocalUser.ID, clientID)
	if err != nil {
		s.messages.MarkFailed(conversationID, local.ID)
		metrics.SendFailuresTotal.WithLabelValues("persist").Inc()
		s.notify(conversationID)
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	// The broadcast echo may already have replaced the placeholder; either
	// way the id check keeps a single copy.
	s.receive(*saved)

	hint := model.ChatPayload{
		Content:        content,
		ReceiverID:     conv.Participant.ID,
		ConversationID: conversationID,
		Type:           model.ChatMessageType,
	}
	if err := s.transport.Send(ctx, transport.DestinationPrivateChat, hint); err != nil {
		metrics.SendFailuresTotal.WithLabelValues("fanout").Inc()
		s.logger.Warn("fan-out hint not sent",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	return saved, nil
}

// StartConversation gets or creates the conversation with participantID and adds it to the store.
func (s *Session) StartConversation(ctx context.Context, participantID int64) (*model.Conversation, error) {
	conv, err := s.backend.GetOrCreateConversation(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to start conversation: %w", err)
	}
	if existing, ok := s.conversations.Get(conv.ID); ok {
		return existing, nil
	}
	s.conversations.Upsert(*conv)
	return conv, nil
}

// Refresh adds conversations created elsewhere since the list was loaded.
func (s *Session) Refresh(ctx context.Context) error {
	convs, err := s.backend.GetConversations(ctx, s.cfg.LocalUser.ID)
	if err != nil {
		return fmt.Errorf("failed to refresh conversations: %w", err)
	}
	added := s.conversations.AddMissing(convs)
	if len(added) == 0 {
		return nil
	}
	s.logger.Info("new conversations", zap.Int("added", len(added)))
	// The server copy already counts what it has seen; only a local tail
	// newer than its summary still needs projecting.
	for _, id := range added {
		if last, ok := s.messages.Last(id); ok {
			s.conversations.ApplyMessage(last)
		}
	}
	return nil
}

// Receive is the sink for messages delivered by the transport.
func (s *Session) Receive(msg model.TopicMessage) {
	s.receive(msg.Message())
}

// receive merges an authoritative message into its own conversation, which
// need not be the active one.
func (s *Session) receive(msg model.Message) {
	conversationID := msg.ConversationID
	if msg.ID <= 0 {
		metrics.RecordReconcile("rejected")
		s.logger.Warn("dropping message without server id",
			zap.Int64("conversation_id", conversationID),
			zap.Int64("message_id", msg.ID),
		)
		return
	}

	s.mu.Lock()
	if s.loading == conversationID {
		s.loadBuffer = append(s.loadBuffer, msg)
	}
	bg := s.background
	s.mu.Unlock()

	outcome := s.messages.ReceiveAuthoritative(conversationID, msg)
	metrics.RecordReconcile(outcome.String())
	if outcome == OutcomeDuplicate {
		return
	}

	s.logger.Debug("message reconciled",
		zap.Int64("conversation_id", conversationID),
		zap.Int64("message_id", msg.ID),
		zap.Stringer("outcome", outcome),
	)

	if _, known := s.conversations.Get(conversationID); !known {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(bg, 10*time.Second)
			defer cancel()
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("conversation refresh failed", zap.Error(err))
			}
			s.notify(conversationID)
		}()
		return
	}

	if last, ok := s.messages.Last(conversationID); ok {
		s.conversations.ApplyMessage(last)
	}
	s.notify(conversationID)
}

// Heartbeat announces the local user as online.
func (s *Session) Heartbeat(ctx context.Context) error {
	if !s.transport.IsConnected() {
		return nil
	}
	return s.transport.Send(ctx, transport.DestinationPresenceHeartbeat, model.PresenceHeartbeat{
		UserID: s.cfg.LocalUser.ID,
	})
}

// Conversations returns the conversation list.
func (s *Session) Conversations() []*model.Conversation {
	return s.conversations.List()
}

// Conversation returns one conversation.
func (s *Session) Conversation(conversationID int64) (*model.Conversation, bool) {
	return s.conversations.Get(conversationID)
}

// Messages returns the conversation's reconciled messages.
func (s *Session) Messages(conversationID int64) []model.Message {
	return s.messages.Messages(conversationID)
}

// IsOnline reports the last known presence of userID.
func (s *Session) IsOnline(userID int64) bool {
	return s.presence.IsOnline(userID)
}

// Active returns the open conversation, or 0.
func (s *Session) Active() int64 {
	return s.conversations.Active()
}

// Subscriptions exposes the subscription manager.
func (s *Session) Subscriptions() *SubscriptionManager {
	return s.subscriptions
}

func (s *Session) startPresenceLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopPresence != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.background)
	s.stopPresence = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.presence.Run(ctx)
	}()
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	s.sendHeartbeat(ctx)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendHeartbeat(ctx)
		}
	}
}

func (s *Session) sendHeartbeat(ctx context.Context) {
	if err := s.Heartbeat(ctx); err != nil && ctx.Err() == nil {
		s.logger.Debug("heartbeat not sent", zap.Error(err))
	}
}

func (s *Session) notify(conversationID int64) {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(conversationID)
	}
}
