// Package service provides the relay's conversation, message and presence logic.
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/pkg/logger"
	"github.com/legalforum/chatsync/pkg/metrics"
)

var (
	// ErrConversationNotFound is returned for unknown conversations and for
	// conversations the caller is not a member of.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrUnknownUser is returned when the participant never authenticated.
	ErrUnknownUser = errors.New("unknown user")
	// ErrSelfConversation is returned when a user starts a conversation with themselves.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
)

type conversation struct {
	id            int64
	members       [2]int64
	createdAt     time.Time
	updatedAt     time.Time
	last          *model.MessageSummary
	lastMessageID int64
	unread        map[int64]int
	// readUpTo holds, per member, the highest message id they have read.
	readUpTo map[int64]int64
}

func (c *conversation) other(userID int64) int64 {
	if c.members[0] == userID {
		return c.members[1]
	}
	return c.members[0]
}

func (c *conversation) hasMember(userID int64) bool {
	return c.members[0] == userID || c.members[1] == userID
}

// ConversationService handles direct conversations between two users.
type ConversationService struct {
	users    *UserDirectory
	presence *PresenceService
	logger   *logger.Logger
	now      func() time.Time

	// In-memory storage for conversations; messages themselves live in JetStream.
	mu            sync.RWMutex
	nextID        int64
	conversations map[int64]*conversation
	byPair        map[[2]int64]int64
}

// NewConversationService creates a new conversation service.
func NewConversationService(users *UserDirectory, presence *PresenceService, log *logger.Logger) *ConversationService {
	return &ConversationService{
		users:         users,
		presence:      presence,
		logger:        log,
		now:           time.Now,
		conversations: make(map[int64]*conversation),
		byPair:        make(map[[2]int64]int64),
	}
}

func pairKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

// GetOrCreate returns the conversation between userID and participantID,
// creating it on first use.
func (s *ConversationService) GetOrCreate(ctx context.Context, userID, participantID int64) (*model.Conversation, error) {
	if userID == participantID {
		return nil, ErrSelfConversation
	}
	if _, ok := s.users.Get(participantID); !ok {
		return nil, ErrUnknownUser
	}

	key := pairKey(userID, participantID)

	s.mu.Lock()
	id, exists := s.byPair[key]
	if !exists {
		s.nextID++
		id = s.nextID
		now := s.now()
		s.conversations[id] = &conversation{
			id:        id,
			members:   key,
			createdAt: now,
			updatedAt: now,
			unread:    make(map[int64]int),
			readUpTo:  make(map[int64]int64),
		}
		s.byPair[key] = id
	}
	conv := s.viewLocked(s.conversations[id], userID)
	s.mu.Unlock()

	if !exists {
		metrics.ConversationsTotal.Inc()
		s.logger.Info("conversation created",
			zap.Int64("conversation_id", id),
			zap.Int64("user_id", userID),
			zap.Int64("participant_id", participantID),
		)
	}

	return conv, nil
}

// Get retrieves a conversation as seen by userID.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID int64) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok || !c.hasMember(userID) {
		return nil, ErrConversationNotFound
	}
	return s.viewLocked(c, userID), nil
}

// List retrieves the conversations of userID, most recently updated first.
func (s *ConversationService) List(ctx context.Context, userID int64) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := []model.Conversation{}
	for _, c := range s.conversations {
		if c.hasMember(userID) {
			convs = append(convs, *s.viewLocked(c, userID))
		}
	}

	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID > convs[j].ID
	})

	return convs, nil
}

// Members returns the two members of a conversation.
func (s *ConversationService) Members(conversationID int64) ([2]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return [2]int64{}, ErrConversationNotFound
	}
	return c.members, nil
}

// RecordMessage updates the summary and unread counters for a persisted message.
func (s *ConversationService) RecordMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		return ErrConversationNotFound
	}

	// Concurrent sends may record out of stream order; the summary follows the
	// highest sequence.
	if msg.ID >= c.lastMessageID {
		c.lastMessageID = msg.ID
		c.last = msg.Summary()
		c.updatedAt = msg.CreatedAt
	}
	c.unread[c.other(msg.SenderID)]++
	// Sending implies having read everything before it.
	c.unread[msg.SenderID] = 0
	c.readUpTo[msg.SenderID] = c.lastMessageID

	return nil
}

// MarkRead marks every message of the conversation as read by userID.
func (s *ConversationService) MarkRead(ctx context.Context, userID, conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok || !c.hasMember(userID) {
		return ErrConversationNotFound
	}

	c.unread[userID] = 0
	c.readUpTo[userID] = c.lastMessageID
	return nil
}

// ReadUpTo returns the highest message id userID has read in the conversation.
func (s *ConversationService) ReadUpTo(conversationID, userID int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return 0
	}
	return c.readUpTo[userID]
}

func (s *ConversationService) viewLocked(c *conversation, userID int64) *model.Conversation {
	otherID := c.other(userID)
	participant, ok := s.users.Get(otherID)
	if !ok {
		participant = model.Participant{ID: otherID, Role: model.RoleUser}
	}
	if s.presence != nil {
		participant.Online = s.presence.IsOnline(otherID)
	}

	var last *model.MessageSummary
	if c.last != nil {
		summary := *c.last
		last = &summary
	}

	return &model.Conversation{
		ID:          c.id,
		Participant: participant,
		LastMessage: last,
		UnreadCount: c.unread[userID],
		CreatedAt:   c.createdAt,
		UpdatedAt:   c.updatedAt,
	}
}
