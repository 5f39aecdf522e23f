package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/pkg/logger"
)

// ReadMarker persists read state server-side.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID, userID int64) error
}

// ConversationStore holds the conversation list and keeps its summary fields
// consistent with arriving messages.
//
// Stored conversations are immutable values: a change swaps in a new pointer,
// an unchanged conversation keeps its pointer so callers can compare by identity.
type ConversationStore struct {
	localUserID int64
	marker      ReadMarker
	logger      *logger.Logger

	mu     sync.RWMutex
	order  []int64
	convs  map[int64]*model.Conversation
	active int64
}

// NewConversationStore creates an empty store for the local user.
func NewConversationStore(localUserID int64, marker ReadMarker, log *logger.Logger) *ConversationStore {
	return &ConversationStore{
		localUserID: localUserID,
		marker:      marker,
		logger:      log,
		convs:       make(map[int64]*model.Conversation),
	}
}

// SetConversations replaces the list, keeping the given order.
func (s *ConversationStore) SetConversations(list []model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	s.convs = make(map[int64]*model.Conversation, len(list))
	for i := range list {
		c := list[i]
		if _, dup := s.convs[c.ID]; dup {
			continue
		}
		s.convs[c.ID] = &c
		s.order = append(s.order, c.ID)
	}
}

// Upsert inserts conv at the front or replaces the stored copy in place.
func (s *ConversationStore) Upsert(conv model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[conv.ID]; !ok {
		s.order = append([]int64{conv.ID}, s.order...)
	}
	s.convs[conv.ID] = &conv
}

// AddMissing inserts the conversations that are not stored yet and returns their ids.
func (s *ConversationStore) AddMissing(list []model.Conversation) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []int64
	for i := range list {
		c := list[i]
		if _, ok := s.convs[c.ID]; ok {
			continue
		}
		s.convs[c.ID] = &c
		s.order = append(s.order, c.ID)
		added = append(added, c.ID)
	}
	return added
}

// Remove deletes a conversation, e.g. after server-side deletion.
func (s *ConversationStore) Remove(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[conversationID]; !ok {
		return
	}
	delete(s.convs, conversationID)
	for i, id := range s.order {
		if id == conversationID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active == conversationID {
		s.active = 0
	}
}

// Get returns the stored conversation. The result must not be modified.
func (s *ConversationStore) Get(conversationID int64) (*model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[conversationID]
	return c, ok
}

// List returns the conversations, most recently active first.
func (s *ConversationStore) List() []*model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.convs[id])
	}
	return out
}

// SetActive records the conversation currently open; 0 means none.
func (s *ConversationStore) SetActive(conversationID int64) {
	s.mu.Lock()
	s.active = conversationID
	s.mu.Unlock()
}

// Active returns the conversation currently open, or 0.
func (s *ConversationStore) Active() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// ApplyMessage projects msg into its conversation's summary. It reports
// whether the conversation changed.
//
// Unread counts only grow for messages from other users arriving while the
// conversation is not open. A message older than the current summary is
// ignored unless it is the echo of that summary's message.
func (s *ConversationStore) ApplyMessage(msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[msg.ConversationID]
	if !ok {
		return false
	}

	summary := msg.Summary()
	if conv.LastMessage.Equal(summary) {
		return false
	}
	if last := conv.LastMessage; last != nil && summary.Timestamp.Before(last.Timestamp) &&
		(summary.SenderID != last.SenderID || summary.Content != last.Content) {
		return false
	}

	next := *conv
	next.LastMessage = summary
	if msg.CreatedAt.After(next.UpdatedAt) {
		next.UpdatedAt = msg.CreatedAt
	}
	if msg.SenderID != s.localUserID && msg.ConversationID != s.active {
		next.UnreadCount++
	}
	s.convs[next.ID] = &next
	s.moveToFrontLocked(next.ID)
	return true
}

// MarkRead resets the unread counter and persists read state. The local reset
// stands even if persisting fails.
func (s *ConversationStore) MarkRead(ctx context.Context, conversationID int64) error {
	s.mu.Lock()
	if conv, ok := s.convs[conversationID]; ok && conv.UnreadCount != 0 {
		next := *conv
		next.UnreadCount = 0
		s.convs[conversationID] = &next
	}
	s.mu.Unlock()

	if s.marker == nil {
		return nil
	}
	if err := s.marker.MarkRead(ctx, conversationID, s.localUserID); err != nil {
		s.logger.Warn("failed to persist read state",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// SetOnline refreshes the derived participant online flags.
func (s *ConversationStore) SetOnline(isOnline func(userID int64) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, conv := range s.convs {
		online := isOnline(conv.Participant.ID)
		if conv.Participant.Online == online {
			continue
		}
		next := *conv
		next.Participant.Online = online
		s.convs[id] = &next
	}
}

func (s *ConversationStore) moveToFrontLocked(conversationID int64) {
	for i, id := range s.order {
		if id != conversationID {
			continue
		}
		if i == 0 {
			return
		}
		copy(s.order[1:i+1], s.order[:i])
		s.order[0] = conversationID
		return
	}
}
