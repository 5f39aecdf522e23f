package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/pkg/logger"
)

const localUser int64 = 1

type markCall struct {
	conversationID int64
	userID         int64
}

type fakeMarker struct {
	mu    sync.Mutex
	err   error
	calls []markCall
}

func (f *fakeMarker) MarkRead(_ context.Context, conversationID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, markCall{conversationID, userID})
	return f.err
}

func newTestStore(marker ReadMarker) *ConversationStore {
	s := NewConversationStore(localUser, marker, logger.NewNop())
	s.SetConversations([]model.Conversation{
		{ID: 10, Participant: model.Participant{ID: 2, Name: "Binh"}},
		{ID: 20, Participant: model.Participant{ID: 3, Name: "Chi"}},
	})
	return s
}

func msgFrom(conversationID, senderID int64, content string, at time.Time) model.Message {
	return model.Message{ConversationID: conversationID, SenderID: senderID, Content: content, CreatedAt: at}
}

func TestConversationStore_ApplyMessageUpdatesSummary(t *testing.T) {
	s := newTestStore(nil)

	changed := s.ApplyMessage(msgFrom(20, 3, "hello", t0))

	require.True(t, changed)
	conv, ok := s.Get(20)
	require.True(t, ok)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "hello", conv.LastMessage.Content)
	assert.Equal(t, int64(3), conv.LastMessage.SenderID)
	assert.Equal(t, t0, conv.UpdatedAt)
	assert.Equal(t, 1, conv.UnreadCount)

	list := s.List()
	assert.Equal(t, int64(20), list[0].ID, "updated conversation moves to the front")
}

func TestConversationStore_IdenticalSummaryKeepsIdentity(t *testing.T) {
	s := newTestStore(nil)
	s.ApplyMessage(msgFrom(10, 2, "hello", t0))
	before, _ := s.Get(10)

	assert.False(t, s.ApplyMessage(msgFrom(10, 2, "hello", t0)))

	after, _ := s.Get(10)
	assert.Same(t, before, after)
	assert.Equal(t, 1, after.UnreadCount)
}

func TestConversationStore_OlderMessageKeepsSummary(t *testing.T) {
	s := newTestStore(nil)
	s.ApplyMessage(msgFrom(10, 2, "two", t0.Add(time.Second)))

	assert.False(t, s.ApplyMessage(msgFrom(10, 2, "one", t0)))

	conv, _ := s.Get(10)
	assert.Equal(t, "two", conv.LastMessage.Content)
	assert.Equal(t, 1, conv.UnreadCount)

	// An echo stamped slightly before the optimistic copy still replaces it.
	s.ApplyMessage(msgFrom(20, localUser, "mine", t0.Add(time.Second)))
	assert.True(t, s.ApplyMessage(msgFrom(20, localUser, "mine", t0)))
	conv, _ = s.Get(20)
	assert.Equal(t, t0, conv.LastMessage.Timestamp)
}

func TestConversationStore_ChangeSwapsPointer(t *testing.T) {
	s := newTestStore(nil)
	before, _ := s.Get(10)

	s.ApplyMessage(msgFrom(10, 2, "hello", t0))

	after, _ := s.Get(10)
	assert.NotSame(t, before, after)
	assert.Nil(t, before.LastMessage, "stored values are never mutated")
}

func TestConversationStore_UnreadRules(t *testing.T) {
	s := newTestStore(nil)
	s.SetActive(20)

	s.ApplyMessage(msgFrom(10, localUser, "mine", t0))
	s.ApplyMessage(msgFrom(20, 3, "active", t0))
	s.ApplyMessage(msgFrom(10, 2, "theirs", t0.Add(time.Second)))

	c10, _ := s.Get(10)
	c20, _ := s.Get(20)
	assert.Equal(t, 1, c10.UnreadCount)
	assert.Equal(t, 0, c20.UnreadCount)
}

func TestConversationStore_UnreadMonotonic(t *testing.T) {
	s := newTestStore(nil)
	senders := []int64{2, localUser, 2, 2, localUser, 2}

	prev := 0
	for i, sender := range senders {
		s.ApplyMessage(msgFrom(10, sender, "m", t0.Add(time.Duration(i)*time.Second)))
		conv, _ := s.Get(10)

		if sender == localUser {
			assert.Equal(t, prev, conv.UnreadCount)
		} else {
			assert.Equal(t, prev+1, conv.UnreadCount)
		}
		prev = conv.UnreadCount
	}
	assert.Equal(t, 4, prev)
}

func TestConversationStore_UnknownConversation(t *testing.T) {
	s := newTestStore(nil)
	assert.False(t, s.ApplyMessage(msgFrom(99, 2, "x", t0)))
	_, ok := s.Get(99)
	assert.False(t, ok)
}

func TestConversationStore_MarkRead(t *testing.T) {
	marker := &fakeMarker{}
	s := newTestStore(marker)
	s.ApplyMessage(msgFrom(10, 2, "a", t0))
	s.ApplyMessage(msgFrom(10, 2, "b", t0.Add(time.Second)))

	require.NoError(t, s.MarkRead(context.Background(), 10))

	conv, _ := s.Get(10)
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, []markCall{{10, localUser}}, marker.calls)
}

func TestConversationStore_MarkReadFailureNotRolledBack(t *testing.T) {
	marker := &fakeMarker{err: errors.New("boom")}
	s := newTestStore(marker)
	s.ApplyMessage(msgFrom(10, 2, "a", t0))

	err := s.MarkRead(context.Background(), 10)

	require.Error(t, err)
	conv, _ := s.Get(10)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestConversationStore_UpsertAddMissingRemove(t *testing.T) {
	s := newTestStore(nil)

	s.Upsert(model.Conversation{ID: 30})
	assert.Equal(t, int64(30), s.List()[0].ID)

	added := s.AddMissing([]model.Conversation{{ID: 10}, {ID: 40}})
	assert.Equal(t, []int64{40}, added)
	assert.Len(t, s.List(), 4)

	s.SetActive(40)
	s.Remove(40)
	_, ok := s.Get(40)
	assert.False(t, ok)
	assert.Equal(t, int64(0), s.Active())
	assert.Len(t, s.List(), 3)
}

func TestConversationStore_SetOnline(t *testing.T) {
	s := newTestStore(nil)
	untouched, _ := s.Get(20)

	s.SetOnline(func(id int64) bool { return id == 2 })

	c10, _ := s.Get(10)
	c20, _ := s.Get(20)
	assert.True(t, c10.Participant.Online)
	assert.Same(t, untouched, c20)
}
