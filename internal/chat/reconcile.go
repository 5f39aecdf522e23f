// Package chat keeps an in-memory view of direct-message conversations
// consistent across the initial REST fetch, locally sent optimistic messages
// and authoritative copies pushed by the transport.
package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/legalforum/chatsync/internal/model"
)

// DefaultMatchWindow bounds how far apart the createdAt of an optimistic
// message and its echo may be for content matching.
//
// Wider windows risk merging two distinct messages with the same text sent a
// few seconds apart; narrower ones risk duplicate bubbles on slow networks or
// skewed clocks. Correlation ids make the window irrelevant whenever the
// backend echoes them.
const DefaultMatchWindow = 5 * time.Second

// Outcome describes what ReceiveAuthoritative did with a message.
type Outcome int

const (
	// OutcomeAppended means no placeholder matched and the message was appended.
	OutcomeAppended Outcome = iota
	// OutcomeReplaced means an optimistic placeholder was replaced in place.
	OutcomeReplaced
	// OutcomeDuplicate means the id was already present; nothing changed.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAppended:
		return "appended"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// LocalIDs allocates negative ids for optimistic messages, unique within the session.
type LocalIDs struct {
	seq atomic.Int64
}

// Next returns the next local id.
func (l *LocalIDs) Next() int64 {
	return -l.seq.Add(1)
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithMatchWindow overrides DefaultMatchWindow.
func WithMatchWindow(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.window = d
		}
	}
}

// Reconciler maintains one ordered, duplicate-free message list per conversation.
//
// Every method is a single critical section; none performs I/O.
type Reconciler struct {
	mu     sync.RWMutex
	lists  map[int64][]model.Message
	window time.Duration
	ids    LocalIDs
}

// NewReconciler creates an empty reconciler.
func NewReconciler(opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		lists:  make(map[int64][]model.Message),
		window: DefaultMatchWindow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MatchWindow returns the configured content-matching window.
func (r *Reconciler) MatchWindow() time.Duration {
	return r.window
}

// LoadInitial replaces the conversation's persisted history with messages.
//
// Optimistic placeholders already in the list survive the reload unless a
// loaded message confirms them; they follow the loaded history in their
// original order. Failed sends therefore stay visible across reopen.
func (r *Reconciler) LoadInitial(conversationID int64, messages []model.Message) {
	list := make([]model.Message, len(messages))
	copy(list, messages)
	for i := range list {
		list[i].ConversationID = conversationID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []model.Message
	for _, m := range r.lists[conversationID] {
		if m.IsOptimistic() {
			pending = append(pending, m)
		}
	}
	for i := range list {
		if len(pending) == 0 {
			break
		}
		if list[i].IsOptimistic() {
			continue
		}
		if j := r.matchPlaceholder(pending, &list[i]); j >= 0 {
			pending = append(pending[:j], pending[j+1:]...)
		}
	}

	r.lists[conversationID] = dedupe(append(list, pending...))
}

// InsertOptimistic appends msg as an optimistic placeholder and returns the stored copy.
// A local id is assigned unless msg already carries one.
func (r *Reconciler) InsertOptimistic(conversationID int64, msg model.Message) model.Message {
	msg.ConversationID = conversationID
	if !msg.IsOptimistic() {
		msg.ID = r.ids.Next()
	}

	r.mu.Lock()
	r.lists[conversationID] = append(r.lists[conversationID], msg)
	r.mu.Unlock()

	return msg
}

// ReceiveAuthoritative merges a persisted message into the conversation's list.
//
// A redelivered id is dropped. Otherwise the message replaces the optimistic
// placeholder it confirms, keeping that placeholder's position, or is appended.
func (r *Reconciler) ReceiveAuthoritative(conversationID int64, msg model.Message) Outcome {
	msg.ConversationID = conversationID
	msg.Failed = false

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.lists[conversationID]
	if indexOfID(list, msg.ID) >= 0 {
		return OutcomeDuplicate
	}

	outcome := OutcomeAppended
	if i := r.matchPlaceholder(list, &msg); i >= 0 {
		list[i] = msg
		outcome = OutcomeReplaced
	} else {
		list = append(list, msg)
	}

	r.lists[conversationID] = dedupe(list)
	return outcome
}

// MarkFailed flags an optimistic message whose send failed. It reports whether
// the placeholder was still present.
func (r *Reconciler) MarkFailed(conversationID, localID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.lists[conversationID]
	i := indexOfID(list, localID)
	if i < 0 || !list[i].IsOptimistic() {
		return false
	}
	list[i].Failed = true
	return true
}

// Messages returns a copy of the conversation's list.
func (r *Reconciler) Messages(conversationID int64) []model.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.lists[conversationID]
	out := make([]model.Message, len(list))
	copy(out, list)
	return out
}

// Last returns the newest message of the conversation.
func (r *Reconciler) Last(conversationID int64) (model.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.lists[conversationID]
	if len(list) == 0 {
		return model.Message{}, false
	}
	return list[len(list)-1], true
}

// Loaded reports whether the conversation has a list in memory.
func (r *Reconciler) Loaded(conversationID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.lists[conversationID]
	return ok
}

// matchPlaceholder returns the index of the optimistic entry msg confirms, or -1.
// Correlation ids win; content matching is the fallback for echoes without one.
func (r *Reconciler) matchPlaceholder(list []model.Message, msg *model.Message) int {
	if msg.ClientID != "" {
		for i := range list {
			if list[i].IsOptimistic() && list[i].ClientID == msg.ClientID {
				return i
			}
		}
	}

	for i := range list {
		p := &list[i]
		if !p.IsOptimistic() {
			continue
		}
		// Two different correlation ids are two different messages.
		if p.ClientID != "" && msg.ClientID != "" {
			continue
		}
		if p.ConversationID != msg.ConversationID || p.SenderID != msg.SenderID || p.Content != msg.Content {
			continue
		}
		if absDuration(msg.CreatedAt.Sub(p.CreatedAt)) <= r.window {
			return i
		}
	}
	return -1
}

func indexOfID(list []model.Message, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// dedupe keeps the first occurrence of every id, preserving order.
func dedupe(list []model.Message) []model.Message {
	seen := make(map[int64]struct{}, len(list))
	out := list[:0]
	for _, m := range list {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
