package chat

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalforum/chatsync/internal/model"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestReconciler_OptimisticReplacedByEcho(t *testing.T) {
	r := NewReconciler()
	local := r.InsertOptimistic(1, model.Message{SenderID: 7, Content: "hi", CreatedAt: t0})
	require.True(t, local.IsOptimistic())

	outcome := r.ReceiveAuthoritative(1, model.Message{ID: 42, SenderID: 7, Content: "hi", CreatedAt: t0.Add(2 * time.Second)})

	assert.Equal(t, OutcomeReplaced, outcome)
	msgs := r.Messages(1)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].ID)
}

func TestReconciler_CrossParticipantAppend(t *testing.T) {
	r := NewReconciler()

	outcome := r.ReceiveAuthoritative(1, model.Message{ID: 7, SenderID: 99, Content: "yo", CreatedAt: t0})

	assert.Equal(t, OutcomeAppended, outcome)
	msgs := r.Messages(1)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(7), msgs[0].ID)
	assert.Equal(t, int64(1), msgs[0].ConversationID)
}

func TestReconciler_DuplicateIDDropped(t *testing.T) {
	r := NewReconciler()
	r.LoadInitial(1, []model.Message{{ID: 5, SenderID: 2, Content: "a", CreatedAt: t0}})

	assert.Equal(t, OutcomeDuplicate, r.ReceiveAuthoritative(1, model.Message{ID: 5, SenderID: 2, Content: "a", CreatedAt: t0}))
	assert.Len(t, r.Messages(1), 1)
}

func TestReconciler_MatchWindowBoundary(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		want   Outcome
	}{
		{"inside", 4 * time.Second, OutcomeReplaced},
		{"exactly at window", DefaultMatchWindow, OutcomeReplaced},
		{"echo earlier than local clock", -3 * time.Second, OutcomeReplaced},
		{"just outside", DefaultMatchWindow + time.Millisecond, OutcomeAppended},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler()
			r.InsertOptimistic(1, model.Message{SenderID: 7, Content: "hi", CreatedAt: t0})

			got := r.ReceiveAuthoritative(1, model.Message{ID: 42, SenderID: 7, Content: "hi", CreatedAt: t0.Add(tt.offset)})

			assert.Equal(t, tt.want, got)
			msgs := r.Messages(1)
			if tt.want == OutcomeReplaced {
				assert.Len(t, msgs, 1)
			} else {
				// The placeholder is never evicted, so a miss leaves it next to the echo.
				require.Len(t, msgs, 2)
				assert.True(t, msgs[0].IsOptimistic())
			}
		})
	}
}

func TestReconciler_HeuristicRequiresSameSenderAndContent(t *testing.T) {
	r := NewReconciler()
	r.InsertOptimistic(1, model.Message{SenderID: 7, Content: "hi", CreatedAt: t0})

	assert.Equal(t, OutcomeAppended, r.ReceiveAuthoritative(1, model.Message{ID: 1, SenderID: 8, Content: "hi", CreatedAt: t0}))
	assert.Equal(t, OutcomeAppended, r.ReceiveAuthoritative(1, model.Message{ID: 2, SenderID: 7, Content: "hello", CreatedAt: t0}))
	assert.Len(t, r.Messages(1), 3)
}

func TestReconciler_ClientIDWinsOverHeuristic(t *testing.T) {
	r := NewReconciler()
	first := r.InsertOptimistic(1, model.Message{ClientID: "a", SenderID: 7, Content: "ok", CreatedAt: t0})
	second := r.InsertOptimistic(1, model.Message{ClientID: "b", SenderID: 7, Content: "ok", CreatedAt: t0.Add(time.Second)})

	// The echo of the second send arrives first.
	assert.Equal(t, OutcomeReplaced, r.ReceiveAuthoritative(1, model.Message{ID: 11, ClientID: "b", SenderID: 7, Content: "ok", CreatedAt: t0.Add(time.Second)}))

	msgs := r.Messages(1)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, int64(11), msgs[1].ID)
	assert.NotEqual(t, second.ID, msgs[1].ID)
}

func TestReconciler_ClientIDIgnoresWindow(t *testing.T) {
	r := NewReconciler()
	r.InsertOptimistic(1, model.Message{ClientID: "a", SenderID: 7, Content: "ok", CreatedAt: t0})

	got := r.ReceiveAuthoritative(1, model.Message{ID: 3, ClientID: "a", SenderID: 7, Content: "ok", CreatedAt: t0.Add(time.Minute)})

	assert.Equal(t, OutcomeReplaced, got)
	assert.Len(t, r.Messages(1), 1)
}

func TestReconciler_SameTextSentTwice(t *testing.T) {
	r := NewReconciler()
	a := r.InsertOptimistic(1, model.Message{SenderID: 7, Content: "ok", CreatedAt: t0})
	r.InsertOptimistic(1, model.Message{SenderID: 7, Content: "ok", CreatedAt: t0.Add(time.Second)})

	r.ReceiveAuthoritative(1, model.Message{ID: 20, SenderID: 7, Content: "ok", CreatedAt: t0})
	r.ReceiveAuthoritative(1, model.Message{ID: 21, SenderID: 7, Content: "ok", CreatedAt: t0.Add(time.Second)})

	msgs := r.Messages(1)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(20), msgs[0].ID)
	assert.Equal(t, int64(21), msgs[1].ID)
	assert.NotEqual(t, a.ID, msgs[0].ID)
}

func TestReconciler_ReplacementKeepsPosition(t *testing.T) {
	r := NewReconciler()
	r.InsertOptimistic(1, model.Message{SenderID: 7, Content: "mine", CreatedAt: t0})
	r.ReceiveAuthoritative(1, model.Message{ID: 30, SenderID: 8, Content: "theirs", CreatedAt: t0.Add(time.Second)})
	r.ReceiveAuthoritative(1, model.Message{ID: 29, SenderID: 7, Content: "mine", CreatedAt: t0})

	msgs := r.Messages(1)
	require.Len(t, msgs, 2)
	assert.Equal(t, []int64{29, 30}, []int64{msgs[0].ID, msgs[1].ID})
}

func TestReconciler_ConversationsAreIsolated(t *testing.T) {
	r := NewReconciler()
	r.InsertOptimistic(1, model.Message{SenderID: 7, Content: "hi", CreatedAt: t0})

	assert.Equal(t, OutcomeAppended, r.ReceiveAuthoritative(2, model.Message{ID: 5, SenderID: 7, Content: "hi", CreatedAt: t0}))
	assert.Len(t, r.Messages(1), 1)
	assert.True(t, r.Messages(1)[0].IsOptimistic())
}

func TestReconciler_MarkFailedThenConfirmed(t *testing.T) {
	r := NewReconciler()
	local := r.InsertOptimistic(1, model.Message{ClientID: "x", SenderID: 7, Content: "hi", CreatedAt: t0})

	require.True(t, r.MarkFailed(1, local.ID))
	assert.True(t, r.Messages(1)[0].Failed)
	assert.False(t, r.MarkFailed(1, 999))

	// The request may have reached the server before failing on the way back.
	r.ReceiveAuthoritative(1, model.Message{ID: 8, ClientID: "x", SenderID: 7, Content: "hi", CreatedAt: t0})
	msgs := r.Messages(1)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Failed)
	assert.False(t, r.MarkFailed(1, 8))
}

func TestReconciler_LoadInitialDedupes(t *testing.T) {
	r := NewReconciler()
	r.LoadInitial(1, []model.Message{{ID: 1}, {ID: 2}, {ID: 1}})

	msgs := r.Messages(1)
	require.Len(t, msgs, 2)
	assert.True(t, r.Loaded(1))
	assert.False(t, r.Loaded(2))

	last, ok := r.Last(1)
	require.True(t, ok)
	assert.Equal(t, int64(2), last.ID)
}

func TestReconciler_LoadInitialKeepsUnconfirmedPlaceholders(t *testing.T) {
	r := NewReconciler()
	r.LoadInitial(1, []model.Message{{ID: 1, SenderID: 2, Content: "old", CreatedAt: t0}})
	failed := r.InsertOptimistic(1, model.Message{ClientID: "c-fail", SenderID: 7, Content: "lost", CreatedAt: t0})
	require.True(t, r.MarkFailed(1, failed.ID))
	pending := r.InsertOptimistic(1, model.Message{ClientID: "c-wait", SenderID: 7, Content: "wait", CreatedAt: t0})
	confirmed := r.InsertOptimistic(1, model.Message{ClientID: "c-done", SenderID: 7, Content: "done", CreatedAt: t0})
	heuristic := r.InsertOptimistic(1, model.Message{SenderID: 7, Content: "plain", CreatedAt: t0})

	r.LoadInitial(1, []model.Message{
		{ID: 1, SenderID: 2, Content: "old", CreatedAt: t0},
		{ID: 2, ClientID: "c-done", SenderID: 7, Content: "done", CreatedAt: t0.Add(time.Second)},
		{ID: 3, SenderID: 7, Content: "plain", CreatedAt: t0.Add(2 * time.Second)},
	})

	msgs := r.Messages(1)
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, failed.ID, pending.ID}, ids)
	assert.NotContains(t, ids, confirmed.ID)
	assert.NotContains(t, ids, heuristic.ID)
	assert.True(t, msgs[3].Failed)
	assert.False(t, msgs[4].Failed)

	assert.Equal(t, OutcomeReplaced, r.ReceiveAuthoritative(1, model.Message{ID: 4, ClientID: "c-wait", SenderID: 7, Content: "wait", CreatedAt: t0}))
	assert.Equal(t, int64(4), r.Messages(1)[4].ID)
}

func TestReconciler_WithMatchWindow(t *testing.T) {
	r := NewReconciler(WithMatchWindow(time.Second))
	assert.Equal(t, time.Second, r.MatchWindow())

	r.InsertOptimistic(1, model.Message{SenderID: 7, Content: "hi", CreatedAt: t0})
	assert.Equal(t, OutcomeAppended, r.ReceiveAuthoritative(1, model.Message{ID: 1, SenderID: 7, Content: "hi", CreatedAt: t0.Add(2 * time.Second)}))

	assert.Equal(t, DefaultMatchWindow, NewReconciler(WithMatchWindow(0)).MatchWindow())
}

func TestLocalIDs(t *testing.T) {
	var ids LocalIDs
	a, b := ids.Next(), ids.Next()
	assert.Less(t, a, int64(0))
	assert.Less(t, b, int64(0))
	assert.NotEqual(t, a, b)
}

func TestReconciler_NoDuplicateIDsUnderRandomOperations(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			r := NewReconciler()
			contents := []string{"a", "b", "c"}

			for i := 0; i < 200; i++ {
				msg := model.Message{
					SenderID:  int64(rng.Intn(2) + 1),
					Content:   contents[rng.Intn(len(contents))],
					CreatedAt: t0.Add(time.Duration(rng.Intn(20)) * time.Second),
				}
				switch rng.Intn(4) {
				case 0:
					msg.ID = int64(rng.Intn(30) + 1)
					r.LoadInitial(1, append(r.Messages(1), msg))
				case 1:
					r.InsertOptimistic(1, msg)
				default:
					msg.ID = int64(rng.Intn(30) + 1)
					r.ReceiveAuthoritative(1, msg)
				}

				seen := make(map[int64]bool)
				for _, m := range r.Messages(1) {
					require.False(t, seen[m.ID], "duplicate id %d after step %d", m.ID, i)
					seen[m.ID] = true
				}
			}
		})
	}
}
