package chat

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/internal/transport"
	"github.com/legalforum/chatsync/internal/transport/transporttest"
	"github.com/legalforum/chatsync/pkg/logger"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []model.TopicMessage
}

func (r *recordingSink) receive(msg model.TopicMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recordingSink) received() []model.TopicMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.TopicMessage(nil), r.msgs...)
}

func newTestManager(connected bool) (*SubscriptionManager, *transporttest.Client, *recordingSink) {
	client := transporttest.NewBroker().NewClient(connected)
	sink := &recordingSink{}
	return NewSubscriptionManager(client, sink.receive, logger.NewNop()), client, sink
}

func TestSubscriptionManager_ActivateIsIdempotent(t *testing.T) {
	m, client, _ := newTestManager(true)
	topic := transport.ConversationTopic(5)

	require.NoError(t, m.Activate(5))
	require.NoError(t, m.Activate(5))

	assert.Equal(t, 1, client.LiveSubscriptions(topic))
	assert.Equal(t, 1, client.SubscribeCalls(topic))
	assert.Equal(t, int64(5), m.Tracked())
}

func TestSubscriptionManager_ReconnectResubscribes(t *testing.T) {
	m, client, _ := newTestManager(false)
	topic := transport.ConversationTopic(5)

	require.NoError(t, m.Activate(5))
	assert.Equal(t, 0, client.LiveSubscriptions(topic))

	client.SetConnected(true)

	assert.Equal(t, 1, client.LiveSubscriptions(topic))
	assert.Equal(t, []string{topic}, m.Live())
}

func TestSubscriptionManager_DisconnectCycleSubscribesOnce(t *testing.T) {
	m, client, _ := newTestManager(true)
	topic := transport.ConversationTopic(5)
	require.NoError(t, m.Activate(5))

	for i := 0; i < 3; i++ {
		client.SetConnected(false)
		assert.Empty(t, m.Live())
		client.SetConnected(true)
	}

	assert.Equal(t, 1, client.LiveSubscriptions(topic))
	assert.Equal(t, 4, client.SubscribeCalls(topic))
}

func TestSubscriptionManager_SwitchConversation(t *testing.T) {
	m, client, _ := newTestManager(true)

	require.NoError(t, m.Activate(5))
	require.NoError(t, m.Activate(6))

	assert.Equal(t, 0, client.LiveSubscriptions(transport.ConversationTopic(5)))
	assert.Equal(t, 1, client.LiveSubscriptions(transport.ConversationTopic(6)))
	assert.Equal(t, []string{transport.ConversationTopic(6)}, m.Live())
}

func TestSubscriptionManager_UnsubscribeFailureDoesNotBlock(t *testing.T) {
	m, client, _ := newTestManager(true)
	client.UnsubscribeErr = errors.New("gone")

	require.NoError(t, m.Activate(5))
	require.NoError(t, m.Activate(6))

	assert.Equal(t, []string{transport.ConversationTopic(6)}, m.Live())
}

func TestSubscriptionManager_SubscribeError(t *testing.T) {
	m, client, _ := newTestManager(true)
	client.SubscribeErr = errors.New("refused")

	err := m.Activate(5)

	require.Error(t, err)
	assert.Empty(t, m.Live())

	client.SubscribeErr = nil
	require.NoError(t, m.Activate(5))
	assert.Equal(t, 1, client.LiveSubscriptions(transport.ConversationTopic(5)))
}

func TestSubscriptionManager_Deactivate(t *testing.T) {
	m, client, _ := newTestManager(true)
	require.NoError(t, m.Activate(5))

	m.Deactivate()
	client.SetConnected(false)
	client.SetConnected(true)

	assert.Equal(t, 0, client.LiveSubscriptions(transport.ConversationTopic(5)))
	assert.Equal(t, int64(0), m.Tracked())
}

func TestSubscriptionManager_WatchSurvivesReconnect(t *testing.T) {
	m, client, _ := newTestManager(true)
	queue := transport.UserQueue(1)

	require.NoError(t, m.Watch(queue))
	client.SetConnected(false)
	client.SetConnected(true)

	assert.Equal(t, 1, client.LiveSubscriptions(queue))

	m.Close()
	assert.Equal(t, 0, client.LiveSubscriptions(queue))
	assert.Empty(t, m.Live())
}

func TestSubscriptionManager_DeliversDecodedMessages(t *testing.T) {
	m, client, sink := newTestManager(true)
	topic := transport.ConversationTopic(5)
	require.NoError(t, m.Activate(5))

	require.NoError(t, client.Deliver(topic, model.TopicMessage{ID: 1, ConversationID: 5, Content: "hi"}))
	require.NoError(t, client.Deliver(topic, []byte("not json")))

	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Content)
}

func TestSubscriptionManager_ConcurrentActivate(t *testing.T) {
	m, client, _ := newTestManager(true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Activate(5)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, client.SubscribeCalls(transport.ConversationTopic(5)))
}
