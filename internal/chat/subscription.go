package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/internal/transport"
	"github.com/legalforum/chatsync/pkg/logger"
	"github.com/legalforum/chatsync/pkg/metrics"
)

// Sink receives decoded messages from live subscriptions.
type Sink func(msg model.TopicMessage)

// SubscriptionManager keeps exactly one live topic subscription for the
// conversation being viewed, plus any permanently watched destinations.
//
// Activation is keyed off the pair (connected, conversation): a request made
// while disconnected is remembered and replayed on the next connect.
type SubscriptionManager struct {
	transport transport.Client
	sink      Sink
	logger    *logger.Logger

	mu        sync.Mutex
	connected bool
	tracked   int64
	registry  map[string]transport.Subscription
	watched   map[string]struct{}
}

// NewSubscriptionManager creates a manager and registers it for connection changes.
func NewSubscriptionManager(t transport.Client, sink Sink, log *logger.Logger) *SubscriptionManager {
	m := &SubscriptionManager{
		transport: t,
		sink:      sink,
		logger:    log,
		connected: t.IsConnected(),
		registry:  make(map[string]transport.Subscription),
		watched:   make(map[string]struct{}),
	}
	t.OnConnectionChange(m.handleConnectionChange)
	return m
}

// Activate attaches the manager to the conversation's topic, tearing down the
// previous conversation's subscription. Repeated calls for the tracked
// conversation are no-ops while its subscription is live.
func (m *SubscriptionManager) Activate(conversationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	destination := transport.ConversationTopic(conversationID)
	if m.tracked == conversationID {
		if _, live := m.registry[destination]; live {
			return nil
		}
	} else if m.tracked != 0 {
		m.unsubscribeLocked(transport.ConversationTopic(m.tracked))
	}

	m.tracked = conversationID
	return m.subscribeLocked(destination)
}

// Deactivate drops the tracked conversation's subscription.
func (m *SubscriptionManager) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tracked == 0 {
		return
	}
	m.unsubscribeLocked(transport.ConversationTopic(m.tracked))
	m.tracked = 0
}

// Watch keeps a permanent subscription to destination across reconnects.
func (m *SubscriptionManager) Watch(destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.watched[destination] = struct{}{}
	return m.subscribeLocked(destination)
}

// Close drops every subscription and forgets all tracked state.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for destination := range m.registry {
		m.unsubscribeLocked(destination)
	}
	m.tracked = 0
	m.watched = make(map[string]struct{})
}

// Tracked returns the conversation the manager is attached to, or 0.
func (m *SubscriptionManager) Tracked() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracked
}

// Live returns the destinations with a live subscription, sorted.
func (m *SubscriptionManager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.registry))
	for destination := range m.registry {
		out = append(out, destination)
	}
	sort.Strings(out)
	return out
}

func (m *SubscriptionManager) handleConnectionChange(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	was := m.connected
	m.connected = connected

	if !connected {
		if was {
			// Handles do not survive the connection; drop them so the
			// reconnect subscribes exactly once.
			for destination := range m.registry {
				m.unsubscribeLocked(destination)
			}
		}
		return
	}
	if was {
		return
	}

	m.logger.Info("transport connected, restoring subscriptions",
		zap.Int64("conversation_id", m.tracked),
		zap.Int("watched", len(m.watched)),
	)
	if m.tracked != 0 {
		if err := m.subscribeLocked(transport.ConversationTopic(m.tracked)); err != nil {
			m.logger.Error("failed to restore conversation subscription", zap.Error(err))
		}
	}
	for destination := range m.watched {
		if err := m.subscribeLocked(destination); err != nil {
			m.logger.Error("failed to restore watched subscription",
				zap.String("destination", destination),
				zap.Error(err),
			)
		}
	}
}

// subscribeLocked subscribes unless disconnected or already live. It runs under
// m.mu so two racing activations cannot both miss the registry.
func (m *SubscriptionManager) subscribeLocked(destination string) error {
	if _, live := m.registry[destination]; live {
		return nil
	}
	if !m.transport.IsConnected() {
		m.logger.Debug("transport offline, subscription deferred", zap.String("destination", destination))
		return nil
	}

	sub, err := m.transport.Subscribe(destination, m.handler(destination))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", destination, err)
	}
	m.registry[destination] = sub
	metrics.SubscriptionsActive.Inc()

	m.logger.Debug("subscribed", zap.String("destination", destination))
	return nil
}

// unsubscribeLocked removes destination from the registry. Failures are
// logged and never block.
func (m *SubscriptionManager) unsubscribeLocked(destination string) {
	sub, ok := m.registry[destination]
	if !ok {
		return
	}
	delete(m.registry, destination)
	metrics.SubscriptionsActive.Dec()

	if err := sub.Unsubscribe(); err != nil {
		m.logger.Warn("failed to unsubscribe",
			zap.String("destination", destination),
			zap.Error(err),
		)
	}
}

func (m *SubscriptionManager) handler(destination string) transport.Handler {
	return func(payload []byte) {
		var msg model.TopicMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			m.logger.Warn("dropping undecodable payload",
				zap.String("destination", destination),
				zap.Error(err),
			)
			return
		}
		m.sink(msg)
	}
}
