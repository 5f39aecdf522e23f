// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ReconcileTotal tracks authoritative messages by reconciliation outcome.
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_reconcile_total",
			Help: "Authoritative messages received, by reconciliation outcome",
		},
		[]string{"outcome"},
	)

	// OptimisticMessagesTotal tracks locally inserted optimistic messages.
	OptimisticMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_optimistic_messages_total",
			Help: "Optimistic messages inserted",
		},
	)

	// SendFailuresTotal tracks failed message sends by stage.
	SendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_send_failures_total",
			Help: "Failed message sends",
		},
		[]string{"stage"},
	)

	// SubscriptionsActive tracks live topic subscriptions.
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_subscriptions_active",
			Help: "Number of live topic subscriptions",
		},
	)

	// PresencePollsTotal tracks presence polls by result.
	PresencePollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_presence_polls_total",
			Help: "Presence polls by result",
		},
		[]string{"result"},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSStreamBytes tracks bytes in NATS stream.
	NATSStreamBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_bytes",
			Help: "Bytes in NATS stream",
		},
		[]string{"stream"},
	)

	// ConversationsTotal tracks conversations created by the relay.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks messages persisted by the relay.
	MessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total messages persisted",
		},
	)

	// BroadcastsTotal tracks relay broadcasts by destination kind.
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Messages broadcast to subscribers",
		},
		[]string{"kind", "status"},
	)

	// FanoutHintsTotal tracks private chat fan-out hints seen by the relay.
	FanoutHintsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_fanout_hints_total",
			Help: "Private chat fan-out hints received",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordReconcile records the outcome of one authoritative message.
func RecordReconcile(outcome string) {
	ReconcileTotal.WithLabelValues(outcome).Inc()
}

// RecordPresencePoll records the result of a presence poll.
func RecordPresencePoll(result string) {
	PresencePollsTotal.WithLabelValues(result).Inc()
}

// RecordStream records the size of a JetStream stream.
func RecordStream(stream string, msgs, bytes uint64) {
	NATSStreamMessages.WithLabelValues(stream).Set(float64(msgs))
	NATSStreamBytes.WithLabelValues(stream).Set(float64(bytes))
}
