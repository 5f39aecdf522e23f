// Package transporttest provides an in-memory transport for tests.
//
// Delivery is synchronous: Send and Publish invoke subscriber handlers on the
// calling goroutine, which keeps interleavings deterministic.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/legalforum/chatsync/internal/transport"
)

// ErrNotConnected is returned by Send and Subscribe while disconnected.
var ErrNotConnected = errors.New("transport not connected")

// Sent is a payload recorded by Client.Send.
type Sent struct {
	Destination string
	Payload     []byte
}

// Broker routes payloads between the clients attached to it.
type Broker struct {
	mu      sync.Mutex
	clients []*Client
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{}
}

// NewClient attaches a new client to the broker.
func (b *Broker) NewClient(connected bool) *Client {
	c := &Client{
		broker:    b,
		connected: connected,
		subs:      make(map[*subscription]struct{}),
	}
	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	return c
}

// Publish delivers payload to every connected subscriber of destination.
func (b *Broker) Publish(destination string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	clients := append([]*Client(nil), b.clients...)
	b.mu.Unlock()

	for _, c := range clients {
		c.deliver(destination, data)
	}
	return nil
}

// Client is an in-memory transport.Client.
type Client struct {
	broker *Broker

	mu             sync.Mutex
	connected      bool
	listeners      []func(bool)
	subs           map[*subscription]struct{}
	subscribeCalls map[string]int
	sent           []Sent

	// SubscribeErr, when set, fails every Subscribe call.
	SubscribeErr error
	// UnsubscribeErr, when set, fails every Unsubscribe call after removing the subscription.
	UnsubscribeErr error
}

var _ transport.Client = (*Client)(nil)

// IsConnected implements transport.Client.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe implements transport.Client.
func (c *Client) Subscribe(destination string, handler transport.Handler) (transport.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	if !c.connected {
		return nil, ErrNotConnected
	}

	sub := &subscription{client: c, destination: destination, handler: handler}
	c.subs[sub] = struct{}{}
	if c.subscribeCalls == nil {
		c.subscribeCalls = make(map[string]int)
	}
	c.subscribeCalls[destination]++
	return sub, nil
}

// Send implements transport.Client. The payload is routed through the broker.
func (c *Client) Send(ctx context.Context, destination string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.sent = append(c.sent, Sent{Destination: destination, Payload: data})
	c.mu.Unlock()

	if c.broker != nil {
		return c.broker.Publish(destination, json.RawMessage(data))
	}
	return nil
}

// OnConnectionChange implements transport.Client.
func (c *Client) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// SetConnected changes the connection state and notifies listeners on a transition.
func (c *Client) SetConnected(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(connected)
	}
}

// Deliver delivers payload to this client's subscribers of destination only.
func (c *Client) Deliver(destination string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	c.deliver(destination, data)
	return nil
}

// LiveSubscriptions returns the number of live subscriptions to destination.
func (c *Client) LiveSubscriptions(destination string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for sub := range c.subs {
		if sub.destination == destination {
			n++
		}
	}
	return n
}

// SubscribeCalls returns how many times destination was subscribed to.
func (c *Client) SubscribeCalls(destination string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeCalls[destination]
}

// Sent returns the payloads sent through this client.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Client) deliver(destination string, data []byte) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	var handlers []transport.Handler
	for sub := range c.subs {
		if sub.destination == destination {
			handlers = append(handlers, sub.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

type subscription struct {
	client      *Client
	destination string
	handler     transport.Handler
}

func (s *subscription) Destination() string {
	return s.destination
}

func (s *subscription) Unsubscribe() error {
	s.client.mu.Lock()
	delete(s.client.subs, s)
	err := s.client.UnsubscribeErr
	s.client.mu.Unlock()
	return err
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
