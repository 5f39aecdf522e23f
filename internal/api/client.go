// Package api is the HTTP client for the relay REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/pkg/tracing"
)

// DefaultTimeout bounds every request made without a custom HTTP client.
const DefaultTimeout = 15 * time.Second

// Error is a non-2xx response from the relay.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client calls the relay on behalf of the user identified by the bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the relay at baseURL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetConversations lists the caller's conversations. userID must match the token.
func (c *Client) GetConversations(ctx context.Context, userID int64) (convs []model.Conversation, err error) {
	ctx, span := tracing.Start(ctx, "api.GetConversations", attribute.Int64("user.id", userID))
	defer func() { tracing.End(span, err) }()

	err = c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, &convs)
	return convs, err
}

// GetOrCreateConversation returns the conversation with participantID.
func (c *Client) GetOrCreateConversation(ctx context.Context, participantID int64) (conv *model.Conversation, err error) {
	ctx, span := tracing.Start(ctx, "api.GetOrCreateConversation", attribute.Int64("participant.id", participantID))
	defer func() { tracing.End(span, err) }()

	conv = &model.Conversation{}
	if err = c.do(ctx, http.MethodPost, "/api/v1/conversations", model.CreateConversationRequest{ParticipantID: participantID}, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetMessages returns the full history of a conversation.
func (c *Client) GetMessages(ctx context.Context, conversationID int64) (msgs []model.Message, err error) {
	ctx, span := tracing.Start(ctx, "api.GetMessages", attribute.Int64("conversation.id", conversationID))
	defer func() { tracing.End(span, err) }()

	err = c.do(ctx, http.MethodGet, conversationPath(conversationID, "/messages"), nil, &msgs)
	return msgs, err
}

// SendMessage persists a message. The relay takes the sender from the token;
// senderID is only recorded on the span.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string, senderID int64, clientID string) (msg *model.Message, err error) {
	ctx, span := tracing.Start(ctx, "api.SendMessage",
		attribute.Int64("conversation.id", conversationID),
		attribute.Int64("user.id", senderID),
	)
	defer func() { tracing.End(span, err) }()

	msg = &model.Message{}
	req := model.SendMessageRequest{Content: content, ClientID: clientID}
	if err = c.do(ctx, http.MethodPost, conversationPath(conversationID, "/messages"), req, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead marks the conversation read for the caller.
func (c *Client) MarkRead(ctx context.Context, conversationID, userID int64) (err error) {
	ctx, span := tracing.Start(ctx, "api.MarkRead",
		attribute.Int64("conversation.id", conversationID),
		attribute.Int64("user.id", userID),
	)
	defer func() { tracing.End(span, err) }()

	return c.do(ctx, http.MethodPost, conversationPath(conversationID, "/read"), nil, nil)
}

// GetOnlineUsers returns the full presence listing.
func (c *Client) GetOnlineUsers(ctx context.Context) (users *model.OnlineUsers, err error) {
	ctx, span := tracing.Start(ctx, "api.GetOnlineUsers")
	defer func() { tracing.End(span, err) }()

	users = &model.OnlineUsers{}
	if err = c.do(ctx, http.MethodGet, "/api/v1/presence/online", nil, users); err != nil {
		return nil, err
	}
	return users, nil
}

func conversationPath(id int64, suffix string) string {
	return "/api/v1/conversations/" + strconv.FormatInt(id, 10) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
