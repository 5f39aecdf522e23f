package cli

import (
	"context"
	"fmt"

	"github.com/legalforum/chatsync/internal/api"
	"github.com/legalforum/chatsync/internal/chat"
	"github.com/legalforum/chatsync/internal/model"
	natsclient "github.com/legalforum/chatsync/internal/nats"
	"github.com/legalforum/chatsync/pkg/logger"
)

// client is a started chat session and the connections behind it.
type client struct {
	user    model.Participant
	session *chat.Session
	nats    *natsclient.Client
	log     *logger.Logger
}

// connect dials the transport and starts a session for user. onChange may be nil.
func connect(ctx context.Context, opts *RootOptions, user model.Participant, onChange func(int64)) (*client, error) {
	log, err := logger.NewStderr(opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	nc, err := natsclient.Connect(ctx, natsclient.Config{
		URL:                  opts.NATSURL,
		Name:                 fmt.Sprintf("chatsync-%d", user.ID),
		Token:                opts.NATSToken,
		RetryOnFailedConnect: true,
	}, log)
	if err != nil {
		return nil, err
	}

	session := chat.NewSession(chat.SessionConfig{
		LocalUser:               user,
		MatchWindow:             opts.cfg.MatchWindow,
		PresenceMinInterval:     opts.cfg.PresenceMinInterval,
		PresenceRefreshInterval: opts.cfg.PresenceRefreshInterval,
		HeartbeatInterval:       opts.cfg.HeartbeatInterval,
		OnChange:                onChange,
	}, api.New(opts.APIURL, opts.Token), nc, log)

	if err := session.Start(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	return &client{user: user, session: session, nats: nc, log: log}, nil
}

func (c *client) close() {
	c.session.Stop()
	c.nats.Close()
	_ = c.log.Sync()
}
