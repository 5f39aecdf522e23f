package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/legalforum/chatsync/internal/middleware"
	"github.com/legalforum/chatsync/internal/model"
)

const quitCommand = "/quit"

// NewChatCommand creates the interactive conversation command.
func NewChatCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Open a conversation, print new messages and send lines read from stdin",
		Long: "Open a conversation, print its history and every message that arrives.\n" +
			"Each line typed is sent as a message; " + quitCommand + " or end of input leaves.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, err := middleware.ParseConversationID(args[0])
			if err != nil {
				return err
			}

			user, err := opts.identity()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p := newPrinter(NewRenderer(cmd.OutOrStdout(), opts.Format, user.ID, nil), conversationID)

			c, err := connect(ctx, opts, user, p.onChange)
			if err != nil {
				return err
			}
			defer c.close()

			p.attach(c.session)
			if err := c.session.Open(ctx, conversationID); err != nil {
				return err
			}

			return chatLoop(ctx, c.session, conversationID, cmd.InOrStdin(), cmd.ErrOrStderr())
		},
	}
}

type messageSource interface {
	Messages(conversationID int64) []model.Message
}

// printer writes each message of one conversation once, in list order.
// An optimistic message and its confirmed copy share a client id and print once.
type printer struct {
	mu             sync.Mutex
	r              *Renderer
	conversationID int64
	source         messageSource
	seen           map[string]bool
}

func newPrinter(r *Renderer, conversationID int64) *printer {
	return &printer{r: r, conversationID: conversationID, seen: make(map[string]bool)}
}

func (p *printer) attach(source messageSource) {
	p.mu.Lock()
	p.source = source
	p.mu.Unlock()
}

func (p *printer) onChange(conversationID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source == nil || conversationID != p.conversationID {
		return
	}
	for _, m := range p.source.Messages(conversationID) {
		if p.printed(m) {
			continue
		}
		if m.ClientID != "" {
			p.seen["client:"+m.ClientID] = true
		}
		if m.ID > 0 {
			p.seen["id:"+strconv.FormatInt(m.ID, 10)] = true
		}
		_ = p.r.Message(m)
	}
}

func (p *printer) printed(m model.Message) bool {
	if m.ClientID != "" && p.seen["client:"+m.ClientID] {
		return true
	}
	return m.ID > 0 && p.seen["id:"+strconv.FormatInt(m.ID, 10)]
}

type sender interface {
	Send(ctx context.Context, conversationID int64, content string) (*model.Message, error)
}

// chatLoop sends every non-blank line of in until /quit, end of input or ctx is done.
// Send errors are reported on errOut and do not end the loop.
func chatLoop(ctx context.Context, s sender, conversationID int64, in io.Reader, errOut io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if trimmed == quitCommand {
				return nil
			}
			if _, err := s.Send(ctx, conversationID, line); err != nil {
				fmt.Fprintf(errOut, "error: %v\n", err)
			}
		}
	}
}
