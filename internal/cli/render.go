package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/legalforum/chatsync/internal/model"
)

const previewLength = 40

// Renderer writes conversations and messages in the selected output format.
type Renderer struct {
	w         io.Writer
	format    string
	localUser int64
	loc       *time.Location
}

// NewRenderer creates a renderer. Timestamps are shown in loc.
func NewRenderer(w io.Writer, format string, localUser int64, loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{w: w, format: format, localUser: localUser, loc: loc}
}

// Conversations writes the conversation list.
func (r *Renderer) Conversations(convs []*model.Conversation) error {
	if r.format == "json" {
		if convs == nil {
			convs = []*model.Conversation{}
		}
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return enc.Encode(convs)
	}

	if len(convs) == 0 {
		_, err := fmt.Fprintln(r.w, "No conversations.")
		return err
	}

	if _, err := fmt.Fprintf(r.w, "%-6s %-16s %-7s %-7s %6s  %s\n",
		"ID", "PARTICIPANT", "ROLE", "ONLINE", "UNREAD", "LAST MESSAGE"); err != nil {
		return err
	}
	for _, c := range convs {
		if _, err := fmt.Fprintf(r.w, "%-6d %-16s %-7s %-7s %6d  %s\n",
			c.ID, c.Participant.Name, c.Participant.Role, yesNo(c.Participant.Online), c.UnreadCount, r.preview(c.LastMessage)); err != nil {
			return err
		}
	}
	return nil
}

// Conversation writes a one-line description of a conversation.
func (r *Renderer) Conversation(c *model.Conversation) error {
	if r.format == "json" {
		return json.NewEncoder(r.w).Encode(c)
	}
	_, err := fmt.Fprintf(r.w, "Conversation %d with %s (%s)\n", c.ID, c.Participant.Name, c.Participant.Role)
	return err
}

// Message writes a single message. In JSON mode each message is one line.
func (r *Renderer) Message(m model.Message) error {
	if r.format == "json" {
		return json.NewEncoder(r.w).Encode(m)
	}

	who := m.SenderName
	if m.SenderID == r.localUser {
		who = "You"
	}

	var status string
	switch {
	case m.Failed:
		status = " (failed)"
	case m.ID < 0:
		status = " (sending)"
	case m.SenderID == r.localUser && m.IsRead:
		status = " (seen)"
	}

	content := strings.ReplaceAll(m.Content, "\n", "\n  ")
	_, err := fmt.Fprintf(r.w, "[%s] %s: %s%s\n", m.CreatedAt.In(r.loc).Format("15:04"), who, content, status)
	return err
}

func (r *Renderer) preview(last *model.MessageSummary) string {
	if last == nil {
		return "-"
	}

	text := strings.Join(strings.Fields(last.Content), " ")
	if runes := []rune(text); len(runes) > previewLength {
		text = string(runes[:previewLength-1]) + "…"
	}
	if last.SenderID == r.localUser {
		text = "You: " + text
	}
	return text
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
