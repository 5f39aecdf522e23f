package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/legalforum/chatsync/internal/middleware"
)

// NewStartCommand creates the command that opens a conversation with another user.
func NewStartCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <participant-id>",
		Short: "Get or create the conversation with a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			participantID, err := strconv.ParseInt(args[0], 10, 64)
			if err == nil {
				err = middleware.ValidateParticipantID(participantID)
			}
			if err != nil {
				return fmt.Errorf("invalid participant id %q", args[0])
			}

			user, err := opts.identity()
			if err != nil {
				return err
			}

			c, err := connect(cmd.Context(), opts, user, nil)
			if err != nil {
				return err
			}
			defer c.close()

			conv, err := c.session.StartConversation(cmd.Context(), participantID)
			if err != nil {
				return err
			}
			return NewRenderer(cmd.OutOrStdout(), opts.Format, user.ID, nil).Conversation(conv)
		},
	}
}
