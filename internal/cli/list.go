package cli

import (
	"github.com/spf13/cobra"
)

// NewListCommand creates the command that prints the conversation list.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations with unread counts and presence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := opts.identity()
			if err != nil {
				return err
			}

			c, err := connect(cmd.Context(), opts, user, nil)
			if err != nil {
				return err
			}
			defer c.close()

			return NewRenderer(cmd.OutOrStdout(), opts.Format, user.ID, nil).Conversations(c.session.Conversations())
		},
	}
}
