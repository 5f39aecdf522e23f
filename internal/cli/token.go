package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/legalforum/chatsync/internal/middleware"
	"github.com/legalforum/chatsync/internal/model"
)

// NewTokenCommand creates the command that issues development access tokens.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		p      model.Participant
		role   string
		secret string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token signed with the relay secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if p.ID <= 0 {
				return fmt.Errorf("--id must be positive")
			}
			switch model.Role(role) {
			case model.RoleUser, model.RoleLawyer:
				p.Role = model.Role(role)
			default:
				return fmt.Errorf("invalid role %q: must be %q or %q", role, model.RoleUser, model.RoleLawyer)
			}

			token, err := middleware.IssueToken(secret, p, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().Int64Var(&p.ID, "id", 0, "user id")
	cmd.Flags().StringVar(&p.Name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(model.RoleUser), "role (user|lawyer)")
	cmd.Flags().StringVar(&secret, "secret", opts.cfg.JWTSecret, "signing secret (defaults to $JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", opts.cfg.JWTExpiration, "token lifetime")

	return cmd
}
