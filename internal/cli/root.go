// Package cli implements the chatsync command-line client.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/legalforum/chatsync/internal/config"
	"github.com/legalforum/chatsync/internal/middleware"
	"github.com/legalforum/chatsync/internal/model"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	APIURL    string
	NATSURL   string
	NATSToken string
	Token     string
	LogLevel  string
	Format    string // "json" | "text"

	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the chatsync CLI.
func NewRootCommand() *cobra.Command {
	cfg := config.Load()
	opts := &RootOptions{cfg: cfg}

	cmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "Direct messages between forum users and lawyers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.APIURL, "api", cfg.APIURL, "relay base URL")
	cmd.PersistentFlags().StringVar(&opts.NATSURL, "nats", cfg.NATSURL, "NATS server URL")
	cmd.PersistentFlags().StringVar(&opts.NATSToken, "nats-token", cfg.NATSToken, "NATS auth token")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", cfg.APIToken, "access token (defaults to $CHATSYNC_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level written to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewStartCommand(opts))
	cmd.AddCommand(NewChatCommand(opts))

	return cmd
}

// identity reads the signed-in user from the access token. The relay verifies
// the signature; the client only needs the claims.
func (o *RootOptions) identity() (model.Participant, error) {
	if o.Token == "" {
		return model.Participant{}, errors.New("no access token: pass --token or set CHATSYNC_TOKEN")
	}
	return middleware.ParseUnverified(o.Token)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
