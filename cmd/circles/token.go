package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/wishp/circles/internal/auth"
	"github.com/wishp/circles/internal/config"
)

// newTokenCmd issues a signed token for local testing against a running
// server.
func newTokenCmd() *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <uid>",
		Short: "Print a signed access token for uid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL()
			}
			uid := args[0]
			if uid == "" {
				return errors.New("uid must not be empty")
			}
			if name == "" {
				name = uid
			}
			tok, exp, err := auth.NewJWTManager(cfg.Auth.JWTSecret, ttl).GenerateToken(uid, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name claim (defaults to uid)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl_hours)")
	return cmd
}
