package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xaenox/memo-organizer/internal/access"
)

func newTokenCommand(a *app) *cobra.Command {
	var (
		owner string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token acting as an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				ttl = a.cfg.Access.TokenTTL
			}
			token, expiresAt, err := access.GenerateToken(owner, a.cfg.Access.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id the token acts as")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime; defaults to access.token_ttl")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
