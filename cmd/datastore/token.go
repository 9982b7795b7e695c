package main

import (
	"fmt"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/tokens"
	"github.com/spf13/cobra"
)

func newTokenCommand(rootOpts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Print a bearer token for the collection API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.cfg
			if ttl <= 0 {
				ttl = cfg.JWT.AccessTokenTTL
			}
			raw, err := tokens.Issue(cfg.JWT.Secret, args[0], ttl, time.Now())
			if err != nil {
				return fmt.Errorf("issue token (is JWT_SECRET set?): %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_ACCESS_TOKEN_TTL)")
	return cmd
}
