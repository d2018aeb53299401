package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"backend-runhub/internal/auth"
	"backend-runhub/internal/config"

	"github.com/spf13/cobra"
)

type TokenOptions struct {
	User string
	TTL  time.Duration
}

// NewTokenCommand mints a bearer token signed with JWT_SECRET, for poking
// at a local API.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{}

	cmd := &cobra.Command{
		Use:          "token",
		Short:        "Mint a development bearer token",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			token, err := auth.NewSigner(cfg.JWTSecret).Sign(opts.User, opts.TTL)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"access_token": token,
					"token_type":   "Bearer",
				})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user id to embed")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
