package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ringline/internal/core/domain"
	"ringline/internal/core/services"
	"ringline/pkg/validation"
)

func tokenCmd() *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token [identity]",
		Short: "Issue an attach token for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateIdentityID(args[0]); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl)
			token, err := auth.GenerateToken(domain.IdentityID(args[0]), name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}
