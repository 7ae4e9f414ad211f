package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"riskengine/internal/api/middleware"
	"riskengine/internal/config"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		operator string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator API token",
		Long: `Token signs a bearer token with JWT_SECRET. The operator id becomes the
token subject and is recorded in the audit of every removal made with it.

Example:
  riskctl token --operator alice --ttl 8h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if ttl == 0 {
				ttl = cfg.Security.TokenTTL
			}
			if operator == "" {
				operator = os.Getenv("USER")
			}
			token, err := middleware.IssueToken(cfg.Security.JWTSecret, operator, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.out, token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&operator, "operator", "o", "", "operator id (default $USER)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default TOKEN_TTL)")
	return cmd
}
