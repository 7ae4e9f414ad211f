package cli

import (
	"context"

	"github.com/spf13/cobra"

	"riskengine/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator HTTP API and WebSocket stream",
		Long: `Serve starts the HTTP API on SERVER_HOST:SERVER_PORT. With SCHEDULE_ENABLED
it also starts a batch run every SCHEDULE_INTERVAL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}
