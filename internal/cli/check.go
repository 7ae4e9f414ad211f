package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"riskengine/internal/app"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		accountID int64
		asOf      string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate one account without recording violations",
		Long: `Check reconstructs the account's equity and runs the active rule set of
its group. Nothing is written: the output shows what a batch run would record.

Example:
  riskctl check --account 42 --as-of 2024-03-05T20:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				res, err := a.Check.CheckAccount(ctx, accountID, at)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(opts.out, res)
				}
				fmt.Fprintf(opts.out, "Account %d (%s, %s) as of %s\n", res.AccountID, res.Group, res.RuleSet, res.AsOf.Format("2006-01-02 15:04:05 MST"))
				fmt.Fprintf(opts.out, "  equity %s, peak %s, initial %s\n", res.CurrentEquity.StringFixed(2), res.PeakEquity.StringFixed(2), res.InitialBalance.StringFixed(2))
				if res.TradingDay != "" {
					fmt.Fprintf(opts.out, "  day %s: start %s, realized %s\n", res.TradingDay, res.DayStartEquity.StringFixed(2), res.DayRealized.StringFixed(2))
				}
				fmt.Fprintf(opts.out, "  %d closed trades, %d violation(s)\n\n", res.ClosedTrades, len(res.Violations))
				return writeViolations(opts.out, res.Violations)
			})
		},
	}
	cmd.Flags().Int64VarP(&accountID, "account", "a", 0, "account id (required)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluation time, RFC3339 (default now)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.MarkFlagRequired("account")
	return cmd
}
