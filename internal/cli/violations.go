package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"riskengine/internal/app"
	"riskengine/internal/service"
)

func newViolationsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "violations",
		Short: "List and remove recorded violations",
		Long: `Inspect recorded violations and remove false positives.

A removal is audited with the operator and reason and is irreversible:
the same evidence is never recorded again for that key.

Examples:
  riskctl violations list --account 42
  riskctl violations remove --account 42 --ref ticket:1001 --rule lot_size --reason "split fill"
  riskctl violations removals --account 42`,
	}
	cmd.AddCommand(
		newViolationsListCmd(opts),
		newViolationsRemoveCmd(opts),
		newViolationsRemovalsCmd(opts),
	)
	return cmd
}

func newViolationsListCmd(opts *rootOptions) *cobra.Command {
	q := &service.ViolationQuery{}
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List violations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				vs, err := a.Violations.List(ctx, q)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(opts.out, vs)
				}
				return writeViolations(opts.out, vs)
			})
		},
	}
	f := cmd.Flags()
	f.Int64VarP(&q.AccountID, "account", "a", 0, "account id")
	f.StringVar(&q.Rule, "rule", "", "rule type")
	f.StringVar(&q.Severity, "severity", "", "warning, critical or breach")
	f.StringVar(&q.RunID, "run", "", "run id")
	f.IntVarP(&q.Limit, "limit", "n", service.DefaultViolationLimit, "page size")
	f.IntVar(&q.Offset, "offset", 0, "page offset")
	f.BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newViolationsRemoveCmd(opts *rootOptions) *cobra.Command {
	var req service.RemoveViolationRequest
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a violation as a false positive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Operator == "" {
				req.Operator = os.Getenv("USER")
			}
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				r, err := a.Violations.Remove(ctx, &req)
				if err != nil {
					return err
				}
				fmt.Fprintf(opts.out, "Removed %d/%s/%s (audit %s by %s)\n", r.AccountID, r.Ref, r.Rule, r.ID, r.Operator)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.Int64VarP(&req.AccountID, "account", "a", 0, "account id (required)")
	f.StringVar(&req.Ref, "ref", "", "violation ref, e.g. ticket:1001 or day:2024-03-05 (required)")
	f.StringVar(&req.Rule, "rule", "", "rule type (required)")
	f.StringVar(&req.Reason, "reason", "", "removal reason (required)")
	f.StringVar(&req.Operator, "operator", "", "operator id (default $USER)")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("ref")
	cmd.MarkFlagRequired("rule")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func newViolationsRemovalsCmd(opts *rootOptions) *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "removals",
		Short: "Show the removal audit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				rs, err := a.Violations.ListRemovals(ctx, accountID)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(opts.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "REMOVED\tACCOUNT\tREF\tRULE\tOPERATOR\tREASON")
				for _, r := range rs {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
						r.RemovedAt.Format("2006-01-02 15:04"), r.AccountID, r.Ref, r.Rule, r.Operator, r.Reason)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().Int64VarP(&accountID, "account", "a", 0, "account id (0 = all)")
	return cmd
}
