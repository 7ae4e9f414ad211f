package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"riskengine/internal/app"
	"riskengine/internal/batch"
	"riskengine/internal/config"
	"riskengine/internal/models"
	"riskengine/internal/report"
)

type runOptions struct {
	group       string
	status      string
	accounts    []int64
	fresh       bool
	concurrency int
	asOf        string
	input       string
	rules       string
	jsonOut     bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch evaluation",
		Long: `Run evaluates every account matched by the selector and records violations.

An unfinished run of the same selector is resumed unless --fresh is given.
Ctrl-C stops dispatch, waits for in-flight accounts and saves the checkpoint.

With --input the run is offline: accounts and trades are read from a JSON
dataset, rule sets from --rules (or group defaults), nothing is persisted.

Examples:
  riskctl run --group lite
  riskctl run --accounts 101,102 --fresh
  riskctl run --input accounts.json --rules configs/rulesets.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := models.Selector{Group: ro.group, Status: ro.status, AccountIDs: ro.accounts}
			asOf, err := parseAsOf(ro.asOf)
			if err != nil {
				return err
			}
			if ro.input != "" {
				return runOffline(opts, ro, sel)
			}
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				summary, err := a.Processor.Run(ctx, sel, batch.Options{
					Concurrency: ro.concurrency,
					Fresh:       ro.fresh,
					AsOf:        asOf,
					OnStart: func(runID string, resumed bool) {
						fmt.Fprintf(opts.out, "Run %s started (resumed=%v)\n", runID, resumed)
					},
					OnProgress: progressPrinter(opts.out),
				})
				if summary != nil {
					if perr := writeSummary(opts.out, summary, ro.jsonOut); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&ro.group, "group", "g", "", "account group (empty = all groups)")
	f.StringVar(&ro.status, "status", models.AccountStatusActive, "account status")
	f.Int64SliceVar(&ro.accounts, "accounts", nil, "explicit account ids")
	f.BoolVar(&ro.fresh, "fresh", false, "do not resume an unfinished run")
	f.IntVarP(&ro.concurrency, "concurrency", "c", 0, "worker count (0 = BATCH_CONCURRENCY)")
	f.StringVar(&ro.asOf, "as-of", "", "evaluation time, RFC3339 (default now)")
	f.StringVarP(&ro.input, "input", "i", "", "offline JSON dataset")
	f.StringVarP(&ro.rules, "rules", "r", "", "rule set YAML for offline runs")
	f.BoolVar(&ro.jsonOut, "json", false, "print the summary as JSON")
	return cmd
}

func runOffline(opts *rootOptions, ro *runOptions, sel models.Selector) error {
	log := opts.logger(config.LoggingConfig{Level: "warn", Format: "text"})
	defer log.Sync()

	src, groups, err := LoadDataset(ro.input)
	if err != nil {
		return err
	}
	var sets []models.RuleSetConfig
	if ro.rules != "" {
		if sets, err = LoadRuleSetFile(ro.rules); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := batch.DefaultConfig()
	if ro.concurrency > 0 {
		cfg.Concurrency = ro.concurrency
	}
	res, err := OfflineRun(ctx, src, groups, sets, sel, cfg, log)
	if err != nil {
		return err
	}

	if err := writeSummary(opts.out, res.Summary, ro.jsonOut); err != nil {
		return err
	}
	if ro.jsonOut {
		return printJSON(opts.out, res.Violations)
	}
	fmt.Fprintln(opts.out)
	return writeViolations(opts.out, res.Violations)
}

func parseAsOf(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--as-of must be RFC3339: %w", err)
	}
	return t, nil
}

// progressPrinter печатает ход прогона не чаще раза в секунду
func progressPrinter(w io.Writer) func(batch.Progress) {
	var last time.Time
	return func(p batch.Progress) {
		if time.Since(last) < time.Second && p.Processed < p.Total {
			return
		}
		last = time.Now()
		fmt.Fprintf(w, "  %d/%d accounts, breaker %s\n", p.Processed, p.Total, p.Breaker)
	}
}

func writeSummary(w io.Writer, s *report.Summary, asJSON bool) error {
	if asJSON {
		return printJSON(w, s)
	}
	return s.WriteText(w)
}

func writeViolations(w io.Writer, vs []models.Violation) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tREF\tRULE\tSEVERITY\tDESCRIPTION")
	for _, v := range vs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", v.AccountID, v.Ref, v.Rule, v.Severity, v.Description)
	}
	return tw.Flush()
}

