package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"riskengine/internal/app"
	"riskengine/internal/models"
	"riskengine/internal/registry"
)

// RuleSetFile - YAML файл с наборами правил групп
//
//	rule_sets:
//	  - group: lite
//	    max_drawdown_percent: 10
//	    ...
type RuleSetFile struct {
	RuleSets []models.RuleSetConfig `yaml:"rule_sets"`
}

// LoadRuleSetFile читает и валидирует наборы правил из YAML
//
// Незаданные параметры эвристик получают значения по умолчанию.
// Группа может встречаться в файле только один раз.
func LoadRuleSetFile(path string) ([]models.RuleSetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule sets: %w", err)
	}

	var f RuleSetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.RuleSets) == 0 {
		return nil, fmt.Errorf("%s: no rule_sets defined", path)
	}

	seen := make(map[string]bool, len(f.RuleSets))
	var errs []error
	for i := range f.RuleSets {
		cfg := &f.RuleSets[i]
		cfg.ApplyDefaults()
		if seen[cfg.Group] {
			errs = append(errs, fmt.Errorf("rule_sets[%d]: duplicate group %q", i, cfg.Group))
			continue
		}
		seen[cfg.Group] = true
		if err := registry.Validate(cfg); err != nil {
			errs = append(errs, fmt.Errorf("rule_sets[%d] (%s): %w", i, cfg.Group, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.RuleSets, nil
}

// WriteRuleSetFile сохраняет наборы правил в YAML
func WriteRuleSetFile(path string, sets []models.RuleSetConfig) error {
	data, err := yaml.Marshal(RuleSetFile{RuleSets: sets})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func newRuleSetsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rulesets",
		Short: "Validate, publish and inspect rule sets",
		Long: `Manage versioned rule sets of account groups.

Subcommands:
  init     - Write default rule sets for the given groups
  validate - Validate a rule set file
  publish  - Publish every rule set of a file as a new version
  list     - Show active rule sets or all versions of a group

Examples:
  riskctl rulesets init -o configs/rulesets.yaml --group lite --group prime
  riskctl rulesets validate -f configs/rulesets.yaml
  riskctl rulesets publish -f configs/rulesets.yaml`,
	}

	cmd.AddCommand(
		newRuleSetsInitCmd(opts),
		newRuleSetsValidateCmd(opts),
		newRuleSetsPublishCmd(opts),
		newRuleSetsListCmd(opts),
	)
	return cmd
}

func newRuleSetsInitCmd(opts *rootOptions) *cobra.Command {
	var (
		output string
		groups []string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write default rule sets to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			sets := make([]models.RuleSetConfig, 0, len(groups))
			for _, g := range groups {
				sets = append(sets, models.DefaultRuleSet(g))
			}
			if err := WriteRuleSetFile(output, sets); err != nil {
				return fmt.Errorf("write rule sets: %w", err)
			}
			fmt.Fprintf(opts.out, "Created %s with %d rule set(s)\n", output, len(sets))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "rulesets.yaml", "output file")
	cmd.Flags().StringSliceVar(&groups, "group", []string{"lite", "prime"}, "account groups")
	return cmd
}

func newRuleSetsValidateCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rule set file",
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := LoadRuleSetFile(file)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Fprintf(opts.out, "Rule sets valid: %s\n", file)
			for _, s := range sets {
				fmt.Fprintf(opts.out, "  %s: drawdown %.2f%%, daily loss %.2f%%, rollover %s %02d:00\n",
					s.Group, s.MaxDrawdownPercent, s.MaxDailyLossPercent, s.DailyRolloverTimezone, s.DailyRolloverHour)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule set YAML file (required)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newRuleSetsPublishCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish rule sets from a file as new versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := LoadRuleSetFile(file)
			if err != nil {
				return err
			}
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				for i := range sets {
					published, err := a.RuleSets.Publish(ctx, &sets[i])
					if err != nil {
						return fmt.Errorf("publish %s: %w", sets[i].Group, err)
					}
					fmt.Fprintf(opts.out, "Published %s\n", published.Ref())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule set YAML file (required)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newRuleSetsListCmd(opts *rootOptions) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active rule sets, or all versions of one group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				sets, err := a.RuleSets.List(ctx, group)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(opts.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "GROUP\tVERSION\tACTIVE\tDRAWDOWN\tDAILY LOSS\tCREATED")
				for _, s := range sets {
					fmt.Fprintf(tw, "%s\t%d\t%v\t%.2f%%\t%.2f%%\t%s\n",
						s.Group, s.Version, s.Active, s.MaxDrawdownPercent, s.MaxDailyLossPercent,
						s.CreatedAt.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "show all versions of the group")
	return cmd
}
