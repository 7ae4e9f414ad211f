package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"riskengine/internal/app"
	"riskengine/internal/config"
	"riskengine/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rootOptions - общие флаги всех команд
type rootOptions struct {
	envFile  string
	logLevel string
	out      io.Writer
}

// NewRootCmd собирает дерево команд riskctl
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{out: out}

	root := &cobra.Command{
		Use:   "riskctl",
		Short: "Risk compliance engine for prop-trading accounts",
		Long: `riskctl evaluates trading accounts against their group's rule set
and records violations.

It provides tools for:
  - Running batch evaluations over the database or an offline dataset
  - Listing and removing recorded violations
  - Validating and publishing versioned rule sets
  - Dry-run checks of a single account
  - Serving the operator HTTP API`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "path to .env file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newRunCmd(opts),
		newViolationsCmd(opts),
		newRuleSetsCmd(opts),
		newCheckCmd(opts),
		newServeCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// Execute запускает riskctl с аргументами процесса
func Execute() error {
	return NewRootCmd(os.Stdout).Execute()
}

// loadConfig читает конфигурацию и поднимает глобальный логгер
func (o *rootOptions) loadConfig() (*config.Config, *utils.Logger, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, o.logger(cfg.Logging), nil
}

func (o *rootOptions) logger(lc config.LoggingConfig) *utils.Logger {
	level := lc.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	return utils.InitGlobalLogger(utils.LogConfig{Level: level, Format: lc.Format, Output: lc.Output})
}

// withApp подключается к базе и выполняет fn; SIGINT отменяет ctx
func (o *rootOptions) withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := o.loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// printJSON выводит значение с отступами
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
