// Command dq profiles warehouse tables, scores their quality and runs the
// configured validation rules.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dq/internal/config"

	// every backend is linked in; the config picks one.
	_ "dq/internal/storage/all"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitCritical = 2
)

// exitCodeError carries a non-default exit code out of a command.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// globalOptions are the persistent flags.
type globalOptions struct {
	configPath     string
	verbose        bool
	metricsBackend string
}

// runMain executes the CLI and maps the outcome to an exit code.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)

	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return exitError
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "dq",
		Short: "Data profiling and quality scoring for warehouse tables",
		Long: `dq profiles every column of the configured tables, keeps the profiles in a
result store, scores table quality from the latest profile and runs the
configured validation rules. Every step is recorded in the pipeline log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "dq.yaml", "config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().StringVar(&opts.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway, datadog (overrides config and METRICS_BACKEND)")

	root.AddCommand(
		newInitCmd(opts),
		newValidateCmd(opts),
		newPrereqsCmd(opts),
		newProfileCmd(opts),
		newScoreCmd(opts),
		newCheckCmd(opts),
		newSummaryCmd(opts),
		newCompactCmd(opts),
		newReportCmd(opts),
	)
	return root
}

// loadConfig reads and validates the config file, printing every issue.
// Errors abort; warnings are printed only with -v.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		if iss.Severity == config.SeverityError || opts.verbose {
			fmt.Fprintln(cmd.ErrOrStderr(), iss)
		}
	}
	if config.HasErrors(issues) {
		return config.Config{}, fmt.Errorf("configuration is invalid: %s", opts.configPath)
	}
	return cfg, nil
}

// withApp loads the config, sets up logging and metrics, opens the app and
// runs fn. Metrics are flushed after fn returns.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logCfg := cfg.Pipeline.Logging
	if opts.verbose {
		logCfg.Level = "DEBUG"
	}
	logger, closeLog := config.SetupLogger(logCfg)
	defer func() { _ = closeLog() }()

	ctx := cmd.Context()

	backend := opts.metricsBackend
	if backend == "" {
		backend = cfg.Metrics.Backend
	}
	cleanup, err := initMetrics(ctx, cfg.Pipeline.Name, backend, cfg.Metrics)
	if err != nil {
		logger.Warn("metrics disabled", "err", err)
	}
	defer cleanup()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Debug("dq starting", "command", cmd.Name(),
		"warehouse", cfg.Warehouse.Kind, "store", cfg.Store.Kind, "shared", cfg.SharedDatabase())
	return fn(ctx, a)
}
