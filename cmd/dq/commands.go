package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dq/internal/config"
	"dq/internal/orchestrator"
	"dq/internal/report"
	"dq/internal/storage"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInitCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Write(opts.configPath, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	}
}

func newValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		Long:  "Validate the config file. With -v, also print warnings and a config summary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration is valid: %s\n", opts.configPath)
			if opts.verbose {
				return writeJSON(out, cfg.Summary())
			}
			return nil
		},
	}
}

func newPrereqsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prereqs",
		Short: "Check that the configured prerequisite tables and schemas exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res := a.orch.ValidatePrerequisites(ctx, a.cfg.PrerequisiteTables(), a.cfg.Prerequisites.Schemas)
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.OK {
					return fmt.Errorf("prerequisites missing")
				}
				return nil
			})
		},
	}
}

func newProfileCmd(opts *globalOptions) *cobra.Command {
	var (
		scopes []string
		tables []string
	)
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Profile every column of the configured scopes and tables",
		Long: `Profile every column of the configured scopes and tables and append the
results to the profile store. --scope and --table replace the configured lists.
A table that fails is logged and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if !cmd.Flags().Changed("scope") && !cmd.Flags().Changed("table") {
					scopes, tables = a.cfg.Profiling.Scopes, a.cfg.Profiling.Tables
				}

				var total orchestrator.BatchResult
				for _, scope := range scopes {
					res, err := a.orch.ProfileAllTables(ctx, scope)
					if err != nil {
						return err
					}
					total = merge(total, res)
				}
				if len(tables) > 0 {
					refs := make([]storage.TableRef, 0, len(tables))
					for _, t := range tables {
						refs = append(refs, storage.ParseTableRef(t))
					}
					total = merge(total, a.orch.ProfileTables(ctx, refs))
				}
				if err := writeJSON(cmd.OutOrStdout(), total); err != nil {
					return err
				}
				if total.Skipped > 0 {
					return fmt.Errorf("%d tables skipped: %w", total.Skipped, context.Cause(ctx))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "schema to profile (repeatable)")
	cmd.Flags().StringSliceVar(&tables, "table", nil, "table to profile, as schema.table or table (repeatable)")
	return cmd
}

func merge(a, b orchestrator.BatchResult) orchestrator.BatchResult {
	a.Processed += b.Processed
	a.Failed += b.Failed
	a.FailedTables = append(a.FailedTables, b.FailedTables...)
	a.Skipped += b.Skipped
	a.SkippedTables = append(a.SkippedTables, b.SkippedTables...)
	return a
}

func newScoreCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "score [table...]",
		Short: "Score tables from their latest profile",
		Long:  "Score tables from their latest profile. Without arguments, every configured table is scored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				tables := args
				if len(tables) == 0 {
					var err error
					if tables, err = a.tables(ctx); err != nil {
						return err
					}
				}
				return writeJSON(cmd.OutOrStdout(), a.orch.ScoreAll(ctx, tables))
			})
		},
	}
}

func newCheckCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the configured validation rules",
		Long:  "Run the configured validation rules. Exits 2 when a critical rule fails.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				rep := a.rules.Run(ctx, a.cfg.DataQuality.ValidationRules)
				if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
				if rep.CriticalFailed {
					return &exitCodeError{code: exitCritical, err: fmt.Errorf("%d rules failed, including a critical rule", rep.Failed)}
				}
				if len(rep.Skipped) > 0 {
					return fmt.Errorf("%d rules skipped: %w", len(rep.Skipped), context.Cause(ctx))
				}
				return nil
			})
		},
	}
}

func newSummaryCmd(opts *globalOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarise recent pipeline executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				s, err := a.ledger.Summarize(ctx, a.cfg.Pipeline.Name, days)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), s)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "window in days")
	return cmd
}

func newCompactCmd(opts *globalOptions) *cobra.Command {
	var retention int
	cmd := &cobra.Command{
		Use:   "compact [table...]",
		Short: "Delete profile runs older than the retention window",
		Long: `Delete profile runs older than the retention window. The latest run of a
table is always kept. Without arguments, every configured table is compacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				days := a.cfg.Profiling.RetentionDays
				if cmd.Flags().Changed("retention-days") {
					days = retention
				}
				if days <= 0 {
					return fmt.Errorf("retention must be positive, got %d days", days)
				}

				tables := args
				if len(tables) == 0 {
					var err error
					if tables, err = a.tables(ctx); err != nil {
						return err
					}
				}

				cutoff := time.Now().UTC().AddDate(0, 0, -days)
				removed := map[string]int64{}
				for _, t := range tables {
					n, err := a.profiles.Compact(ctx, t, cutoff)
					if err != nil {
						return err
					}
					removed[t] = n
				}
				a.logger.Info("profiles compacted", "tables", len(tables), "cutoff", cutoff)
				return writeJSON(cmd.OutOrStdout(), removed)
			})
		},
	}
	cmd.Flags().IntVar(&retention, "retention-days", 0, "override profiling.retention_days")
	return cmd
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	var (
		format    string
		output    string
		withRules bool
		days      int
	)
	cmd := &cobra.Command{
		Use:   "report [table...]",
		Short: "Render the latest profiles and scores as HTML or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "html" && format != "json" {
				return fmt.Errorf("unknown format %q (want html or json)", format)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				tables := args
				if len(tables) == 0 {
					var err error
					if tables, err = a.tables(ctx); err != nil {
						return err
					}
				}

				rep, err := a.reports.Build(ctx, a.cfg.Pipeline.Name, tables)
				if err != nil {
					return err
				}
				s, err := a.ledger.Summarize(ctx, a.cfg.Pipeline.Name, days)
				if err != nil {
					return err
				}
				rep.Summary = &s
				if withRules {
					rr := a.rules.Run(ctx, a.cfg.DataQuality.ValidationRules)
					rep.Rules = &rr
				}

				w := cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				if format == "json" {
					return report.WriteJSON(w, rep)
				}
				return report.WriteHTML(w, rep)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "html", "html or json")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	cmd.Flags().BoolVar(&withRules, "rules", false, "also run the configured rules and include their outcomes")
	cmd.Flags().IntVar(&days, "days", 7, "pipeline summary window in days")
	return cmd
}
