package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"dq/internal/catalog"
	"dq/internal/config"
	"dq/internal/ledger"
	"dq/internal/orchestrator"
	"dq/internal/profile"
	"dq/internal/quality"
	"dq/internal/report"
	"dq/internal/rules"
	"dq/internal/storage"
)

// openRepository is a seam so tests can substitute the storage factory.
var openRepository = storage.Open

// app is everything one command invocation needs, built from the config.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	warehouse storage.Repository
	store     storage.Repository

	ledger   *ledger.Ledger
	profiles *profile.Store
	profiler *profile.Profiler
	scorer   *quality.Scorer
	checker  *quality.Checker
	orch     *orchestrator.Orchestrator
	rules    *rules.Runner
	reports  *report.Builder

	closers []func()
}

// openApp opens the warehouse and the result store (one connection when they
// are the same database) and makes sure the store's tables exist.
func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	wh, err := openRepository(ctx, cfg.Warehouse.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	a.warehouse = wh
	a.closers = append(a.closers, wh.Close)

	if cfg.SharedDatabase() {
		a.store = wh
	} else {
		st, err := openRepository(ctx, cfg.Store.StorageConfig())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	}

	if err := a.store.EnsureProfileSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.store.EnsureLedgerSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	pipeline := cfg.Pipeline.Name
	a.ledger = ledger.New(a.store, logger, ledger.WithStepTimeout(cfg.Pipeline.StepTimeout))
	a.profiles = profile.NewStore(a.store, profile.WithDefaultSchema(a.warehouse.DefaultSchema()))
	a.profiler = profile.NewProfiler(a.warehouse, a.profiles, a.ledger,
		profile.WithPipeline(pipeline), profile.WithLogger(logger))
	a.scorer = quality.NewScorer(a.profiles)
	a.checker = quality.NewChecker(a.warehouse)
	a.orch = orchestrator.New(a.warehouse, a.profiler, a.scorer, a.ledger,
		orchestrator.WithPipeline(pipeline), orchestrator.WithLogger(logger))
	a.rules = rules.NewRunner(a.checker, a.ledger,
		rules.WithPipeline(pipeline), rules.WithLogger(logger))
	a.reports = report.NewBuilder(a.profiles, a.scorer)
	return a, nil
}

// Close releases repositories in reverse open order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// tables resolves the configured scopes and explicit tables to table names
// as the profile store keys them, without duplicates.
func (a *app) tables(ctx context.Context) ([]string, error) {
	insp := catalog.NewInspector(a.warehouse)
	var out []string
	for _, scope := range a.cfg.Profiling.Scopes {
		refs, err := insp.Tables(ctx, scope)
		if err != nil {
			return nil, err
		}
		for _, t := range refs {
			out = appendUnique(out, t.String())
		}
	}
	for _, t := range a.cfg.ProfileTables() {
		out = appendUnique(out, insp.Canonical(t).String())
	}
	return out, nil
}

func appendUnique(s []string, v string) []string {
	if slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}
