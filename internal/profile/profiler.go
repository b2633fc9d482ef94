// Package profile computes per-column statistics and keeps them in the
// profile store.
//
// Statistics come from a dispatch table keyed by Category (see statistics);
// every accumulator reads values through storage.ScanColumn, so no SQL text is
// built from column or table names here.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dq/internal/catalog"
	"dq/internal/errs"
	"dq/internal/ledger"
	"dq/internal/metrics"
	"dq/internal/storage"
)

// DefaultPipeline names ledger entries when no pipeline is configured.
const DefaultPipeline = "data_quality"

// ColumnFailure is a column skipped by a run.
type ColumnFailure struct {
	Column string
	Err    error
}

// Run is the outcome of profiling one table.
type Run struct {
	ProfileID string
	Timestamp time.Time
	Table     storage.TableRef
	Records   []storage.ProfileRecord
	Failed    []ColumnFailure
}

type Profiler struct {
	wh        storage.Warehouse
	inspector *catalog.Inspector
	store     *Store
	ledger    *ledger.Ledger
	pipeline  string
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// Option customises a Profiler.
type Option func(*Profiler)

func WithPipeline(name string) Option {
	return func(p *Profiler) {
		if name != "" {
			p.pipeline = name
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Profiler) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Profiler) { p.now = now }
}

func NewProfiler(wh storage.Warehouse, store *Store, l *ledger.Ledger, opts ...Option) *Profiler {
	p := &Profiler{
		wh:        wh,
		inspector: catalog.NewInspector(wh),
		store:     store,
		ledger:    l,
		pipeline:  DefaultPipeline,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProfileColumn computes the record for one column without storing it.
// ProfileID and Timestamp are left for the caller to set.
func (p *Profiler) ProfileColumn(ctx context.Context, t storage.TableRef, col storage.ColumnInfo) (storage.ProfileRecord, error) {
	return computeColumn(ctx, p.wh, t, col)
}

// ProfileTable profiles every column of t under one profile_id and one
// timestamp, then appends the successful records as a single batch.
//
// Each column runs as its own ledger step. A failing column is logged as an
// ERROR entry, reported in Run.Failed and skipped; its siblings still run.
//
// t is profiled under its canonical name (see catalog.Inspector.Canonical).
//
// Errors:
//   - errs.NotFoundError if t does not exist.
//   - errs.ComputationError if every column failed. Nothing is stored, so the
//     previous run stays latest.
//   - Store append failures. The run's records are still returned.
func (p *Profiler) ProfileTable(ctx context.Context, t storage.TableRef) (Run, error) {
	t = p.inspector.Canonical(t)
	cols, err := p.inspector.Columns(ctx, t)
	if err != nil {
		return Run{Table: t}, err
	}

	run := Run{
		ProfileID: p.newID(),
		Timestamp: p.now().UTC(),
		Table:     t,
		Records:   make([]storage.ProfileRecord, 0, len(cols)),
	}

	for _, col := range cols {
		step := fmt.Sprintf("profile_column:%s.%s", t, col.Name)
		err := p.ledger.RunStep(ctx, p.pipeline, step, func(ctx context.Context) (int64, error) {
			rec, err := p.ProfileColumn(ctx, t, col)
			if err != nil {
				return 0, err
			}
			rec.ProfileID = run.ProfileID
			rec.Timestamp = run.Timestamp
			run.Records = append(run.Records, rec)
			return rec.TotalCount, nil
		})
		if err != nil {
			run.Failed = append(run.Failed, ColumnFailure{Column: col.Name, Err: err})
			p.logger.Warn("column skipped", "table", t.String(), "column", col.Name, "err", err)
		}
	}

	if len(run.Records) == 0 && len(run.Failed) > 0 {
		failures := make([]error, 0, len(run.Failed))
		for _, f := range run.Failed {
			failures = append(failures, fmt.Errorf("%s: %w", f.Column, f.Err))
		}
		return run, errs.Computation("profile "+t.String(),
			fmt.Errorf("all %d columns failed: %w", len(run.Failed), errors.Join(failures...)))
	}

	if err := p.store.Append(ctx, run.Records); err != nil {
		return run, err
	}

	metrics.RecordRecords("columns", int64(len(run.Records)))
	p.logger.Info("table profiled",
		"table", t.String(),
		"profile_id", run.ProfileID,
		"columns", len(run.Records),
		"failed", len(run.Failed))
	return run, nil
}
