// Package orchestrator drives whole-scope runs: prerequisite validation,
// profiling every table of a scope and scoring the results.
//
// Batch operations never abort on a per-table failure. Each table runs inside
// a ledger step, so its outcome is recorded whether it succeeds or not.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dq/internal/catalog"
	"dq/internal/errs"
	"dq/internal/ledger"
	"dq/internal/metrics"
	"dq/internal/profile"
	"dq/internal/quality"
	"dq/internal/storage"
)

// StepValidatePrerequisites is the ledger step of ValidatePrerequisites.
const StepValidatePrerequisites = "validate_prerequisites"

// Prerequisites is the aggregate outcome of ValidatePrerequisites.
type Prerequisites struct {
	OK             bool     `json:"ok"`
	MissingTables  []string `json:"missing_tables"`
	MissingSchemas []string `json:"missing_schemas"`
	// Errors holds lookups that failed outright; they count as missing.
	Errors []string `json:"errors,omitempty"`
}

// BatchResult counts the tables a batch handled. Tables left untouched
// because ctx was cancelled are Skipped, neither processed nor failed.
type BatchResult struct {
	Processed     int      `json:"processed"`
	Failed        int      `json:"failed"`
	FailedTables  []string `json:"failed_tables,omitempty"`
	Skipped       int      `json:"skipped"`
	SkippedTables []string `json:"skipped_tables,omitempty"`
}

func (r *BatchResult) skip(name string) {
	r.Skipped++
	r.SkippedTables = append(r.SkippedTables, name)
}

// ScoreBatch is the outcome of ScoreAll.
type ScoreBatch struct {
	BatchResult
	Scores []quality.Score `json:"scores"`
}

type Orchestrator struct {
	wh        storage.Warehouse
	inspector *catalog.Inspector
	profiler  *profile.Profiler
	scorer    *quality.Scorer
	ledger    *ledger.Ledger
	pipeline  string
	logger    *slog.Logger
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

func WithPipeline(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.pipeline = name
		}
	}
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func New(wh storage.Warehouse, profiler *profile.Profiler, scorer *quality.Scorer, l *ledger.Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		wh:        wh,
		inspector: catalog.NewInspector(wh),
		profiler:  profiler,
		scorer:    scorer,
		ledger:    l,
		pipeline:  profile.DefaultPipeline,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ValidatePrerequisites checks that every table and schema exists. All
// missing items are collected before the single ERROR or SUCCESS ledger
// event is written. It never returns an error.
func (o *Orchestrator) ValidatePrerequisites(ctx context.Context, tables []storage.TableRef, schemas []string) Prerequisites {
	res := Prerequisites{MissingTables: []string{}, MissingSchemas: []string{}}

	for _, t := range tables {
		ok, err := o.wh.TableExists(ctx, t)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("table %s: %v", t, err))
		}
		if !ok {
			res.MissingTables = append(res.MissingTables, t.String())
		}
	}
	for _, s := range schemas {
		ok, err := o.wh.SchemaExists(ctx, s)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("schema %s: %v", s, err))
		}
		if !ok {
			res.MissingSchemas = append(res.MissingSchemas, s)
		}
	}
	res.OK = len(res.MissingTables) == 0 && len(res.MissingSchemas) == 0

	if res.OK {
		o.ledger.LogEvent(ctx, ledger.Event{
			Pipeline: o.pipeline,
			Step:     StepValidatePrerequisites,
			Level:    storage.LevelSuccess,
			Message:  fmt.Sprintf("prerequisites present: %d tables, %d schemas", len(tables), len(schemas)),
		})
		return res
	}

	var parts []string
	if len(res.MissingTables) > 0 {
		parts = append(parts, "missing tables: "+strings.Join(res.MissingTables, ", "))
	}
	if len(res.MissingSchemas) > 0 {
		parts = append(parts, "missing schemas: "+strings.Join(res.MissingSchemas, ", "))
	}
	o.ledger.LogEvent(ctx, ledger.Event{
		Pipeline:  o.pipeline,
		Step:      StepValidatePrerequisites,
		Level:     storage.LevelError,
		Message:   strings.Join(parts, "; "),
		ErrorCode: errs.CodeNotFound,
	})
	o.logger.Warn("prerequisites missing",
		"tables", res.MissingTables, "schemas", res.MissingSchemas)
	return res
}

// ProfileAllTables profiles every base table of scope, one at a time. It
// fails only when the scope's tables cannot be listed.
func (o *Orchestrator) ProfileAllTables(ctx context.Context, scope string) (BatchResult, error) {
	tables, err := o.inspector.Tables(ctx, scope)
	if err != nil {
		return BatchResult{}, fmt.Errorf("orchestrator: list %q: %w", scope, err)
	}
	return o.ProfileTables(ctx, tables), nil
}

// ProfileTables profiles the given tables, one ledger step per table. Names
// are canonicalised (see catalog.Inspector.Canonical).
func (o *Orchestrator) ProfileTables(ctx context.Context, tables []storage.TableRef) BatchResult {
	var res BatchResult
	for i, t := range tables {
		if ctx.Err() != nil {
			for _, rest := range tables[i:] {
				res.skip(o.inspector.Canonical(rest).String())
			}
			break
		}
		t = o.inspector.Canonical(t)
		err := o.ledger.RunStep(ctx, o.pipeline, "profile_table:"+t.String(), func(ctx context.Context) (int64, error) {
			run, err := o.profiler.ProfileTable(ctx, t)
			if err != nil {
				return 0, err
			}
			if len(run.Failed) > 0 {
				o.logger.Warn("columns skipped", "table", t.String(), "failed", len(run.Failed))
			}
			return int64(len(run.Records)), nil
		})
		if err != nil {
			o.logger.Error("profile table failed", "table", t.String(), "err", err)
			res.Failed++
			res.FailedTables = append(res.FailedTables, t.String())
			continue
		}
		res.Processed++
	}
	metrics.RecordRecords("tables", int64(res.Processed))
	return res
}

// ScoreAll scores each table from its latest stored profile. Tables without
// a profile count as failed.
func (o *Orchestrator) ScoreAll(ctx context.Context, tables []string) ScoreBatch {
	out := ScoreBatch{Scores: []quality.Score{}}
	for i, t := range tables {
		if ctx.Err() != nil {
			for _, rest := range tables[i:] {
				out.skip(o.canonical(rest))
			}
			break
		}
		t = o.canonical(t)
		var sc quality.Score
		err := o.ledger.RunStep(ctx, o.pipeline, "score_table:"+t, func(ctx context.Context) (int64, error) {
			var err error
			sc, err = o.scorer.Score(ctx, t)
			if err != nil {
				return 0, err
			}
			return int64(sc.ColumnsProfiled), nil
		})
		if err != nil {
			o.logger.Warn("score table failed", "table", t, "err", err)
			out.Failed++
			out.FailedTables = append(out.FailedTables, t)
			continue
		}
		out.Processed++
		out.Scores = append(out.Scores, sc)
	}
	return out
}

func (o *Orchestrator) canonical(table string) string {
	return o.inspector.Canonical(storage.ParseTableRef(table)).String()
}
