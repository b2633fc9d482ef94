// Package ledger records pipeline step events and derives execution summaries.
//
// A Ledger is passed explicitly to every component that records events. It
// lives for the whole process and has no teardown.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dq/internal/errs"
	"dq/internal/metrics"
	"dq/internal/storage"
)

// DefaultDaysBack is the Summarize window when daysBack <= 0.
const DefaultDaysBack = 7

// Event is the input to LogEvent. ErrorCode is kept only for ERROR events.
type Event struct {
	Pipeline         string
	Step             string
	Level            string
	Message          string
	ErrorCode        string
	ExecutionTimeMs  *int64
	RecordsProcessed *int64
}

// Summary is the rollup of a pipeline's terminal events within a window.
//
// Steps nest: a profile_table step wraps one profile_column step per column,
// so the pipeline-wide totals add table and column executions together and
// mix their record units (columns for tables, rows for columns). ByStepKind
// keeps each kind apart.
type Summary struct {
	Pipeline              string  `json:"pipeline_name"`
	DaysBack              int     `json:"days_back"`
	TotalExecutions       int64   `json:"total_executions"`
	SuccessfulExecutions  int64   `json:"successful_executions"`
	FailedExecutions      int64   `json:"failed_executions"`
	SuccessRate           float64 `json:"success_rate"`
	AvgExecutionTimeMs    float64 `json:"avg_execution_time_ms"`
	TotalRecordsProcessed int64   `json:"total_records_processed"`

	// ByStepKind is keyed by the step name before ':' ("profile_table",
	// "profile_column", "rule", ...).
	ByStepKind map[string]StepSummary `json:"by_step_kind,omitempty"`
}

// StepSummary is the rollup of one step kind.
type StepSummary struct {
	TotalExecutions       int64   `json:"total_executions"`
	SuccessfulExecutions  int64   `json:"successful_executions"`
	FailedExecutions      int64   `json:"failed_executions"`
	SuccessRate           float64 `json:"success_rate"`
	AvgExecutionTimeMs    float64 `json:"avg_execution_time_ms"`
	TotalRecordsProcessed int64   `json:"total_records_processed"`
}

type Ledger struct {
	repo        storage.LedgerRepository
	logger      *slog.Logger
	stepTimeout time.Duration

	now   func() time.Time
	newID func() string
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithStepTimeout bounds each RunStep action. d <= 0 means no limit.
func WithStepTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.stepTimeout = d }
}

// New returns a Ledger writing to repo. A nil logger uses slog.Default().
func New(repo storage.LedgerRepository, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent appends one entry. It never fails: a write error is logged at WARN
// and dropped so it cannot mask the outcome of the step being recorded.
func (l *Ledger) LogEvent(ctx context.Context, e Event) {
	entry := storage.LogEntry{
		LogID:            l.newID(),
		Timestamp:        l.now().UTC(),
		PipelineName:     e.Pipeline,
		StepName:         e.Step,
		LogLevel:         e.Level,
		Message:          e.Message,
		ExecutionTimeMs:  e.ExecutionTimeMs,
		RecordsProcessed: e.RecordsProcessed,
	}
	if e.Level == storage.LevelError {
		code := e.ErrorCode
		if code == "" {
			code = errs.CodeUnknown
		}
		entry.ErrorCode = &code
	}

	if err := l.repo.AppendLogEntry(ctx, entry); err != nil {
		l.logger.Warn("ledger write failed",
			"pipeline", e.Pipeline, "step", e.Step, "level", e.Level, "err", err)
	}
}

// RunStep runs action between an INFO start event and a SUCCESS or ERROR
// event carrying the elapsed time. action reports how many records it
// processed. An action error is recorded with records_processed=0 and
// returned unchanged. With WithStepTimeout, action's ctx carries the
// deadline; a step that overruns it is recorded with code TIMEOUT.
func (l *Ledger) RunStep(ctx context.Context, pipeline, step string, action func(ctx context.Context) (int64, error)) error {
	l.LogEvent(ctx, Event{
		Pipeline: pipeline,
		Step:     step,
		Level:    storage.LevelInfo,
		Message:  "started",
	})

	actx := ctx
	if l.stepTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, l.stepTimeout)
		defer cancel()
	}

	start := l.now()
	n, err := action(actx)
	elapsed := l.now().Sub(start)
	ms := elapsed.Milliseconds()

	if err != nil {
		zero := int64(0)
		l.LogEvent(ctx, Event{
			Pipeline:         pipeline,
			Step:             step,
			Level:            storage.LevelError,
			Message:          err.Error(),
			ErrorCode:        errs.Code(err),
			ExecutionTimeMs:  &ms,
			RecordsProcessed: &zero,
		})
		metrics.RecordStep(step, "error", elapsed)
		l.logger.Error("step failed", "pipeline", pipeline, "step", step, "code", errs.Code(err), "err", err)
		return err
	}

	l.LogEvent(ctx, Event{
		Pipeline:         pipeline,
		Step:             step,
		Level:            storage.LevelSuccess,
		Message:          fmt.Sprintf("completed: %d records", n),
		ExecutionTimeMs:  &ms,
		RecordsProcessed: &n,
	})
	metrics.RecordStep(step, "success", elapsed)
	l.logger.Debug("step completed", "pipeline", pipeline, "step", step, "records", n, "ms", ms)
	return nil
}

// Summarize rolls up the last daysBack days of pipeline. Only SUCCESS and
// ERROR entries count as executions; INFO start events do not.
func (l *Ledger) Summarize(ctx context.Context, pipeline string, daysBack int) (Summary, error) {
	if daysBack <= 0 {
		daysBack = DefaultDaysBack
	}
	since := l.now().UTC().Add(-time.Duration(daysBack) * 24 * time.Hour)

	entries, err := l.repo.LogEntriesSince(ctx, pipeline, since)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger: summarize %s: %w", pipeline, err)
	}

	s := summarize(entries)
	s.Pipeline = pipeline
	s.DaysBack = daysBack
	return s, nil
}

// rollup accumulates terminal entries.
type rollup struct {
	ok, failed, records int64
	msSum, msCount      int64
}

func (r *rollup) add(e storage.LogEntry) {
	if e.LogLevel == storage.LevelSuccess {
		r.ok++
	} else {
		r.failed++
	}
	if e.ExecutionTimeMs != nil {
		r.msSum += *e.ExecutionTimeMs
		r.msCount++
	}
	if e.RecordsProcessed != nil {
		r.records += *e.RecordsProcessed
	}
}

func (r *rollup) summary() StepSummary {
	s := StepSummary{
		TotalExecutions:       r.ok + r.failed,
		SuccessfulExecutions:  r.ok,
		FailedExecutions:      r.failed,
		TotalRecordsProcessed: r.records,
	}
	if s.TotalExecutions > 0 {
		s.SuccessRate = float64(s.SuccessfulExecutions) / float64(s.TotalExecutions) * 100
	}
	if r.msCount > 0 {
		s.AvgExecutionTimeMs = float64(r.msSum) / float64(r.msCount)
	}
	return s
}

func summarize(entries []storage.LogEntry) Summary {
	var (
		all   rollup
		kinds map[string]*rollup
	)
	for _, e := range entries {
		if e.LogLevel != storage.LevelSuccess && e.LogLevel != storage.LevelError {
			continue
		}
		all.add(e)

		if kinds == nil {
			kinds = map[string]*rollup{}
		}
		k := metrics.StepKind(e.StepName)
		r, ok := kinds[k]
		if !ok {
			r = &rollup{}
			kinds[k] = r
		}
		r.add(e)
	}

	t := all.summary()
	s := Summary{
		TotalExecutions:       t.TotalExecutions,
		SuccessfulExecutions:  t.SuccessfulExecutions,
		FailedExecutions:      t.FailedExecutions,
		SuccessRate:           t.SuccessRate,
		AvgExecutionTimeMs:    t.AvgExecutionTimeMs,
		TotalRecordsProcessed: t.TotalRecordsProcessed,
	}
	if kinds != nil {
		s.ByStepKind = make(map[string]StepSummary, len(kinds))
		for k, r := range kinds {
			s.ByStepKind[k] = r.summary()
		}
	}
	return s
}
