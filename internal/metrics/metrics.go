// Package metrics is the backend-neutral metrics facade.
//
// Core packages (ledger, quality, rules) call the Record* helpers; cmd/dq picks
// a concrete backend (Pushgateway, Datadog or none) with SetBackend. Until a
// backend is set every call is a no-op.
package metrics

import (
	"strings"
	"sync"
	"time"
)

// Metric names. Backends match on these, so they are an operational contract.
const (
	StepTotal           = "dq_step_total"
	StepDurationSeconds = "dq_step_duration_seconds"
	RecordsTotal        = "dq_records_total"
	ChecksTotal         = "dq_checks_total"
	QualityScore        = "dq_quality_score"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives counter and histogram updates.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Gauger is implemented by backends that support last-value gauges.
type Gauger interface {
	SetGauge(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer and submit on demand.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b process-wide. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// StepKind maps a ledger step name such as "profile_column:orders.id" to its
// low-cardinality kind ("profile_column").
func StepKind(step string) string {
	kind, _, _ := strings.Cut(step, ":")
	return strings.TrimSpace(kind)
}

// RecordStep counts one finished step and observes its duration.
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": StepKind(step), "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords adds n processed records of a kind ("rows", "columns", "tables").
func RecordRecords(kind string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordCheck counts one evaluated quality rule.
func RecordCheck(ruleType string, passed bool) {
	status := "pass"
	if !passed {
		status = "fail"
	}
	current().IncCounter(ChecksTotal, 1, Labels{"type": ruleType, "status": status})
}

// RecordQualityScore publishes a table score. Backends without gauges
// receive it as a histogram observation.
func RecordQualityScore(table, dimension string, v float64) {
	l := Labels{"table": table, "dimension": dimension}
	b := current()
	if g, ok := b.(Gauger); ok {
		g.SetGauge(QualityScore, v, l)
		return
	}
	b.ObserveHistogram(QualityScore, v, l)
}
