// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package.
//
// dq runs as a batch job, so nothing scrapes it. Metrics accumulate in a
// private registry and are pushed to the gateway on Flush (cmd/dq flushes once
// on exit). Push replaces the job's previous metric group.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"dq/internal/metrics"
)

// Backend implements metrics.Backend, metrics.Gauger and metrics.Flusher.
type Backend struct {
	reg *prometheus.Registry

	steps    *prometheus.CounterVec
	records  *prometheus.CounterVec
	checks   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	scores   *prometheus.GaugeVec

	pusher *push.Pusher
}

// NewBackend registers the dq collectors on a fresh registry and prepares a
// pusher for gatewayURL under job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty gateway url")
	}
	if strings.TrimSpace(job) == "" {
		job = "dq"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline steps finished, by step kind and status.",
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records processed, by kind.",
		}, []string{"kind"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.ChecksTotal,
			Help: "Quality rules evaluated, by rule type and outcome.",
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline step duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"step", "status"}),
		scores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.QualityScore,
			Help: "Latest table quality score (0-100), by dimension.",
		}, []string{"table", "dimension"}),
	}

	for _, c := range []prometheus.Collector{b.steps, b.records, b.checks, b.duration, b.scores} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}

	b.pusher = push.New(gatewayURL, job).Gatherer(b.reg)
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, l metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(l["step"], l["status"]).Add(delta)
	case metrics.RecordsTotal:
		if l["kind"] == "" {
			return
		}
		b.records.WithLabelValues(l["kind"]).Add(delta)
	case metrics.ChecksTotal:
		b.checks.WithLabelValues(l["type"], l["status"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, l metrics.Labels) {
	if name != metrics.StepDurationSeconds || value < 0 {
		return
	}
	b.duration.WithLabelValues(l["step"], l["status"]).Observe(value)
}

// SetGauge implements metrics.Gauger.
func (b *Backend) SetGauge(name string, value float64, l metrics.Labels) {
	if name != metrics.QualityScore || l["table"] == "" {
		return
	}
	dim := l["dimension"]
	if dim == "" {
		dim = "overall"
	}
	b.scores.WithLabelValues(l["table"], dim).Set(value)
}

// Flush pushes every collector to the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Registry exposes the gatherer for tests and local scraping.
func (b *Backend) Registry() *prometheus.Registry { return b.reg }

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Gauger  = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
