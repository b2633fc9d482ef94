package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"dq/internal/config"
	"dq/internal/metrics"
	"dq/internal/metrics/datadog"
	"dq/internal/metrics/prompush"
)

// metricsBackend is the lifecycle surface initMetrics owns.
type metricsBackend interface {
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metricsBackend, error) {
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			return nil, err
		}
		return pushCloser{b}, nil
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// pushCloser pushes once at shutdown.
type pushCloser struct {
	*prompush.Backend
}

func (p pushCloser) Close() error { return p.Flush() }

// initMetrics wires the configured metrics backend. The backend name comes
// from the --metrics-backend flag, then METRICS_BACKEND / config, then
// "none". The returned cleanup is never nil and flushes the backend.
func initMetrics(ctx context.Context, job string, backend string, m config.Metrics) (func(), error) {
	noop := func() {}

	switch strings.ToLower(backend) {
	case "", "none", "noop":
		return noop, nil

	case "pushgateway", "prom", "prometheus":
		url := m.PushgatewayURL
		if url == "" {
			url = config.DefaultPushgatewayURL
		}
		b, err := newPushBackend(job, url)
		if err != nil {
			return noop, fmt.Errorf("metrics: pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return closeWith(b, "pushgateway"), nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       m.Tags,
			FlushEvery: m.FlushEvery,
		})
		if err != nil {
			return noop, fmt.Errorf("metrics: datadog: %w", err)
		}
		setMetricsBackend(b)
		return closeWith(b, "datadog"), nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", backend)
	}
}

func closeWith(b metricsBackend, name string) func() {
	return func() {
		if err := b.Close(); err != nil {
			logPrintf("metrics: %s close error: %v", name, err)
		}
	}
}
