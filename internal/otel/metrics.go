package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "appear"

// Metrics holds the OTEL metric instruments for appear.
// All instruments are safe for concurrent use, and every Record method is
// safe to call on a nil *Metrics.
type Metrics struct {
	// Subprocess counters (partitioned by command name + status)
	SubprocessRuns     metric.Int64Counter
	SubprocessDuration metric.Float64Histogram

	// Reveal attempts (partitioned by revealer + outcome)
	RevealAttempts metric.Int64Counter

	// Memo cache counters (partitioned by cache name)
	MemoHits   metric.Int64Counter
	MemoMisses metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SubprocessRuns, err = meter.Int64Counter("subprocess.runs",
		metric.WithDescription("Subprocesses spawned, partitioned by command and exit status"))
	if err != nil {
		return nil, err
	}

	m.SubprocessDuration, err = meter.Float64Histogram("subprocess.duration",
		metric.WithDescription("Wall time of spawned subprocesses"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	m.RevealAttempts, err = meter.Int64Counter("reveal.attempts",
		metric.WithDescription("Revealer invocations partitioned by outcome (revealed, none, unsupported, error)"))
	if err != nil {
		return nil, err
	}

	m.MemoHits, err = meter.Int64Counter("memo.hits",
		metric.WithDescription("Lookups answered from a memo cache"))
	if err != nil {
		return nil, err
	}

	m.MemoMisses, err = meter.Int64Counter("memo.misses",
		metric.WithDescription("Lookups that had to run a subprocess"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRun records one finished subprocess.
func (m *Metrics) RecordRun(ctx context.Context, command, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("subprocess.command", command),
		attribute.String("subprocess.status", status),
	)
	m.SubprocessRuns.Add(ctx, 1, attrs)
	m.SubprocessDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordReveal records the outcome of one revealer.
func (m *Metrics) RecordReveal(ctx context.Context, revealer, outcome string) {
	if m == nil {
		return
	}
	m.RevealAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reveal.revealer", revealer),
		attribute.String("reveal.outcome", outcome),
	))
}

// RecordMemo records a memo cache lookup.
func (m *Metrics) RecordMemo(ctx context.Context, cache string, hit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("memo.cache", cache))
	if hit {
		m.MemoHits.Add(ctx, 1, attrs)
		return
	}
	m.MemoMisses.Add(ctx, 1, attrs)
}
