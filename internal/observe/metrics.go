// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge, and tracing for
// evaluation cycles.
//
// All recording helpers are nil-receiver safe, so components can carry an
// optional *Metrics without guarding every call site. Tests should use
// [NewMetrics] with a private meter provider to avoid cross-test pollution.
package observe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// scopeName is the instrumentation scope for all engine telemetry.
const scopeName = "github.com/vivavoce-ai/vivavoce"

// Metrics holds the OpenTelemetry metric instruments for the coverage engine.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// CycleDuration tracks full evaluation-cycle latency in seconds.
	CycleDuration metric.Float64Histogram

	// OracleDuration tracks per-oracle-call latency in seconds. Use with
	// attribute.String("oracle", ...).
	OracleDuration metric.Float64Histogram

	// OracleErrors counts degraded oracle calls. Use with
	// attribute.String("oracle", ...).
	OracleErrors metric.Int64Counter

	// FollowupsEmitted counts follow-up questions injected into answers.
	FollowupsEmitted metric.Int64Counter

	// BulletsCovered counts bullets that reached the covered state.
	BulletsCovered metric.Int64Counter

	// ActiveSessions tracks the number of live answer sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionScore records the final coverage score of finalized sessions.
	SessionScore metric.Float64Histogram

	// HTTPRequestDuration tracks inbound HTTP request latency in seconds.
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the given provider. Pass
// otel.GetMeterProvider() for the global provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(scopeName)
	m := &Metrics{}

	var err error
	if m.CycleDuration, err = meter.Float64Histogram(
		"vivavoce.cycle.duration",
		metric.WithDescription("Evaluation cycle duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("observe: create cycle histogram: %w", err)
	}
	if m.OracleDuration, err = meter.Float64Histogram(
		"vivavoce.oracle.duration",
		metric.WithDescription("Oracle call duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("observe: create oracle histogram: %w", err)
	}
	if m.OracleErrors, err = meter.Int64Counter(
		"vivavoce.oracle.errors",
		metric.WithDescription("Oracle calls that failed and were degraded"),
	); err != nil {
		return nil, fmt.Errorf("observe: create oracle error counter: %w", err)
	}
	if m.FollowupsEmitted, err = meter.Int64Counter(
		"vivavoce.followups.emitted",
		metric.WithDescription("Follow-up questions emitted"),
	); err != nil {
		return nil, fmt.Errorf("observe: create followup counter: %w", err)
	}
	if m.BulletsCovered, err = meter.Int64Counter(
		"vivavoce.bullets.covered",
		metric.WithDescription("Bullets confirmed covered"),
	); err != nil {
		return nil, fmt.Errorf("observe: create covered counter: %w", err)
	}
	if m.ActiveSessions, err = meter.Int64UpDownCounter(
		"vivavoce.sessions.active",
		metric.WithDescription("Live answer sessions"),
	); err != nil {
		return nil, fmt.Errorf("observe: create session gauge: %w", err)
	}
	if m.SessionScore, err = meter.Float64Histogram(
		"vivavoce.session.score",
		metric.WithDescription("Final coverage score of finalized sessions"),
	); err != nil {
		return nil, fmt.Errorf("observe: create score histogram: %w", err)
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"vivavoce.http.request.duration",
		metric.WithDescription("Inbound HTTP request duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("observe: create http histogram: %w", err)
	}
	return m, nil
}

// Default creates Metrics on the global meter provider, panicking on
// instrument-creation failure. Intended for main(); tests use [NewMetrics].
func Default() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic(err)
	}
	return m
}

// RecordCycle records one evaluation cycle's duration.
func (m *Metrics) RecordCycle(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.CycleDuration.Record(ctx, seconds)
}

// RecordOracleCall records an oracle call's latency and, when degraded is
// true, counts it as an error.
func (m *Metrics) RecordOracleCall(ctx context.Context, oracle string, seconds float64, degraded bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("oracle", oracle))
	m.OracleDuration.Record(ctx, seconds, attrs)
	if degraded {
		m.OracleErrors.Add(ctx, 1, attrs)
	}
}

// RecordFollowup counts one emitted follow-up.
func (m *Metrics) RecordFollowup(ctx context.Context) {
	if m == nil {
		return
	}
	m.FollowupsEmitted.Add(ctx, 1)
}

// RecordCovered counts bullets newly confirmed covered.
func (m *Metrics) RecordCovered(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.BulletsCovered.Add(ctx, n)
}

// SessionStarted increments the live-session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionFinalized decrements the live-session gauge and records the final
// score.
func (m *Metrics) SessionFinalized(ctx context.Context, score float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
	m.SessionScore.Record(ctx, score)
}
