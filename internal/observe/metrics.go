// Package observe provides the observability primitives of dicio:
// OpenTelemetry metrics and tracing, a trace-aware logger, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. [DefaultMetrics] is a package-level instance
// bound to the global provider; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dicio metrics.
const meterName = "github.com/intensifier/dicio"

// Evaluation outcomes used as the "outcome" attribute.
const (
	OutcomeMatched  = "matched"
	OutcomeFallback = "fallback"
	OutcomeNoMatch  = "no_match"
	OutcomeError    = "error"
)

// Metrics holds all OpenTelemetry metric instruments of the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// EvaluationDuration tracks the time from a final utterance to the
	// spoken answer.
	EvaluationDuration metric.Float64Histogram

	// MatchDuration tracks one ranking pass over the batch stack.
	MatchDuration metric.Float64Histogram

	// --- Counters ---

	// Evaluations counts evaluated utterances. Attributes:
	//   attribute.String("skill", ...), attribute.String("outcome", ...)
	Evaluations metric.Int64Counter

	// SkillErrors counts handler failures. Attribute:
	//   attribute.String("skill", ...)
	SkillErrors metric.Int64Counter

	// TranscriptCorrections counts phonetic substitutions.
	TranscriptCorrections metric.Int64Counter

	// --- Gauges ---

	// BatchDepth tracks the number of conversation batches above the
	// default batch.
	BatchDepth metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Matching is CPU-bound
// and fast; evaluation includes handlers and speech output.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EvaluationDuration, err = m.Float64Histogram("dicio.evaluation.duration",
		metric.WithDescription("Latency of evaluating one final utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = m.Float64Histogram("dicio.match.duration",
		metric.WithDescription("Latency of one ranking pass over the active batches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Evaluations, err = m.Int64Counter("dicio.evaluations",
		metric.WithDescription("Total evaluated utterances by skill and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SkillErrors, err = m.Int64Counter("dicio.skill.errors",
		metric.WithDescription("Total skill handler errors by skill."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptCorrections, err = m.Int64Counter("dicio.transcript.corrections",
		metric.WithDescription("Total phonetic substitutions applied to utterances."),
	); err != nil {
		return nil, err
	}

	if met.BatchDepth, err = m.Int64Gauge("dicio.batch.depth",
		metric.WithDescription("Number of conversation batches on top of the default batch."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("dicio.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEvaluation records one evaluated utterance and its latency.
func (m *Metrics) RecordEvaluation(ctx context.Context, skillID, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(Attr("skill", skillID), Attr("outcome", outcome))
	m.Evaluations.Add(ctx, 1, attrs)
	m.EvaluationDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordMatch records the latency of one ranking pass.
func (m *Metrics) RecordMatch(ctx context.Context, d time.Duration) {
	m.MatchDuration.Record(ctx, d.Seconds())
}

// RecordSkillError records a handler failure.
func (m *Metrics) RecordSkillError(ctx context.Context, skillID string) {
	m.SkillErrors.Add(ctx, 1, metric.WithAttributes(Attr("skill", skillID)))
}

// RecordCorrections records n phonetic substitutions.
func (m *Metrics) RecordCorrections(ctx context.Context, n int) {
	if n > 0 {
		m.TranscriptCorrections.Add(ctx, int64(n))
	}
}

// RecordBatchDepth records the current number of conversation batches.
func (m *Metrics) RecordBatchDepth(ctx context.Context, depth int) {
	m.BatchDepth.Record(ctx, int64(depth))
}
