package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/intensifier/dicio"

// Span names of the evaluation pipeline.
const (
	SpanEvaluate = "eval.Evaluate"
	SpanRank     = "eval.Rank"
)

// Attribute keys set on [SpanEvaluate].
const (
	AttrSkill        = attribute.Key("dicio.skill")
	AttrFallback     = attribute.Key("dicio.fallback")
	AttrConfidence   = attribute.Key("dicio.confidence")
	AttrAlternatives = attribute.Key("dicio.alternatives")
)

// Tracer returns the dicio tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the dicio tracer. The caller must call
// span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EvaluationAttributes describes the answer chosen for an utterance with
// the given number of recognition alternatives.
func EvaluationAttributes(skillID string, fallback bool, confidence float64, alternatives int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSkill.String(skillID),
		AttrFallback.Bool(fallback),
		AttrConfidence.Float64(confidence),
		AttrAlternatives.Int(alternatives),
	}
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. It identifies one evaluation across logs, history and responses.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id of the span
// in ctx, or the default logger itself when ctx carries no span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
