package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder installs a tracer provider recording into memory as the global
// provider for the duration of the test.
func useRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default logger into a buffer for the duration of
// the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestEvaluationAttributes(t *testing.T) {
	attrs := attribute.NewSet(EvaluationAttributes("greeting", false, 0.75, 2)...)

	tests := []struct {
		key  attribute.Key
		want attribute.Value
	}{
		{AttrSkill, attribute.StringValue("greeting")},
		{AttrFallback, attribute.BoolValue(false)},
		{AttrConfidence, attribute.Float64Value(0.75)},
		{AttrAlternatives, attribute.IntValue(2)},
	}
	for _, tc := range tests {
		got, ok := attrs.Value(tc.key)
		if !ok || got.Emit() != tc.want.Emit() {
			t.Errorf("%s = %v (present %v), want %v", tc.key, got.Emit(), ok, tc.want.Emit())
		}
	}
}

func TestStartSpan_EvaluationSpan(t *testing.T) {
	exp := useRecorder(t)

	ctx, eval := StartSpan(context.Background(), SpanEvaluate)
	rankCtx, rank := StartSpan(ctx, SpanRank)
	if CorrelationID(rankCtx) != CorrelationID(ctx) {
		t.Error("rank span is not part of the evaluation trace")
	}
	rank.End()
	eval.SetAttributes(EvaluationAttributes("fallback", true, 0.1, 1)...)
	eval.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Name != SpanRank || spans[1].Name != SpanEvaluate {
		t.Errorf("span names = %q, %q", spans[0].Name, spans[1].Name)
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("rank span's parent is not the evaluation span")
	}
	set := attribute.NewSet(spans[1].Attributes...)
	if v, ok := set.Value(AttrFallback); !ok || !v.AsBool() {
		t.Errorf("%s = %v, want true", AttrFallback, v.Emit())
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	useRecorder(t)
	ctx, span := StartSpan(context.Background(), SpanEvaluate)
	defer span.End()
	if got := CorrelationID(ctx); len(got) != 32 || strings.Trim(got, "0123456789abcdef") != "" {
		t.Errorf("CorrelationID = %q, want 32 hex digits", got)
	}
}

func TestLogger(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("eval: blank utterance ignored")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without a span has a trace id: %s", buf)
	}

	useRecorder(t)
	ctx, span := StartSpan(context.Background(), SpanEvaluate)
	defer span.End()
	buf.Reset()
	Logger(ctx).Info("eval: answered", "skill", "stop")

	logged := buf.String()
	for _, want := range []string{"trace_id=" + CorrelationID(ctx), "span_id=", "skill=stop"} {
		if !strings.Contains(logged, want) {
			t.Errorf("log output missing %q: %s", want, logged)
		}
	}
}
