package observe

import (
	"context"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withTestTracer installs an in-memory tracer provider for the duration of
// the test and returns its exporter.
func withTestTracer(t *testing.T) *tracetest.InMemoryExporter {
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

func TestCorrelationIDFollowsSpan(t *testing.T) {
	withTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("correlation ID without a span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "speaker.synthesize")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", cid)
	}
	if cid != span.SpanContext().TraceID().String() {
		t.Errorf("correlation ID %q does not match the span's trace ID", cid)
	}
}

func TestSeparateIngestsGetSeparateTraces(t *testing.T) {
	withTestTracer(t)

	_, s1 := StartSpan(context.Background(), "hook.ingest")
	_, s2 := StartSpan(context.Background(), "hook.ingest")
	s1.End()
	s2.End()

	if s1.SpanContext().TraceID() == s2.SpanContext().TraceID() {
		t.Error("two independent ingests share a trace ID")
	}
}

func TestStartSpanExports(t *testing.T) {
	exp := withTestTracer(t)

	_, span := StartSpan(context.Background(), "voice.listen")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "voice.listen" {
		t.Errorf("span name = %q, want voice.listen", spans[0].Name)
	}
}

func TestLoggerCarriesTraceFields(t *testing.T) {
	withTestTracer(t)

	// Without a span the plain default logger comes back.
	if Logger(context.Background()) != slog.Default() {
		t.Error("logger without a span is not the default logger")
	}

	ctx, span := StartSpan(context.Background(), "summarize.render")
	defer span.End()

	if Logger(ctx) == slog.Default() {
		t.Error("logger inside a span is missing trace attributes")
	}
}
