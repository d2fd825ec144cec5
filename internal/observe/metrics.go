// Package observe provides application-wide observability primitives for
// Echo: OpenTelemetry metrics, tracing helpers, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Echo metrics.
const meterName = "github.com/echo-voice/echo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks local audio playback time.
	PlaybackDuration metric.Float64Histogram

	// TranscriptionDuration tracks speech-to-text transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// SummarizeDuration tracks time from raw event to emitted narration.
	SummarizeDuration metric.Float64Histogram

	// --- Counters ---

	// EventsIngested counts raw events. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("source", ...)
	EventsIngested metric.Int64Counter

	// BusDrops counts items dropped on full subscriber queues. Use with
	// attribute: attribute.String("bus", ...)
	BusDrops metric.Int64Counter

	// Narrations counts emitted narrations. Use with attributes:
	//   attribute.String("priority", ...), attribute.String("method", ...)
	Narrations metric.Int64Counter

	// ListenCycles counts voice listen cycles. Use with attribute:
	//   attribute.String("outcome", ...)
	ListenCycles metric.Int64Counter

	// Dispatches counts keystroke dispatch attempts. Use with attributes:
	//   attribute.String("method", ...), attribute.String("status", ...)
	Dispatches metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveAlerts tracks the number of currently active session alerts.
	ActiveAlerts metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("echo.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("echo.playback.duration",
		metric.WithDescription("Local audio playback time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("echo.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummarizeDuration, err = m.Float64Histogram("echo.summarize.duration",
		metric.WithDescription("Time from raw event to emitted narration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EventsIngested, err = m.Int64Counter("echo.events.ingested",
		metric.WithDescription("Total raw events ingested by kind and source."),
	); err != nil {
		return nil, err
	}
	if met.BusDrops, err = m.Int64Counter("echo.bus.drops",
		metric.WithDescription("Total items dropped on full subscriber queues by bus."),
	); err != nil {
		return nil, err
	}
	if met.Narrations, err = m.Int64Counter("echo.narrations",
		metric.WithDescription("Total narrations emitted by priority and method."),
	); err != nil {
		return nil, err
	}
	if met.ListenCycles, err = m.Int64Counter("echo.listen.cycles",
		metric.WithDescription("Total voice listen cycles by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("echo.dispatches",
		metric.WithDescription("Total keystroke dispatch attempts by method and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("echo.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveAlerts, err = m.Int64UpDownCounter("echo.active_alerts",
		metric.WithDescription("Number of currently active session alerts."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("echo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEvent is a convenience method that records an ingested raw event
// counter increment with the standard attribute set.
func (m *Metrics) RecordEvent(ctx context.Context, kind, source string) {
	m.EventsIngested.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("source", source),
		),
	)
}

// RecordNarration is a convenience method that records a narration counter
// increment with the standard attribute set.
func (m *Metrics) RecordNarration(ctx context.Context, priority, method string) {
	m.Narrations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("priority", priority),
			attribute.String("method", method),
		),
	)
}

// RecordListenCycle is a convenience method that records a listen cycle
// counter increment.
func (m *Metrics) RecordListenCycle(ctx context.Context, outcome string) {
	m.ListenCycles.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordDispatch is a convenience method that records a dispatch counter
// increment with the standard attribute set.
func (m *Metrics) RecordDispatch(ctx context.Context, method, status string) {
	m.Dispatches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("status", status),
		),
	)
}

// RecordBusDrop is a convenience method that records one dropped bus item.
// Wire it into a bus drop hook.
func (m *Metrics) RecordBusDrop(ctx context.Context, bus string) {
	m.BusDrops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("bus", bus)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
