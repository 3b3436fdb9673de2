// Package observe provides application-wide observability primitives for
// the theremin: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all theremin metrics.
const meterName = "github.com/MrWong99/theremin"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Pipeline ---

	// Frames counts depth frames by outcome. Use with attribute:
	//   attribute.String("outcome", ...)
	Frames metric.Int64Counter

	// ReduceDuration tracks how long reducing one depth frame takes.
	ReduceDuration metric.Float64Histogram

	// Fundamental records every fundamental pushed to the voice bank, in Hz.
	Fundamental metric.Float64Histogram

	// --- Glide ---

	// Glides counts glide lifecycle events. Use with attribute:
	//   attribute.String("event", ...)
	Glides metric.Int64Counter

	// --- Voices ---

	// VoiceUpdates counts fundamental updates and silences applied to the
	// bank. Use with attribute:
	//   attribute.String("kind", "retune"|"silence")
	VoiceUpdates metric.Int64Counter

	// SynthClients tracks the number of connected remote synthesisers.
	SynthClients metric.Int64UpDownCounter

	// DepthClients tracks the number of connected depth frame publishers.
	DepthClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// reduceBuckets defines histogram bucket boundaries (in seconds) for frame
// reduction, which must stay well below one frame period.
var reduceBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// pitchBuckets are octave-spaced boundaries in Hz.
var pitchBuckets = []float64{
	55, 110, 220, 440, 880, 1760, 3520, 7040,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ReduceDuration, err = m.Float64Histogram("theremin.reduce.duration",
		metric.WithDescription("Latency of reducing one depth frame to a distance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(reduceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Fundamental, err = m.Float64Histogram("theremin.fundamental",
		metric.WithDescription("Fundamental frequencies pushed to the voice bank."),
		metric.WithUnit("Hz"),
		metric.WithExplicitBucketBoundaries(pitchBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Frames, err = m.Int64Counter("theremin.frames",
		metric.WithDescription("Total depth frames by pipeline outcome."),
	); err != nil {
		return nil, err
	}
	if met.Glides, err = m.Int64Counter("theremin.glides",
		metric.WithDescription("Total glide lifecycle events by event type."),
	); err != nil {
		return nil, err
	}
	if met.VoiceUpdates, err = m.Int64Counter("theremin.voice.updates",
		metric.WithDescription("Total voice bank updates by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.SynthClients, err = m.Int64UpDownCounter("theremin.synth_clients",
		metric.WithDescription("Number of connected remote synthesisers."),
	); err != nil {
		return nil, err
	}
	if met.DepthClients, err = m.Int64UpDownCounter("theremin.depth_clients",
		metric.WithDescription("Number of connected depth frame publishers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("theremin.http.request.duration",
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

// RecordFrame records one processed depth frame with its outcome.
func (m *Metrics) RecordFrame(ctx context.Context, outcome string) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordGlide records a glide lifecycle event.
func (m *Metrics) RecordGlide(ctx context.Context, event string) {
	m.Glides.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordRetune records a fundamental pushed to the voice bank.
func (m *Metrics) RecordRetune(ctx context.Context, hz float64) {
	m.Fundamental.Record(ctx, hz)
	m.VoiceUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "retune")))
}

// RecordSilence records the voice bank being muted.
func (m *Metrics) RecordSilence(ctx context.Context) {
	m.VoiceUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "silence")))
}
