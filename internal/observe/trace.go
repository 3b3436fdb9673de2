package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for spans started by this module.
const tracerName = "github.com/MrWong99/theremin"

// Span attributes describing the instrument. Control requests and config
// reloads tag their spans with the settings they changed.
const (
	AttrEnabled         = attribute.Key("theremin.enabled")
	AttrWaveform        = attribute.Key("theremin.waveform")
	AttrAmplitude       = attribute.Key("theremin.amplitude")
	AttrGlideEnabled    = attribute.Key("theremin.glide.enabled")
	AttrOutOfRange      = attribute.Key("theremin.out_of_range")
	AttrRestartRequired = attribute.Key("theremin.config.restart_required")
)

// rejectedEvent is added to a span when the control plane refuses a request.
const rejectedEvent = "theremin.control.rejected"

// StartSpan starts a span named name on the global tracer provider. The
// caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// Annotate sets attrs on the span carried by ctx. Without a recording span it
// does nothing.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// Reject records on the span in ctx that a control request was refused, and
// logs reason at debug level with the trace IDs attached.
func Reject(ctx context.Context, reason string) {
	trace.SpanFromContext(ctx).AddEvent(rejectedEvent,
		trace.WithAttributes(attribute.String("reason", reason)))
	Logger(ctx).Debug("control request rejected", "reason", reason)
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. HTTP responses echo it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, with trace_id and span_id attached when
// ctx carries a span.
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
