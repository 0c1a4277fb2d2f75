package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer provides lightweight span helpers for the pipeline driver and the
// governance evaluate path, so both are traceable end to end under a single
// OpenTelemetry provider.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TraceConfig configures the tracer. Passing a nil Exporter runs tracing
// in no-op mode (spans created and discarded, no network calls) which is
// the default posture outside of a deployment with a collector configured.
type TraceConfig struct {
	ServiceName string
	Exporter    sdktrace.SpanExporter
}

// NewTracer builds a Tracer. If config.Exporter is nil, spans are still
// createable (useful for local context propagation and tests) but nothing
// is exported.
func NewTracer(config TraceConfig) *Tracer {
	opts := []sdktrace.TracerProviderOption{}
	if config.Exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(config.Exporter))
	}
	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	name := config.ServiceName
	if name == "" {
		name = "governor"
	}
	return &Tracer{provider: provider, tracer: provider.Tracer(name)}
}

// Start begins a new span named op, returning the derived context.
func (t *Tracer) Start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

// RecordError marks the current span (if any) as failed.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

func spanAttrsFromContext(ctx context.Context) []any {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return []any{
		"trace_id", span.SpanContext().TraceID().String(),
		"span_id", span.SpanContext().SpanID().String(),
	}
}
