// Package tracing configures the process-wide OpenTelemetry trace
// provider. Spans started through it flow into the trace/span attributes
// the logging and events packages attach to their output.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Options configures Setup.
type Options struct {
	ServiceName string
	// Disabled installs nothing and returns a tracer from the current
	// global provider, which is a no-op one unless a provider was set.
	Disabled bool
}

// Setup installs the global trace provider and returns a Tracer plus a
// shutdown function flushing any pending spans.
func Setup(opts Options) (trace.Tracer, func(context.Context) error) {
	name := opts.ServiceName
	if name == "" {
		name = "gtecs-alert-sentinel"
	}
	if opts.Disabled {
		return otel.GetTracerProvider().Tracer(name), func(context.Context) error { return nil }
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(name),
	))
	if err != nil {
		res = resource.Default()
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Tracer(name), tp.Shutdown
}
