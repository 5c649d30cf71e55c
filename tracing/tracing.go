// Package tracing bootstraps the process-wide OpenTelemetry tracer
// provider for cmd/urpmd and cmd/urpm (SPEC_FULL.md's ambient observability
// stack). No other package in this module fetches a tracer or creates
// spans; [Tracer] is the helper for doing so.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	otrace "go.opentelemetry.io/otel/trace"
)

// Bootstrap installs the global tracer provider. When w is nil, tracing is
// a configured no-op (NeverSample): spans are created but never exported,
// matching the teacher's "tracing must never break the server" stance in
// pkg/tracing's disabled() path.
//
// w is normally an opened file when a caller passed the CLI's --app-trace
// equivalent; closing it after [Close] is the caller's responsibility, same
// division as the teacher's test.Main/WithApplicationTrace pair.
func Bootstrap(ctx context.Context, w io.Writer, serviceName string) (*trace.TracerProvider, error) {
	opts := []trace.TracerProviderOption{
		trace.WithResource(resource.NewSchemaless(semconv.ServiceName(serviceName))),
	}

	if w == nil {
		opts = append(opts, trace.WithSampler(trace.NeverSample()))
	} else {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("tracing: creating exporter: %w", err)
		}
		opts = append(opts, trace.WithSampler(trace.AlwaysSample()), trace.WithBatcher(exporter))
	}

	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the named tracer, tagged with the semconv schema URL. No
// package in this module calls it.
func Tracer(name string) otrace.Tracer {
	return otel.Tracer(name, otrace.WithSchemaURL(semconv.SchemaURL))
}
