package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewTracerProvider builds a minimal in-process TracerProvider and
// installs it as the global provider, returning a tracer scoped to this
// module plus a shutdown func the caller must run on exit.
//
// Grounded on the teacher's graph/emit/otel.go doc comment for wiring an
// SDK TracerProvider ahead of an OTelEmitter; the teacher left SDK setup
// to application code. Nothing in this module calls it; workrail-debug
// (cmd/workrail-debug) wires only a LogEmitter.
func NewTracerProvider(opts ...sdktrace.TracerProviderOption) (trace.Tracer, func(context.Context) error) {
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Tracer("workrail/durable-core"), tp.Shutdown
}
