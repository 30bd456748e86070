package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into a zero-duration OpenTelemetry span,
// so a trace backend can correlate tool-call activity with whatever else
// it is tracing in the same process.
//
// Grounded on the teacher's graph/emit.OTelEmitter (there one span per
// node execution); adapted to one span per durable-core observability
// event (advance/block/checkpoint/error) instead of per-node-run.
type OTelEmitter struct {
	tracer trace.Tracer
}

func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Kind)
	defer span.End()
	span.SetAttributes(
		attribute.String("sessionId", event.SessionID),
		attribute.String("runId", event.RunID),
		attribute.String("nodeId", event.NodeID),
	)
	for k, v := range event.Meta {
		span.SetAttributes(attribute.String(k, toAttrString(v)))
	}
	if event.Kind == "advance_blocked" || event.Kind == "tool_error" {
		span.SetStatus(codes.Error, event.Msg)
	}
}

func (o *OTelEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		o.Emit(e)
	}
	return nil
}

// Flush is a no-op: span export is owned by the configured
// TracerProvider's batcher, not by this emitter.
func (o *OTelEmitter) Flush(context.Context) error { return nil }

func toAttrString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
