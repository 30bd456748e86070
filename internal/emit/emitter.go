// Package emit provides pluggable observability for the orchestration
// core, independent of how a deployment wants to consume it (stdout
// logging, OpenTelemetry spans, in-memory capture for tests, or nothing).
//
// Grounded on the teacher's graph/emit package; adapted from per-node
// execution events to per-tool-call orchestration events.
package emit

import "context"

// Emitter receives observability events produced while handling tool
// calls. Implementations must not block the caller and must not panic.
type Emitter interface {
	Emit(event Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}
