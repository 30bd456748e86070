package emit

import "context"

// NullEmitter discards every event. Grounded on the teacher's
// graph/emit.NullEmitter; used when a deployment wants zero observability
// overhead.
type NullEmitter struct{}

func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (NullEmitter) Emit(Event) {}

func (NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (NullEmitter) Flush(context.Context) error { return nil }
