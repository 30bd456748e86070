package emit

// Event is one observability event describing something that happened
// while advancing a session: a tool call handled, a step advanced, a
// node blocked, a checkpoint created.
//
// Adapted from the teacher's graph/emit.Event (RunID/Step/NodeID/Msg/Meta)
// to this domain's branded identifiers and event-kind vocabulary.
type Event struct {
	SessionID string
	RunID     string
	NodeID    string

	// Kind is a short event-kind tag, e.g. "advance_ok", "advance_blocked",
	// "checkpoint_created", "tool_error".
	Kind string

	// Msg is a human-readable description.
	Msg string

	// Meta carries event-kind-specific structured data, e.g.
	// "durationMs", "reasonCode", "retryable".
	Meta map[string]any
}
