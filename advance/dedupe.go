package advance

import (
	"fmt"

	"github.com/workrail/durable-core/id"
)

// dedupeKey derives the idempotency key an event's append carries, per
// spec §4.13's "idempotency recipe": a pure function of
// (sessionId, runId, nodeId, attemptId, event-kind-tag), so a full replay
// with the same token reproduces identical keys and the store no-ops.
func dedupeKey(sessionID id.SessionID, runID id.RunID, nodeID id.NodeID, attemptID id.AttemptID, tag string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", sessionID, runID, nodeID, attemptID, tag)
}
