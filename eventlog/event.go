// Package eventlog implements the append-only, content-addressed event log
// and manifest control stream described in spec §3 and §4.8: JCS-encoded,
// length-prefixed records, strict eventIndex monotonicity, dedupe-key
// idempotence, and a closed, exhaustively-matchable event-kind union.
//
// Grounded on other_examples/0a64582a_quantumlife-canon-core__pkg-domain-
// storelog-log.go.go's append-only, closed-record-type log (adapted from a
// single flat TYPE|VERSION|TS|HASH|PAYLOAD line format to JCS length-
// prefixed JSON records) and on the teacher's Store[S] interface shape
// (graph/store/store.go), generalized from arbitrary state snapshots to a
// durable domain-event sequence.
package eventlog

import (
	"encoding/json"
	"fmt"

	"github.com/workrail/durable-core/id"
)

// Kind is the closed set of domain event kinds a session's log may contain.
type Kind string

const (
	KindSessionCreated      Kind = "session_created"
	KindObservationRecorded Kind = "observation_recorded"
	KindRunStarted          Kind = "run_started"
	KindNodeCreated         Kind = "node_created"
	KindEdgeCreated         Kind = "edge_created"
	KindAdvanceRecorded     Kind = "advance_recorded"
	KindValidationPerformed Kind = "validation_performed"
	KindNodeOutputAppended  Kind = "node_output_appended"
	KindPreferencesChanged  Kind = "preferences_changed"
	KindCapabilityObserved  Kind = "capability_observed"
	KindGapRecorded         Kind = "gap_recorded"
	KindContextSet          Kind = "context_set"
	KindDivergenceRecorded  Kind = "divergence_recorded"
	KindDecisionTraceAppended Kind = "decision_trace_appended"
)

// allKinds is used by validation to reject unknown kinds fail-closed.
var allKinds = map[Kind]bool{
	KindSessionCreated: true, KindObservationRecorded: true, KindRunStarted: true,
	KindNodeCreated: true, KindEdgeCreated: true, KindAdvanceRecorded: true,
	KindValidationPerformed: true, KindNodeOutputAppended: true, KindPreferencesChanged: true,
	KindCapabilityObserved: true, KindGapRecorded: true, KindContextSet: true,
	KindDivergenceRecorded: true, KindDecisionTraceAppended: true,
}

// IsKnownKind reports whether k is one of the closed event kinds.
func IsKnownKind(k Kind) bool { return allKinds[k] }

// Scope narrows an event to the run and/or node it pertains to.
type Scope struct {
	RunID  id.RunID  `json:"runId,omitempty"`
	NodeID id.NodeID `json:"nodeId,omitempty"`
}

// Event is a single DomainEventV1 record (spec §3 "Event log").
type Event struct {
	V          int             `json:"v"`
	EventID    id.EventID      `json:"eventId"`
	EventIndex int             `json:"eventIndex"`
	SessionID  id.SessionID    `json:"sessionId"`
	Kind       Kind            `json:"kind"`
	DedupeKey  string          `json:"dedupeKey"`
	Scope      *Scope          `json:"scope,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// NewEvent builds an Event with the given kind-specific payload marshaled
// into Data. v is always 1 for this schema version.
func NewEvent(eventID id.EventID, index int, sessionID id.SessionID, kind Kind, dedupeKey string, scope *Scope, payload any) (Event, error) {
	if !IsKnownKind(kind) {
		return Event{}, fmt.Errorf("eventlog: unknown event kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: marshal payload for %s: %w", kind, err)
	}
	return Event{
		V:          1,
		EventID:    eventID,
		EventIndex: index,
		SessionID:  sessionID,
		Kind:       kind,
		DedupeKey:  dedupeKey,
		Scope:      scope,
		Data:       raw,
	}, nil
}

// DecodeData unmarshals e.Data into out; callers switch on e.Kind first to
// pick the correct concrete type, matching the "tagged sum, single kind
// discriminant" shape spec §9 calls for.
func (e Event) DecodeData(out any) error {
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("eventlog: decode data for %s: %w", e.Kind, err)
	}
	return nil
}

// Kind-specific payload shapes (spec §3/§4 data model).

type SessionCreatedData struct {
	CreatedAtUnixNano int64 `json:"createdAtUnixNano"`
}

type ObservationRecordedData struct {
	Note string `json:"note"`
}

type RunStartedData struct {
	RunID            id.RunID        `json:"runId"`
	WorkflowID       string          `json:"workflowId"`
	WorkflowHash     id.WorkflowHash `json:"workflowHash"`
	InitialContext   json.RawMessage `json:"initialContext,omitempty"`
}

type NodeKind string

const (
	NodeKindStep           NodeKind = "step"
	NodeKindBlockedAttempt NodeKind = "blocked_attempt"
	NodeKindCheckpoint     NodeKind = "checkpoint"
)

type NodeCreatedData struct {
	NodeID       id.NodeID       `json:"nodeId"`
	NodeKind     NodeKind        `json:"nodeKind"`
	ParentNodeID id.NodeID       `json:"parentNodeId,omitempty"`
	WorkflowHash id.WorkflowHash `json:"workflowHash"`
	SnapshotRef  id.SnapshotRef  `json:"snapshotRef"`
	AttemptID    id.AttemptID    `json:"attemptId"`
}

type EdgeKind string

const (
	EdgeKindAckedStep  EdgeKind = "acked_step"
	EdgeKindCheckpoint EdgeKind = "checkpoint"
)

type CauseKind string

const (
	CauseIntentionalFork CauseKind = "intentional_fork"
	CauseNonTipAdvance   CauseKind = "non_tip_advance"
	CauseIdempotentReplay CauseKind = "idempotent_replay"
	CauseCheckpointCreated CauseKind = "checkpoint_created"
)

type Cause struct {
	Kind CauseKind `json:"kind"`
}

type EdgeCreatedData struct {
	EdgeKind   EdgeKind  `json:"edgeKind"`
	FromNodeID id.NodeID `json:"fromNodeId"`
	ToNodeID   id.NodeID `json:"toNodeId"`
	Cause      Cause     `json:"cause"`
}

type AdvanceOutcomeKind string

const (
	AdvanceOutcomeOK      AdvanceOutcomeKind = "ok"
	AdvanceOutcomeBlocked AdvanceOutcomeKind = "blocked"
)

type AdvanceRecordedData struct {
	NodeID     id.NodeID          `json:"nodeId"`
	AttemptID  id.AttemptID       `json:"attemptId"`
	Outcome    AdvanceOutcomeKind `json:"outcome"`
	StepID     string             `json:"stepId,omitempty"`
}

type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationPerformedData struct {
	NodeID      id.NodeID `json:"nodeId"`
	Valid       bool      `json:"valid"`
	Issues      []Issue   `json:"issues,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

type OutputChannel string

const (
	OutputChannelRecap    OutputChannel = "recap"
	OutputChannelArtifact OutputChannel = "artifact"
)

type NotesPayload struct {
	NotesMarkdown string `json:"notesMarkdown"`
}

type ArtifactRefPayload struct {
	Sha256      id.Sha256Digest `json:"sha256"`
	ContentType string          `json:"contentType"`
	ByteLength  int64           `json:"byteLength"`
	Content     string          `json:"content,omitempty"`
}

type NodeOutputAppendedData struct {
	NodeID      id.NodeID           `json:"nodeId"`
	OutputID    id.OutputID         `json:"outputId"`
	Channel     OutputChannel       `json:"outputChannel"`
	Notes       *NotesPayload       `json:"notes,omitempty"`
	ArtifactRef *ArtifactRefPayload `json:"artifactRef,omitempty"`
}

type PreferencesChangedData struct {
	Preferences json.RawMessage `json:"preferences"`
}

type CapabilityObservedData struct {
	Capability string `json:"capability"`
}

type GapRecordedData struct {
	ReasonCode string `json:"reasonCode"`
	Detail     string `json:"detail,omitempty"`
}

type ContextSetData struct {
	RunID   id.RunID        `json:"runId"`
	Context json.RawMessage `json:"context"`
}

type DivergenceRecordedData struct {
	Detail string `json:"detail"`
}

type DecisionTraceAppendedData struct {
	NodeID  id.NodeID `json:"nodeId"`
	Entries []string  `json:"entries"`
}
