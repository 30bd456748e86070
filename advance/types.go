// Package advance implements the orchestration core described in spec
// §4.13: the shared executeAdvanceCore pipeline driving start_workflow,
// continue_workflow, and checkpoint_workflow, plus the fresh/retry state
// machine that routes every advance to either a successful step or a
// blocked attempt.
//
// Grounded on the teacher's graph/engine.go Run loop (the single place
// that drives a node to completion, handles errors, and persists a
// checkpoint) restructured around this domain's start/continue/checkpoint
// intents instead of a generic node scheduler.
package advance

import (
	"context"
	"encoding/json"

	"github.com/workrail/durable-core/domain"
	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/id"
	"github.com/workrail/durable-core/internal/emit"
	"github.com/workrail/durable-core/internal/telemetry"
	"github.com/workrail/durable-core/interp"
	"github.com/workrail/durable-core/session"
	"github.com/workrail/durable-core/snapshotstore"
	"github.com/workrail/durable-core/token"
	"github.com/workrail/durable-core/workflowstore"
)

// Code is the closed error-code set this package returns on top of the
// ones its dependencies already define.
type Code string

const (
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodePreconditionFailed Code = "PRECONDITION_FAILED"
	CodeInternalError      Code = "INTERNAL_ERROR"

	// Token errors (spec §7), surfaced verbatim from the token package.
	CodeTokenInvalidFormat Code = Code(token.CodeInvalidFormat)
	CodeTokenBadSignature  Code = Code(token.CodeBadSignature)
	CodeTokenScopeMismatch Code = Code(token.CodeScopeMismatch)
	CodeTokenUnknownNode   Code = Code(token.CodeUnknownNode)
	CodeTokenSessionLocked Code = Code(token.CodeSessionLocked)

	// State errors (spec §7), surfaced verbatim from the session package.
	CodeSessionLocked     Code = Code(session.CodeSessionLocked)
	CodeSessionNotHealthy Code = Code(session.CodeSessionNotHealthy)

	// Integrity / projection / domain-engine errors (spec §7), surfaced
	// verbatim from their owning packages.
	CodeSessionStoreInvariantViolation Code = "SESSION_STORE_INVARIANT_VIOLATION"
	CodeSnapshotCorrupt                Code = "SNAPSHOT_CORRUPT"
	CodeProjectionInvariantViolation   Code = "PROJECTION_INVARIANT_VIOLATION"
	CodeProjectionCorruptionDetected   Code = "PROJECTION_CORRUPTION_DETECTED"
	CodeAdvanceApplyFailed             Code = "advance_apply_failed"
	CodeAdvanceNextFailed              Code = "advance_next_failed"
	CodeInvariantViolation             Code = "invariant_violation"
)

// RetryKind is the closed retry-advice set attached to an error.
type RetryKind string

const (
	RetryNone       RetryKind = ""
	RetryRetryable  RetryKind = "retryable"
	RetryNotRetry   RetryKind = "not_retryable"
)

// Retry is the retry hint on an Error.
type Retry struct {
	Kind    RetryKind
	AfterMs int
}

// Error is the structured error this package returns (spec §7 universal
// envelope, minus the tool-boundary wrapping which lives outside core
// scope).
type Error struct {
	Code    Code
	Message string
	Retry   Retry
	// Suggestion accompanies CodeInternalError per spec §7.
	Suggestion string
	// Details carries structured error context (e.g. the session Health
	// verdict for CodeSessionNotHealthy, spec §8 S6), kept as a generic map
	// since its shape is error-kind-specific.
	Details map[string]any
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// Validator runs a step's declared validation criteria against its
// supplied output. It is an external collaborator (spec §1 scope
// exclusion for the validation/evaluation engine); advance only bounds it
// with a timeout and maps its result into the domain model.
type Validator func(ctx context.Context, criteria []string, notesMarkdown string, artifacts []domain.ArtifactInput) (domain.ValidationOutcome, error)

// WorkflowMeta is the catalog-level description of an authored workflow,
// independent of any particular compile (spec §6 "list_workflows").
type WorkflowMeta struct {
	WorkflowID  string
	Name        string
	Description string
	Version     string
}

// Library resolves authored workflow definitions by id. It is the one
// ambient, non-content-addressed collaborator in Ports: the workflow
// library loader itself is out of this core's scope (spec §1), so Library
// is a narrow seam a caller fills with whatever loads workflow authoring
// documents. Once compiled and pinned, a workflow's durable identity is
// its WorkflowHash in Ports.Workflows; Library is never consulted again
// for an already-pinned hash.
type Library interface {
	List() []WorkflowMeta
	Get(workflowID string) (interp.PinnedWorkflow, bool)
}

// Ports bundles the storage and signing dependencies Orchestrator drives.
type Ports struct {
	EventLog  *eventlog.Store
	Snapshots *snapshotstore.Store
	Workflows *workflowstore.Store
	Gate      *session.Gate
	Validate  Validator
	Library   Library
	Keys      token.Keys

	// Emitter receives observability events for each tool call. Optional;
	// a nil Emitter disables emission (equivalent to emit.NewNullEmitter()).
	Emitter emit.Emitter
	// Metrics records Prometheus counters/histograms for each tool call.
	// Optional; a nil Metrics disables recording.
	Metrics *telemetry.Metrics
}

// emitEvent sends an observability event through Ports.Emitter if one is
// configured; it is always safe to call.
func (o *Orchestrator) emitEvent(sessionID id.SessionID, runID id.RunID, nodeID id.NodeID, kind, msg string, meta map[string]any) {
	if o.ports.Emitter == nil {
		return
	}
	o.ports.Emitter.Emit(emit.Event{
		SessionID: string(sessionID),
		RunID:     string(runID),
		NodeID:    string(nodeID),
		Kind:      kind,
		Msg:       msg,
		Meta:      meta,
	})
}

// startCall marks a tool call as in-flight for Ports.Metrics, returning a
// func that records its outcome. Safe to call with a nil Metrics port.
func (o *Orchestrator) startCall() func(tool, outcome string) {
	if o.ports.Metrics == nil {
		return func(string, string) {}
	}
	return o.ports.Metrics.StartCall()
}

// recordAppend records an event_log_appends_total observation for
// Ports.Metrics. Safe to call with a nil Metrics port.
func (o *Orchestrator) recordAppend(err error) {
	if o.ports.Metrics == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "invariant_violation"
	}
	o.ports.Metrics.RecordAppend(outcome)
}

// Orchestrator runs the advance core and its three tool handlers over a
// fixed set of ports.
type Orchestrator struct {
	ports Ports
	cfg   config
}

// New constructs an Orchestrator.
func New(ports Ports, opts ...Option) *Orchestrator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Orchestrator{ports: ports, cfg: cfg}
}

// Mode selects the fresh-advance or retry-after-block path through
// executeAdvanceCore.
type Mode int

const (
	// ModeFresh advances from a running node's pending step.
	ModeFresh Mode = iota
	// ModeRetry re-attempts the pending step recorded on a blocked_attempt
	// node.
	ModeRetry
)

// AdvanceInput is the normalized input to executeAdvanceCore, already
// stripped of wire-format concerns (token parsing happens at the tool
// handler layer).
type AdvanceInput struct {
	Mode Mode

	SessionID    id.SessionID
	RunID        id.RunID
	SourceNodeID id.NodeID // the node being advanced from (mode-dependent which kind)
	AttemptID    id.AttemptID
	WorkflowHash id.WorkflowHash

	PriorSnapshot domain.ExecutionSnapshot

	IncomingContext json.RawMessage
	NotesMarkdown   string
	Artifacts       []domain.ArtifactInput
}

// OutcomeKind is the closed set of executeAdvanceCore outcomes.
type OutcomeKind string

const (
	OutcomeOK      OutcomeKind = "ok"
	OutcomeBlocked OutcomeKind = "blocked"
)

// NextCall is a best-effort, non-durable UX hint suggesting the next tool
// call (spec §9 Open Question (b)): never persisted, never replayed.
type NextCall struct {
	Tool   string
	Intent string
}

// Outcome is executeAdvanceCore's result, ready for the handler layer to
// mint tokens from.
type Outcome struct {
	Kind OutcomeKind

	ToNodeID      id.NodeID
	ToAttemptID   id.AttemptID
	IsComplete    bool
	PendingStepID string

	Blockers       domain.BlockerReport
	ValidationRef  string
	RetryAttemptID id.AttemptID

	Snapshot     domain.ExecutionSnapshot
	SnapshotRef  id.SnapshotRef
	DecisionTrace interp.DecisionTrace
	NextCall      *NextCall
}
