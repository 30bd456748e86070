package advance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/workrail/durable-core/canon"
	"github.com/workrail/durable-core/domain"
	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/id"
	"github.com/workrail/durable-core/interp"
	"github.com/workrail/durable-core/lockwitness"
	"github.com/workrail/durable-core/projection"
	"github.com/workrail/durable-core/token"
)

// WorkflowListing is one entry of ListWorkflows' result.
type WorkflowListing struct {
	WorkflowMeta
	WorkflowHash id.WorkflowHash
}

// InspectMode selects how much of a compiled workflow InspectWorkflow
// returns (spec §6 "mode: metadata | preview").
type InspectMode string

const (
	InspectMetadata InspectMode = "metadata"
	InspectPreview  InspectMode = "preview"
)

// InspectResult is InspectWorkflow's result.
type InspectResult struct {
	WorkflowHash id.WorkflowHash
	Compiled     interp.CompiledWorkflow
}

// ListWorkflows enumerates the library's catalog, pinning each workflow's
// compiled form on first observation (spec §6 "list_workflows").
func (o *Orchestrator) ListWorkflows() ([]WorkflowListing, error) {
	metas := o.ports.Library.List()
	out := make([]WorkflowListing, 0, len(metas))
	for _, m := range metas {
		pw, ok := o.ports.Library.Get(m.WorkflowID)
		if !ok {
			continue
		}
		compiled, err := interp.Compile(pw)
		if err != nil {
			return nil, &Error{Code: CodeValidationError, Message: err.Error()}
		}
		hash, err := o.ports.Workflows.Put(compiled)
		if err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, WorkflowListing{WorkflowMeta: m, WorkflowHash: hash})
	}
	return out, nil
}

// InspectWorkflow compiles and pins workflowID, returning the compiled
// snapshot plus its hash (spec §6 "inspect_workflow"). InspectMetadata
// omits step bodies; InspectPreview returns the full resolved step
// sequence.
func (o *Orchestrator) InspectWorkflow(workflowID string, mode InspectMode) (InspectResult, error) {
	pw, ok := o.ports.Library.Get(workflowID)
	if !ok {
		return InspectResult{}, &Error{Code: CodeNotFound, Message: fmt.Sprintf("workflow %q not found", workflowID)}
	}
	compiled, err := interp.Compile(pw)
	if err != nil {
		return InspectResult{}, &Error{Code: CodeValidationError, Message: err.Error()}
	}
	compiled.SourceKind = string(mode)
	hash, err := o.ports.Workflows.Put(compiled)
	if err != nil {
		return InspectResult{}, wrapErr(err)
	}
	if mode == InspectMetadata {
		compiled.Steps = nil
	}
	return InspectResult{WorkflowHash: hash, Compiled: compiled}, nil
}

// StartInput is StartWorkflow's input.
type StartInput struct {
	WorkflowID string
	Context    json.RawMessage
}

// TokenSet is the signed-capability bundle a response hands back to the
// caller.
type TokenSet struct {
	StateToken      string
	AckToken        string
	CheckpointToken string
}

// StartResult is StartWorkflow's result.
type StartResult struct {
	Tokens        TokenSet
	IsComplete    bool
	PendingStepID string
	NextCall      *NextCall
}

// StartWorkflow creates a new session and its root node (spec §6
// "start_workflow"): compiles and pins the workflow, runs the interpreter
// from engine-state init to the first pending step, and appends
// session_created + run_started + node_created atomically.
func (o *Orchestrator) StartWorkflow(in StartInput) (res StartResult, err error) {
	done := o.startCall()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		done("start_workflow", outcome)
	}()

	pw, ok := o.ports.Library.Get(in.WorkflowID)
	if !ok {
		return StartResult{}, &Error{Code: CodeNotFound, Message: fmt.Sprintf("workflow %q not found", in.WorkflowID)}
	}
	compiled, err := interp.Compile(pw)
	if err != nil {
		return StartResult{}, &Error{Code: CodeValidationError, Message: err.Error()}
	}
	workflowHash, err := o.ports.Workflows.Put(compiled)
	if err != nil {
		return StartResult{}, wrapErr(err)
	}

	mergedContext := map[string]any{}
	if len(in.Context) > 0 {
		if err := json.Unmarshal(in.Context, &mergedContext); err != nil {
			return StartResult{}, &Error{Code: CodeValidationError, Message: "context must be a JSON object"}
		}
	}
	contextBytes, err := canon.Marshal(mergedContext)
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if len(contextBytes) > maxContextBytes {
		return StartResult{}, &Error{Code: CodeValidationError, Message: "context exceeds 256 KiB canonical bytes"}
	}

	result, err := interp.Next(compiled, domain.EngineState{Kind: domain.EngineStateInit}, mergedContext, nil)
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	sessionID, err := id.MintSessionID()
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	runID, err := id.MintRunID()
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	rootNodeID, err := id.MintNodeID()
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	attemptID, err := id.MintAttemptID()
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	snapshot := domain.NewExecutionSnapshot(result.State)
	snapshotRef, err := o.ports.Snapshots.Put(snapshot)
	if err != nil {
		return StartResult{}, wrapErr(err)
	}

	var events []eventlog.Event
	idx := 0

	sessEventID, err := id.MintEventID()
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	sessEv, err := eventlog.NewEvent(sessEventID, idx, sessionID, eventlog.KindSessionCreated,
		dedupeKey(sessionID, runID, rootNodeID, attemptID, "session_created"), nil,
		eventlog.SessionCreatedData{CreatedAtUnixNano: time.Now().UnixNano()})
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	events = append(events, sessEv)
	idx++

	runEventID, err := id.MintEventID()
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	runEv, err := eventlog.NewEvent(runEventID, idx, sessionID, eventlog.KindRunStarted,
		dedupeKey(sessionID, runID, rootNodeID, attemptID, "run_started"),
		&eventlog.Scope{RunID: runID}, eventlog.RunStartedData{
			RunID: runID, WorkflowID: in.WorkflowID, WorkflowHash: workflowHash, InitialContext: in.Context,
		})
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	events = append(events, runEv)
	idx++

	nodeEventID, err := id.MintEventID()
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	nodeEv, err := eventlog.NewEvent(nodeEventID, idx, sessionID, eventlog.KindNodeCreated,
		dedupeKey(sessionID, runID, rootNodeID, attemptID, "node_created"),
		&eventlog.Scope{RunID: runID, NodeID: rootNodeID}, eventlog.NodeCreatedData{
			NodeID: rootNodeID, NodeKind: eventlog.NodeKindStep, WorkflowHash: workflowHash,
			SnapshotRef: snapshotRef, AttemptID: attemptID,
		})
	if err != nil {
		return StartResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	events = append(events, nodeEv)

	plan := eventlog.AppendPlan{Events: events, SnapshotPins: []id.SnapshotRef{snapshotRef}}
	if err := o.ports.Gate.WithHealthySessionLock(sessionID, func(w lockwitness.Witness) error {
		appendErr := o.ports.EventLog.Append(w, sessionID, plan)
		o.recordAppend(appendErr)
		return appendErr
	}); err != nil {
		return StartResult{}, mapSessionErr(err)
	}

	tokens, err := o.mintTokens(sessionID, runID, rootNodeID, workflowHash, attemptID, result.Intent == interp.IntentComplete)
	if err != nil {
		return StartResult{}, err
	}

	out := StartResult{
		Tokens:        tokens,
		IsComplete:    result.Intent == interp.IntentComplete,
		PendingStepID: result.PendingStepID,
	}
	if !out.IsComplete {
		out.NextCall = &NextCall{Tool: "continue_workflow", Intent: "advance"}
	}
	o.emitEvent(sessionID, runID, rootNodeID, "start_ok", "session started", map[string]any{"workflowId": in.WorkflowID})
	return out, nil
}

// ContinueInput is ContinueWorkflow's input.
type ContinueInput struct {
	// Intent is "advance" or "rehydrate" (spec §6 "continue_workflow").
	Intent        string
	StateToken    string
	AckToken      string
	Context       json.RawMessage
	NotesMarkdown string
	Artifacts     []domain.ArtifactInput
}

// ContinueResult is ContinueWorkflow's result: the OK/blocked shapes spec
// §6 describes, unified into one struct with the irrelevant fields left
// zero.
type ContinueResult struct {
	Kind OutcomeKind

	Tokens        TokenSet
	RetryAckToken string

	IsComplete    bool
	PendingStepID string
	NextCall      *NextCall

	Validation *domain.ValidationOutcome
	Blockers   domain.BlockerReport

	Recap []domain.RecapEntry
}

const (
	intentAdvance   = "advance"
	intentRehydrate = "rehydrate"
)

// ContinueWorkflow drives one step forward ("advance") or re-derives the
// current pending step and tokens without mutating anything ("rehydrate")
// (spec §6 "continue_workflow").
func (o *Orchestrator) ContinueWorkflow(ctx context.Context, in ContinueInput) (res ContinueResult, err error) {
	done := o.startCall()
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.Kind == OutcomeBlocked:
			outcome = "blocked"
		}
		done("continue_workflow_"+in.Intent, outcome)
	}()

	switch in.Intent {
	case intentAdvance:
		if in.AckToken == "" {
			return ContinueResult{}, &Error{Code: CodeValidationError, Message: "advance requires ackToken"}
		}
	case intentRehydrate:
		if in.AckToken != "" {
			return ContinueResult{}, &Error{Code: CodeValidationError, Message: "rehydrate forbids ackToken"}
		}
		if in.NotesMarkdown != "" || len(in.Artifacts) > 0 {
			return ContinueResult{}, &Error{Code: CodeValidationError, Message: "rehydrate forbids output"}
		}
	default:
		return ContinueResult{}, &Error{Code: CodeValidationError, Message: fmt.Sprintf("unknown intent %q", in.Intent)}
	}

	statePayload, err := token.Verify(in.StateToken, o.ports.Keys)
	if err != nil {
		return ContinueResult{}, wrapTokenErr(err)
	}
	if statePayload.Kind != token.KindState {
		return ContinueResult{}, &Error{Code: CodeValidationError, Message: "stateToken is not a state token"}
	}

	sessionID := statePayload.SessionID
	var result ContinueResult

	err = o.ports.Gate.WithHealthySessionLock(sessionID, func(w lockwitness.Witness) error {
		truth, lerr := o.ports.EventLog.Load(sessionID)
		if lerr != nil {
			return wrapErr(lerr)
		}
		dag, derr := projection.BuildDAG(truth.Events)
		if derr != nil {
			return wrapErr(derr)
		}
		node, ok := dag.NodesByID[statePayload.NodeID]
		if !ok {
			return &Error{Code: CodeTokenUnknownNode, Message: "stateToken references an unknown node"}
		}

		var snapshot domain.ExecutionSnapshot
		if gerr := o.ports.Snapshots.Get(node.SnapshotRef, &snapshot); gerr != nil {
			return wrapErr(gerr)
		}

		if in.Intent == intentRehydrate {
			r, rerr := o.rehydrate(truth.Events, dag, node, snapshot, statePayload)
			if rerr != nil {
				return rerr
			}
			result = r
			return nil
		}

		ackPayload, verr := token.Verify(in.AckToken, o.ports.Keys)
		if verr != nil {
			return wrapTokenErr(verr)
		}
		if ackPayload.Kind != token.KindAck {
			return &Error{Code: CodeValidationError, Message: "ackToken is not an ack token"}
		}
		if ackPayload.SessionID != statePayload.SessionID || ackPayload.RunID != statePayload.RunID || ackPayload.NodeID != statePayload.NodeID {
			return &Error{Code: CodeTokenScopeMismatch, Message: "ackToken scope does not match stateToken"}
		}

		var compiled interp.CompiledWorkflow
		if gerr := o.ports.Workflows.Get(node.WorkflowHash, &compiled); gerr != nil {
			return wrapErr(gerr)
		}

		mode := ModeFresh
		if node.NodeKind == eventlog.NodeKindBlockedAttempt {
			mode = ModeRetry
		}

		// A full replay of the same ackToken must return the exact
		// response the original call produced. Detect it before running
		// the pipeline: the child this attempt would produce already
		// exists in the DAG, keyed by (sourceNodeId, childAttempt) rather
		// than by any freshly-minted id this invocation would otherwise
		// mint (spec §4.13 idempotency recipe; spec §8 S2).
		childAttempt := id.DeriveChildAttemptID(ackPayload.TailAttemptID)
		var outcome Outcome
		if existing, ok := findReplayedChild(dag, statePayload.NodeID, childAttempt); ok {
			oc, oerr := o.outcomeFromExistingNode(existing)
			if oerr != nil {
				return oerr
			}
			outcome = oc
		} else {
			advIn := AdvanceInput{
				Mode:            mode,
				SessionID:       statePayload.SessionID,
				RunID:           statePayload.RunID,
				SourceNodeID:    statePayload.NodeID,
				AttemptID:       ackPayload.TailAttemptID,
				WorkflowHash:    node.WorkflowHash,
				PriorSnapshot:   snapshot,
				IncomingContext: in.Context,
				NotesMarkdown:   in.NotesMarkdown,
				Artifacts:       in.Artifacts,
			}

			oc, plan, oerr := o.executeAdvanceCore(ctx, w, truth.Events, compiled, advIn)
			if oerr != nil {
				return oerr
			}
			aerr := o.ports.EventLog.Append(w, sessionID, plan)
			o.recordAppend(aerr)
			if aerr != nil {
				return mapSessionErr(aerr)
			}
			outcome = oc
		}

		r, terr := o.continueResultFromOutcome(statePayload, node.WorkflowHash, outcome)
		if terr != nil {
			return terr
		}
		if outcome.Kind == OutcomeBlocked {
			reasonCode := ""
			if len(outcome.Blockers.Blockers) > 0 {
				reasonCode = string(outcome.Blockers.Blockers[0].Reason.Code)
			}
			if o.ports.Metrics != nil {
				o.ports.Metrics.RecordBlocked(string(compiled.WorkflowID), reasonCode)
			}
			o.emitEvent(statePayload.SessionID, statePayload.RunID, outcome.ToNodeID, "advance_blocked", "advance blocked", map[string]any{"reasonCode": reasonCode})
		} else {
			if mode == ModeRetry && o.ports.Metrics != nil {
				o.ports.Metrics.RecordRetry(string(compiled.WorkflowID))
			}
			o.emitEvent(statePayload.SessionID, statePayload.RunID, outcome.ToNodeID, "advance_ok", "advance committed", map[string]any{"isComplete": outcome.IsComplete})
		}
		result = r
		return nil
	})
	if err != nil {
		return ContinueResult{}, mapSessionErr(err)
	}
	return result, nil
}

// rehydrate recomputes tokens and a recap for the node a stateToken
// points at, without appending anything (spec §4.13 "A rehydrate intent
// is read-only").
func (o *Orchestrator) rehydrate(events []eventlog.Event, dag projection.DAG, node projection.Node, snapshot domain.ExecutionSnapshot, statePayload token.Payload) (ContinueResult, error) {
	isComplete := snapshot.EnginePayload.EngineState.Kind == domain.EngineStateComplete
	pendingStepID := ""
	if p := snapshot.EnginePayload.EngineState.Pending; p != nil {
		pendingStepID = p.StepID
	}

	tokens, err := o.mintTokens(statePayload.SessionID, statePayload.RunID, node.NodeID, node.WorkflowHash, node.AttemptID, isComplete)
	if err != nil {
		return ContinueResult{}, err
	}

	outputs, oerr := projection.BuildOutputs(events)
	if oerr != nil {
		return ContinueResult{}, wrapErr(oerr)
	}
	recap := domain.RecoverRecap(dag, outputs, dag.RootNodeID, node.NodeID)

	return ContinueResult{
		Kind:          OutcomeOK,
		Tokens:        tokens,
		IsComplete:    isComplete,
		PendingStepID: pendingStepID,
		Recap:         recap,
	}, nil
}

// continueResultFromOutcome mints the response tokens for a completed
// advance and shapes ContinueResult from the core's Outcome.
func (o *Orchestrator) continueResultFromOutcome(statePayload token.Payload, workflowHash id.WorkflowHash, outcome Outcome) (ContinueResult, error) {
	if outcome.Kind == OutcomeBlocked {
		// The next retry must be scoped to the blocked node: its stateToken
		// and retryAckToken both carry outcome.ToNodeID so a subsequent
		// advance resolves Mode via the node's blocked_attempt kind.
		retryAck, err := token.Sign(token.Payload{
			Kind: token.KindAck, SessionID: statePayload.SessionID, RunID: statePayload.RunID,
			NodeID: outcome.ToNodeID, TailAttemptID: outcome.RetryAttemptID,
		}, o.ports.Keys)
		if err != nil {
			return ContinueResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
		}
		stateTok, err := token.Sign(token.Payload{
			Kind: token.KindState, SessionID: statePayload.SessionID, RunID: statePayload.RunID,
			NodeID: outcome.ToNodeID, TailWorkflowHashRef: statePayload.TailWorkflowHashRef,
		}, o.ports.Keys)
		if err != nil {
			return ContinueResult{}, &Error{Code: CodeInternalError, Message: err.Error()}
		}
		return ContinueResult{
			Kind:          OutcomeBlocked,
			Tokens:        TokenSet{StateToken: stateTok},
			RetryAckToken: retryAck,
			Blockers:      outcome.Blockers,
		}, nil
	}

	tokens, err := o.mintTokens(statePayload.SessionID, statePayload.RunID, outcome.ToNodeID, workflowHash, outcome.ToAttemptID, outcome.IsComplete)
	if err != nil {
		return ContinueResult{}, err
	}
	result := ContinueResult{
		Kind:          OutcomeOK,
		Tokens:        tokens,
		IsComplete:    outcome.IsComplete,
		PendingStepID: outcome.PendingStepID,
	}
	if !outcome.IsComplete {
		result.NextCall = &NextCall{Tool: "continue_workflow", Intent: "advance"}
	}
	return result, nil
}

// CheckpointInput is CheckpointWorkflow's input.
type CheckpointInput struct {
	CheckpointToken string
}

// CheckpointResult is CheckpointWorkflow's result.
type CheckpointResult struct {
	CheckpointNodeID id.NodeID
	StateToken       string
}

// CheckpointWorkflow creates a checkpoint node and edge from the node a
// checkpointToken references, without advancing execution (spec §6
// "checkpoint_workflow"). Replaying the same checkpointToken is a no-op
// that returns the same checkpointNodeId, by construction of the
// checkpoint's dedupe key (derived solely from the token's node+attempt).
func (o *Orchestrator) CheckpointWorkflow(in CheckpointInput) (res CheckpointResult, err error) {
	done := o.startCall()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		done("checkpoint_workflow", outcome)
	}()

	payload, err := token.Verify(in.CheckpointToken, o.ports.Keys)
	if err != nil {
		return CheckpointResult{}, wrapTokenErr(err)
	}
	if payload.Kind != token.KindCheckpoint {
		return CheckpointResult{}, &Error{Code: CodeValidationError, Message: "checkpointToken is not a checkpoint token"}
	}

	var result CheckpointResult
	err = o.ports.Gate.WithHealthySessionLock(payload.SessionID, func(w lockwitness.Witness) error {
		truth, lerr := o.ports.EventLog.Load(payload.SessionID)
		if lerr != nil {
			return wrapErr(lerr)
		}
		dag, derr := projection.BuildDAG(truth.Events)
		if derr != nil {
			return wrapErr(derr)
		}
		node, ok := dag.NodesByID[payload.NodeID]
		if !ok {
			return &Error{Code: CodeTokenUnknownNode, Message: "checkpointToken references an unknown node"}
		}

		checkpointNodeID, merr := id.MintNodeID()
		if merr != nil {
			return &Error{Code: CodeInternalError, Message: merr.Error()}
		}
		// A replay of the same checkpointToken reuses the checkpoint node its
		// first call committed; the unchanged dedupe keys make the append a no-op.
		for _, n := range dag.NodesByID {
			if n.NodeKind == eventlog.NodeKindCheckpoint && n.ParentNodeID == node.NodeID && n.AttemptID == payload.TailAttemptID {
				checkpointNodeID = n.NodeID
			}
		}

		nodeEventID, merr := id.MintEventID()
		if merr != nil {
			return &Error{Code: CodeInternalError, Message: merr.Error()}
		}
		nodeEv, everr := eventlog.NewEvent(nodeEventID, len(truth.Events), payload.SessionID, eventlog.KindNodeCreated,
			dedupeKey(payload.SessionID, payload.RunID, node.NodeID, payload.TailAttemptID, "checkpoint_node"),
			&eventlog.Scope{RunID: payload.RunID, NodeID: checkpointNodeID}, eventlog.NodeCreatedData{
				NodeID: checkpointNodeID, NodeKind: eventlog.NodeKindCheckpoint, ParentNodeID: node.NodeID,
				WorkflowHash: node.WorkflowHash, SnapshotRef: node.SnapshotRef, AttemptID: payload.TailAttemptID,
			})
		if everr != nil {
			return &Error{Code: CodeInternalError, Message: everr.Error()}
		}

		edgeEventID, merr := id.MintEventID()
		if merr != nil {
			return &Error{Code: CodeInternalError, Message: merr.Error()}
		}
		edgeEv, everr := eventlog.NewEvent(edgeEventID, len(truth.Events)+1, payload.SessionID, eventlog.KindEdgeCreated,
			dedupeKey(payload.SessionID, payload.RunID, node.NodeID, payload.TailAttemptID, "checkpoint_edge"),
			&eventlog.Scope{RunID: payload.RunID, NodeID: checkpointNodeID}, eventlog.EdgeCreatedData{
				EdgeKind: eventlog.EdgeKindCheckpoint, FromNodeID: node.NodeID, ToNodeID: checkpointNodeID,
				Cause: eventlog.Cause{Kind: eventlog.CauseCheckpointCreated},
			})
		if everr != nil {
			return &Error{Code: CodeInternalError, Message: everr.Error()}
		}

		plan := eventlog.AppendPlan{Events: []eventlog.Event{nodeEv, edgeEv}}
		aerr := o.ports.EventLog.Append(w, payload.SessionID, plan)
		o.recordAppend(aerr)
		if aerr != nil {
			return mapSessionErr(aerr)
		}

		whr, herr := id.DeriveWorkflowHashRef(node.WorkflowHash)
		if herr != nil {
			return &Error{Code: CodeInternalError, Message: herr.Error()}
		}
		stateTok, serr := token.Sign(token.Payload{
			Kind: token.KindState, SessionID: payload.SessionID, RunID: payload.RunID,
			NodeID: node.NodeID, TailWorkflowHashRef: whr,
		}, o.ports.Keys)
		if serr != nil {
			return &Error{Code: CodeInternalError, Message: serr.Error()}
		}
		result = CheckpointResult{CheckpointNodeID: checkpointNodeID, StateToken: stateTok}
		o.emitEvent(payload.SessionID, payload.RunID, checkpointNodeID, "checkpoint_created", "checkpoint created", nil)
		return nil
	})
	if err != nil {
		return CheckpointResult{}, mapSessionErr(err)
	}
	return result, nil
}

// mintTokens signs the full stateToken/ackToken/checkpointToken bundle for
// a node, omitting ackToken when isComplete.
func (o *Orchestrator) mintTokens(sessionID id.SessionID, runID id.RunID, nodeID id.NodeID, workflowHash id.WorkflowHash, attemptID id.AttemptID, isComplete bool) (TokenSet, error) {
	whr, err := id.DeriveWorkflowHashRef(workflowHash)
	if err != nil {
		return TokenSet{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	stateTok, err := token.Sign(token.Payload{Kind: token.KindState, SessionID: sessionID, RunID: runID, NodeID: nodeID, TailWorkflowHashRef: whr}, o.ports.Keys)
	if err != nil {
		return TokenSet{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	out := TokenSet{StateToken: stateTok}
	if !isComplete {
		ackTok, err := token.Sign(token.Payload{Kind: token.KindAck, SessionID: sessionID, RunID: runID, NodeID: nodeID, TailAttemptID: attemptID}, o.ports.Keys)
		if err != nil {
			return TokenSet{}, &Error{Code: CodeInternalError, Message: err.Error()}
		}
		out.AckToken = ackTok
	}
	checkTok, err := token.Sign(token.Payload{Kind: token.KindCheckpoint, SessionID: sessionID, RunID: runID, NodeID: nodeID, TailAttemptID: attemptID}, o.ports.Keys)
	if err != nil {
		return TokenSet{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	out.CheckpointToken = checkTok
	return out, nil
}

