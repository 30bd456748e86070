package advance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/workrail/durable-core/canon"
	"github.com/workrail/durable-core/domain"
	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/interp"
	"github.com/workrail/durable-core/lockwitness"
	"github.com/workrail/durable-core/projection"
)

const maxContextBytes = 256 * 1024

// executeAdvanceCore is the shared pipeline for fresh and retry advances
// (spec §4.13). It never appends anything itself; it returns the Outcome
// plus the AppendPlan the caller commits under the held session lock.
func (o *Orchestrator) executeAdvanceCore(
	ctx context.Context,
	w lockwitness.Witness,
	events []eventlog.Event,
	compiled interp.CompiledWorkflow,
	in AdvanceInput,
) (Outcome, eventlog.AppendPlan, error) {
	dag, err := projection.BuildDAG(events)
	if err != nil {
		return Outcome{}, eventlog.AppendPlan{}, wrapErr(err)
	}
	cause := edgeCauseFromDAG(dag, in.SourceNodeID, in.Mode)

	pendingRef := in.PriorSnapshot.EnginePayload.EngineState.Pending
	if pendingRef == nil {
		return Outcome{}, eventlog.AppendPlan{}, &Error{Code: CodePreconditionFailed, Message: "source node has no pending step"}
	}
	pendingStep, ok := compiled.StepByID(pendingRef.StepID)
	if !ok {
		return Outcome{}, eventlog.AppendPlan{}, &Error{Code: CodeInternalError, Message: fmt.Sprintf("pending step %q not in compiled workflow", pendingRef.StepID)}
	}

	mergedContext, contextBytes, err := o.mergeContext(events, in)
	if err != nil {
		return Outcome{}, eventlog.AppendPlan{}, err
	}
	if len(contextBytes) > maxContextBytes {
		reasons := []domain.Reason{{Code: domain.ReasonContextBudget, Pointer: "/context", Message: "context exceeds 256 KiB canonical bytes"}}
		return o.buildContextBudgetOutcome(in, reasons)
	}

	var validationOutcome *domain.ValidationOutcome
	var evaluationErrReason *domain.Reason
	hasCriteria := pendingStep.OutputContract != nil && len(pendingStep.OutputContract.ValidationCriteria) > 0
	if hasCriteria && o.ports.Validate != nil {
		vctx, cancel := context.WithTimeout(ctx, o.cfg.validationTimeout)
		outcome, verr := o.ports.Validate(vctx, pendingStep.OutputContract.ValidationCriteria, in.NotesMarkdown, in.Artifacts)
		cancel()
		if verr != nil {
			evaluationErrReason = &domain.Reason{Code: domain.ReasonEvaluationError, Pointer: "/output/validation", Message: verr.Error()}
		} else {
			validationOutcome = &outcome
		}
	}

	var requirement domain.Requirement
	var reasons []domain.Reason
	if evaluationErrReason != nil {
		requirement = domain.RequirementInvalid
		reasons = []domain.Reason{*evaluationErrReason}
	} else {
		requirement, reasons = domain.EvaluateOutputRequirement(pendingStep.OutputContract, in.Artifacts, in.NotesMarkdown, validationOutcome)
	}

	effective := domain.ApplyGuardrails(o.cfg.riskPolicy, reasons)
	shouldBlockNow := requirement != domain.RequirementSatisfied && requirement != domain.RequirementNotRequired &&
		len(effective.Blocking) > 0 && domain.ShouldBlock(o.cfg.autonomy, effective.Blocking)

	if shouldBlockNow {
		return o.buildBlockedOutcome(in, effective.Blocking, validationIssuesOf(validationOutcome), cause, len(events))
	}

	// effective.Blocking reasons that survived guardrail suppression but
	// didn't trip ShouldBlock (full_auto_never_stop, or
	// full_auto_stop_on_user_deps with no user-dependency reason) are
	// genuine gaps the autonomy mode chose to proceed through rather than
	// resolve; record one gap_recorded per reason instead of discarding
	// them (spec §4.11).
	return o.buildSuccessOutcome(events, compiled, pendingStep, in, mergedContext, validationOutcome, effective.Blocking, cause, len(events))
}

func validationIssuesOf(v *domain.ValidationOutcome) string {
	if v == nil || len(v.Issues) == 0 {
		return ""
	}
	return v.Issues[0].Message
}

// mergeContext merges in.IncomingContext over the session's latest
// projected run context and returns both the merged map and its JCS bytes
// (for the budget check).
func (o *Orchestrator) mergeContext(events []eventlog.Event, in AdvanceInput) (map[string]any, []byte, error) {
	runContexts, err := projection.BuildRunContext(events)
	if err != nil {
		return nil, nil, wrapErr(err)
	}

	merged := map[string]any{}
	if prev, ok := runContexts[in.RunID]; ok && len(prev) > 0 {
		var m map[string]any
		if err := json.Unmarshal(prev, &m); err == nil {
			merged = m
		}
	}
	if len(in.IncomingContext) > 0 {
		var incoming map[string]any
		if err := json.Unmarshal(in.IncomingContext, &incoming); err != nil {
			return nil, nil, &Error{Code: CodeValidationError, Message: "context must be a JSON object"}
		}
		for k, v := range incoming {
			merged[k] = v
		}
	}

	bytes, err := canon.Marshal(merged)
	if err != nil {
		return nil, nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return merged, bytes, nil
}
