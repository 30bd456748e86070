package interp

import (
	"fmt"
	"strings"

	"github.com/workrail/durable-core/domain"
)

// Intent is the closed set of outcomes a Next call produces.
type Intent string

const (
	IntentAdvance  Intent = "advance"
	IntentComplete Intent = "complete"
)

const (
	maxTraceEntries  = 25
	maxTraceEntryLen = 512
	maxTraceBytes    = 8192
	// maxStepWalk bounds the number of internal transitions Next will
	// take while resolving skipped steps and loop boundaries in a single
	// call, mirroring the teacher's ErrMaxStepsExceeded guard against a
	// malformed workflow producing an unbounded walk.
	maxStepWalk = 10000
)

// DecisionTrace is the bounded, ordered list of decisions Next made while
// computing the next step.
type DecisionTrace struct {
	Entries   []string
	Truncated bool
}

func (t *DecisionTrace) add(entry string) {
	if len(t.Entries) >= maxTraceEntries {
		t.Truncated = true
		return
	}
	if len(entry) > maxTraceEntryLen {
		entry = entry[:maxTraceEntryLen]
	}
	total := 0
	for _, e := range t.Entries {
		total += len(e)
	}
	if total+len(entry) > maxTraceBytes {
		t.Truncated = true
		return
	}
	t.Entries = append(t.Entries, entry)
}

// LoopControlOverride is a typed "loop_control" artifact supplied for
// this evaluation; when present for a loop, it takes precedence over
// that loop's own predicate (spec §9 Open Question (c)).
type LoopControlOverride struct {
	LoopID   string
	Continue bool
}

// NextResult is Next's output.
type NextResult struct {
	State  domain.EngineState
	Trace  DecisionTrace
	Intent Intent
	// PendingStepID mirrors State.Pending.StepID for convenience; empty
	// when Intent is complete.
	PendingStepID string
}

// Next computes the next step to run from compiled, state (already
// advanced past the just-completed step via ApplyEvent), context, and any
// loop-control artifact overrides supplied for this evaluation (spec
// §4.12).
func Next(compiled CompiledWorkflow, state domain.EngineState, context map[string]any, overrides []LoopControlOverride) (NextResult, error) {
	if state.Pending != nil {
		return NextResult{}, &Error{Code: CodeNextFailed, Message: "Next called with a still-pending step"}
	}

	bodySet := bodyStepSet(compiled)
	mainSeq := mainSequence(compiled, bodySet)
	overrideByLoop := make(map[string]bool, len(overrides))
	overrideHas := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		overrideByLoop[o.LoopID] = o.Continue
		overrideHas[o.LoopID] = true
	}

	working := state
	trace := DecisionTrace{}
	lastCompleted := ""
	if n := len(working.CompletedSteps); n > 0 {
		lastCompleted = working.CompletedSteps[n-1]
	}

	for walk := 0; ; walk++ {
		if walk > maxStepWalk {
			return NextResult{}, &Error{Code: CodeNextFailed, Message: "exceeded maximum internal step walk; workflow likely malformed"}
		}

		if len(working.LoopStack) > 0 {
			frame := working.LoopStack[len(working.LoopStack)-1]
			loopEntry, ok := compiled.StepByID(frame.LoopID)
			if !ok || loopEntry.Loop == nil {
				return NextResult{}, &Error{Code: CodeInvariantViolation, Message: fmt.Sprintf("loop %q not found in compiled workflow", frame.LoopID)}
			}
			bodyIDs := loopEntry.Loop.BodyStepIDs
			posInBody := indexOfString(bodyIDs, lastCompleted)

			if posInBody >= 0 && posInBody < len(bodyIDs)-1 {
				nextBodyID := bodyIDs[posInBody+1]
				res, done, err := resolveCandidate(compiled, working, context, nextBodyID, &trace)
				if err != nil {
					return NextResult{}, err
				}
				if done {
					return res, nil
				}
				working = res.State
				lastCompleted = working.CompletedSteps[len(working.CompletedSteps)-1]
				continue
			}

			// Right after entry, the decision is whether iteration 0 runs.
			entering := lastCompleted == frame.LoopID
			probe := frame
			if entering {
				probe.Iteration = -1
			}
			cont := decideLoopContinuation(loopEntry.Loop, probe, context, overrideByLoop, overrideHas, &trace)
			if cont {
				frames := append([]domain.LoopFrame{}, working.LoopStack...)
				top := frames[len(frames)-1]
				if !entering {
					top.Iteration++
				}
				frames[len(frames)-1] = top
				working.LoopStack = frames
				trace.add(fmt.Sprintf("loop %s: continuing to iteration %d", frame.LoopID, top.Iteration))

				if len(bodyIDs) == 0 {
					// A loop with no body steps can never progress;
					// treat as immediately exhausted rather than spin.
					working.LoopStack = working.LoopStack[:len(working.LoopStack)-1]
					continue
				}
				res, done, err := resolveCandidate(compiled, working, context, bodyIDs[0], &trace)
				if err != nil {
					return NextResult{}, err
				}
				if done {
					return res, nil
				}
				working = res.State
				lastCompleted = working.CompletedSteps[len(working.CompletedSteps)-1]
				continue
			}

			trace.add(fmt.Sprintf("loop %s: exiting after %d iteration(s)", frame.LoopID, probe.Iteration+1))
			working.LoopStack = working.LoopStack[:len(working.LoopStack)-1]
			lastCompleted = frame.LoopID
			continue
		}

		idx := indexOfStep(mainSeq, lastCompleted)
		nextIdx := idx + 1
		if nextIdx >= len(mainSeq) {
			working.Kind = domain.EngineStateComplete
			working.Pending = nil
			return NextResult{State: working, Trace: trace, Intent: IntentComplete}, nil
		}
		candidate := mainSeq[nextIdx]

		if candidate.Loop != nil {
			if candidate.Loop.Type == LoopForEach {
				items := resolveForEachItems(context, candidate.Loop.ItemsPath)
				if len(items) == 0 {
					trace.add(fmt.Sprintf("loop %s: empty forEach skipped entirely", candidate.Loop.LoopID))
					working.CompletedSteps = append(append([]string{}, working.CompletedSteps...), candidate.StepID)
					lastCompleted = candidate.StepID
					continue
				}
			}
			working.CompletedSteps = append(append([]string{}, working.CompletedSteps...), candidate.StepID)
			working.LoopStack = append(append([]domain.LoopFrame{}, working.LoopStack...), domain.LoopFrame{
				LoopID:    candidate.Loop.LoopID,
				Iteration: 0,
			})
			trace.add(fmt.Sprintf("loop %s: entering iteration 0", candidate.Loop.LoopID))
			lastCompleted = candidate.StepID
			continue
		}

		res, done, err := resolveCandidate(compiled, working, context, candidate.StepID, &trace)
		if err != nil {
			return NextResult{}, err
		}
		if done {
			return res, nil
		}
		working = res.State
		lastCompleted = working.CompletedSteps[len(working.CompletedSteps)-1]
	}
}

// resolveCandidate checks stepID's runCondition. If it fails, the step is
// treated as completed immediately (iteration still advances) and
// done=false signals the caller to keep walking. If it passes, the step
// becomes pending and done=true.
func resolveCandidate(compiled CompiledWorkflow, state domain.EngineState, context map[string]any, stepID string, trace *DecisionTrace) (NextResult, bool, error) {
	step, ok := compiled.StepByID(stepID)
	if !ok {
		return NextResult{}, false, &Error{Code: CodeInvariantViolation, Message: fmt.Sprintf("step %q not found in compiled workflow", stepID)}
	}

	if step.RunCondition != nil && !evalCondition(*step.RunCondition, context) {
		trace.add(fmt.Sprintf("step %s: runCondition false, treated as completed", stepID))
		next := state
		next.CompletedSteps = append(append([]string{}, state.CompletedSteps...), stepID)
		return NextResult{State: next}, false, nil
	}

	trace.add(fmt.Sprintf("step %s: selected as pending", stepID))
	next := state
	next.Kind = domain.EngineStateRunning
	next.Pending = &domain.PendingStep{StepID: stepID}
	return NextResult{State: next, Trace: *trace, Intent: IntentAdvance, PendingStepID: stepID}, true, nil
}

func decideLoopContinuation(loop *LoopSpec, frame domain.LoopFrame, context map[string]any, overrideByLoop map[string]bool, overrideHas map[string]bool, trace *DecisionTrace) bool {
	if overrideHas[loop.LoopID] {
		cont := overrideByLoop[loop.LoopID]
		trace.add(fmt.Sprintf("loop %s: loop_control artifact override continue=%t", loop.LoopID, cont))
		return cont
	}

	switch loop.Type {
	case LoopWhile:
		if loop.Predicate == nil {
			return false
		}
		return evalCondition(*loop.Predicate, context)
	case LoopUntil:
		if loop.Predicate == nil {
			return true
		}
		return !evalCondition(*loop.Predicate, context)
	case LoopFor:
		return frame.Iteration+1 < loop.Count
	case LoopForEach:
		items := resolveForEachItems(context, loop.ItemsPath)
		return frame.Iteration+1 < len(items)
	default:
		return false
	}
}

func bodyStepSet(compiled CompiledWorkflow) map[string]bool {
	set := make(map[string]bool)
	for _, s := range compiled.Steps {
		if s.Loop == nil {
			continue
		}
		for _, id := range s.Loop.BodyStepIDs {
			set[id] = true
		}
	}
	return set
}

func mainSequence(compiled CompiledWorkflow, bodySet map[string]bool) []StepBody {
	out := make([]StepBody, 0, len(compiled.Steps))
	for _, s := range compiled.Steps {
		if bodySet[s.StepID] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func indexOfStep(steps []StepBody, stepID string) int {
	if stepID == "" {
		return -1
	}
	for i, s := range steps {
		if s.StepID == stepID {
			return i
		}
	}
	return -1
}

func indexOfString(ss []string, v string) int {
	if v == "" {
		return -1
	}
	for i, s := range ss {
		if s == v {
			return i
		}
	}
	return -1
}

// evalCondition evaluates a dotted-path condition against a plain
// map[string]any context, matching the merged-context shape the advance
// core builds from JSON.
func evalCondition(cond Condition, context map[string]any) bool {
	val, exists := lookupPath(context, cond.Path)
	switch cond.Op {
	case "exists":
		return exists
	case "truthy":
		return exists && isTruthy(val)
	case "falsy":
		return !exists || !isTruthy(val)
	case "eq":
		return exists && equalLoose(val, cond.Value)
	case "neq":
		return !exists || !equalLoose(val, cond.Value)
	default:
		return false
	}
}

func lookupPath(context map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = context
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func isTruthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case nil:
		return false
	default:
		return true
	}
}

func equalLoose(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func resolveForEachItems(context map[string]any, path string) []any {
	v, ok := lookupPath(context, path)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	return arr
}
