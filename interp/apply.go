package interp

import "github.com/workrail/durable-core/domain"

// StepCompletedEvent is the internal transition input applyEvent
// consumes: "the pending step was acknowledged." This is distinct from
// the persisted eventlog.Event union; it is the interpreter's own
// minimal input alphabet.
type StepCompletedEvent struct {
	StepID string
}

// ApplyEvent is the pure state transition for a step_completed event: the
// pending step moves into the completed set. Loop iteration advancement
// is decided by Next, not here (spec §4.12).
func ApplyEvent(state domain.EngineState, ev StepCompletedEvent) (domain.EngineState, error) {
	if state.Pending == nil || state.Pending.StepID != ev.StepID {
		return domain.EngineState{}, &Error{Code: CodeApplyFailed, Message: "step_completed for a step not pending"}
	}

	next := state
	next.CompletedSteps = append(append([]string{}, state.CompletedSteps...), ev.StepID)
	next.Pending = nil

	// Loop iteration bookkeeping belongs to Next, not here: whether
	// finishing this step ends a loop iteration depends on its position
	// within the loop body, which only Next (holding the compiled
	// workflow) can determine.
	return next, nil
}
