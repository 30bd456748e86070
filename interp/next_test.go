package interp

import (
	"testing"

	"github.com/workrail/durable-core/domain"
)

func mustCompile(t *testing.T, pw PinnedWorkflow) CompiledWorkflow {
	t.Helper()
	c, err := Compile(pw)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return c
}

func TestCompileResolvesInlineAndBodyRef(t *testing.T) {
	pw := PinnedWorkflow{
		WorkflowID: "wf",
		Steps: []StepRef{
			{StepID: "a", Inline: &StepBody{StepID: "a", Prompt: "A"}},
			{StepID: "b", BodyRef: "shared"},
		},
		Bodies: map[string]StepBody{"shared": {StepID: "b", Prompt: "B"}},
	}
	c := mustCompile(t, pw)
	if len(c.Steps) != 2 || c.Steps[1].Prompt != "B" {
		t.Fatalf("expected body ref to resolve, got %+v", c.Steps)
	}
}

func TestCompileRejectsStepWithNeitherInlineNorRef(t *testing.T) {
	pw := PinnedWorkflow{WorkflowID: "wf", Steps: []StepRef{{StepID: "a"}}}
	if _, err := Compile(pw); err == nil {
		t.Fatal("expected compile to reject a step with no resolvable body")
	}
}

func TestCompileRejectsStepWithBothInlineAndRef(t *testing.T) {
	pw := PinnedWorkflow{
		WorkflowID: "wf",
		Steps:      []StepRef{{StepID: "a", Inline: &StepBody{StepID: "a", Prompt: "A"}, BodyRef: "x"}},
		Bodies:     map[string]StepBody{"x": {StepID: "a", Prompt: "X"}},
	}
	if _, err := Compile(pw); err == nil {
		t.Fatal("expected compile to reject a step with both inline and bodyRef set")
	}
}

func TestCompileRejectsUnknownBodyRef(t *testing.T) {
	pw := PinnedWorkflow{WorkflowID: "wf", Steps: []StepRef{{StepID: "a", BodyRef: "missing"}}}
	if _, err := Compile(pw); err == nil {
		t.Fatal("expected compile to reject an unresolvable bodyRef")
	}
}

func TestApplyEventRejectsMismatchedStepID(t *testing.T) {
	state := domain.EngineState{Kind: domain.EngineStateRunning, Pending: &domain.PendingStep{StepID: "a"}}
	if _, err := ApplyEvent(state, StepCompletedEvent{StepID: "b"}); err == nil {
		t.Fatal("expected ApplyEvent to reject a step_completed for a step that isn't pending")
	}
}

func TestApplyEventRejectsNoPendingStep(t *testing.T) {
	state := domain.EngineState{Kind: domain.EngineStateRunning}
	if _, err := ApplyEvent(state, StepCompletedEvent{StepID: "a"}); err == nil {
		t.Fatal("expected ApplyEvent to reject a step_completed with nothing pending")
	}
}

func TestNextRejectsAlreadyPendingState(t *testing.T) {
	c := mustCompile(t, PinnedWorkflow{WorkflowID: "wf", Steps: []StepRef{{StepID: "a", Inline: &StepBody{StepID: "a", Prompt: "A"}}}})
	state := domain.EngineState{Kind: domain.EngineStateRunning, Pending: &domain.PendingStep{StepID: "a"}}
	if _, err := Next(c, state, nil, nil); err == nil {
		t.Fatal("expected Next to reject a state that still has a pending step")
	}
}

func TestNextAdvancesThroughTwoSteps(t *testing.T) {
	c := mustCompile(t, PinnedWorkflow{WorkflowID: "wf", Steps: []StepRef{
		{StepID: "a", Inline: &StepBody{StepID: "a", Prompt: "A"}},
		{StepID: "b", Inline: &StepBody{StepID: "b", Prompt: "B"}},
	}})

	r1, err := Next(c, domain.EngineState{Kind: domain.EngineStateInit}, nil, nil)
	if err != nil {
		t.Fatalf("Next from init: %v", err)
	}
	if r1.Intent != IntentAdvance || r1.PendingStepID != "a" {
		t.Fatalf("expected pending a, got intent=%s pending=%q", r1.Intent, r1.PendingStepID)
	}

	afterA, err := ApplyEvent(r1.State, StepCompletedEvent{StepID: "a"})
	if err != nil {
		t.Fatalf("ApplyEvent a: %v", err)
	}
	r2, err := Next(c, afterA, nil, nil)
	if err != nil {
		t.Fatalf("Next after a: %v", err)
	}
	if r2.PendingStepID != "b" {
		t.Fatalf("expected pending b, got %q", r2.PendingStepID)
	}

	afterB, err := ApplyEvent(r2.State, StepCompletedEvent{StepID: "b"})
	if err != nil {
		t.Fatalf("ApplyEvent b: %v", err)
	}
	r3, err := Next(c, afterB, nil, nil)
	if err != nil {
		t.Fatalf("Next after b: %v", err)
	}
	if r3.Intent != IntentComplete {
		t.Fatalf("expected complete, got %s", r3.Intent)
	}
}

func TestNextSkipsStepWhoseRunConditionIsFalse(t *testing.T) {
	c := mustCompile(t, PinnedWorkflow{WorkflowID: "wf", Steps: []StepRef{
		{StepID: "a", Inline: &StepBody{StepID: "a", Prompt: "A"}},
		{StepID: "skip-me", Inline: &StepBody{
			StepID: "skip-me", Prompt: "Skipped",
			RunCondition: &Condition{Path: "approved", Op: "truthy"},
		}},
		{StepID: "c", Inline: &StepBody{StepID: "c", Prompt: "C"}},
	}})

	afterA, err := ApplyEvent(domain.EngineState{Kind: domain.EngineStateRunning, Pending: &domain.PendingStep{StepID: "a"}}, StepCompletedEvent{StepID: "a"})
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}

	result, err := Next(c, afterA, map[string]any{"approved": false}, nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if result.PendingStepID != "c" {
		t.Fatalf("expected runCondition-false step to be skipped straight to c, got %q", result.PendingStepID)
	}
}

func forWorkflow() CompiledWorkflow {
	return CompiledWorkflow{WorkflowID: "wf", Steps: []StepBody{
		{StepID: "pre", Prompt: "Pre"},
		{StepID: "loop", Prompt: "Loop", Loop: &LoopSpec{LoopID: "loop", Type: LoopFor, Count: 3, BodyStepIDs: []string{"body"}}},
		{StepID: "body", Prompt: "Body"},
		{StepID: "post", Prompt: "Post"},
	}}
}

func TestNextForLoopRunsExactCountIterations(t *testing.T) {
	c := forWorkflow()

	afterPre, err := ApplyEvent(domain.EngineState{Kind: domain.EngineStateRunning, Pending: &domain.PendingStep{StepID: "pre"}}, StepCompletedEvent{StepID: "pre"})
	if err != nil {
		t.Fatalf("ApplyEvent pre: %v", err)
	}
	state := afterPre
	var lastPending string
	for i := 0; i < 3; i++ {
		r, err := Next(c, state, nil, nil)
		if err != nil {
			t.Fatalf("Next iteration %d: %v", i, err)
		}
		if r.PendingStepID != "body" {
			t.Fatalf("iteration %d: expected pending body, got %q", i, r.PendingStepID)
		}
		lastPending = r.PendingStepID
		state, err = ApplyEvent(r.State, StepCompletedEvent{StepID: "body"})
		if err != nil {
			t.Fatalf("ApplyEvent body iteration %d: %v", i, err)
		}
	}
	if lastPending != "body" {
		t.Fatalf("expected 3 body iterations to have run")
	}

	final, err := Next(c, state, nil, nil)
	if err != nil {
		t.Fatalf("Next after loop exhausted: %v", err)
	}
	if final.PendingStepID != "post" {
		t.Fatalf("expected the for-loop to exit to post after 3 iterations, got %q", final.PendingStepID)
	}
}

func TestNextLoopControlOverrideTakesPrecedenceOverPredicate(t *testing.T) {
	c := CompiledWorkflow{WorkflowID: "wf", Steps: []StepBody{
		{StepID: "pre", Prompt: "Pre"},
		{StepID: "loop", Prompt: "Loop", Loop: &LoopSpec{
			LoopID: "loop", Type: LoopWhile,
			Predicate:   &Condition{Path: "keepGoing", Op: "truthy"},
			BodyStepIDs: []string{"body"},
		}},
		{StepID: "body", Prompt: "Body"},
		{StepID: "post", Prompt: "Post"},
	}}

	afterPre, err := ApplyEvent(domain.EngineState{Kind: domain.EngineStateRunning, Pending: &domain.PendingStep{StepID: "pre"}}, StepCompletedEvent{StepID: "pre"})
	if err != nil {
		t.Fatalf("ApplyEvent pre: %v", err)
	}
	r1, err := Next(c, afterPre, map[string]any{"keepGoing": true}, nil)
	if err != nil {
		t.Fatalf("Next entering loop: %v", err)
	}
	if r1.PendingStepID != "body" {
		t.Fatalf("expected to enter the while loop, got %q", r1.PendingStepID)
	}
	afterBody, err := ApplyEvent(r1.State, StepCompletedEvent{StepID: "body"})
	if err != nil {
		t.Fatalf("ApplyEvent body: %v", err)
	}

	// Context still says keepGoing=true, but an explicit loop_control
	// override forces exit (spec §9 Open Question (c)).
	r2, err := Next(c, afterBody, map[string]any{"keepGoing": true}, []LoopControlOverride{{LoopID: "loop", Continue: false}})
	if err != nil {
		t.Fatalf("Next with override: %v", err)
	}
	if r2.PendingStepID != "post" {
		t.Fatalf("expected the loop_control override to force exit to post, got %q", r2.PendingStepID)
	}
}

func TestDecisionTraceTruncatesAfterMaxEntries(t *testing.T) {
	var trace DecisionTrace
	for i := 0; i < maxTraceEntries+5; i++ {
		trace.add("entry")
	}
	if len(trace.Entries) != maxTraceEntries {
		t.Fatalf("expected trace to cap at %d entries, got %d", maxTraceEntries, len(trace.Entries))
	}
	if !trace.Truncated {
		t.Fatal("expected trace to be marked truncated")
	}
}

func TestEvalConditionOperators(t *testing.T) {
	ctx := map[string]any{"user": map[string]any{"approved": true, "name": "ana"}}
	cases := []struct {
		cond Condition
		want bool
	}{
		{Condition{Path: "user.approved", Op: "truthy"}, true},
		{Condition{Path: "user.approved", Op: "falsy"}, false},
		{Condition{Path: "user.name", Op: "eq", Value: "ana"}, true},
		{Condition{Path: "user.name", Op: "neq", Value: "bob"}, true},
		{Condition{Path: "user.missing", Op: "exists"}, false},
		{Condition{Path: "user.approved", Op: "exists"}, true},
	}
	for _, c := range cases {
		if got := evalCondition(c.cond, ctx); got != c.want {
			t.Fatalf("evalCondition(%+v) = %v, want %v", c.cond, got, c.want)
		}
	}
}
