package domain

import "testing"

func TestApplyGuardrailsSuppressesConfiguredCodes(t *testing.T) {
	policy := RiskPolicy{SuppressedCodes: map[ReasonCode]bool{ReasonContextBudget: true}}
	reasons := []Reason{
		{Code: ReasonContextBudget},
		{Code: ReasonMissingRequiredOutput},
	}
	result := ApplyGuardrails(policy, reasons)

	if len(result.Blocking) != 1 || result.Blocking[0].Code != ReasonMissingRequiredOutput {
		t.Fatalf("unexpected blocking set: %+v", result.Blocking)
	}
	if len(result.Informational) != 1 || result.Informational[0].Code != ReasonContextBudget {
		t.Fatalf("unexpected informational set: %+v", result.Informational)
	}
}

func TestApplyGuardrailsZeroPolicyAcceptsEverything(t *testing.T) {
	reasons := []Reason{{Code: ReasonContextBudget}, {Code: ReasonEvaluationError}}
	result := ApplyGuardrails(RiskPolicy{}, reasons)
	if len(result.Blocking) != 2 || len(result.Informational) != 0 {
		t.Fatalf("zero-value policy should block every reason: %+v", result)
	}
}

func TestShouldBlockNoReasonsNeverBlocks(t *testing.T) {
	for _, mode := range []AutonomyMode{AutonomyGuided, AutonomyFullAutoStopOnUserDeps, AutonomyFullAutoNeverStop} {
		if ShouldBlock(mode, nil) {
			t.Fatalf("mode %s blocked with zero effective reasons", mode)
		}
	}
}

func TestShouldBlockGuidedAlwaysBlocksWithReasons(t *testing.T) {
	if !ShouldBlock(AutonomyGuided, []Reason{{Code: ReasonContextBudget}}) {
		t.Fatal("guided mode must block whenever there is at least one reason")
	}
}

func TestShouldBlockFullAutoNeverStopNeverBlocks(t *testing.T) {
	if ShouldBlock(AutonomyFullAutoNeverStop, []Reason{{Code: ReasonUserOnlyDependency}}) {
		t.Fatal("full_auto_never_stop must never block")
	}
}

func TestShouldBlockFullAutoStopOnUserDepsOnlyBlocksOnThatReason(t *testing.T) {
	if ShouldBlock(AutonomyFullAutoStopOnUserDeps, []Reason{{Code: ReasonEvaluationError}}) {
		t.Fatal("full_auto_stop_on_user_deps should not block on a non-user-dependency reason")
	}
	if !ShouldBlock(AutonomyFullAutoStopOnUserDeps, []Reason{{Code: ReasonEvaluationError}, {Code: ReasonUserOnlyDependency}}) {
		t.Fatal("full_auto_stop_on_user_deps should block once a user-dependency reason is present")
	}
}

func TestShouldBlockUnknownModeDefaultsToBlocking(t *testing.T) {
	if !ShouldBlock(AutonomyMode("unknown"), []Reason{{Code: ReasonContextBudget}}) {
		t.Fatal("an unrecognized autonomy mode should default to blocking, not silently auto-advance")
	}
}
