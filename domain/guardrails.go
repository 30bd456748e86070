package domain

// AutonomyMode is the closed set of autonomy policies governing whether a
// reason set blocks an advance (spec §4.11).
type AutonomyMode string

const (
	AutonomyGuided                  AutonomyMode = "guided"
	AutonomyFullAutoStopOnUserDeps  AutonomyMode = "full_auto_stop_on_user_deps"
	AutonomyFullAutoNeverStop       AutonomyMode = "full_auto_never_stop"
)

// RiskPolicy governs which reasons a site considers blocking-eligible at
// all, independent of autonomy mode. The zero value accepts every reason.
type RiskPolicy struct {
	// SuppressedCodes are reason codes this policy downgrades to
	// informational regardless of autonomy mode (e.g. an operator has
	// chosen to ignore a noisy check).
	SuppressedCodes map[ReasonCode]bool
}

// GuardrailResult splits a reason set into the reasons that still count
// toward a block decision and those demoted to informational-only.
type GuardrailResult struct {
	Blocking      []Reason
	Informational []Reason
}

// ApplyGuardrails applies policy's suppression list, independent of
// autonomy mode; autonomy is applied afterward by ShouldBlock.
func ApplyGuardrails(policy RiskPolicy, reasons []Reason) GuardrailResult {
	var result GuardrailResult
	for _, r := range reasons {
		if policy.SuppressedCodes != nil && policy.SuppressedCodes[r.Code] {
			result.Informational = append(result.Informational, r)
			continue
		}
		result.Blocking = append(result.Blocking, r)
	}
	return result
}

// ShouldBlock decides, given autonomy mode and the guardrail-filtered
// blocking reasons, whether the advance should actually block.
func ShouldBlock(mode AutonomyMode, effectiveReasons []Reason) bool {
	if len(effectiveReasons) == 0 {
		return false
	}
	switch mode {
	case AutonomyGuided:
		return true
	case AutonomyFullAutoStopOnUserDeps:
		for _, r := range effectiveReasons {
			if r.Code == ReasonUserOnlyDependency {
				return true
			}
		}
		return false
	case AutonomyFullAutoNeverStop:
		return false
	default:
		return true
	}
}
