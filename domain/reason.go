// Package domain implements the reason/blocker taxonomy, autonomy/risk-
// policy guardrails, output-requirement evaluation, and the supporting
// builders the advance core composes into a full advance decision (spec
// §4.11). Nothing here touches storage; every function is pure.
//
// Grounded on the teacher's graph/policy.go (RetryPolicy/risk-classification
// shape) generalized from retry-error classification to blocker/guardrail
// classification, and graph/node.go's NodeError closed-code discipline.
package domain

import (
	"sort"
)

// ReasonCode is the closed taxonomy of blocker reasons.
type ReasonCode string

const (
	ReasonMissingRequiredOutput ReasonCode = "missing_required_output"
	ReasonInvalidRequiredOutput ReasonCode = "invalid_required_output"
	ReasonUserOnlyDependency    ReasonCode = "user_only_dependency"
	ReasonEvaluationError       ReasonCode = "evaluation_error"
	ReasonContextBudget         ReasonCode = "context_budget"
)

// Reason is one typed blocker reason.
type Reason struct {
	Code ReasonCode
	// Pointer is a canonical JSON-pointer-like reference to the offending
	// field (e.g. "/output/notesMarkdown"), used both for display
	// and as the tie-break key in BlockerReport ordering.
	Pointer string
	Message string
	// ContractRef names the output-contract clause this reason stems
	// from, when applicable.
	ContractRef string
	// ValidationRef names the validation_performed event id this reason's
	// detail derives from, when applicable.
	ValidationRef string
}

// Blocker is the per-reason entry stored in a BlockerReport.
type Blocker struct {
	Reason Reason
}

const maxBlockers = 10

// BlockerReport is the sorted, bounded report attached to a blocked
// advance (spec §3 "BlockerReport.blockers is sorted... at most 10").
type BlockerReport struct {
	Blockers []Blocker
	// Truncated is true when more than maxBlockers reasons were produced
	// and the report was capped.
	Truncated bool
}

// BuildBlockerReport sorts reasons by (code, pointer) and bounds the
// result to maxBlockers entries.
func BuildBlockerReport(reasons []Reason) BlockerReport {
	sorted := make([]Reason, len(reasons))
	copy(sorted, reasons)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Code != sorted[j].Code {
			return sorted[i].Code < sorted[j].Code
		}
		return sorted[i].Pointer < sorted[j].Pointer
	})

	truncated := false
	if len(sorted) > maxBlockers {
		sorted = sorted[:maxBlockers]
		truncated = true
	}

	out := make([]Blocker, len(sorted))
	for i, r := range sorted {
		out[i] = Blocker{Reason: r}
	}
	return BlockerReport{Blockers: out, Truncated: truncated}
}

// PrimaryReason returns the first (highest-priority, per sort order)
// reason in a report, or the zero Reason with ok=false if empty.
func (b BlockerReport) PrimaryReason() (Reason, bool) {
	if len(b.Blockers) == 0 {
		return Reason{}, false
	}
	return b.Blockers[0].Reason, true
}
