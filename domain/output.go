package domain

import "github.com/workrail/durable-core/id"

// Requirement is the closed outcome of evaluating an output against its
// contract (spec §4.11).
type Requirement string

const (
	RequirementNotRequired Requirement = "not_required"
	RequirementMissing     Requirement = "missing"
	RequirementInvalid     Requirement = "invalid"
	RequirementSatisfied   Requirement = "satisfied"
)

// OutputContract is the (optional) output contract attached to a step.
type OutputContract struct {
	RequireNotes       bool     `json:"requireNotes,omitempty"`
	RequireArtifact    bool     `json:"requireArtifact,omitempty"`
	ValidationCriteria []string `json:"validationCriteria,omitempty"`
	ContractRef        string   `json:"contractRef,omitempty"`
}

// ValidationOutcome is the result of running an external validation
// engine against notes/artifacts, if the step declared validation
// criteria.
type ValidationOutcome struct {
	Valid       bool
	Issues      []Issue
	Suggestions []string
}

// Issue is one validation issue.
type Issue struct {
	Code    string
	Message string
}

// ArtifactInput is one artifact supplied as part of an advance's output.
// Sha256 and Content travel with it so the advance core can both run
// content-shape validation and persist an artifactRef event payload
// without a second round trip to the caller.
type ArtifactInput struct {
	ContentType string
	ByteLength  int64
	Sha256      id.Sha256Digest
	Content     string
}

// EvaluateOutputRequirement classifies contract against the supplied
// output, returning the requirement outcome and (when not satisfied) the
// reasons that produced it.
func EvaluateOutputRequirement(contract *OutputContract, artifacts []ArtifactInput, notesMarkdown string, validation *ValidationOutcome) (Requirement, []Reason) {
	if contract == nil {
		return RequirementNotRequired, nil
	}

	var reasons []Reason

	if contract.RequireNotes && notesMarkdown == "" {
		reasons = append(reasons, Reason{
			Code: ReasonMissingRequiredOutput, Pointer: "/output/notesMarkdown",
			Message: "notesMarkdown is required by this step's output contract", ContractRef: contract.ContractRef,
		})
	}
	if contract.RequireArtifact && len(artifacts) == 0 {
		reasons = append(reasons, Reason{
			Code: ReasonMissingRequiredOutput, Pointer: "/output/artifacts",
			Message: "at least one artifact is required by this step's output contract", ContractRef: contract.ContractRef,
		})
	}
	if len(reasons) > 0 {
		return RequirementMissing, reasons
	}

	if len(contract.ValidationCriteria) > 0 {
		if validation == nil {
			reasons = append(reasons, Reason{
				Code: ReasonEvaluationError, Pointer: "/output/validation",
				Message: "validation criteria declared but no validation outcome was supplied", ContractRef: contract.ContractRef,
			})
			return RequirementInvalid, reasons
		}
		if !validation.Valid {
			for _, iss := range validation.Issues {
				reasons = append(reasons, Reason{
					Code: ReasonInvalidRequiredOutput, Pointer: "/output/notesMarkdown",
					Message: iss.Message, ContractRef: contract.ContractRef,
				})
			}
			if len(reasons) == 0 {
				reasons = append(reasons, Reason{
					Code: ReasonInvalidRequiredOutput, Pointer: "/output/notesMarkdown",
					Message: "validation did not pass", ContractRef: contract.ContractRef,
				})
			}
			return RequirementInvalid, reasons
		}
	}

	return RequirementSatisfied, nil
}
