// Package interp implements the workflow interpreter and compiler (spec
// §4.12): a pure, total, Result-typed evaluator that turns a pinned
// workflow document plus engine state plus incoming context into the next
// step to run, honoring run conditions and loop semantics.
//
// Grounded on the teacher's graph/state.go (StateGraph step-advance shape)
// and graph/policy.go (predicate evaluation over typed state), adapted
// from live in-memory graph execution to pure functions over a
// snapshot-resident EngineState.
package interp

import (
	"encoding/json"
	"fmt"

	"github.com/workrail/durable-core/domain"
)

// Code is the closed error-code set this package returns.
type Code string

const (
	CodeCompileFailed     Code = "INTERP_COMPILE_FAILED"
	CodeApplyFailed       Code = "advance_apply_failed"
	CodeNextFailed        Code = "advance_next_failed"
	CodeInvariantViolation Code = "invariant_violation"
)

// Error is the structured error this package returns.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// LoopType is the closed set of loop constructs a step may start.
type LoopType string

const (
	LoopWhile   LoopType = "while"
	LoopUntil   LoopType = "until"
	LoopFor     LoopType = "for"
	LoopForEach LoopType = "forEach"
)

// Condition is a single predicate evaluated against merged context (spec
// §4.12 "runCondition predicates over the merged context").
type Condition struct {
	// Path is a dotted path into the merged context, e.g. "user.approved".
	Path  string `json:"path"`
	Op    string `json:"op"` // "eq", "neq", "truthy", "falsy", "exists"
	Value any    `json:"value,omitempty"`
}

// LoopSpec describes a loop a step starts.
type LoopSpec struct {
	LoopID        string   `json:"loopId"`
	Type          LoopType `json:"type"`
	Predicate     *Condition `json:"predicate,omitempty"` // while/until
	Count         int      `json:"count,omitempty"`       // for
	ItemsPath     string   `json:"itemsPath,omitempty"`   // forEach: dotted path into context to a JSON array
	BodyStepIDs   []string `json:"bodyStepIds"`
	MaxIterations int      `json:"maxIterations,omitempty"`
}

// StepBody is the resolved body of one step: exactly one prompt source
// must have been resolved by the outer (out-of-scope) authoring compiler,
// so by the time this interpreter sees it, Prompt is always concrete.
type StepBody struct {
	StepID         string                 `json:"stepId"`
	Prompt         string                 `json:"prompt"`
	RunCondition   *Condition             `json:"runCondition,omitempty"`
	Loop           *LoopSpec              `json:"loop,omitempty"`
	OutputContract *domain.OutputContract `json:"outputContract,omitempty"`
}

// StepRef is a pinned-workflow step entry: either an inline body or a
// reference to a body defined once and reused.
type StepRef struct {
	StepID  string    `json:"stepId"`
	Inline  *StepBody `json:"inline,omitempty"`
	BodyRef string    `json:"bodyRef,omitempty"`
}

// PinnedWorkflow is the document this package's compile consumes.
type PinnedWorkflow struct {
	WorkflowID             string              `json:"workflowId"`
	Name                   string              `json:"name"`
	Description            string              `json:"description"`
	Version                string              `json:"version"`
	Steps                  []StepRef           `json:"steps"`
	Bodies                 map[string]StepBody `json:"bodies,omitempty"`
	RecommendedPreferences json.RawMessage     `json:"recommendedPreferences,omitempty"`
}

// CompiledWorkflow is the fully-resolved, ordered step sequence the
// interpreter drives. Per spec §9 Open Question (a), this is the single
// collapsed representation; SourceKind is metadata only and never
// branched on.
type CompiledWorkflow struct {
	WorkflowID             string          `json:"workflowId"`
	Name                   string          `json:"name"`
	Description            string          `json:"description"`
	Version                string          `json:"version"`
	SourceKind             string          `json:"sourceKind,omitempty"` // inspect mode ("metadata" | "preview") when set by InspectWorkflow, metadata only
	Steps                  []StepBody      `json:"steps"`
	RecommendedPreferences json.RawMessage `json:"recommendedPreferences,omitempty"`
}

// Compile resolves each StepRef's body (inline or by id), rejecting
// workflows where a step has no resolvable body.
func Compile(pw PinnedWorkflow) (CompiledWorkflow, error) {
	steps := make([]StepBody, 0, len(pw.Steps))
	for _, ref := range pw.Steps {
		body, err := resolveBody(pw, ref)
		if err != nil {
			return CompiledWorkflow{}, err
		}
		steps = append(steps, body)
	}
	return CompiledWorkflow{
		WorkflowID:             pw.WorkflowID,
		Name:                   pw.Name,
		Description:            pw.Description,
		Version:                pw.Version,
		Steps:                  steps,
		RecommendedPreferences: pw.RecommendedPreferences,
	}, nil
}

func resolveBody(pw PinnedWorkflow, ref StepRef) (StepBody, error) {
	switch {
	case ref.Inline != nil && ref.BodyRef == "":
		if ref.Inline.Prompt == "" {
			return StepBody{}, &Error{Code: CodeCompileFailed, Message: fmt.Sprintf("step %q has no resolved prompt", ref.StepID)}
		}
		return *ref.Inline, nil
	case ref.Inline == nil && ref.BodyRef != "":
		body, ok := pw.Bodies[ref.BodyRef]
		if !ok {
			return StepBody{}, &Error{Code: CodeCompileFailed, Message: fmt.Sprintf("step %q references unknown body %q", ref.StepID, ref.BodyRef)}
		}
		if body.Prompt == "" {
			return StepBody{}, &Error{Code: CodeCompileFailed, Message: fmt.Sprintf("step %q has no resolved prompt", ref.StepID)}
		}
		return body, nil
	default:
		return StepBody{}, &Error{Code: CodeCompileFailed, Message: fmt.Sprintf(
			"step %q must have exactly one resolved body source (inline xor ref)", ref.StepID)}
	}
}

// StepByID finds a step by id in a compiled workflow.
func (c CompiledWorkflow) StepByID(stepID string) (StepBody, bool) {
	for _, s := range c.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepBody{}, false
}

// IndexOf returns the position of stepID in c.Steps, or -1.
func (c CompiledWorkflow) IndexOf(stepID string) int {
	for i, s := range c.Steps {
		if s.StepID == stepID {
			return i
		}
	}
	return -1
}
