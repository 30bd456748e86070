package projection

import (
	"encoding/json"

	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/id"
)

// BuildRunContext projects the latest context_set per run (must be sorted
// by eventIndex).
func BuildRunContext(events []eventlog.Event) (map[id.RunID]json.RawMessage, error) {
	if err := requireSorted(events); err != nil {
		return nil, err
	}

	out := make(map[id.RunID]json.RawMessage)
	for _, ev := range events {
		if ev.Kind != eventlog.KindContextSet {
			continue
		}
		var d eventlog.ContextSetData
		if err := ev.DecodeData(&d); err != nil {
			return nil, &Error{Code: CodeCorruptionDetected, Message: err.Error()}
		}
		out[d.RunID] = d.Context
	}
	return out, nil
}

// Artifact is one projected artifact-channel output with its content
// inlined (spec §4.10 "Artifacts projection").
type Artifact struct {
	NodeID       id.NodeID
	OutputID     id.OutputID
	Ref          eventlog.ArtifactRefPayload
	AtEventIndex int
}

// BuildArtifacts collects every artifact-channel output in the session
// (must be sorted by eventIndex).
func BuildArtifacts(events []eventlog.Event) ([]Artifact, error) {
	if err := requireSorted(events); err != nil {
		return nil, err
	}

	var out []Artifact
	for _, ev := range events {
		if ev.Kind != eventlog.KindNodeOutputAppended {
			continue
		}
		var d eventlog.NodeOutputAppendedData
		if err := ev.DecodeData(&d); err != nil {
			return nil, &Error{Code: CodeCorruptionDetected, Message: err.Error()}
		}
		if d.Channel != eventlog.OutputChannelArtifact || d.ArtifactRef == nil {
			continue
		}
		out = append(out, Artifact{
			NodeID:       d.NodeID,
			OutputID:     d.OutputID,
			Ref:          *d.ArtifactRef,
			AtEventIndex: ev.EventIndex,
		})
	}
	return out, nil
}

// AdvanceOutcome is the latest advance_recorded per node.
type AdvanceOutcome struct {
	NodeID       id.NodeID
	AttemptID    id.AttemptID
	Outcome      eventlog.AdvanceOutcomeKind
	StepID       string
	AtEventIndex int
}

// BuildAdvanceOutcomes projects the latest advance outcome per node (must
// be sorted by eventIndex).
func BuildAdvanceOutcomes(events []eventlog.Event) (map[id.NodeID]AdvanceOutcome, error) {
	if err := requireSorted(events); err != nil {
		return nil, err
	}

	out := make(map[id.NodeID]AdvanceOutcome)
	for _, ev := range events {
		if ev.Kind != eventlog.KindAdvanceRecorded {
			continue
		}
		var d eventlog.AdvanceRecordedData
		if err := ev.DecodeData(&d); err != nil {
			return nil, &Error{Code: CodeCorruptionDetected, Message: err.Error()}
		}
		out[d.NodeID] = AdvanceOutcome{
			NodeID:       d.NodeID,
			AttemptID:    d.AttemptID,
			Outcome:      d.Outcome,
			StepID:       d.StepID,
			AtEventIndex: ev.EventIndex,
		}
	}
	return out, nil
}
