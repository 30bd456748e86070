package projection

import (
	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/id"
)

// NodeOutput is one projected node_output_appended record.
type NodeOutput struct {
	OutputID     id.OutputID
	Channel      eventlog.OutputChannel
	Notes        *eventlog.NotesPayload
	ArtifactRef  *eventlog.ArtifactRefPayload
	AtEventIndex int
}

// Outputs is the outputs projection for a whole session.
type Outputs struct {
	// CurrentByChannel holds the latest output per (node, channel).
	CurrentByChannel map[id.NodeID]map[eventlog.OutputChannel]NodeOutput
	// HistoryByChannel holds every output per (node, channel) in append order.
	HistoryByChannel map[id.NodeID]map[eventlog.OutputChannel][]NodeOutput
}

// BuildOutputs projects per-node outputs from events (must be sorted by
// eventIndex).
func BuildOutputs(events []eventlog.Event) (Outputs, error) {
	if err := requireSorted(events); err != nil {
		return Outputs{}, err
	}

	out := Outputs{
		CurrentByChannel: make(map[id.NodeID]map[eventlog.OutputChannel]NodeOutput),
		HistoryByChannel: make(map[id.NodeID]map[eventlog.OutputChannel][]NodeOutput),
	}

	for _, ev := range events {
		if ev.Kind != eventlog.KindNodeOutputAppended {
			continue
		}
		var d eventlog.NodeOutputAppendedData
		if err := ev.DecodeData(&d); err != nil {
			return Outputs{}, &Error{Code: CodeCorruptionDetected, Message: err.Error()}
		}
		rec := NodeOutput{
			OutputID:     d.OutputID,
			Channel:      d.Channel,
			Notes:        d.Notes,
			ArtifactRef:  d.ArtifactRef,
			AtEventIndex: ev.EventIndex,
		}

		if out.CurrentByChannel[d.NodeID] == nil {
			out.CurrentByChannel[d.NodeID] = make(map[eventlog.OutputChannel]NodeOutput)
		}
		out.CurrentByChannel[d.NodeID][d.Channel] = rec

		if out.HistoryByChannel[d.NodeID] == nil {
			out.HistoryByChannel[d.NodeID] = make(map[eventlog.OutputChannel][]NodeOutput)
		}
		out.HistoryByChannel[d.NodeID][d.Channel] = append(out.HistoryByChannel[d.NodeID][d.Channel], rec)
	}
	return out, nil
}
