// Package projection implements the pure, total functions that derive read
// models from a session's validated event log (spec §4.10): the DAG,
// per-node outputs, run context, artifacts, advance outcomes, and
// resume-candidate ranking. Every function here requires events sorted by
// eventIndex and returns PROJECTION_INVARIANT_VIOLATION otherwise;
// PROJECTION_CORRUPTION_DETECTED marks an event whose data field fails to
// decode into its expected shape. None of them touch the filesystem or
// any other port.
//
// Grounded on the teacher's graph/state.go arena-of-nodes shape (a flat
// map keyed by id plus an edge list, never a pointer graph) generalized
// from an in-memory execution arena to a log-derived read model.
package projection

import (
	"fmt"
	"sort"

	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/id"
)

// Code is the closed error-code set this package returns.
type Code string

const (
	CodeInvariantViolation Code = "PROJECTION_INVARIANT_VIOLATION"
	CodeCorruptionDetected Code = "PROJECTION_CORRUPTION_DETECTED"
)

// Error is the structured error this package returns.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Node is one projected DAG node.
type Node struct {
	NodeID       id.NodeID
	NodeKind     eventlog.NodeKind
	ParentNodeID id.NodeID
	WorkflowHash id.WorkflowHash
	SnapshotRef  id.SnapshotRef
	AttemptID    id.AttemptID
	// CreatedAtEventIndex is the eventIndex of this node's node_created
	// event; used as a stable recency signal.
	CreatedAtEventIndex int
}

// Edge is one projected DAG edge.
type Edge struct {
	EdgeKind     eventlog.EdgeKind
	FromNodeID   id.NodeID
	ToNodeID     id.NodeID
	Cause        eventlog.Cause
	AtEventIndex int
}

// DAG is the full projected graph for a session.
type DAG struct {
	NodesByID          map[id.NodeID]Node
	Edges              []Edge
	TipNodeIDs         []id.NodeID
	PreferredTipNodeID id.NodeID
	// RootNodeID is the first node_created in the log, if any.
	RootNodeID id.NodeID
	// LastActivityEventIndex maps each node to the eventIndex of the most
	// recent event scoped to it (used by resume ranking).
	LastActivityEventIndex map[id.NodeID]int
}

func requireSorted(events []eventlog.Event) error {
	for i := 1; i < len(events); i++ {
		if events[i].EventIndex <= events[i-1].EventIndex {
			return &Error{Code: CodeInvariantViolation, Message: fmt.Sprintf(
				"events not strictly increasing by eventIndex at position %d", i)}
		}
	}
	return nil
}

// BuildDAG projects the DAG from events (must be sorted by eventIndex).
func BuildDAG(events []eventlog.Event) (DAG, error) {
	if err := requireSorted(events); err != nil {
		return DAG{}, err
	}

	dag := DAG{
		NodesByID:              make(map[id.NodeID]Node),
		LastActivityEventIndex: make(map[id.NodeID]int),
	}
	hasOutgoingAcked := make(map[id.NodeID]bool)
	orderOfAppearance := make(map[id.NodeID]int)

	for _, ev := range events {
		switch ev.Kind {
		case eventlog.KindNodeCreated:
			var d eventlog.NodeCreatedData
			if err := ev.DecodeData(&d); err != nil {
				return DAG{}, &Error{Code: CodeCorruptionDetected, Message: err.Error()}
			}
			if dag.RootNodeID == "" {
				dag.RootNodeID = d.NodeID
			}
			dag.NodesByID[d.NodeID] = Node{
				NodeID:              d.NodeID,
				NodeKind:            d.NodeKind,
				ParentNodeID:        d.ParentNodeID,
				WorkflowHash:        d.WorkflowHash,
				SnapshotRef:         d.SnapshotRef,
				AttemptID:           d.AttemptID,
				CreatedAtEventIndex: ev.EventIndex,
			}
			orderOfAppearance[d.NodeID] = len(orderOfAppearance)
			dag.LastActivityEventIndex[d.NodeID] = ev.EventIndex

		case eventlog.KindEdgeCreated:
			var d eventlog.EdgeCreatedData
			if err := ev.DecodeData(&d); err != nil {
				return DAG{}, &Error{Code: CodeCorruptionDetected, Message: err.Error()}
			}
			dag.Edges = append(dag.Edges, Edge{
				EdgeKind:     d.EdgeKind,
				FromNodeID:   d.FromNodeID,
				ToNodeID:     d.ToNodeID,
				Cause:        d.Cause,
				AtEventIndex: ev.EventIndex,
			})
			if d.EdgeKind == eventlog.EdgeKindAckedStep {
				hasOutgoingAcked[d.FromNodeID] = true
			}
			dag.LastActivityEventIndex[d.FromNodeID] = ev.EventIndex
			dag.LastActivityEventIndex[d.ToNodeID] = ev.EventIndex
		}

		if ev.Scope != nil && ev.Scope.NodeID != "" {
			if prev, ok := dag.LastActivityEventIndex[ev.Scope.NodeID]; !ok || ev.EventIndex > prev {
				dag.LastActivityEventIndex[ev.Scope.NodeID] = ev.EventIndex
			}
		}
	}

	for nodeID := range dag.NodesByID {
		if !hasOutgoingAcked[nodeID] {
			dag.TipNodeIDs = append(dag.TipNodeIDs, nodeID)
		}
	}
	sort.Slice(dag.TipNodeIDs, func(i, j int) bool { return dag.TipNodeIDs[i] < dag.TipNodeIDs[j] })

	dag.PreferredTipNodeID = preferredTip(dag, orderOfAppearance)
	return dag, nil
}

// preferredTip follows idempotent_replay/non_tip_advance edges from the
// root, breaking ties by highest LastActivityEventIndex then lex order.
func preferredTip(dag DAG, orderOfAppearance map[id.NodeID]int) id.NodeID {
	if dag.RootNodeID == "" {
		return ""
	}

	byFrom := make(map[id.NodeID][]Edge)
	for _, e := range dag.Edges {
		if e.EdgeKind == eventlog.EdgeKindAckedStep {
			byFrom[e.FromNodeID] = append(byFrom[e.FromNodeID], e)
		}
	}

	current := dag.RootNodeID
	visited := map[id.NodeID]bool{current: true}
	for {
		candidates := byFrom[current]
		if len(candidates) == 0 {
			break
		}
		sort.Slice(candidates, func(i, j int) bool {
			ci, cj := candidates[i], candidates[j]
			pi := causePriority(ci.Cause.Kind)
			pj := causePriority(cj.Cause.Kind)
			if pi != pj {
				return pi < pj
			}
			li := dag.LastActivityEventIndex[ci.ToNodeID]
			lj := dag.LastActivityEventIndex[cj.ToNodeID]
			if li != lj {
				return li > lj
			}
			return ci.ToNodeID < cj.ToNodeID
		})
		next := candidates[0].ToNodeID
		if visited[next] {
			break
		}
		visited[next] = true
		current = next
	}
	return current
}

// causePriority ranks edge causes for preferred-path walking: replay and
// non-tip advances continue the preferred path; an intentional fork does
// not (spec §4.10's "idempotent_replay/non_tip_advance edges from the
// root").
func causePriority(k eventlog.CauseKind) int {
	switch k {
	case eventlog.CauseIdempotentReplay:
		return 0
	case eventlog.CauseNonTipAdvance:
		return 1
	case eventlog.CauseCheckpointCreated:
		return 2
	case eventlog.CauseIntentionalFork:
		return 3
	default:
		return 4
	}
}
