package domain

import (
	"sort"

	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/id"
	"github.com/workrail/durable-core/projection"
)

// RecapEntry is one recap note collected while walking the preferred path.
type RecapEntry struct {
	NodeID        id.NodeID
	NotesMarkdown string
	AtEventIndex  int
}

// RecoverRecap walks dag's preferred path from fromNodeID to toNodeID
// (inclusive), collecting recap-channel notes in chronological order.
// Branches not on the preferred path are excluded; an empty outputs
// projection yields an empty recap (spec §4.11 "Recap recovery").
func RecoverRecap(dag projection.DAG, outputs projection.Outputs, fromNodeID, toNodeID id.NodeID) []RecapEntry {
	path := preferredPathBetween(dag, fromNodeID, toNodeID)
	if len(path) == 0 {
		return nil
	}

	var entries []RecapEntry
	for _, nodeID := range path {
		byChannel, ok := outputs.HistoryByChannel[nodeID]
		if !ok {
			continue
		}
		for _, rec := range byChannel[eventlog.OutputChannelRecap] {
			if rec.Notes == nil {
				continue
			}
			entries = append(entries, RecapEntry{
				NodeID:        nodeID,
				NotesMarkdown: rec.Notes.NotesMarkdown,
				AtEventIndex:  rec.AtEventIndex,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].AtEventIndex < entries[j].AtEventIndex })
	return entries
}

// preferredPathBetween returns the node ids from fromNodeID to toNodeID
// following only acked_step edges and taking the earliest-committed one
// out of each node. The advance core gives a node's later outgoing acked
// edges the intentional_fork cause, so this is the edge
// projection.BuildDAG's preferred-tip walk ranks first. Returns nil if
// toNodeID is not reached that way from fromNodeID.
func preferredPathBetween(dag projection.DAG, fromNodeID, toNodeID id.NodeID) []id.NodeID {
	if fromNodeID == "" {
		return nil
	}

	byFrom := make(map[id.NodeID][]projection.Edge)
	for _, e := range dag.Edges {
		if e.EdgeKind == eventlog.EdgeKindAckedStep {
			byFrom[e.FromNodeID] = append(byFrom[e.FromNodeID], e)
		}
	}
	for _, edges := range byFrom {
		sort.Slice(edges, func(i, j int) bool { return edges[i].AtEventIndex < edges[j].AtEventIndex })
	}

	path := []id.NodeID{fromNodeID}
	if fromNodeID == toNodeID {
		return path
	}
	current := fromNodeID
	visited := map[id.NodeID]bool{current: true}
	for {
		edges := byFrom[current]
		if len(edges) == 0 {
			return nil
		}
		next := edges[0].ToNodeID
		if visited[next] {
			return nil
		}
		path = append(path, next)
		if next == toNodeID {
			return path
		}
		visited[next] = true
		current = next
	}
}
