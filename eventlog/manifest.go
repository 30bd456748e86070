package eventlog

import "github.com/workrail/durable-core/id"

// ManifestKind is the closed set of manifest control-stream record kinds
// (spec §3 "Manifest stream").
type ManifestKind string

const (
	ManifestSegmentClosed  ManifestKind = "segment_closed"
	ManifestSnapshotPinned ManifestKind = "snapshot_pinned"
)

// ManifestRecord is one manifestIndex-ordered control record.
type ManifestRecord struct {
	ManifestIndex int             `json:"manifestIndex"`
	Kind          ManifestKind    `json:"kind"`
	FirstEventIdx int             `json:"firstEventIndex"`
	LastEventIdx  int             `json:"lastEventIndex"`
	SnapshotRef   id.SnapshotRef  `json:"snapshotRef,omitempty"`
}
