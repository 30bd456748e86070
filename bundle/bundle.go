// Package bundle implements the export/import bundle format described in
// spec §4.14: a single canonical document holding a session's events,
// manifest, referenced snapshots, and referenced pinned workflows, plus an
// integrity ledger recomputed and checked before any write lands.
//
// Grounded on _examples/lattice-substrate-json-canon's offline/replay
// bundle/evidence shapes (a config/run/bundle/evidence directory re-read
// and re-verified before replay), re-derived here as a single JCS document
// instead of a directory tree, and on the teacher's Store[S] idempotent-put
// discipline for the write phase.
package bundle

import (
	"fmt"
	"sort"

	"github.com/workrail/durable-core/canon"
	"github.com/workrail/durable-core/domain"
	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/id"
	"github.com/workrail/durable-core/interp"
	"github.com/workrail/durable-core/lockwitness"
	"github.com/workrail/durable-core/projection"
	"github.com/workrail/durable-core/snapshotstore"
	"github.com/workrail/durable-core/workflowstore"
)

// Code is the closed error-code set this package returns (spec §7).
type Code string

const (
	CodeInvalidFormat         Code = "BUNDLE_INVALID_FORMAT"
	CodeUnsupportedVersion    Code = "BUNDLE_UNSUPPORTED_VERSION"
	CodeIntegrityFailed       Code = "BUNDLE_INTEGRITY_FAILED"
	CodeEventOrderInvalid     Code = "BUNDLE_EVENT_ORDER_INVALID"
	CodeManifestOrderInvalid  Code = "BUNDLE_MANIFEST_ORDER_INVALID"
	CodeMissingSnapshot       Code = "BUNDLE_MISSING_SNAPSHOT"
	CodeMissingPinnedWorkflow Code = "BUNDLE_MISSING_PINNED_WORKFLOW"

	// CodeSessionNotHealthy mirrors session.CodeSessionNotHealthy (spec
	// §7's "State errors" group): Export refuses a session whose health
	// isn't HealthHealthy, which is a precondition on the source session,
	// not a defect in the bundle document itself.
	CodeSessionNotHealthy Code = "SESSION_NOT_HEALTHY"
)

// Error is the structured error this package returns.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// wrapStoreErr preserves a snapshotstore/workflowstore error's own code
// (e.g. SNAPSHOT_CORRUPT) instead of collapsing it into a bundle-specific
// one; any other error (I/O, not found) is reported as a plain read
// failure under msg.
func wrapStoreErr(msg string, err error) error {
	switch e := err.(type) {
	case *snapshotstore.Error:
		return &Error{Code: Code(e.Code), Message: fmt.Sprintf("%s: %v", msg, e)}
	case *workflowstore.Error:
		return &Error{Code: Code(e.Code), Message: fmt.Sprintf("%s: %v", msg, e)}
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

const schemaVersion = 1

// Session is the bundled session content (spec §4.14 bundle shape).
type Session struct {
	Events          []eventlog.Event                  `json:"events"`
	Manifest        []eventlog.ManifestRecord          `json:"manifest"`
	Snapshots       map[string]domain.ExecutionSnapshot `json:"snapshots"`
	PinnedWorkflows map[string]interp.CompiledWorkflow  `json:"pinnedWorkflows"`
}

// IntegrityEntry is one recomputable (path, digest, length) ledger entry.
type IntegrityEntry struct {
	Path   string `json:"path"`
	Sha256 string `json:"sha256"`
	Bytes  int    `json:"bytes"`
}

// Integrity is the bundle's integrity ledger.
type Integrity struct {
	Entries []IntegrityEntry `json:"entries"`
}

// Bundle is the full export/import document.
type Bundle struct {
	BundleSchemaVersion int       `json:"bundleSchemaVersion"`
	Session             Session   `json:"session"`
	Integrity           Integrity `json:"integrity"`
}

// Export assembles a Bundle from a healthy session's loaded truth, reading
// every snapshot and pinned workflow its DAG actually references.
func Export(truth eventlog.LoadedSessionTruth, snapshots *snapshotstore.Store, workflows *workflowstore.Store) (Bundle, error) {
	if truth.Health.Kind != eventlog.HealthHealthy {
		return Bundle{}, &Error{Code: CodeSessionNotHealthy, Message: fmt.Sprintf("session is not healthy (%s)", truth.Health.Kind)}
	}

	dag, err := projection.BuildDAG(truth.Events)
	if err != nil {
		return Bundle{}, &Error{Code: CodeInvalidFormat, Message: err.Error()}
	}

	session := Session{
		Events:          truth.Events,
		Manifest:        truth.Manifest,
		Snapshots:       make(map[string]domain.ExecutionSnapshot),
		PinnedWorkflows: make(map[string]interp.CompiledWorkflow),
	}
	for _, n := range dag.NodesByID {
		if n.SnapshotRef != "" {
			if _, ok := session.Snapshots[string(n.SnapshotRef)]; !ok {
				var snap domain.ExecutionSnapshot
				if gerr := snapshots.Get(n.SnapshotRef, &snap); gerr != nil {
					return Bundle{}, fmt.Errorf("bundle: read snapshot %s: %w", n.SnapshotRef, gerr)
				}
				session.Snapshots[string(n.SnapshotRef)] = snap
			}
		}
		if n.WorkflowHash != "" {
			if _, ok := session.PinnedWorkflows[string(n.WorkflowHash)]; !ok {
				var compiled interp.CompiledWorkflow
				if gerr := workflows.Get(n.WorkflowHash, &compiled); gerr != nil {
					return Bundle{}, fmt.Errorf("bundle: read pinned workflow %s: %w", n.WorkflowHash, gerr)
				}
				session.PinnedWorkflows[string(n.WorkflowHash)] = compiled
			}
		}
	}

	entries, err := computeEntries(session)
	if err != nil {
		return Bundle{}, err
	}

	return Bundle{
		BundleSchemaVersion: schemaVersion,
		Session:             session,
		Integrity:           Integrity{Entries: entries},
	}, nil
}

// computeEntries canonicalizes every addressable sub-document of session
// and returns its integrity ledger in a fixed order for determinism:
// "events", "manifest", then "snapshots/<ref>" sorted by ref, then
// "pinnedWorkflows/<hash>" sorted by hash. Used
// both to build a fresh bundle's ledger (Export) and to recompute the
// expected ledger during validation (Validate phase 2).
func computeEntries(session Session) ([]IntegrityEntry, error) {
	var entries []IntegrityEntry

	digest, bytes, err := canon.Digest(session.Events)
	if err != nil {
		return nil, &Error{Code: CodeInvalidFormat, Message: fmt.Sprintf("canonicalize events: %v", err)}
	}
	entries = append(entries, IntegrityEntry{Path: "events", Sha256: digest, Bytes: len(bytes)})

	digest, bytes, err = canon.Digest(session.Manifest)
	if err != nil {
		return nil, &Error{Code: CodeInvalidFormat, Message: fmt.Sprintf("canonicalize manifest: %v", err)}
	}
	entries = append(entries, IntegrityEntry{Path: "manifest", Sha256: digest, Bytes: len(bytes)})

	snapshotKeys := make([]string, 0, len(session.Snapshots))
	for k := range session.Snapshots {
		snapshotKeys = append(snapshotKeys, k)
	}
	sort.Strings(snapshotKeys)
	for _, k := range snapshotKeys {
		digest, bytes, err = canon.Digest(session.Snapshots[k])
		if err != nil {
			return nil, &Error{Code: CodeInvalidFormat, Message: fmt.Sprintf("canonicalize snapshot %s: %v", k, err)}
		}
		entries = append(entries, IntegrityEntry{Path: "snapshots/" + k, Sha256: digest, Bytes: len(bytes)})
	}

	workflowKeys := make([]string, 0, len(session.PinnedWorkflows))
	for k := range session.PinnedWorkflows {
		workflowKeys = append(workflowKeys, k)
	}
	sort.Strings(workflowKeys)
	for _, k := range workflowKeys {
		digest, bytes, err = canon.Digest(session.PinnedWorkflows[k])
		if err != nil {
			return nil, &Error{Code: CodeInvalidFormat, Message: fmt.Sprintf("canonicalize pinned workflow %s: %v", k, err)}
		}
		entries = append(entries, IntegrityEntry{Path: "pinnedWorkflows/" + k, Sha256: digest, Bytes: len(bytes)})
	}

	return entries, nil
}

// Validate runs the fail-first 4-phase pipeline (spec §4.14): schema,
// integrity, ordering, references. The first phase to fail short-circuits
// the rest; no partial result is ever returned to a caller deciding
// whether to write.
func Validate(b Bundle) error {
	if b.BundleSchemaVersion != schemaVersion {
		return &Error{Code: CodeUnsupportedVersion, Message: fmt.Sprintf("unsupported bundleSchemaVersion %d", b.BundleSchemaVersion)}
	}

	if err := validateIntegrity(b); err != nil {
		return err
	}
	if err := validateOrdering(b); err != nil {
		return err
	}
	if err := validateReferences(b); err != nil {
		return err
	}
	return nil
}

func validateIntegrity(b Bundle) error {
	expected, err := computeEntries(b.Session)
	if err != nil {
		return err
	}
	if len(expected) != len(b.Integrity.Entries) {
		return &Error{Code: CodeIntegrityFailed, Message: fmt.Sprintf(
			"expected %d integrity entries, bundle declares %d", len(expected), len(b.Integrity.Entries))}
	}
	declared := make(map[string]IntegrityEntry, len(b.Integrity.Entries))
	for _, e := range b.Integrity.Entries {
		declared[e.Path] = e
	}
	for _, want := range expected {
		got, ok := declared[want.Path]
		if !ok {
			return &Error{Code: CodeIntegrityFailed, Message: fmt.Sprintf("missing integrity entry for %q", want.Path)}
		}
		if got.Sha256 != want.Sha256 || got.Bytes != want.Bytes {
			return &Error{Code: CodeIntegrityFailed, Message: fmt.Sprintf(
				"integrity mismatch at %q: declared sha256=%s bytes=%d, recomputed sha256=%s bytes=%d",
				want.Path, got.Sha256, got.Bytes, want.Sha256, want.Bytes)}
		}
	}
	return nil
}

func validateOrdering(b Bundle) error {
	for i, ev := range b.Session.Events {
		if ev.EventIndex != i {
			return &Error{Code: CodeEventOrderInvalid, Message: fmt.Sprintf("expected eventIndex %d, got %d", i, ev.EventIndex)}
		}
	}
	for i, mr := range b.Session.Manifest {
		if mr.ManifestIndex != i {
			return &Error{Code: CodeManifestOrderInvalid, Message: fmt.Sprintf("expected manifestIndex %d, got %d", i, mr.ManifestIndex)}
		}
	}
	return nil
}

func validateReferences(b Bundle) error {
	for _, ev := range b.Session.Events {
		if ev.Kind != eventlog.KindNodeCreated {
			continue
		}
		var d eventlog.NodeCreatedData
		if err := ev.DecodeData(&d); err != nil {
			return &Error{Code: CodeInvalidFormat, Message: err.Error()}
		}
		if d.SnapshotRef != "" {
			if _, ok := b.Session.Snapshots[string(d.SnapshotRef)]; !ok {
				return &Error{Code: CodeMissingSnapshot, Message: fmt.Sprintf("node %s references unbundled snapshot %s", d.NodeID, d.SnapshotRef)}
			}
		}
		if d.WorkflowHash != "" {
			if _, ok := b.Session.PinnedWorkflows[string(d.WorkflowHash)]; !ok {
				return &Error{Code: CodeMissingPinnedWorkflow, Message: fmt.Sprintf("node %s references unbundled workflow %s", d.NodeID, d.WorkflowHash)}
			}
		}
	}
	for _, mr := range b.Session.Manifest {
		if mr.Kind == eventlog.ManifestSnapshotPinned && mr.SnapshotRef != "" {
			if _, ok := b.Session.Snapshots[string(mr.SnapshotRef)]; !ok {
				return &Error{Code: CodeMissingSnapshot, Message: fmt.Sprintf("manifest entry %d references unbundled snapshot %s", mr.ManifestIndex, mr.SnapshotRef)}
			}
		}
	}
	return nil
}

// Import validates b and, only if every phase passes, writes its pinned
// workflows, then its snapshots, then its events (spec §4.14 write order;
// the manifest is regenerated by eventlogStore.Append's own bookkeeping
// rather than replayed verbatim, since it is derived control-stream state,
// not durable truth). w proves the caller holds sessionID's exclusive
// lock. Importing into a session that already has events is rejected: a
// bundle's eventIndex sequence always starts at 0.
func Import(b Bundle, sessionID id.SessionID, w lockwitness.Witness, eventlogStore *eventlog.Store, snapshots *snapshotstore.Store, workflows *workflowstore.Store) error {
	if err := Validate(b); err != nil {
		return err
	}

	existing, err := eventlogStore.Load(sessionID)
	if err != nil {
		return fmt.Errorf("bundle: load target session: %w", err)
	}
	if len(existing.Events) > 0 {
		return &Error{Code: CodeEventOrderInvalid, Message: "import target session already has events: a bundle's eventIndex sequence always starts at 0"}
	}

	workflowKeys := make([]string, 0, len(b.Session.PinnedWorkflows))
	for k := range b.Session.PinnedWorkflows {
		workflowKeys = append(workflowKeys, k)
	}
	sort.Strings(workflowKeys)
	for _, k := range workflowKeys {
		if _, err := workflows.Put(b.Session.PinnedWorkflows[k]); err != nil {
			return fmt.Errorf("bundle: write pinned workflow %s: %w", k, err)
		}
	}

	snapshotKeys := make([]string, 0, len(b.Session.Snapshots))
	var pins []id.SnapshotRef
	for k := range b.Session.Snapshots {
		snapshotKeys = append(snapshotKeys, k)
	}
	sort.Strings(snapshotKeys)
	for _, k := range snapshotKeys {
		if _, err := snapshots.Put(b.Session.Snapshots[k]); err != nil {
			return fmt.Errorf("bundle: write snapshot %s: %w", k, err)
		}
		pins = append(pins, id.SnapshotRef(k))
	}

	plan := eventlog.AppendPlan{Events: b.Session.Events, SnapshotPins: pins}
	if err := eventlogStore.Append(w, sessionID, plan); err != nil {
		return fmt.Errorf("bundle: append events: %w", err)
	}
	return nil
}
