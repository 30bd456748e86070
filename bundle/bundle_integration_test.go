package bundle

import (
	"testing"

	"github.com/workrail/durable-core/domain"
	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/fsport"
	"github.com/workrail/durable-core/id"
	"github.com/workrail/durable-core/interp"
	"github.com/workrail/durable-core/lockwitness"
	"github.com/workrail/durable-core/snapshotstore"
	"github.com/workrail/durable-core/workflowstore"
)

// TestExportValidateImportRoundTrip exercises Export/Import against the real
// content-addressed stores (not hand-built bundles), confirming a healthy
// session can be exported, validated, and replayed into a fresh session
// with its events, snapshots, and pinned workflow intact.
func TestExportValidateImportRoundTrip(t *testing.T) {
	fs := fsport.NewMemFS()
	dataDir := "/data"
	events := eventlog.New(fs, dataDir)
	snapshots := snapshotstore.New(fs, dataDir)
	workflows := workflowstore.New(fs, dataDir)

	snapshotRef, err := snapshots.Put(domain.NewExecutionSnapshot(domain.EngineState{
		Kind: domain.EngineStateRunning, Pending: &domain.PendingStep{StepID: "step-a"},
	}))
	if err != nil {
		t.Fatalf("snapshots.Put: %v", err)
	}
	workflowHash, err := workflows.Put(interp.CompiledWorkflow{
		WorkflowID: "two-step", Steps: []interp.StepBody{{StepID: "step-a", Prompt: "Do A"}},
	})
	if err != nil {
		t.Fatalf("workflows.Put: %v", err)
	}

	sourceID := id.SessionID("sess_source")
	nodeID := id.NodeID("node_root")
	w := lockwitness.New(sourceID)

	sessEv := mustEvent(t, sourceID, 0, eventlog.KindSessionCreated, "dk-session", nil,
		eventlog.SessionCreatedData{CreatedAtUnixNano: 1})
	nodeEv := mustEvent(t, sourceID, 1, eventlog.KindNodeCreated, "dk-node",
		&eventlog.Scope{NodeID: nodeID}, eventlog.NodeCreatedData{
			NodeID: nodeID, NodeKind: eventlog.NodeKindStep,
			WorkflowHash: workflowHash, SnapshotRef: snapshotRef,
			AttemptID: id.AttemptID("attempt-1"),
		})
	plan := eventlog.AppendPlan{Events: []eventlog.Event{sessEv, nodeEv}, SnapshotPins: []id.SnapshotRef{snapshotRef}}
	if err := events.Append(w, sourceID, plan); err != nil {
		t.Fatalf("Append: %v", err)
	}

	truth, err := events.Load(sourceID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if truth.Health.Kind != eventlog.HealthHealthy {
		t.Fatalf("expected a healthy source session, got %s", truth.Health.Kind)
	}

	b, err := Export(truth, snapshots, workflows)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := Validate(b); err != nil {
		t.Fatalf("expected fresh export to validate, got %v", err)
	}
	if len(b.Session.Snapshots) != 1 || len(b.Session.PinnedWorkflows) != 1 {
		t.Fatalf("expected exactly the one referenced snapshot and workflow to be bundled, got %d snapshots, %d workflows",
			len(b.Session.Snapshots), len(b.Session.PinnedWorkflows))
	}

	targetID, err := id.MintSessionID()
	if err != nil {
		t.Fatalf("MintSessionID: %v", err)
	}
	targetWitness := lockwitness.New(targetID)
	if err := Import(b, targetID, targetWitness, events, snapshots, workflows); err != nil {
		t.Fatalf("Import: %v", err)
	}

	targetTruth, err := events.Load(targetID)
	if err != nil {
		t.Fatalf("Load target: %v", err)
	}
	if targetTruth.Health.Kind != eventlog.HealthHealthy {
		t.Fatalf("expected a healthy imported session, got %s", targetTruth.Health.Kind)
	}
	if len(targetTruth.Events) != len(truth.Events) {
		t.Fatalf("expected %d imported events, got %d", len(truth.Events), len(targetTruth.Events))
	}
	for i := range truth.Events {
		if targetTruth.Events[i].Kind != truth.Events[i].Kind || targetTruth.Events[i].DedupeKey != truth.Events[i].DedupeKey {
			t.Fatalf("imported event %d diverges from the original: got %+v, want %+v", i, targetTruth.Events[i], truth.Events[i])
		}
	}

	var gotSnapshot domain.ExecutionSnapshot
	if err := snapshots.Get(snapshotRef, &gotSnapshot); err != nil {
		t.Fatalf("re-reading the imported snapshot: %v", err)
	}
}

// Re-importing into a session that already has events must be rejected: a
// bundle's eventIndex sequence always starts at 0.
func TestImportRejectsNonEmptyTargetSession(t *testing.T) {
	fs := fsport.NewMemFS()
	dataDir := "/data"
	events := eventlog.New(fs, dataDir)
	snapshots := snapshotstore.New(fs, dataDir)
	workflows := workflowstore.New(fs, dataDir)

	b := buildSampleBundle(t)
	// buildSampleBundle references snapshots/workflows by plain keys rather
	// than real content digests; write them through the real stores under
	// the same keys isn't possible (Put always computes its own digest), so
	// exercise only the non-empty-target rejection here, before any write
	// phase runs.
	targetID := id.SessionID("sess_occupied")
	w := lockwitness.New(targetID)
	seedEv := mustEvent(t, targetID, 0, eventlog.KindSessionCreated, "dk-seed", nil,
		eventlog.SessionCreatedData{CreatedAtUnixNano: 1})
	if err := events.Append(w, targetID, eventlog.AppendPlan{Events: []eventlog.Event{seedEv}}); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	err := Import(b, targetID, w, events, snapshots, workflows)
	if err == nil {
		t.Fatal("expected Import into a non-empty session to be rejected")
	}
	berr, ok := err.(*Error)
	if !ok || berr.Code != CodeEventOrderInvalid {
		t.Fatalf("expected CodeEventOrderInvalid, got %v", err)
	}
}
