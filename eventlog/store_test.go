package eventlog

import (
	"testing"

	"github.com/workrail/durable-core/fsport"
	"github.com/workrail/durable-core/id"
	"github.com/workrail/durable-core/lockwitness"
)

func mustEvent(t *testing.T, sessionID id.SessionID, index int, kind Kind, dedupeKey string, payload any) Event {
	t.Helper()
	eventID, err := id.MintEventID()
	if err != nil {
		t.Fatalf("MintEventID: %v", err)
	}
	ev, err := NewEvent(eventID, index, sessionID, kind, dedupeKey, nil, payload)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}

func TestLoadOfMissingSessionIsHealthyEmpty(t *testing.T) {
	store := New(fsport.NewMemFS(), "/data")
	truth, err := store.Load(id.SessionID("sess_doesnotexist"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if truth.Health.Kind != HealthHealthy {
		t.Fatalf("expected healthy verdict for a never-created session, got %s", truth.Health.Kind)
	}
	if len(truth.Events) != 0 {
		t.Fatalf("expected zero events, got %d", len(truth.Events))
	}
}

func TestAppendThenLoadRoundTrips(t *testing.T) {
	store := New(fsport.NewMemFS(), "/data")
	sessionID := id.SessionID("sess_test1")
	w := lockwitness.New(sessionID)

	ev0 := mustEvent(t, sessionID, 0, KindSessionCreated, "dk-0", SessionCreatedData{CreatedAtUnixNano: 1})
	ev1 := mustEvent(t, sessionID, 1, KindRunStarted, "dk-1", RunStartedData{RunID: "run_x", WorkflowID: "wf1"})

	if err := store.Append(w, sessionID, AppendPlan{Events: []Event{ev0, ev1}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	truth, err := store.Load(sessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if truth.Health.Kind != HealthHealthy {
		t.Fatalf("expected healthy, got %s", truth.Health.Kind)
	}
	if len(truth.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(truth.Events))
	}
	if truth.Events[0].Kind != KindSessionCreated || truth.Events[1].Kind != KindRunStarted {
		t.Fatalf("unexpected event kinds: %+v", truth.Events)
	}
}

func TestAppendRejectsNonContiguousIndex(t *testing.T) {
	store := New(fsport.NewMemFS(), "/data")
	sessionID := id.SessionID("sess_test2")
	w := lockwitness.New(sessionID)

	ev := mustEvent(t, sessionID, 5, KindSessionCreated, "dk-0", SessionCreatedData{CreatedAtUnixNano: 1})
	if err := store.Append(w, sessionID, AppendPlan{Events: []Event{ev}}); err == nil {
		t.Fatal("expected Append to reject a plan whose first eventIndex skips ahead of the log")
	}
}

func TestAppendIsIdempotentOnDedupeKeyReplay(t *testing.T) {
	store := New(fsport.NewMemFS(), "/data")
	sessionID := id.SessionID("sess_test3")
	w := lockwitness.New(sessionID)

	ev := mustEvent(t, sessionID, 0, KindSessionCreated, "dk-0", SessionCreatedData{CreatedAtUnixNano: 1})
	plan := AppendPlan{Events: []Event{ev}}

	if err := store.Append(w, sessionID, plan); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := store.Append(w, sessionID, plan); err != nil {
		t.Fatalf("replaying the identical plan should be a no-op, got error: %v", err)
	}

	truth, err := store.Load(sessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(truth.Events) != 1 {
		t.Fatalf("expected exactly one committed event after idempotent replay, got %d", len(truth.Events))
	}
}

func TestAppendRejectsWitnessForWrongSession(t *testing.T) {
	store := New(fsport.NewMemFS(), "/data")
	sessionID := id.SessionID("sess_test4")
	wrongWitness := lockwitness.New(id.SessionID("sess_other"))

	ev := mustEvent(t, sessionID, 0, KindSessionCreated, "dk-0", SessionCreatedData{CreatedAtUnixNano: 1})
	if err := store.Append(wrongWitness, sessionID, AppendPlan{Events: []Event{ev}}); err == nil {
		t.Fatal("expected Append to reject a witness minted for a different session")
	}
}

func TestListSessionIDsEnumeratesAppendedSessions(t *testing.T) {
	store := New(fsport.NewMemFS(), "/data")
	for _, sid := range []id.SessionID{"sess_a", "sess_b"} {
		w := lockwitness.New(sid)
		ev := mustEvent(t, sid, 0, KindSessionCreated, "dk-0", SessionCreatedData{CreatedAtUnixNano: 1})
		if err := store.Append(w, sid, AppendPlan{Events: []Event{ev}}); err != nil {
			t.Fatalf("Append(%s): %v", sid, err)
		}
	}

	ids, err := store.ListSessionIDs()
	if err != nil {
		t.Fatalf("ListSessionIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 session ids, got %v", ids)
	}
}

func TestListSessionIDsEmptyStoreReturnsEmpty(t *testing.T) {
	store := New(fsport.NewMemFS(), "/data")
	ids, err := store.ListSessionIDs()
	if err != nil {
		t.Fatalf("ListSessionIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no sessions, got %v", ids)
	}
}
