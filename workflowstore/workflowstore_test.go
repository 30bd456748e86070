package workflowstore

import (
	"testing"

	"github.com/workrail/durable-core/fsport"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := New(fsport.NewMemFS(), "/data")
	doc := map[string]any{"workflowId": "wf1", "steps": []any{"a", "b"}}

	hash, err := store.Put(doc)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out map[string]any
	if err := store.Get(hash, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out["workflowId"] != "wf1" {
		t.Fatalf("unexpected round-tripped content: %+v", out)
	}
}

func TestPutIsIdempotentByContent(t *testing.T) {
	store := New(fsport.NewMemFS(), "/data")
	doc := map[string]any{"workflowId": "wf1"}

	h1, err := store.Put(doc)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	h2, err := store.Put(doc)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("identical compiled workflows should pin to the same hash: %s != %s", h1, h2)
	}
}

func TestExistsReflectsStoreState(t *testing.T) {
	store := New(fsport.NewMemFS(), "/data")
	hash, err := store.Put(map[string]any{"workflowId": "wf1"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := store.Exists(hash)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatal("expected Exists to report true for a pinned hash")
	}

	missing, err := store.Exists("sha256:0000000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if missing {
		t.Fatal("expected Exists to report false for a never-pinned hash")
	}
}
