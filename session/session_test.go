package session

import (
	"errors"
	"testing"

	"github.com/workrail/durable-core/eventlog"
	"github.com/workrail/durable-core/fsport"
	"github.com/workrail/durable-core/id"
	"github.com/workrail/durable-core/lockwitness"
)

func TestWithHealthySessionLockRunsFAndReleasesLock(t *testing.T) {
	fs := fsport.NewMemFS()
	store := eventlog.New(fs, "/data")
	gate := NewGate(fs, "/data", store)
	sessionID := id.SessionID("sess_a")

	ran := false
	err := gate.WithHealthySessionLock(sessionID, func(w lockwitness.Witness) error {
		ran = true
		if w.SessionID != sessionID {
			t.Fatalf("witness scoped to %s, want %s", w.SessionID, sessionID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithHealthySessionLock: %v", err)
	}
	if !ran {
		t.Fatal("expected f to run")
	}
}

func TestWithHealthySessionLockReentrantRejected(t *testing.T) {
	fs := fsport.NewMemFS()
	store := eventlog.New(fs, "/data")
	gate := NewGate(fs, "/data", store)
	sessionID := id.SessionID("sess_b")

	var inner error
	outerErr := gate.WithHealthySessionLock(sessionID, func(_ lockwitness.Witness) error {
		inner = gate.WithHealthySessionLock(sessionID, func(_ lockwitness.Witness) error { return nil })
		return nil
	})
	if outerErr != nil {
		t.Fatalf("outer call should succeed, got %v", outerErr)
	}
	var sessErr *Error
	if !errors.As(inner, &sessErr) || sessErr.Code != CodeSessionLockReentrant {
		t.Fatalf("expected CodeSessionLockReentrant from a nested call on the same Gate, got %v", inner)
	}
}

func TestWithHealthySessionLockReleasesAfterSuccess(t *testing.T) {
	fs := fsport.NewMemFS()
	store := eventlog.New(fs, "/data")
	gate := NewGate(fs, "/data", store)
	sessionID := id.SessionID("sess_c")

	if err := gate.WithHealthySessionLock(sessionID, func(_ lockwitness.Witness) error { return nil }); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// A second, sequential call must succeed once the first has released
	// the lock.
	if err := gate.WithHealthySessionLock(sessionID, func(_ lockwitness.Witness) error { return nil }); err != nil {
		t.Fatalf("second sequential call should succeed after lock release, got %v", err)
	}
}
