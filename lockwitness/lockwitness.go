// Package lockwitness defines the capability value proving a caller holds
// a session's exclusive advisory lock (spec §4.9). It exists as its own
// tiny package so eventlog (which requires a Witness on every write) and
// session (which acquires the lock and mints the Witness) do not import
// each other.
package lockwitness

import "github.com/workrail/durable-core/id"

// Witness proves the holder has a session's exclusive lock and that the
// session's health was verified at acquisition time. Only
// session.WithHealthySessionLock should construct one in normal use; the
// constructor is exported because Go has no package-friend mechanism, but
// eventlog store writes are meaningless without going through the gate.
type Witness struct {
	SessionID id.SessionID
}

// New constructs a Witness for sessionID. Call this only from inside a
// held session lock.
func New(sessionID id.SessionID) Witness {
	return Witness{SessionID: sessionID}
}
