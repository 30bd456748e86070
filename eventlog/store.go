package eventlog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/workrail/durable-core/canon"
	"github.com/workrail/durable-core/fsport"
	"github.com/workrail/durable-core/id"
	"github.com/workrail/durable-core/lockwitness"
)

// strictUnmarshal decodes b into out, rejecting unknown fields. Corrupt or
// schema-drifted records must surface as a load-time health verdict, not a
// silently-ignored field.
func strictUnmarshal(b []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// Code is the closed error-code set this package returns (spec §7).
type Code string

const (
	CodeInvariantViolation Code = "SESSION_STORE_INVARIANT_VIOLATION"
)

// Error is the structured error this package returns.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// HealthKind is the closed set of session health verdicts.
type HealthKind string

const (
	HealthHealthy        HealthKind = "healthy"
	HealthCorruptTail     HealthKind = "corrupt_tail"
	HealthCorruptHead     HealthKind = "corrupt_head"
	HealthUnknownVersion HealthKind = "unknown_version"
)

// HealthReason carries the code/message pair attached to a non-healthy
// verdict.
type HealthReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Health is the session health verdict produced by Load's validator.
type Health struct {
	Kind   HealthKind    `json:"kind"`
	Reason *HealthReason `json:"reason,omitempty"`
}

// LoadedSessionTruth is the validated result of loading a session's log and
// manifest.
type LoadedSessionTruth struct {
	Events       []Event
	Manifest     []ManifestRecord
	Health       Health
}

// AppendPlan is a batch of events (plus any snapshots newly pinned
// alongside them) to commit atomically.
type AppendPlan struct {
	Events       []Event
	SnapshotPins []id.SnapshotRef
}

// Store is the append-only, per-session event-log and manifest store.
type Store struct {
	fs      fsport.FS
	dataDir string
}

// New returns a Store rooted at <dataDir>/sessions.
func New(fs fsport.FS, dataDir string) *Store {
	return &Store{fs: fs, dataDir: dataDir}
}

func (s *Store) sessionDir(sessionID id.SessionID) string {
	return filepath.Join(s.dataDir, "sessions", string(sessionID))
}

func (s *Store) eventsPath(sessionID id.SessionID) string {
	return filepath.Join(s.sessionDir(sessionID), "events.log")
}

func (s *Store) manifestPath(sessionID id.SessionID) string {
	return filepath.Join(s.sessionDir(sessionID), "manifest.log")
}

// ListSessionIDs enumerates every session directory under the store's
// root, for callers that need to scan across sessions (e.g. resume
// candidate ranking). Order is unspecified; callers needing determinism
// sort the result themselves.
func (s *Store) ListSessionIDs() ([]id.SessionID, error) {
	names, err := s.fs.ReadDir(filepath.Join(s.dataDir, "sessions"))
	if err == fsport.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: list sessions: %w", err)
	}
	out := make([]id.SessionID, 0, len(names))
	for _, n := range names {
		out = append(out, id.SessionID(n))
	}
	return out, nil
}

// --- length-prefixed record framing ---

func encodeRecord(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out[:4], uint32(len(b)))
	copy(out[4:], b)
	return out
}

// decodeRecords splits raw into length-prefixed records. tail is leftover
// bytes that didn't form a complete record (a torn final write); head
// corruption is reported separately when a length prefix, read in full,
// claims more bytes than remain in raw and more than 64 MiB (too large to
// be a torn write — the prefix itself must be garbled).
func decodeRecords(raw []byte) (records [][]byte, tail []byte, headCorrupt bool) {
	i := 0
	for i < len(raw) {
		if len(raw)-i < 4 {
			return records, raw[i:], false
		}
		n := binary.BigEndian.Uint32(raw[i : i+4])
		start := i + 4
		end := start + int(n)
		if end > len(raw) {
			// Could be a torn write (length is plausible but body is
			// incomplete) or a garbled header (length is implausibly
			// large). We treat "remaining bytes are fewer than claimed but
			// nonzero and modest" as a torn tail, and only flag head
			// corruption when the claimed length is absurd relative to
			// what could ever fit (defensive upper bound).
			if n > 64*1024*1024 {
				return records, nil, true
			}
			return records, raw[i:], false
		}
		records = append(records, raw[start:end])
		i = end
	}
	return records, nil, false
}

// --- load + validate ---

// Load reads and validates sessionID's log and manifest, returning a
// LoadedSessionTruth whose Health reflects the outcome. A non-healthy
// verdict never errors: callers (the session lock gate) are responsible
// for failing closed on anything but HealthHealthy.
func (s *Store) Load(sessionID id.SessionID) (LoadedSessionTruth, error) {
	eventsRaw, err := s.fs.ReadFileBytes(s.eventsPath(sessionID))
	if err == fsport.ErrNotFound {
		return LoadedSessionTruth{Health: Health{Kind: HealthHealthy}}, nil
	}
	if err != nil {
		return LoadedSessionTruth{}, fmt.Errorf("eventlog: read events log: %w", err)
	}

	records, tail, headCorrupt := decodeRecords(eventsRaw)
	if headCorrupt {
		return LoadedSessionTruth{Health: Health{
			Kind:   HealthCorruptHead,
			Reason: &HealthReason{Code: "EVENTS_HEADER_GARBLED", Message: "a record length prefix is implausible"},
		}}, nil
	}

	events := make([]Event, 0, len(records))
	for _, rec := range records {
		var ev Event
		if err := strictUnmarshal(rec, &ev); err != nil {
			return LoadedSessionTruth{Health: Health{
				Kind:   HealthCorruptHead,
				Reason: &HealthReason{Code: "EVENT_UNPARSEABLE", Message: err.Error()},
			}}, nil
		}
		events = append(events, ev)
	}
	if len(tail) > 0 {
		// A torn final write is recoverable: everything before it is still
		// valid, but the session is unhealthy until that tail is
		// truncated by an operator/administrative tool. The core never
		// auto-truncates on load, to avoid silently discarding data that
		// might still be forensically useful.
		return LoadedSessionTruth{Events: events, Health: Health{
			Kind:   HealthCorruptTail,
			Reason: &HealthReason{Code: "EVENTS_TAIL_TRUNCATED", Message: fmt.Sprintf("%d trailing bytes do not form a complete record", len(tail))},
		}}, nil
	}

	if verdict := validateEvents(events); verdict.Kind != HealthHealthy {
		return LoadedSessionTruth{Events: events, Health: verdict}, nil
	}

	manifest, err := s.loadManifest(sessionID)
	if err != nil {
		return LoadedSessionTruth{}, err
	}

	return LoadedSessionTruth{Events: events, Manifest: manifest, Health: Health{Kind: HealthHealthy}}, nil
}

func validateEvents(events []Event) Health {
	seen := make(map[string]bool, len(events))
	for i, ev := range events {
		if ev.V != 1 {
			return Health{Kind: HealthUnknownVersion, Reason: &HealthReason{
				Code: "EVENT_UNKNOWN_VERSION", Message: fmt.Sprintf("event %d has v=%d", i, ev.V),
			}}
		}
		if ev.EventIndex != i {
			return Health{Kind: HealthCorruptHead, Reason: &HealthReason{
				Code: "EVENT_INDEX_GAP", Message: fmt.Sprintf("expected eventIndex %d, got %d", i, ev.EventIndex),
			}}
		}
		if !IsKnownKind(ev.Kind) {
			return Health{Kind: HealthUnknownVersion, Reason: &HealthReason{
				Code: "EVENT_UNKNOWN_KIND", Message: fmt.Sprintf("event %d has unknown kind %q", i, ev.Kind),
			}}
		}
		if seen[ev.DedupeKey] {
			return Health{Kind: HealthCorruptHead, Reason: &HealthReason{
				Code: "DEDUPE_KEY_DUPLICATE", Message: fmt.Sprintf("dedupeKey %q appears more than once", ev.DedupeKey),
			}}
		}
		seen[ev.DedupeKey] = true
	}
	return Health{Kind: HealthHealthy}
}

func (s *Store) loadManifest(sessionID id.SessionID) ([]ManifestRecord, error) {
	raw, err := s.fs.ReadFileBytes(s.manifestPath(sessionID))
	if err == fsport.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: read manifest: %w", err)
	}
	records, _, _ := decodeRecords(raw)
	out := make([]ManifestRecord, 0, len(records))
	for _, rec := range records {
		var mr ManifestRecord
		if err := strictUnmarshal(rec, &mr); err != nil {
			return nil, fmt.Errorf("eventlog: decode manifest record: %w", err)
		}
		out = append(out, mr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ManifestIndex < out[j].ManifestIndex })
	return out, nil
}

// --- append ---

// Append commits plan to sessionID's log atomically: either every event in
// plan becomes observable, or none does. w proves the caller holds the
// session's exclusive lock (spec §4.9); beyond checking that it names
// sessionID, it is not otherwise inspected.
func (s *Store) Append(w lockwitness.Witness, sessionID id.SessionID, plan AppendPlan) error {
	if w.SessionID != sessionID {
		return fmt.Errorf("eventlog: lock witness is for a different session")
	}
	if len(plan.Events) == 0 {
		return nil
	}

	truth, err := s.Load(sessionID)
	if err != nil {
		return err
	}
	if truth.Health.Kind != HealthHealthy {
		return fmt.Errorf("eventlog: cannot append to unhealthy session (%s)", truth.Health.Kind)
	}

	existing := truth.Events
	existingKeys := make(map[string]bool, len(existing))
	for _, ev := range existing {
		existingKeys[ev.DedupeKey] = true
	}
	present := 0
	for _, ev := range plan.Events {
		if existingKeys[ev.DedupeKey] {
			present++
		}
	}
	switch {
	case present == len(plan.Events):
		// Every dedupe key already committed: idempotent replay, no-op.
		return nil
	case present > 0:
		return &Error{Code: CodeInvariantViolation, Message: fmt.Sprintf(
			"%d of %d dedupe keys already present: partial collision", present, len(plan.Events))}
	}

	if plan.Events[0].EventIndex != len(existing) {
		return &Error{Code: CodeInvariantViolation, Message: fmt.Sprintf(
			"plan's first eventIndex %d does not equal current log length %d", plan.Events[0].EventIndex, len(existing))}
	}
	for i := 1; i < len(plan.Events); i++ {
		if plan.Events[i].EventIndex != plan.Events[i-1].EventIndex+1 {
			return &Error{Code: CodeInvariantViolation, Message: "plan events are not index-contiguous"}
		}
	}

	if err := s.fs.Mkdirp(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("eventlog: mkdir session dir: %w", err)
	}

	if err := s.appendEvents(sessionID, plan.Events); err != nil {
		return err
	}
	if err := s.appendManifestSegment(sessionID, plan); err != nil {
		return err
	}
	if derr := s.fs.FsyncDir(s.eventsPath(sessionID)); derr != nil && derr != fsport.ErrUnsupported {
		return fmt.Errorf("eventlog: fsync session dir: %w", derr)
	}
	return nil
}

func (s *Store) appendEvents(sessionID id.SessionID, events []Event) error {
	fh, err := s.fs.OpenAppend(s.eventsPath(sessionID))
	if err != nil {
		return fmt.Errorf("eventlog: open events log: %w", err)
	}
	defer func() { _ = s.fs.CloseFile(fh) }()

	for _, ev := range events {
		b, err := canon.Marshal(ev)
		if err != nil {
			return fmt.Errorf("eventlog: canonicalize event: %w", err)
		}
		if err := s.fs.WriteAll(fh, encodeRecord(b)); err != nil {
			return fmt.Errorf("eventlog: write event: %w", err)
		}
	}
	if err := s.fs.FsyncFile(fh); err != nil {
		return fmt.Errorf("eventlog: fsync events log: %w", err)
	}
	return nil
}

func (s *Store) appendManifestSegment(sessionID id.SessionID, plan AppendPlan) error {
	existingManifest, err := s.loadManifest(sessionID)
	if err != nil {
		return err
	}
	nextIdx := len(existingManifest)

	records := []ManifestRecord{{
		ManifestIndex: nextIdx,
		Kind:          ManifestSegmentClosed,
		FirstEventIdx: plan.Events[0].EventIndex,
		LastEventIdx:  plan.Events[len(plan.Events)-1].EventIndex,
	}}
	nextIdx++
	for _, ref := range plan.SnapshotPins {
		records = append(records, ManifestRecord{
			ManifestIndex: nextIdx,
			Kind:          ManifestSnapshotPinned,
			LastEventIdx:  plan.Events[len(plan.Events)-1].EventIndex,
			SnapshotRef:   ref,
		})
		nextIdx++
	}

	fh, err := s.fs.OpenAppend(s.manifestPath(sessionID))
	if err != nil {
		return fmt.Errorf("eventlog: open manifest log: %w", err)
	}
	defer func() { _ = s.fs.CloseFile(fh) }()

	for _, mr := range records {
		b, err := canon.Marshal(mr)
		if err != nil {
			return fmt.Errorf("eventlog: canonicalize manifest record: %w", err)
		}
		if err := s.fs.WriteAll(fh, encodeRecord(b)); err != nil {
			return fmt.Errorf("eventlog: write manifest record: %w", err)
		}
	}
	if err := s.fs.FsyncFile(fh); err != nil {
		return fmt.Errorf("eventlog: fsync manifest log: %w", err)
	}
	return nil
}
