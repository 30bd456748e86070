// Package snapshotstore implements the content-addressed execution-snapshot
// store described in spec §4.6: put computes sha256(JCS(file)) and writes
// the canonical bytes under snapshots/<ref>.json via an atomic exclusive
// create; get re-reads and re-verifies the digest.
//
// Grounded on the teacher's SQLite store's idempotent-create discipline
// (graph/store/sqlite.go's createTables/UNIQUE-constraint comments),
// re-expressed over content-addressed files instead of SQL rows.
package snapshotstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/workrail/durable-core/canon"
	"github.com/workrail/durable-core/fsport"
	"github.com/workrail/durable-core/id"
)

// Code is the closed error-code set this package returns.
type Code string

const CodeCorrupt Code = "SNAPSHOT_CORRUPT"

// Error is the structured error this package returns.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Store persists execution snapshot documents, keyed by their own content
// hash. Any number of sessions may reference a given SnapshotRef.
type Store struct {
	fs  fsport.FS
	dir string
}

// New returns a Store rooted at <dataDir>/snapshots.
func New(fs fsport.FS, dataDir string) *Store {
	return &Store{fs: fs, dir: filepath.Join(dataDir, "snapshots")}
}

func (s *Store) pathFor(ref id.SnapshotRef) string {
	hexPart := strings.TrimPrefix(string(ref), "sha256:")
	return filepath.Join(s.dir, hexPart+".json")
}

// Put canonicalizes file, computes its SnapshotRef, and writes it if not
// already present. Writing content that already exists under the same ref
// is a no-op success (content-addressed idempotence) — it is, by
// construction, byte-identical to what's already on disk.
func (s *Store) Put(file any) (id.SnapshotRef, error) {
	digest, bytes, err := canon.Digest(file)
	if err != nil {
		return "", fmt.Errorf("snapshotstore: canonicalize: %w", err)
	}
	ref := id.SnapshotRef(digest)

	if err := s.fs.Mkdirp(s.dir); err != nil {
		return "", fmt.Errorf("snapshotstore: mkdir: %w", err)
	}
	path := s.pathFor(ref)
	if err := s.fs.OpenExclusive(path, bytes); err != nil {
		if err == fsport.ErrAlreadyExists {
			return ref, nil
		}
		return "", fmt.Errorf("snapshotstore: write %s: %w", path, err)
	}
	if derr := s.fs.FsyncDir(path); derr != nil && derr != fsport.ErrUnsupported {
		return "", fmt.Errorf("snapshotstore: fsync dir: %w", derr)
	}
	return ref, nil
}

// Get reads the snapshot stored under ref, JCS-parses it into out, and
// verifies its digest matches ref; mismatch is CodeCorrupt.
func (s *Store) Get(ref id.SnapshotRef, out any) error {
	path := s.pathFor(ref)
	raw, err := s.fs.ReadFileBytes(path)
	if err != nil {
		return fmt.Errorf("snapshotstore: read %s: %w", path, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return &Error{Code: CodeCorrupt, Message: fmt.Sprintf("invalid JSON at %s: %v", path, err)}
	}
	recomputed, _, err := canon.Digest(generic)
	if err != nil {
		return &Error{Code: CodeCorrupt, Message: fmt.Sprintf("cannot canonicalize stored snapshot: %v", err)}
	}
	if recomputed != string(ref) {
		return &Error{Code: CodeCorrupt, Message: fmt.Sprintf("digest mismatch: expected %s, got %s", ref, recomputed)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Code: CodeCorrupt, Message: fmt.Sprintf("cannot decode into target type: %v", err)}
	}
	return nil
}

// Exists reports whether ref is present in the store without decoding it.
func (s *Store) Exists(ref id.SnapshotRef) (bool, error) {
	_, err := s.fs.Stat(s.pathFor(ref))
	if err == nil {
		return true, nil
	}
	if err == fsport.ErrNotFound {
		return false, nil
	}
	return false, err
}
