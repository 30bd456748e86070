// Package workflowstore implements the content-addressed pinned-workflow
// store described in spec §4.7: put computes workflowHash =
// sha256(JCS(compiledWorkflow)) and writes it under
// pinnedWorkflows/<hash>.json; a workflow is pinned at first reference.
//
// Same content-addressing discipline as snapshotstore; see that package's
// doc comment for grounding.
package workflowstore

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

const CodeCorrupt Code = "SNAPSHOT_CORRUPT" // pinned workflows share the snapshot corruption code family

// Error is the structured error this package returns.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Store persists compiled-workflow documents, keyed by their own content
// hash (WorkflowHash).
type Store struct {
	fs  fsport.FS
	dir string
}

// New returns a Store rooted at <dataDir>/pinnedWorkflows.
func New(fs fsport.FS, dataDir string) *Store {
	return &Store{fs: fs, dir: filepath.Join(dataDir, "pinnedWorkflows")}
}

func (s *Store) pathFor(hash id.WorkflowHash) string {
	hexPart := strings.TrimPrefix(string(hash), "sha256:")
	return filepath.Join(s.dir, hexPart+".json")
}

// Put canonicalizes compiled, computes its WorkflowHash, and writes it if
// not already pinned.
func (s *Store) Put(compiled any) (id.WorkflowHash, error) {
	digest, bytes, err := canon.Digest(compiled)
	if err != nil {
		return "", fmt.Errorf("workflowstore: canonicalize: %w", err)
	}
	hash := id.WorkflowHash(digest)

	if err := s.fs.Mkdirp(s.dir); err != nil {
		return "", fmt.Errorf("workflowstore: mkdir: %w", err)
	}
	path := s.pathFor(hash)
	if err := s.fs.OpenExclusive(path, bytes); err != nil {
		if err == fsport.ErrAlreadyExists {
			return hash, nil
		}
		return "", fmt.Errorf("workflowstore: write %s: %w", path, err)
	}
	if derr := s.fs.FsyncDir(path); derr != nil && derr != fsport.ErrUnsupported {
		return "", fmt.Errorf("workflowstore: fsync dir: %w", derr)
	}
	return hash, nil
}

// Get reads the compiled workflow pinned under hash into out, verifying
// its digest.
func (s *Store) Get(hash id.WorkflowHash, out any) error {
	path := s.pathFor(hash)
	raw, err := s.fs.ReadFileBytes(path)
	if err != nil {
		return fmt.Errorf("workflowstore: read %s: %w", path, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return &Error{Code: CodeCorrupt, Message: fmt.Sprintf("invalid JSON at %s: %v", path, err)}
	}
	recomputed, _, err := canon.Digest(generic)
	if err != nil {
		return &Error{Code: CodeCorrupt, Message: fmt.Sprintf("cannot canonicalize stored workflow: %v", err)}
	}
	if recomputed != string(hash) {
		return &Error{Code: CodeCorrupt, Message: fmt.Sprintf("digest mismatch: expected %s, got %s", hash, recomputed)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Code: CodeCorrupt, Message: fmt.Sprintf("cannot decode into target type: %v", err)}
	}
	return nil
}

// Exists reports whether hash is present in the store.
func (s *Store) Exists(hash id.WorkflowHash) (bool, error) {
	_, err := s.fs.Stat(s.pathFor(hash))
	if err == nil {
		return true, nil
	}
	if err == fsport.ErrNotFound {
		return false, nil
	}
	return false, err
}
