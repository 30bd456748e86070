// Package id mints and derives the branded opaque identifiers used
// throughout the durable core: session, run, node, attempt, event, and
// output IDs, plus the compact workflow-hash reference used inside tokens.
//
// Grounded on the teacher's deterministic hashing idioms
// (graph/checkpoint.go's computeIdempotencyKey, graph/scheduler.go's
// computeOrderKey) generalized from "hash for ordering" to "hash for
// identity derivation".
package id

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"
)

const base32Alphabet = "abcdefghijklmnopqrstuvwxyz234567"

// Kind enumerates the closed set of identifier kinds this package mints.
type Kind string

const (
	KindSession Kind = "sess"
	KindRun     Kind = "run"
	KindNode    Kind = "node"
	KindAttempt Kind = "attempt"
	KindEvent   Kind = "event"
	KindOutput  Kind = "output"
)

// SessionID, RunID, NodeID, AttemptID, EventID, and OutputID are printable,
// opaque, branded identifiers: a Kind prefix followed by a base32-lowercase,
// unpadded encoding of 16 bytes.
type (
	SessionID string
	RunID     string
	NodeID    string
	AttemptID string
	EventID   string
	OutputID  string
)

// Sha256Digest is the canonical "sha256:<64 lowercase hex>" string produced
// by canon.Digest.
type Sha256Digest string

// WorkflowHash is a Sha256Digest computed over the JCS canonical bytes of a
// compiled workflow snapshot.
type WorkflowHash Sha256Digest

// SnapshotRef is a Sha256Digest computed over the JCS canonical bytes of an
// execution snapshot file.
type SnapshotRef Sha256Digest

// WorkflowHashRef is a compact 128-bit reference to a WorkflowHash used
// inside tokens: "wf_" + base32-lower-no-pad of the first 16 bytes of the
// digest's hex-decoded bytes.
type WorkflowHashRef string

func encodeBase32(b []byte) string {
	var sb strings.Builder
	bits, val := 0, 0
	for _, c := range b {
		val = (val << 8) | int(c)
		bits += 8
		for bits >= 5 {
			bits -= 5
			sb.WriteByte(base32Alphabet[(val>>bits)&0x1f])
		}
	}
	if bits > 0 {
		sb.WriteByte(base32Alphabet[(val<<(5-bits))&0x1f])
	}
	return sb.String()
}

func decodeBase32(s string) ([]byte, error) {
	rev := make(map[byte]int, len(base32Alphabet))
	for i := 0; i < len(base32Alphabet); i++ {
		rev[base32Alphabet[i]] = i
	}
	var out []byte
	bits, val := 0, 0
	for i := 0; i < len(s); i++ {
		v, ok := rev[s[i]]
		if !ok {
			return nil, fmt.Errorf("id: invalid base32 character %q", s[i])
		}
		val = (val << 5) | v
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte((val>>bits)&0xff))
		}
	}
	return out, nil
}

func mintRandom16() ([16]byte, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return buf, fmt.Errorf("id: read entropy: %w", err)
	}
	return buf, nil
}

func mint(prefix Kind) (string, error) {
	buf, err := mintRandom16()
	if err != nil {
		return "", err
	}
	return string(prefix) + "_" + encodeBase32(buf[:]), nil
}

// MintSessionID draws 16 bytes from a cryptographic entropy source and
// returns a new session ID.
func MintSessionID() (SessionID, error) {
	s, err := mint(KindSession)
	return SessionID(s), err
}

// MintRunID mints a new run ID.
func MintRunID() (RunID, error) {
	s, err := mint(KindRun)
	return RunID(s), err
}

// MintNodeID mints a new node ID.
func MintNodeID() (NodeID, error) {
	s, err := mint(KindNode)
	return NodeID(s), err
}

// MintAttemptID mints a new, non-derived attempt ID (used for the very
// first attempt of a run, which has no parent attempt to derive from).
func MintAttemptID() (AttemptID, error) {
	s, err := mint(KindAttempt)
	return AttemptID(s), err
}

// MintEventID mints a new event ID.
func MintEventID() (EventID, error) {
	s, err := mint(KindEvent)
	return EventID(s), err
}

// MintOutputID mints a new output ID.
func MintOutputID() (OutputID, error) {
	s, err := mint(KindOutput)
	return OutputID(s), err
}

// DeriveChildAttemptID is a pure, deterministic function: the attempt ID of
// the "next node" after an advance from attempt A is always
// sha256(bytes_of_A)[:16], base32-encoded with the attempt_ prefix. Replay
// of the same parent attempt always re-mints the identical child ID.
func DeriveChildAttemptID(parent AttemptID) AttemptID {
	sum := sha256.Sum256([]byte(parent))
	return AttemptID(string(KindAttempt) + "_" + encodeBase32(sum[:16]))
}

// DeriveWorkflowHashRef takes the first 16 bytes of a WorkflowHash's
// hex-decoded digest and emits the compact "wf_<base32>" token reference.
func DeriveWorkflowHashRef(wh WorkflowHash) (WorkflowHashRef, error) {
	hexPart := strings.TrimPrefix(string(wh), "sha256:")
	if len(hexPart) < 32 {
		return "", fmt.Errorf("id: workflow hash %q too short", wh)
	}
	raw := make([]byte, 16)
	if _, err := fmt.Sscanf(hexPart[:32], "%x", &raw); err != nil {
		return "", fmt.Errorf("id: decode workflow hash hex: %w", err)
	}
	return WorkflowHashRef(string("wf") + "_" + encodeBase32(raw)), nil
}

// Base32Encode and Base32Decode expose the unpadded base32-lowercase codec
// used for identifier bodies and for the wire encoding used elsewhere (e.g.
// keyring files never use this, but tests and debug tooling may).
func Base32Encode(b []byte) string          { return encodeBase32(b) }
func Base32Decode(s string) ([]byte, error) { return decodeBase32(s) }
