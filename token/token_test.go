package token

import (
	"testing"

	"github.com/workrail/durable-core/id"
)

func testKeys(t *testing.T) Keys {
	t.Helper()
	var current [32]byte
	for i := range current {
		current[i] = byte(i)
	}
	return Keys{Current: current}
}

func samplePayload(kind Kind) Payload {
	p := Payload{
		Kind:      kind,
		SessionID: id.SessionID("sess_" + id.Base32Encode(make([]byte, 16))),
		RunID:     id.RunID("run_" + id.Base32Encode(make([]byte, 16))),
		NodeID:    id.NodeID("node_" + id.Base32Encode(make([]byte, 16))),
	}
	switch kind {
	case KindState:
		p.TailWorkflowHashRef = id.WorkflowHashRef("wf_" + id.Base32Encode(make([]byte, 16)))
	default:
		p.TailAttemptID = id.AttemptID("attempt_" + id.Base32Encode(make([]byte, 16)))
	}
	return p
}

func TestSignVerifyRoundTrip(t *testing.T) {
	keys := testKeys(t)
	for _, kind := range []Kind{KindState, KindAck, KindCheckpoint} {
		p := samplePayload(kind)
		encoded, err := Sign(p, keys)
		if err != nil {
			t.Fatalf("Sign(kind=%d): %v", kind, err)
		}
		decoded, err := Verify(encoded, keys)
		if err != nil {
			t.Fatalf("Verify(kind=%d): %v", kind, err)
		}
		if decoded.Kind != p.Kind || decoded.SessionID != p.SessionID || decoded.RunID != p.RunID || decoded.NodeID != p.NodeID {
			t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, p)
		}
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	keys := testKeys(t)
	encoded, err := Sign(samplePayload(KindState), keys)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tampered := []byte(encoded)
	// Flip a character in the data portion (after the "st1" hrp+separator).
	idx := len(tampered) - 5
	if tampered[idx] == 'q' {
		tampered[idx] = 'p'
	} else {
		tampered[idx] = 'q'
	}
	if _, err := Verify(string(tampered), keys); err == nil {
		t.Fatal("expected Verify to reject a tampered token")
	}
}

func TestVerifyAcceptsPreviousKeyDuringRotation(t *testing.T) {
	var oldKey [32]byte
	for i := range oldKey {
		oldKey[i] = byte(255 - i)
	}
	p := samplePayload(KindAck)
	encoded, err := Sign(p, Keys{Current: oldKey})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	newKeys := testKeys(t)
	newKeys.Previous = &oldKey
	if _, err := Verify(encoded, newKeys); err != nil {
		t.Fatalf("Verify with rotated keys should accept previous-key signature: %v", err)
	}

	noPrev := testKeys(t)
	if _, err := Verify(encoded, noPrev); err == nil {
		t.Fatal("expected Verify to reject an old-key signature once previous key is dropped")
	}
}

func TestVerifyRejectsCorruptedBech32(t *testing.T) {
	keys := testKeys(t)
	stateToken, err := Sign(samplePayload(KindState), keys)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := Verify(stateToken+"x", keys); err == nil {
		t.Fatal("expected Verify to reject a corrupted bech32 string")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	keys := testKeys(t)
	if _, err := Verify("not-a-token", keys); err == nil {
		t.Fatal("expected Verify to reject non-bech32 input")
	}
}
