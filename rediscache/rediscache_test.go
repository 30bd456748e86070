package rediscache

import (
	"testing"
	"time"
)

func TestNewFailsFastAgainstUnreachableRedis(t *testing.T) {
	// 127.0.0.1:1 is never a live Redis server in a test sandbox; New
	// should surface the Ping failure rather than hang or panic.
	_, err := New("127.0.0.1:1", "", 0, time.Second)
	if err == nil {
		t.Fatal("expected New to fail against an unreachable address")
	}
}

func TestNewDefaultsNonPositiveTTL(t *testing.T) {
	// New defaults the TTL only after a successful ping, so against an
	// unreachable address this only exercises that New doesn't panic on a
	// zero TTL.
	_, err := New("127.0.0.1:1", "", 0, 0)
	if err == nil {
		t.Fatal("expected New to fail against an unreachable address")
	}
}
