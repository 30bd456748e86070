package keyring

import (
	"testing"

	"github.com/workrail/durable-core/fsport"
)

func TestLoadOrCreateCreatesThenReloadsSameKeys(t *testing.T) {
	fs := fsport.NewMemFS()

	kr1, err := LoadOrCreate(fs, "/data")
	if err != nil {
		t.Fatalf("first LoadOrCreate: %v", err)
	}

	kr2, err := LoadOrCreate(fs, "/data")
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}

	if kr1.Current != kr2.Current {
		t.Fatal("reloading an existing keyring should return the same current key, not mint a new one")
	}
}

func TestKeysAdaptsToTokenKeys(t *testing.T) {
	fs := fsport.NewMemFS()
	kr, err := LoadOrCreate(fs, "/data")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	keys := kr.Keys()
	if keys.Current != kr.Current {
		t.Fatal("Keys() should carry through the current key unchanged")
	}
	if keys.Previous != nil {
		t.Fatal("a freshly created keyring should have no previous key")
	}
}
