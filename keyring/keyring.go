// Package keyring loads or creates the HMAC signing keys used by the token
// codec. Rotation is out of the durable core's scope (spec §4.4); this
// package only reads whatever the on-disk keyring.json descriptor holds;
// it reads no other configuration file.
//
// Grounded on the teacher's config/options loading idiom (graph/options.go)
// and on vjache-cie's use of gopkg.in/yaml.v3 for on-disk descriptors.
package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/workrail/durable-core/fsport"
	"github.com/workrail/durable-core/token"
)

// fileFormat is the JSON shape persisted at <dataDir>/keyring.json.
type fileFormat struct {
	Current  string `json:"current"`
	Previous string `json:"previous,omitempty"`
}

// Keyring holds the decoded current/previous 32-byte HMAC keys.
type Keyring struct {
	Current  [32]byte
	Previous *[32]byte
}

// Keys adapts the Keyring to the shape token.Verify/token.Sign expect.
func (k Keyring) Keys() token.Keys {
	return token.Keys{Current: k.Current, Previous: k.Previous}
}

func decodeKey(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: invalid base64url key: %v", token.ErrInvalidFormat, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("%w: key length %d != 32", token.ErrInvalidFormat, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func encodeKey(k [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(k[:])
}

func newRandomKey() ([32]byte, error) {
	var k [32]byte
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("keyring: read entropy: %w", err)
	}
	return k, nil
}

// LoadOrCreate reads <dataDir>/keyring.json, creating it with a freshly
// minted current key (and no previous key) if it does not exist. Uses the
// filesystem port's atomic open-exclusive primitive so concurrent
// first-run callers never race each other into a half-written file.
func LoadOrCreate(fs fsport.FS, dataDir string) (Keyring, error) {
	path := filepath.Join(dataDir, "keyring.json")

	raw, err := fs.ReadFileBytes(path)
	switch {
	case err == nil:
		return decodeFile(raw)
	case err == fsport.ErrNotFound:
		return createFile(fs, path)
	default:
		return Keyring{}, fmt.Errorf("keyring: read %s: %w", path, err)
	}
}

func decodeFile(raw []byte) (Keyring, error) {
	var ff fileFormat
	if err := json.Unmarshal(raw, &ff); err != nil {
		return Keyring{}, fmt.Errorf("%w: keyring.json is not valid JSON: %v", token.ErrInvalidFormat, err)
	}
	cur, err := decodeKey(ff.Current)
	if err != nil {
		return Keyring{}, err
	}
	kr := Keyring{Current: cur}
	if ff.Previous != "" {
		prev, err := decodeKey(ff.Previous)
		if err != nil {
			return Keyring{}, err
		}
		kr.Previous = &prev
	}
	return kr, nil
}

func createFile(fs fsport.FS, path string) (Keyring, error) {
	cur, err := newRandomKey()
	if err != nil {
		return Keyring{}, err
	}
	ff := fileFormat{Current: encodeKey(cur)}
	raw, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return Keyring{}, fmt.Errorf("keyring: marshal: %w", err)
	}
	if err := fs.Mkdirp(filepath.Dir(path)); err != nil {
		return Keyring{}, fmt.Errorf("keyring: mkdir: %w", err)
	}
	if err := fs.OpenExclusive(path, raw); err != nil {
		if err == fsport.ErrAlreadyExists {
			// Lost the creation race to a concurrent caller; read back what
			// the winner wrote instead of erroring.
			existing, rerr := fs.ReadFileBytes(path)
			if rerr != nil {
				return Keyring{}, fmt.Errorf("keyring: read after lost race: %w", rerr)
			}
			return decodeFile(existing)
		}
		return Keyring{}, fmt.Errorf("keyring: create %s: %w", path, err)
	}
	return Keyring{Current: cur}, nil
}

// DefaultDataDir resolves WORKRAIL_DATA_DIR, falling back to a platform
// user-data directory, matching spec §6 "Environment variables".
func DefaultDataDir() string {
	if v := os.Getenv("WORKRAIL_DATA_DIR"); v != "" {
		return v
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "workrail")
}
