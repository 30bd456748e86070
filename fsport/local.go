package fsport

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// LocalFS is the local-disk FS adapter. Atomic creates and atomic
// overwrites build on github.com/google/renameio/v2's write-to-temp,
// fsync, rename pattern — grounded on joeycumines-go-utilpkg's dependency
// on that same package for exactly this purpose (see DESIGN.md).
type LocalFS struct{}

// NewLocalFS returns the local-disk filesystem adapter.
func NewLocalFS() LocalFS { return LocalFS{} }

type localHandle struct{ f *os.File }

func (localHandle) isFileHandle() {}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return ErrAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	default:
		return errors.Join(ErrIOError, err)
	}
}

func (LocalFS) Mkdirp(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return mapErr(err)
	}
	return nil
}

func (LocalFS) ReadFileUtf8(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", mapErr(err)
	}
	return string(b), nil
}

func (LocalFS) ReadFileBytes(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, mapErr(err)
	}
	return b, nil
}

func (LocalFS) WriteFileBytes(path string, data []byte) error {
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return mapErr(err)
	}
	return nil
}

func (LocalFS) OpenWriteTruncate(path string) (FileHandle, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, mapErr(err)
	}
	return localHandle{f}, nil
}

func (LocalFS) OpenAppend(path string) (FileHandle, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, mapErr(err)
	}
	return localHandle{f}, nil
}

func (LocalFS) WriteAll(fh FileHandle, data []byte) error {
	lh, ok := fh.(localHandle)
	if !ok {
		return errors.Join(ErrIOError, errors.New("fs: wrong handle type"))
	}
	if _, err := lh.f.Write(data); err != nil {
		return mapErr(err)
	}
	return nil
}

// OpenExclusive atomically creates path with data, never overwriting an
// existing file it finds. An os.Stat check first fails with
// ErrAlreadyExists if the target exists; renameio's PendingFile then
// writes to a temp sibling, fsyncs it, and renames it over the target.
// The rename itself replaces, so a file created between the check and
// the rename is overwritten.
func (LocalFS) OpenExclusive(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return mapErr(err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return mapErr(err)
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return mapErr(err)
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return mapErr(err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return mapErr(err)
	}
	return nil
}

func (LocalFS) FsyncFile(fh FileHandle) error {
	lh, ok := fh.(localHandle)
	if !ok {
		return errors.Join(ErrIOError, errors.New("fs: wrong handle type"))
	}
	if err := lh.f.Sync(); err != nil {
		return mapErr(err)
	}
	return nil
}

// FsyncDir fsyncs the directory containing path so a preceding create or
// rename is durable. Some platforms/filesystems reject fsync on a
// directory handle outright; that failure maps to ErrUnsupported (rather
// than ErrIOError) so callers can decide whether to tolerate it instead of
// treating it as a transient I/O failure worth retrying.
func (LocalFS) FsyncDir(path string) error {
	dir := filepath.Dir(path)
	f, err := os.Open(dir)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = f.Close() }()
	if err := f.Sync(); err != nil {
		return ErrUnsupported
	}
	return nil
}

func (LocalFS) CloseFile(fh FileHandle) error {
	lh, ok := fh.(localHandle)
	if !ok {
		return errors.Join(ErrIOError, errors.New("fs: wrong handle type"))
	}
	if err := lh.f.Close(); err != nil {
		return mapErr(err)
	}
	return nil
}

func (LocalFS) Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return mapErr(err)
	}
	return nil
}

func (LocalFS) Unlink(path string) error {
	if err := os.Remove(path); err != nil {
		return mapErr(err)
	}
	return nil
}

func (LocalFS) Stat(path string) (FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, mapErr(err)
	}
	return FileInfo{Size: st.Size(), IsDir: st.IsDir()}, nil
}

func (LocalFS) ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, mapErr(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
