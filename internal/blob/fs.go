package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FSStore writes blobs under baseDir, sharded by the first two characters of the id.
type FSStore struct {
	fs      afero.Fs
	baseDir string
}

var _ Store = (*FSStore)(nil)

// NewFSStore roots a store at baseDir on fsys. Pass afero.NewMemMapFs() in tests.
func NewFSStore(fsys afero.Fs, baseDir string) (*FSStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("blob base directory is empty")
	}
	if err := fsys.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob base directory: %w", err)
	}
	return &FSStore{fs: fsys, baseDir: filepath.Clean(baseDir)}, nil
}

func (s *FSStore) path(id string) string {
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.baseDir, shard, id)
}

// Store writes to a temporary sibling and renames, so readers never see a partial blob.
func (s *FSStore) Store(ctx context.Context, id string, r io.Reader) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.path(id)
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &StorageError{Backend: "fs", Key: id, Op: "store", Err: err}
	}

	tmp := target + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &StorageError{Backend: "fs", Key: id, Op: "store", Err: err}
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return &StorageError{Backend: "fs", Key: id, Op: "store", Err: err}
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return &StorageError{Backend: "fs", Key: id, Op: "store", Err: err}
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp)
		return &StorageError{Backend: "fs", Key: id, Op: "store", Err: err}
	}
	return nil
}

func (s *FSStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, s.path(id))
	if err != nil {
		return false, &StorageError{Backend: "fs", Key: id, Op: "exists", Err: err}
	}
	return ok, nil
}

func (s *FSStore) Read(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &StorageError{Backend: "fs", Key: id, Op: "read", Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Backend: "fs", Key: id, Op: "read", Err: err}
	}
	return f, nil
}

func (s *FSStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	err := s.fs.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Backend: "fs", Key: id, Op: "delete", Err: err}
	}
	return nil
}
