// Package blob stores the byte streams behind binary content entities, keyed
// by the entity's own identifier.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"

	"github.com/mattjoyce/csdb/internal/config"
)

// ErrNotFound is returned by Read when no blob exists for the id.
var ErrNotFound = errors.New("blob not found")

// Store is the store/exists/read/delete-by-key service content entities rely on.
// Delete of a missing blob is not an error.
type Store interface {
	Store(ctx context.Context, id string, r io.Reader) error
	Exists(ctx context.Context, id string) (bool, error)
	Read(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// StorageError records which backend operation failed for which key.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("blob %s %s on %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "fs":
		return NewFSStore(afero.NewOsFs(), cfg.FS.Dir)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid blob id %q", id)
	}
	return nil
}
