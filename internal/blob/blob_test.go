package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/csdb/internal/config"
)

func newFSStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(afero.NewMemMapFs(), "/blobs")
	require.NoError(t, err)
	return s
}

func TestStores(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"fs":     func(t *testing.T) Store { return newFSStore(t) },
	}

	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := mk(t)

			ok, err := s.Exists(ctx, "a1b2c3")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Store(ctx, "a1b2c3", strings.NewReader("<dmodule/>")))

			ok, err = s.Exists(ctx, "a1b2c3")
			require.NoError(t, err)
			assert.True(t, ok)

			rc, err := s.Read(ctx, "a1b2c3")
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, rc.Close())
			require.NoError(t, err)
			assert.Equal(t, "<dmodule/>", string(data))

			require.NoError(t, s.Store(ctx, "a1b2c3", strings.NewReader("<v2/>")))
			rc, err = s.Read(ctx, "a1b2c3")
			require.NoError(t, err)
			data, _ = io.ReadAll(rc)
			_ = rc.Close()
			assert.Equal(t, "<v2/>", string(data))

			require.NoError(t, s.Delete(ctx, "a1b2c3"))
			ok, err = s.Exists(ctx, "a1b2c3")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Delete(ctx, "a1b2c3"), "deleting a missing blob is not an error")

			_, err = s.Read(ctx, "a1b2c3")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNotFound))
			var se *StorageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, name, se.Backend)
		})
	}
}

func TestFSStoreShardsByPrefix(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := NewFSStore(fsys, "/data/blobs")
	require.NoError(t, err)

	require.NoError(t, s.Store(context.Background(), "deadbeef", strings.NewReader("x")))

	ok, err := afero.Exists(fsys, "/data/blobs/de/deadbeef")
	require.NoError(t, err)
	assert.True(t, ok)

	tmp, err := afero.Exists(fsys, "/data/blobs/de/deadbeef.tmp")
	require.NoError(t, err)
	assert.False(t, tmp)
}

func TestInvalidIDsRejected(t *testing.T) {
	s := newFSStore(t)
	for _, id := range []string{"", ".", "..", "../etc", "a/b"} {
		err := s.Store(context.Background(), id, strings.NewReader("x"))
		assert.Error(t, err, "id %q", id)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(context.Background(), config.BlobConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(context.Background(), config.BlobConfig{Backend: "fs", FS: config.BlobFSConfig{Dir: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &FSStore{}, s)

	_, err = Open(context.Background(), config.BlobConfig{Backend: "tape"})
	assert.Error(t, err)
}

func TestS3KeyPrefix(t *testing.T) {
	s := &S3Store{prefix: "csdb/xml"}
	assert.Equal(t, "csdb/xml/abc", s.key("abc"))
	s.prefix = ""
	assert.Equal(t, "abc", s.key("abc"))
}

func TestIsNotFoundMatchesAPICodes(t *testing.T) {
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}
