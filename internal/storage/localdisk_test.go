package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedType(name string, seen *string) fsTypeFunc {
	return func(path string) (string, error) {
		if seen != nil {
			*seen = path
		}
		return name, nil
	}
}

func TestCheckLocalDisk(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "csdb.db")

	require.NoError(t, checkLocalDisk("state.path", dbPath, fixedType("ext4", nil)))

	err := checkLocalDisk("state.path", dbPath, fixedType("NFS4", nil))
	require.ErrorIs(t, err, ErrNetworkFilesystem)
	var nfsErr *NetworkFSError
	require.True(t, errors.As(err, &nfsErr))
	assert.Equal(t, "state.path", nfsErr.Setting)
	assert.Equal(t, "NFS4", nfsErr.FSType)
	assert.Contains(t, err.Error(), "use local disk")
}

func TestCheckLocalDiskJudgesMissingPathByParent(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	var seen string
	require.NoError(t, checkLocalDisk("workspace.dir", filepath.Join(root, "a", "b", "c"), fixedType("xfs", &seen)))
	assert.Equal(t, root, seen)
}

func TestCheckLocalDiskUnsupportedPlatformPasses(t *testing.T) {
	t.Parallel()
	err := checkLocalDisk("state.path", t.TempDir(), func(string) (string, error) {
		return "", errors.ErrUnsupported
	})
	assert.NoError(t, err)
}

func TestCheckLocalDiskEmptyPath(t *testing.T) {
	t.Parallel()
	assert.EqualError(t, checkLocalDisk("state.path", "", fixedType("ext4", nil)), "state.path is empty")
}

func TestIsNetworkFS(t *testing.T) {
	t.Parallel()
	for name, want := range map[string]bool{
		"nfs": true, "SMBFS": true, "9p": true, "ext4": false, "apfs": false, "0x6969": false,
	} {
		assert.Equal(t, want, isNetworkFS(name), name)
	}
}
