package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem marks a path that lives on a network mount.
var ErrNetworkFilesystem = errors.New("path is on a network filesystem")

// NetworkFSError names the setting whose path resolved to a network mount.
type NetworkFSError struct {
	Setting string
	Path    string
	FSType  string
}

func (e *NetworkFSError) Error() string {
	return fmt.Sprintf("%s %q is on network filesystem %q; use local disk", e.Setting, e.Path, e.FSType)
}

func (e *NetworkFSError) Unwrap() error { return ErrNetworkFilesystem }

// fsTypeFunc reports the filesystem name of an existing path.
type fsTypeFunc func(path string) (string, error)

// CheckLocalDisk fails with a *NetworkFSError when path, or its nearest
// existing parent, is on a network mount. setting names the config key in
// the error. Platforms without detection pass.
func CheckLocalDisk(setting, path string) error {
	return checkLocalDisk(setting, path, filesystemType)
}

func checkLocalDisk(setting, path string, fsType fsTypeFunc) error {
	if path == "" {
		return fmt.Errorf("%s is empty", setting)
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return fmt.Errorf("%s: %w", setting, err)
	}
	name, err := fsType(existing)
	if errors.Is(err, errors.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: detect filesystem of %q: %w", setting, existing, err)
	}
	if isNetworkFS(name) {
		return &NetworkFSError{Setting: setting, Path: path, FSType: name}
	}
	return nil
}

// nearestExisting walks up from path until it finds something that exists,
// so a database or directory not created yet is judged by its parent.
func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for candidate := abs; ; {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		candidate = parent
	}
}

func isNetworkFS(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nfs", "nfs4", "cifs", "smbfs", "smb2", "afpfs", "webdav", "9p", "afs":
		return true
	}
	return false
}
