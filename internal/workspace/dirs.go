package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Dirs keeps one directory per job under root.
type Dirs struct {
	fs    afero.Fs
	root  string
	clock func() time.Time
}

var _ Manager = (*Dirs)(nil)

// NewOSManager roots workspaces on the local disk. Archive extraction writes
// through the os package, so production always uses this.
func NewOSManager(root string) (*Dirs, error) {
	return NewDirManager(afero.NewOsFs(), root)
}

// NewDirManager roots workspaces at root on fsys.
func NewDirManager(fsys afero.Fs, root string) (*Dirs, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("workspace root is empty")
	}
	return &Dirs{fs: fsys, root: filepath.Clean(root), clock: time.Now}, nil
}

// Root is the directory every workspace lives under.
func (d *Dirs) Root() string { return d.root }

func (d *Dirs) Create(ctx context.Context, jobID string) (Workspace, error) {
	dir, err := d.dirFor(ctx, jobID)
	if err != nil {
		return Workspace{}, err
	}
	if err := d.fs.RemoveAll(dir); err != nil {
		return Workspace{}, fmt.Errorf("discard previous workspace of job %s: %w", jobID, err)
	}
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace of job %s: %w", jobID, err)
	}
	return Workspace{JobID: jobID, Dir: dir}, nil
}

func (d *Dirs) Open(ctx context.Context, jobID string) (Workspace, error) {
	dir, err := d.dirFor(ctx, jobID)
	if err != nil {
		return Workspace{}, err
	}
	info, err := d.fs.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Workspace{}, fmt.Errorf("job %s: %w", jobID, ErrNoWorkspace)
	case err != nil:
		return Workspace{}, fmt.Errorf("stat workspace of job %s: %w", jobID, err)
	case !info.IsDir():
		return Workspace{}, fmt.Errorf("workspace of job %s is not a directory", jobID)
	}
	return Workspace{JobID: jobID, Dir: dir}, nil
}

func (d *Dirs) Files(ctx context.Context, jobID string) ([]string, error) {
	ws, err := d.Open(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var files []string
	err = afero.Walk(d.fs, ws.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(ws.Dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workspace of job %s: %w", jobID, err)
	}
	sort.Strings(files)
	return files, nil
}

func (d *Dirs) Remove(ctx context.Context, jobID string) error {
	dir, err := d.dirFor(ctx, jobID)
	if err != nil {
		return err
	}
	if err := d.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove workspace of job %s: %w", jobID, err)
	}
	return nil
}

// Cleanup judges age by the directory's modification time.
func (d *Dirs) Cleanup(ctx context.Context, olderThan time.Duration, keep func(jobID string) bool) (CleanupReport, error) {
	var report CleanupReport
	if olderThan <= 0 {
		return report, errors.New("cleanup age must be positive")
	}

	entries, err := afero.ReadDir(d.fs, d.root)
	if errors.Is(err, fs.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("read workspace root: %w", err)
	}

	cutoff := d.clock().Add(-olderThan)
	for _, info := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if keep != nil && keep(info.Name()) {
			report.SkippedDirs++
			continue
		}
		if err := d.fs.RemoveAll(filepath.Join(d.root, info.Name())); err != nil {
			return report, fmt.Errorf("remove workspace %s: %w", info.Name(), err)
		}
		report.DeletedDirs++
	}
	return report, nil
}

// dirFor maps a job ID to its directory. IDs that could escape root are refused.
func (d *Dirs) dirFor(ctx context.Context, jobID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := strings.TrimSpace(jobID)
	if id == "" {
		return "", errors.New("job id is empty")
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Clean(id) != id {
		return "", fmt.Errorf("job id %q is not usable as a directory name", jobID)
	}
	return filepath.Join(d.root, id), nil
}
