// Package workspace owns the per-job directories archives are extracted into.
package workspace

import (
	"context"
	"errors"
	"time"
)

// ErrNoWorkspace is returned when a job has no extraction directory.
var ErrNoWorkspace = errors.New("workspace not found")

// Workspace is one job's extraction directory. Paths are derived from the
// job ID, so nothing about them is persisted.
type Workspace struct {
	JobID string
	Dir   string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
	SkippedDirs int
}

// Manager governs per-job extraction directories.
type Manager interface {
	// Create returns an empty workspace for jobID. Leftovers of an earlier
	// run of the same job are discarded.
	Create(ctx context.Context, jobID string) (Workspace, error)

	// Open resolves an existing workspace; ErrNoWorkspace when there is none.
	Open(ctx context.Context, jobID string) (Workspace, error)

	// Files lists the regular files left in jobID's workspace, slash
	// separated and relative to its root, sorted.
	Files(ctx context.Context, jobID string) ([]string, error)

	// Remove deletes jobID's workspace. A missing workspace is not an error.
	Remove(ctx context.Context, jobID string) error

	// Cleanup removes workspaces untouched for olderThan unless keep
	// claims them.
	Cleanup(ctx context.Context, olderThan time.Duration, keep func(jobID string) bool) (CleanupReport, error)
}
