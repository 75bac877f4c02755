package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_services.go -package=mocks github.com/mattjoyce/csdb/internal/scheduler JobService,WorkspaceCleaner,BinaryPruner

// JobService is the part of the job store the maintenance loop uses.
type JobService interface {
	MarkOrphaned(ctx context.Context, nodeName, message string) ([]string, error)
	PruneFinished(ctx context.Context, olderThan time.Duration) (int64, error)
	FindByStatus(ctx context.Context, statuses ...job.Status) ([]*job.Job, error)
}

// WorkspaceCleaner removes stale extraction directories.
type WorkspaceCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration, keep func(jobID string) bool) (workspace.CleanupReport, error)
}

// BinaryPruner removes binary content entities no version references.
type BinaryPruner interface {
	PruneOrphanBinaries(ctx context.Context, olderThan time.Duration) (int, error)
}
