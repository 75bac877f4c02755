package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/csdb/internal/config"
	"github.com/mattjoyce/csdb/internal/events"
	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/metrics"
)

// MessageOrphaned is recorded on jobs failed by crash recovery.
const MessageOrphaned = "job_error_orphaned"

// Topics the maintenance loop publishes on.
const (
	TopicTick   = "scheduler.tick"
	TopicPruned = "scheduler.pruned"
)

type TickEvent struct {
	At time.Time `json:"at"`
}

// PrunedEvent reports Count entities of Kind removed in one pass.
type PrunedEvent struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// Deps are the stores the maintenance loop works on. Workspaces and Binaries
// are optional.
type Deps struct {
	Jobs       JobService
	Workspaces WorkspaceCleaner
	Binaries   BinaryPruner
	Events     *events.Hub
	Metrics    *metrics.Metrics
}

// Scheduler runs crash recovery at startup and retention pruning on every tick.
type Scheduler struct {
	cfg     *config.Config
	deps    Deps
	logger  *slog.Logger
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a new Scheduler instance.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Scheduler {
	if deps.Events == nil {
		deps.Events = events.NewHub(128)
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Start performs crash recovery, then begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "tick_interval", s.cfg.Service.TickInterval)

	if err := s.recoverOrphanedJobs(ctx); err != nil {
		return fmt.Errorf("scheduler crash recovery failed: %w", err)
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		s.logger.Info("Stopping scheduler")
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Service.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick performs a single maintenance pass. Failures are logged and retried
// on the next tick.
func (s *Scheduler) tick(ctx context.Context) {
	s.logger.Debug("Scheduler tick")
	s.deps.Events.Publish(TopicTick, TickEvent{At: time.Now().UTC()})

	if retention := s.cfg.Service.JobRetention; retention > 0 {
		n, err := s.deps.Jobs.PruneFinished(ctx, retention)
		if err != nil {
			s.logger.Error("Failed to prune finished jobs", "error", err)
		} else if n > 0 {
			s.removed("jobs", int(n))
		}
	}

	if s.deps.Workspaces != nil && s.cfg.Service.WorkspaceRetention > 0 {
		if err := s.cleanWorkspaces(ctx); err != nil {
			s.logger.Error("Failed to clean workspaces", "error", err)
		}
	}

	if s.deps.Binaries != nil && s.cfg.Service.WorkspaceRetention > 0 {
		n, err := s.deps.Binaries.PruneOrphanBinaries(ctx, s.cfg.Service.WorkspaceRetention)
		if err != nil {
			s.logger.Error("Failed to prune orphan binaries", "error", err)
		} else if n > 0 {
			s.removed("binaries", n)
		}
	}
}

// cleanWorkspaces removes stale workspaces, keeping those of active jobs.
func (s *Scheduler) cleanWorkspaces(ctx context.Context) error {
	active, err := s.deps.Jobs.FindByStatus(ctx, job.StatusStarting, job.StatusRunning)
	if err != nil {
		return fmt.Errorf("find active jobs: %w", err)
	}
	keep := make(map[string]bool, len(active))
	for _, j := range active {
		keep[j.ID] = true
	}

	report, err := s.deps.Workspaces.Cleanup(ctx, s.cfg.Service.WorkspaceRetention, func(jobID string) bool {
		return keep[jobID]
	})
	if err != nil {
		return err
	}
	if report.DeletedDirs > 0 {
		s.removed("workspaces", report.DeletedDirs)
	}
	return nil
}

func (s *Scheduler) removed(kind string, n int) {
	s.deps.Metrics.Removed(kind, n)
	s.deps.Events.Publish(TopicPruned, PrunedEvent{Kind: kind, Count: n})
	s.logger.Info("Pruned", "kind", kind, "count", n)
}

// recoverOrphanedJobs fails jobs this node left STARTING or RUNNING when it
// last stopped. They are not retried.
func (s *Scheduler) recoverOrphanedJobs(ctx context.Context) error {
	s.logger.Info("Performing crash recovery for orphaned jobs", "node_name", s.cfg.Service.NodeName)

	ids, err := s.deps.Jobs.MarkOrphaned(ctx, s.cfg.Service.NodeName, MessageOrphaned)
	if err != nil {
		return fmt.Errorf("failed to mark orphaned jobs: %w", err)
	}
	if len(ids) == 0 {
		s.logger.Info("No orphaned jobs found.")
		return nil
	}

	for _, id := range ids {
		s.logger.Warn("Marked orphaned job as failed", "job_id", id)
		s.deps.Events.Publish(job.TopicLifecycle, job.LifecycleEvent{Type: job.EventFailed, JobID: id})
	}
	s.deps.Metrics.Removed("orphaned_jobs", len(ids))
	return nil
}
