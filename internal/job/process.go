package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/mattjoyce/csdb/internal/log"
)

// Task is the body of a job. It must move the handler to RUNNING and commit
// before substantial work, and finish with exactly one of Done or Fail.
type Task interface {
	Run(ctx context.Context, j *Job, h *Handler) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, j *Job, h *Handler) error

func (f TaskFunc) Run(ctx context.Context, j *Job, h *Handler) error { return f(ctx, j, h) }

// ProcessDeps carries what Process needs besides the store.
type ProcessDeps struct {
	Notify  Notifier
	Options HandlerOptions
}

// Process runs one queued job: it claims the job for nodeName (QUEUED to
// STARTING with start time, one committed step), builds the handler and runs
// task. A cancelled ctx before the claim means the job is not started; once
// claimed, the task runs detached from ctx's cancellation and finishes on its
// own. A task that panics, or returns without Done or Fail, is failed here.
func Process(ctx context.Context, store *Store, j *Job, nodeName string, task Task, deps ProcessDeps) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	started, err := store.Start(ctx, j.ID, nodeName)
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)

	logger := deps.Options.Logger
	if logger == nil {
		logger = log.WithJob(started.ID).With("job_type", string(started.Type))
	}
	opts := deps.Options
	opts.Logger = logger

	var h *Handler
	commit := func(ctx context.Context, id string, st State) error {
		return store.SaveProgress(ctx, id, st, h.Edge())
	}
	h = NewHandler(started, commit, deps.Notify, opts)
	if started.IsMigration() && started.ReleaseID != "" {
		h.AttachEdge(EdgeState{
			ReleaseID:       started.ReleaseID,
			SchemaVersionID: started.ToSchemaVersionID,
			Supersedes:      started.FromSchemaVersionID,
		})
	}

	logger.Info("job started", "node_name", nodeName)
	runErr := runTask(ctx, task, started, h, logger)
	if h.Terminal() {
		return runErr
	}

	cause := runErr
	if cause == nil {
		cause = errors.New("task returned without completing the job")
	}
	if err := h.Fail(ctx, cause, MessageFailed); err != nil {
		return fmt.Errorf("fail job %s: %w", started.ID, err)
	}
	if runErr == nil {
		return cause
	}
	return runErr
}

func runTask(ctx context.Context, task Task, j *Job, h *Handler, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job task panicked", "panic", r)
			err = errors.Errorf("job task panicked: %v", r)
		}
	}()
	return task.Run(ctx, j, h)
}
