package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/log"
	"github.com/mattjoyce/csdb/internal/metrics"
)

// Options configures a Dispatcher.
type Options struct {
	// NodeName is recorded on every job this dispatcher claims.
	NodeName     string
	Workers      int
	PollInterval time.Duration
	Notify       job.Notifier
	Handler      job.HandlerOptions
	Metrics      *metrics.Metrics
}

// Dispatcher claims queued jobs and runs them on a bounded worker pool.
type Dispatcher struct {
	jobs    *job.Store
	tasks   map[job.Type]job.Task
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Dispatcher running tasks by job type.
func New(jobs *job.Store, tasks map[job.Type]job.Task, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Dispatcher{
		jobs:    jobs,
		tasks:   tasks,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  log.WithComponent("dispatch"),
	}
}

// Start runs the workers until ctx is cancelled. Cancellation stops new
// claims; Start returns once the jobs already running have finished.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "workers", d.opts.Workers, "node_name", d.opts.NodeName)
	defer d.logger.Info("dispatch loop stopped")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			return d.work(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

func (d *Dispatcher) work(ctx context.Context, worker int) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain the queue before waiting for the next tick.
		for {
			ran, err := d.RunNext(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Error("failed to process job", "worker", worker, "error", err)
				break
			}
			if !ran {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunNext claims and runs the oldest queued job. It reports whether a job was
// run by this call. A job claimed first by another worker is not an error.
func (d *Dispatcher) RunNext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	next, err := d.jobs.NextQueued(ctx)
	if err != nil {
		return false, fmt.Errorf("next queued job: %w", err)
	}
	if next == nil {
		return false, nil
	}

	err = d.Run(ctx, next)
	if errors.Is(err, job.ErrNotClaimable) {
		return true, nil
	}
	return true, err
}

// Run executes one queued job on this node.
func (d *Dispatcher) Run(ctx context.Context, j *job.Job) error {
	logger := log.WithJob(j.ID).With("job_type", string(j.Type))

	task, ok := d.tasks[j.Type]
	if !ok {
		task = job.TaskFunc(func(ctx context.Context, j *job.Job, h *job.Handler) error {
			err := fmt.Errorf("no task registered for job type %q", j.Type)
			if ferr := h.Fail(ctx, err, job.MessageFailed); ferr != nil {
				return ferr
			}
			return err
		})
	}

	finished := d.metrics.JobStarted(string(j.Type))
	opts := d.opts.Handler
	opts.Logger = logger
	err := job.Process(ctx, d.jobs, j, d.opts.NodeName, task, job.ProcessDeps{
		Notify:  d.notify,
		Options: opts,
	})
	if errors.Is(err, job.ErrNotClaimable) {
		logger.Debug("job claimed by another worker")
		return err
	}

	status := job.StatusCompleted
	if err != nil {
		status = job.StatusFailed
		logger.Warn("job finished with error", "error", err)
	}
	finished(string(status))
	// The job's own failure is recorded on the job; only store errors surface.
	if err != nil && !d.recorded(ctx, j.ID) {
		return err
	}
	return nil
}

// recorded reports whether the job reached a terminal status in the store.
func (d *Dispatcher) recorded(ctx context.Context, id string) bool {
	j, err := d.jobs.Get(context.WithoutCancel(ctx), id)
	return err == nil && j.Status.Terminal()
}

func (d *Dispatcher) notify(topic string, payload any) {
	if d.opts.Notify != nil {
		d.opts.Notify(topic, payload)
	}
}
