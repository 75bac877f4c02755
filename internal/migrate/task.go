// Package migrate runs schema-migration jobs: the latest drafts of a release
// bound to one schema version are rebound to a newer version of the same
// schema, with the release's version edge tracking the job.
package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/log"
)

// Message key recorded when the migration pair is invalid.
const MessageInvalidPair = "job_error_migration_pair"

// NewEnqueueRequest builds a schema-migration job for a release.
func NewEnqueueRequest(user, releaseID, fromSchemaVersionID, toSchemaVersionID string) job.EnqueueRequest {
	return job.EnqueueRequest{
		Type:                job.TypeSchemaMigration,
		Creator:             user,
		ReleaseID:           releaseID,
		FromSchemaVersionID: fromSchemaVersionID,
		ToSchemaVersionID:   toSchemaVersionID,
	}
}

type Task struct {
	store  *content.Store
	logger *slog.Logger
}

func NewTask(store *content.Store) *Task {
	return &Task{store: store, logger: log.WithComponent("migrate")}
}

func (t *Task) Run(ctx context.Context, j *job.Job, h *job.Handler) error {
	logger := t.logger.With("job_id", j.ID, "release", j.ReleaseID)

	from, to, err := t.resolve(ctx, j)
	if err != nil {
		return t.fail(ctx, h, err, MessageInvalidPair)
	}

	h.SetStatus(job.StatusRunning)
	if err := h.Commit(ctx); err != nil {
		return t.fail(ctx, h, err, job.MessageFailed)
	}

	drafts, err := t.store.DraftsBoundTo(ctx, from.ID, j.ReleaseID)
	if err != nil {
		return t.fail(ctx, h, err, job.MessageFailed)
	}
	logger.Info("migration started", "schema", from.SchemaName, "from", from.Version, "to", to.Version, "drafts", len(drafts))

	for _, d := range drafts {
		if _, err := t.store.CreateDraftVersion(ctx, content.NewVersion{
			NodeID:          d.NodeID,
			Language:        d.Language,
			ReleaseID:       d.ReleaseID,
			SchemaVersionID: to.ID,
			Editor:          j.Creator,
		}); err != nil {
			return t.fail(ctx, h, fmt.Errorf("rebind node %s: %w", d.NodeID, err), job.MessageFailed)
		}
		h.IncCompleted()
		if err := h.Checkpoint(ctx); err != nil {
			return t.fail(ctx, h, err, job.MessageFailed)
		}
	}

	h.SetEdgeActive(true)
	logger.Info("migration finished", "drafts", len(drafts))
	return h.Done(ctx)
}

func (t *Task) resolve(ctx context.Context, j *job.Job) (from, to *content.SchemaVersion, err error) {
	if !j.IsMigration() {
		return nil, nil, fmt.Errorf("job %s has no schema version pair", j.ID)
	}
	if from, err = t.store.SchemaVersion(ctx, j.FromSchemaVersionID); err != nil {
		return nil, nil, err
	}
	if to, err = t.store.SchemaVersion(ctx, j.ToSchemaVersionID); err != nil {
		return nil, nil, err
	}
	if from.SchemaID != to.SchemaID {
		return nil, nil, fmt.Errorf("schema versions %s and %s belong to different schemas", from.ID, to.ID)
	}
	if to.Version <= from.Version {
		return nil, nil, fmt.Errorf("target version %d is not newer than %d", to.Version, from.Version)
	}
	if _, err := t.store.Release(ctx, j.ReleaseID); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (t *Task) fail(ctx context.Context, h *job.Handler, cause error, msg string) error {
	if err := h.Fail(context.WithoutCancel(ctx), cause, msg); err != nil {
		t.logger.Error("failed to record migration failure", "job_id", h.JobID(), "error", err, "cause", cause)
	}
	return cause
}
