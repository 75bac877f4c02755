package job

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func processQueued(t *testing.T, s *Store, task Task, r *recorder) (*Job, error) {
	t.Helper()
	ctx := context.Background()
	next, err := s.NextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	perr := Process(ctx, s, next, "worker-a", task, ProcessDeps{Notify: r.notify})
	j, err := s.Get(ctx, next.ID)
	require.NoError(t, err)
	return j, perr
}

func TestProcessCompletesTask(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	enqueueImport(t, s)
	r := &recorder{}

	var seenStatus Status
	task := TaskFunc(func(ctx context.Context, j *Job, h *Handler) error {
		seenStatus = h.State().Status
		h.SetStatus(StatusRunning)
		if err := h.Commit(ctx); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			h.IncCompleted()
		}
		return h.Done(ctx)
	})

	j, err := processQueued(t, s, task, r)
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, seenStatus)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 3, j.CompletionCount)
	assert.Equal(t, "worker-a", j.NodeName)
	assert.NotNil(t, j.StartedAt)
	assert.NotNil(t, j.StoppedAt)
	assert.Equal(t, EventCompleted, r.lifecycle()[0].Type)
}

func TestProcessFailsTaskThatForgetsToFinish(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	enqueueImport(t, s)

	j, err := processQueued(t, s, TaskFunc(func(context.Context, *Job, *Handler) error { return nil }), &recorder{})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, MessageFailed, j.ErrorMessage)
}

func TestProcessFailsTaskError(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	enqueueImport(t, s)
	boom := errors.New("boom")

	j, err := processQueued(t, s, TaskFunc(func(context.Context, *Job, *Handler) error { return boom }), &recorder{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Contains(t, j.ErrorDetail, "boom")
}

func TestProcessRecoversPanic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	enqueueImport(t, s)
	r := &recorder{}

	j, err := processQueued(t, s, TaskFunc(func(context.Context, *Job, *Handler) error { panic("kaboom") }), r)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Contains(t, j.ErrorDetail, "kaboom")
	assert.Equal(t, EventFailed, r.lifecycle()[0].Type)
}

func TestProcessKeepsTaskFailure(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	enqueueImport(t, s)
	cause := errors.New("archive missing")

	j, err := processQueued(t, s, TaskFunc(func(ctx context.Context, _ *Job, h *Handler) error {
		if ferr := h.Fail(ctx, cause, "job_error_not_found"); ferr != nil {
			return ferr
		}
		return cause
	}), &recorder{})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "job_error_not_found", j.ErrorMessage)
}

func TestProcessDoesNotStartWhenCancelled(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	id := enqueueImport(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next, err := s.Get(context.Background(), id)
	require.NoError(t, err)

	ran := false
	err = Process(ctx, s, next, "worker-a", TaskFunc(func(context.Context, *Job, *Handler) error {
		ran = true
		return nil
	}), ProcessDeps{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)

	j, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, j.Status)
}

func TestProcessIgnoresCancelAfterClaim(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	id := enqueueImport(t, s)
	next, err := s.Get(context.Background(), id)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var taskErr error
	err = Process(ctx, s, next, "worker-a", TaskFunc(func(ctx context.Context, _ *Job, h *Handler) error {
		cancel()
		taskErr = ctx.Err()
		h.SetStatus(StatusRunning)
		if err := h.Commit(ctx); err != nil {
			return err
		}
		h.IncCompleted()
		return h.Done(ctx)
	}), ProcessDeps{})
	require.NoError(t, err)
	assert.NoError(t, taskErr)

	j, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 1, j.CompletionCount)
}

func TestProcessMirrorsMigrationEdge(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, EnqueueRequest{
		Type: TypeSchemaMigration, Creator: "admin", ReleaseID: "rel-1",
		FromSchemaVersionID: "sv-1", ToSchemaVersionID: "sv-2",
	})
	require.NoError(t, err)

	var midEdge *Edge
	j, err := processQueued(t, s, TaskFunc(func(ctx context.Context, _ *Job, h *Handler) error {
		h.SetStatus(StatusRunning)
		if err := h.Commit(ctx); err != nil {
			return err
		}
		e, err := s.Edge(ctx, "rel-1", "sv-2")
		if err != nil {
			return err
		}
		midEdge = e
		h.SetEdgeActive(true)
		return h.Done(ctx)
	}), &recorder{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)

	require.NotNil(t, midEdge)
	assert.Equal(t, StatusRunning, midEdge.MigrationStatus)
	assert.False(t, midEdge.Active)

	edge, err := s.Edge(ctx, "rel-1", "sv-2")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, edge.MigrationStatus)
	assert.True(t, edge.Active)
}

func TestActivatingMigrationEdgeDeactivatesPrevious(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	activate := TaskFunc(func(ctx context.Context, _ *Job, h *Handler) error {
		h.SetEdgeActive(true)
		return h.Done(ctx)
	})
	migrate := func(from, to string) {
		_, err := s.Enqueue(ctx, EnqueueRequest{
			Type: TypeSchemaMigration, Creator: "admin", ReleaseID: "rel-1",
			FromSchemaVersionID: from, ToSchemaVersionID: to,
		})
		require.NoError(t, err)
		j, err := processQueued(t, s, activate, &recorder{})
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, j.Status)
	}

	migrate("sv-1", "sv-2")
	migrate("sv-2", "sv-3")

	old, err := s.Edge(ctx, "rel-1", "sv-2")
	require.NoError(t, err)
	assert.False(t, old.Active)
	assert.Equal(t, StatusCompleted, old.MigrationStatus)

	current, err := s.Edge(ctx, "rel-1", "sv-3")
	require.NoError(t, err)
	assert.True(t, current.Active)
}
