package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/log"
	"github.com/mattjoyce/csdb/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func newJobStore(t *testing.T) *job.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return job.NewStore(db)
}

func enqueue(t *testing.T, s *job.Store, typ job.Type) string {
	t.Helper()
	id, err := s.Enqueue(context.Background(), job.EnqueueRequest{
		Type:       typ,
		Creator:    "tester",
		ReleaseID:  "rel",
		Properties: map[string]string{"archivePath": "a.zip", "contentLanguage": "en"},
	})
	require.NoError(t, err)
	return id
}

func completing(counter *atomic.Int32) job.Task {
	return job.TaskFunc(func(ctx context.Context, j *job.Job, h *job.Handler) error {
		counter.Add(1)
		h.SetStatus(job.StatusRunning)
		if err := h.Commit(ctx); err != nil {
			return err
		}
		h.IncCompleted()
		return h.Done(ctx)
	})
}

func TestRunNextProcessesQueueInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newJobStore(t)
	first := enqueue(t, s, job.TypeArchiveImport)
	second := enqueue(t, s, job.TypeArchiveImport)

	var order []string
	task := job.TaskFunc(func(ctx context.Context, j *job.Job, h *job.Handler) error {
		order = append(order, j.ID)
		return h.Done(ctx)
	})
	d := New(s, map[job.Type]job.Task{job.TypeArchiveImport: task}, Options{NodeName: "node-a"})

	for i := 0; i < 2; i++ {
		ran, err := d.RunNext(ctx)
		require.NoError(t, err)
		assert.True(t, ran)
	}
	ran, err := d.RunNext(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, []string{first, second}, order)

	j, err := s.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.Equal(t, "node-a", j.NodeName)
}

func TestRunUnknownTypeFailsJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newJobStore(t)
	id := enqueue(t, s, job.TypeArchiveImport)

	var mu sync.Mutex
	var topics []string
	d := New(s, nil, Options{NodeName: "node-a", Notify: func(topic string, _ any) {
		mu.Lock()
		topics = append(topics, topic)
		mu.Unlock()
	}})

	ran, err := d.RunNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	j, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Equal(t, job.MessageFailed, j.ErrorMessage)
	assert.Contains(t, j.ErrorDetail, "no task registered")
	assert.Contains(t, topics, job.TopicLifecycle)
}

func TestRunTaskErrorIsRecordedNotReturned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newJobStore(t)
	id := enqueue(t, s, job.TypeArchiveImport)

	task := job.TaskFunc(func(ctx context.Context, j *job.Job, h *job.Handler) error {
		return errors.New("boom")
	})
	d := New(s, map[job.Type]job.Task{job.TypeArchiveImport: task}, Options{})

	ran, err := d.RunNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	j, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Contains(t, j.ErrorDetail, "boom")
}

func TestStartRunsEachJobOnce(t *testing.T) {
	t.Parallel()
	s := newJobStore(t)
	const n = 12
	for i := 0; i < n; i++ {
		enqueue(t, s, job.TypeArchiveImport)
	}

	var runs atomic.Int32
	d := New(s, map[job.Type]job.Task{job.TypeArchiveImport: completing(&runs)}, Options{
		NodeName:     "node-a",
		Workers:      4,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		jobs, err := s.FindByStatus(context.Background(), job.StatusCompleted)
		return err == nil && len(jobs) == n
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Equal(t, int32(n), runs.Load())
}

func TestStartWaitsForRunningJobOnCancel(t *testing.T) {
	t.Parallel()
	s := newJobStore(t)
	id := enqueue(t, s, job.TypeArchiveImport)

	claimed := make(chan struct{})
	release := make(chan struct{})
	task := job.TaskFunc(func(ctx context.Context, j *job.Job, h *job.Handler) error {
		close(claimed)
		<-release
		if err := ctx.Err(); err != nil {
			return err
		}
		return h.Done(ctx)
	})
	d := New(s, map[job.Type]job.Task{job.TypeArchiveImport: task}, Options{
		NodeName:     "node-a",
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	<-claimed
	cancel()
	select {
	case <-done:
		t.Fatal("dispatcher stopped before the running job finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	j, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status)
}

func TestRunNextHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	s := newJobStore(t)
	id := enqueue(t, s, job.TypeArchiveImport)
	var runs atomic.Int32
	d := New(s, map[job.Type]job.Task{job.TypeArchiveImport: completing(&runs)}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran, err := d.RunNext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)

	j, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)
	assert.Zero(t, runs.Load())
}
