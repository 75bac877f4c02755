package job

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	commits []State
	events  []recordedEvent
	failOn  int
}

type recordedEvent struct {
	topic   string
	payload any
}

func (r *recorder) commit(_ context.Context, _ string, st State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn > 0 && len(r.commits)+1 == r.failOn {
		r.failOn = 0
		return errors.New("disk full")
	}
	r.commits = append(r.commits, st)
	return nil
}

func (r *recorder) notify(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{topic: topic, payload: payload})
}

func (r *recorder) lifecycle() []LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LifecycleEvent
	for _, ev := range r.events {
		if ev.topic == TopicLifecycle {
			out = append(out, ev.payload.(LifecycleEvent))
		}
	}
	return out
}

func newTestHandler(r *recorder, opts HandlerOptions) *Handler {
	j := &Job{ID: "job-1", Type: TypeArchiveImport, Status: StatusStarting}
	return NewHandler(j, r.commit, r.notify, opts)
}

func TestHandlerCommitIsInvisibleUntilCalled(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	h := newTestHandler(r, HandlerOptions{})

	h.SetStatus(StatusRunning)
	h.SetCompletionCount(5)
	assert.Empty(t, r.commits)

	require.NoError(t, h.Commit(context.Background()))
	require.NoError(t, h.Commit(context.Background()))
	require.Len(t, r.commits, 2)
	assert.Equal(t, r.commits[0], r.commits[1])
	assert.Equal(t, StatusRunning, r.commits[0].Status)
	assert.Equal(t, 5, r.commits[0].CompletionCount)
}

func TestHandlerCheckpointBatches(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	h := newTestHandler(r, HandlerOptions{CommitEvery: 50})
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		h.IncCompleted()
		require.NoError(t, h.Checkpoint(ctx))
	}
	require.Len(t, r.commits, 2)
	assert.Equal(t, 50, r.commits[0].CompletionCount)
	assert.Equal(t, 100, r.commits[1].CompletionCount)
	assert.Equal(t, 120, h.State().CompletionCount)
}

func TestHandlerDone(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := newTestHandler(r, HandlerOptions{Now: func() time.Time { return fixed }})
	ctx := context.Background()

	require.NoError(t, h.Done(ctx))
	assert.True(t, h.Terminal())

	last := r.commits[len(r.commits)-1]
	assert.Equal(t, StatusCompleted, last.Status)
	require.NotNil(t, last.StoppedAt)
	assert.True(t, fixed.Equal(*last.StoppedAt))
	assert.Equal(t, []LifecycleEvent{{Type: EventCompleted, JobID: "job-1", JobType: TypeArchiveImport}}, r.lifecycle())

	assert.True(t, errors.Is(h.Done(ctx), ErrTerminal))
	assert.True(t, errors.Is(h.Fail(ctx, errors.New("late"), ""), ErrTerminal))
	assert.Len(t, r.lifecycle(), 1)
}

func TestHandlerFail(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	h := newTestHandler(r, HandlerOptions{})
	ctx := context.Background()

	require.NoError(t, h.Fail(ctx, errors.New("archive missing"), "job_error_not_found"))

	last := r.commits[len(r.commits)-1]
	assert.Equal(t, StatusFailed, last.Status)
	assert.Equal(t, "job_error_not_found", last.ErrorMessage)
	assert.NotNil(t, last.StoppedAt)
	assert.Contains(t, last.ErrorDetail, "archive missing")
	assert.Contains(t, last.ErrorDetail, "status_test.go", "a trace is recorded at the failure site")
	assert.Equal(t, []LifecycleEvent{{Type: EventFailed, JobID: "job-1", JobType: TypeArchiveImport}}, r.lifecycle())
}

func TestHandlerFailWithoutMessageOrCause(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	h := newTestHandler(r, HandlerOptions{})

	require.NoError(t, h.Fail(context.Background(), nil, ""))
	last := r.commits[len(r.commits)-1]
	assert.Equal(t, StatusFailed, last.Status)
	assert.NotEmpty(t, last.ErrorMessage)
}

func TestHandlerTerminalCommitFailureCanBeRetried(t *testing.T) {
	t.Parallel()
	r := &recorder{failOn: 1}
	h := newTestHandler(r, HandlerOptions{})
	ctx := context.Background()

	require.Error(t, h.Done(ctx))
	assert.False(t, h.Terminal())
	assert.Empty(t, r.lifecycle())

	require.NoError(t, h.Fail(ctx, errors.New("commit lost"), MessageFailed))
	assert.True(t, h.Terminal())
}

func TestHandlerEdge(t *testing.T) {
	t.Parallel()
	h := newTestHandler(&recorder{}, HandlerOptions{})
	assert.Nil(t, h.Edge())

	h.SetEdgeActive(true)
	assert.Nil(t, h.Edge())

	h.AttachEdge(EdgeState{ReleaseID: "r", SchemaVersionID: "sv"})
	h.SetEdgeActive(true)
	e := h.Edge()
	require.NotNil(t, e)
	assert.True(t, e.Active)

	e.Active = false
	assert.True(t, h.Edge().Active, "Edge returns a copy")
}

func TestTruncateDetail(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 1000)

	got := TruncateDetail(long, 256)
	assert.Len(t, got, 256)
	assert.True(t, strings.HasSuffix(got, truncationMarker))

	assert.Equal(t, "short", TruncateDetail("short", 256))
	assert.Equal(t, long, TruncateDetail(long, 1000))
	assert.Len(t, TruncateDetail(long, 10), 10)
}

func TestTruncateDetailKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	for _, prefix := range []string{"", "x"} {
		detail := prefix + strings.Repeat("é", 200)
		got := TruncateDetail(detail, 100)
		assert.True(t, utf8.ValidString(got), "prefix %q", prefix)
		assert.True(t, strings.HasSuffix(got, truncationMarker))
		assert.LessOrEqual(t, len(got), 100)
		assert.GreaterOrEqual(t, len(got), 99)
	}
}

func TestFailTruncatesTrace(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	h := newTestHandler(r, HandlerOptions{ErrorDetailMax: 300})

	require.NoError(t, h.Fail(context.Background(), errors.New(strings.Repeat("boom ", 200)), "job_error_io"))
	detail := r.commits[len(r.commits)-1].ErrorDetail
	assert.Len(t, detail, 300)
	assert.True(t, strings.HasSuffix(detail, truncationMarker))
}

func TestErrorDetailKeepsExistingTrace(t *testing.T) {
	t.Parallel()
	err := pkgerrors.Wrap(pkgerrors.New("root cause"), "outer")
	detail := ErrorDetail(err)
	assert.Contains(t, detail, "root cause")
	assert.Contains(t, detail, "outer")
	assert.Equal(t, 1, strings.Count(detail, "root cause"))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()
	assert.Equal(t, StatusRunning, ParseStatus("RUNNING"))
	assert.Equal(t, StatusUnknown, ParseStatus(""))
	assert.Equal(t, StatusUnknown, ParseStatus("running"))
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusStarting.Active())
	assert.False(t, StatusQueued.Active())
}
