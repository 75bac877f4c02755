package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/mattjoyce/csdb/internal/log"
)

const (
	TopicLifecycle = "job.lifecycle"
	TopicProgress  = "job.progress"

	EventCompleted = "completed"
	EventFailed    = "FAILED"

	DefaultCommitEvery    = 50
	DefaultErrorDetailMax = 50000

	truncationMarker = "...\nFor further details concerning this error please refer to the logs."
)

// State is the externally visible part of a running job. It only reaches
// the store through a Committer.
type State struct {
	Status          Status     `json:"status"`
	CompletionCount int        `json:"completion_count"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ErrorDetail     string     `json:"error_detail,omitempty"`
}

// Committer persists a job's state.
type Committer func(ctx context.Context, jobID string, st State) error

// Notifier publishes an event. Delivery is fire and forget.
type Notifier func(topic string, payload any)

type LifecycleEvent struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	JobType Type   `json:"job_type"`
}

type ProgressEvent struct {
	JobID           string `json:"job_id"`
	Status          Status `json:"status"`
	CompletionCount int    `json:"completion_count"`
}

type HandlerOptions struct {
	// CommitEvery is how many IncCompleted calls Checkpoint batches per commit.
	CommitEvery int
	// ErrorDetailMax bounds the persisted error detail in bytes, marker included.
	ErrorDetailMax int
	Logger         *slog.Logger
	Now            func() time.Time
}

// Handler tracks one job execution. Changes stay in memory until Commit.
// Done and Fail are terminal; after either succeeds further terminal calls
// return ErrTerminal.
type Handler struct {
	mu sync.Mutex

	jobID   string
	jobType Type
	state   State
	edge    *EdgeState

	commit Committer
	notify Notifier

	commitEvery int
	detailMax   int
	sinceCommit int
	terminal    bool

	now    func() time.Time
	logger *slog.Logger
}

// NewHandler starts from the job's persisted state.
func NewHandler(j *Job, commit Committer, notify Notifier, opts HandlerOptions) *Handler {
	if opts.CommitEvery <= 0 {
		opts.CommitEvery = DefaultCommitEvery
	}
	if opts.ErrorDetailMax <= 0 {
		opts.ErrorDetailMax = DefaultErrorDetailMax
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.WithJob(j.ID)
	}
	if notify == nil {
		notify = func(string, any) {}
	}
	return &Handler{
		jobID:   j.ID,
		jobType: j.Type,
		state: State{
			Status:          j.Status,
			CompletionCount: j.CompletionCount,
			StartedAt:       j.StartedAt,
			StoppedAt:       j.StoppedAt,
		},
		commit:      commit,
		notify:      notify,
		commitEvery: opts.CommitEvery,
		detailMax:   opts.ErrorDetailMax,
		now:         opts.Now,
		logger:      opts.Logger,
	}
}

func (h *Handler) JobID() string { return h.jobID }

// State returns a copy of the in-memory state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// AttachEdge makes every commit mirror the status onto a version edge.
func (h *Handler) AttachEdge(e EdgeState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.edge = &e
}

// SetEdgeActive flags the attached edge as the release's active schema version.
func (h *Handler) SetEdgeActive(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.edge != nil {
		h.edge.Active = active
	}
}

// Edge returns a copy of the attached edge, or nil.
func (h *Handler) Edge() *EdgeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.edge == nil {
		return nil
	}
	e := *h.edge
	return &e
}

func (h *Handler) SetStatus(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.Status = s
}

func (h *Handler) SetCompletionCount(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinceCommit += n - h.state.CompletionCount
	h.state.CompletionCount = n
}

func (h *Handler) IncCompleted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.CompletionCount++
	h.sinceCommit++
}

// Checkpoint commits once CommitEvery units of work have accumulated since
// the last commit.
func (h *Handler) Checkpoint(ctx context.Context) error {
	h.mu.Lock()
	due := h.sinceCommit >= h.commitEvery
	h.mu.Unlock()
	if !due {
		return nil
	}
	return h.Commit(ctx)
}

// Commit persists the current state and publishes a progress event.
func (h *Handler) Commit(ctx context.Context) error {
	h.mu.Lock()
	st := h.state
	h.mu.Unlock()

	if err := h.commit(ctx, h.jobID, st); err != nil {
		return fmt.Errorf("commit job %s: %w", h.jobID, err)
	}

	h.mu.Lock()
	h.sinceCommit = 0
	h.mu.Unlock()

	h.notify(TopicProgress, ProgressEvent{JobID: h.jobID, Status: st.Status, CompletionCount: st.CompletionCount})
	return nil
}

// Terminal reports whether Done or Fail has been persisted.
func (h *Handler) Terminal() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminal
}

// Done marks the job COMPLETED, persists it and publishes a lifecycle event.
func (h *Handler) Done(ctx context.Context) error {
	h.mu.Lock()
	if h.terminal {
		h.mu.Unlock()
		return ErrTerminal
	}
	stopped := h.now().UTC()
	h.state.Status = StatusCompleted
	h.state.StoppedAt = &stopped
	h.mu.Unlock()

	if err := h.finish(ctx); err != nil {
		return err
	}
	h.logger.Info("job completed", "job_type", h.jobType, "completion_count", h.State().CompletionCount)
	h.notify(TopicLifecycle, LifecycleEvent{Type: EventCompleted, JobID: h.jobID, JobType: h.jobType})
	return nil
}

// Fail marks the job FAILED with msg and the error's trace, persists it and
// publishes a lifecycle event. An empty msg falls back to the error text.
func (h *Handler) Fail(ctx context.Context, cause error, msg string) error {
	if cause == nil {
		cause = errors.New("job failed")
	}
	if msg == "" {
		msg = cause.Error()
	}

	h.mu.Lock()
	if h.terminal {
		h.mu.Unlock()
		return ErrTerminal
	}
	stopped := h.now().UTC()
	h.state.Status = StatusFailed
	h.state.StoppedAt = &stopped
	h.state.ErrorMessage = msg
	h.state.ErrorDetail = TruncateDetail(ErrorDetail(cause), h.detailMax)
	h.mu.Unlock()

	h.logger.Error("job failed", "job_type", h.jobType, "message", msg, "error", cause)
	if err := h.finish(ctx); err != nil {
		return err
	}
	h.notify(TopicLifecycle, LifecycleEvent{Type: EventFailed, JobID: h.jobID, JobType: h.jobType})
	return nil
}

func (h *Handler) finish(ctx context.Context) error {
	h.mu.Lock()
	st := h.state
	h.mu.Unlock()

	if err := h.commit(ctx, h.jobID, st); err != nil {
		return fmt.Errorf("commit job %s: %w", h.jobID, err)
	}

	h.mu.Lock()
	h.sinceCommit = 0
	h.terminal = true
	h.mu.Unlock()
	return nil
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ErrorDetail renders err with a stack trace. A chain that carries no
// trace gets one recorded here.
func ErrorDetail(err error) string {
	var st stackTracer
	if !errors.As(err, &st) {
		err = errors.WithStack(err)
	}
	return fmt.Sprintf("%+v", err)
}

// TruncateDetail cuts detail to at most limit bytes ending with the
// truncation marker. The cut backs off to a rune boundary, so the result is
// limit bytes long unless a multi-byte rune straddles the cut. Shorter
// details are returned as is.
func TruncateDetail(detail string, limit int) string {
	if limit <= 0 || len(detail) <= limit {
		return detail
	}
	if limit <= len(truncationMarker) {
		return truncationMarker[len(truncationMarker)-limit:]
	}
	cut := limit - len(truncationMarker)
	for cut > 0 && !utf8.RuneStart(detail[cut]) {
		cut--
	}
	return detail[:cut] + truncationMarker
}
