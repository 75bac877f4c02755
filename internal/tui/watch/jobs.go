package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/csdb/internal/events"
	"github.com/mattjoyce/csdb/internal/job"
)

// JobState tracks one job as seen through polling and events.
type JobState struct {
	ID           string
	Type         job.Type
	Creator      string
	Status       job.Status
	Completed    int
	ErrorMessage string
	CreatedAt    time.Time
	StartTime    time.Time
	EndTime      time.Time
}

// applySnapshot merges polled jobs. Events may have moved a job further than
// the snapshot shows, so a terminal state is never rolled back.
func applySnapshot(jobs map[string]*JobState, list []*job.Job) {
	for _, j := range list {
		js, ok := jobs[j.ID]
		if !ok {
			js = &JobState{ID: j.ID}
			jobs[j.ID] = js
		}
		js.Type = j.Type
		js.Creator = j.Creator
		js.CreatedAt = j.CreatedAt
		if js.Status.Terminal() && !j.Status.Terminal() {
			continue
		}
		js.Status = j.Status
		if j.CompletionCount > js.Completed || j.Status == job.StatusQueued {
			js.Completed = j.CompletionCount
		}
		js.ErrorMessage = j.ErrorMessage
		if j.StartedAt != nil {
			js.StartTime = *j.StartedAt
		}
		if j.StoppedAt != nil {
			js.EndTime = *j.StoppedAt
		}
	}
}

// applyEvent updates job tracking from a hub event.
func applyEvent(jobs map[string]*JobState, e events.Event) {
	switch e.Type {
	case job.TopicProgress:
		var p job.ProgressEvent
		if err := e.Decode(&p); err != nil || p.JobID == "" {
			return
		}
		js := getOrCreateJob(jobs, p.JobID)
		if js.Status.Terminal() {
			return
		}
		js.Status = p.Status
		js.Completed = p.CompletionCount
		if js.StartTime.IsZero() {
			js.StartTime = time.Now()
		}

	case job.TopicLifecycle:
		var l job.LifecycleEvent
		if err := e.Decode(&l); err != nil || l.JobID == "" {
			return
		}
		js := getOrCreateJob(jobs, l.JobID)
		if l.JobType != "" {
			js.Type = l.JobType
		}
		switch l.Type {
		case job.EventCompleted:
			js.Status = job.StatusCompleted
		case job.EventFailed:
			js.Status = job.StatusFailed
		}
		js.EndTime = time.Now()
	}
}

func getOrCreateJob(jobs map[string]*JobState, id string) *JobState {
	js, ok := jobs[id]
	if !ok {
		js = &JobState{ID: id, CreatedAt: time.Now()}
		jobs[id] = js
	}
	return js
}

// sortedJobs returns active jobs first, then newest first.
func sortedJobs(jobs map[string]*JobState) []*JobState {
	out := make([]*JobState, 0, len(jobs))
	for _, js := range jobs {
		out = append(out, js)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Status.Active(), out[j].Status.Active()
		if ai != aj {
			return ai
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// finishedRatio is the share of tracked jobs that reached a terminal status.
func finishedRatio(jobs map[string]*JobState) (done, total int) {
	for _, js := range jobs {
		total++
		if js.Status.Terminal() {
			done++
		}
	}
	return done, total
}

func renderJobs(jobs map[string]*JobState, selected int, bar progress.Model, spin spinner.Model, theme Theme, width int) string {
	if len(jobs) == 0 {
		return theme.Panel("JOBS", width, theme.Dim.Render("  No jobs yet..."))
	}

	done, total := finishedRatio(jobs)
	summary := fmt.Sprintf(" %s %d/%d finished", bar.ViewAs(float64(done)/float64(total)), done, total)

	rows := []string{summary}
	for i, js := range sortedJobs(jobs) {
		rows = append(rows, renderJobRow(js, i == selected, spin, theme))
	}
	return theme.Panel("JOBS", width, rows...)
}

func renderJobRow(js *JobState, isSelected bool, spin spinner.Model, theme Theme) string {
	icon := statusIcon(js.Status, theme)
	if js.Status.Active() {
		icon = spin.View()
	}

	idStyle := lipgloss.NewStyle()
	if isSelected {
		idStyle = idStyle.Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	}

	jobID := js.ID
	if len(jobID) > 8 {
		jobID = jobID[:8]
	}

	var line strings.Builder
	line.WriteString(fmt.Sprintf(" %s %s  %-16s %s  %6d done  %s",
		icon,
		idStyle.Render(jobID),
		js.Type,
		theme.StatusStyle(js.Status).Render(fmt.Sprintf("%-9s", js.Status)),
		js.Completed,
		theme.Dim.Render(jobDuration(js)),
	))
	if js.ErrorMessage != "" {
		line.WriteString("\n    └─ " + theme.StatusFailed.Render(js.ErrorMessage))
	}
	return line.String()
}

func jobDuration(js *JobState) string {
	if js.StartTime.IsZero() {
		return "-"
	}
	end := js.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(js.StartTime).Round(time.Second).String()
}

func statusIcon(status job.Status, theme Theme) string {
	switch status {
	case job.StatusCompleted:
		return theme.StatusOK.Render("●")
	case job.StatusFailed:
		return theme.StatusFailed.Render("∅")
	default:
		return theme.StatusQueued.Render("○")
	}
}
