package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/csdb/internal/events"
	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/scheduler"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	if len(eventLog) == 0 {
		return theme.Panel("EVENT STREAM", width, theme.Dim.Render("  Waiting for events..."))
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	return theme.Panel("EVENT STREAM", width, lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")))
}

func formatEvent(e events.Event, theme Theme) string {
	style, desc := describeEvent(e, theme)
	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Format("15:04:05")),
		style.Render(fmt.Sprintf("%-18s", e.Type)),
		desc,
	)
}

// describeEvent decodes the payloads this system publishes. Unknown topics
// fall back to the raw JSON, clipped.
func describeEvent(e events.Event, theme Theme) (lipgloss.Style, string) {
	switch e.Type {
	case job.TopicLifecycle:
		var l job.LifecycleEvent
		if e.Decode(&l) == nil {
			style := theme.StatusOK
			if l.Type == job.EventFailed {
				style = theme.StatusFailed
			}
			return style, joinNonEmpty(shortID(l.JobID), string(l.JobType), l.Type)
		}
	case job.TopicProgress:
		var p job.ProgressEvent
		if e.Decode(&p) == nil {
			return theme.StatusRunning, joinNonEmpty(shortID(p.JobID), string(p.Status), fmt.Sprintf("%d done", p.CompletionCount))
		}
	case scheduler.TopicPruned:
		var p scheduler.PrunedEvent
		if e.Decode(&p) == nil {
			return theme.Highlight, fmt.Sprintf("%s %d", p.Kind, p.Count)
		}
	case scheduler.TopicTick:
		return theme.Highlight, ""
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return theme.Dim, raw
}

func shortID(id string) string {
	if id == "" {
		return ""
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return "[" + id + "]"
}

func joinNonEmpty(parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
