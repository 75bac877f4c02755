// Package watch implements the csdb job watch TUI.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/csdb/internal/job"
)

const (
	colorGreen  = lipgloss.Color("#00FF00")
	colorYellow = lipgloss.Color("#FFFF00")
	colorRed    = lipgloss.Color("#FF0000")
	colorGrey   = lipgloss.Color("#888888")
	colorFaint  = lipgloss.Color("#444444")
	colorBlue   = lipgloss.Color("#61AFEF")
	colorAmber  = lipgloss.Color("#E5C07B")
	colorPurple = lipgloss.Color("#874BFD")
	colorWhite  = lipgloss.Color("#FAFAFA")
)

// Theme holds every style the watch view renders with.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusQueued  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

func NewDefaultTheme() Theme {
	return Theme{
		StatusOK:       fg(colorGreen),
		StatusRunning:  fg(colorYellow),
		StatusFailed:   fg(colorRed),
		StatusQueued:   fg(colorGrey),
		Border:         lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorPurple),
		Title:          fg(colorWhite).Bold(true).Padding(0, 1),
		Header:         fg(colorBlue).Bold(true),
		Dim:            fg(colorGrey),
		Highlight:      fg(colorAmber),
		TickerActive:   fg(colorGreen),
		TickerInactive: fg(colorFaint),
	}
}

// StatusStyle picks the color for a job status.
func (t Theme) StatusStyle(s job.Status) lipgloss.Style {
	switch {
	case s == job.StatusCompleted:
		return t.StatusOK
	case s == job.StatusFailed:
		return t.StatusFailed
	case s.Active():
		return t.StatusRunning
	default:
		return t.StatusQueued
	}
}

// Panel renders a bordered box that fills width columns. An empty title
// omits the title row.
func (t Theme) Panel(title string, width int, rows ...string) string {
	lines := rows
	if title != "" {
		lines = append([]string{t.Title.Render(title)}, rows...)
	}
	return t.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
