package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/csdb/internal/api"
)

// HealthState is the last /healthz answer plus whether the server is reachable.
type HealthState struct {
	Server    api.HealthzResponse
	Connected bool
	LastCheck time.Time
}

func (h HealthState) label(theme Theme) string {
	switch {
	case !h.Connected:
		return theme.StatusFailed.Render("CONNECTING")
	case h.Server.Status != "" && h.Server.Status != "ok":
		return theme.StatusFailed.Render("DEGRADED")
	default:
		return theme.StatusOK.Render("HEALTHY")
	}
}

func renderHeader(health HealthState, title string, ticker Ticker, activity Activity, theme Theme, width int) string {
	left := " " + theme.Header.Render(title) + " " + theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(time.Now().Format("15:04:05")) + " "
	gap := max(width-8-lipgloss.Width(left)-lipgloss.Width(clock), 1)

	lastEvent := "never"
	if at := activity.LastEvent(); !at.IsZero() {
		lastEvent = formatAgo(time.Since(at).Round(time.Second))
	}

	return theme.Panel("", width,
		left+strings.Repeat(" ", gap)+clock,
		fmt.Sprintf(" %s  Up: %s  Queue: %d  Populators: %d",
			health.label(theme),
			compactDuration(time.Duration(health.Server.UptimeSeconds)*time.Second),
			health.Server.QueueDepth,
			health.Server.PopulatorsCount,
		),
		fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme)),
	)
}

// compactDuration keeps the two most significant units.
func compactDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
