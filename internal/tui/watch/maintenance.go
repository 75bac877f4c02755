package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/csdb/internal/events"
	"github.com/mattjoyce/csdb/internal/scheduler"
)

// MaintenanceState accumulates what the scheduler reported removing.
type MaintenanceState struct {
	LastTick time.Time
	LastRun  time.Time
	Pruned   map[string]int
}

func updateMaintenanceState(st *MaintenanceState, e events.Event) {
	switch e.Type {
	case scheduler.TopicTick:
		st.LastTick = time.Now()
	case scheduler.TopicPruned:
		var p scheduler.PrunedEvent
		if err := e.Decode(&p); err != nil || p.Kind == "" {
			return
		}
		if st.Pruned == nil {
			st.Pruned = make(map[string]int)
		}
		st.Pruned[p.Kind] += p.Count
		st.LastRun = time.Now()
	}
}

func renderMaintenance(st MaintenanceState, theme Theme, width int) string {
	tick := "never"
	if !st.LastTick.IsZero() {
		tick = formatAgo(time.Since(st.LastTick).Round(time.Second))
	}

	kinds := make([]string, 0, len(st.Pruned))
	for k := range st.Pruned {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s %d", k, st.Pruned[k]))
	}
	pruned := theme.Dim.Render("nothing pruned")
	if len(parts) > 0 {
		pruned = strings.Join(parts, "  ")
	}

	return theme.Panel("MAINTENANCE", width,
		fmt.Sprintf(" Last tick: %s", tick),
		fmt.Sprintf(" Pruned: %s", pruned),
	)
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
