package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/csdb/internal/api"
	"github.com/mattjoyce/csdb/internal/events"
	"github.com/mattjoyce/csdb/internal/job"
)

const (
	eventLogSize = 50
	pollInterval = 5 * time.Second
)

// Options configures a watch session.
type Options struct {
	APIURL string
	APIKey string
	// JobID follows a single job. Empty watches the most recent jobs.
	JobID string
	// ExitOnFinish quits once the followed job reaches a terminal status.
	ExitOnFinish bool
}

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	opts Options

	width  int
	height int

	health      HealthState
	jobs        map[string]*JobState
	maintenance MaintenanceState
	eventLog    []events.Event

	ticker   Ticker
	activity Activity
	spinner  spinner.Model
	bar      progress.Model

	theme    Theme
	selected int

	hubEvents chan events.Event

	lastError string
}

// New creates a new watch TUI model.
func New(opts Options) *Model {
	return &Model{
		opts:      opts,
		jobs:      make(map[string]*JobState),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		theme:     NewDefaultTheme(),
	}
}

// FinalStatus reports the followed job's last known status.
func (m Model) FinalStatus() job.Status {
	if js, ok := m.jobs[m.opts.JobID]; ok {
		return js.Status
	}
	return job.StatusUnknown
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.opts.APIURL, m.opts.APIKey, m.opts.JobID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.pollHealth(0),
		m.pollJobs(0),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) pollHealth(after time.Duration) tea.Cmd {
	fetch := func() tea.Msg { return fetchHealth(m.opts.APIURL, m.opts.APIKey) }
	if after == 0 {
		return fetch
	}
	return tea.Tick(after, func(time.Time) tea.Msg { return fetch() })
}

func (m Model) pollJobs(after time.Duration) tea.Cmd {
	fetch := func() tea.Msg { return fetchJobs(m.opts.APIURL, m.opts.APIKey, m.opts.JobID) }
	if after == 0 {
		return fetch
	}
	return tea.Tick(after, func(time.Time) tea.Msg { return fetch() })
}

// followedDone reports whether a followed job reached a terminal status.
func (m Model) followedDone() bool {
	return m.opts.JobID != "" && m.FinalStatus().Terminal()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.jobs)-1 {
				m.selected++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(10, msg.Width/4)

	case tickMsg:
		m.ticker.Tick()
		m.activity.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		e := events.Event(msg)

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		m.activity.OnEvent(time.Now())
		applyEvent(m.jobs, e)
		updateMaintenanceState(&m.maintenance, e)
		m.health.Connected = true
		m.lastError = ""

		if m.opts.ExitOnFinish && m.followedDone() {
			return m, tea.Quit
		}
		return m, receiveNextEvent(m.hubEvents)

	case jobsMsg:
		applySnapshot(m.jobs, msg)
		if m.opts.ExitOnFinish && m.followedDone() {
			return m, tea.Quit
		}
		return m, m.pollJobs(pollInterval)

	case healthMsg:
		m.health.Server = api.HealthzResponse(msg)
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, m.pollHealth(pollInterval)

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.opts.APIURL, m.opts.APIKey, m.opts.JobID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Batch(m.pollHealth(pollInterval), m.pollJobs(pollInterval))
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	title := "CSDB WATCH"
	if m.opts.JobID != "" {
		title = "CSDB WATCH " + m.opts.JobID
	}

	parts := []string{
		renderHeader(m.health, title, m.ticker, m.activity, m.theme, m.width),
		renderJobs(m.jobs, m.selected, m.bar, m.spinner, m.theme, m.width),
		renderMaintenance(m.maintenance, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}

	help := " [q] Quit • [↑/↓] Navigate Jobs"
	if m.followedDone() {
		help = fmt.Sprintf(" Job finished: %s • [q] Quit", m.FinalStatus())
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(help))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the watch TUI and returns the final model state.
func Run(opts Options) (Model, error) {
	final, err := tea.NewProgram(New(opts)).Run()
	if err != nil {
		return Model{}, err
	}
	switch m := final.(type) {
	case Model:
		return m, nil
	case *Model:
		return *m, nil
	}
	return Model{}, nil
}
