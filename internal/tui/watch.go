// Package tui implements the live watch view. It follows The Elm
// Architecture via bubbletea: the model holds run snapshots plus a tail
// of recent goal-state events, refreshed on a timer and fed by a state
// bus subscription.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gantryci/gantry/internal/render"
	"github.com/gantryci/gantry/internal/scheduler"
	"github.com/gantryci/gantry/internal/statebus"
)

const (
	refreshInterval = 2 * time.Second
	maxEventTail    = 20
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	eventStyle  = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// SnapshotSource lists the persisted run snapshots to display.
// *scheduler.Repository satisfies it.
type SnapshotSource interface {
	List() ([]scheduler.Snapshot, error)
}

type refreshMsg struct {
	snapshots []scheduler.Snapshot
	err       error
}

type eventMsg statebus.Event

type busClosedMsg struct{}

type refreshTickMsg struct{}

// Model is the watch view state.
type Model struct {
	source SnapshotSource
	sub    statebus.Subscription
	hasSub bool

	snapshots []scheduler.Snapshot
	events    []statebus.Event
	spin      spinner.Model
	width     int
	height    int
	err       error
	quitting  bool
}

// NewModel builds a watch model. The bus may be nil when only persisted
// snapshots are of interest.
func NewModel(source SnapshotSource, bus *statebus.Bus) Model {
	m := Model{
		source: source,
		spin:   spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	if bus != nil {
		m.sub = bus.Subscribe()
		m.hasSub = true
	}
	return m
}

// Init starts the refresh loop and the event subscription pump.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spin.Tick, m.refreshCmd()}
	if m.hasSub {
		cmds = append(cmds, waitForEvent(m.sub))
	}
	return tea.Batch(cmds...)
}

func (m Model) refreshCmd() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		if source == nil {
			return refreshMsg{}
		}
		snaps, err := source.List()
		return refreshMsg{snapshots: snaps, err: err}
	}
}

func waitForEvent(sub statebus.Subscription) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub.Events
		if !ok {
			return busClosedMsg{}
		}
		return eventMsg(event)
	}
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			if m.hasSub {
				m.sub.Close()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case refreshMsg:
		m.snapshots = msg.snapshots
		m.err = msg.err
		return m, tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshTickMsg{} })
	case refreshTickMsg:
		return m, m.refreshCmd()
	case eventMsg:
		m.events = append(m.events, statebus.Event(msg))
		if len(m.events) > maxEventTail {
			m.events = m.events[len(m.events)-maxEventTail:]
		}
		return m, waitForEvent(m.sub)
	case busClosedMsg:
		m.hasSub = false
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the current snapshots plus the recent event tail.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("gantry watch"))
	b.WriteString(" ")
	b.WriteString(m.spin.View())
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n\n")
	}
	if len(m.snapshots) == 0 {
		b.WriteString(eventStyle.Render("no runs yet"))
		b.WriteString("\n")
	}
	for _, snap := range m.snapshots {
		b.WriteString(render.Status(snap))
		b.WriteString("\n")
	}
	if len(m.events) > 0 {
		b.WriteString(headerStyle.Render("recent events"))
		b.WriteString("\n")
		for i := len(m.events) - 1; i >= 0; i-- {
			e := m.events[i]
			b.WriteString(eventStyle.Render(fmt.Sprintf("%s  %s/%s %s -> %s",
				e.Timestamp.Format("15:04:05"), e.Repo.Owner, e.Repo.Name, e.Goal, e.State)))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(eventStyle.Render("q to quit"))
	return b.String()
}
