package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gantryci/gantry/internal/push"
	"github.com/gantryci/gantry/internal/scheduler"
	"github.com/gantryci/gantry/internal/statebus"
)

type stubSource struct {
	snaps []scheduler.Snapshot
	err   error
}

func (s stubSource) List() ([]scheduler.Snapshot, error) { return s.snaps, s.err }

func testSnapshot() scheduler.Snapshot {
	return scheduler.Snapshot{
		RunID:    "run-1",
		Repo:     push.RepoID{Owner: "acme", Name: "widgets"},
		Revision: "abc123",
		Status:   scheduler.RunStatusRunning,
		Instances: []scheduler.InstanceSnapshot{
			{ID: "node_build/build", State: scheduler.StateInProcess},
		},
	}
}

func TestRefreshMsgUpdatesSnapshots(t *testing.T) {
	m := NewModel(stubSource{}, nil)
	updated, cmd := m.Update(refreshMsg{snapshots: []scheduler.Snapshot{testSnapshot()}})
	model := updated.(Model)
	if len(model.snapshots) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(model.snapshots))
	}
	if cmd == nil {
		t.Fatalf("expected a rescheduled refresh tick")
	}
	view := model.View()
	if !strings.Contains(view, "run-1") || !strings.Contains(view, "node_build/build") {
		t.Fatalf("view missing snapshot content:\n%s", view)
	}
}

func TestEventMsgAppendsToTailWithCap(t *testing.T) {
	bus := statebus.NewBus()
	m := NewModel(stubSource{}, bus)
	var model tea.Model = m
	for i := 0; i < maxEventTail+5; i++ {
		model, _ = model.(Model).Update(eventMsg(statebus.Event{
			Goal:      "build",
			Repo:      push.RepoID{Owner: "acme", Name: "widgets"},
			State:     "success",
			Timestamp: time.Now().UTC(),
		}))
	}
	if got := len(model.(Model).events); got != maxEventTail {
		t.Fatalf("expected tail capped at %d, got %d", maxEventTail, got)
	}
	view := model.(Model).View()
	if !strings.Contains(view, "recent events") {
		t.Fatalf("view missing event tail:\n%s", view)
	}
}

func TestQuitKeyStopsModel(t *testing.T) {
	m := NewModel(stubSource{}, nil)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if !updated.(Model).quitting {
		t.Fatalf("expected quitting state")
	}
	if updated.(Model).View() != "" {
		t.Fatalf("expected empty view after quit")
	}
}

func TestViewShowsErrors(t *testing.T) {
	m := NewModel(stubSource{}, nil)
	updated, _ := m.Update(refreshMsg{err: errListFailed})
	if !strings.Contains(updated.(Model).View(), "error") {
		t.Fatalf("expected error surfaced in view")
	}
}

var errListFailed = &listError{}

type listError struct{}

func (*listError) Error() string { return "list failed" }
