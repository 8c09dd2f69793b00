package statebus

import (
	"testing"
	"time"

	"github.com/gantryci/gantry/internal/contribution"
	"github.com/gantryci/gantry/internal/predicate"
	"github.com/gantryci/gantry/internal/push"
)

func listenerRegistry(t *testing.T) *contribution.Registry {
	t.Helper()
	reg, err := contribution.NewRegistry([]contribution.Contribution{
		{
			Name: "deploy",
			Test: []predicate.Node{predicate.IsGoal(`node_.*`, StateSuccess)},
			Goals: []contribution.Unit{contribution.GoalUnit(contribution.GoalSpec{
				Name:       "deploy",
				Containers: []contribution.Container{{Name: "deploy", Image: "alpine:3.20"}},
			})},
		},
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func TestListenerTriggersMatchingPendingPush(t *testing.T) {
	bus := NewBus()
	view := NewView()
	var fired []string
	listener := NewListener(bus, view, func(p PendingPush, e Event) {
		fired = append(fired, p.ID+":"+e.Goal)
	})
	listener.Watch(PendingPush{
		ID:       "push-1",
		Registry: listenerRegistry(t),
		Context:  push.Context{Repo: testRepo, Branch: "main", Files: push.NewSnapshot(nil)},
	})
	listener.Handle(terminalEvent("node_build", StateSuccess, time.Now().UTC()))
	if len(fired) != 1 || fired[0] != "push-1:node_build" {
		t.Fatalf("expected one trigger for push-1, got %v", fired)
	}
	// The view now holds the observation.
	if view.Len() != 1 {
		t.Fatalf("expected view to record the event")
	}
}

func TestListenerIgnoresUnrelatedGoals(t *testing.T) {
	bus := NewBus()
	view := NewView()
	triggered := false
	listener := NewListener(bus, view, func(PendingPush, Event) { triggered = true })
	listener.Watch(PendingPush{
		ID:       "push-1",
		Registry: listenerRegistry(t),
		Context:  push.Context{Repo: testRepo, Branch: "main", Files: push.NewSnapshot(nil)},
	})
	listener.Handle(terminalEvent("mvn_build", StateSuccess, time.Now().UTC()))
	if triggered {
		t.Fatalf("expected no trigger for non-matching goal name")
	}
}

func TestListenerDropsMalformedAndDuplicateEvents(t *testing.T) {
	bus := NewBus()
	view := NewView()
	count := 0
	listener := NewListener(bus, view, func(PendingPush, Event) { count++ })
	listener.Watch(PendingPush{
		ID:       "push-1",
		Registry: listenerRegistry(t),
		Context:  push.Context{Repo: testRepo, Branch: "main", Files: push.NewSnapshot(nil)},
	})
	// Malformed: no revision.
	listener.Handle(Event{Version: EventSchemaVersion, EventID: "x", Goal: "node_build", Repo: testRepo, State: StateSuccess, Timestamp: time.Now()})
	if count != 0 {
		t.Fatalf("expected malformed event to be dropped")
	}
	event := terminalEvent("node_build", StateSuccess, time.Now().UTC())
	listener.Handle(event)
	listener.Handle(event)
	if count != 1 {
		t.Fatalf("expected duplicate delivery to trigger once, got %d", count)
	}
}

func TestListenerTriggersOnlyWhenSelectionFlips(t *testing.T) {
	bus := NewBus()
	view := NewView()
	count := 0
	listener := NewListener(bus, view, func(PendingPush, Event) { count++ })
	listener.Watch(PendingPush{
		ID:       "push-1",
		Registry: listenerRegistry(t),
		Context:  push.Context{Repo: testRepo, Branch: "main", Files: push.NewSnapshot(nil)},
	})
	base := time.Now().UTC()
	listener.Handle(terminalEvent("node_build", StateSuccess, base))
	if count != 1 {
		t.Fatalf("expected first observation to trigger, got %d", count)
	}
	// Fresh observations for an already-satisfied goal change the view
	// but flip nothing; the push must not recompile again.
	listener.Handle(terminalEvent("node_build", StateSuccess, base.Add(time.Second)))
	listener.Handle(terminalEvent("node_build", StateSuccess, base.Add(2*time.Second)))
	if count != 1 {
		t.Fatalf("expected no retrigger without a selection flip, got %d", count)
	}
	if view.Len() != 1 {
		t.Fatalf("expected the view to keep the latest observation")
	}
}

func TestListenerWatchRecordsSatisfiedBaseline(t *testing.T) {
	bus := NewBus()
	view := NewView()
	count := 0
	listener := NewListener(bus, view, func(PendingPush, Event) { count++ })
	// The goal is already satisfied before the push is watched, so a later
	// repeat observation is not a flip.
	view.Apply(terminalEvent("node_build", StateSuccess, time.Now().UTC()))
	listener.Watch(PendingPush{
		ID:       "push-1",
		Registry: listenerRegistry(t),
		Context:  push.Context{Repo: testRepo, Branch: "main", Files: push.NewSnapshot(nil)},
	})
	listener.Handle(terminalEvent("node_build", StateSuccess, time.Now().UTC().Add(time.Minute)))
	if count != 0 {
		t.Fatalf("expected no trigger for an already-satisfied baseline, got %d", count)
	}
}

func TestListenerUnwatchStopsTriggers(t *testing.T) {
	bus := NewBus()
	view := NewView()
	count := 0
	listener := NewListener(bus, view, func(PendingPush, Event) { count++ })
	listener.Watch(PendingPush{
		ID:       "push-1",
		Registry: listenerRegistry(t),
		Context:  push.Context{Repo: testRepo, Branch: "main", Files: push.NewSnapshot(nil)},
	})
	listener.Unwatch("push-1")
	listener.Handle(terminalEvent("node_build", StateSuccess, time.Now().UTC()))
	if count != 0 {
		t.Fatalf("expected no trigger after unwatch")
	}
}
