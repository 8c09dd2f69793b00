package statebus

import (
	"fmt"
	"testing"
	"time"

	"github.com/gantryci/gantry/internal/push"
)

var testRepo = push.RepoID{Owner: "acme", Name: "widgets"}

func terminalEvent(goal, state string, at time.Time) Event {
	return Event{
		Version:   EventSchemaVersion,
		EventID:   fmt.Sprintf("%s-%s-%d", goal, state, at.UnixNano()),
		Goal:      goal,
		Repo:      testRepo,
		Revision:  "abc123",
		State:     state,
		Timestamp: at,
	}
}

func TestViewIgnoresNonTerminalStates(t *testing.T) {
	view := NewView()
	e := terminalEvent("build", "in_process", time.Now())
	if view.Apply(e) {
		t.Fatalf("expected non-terminal state to be ignored")
	}
	if view.Len() != 0 {
		t.Fatalf("expected empty view, got %d entries", view.Len())
	}
}

func TestViewLastWriteWins(t *testing.T) {
	now := time.Now().UTC()
	view := NewView()
	if !view.Apply(terminalEvent("build", StateFailed, now)) {
		t.Fatalf("expected first apply to record")
	}
	// Same key, older timestamp: ignored.
	if view.Apply(terminalEvent("build", StateSuccess, now.Add(-time.Minute))) {
		t.Fatalf("expected stale event to be ignored")
	}
	// Same key, same timestamp: duplicate, ignored.
	if view.Apply(terminalEvent("build", StateFailed, now)) {
		t.Fatalf("expected duplicate timestamp to be ignored")
	}
	if !view.Apply(terminalEvent("build", StateSuccess, now.Add(time.Minute))) {
		t.Fatalf("expected newer event to replace")
	}
	obs := view.Observations()
	if len(obs) != 1 || obs[0].State != StateSuccess {
		t.Fatalf("expected single success observation, got %+v", obs)
	}
}

func TestViewRetentionWindow(t *testing.T) {
	now := time.Now().UTC()
	view := NewView(
		WithRetention(time.Hour),
		WithViewClock(func() time.Time { return now }),
	)
	view.Apply(terminalEvent("ancient", StateSuccess, now.Add(-2*time.Hour)))
	view.Apply(terminalEvent("recent", StateSuccess, now.Add(-time.Minute)))
	obs := view.Observations()
	if len(obs) != 1 || obs[0].Goal != "recent" {
		t.Fatalf("expected only the recent observation, got %+v", obs)
	}
}

func TestViewCountBoundEvictsOldest(t *testing.T) {
	now := time.Now().UTC()
	view := NewView(WithMaxEntries(2), WithViewClock(func() time.Time { return now }))
	view.Apply(terminalEvent("first", StateSuccess, now.Add(-3*time.Minute)))
	view.Apply(terminalEvent("second", StateSuccess, now.Add(-2*time.Minute)))
	view.Apply(terminalEvent("third", StateSuccess, now.Add(-time.Minute)))
	if view.Len() != 2 {
		t.Fatalf("expected 2 retained observations, got %d", view.Len())
	}
	for _, obs := range view.Observations() {
		if obs.Goal == "first" {
			t.Fatalf("expected oldest observation to be evicted")
		}
	}
}

func TestViewCarriesPushContext(t *testing.T) {
	ctx := push.Context{
		Repo:          testRepo,
		Branch:        "main",
		Revision:      "abc123",
		DefaultBranch: "main",
		Files:         push.NewSnapshot(map[string]string{"package.json": "{}"}),
	}
	e := terminalEvent("build", StateSuccess, time.Now().UTC())
	e.PushContext = &ctx
	view := NewView()
	view.Apply(e)
	obs := view.Observations()
	if len(obs) != 1 || !obs[0].HasPush {
		t.Fatalf("expected observation with push context, got %+v", obs)
	}
	if obs[0].Push.Branch != "main" {
		t.Fatalf("expected carried push branch, got %q", obs[0].Push.Branch)
	}
}
