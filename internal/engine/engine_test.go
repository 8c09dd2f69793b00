package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gantryci/gantry/internal/compiler"
	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/contribution"
	"github.com/gantryci/gantry/internal/predicate"
	"github.com/gantryci/gantry/internal/push"
	"github.com/gantryci/gantry/internal/scheduler"
	"github.com/gantryci/gantry/internal/statebus"
)

// autoBackend reports a fixed outcome for every dispatch.
type autoBackend struct {
	mu         sync.Mutex
	outcome    scheduler.Outcome
	dispatched []compiler.InstanceID
}

func (b *autoBackend) Run(_ context.Context, req scheduler.RunRequest, report func(scheduler.RunResult)) error {
	b.mu.Lock()
	b.dispatched = append(b.dispatched, req.Instance)
	outcome := b.outcome
	b.mu.Unlock()
	report(scheduler.RunResult{Outcome: outcome})
	return nil
}

func (b *autoBackend) Cancel(context.Context, string, compiler.InstanceID) {}

func (b *autoBackend) dispatches() []compiler.InstanceID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]compiler.InstanceID(nil), b.dispatched...)
}

func newTestEngine(t *testing.T, backend scheduler.Backend) (*Engine, *config.Config) {
	t.Helper()
	projectDir := t.TempDir()
	if err := config.InitGantryDir(projectDir); err != nil {
		t.Fatalf("init gantry dir: %v", err)
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	e, err := New(cfg, backend)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, cfg
}

func testPushContext() push.Context {
	return push.Context{
		Repo:          push.RepoID{Owner: "acme", Name: "widgets"},
		Branch:        "main",
		Revision:      "abc123",
		DefaultBranch: "main",
		Files:         push.NewSnapshot(map[string]string{"package.json": "{}"}),
	}
}

func buildRegistry(t *testing.T, contribs []contribution.Contribution) *contribution.Registry {
	t.Helper()
	reg, err := contribution.NewRegistry(contribs)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func simpleGoal(name string) contribution.Unit {
	return contribution.GoalUnit(contribution.GoalSpec{
		Name:       name,
		Containers: []contribution.Container{{Name: name, Image: "alpine:3.20"}},
	})
}

func TestLoadRegistryMergesManifests(t *testing.T) {
	e, cfg := newTestEngine(t, &autoBackend{outcome: scheduler.OutcomeSuccess})
	first := filepath.Join(cfg.ProjectDir, "contributions.yaml")
	second := filepath.Join(cfg.ProjectDir, "extra.yaml")
	if err := os.WriteFile(first, []byte(`
version: 1
contributions:
  - name: node_build
    goals:
      - name: build
        containers:
          - name: build
            image: node:20
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte(`
version: 1
contributions:
  - name: docker_build
    depends_on: [node_build]
    goals:
      - name: docker
        containers:
          - name: docker
            image: docker:24
`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Project.Contributions = []string{"contributions.yaml", "extra.yaml"}
	reg, err := e.LoadRegistry()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected merged registry of 2, got %d", reg.Len())
	}
	// Cross-manifest dependencies resolve after the merge.
	if _, ok := reg.Get("docker_build"); !ok {
		t.Fatalf("expected docker_build present")
	}
}

func TestSubmitCompilesRunsAndPersists(t *testing.T) {
	backend := &autoBackend{outcome: scheduler.OutcomeSuccess}
	e, _ := newTestEngine(t, backend)
	reg := buildRegistry(t, []contribution.Contribution{
		{Name: "node_build", Goals: []contribution.Unit{simpleGoal("build")}},
	})
	run, err := e.Submit(context.Background(), reg, testPushContext())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.Status() != scheduler.RunStatusComplete {
		t.Fatalf("expected complete run, got %s", run.Status())
	}
	if got := backend.dispatches(); len(got) != 1 || got[0] != "node_build/build" {
		t.Fatalf("unexpected dispatches %v", got)
	}
	snap, err := e.Store().Load(run.ID())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap.Status != scheduler.RunStatusComplete {
		t.Fatalf("expected persisted complete snapshot, got %s", snap.Status)
	}
}

func TestApproveAndCancelRouteToOwningRun(t *testing.T) {
	backend := &autoBackend{outcome: scheduler.OutcomeSuccess}
	e, _ := newTestEngine(t, backend)
	reg := buildRegistry(t, []contribution.Contribution{
		{Name: "release", Goals: []contribution.Unit{contribution.GoalUnit(contribution.GoalSpec{
			Name:        "publish",
			PreApproval: true,
			Containers:  []contribution.Container{{Name: "publish", Image: "alpine:3.20"}},
		})}},
	})
	run, err := e.Submit(context.Background(), reg, testPushContext())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state, _ := run.State("release/publish"); state != scheduler.StateWaitingForPreApproval {
		t.Fatalf("expected pre-approval gate, got %s", state)
	}
	if err := e.Approve(context.Background(), run.ID(), "release/publish", "pre", "cam"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if state, _ := run.State("release/publish"); state != scheduler.StateSuccess {
		t.Fatalf("expected success after approval, got %s", state)
	}
	if err := e.Approve(context.Background(), "nope", "x", "pre", ""); err == nil {
		t.Fatalf("expected error for unknown run")
	}
	if err := e.Cancel(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unknown run on cancel")
	}
}

func TestGoalEventRetriggersPendingPush(t *testing.T) {
	backend := &autoBackend{outcome: scheduler.OutcomeSuccess}
	e, _ := newTestEngine(t, backend)
	reg := buildRegistry(t, []contribution.Contribution{
		{
			Name:  "deploy",
			Test:  []predicate.Node{predicate.IsGoal("node_build", statebus.StateSuccess)},
			Goals: []contribution.Unit{simpleGoal("deploy")},
		},
	})
	// The initial push selects nothing: node_build has not been observed.
	run, err := e.Submit(context.Background(), reg, testPushContext())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.GoalSet().Len() != 0 {
		t.Fatalf("expected empty initial goal set, got %d", run.GoalSet().Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Serve(ctx)

	e.Bus().Publish(statebus.Event{
		Version:   statebus.EventSchemaVersion,
		EventID:   "evt-ext-1",
		Goal:      "node_build",
		Repo:      push.RepoID{Owner: "acme", Name: "widgets"},
		Revision:  "abc123",
		State:     statebus.StateSuccess,
		Timestamp: time.Now().UTC(),
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, id := range backend.dispatches() {
			if id == "deploy/deploy" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("deploy goal never dispatched after external goal event, dispatches: %v", backend.dispatches())
}

func countDispatches(backend *autoBackend, id compiler.InstanceID) int {
	n := 0
	for _, got := range backend.dispatches() {
		if got == id {
			n++
		}
	}
	return n
}

func TestRepeatedGoalEventsExecutePushOnce(t *testing.T) {
	backend := &autoBackend{outcome: scheduler.OutcomeSuccess}
	e, _ := newTestEngine(t, backend)
	reg := buildRegistry(t, []contribution.Contribution{
		{
			Name:  "deploy",
			Test:  []predicate.Node{predicate.IsGoal("node_build", statebus.StateSuccess)},
			Goals: []contribution.Unit{simpleGoal("deploy")},
		},
	})
	if _, err := e.Submit(context.Background(), reg, testPushContext()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Serve(ctx)

	base := time.Now().UTC()
	publish := func(id string, at time.Time) {
		e.Bus().Publish(statebus.Event{
			Version:   statebus.EventSchemaVersion,
			EventID:   id,
			Goal:      "node_build",
			Repo:      push.RepoID{Owner: "acme", Name: "widgets"},
			Revision:  "abc123",
			State:     statebus.StateSuccess,
			Timestamp: at,
		})
	}
	publish("evt-upstream-1", base)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && countDispatches(backend, "deploy/deploy") == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := countDispatches(backend, "deploy/deploy"); got != 1 {
		t.Fatalf("expected one deploy dispatch after first upstream event, got %d", got)
	}

	// Newer terminal observations for the same upstream goal update the
	// view but must not execute the push's goals again.
	publish("evt-upstream-2", base.Add(time.Second))
	publish("evt-upstream-3", base.Add(2*time.Second))
	settle := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(settle) {
		if got := countDispatches(backend, "deploy/deploy"); got != 1 {
			t.Fatalf("expected exactly one deploy dispatch, got %d", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
