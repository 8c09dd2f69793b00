// Package engine wires the full pipeline behind the CLI and the bridge:
// contribution loading, goal-set compilation, run scheduling, the shared
// state bus and view, and run snapshot persistence.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/compiler"
	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/contribution"
	"github.com/gantryci/gantry/internal/logbook"
	"github.com/gantryci/gantry/internal/push"
	"github.com/gantryci/gantry/internal/scheduler"
	"github.com/gantryci/gantry/internal/statebus"
)

const persistInterval = 2 * time.Second

// Engine owns the long-lived collaborators of one gantry process. Many
// runs execute concurrently; they share the bus and the observed-state
// view and nothing else.
type Engine struct {
	cfg     *config.Config
	log     *logbook.Logbook
	bus     *statebus.Bus
	view    *statebus.View
	backend scheduler.Backend
	store   *scheduler.Repository

	listener *statebus.Listener

	mu   sync.Mutex
	runs map[string]*scheduler.Run
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogbook attaches the engine journal.
func WithLogbook(log *logbook.Logbook) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New assembles an engine from the resolved config and an execution
// backend.
func New(cfg *config.Config, backend scheduler.Backend, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("engine: backend is required")
	}
	e := &Engine{
		cfg:     cfg,
		backend: backend,
		store:   scheduler.NewRepository(cfg.StateDir()),
		runs:    map[string]*scheduler.Run{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.bus = statebus.NewBus(statebus.BusWithLogger(e.log.Scoped("statebus")))
	e.view = statebus.NewView(
		statebus.WithRetention(cfg.Project.View.Retention.Std()),
		statebus.WithMaxEntries(cfg.Project.View.MaxEntries),
	)
	e.listener = statebus.NewListener(e.bus, e.view, e.onGoalObserved,
		statebus.ListenerWithLogger(e.log.Scoped("statebus")))
	return e, nil
}

// Bus exposes the shared state bus, e.g. for the bridge sink and the
// watch view.
func (e *Engine) Bus() *statebus.Bus { return e.bus }

// Store exposes the run snapshot repository.
func (e *Engine) Store() *scheduler.Repository { return e.store }

// LoadRegistry reads and merges every contribution manifest the config
// names into a single registry.
func LoadRegistry(cfg *config.Config) (*contribution.Registry, error) {
	var all []contribution.Contribution
	for _, path := range cfg.ContributionPaths() {
		doc, err := contribution.LoadDocument(path)
		if err != nil {
			return nil, fmt.Errorf("engine: load %s: %w", path, err)
		}
		all = append(all, doc.Contributions...)
	}
	reg, err := contribution.NewRegistry(all)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return reg, nil
}

// LoadRegistry merges the engine config's contribution manifests.
func (e *Engine) LoadRegistry() (*contribution.Registry, error) {
	return LoadRegistry(e.cfg)
}

// Compile builds the goal set for a push against the current observed
// state.
func (e *Engine) Compile(reg *contribution.Registry, pushCtx push.Context) (*compiler.GoalSet, error) {
	opts := []compiler.Option{}
	if e.log != nil {
		opts = append(opts, compiler.WithLogger(e.log))
	}
	return compiler.Compile(reg, pushCtx, e.view, opts...)
}

// Submit compiles a push and starts the run. A push whose goal set
// compiles empty stays watched so a goal-state event that flips one of
// the registry's is_goal tests re-triggers compilation.
func (e *Engine) Submit(ctx context.Context, reg *contribution.Registry, pushCtx push.Context) (*scheduler.Run, error) {
	if err := pushCtx.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	gs, err := e.Compile(reg, pushCtx)
	if err != nil {
		return nil, err
	}
	run, err := scheduler.NewRun(gs, e.backend, e.bus,
		scheduler.WithRetryBudget(e.cfg.Project.Engine.RetryBudget),
		scheduler.WithPushContext(pushCtx),
		scheduler.WithLogger(e.schedulerLogger()),
	)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.runs[run.ID()] = run
	e.mu.Unlock()
	// Only a push with nothing to execute yet stays watched: once a goal
	// set compiled non-empty and ran, a later observation for the same
	// upstream goal must not execute it again.
	if gs.Len() == 0 {
		e.listener.Watch(statebus.PendingPush{ID: run.ID(), Registry: reg, Context: pushCtx})
		e.log.Info("run %s: goal selection pending for %s@%s, watching goal state", run.ID(), gs.Repo, gs.Revision)
	}
	e.log.Info("run %s: compiled %d instances for %s@%s", run.ID(), gs.Len(), gs.Repo, gs.Revision)
	for _, warning := range gs.Warnings {
		e.log.Warn("run %s: %s", run.ID(), warning)
	}
	run.Start(ctx)
	e.persist(run)
	return run, nil
}

// onGoalObserved re-compiles a watched push once a goal referenced by one
// of its is_goal tests reaches a terminal state.
func (e *Engine) onGoalObserved(p statebus.PendingPush, event statebus.Event) {
	e.listener.Unwatch(p.ID)
	e.log.Info("push %s: goal %s reached %s, recompiling", p.ID, event.Goal, event.State)
	if _, err := e.Submit(context.Background(), p.Registry, p.Context); err != nil {
		e.log.Error("push %s: recompile: %v", p.ID, err)
	}
}

// Run returns an active run by ID.
func (e *Engine) Run(runID string) (*scheduler.Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[runID]
	return run, ok
}

// Approve routes an operator approval to the owning run. It satisfies
// the bridge's RunControl contract.
func (e *Engine) Approve(ctx context.Context, runID string, instance compiler.InstanceID, kind, actor string) error {
	run, ok := e.Run(runID)
	if !ok {
		return fmt.Errorf("engine: unknown run %q", runID)
	}
	if err := run.Approve(ctx, instance, kind, actor); err != nil {
		return err
	}
	e.persist(run)
	return nil
}

// Cancel cancels an active run.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	run, ok := e.Run(runID)
	if !ok {
		return fmt.Errorf("engine: unknown run %q", runID)
	}
	run.Cancel(ctx)
	e.persist(run)
	return nil
}

// HandleResult forwards a backend callback to the owning run.
func (e *Engine) HandleResult(ctx context.Context, runID string, instance compiler.InstanceID, res scheduler.RunResult) error {
	run, ok := e.Run(runID)
	if !ok {
		return fmt.Errorf("engine: unknown run %q", runID)
	}
	run.HandleResult(ctx, instance, res)
	e.persist(run)
	return nil
}

// Serve pumps the goal-test listener and periodically persists run
// snapshots until the context is canceled. Runs that reached a terminal
// aggregate state are archived out of the active set after their final
// snapshot.
func (e *Engine) Serve(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.listener.Run(ctx)
		close(done)
	}()
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.persistAll()
			<-done
			return
		case <-ticker.C:
			e.persistAll()
		}
	}
}

func (e *Engine) persist(run *scheduler.Run) {
	if err := e.store.Save(run.Snapshot()); err != nil {
		e.log.Error("run %s: persist snapshot: %v", run.ID(), err)
	}
}

func (e *Engine) persistAll() {
	e.mu.Lock()
	runs := make([]*scheduler.Run, 0, len(e.runs))
	for _, run := range e.runs {
		runs = append(runs, run)
	}
	e.mu.Unlock()
	for _, run := range runs {
		e.persist(run)
		if run.Done() {
			e.mu.Lock()
			delete(e.runs, run.ID())
			e.mu.Unlock()
		}
	}
}

func (e *Engine) schedulerLogger() scheduler.Logger {
	return e.log.Scoped("scheduler")
}
