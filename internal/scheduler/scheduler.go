package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gantryci/gantry/internal/compiler"
	"github.com/gantryci/gantry/internal/push"
	"github.com/gantryci/gantry/internal/statebus"
)

// DefaultRetryBudget is how many redispatches a retry-flagged goal gets
// after its first failure.
const DefaultRetryBudget = 1

// Publisher receives every lifecycle transition as a goal-state event.
// *statebus.Bus satisfies it.
type Publisher interface {
	Publish(statebus.Event)
}

// Logger records scheduler diagnostics.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type nopPublisher struct{}

func (nopPublisher) Publish(statebus.Event) {}

// RunStatus is the aggregate state of one goal-set run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusBlocked  RunStatus = "blocked"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
	RunStatusCanceled RunStatus = "canceled"
)

// Run drives one compiled goal set. It is a single logical control loop:
// all mutation happens under one mutex, resumed by backend callbacks and
// operator actions rather than by blocking waits. Many runs may execute
// concurrently; they share nothing but the state bus.
type Run struct {
	id        string
	set       *compiler.GoalSet
	pushCtx   *push.Context
	backend   Backend
	cache     CacheStore
	publisher Publisher
	logger    Logger
	clock     func() time.Time

	retryBudget int

	mu          sync.Mutex
	states      map[compiler.InstanceID]State
	attempts    map[compiler.InstanceID]int
	preApproved map[compiler.InstanceID]bool
	dependents  map[compiler.InstanceID][]compiler.InstanceID
	canceled    bool
}

// Option customizes a Run.
type Option func(*Run)

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(r *Run) {
		if id != "" {
			r.id = id
		}
	}
}

// WithPushContext attaches the originating push so dispatches and
// published events carry its full descriptor.
func WithPushContext(ctx push.Context) Option {
	return func(r *Run) {
		r.pushCtx = &ctx
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(r *Run) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRetryBudget overrides the per-instance redispatch budget.
func WithRetryBudget(budget int) Option {
	return func(r *Run) {
		if budget >= 0 {
			r.retryBudget = budget
		}
	}
}

// WithCache attaches the cache store sequenced around executions.
func WithCache(cache CacheStore) Option {
	return func(r *Run) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithLogger injects a diagnostics logger.
func WithLogger(logger Logger) Option {
	return func(r *Run) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRun prepares a goal-set run with every instance in planned state.
func NewRun(set *compiler.GoalSet, backend Backend, publisher Publisher, opts ...Option) (*Run, error) {
	if set == nil {
		return nil, fmt.Errorf("scheduler: goal set is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("scheduler: backend is required")
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	r := &Run{
		id:          uuid.NewString(),
		set:         set,
		backend:     backend,
		cache:       nopCache{},
		publisher:   publisher,
		logger:      nopLogger{},
		clock:       time.Now,
		retryBudget: DefaultRetryBudget,
		states:      map[compiler.InstanceID]State{},
		attempts:    map[compiler.InstanceID]int{},
		preApproved: map[compiler.InstanceID]bool{},
		dependents:  map[compiler.InstanceID][]compiler.InstanceID{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	for _, inst := range set.Instances() {
		r.states[inst.ID] = StatePlanned
		for _, wait := range inst.WaitsOn {
			r.dependents[wait] = append(r.dependents[wait], inst.ID)
		}
	}
	return r, nil
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// GoalSet returns the compiled plan this run drives.
func (r *Run) GoalSet() *compiler.GoalSet { return r.set }

// Start requests every instance whose wait-set is empty.
func (r *Run) Start(ctx context.Context) {
	r.mu.Lock()
	ready := r.advanceLocked()
	r.mu.Unlock()
	r.execute(ctx, ready)
}

// State reports one instance's current lifecycle state.
func (r *Run) State(id compiler.InstanceID) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	return s, ok
}

// Status derives the aggregate run status.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Run) statusLocked() RunStatus {
	if r.canceled {
		return RunStatusCanceled
	}
	allTerminal := true
	anyBad := false
	anyActive := false
	for _, state := range r.states {
		switch state {
		case StateFailed, StateStopped:
			anyBad = true
		case StateRequested, StateInProcess, StatePlanned:
			allTerminal = false
			anyActive = true
		case StateWaitingForPreApproval, StateWaitingForApproval:
			allTerminal = false
		case StateCanceled:
			anyBad = true
		}
	}
	if allTerminal {
		if anyBad {
			return RunStatusFailed
		}
		return RunStatusComplete
	}
	if anyActive {
		return RunStatusRunning
	}
	return RunStatusBlocked
}

// Done reports whether the run reached a terminal aggregate state and can
// be archived.
func (r *Run) Done() bool {
	switch r.Status() {
	case RunStatusComplete, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// HandleResult consumes a backend attempt result. Results for instances
// no longer in_process (canceled runs, stale callbacks) are ignored.
func (r *Run) HandleResult(ctx context.Context, id compiler.InstanceID, res RunResult) {
	r.mu.Lock()
	inst, ok := r.set.Instance(id)
	if !ok || r.canceled || r.states[id] != StateInProcess {
		r.mu.Unlock()
		return
	}
	if res.Outcome == OutcomeSuccess {
		if inst.Spec.Approval {
			r.transitionLocked(id, StateWaitingForApproval, nil)
			r.mu.Unlock()
			return
		}
		r.transitionLocked(id, StateSuccess, nil)
		next := r.advanceLocked()
		r.mu.Unlock()
		r.persistOutputs(ctx, inst)
		r.execute(ctx, next)
		return
	}
	// Failure path: retry within budget, else terminal failed + cascade.
	r.attempts[id]++
	if inst.Spec.Retry && r.attempts[id] <= r.retryBudget {
		attempt := r.attempts[id] + 1
		r.transitionLocked(id, StateRequested, nil)
		r.mu.Unlock()
		r.logger.Printf("scheduler: retrying %s (attempt %d)", id, attempt)
		r.execute(ctx, []compiler.InstanceID{id})
		return
	}
	r.transitionLocked(id, StateFailed, nil)
	r.cascadeStopLocked(id)
	r.mu.Unlock()
}

// Approve applies an operator approval. Kind "pre" releases a
// waiting_for_pre_approval instance into execution; "post" confirms a
// waiting_for_approval instance as success for downstream dependents.
func (r *Run) Approve(ctx context.Context, id compiler.InstanceID, kind string, actor string) error {
	meta := &statebus.ApprovalMetadata{Kind: kind, Actor: actor, At: r.clock().UTC()}
	switch kind {
	case "pre":
		r.mu.Lock()
		if r.states[id] != StateWaitingForPreApproval {
			state := r.states[id]
			r.mu.Unlock()
			return fmt.Errorf("scheduler: %s is %s, not awaiting pre-approval", id, state)
		}
		r.preApproved[id] = true
		r.transitionLocked(id, StateInProcess, meta)
		r.mu.Unlock()
		r.begin(ctx, id)
		return nil
	case "post":
		r.mu.Lock()
		if r.states[id] != StateWaitingForApproval {
			state := r.states[id]
			r.mu.Unlock()
			return fmt.Errorf("scheduler: %s is %s, not awaiting approval", id, state)
		}
		inst, _ := r.set.Instance(id)
		r.transitionLocked(id, StateSuccess, meta)
		next := r.advanceLocked()
		r.mu.Unlock()
		r.persistOutputs(ctx, inst)
		r.execute(ctx, next)
		return nil
	default:
		return fmt.Errorf("scheduler: unknown approval kind %q", kind)
	}
}

// Cancel moves every non-terminal instance to canceled immediately and
// asks the backend to stop in-flight work. It never waits for the
// backend's acknowledgement.
func (r *Run) Cancel(ctx context.Context) {
	r.mu.Lock()
	if r.canceled {
		r.mu.Unlock()
		return
	}
	r.canceled = true
	var inFlight []compiler.InstanceID
	for _, inst := range r.set.Instances() {
		state := r.states[inst.ID]
		if state.Terminal() {
			continue
		}
		if state == StateInProcess {
			inFlight = append(inFlight, inst.ID)
		}
		r.transitionLocked(inst.ID, StateCanceled, nil)
	}
	r.mu.Unlock()
	for _, id := range inFlight {
		r.backend.Cancel(ctx, r.set.ID, id)
	}
}

// advanceLocked requests every planned instance whose wait-set is fully
// successful and returns the IDs to dispatch.
func (r *Run) advanceLocked() []compiler.InstanceID {
	if r.canceled {
		return nil
	}
	var ready []compiler.InstanceID
	for _, inst := range r.set.Instances() {
		if r.states[inst.ID] != StatePlanned {
			continue
		}
		satisfied := true
		for _, wait := range inst.WaitsOn {
			if r.states[wait] != StateSuccess {
				satisfied = false
				break
			}
		}
		if satisfied {
			r.transitionLocked(inst.ID, StateRequested, nil)
			ready = append(ready, inst.ID)
		}
	}
	return ready
}

// execute moves requested instances toward the backend: instances gated
// on pre-approval park in waiting_for_pre_approval, the rest enter
// in_process and dispatch.
func (r *Run) execute(ctx context.Context, ids []compiler.InstanceID) {
	var begin []compiler.InstanceID
	r.mu.Lock()
	for _, id := range ids {
		if r.canceled || r.states[id] != StateRequested {
			continue
		}
		inst, ok := r.set.Instance(id)
		if !ok {
			continue
		}
		if inst.Spec.PreApproval && !r.preApproved[id] {
			r.transitionLocked(id, StateWaitingForPreApproval, nil)
			continue
		}
		r.transitionLocked(id, StateInProcess, nil)
		begin = append(begin, id)
	}
	r.mu.Unlock()
	for _, id := range begin {
		r.begin(ctx, id)
	}
}

// begin performs the restore-then-run sequence for an in_process
// instance. Cache restore failures count as attempt failures so they pass
// through the retry policy.
func (r *Run) begin(ctx context.Context, id compiler.InstanceID) {
	inst, ok := r.set.Instance(id)
	if !ok {
		return
	}
	if len(inst.Spec.Input) > 0 {
		if err := r.cache.Restore(ctx, r.set.Repo, inst.Spec.Input); err != nil {
			r.logger.Printf("scheduler: cache restore for %s: %v", id, err)
			r.HandleResult(ctx, id, RunResult{Outcome: OutcomeFailed, Message: err.Error()})
			return
		}
	}
	req := RunRequest{
		GoalSet:  r.set.ID,
		Instance: id,
		Spec:     inst.Spec,
		Push:     r.pushContext(),
	}
	err := r.backend.Run(ctx, req, func(res RunResult) {
		r.HandleResult(ctx, id, res)
	})
	if err != nil {
		r.logger.Printf("scheduler: dispatch %s: %v", id, err)
		r.HandleResult(ctx, id, RunResult{Outcome: OutcomeFailed, Message: err.Error()})
	}
}

func (r *Run) persistOutputs(ctx context.Context, inst *compiler.GoalInstance) {
	if inst == nil || len(inst.Spec.Output) == 0 {
		return
	}
	if err := r.cache.Persist(ctx, r.set.Repo, inst.Spec.Output); err != nil {
		// Persist failures degrade later restores to cache misses; the
		// goal itself already succeeded.
		r.logger.Printf("scheduler: cache persist for %s: %v", inst.ID, err)
	}
}

// cascadeStopLocked stops every planned instance transitively depending
// on the failed one. Instances already terminal are left untouched.
func (r *Run) cascadeStopLocked(failed compiler.InstanceID) {
	queue := append([]compiler.InstanceID{}, r.dependents[failed]...)
	visited := map[compiler.InstanceID]bool{failed: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		switch r.states[id] {
		case StatePlanned, StateRequested:
			r.transitionLocked(id, StateStopped, nil)
		}
		queue = append(queue, r.dependents[id]...)
	}
}

// transitionLocked validates and applies one lifecycle transition and
// publishes it as a goal-state event.
func (r *Run) transitionLocked(id compiler.InstanceID, to State, approval *statebus.ApprovalMetadata) {
	from := r.states[id]
	if !allowedTransition(from, to) {
		r.logger.Printf("scheduler: disallowed transition for %s: %s -> %s", id, from, to)
		return
	}
	r.states[id] = to
	inst, ok := r.set.Instance(id)
	if !ok {
		return
	}
	pushCtx := r.pushContext()
	event := statebus.Event{
		Version:     statebus.EventSchemaVersion,
		EventID:     uuid.NewString(),
		GoalSet:     r.set.ID,
		Goal:        inst.Spec.Name,
		Repo:        r.set.Repo,
		Revision:    r.set.Revision,
		State:       string(to),
		Timestamp:   r.clock().UTC(),
		Description: inst.Spec.Descriptions[string(to)],
		Approval:    approval,
		PushContext: &pushCtx,
	}
	r.publisher.Publish(event)
}

func (r *Run) pushContext() push.Context {
	if r.pushCtx == nil {
		return push.Context{Repo: r.set.Repo, Branch: r.set.Branch, Revision: r.set.Revision}
	}
	return *r.pushCtx
}
