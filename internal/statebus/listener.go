package statebus

import (
	"context"
	"regexp"
	"sync"

	"github.com/gantryci/gantry/internal/contribution"
	"github.com/gantryci/gantry/internal/predicate"
	"github.com/gantryci/gantry/internal/push"
)

// PendingPush is a push whose goal set has not been compiled yet (or may
// be recompiled) because its selection depends on external goal state.
type PendingPush struct {
	ID       string
	Registry *contribution.Registry
	Context  push.Context
}

// Trigger is invoked when a newly observed terminal goal state may flip a
// pending push's contribution selection. The callee decides whether to
// (re)compile; the listener only detects relevance.
type Trigger func(PendingPush, Event)

// Listener feeds bus events into the observed-state view and re-triggers
// compilation for pending pushes whose is_goal predicates reference the
// event's goal. This is how independent schedulers chain without calling
// each other.
type Listener struct {
	bus     *Bus
	view    *View
	trigger Trigger
	logger  Logger

	mu      sync.Mutex
	pending map[string]watchEntry
}

// watchEntry pairs a pending push with the last observed result of each
// of its goal-bearing tests. Only a result that flips re-triggers
// compilation; a fresh observation for an already-satisfied goal does
// not.
type watchEntry struct {
	push      PendingPush
	selection map[string]bool
}

// ListenerOption customizes Listener construction.
type ListenerOption func(*Listener)

// ListenerWithLogger injects a diagnostics logger.
func ListenerWithLogger(logger Logger) ListenerOption {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewListener wires a listener to the bus, the shared view, and the
// compilation trigger.
func NewListener(bus *Bus, view *View, trigger Trigger, opts ...ListenerOption) *Listener {
	l := &Listener{
		bus:     bus,
		view:    view,
		trigger: trigger,
		logger:  nopLogger{},
		pending: map[string]watchEntry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Watch registers a pending push for re-evaluation. Registering the same
// ID again replaces the previous entry. The current result of each
// goal-bearing test is recorded as the flip baseline.
func (l *Listener) Watch(p PendingPush) {
	if p.ID == "" || p.Registry == nil {
		return
	}
	selection := l.goalSelection(p)
	l.mu.Lock()
	l.pending[p.ID] = watchEntry{push: p, selection: selection}
	l.mu.Unlock()
}

// Unwatch removes a pending push, typically once its goal set compiled.
func (l *Listener) Unwatch(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

// Run consumes bus events until the context is canceled. Malformed events
// are dropped with a diagnostic; the loop itself never fails.
func (l *Listener) Run(ctx context.Context) {
	sub := l.bus.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			l.Handle(event)
		}
	}
}

// Handle processes one goal-state event synchronously.
func (l *Listener) Handle(event Event) {
	event.Normalize()
	if err := event.Validate(); err != nil {
		l.logger.Printf("statebus: dropping malformed event: %v", err)
		return
	}
	if !l.view.Apply(event) {
		// Duplicate, stale, or non-terminal: nothing can have flipped.
		return
	}
	l.mu.Lock()
	pending := make([]watchEntry, 0, len(l.pending))
	for _, entry := range l.pending {
		pending = append(pending, entry)
	}
	l.mu.Unlock()
	for _, entry := range pending {
		if !registryReferencesGoal(entry.push.Registry, event.Goal) {
			continue
		}
		next := l.goalSelection(entry.push)
		if !selectionFlipped(entry.selection, next) {
			continue
		}
		l.mu.Lock()
		if cur, ok := l.pending[entry.push.ID]; ok {
			cur.selection = next
			l.pending[entry.push.ID] = cur
		}
		l.mu.Unlock()
		l.trigger(entry.push, event)
	}
}

// goalSelection evaluates every goal-bearing contribution test against
// the current view. Evaluation errors drop the contribution from the
// baseline with a diagnostic; a later successful evaluation then counts
// as a flip.
func (l *Listener) goalSelection(p PendingPush) map[string]bool {
	selection := map[string]bool{}
	for _, c := range p.Registry.All() {
		node := c.TestNode()
		if node == nil || !nodeHasGoalTest(*node) {
			continue
		}
		ok, err := predicate.Evaluate(*node, p.Context, l.view)
		if err != nil {
			l.logger.Printf("statebus: push %s: evaluating %q: %v", p.ID, c.Name, err)
			continue
		}
		selection[c.Name] = ok
	}
	return selection
}

func selectionFlipped(prev, next map[string]bool) bool {
	if len(prev) != len(next) {
		return true
	}
	for name, was := range prev {
		now, ok := next[name]
		if !ok || now != was {
			return true
		}
	}
	return false
}

// registryReferencesGoal reports whether any contribution's predicate
// tree contains an is_goal leaf whose name pattern matches the goal.
func registryReferencesGoal(reg *contribution.Registry, goal string) bool {
	for _, c := range reg.All() {
		for _, node := range c.Test {
			if nodeReferencesGoal(node, goal) {
				return true
			}
		}
	}
	return false
}

func nodeHasGoalTest(n predicate.Node) bool {
	if n.Kind == predicate.KindIsGoal {
		return true
	}
	if n.Test != nil && nodeHasGoalTest(*n.Test) {
		return true
	}
	for _, child := range n.Children {
		if nodeHasGoalTest(child) {
			return true
		}
	}
	return false
}

func nodeReferencesGoal(n predicate.Node, goal string) bool {
	if n.Kind == predicate.KindIsGoal {
		re, err := regexp.Compile("^(?:" + n.Pattern + ")$")
		if err != nil {
			return false
		}
		if re.MatchString(goal) {
			return true
		}
	}
	if n.Test != nil && nodeReferencesGoal(*n.Test, goal) {
		return true
	}
	for _, child := range n.Children {
		if nodeReferencesGoal(child, goal) {
			return true
		}
	}
	return false
}
