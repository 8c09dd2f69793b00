package scheduler

import (
	"sort"
	"time"

	"github.com/gantryci/gantry/internal/compiler"
	"github.com/gantryci/gantry/internal/push"
)

// InstanceSnapshot is one instance's state as seen at snapshot time.
type InstanceSnapshot struct {
	ID           compiler.InstanceID   `json:"id"`
	Contribution string                `json:"contribution"`
	Goal         string                `json:"goal"`
	Stage        int                   `json:"stage"`
	WaitsOn      []compiler.InstanceID `json:"waits_on,omitempty"`
	State        State                 `json:"state"`
	Attempts     int                   `json:"attempts"`
	Description  string                `json:"description,omitempty"`
}

// Snapshot is a persistable view of a run, consumed by the state store
// and the rendering surfaces.
type Snapshot struct {
	RunID     string             `json:"run_id"`
	GoalSet   string             `json:"goal_set"`
	Repo      push.RepoID        `json:"repo"`
	Branch    string             `json:"branch"`
	Revision  string             `json:"revision"`
	Status    RunStatus          `json:"status"`
	Instances []InstanceSnapshot `json:"instances"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Snapshot captures the run's current state in plan order.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		RunID:     r.id,
		GoalSet:   r.set.ID,
		Repo:      r.set.Repo,
		Branch:    r.set.Branch,
		Revision:  r.set.Revision,
		Status:    r.statusLocked(),
		UpdatedAt: r.clock().UTC(),
	}
	for _, inst := range r.set.Instances() {
		state := r.states[inst.ID]
		snap.Instances = append(snap.Instances, InstanceSnapshot{
			ID:           inst.ID,
			Contribution: inst.Contribution,
			Goal:         inst.Spec.Name,
			Stage:        inst.Stage,
			WaitsOn:      append([]compiler.InstanceID(nil), inst.WaitsOn...),
			State:        state,
			Attempts:     r.attempts[inst.ID],
			Description:  inst.Spec.Descriptions[string(state)],
		})
	}
	return snap
}

// WaitLink is one upstream hop in an instance's wait chain.
type WaitLink struct {
	ID    compiler.InstanceID
	State State
}

// Explanation reports why an instance is in its current state: the
// upstream instances it waits on, and for stopped instances the failed
// ancestor that triggered the cascade.
type Explanation struct {
	Instance compiler.InstanceID
	State    State
	Chain    []WaitLink
	// Culprit is the nearest upstream instance in failed (or canceled)
	// state, when one exists.
	Culprit compiler.InstanceID
}

// Explain walks the wait chain upstream from the given instance. Results
// are deterministic: hops are visited breadth-first in plan order.
func (r *Run) Explain(id compiler.InstanceID) (Explanation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.set.Instance(id)
	if !ok {
		return Explanation{}, false
	}
	exp := Explanation{Instance: id, State: r.states[id]}
	queue := append([]compiler.InstanceID(nil), inst.WaitsOn...)
	seen := map[compiler.InstanceID]bool{id: true}
	for len(queue) > 0 {
		hop := queue[0]
		queue = queue[1:]
		if seen[hop] {
			continue
		}
		seen[hop] = true
		state := r.states[hop]
		exp.Chain = append(exp.Chain, WaitLink{ID: hop, State: state})
		if exp.Culprit == "" && (state == StateFailed || state == StateCanceled) {
			exp.Culprit = hop
		}
		if up, ok := r.set.Instance(hop); ok {
			next := append([]compiler.InstanceID(nil), up.WaitsOn...)
			sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
			queue = append(queue, next...)
		}
	}
	return exp, true
}
