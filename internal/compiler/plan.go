package compiler

import (
	"sort"

	"github.com/gantryci/gantry/internal/contribution"
	"github.com/gantryci/gantry/internal/push"
)

// InstanceID identifies one goal instance within a compiled goal set.
type InstanceID string

// GoalInstance is one schedulable unit of the compiled plan. It is created
// in the planned lifecycle state; only the scheduler mutates it from there.
type GoalInstance struct {
	ID           InstanceID            `json:"id"`
	Contribution string                `json:"contribution"`
	Spec         contribution.GoalSpec `json:"spec"`
	// WaitsOn lists the instances that must reach success before this
	// instance is requested. Always contained in strictly earlier stages.
	WaitsOn []InstanceID `json:"waits_on,omitempty"`
	// Stage is the index of the stage this instance was assigned to.
	Stage int `json:"stage"`

	// ordinal fixes within-stage ordering: contribution declaration order
	// first, goal declaration order second.
	ordinal int
}

// Stage is a maximal set of instances that may execute concurrently
// before the next dependency boundary.
type Stage struct {
	Index     int             `json:"index"`
	Instances []*GoalInstance `json:"instances"`
}

// GoalSet is the compiled, ordered/parallel plan for one push.
type GoalSet struct {
	ID       string     `json:"id"`
	Repo     push.RepoID `json:"repo"`
	Branch   string     `json:"branch"`
	Revision string     `json:"revision"`
	Stages   []Stage    `json:"stages"`
	// Warnings records non-fatal selection ambiguities resolved by the
	// declaration-order policy.
	Warnings []string `json:"warnings,omitempty"`

	byID map[InstanceID]*GoalInstance
}

// Instances returns all instances in stage order, stable within a stage.
func (gs *GoalSet) Instances() []*GoalInstance {
	var out []*GoalInstance
	for _, stage := range gs.Stages {
		out = append(out, stage.Instances...)
	}
	return out
}

// Instance retrieves one instance by identifier.
func (gs *GoalSet) Instance(id InstanceID) (*GoalInstance, bool) {
	inst, ok := gs.byID[id]
	return inst, ok
}

// Len reports the total number of instances across all stages.
func (gs *GoalSet) Len() int {
	n := 0
	for _, stage := range gs.Stages {
		n += len(stage.Instances)
	}
	return n
}

// assemble groups materialized instances into stages by wait-chain depth
// and indexes them for lookup.
func (gs *GoalSet) assemble(instances []*GoalInstance) {
	gs.byID = make(map[InstanceID]*GoalInstance, len(instances))
	depth := map[InstanceID]int{}
	byID := map[InstanceID]*GoalInstance{}
	for _, inst := range instances {
		byID[inst.ID] = inst
	}
	var depthOf func(*GoalInstance) int
	depthOf = func(inst *GoalInstance) int {
		if d, ok := depth[inst.ID]; ok {
			return d
		}
		max := 0
		for _, wait := range inst.WaitsOn {
			if upstream, ok := byID[wait]; ok {
				if cand := depthOf(upstream) + 1; cand > max {
					max = cand
				}
			}
		}
		depth[inst.ID] = max
		return max
	}
	maxDepth := -1
	for _, inst := range instances {
		inst.Stage = depthOf(inst)
		if inst.Stage > maxDepth {
			maxDepth = inst.Stage
		}
		gs.byID[inst.ID] = inst
	}
	gs.Stages = make([]Stage, maxDepth+1)
	for i := range gs.Stages {
		gs.Stages[i].Index = i
	}
	for _, inst := range instances {
		stage := &gs.Stages[inst.Stage]
		stage.Instances = append(stage.Instances, inst)
	}
	for i := range gs.Stages {
		insts := gs.Stages[i].Instances
		sort.SliceStable(insts, func(a, b int) bool {
			return insts[a].ordinal < insts[b].ordinal
		})
	}
}
