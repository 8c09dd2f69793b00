// Package compiler turns a contribution registry plus one push context
// into a compiled goal set: contributions are selected by their predicate
// trees, conflicting alternatives are resolved, depends_on edges become a
// staged execution graph, and every surviving container goal becomes a
// planned goal instance.
package compiler

import (
	"fmt"
	"sort"

	"github.com/gantryci/gantry/internal/contribution"
	"github.com/gantryci/gantry/internal/predicate"
	"github.com/gantryci/gantry/internal/push"
)

// Logger records compile diagnostics. It matches logbook.Logbook's
// leveled helpers via small adapters; tests pass nil.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes a compilation.
type Option func(*settings)

type settings struct {
	setID  string
	logger Logger
}

// WithSetID overrides the derived goal-set identifier.
func WithSetID(id string) Option {
	return func(s *settings) {
		if id != "" {
			s.setID = id
		}
	}
}

// WithLogger injects a diagnostic logger for selection warnings.
func WithLogger(logger Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Compile produces the goal set for one push. It is deterministic for a
// given registry, context, and goal-state view: compiling twice without
// intervening goal-state events yields an identical plan.
func Compile(reg *contribution.Registry, ctx push.Context, view predicate.GoalStateView, opts ...Option) (*GoalSet, error) {
	if reg == nil {
		return nil, fmt.Errorf("compiler: registry is required")
	}
	if err := ctx.Validate(); err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}
	cfg := settings{setID: fmt.Sprintf("%s@%s", ctx.Repo, ctx.Revision)}
	for _, opt := range opts {
		opt(&cfg)
	}

	selected, err := selectContributions(reg, ctx, view)
	if err != nil {
		return nil, err
	}
	warnings := resolveConflicts(reg, selected, cfg.logger)
	if err := resolveDependencies(reg, selected); err != nil {
		return nil, err
	}
	if err := detectCycles(reg, selected); err != nil {
		return nil, err
	}

	instances, err := materialize(reg, selected, ctx, view)
	if err != nil {
		return nil, err
	}

	gs := &GoalSet{
		ID:       cfg.setID,
		Repo:     ctx.Repo,
		Branch:   ctx.Branch,
		Revision: ctx.Revision,
		Warnings: warnings,
	}
	gs.assemble(instances)
	return gs, nil
}

// selectContributions evaluates every contribution's predicate tree.
// An absent predicate selects unconditionally.
func selectContributions(reg *contribution.Registry, ctx push.Context, view predicate.GoalStateView) (map[string]bool, error) {
	selected := make(map[string]bool, reg.Len())
	for _, c := range reg.All() {
		node := c.TestNode()
		if node == nil {
			selected[c.Name] = true
			continue
		}
		ok, err := predicate.Evaluate(*node, ctx, view)
		if err != nil {
			return nil, fmt.Errorf("compiler: contribution %q: %w", c.Name, err)
		}
		selected[c.Name] = ok
	}
	return selected, nil
}

// resolveConflicts enforces mutual exclusion among alternatives: the
// members of one selected contribution's depends_on list feed that
// contribution, so when more than one of them is simultaneously selected
// only the first-declared survives. The losers are deselected and the
// ambiguity is reported as a warning, never an error.
func resolveConflicts(reg *contribution.Registry, selected map[string]bool, logger Logger) []string {
	var warnings []string
	for _, c := range reg.All() {
		if !selected[c.Name] || len(c.DependsOn) < 2 {
			continue
		}
		var alternatives []string
		for _, dep := range c.DependsOn {
			if selected[dep] {
				alternatives = append(alternatives, dep)
			}
		}
		if len(alternatives) < 2 {
			continue
		}
		sort.Slice(alternatives, func(i, j int) bool {
			a, _ := reg.Index(alternatives[i])
			b, _ := reg.Index(alternatives[j])
			return a < b
		})
		winner := alternatives[0]
		for _, loser := range alternatives[1:] {
			selected[loser] = false
			msg := fmt.Sprintf("contributions %q and %q both selected as alternatives feeding %q; keeping first-declared %q", winner, loser, c.Name, winner)
			warnings = append(warnings, msg)
			if logger != nil {
				logger.Printf("compiler: %s", msg)
			}
		}
	}
	return warnings
}

// resolveDependencies verifies that every selected contribution with a
// depends_on list retains at least one selected target. Unselected
// alternatives merely lose their wait edge; a list with no survivor at
// all is a compile error.
func resolveDependencies(reg *contribution.Registry, selected map[string]bool) error {
	for _, c := range reg.All() {
		if !selected[c.Name] || len(c.DependsOn) == 0 {
			continue
		}
		any := false
		for _, dep := range c.DependsOn {
			if selected[dep] {
				any = true
				break
			}
		}
		if !any {
			return unresolvedf("contribution %q: no depends_on target of %v survived selection", c.Name, c.DependsOn)
		}
	}
	return nil
}

// detectCycles walks depends_on edges among selected contributions.
func detectCycles(reg *contribution.Registry, selected map[string]bool) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var stack []string
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			start := 0
			for i, n := range stack {
				if n == name {
					start = i
					break
				}
			}
			return cyclicError(append(append([]string{}, stack[start:]...), name))
		case done:
			return nil
		}
		state[name] = visiting
		stack = append(stack, name)
		c, _ := reg.Get(name)
		for _, dep := range c.DependsOn {
			if !selected[dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}
	for _, c := range reg.All() {
		if !selected[c.Name] {
			continue
		}
		if err := visit(c.Name); err != nil {
			return err
		}
	}
	return nil
}

// layoutUnits flattens a contribution's goal tree into ordered sub-stages.
// A sequential level advances one sub-stage per unit; a parallel level
// merges its members' layouts stage-wise so they run side by side.
func layoutUnits(units []contribution.Unit, sequential bool) [][]contribution.GoalSpec {
	var out [][]contribution.GoalSpec
	if sequential {
		for _, u := range units {
			if u.Goal != nil {
				out = append(out, []contribution.GoalSpec{*u.Goal})
				continue
			}
			out = append(out, layoutUnits(u.Group, false)...)
		}
		return out
	}
	for _, u := range units {
		var sub [][]contribution.GoalSpec
		if u.Goal != nil {
			sub = [][]contribution.GoalSpec{{*u.Goal}}
		} else {
			sub = layoutUnits(u.Group, true)
		}
		for i, group := range sub {
			if i < len(out) {
				out[i] = append(out[i], group...)
			} else {
				out = append(out, group)
			}
		}
	}
	return out
}

// materialize turns the surviving contributions into planned goal
// instances with fully resolved wait-sets. Container-level tests are
// evaluated here; an instance whose containers all test false is dropped
// and wait edges through it are spliced to its own wait-set so nothing
// blocks forever.
func materialize(reg *contribution.Registry, selected map[string]bool, ctx push.Context, view predicate.GoalStateView) ([]*GoalInstance, error) {
	type pending struct {
		inst    *GoalInstance
		dropped bool
	}
	var order []*pending
	byID := map[InstanceID]*pending{}
	lastSubStage := map[string][]InstanceID{}
	usedIDs := map[InstanceID]int{}
	ordinal := 0

	for _, c := range reg.All() {
		if !selected[c.Name] {
			continue
		}
		// Cross-contribution waits attach to the first sub-stage and flow
		// to later sub-stages through the intra-contribution chain.
		var crossWaits []InstanceID
		for _, dep := range c.DependsOn {
			if selected[dep] {
				crossWaits = append(crossWaits, lastSubStage[dep]...)
			}
		}
		var prevSubStage []InstanceID
		layout := layoutUnits(c.Goals, true)
		for subIdx, group := range layout {
			var current []InstanceID
			for _, spec := range group {
				containers, dropped, err := filterContainers(spec, ctx, view)
				if err != nil {
					return nil, fmt.Errorf("compiler: contribution %q goal %q: %w", c.Name, spec.Name, err)
				}
				resolved := spec
				resolved.Containers = containers
				id := instanceID(c.Name, spec.Name, usedIDs)
				inst := &GoalInstance{
					ID:           id,
					Contribution: c.Name,
					Spec:         resolved,
					ordinal:      ordinal,
				}
				ordinal++
				if subIdx == 0 {
					inst.WaitsOn = append([]InstanceID{}, crossWaits...)
				} else {
					inst.WaitsOn = append([]InstanceID{}, prevSubStage...)
				}
				p := &pending{inst: inst, dropped: dropped}
				order = append(order, p)
				byID[id] = p
				current = append(current, id)
			}
			prevSubStage = current
		}
		lastSubStage[c.Name] = prevSubStage
	}

	// Splice wait edges through dropped instances.
	var resolve func(ids []InstanceID, seen map[InstanceID]bool) []InstanceID
	resolve = func(ids []InstanceID, seen map[InstanceID]bool) []InstanceID {
		var resolved []InstanceID
		appended := map[InstanceID]bool{}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			p, ok := byID[id]
			if !ok {
				continue
			}
			if !p.dropped {
				if !appended[id] {
					appended[id] = true
					resolved = append(resolved, id)
				}
				continue
			}
			seen[id] = true
			for _, upstream := range resolve(p.inst.WaitsOn, seen) {
				if !appended[upstream] {
					appended[upstream] = true
					resolved = append(resolved, upstream)
				}
			}
		}
		return resolved
	}
	var out []*GoalInstance
	for _, p := range order {
		if p.dropped {
			continue
		}
		p.inst.WaitsOn = resolve(p.inst.WaitsOn, map[InstanceID]bool{p.inst.ID: true})
		out = append(out, p.inst)
	}
	return out, nil
}

func filterContainers(spec contribution.GoalSpec, ctx push.Context, view predicate.GoalStateView) ([]contribution.Container, bool, error) {
	kept := make([]contribution.Container, 0, len(spec.Containers))
	for _, container := range spec.Containers {
		if container.Test != nil {
			ok, err := predicate.Evaluate(*container.Test, ctx, view)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
		}
		kept = append(kept, container)
	}
	return kept, len(kept) == 0, nil
}

func instanceID(contributionName, goalName string, used map[InstanceID]int) InstanceID {
	base := InstanceID(contributionName + "/" + goalName)
	used[base]++
	if used[base] == 1 {
		return base
	}
	return InstanceID(fmt.Sprintf("%s#%d", base, used[base]))
}
