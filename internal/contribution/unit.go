package contribution

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Unit is one node of a contribution's goal tree: either a single
// container goal or a nested group. The top-level Goals slice of a
// contribution is sequential; a group one nesting level down runs its
// members in parallel; a group nested inside a parallel group is
// sequential again, alternating with depth.
type Unit struct {
	Goal  *GoalSpec `json:"goal,omitempty" yaml:"goal,omitempty"`
	Group []Unit    `json:"group,omitempty" yaml:"group,omitempty"`
}

// GoalUnit wraps a single goal spec.
func GoalUnit(spec GoalSpec) Unit {
	return Unit{Goal: &spec}
}

// GroupUnit wraps a nested unit group.
func GroupUnit(units ...Unit) Unit {
	return Unit{Group: units}
}

// Validate rejects units that carry both or neither representation.
func (u Unit) Validate() error {
	if u.Goal != nil && len(u.Group) > 0 {
		return fmt.Errorf("contribution: unit cannot be both goal and group")
	}
	if u.Goal == nil && len(u.Group) == 0 {
		return fmt.Errorf("contribution: empty unit")
	}
	if u.Goal != nil {
		if u.Goal.Name == "" {
			return fmt.Errorf("contribution: goal requires a name")
		}
		if len(u.Goal.Containers) == 0 {
			return fmt.Errorf("contribution: goal %q has no containers", u.Goal.Name)
		}
	}
	for _, child := range u.Group {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalYAML accepts either a goal mapping or a nested sequence, so
// fixtures can write the natural `[[a, b], c]` shape.
func (u *Unit) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var group []Unit
		if err := value.Decode(&group); err != nil {
			return err
		}
		u.Goal = nil
		u.Group = group
		return nil
	case yaml.MappingNode:
		var spec GoalSpec
		if err := value.Decode(&spec); err != nil {
			return err
		}
		u.Goal = &spec
		u.Group = nil
		return nil
	default:
		return fmt.Errorf("contribution: unit must be a goal mapping or a sequence (line %d)", value.Line)
	}
}
