// Package contribution holds the set of named goal contributions for one
// configuration: a (test, goals, depends_on) triple per contribution plus
// the container goal specs those contributions instantiate.
package contribution

import (
	"fmt"
	"strings"

	"github.com/gantryci/gantry/internal/predicate"
)

// VolumeMount binds a named volume into a container.
type VolumeMount struct {
	Name      string `json:"name" yaml:"name"`
	MountPath string `json:"mount_path" yaml:"mount_path"`
}

// SecretBinding exposes an already-decrypted secret to a container env var.
type SecretBinding struct {
	Name string `json:"name" yaml:"name"`
	Env  string `json:"env" yaml:"env"`
}

// Container is one container definition inside a goal.
type Container struct {
	Name    string            `json:"name" yaml:"name"`
	Image   string            `json:"image" yaml:"image"`
	Command []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Ports   []int             `json:"ports,omitempty" yaml:"ports,omitempty"`
	Volumes []VolumeMount     `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Secrets []SecretBinding   `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	// Test optionally disables the container for pushes it does not match.
	Test *predicate.Node `json:"test,omitempty" yaml:"test,omitempty"`
}

// CacheOutput persists files matching Pattern under a cache classifier
// once the owning goal succeeds.
type CacheOutput struct {
	Classifier string `json:"classifier" yaml:"classifier"`
	Pattern    string `json:"pattern" yaml:"pattern"`
}

// GoalSpec is one schedulable container goal plus its cross-cutting
// settings.
type GoalSpec struct {
	Name       string      `json:"name" yaml:"name"`
	Containers []Container `json:"containers" yaml:"containers"`

	// Input lists cache classifiers to restore before execution.
	Input []string `json:"input,omitempty" yaml:"input,omitempty"`
	// Output lists cache classifiers to persist after success.
	Output []CacheOutput `json:"output,omitempty" yaml:"output,omitempty"`

	Approval    bool `json:"approval,omitempty" yaml:"approval,omitempty"`
	PreApproval bool `json:"pre_approval,omitempty" yaml:"pre_approval,omitempty"`
	Retry       bool `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Descriptions overrides the rendered label per lifecycle state.
	Descriptions map[string]string `json:"descriptions,omitempty" yaml:"descriptions,omitempty"`
}

// Contribution is a named conditional goal source. An empty Test slice
// means the contribution always applies; a non-empty slice is evaluated
// as a conjunction.
type Contribution struct {
	Name      string           `json:"name" yaml:"name"`
	Test      []predicate.Node `json:"test,omitempty" yaml:"test,omitempty"`
	DependsOn []string         `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Goals     []Unit           `json:"goals" yaml:"goals"`
}

// TestNode folds the bare test list into a single predicate node, or nil
// when the contribution is unconditional.
func (c Contribution) TestNode() *predicate.Node {
	switch len(c.Test) {
	case 0:
		return nil
	case 1:
		node := c.Test[0]
		return &node
	default:
		node := predicate.And(c.Test...)
		return &node
	}
}

// Registry is the pure data holder for one configuration's contributions,
// preserved in declaration order.
type Registry struct {
	ordered []Contribution
	byName  map[string]int
}

// NewRegistry validates contribution names and dependency references.
// Unresolved depends_on targets are rejected here, before any push is
// compiled against the registry.
func NewRegistry(contribs []Contribution) (*Registry, error) {
	byName := make(map[string]int, len(contribs))
	ordered := make([]Contribution, 0, len(contribs))
	for i, c := range contribs {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("contribution: entry %d has no name", i)
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("contribution: duplicate name %q", name)
		}
		if len(c.Goals) == 0 {
			return nil, fmt.Errorf("contribution %q: no goals declared", name)
		}
		c.Name = name
		byName[name] = len(ordered)
		ordered = append(ordered, c)
	}
	for _, c := range ordered {
		for _, dep := range c.DependsOn {
			if dep == c.Name {
				return nil, fmt.Errorf("contribution %q: depends on itself", c.Name)
			}
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("contribution %q: depends on unknown contribution %q", c.Name, dep)
			}
		}
	}
	return &Registry{ordered: ordered, byName: byName}, nil
}

// All returns the contributions in declaration order.
func (r *Registry) All() []Contribution {
	out := make([]Contribution, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Get retrieves a contribution by name.
func (r *Registry) Get(name string) (Contribution, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Contribution{}, false
	}
	return r.ordered[idx], true
}

// Index returns a contribution's declaration position.
func (r *Registry) Index(name string) (int, bool) {
	idx, ok := r.byName[name]
	return idx, ok
}

// Len reports how many contributions the registry holds.
func (r *Registry) Len() int { return len(r.ordered) }
