// Package predicate implements the push-test and goal-test predicate
// trees. Nodes are tagged variants evaluated by an explicit recursive
// evaluator; push tests are pure over a push context, goal tests
// additionally consult an observed goal-state view.
package predicate

import (
	"errors"
	"fmt"

	"github.com/gantryci/gantry/internal/push"
)

// Kind discriminates predicate node variants.
type Kind string

const (
	KindHasFile           Kind = "has_file"
	KindHasFileContaining Kind = "has_file_containing"
	KindIsBranch          Kind = "is_branch"
	KindIsDefaultBranch   Kind = "is_default_branch"
	KindIsMaterialChange  Kind = "is_material_change"
	KindIsGoal            Kind = "is_goal"
	KindAnd               Kind = "and"
	KindOr                Kind = "or"
	KindNot               Kind = "not"
)

// Node is one predicate tree node. Only the fields relevant to its Kind
// are populated; Validate rejects malformed nodes before evaluation.
type Node struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Path names the file for has_file.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Pattern is the has_file_containing glob, the is_branch full-string
	// regular expression, or the is_goal name regular expression.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	// Content is the has_file_containing body regular expression.
	Content string `json:"content,omitempty" yaml:"content,omitempty"`

	// is_material_change criteria. With none given, every change counts.
	Files       []string `json:"files,omitempty" yaml:"files,omitempty"`
	Extensions  []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	Directories []string `json:"directories,omitempty" yaml:"directories,omitempty"`
	Patterns    []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`

	// State is the is_goal terminal state to match.
	State string `json:"state,omitempty" yaml:"state,omitempty"`
	// Test optionally narrows is_goal to observations whose own push
	// context satisfies the nested predicate.
	Test *Node `json:"test,omitempty" yaml:"test,omitempty"`

	// Children holds combinator operands. not takes exactly one child,
	// and/or take one or more.
	Children []Node `json:"children,omitempty" yaml:"children,omitempty"`
}

// ErrInvalidPredicate is the sentinel wrapped by every InvalidPredicateError.
var ErrInvalidPredicate = errors.New("invalid predicate")

// InvalidPredicateError reports a malformed predicate node.
type InvalidPredicateError struct {
	Msg string
}

func (e *InvalidPredicateError) Error() string {
	if e == nil || e.Msg == "" {
		return ErrInvalidPredicate.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidPredicate.Error(), e.Msg)
}

func (e *InvalidPredicateError) Unwrap() error { return ErrInvalidPredicate }

func invalidf(format string, args ...any) error {
	return &InvalidPredicateError{Msg: fmt.Sprintf(format, args...)}
}

// HasFile builds a has_file leaf.
func HasFile(path string) Node {
	return Node{Kind: KindHasFile, Path: path}
}

// HasFileContaining builds a has_file_containing leaf.
func HasFileContaining(glob, content string) Node {
	return Node{Kind: KindHasFileContaining, Pattern: glob, Content: content}
}

// IsBranch builds an is_branch leaf.
func IsBranch(pattern string) Node {
	return Node{Kind: KindIsBranch, Pattern: pattern}
}

// IsDefaultBranch builds an is_default_branch leaf.
func IsDefaultBranch() Node {
	return Node{Kind: KindIsDefaultBranch}
}

// IsGoal builds an is_goal leaf matching goal name and terminal state.
func IsGoal(namePattern, state string) Node {
	return Node{Kind: KindIsGoal, Pattern: namePattern, State: state}
}

// And builds a conjunction over one or more children.
func And(children ...Node) Node {
	return Node{Kind: KindAnd, Children: children}
}

// Or builds a disjunction over one or more children.
func Or(children ...Node) Node {
	return Node{Kind: KindOr, Children: children}
}

// Not negates a single child.
func Not(child Node) Node {
	return Node{Kind: KindNot, Children: []Node{child}}
}

// GoalObservation is one externally observed goal completion, as exposed
// by the goal-state view.
type GoalObservation struct {
	Goal  string
	Repo  push.RepoID
	State string
	// Push carries the observed goal's own push context when the
	// publishing scheduler shared it; HasPush guards the zero value.
	Push    push.Context
	HasPush bool
}

// GoalStateView exposes the observations an is_goal predicate may match.
// The statebus package provides the process-wide implementation.
type GoalStateView interface {
	Observations() []GoalObservation
}

// emptyView satisfies GoalStateView when no listener is attached.
type emptyView struct{}

func (emptyView) Observations() []GoalObservation { return nil }
