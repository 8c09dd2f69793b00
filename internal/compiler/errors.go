package compiler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCyclicDependency reports a depends_on cycle among selected
	// contributions.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrUnresolvedDependency reports a depends_on list none of whose
	// targets survived selection.
	ErrUnresolvedDependency = errors.New("unresolved dependency")
)

// CompileError wraps deterministic compilation failures. The affected
// goal set produces no instances; other goal sets are unaffected.
type CompileError struct {
	Kind error
	Msg  string
}

func (e *CompileError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *CompileError) Unwrap() error { return e.Kind }

func cyclicError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &CompileError{Kind: ErrCyclicDependency, Msg: msg}
}

func unresolvedf(format string, args ...any) error {
	return &CompileError{Kind: ErrUnresolvedDependency, Msg: fmt.Sprintf(format, args...)}
}
