// Package statebus carries goal-state events between schedulers: a
// publish/subscribe bus with duplicate suppression, a bounded
// observed-state view, and the listener that re-triggers compilation when
// an is_goal predicate's target reaches a terminal state.
package statebus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/push"
)

// EventSchemaVersion is the currently supported goal-state event version.
const EventSchemaVersion = 1

// Terminal lifecycle states as they appear on the wire.
const (
	StateSuccess  = "success"
	StateFailed   = "failed"
	StateStopped  = "stopped"
	StateCanceled = "canceled"
)

// IsTerminalState reports whether a wire state ends a goal's lifecycle.
func IsTerminalState(state string) bool {
	switch state {
	case StateSuccess, StateFailed, StateStopped, StateCanceled:
		return true
	default:
		return false
	}
}

// ApprovalMetadata records the operator action behind an approval-driven
// transition.
type ApprovalMetadata struct {
	Kind  string    `json:"kind"`
	Actor string    `json:"actor,omitempty"`
	At    time.Time `json:"at"`
}

// Event is one goal lifecycle transition published by a scheduler. Every
// field listed in Validate is mandatory; the stream is append-only per
// repository.
type Event struct {
	Version   int               `json:"version"`
	EventID   string            `json:"event_id"`
	GoalSet   string            `json:"goal_set"`
	Goal      string            `json:"goal"`
	Repo      push.RepoID       `json:"repo"`
	Revision  string            `json:"revision"`
	State     string            `json:"state"`
	Timestamp time.Time         `json:"timestamp"`
	// Description carries the per-state label override when configured.
	Description string            `json:"description,omitempty"`
	Approval    *ApprovalMetadata `json:"approval,omitempty"`

	// PushContext is populated for locally published events so nested
	// is_goal tests can evaluate against the goal's own push. It does not
	// travel over the wire.
	PushContext *push.Context `json:"-"`
}

// Normalize applies canonical formatting before validation.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.GoalSet = strings.TrimSpace(e.GoalSet)
	e.Goal = strings.TrimSpace(e.Goal)
	e.State = strings.TrimSpace(e.State)
	e.Revision = strings.TrimSpace(e.Revision)
}

// StampTimestamp fills a missing timestamp with the supplied clock (UTC).
func (e *Event) StampTimestamp(now time.Time) {
	if e == nil || !e.Timestamp.IsZero() {
		return
	}
	if now.IsZero() {
		now = time.Now()
	}
	e.Timestamp = now.UTC()
}

// Validate enforces the minimum observable-state contract.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.Goal == "" {
		return errors.New("goal is required")
	}
	if e.Repo.Owner == "" || e.Repo.Name == "" {
		return errors.New("repo identity is required")
	}
	if e.Revision == "" {
		return errors.New("revision is required")
	}
	if e.State == "" {
		return errors.New("state is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// Logger records bus diagnostics. It matches logbook.Logbook's Printf
// style helpers.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
