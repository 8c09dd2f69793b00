// Package scheduler drives compiled goal sets through the goal lifecycle
// state machine: stage-ordered dispatch to the execution backend,
// approval gates, retry policy, failure cascades, and cooperative
// cancellation. Every transition is published as a goal-state event.
package scheduler

// State is one goal instance lifecycle state.
type State string

const (
	StatePlanned               State = "planned"
	StateRequested             State = "requested"
	StateWaitingForPreApproval State = "waiting_for_pre_approval"
	StateInProcess             State = "in_process"
	StateWaitingForApproval    State = "waiting_for_approval"
	StateSuccess               State = "success"
	StateFailed                State = "failed"
	StateStopped               State = "stopped"
	StateCanceled              State = "canceled"
)

// Terminal reports whether the state ends an instance's lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateStopped, StateCanceled:
		return true
	default:
		return false
	}
}

// allowedTransition is the single source of truth for the lifecycle
// graph. Retry re-enters requested from in_process so that failed stays
// strictly terminal; canceled is reachable from every non-terminal state.
func allowedTransition(from, to State) bool {
	if to == StateCanceled {
		return !from.Terminal()
	}
	switch from {
	case StatePlanned:
		return to == StateRequested || to == StateStopped
	case StateRequested:
		return to == StateWaitingForPreApproval || to == StateInProcess || to == StateStopped
	case StateWaitingForPreApproval:
		return to == StateInProcess
	case StateInProcess:
		// in_process -> requested is the retry re-entry.
		return to == StateSuccess || to == StateFailed || to == StateWaitingForApproval || to == StateRequested
	case StateWaitingForApproval:
		return to == StateSuccess
	default:
		return false
	}
}
