package scheduler

import (
	"context"

	"github.com/gantryci/gantry/internal/compiler"
	"github.com/gantryci/gantry/internal/contribution"
	"github.com/gantryci/gantry/internal/push"
)

// Outcome is the backend's verdict for one execution attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// RunRequest describes one container goal dispatch.
type RunRequest struct {
	GoalSet  string
	Instance compiler.InstanceID
	Spec     contribution.GoalSpec
	Push     push.Context
}

// RunResult is reported by the backend when an attempt finishes.
type RunResult struct {
	Outcome Outcome
	// OutputBindings carries backend-produced values (image digests,
	// artifact URLs) for downstream consumers.
	OutputBindings map[string]string
	Message        string
}

// Backend executes container goal specs. Run must return promptly after
// dispatch; the result arrives asynchronously through the report
// callback. Cancel asks the backend to stop in-flight work; the lifecycle
// transition to canceled never waits for the backend's acknowledgement.
type Backend interface {
	Run(ctx context.Context, req RunRequest, report func(RunResult)) error
	Cancel(ctx context.Context, goalSet string, instance compiler.InstanceID)
}

// CacheStore restores and persists cache classifiers around goal
// execution. The store itself is an external collaborator; the scheduler
// only sequences restore-then-run-then-persist. A missing classifier on
// restore is "no cache available", never an error.
type CacheStore interface {
	Restore(ctx context.Context, repo push.RepoID, classifiers []string) error
	Persist(ctx context.Context, repo push.RepoID, outputs []contribution.CacheOutput) error
}

// nopCache is used when no cache store is configured.
type nopCache struct{}

func (nopCache) Restore(context.Context, push.RepoID, []string) error {
	return nil
}

func (nopCache) Persist(context.Context, push.RepoID, []contribution.CacheOutput) error {
	return nil
}
