package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/compiler"
	"github.com/gantryci/gantry/internal/scheduler"
)

// SimulatedBackend stands in for a real container runtime in dry-run and
// development modes: every dispatch reports success after a fixed delay,
// unless canceled first.
type SimulatedBackend struct {
	// Delay before the simulated result is reported. Zero reports
	// synchronously.
	Delay time.Duration

	mu       sync.Mutex
	canceled map[string]bool
}

// NewSimulatedBackend builds a backend reporting success after delay.
func NewSimulatedBackend(delay time.Duration) *SimulatedBackend {
	return &SimulatedBackend{Delay: delay, canceled: map[string]bool{}}
}

func (b *SimulatedBackend) key(goalSet string, instance compiler.InstanceID) string {
	return goalSet + "\x00" + string(instance)
}

// Run implements scheduler.Backend.
func (b *SimulatedBackend) Run(ctx context.Context, req scheduler.RunRequest, report func(scheduler.RunResult)) error {
	finish := func() {
		b.mu.Lock()
		skip := b.canceled[b.key(req.GoalSet, req.Instance)]
		b.mu.Unlock()
		if skip {
			return
		}
		report(scheduler.RunResult{Outcome: scheduler.OutcomeSuccess})
	}
	if b.Delay <= 0 {
		finish()
		return nil
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(b.Delay):
			finish()
		}
	}()
	return nil
}

// Cancel implements scheduler.Backend.
func (b *SimulatedBackend) Cancel(_ context.Context, goalSet string, instance compiler.InstanceID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled[b.key(goalSet, instance)] = true
}
