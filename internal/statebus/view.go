package statebus

import (
	"sort"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/predicate"
	"github.com/gantryci/gantry/internal/push"
)

const (
	// DefaultRetention bounds how long a terminal observation stays
	// visible to is_goal predicates.
	DefaultRetention = 24 * time.Hour
	// DefaultMaxEntries bounds the observed-state map by count; the
	// oldest observations are evicted first.
	DefaultMaxEntries = 4096
)

type viewEntry struct {
	goal      string
	repo      push.RepoID
	state     string
	timestamp time.Time
	push      *push.Context
}

// View is the process-wide observed goal-state map consumed by is_goal
// predicates. It keeps the most recent terminal state per (repository,
// goal), bounded by a retention window and a maximum entry count.
//
// Readers are safe concurrently; appends must come from a single writer
// per incoming event, which Apply serializes internally.
type View struct {
	mu         sync.RWMutex
	retention  time.Duration
	maxEntries int
	clock      func() time.Time
	entries    map[string]viewEntry
}

// ViewOption customizes View construction.
type ViewOption func(*View)

// WithRetention overrides the observation retention window.
func WithRetention(d time.Duration) ViewOption {
	return func(v *View) {
		if d > 0 {
			v.retention = d
		}
	}
}

// WithMaxEntries overrides the observation count bound.
func WithMaxEntries(n int) ViewOption {
	return func(v *View) {
		if n > 0 {
			v.maxEntries = n
		}
	}
}

// WithViewClock injects a deterministic clock for tests.
func WithViewClock(clock func() time.Time) ViewOption {
	return func(v *View) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// NewView constructs an empty observed-state view.
func NewView(opts ...ViewOption) *View {
	v := &View{
		retention:  DefaultRetention,
		maxEntries: DefaultMaxEntries,
		clock:      time.Now,
		entries:    map[string]viewEntry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func viewKey(repo push.RepoID, goal string) string {
	return repo.String() + "\x00" + goal
}

// Apply records a terminal goal-state event. Non-terminal states are
// ignored, as are events older than the retained observation for the same
// (repository, goal) key: last-write-wins by timestamp. The return value
// reports whether the view changed.
func (v *View) Apply(e Event) bool {
	if !IsTerminalState(e.State) {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	key := viewKey(e.Repo, e.Goal)
	if existing, ok := v.entries[key]; ok {
		if !e.Timestamp.After(existing.timestamp) {
			return false
		}
	}
	v.entries[key] = viewEntry{
		goal:      e.Goal,
		repo:      e.Repo,
		state:     e.State,
		timestamp: e.Timestamp,
		push:      e.PushContext,
	}
	v.evictLocked()
	return true
}

// evictLocked drops expired observations and trims the map to the count
// bound, oldest first.
func (v *View) evictLocked() {
	cutoff := v.clock().Add(-v.retention)
	for key, entry := range v.entries {
		if entry.timestamp.Before(cutoff) {
			delete(v.entries, key)
		}
	}
	if len(v.entries) <= v.maxEntries {
		return
	}
	keys := make([]string, 0, len(v.entries))
	for key := range v.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return v.entries[keys[i]].timestamp.Before(v.entries[keys[j]].timestamp)
	})
	for _, key := range keys[:len(v.entries)-v.maxEntries] {
		delete(v.entries, key)
	}
}

// Observations implements predicate.GoalStateView. Results are ordered by
// (repository, goal) so evaluation stays deterministic.
func (v *View) Observations() []predicate.GoalObservation {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.entries))
	for key := range v.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]predicate.GoalObservation, 0, len(keys))
	for _, key := range keys {
		entry := v.entries[key]
		obs := predicate.GoalObservation{
			Goal:  entry.goal,
			Repo:  entry.repo,
			State: entry.state,
		}
		if entry.push != nil {
			obs.Push = *entry.push
			obs.HasPush = true
		}
		out = append(out, obs)
	}
	return out
}

// Len reports how many observations the view currently retains.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}
