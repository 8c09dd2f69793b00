package scheduler

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ErrSnapshotNotFound is returned when no persisted run snapshot exists.
var ErrSnapshotNotFound = errors.New("scheduler: snapshot not found")

// StateStore persists run snapshots.
type StateStore interface {
	Load(runID string) (Snapshot, error)
	Save(Snapshot) error
	List() ([]Snapshot, error)
}

// Repository stores one JSON snapshot per run under a state directory.
type Repository struct {
	dir string
}

// NewRepository creates a repository rooted at the given directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

func (r *Repository) path(runID string) string {
	return filepath.Join(r.dir, runID+".json")
}

// Load reads one run's persisted snapshot if present.
func (r *Repository) Load(runID string) (Snapshot, error) {
	data, err := os.ReadFile(r.path(runID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Save writes the snapshot to disk with best-effort atomicity.
func (r *Repository) Save(snap Snapshot) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path(snap.RunID), append(encoded, '\n'), 0o644)
}

// List returns every persisted snapshot, newest first.
func (r *Repository) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		runID := entry.Name()[:len(entry.Name())-len(".json")]
		snap, err := r.Load(runID)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].UpdatedAt.After(snaps[j].UpdatedAt)
	})
	return snaps, nil
}
