// Package push models the immutable snapshot of a repository push that
// drives goal-set compilation. A Context is created once per incoming
// event and is read-only for the lifetime of one compilation.
package push

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// RepoID identifies a repository across schedulers.
type RepoID struct {
	Owner string `json:"owner" yaml:"owner"`
	Name  string `json:"name" yaml:"name"`
}

// String renders the canonical owner/name form.
func (r RepoID) String() string {
	return r.Owner + "/" + r.Name
}

// FileSource answers file queries against a repository revision. It is
// provided by an external collaborator; Snapshot is the in-memory
// implementation used by tests and the CLI.
type FileSource interface {
	// Exists reports whether path exists at the snapshot revision.
	Exists(path string) (bool, error)
	// Content returns the file body at the snapshot revision.
	Content(path string) ([]byte, error)
	// Glob returns the paths matching a slash-separated glob pattern.
	Glob(pattern string) ([]string, error)
}

// Context is the read-only push descriptor consumed by the predicate
// evaluator and the compiler.
type Context struct {
	Repo          RepoID
	Branch        string
	Revision      string
	DefaultBranch string
	Changed       []string
	Files         FileSource
}

// IsDefaultBranch reports whether the push landed on the repository's
// configured default branch.
func (c Context) IsDefaultBranch() bool {
	return c.Branch != "" && c.Branch == c.DefaultBranch
}

// Validate enforces the minimum fields a push must carry before it can be
// compiled.
func (c Context) Validate() error {
	if strings.TrimSpace(c.Repo.Owner) == "" || strings.TrimSpace(c.Repo.Name) == "" {
		return fmt.Errorf("push: repository identity is required")
	}
	if strings.TrimSpace(c.Branch) == "" {
		return fmt.Errorf("push: branch is required")
	}
	if c.Files == nil {
		return fmt.Errorf("push: file source is required")
	}
	return nil
}

// Snapshot is an in-memory FileSource keyed by slash-separated paths.
type Snapshot struct {
	files map[string]string
}

// NewSnapshot copies the provided path -> content mapping.
func NewSnapshot(files map[string]string) *Snapshot {
	copied := make(map[string]string, len(files))
	for p, body := range files {
		copied[path.Clean(p)] = body
	}
	return &Snapshot{files: copied}
}

// Exists implements FileSource.
func (s *Snapshot) Exists(p string) (bool, error) {
	_, ok := s.files[path.Clean(p)]
	return ok, nil
}

// Content implements FileSource.
func (s *Snapshot) Content(p string) ([]byte, error) {
	body, ok := s.files[path.Clean(p)]
	if !ok {
		return nil, fmt.Errorf("push: no such file %q", p)
	}
	return []byte(body), nil
}

// Glob implements FileSource. Patterns follow path.Match semantics and are
// matched against the full slash-separated path; an exact path is always
// its own match.
func (s *Snapshot) Glob(pattern string) ([]string, error) {
	var matches []string
	for p := range s.files {
		if p == pattern {
			matches = append(matches, p)
			continue
		}
		ok, err := path.Match(pattern, p)
		if err != nil {
			return nil, fmt.Errorf("push: bad glob %q: %w", pattern, err)
		}
		if ok {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	return matches, nil
}
