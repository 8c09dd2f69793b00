package push

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource is a FileSource backed by a directory on disk. Paths are
// slash-separated and relative to the root. Dot-directories (.git,
// .gantry) are invisible to Glob.
type DirSource struct {
	root string
}

// NewDirSource creates a file source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: filepath.Clean(dir)}
}

func (d *DirSource) resolve(p string) (string, error) {
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || path.IsAbs(cleaned) {
		return "", fmt.Errorf("push: path %q escapes the repository root", p)
	}
	return filepath.Join(d.root, filepath.FromSlash(cleaned)), nil
}

// Exists implements FileSource.
func (d *DirSource) Exists(p string) (bool, error) {
	resolved, err := d.resolve(p)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// Content implements FileSource.
func (d *DirSource) Content(p string) ([]byte, error) {
	resolved, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("push: read %q: %w", p, err)
	}
	return body, nil
}

// Glob implements FileSource with path.Match semantics against the full
// relative path, mirroring Snapshot.Glob.
func (d *DirSource) Glob(pattern string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(d.root, func(walked string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(d.root, walked)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if entry.IsDir() {
			if rel != "." && strings.HasPrefix(path.Base(rel), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if rel == pattern {
			matches = append(matches, rel)
			return nil
		}
		ok, matchErr := path.Match(pattern, rel)
		if matchErr != nil {
			return fmt.Errorf("push: bad glob %q: %w", pattern, matchErr)
		}
		if ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
