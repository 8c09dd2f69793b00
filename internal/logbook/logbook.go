// Package logbook persists engine progress to a plain text journal, one
// line per entry. The watch surfaces tail it to show recent activity.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook writes timestamped entries to a single append-only file. The
// file is opened lazily on first write and held until Close. The
// zero-value nil receiver is safe and discards everything.
type Logbook struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Logbook{path: path}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close releases the underlying file. Writes after Close reopen it.
func (l *Logbook) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// write appends one formatted line. The component column is empty for
// the root logbook and carries the scope name otherwise.
func (l *Logbook) write(level Level, component, message string) {
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, " %-5s ", string(level))
	if component != "" {
		fmt.Fprintf(&b, "[%s] ", component)
	}
	b.WriteString(strings.TrimSpace(message))
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		l.file = file
	}
	_, _ = l.file.WriteString(b.String())
}

// Tail returns up to maxLines of the most recent entries along with the
// total number of entries in the journal.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.write(LevelInfo, "", fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.write(LevelWarn, "", fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.write(LevelError, "", fmt.Sprintf(format, args...))
}

// Printf appends an informational entry. It lets a *Logbook satisfy the
// printf-style logger interfaces used around the engine.
func (l *Logbook) Printf(format string, args ...any) {
	l.Info(format, args...)
}

// Scope is a logbook view that stamps every entry with a component name,
// so callers stop baking the component into each format string.
type Scope struct {
	book      *Logbook
	component string
}

// Scoped returns a component-stamped view of the logbook. A nil receiver
// yields a scope that discards everything.
func (l *Logbook) Scoped(component string) *Scope {
	return &Scope{book: l, component: component}
}

// Info appends an informational entry under the scope's component.
func (s *Scope) Info(format string, args ...any) {
	if s == nil {
		return
	}
	s.book.write(LevelInfo, s.component, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry under the scope's component.
func (s *Scope) Warn(format string, args ...any) {
	if s == nil {
		return
	}
	s.book.write(LevelWarn, s.component, fmt.Sprintf(format, args...))
}

// Error appends an error entry under the scope's component.
func (s *Scope) Error(format string, args ...any) {
	if s == nil {
		return
	}
	s.book.write(LevelError, s.component, fmt.Sprintf(format, args...))
}

// Printf appends an informational entry under the scope's component.
func (s *Scope) Printf(format string, args ...any) {
	s.Info(format, args...)
}
