package logbook

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestNilLogbookIsSafe(t *testing.T) {
	var book *Logbook
	book.Info("ignored")
	book.Warn("ignored")
	book.Error("ignored")
	if lines, total := book.Tail(10); lines != nil || total != 0 {
		t.Fatalf("expected empty tail from nil logbook")
	}
	if book.Path() != "" {
		t.Fatalf("expected empty path from nil logbook")
	}
}

func TestScopedEntriesCarryComponent(t *testing.T) {
	dir := t.TempDir()
	book, err := New(filepath.Join(dir, "engine.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	defer book.Close()
	scope := book.Scoped("scheduler")
	scope.Info("dispatching wave 2")
	scope.Printf("retrying build")
	lines, total := book.Tail(2)
	if total != 2 {
		t.Fatalf("total lines = %d, want 2", total)
	}
	for _, line := range lines {
		if !strings.Contains(line, "[scheduler]") {
			t.Fatalf("expected component marker in %q", line)
		}
	}
	var nilBook *Logbook
	nilBook.Scoped("bridge").Error("ignored")
}

func TestCloseThenWriteReopens(t *testing.T) {
	dir := t.TempDir()
	book, err := New(filepath.Join(dir, "engine.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Info("before close")
	if err := book.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	book.Info("after close")
	defer book.Close()
	if _, total := book.Tail(10); total != 2 {
		t.Fatalf("expected both entries, got %d", total)
	}
}

func TestLevelsAppearInEntries(t *testing.T) {
	dir := t.TempDir()
	book, err := New(filepath.Join(dir, "engine.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Warn("disk pressure")
	book.Error("dispatch refused")
	lines, _ := book.Tail(2)
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "WARN") || !strings.Contains(lines[1], "ERROR") {
		t.Fatalf("expected level markers, got %v", lines)
	}
}
