package push

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestContextValidate(t *testing.T) {
	ctx := Context{
		Repo:     RepoID{Owner: "acme", Name: "widgets"},
		Branch:   "main",
		Revision: "abc123",
		Files:    NewSnapshot(nil),
	}
	if err := ctx.Validate(); err != nil {
		t.Fatalf("expected valid context, got %v", err)
	}
	missingRepo := ctx
	missingRepo.Repo = RepoID{}
	if err := missingRepo.Validate(); err == nil {
		t.Fatalf("expected error for missing repo identity")
	}
	missingFiles := ctx
	missingFiles.Files = nil
	if err := missingFiles.Validate(); err == nil {
		t.Fatalf("expected error for missing file source")
	}
}

func TestIsDefaultBranch(t *testing.T) {
	ctx := Context{Branch: "main", DefaultBranch: "main"}
	if !ctx.IsDefaultBranch() {
		t.Fatalf("expected default branch match")
	}
	ctx.Branch = "feature/x"
	if ctx.IsDefaultBranch() {
		t.Fatalf("expected non-default branch")
	}
	if (Context{}).IsDefaultBranch() {
		t.Fatalf("empty branches must not count as default")
	}
}

func TestSnapshotGlobMatchesFullPath(t *testing.T) {
	snap := NewSnapshot(map[string]string{
		"package.json":     "{}",
		"src/index.ts":     "",
		"src/util.ts":      "",
		"docs/readme.md":   "",
		"deploy/chart.yml": "",
	})
	matches, err := snap.Glob("src/*.ts")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if !reflect.DeepEqual(matches, []string{"src/index.ts", "src/util.ts"}) {
		t.Fatalf("unexpected matches %v", matches)
	}
	exact, err := snap.Glob("package.json")
	if err != nil {
		t.Fatalf("glob exact: %v", err)
	}
	if !reflect.DeepEqual(exact, []string{"package.json"}) {
		t.Fatalf("expected exact path match, got %v", exact)
	}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDirSourceAnswersQueries(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"package.json":    `{"name": "widgets"}`,
		"src/index.ts":    "export {}",
		".git/HEAD":       "ref: refs/heads/main",
		".gantry/ignored": "x",
	})
	src := NewDirSource(root)

	ok, err := src.Exists("package.json")
	if err != nil || !ok {
		t.Fatalf("expected package.json to exist, got %v %v", ok, err)
	}
	ok, err = src.Exists("missing.txt")
	if err != nil || ok {
		t.Fatalf("expected missing.txt to be absent, got %v %v", ok, err)
	}
	body, err := src.Content("package.json")
	if err != nil || string(body) != `{"name": "widgets"}` {
		t.Fatalf("unexpected content %q %v", body, err)
	}
	matches, err := src.Glob("src/*.ts")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if !reflect.DeepEqual(matches, []string{"src/index.ts"}) {
		t.Fatalf("unexpected matches %v", matches)
	}
	// Dot-directories are invisible.
	hidden, err := src.Glob("*/HEAD")
	if err != nil {
		t.Fatalf("glob hidden: %v", err)
	}
	if len(hidden) != 0 {
		t.Fatalf("expected dot dirs skipped, got %v", hidden)
	}
}

func TestDirSourceRejectsEscapes(t *testing.T) {
	src := NewDirSource(t.TempDir())
	if _, err := src.Exists("../etc/passwd"); err == nil {
		t.Fatalf("expected error for escaping path")
	}
	if _, err := src.Content("/etc/passwd"); err == nil {
		t.Fatalf("expected error for absolute path")
	}
}
