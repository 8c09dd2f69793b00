package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	gantryDir := filepath.Join(projectDir, ".gantry")
	if err := os.MkdirAll(gantryDir, 0755); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, GantryProjectDir: gantryDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.Project.Engine.RetryBudget != defaultRetryBudget {
		t.Fatalf("expected default retry budget, got %d", c.Project.Engine.RetryBudget)
	}
	if c.Project.View.Retention.Std() != defaultViewRetention {
		t.Fatalf("expected default retention, got %v", c.Project.View.Retention.Std())
	}
	if c.BridgeAddr() != "127.0.0.1:7420" {
		t.Fatalf("unexpected bridge addr %s", c.BridgeAddr())
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	gantryDir := filepath.Join(projectDir, ".gantry")
	if err := os.MkdirAll(gantryDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
engine:
  retry_budget: 3
view:
  retention: 48h
  max_entries: 128
bridge:
  host: 0.0.0.0
  port: 9000
contributions:
  - ci/contributions.yaml
`)
	if err := os.WriteFile(filepath.Join(gantryDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, GantryProjectDir: gantryDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.Project.Engine.RetryBudget != 3 {
		t.Fatalf("expected retry budget 3, got %d", c.Project.Engine.RetryBudget)
	}
	if c.Project.View.Retention.Std() != 48*time.Hour {
		t.Fatalf("expected 48h retention, got %v", c.Project.View.Retention.Std())
	}
	if c.BridgeAddr() != "0.0.0.0:9000" {
		t.Fatalf("unexpected bridge addr %s", c.BridgeAddr())
	}
	paths := c.ContributionPaths()
	if len(paths) != 1 || !strings.HasPrefix(paths[0], projectDir) {
		t.Fatalf("expected manifest path resolved against project dir, got %v", paths)
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	projectDir := t.TempDir()
	gantryDir := filepath.Join(projectDir, ".gantry")
	if err := os.MkdirAll(gantryDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
bridge:
  port: 70000
`)
	if err := os.WriteFile(filepath.Join(gantryDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, GantryProjectDir: gantryDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err == nil {
		t.Fatalf("expected validation error but got none")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitGantryDir(projectDir); err != nil {
		t.Fatalf("init gantry dir: %v", err)
	}
	t.Setenv("GANTRY_RETRY_BUDGET", "5")
	t.Setenv("GANTRY_VIEW_RETENTION", "1h")
	t.Setenv("GANTRY_BRIDGE_PORT", "9100")
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if c.Project.Engine.RetryBudget != 5 {
		t.Fatalf("expected env retry budget 5, got %d", c.Project.Engine.RetryBudget)
	}
	if c.Project.View.Retention.Std() != time.Hour {
		t.Fatalf("expected env retention 1h, got %v", c.Project.View.Retention.Std())
	}
	if c.Project.Bridge.Port != 9100 {
		t.Fatalf("expected env port 9100, got %d", c.Project.Bridge.Port)
	}
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitGantryDir(projectDir); err != nil {
		t.Fatalf("init gantry dir: %v", err)
	}
	t.Setenv("GANTRY_RETRY_BUDGET", "many")
	if _, err := NewConfig(projectDir); err == nil {
		t.Fatalf("expected error for invalid env override")
	}
}

func TestInitGantryDirIsIdempotent(t *testing.T) {
	projectDir := t.TempDir()
	for i := 0; i < 2; i++ {
		if err := InitGantryDir(projectDir); err != nil {
			t.Fatalf("init pass %d: %v", i, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(projectDir, ".gantry", "config.yaml"))
	if err != nil {
		t.Fatalf("read default config: %v", err)
	}
	if !strings.Contains(string(data), "retry_budget") {
		t.Fatalf("expected default config scaffold, got:\n%s", data)
	}
}
