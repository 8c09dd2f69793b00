// Package config handles runtime configuration and the .gantry directory
// structure. Every repository driven by gantry gets a .gantry/ folder in
// its root holding config, contribution manifests, state and logs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// GantryDir is the name of the directory created in each repository.
	GantryDir = ".gantry"

	defaultRetryBudget    = 1
	defaultViewRetention  = 24 * time.Hour
	defaultViewMaxEntries = 4096
	defaultBridgeHost     = "127.0.0.1"
	defaultBridgePort     = 7420
	defaultMaxBodyBytes   = 1 << 20
)

const defaultProjectConfigYAML = `# gantry project configuration
version: 1

engine:
  # Redispatches granted to retry-flagged goals after the first failure.
  retry_budget: 1

view:
  # How long terminal goal observations stay visible to is_goal tests.
  retention: 24h
  max_entries: 4096

bridge:
  host: 127.0.0.1
  port: 7420

# Contribution manifests to load, relative to the repository root.
contributions:
  - contributions.yaml
`

// Duration wraps time.Duration so config files can use "24h" notation.
type Duration time.Duration

// UnmarshalYAML decodes "24h"-style strings and bare nanosecond counts.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML encodes the duration back to "24h"-style notation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// EngineConfig holds scheduler tuning.
type EngineConfig struct {
	RetryBudget int `yaml:"retry_budget"`
}

// ViewConfig bounds the goal-state view.
type ViewConfig struct {
	Retention  Duration `yaml:"retention"`
	MaxEntries int      `yaml:"max_entries"`
}

// BridgeConfig configures the HTTP event bridge.
type BridgeConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	MaxBodyBytes int64  `yaml:"max_body_bytes,omitempty"`
}

// ProjectConfig models .gantry/config.yaml.
type ProjectConfig struct {
	Version       int          `yaml:"version"`
	Engine        EngineConfig `yaml:"engine"`
	View          ViewConfig   `yaml:"view"`
	Bridge        BridgeConfig `yaml:"bridge"`
	Contributions []string     `yaml:"contributions"`
}

// Config holds the resolved runtime configuration.
type Config struct {
	// ProjectDir is the repository root gantry was launched from.
	ProjectDir string

	// GantryProjectDir is ProjectDir/.gantry.
	GantryProjectDir string

	Project ProjectConfig
}

// InitGantryDir creates the .gantry directory structure and a default
// config.yaml if none exists.
func InitGantryDir(projectDir string) error {
	gantryDir := filepath.Join(projectDir, GantryDir)
	dirs := []string{
		filepath.Join(gantryDir, "logs"),
		filepath.Join(gantryDir, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(gantryDir, "config.yaml"))
}

// NewConfig loads the project configuration, applying defaults for any
// missing file or field and GANTRY_* environment overrides on top.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:       projectDir,
		GantryProjectDir: filepath.Join(projectDir, GantryDir),
		Project:          defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.GantryProjectDir, "logs")
}

// LogPath returns the engine journal location.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogsDir(), "engine.log")
}

// StateDir returns the directory holding persisted run snapshots.
func (c *Config) StateDir() string {
	return filepath.Join(c.GantryProjectDir, "state")
}

// ProjectConfigPath returns the on-disk location of the config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.GantryProjectDir, "config.yaml")
}

// BridgeAddr returns the host:port the event bridge listens on.
func (c *Config) BridgeAddr() string {
	return fmt.Sprintf("%s:%d", c.Project.Bridge.Host, c.Project.Bridge.Port)
}

// ContributionPaths returns the configured manifest paths resolved
// against the repository root.
func (c *Config) ContributionPaths() []string {
	paths := make([]string, 0, len(c.Project.Contributions))
	for _, p := range c.Project.Contributions {
		paths = append(paths, resolvePath(c.ProjectDir, p))
	}
	return paths
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

// applyEnvOverrides layers GANTRY_* environment variables over the file
// configuration. Overrides win regardless of the file's contents.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("GANTRY_RETRY_BUDGET"); v != "" {
		budget, err := strconv.Atoi(v)
		if err != nil || budget < 0 {
			return fmt.Errorf("config: GANTRY_RETRY_BUDGET must be a non-negative integer, got %q", v)
		}
		c.Project.Engine.RetryBudget = budget
	}
	if v := os.Getenv("GANTRY_VIEW_RETENTION"); v != "" {
		retention, err := time.ParseDuration(v)
		if err != nil || retention <= 0 {
			return fmt.Errorf("config: GANTRY_VIEW_RETENTION must be a positive duration, got %q", v)
		}
		c.Project.View.Retention = Duration(retention)
	}
	if v := os.Getenv("GANTRY_VIEW_MAX_ENTRIES"); v != "" {
		max, err := strconv.Atoi(v)
		if err != nil || max <= 0 {
			return fmt.Errorf("config: GANTRY_VIEW_MAX_ENTRIES must be a positive integer, got %q", v)
		}
		c.Project.View.MaxEntries = max
	}
	if v := os.Getenv("GANTRY_BRIDGE_HOST"); v != "" {
		c.Project.Bridge.Host = strings.TrimSpace(v)
	}
	if v := os.Getenv("GANTRY_BRIDGE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("config: GANTRY_BRIDGE_PORT must be a valid port, got %q", v)
		}
		c.Project.Bridge.Port = port
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Engine:  EngineConfig{RetryBudget: defaultRetryBudget},
		View: ViewConfig{
			Retention:  Duration(defaultViewRetention),
			MaxEntries: defaultViewMaxEntries,
		},
		Bridge: BridgeConfig{
			Host:         defaultBridgeHost,
			Port:         defaultBridgePort,
			MaxBodyBytes: defaultMaxBodyBytes,
		},
		Contributions: []string{"contributions.yaml"},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Engine.RetryBudget == 0 {
		pc.Engine.RetryBudget = defaultRetryBudget
	}
	if pc.View.Retention == 0 {
		pc.View.Retention = Duration(defaultViewRetention)
	}
	if pc.View.MaxEntries == 0 {
		pc.View.MaxEntries = defaultViewMaxEntries
	}
	if pc.Bridge.Host == "" {
		pc.Bridge.Host = defaultBridgeHost
	}
	if pc.Bridge.Port == 0 {
		pc.Bridge.Port = defaultBridgePort
	}
	if pc.Bridge.MaxBodyBytes == 0 {
		pc.Bridge.MaxBodyBytes = defaultMaxBodyBytes
	}
	if len(pc.Contributions) == 0 {
		pc.Contributions = []string{"contributions.yaml"}
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
	cleaned := pc.Contributions[:0]
	for _, p := range pc.Contributions {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	pc.Contributions = cleaned
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Engine.RetryBudget < 0 {
		return fmt.Errorf("engine.retry_budget must be >= 0")
	}
	if pc.View.Retention <= 0 {
		return fmt.Errorf("view.retention must be positive")
	}
	if pc.View.MaxEntries <= 0 {
		return fmt.Errorf("view.max_entries must be positive")
	}
	if pc.Bridge.Port < 1 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	if pc.Bridge.MaxBodyBytes <= 0 {
		return fmt.Errorf("bridge.max_body_bytes must be positive")
	}
	if len(pc.Contributions) == 0 {
		return fmt.Errorf("at least one contribution manifest is required")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

// Save persists the current project configuration back to disk.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.GantryProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure gantry dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
