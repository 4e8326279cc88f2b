// Package config provides configuration loading and management for tally.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

// AgentConfig defines how to invoke a coding agent during a suite run.
type AgentConfig struct {
	Command string            `toml:"command"` // Binary name or path
	Args    []string          `toml:"args"`    // Args with {prompt} and {model} placeholders
	Env     map[string]string `toml:"env"`     // Environment variables
	Timeout int               `toml:"timeout"` // Per-agent timeout in seconds (0 uses suite default)
}

// DefaultAgents provides built-in configurations for popular coding agents.
var DefaultAgents = map[string]AgentConfig{
	"claude": {
		Command: "claude",
		Args:    []string{"-p", "--dangerously-skip-permissions", "--model", "{model}", "{prompt}"},
	},
	"codex": {
		Command: "codex",
		Args:    []string{"exec", "--dangerously-bypass-approvals-and-sandbox", "-m", "{model}", "{prompt}"},
	},
	"gemini": {
		Command: "gemini",
		Args:    []string{"--yolo", "--model", "{model}", "{prompt}"},
	},
	"opencode": {
		Command: "opencode",
		Args:    []string{"run", "{prompt}", "-m", "{model}"},
	},
	"goose": {
		Command: "goose",
		Args:    []string{"run", "--no-session", "-t", "{prompt}", "--model", "{model}"},
		Env:     map[string]string{"GOOSE_MODE": "auto"},
	},
}

// Config holds all configuration for tally.
type Config struct {
	Scoring           ScoringConfig          `toml:"scoring"`
	Timeouts          TimeoutConfig          `toml:"timeouts"`
	Executor          ExecutorConfig         `toml:"executor"`
	Visual            VisualConfig           `toml:"visual"`
	Suite             SuiteConfig            `toml:"suite"`
	Store             StoreConfig            `toml:"store"`
	Judge             JudgeConfig            `toml:"judge"`
	Agents            map[string]AgentConfig `toml:"agents"`
	FailureCategories []CategoryRule         `toml:"failure_categories"`
}

// ScoringConfig contains scorer defaults used when a task does not override them.
type ScoringConfig struct {
	BuildCommand     []string `toml:"build_command"`
	TestCommand      []string `toml:"test_command"`
	TolerateNoTests  bool     `toml:"tolerate_no_tests"`
	SourceDirs       []string `toml:"source_dirs"`
	SourceExtensions []string `toml:"source_extensions"`
	TestFileMarkers  []string `toml:"test_file_markers"`
	CoverageSummary  string   `toml:"coverage_summary"`
	MaxOutputLength  int      `toml:"max_output_length"`
	MaxGateFailures  int      `toml:"max_gate_failures"`
}

// TimeoutConfig holds command timeouts in seconds.
type TimeoutConfig struct {
	Gate       int `toml:"gate"`
	Build      int `toml:"build"`
	Test       int `toml:"test"`
	Screenshot int `toml:"screenshot"`
	Compare    int `toml:"compare"`
}

// ExecutorConfig selects where verification commands run.
type ExecutorConfig struct {
	Mode     string `toml:"mode"` // "local" or "docker"
	Image    string `toml:"image"`
	AutoPull bool   `toml:"auto_pull"`
	Workdir  string `toml:"workdir"`
}

// VisualConfig contains image comparison settings.
type VisualConfig struct {
	CompareCommand     []string `toml:"compare_command"`
	AntialiasThreshold float64  `toml:"antialias_threshold"`
	ActualImage        string   `toml:"actual_image"`
	DiffImage          string   `toml:"diff_image"`
}

// SuiteConfig contains repeat-suite settings.
type SuiteConfig struct {
	Repeats   int    `toml:"repeats"`
	Parallel  int    `toml:"parallel"`
	RetryVoid bool   `toml:"retry_void"`
	OutputDir string `toml:"output_dir"`
	Timeout   int    `toml:"timeout"` // Suite-wide timeout in seconds, 0 disables
}

// StoreConfig controls the suite history database.
type StoreConfig struct {
	Path    string `toml:"path"`
	Enabled bool   `toml:"enabled"`
}

// JudgeConfig configures the external LLM judge command. An empty command
// disables judge criteria entirely.
type JudgeConfig struct {
	Command []string `toml:"command"`
	Timeout int      `toml:"timeout"`
}

// CategoryRule is a user-supplied failure category appended after the built-in rules.
type CategoryRule struct {
	Name    string `toml:"name"`
	Pattern string `toml:"pattern"`
}

// Default configuration values.
var Default = Config{
	Scoring: ScoringConfig{
		BuildCommand:     []string{"bun", "run", "build"},
		TestCommand:      []string{"bun", "test"},
		SourceDirs:       []string{"src"},
		SourceExtensions: []string{".ts", ".tsx"},
		TestFileMarkers:  []string{".test.", ".spec."},
		CoverageSummary:  filepath.Join("coverage", "coverage-summary.json"),
		MaxOutputLength:  2000,
		MaxGateFailures:  3,
	},
	Timeouts: TimeoutConfig{
		Gate:       300,
		Build:      300,
		Test:       600,
		Screenshot: 120,
		Compare:    60,
	},
	Executor: ExecutorConfig{
		Mode:     "local",
		Image:    "oven/bun:1",
		AutoPull: true,
		Workdir:  "/workspace",
	},
	Visual: VisualConfig{
		CompareCommand:     []string{"bunx", "odiff"},
		AntialiasThreshold: 0.1,
		ActualImage:        filepath.Join("screenshots", "actual.png"),
		DiffImage:          filepath.Join("screenshots", "diff.png"),
	},
	Suite: SuiteConfig{
		Repeats:   1,
		Parallel:  1,
		RetryVoid: true,
		OutputDir: "./suites",
	},
	Store: StoreConfig{
		Path:    "./tally.db",
		Enabled: true,
	},
	Judge: JudgeConfig{
		Timeout: 120,
	},
}

// configPaths returns the list of paths to search for config files.
func configPaths() []string {
	paths := []string{"./tally.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".tally.toml"))
		paths = append(paths, filepath.Join(home, ".config", "tally", "config.toml"))
	}

	return paths
}

// Load loads configuration from a file or discovers it automatically.
// If configFile is empty, it searches standard locations.
// Returns default config if no file is found.
func Load(configFile string) (*Config, error) {
	cfg := Default

	var path string
	if configFile != "" {
		path = configFile
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	} else {
		for _, p := range configPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		return &cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.fillDefaults()

	return &cfg, nil
}

// fillDefaults ensures critical fields aren't zeroed out by a partial config.
func (c *Config) fillDefaults() {
	d := Default

	if len(c.Scoring.BuildCommand) == 0 {
		c.Scoring.BuildCommand = d.Scoring.BuildCommand
	}
	if len(c.Scoring.TestCommand) == 0 {
		c.Scoring.TestCommand = d.Scoring.TestCommand
	}
	if len(c.Scoring.SourceDirs) == 0 {
		c.Scoring.SourceDirs = d.Scoring.SourceDirs
	}
	if len(c.Scoring.SourceExtensions) == 0 {
		c.Scoring.SourceExtensions = d.Scoring.SourceExtensions
	}
	if len(c.Scoring.TestFileMarkers) == 0 {
		c.Scoring.TestFileMarkers = d.Scoring.TestFileMarkers
	}
	if c.Scoring.CoverageSummary == "" {
		c.Scoring.CoverageSummary = d.Scoring.CoverageSummary
	}
	if c.Scoring.MaxOutputLength <= 0 {
		c.Scoring.MaxOutputLength = d.Scoring.MaxOutputLength
	}
	if c.Scoring.MaxGateFailures <= 0 {
		c.Scoring.MaxGateFailures = d.Scoring.MaxGateFailures
	}

	if c.Timeouts.Gate <= 0 {
		c.Timeouts.Gate = d.Timeouts.Gate
	}
	if c.Timeouts.Build <= 0 {
		c.Timeouts.Build = d.Timeouts.Build
	}
	if c.Timeouts.Test <= 0 {
		c.Timeouts.Test = d.Timeouts.Test
	}
	if c.Timeouts.Screenshot <= 0 {
		c.Timeouts.Screenshot = d.Timeouts.Screenshot
	}
	if c.Timeouts.Compare <= 0 {
		c.Timeouts.Compare = d.Timeouts.Compare
	}

	if c.Executor.Mode == "" {
		c.Executor.Mode = d.Executor.Mode
	}
	if c.Executor.Image == "" {
		c.Executor.Image = d.Executor.Image
	}
	if c.Executor.Workdir == "" {
		c.Executor.Workdir = d.Executor.Workdir
	}

	if len(c.Visual.CompareCommand) == 0 {
		c.Visual.CompareCommand = d.Visual.CompareCommand
	}
	if c.Visual.AntialiasThreshold <= 0 {
		c.Visual.AntialiasThreshold = d.Visual.AntialiasThreshold
	}
	if c.Visual.ActualImage == "" {
		c.Visual.ActualImage = d.Visual.ActualImage
	}
	if c.Visual.DiffImage == "" {
		c.Visual.DiffImage = d.Visual.DiffImage
	}

	if c.Suite.Repeats <= 0 {
		c.Suite.Repeats = d.Suite.Repeats
	}
	if c.Suite.Parallel <= 0 {
		c.Suite.Parallel = d.Suite.Parallel
	}
	if c.Suite.OutputDir == "" {
		c.Suite.OutputDir = d.Suite.OutputDir
	}

	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Judge.Timeout <= 0 {
		c.Judge.Timeout = d.Judge.Timeout
	}
}

// Validate reports configuration values that cannot be used.
func (c *Config) Validate() error {
	switch c.Executor.Mode {
	case "local", "docker":
	default:
		return fmt.Errorf("executor mode %q must be local or docker", c.Executor.Mode)
	}
	for i, rule := range c.FailureCategories {
		if rule.Name == "" || rule.Pattern == "" {
			return fmt.Errorf("failure_categories[%d]: name and pattern are required", i)
		}
	}
	return nil
}

// Seconds converts a timeout value in seconds to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// GetAgent returns the agent configuration for the given name.
// User-configured agents take precedence over built-in defaults.
// Returns nil if the agent is not found.
func (c *Config) GetAgent(name string) *AgentConfig {
	if c.Agents != nil {
		if agent, ok := c.Agents[name]; ok {
			return &agent
		}
	}
	if agent, ok := DefaultAgents[name]; ok {
		return &agent
	}
	return nil
}

// ListAgents returns all available agent names (built-in + user-configured), sorted.
func (c *Config) ListAgents() []string {
	seen := make(map[string]bool)
	var names []string

	for name := range c.Agents {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range DefaultAgents {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names
}
