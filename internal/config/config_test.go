package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	if Default.Scoring.MaxGateFailures != 3 {
		t.Errorf("default max gate failures = %d, want 3", Default.Scoring.MaxGateFailures)
	}
	if Default.Scoring.MaxOutputLength != 2000 {
		t.Errorf("default max output length = %d, want 2000", Default.Scoring.MaxOutputLength)
	}
	if Default.Executor.Mode != "local" {
		t.Errorf("default executor mode = %q, want local", Default.Executor.Mode)
	}
	if !Default.Suite.RetryVoid {
		t.Error("default retry_void should be true")
	}
	if Default.Visual.AntialiasThreshold != 0.1 {
		t.Errorf("default antialias threshold = %v, want 0.1", Default.Visual.AntialiasThreshold)
	}
	if len(Default.Judge.Command) != 0 {
		t.Errorf("default judge command = %v, want empty", Default.Judge.Command)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tally.toml")

	content := `
[scoring]
test_command = ["npm", "test"]
max_gate_failures = 5

[executor]
mode = "docker"
image = "node:22"

[suite]
repeats = 3
parallel = 2

[[failure_categories]]
name = "lint_prettier"
pattern = "prettier/prettier"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.Scoring.TestCommand; len(got) != 2 || got[0] != "npm" {
		t.Errorf("test command = %v, want [npm test]", got)
	}
	if cfg.Scoring.MaxGateFailures != 5 {
		t.Errorf("max gate failures = %d, want 5", cfg.Scoring.MaxGateFailures)
	}
	if cfg.Executor.Mode != "docker" || cfg.Executor.Image != "node:22" {
		t.Errorf("executor = %+v, want docker node:22", cfg.Executor)
	}
	if cfg.Suite.Repeats != 3 || cfg.Suite.Parallel != 2 {
		t.Errorf("suite = %+v, want repeats 3 parallel 2", cfg.Suite)
	}
	if len(cfg.FailureCategories) != 1 || cfg.FailureCategories[0].Name != "lint_prettier" {
		t.Errorf("failure categories = %v", cfg.FailureCategories)
	}

	// Untouched sections keep their defaults.
	if got := cfg.Scoring.BuildCommand; len(got) != 3 || got[0] != "bun" {
		t.Errorf("build command = %v, want default", got)
	}
	if cfg.Timeouts.Test != Default.Timeouts.Test {
		t.Errorf("test timeout = %d, want %d", cfg.Timeouts.Test, Default.Timeouts.Test)
	}
	if cfg.Executor.Workdir != "/workspace" {
		t.Errorf("workdir = %q, want /workspace", cfg.Executor.Workdir)
	}
}

func TestLoadPartialZeroesRefilled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tally.toml")
	content := `
[scoring]
max_output_length = 0
source_dirs = []

[timeouts]
gate = -1
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scoring.MaxOutputLength != Default.Scoring.MaxOutputLength {
		t.Errorf("max output length = %d, want default", cfg.Scoring.MaxOutputLength)
	}
	if len(cfg.Scoring.SourceDirs) != 1 || cfg.Scoring.SourceDirs[0] != "src" {
		t.Errorf("source dirs = %v, want [src]", cfg.Scoring.SourceDirs)
	}
	if cfg.Timeouts.Gate != Default.Timeouts.Gate {
		t.Errorf("gate timeout = %d, want default", cfg.Timeouts.Gate)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("Load() should error for missing explicit file")
	}
}

func TestLoadMalformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(cfgPath, []byte("[scoring\n"), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should error for malformed TOML")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad mode", func(c *Config) { c.Executor.Mode = "k8s" }, true},
		{"empty category", func(c *Config) {
			c.FailureCategories = []CategoryRule{{Name: "x"}}
		}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default
			tc.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestGetAgent(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Agents: map[string]AgentConfig{
			"claude": {Command: "my-claude"},
			"custom": {Command: "custom-bin"},
		},
	}

	if got := cfg.GetAgent("claude"); got == nil || got.Command != "my-claude" {
		t.Errorf("GetAgent(claude) = %v, want user override", got)
	}
	if got := cfg.GetAgent("codex"); got == nil || got.Command != "codex" {
		t.Errorf("GetAgent(codex) = %v, want built-in", got)
	}
	if got := cfg.GetAgent("nope"); got != nil {
		t.Errorf("GetAgent(nope) = %v, want nil", got)
	}

	names := cfg.ListAgents()
	if len(names) != len(DefaultAgents)+1 {
		t.Errorf("ListAgents() = %v, want %d entries", names, len(DefaultAgents)+1)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("ListAgents() not sorted: %v", names)
			break
		}
	}
}
