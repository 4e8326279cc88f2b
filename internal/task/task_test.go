package task

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
name: todo-app
description: Build a todo list
verification:
  max_gate_failures: 2
  coverage_threshold: 0.8
  min_quality_score: 0.6
  gates:
    - name: typecheck
      command: ["bun", "run", "typecheck"]
      on_failure: terminate
    - name: lint
      command: ["bun", "run", "lint"]
compliance:
  deterministic_checks:
    - type: import_present
      pattern: "@/components/ui"
      description: Uses shared UI components
    - type: no_pattern
      pattern: "console\\.log"
      description: No console logging
  requirements:
    - id: REQ-1
      check:
        type: import_present
        pattern: addTodo
        description: add todo
      required_test_patterns: ["addTodo"]
visual:
  reference_image: reference/home.png
  screenshot_command: ["bun", "run", "capture-screenshot"]
  threshold: 0.9
baseline_scripts:
  build: vite build
  test: bun test
`

const sampleTOML = `
name = "todo-app"

[verification]
min_quality_score = 0.5

[[verification.gates]]
name = "test"
command = ["bun", "test"]

[[compliance.deterministic_checks]]
type = "file_exists"
pattern = "src/**/*.test.ts"
description = "has tests"
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	spec, err := Parse([]byte(sampleYAML), ".yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if spec.Name != "todo-app" {
		t.Errorf("Name = %q, want todo-app", spec.Name)
	}
	if spec.Verification.MaxGateFailures != 2 {
		t.Errorf("MaxGateFailures = %d, want 2", spec.Verification.MaxGateFailures)
	}
	if got := spec.Verification.CoverageThreshold; got == nil || *got != 0.8 {
		t.Errorf("CoverageThreshold = %v, want 0.8", got)
	}
	if len(spec.Verification.Gates) != 2 {
		t.Fatalf("gates = %d, want 2", len(spec.Verification.Gates))
	}
	if spec.Verification.Gates[0].OnFailure != Terminate {
		t.Errorf("gate 0 on_failure = %q, want terminate", spec.Verification.Gates[0].OnFailure)
	}
	if spec.Verification.Gates[1].OnFailure != Continue {
		t.Errorf("gate 1 on_failure = %q, want continue default", spec.Verification.Gates[1].OnFailure)
	}
	if spec.Compliance.DeterministicChecks[1].Pattern != `console\.log` {
		t.Errorf("pattern = %q", spec.Compliance.DeterministicChecks[1].Pattern)
	}
	if spec.Visual == nil || spec.Visual.Threshold == nil || *spec.Visual.Threshold != 0.9 {
		t.Errorf("Visual = %+v, want threshold 0.9", spec.Visual)
	}
	if spec.Weights != DefaultWeights {
		t.Errorf("Weights = %+v, want defaults", spec.Weights)
	}
	if names := spec.ScriptNames(); len(names) != 2 || names[0] != "build" {
		t.Errorf("ScriptNames() = %v", names)
	}
}

func TestParseTOML(t *testing.T) {
	t.Parallel()

	spec, err := Parse([]byte(sampleTOML), ".toml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if spec.Verification.MaxGateFailures != DefaultMaxGateFailures {
		t.Errorf("MaxGateFailures = %d, want default", spec.Verification.MaxGateFailures)
	}
	if spec.Visual != nil {
		t.Errorf("Visual = %+v, want nil", spec.Visual)
	}
	if spec.Verification.CoverageThreshold != nil {
		t.Errorf("CoverageThreshold = %v, want nil", *spec.Verification.CoverageThreshold)
	}
	if spec.Compliance.DeterministicChecks[0].Kind != FileExists {
		t.Errorf("kind = %q, want file_exists", spec.Compliance.DeterministicChecks[0].Kind)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	data := `{"name": "x", "verification": {"gates": [{"name": "g", "command": ["true"]}]}}`
	spec, err := Parse([]byte(data), ".json")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if spec.Verification.Gates[0].OnFailure != Continue {
		t.Errorf("on_failure = %q, want continue", spec.Verification.Gates[0].OnFailure)
	}
}

func TestParseRejectsUnknownCheckType(t *testing.T) {
	t.Parallel()

	data := `
name: x
compliance:
  deterministic_checks:
    - type: regex_present
      pattern: foo
      description: bogus
`
	_, err := Parse([]byte(data), ".yml")
	if !errors.Is(err, ErrUnknownCheckType) {
		t.Fatalf("Parse() error = %v, want ErrUnknownCheckType", err)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ext  string
		data string
	}{
		{"yaml", ".yaml", "name: x\nbogus: 1\n"},
		{"toml", ".toml", "name = \"x\"\nbogus = 1\n"},
		{"json", ".json", `{"name": "x", "bogus": 1}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse([]byte(tc.data), tc.ext); err == nil {
				t.Error("Parse() should reject unknown keys")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Spec {
		return &Spec{
			Name: "t",
			Verification: Verification{
				Gates: []Gate{{Name: "lint", Command: []string{"bun", "run", "lint"}}},
			},
			Weights: DefaultWeights,
		}
	}
	half := 0.5
	tooBig := 1.5

	tests := []struct {
		name    string
		mutate  func(s *Spec)
		wantErr string
	}{
		{"valid", func(s *Spec) {}, ""},
		{"missing name", func(s *Spec) { s.Name = "" }, "name is required"},
		{"empty command", func(s *Spec) { s.Verification.Gates[0].Command = nil }, "command is required"},
		{"bad policy", func(s *Spec) { s.Verification.Gates[0].OnFailure = "retry" }, "must be continue or terminate"},
		{"duplicate gate", func(s *Spec) {
			s.Verification.Gates = append(s.Verification.Gates, s.Verification.Gates[0])
		}, "duplicate name"},
		{"requirement without id", func(s *Spec) {
			s.Compliance.Requirements = []Requirement{{Check: Check{Kind: ImportPresent, Pattern: "x"}}}
		}, "id is required"},
		{"visual without reference", func(s *Spec) {
			s.Visual = &Visual{ScreenshotCommand: []string{"shot"}, Threshold: &half}
		}, "reference_image"},
		{"coverage out of range", func(s *Spec) { s.Verification.CoverageThreshold = &tooBig }, "coverage_threshold"},
		{"negative weight", func(s *Spec) { s.Weights.Efficiency = -1 }, "negative"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := valid()
			tc.mutate(s)
			err := s.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestInvalidPatterns(t *testing.T) {
	t.Parallel()

	s := &Spec{Compliance: Compliance{DeterministicChecks: []Check{
		{Kind: NoPattern, Pattern: "ok"},
		{Kind: NoPattern, Pattern: "([unclosed"},
		{Kind: ImportPresent, Pattern: "([not a regex"},
	}}}

	bad := s.InvalidPatterns()
	if len(bad) != 1 || bad[0] != "([unclosed" {
		t.Errorf("InvalidPatterns() = %v, want [([unclosed]", bad)
	}
}

func TestLoadAndFingerprint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("writing task: %v", err)
	}

	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint should be stable across loads")
	}
	if !strings.HasPrefix(a.Fingerprint(), "blake3:") {
		t.Errorf("fingerprint = %q, want blake3: prefix", a.Fingerprint())
	}

	b.Verification.MinQualityScore = 0.1
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("fingerprint should change with content")
	}

	if _, err := Load(filepath.Join(dir, "task.ini")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestGateCommandString(t *testing.T) {
	t.Parallel()

	g := Gate{Name: "lint", Command: []string{"bun", "run", "lint"}}
	if got := g.CommandString(); got != "bun run lint" {
		t.Errorf("CommandString() = %q", got)
	}
}
