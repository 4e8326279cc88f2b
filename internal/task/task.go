// Package task provides the task specification consumed by the scorer.
package task

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ErrUnknownCheckType is returned when a check declares a type outside the closed set.
var ErrUnknownCheckType = errors.New("unknown check type")

// OnFailure is the policy applied when a gate exits non-zero.
type OnFailure string

const (
	Continue  OnFailure = "continue"
	Terminate OnFailure = "terminate"
)

// CheckKind identifies a deterministic check algorithm.
type CheckKind string

const (
	ImportPresent CheckKind = "import_present"
	NoPattern     CheckKind = "no_pattern"
	FileExists    CheckKind = "file_exists"
)

// CheckKinds lists every supported check kind.
var CheckKinds = []CheckKind{ImportPresent, NoPattern, FileExists}

// Spec is a complete, validated task specification. It is read-only once loaded
// and shared across every repeat of a suite.
type Spec struct {
	Name            string            `json:"name"                       yaml:"name"                       toml:"name"`
	Description     string            `json:"description,omitempty"      yaml:"description,omitempty"      toml:"description,omitempty"`
	Prompt          string            `json:"prompt,omitempty"           yaml:"prompt,omitempty"           toml:"prompt,omitempty"`
	Verification    Verification      `json:"verification"               yaml:"verification"               toml:"verification"`
	Compliance      Compliance        `json:"compliance"                 yaml:"compliance"                 toml:"compliance"`
	Visual          *Visual           `json:"visual,omitempty"           yaml:"visual,omitempty"           toml:"visual,omitempty"`
	Weights         Weights           `json:"weights"                    yaml:"weights"                    toml:"weights"`
	BaselineScripts map[string]string `json:"baseline_scripts,omitempty" yaml:"baseline_scripts,omitempty" toml:"baseline_scripts,omitempty"`
	Source          Source            `json:"source"                     yaml:"source"                     toml:"source"`
}

// Verification holds the gate list and numeric thresholds.
type Verification struct {
	MaxGateFailures   int      `json:"max_gate_failures"            yaml:"max_gate_failures"            toml:"max_gate_failures"`
	CoverageThreshold *float64 `json:"coverage_threshold,omitempty" yaml:"coverage_threshold,omitempty" toml:"coverage_threshold,omitempty"`
	MinQualityScore   float64  `json:"min_quality_score"            yaml:"min_quality_score"            toml:"min_quality_score"`
	Gates             []Gate   `json:"gates"                        yaml:"gates"                        toml:"gates"`
	BuildCommand      []string `json:"build_command,omitempty"      yaml:"build_command,omitempty"      toml:"build_command,omitempty"`
	TestCommand       []string `json:"test_command,omitempty"       yaml:"test_command,omitempty"       toml:"test_command,omitempty"`
	TolerateNoTests   bool     `json:"tolerate_no_tests,omitempty"  yaml:"tolerate_no_tests,omitempty"  toml:"tolerate_no_tests,omitempty"`
}

// Gate is one verification command with its failure policy.
type Gate struct {
	Name      string    `json:"name"                 yaml:"name"                 toml:"name"`
	Command   []string  `json:"command"              yaml:"command"              toml:"command"`
	OnFailure OnFailure `json:"on_failure,omitempty" yaml:"on_failure,omitempty" toml:"on_failure,omitempty"`
}

// CommandString renders the gate argv as a single display string.
func (g Gate) CommandString() string {
	return strings.Join(g.Command, " ")
}

// Compliance groups the deterministic checks, judge rubric and requirements.
type Compliance struct {
	DeterministicChecks []Check          `json:"deterministic_checks,omitempty" yaml:"deterministic_checks,omitempty" toml:"deterministic_checks,omitempty"`
	LLMJudgeRubric      []JudgeCriterion `json:"llm_judge_rubric,omitempty"     yaml:"llm_judge_rubric,omitempty"     toml:"llm_judge_rubric,omitempty"`
	Requirements        []Requirement    `json:"requirements,omitempty"         yaml:"requirements,omitempty"         toml:"requirements,omitempty"`
}

// Check is a single deterministic pattern check.
type Check struct {
	Kind        CheckKind `json:"type"        yaml:"type"        toml:"type"`
	Pattern     string    `json:"pattern"     yaml:"pattern"     toml:"pattern"`
	Description string    `json:"description" yaml:"description" toml:"description"`
}

// Rule returns the human-readable label used in results.
func (c Check) Rule() string {
	if c.Description != "" {
		return c.Description
	}
	return fmt.Sprintf("%s: %s", c.Kind, c.Pattern)
}

// JudgeCriterion is an LLM judge rubric entry passed through to an external judge.
type JudgeCriterion struct {
	Criterion string  `json:"criterion" yaml:"criterion" toml:"criterion"`
	Weight    float64 `json:"weight"    yaml:"weight"    toml:"weight"`
}

// Requirement links a functional check to the test patterns that must exercise it.
type Requirement struct {
	ID                   string   `json:"id"                     yaml:"id"                     toml:"id"`
	Description          string   `json:"description,omitempty"  yaml:"description,omitempty"  toml:"description,omitempty"`
	Check                Check    `json:"check"                  yaml:"check"                  toml:"check"`
	RequiredTestPatterns []string `json:"required_test_patterns" yaml:"required_test_patterns" toml:"required_test_patterns"`
}

// Visual configures the optional visual regression dimension.
type Visual struct {
	ReferenceImage    string   `json:"reference_image"        yaml:"reference_image"        toml:"reference_image"`
	ScreenshotCommand []string `json:"screenshot_command"     yaml:"screenshot_command"     toml:"screenshot_command"`
	ActualImage       string   `json:"actual_image,omitempty" yaml:"actual_image,omitempty" toml:"actual_image,omitempty"`
	Threshold         *float64 `json:"threshold,omitempty"    yaml:"threshold,omitempty"    toml:"threshold,omitempty"`
}

// Source narrows which workspace files count as source for compliance checks.
type Source struct {
	Dirs       []string `json:"dirs,omitempty"       yaml:"dirs,omitempty"       toml:"dirs,omitempty"`
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty" toml:"extensions,omitempty"`
}

// Load reads and validates a task specification. The format is chosen by the
// file extension: .yaml/.yml, .toml, or .json. Unknown keys are rejected.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task spec: %w", err)
	}

	spec, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return spec, nil
}

// Parse decodes a task specification from data in the format named by ext.
func Parse(data []byte, ext string) (*Spec, error) {
	var spec Spec

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, err
		}
	case ".toml":
		md, err := toml.Decode(string(data), &spec)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported task spec format %q", ext)
	}

	spec.applyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *Spec) applyDefaults() {
	if s.Verification.MaxGateFailures <= 0 {
		s.Verification.MaxGateFailures = DefaultMaxGateFailures
	}
	for i := range s.Verification.Gates {
		if s.Verification.Gates[i].OnFailure == "" {
			s.Verification.Gates[i].OnFailure = Continue
		}
	}
	if s.Weights.IsZero() {
		s.Weights = DefaultWeights
	}
}

// DefaultMaxGateFailures is the gate failure ceiling used when a task omits it.
const DefaultMaxGateFailures = 3

// Validate checks that the specification is internally consistent.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return errors.New("task name is required")
	}

	seen := make(map[string]bool)
	for i, g := range s.Verification.Gates {
		if g.Name == "" {
			return fmt.Errorf("gate %d: name is required", i)
		}
		if seen[g.Name] {
			return fmt.Errorf("gate %q: duplicate name", g.Name)
		}
		seen[g.Name] = true
		if len(g.Command) == 0 || g.Command[0] == "" {
			return fmt.Errorf("gate %q: command is required", g.Name)
		}
		switch g.OnFailure {
		case Continue, Terminate, "":
		default:
			return fmt.Errorf("gate %q: on_failure %q must be continue or terminate", g.Name, g.OnFailure)
		}
	}

	for i, c := range s.Compliance.DeterministicChecks {
		if err := c.validate(); err != nil {
			return fmt.Errorf("deterministic_checks[%d]: %w", i, err)
		}
	}

	ids := make(map[string]bool)
	for i, r := range s.Compliance.Requirements {
		if r.ID == "" {
			return fmt.Errorf("requirements[%d]: id is required", i)
		}
		if ids[r.ID] {
			return fmt.Errorf("requirement %q: duplicate id", r.ID)
		}
		ids[r.ID] = true
		if err := r.Check.validate(); err != nil {
			return fmt.Errorf("requirement %q: %w", r.ID, err)
		}
		for _, p := range r.RequiredTestPatterns {
			if p == "" {
				return fmt.Errorf("requirement %q: empty test pattern", r.ID)
			}
		}
	}

	for i, c := range s.Compliance.LLMJudgeRubric {
		if c.Criterion == "" {
			return fmt.Errorf("llm_judge_rubric[%d]: criterion is required", i)
		}
		if c.Weight < 0 || c.Weight > 1 {
			return fmt.Errorf("llm_judge_rubric[%d]: weight %v out of range [0,1]", i, c.Weight)
		}
	}

	if v := s.Visual; v != nil {
		if v.ReferenceImage == "" {
			return errors.New("visual: reference_image is required")
		}
		if len(v.ScreenshotCommand) == 0 {
			return errors.New("visual: screenshot_command is required")
		}
		if v.Threshold != nil && !inUnitRange(*v.Threshold) {
			return fmt.Errorf("visual: threshold %v out of range [0,1]", *v.Threshold)
		}
	}

	if t := s.Verification.CoverageThreshold; t != nil && !inUnitRange(*t) {
		return fmt.Errorf("coverage_threshold %v out of range [0,1]", *t)
	}
	if !inUnitRange(s.Verification.MinQualityScore) {
		return fmt.Errorf("min_quality_score %v out of range [0,1]", s.Verification.MinQualityScore)
	}

	return s.Weights.Validate()
}

func (c Check) validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCheckType, c.Kind)
	}
	if c.Pattern == "" {
		return fmt.Errorf("%s check requires a pattern", c.Kind)
	}
	// no_pattern regexes are compiled at evaluation time so a bad pattern fails
	// only its own check. Requirement checks use the same rule.
	return nil
}

// Valid reports whether k is one of the supported check kinds.
func (k CheckKind) Valid() bool {
	for _, known := range CheckKinds {
		if k == known {
			return true
		}
	}
	return false
}

// InvalidPatterns lists no_pattern checks whose regex does not compile. The
// scorer records these as failed checks rather than refusing the task.
func (s *Spec) InvalidPatterns() []string {
	var bad []string
	for _, c := range s.Compliance.DeterministicChecks {
		if c.Kind != NoPattern {
			continue
		}
		if _, err := regexp.Compile(c.Pattern); err != nil {
			bad = append(bad, c.Pattern)
		}
	}
	return bad
}

// ScriptNames returns the baseline script names in sorted order.
func (s *Spec) ScriptNames() []string {
	names := make([]string, 0, len(s.BaselineScripts))
	for name := range s.BaselineScripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fingerprint returns a stable BLAKE3 identity for the specification.
func (s *Spec) Fingerprint() string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	h := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(h[:])
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
