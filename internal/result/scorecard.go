// Package result defines the scorecard and suite records and handles their
// persistence and rendering.
package result

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/lemon07r/tally/internal/compliance"
	"github.com/lemon07r/tally/internal/functional"
	"github.com/lemon07r/tally/internal/gate"
	"github.com/lemon07r/tally/internal/task"
	"github.com/lemon07r/tally/internal/visual"
)

// Qualification check names.
const (
	CheckRunCompleted           = "run_completed"
	CheckGatesPassed            = "gates_passed"
	CheckFunctionalPassed       = "functional_passed"
	CheckCoverageMet            = "coverage_met"
	CheckVisualMet              = "visual_met"
	CheckRequirementsPresent    = "requirements_present"
	CheckRequirementTestsMapped = "requirement_tests_mapped"
	CheckMinQualityMet          = "min_quality_met"
	CheckStackIntegrity         = "stack_integrity"
)

// validityChecks say whether the run itself can be trusted; every other
// qualification check measures task performance.
var validityChecks = map[string]bool{
	CheckRunCompleted:   true,
	CheckStackIntegrity: true,
}

// Check is one boolean qualification check.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Efficiency scores how cleanly the gates were passed.
type Efficiency struct {
	TotalGateFailures       int     `json:"total_gate_failures"`
	UniqueFailureCategories int     `json:"unique_failure_categories"`
	RepeatFailures          int     `json:"repeat_failures"`
	Score                   float64 `json:"score"`
}

// ScriptChange is a verification script whose body differs from baseline.
type ScriptChange struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// StackIntegrity records whether verification scripts and the lockfile
// survived the run unchanged.
type StackIntegrity struct {
	Passed           bool           `json:"passed"`
	BaselineSource   string         `json:"baseline_source"`
	ScriptsChecked   []string       `json:"scripts_checked"`
	ChangedScripts   []ScriptChange `json:"changed_scripts,omitempty"`
	Lockfile         string         `json:"lockfile,omitempty"`
	BaselineLockHash string         `json:"baseline_lock_hash,omitempty"`
	CurrentLockHash  string         `json:"current_lock_hash,omitempty"`
	LockfileChanged  bool           `json:"lockfile_changed"`
	Detail           string         `json:"detail"`
}

// FileChanges lists workspace paths that differ from the pre-run manifest.
type FileChanges struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// ScaffoldAudit summarizes the workspace manifest against the snapshot.
type ScaffoldAudit struct {
	ManifestVersion     int          `json:"manifest_version"`
	Fingerprint         string       `json:"fingerprint"`
	FileCount           int          `json:"file_count"`
	ChangesFromBaseline *FileChanges `json:"changes_from_baseline"`
}

// Scorecard is the complete, immutable result of scoring one run.
type Scorecard struct {
	RunID            string                       `json:"run_id"`
	Task             string                       `json:"task"`
	TaskFingerprint  string                       `json:"task_fingerprint,omitempty"`
	ScoringVersion   string                       `json:"scoring_version"`
	StartedAt        time.Time                    `json:"started_at"`
	CompletedAt      time.Time                    `json:"completed_at"`
	QualityScore     float64                      `json:"quality_score"`
	Reward           float64                      `json:"reward"`
	Functional       functional.Result            `json:"functional"`
	Compliance       compliance.Result            `json:"compliance"`
	Visual           *visual.Result               `json:"visual"`
	Efficiency       Efficiency                   `json:"efficiency"`
	Coverage         functional.CoverageResult    `json:"coverage"`
	Requirements     compliance.RequirementResult `json:"requirements"`
	Qualification    []Check                      `json:"qualification"`
	EffectiveWeights task.Weights                 `json:"effective_weights"`
	GateSummary      gate.Summary                 `json:"gate_summary"`
	GateHistory      gate.History                 `json:"gate_history"`
	StackIntegrity   StackIntegrity               `json:"stack_integrity"`
	ScaffoldAudit    *ScaffoldAudit               `json:"scaffold_audit"`
	Error            string                       `json:"error,omitempty"`
}

// QualificationPassed reports whether every qualification check passed.
func (s *Scorecard) QualificationPassed() bool {
	for _, c := range s.Qualification {
		if !c.Passed {
			return false
		}
	}
	return len(s.Qualification) > 0
}

// PerformancePassed reports whether every performance check passed,
// ignoring run-validity checks.
func (s *Scorecard) PerformancePassed() bool {
	seen := false
	for _, c := range s.Qualification {
		if validityChecks[c.Name] {
			continue
		}
		seen = true
		if !c.Passed {
			return false
		}
	}
	return seen
}

// ValidityPassed reports whether the run-validity checks passed, regardless
// of task performance.
func (s *Scorecard) ValidityPassed() bool {
	seen := false
	for _, c := range s.Qualification {
		if !validityChecks[c.Name] {
			continue
		}
		seen = true
		if !c.Passed {
			return false
		}
	}
	return seen
}

// FailedChecks returns the names of failing qualification checks.
func (s *Scorecard) FailedChecks() []string {
	var out []string
	for _, c := range s.Qualification {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Degraded returns the all-zero scorecard emitted when scoring itself could
// not run. spec may be nil.
func Degraded(spec *task.Spec, taskName string, cause error) *Scorecard {
	now := time.Now().UTC()
	msg := "scoring did not run"
	if cause != nil {
		msg = cause.Error()
	}

	sc := &Scorecard{
		Task:           taskName,
		ScoringVersion: task.ScoringVersion,
		StartedAt:      now,
		CompletedAt:    now,
		Compliance: compliance.Result{
			Score: 0,
			Checks: []compliance.CheckResult{{
				Rule:     "Evaluation run completed",
				Type:     compliance.TypeDeterministic,
				Passed:   false,
				Evidence: msg,
			}},
		},
		Requirements: compliance.RequirementResult{
			MissingRequirementIDs:  []string{},
			RequirementGapIDs:      []string{},
			RequirementPatternGaps: map[string][]string{},
		},
		GateHistory: gate.History{},
		StackIntegrity: StackIntegrity{
			BaselineSource: "none",
			Detail:         "not evaluated",
		},
		Error: msg,
	}
	if spec != nil {
		sc.Task = spec.Name
		sc.TaskFingerprint = spec.Fingerprint()
		sc.Coverage.Threshold = spec.Verification.CoverageThreshold
		sc.EffectiveWeights = spec.Weights.Effective(spec.Visual != nil)
		sc.Efficiency.TotalGateFailures = spec.Verification.MaxGateFailures
	}

	names := []string{
		CheckRunCompleted, CheckGatesPassed, CheckFunctionalPassed, CheckCoverageMet,
		CheckVisualMet, CheckRequirementsPresent, CheckRequirementTestsMapped,
		CheckMinQualityMet, CheckStackIntegrity,
	}
	for _, n := range names {
		detail := "not evaluated"
		if n == CheckRunCompleted {
			detail = msg
		}
		sc.Qualification = append(sc.Qualification, Check{Name: n, Passed: false, Detail: detail})
	}
	return sc
}

// FormatReward renders a reward the way reward.txt stores it.
func FormatReward(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Save writes scorecard.json, reward.txt, report.md and per-command logs to dir.
func (s *Scorecard) Save(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling scorecard: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scorecard.json"), data, 0644); err != nil {
		return fmt.Errorf("writing scorecard.json: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "reward.txt"), []byte(FormatReward(s.Reward)+"\n"), 0644); err != nil {
		return fmt.Errorf("writing reward.txt: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(s.GenerateMarkdown()), 0644); err != nil {
		return fmt.Errorf("writing report.md: %w", err)
	}

	for i, ev := range s.GateHistory {
		name := fmt.Sprintf("gate-%02d-%s.log", i+1, unsafeName.ReplaceAllString(ev.GateName, "_"))
		body := fmt.Sprintf("$ %s\n# exit code %d\n\n## stdout\n%s\n\n## stderr\n%s\n", ev.Command, ev.ExitCode, ev.Stdout, ev.Stderr)
		if err := os.WriteFile(filepath.Join(dir, "logs", name), []byte(body), 0644); err != nil {
			return fmt.Errorf("writing gate log: %w", err)
		}
	}
	for name, body := range map[string]string{"build.log": s.Functional.BuildOutput, "test.log": s.Functional.TestOutput} {
		if body == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, "logs", name), []byte(body), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	return nil
}

// LoadScorecard reads a scorecard.json file.
func LoadScorecard(path string) (*Scorecard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scorecard: %w", err)
	}
	var sc Scorecard
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scorecard: %w", err)
	}
	return &sc, nil
}

// HashBytes returns the BLAKE3 hash of data as a prefixed hex string.
func HashBytes(data []byte) string {
	h := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(h[:])
}

// GenerateMarkdown renders a human-readable report.
func (s *Scorecard) GenerateMarkdown() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Scorecard: %s\n\n", s.Task)
	status := "❌ NOT QUALIFIED"
	if s.QualificationPassed() {
		status = "✅ QUALIFIED"
	}
	fmt.Fprintf(&sb, "**Status:** %s\n\n", status)
	fmt.Fprintf(&sb, "**Reward:** %s\n\n", FormatReward(s.Reward))
	fmt.Fprintf(&sb, "**Quality score:** %.3f\n\n", s.QualityScore)
	if s.RunID != "" {
		fmt.Fprintf(&sb, "**Run:** %s\n\n", s.RunID)
	}
	fmt.Fprintf(&sb, "**Started:** %s\n\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Completed:** %s\n\n", s.CompletedAt.Format(time.RFC3339))
	if s.Error != "" {
		fmt.Fprintf(&sb, "**Error:** %s\n\n", s.Error)
	}

	sb.WriteString("---\n\n## Dimensions\n\n")
	sb.WriteString("| Dimension | Score | Weight |\n|---|---|---|\n")
	fmt.Fprintf(&sb, "| Functional | %.3f | %.3f |\n", s.Functional.Score, s.EffectiveWeights.Functional)
	fmt.Fprintf(&sb, "| Compliance | %.3f | %.3f |\n", s.Compliance.Score, s.EffectiveWeights.Compliance)
	if s.Visual != nil {
		fmt.Fprintf(&sb, "| Visual | %.3f | %.3f |\n", s.Visual.Similarity, s.EffectiveWeights.Visual)
	} else {
		sb.WriteString("| Visual | n/a | 0 |\n")
	}
	fmt.Fprintf(&sb, "| Efficiency | %.3f | %.3f |\n\n", s.Efficiency.Score, s.EffectiveWeights.Efficiency)

	sb.WriteString("## Qualification\n\n")
	for _, c := range s.Qualification {
		mark := "❌"
		if c.Passed {
			mark = "✅"
		}
		fmt.Fprintf(&sb, "- %s **%s**: %s\n", mark, c.Name, c.Detail)
	}
	sb.WriteString("\n")

	sb.WriteString("## Functional\n\n")
	fmt.Fprintf(&sb, "- **Build:** %v\n", s.Functional.BuildSucceeded)
	fmt.Fprintf(&sb, "- **Tests:** %d/%d\n", s.Functional.TestsPassed, s.Functional.TestsTotal)
	fmt.Fprintf(&sb, "- **Gates:** %d/%d\n", s.Functional.GatesPassed, s.Functional.GatesTotal)
	if s.Coverage.Measured != nil {
		fmt.Fprintf(&sb, "- **Coverage:** %.1f%% (%s)\n", *s.Coverage.Measured*100, s.Coverage.Source)
	}
	sb.WriteString("\n")

	if len(s.Compliance.Checks) > 0 {
		sb.WriteString("## Compliance\n\n")
		for _, c := range s.Compliance.Checks {
			mark := "❌"
			if c.Passed {
				mark = "✅"
			}
			fmt.Fprintf(&sb, "- %s %s (%s): %s\n", mark, c.Rule, c.Type, c.Evidence)
		}
		sb.WriteString("\n")
	}

	if len(s.GateHistory) > 0 {
		sb.WriteString("## Gates\n\n")
		for i, ev := range s.GateHistory {
			mark := "✅ PASS"
			if ev.Failed() {
				mark = "❌ FAIL"
			}
			fmt.Fprintf(&sb, "### %d. %s - %s\n\n", i+1, ev.GateName, mark)
			fmt.Fprintf(&sb, "- **Command:** `%s`\n", ev.Command)
			fmt.Fprintf(&sb, "- **Exit Code:** %d\n", ev.ExitCode)
			if ev.FailureCategory != nil {
				repeat := ""
				if ev.IsRepeat {
					repeat = " (repeat)"
				}
				fmt.Fprintf(&sb, "- **Category:** %s%s\n", *ev.FailureCategory, repeat)
			}
			if len(ev.Summary) > 0 {
				sb.WriteString("\n**Error Summary:**\n\n")
				for _, line := range ev.Summary {
					fmt.Fprintf(&sb, "- %s\n", line)
				}
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("## Stack integrity\n\n")
	fmt.Fprintf(&sb, "- **Baseline:** %s\n", s.StackIntegrity.BaselineSource)
	fmt.Fprintf(&sb, "- **Detail:** %s\n", s.StackIntegrity.Detail)

	return sb.String()
}
