// Package compliance evaluates deterministic code-pattern checks, maps task
// requirements to the tests that exercise them, and passes rubric criteria
// through to an optional external judge.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lemon07r/tally/internal/task"
)

// Check result types.
const (
	TypeDeterministic = "deterministic"
	TypeLLMJudge      = "llm_judge"
)

// Weights of deterministic and judge results when both are present.
const (
	deterministicShare = 0.6
	judgeShare         = 0.4
)

const defaultExcerptBytes = 50_000

// CheckResult is the outcome of one compliance check.
type CheckResult struct {
	Rule     string `json:"rule"`
	Type     string `json:"type"`
	Passed   bool   `json:"passed"`
	Evidence string `json:"evidence"`
}

// Result is the compliance dimension of a scorecard.
type Result struct {
	Score  float64       `json:"score"`
	Checks []CheckResult `json:"checks"`
}

// Options selects which workspace files count as source and tests.
type Options struct {
	SourceDirs   []string
	Extensions   []string
	TestMarkers  []string
	ExcerptBytes int
}

// Evaluator runs compliance checks against a workspace.
type Evaluator struct {
	opts   Options
	judge  Judge
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. judge may be nil, in which case rubric
// criteria are not evaluated.
func NewEvaluator(opts Options, judge Judge, logger *slog.Logger) *Evaluator {
	if len(opts.SourceDirs) == 0 {
		opts.SourceDirs = []string{"src"}
	}
	if len(opts.TestMarkers) == 0 {
		opts.TestMarkers = []string{".test.", ".spec."}
	}
	if opts.ExcerptBytes <= 0 {
		opts.ExcerptBytes = defaultExcerptBytes
	}
	return &Evaluator{opts: opts, judge: judge, logger: logger}
}

// Evaluate runs every deterministic check and, when a judge is configured,
// every rubric criterion. Evaluating an unchanged workspace twice yields
// identical results.
func (e *Evaluator) Evaluate(ctx context.Context, workspace string, cfg task.Compliance) (*Result, error) {
	tree, err := loadSourceTree(workspace, e.opts.SourceDirs, e.opts.Extensions)
	if err != nil {
		return nil, fmt.Errorf("scanning sources: %w", err)
	}

	checks := make([]CheckResult, 0, len(cfg.DeterministicChecks)+len(cfg.LLMJudgeRubric))
	for _, c := range cfg.DeterministicChecks {
		checks = append(checks, e.runCheck(workspace, tree, c))
	}

	if e.judge != nil && len(cfg.LLMJudgeRubric) > 0 {
		excerpt := tree.excerpt(e.opts.ExcerptBytes)
		for _, crit := range cfg.LLMJudgeRubric {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			checks = append(checks, e.runJudge(ctx, crit, excerpt))
		}
	} else if len(cfg.LLMJudgeRubric) > 0 {
		e.logger.Debug("no judge configured, skipping rubric", "criteria", len(cfg.LLMJudgeRubric))
	}

	return &Result{Score: Score(checks), Checks: checks}, nil
}

// RunCheck evaluates a single deterministic check.
func (e *Evaluator) RunCheck(workspace string, c task.Check) (CheckResult, error) {
	tree, err := loadSourceTree(workspace, e.opts.SourceDirs, e.opts.Extensions)
	if err != nil {
		return CheckResult{}, fmt.Errorf("scanning sources: %w", err)
	}
	return e.runCheck(workspace, tree, c), nil
}

func (e *Evaluator) runCheck(workspace string, tree *sourceTree, c task.Check) CheckResult {
	var passed bool
	var evidence string

	switch c.Kind {
	case task.ImportPresent:
		passed, evidence = importPresent(tree, c.Pattern)
	case task.NoPattern:
		passed, evidence = noPattern(tree, c.Pattern)
	case task.FileExists:
		passed, evidence = fileExists(workspace, c.Pattern)
	default:
		passed, evidence = false, fmt.Sprintf("Unknown check type: %s", c.Kind)
	}

	return CheckResult{
		Rule:     c.Rule(),
		Type:     TypeDeterministic,
		Passed:   passed,
		Evidence: evidence,
	}
}

func importPresent(tree *sourceTree, pattern string) (bool, string) {
	if !tree.anyRoot {
		return false, "source directory not found"
	}
	for _, f := range tree.files {
		if strings.Contains(f.Content, pattern) {
			return true, "Found in " + f.Rel
		}
	}
	return false, fmt.Sprintf("Pattern '%s' not found in any source file", pattern)
}

func noPattern(tree *sourceTree, pattern string) (bool, string) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Sprintf("Invalid regex: %v", err)
	}
	if !tree.anyRoot {
		return true, "source directory not found (pattern check passes)"
	}
	for _, f := range tree.files {
		if re.MatchString(f.Content) {
			return false, "Pattern found in " + f.Rel
		}
	}
	return true, "Pattern not found (good)"
}

func fileExists(workspace, pattern string) (bool, string) {
	matches, err := globWorkspace(workspace, pattern)
	if err != nil {
		return false, fmt.Sprintf("Glob failed: %v", err)
	}
	if len(matches) == 0 {
		return false, fmt.Sprintf("No files matching '%s'", pattern)
	}
	return true, fmt.Sprintf("Found %d matching files", len(matches))
}

// Score computes the compliance score. With no checks the score is 1. When
// judge results are present the deterministic and judge pass rates are
// blended 60/40.
func Score(checks []CheckResult) float64 {
	if len(checks) == 0 {
		return 1
	}

	var det, detPassed, judge, judgePassed int
	for _, c := range checks {
		switch c.Type {
		case TypeLLMJudge:
			judge++
			if c.Passed {
				judgePassed++
			}
		default:
			det++
			if c.Passed {
				detPassed++
			}
		}
	}

	detScore := ratio(detPassed, det)
	if judge == 0 {
		return detScore
	}
	return detScore*deterministicShare + ratio(judgePassed, judge)*judgeShare
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(n) / float64(total)
}
