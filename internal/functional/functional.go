// Package functional runs the build and test commands and recovers test
// counts and coverage from their output.
package functional

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lemon07r/tally/internal/gate"
	"github.com/lemon07r/tally/internal/runner"
)

// Result is the functional dimension of a scorecard.
type Result struct {
	Passed          bool         `json:"passed"`
	TestsPassed     int          `json:"tests_passed"`
	TestsTotal      int          `json:"tests_total"`
	BuildSucceeded  bool         `json:"build_succeeded"`
	GatesPassed     int          `json:"gates_passed"`
	GatesTotal      int          `json:"gates_total"`
	Score           float64      `json:"score"`
	NoTestsFound    bool         `json:"no_tests_found"`
	NoTestsMessage  bool         `json:"no_tests_message,omitempty"`
	BuildExitCode   int          `json:"build_exit_code"`
	TestExitCode    int          `json:"test_exit_code"`
	CommandTimedOut bool         `json:"command_timed_out,omitempty"`
	ParseDetails    ParseDetails `json:"parse_details"`
	BuildOutput     string       `json:"-"`
	TestOutput      string       `json:"-"`
}

// Options configures the build and test commands.
type Options struct {
	BuildCommand    []string
	TestCommand     []string
	TolerateNoTests bool
	BuildTimeout    time.Duration
	TestTimeout     time.Duration
	MaxOutputLength int
}

// Evaluator runs build and test commands through an executor.
type Evaluator struct {
	exec   runner.Executor
	opts   Options
	logger *slog.Logger
}

// NewEvaluator creates a functional evaluator.
func NewEvaluator(exec runner.Executor, opts Options, logger *slog.Logger) *Evaluator {
	return &Evaluator{exec: exec, opts: opts, logger: logger}
}

// Evaluate runs the build then the test command. Both always run; a failed
// build still runs tests so their counts are recorded. gatesTotal is the
// number of configured gates, which may exceed len(history) after early
// termination.
func (e *Evaluator) Evaluate(ctx context.Context, workspace string, history gate.History, gatesTotal int) (*Result, error) {
	res := &Result{GatesTotal: gatesTotal}
	for _, ev := range history {
		if !ev.Failed() {
			res.GatesPassed++
		}
	}

	build, err := e.exec.Run(ctx, runner.Command{Argv: e.opts.BuildCommand, Dir: workspace, Timeout: e.opts.BuildTimeout})
	if err != nil {
		return nil, fmt.Errorf("running build: %w", err)
	}
	res.BuildSucceeded = build.Succeeded()
	res.BuildExitCode = build.ExitCode
	res.BuildOutput = runner.Truncate(build.Combined(), e.opts.MaxOutputLength)
	e.logger.Info("build finished", "command", runner.Command{Argv: e.opts.BuildCommand}.String(), "exit_code", build.ExitCode, "duration", build.Duration.Round(time.Millisecond))

	test, err := e.exec.Run(ctx, runner.Command{Argv: e.opts.TestCommand, Dir: workspace, Timeout: e.opts.TestTimeout})
	if err != nil {
		return nil, fmt.Errorf("running tests: %w", err)
	}
	res.TestExitCode = test.ExitCode
	res.TestOutput = runner.Truncate(test.Combined(), e.opts.MaxOutputLength)
	res.CommandTimedOut = build.TimedOut || test.TimedOut

	counts := ParseTestCounts(test.Combined())
	res.TestsPassed = counts.Passed
	res.TestsTotal = counts.Passed + counts.Failed
	res.ParseDetails = counts.Details
	// A "no tests" line next to real counts (one empty package in a
	// workspace) is evidence only; tolerance applies to zero counted tests.
	res.NoTestsMessage = NoTestsFound(test.Combined())
	res.NoTestsFound = res.TestsTotal == 0

	res.Passed = Passed(res.BuildSucceeded, res.NoTestsFound, e.opts.TolerateNoTests, test.ExitCode, res.TestsPassed, res.TestsTotal)
	res.Score = Score(res)

	e.logger.Info("tests finished",
		"exit_code", test.ExitCode,
		"passed", res.TestsPassed,
		"total", res.TestsTotal,
		"no_tests", res.NoTestsFound,
		"functional_passed", res.Passed)

	return res, nil
}

// Passed applies the functional pass rule: the build succeeded and either no
// tests were found and the task tolerates that, or the test command exited
// zero with every counted test passing.
func Passed(buildOK, noTests, tolerate bool, testExit, passed, total int) bool {
	if !buildOK {
		return false
	}
	if noTests {
		return tolerate
	}
	return testExit == 0 && passed == total
}

// Score is 0 for a failed build, 1 or 0 for a run without tests, and the
// pass ratio otherwise.
func Score(r *Result) float64 {
	switch {
	case !r.BuildSucceeded:
		return 0
	case r.TestsTotal == 0:
		if r.Passed {
			return 1
		}
		return 0
	default:
		return float64(r.TestsPassed) / float64(r.TestsTotal)
	}
}
