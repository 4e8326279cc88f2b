package functional

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lemon07r/tally/internal/gate"
	"github.com/lemon07r/tally/internal/runner"
	"github.com/lemon07r/tally/internal/runner/runnertest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func opts(tolerate bool) Options {
	return Options{
		BuildCommand:    []string{"bun", "run", "build"},
		TestCommand:     []string{"bun", "test"},
		TolerateNoTests: tolerate,
		MaxOutputLength: 2000,
	}
}

func TestParseTestCounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		output     string
		wantPassed int
		wantFailed int
	}{
		{"bun", " 12 pass\n 1 fail\n 30 expect() calls\nRan 13 tests across 4 files.", 12, 1},
		{"vitest", " Test Files  1 failed | 3 passed (4)\n      Tests  2 failed | 18 passed (20)", 18, 2},
		{"jest", "Tests:       1 failed, 9 passed, 10 total", 9, 1},
		{"duplicated phrasing takes max", "5 passed\nsummary: 7 pass", 7, 0},
		{"nothing", "compiled successfully", 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ParseTestCounts(tc.output)
			if got.Passed != tc.wantPassed || got.Failed != tc.wantFailed {
				t.Errorf("ParseTestCounts() = %d/%d, want %d/%d", got.Passed, got.Failed, tc.wantPassed, tc.wantFailed)
			}
		})
	}
}

func TestNoTestsFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		output string
		want   bool
	}{
		{"No test files found, exiting with code 1", true},
		{"error: no tests found", true},
		{"Ran 0 tests across 0 files.", true},
		{"Ran 10 tests across 2 files.", false},
		{"3 pass", false},
	}
	for _, tc := range tests {
		if got := NoTestsFound(tc.output); got != tc.want {
			t.Errorf("NoTestsFound(%q) = %v, want %v", tc.output, got, tc.want)
		}
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		tolerate   bool
		build      *runner.Result
		test       *runner.Result
		wantPassed bool
		wantScore  float64
		wantTotal  int
	}{
		{
			name:       "all green",
			build:      &runner.Result{},
			test:       &runner.Result{Stdout: "4 pass\n0 fail"},
			wantPassed: true, wantScore: 1, wantTotal: 4,
		},
		{
			name:       "some failing",
			build:      &runner.Result{},
			test:       &runner.Result{ExitCode: 1, Stdout: "3 pass\n1 fail"},
			wantPassed: false, wantScore: 0.75, wantTotal: 4,
		},
		{
			name:       "build failed",
			build:      &runner.Result{ExitCode: 1, Stderr: "SyntaxError"},
			test:       &runner.Result{Stdout: "4 pass"},
			wantPassed: false, wantScore: 0, wantTotal: 4,
		},
		{
			name:       "no tests tolerated",
			tolerate:   true,
			build:      &runner.Result{},
			test:       &runner.Result{ExitCode: 1, Stderr: "No test files found"},
			wantPassed: true, wantScore: 1, wantTotal: 0,
		},
		{
			name:       "no tests not tolerated",
			build:      &runner.Result{},
			test:       &runner.Result{ExitCode: 1, Stderr: "No test files found"},
			wantPassed: false, wantScore: 0, wantTotal: 0,
		},
		{
			name:       "no tests message beside failing counts",
			tolerate:   true,
			build:      &runner.Result{},
			test:       &runner.Result{ExitCode: 1, Stdout: "packages/util: No tests found\n 3 pass\n 2 fail\n"},
			wantPassed: false, wantScore: 0.6, wantTotal: 5,
		},
		{
			name:       "no tests message beside passing counts",
			tolerate:   true,
			build:      &runner.Result{},
			test:       &runner.Result{Stdout: "packages/util: No tests found\n 4 pass\n 0 fail\n"},
			wantPassed: true, wantScore: 1, wantTotal: 4,
		},
		{
			name:       "exit zero but counts disagree",
			build:      &runner.Result{},
			test:       &runner.Result{Stdout: "2 passed\n1 failed"},
			wantPassed: false, wantScore: 2.0 / 3.0, wantTotal: 3,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fake := runnertest.New().On("bun run build", tc.build).On("bun test", tc.test)
			e := NewEvaluator(fake, opts(tc.tolerate), discardLogger())
			history := gate.History{{GateName: "lint", ExitCode: 0}, {GateName: "typecheck", ExitCode: 2}}

			got, err := e.Evaluate(context.Background(), t.TempDir(), history, 3)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got.Passed != tc.wantPassed {
				t.Errorf("Passed = %v, want %v", got.Passed, tc.wantPassed)
			}
			if got.Score != tc.wantScore {
				t.Errorf("Score = %v, want %v", got.Score, tc.wantScore)
			}
			if got.TestsTotal != tc.wantTotal {
				t.Errorf("TestsTotal = %d, want %d", got.TestsTotal, tc.wantTotal)
			}
			if got.NoTestsFound != (tc.wantTotal == 0) {
				t.Errorf("NoTestsFound = %v with %d counted tests", got.NoTestsFound, got.TestsTotal)
			}
			if got.GatesPassed != 1 || got.GatesTotal != 3 {
				t.Errorf("gates = %d/%d, want 1/3", got.GatesPassed, got.GatesTotal)
			}
			if calls := fake.Calls(); len(calls) != 2 || calls[0] != "bun run build" || calls[1] != "bun test" {
				t.Errorf("calls = %v, want build then test", calls)
			}
		})
	}
}

func TestEvaluateRecordsTimeout(t *testing.T) {
	t.Parallel()

	fake := runnertest.New().On("bun test", &runner.Result{ExitCode: -1, TimedOut: true, Stderr: runner.TimedOutMessage})
	got, err := NewEvaluator(fake, opts(false), discardLogger()).Evaluate(context.Background(), t.TempDir(), nil, 0)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !got.CommandTimedOut {
		t.Error("CommandTimedOut = false, want true")
	}
	if got.Passed {
		t.Error("Passed = true after a timed out test run")
	}
}

func writeSummary(t *testing.T, ws, body string) {
	t.Helper()
	dir := filepath.Join(ws, "coverage")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "coverage-summary.json"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluateCoverageSummaryFile(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writeSummary(t, ws, `{"total": {
		"lines": {"total": 10, "covered": 9, "pct": 90},
		"statements": {"pct": 85},
		"functions": {"pct": 95},
		"branches": {"pct": 70}
	}}`)

	threshold := 0.8
	got := EvaluateCoverage(ws, "", nil, &threshold)
	if got.Measured == nil || *got.Measured != 0.70 {
		t.Fatalf("Measured = %v, want 0.70", got.Measured)
	}
	if got.Passed {
		t.Error("Passed = true, want false (0.70 < 0.80)")
	}
	if got.Source != "coverage/coverage-summary.json" {
		t.Errorf("Source = %q", got.Source)
	}
}

func TestEvaluateCoverageGateFallback(t *testing.T) {
	t.Parallel()

	history := gate.History{
		{GateName: "coverage-early", Command: "bun test --coverage", Stdout: "Lines : 50%"},
		{GateName: "lint", Command: "bun run lint", Stdout: "Lines : 10%"},
		{GateName: "coverage", Command: "bun run test:coverage", Stdout: "All files |   83.3 |    90.1 |   88 |   84.2 |"},
	}

	threshold := 0.84
	got := EvaluateCoverage(t.TempDir(), "", history, &threshold)
	if got.Measured == nil || *got.Measured != 0.833 {
		t.Fatalf("Measured = %v, want 0.833", got.Measured)
	}
	if got.Passed {
		t.Error("Passed = true, want false")
	}
	if got.Source != "gate:coverage" {
		t.Errorf("Source = %q, want gate:coverage", got.Source)
	}
}

func TestEvaluateCoverageAbsent(t *testing.T) {
	t.Parallel()

	got := EvaluateCoverage(t.TempDir(), "", nil, nil)
	if got.Measured != nil {
		t.Errorf("Measured = %v, want nil", *got.Measured)
	}
	if !got.Passed {
		t.Error("Passed = false, want true with no threshold")
	}

	threshold := 0.5
	if EvaluateCoverage(t.TempDir(), "", nil, &threshold).Passed {
		t.Error("Passed = true with a threshold and no measurement")
	}
}

func TestParseCoveragePercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output string
		want   float64
		ok     bool
	}{
		{"istanbul text summary", "Statements   : 80.5% ( 161/200 )\nBranches     : 60% ( 3/5 )\nLines        : 81%", 0.6, true},
		{"go", "ok  \tpkg\t0.2s\tcoverage: 72.5% of statements", 0.725, true},
		{"none", "no coverage here", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ParseCoveragePercent(tc.output)
			if (got != nil) != tc.ok {
				t.Fatalf("ParseCoveragePercent() = %v, want ok=%v", got, tc.ok)
			}
			if got != nil && *got != tc.want {
				t.Errorf("ParseCoveragePercent() = %v, want %v", *got, tc.want)
			}
		})
	}
}
