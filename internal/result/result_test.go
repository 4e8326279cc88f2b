package result

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lemon07r/tally/internal/gate"
	"github.com/lemon07r/tally/internal/task"
)

func passingScorecard() *Scorecard {
	sc := &Scorecard{
		Task:         "todo-app",
		QualityScore: 0.9,
		Reward:       0.9,
	}
	for _, n := range []string{
		CheckRunCompleted, CheckGatesPassed, CheckFunctionalPassed, CheckCoverageMet,
		CheckVisualMet, CheckRequirementsPresent, CheckRequirementTestsMapped,
		CheckMinQualityMet, CheckStackIntegrity,
	} {
		sc.Qualification = append(sc.Qualification, Check{Name: n, Passed: true})
	}
	return sc
}

func TestQualificationPassed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		fail            string
		wantQualified   bool
		wantPerformance bool
	}{
		{"all pass", "", true, true},
		{"validity failure", CheckStackIntegrity, false, true},
		{"performance failure", CheckCoverageMet, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc := passingScorecard()
			for i := range sc.Qualification {
				if sc.Qualification[i].Name == tc.fail {
					sc.Qualification[i].Passed = false
				}
			}
			if got := sc.QualificationPassed(); got != tc.wantQualified {
				t.Errorf("QualificationPassed() = %v, want %v", got, tc.wantQualified)
			}
			if got := sc.PerformancePassed(); got != tc.wantPerformance {
				t.Errorf("PerformancePassed() = %v, want %v", got, tc.wantPerformance)
			}
			if tc.fail != "" {
				if got := sc.FailedChecks(); len(got) != 1 || got[0] != tc.fail {
					t.Errorf("FailedChecks() = %v, want [%s]", got, tc.fail)
				}
			}
		})
	}
}

func TestQualificationPassedEmpty(t *testing.T) {
	t.Parallel()

	sc := &Scorecard{}
	if sc.QualificationPassed() {
		t.Error("QualificationPassed() with no checks should be false")
	}
}

func TestDegraded(t *testing.T) {
	t.Parallel()

	spec := &task.Spec{Name: "todo-app", Weights: task.DefaultWeights}
	spec.Verification.MaxGateFailures = 3

	sc := Degraded(spec, "", errors.New("reading task spec: no such file"))

	if sc.Task != "todo-app" {
		t.Errorf("Task = %q, want todo-app", sc.Task)
	}
	if sc.Reward != 0 || sc.QualityScore != 0 {
		t.Errorf("Reward = %v, QualityScore = %v, want 0", sc.Reward, sc.QualityScore)
	}
	if len(sc.Qualification) != 9 {
		t.Fatalf("Qualification = %d checks, want 9", len(sc.Qualification))
	}
	if sc.QualificationPassed() {
		t.Error("degraded scorecard must not qualify")
	}
	if sc.Qualification[0].Name != CheckRunCompleted || !strings.Contains(sc.Qualification[0].Detail, "no such file") {
		t.Errorf("run_completed = %+v, want error detail", sc.Qualification[0])
	}
	if len(sc.Compliance.Checks) != 1 || sc.Compliance.Checks[0].Passed {
		t.Errorf("Compliance.Checks = %+v, want one failing check", sc.Compliance.Checks)
	}
	if sc.Efficiency.TotalGateFailures != 3 {
		t.Errorf("TotalGateFailures = %d, want 3", sc.Efficiency.TotalGateFailures)
	}
	w := sc.EffectiveWeights
	if sum := w.Functional + w.Compliance + w.Efficiency; sum < 0.999 || sum > 1.001 {
		t.Errorf("EffectiveWeights sum = %v, want 1", sum)
	}
}

func TestDegradedWithoutSpec(t *testing.T) {
	t.Parallel()

	sc := Degraded(nil, "missing-task", nil)
	if sc.Task != "missing-task" {
		t.Errorf("Task = %q, want missing-task", sc.Task)
	}
	if sc.Error == "" {
		t.Error("Error should be set")
	}
}

func TestFormatReward(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{0.9, "0.9"},
		{0.8125, "0.8125"},
	}
	for _, tc := range tests {
		if got := FormatReward(tc.in); got != tc.want {
			t.Errorf("FormatReward(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestScorecardSaveAndLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cat := "type_error"
	sc := passingScorecard()
	sc.GateHistory = gate.History{
		{GateName: "typecheck", Command: "bun run typecheck", ExitCode: 2, Stderr: "TS2304", FailureCategory: &cat},
		{GateName: "lint/strict", Command: "bun run lint", ExitCode: 0},
	}
	sc.Functional.TestOutput = "3 pass\n"

	if err := sc.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	for _, name := range []string{
		"scorecard.json", "reward.txt", "report.md",
		filepath.Join("logs", "gate-01-typecheck.log"),
		filepath.Join("logs", "gate-02-lint_strict.log"),
		filepath.Join("logs", "test.log"),
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "logs", "build.log")); !os.IsNotExist(err) {
		t.Error("build.log should not be written for empty output")
	}

	reward, err := os.ReadFile(filepath.Join(dir, "reward.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(reward) != "0.9\n" {
		t.Errorf("reward.txt = %q, want %q", reward, "0.9\n")
	}

	loaded, err := LoadScorecard(filepath.Join(dir, "scorecard.json"))
	if err != nil {
		t.Fatalf("LoadScorecard() error = %v", err)
	}
	if loaded.Reward != 0.9 || len(loaded.GateHistory) != 2 {
		t.Errorf("loaded = reward %v, %d events", loaded.Reward, len(loaded.GateHistory))
	}
	if got := loaded.GateHistory[0].FailureCategory; got == nil || *got != "type_error" {
		t.Errorf("FailureCategory = %v, want type_error", got)
	}
	if loaded.Functional.TestOutput != "" {
		t.Error("TestOutput should not be serialized into scorecard.json")
	}
}

func TestDegradedSaveWritesZeroReward(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := Degraded(nil, "x", errors.New("boom")).Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	reward, err := os.ReadFile(filepath.Join(dir, "reward.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(reward)) != "0" {
		t.Errorf("reward.txt = %q, want 0", reward)
	}
}

func TestGenerateMarkdown(t *testing.T) {
	t.Parallel()

	sc := passingScorecard()
	sc.Qualification[1].Passed = false
	sc.Qualification[1].Detail = "1 of 3 gates failed"

	md := sc.GenerateMarkdown()
	for _, want := range []string{"# Scorecard: todo-app", "NOT QUALIFIED", "gates_passed", "1 of 3 gates failed", "| Visual | n/a | 0 |"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestHashBytes(t *testing.T) {
	t.Parallel()

	a := HashBytes([]byte("hello"))
	if !strings.HasPrefix(a, "blake3:") || len(a) != len("blake3:")+64 {
		t.Errorf("HashBytes() = %q", a)
	}
	if a != HashBytes([]byte("hello")) {
		t.Error("HashBytes() is not deterministic")
	}
	if a == HashBytes([]byte("hello!")) {
		t.Error("HashBytes() collides on different input")
	}
}

func TestSuiteID(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-5", "20260304-050607Z__todo-app__claude__gpt-5__x3"},
		{"", "20260304-050607Z__todo-app__claude__default__x3"},
		{"anthropic/Sonnet 4", "20260304-050607Z__todo-app__claude__anthropic-sonnet-4__x3"},
	}
	for _, tc := range tests {
		if got := SuiteID(at, "Todo App", "claude", tc.model, 3); got != tc.want {
			t.Errorf("SuiteID(model=%q) = %q, want %q", tc.model, got, tc.want)
		}
	}
}

func TestSuiteSaveAndAttestation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	suite := &SuiteRecord{
		SuiteID:   "20260304-050607Z__todo-app__claude__default__x2",
		Task:      "todo-app",
		Harness:   "claude",
		Repeats:   2,
		Parallel:  1,
		RetryVoid: true,
		Runs: []RunRecord{
			{RunID: "a", RepeatIndex: 1, Attempt: 1, State: StateScored, Scorecard: passingScorecard()},
			{RunID: "b", RepeatIndex: 2, Attempt: 2, State: StateVoidedFinal, Voided: true, RepeatRequired: true, VoidReasons: []string{"provider_rate_limit"}},
		},
		Aggregate: Aggregate{
			Metrics:        map[string]Stats{"reward": {N: 1, Mean: 0.9, Median: 0.9, Min: 0.9, Max: 0.9}},
			RunCountTotal:  2,
			RunCountScored: 1,
			VoidCount:      1,
		},
		Retry: RetrySummary{TargetScoredRuns: 2, AchievedScoredRuns: 1, RetriesUsed: 1, UnresolvedVoidCount: 1},
	}

	if err := suite.SaveSuite(dir, "test"); err != nil {
		t.Fatalf("SaveSuite() error = %v", err)
	}

	loaded, summary, err := LoadSuite(dir)
	if err != nil {
		t.Fatalf("LoadSuite() error = %v", err)
	}
	if len(loaded.Runs) != 2 || loaded.Runs[1].State != StateVoidedFinal {
		t.Errorf("loaded runs = %+v", loaded.Runs)
	}

	att, err := LoadAttestation(dir)
	if err != nil {
		t.Fatalf("LoadAttestation() error = %v", err)
	}
	if att.SummaryHash != HashBytes(summary) {
		t.Errorf("SummaryHash = %q, want hash of summary.json", att.SummaryHash)
	}
	runsHash, err := loaded.RunsHash()
	if err != nil {
		t.Fatal(err)
	}
	if att.RunsHash != runsHash {
		t.Errorf("RunsHash = %q, recomputed %q", att.RunsHash, runsHash)
	}

	readme, err := os.ReadFile(filepath.Join(dir, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Suite " + suite.SuiteID, "provider_rate_limit", "❌ not met", "| reward | 1 |"} {
		if !strings.Contains(string(readme), want) {
			t.Errorf("README missing %q", want)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	t.Parallel()

	for state, want := range map[State]bool{
		StatePending:     false,
		StateRunning:     false,
		StateVoided:      false,
		StateRetried:     false,
		StateScored:      true,
		StateVoidedFinal: true,
	} {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestRenderTerminal(t *testing.T) {
	t.Parallel()

	out := passingScorecard().RenderTerminal()
	for _, want := range []string{"todo-app", "QUALIFIED", "stack_integrity"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderTerminal() missing %q", want)
		}
	}
}
