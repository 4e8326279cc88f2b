package compliance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/lemon07r/tally/internal/task"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newEvaluator(judge Judge) *Evaluator {
	return NewEvaluator(Options{Extensions: []string{".ts", ".tsx"}}, judge, discardLogger())
}

func TestDeterministicChecks(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"src/app/page.tsx":              "import { Button } from '@/components/ui/button'\nexport default function Home() {}",
		"src/lib/util.ts":               "export const add = (a: number, b: number) => a + b",
		"src/lib/util.test.ts":          "test('add', () => expect(add(1, 2)).toBe(3))",
		"src/node_modules/dep/index.ts": "console.log('vendored')",
		"README.md":                     "console.log in docs does not count",
		"src/components/ui/button.tsx":  "export function Button() {}",
		"node_modules/pkg/package.json": "{}",
	})

	tests := []struct {
		name         string
		check        task.Check
		wantPassed   bool
		wantEvidence string
	}{
		{"import present", task.Check{Kind: task.ImportPresent, Pattern: "@/components/ui"}, true, "Found in src/app/page.tsx"},
		{"import absent", task.Check{Kind: task.ImportPresent, Pattern: "zustand"}, false, "Pattern 'zustand' not found in any source file"},
		{"no pattern clean", task.Check{Kind: task.NoPattern, Pattern: `console\.log`}, true, "Pattern not found (good)"},
		{"no pattern hit", task.Check{Kind: task.NoPattern, Pattern: `expect\(`}, false, "Pattern found in src/lib/util.test.ts"},
		{"no pattern invalid regex", task.Check{Kind: task.NoPattern, Pattern: "([unclosed"}, false, "Invalid regex: "},
		{"file exists double star", task.Check{Kind: task.FileExists, Pattern: "src/**/*.test.ts"}, true, "Found 1 matching files"},
		{"file exists single star stays in segment", task.Check{Kind: task.FileExists, Pattern: "src/*.tsx"}, false, "No files matching 'src/*.tsx'"},
		{"file exists directory", task.Check{Kind: task.FileExists, Pattern: "src/components/ui"}, true, "Found 1 matching files"},
	}

	e := newEvaluator(nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := e.RunCheck(ws, tc.check)
			if err != nil {
				t.Fatalf("RunCheck() error = %v", err)
			}
			if got.Passed != tc.wantPassed {
				t.Errorf("Passed = %v, want %v (evidence %q)", got.Passed, tc.wantPassed, got.Evidence)
			}
			if !strings.HasPrefix(got.Evidence, tc.wantEvidence) {
				t.Errorf("Evidence = %q, want prefix %q", got.Evidence, tc.wantEvidence)
			}
			if got.Type != TypeDeterministic {
				t.Errorf("Type = %q, want deterministic", got.Type)
			}
		})
	}
}

func TestMissingSourceDirectory(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	e := newEvaluator(nil)

	imp, _ := e.RunCheck(ws, task.Check{Kind: task.ImportPresent, Pattern: "x"})
	if imp.Passed || imp.Evidence != "source directory not found" {
		t.Errorf("import_present = %+v, want failed with source directory not found", imp)
	}
	no, _ := e.RunCheck(ws, task.Check{Kind: task.NoPattern, Pattern: "x"})
	if !no.Passed {
		t.Errorf("no_pattern = %+v, want passed", no)
	}
}

func TestEvaluateScore(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{"src/a.ts": "import x from 'y'"})

	e := newEvaluator(nil)

	empty, err := e.Evaluate(context.Background(), ws, task.Compliance{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if empty.Score != 1 {
		t.Errorf("Score with no checks = %v, want 1", empty.Score)
	}

	cfg := task.Compliance{DeterministicChecks: []task.Check{
		{Kind: task.ImportPresent, Pattern: "from 'y'", Description: "uses y"},
		{Kind: task.NoPattern, Pattern: "import", Description: "no imports"},
		{Kind: task.NoPattern, Pattern: "(bad", Description: "broken regex"},
		{Kind: task.FileExists, Pattern: "src/a.ts", Description: "has a.ts"},
	}}
	first, err := e.Evaluate(context.Background(), ws, cfg)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if first.Score != 0.5 {
		t.Errorf("Score = %v, want 0.5", first.Score)
	}
	if first.Checks[0].Rule != "uses y" {
		t.Errorf("Rule = %q, want description", first.Checks[0].Rule)
	}

	second, err := e.Evaluate(context.Background(), ws, cfg)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Evaluate() is not idempotent:\n%+v\n%+v", first, second)
	}
}

type stubJudge struct {
	responses map[string]string
	err       error
}

func (s stubJudge) Judge(_ context.Context, c task.JudgeCriterion, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.responses[c.Criterion], nil
}

func TestEvaluateWithJudge(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{"src/a.ts": "export const a = 1"})

	cfg := task.Compliance{
		DeterministicChecks: []task.Check{{Kind: task.ImportPresent, Pattern: "export"}},
		LLMJudgeRubric: []task.JudgeCriterion{
			{Criterion: "readable"},
			{Criterion: "idiomatic"},
		},
	}
	judge := stubJudge{responses: map[string]string{
		"readable":  "VERDICT: PASS\nEVIDENCE: Clear names.",
		"idiomatic": "VERDICT: FAIL\nEVIDENCE: Uses any.",
	}}

	res, err := newEvaluator(judge).Evaluate(context.Background(), ws, cfg)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	// 1.0*0.6 + 0.5*0.4
	if want := 0.8; res.Score < want-1e-9 || res.Score > want+1e-9 {
		t.Errorf("Score = %v, want %v", res.Score, want)
	}
	if len(res.Checks) != 3 || res.Checks[1].Type != TypeLLMJudge || res.Checks[1].Evidence != "Clear names." {
		t.Errorf("Checks = %+v", res.Checks)
	}

	failing, err := newEvaluator(stubJudge{err: errors.New("boom")}).Evaluate(context.Background(), ws, cfg)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if failing.Checks[1].Passed || !strings.Contains(failing.Checks[1].Evidence, "boom") {
		t.Errorf("judge error check = %+v, want failed with error evidence", failing.Checks[1])
	}

	skipped, err := newEvaluator(nil).Evaluate(context.Background(), ws, cfg)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(skipped.Checks) != 1 || skipped.Score != 1 {
		t.Errorf("without judge = %+v, want deterministic only", skipped)
	}
}

func TestParseJudgeResponse(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("z", 300)

	tests := []struct {
		name         string
		input        string
		wantPassed   bool
		wantEvidence string
	}{
		{"structured pass", "VERDICT: PASS\nEVIDENCE: Uses hooks correctly.", true, "Uses hooks correctly."},
		{"structured lowercase", "verdict: fail\nevidence: bad\n\ntrailing notes", false, "bad"},
		{"structured no evidence", "Some preamble\nVERDICT: PASS", true, "Some preamble\nVERDICT: PASS"},
		{"first line pass", "PASS - looks fine\nmore", true, "PASS - looks fine\nmore"},
		{"first line both", "PASS or FAIL? FAIL.", false, "PASS or FAIL? FAIL."},
		{"unparseable", long, false, "Could not parse response: " + strings.Repeat("z", 100) + "..."},
		{"empty", "", false, "Could not parse response: ..."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ParseJudgeResponse(tc.input)
			if got.Passed != tc.wantPassed {
				t.Errorf("Passed = %v, want %v", got.Passed, tc.wantPassed)
			}
			if got.Evidence != tc.wantEvidence {
				t.Errorf("Evidence = %q, want %q", got.Evidence, tc.wantEvidence)
			}
		})
	}
}

func TestMatchGlob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"src/*.ts", "src/a.ts", true},
		{"src/*.ts", "src/lib/a.ts", false},
		{"src/**/*.ts", "src/a.ts", true},
		{"src/**/*.ts", "src/lib/deep/a.ts", true},
		{"**/*.test.tsx", "src/app/page.test.tsx", true},
		{"src/**", "src/x/y", true},
		{"./src/a.ts", "src/a.ts", true},
		{"src/?.ts", "src/ab.ts", false},
	}

	for _, tc := range tests {
		t.Run(tc.pattern+"|"+tc.value, func(t *testing.T) {
			t.Parallel()
			if got := MatchGlob(tc.pattern, tc.value); got != tc.want {
				t.Errorf("MatchGlob(%q, %q) = %v, want %v", tc.pattern, tc.value, got, tc.want)
			}
		})
	}
}
