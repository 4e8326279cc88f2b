package errors

import (
	"strings"
	"testing"
)

func TestDetectToolchain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		gate string
		argv []string
		want Toolchain
	}{
		{"tsc binary", "types", []string{"tsc", "--noEmit"}, TypeScript},
		{"typecheck script", "typecheck", []string{"bun", "run", "typecheck"}, TypeScript},
		{"eslint", "lint", []string{"bun", "run", "lint"}, ESLint},
		{"npx eslint", "style", []string{"npx", "eslint", "src"}, ESLint},
		{"go test", "unit", []string{"go", "test", "./..."}, Go},
		{"cargo", "unit", []string{"cargo", "test"}, Rust},
		{"bun test", "test", []string{"bun", "test"}, JSTest},
		{"vitest coverage", "cov", []string{"npx", "vitest", "--coverage"}, JSTest},
		{"unknown", "deploy", []string{"make", "deploy"}, Generic},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectToolchain(tc.gate, tc.argv); got != tc.want {
				t.Errorf("DetectToolchain(%q, %v) = %q, want %q", tc.gate, tc.argv, got, tc.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tc     Toolchain
		input  string
		expect string
	}{
		{
			name:   "tsc paren format",
			tc:     TypeScript,
			input:  "src/App.tsx(12,5): error TS2322: Type 'string' is not assignable to type 'number'.",
			expect: "TS2322 in src/App.tsx",
		},
		{
			name:   "tsc pretty format",
			tc:     TypeScript,
			input:  "src/a.ts:1:7 - error TS2304: Cannot find name 'foo'.",
			expect: "Cannot find name 'foo'",
		},
		{
			name:   "eslint rule",
			tc:     ESLint,
			input:  "  3:10  error  'x' is defined but never used  no-unused-vars",
			expect: "no-unused-vars:",
		},
		{
			name:   "bun test failure",
			tc:     JSTest,
			input:  "(fail) TodoList > adds item [1.20ms]",
			expect: "Test failed: TodoList > adds item",
		},
		{
			name:   "assertion",
			tc:     JSTest,
			input:  "AssertionError: expected 2 to equal 3",
			expect: "AssertionError: expected 2 to equal 3",
		},
		{
			name:   "go test",
			tc:     Go,
			input:  "--- FAIL: TestAdd (0.00s)",
			expect: "Test failed: TestAdd",
		},
		{
			name:   "rust error code",
			tc:     Rust,
			input:  "error[E0308]: mismatched types",
			expect: "E0308: mismatched types",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result := NewSummarizer(tc.tc).Summarize(tc.input)
			if len(result) == 0 {
				t.Fatal("expected non-empty summary")
			}
			found := false
			for _, r := range result {
				if strings.Contains(r, tc.expect) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("expected %q in summary, got %v", tc.expect, result)
			}
		})
	}
}

func TestSummarizeFallback(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(Generic)
	result := s.Summarize("$ make\n\nline1\nline2\nline3\nline4\nline5\nline6")

	if len(result) != 5 {
		t.Fatalf("fallback should return 5 lines, got %d: %v", len(result), result)
	}
	if result[0] != "line1" {
		t.Errorf("first line = %q, want line1 (command echo skipped)", result[0])
	}
}

func TestSummarizeDeduplicationAndCap(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(Go)
	input := strings.Repeat("undefined: Foo\n", 3)
	result := s.Summarize(input)
	if len(result) != 1 {
		t.Errorf("expected one deduplicated summary, got %v", result)
	}

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("--- FAIL: Test")
		sb.WriteString(strings.Repeat("X", i+1))
		sb.WriteString(" (0.00s)\n")
	}
	if got := len(s.Summarize(sb.String())); got != maxSummaryLines {
		t.Errorf("summary lines = %d, want cap %d", got, maxSummaryLines)
	}
}
