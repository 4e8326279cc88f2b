package errors

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Pattern represents a regex pattern and its human-readable summary.
type Pattern struct {
	Regex   *regexp.Regexp
	Summary string
}

// Toolchain names a family of verification tools with known output formats.
type Toolchain string

const (
	TypeScript Toolchain = "typescript"
	ESLint     Toolchain = "eslint"
	JSTest     Toolchain = "jstest"
	Go         Toolchain = "go"
	Rust       Toolchain = "rust"
	Generic    Toolchain = "generic"
)

// maxSummaryLines caps how many lines a summary carries.
const maxSummaryLines = 8

// Summarizer extracts human-readable error summaries from tool output.
type Summarizer struct {
	patterns []Pattern
}

// NewSummarizer creates a summarizer for the given toolchain.
func NewSummarizer(tc Toolchain) *Summarizer {
	var patterns []Pattern

	switch tc {
	case TypeScript:
		patterns = tscPatterns
	case ESLint:
		patterns = eslintPatterns
	case JSTest:
		patterns = jsTestPatterns
	case Go:
		patterns = goPatterns
	case Rust:
		patterns = rustPatterns
	}

	return &Summarizer{patterns: patterns}
}

// DetectToolchain guesses the toolchain from a gate name and argv.
func DetectToolchain(name string, argv []string) Toolchain {
	if len(argv) > 0 {
		switch filepath.Base(argv[0]) {
		case "go":
			return Go
		case "cargo":
			return Rust
		case "tsc":
			return TypeScript
		case "eslint":
			return ESLint
		}
	}

	words := []string{strings.ToLower(name)}
	for _, a := range argv {
		words = append(words, strings.ToLower(filepath.Base(a)))
	}
	joined := " " + strings.Join(words, " ") + " "

	switch {
	case strings.Contains(joined, " tsc ") || strings.Contains(joined, "typecheck"):
		return TypeScript
	case strings.Contains(joined, "eslint") || strings.Contains(joined, " lint "):
		return ESLint
	case strings.Contains(joined, "vitest") || strings.Contains(joined, "jest") ||
		strings.Contains(joined, " test ") || strings.Contains(joined, "coverage"):
		return JSTest
	default:
		return Generic
	}
}

// Summarize extracts de-duplicated error summaries from output, falling back
// to the first meaningful lines when no pattern applies.
func (s *Summarizer) Summarize(output string) []string {
	if len(s.patterns) == 0 {
		return fallbackSummary(output)
	}

	var summaries []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(output, "\n") {
		for _, p := range s.patterns {
			matches := p.Regex.FindStringSubmatch(line)
			if matches == nil {
				continue
			}
			summary := p.Summary
			for i, match := range matches[1:] {
				summary = strings.ReplaceAll(summary, "$"+strconv.Itoa(i+1), strings.TrimSpace(match))
			}
			if !seen[summary] {
				seen[summary] = true
				summaries = append(summaries, summary)
			}
			break
		}
		if len(summaries) >= maxSummaryLines {
			break
		}
	}

	if len(summaries) == 0 {
		return fallbackSummary(output)
	}
	return summaries
}

// fallbackSummary returns the first few non-decorative lines of output.
func fallbackSummary(output string) []string {
	var result []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if len(result) >= 5 {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "===") || strings.HasPrefix(line, "---") || strings.HasPrefix(line, "$ ") {
			continue
		}
		result = append(result, line)
	}
	return result
}

var tscPatterns = []Pattern{
	{regexp.MustCompile(`(\S+\.tsx?)\(\d+,\d+\): error (TS\d+): (.+)`), "$2 in $1: $3"},
	{regexp.MustCompile(`(\S+\.tsx?):\d+:\d+ - error (TS\d+): (.+)`), "$2 in $1: $3"},
	{regexp.MustCompile(`error (TS\d+): (.+)`), "$1: $2"},
	{regexp.MustCompile(`Found (\d+) errors?`), "$1 type errors"},
}

var eslintPatterns = []Pattern{
	{regexp.MustCompile(`^\s*\d+:\d+\s+error\s+(.+?)\s{2,}(\S+)\s*$`), "$2: $1"},
	{regexp.MustCompile(`✖ (\d+) problems? \((\d+) errors?`), "$2 lint errors"},
	{regexp.MustCompile(`Parsing error: (.+)`), "Parsing error: $1"},
}

var jsTestPatterns = []Pattern{
	{regexp.MustCompile(`^\s*(?:✗|×|✕)\s+(.+?)(?:\s+\[[\d.]+m?s\])?$`), "Test failed: $1"},
	{regexp.MustCompile(`^\s*(?:\(fail\)|FAIL)\s+(.+)$`), "Test failed: $1"},
	{regexp.MustCompile(`(AssertionError|TypeError|ReferenceError): (.+)`), "$1: $2"},
	{regexp.MustCompile(`Expected:\s*(.+)`), "Expected: $1"},
	{regexp.MustCompile(`Cannot find module '(.+?)'`), "Cannot find module $1"},
	{regexp.MustCompile(`(?i)no test files found`), "No test files found"},
	{regexp.MustCompile(`Test timed out in (\d+)ms`), "Test timed out after $1ms"},
}

var goPatterns = []Pattern{
	{regexp.MustCompile(`DATA RACE`), "Race condition detected"},
	{regexp.MustCompile(`undefined: (\w+)`), "Undefined: $1"},
	{regexp.MustCompile(`(\w+) declared (and|but) not used`), "Unused variable: $1"},
	{regexp.MustCompile(`cannot use (.+) \(.*?\) as (.+)`), "Type mismatch: $1 cannot be used as $2"},
	{regexp.MustCompile(`panic: (.+)`), "Panic: $1"},
	{regexp.MustCompile(`--- FAIL: (\S+)`), "Test failed: $1"},
	{regexp.MustCompile(`FAIL\s+(\S+)\s+\[`), "Package failed: $1"},
}

var rustPatterns = []Pattern{
	{regexp.MustCompile(`error\[(E\d+)\]: (.+)`), "$1: $2"},
	{regexp.MustCompile(`thread '.+' panicked at (.+)`), "Panic: $1"},
	{regexp.MustCompile(`test (\S+) \.\.\. FAILED`), "Test failed: $1"},
}
