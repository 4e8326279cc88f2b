package compliance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lemon07r/tally/internal/runner"
	"github.com/lemon07r/tally/internal/task"
)

// Judge evaluates one rubric criterion against a source excerpt and returns
// the judge's raw response text.
type Judge interface {
	Judge(ctx context.Context, criterion task.JudgeCriterion, source string) (string, error)
}

// CommandJudge runs an external command per criterion, writing the prompt to
// its stdin and reading the verdict from stdout.
type CommandJudge struct {
	exec    runner.Executor
	argv    []string
	dir     string
	timeout time.Duration
}

// NewCommandJudge returns a judge backed by argv, or nil when argv is empty.
func NewCommandJudge(exec runner.Executor, argv []string, dir string, timeout time.Duration) *CommandJudge {
	if len(argv) == 0 {
		return nil
	}
	return &CommandJudge{exec: exec, argv: argv, dir: dir, timeout: timeout}
}

// Judge implements Judge.
func (j *CommandJudge) Judge(ctx context.Context, criterion task.JudgeCriterion, source string) (string, error) {
	res, err := j.exec.Run(ctx, runner.Command{
		Argv:    j.argv,
		Dir:     j.dir,
		Timeout: j.timeout,
		Stdin:   judgePrompt(criterion, source),
	})
	if err != nil {
		return "", err
	}
	if !res.Succeeded() {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		return "", fmt.Errorf("judge command failed: %s", msg)
	}
	return res.Stdout, nil
}

func judgePrompt(criterion task.JudgeCriterion, source string) string {
	return fmt.Sprintf(`You are evaluating code compliance with project guidelines.

## Source Code
%s

## Evaluation Criterion
%s

Evaluate whether the code follows this criterion. Respond with:
1. PASS or FAIL
2. Brief evidence (1-2 sentences)

Format:
VERDICT: [PASS/FAIL]
EVIDENCE: [your evidence]
`, source, criterion.Criterion)
}

func (e *Evaluator) runJudge(ctx context.Context, crit task.JudgeCriterion, excerpt string) CheckResult {
	out := CheckResult{Rule: crit.Criterion, Type: TypeLLMJudge}

	resp, err := e.judge.Judge(ctx, crit, excerpt)
	if err != nil {
		e.logger.Warn("judge failed", "criterion", crit.Criterion, "error", err)
		out.Evidence = fmt.Sprintf("LLM judge error: %v", err)
		return out
	}

	verdict := ParseJudgeResponse(resp)
	out.Passed = verdict.Passed
	out.Evidence = verdict.Evidence
	return out
}

// Verdict is a parsed judge response.
type Verdict struct {
	Passed   bool
	Evidence string
	Raw      string
}

var (
	verdictRe  = regexp.MustCompile(`(?i)VERDICT:\s*(PASS|FAIL)`)
	evidenceRe = regexp.MustCompile(`(?i)EVIDENCE:\s*`)
)

// ParseJudgeResponse extracts a verdict. It prefers an explicit
// "VERDICT: PASS|FAIL" line with optional "EVIDENCE:", then a PASS/FAIL
// keyword on the first line, and otherwise fails conservatively.
func ParseJudgeResponse(response string) Verdict {
	response = strings.TrimSpace(response)

	if m := verdictRe.FindStringSubmatch(response); m != nil {
		evidence := head(response, 200)
		if loc := evidenceRe.FindStringIndex(response); loc != nil {
			rest := response[loc[1]:]
			if i := strings.Index(rest, "\n\n"); i >= 0 {
				rest = rest[:i]
			}
			if rest = strings.TrimSpace(rest); rest != "" {
				evidence = rest
			}
		}
		return Verdict{Passed: strings.EqualFold(m[1], "PASS"), Evidence: evidence, Raw: response}
	}

	first, _, _ := strings.Cut(response, "\n")
	first = strings.ToUpper(first)
	switch {
	case strings.Contains(first, "PASS") && !strings.Contains(first, "FAIL"):
		return Verdict{Passed: true, Evidence: head(response, 200), Raw: response}
	case strings.Contains(first, "FAIL"):
		return Verdict{Passed: false, Evidence: head(response, 200), Raw: response}
	}

	return Verdict{
		Passed:   false,
		Evidence: fmt.Sprintf("Could not parse response: %s...", head(response, 100)),
		Raw:      response,
	}
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
