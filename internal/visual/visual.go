// Package visual captures a screenshot of the built workspace and scores it
// against a reference image.
package visual

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lemon07r/tally/internal/runner"
)

// Result is the visual dimension of a scorecard. ThresholdMet is nil when no
// threshold is configured.
type Result struct {
	Similarity       float64  `json:"similarity"`
	DiffPath         *string  `json:"diff_path"`
	CaptureSucceeded bool     `json:"capture_succeeded"`
	CaptureError     *string  `json:"capture_error"`
	Threshold        *float64 `json:"threshold"`
	ThresholdMet     *bool    `json:"threshold_met"`
	Evidence         string   `json:"evidence,omitempty"`
	CommandTimedOut  bool     `json:"command_timed_out,omitempty"`
}

// Request describes one visual evaluation. Paths other than ReferenceImage
// are relative to the workspace.
type Request struct {
	Workspace         string
	ReferenceImage    string
	ScreenshotCommand []string
	ActualImage       string
	DiffImage         string
	Threshold         *float64
}

// Options configures the comparison tool.
type Options struct {
	CompareCommand     []string
	AntialiasThreshold float64
	CaptureTimeout     time.Duration
	CompareTimeout     time.Duration
}

// Scorer runs capture and comparison commands.
type Scorer struct {
	exec   runner.Executor
	opts   Options
	logger *slog.Logger
}

// NewScorer creates a visual scorer.
func NewScorer(exec runner.Executor, opts Options, logger *slog.Logger) *Scorer {
	if len(opts.CompareCommand) == 0 {
		opts.CompareCommand = []string{"bunx", "odiff"}
	}
	return &Scorer{exec: exec, opts: opts, logger: logger}
}

const maxCaptureError = 2000

var diffPercentRe = regexp.MustCompile(`(\d+\.?\d*)\s*%`)

// Score captures a screenshot and compares it to the reference.
func (s *Scorer) Score(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Threshold: req.Threshold}
	actual := filepath.Join(req.Workspace, req.ActualImage)
	diff := filepath.Join(req.Workspace, req.DiffImage)

	if err := os.MkdirAll(filepath.Dir(actual), 0755); err != nil {
		return nil, fmt.Errorf("creating screenshot directory: %w", err)
	}

	capture, err := s.exec.Run(ctx, runner.Command{
		Argv:    req.ScreenshotCommand,
		Dir:     req.Workspace,
		Timeout: s.opts.CaptureTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	res.CommandTimedOut = capture.TimedOut

	if !capture.Succeeded() || !fileExists(actual) {
		msg := captureError(capture, req.ActualImage)
		res.CaptureError = &msg
		res.Evidence = "screenshot capture failed"
		s.logger.Warn("screenshot capture failed", "exit_code", capture.ExitCode, "error", msg)
		return res.finish(), nil
	}
	res.CaptureSucceeded = true

	if !fileExists(req.ReferenceImage) {
		res.Evidence = "reference image not found"
		return res.finish(), nil
	}

	argv := append(append([]string{}, s.opts.CompareCommand...),
		req.ReferenceImage, actual, diff,
		"--threshold", strconv.FormatFloat(s.opts.AntialiasThreshold, 'f', -1, 64))
	cmp, err := s.exec.Run(ctx, runner.Command{Argv: argv, Dir: req.Workspace, Timeout: s.opts.CompareTimeout})
	if err != nil {
		return nil, fmt.Errorf("comparing images: %w", err)
	}
	res.CommandTimedOut = res.CommandTimedOut || cmp.TimedOut

	switch {
	case cmp.ExitCode == 0:
		res.Similarity = 1
		res.Evidence = "images match"
	case cmp.ExitCode > 0:
		if m := diffPercentRe.FindStringSubmatch(cmp.Combined()); m != nil {
			pct, _ := strconv.ParseFloat(m[1], 64)
			res.Similarity = math.Max(0, 1-pct/100)
			res.Evidence = fmt.Sprintf("images differ by %s%%", m[1])
		} else {
			res.Evidence = "comparison output had no diff percentage"
		}
		if fileExists(diff) {
			rel := filepath.ToSlash(req.DiffImage)
			res.DiffPath = &rel
		}
	default:
		res.Evidence = "comparison failed: " + firstLine(cmp.Combined())
	}

	s.logger.Info("visual comparison finished", "similarity", res.Similarity, "exit_code", cmp.ExitCode)
	return res.finish(), nil
}

func (r *Result) finish() *Result {
	if r.Threshold != nil {
		met := r.Similarity >= *r.Threshold
		r.ThresholdMet = &met
	}
	return r
}

func captureError(res *runner.Result, actualRel string) string {
	if res.Succeeded() {
		return fmt.Sprintf("screenshot command succeeded but %s was not created", actualRel)
	}
	if out := strings.TrimSpace(res.Combined()); out != "" {
		return runner.Truncate(out, maxCaptureError)
	}
	return fmt.Sprintf("exit code %d", res.ExitCode)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
