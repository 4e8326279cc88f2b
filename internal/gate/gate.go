// Package gate runs a task's ordered verification gates and records one
// event per executed gate.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lemon07r/tally/internal/errors"
	"github.com/lemon07r/tally/internal/runner"
	"github.com/lemon07r/tally/internal/task"
)

// Event is the immutable record of one executed gate.
type Event struct {
	Timestamp       time.Time `json:"timestamp"`
	GateName        string    `json:"gate_name"`
	Command         string    `json:"command"`
	ExitCode        int       `json:"exit_code"`
	Stdout          string    `json:"stdout"`
	Stderr          string    `json:"stderr"`
	FailureCategory *string   `json:"failure_category"`
	IsRepeat        bool      `json:"is_repeat"`
	DurationMS      int64     `json:"duration_ms"`
	TimedOut        bool      `json:"timed_out,omitempty"`
	Summary         []string  `json:"summary,omitempty"`
}

// Failed reports whether the gate exited non-zero.
func (e Event) Failed() bool {
	return e.ExitCode != 0
}

// History is the ordered, append-only sequence of gate events for one run.
type History []Event

// Failures counts failing events.
func (h History) Failures() int {
	n := 0
	for _, e := range h {
		if e.Failed() {
			n++
		}
	}
	return n
}

// RepeatFailures counts failing events whose category was already seen.
func (h History) RepeatFailures() int {
	n := 0
	for _, e := range h {
		if e.Failed() && e.IsRepeat {
			n++
		}
	}
	return n
}

// Categories returns the distinct failure categories in first-seen order.
func (h History) Categories() []string {
	var cats []string
	seen := make(map[string]bool)
	for _, e := range h {
		if e.FailureCategory == nil || seen[*e.FailureCategory] {
			continue
		}
		seen[*e.FailureCategory] = true
		cats = append(cats, *e.FailureCategory)
	}
	return cats
}

// AllPassed reports whether every configured gate ran and passed.
func (h History) AllPassed(configured int) bool {
	return len(h) == configured && h.Failures() == 0
}

// TimedOut returns the first event that hit its timeout, if any.
func (h History) TimedOut() (Event, bool) {
	for _, e := range h {
		if e.TimedOut {
			return e, true
		}
	}
	return Event{}, false
}

// Summary condenses a gate history.
type Summary struct {
	TotalGates              int  `json:"total_gates"`
	Passed                  int  `json:"passed"`
	Failed                  int  `json:"failed"`
	UniqueFailureCategories int  `json:"unique_failure_categories"`
	RepeatFailures          int  `json:"repeat_failures"`
	TerminatedEarly         bool `json:"terminated_early"`
}

// Summarize computes the summary of h given the number of configured gates.
func (h History) Summarize(configured int) Summary {
	failed := h.Failures()
	return Summary{
		TotalGates:              len(h),
		Passed:                  len(h) - failed,
		Failed:                  failed,
		UniqueFailureCategories: len(h.Categories()),
		RepeatFailures:          h.RepeatFailures(),
		TerminatedEarly:         len(h) < configured,
	}
}

// Options tunes a Watcher.
type Options struct {
	Timeout         time.Duration
	MaxOutputLength int
}

// Watcher executes gates sequentially in a workspace.
type Watcher struct {
	exec        runner.Executor
	categorizer *errors.Categorizer
	opts        Options
	logger      *slog.Logger
}

// NewWatcher creates a gate watcher.
func NewWatcher(exec runner.Executor, categorizer *errors.Categorizer, opts Options, logger *slog.Logger) *Watcher {
	if categorizer == nil {
		categorizer = errors.NewCategorizer()
	}
	return &Watcher{exec: exec, categorizer: categorizer, opts: opts, logger: logger}
}

// Run executes gates in order against workspace. It stops after a failing
// terminate gate or once maxFailures gates have failed. On context
// cancellation it returns the events recorded so far together with the
// context error.
func (w *Watcher) Run(ctx context.Context, workspace string, gates []task.Gate, maxFailures int) (History, error) {
	if maxFailures <= 0 {
		maxFailures = task.DefaultMaxGateFailures
	}

	history := make(History, 0, len(gates))
	seen := make(map[string]bool)
	failures := 0

	for i, g := range gates {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		res, err := w.exec.Run(ctx, runner.Command{
			Argv:    g.Command,
			Dir:     workspace,
			Timeout: w.opts.Timeout,
		})
		if err != nil {
			return history, fmt.Errorf("gate %s: %w", g.Name, err)
		}

		event := Event{
			Timestamp:  time.Now().UTC(),
			GateName:   g.Name,
			Command:    g.CommandString(),
			ExitCode:   res.ExitCode,
			Stdout:     runner.Truncate(res.Stdout, w.opts.MaxOutputLength),
			Stderr:     runner.Truncate(res.Stderr, w.opts.MaxOutputLength),
			DurationMS: res.Duration.Milliseconds(),
			TimedOut:   res.TimedOut,
		}

		if res.ExitCode != 0 {
			failures++
			if cat, ok := w.categorizer.Categorize(res.Stdout + res.Stderr); ok {
				event.FailureCategory = &cat
				event.IsRepeat = seen[cat]
				seen[cat] = true
			}
			event.Summary = errors.NewSummarizer(errors.DetectToolchain(g.Name, g.Command)).Summarize(res.Combined())
		}

		history = append(history, event)
		w.logger.Info("gate finished",
			"gate", g.Name,
			"index", i+1,
			"exit_code", event.ExitCode,
			"category", categoryAttr(event.FailureCategory),
			"repeat", event.IsRepeat,
			"duration", res.Duration.Round(time.Millisecond))

		if res.ExitCode != 0 && g.OnFailure == task.Terminate {
			w.logger.Info("terminating gate loop", "gate", g.Name, "reason", "on_failure=terminate")
			break
		}
		if failures >= maxFailures {
			w.logger.Info("terminating gate loop", "failures", failures, "max", maxFailures)
			break
		}
	}

	return history, nil
}

func categoryAttr(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}
