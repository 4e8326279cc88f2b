// Package runnertest provides a scripted runner.Executor for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/lemon07r/tally/internal/runner"
)

// FakeExecutor returns canned results keyed by the joined argv. Commands
// with no script succeed with empty output. Calls are recorded in order.
type FakeExecutor struct {
	mu      sync.Mutex
	results map[string][]*runner.Result
	hooks   map[string]func(runner.Command)
	calls   []runner.Command
}

// New returns an empty FakeExecutor.
func New() *FakeExecutor {
	return &FakeExecutor{
		results: make(map[string][]*runner.Result),
		hooks:   make(map[string]func(runner.Command)),
	}
}

// On queues res for the next invocation of command. When the queue holds
// a single result it is reused for every later call.
func (f *FakeExecutor) On(command string, res *runner.Result) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[command] = append(f.results[command], res)
	return f
}

// OnExit is On with only an exit code and combined output on stdout.
func (f *FakeExecutor) OnExit(command string, exitCode int, stdout string) *FakeExecutor {
	return f.On(command, &runner.Result{ExitCode: exitCode, Stdout: stdout})
}

// Hook runs fn before command returns, for commands with side effects on disk.
func (f *FakeExecutor) Hook(command string, fn func(runner.Command)) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[command] = fn
	return f
}

// Run implements runner.Executor.
func (f *FakeExecutor) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := strings.Join(cmd.Argv, " ")

	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	hook := f.hooks[key]
	var res *runner.Result
	if queue := f.results[key]; len(queue) > 0 {
		res = queue[0]
		if len(queue) > 1 {
			f.results[key] = queue[1:]
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	if res == nil {
		return &runner.Result{}, nil
	}
	out := *res
	return &out, nil
}

// Calls returns the argv strings of every command run so far.
func (f *FakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Join(c.Argv, " ")
	}
	return out
}

// Commands returns the full recorded commands.
func (f *FakeExecutor) Commands() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.calls...)
}
