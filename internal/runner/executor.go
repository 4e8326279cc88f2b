// Package runner executes verification commands against a workspace, either
// as local processes or inside a Docker container.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// Messages recorded in place of stderr for commands that never produced a result.
const (
	TimedOutMessage = "Command timed out"
	notFoundPrefix  = "Command not found: "
)

// Sentinels returned by Result.Err for commands that never produced an exit
// status.
var (
	ErrTimeout         = errors.New("command timed out")
	ErrCommandNotFound = errors.New("command not found")
)

// Command describes one command invocation.
type Command struct {
	Argv    []string
	Dir     string // Host workspace directory the command runs in
	Timeout time.Duration
	Env     []string
	Stdin   string
}

// String renders the argv for logs and gate events.
func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Result holds the outcome of a command. Timeouts and missing binaries are
// results (exit code -1), not errors.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
	NotFound bool
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	return r.Stdout + r.Stderr
}

// Succeeded reports whether the command exited zero.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.NotFound
}

// Err returns ErrTimeout or ErrCommandNotFound when the command never exited
// on its own, and nil otherwise.
func (r *Result) Err() error {
	switch {
	case r.TimedOut:
		return ErrTimeout
	case r.NotFound:
		return ErrCommandNotFound
	}
	return nil
}

// Executor runs commands. An error means the executor itself failed (for
// example the Docker daemon went away); command failures are reported in Result.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// LocalExecutor runs commands as host processes.
type LocalExecutor struct {
	// Env is appended to the inherited environment of every command.
	Env []string
}

// NewLocalExecutor returns an executor that runs commands on the host.
func NewLocalExecutor(env ...string) *LocalExecutor {
	return &LocalExecutor{Env: env}
}

// Run executes cmd and waits for it, killing its process group on timeout.
func (e *LocalExecutor) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, errors.New("empty command")
	}

	start := time.Now()

	if !strings.Contains(cmd.Argv[0], "/") {
		if _, err := exec.LookPath(cmd.Argv[0]); err != nil {
			return &Result{
				ExitCode: -1,
				Stderr:   notFoundPrefix + cmd.Argv[0],
				Duration: time.Since(start),
				NotFound: true,
			}, nil
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	c.Env = append(append(os.Environ(), e.Env...), cmd.Env...)
	c.WaitDelay = 2 * time.Second
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	setupProcessGroup(c)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	// Parent cancellation is not a command outcome.
	if ctx.Err() != nil {
		return nil, fmt.Errorf("running %s: %w", cmd.String(), ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		res.TimedOut = true
		res.Stderr = TimedOutMessage
		return res, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			res.ExitCode = -1
			res.NotFound = true
			res.Stderr = notFoundPrefix + cmd.Argv[0]
			return res, nil
		}
		return nil, fmt.Errorf("running %s: %w", cmd.String(), err)
	}

	return res, nil
}

// Truncate shortens output to at most max bytes without splitting a rune,
// noting the original length.
func Truncate(output string, max int) string {
	if max <= 0 || len(output) <= max {
		return output
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	return fmt.Sprintf("%s\n... (truncated, %d total chars)", output[:cut], len(output))
}
