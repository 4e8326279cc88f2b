package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lemon07r/tally/internal/compliance"
	"github.com/lemon07r/tally/internal/config"
	"github.com/lemon07r/tally/internal/result"
	"github.com/lemon07r/tally/internal/runner"
	"github.com/lemon07r/tally/internal/score"
)

// newExecutor returns the executor for workspace according to [executor].
// The returned close function releases the container in docker mode.
func newExecutor(ctx context.Context, workspace string) (runner.Executor, func(), error) {
	switch cfg.Executor.Mode {
	case "", "local":
		return runner.NewLocalExecutor(), func() {}, nil
	case "docker":
		d, err := runner.NewDockerExecutor(ctx, runner.DockerOptions{
			Image:    cfg.Executor.Image,
			AutoPull: cfg.Executor.AutoPull,
			Workdir:  cfg.Executor.Workdir,
		}, workspace, logger)
		if err != nil {
			return nil, nil, err
		}
		return d, func() {
			if err := d.Close(); err != nil {
				logger.Warn("failed to remove scoring container", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown executor mode %q", cfg.Executor.Mode)
	}
}

// newJudge returns the configured LLM judge, or nil when none is set. The
// judge always runs on the host, next to the agent CLIs it wraps.
func newJudge(workspace string) compliance.Judge {
	j := compliance.NewCommandJudge(runner.NewLocalExecutor(), cfg.Judge.Command, workspace, config.Seconds(cfg.Judge.Timeout))
	if j == nil {
		return nil
	}
	return j
}

// scoreWorkspace runs the full scoring pipeline with a fresh executor.
func scoreWorkspace(ctx context.Context, req score.Request) (*result.Scorecard, error) {
	exec, closeExec, err := newExecutor(ctx, req.Workspace)
	if err != nil {
		return nil, fmt.Errorf("starting executor: %w", err)
	}
	defer closeExec()

	s, err := score.NewScorer(cfg, exec, newJudge(req.Workspace), logger)
	if err != nil {
		return nil, err
	}
	return s.Score(ctx, req)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
