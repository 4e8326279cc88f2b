package suite

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lemon07r/tally/internal/config"
	"github.com/lemon07r/tally/internal/result"
	"github.com/lemon07r/tally/internal/runner"
	"github.com/lemon07r/tally/internal/score"
	"github.com/lemon07r/tally/internal/task"
)

// ScoreFunc scores one workspace. The CLI supplies a function that builds
// an executor for the workspace (a container in docker mode) per call.
type ScoreFunc func(ctx context.Context, req score.Request) (*result.Scorecard, error)

// CommandSubstrate runs an agent CLI against a fresh copy of a template
// workspace and scores the result.
type CommandSubstrate struct {
	Template     string // Scaffold directory copied for every attempt
	Root         string // Directory the attempt workspaces are created in
	Name         string // Workspace name prefix, usually the task name
	Task         *task.Spec
	TaskDir      string
	Agent        config.AgentConfig
	Model        string
	AgentTimeout time.Duration
	SourceDirs   []string
	SourceExts   []string
	Exec         runner.Executor // Runs the agent command
	Score        ScoreFunc
	Logger       *slog.Logger
}

const (
	stateDir      = ".tally"
	maxFaultChars = 2000
)

// Execute prepares the workspace, runs the agent, and scores the outcome.
func (s *CommandSubstrate) Execute(ctx context.Context, a Attempt) (Outcome, error) {
	name := fmt.Sprintf("%s-repeat-%02d", slugName(s.Name), a.RepeatIndex)
	if a.Number > 1 {
		name += fmt.Sprintf("-attempt-%d", a.Number)
	}
	ws := filepath.Join(s.Root, name)
	out := Outcome{Workspace: ws}
	log := s.Logger.With("workspace", ws, "run_id", a.RunID)

	if _, err := os.Stat(ws); err == nil {
		return out, fmt.Errorf("workspace %s already exists", ws)
	}
	if err := copyTree(s.Template, ws); err != nil {
		return out, fmt.Errorf("copying template: %w", err)
	}

	snap, err := score.TakeSnapshot(ws, s.SourceDirs, s.SourceExts)
	if err != nil {
		return out, fmt.Errorf("taking snapshot: %w", err)
	}
	snapPath, err := score.SnapshotPath(ws)
	if err != nil {
		return out, err
	}
	if err := snap.Save(snapPath); err != nil {
		return out, fmt.Errorf("saving snapshot: %w", err)
	}

	argv := AgentArgv(s.Agent, BuildPrompt(s.Task), s.Model)
	log.Info("running agent", "command", argv[0], "timeout", s.AgentTimeout)
	res, err := s.Exec.Run(ctx, runner.Command{
		Argv:    argv,
		Dir:     ws,
		Timeout: s.AgentTimeout,
		Env:     AgentEnv(s.Agent),
	})
	if err != nil {
		return out, fmt.Errorf("running agent: %w", err)
	}
	if werr := os.MkdirAll(filepath.Join(ws, stateDir), 0755); werr != nil {
		log.Warn("failed to create state directory", "error", werr)
	}
	if werr := os.WriteFile(filepath.Join(ws, stateDir, "agent.log"), []byte(res.Combined()), 0644); werr != nil {
		log.Warn("failed to write agent log", "error", werr)
	}
	log.Info("agent finished", "exit_code", res.ExitCode, "duration", res.Duration.Round(time.Millisecond))

	switch {
	case ctx.Err() != nil:
		out.Fault = "suite cancelled: " + ctx.Err().Error()
		return out, nil
	case errors.Is(res.Err(), runner.ErrTimeout):
		out.Fault = fmt.Sprintf("agent timeout expired after %s", s.AgentTimeout)
		return out, nil
	case errors.Is(res.Err(), runner.ErrCommandNotFound):
		out.Fault = fmt.Sprintf("harness %s not installed", argv[0])
		return out, nil
	case res.ExitCode != 0 && Recognized(res.Combined()):
		out.Fault = tail(res.Combined(), maxFaultChars)
		return out, nil
	case res.ExitCode != 0:
		log.Debug("agent exited non-zero, scoring anyway", "exit_code", res.ExitCode)
	}

	sc, err := s.Score(ctx, score.Request{
		Workspace: ws,
		Task:      s.Task,
		TaskDir:   s.TaskDir,
		Snapshot:  snap,
		RunID:     a.RunID,
	})
	switch {
	case err == nil:
	case ctx.Err() != nil || Recognized(err.Error()):
		return out, fmt.Errorf("scoring: %w", err)
	default:
		// The run finished; only the scorer broke. It scores 0 with the
		// cause recorded instead of being voided and retried.
		log.Error("scoring failed, recording degraded scorecard", "error", err)
		sc = result.Degraded(s.Task, s.Task.Name, err)
		sc.RunID = a.RunID
	}
	out.Completed = true
	out.Scorecard = sc
	return out, nil
}

func slugName(name string) string {
	if s := result.Slug(name); s != "" {
		return s
	}
	return "task"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// copyTree copies src into dst, skipping version control metadata. Symlinks
// are recreated, not followed.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New(src + " is not a directory")
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			fi, err := d.Info()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return os.WriteFile(target, data, fi.Mode().Perm())
		}
	})
}
