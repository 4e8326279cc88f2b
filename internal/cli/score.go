package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemon07r/tally/internal/result"
	"github.com/lemon07r/tally/internal/runner"
	"github.com/lemon07r/tally/internal/score"
	"github.com/lemon07r/tally/internal/task"
)

var (
	scoreTask          string
	scoreSnapshot      string
	scoreOutput        string
	scoreRunIncomplete string
	scoreAllowNoBase   bool
	scoreWatch         bool
	scoreJSON          bool
)

var scoreCmd = &cobra.Command{
	Use:   "score <workspace>",
	Short: "Score a workspace against a task",
	Long: `Runs the verification gates, build and tests, compliance checks,
requirement mapping and optional visual comparison, then writes a scorecard.

The exit code is 0 whenever scoring ran, even if the task failed; read
reward.txt or the scorecard for the outcome. If scoring itself fails, a
degraded scorecard with reward 0 is written and the exit code is 1.

A snapshot taken before the agent ran is used for the stack-integrity check.
Without --snapshot, <workspace>.snapshot.json (written by 'tally snapshot'
next to the workspace) is used when present. Snapshots inside the workspace
are never picked up implicitly, since the agent could have rewritten them.
With no snapshot and no baseline_scripts in the task, stack_integrity fails
unless --allow-no-baseline is given.

Examples:
  tally score ./ws --task task.yaml
  tally score ./ws --task task.yaml --snapshot before.json --out results/
  tally score ./ws --task task.yaml --watch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace := args[0]
		out := scoreOutput
		if out == "" {
			out = filepath.Join(workspace, ".tally", "score")
		}

		spec, err := task.Load(scoreTask)
		if err != nil {
			return emitDegraded(nil, strings.TrimSuffix(filepath.Base(scoreTask), filepath.Ext(scoreTask)), out, err)
		}

		snap, err := loadWorkspaceSnapshot(workspace, scoreSnapshot)
		if err != nil {
			return emitDegraded(spec, spec.Name, out, err)
		}
		if snap == nil && len(spec.BaselineScripts) == 0 && !scoreAllowNoBase {
			logger.Warn("no pre-run snapshot or task baseline; stack_integrity will fail",
				"hint", "run 'tally snapshot' before the agent, or pass --allow-no-baseline")
		}

		ctx, cancel := signalContext()
		defer cancel()

		req := score.Request{
			Workspace:       workspace,
			Task:            spec,
			TaskDir:         filepath.Dir(scoreTask),
			Snapshot:        snap,
			RunIncomplete:   scoreRunIncomplete,
			AllowNoBaseline: scoreAllowNoBase,
		}
		if err := scoreOnce(ctx, req, out); err != nil || !scoreWatch {
			return err
		}

		fmt.Fprintf(os.Stderr, "Watching %s for changes (Ctrl+C to stop)\n", workspace)
		w := runner.NewWatcher(workspace, 500*time.Millisecond, func() {
			if err := scoreOnce(ctx, req, out); err != nil {
				logger.Error("scoring failed", "error", err)
			}
		}, logger, append(append([]string{}, runner.DefaultIgnoredDirs...), filepath.Base(out))...)
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreTask, "task", "t", "", "task specification file (.yaml, .toml or .json)")
	scoreCmd.Flags().StringVar(&scoreSnapshot, "snapshot", "", "pre-run snapshot (default: <workspace>.snapshot.json if present)")
	scoreCmd.Flags().StringVarP(&scoreOutput, "out", "o", "", "output directory (default: <workspace>/.tally/score)")
	scoreCmd.Flags().StringVar(&scoreRunIncomplete, "run-incomplete", "", "mark the agent run as incomplete with this reason")
	scoreCmd.Flags().BoolVar(&scoreAllowNoBase, "allow-no-baseline", false, "pass stack_integrity when no snapshot or task baseline exists")
	scoreCmd.Flags().BoolVar(&scoreWatch, "watch", false, "re-score whenever the workspace changes")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print the scorecard as JSON")
	_ = scoreCmd.MarkFlagRequired("task")
}

// loadWorkspaceSnapshot loads an explicit snapshot, or the default one next
// to the workspace if it exists. A missing default is not an error; stack
// integrity then fails unless the task carries baseline_scripts.
func loadWorkspaceSnapshot(workspace, explicit string) (*score.Snapshot, error) {
	if explicit != "" {
		return score.LoadSnapshot(explicit)
	}
	path, err := score.SnapshotPath(workspace)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return score.LoadSnapshot(path)
}

func scoreOnce(ctx context.Context, req score.Request, out string) error {
	sc, err := scoreWorkspace(ctx, req)
	if err != nil {
		return emitDegraded(req.Task, req.Task.Name, out, err)
	}
	if err := sc.Save(out); err != nil {
		return err
	}
	return printScorecard(sc, out)
}

// emitDegraded writes the all-zero scorecard and requests exit code 1.
func emitDegraded(spec *task.Spec, name, out string, cause error) error {
	logger.Error("scoring failed", "error", cause)
	sc := result.Degraded(spec, name, cause)
	if err := sc.Save(out); err != nil {
		return fmt.Errorf("writing degraded scorecard: %w (scoring error: %v)", err, cause)
	}
	if err := printScorecard(sc, out); err != nil {
		return err
	}
	return &exitError{code: 1}
}

func printScorecard(sc *result.Scorecard, out string) error {
	if scoreJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sc)
	}
	fmt.Print(sc.RenderTerminal())
	fmt.Printf(" Scorecard saved to: %s\n\n", out)
	return nil
}
