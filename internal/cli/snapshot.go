package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lemon07r/tally/internal/score"
	"github.com/lemon07r/tally/internal/task"
)

var (
	snapshotOutput string
	snapshotTask   string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <workspace>",
	Short: "Record the pre-run state of a workspace",
	Long: `Records package.json scripts, the lockfile hash and a scaffold manifest
before an agent runs. The default location sits next to the workspace, where
'tally score' finds it and the agent working inside the workspace cannot
reach it.

Examples:
  tally snapshot ./ws
  tally snapshot ./ws -o before.json --task task.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace := args[0]
		out := snapshotOutput
		if out == "" {
			var err error
			if out, err = score.SnapshotPath(workspace); err != nil {
				return err
			}
		}

		dirs, exts := cfg.Scoring.SourceDirs, cfg.Scoring.SourceExtensions
		if snapshotTask != "" {
			spec, err := task.Load(snapshotTask)
			if err != nil {
				return err
			}
			if len(spec.Source.Dirs) > 0 {
				dirs = spec.Source.Dirs
			}
			if len(spec.Source.Extensions) > 0 {
				exts = spec.Source.Extensions
			}
		}

		snap, err := score.TakeSnapshot(workspace, dirs, exts)
		if err != nil {
			return err
		}
		if err := snap.Save(out); err != nil {
			return err
		}

		var size int64
		for _, f := range snap.Files {
			size += f.Size
		}
		fmt.Printf("Snapshot of %s saved to %s\n", workspace, out)
		fmt.Printf("  scripts:  %d\n", len(snap.Scripts))
		if snap.Lockfile != "" {
			fmt.Printf("  lockfile: %s\n", snap.Lockfile)
		}
		fmt.Printf("  files:    %d (%s)\n", len(snap.Files), humanize.Bytes(uint64(size)))
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "", "output file (default: <workspace>.snapshot.json, next to the workspace)")
	snapshotCmd.Flags().StringVarP(&snapshotTask, "task", "t", "", "task file whose source dirs and extensions select manifest files")
}
