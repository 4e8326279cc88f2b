package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lemon07r/tally/tasks"
)

var (
	initOutput string
	initName   string
	initForce  bool
)

// starterFiles is the order init writes files in.
var starterFiles = []string{"task.yaml", "tally.toml"}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter task specification and config",
	Long: `Creates task.yaml and tally.toml with commented defaults to edit.

Example:
  tally init
  tally init -o ./bench --name todo-app`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := writeStarterFiles(initOutput, initName, initForce)
		if err != nil {
			return err
		}
		for _, f := range written {
			fmt.Printf("Wrote %s\n", f)
		}
		fmt.Println("\nNext steps:")
		fmt.Println("  1. Edit task.yaml for your task")
		fmt.Println("  2. Run: tally validate task.yaml")
		fmt.Println("  3. Run: tally score <workspace> --task task.yaml")
		return nil
	},
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", ".", "output directory")
	initCmd.Flags().StringVar(&initName, "name", "my-task", "task name")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
}

func writeStarterFiles(dir, name string, force bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	files, err := tasks.Starter(name)
	if err != nil {
		return nil, err
	}
	var written []string
	for _, fname := range starterFiles {
		body, ok := files[fname]
		if !ok {
			return written, fmt.Errorf("starter file %s is not embedded", fname)
		}
		path := filepath.Join(dir, fname)
		if _, err := os.Stat(path); err == nil && !force {
			return written, fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return written, err
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
