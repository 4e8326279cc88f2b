package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cleanForce  bool
	cleanSuites bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean [suite-dir...]",
	Short: "Remove attempt workspaces from suite directories",
	Long: `Removes the per-attempt workspaces that 'tally suite' creates, keeping
summary.json, README.md, attestation.json and the saved scorecards. With no
arguments every suite under [suite].output_dir is cleaned.

By default, shows what would be deleted and asks for confirmation.
Use --force to skip confirmation.

Examples:
  tally clean                     # Interactive cleanup of all suites
  tally clean suites/2026*        # Clean selected suites
  tally clean --suites            # Remove whole suite directories
  tally clean --force             # Skip confirmation prompts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		suiteDirs := args
		if len(suiteDirs) == 0 {
			var err error
			suiteDirs, err = findSuiteDirectories(cfg.Suite.OutputDir)
			if err != nil {
				return fmt.Errorf("finding suites: %w", err)
			}
		}

		var toDelete []string
		if cleanSuites {
			toDelete = suiteDirs
		} else {
			for _, dir := range suiteDirs {
				ws, err := findAttemptWorkspaces(dir)
				if err != nil {
					return err
				}
				toDelete = append(toDelete, ws...)
			}
		}

		if len(toDelete) == 0 {
			fmt.Println("Nothing to clean.")
			return nil
		}

		fmt.Println("The following directories will be deleted:")
		fmt.Println()
		for _, dir := range toDelete {
			fmt.Printf("  %s\n", dir)
		}
		fmt.Println()

		if !cleanForce {
			fmt.Print("Delete these directories? [y/N] ")
			reader := bufio.NewReader(os.Stdin)
			response, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "y" && response != "yes" {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		deleted := 0
		for _, dir := range toDelete {
			if err := os.RemoveAll(dir); err != nil {
				fmt.Printf("  Failed to delete %s: %v\n", dir, err)
			} else {
				fmt.Printf("  Deleted %s\n", dir)
				deleted++
			}
			// Attempt snapshots sit next to their workspace.
			if err := os.Remove(dir + ".snapshot.json"); err != nil && !os.IsNotExist(err) {
				fmt.Printf("  Failed to delete %s.snapshot.json: %v\n", dir, err)
			}
		}

		fmt.Printf("\nCleaned up %d directories.\n", deleted)
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false, "skip confirmation prompts")
	cleanCmd.Flags().BoolVar(&cleanSuites, "suites", false, "remove whole suite directories, not just workspaces")
}

var attemptWorkspace = regexp.MustCompile(`-repeat-\d{2,}(-attempt-\d+)?$`)

// findSuiteDirectories lists directories under root that hold a summary.json.
func findSuiteDirectories(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "summary.json")); err == nil {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

// findAttemptWorkspaces lists the attempt workspaces directly inside a suite.
func findAttemptWorkspaces(suiteDir string) ([]string, error) {
	entries, err := os.ReadDir(suiteDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", suiteDir, err)
	}
	var ws []string
	for _, e := range entries {
		if e.IsDir() && attemptWorkspace.MatchString(e.Name()) {
			ws = append(ws, filepath.Join(suiteDir, e.Name()))
		}
	}
	return ws, nil
}
