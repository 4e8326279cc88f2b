package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lemon07r/tally/internal/result"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <scorecard.json|score-dir|suite-dir>",
	Short: "Display a scorecard or suite",
	Long: `Shows a saved scorecard or suite summary.

Examples:
  tally show ./ws/.tally/score
  tally show suites/20260301-120000Z__todo-app__claude__default__x5
  tally show results/scorecard.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadShowable(args[0])
		if err != nil {
			return err
		}

		if showJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}

		switch x := v.(type) {
		case *result.SuiteRecord:
			fmt.Print(x.RenderTerminal())
		case *result.Scorecard:
			fmt.Print(x.RenderTerminal())
		}
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output as JSON")
}

// loadShowable resolves path to a suite record or a scorecard.
func loadShowable(path string) (any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return result.LoadScorecard(path)
	}
	if _, err := os.Stat(filepath.Join(path, "summary.json")); err == nil {
		rec, _, err := result.LoadSuite(path)
		return rec, err
	}
	if _, err := os.Stat(filepath.Join(path, "scorecard.json")); err == nil {
		return result.LoadScorecard(filepath.Join(path, "scorecard.json"))
	}
	return nil, fmt.Errorf("%s has neither summary.json nor scorecard.json", path)
}
