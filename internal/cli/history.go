package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lemon07r/tally/internal/store"
)

var (
	historyTask    string
	historyHarness string
	historyLimit   int
	historyJSON    bool
)

var historyCmd = &cobra.Command{
	Use:   "history [suite-id]",
	Short: "List recorded suites",
	Long: `Lists suites recorded in the history database ([store].path), newest
first. With a suite id, shows that suite and its runs.

Examples:
  tally history
  tally history --task todo-app --limit 5
  tally history 20260301-120000Z__todo-app__claude__default__x5`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer func() { _ = st.Close() }()

		if len(args) == 1 {
			return showRecordedSuite(context.Background(), st, args[0])
		}

		suites, err := st.ListSuites(context.Background(), store.Filter{
			Task:    historyTask,
			Harness: historyHarness,
			Limit:   historyLimit,
		})
		if err != nil {
			return err
		}

		if historyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(suites)
		}
		return historyTable(suites)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyTask, "task", "", "filter by task name")
	historyCmd.Flags().StringVar(&historyHarness, "harness", "", "filter by harness (agent)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum suites to show (0 = all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output as JSON")
}

func historyTable(suites []store.SuiteSummary) error {
	if len(suites) == 0 {
		fmt.Println("No suites recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTASK\tHARNESS\tMODEL\tSCORED\tVOIDS\tREWARD\tQUALITY\tTARGET")
	fmt.Fprintln(w, "----\t----\t-------\t-----\t------\t-----\t------\t-------\t------")
	for _, s := range suites {
		target := "✗"
		if s.TargetMet {
			target = "✓"
		}
		model := s.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%.3f\t%.3f\t%s\n",
			humanize.Time(s.CreatedAt), s.Task, s.Harness, model,
			s.Scored, s.Repeats, s.VoidCount, s.MeanReward, s.MeanQuality, target)
	}
	return w.Flush()
}

func showRecordedSuite(ctx context.Context, st *store.Store, id string) error {
	s, err := st.GetSuite(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("suite %s is not recorded", id)
	}
	if err != nil {
		return err
	}
	runs, err := st.Runs(ctx, id)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			store.SuiteSummary
			Runs []store.RunSummary `json:"runs"`
		}{s, runs})
	}

	fmt.Printf("%s\n", s.SuiteID)
	fmt.Printf("  recorded: %s (%s)\n", s.CreatedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(s.CreatedAt))
	fmt.Printf("  scored:   %d/%d, %d voids, %d retries\n", s.Scored, s.Repeats, s.VoidCount, s.RetriesUsed)
	if s.Dir != "" {
		fmt.Printf("  dir:      %s\n", s.Dir)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPEAT\tATTEMPT\tSTATE\tREWARD\tQUALITY\tVOID REASONS")
	for _, r := range runs {
		reasons := strings.Join(r.VoidReasons, ",")
		if reasons == "" {
			reasons = "-"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%.3f\t%.3f\t%s\n", r.RepeatIndex, r.Attempt, r.State, r.Reward, r.QualityScore, reasons)
	}
	return w.Flush()
}
