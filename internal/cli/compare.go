package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemon07r/tally/internal/result"
)

var compareOutputFile string

var compareCmd = &cobra.Command{
	Use:   "compare <suite-dir> <suite-dir> [suite-dir...]",
	Short: "Compare suites side by side",
	Long: `Compares two or more suite directories, typically the same task run by
different agents or models, and prints their aggregates side by side.`,
	Example: `  tally compare suites/*__todo-app__claude__* suites/*__todo-app__codex__*
  tally compare ./suite-a ./suite-b -o comparison.json`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var suites []*result.SuiteRecord
		for _, dir := range args {
			rec, _, err := result.LoadSuite(dir)
			if err != nil {
				return fmt.Errorf("loading suite from %s: %w", dir, err)
			}
			suites = append(suites, rec)
		}

		comparison := generateComparison(suites)

		if compareOutputFile != "" {
			data, err := json.MarshalIndent(comparison, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(compareOutputFile, data, 0o644); err != nil {
				return err
			}
			fmt.Printf(" Comparison saved to: %s\n", compareOutputFile)
		}

		writeComparisonReport(os.Stdout, comparison)
		return nil
	},
}

func init() {
	compareCmd.Flags().StringVarP(&compareOutputFile, "output", "o", "", "write comparison JSON to file")
}

// Comparison holds a side-by-side comparison of suites.
type Comparison struct {
	Suites      []ComparisonSuite             `json:"suites"`
	Metrics     map[string]map[string]float64 `json:"metrics"`
	BestSuite   string                        `json:"best_suite"`
	BestQuality float64                       `json:"best_mean_quality"`
	MixedTasks  bool                          `json:"mixed_tasks"`
}

// ComparisonSuite is one column of a comparison.
type ComparisonSuite struct {
	ID                  string  `json:"id"`
	SuiteID             string  `json:"suite_id"`
	Task                string  `json:"task"`
	Harness             string  `json:"harness"`
	Model               string  `json:"model"`
	Scored              int     `json:"scored"`
	Repeats             int     `json:"repeats"`
	VoidCount           int     `json:"void_count"`
	MeanReward          float64 `json:"mean_reward"`
	StdDevReward        float64 `json:"stddev_reward"`
	MeanQuality         float64 `json:"mean_quality"`
	ValidityRate        float64 `json:"validity_rate"`
	PerformancePassRate float64 `json:"performance_pass_rate"`
	TargetMet           bool    `json:"target_met"`
}

func generateComparison(suites []*result.SuiteRecord) Comparison {
	c := Comparison{Metrics: make(map[string]map[string]float64)}
	fingerprints := make(map[string]bool)

	for _, s := range suites {
		id := s.Harness
		if s.Model != "" {
			id += "/" + s.Model
		}
		agg := s.Aggregate
		cs := ComparisonSuite{
			ID:                  id,
			SuiteID:             s.SuiteID,
			Task:                s.Task,
			Harness:             s.Harness,
			Model:               s.Model,
			Scored:              s.Retry.AchievedScoredRuns,
			Repeats:             s.Repeats,
			VoidCount:           agg.VoidCount,
			MeanReward:          agg.Metrics["reward"].Mean,
			StdDevReward:        agg.Metrics["reward"].StdDev,
			MeanQuality:         agg.Metrics["quality_score"].Mean,
			ValidityRate:        agg.ValidityRate,
			PerformancePassRate: agg.PerformancePassRate,
			TargetMet:           s.Retry.TargetMet,
		}
		c.Suites = append(c.Suites, cs)
		fingerprints[s.Task+"\x00"+s.TaskFingerprint] = true

		if c.BestSuite == "" || cs.MeanQuality > c.BestQuality {
			c.BestQuality = cs.MeanQuality
			c.BestSuite = id
		}

		for name, st := range agg.Metrics {
			if c.Metrics[name] == nil {
				c.Metrics[name] = make(map[string]float64)
			}
			c.Metrics[name][id] = st.Mean
		}
	}
	c.MixedTasks = len(fingerprints) > 1
	return c
}

// writeComparisonReport writes a human-readable comparison report.
func writeComparisonReport(w io.Writer, c Comparison) {
	fmt.Fprintf(w, "### Suite Comparison\n\n")
	if c.MixedTasks {
		fmt.Fprintf(w, "> ⚠ These suites ran different tasks or task versions.\n\n")
	}

	fmt.Fprintf(w, "| Harness | Model | Task | Scored | Voids | Reward | Quality | Validity | Performance |\n")
	fmt.Fprintf(w, "|---------|-------|------|--------|-------|--------|---------|----------|-------------|\n")
	for _, s := range c.Suites {
		best := ""
		if s.ID == c.BestSuite {
			best = " 🏆"
		}
		model := s.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "| %s%s | %s | %s | %d/%d | %d | %.3f ± %.3f | %.3f | %.1f%% | %.1f%% |\n",
			s.Harness, best, model, s.Task, s.Scored, s.Repeats, s.VoidCount,
			s.MeanReward, s.StdDevReward, s.MeanQuality, s.ValidityRate*100, s.PerformancePassRate*100)
	}
	fmt.Fprintln(w)

	if len(c.Metrics) == 0 {
		return
	}
	fmt.Fprintf(w, "### Mean per Metric\n\n")
	fmt.Fprintf(w, "| Metric |")
	for _, s := range c.Suites {
		fmt.Fprintf(w, " %s |", s.ID)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "|--------|%s\n", strings.Repeat("------|", len(c.Suites)))

	for _, name := range result.MetricNames {
		row, ok := c.Metrics[name]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "| %s |", name)
		for _, s := range c.Suites {
			if v, ok := row[s.ID]; ok {
				fmt.Fprintf(w, " %.3f |", v)
			} else {
				fmt.Fprintf(w, " — |")
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}
