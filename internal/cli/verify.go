package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lemon07r/tally/internal/result"
	"github.com/lemon07r/tally/internal/task"
)

var verifyTask string

var verifyCmd = &cobra.Command{
	Use:   "verify <suite-dir>",
	Short: "Verify integrity of a saved suite",
	Long: `Verifies a suite directory against its attestation.

This command checks:
  1. Summary hash - summary.json was not modified after the suite finished
  2. Runs hash - the recorded runs match the attested runs
  3. Scorecards - each scored run's saved scorecard matches its recorded reward
  4. Task fingerprint - with --task, the suite ran against the same task version

Nothing is re-run; this only validates recorded data.

Examples:
  tally verify suites/20260301-120000Z__todo-app__claude__default__x5
  tally verify ./suite --task task.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := verifySuite(args[0], verifyTask)
		if err != nil {
			return err
		}
		fmt.Print(report.String())
		if report.failed > 0 {
			return &exitError{code: 1}
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyTask, "task", "t", "", "task file to compare the recorded fingerprint against")
}

type verifyReport struct {
	suiteID  string
	lines    []string
	passed   int
	failed   int
	warnings int
}

func (r *verifyReport) pass(format string, a ...any) {
	r.passed++
	r.lines = append(r.lines, " ✓ "+fmt.Sprintf(format, a...))
}

func (r *verifyReport) fail(format string, a ...any) {
	r.failed++
	r.lines = append(r.lines, " ✗ "+fmt.Sprintf(format, a...))
}

func (r *verifyReport) warn(format string, a ...any) {
	r.warnings++
	r.lines = append(r.lines, " ! "+fmt.Sprintf(format, a...))
}

func (r *verifyReport) String() string {
	out := "\n Verifying suite " + r.suiteID + "\n\n"
	for _, l := range r.lines {
		out += l + "\n"
	}
	out += "\n"
	if r.failed == 0 {
		out += fmt.Sprintf(" ✓ PASSED: %d checks passed", r.passed)
	} else {
		out += fmt.Sprintf(" ✗ FAILED: %d checks failed, %d passed", r.failed, r.passed)
	}
	if r.warnings > 0 {
		out += fmt.Sprintf(", %d warnings", r.warnings)
	}
	return out + "\n\n"
}

func verifySuite(dir, taskFile string) (*verifyReport, error) {
	att, err := result.LoadAttestation(dir)
	if err != nil {
		return nil, err
	}
	rec, summary, err := result.LoadSuite(dir)
	if err != nil {
		return nil, err
	}
	r := &verifyReport{suiteID: rec.SuiteID}

	if got := result.HashBytes(summary); got == att.SummaryHash {
		r.pass("summary hash matches")
	} else {
		r.fail("summary hash mismatch: expected %s, got %s", att.SummaryHash, got)
	}

	runsHash, err := rec.RunsHash()
	if err != nil {
		return nil, err
	}
	if runsHash == att.RunsHash {
		r.pass("runs hash matches")
	} else {
		r.fail("runs hash mismatch: expected %s, got %s", att.RunsHash, runsHash)
	}

	if rec.SuiteID != att.SuiteID {
		r.fail("suite id mismatch: attestation %s, summary %s", att.SuiteID, rec.SuiteID)
	}

	checked, mismatched, missing := 0, 0, 0
	for _, run := range rec.Runs {
		if !run.Scored() {
			continue
		}
		path := filepath.Join(dir, "runs", fmt.Sprintf("repeat-%02d-attempt-%d", run.RepeatIndex, run.Attempt), "scorecard.json")
		if _, err := os.Stat(path); err != nil {
			missing++
			continue
		}
		sc, err := result.LoadScorecard(path)
		if err != nil {
			return nil, err
		}
		checked++
		if sc.Reward != run.Scorecard.Reward || sc.RunID != run.Scorecard.RunID {
			mismatched++
			r.fail("repeat %d: saved scorecard does not match the recorded run", run.RepeatIndex)
		}
	}
	if mismatched == 0 {
		r.pass("%d scored run(s) match their saved scorecards", checked)
	}
	if missing > 0 {
		r.warn("%d scored run(s) have no saved scorecard", missing)
	}

	if taskFile != "" {
		spec, err := task.Load(taskFile)
		if err != nil {
			return nil, err
		}
		if fp := spec.Fingerprint(); fp == rec.TaskFingerprint {
			r.pass("task fingerprint matches")
		} else {
			r.fail("task fingerprint mismatch: suite %s, task %s", rec.TaskFingerprint, fp)
		}
	}

	if att.Version != Version {
		r.warn("recorded by tally %s, this is %s", att.Version, Version)
	}
	return r, nil
}
