package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemon07r/tally/internal/task"
)

var validateCmd = &cobra.Command{
	Use:   "validate <task-file>",
	Short: "Validate a task specification",
	Long: `Loads a task specification, applies defaults and validates it. Unknown
check types, empty gate commands, invalid weights and out-of-range thresholds
are rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := task.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Print(describeTask(spec))
		return nil
	},
}

func describeTask(spec *task.Spec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "✓ %s is valid\n\n", spec.Name)
	fmt.Fprintf(&sb, "  fingerprint:   %s\n", spec.Fingerprint())

	gates := make([]string, 0, len(spec.Verification.Gates))
	for _, g := range spec.Verification.Gates {
		gates = append(gates, g.Name)
	}
	fmt.Fprintf(&sb, "  gates:         %d (%s), max failures %d\n", len(gates), strings.Join(gates, ", "), spec.Verification.MaxGateFailures)
	fmt.Fprintf(&sb, "  checks:        %d deterministic, %d judge criteria\n", len(spec.Compliance.DeterministicChecks), len(spec.Compliance.LLMJudgeRubric))
	fmt.Fprintf(&sb, "  requirements:  %d\n", len(spec.Compliance.Requirements))

	w := spec.Weights.Effective(spec.Visual != nil)
	fmt.Fprintf(&sb, "  weights:       functional %.3f, compliance %.3f, visual %.3f, efficiency %.3f\n", w.Functional, w.Compliance, w.Visual, w.Efficiency)
	if spec.Visual != nil {
		threshold := "observed only"
		if spec.Visual.Threshold != nil {
			threshold = fmt.Sprintf("threshold %.2f", *spec.Visual.Threshold)
		}
		fmt.Fprintf(&sb, "  visual:        %s (%s)\n", spec.Visual.ReferenceImage, threshold)
	}
	if t := spec.Verification.CoverageThreshold; t != nil {
		fmt.Fprintf(&sb, "  coverage:      >= %.0f%%\n", *t*100)
	}
	if bad := spec.InvalidPatterns(); len(bad) > 0 {
		fmt.Fprintf(&sb, "\n  ! no_pattern regexes that do not compile and will always fail: %s\n", strings.Join(bad, ", "))
	}
	return sb.String()
}
