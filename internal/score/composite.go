package score

import (
	"fmt"
	"strings"

	"github.com/lemon07r/tally/internal/compliance"
	"github.com/lemon07r/tally/internal/functional"
	"github.com/lemon07r/tally/internal/gate"
	"github.com/lemon07r/tally/internal/result"
	"github.com/lemon07r/tally/internal/task"
	"github.com/lemon07r/tally/internal/visual"
)

// Dimensions are the four per-dimension scores, each in [0,1].
type Dimensions struct {
	Functional float64
	Compliance float64
	Visual     float64
	Efficiency float64
}

// Quality combines dimension scores with already-effective weights. Callers
// obtain w from task.Weights.Effective so an unconfigured visual dimension
// carries zero weight.
func Quality(d Dimensions, w task.Weights) float64 {
	q := d.Functional*w.Functional +
		d.Compliance*w.Compliance +
		d.Visual*w.Visual +
		d.Efficiency*w.Efficiency
	return round(clamp(q), 4)
}

// Reward is the quality score when every qualification check passed, else 0.
func Reward(quality float64, checks []result.Check) float64 {
	if len(checks) == 0 {
		return 0
	}
	for _, c := range checks {
		if !c.Passed {
			return 0
		}
	}
	return quality
}

// QualificationInput gathers everything the qualification checks inspect.
type QualificationInput struct {
	RunIncomplete   string // Non-empty when the run did not complete, with the reason
	History         gate.History
	GatesConfigured int
	Functional      *functional.Result
	Coverage        functional.CoverageResult
	Visual          *visual.Result
	Requirements    *compliance.RequirementResult
	Quality         float64
	MinQuality      float64
	Integrity       result.StackIntegrity
}

// Qualify evaluates the boolean qualification checks. The list always
// contains every check in a fixed order.
func Qualify(in QualificationInput) []result.Check {
	checks := make([]result.Check, 0, 9)
	add := func(name string, passed bool, detail string) {
		checks = append(checks, result.Check{Name: name, Passed: passed, Detail: detail})
	}

	if in.RunIncomplete != "" {
		add(result.CheckRunCompleted, false, in.RunIncomplete)
	} else {
		add(result.CheckRunCompleted, true, "run completed")
	}

	failed := in.History.Failures()
	switch {
	case failed > 0:
		add(result.CheckGatesPassed, false, fmt.Sprintf("%d of %d executed gates failed", failed, len(in.History)))
	case len(in.History) < in.GatesConfigured:
		add(result.CheckGatesPassed, false, fmt.Sprintf("only %d of %d gates executed", len(in.History), in.GatesConfigured))
	default:
		add(result.CheckGatesPassed, true, fmt.Sprintf("%d/%d gates passed", len(in.History), in.GatesConfigured))
	}

	if f := in.Functional; f != nil {
		detail := fmt.Sprintf("build %s, tests %d/%d", okWord(f.BuildSucceeded), f.TestsPassed, f.TestsTotal)
		if f.NoTestsFound {
			detail = fmt.Sprintf("build %s, no tests found", okWord(f.BuildSucceeded))
		}
		add(result.CheckFunctionalPassed, f.Passed, detail)
	} else {
		add(result.CheckFunctionalPassed, false, "not evaluated")
	}

	add(result.CheckCoverageMet, in.Coverage.Passed, coverageDetail(in.Coverage))
	add(result.CheckVisualMet, visualMet(in.Visual), visualDetail(in.Visual))

	if r := in.Requirements; r != nil {
		if r.AllPresent() {
			add(result.CheckRequirementsPresent, true, fmt.Sprintf("%d/%d requirements present", r.SatisfiedRequirements, r.TotalRequirements))
		} else {
			add(result.CheckRequirementsPresent, false, "missing: "+strings.Join(r.MissingRequirementIDs, ", "))
		}
		if r.AllMapped() {
			add(result.CheckRequirementTestsMapped, true, fmt.Sprintf("%d/%d requirements mapped to tests", r.MappedRequirements, r.TotalRequirements))
		} else {
			add(result.CheckRequirementTestsMapped, false, "test gaps: "+strings.Join(r.RequirementGapIDs, ", "))
		}
	} else {
		add(result.CheckRequirementsPresent, false, "not evaluated")
		add(result.CheckRequirementTestsMapped, false, "not evaluated")
	}

	add(result.CheckMinQualityMet, in.Quality >= in.MinQuality,
		fmt.Sprintf("quality %.4f, minimum %.4f", in.Quality, in.MinQuality))
	add(result.CheckStackIntegrity, in.Integrity.Passed, in.Integrity.Detail)

	return checks
}

func okWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func coverageDetail(c functional.CoverageResult) string {
	switch {
	case c.Threshold == nil:
		return "no threshold configured"
	case c.Measured == nil:
		return fmt.Sprintf("coverage not found, threshold %.1f%%", *c.Threshold*100)
	default:
		return fmt.Sprintf("%.1f%% measured from %s, threshold %.1f%%", *c.Measured*100, c.Source, *c.Threshold*100)
	}
}

func visualMet(v *visual.Result) bool {
	if v == nil || v.ThresholdMet == nil {
		return true
	}
	return *v.ThresholdMet
}

func visualDetail(v *visual.Result) string {
	switch {
	case v == nil:
		return "visual not configured"
	case v.ThresholdMet == nil:
		return fmt.Sprintf("similarity %.4f, no threshold", v.Similarity)
	case v.CaptureError != nil:
		return "capture failed: " + firstLine(*v.CaptureError)
	default:
		return fmt.Sprintf("similarity %.4f, threshold %.4f", v.Similarity, *v.Threshold)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
