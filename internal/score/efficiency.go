// Package score combines the per-dimension results of a run into a
// scorecard: efficiency, weighted quality, qualification checks, reward,
// and the stack-integrity and scaffold audits that guard them.
package score

import (
	"math"

	"github.com/lemon07r/tally/internal/gate"
	"github.com/lemon07r/tally/internal/result"
)

// Efficiency penalties.
const (
	failureNormalizer = 4.0
	repeatPenalty     = 0.2
)

// Efficiency scores a gate history.
func Efficiency(history gate.History) result.Efficiency {
	failures := history.Failures()
	repeats := history.RepeatFailures()
	return result.Efficiency{
		TotalGateFailures:       failures,
		UniqueFailureCategories: len(history.Categories()),
		RepeatFailures:          repeats,
		Score:                   EfficiencyScore(failures, repeats),
	}
}

// EfficiencyScore is 1 - failures/4 - repeats*0.2, clamped to [0,1] and
// rounded to three decimals.
func EfficiencyScore(failures, repeats int) float64 {
	s := 1 - float64(failures)/failureNormalizer - float64(repeats)*repeatPenalty
	return round(clamp(s), 3)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
