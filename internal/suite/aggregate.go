package suite

import (
	"math"
	"sort"

	"github.com/lemon07r/tally/internal/result"
)

// Aggregate recomputes suite statistics from the full run set. Only scored
// runs contribute to metrics; voided attempts are counted, never averaged.
func Aggregate(runs []result.RunRecord) result.Aggregate {
	agg := result.Aggregate{
		Metrics:       map[string]result.Stats{},
		RunCountTotal: len(runs),
	}

	values := make(map[string][]float64)
	for i := range runs {
		r := &runs[i]
		for _, a := range r.Attempts {
			if a.Voided {
				agg.VoidCount++
			}
		}
		if r.RepeatRequired {
			agg.RepeatRequiredCount++
		}
		if !r.Scored() {
			continue
		}
		agg.RunCountScored++

		sc := r.Scorecard
		if sc.ValidityPassed() {
			agg.ValidCount++
		}
		if sc.PerformancePassed() {
			agg.PerformancePassCount++
		}
		values["quality_score"] = append(values["quality_score"], sc.QualityScore)
		values["reward"] = append(values["reward"], sc.Reward)
		values["functional"] = append(values["functional"], sc.Functional.Score)
		values["compliance"] = append(values["compliance"], sc.Compliance.Score)
		values["efficiency"] = append(values["efficiency"], sc.Efficiency.Score)
		if sc.Visual != nil {
			values["visual"] = append(values["visual"], sc.Visual.Similarity)
		}
		if sc.Coverage.Measured != nil {
			values["coverage"] = append(values["coverage"], *sc.Coverage.Measured)
		}
		if !sc.StartedAt.IsZero() && !sc.CompletedAt.IsZero() {
			values["duration_sec"] = append(values["duration_sec"], sc.CompletedAt.Sub(sc.StartedAt).Seconds())
		}
	}

	for name, vals := range values {
		agg.Metrics[name] = Summarize(vals)
	}
	scored := max(1, agg.RunCountScored)
	agg.ValidityRate = round6(float64(agg.ValidCount) / float64(scored))
	agg.PerformancePassRate = round6(float64(agg.PerformancePassCount) / float64(scored))
	return agg
}

// Retry computes the retry bookkeeping for runs against a repeat target.
func Retry(runs []result.RunRecord, target int) result.RetrySummary {
	rs := result.RetrySummary{TargetScoredRuns: target}
	for i := range runs {
		r := &runs[i]
		rs.RetriesUsed += r.RetriesUsed
		switch {
		case r.Scored():
			rs.AchievedScoredRuns++
		case r.State == result.StateVoidedFinal:
			rs.UnresolvedVoidCount++
		}
	}
	rs.TargetMet = rs.AchievedScoredRuns >= target && rs.UnresolvedVoidCount == 0
	return rs
}

// Summarize computes mean, median, population standard deviation, min and
// max, each rounded to six places.
func Summarize(vals []float64) result.Stats {
	if len(vals) == 0 {
		return result.Stats{}
	}
	return result.Stats{
		N:      len(vals),
		Mean:   round6(mean(vals)),
		Median: round6(median(vals)),
		StdDev: round6(stddev(vals)),
		Min:    round6(minVal(vals)),
		Max:    round6(maxVal(vals)),
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	sum := 0.0
	for _, v := range vals {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(vals)))
}

func minVal(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxVal(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
