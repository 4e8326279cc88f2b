package functional

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/lemon07r/tally/internal/gate"
)

// DefaultSummaryPath is where istanbul-style reporters write their summary.
const DefaultSummaryPath = "coverage/coverage-summary.json"

// CoverageResult is the coverage dimension of a scorecard. Measured is a
// fraction in [0,1].
type CoverageResult struct {
	Threshold *float64 `json:"threshold"`
	Measured  *float64 `json:"measured"`
	Source    string   `json:"source,omitempty"`
	Passed    bool     `json:"passed"`
}

var (
	coveragePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Lines\s*:\s*([0-9]+(?:\.[0-9]+)?)%`),
		regexp.MustCompile(`(?i)Statements\s*:\s*([0-9]+(?:\.[0-9]+)?)%`),
		regexp.MustCompile(`(?i)Functions\s*:\s*([0-9]+(?:\.[0-9]+)?)%`),
		regexp.MustCompile(`(?i)Branches\s*:\s*([0-9]+(?:\.[0-9]+)?)%`),
		regexp.MustCompile(`coverage:\s*([0-9]+(?:\.[0-9]+)?)% of statements`),
	}
	coverageTable = regexp.MustCompile(`All files\s*\|\s*([0-9]+(?:\.[0-9]+)?)\s*\|\s*([0-9]+(?:\.[0-9]+)?)\s*\|\s*([0-9]+(?:\.[0-9]+)?)\s*\|\s*([0-9]+(?:\.[0-9]+)?)`)
)

// EvaluateCoverage measures coverage from the summary file at summaryPath
// (relative to workspace), falling back to coverage gate output. Both
// sources report the minimum across dimensions.
func EvaluateCoverage(workspace, summaryPath string, history gate.History, threshold *float64) CoverageResult {
	if summaryPath == "" {
		summaryPath = DefaultSummaryPath
	}

	measured, source := fromSummaryFile(workspace, summaryPath)
	if measured == nil {
		measured, source = fromGateHistory(history)
	}

	return CoverageResult{
		Threshold: threshold,
		Measured:  measured,
		Source:    source,
		Passed:    threshold == nil || (measured != nil && *measured >= *threshold),
	}
}

type coverageSummary struct {
	Total map[string]struct {
		Pct *float64 `json:"pct"`
	} `json:"total"`
}

func fromSummaryFile(workspace, rel string) (*float64, string) {
	data, err := os.ReadFile(filepath.Join(workspace, rel))
	if err != nil {
		return nil, ""
	}
	var summary coverageSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, ""
	}

	var values []float64
	for _, key := range []string{"lines", "statements", "functions", "branches"} {
		if m, ok := summary.Total[key]; ok && m.Pct != nil {
			values = append(values, *m.Pct)
		}
	}
	if len(values) == 0 {
		return nil, ""
	}
	return minFraction(values), filepath.ToSlash(rel)
}

func fromGateHistory(history gate.History) (*float64, string) {
	for i := len(history) - 1; i >= 0; i-- {
		ev := history[i]
		hint := strings.ToLower(ev.GateName + " " + ev.Command)
		if !strings.Contains(hint, "coverage") {
			continue
		}
		if v := ParseCoveragePercent(ev.Stdout + "\n" + ev.Stderr); v != nil {
			return v, "gate:" + ev.GateName
		}
	}
	return nil, ""
}

// ParseCoveragePercent extracts the minimum coverage percentage from free
// text as a fraction, or nil if nothing matched.
func ParseCoveragePercent(output string) *float64 {
	var values []float64
	for _, re := range coveragePatterns {
		for _, m := range re.FindAllStringSubmatch(output, -1) {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				values = append(values, v)
			}
		}
	}
	if m := coverageTable.FindStringSubmatch(output); m != nil {
		for _, s := range m[1:] {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		return nil
	}
	return minFraction(values)
}

func minFraction(values []float64) *float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	f := m / 100
	return &f
}
