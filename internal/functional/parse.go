package functional

import (
	"regexp"
	"strconv"
)

// ParseDetails records the largest value each pattern family matched, so a
// scorecard shows which phrasing produced the counts.
type ParseDetails struct {
	PassedByPattern map[string]int `json:"passed_by_pattern,omitempty"`
	FailedByPattern map[string]int `json:"failed_by_pattern,omitempty"`
}

// Counts holds parsed test counts.
type Counts struct {
	Passed  int
	Failed  int
	Details ParseDetails
}

// Test runners phrase their summaries differently and some print the same
// count more than once. Every family is tried and the maximum is kept.
var (
	passedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s+passed\b`),
		regexp.MustCompile(`(\d+)\s+pass\b`),
		regexp.MustCompile(`(?i)tests?:\s*(\d+)\s+passed`),
	}
	failedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s+failed\b`),
		regexp.MustCompile(`(\d+)\s+fail\b`),
		regexp.MustCompile(`(?i)tests?:\s*(\d+)\s+failed`),
	}
	noTestsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)no test files found`),
		regexp.MustCompile(`(?i)no tests found`),
		regexp.MustCompile(`(?i)(?:^|\s)0 tests?\b`),
	}
)

// ParseTestCounts extracts passed and failed counts from test output.
func ParseTestCounts(output string) Counts {
	passed, passedBy := maxMatch(passedPatterns, output)
	failed, failedBy := maxMatch(failedPatterns, output)
	return Counts{
		Passed:  passed,
		Failed:  failed,
		Details: ParseDetails{PassedByPattern: passedBy, FailedByPattern: failedBy},
	}
}

// NoTestsFound reports whether output says the runner found no tests.
func NoTestsFound(output string) bool {
	for _, re := range noTestsPatterns {
		if re.MatchString(output) {
			return true
		}
	}
	return false
}

func maxMatch(patterns []*regexp.Regexp, output string) (int, map[string]int) {
	best := 0
	var by map[string]int
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(output, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if by == nil {
				by = make(map[string]int)
			}
			if cur, ok := by[re.String()]; !ok || n > cur {
				by[re.String()] = n
			}
			if n > best {
				best = n
			}
		}
	}
	return best, by
}
