package compliance

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lemon07r/tally/internal/task"
)

// RequirementResult aggregates requirement satisfaction and test mapping.
type RequirementResult struct {
	TotalRequirements           int                 `json:"total_requirements"`
	SatisfiedRequirements       int                 `json:"satisfied_requirements"`
	MappedRequirements          int                 `json:"mapped_requirements"`
	MappedSatisfiedRequirements int                 `json:"mapped_satisfied_requirements"`
	MissingRequirementIDs       []string            `json:"missing_requirement_ids"`
	RequirementGapIDs           []string            `json:"requirement_gap_ids"`
	RequirementPatternGaps      map[string][]string `json:"requirement_pattern_gaps"`
	PresenceRatio               float64             `json:"presence_ratio"`
	MappingRatio                float64             `json:"mapping_ratio"`
	Details                     []RequirementDetail `json:"details,omitempty"`
}

// RequirementDetail is the per-requirement outcome.
type RequirementDetail struct {
	ID              string      `json:"id"`
	Check           CheckResult `json:"check"`
	Mapped          bool        `json:"mapped"`
	MissingPatterns []string    `json:"missing_patterns,omitempty"`
}

// AllPresent reports whether every requirement is satisfied in source.
func (r *RequirementResult) AllPresent() bool {
	return len(r.MissingRequirementIDs) == 0
}

// AllMapped reports whether no requirement has a test-pattern gap.
func (r *RequirementResult) AllMapped() bool {
	return len(r.RequirementGapIDs) == 0
}

// MapRequirements checks each requirement against source and its required
// test patterns against test files. Satisfaction and mapping are tracked
// independently.
func (e *Evaluator) MapRequirements(workspace string, reqs []task.Requirement) (*RequirementResult, error) {
	res := &RequirementResult{
		TotalRequirements:      len(reqs),
		MissingRequirementIDs:  []string{},
		RequirementGapIDs:      []string{},
		RequirementPatternGaps: map[string][]string{},
		PresenceRatio:          1,
		MappingRatio:           1,
	}
	if len(reqs) == 0 {
		return res, nil
	}

	tree, err := loadSourceTree(workspace, e.opts.SourceDirs, e.opts.Extensions)
	if err != nil {
		return nil, fmt.Errorf("scanning sources: %w", err)
	}
	tests := tree.tests(e.opts.TestMarkers)

	for _, req := range reqs {
		check := e.runCheck(workspace, tree, req.Check)
		check.Rule = req.ID + ": " + check.Rule

		var missing []string
		for _, p := range req.RequiredTestPatterns {
			if !testsContain(tests, p) {
				missing = append(missing, p)
			}
		}
		mapped := len(req.RequiredTestPatterns) > 0 && len(missing) == 0

		if check.Passed {
			res.SatisfiedRequirements++
		} else {
			res.MissingRequirementIDs = append(res.MissingRequirementIDs, req.ID)
		}
		if mapped {
			res.MappedRequirements++
			if check.Passed {
				res.MappedSatisfiedRequirements++
			}
		} else {
			res.RequirementGapIDs = append(res.RequirementGapIDs, req.ID)
			if len(missing) > 0 {
				res.RequirementPatternGaps[req.ID] = missing
			}
		}

		res.Details = append(res.Details, RequirementDetail{
			ID:              req.ID,
			Check:           check,
			Mapped:          mapped,
			MissingPatterns: missing,
		})
	}

	res.PresenceRatio = ratio(res.SatisfiedRequirements, res.TotalRequirements)
	res.MappingRatio = ratio(res.MappedRequirements, res.TotalRequirements)
	return res, nil
}

// testsContain matches a test pattern case-insensitively as a multiline
// regex. Patterns that are not valid regexes match literally.
func testsContain(tests []sourceFile, pattern string) bool {
	re, err := regexp.Compile("(?im)" + pattern)
	if err != nil {
		lower := strings.ToLower(pattern)
		for _, f := range tests {
			if strings.Contains(strings.ToLower(f.Content), lower) {
				return true
			}
		}
		return false
	}
	for _, f := range tests {
		if re.MatchString(f.Content) {
			return true
		}
	}
	return false
}
