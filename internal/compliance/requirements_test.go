package compliance

import (
	"reflect"
	"testing"

	"github.com/lemon07r/tally/internal/task"
)

func TestMapRequirementsEmpty(t *testing.T) {
	t.Parallel()

	res, err := newEvaluator(nil).MapRequirements(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("MapRequirements() error = %v", err)
	}
	if res.PresenceRatio != 1 || res.MappingRatio != 1 {
		t.Errorf("ratios = %v/%v, want 1/1", res.PresenceRatio, res.MappingRatio)
	}
	if !res.AllPresent() || !res.AllMapped() {
		t.Error("empty requirement set should be fully present and mapped")
	}
}

func TestMapRequirements(t *testing.T) {
	t.Parallel()

	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"src/app/page.tsx":      "export default function Home(){ return <h1>Get Started</h1>; }",
		"src/app/page.test.tsx": "it('renders CTA', () => { expect('nav-link-about').toBeTruthy(); expect('nav-link-contact').toBeTruthy(); })",
	})

	reqs := []task.Requirement{
		{
			ID:                   "req-cta",
			Check:                task.Check{Kind: task.ImportPresent, Pattern: "Get Started"},
			RequiredTestPatterns: []string{"CTA", "Get Started"},
		},
		{
			ID:                   "req-nav",
			Check:                task.Check{Kind: task.ImportPresent, Pattern: "Get Started"},
			RequiredTestPatterns: []string{"About", "Contact"},
		},
		{
			ID:                   "req-footer",
			Check:                task.Check{Kind: task.ImportPresent, Pattern: "<footer"},
			RequiredTestPatterns: []string{"footer"},
		},
	}

	res, err := newEvaluator(nil).MapRequirements(ws, reqs)
	if err != nil {
		t.Fatalf("MapRequirements() error = %v", err)
	}

	if res.TotalRequirements != 3 {
		t.Errorf("TotalRequirements = %d, want 3", res.TotalRequirements)
	}
	if res.SatisfiedRequirements != 2 {
		t.Errorf("SatisfiedRequirements = %d, want 2", res.SatisfiedRequirements)
	}
	if res.MappedRequirements != 1 || res.MappedSatisfiedRequirements != 1 {
		t.Errorf("mapped = %d/%d, want 1/1", res.MappedRequirements, res.MappedSatisfiedRequirements)
	}
	if want := []string{"req-footer"}; !reflect.DeepEqual(res.MissingRequirementIDs, want) {
		t.Errorf("MissingRequirementIDs = %v, want %v", res.MissingRequirementIDs, want)
	}
	if want := []string{"req-cta", "req-footer"}; !reflect.DeepEqual(res.RequirementGapIDs, want) {
		t.Errorf("RequirementGapIDs = %v, want %v", res.RequirementGapIDs, want)
	}
	wantGaps := map[string][]string{"req-cta": {"Get Started"}, "req-footer": {"footer"}}
	if !reflect.DeepEqual(res.RequirementPatternGaps, wantGaps) {
		t.Errorf("RequirementPatternGaps = %v, want %v", res.RequirementPatternGaps, wantGaps)
	}
	if res.PresenceRatio != 2.0/3.0 || res.MappingRatio != 1.0/3.0 {
		t.Errorf("ratios = %v/%v", res.PresenceRatio, res.MappingRatio)
	}
}
