package result

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func mark(ok bool) string {
	if ok {
		return passStyle.Render("✓")
	}
	return failStyle.Render("✗")
}

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-14s", label)) + " " + value
}

// RenderTerminal renders a compact coloured scorecard summary.
func (s *Scorecard) RenderTerminal() string {
	var lines []string

	status := failStyle.Render("NOT QUALIFIED")
	if s.QualificationPassed() {
		status = passStyle.Render("QUALIFIED")
	}
	lines = append(lines,
		titleStyle.Render(s.Task)+"  "+status,
		row("reward", FormatReward(s.Reward)),
		row("quality", fmt.Sprintf("%.3f", s.QualityScore)),
		row("functional", fmt.Sprintf("%.3f (tests %d/%d, build %v)", s.Functional.Score, s.Functional.TestsPassed, s.Functional.TestsTotal, s.Functional.BuildSucceeded)),
		row("compliance", fmt.Sprintf("%.3f (%d checks)", s.Compliance.Score, len(s.Compliance.Checks))),
	)
	if s.Visual != nil {
		lines = append(lines, row("visual", fmt.Sprintf("%.3f", s.Visual.Similarity)))
	} else {
		lines = append(lines, row("visual", labelStyle.Render("n/a")))
	}
	lines = append(lines, row("efficiency", fmt.Sprintf("%.3f (%d failures, %d repeats)", s.Efficiency.Score, s.Efficiency.TotalGateFailures, s.Efficiency.RepeatFailures)))
	if s.Coverage.Measured != nil {
		lines = append(lines, row("coverage", fmt.Sprintf("%.1f%%", *s.Coverage.Measured*100)))
	}
	if s.Error != "" {
		lines = append(lines, row("error", warnStyle.Render(s.Error)))
	}

	lines = append(lines, "")
	for _, c := range s.Qualification {
		lines = append(lines, fmt.Sprintf("%s %s %s", mark(c.Passed), c.Name, labelStyle.Render(c.Detail)))
	}

	return boxStyle.Render(strings.Join(lines, "\n"))
}

// RenderTerminal renders a suite summary with per-run states.
func (s *SuiteRecord) RenderTerminal() string {
	var lines []string

	target := failStyle.Render("target not met")
	if s.Retry.TargetMet {
		target = passStyle.Render("target met")
	}
	lines = append(lines,
		titleStyle.Render(s.SuiteID),
		row("scored", fmt.Sprintf("%d/%d  %s", s.Retry.AchievedScoredRuns, s.Retry.TargetScoredRuns, target)),
		row("voids", fmt.Sprintf("%d (%d unresolved, %d retries)", s.Aggregate.VoidCount, s.Retry.UnresolvedVoidCount, s.Retry.RetriesUsed)),
		row("validity", fmt.Sprintf("%.1f%%", s.Aggregate.ValidityRate*100)),
	)
	for _, name := range []string{"reward", "quality_score"} {
		if st, ok := s.Aggregate.Metrics[name]; ok {
			lines = append(lines, row(name, fmt.Sprintf("mean %.3f  median %.3f  sd %.3f", st.Mean, st.Median, st.StdDev)))
		}
	}

	lines = append(lines, "")
	for _, r := range s.Runs {
		var state string
		switch r.State {
		case StateScored:
			state = passStyle.Render(string(r.State))
		case StateVoidedFinal, StateVoided:
			state = failStyle.Render(string(r.State))
		default:
			state = warnStyle.Render(string(r.State))
		}
		line := fmt.Sprintf("repeat %02d  %-12s", r.RepeatIndex, state)
		if r.Scored() {
			line += " reward " + FormatReward(r.Scorecard.Reward)
		}
		if len(r.VoidReasons) > 0 {
			line += " " + labelStyle.Render(strings.Join(r.VoidReasons, ","))
		}
		lines = append(lines, line)
	}

	return boxStyle.Render(strings.Join(lines, "\n"))
}
