package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// State is the lifecycle state of one repeat.
type State string

const (
	StatePending     State = "pending"
	StateRunning     State = "running"
	StateScored      State = "scored"
	StateVoided      State = "voided"
	StateRetried     State = "retried"
	StateVoidedFinal State = "voided_final"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateScored || s == StateVoidedFinal
}

// AttemptRecord summarizes one attempt of a repeat.
type AttemptRecord struct {
	Attempt     int       `json:"attempt"`
	RunID       string    `json:"run_id"`
	Workspace   string    `json:"workspace,omitempty"`
	Voided      bool      `json:"voided"`
	VoidReasons []string  `json:"void_reasons,omitempty"`
	Fault       string    `json:"fault,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// RunRecord is one repeat's full record. Scorecard is the scorecard of the
// last attempt, even when that attempt was voided.
type RunRecord struct {
	RunID          string          `json:"run_id"`
	RepeatIndex    int             `json:"repeat_index"`
	Attempt        int             `json:"attempt"`
	State          State           `json:"state"`
	Voided         bool            `json:"voided"`
	VoidReasons    []string        `json:"void_reasons"`
	RepeatRequired bool            `json:"repeat_required"`
	RetriesUsed    int             `json:"retries_used"`
	Workspace      string          `json:"workspace,omitempty"`
	Scorecard      *Scorecard      `json:"scorecard"`
	Attempts       []AttemptRecord `json:"attempts"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// Scored reports whether the run counts toward aggregate statistics.
func (r *RunRecord) Scored() bool {
	return r.State == StateScored && !r.Voided && r.Scorecard != nil
}

// Stats summarizes one metric over scored runs.
type Stats struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Aggregate holds suite-level statistics computed from scored runs only.
type Aggregate struct {
	Metrics              map[string]Stats `json:"metrics"`
	RunCountTotal        int              `json:"run_count_total"`
	RunCountScored       int              `json:"run_count_scored"`
	VoidCount            int              `json:"void_count"`
	RepeatRequiredCount  int              `json:"repeat_required_count"`
	ValidCount           int              `json:"valid_count"`
	PerformancePassCount int              `json:"performance_pass_count"`
	ValidityRate         float64          `json:"validity_rate"`
	PerformancePassRate  float64          `json:"performance_pass_rate"`
}

// RetrySummary is the suite's void and retry bookkeeping.
type RetrySummary struct {
	TargetScoredRuns    int  `json:"target_scored_runs"`
	AchievedScoredRuns  int  `json:"achieved_scored_runs"`
	RetriesUsed         int  `json:"retries_used"`
	UnresolvedVoidCount int  `json:"unresolved_void_count"`
	TargetMet           bool `json:"target_met"`
}

// SuiteRecord holds every run of one task, harness and model combination.
type SuiteRecord struct {
	SuiteID         string       `json:"suite_id"`
	Task            string       `json:"task"`
	TaskFingerprint string       `json:"task_fingerprint,omitempty"`
	Harness         string       `json:"harness"`
	Model           string       `json:"model,omitempty"`
	Repeats         int          `json:"repeats"`
	Parallel        int          `json:"parallel"`
	RetryVoid       bool         `json:"retry_void"`
	Cancelled       bool         `json:"cancelled,omitempty"`
	Runs            []RunRecord  `json:"runs"`
	Aggregate       Aggregate    `json:"aggregate"`
	Retry           RetrySummary `json:"retry"`
	CreatedAt       time.Time    `json:"created_at"`
	CompletedAt     time.Time    `json:"completed_at"`
}

// Attestation binds a saved suite's runs to a hash.
type Attestation struct {
	SuiteID     string    `json:"suite_id"`
	Algorithm   string    `json:"algorithm"`
	RunsHash    string    `json:"runs_hash"`
	SummaryHash string    `json:"summary_hash"`
	Version     string    `json:"tally_version"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunsHash hashes the JSON encoding of the suite's runs.
func (s *SuiteRecord) RunsHash() (string, error) {
	data, err := json.Marshal(s.Runs)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// SuiteID builds the canonical identifier
// YYYYmmdd-HHMMSSZ__task__harness__model__xN.
func SuiteID(at time.Time, taskName, harness, model string, repeats int) string {
	if model == "" {
		model = "default"
	}
	return fmt.Sprintf("%s__%s__%s__%s__x%d",
		at.UTC().Format("20060102-150405Z"),
		Slug(taskName), Slug(harness), Slug(model), repeats)
}

// Slug lowercases s and collapses characters unsafe in file names to dashes.
func Slug(s string) string {
	s = unsafeName.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

// SaveSuite writes summary.json, README.md and attestation.json to dir.
func (s *SuiteRecord) SaveSuite(dir, version string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating suite directory: %w", err)
	}

	summary, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling suite: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), summary, 0644); err != nil {
		return fmt.Errorf("writing summary.json: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(s.GenerateMarkdown()), 0644); err != nil {
		return fmt.Errorf("writing README.md: %w", err)
	}

	runsHash, err := s.RunsHash()
	if err != nil {
		return fmt.Errorf("hashing runs: %w", err)
	}
	att := Attestation{
		SuiteID:     s.SuiteID,
		Algorithm:   "blake3",
		RunsHash:    runsHash,
		SummaryHash: HashBytes(summary),
		Version:     version,
		CreatedAt:   time.Now().UTC(),
	}
	attData, err := json.MarshalIndent(att, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling attestation: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "attestation.json"), attData, 0644); err != nil {
		return fmt.Errorf("writing attestation.json: %w", err)
	}
	return nil
}

// LoadSuite reads summary.json from a suite directory.
func LoadSuite(dir string) (*SuiteRecord, []byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("reading summary.json: %w", err)
	}
	var s SuiteRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, nil, fmt.Errorf("parsing summary.json: %w", err)
	}
	return &s, data, nil
}

// LoadAttestation reads attestation.json from a suite directory.
func LoadAttestation(dir string) (*Attestation, error) {
	data, err := os.ReadFile(filepath.Join(dir, "attestation.json"))
	if err != nil {
		return nil, fmt.Errorf("reading attestation.json: %w", err)
	}
	var a Attestation
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing attestation.json: %w", err)
	}
	return &a, nil
}

// GenerateMarkdown renders the suite README.
func (s *SuiteRecord) GenerateMarkdown() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Suite %s\n\n", s.SuiteID)
	fmt.Fprintf(&sb, "- **Task:** %s\n", s.Task)
	fmt.Fprintf(&sb, "- **Harness:** %s\n", s.Harness)
	if s.Model != "" {
		fmt.Fprintf(&sb, "- **Model:** %s\n", s.Model)
	}
	fmt.Fprintf(&sb, "- **Repeats:** %d (parallel %d, retry void %v)\n", s.Repeats, s.Parallel, s.RetryVoid)
	fmt.Fprintf(&sb, "- **Created:** %s\n\n", s.CreatedAt.Format(time.RFC3339))

	target := "❌ not met"
	if s.Retry.TargetMet {
		target = "✅ met"
	}
	sb.WriteString("## Retry bookkeeping\n\n")
	fmt.Fprintf(&sb, "- **Target:** %d scored runs, %s (%d achieved)\n", s.Retry.TargetScoredRuns, target, s.Retry.AchievedScoredRuns)
	fmt.Fprintf(&sb, "- **Voids:** %d (%d unresolved)\n", s.Aggregate.VoidCount, s.Retry.UnresolvedVoidCount)
	fmt.Fprintf(&sb, "- **Retries used:** %d\n\n", s.Retry.RetriesUsed)

	sb.WriteString("## Aggregates (scored runs only)\n\n")
	sb.WriteString("| Metric | N | Mean | Median | StdDev | Min | Max |\n|---|---|---|---|---|---|---|\n")
	for _, name := range MetricNames {
		st, ok := s.Aggregate.Metrics[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "| %s | %d | %.4f | %.4f | %.4f | %.4f | %.4f |\n", name, st.N, st.Mean, st.Median, st.StdDev, st.Min, st.Max)
	}
	fmt.Fprintf(&sb, "\n- **Validity rate:** %.1f%% (%d/%d scored)\n", s.Aggregate.ValidityRate*100, s.Aggregate.ValidCount, s.Aggregate.RunCountScored)
	fmt.Fprintf(&sb, "- **Performance pass rate:** %.1f%%\n\n", s.Aggregate.PerformancePassRate*100)

	sb.WriteString("## Runs\n\n| Repeat | State | Attempts | Reward | Void reasons |\n|---|---|---|---|---|\n")
	for _, r := range s.Runs {
		reward := "-"
		if r.Scored() {
			reward = FormatReward(r.Scorecard.Reward)
		}
		fmt.Fprintf(&sb, "| %02d | %s | %d | %s | %s |\n", r.RepeatIndex, r.State, r.Attempt, reward, strings.Join(r.VoidReasons, ", "))
	}
	return sb.String()
}

// MetricNames lists the aggregated metrics in display order.
var MetricNames = []string{"quality_score", "reward", "functional", "compliance", "visual", "efficiency", "coverage", "duration_sec"}
