package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/lemon07r/tally/internal/result"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSuite(id, taskName string, created time.Time) *result.SuiteRecord {
	return &result.SuiteRecord{
		SuiteID: id,
		Task:    taskName,
		Harness: "codex",
		Model:   "gpt-5",
		Repeats: 2,
		Runs: []result.RunRecord{
			{RunID: "a", RepeatIndex: 1, Attempt: 1, State: result.StateScored,
				Scorecard: &result.Scorecard{Reward: 1, QualityScore: 0.9}},
			{RepeatIndex: 2, Attempt: 2, State: result.StateVoidedFinal, Voided: true,
				VoidReasons: []string{"provider_rate_limit"}},
		},
		Aggregate: result.Aggregate{
			Metrics:   map[string]result.Stats{"reward": {N: 1, Mean: 1}, "quality_score": {N: 1, Mean: 0.9}},
			VoidCount: 2,
		},
		Retry:       result.RetrySummary{TargetScoredRuns: 2, AchievedScoredRuns: 1, RetriesUsed: 1, UnresolvedVoidCount: 1},
		CreatedAt:   created,
		CompletedAt: created.Add(time.Minute),
	}
}

func TestStore_RecordAndGetSuite(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.RecordSuite(ctx, testSuite("s1", "todo", created), "/suites/s1"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSuite(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Task != "todo" || got.Scored != 1 || got.Unresolved != 1 || got.RetriesUsed != 1 || got.VoidCount != 2 {
		t.Errorf("GetSuite() = %+v", got)
	}
	if got.MeanReward != 1 || got.MeanQuality != 0.9 || got.TargetMet {
		t.Errorf("means = %v/%v target_met = %v", got.MeanReward, got.MeanQuality, got.TargetMet)
	}
	if !got.CreatedAt.Equal(created) || got.Dir != "/suites/s1" {
		t.Errorf("CreatedAt = %v, Dir = %q", got.CreatedAt, got.Dir)
	}

	runs, err := s.Runs(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("Runs() count = %d, want 2", len(runs))
	}
	if runs[0].Reward != 1 || runs[0].State != result.StateScored {
		t.Errorf("runs[0] = %+v", runs[0])
	}
	if !runs[1].Voided || !reflect.DeepEqual(runs[1].VoidReasons, []string{"provider_rate_limit"}) {
		t.Errorf("runs[1] = %+v", runs[1])
	}
}

func TestStore_RecordSuiteReplacesRuns(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	rec := testSuite("s1", "todo", time.Now())
	if err := s.RecordSuite(ctx, rec, ""); err != nil {
		t.Fatal(err)
	}

	rec.Runs = rec.Runs[:1]
	rec.Retry.UnresolvedVoidCount = 0
	if err := s.RecordSuite(ctx, rec, ""); err != nil {
		t.Fatal(err)
	}

	runs, err := s.Runs(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("Runs() count = %d, want 1", len(runs))
	}
	got, err := s.GetSuite(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Unresolved != 0 {
		t.Errorf("Unresolved = %d, want 0", got.Unresolved)
	}
}

func TestStore_ListSuites(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, tc := range []struct{ id, task string }{{"s1", "todo"}, {"s2", "chat"}, {"s3", "todo"}} {
		if err := s.RecordSuite(ctx, testSuite(tc.id, tc.task, base.Add(time.Duration(i)*time.Hour)), ""); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"s3", "s2", "s1"}},
		{"by task", Filter{Task: "todo"}, []string{"s3", "s1"}},
		{"limit", Filter{Limit: 1}, []string{"s3"}},
		{"no match", Filter{Harness: "goose"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			suites, err := s.ListSuites(ctx, tc.filter)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, ss := range suites {
				ids = append(ids, ss.SuiteID)
			}
			if !reflect.DeepEqual(ids, tc.want) {
				t.Errorf("ListSuites(%+v) = %v, want %v", tc.filter, ids, tc.want)
			}
		})
	}
}

func TestStore_GetSuiteMissing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if _, err := s.GetSuite(context.Background(), "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetSuite(missing) error = %v, want sql.ErrNoRows", err)
	}
}
