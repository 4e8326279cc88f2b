// Package store keeps a SQLite index of finished suites for history queries.
// Suite directories stay the source of truth; the index can be rebuilt.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lemon07r/tally/internal/result"
)

// Store provides SQLite-backed suite history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases intact across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SuiteSummary is one row of suite history.
type SuiteSummary struct {
	SuiteID             string    `json:"suite_id"`
	Task                string    `json:"task"`
	TaskFingerprint     string    `json:"task_fingerprint,omitempty"`
	Harness             string    `json:"harness"`
	Model               string    `json:"model,omitempty"`
	Repeats             int       `json:"repeats"`
	Scored              int       `json:"scored"`
	VoidCount           int       `json:"void_count"`
	Unresolved          int       `json:"unresolved"`
	RetriesUsed         int       `json:"retries_used"`
	TargetMet           bool      `json:"target_met"`
	Cancelled           bool      `json:"cancelled"`
	MeanReward          float64   `json:"mean_reward"`
	MeanQuality         float64   `json:"mean_quality"`
	ValidityRate        float64   `json:"validity_rate"`
	PerformancePassRate float64   `json:"performance_pass_rate"`
	Dir                 string    `json:"dir"`
	CreatedAt           time.Time `json:"created_at"`
	CompletedAt         time.Time `json:"completed_at"`
}

// RunSummary is one repeat of a recorded suite.
type RunSummary struct {
	RepeatIndex  int          `json:"repeat_index"`
	RunID        string       `json:"run_id"`
	Attempt      int          `json:"attempt"`
	State        result.State `json:"state"`
	Voided       bool         `json:"voided"`
	VoidReasons  []string     `json:"void_reasons"`
	Reward       float64      `json:"reward"`
	QualityScore float64      `json:"quality_score"`
	Workspace    string       `json:"workspace,omitempty"`
}

// RecordSuite inserts or replaces a suite and its runs. dir is where the
// suite artifacts were saved.
func (s *Store) RecordSuite(ctx context.Context, rec *result.SuiteRecord, dir string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	agg := rec.Aggregate
	_, err = tx.ExecContext(ctx, `
		INSERT INTO suites (suite_id, task, task_fingerprint, harness, model, repeats, scored, void_count, unresolved, retries_used,
			target_met, cancelled, mean_reward, mean_quality, validity_rate, performance_pass_rate, dir, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(suite_id) DO UPDATE SET
			scored = excluded.scored,
			void_count = excluded.void_count,
			unresolved = excluded.unresolved,
			retries_used = excluded.retries_used,
			target_met = excluded.target_met,
			cancelled = excluded.cancelled,
			mean_reward = excluded.mean_reward,
			mean_quality = excluded.mean_quality,
			validity_rate = excluded.validity_rate,
			performance_pass_rate = excluded.performance_pass_rate,
			dir = excluded.dir,
			completed_at = excluded.completed_at
	`,
		rec.SuiteID,
		rec.Task,
		rec.TaskFingerprint,
		rec.Harness,
		rec.Model,
		rec.Repeats,
		rec.Retry.AchievedScoredRuns,
		agg.VoidCount,
		rec.Retry.UnresolvedVoidCount,
		rec.Retry.RetriesUsed,
		rec.Retry.TargetMet,
		rec.Cancelled,
		agg.Metrics["reward"].Mean,
		agg.Metrics["quality_score"].Mean,
		agg.ValidityRate,
		agg.PerformancePassRate,
		dir,
		formatTime(rec.CreatedAt),
		formatTime(rec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("recording suite: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE suite_id = ?`, rec.SuiteID); err != nil {
		return fmt.Errorf("clearing runs: %w", err)
	}
	for _, r := range rec.Runs {
		reasons, err := json.Marshal(r.VoidReasons)
		if err != nil {
			return err
		}
		var reward, quality float64
		if r.Scorecard != nil {
			reward, quality = r.Scorecard.Reward, r.Scorecard.QualityScore
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO runs (suite_id, repeat_index, run_id, attempt, state, voided, void_reasons, reward, quality_score, workspace)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.SuiteID, r.RepeatIndex, r.RunID, r.Attempt, string(r.State), r.Voided, string(reasons), reward, quality, r.Workspace)
		if err != nil {
			return fmt.Errorf("recording repeat %d: %w", r.RepeatIndex, err)
		}
	}
	return tx.Commit()
}

// Filter narrows ListSuites. Zero values match everything; Limit 0 is unlimited.
type Filter struct {
	Task    string
	Harness string
	Limit   int
}

const suiteColumns = `suite_id, task, task_fingerprint, harness, model, repeats, scored, void_count, unresolved, retries_used,
	target_met, cancelled, mean_reward, mean_quality, validity_rate, performance_pass_rate, dir, created_at, completed_at`

// ListSuites returns recorded suites, newest first.
func (s *Store) ListSuites(ctx context.Context, f Filter) ([]SuiteSummary, error) {
	query := `SELECT ` + suiteColumns + ` FROM suites WHERE 1=1`
	var args []any

	if f.Task != "" {
		query += " AND task = ?"
		args = append(args, f.Task)
	}
	if f.Harness != "" {
		query += " AND harness = ?"
		args = append(args, f.Harness)
	}
	query += " ORDER BY created_at DESC, suite_id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suites []SuiteSummary
	for rows.Next() {
		ss, err := scanSuite(rows)
		if err != nil {
			return nil, err
		}
		suites = append(suites, ss)
	}
	return suites, rows.Err()
}

// GetSuite returns one suite, or sql.ErrNoRows.
func (s *Store) GetSuite(ctx context.Context, suiteID string) (SuiteSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+suiteColumns+` FROM suites WHERE suite_id = ?`, suiteID)
	return scanSuite(row)
}

// Runs returns the repeats of a suite in repeat order.
func (s *Store) Runs(ctx context.Context, suiteID string) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repeat_index, run_id, attempt, state, voided, void_reasons, reward, quality_score, workspace
		FROM runs WHERE suite_id = ? ORDER BY repeat_index
	`, suiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var runID, reasons, workspace sql.NullString
		var state string
		if err := rows.Scan(&r.RepeatIndex, &runID, &r.Attempt, &state, &r.Voided, &reasons, &r.Reward, &r.QualityScore, &workspace); err != nil {
			return nil, err
		}
		r.RunID = runID.String
		r.Workspace = workspace.String
		r.State = result.State(state)
		if reasons.Valid && reasons.String != "" && reasons.String != "null" {
			if err := json.Unmarshal([]byte(reasons.String), &r.VoidReasons); err != nil {
				return nil, err
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSuite(row scanner) (SuiteSummary, error) {
	var ss SuiteSummary
	var fingerprint, model, dir, completed sql.NullString
	var created string
	err := row.Scan(&ss.SuiteID, &ss.Task, &fingerprint, &ss.Harness, &model, &ss.Repeats, &ss.Scored, &ss.VoidCount,
		&ss.Unresolved, &ss.RetriesUsed, &ss.TargetMet, &ss.Cancelled, &ss.MeanReward, &ss.MeanQuality,
		&ss.ValidityRate, &ss.PerformancePassRate, &dir, &created, &completed)
	if err != nil {
		return ss, err
	}
	ss.TaskFingerprint = fingerprint.String
	ss.Model = model.String
	ss.Dir = dir.String
	ss.CreatedAt = parseTime(created)
	ss.CompletedAt = parseTime(completed.String)
	return ss, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
