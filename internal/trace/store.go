package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/toolplan/toolplan/internal/executor"
)

// Store is the SQLite-backed run history. It implements executor.Recorder.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// RunSummary is the list view of a recorded run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	Steps      int       `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// SaveRun persists a finished run and its step results in one transaction.
func (s *Store) SaveRun(ctx context.Context, res *executor.Result) error {
	eventsJSON, err := json.Marshal(res.Events)
	if err != nil {
		return fmt.Errorf("trace: marshal events: %w", err)
	}
	tx, err := s.db.SQLDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("trace: begin: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at, finished_at, events) VALUES (?, ?, ?, ?, ?)`,
		res.RunID, string(res.Status),
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		res.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(eventsJSON))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("trace: insert run: %w", err)
	}
	for i, sr := range res.Steps {
		outputJSON, err := json.Marshal(sr.Output)
		if err != nil {
			outputJSON = []byte("null")
		}
		cacheHit := 0
		if sr.CacheHit {
			cacheHit = 1
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO step_results
			 (run_id, position, step_id, tool, status, output, error_code, error_message, attempts, cache_hit, started_at, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, i, sr.StepID, sr.Tool, string(sr.Status), string(outputJSON),
			sr.ErrorCode, sr.ErrorMessage, sr.Attempts, cacheHit,
			formatTime(sr.StartedAt), formatTime(sr.FinishedAt))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("trace: insert step %s: %w", sr.StepID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("trace: commit: %w", err)
	}
	return nil
}

// GetRun loads a recorded run with its steps in execution order.
func (s *Store) GetRun(ctx context.Context, runID string) (*executor.Result, error) {
	var status, startedAt, finishedAt, eventsJSON string
	err := s.db.SQLDB().QueryRowContext(ctx,
		`SELECT status, started_at, finished_at, events FROM runs WHERE id = ?`, runID,
	).Scan(&status, &startedAt, &finishedAt, &eventsJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trace: run %q not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("trace: load run: %w", err)
	}

	res := &executor.Result{
		RunID:      runID,
		Status:     executor.PlanStatus(status),
		StartedAt:  parseTime(startedAt),
		FinishedAt: parseTime(finishedAt),
	}
	if eventsJSON != "" {
		_ = json.Unmarshal([]byte(eventsJSON), &res.Events)
	}

	rows, err := s.db.SQLDB().QueryContext(ctx,
		`SELECT step_id, tool, status, output, error_code, error_message, attempts, cache_hit, started_at, finished_at
		 FROM step_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("trace: load steps: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var sr executor.StepResult
		var stepStatus, outputJSON string
		var cacheHit int
		var stepStarted, stepFinished sql.NullString
		if err := rows.Scan(&sr.StepID, &sr.Tool, &stepStatus, &outputJSON,
			&sr.ErrorCode, &sr.ErrorMessage, &sr.Attempts, &cacheHit,
			&stepStarted, &stepFinished); err != nil {
			return nil, fmt.Errorf("trace: scan step: %w", err)
		}
		sr.Status = executor.StepStatus(stepStatus)
		sr.CacheHit = cacheHit != 0
		if outputJSON != "" {
			_ = json.Unmarshal([]byte(outputJSON), &sr.Output)
		}
		if stepStarted.Valid {
			sr.StartedAt = parseTime(stepStarted.String)
		}
		if stepFinished.Valid {
			sr.FinishedAt = parseTime(stepFinished.String)
		}
		res.Steps = append(res.Steps, sr)
	}
	return res, rows.Err()
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.SQLDB().QueryContext(ctx,
		`SELECT r.id, r.status, r.started_at, r.finished_at,
		        (SELECT COUNT(*) FROM step_results sr WHERE sr.run_id = r.id)
		 FROM runs r ORDER BY r.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("trace: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var startedAt, finishedAt string
		if err := rows.Scan(&rs.RunID, &rs.Status, &startedAt, &finishedAt, &rs.Steps); err != nil {
			return nil, fmt.Errorf("trace: scan run: %w", err)
		}
		rs.StartedAt = parseTime(startedAt)
		rs.FinishedAt = parseTime(finishedAt)
		out = append(out, rs)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its steps (admin and tests).
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.SQLDB().ExecContext(ctx, `DELETE FROM step_results WHERE run_id = ?`, runID); err != nil {
		return err
	}
	_, err := s.db.SQLDB().ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	return err
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
