package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateRun creates a new run record in "running" state
func (s *Storage) CreateRun(id, pipeline, eventKind, ref string) (*Run, error) {
	now := time.Now()
	_, err := s.db.Exec(
		"INSERT INTO runs (id, status, pipeline, event_kind, ref, started_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, "running", pipeline, eventKind, ref, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &Run{
		ID:        id,
		Status:    "running",
		Pipeline:  pipeline,
		EventKind: eventKind,
		Ref:       ref,
		StartedAt: now,
	}, nil
}

// UpdateRunStatus updates the status and finish time of a run
func (s *Storage) UpdateRunStatus(runID string, status string, duration time.Duration) error {
	now := time.Now()
	durationStr := duration.String()
	_, err := s.db.Exec(
		"UPDATE runs SET status = ?, finished_at = ?, duration = ? WHERE id = ?",
		status, now, durationStr, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// GetRuns retrieves the most recent runs, newest first
func (s *Storage) GetRuns(limit int) ([]*Run, error) {
	query := "SELECT id, status, pipeline, event_kind, ref, started_at, finished_at, duration FROM runs ORDER BY started_at DESC LIMIT ?"
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetRun retrieves a single run by ID
func (s *Storage) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(
		"SELECT id, status, pipeline, event_kind, ref, started_at, finished_at, duration FROM runs WHERE id = ?",
		runID,
	)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var finishedAt sql.NullTime
	var duration sql.NullString

	err := row.Scan(&r.ID, &r.Status, &r.Pipeline, &r.EventKind, &r.Ref, &r.StartedAt, &finishedAt, &duration)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	if duration.Valid {
		durationStr := duration.String
		r.Duration = &durationStr
	}

	return &r, nil
}
