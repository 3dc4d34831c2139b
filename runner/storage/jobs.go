package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveJobResult archives a terminal job result
func (s *Storage) SaveJobResult(runID, name, status string, required bool, output string, exitCodes []int, duration time.Duration) error {
	codes, err := json.Marshal(exitCodes)
	if err != nil {
		return fmt.Errorf("failed to encode exit codes: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO job_results (run_id, name, status, required, output, exit_codes, finished_at, duration) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		runID, name, status, required, output, string(codes), time.Now(), duration.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save job result: %w", err)
	}
	return nil
}

// GetJobResults retrieves all job results for a run
func (s *Storage) GetJobResults(runID string) ([]*JobRecord, error) {
	rows, err := s.db.Query(
		"SELECT id, run_id, name, status, required, output, exit_codes, finished_at, duration FROM job_results WHERE run_id = ? ORDER BY id ASC",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query job results: %w", err)
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		var rec JobRecord
		var output sql.NullString
		var codes string
		var duration sql.NullString

		err := rows.Scan(&rec.ID, &rec.RunID, &rec.Name, &rec.Status, &rec.Required, &output, &codes, &rec.FinishedAt, &duration)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job result: %w", err)
		}

		if output.Valid {
			rec.Output = output.String
		}
		if duration.Valid {
			durationStr := duration.String
			rec.Duration = &durationStr
		}
		if err := json.Unmarshal([]byte(codes), &rec.ExitCodes); err != nil {
			rec.ExitCodes = nil
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}
