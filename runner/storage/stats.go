package storage

import (
	"database/sql"
	"fmt"
)

// JobStats represents the recent history of a single job across runs
type JobStats struct {
	Name       string  `json:"name"`
	RunID      string  `json:"run_id"`
	Status     string  `json:"status"`
	Duration   *string `json:"duration,omitempty"`
	FinishedAt string  `json:"finished_at"`
}

// GetLatestResultsByJob returns the latest job results grouped by job
// name, at most limit per job, newest first
func (s *Storage) GetLatestResultsByJob(limit int) ([]JobStats, error) {
	query := `
		SELECT name, run_id, status, duration, finished_at
		FROM job_results
		ORDER BY name, finished_at DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query job stats: %w", err)
	}
	defer rows.Close()

	// Limit per job without window functions for SQLite compatibility
	jobCounts := make(map[string]int)
	stats := make([]JobStats, 0)

	for rows.Next() {
		var stat JobStats
		var duration sql.NullString

		err := rows.Scan(&stat.Name, &stat.RunID, &stat.Status, &duration, &stat.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job stats: %w", err)
		}

		if jobCounts[stat.Name] >= limit {
			continue
		}
		jobCounts[stat.Name]++

		if duration.Valid {
			durationStr := duration.String
			stat.Duration = &durationStr
		}

		stats = append(stats, stat)
	}

	return stats, rows.Err()
}
