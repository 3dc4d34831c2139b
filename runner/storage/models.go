package storage

import "time"

// Run represents an archived pipeline run
type Run struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"` // "running", "success", "failed", "cancelled"
	Pipeline   string     `json:"pipeline"`
	EventKind  string     `json:"event_kind"`
	Ref        string     `json:"ref"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   *string    `json:"duration,omitempty"`
}

// JobRecord represents an archived job result within a run
type JobRecord struct {
	ID         int       `json:"id"`
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"` // "success", "failure", "skipped", "cancelled"
	Required   bool      `json:"required"`
	Output     string    `json:"output,omitempty"`
	ExitCodes  []int     `json:"exit_codes"`
	FinishedAt time.Time `json:"finished_at"`
	Duration   *string   `json:"duration,omitempty"`
}
