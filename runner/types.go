package runner

import (
	"time"
)

// RunStatus is the overall state of a pipeline run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// JobStatus is the state of a single job within a run
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSuccess   JobStatus = "success"
	JobFailure   JobStatus = "failure"
	JobSkipped   JobStatus = "skipped"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job can no longer change state
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccess, JobFailure, JobSkipped, JobCancelled:
		return true
	}
	return false
}

// EventKind identifies the repository event that triggered a run
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
)

// TriggerEvent is the repository event delivered by the trigger listener
type TriggerEvent struct {
	Kind EventKind `json:"kind"`
	Ref  string    `json:"ref"`
}

// StepResult represents the result of executing a single step
type StepResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"` // "success", "failed", "cancelled"
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	CacheHit bool          `json:"cache_hit,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// JobResult represents the result of running one job
type JobResult struct {
	Job        string        `json:"name"`
	Status     JobStatus     `json:"status"`
	Required   bool          `json:"required"`
	Steps      []StepResult  `json:"steps,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// ExitCodes returns the per-step exit codes in execution order
func (r *JobResult) ExitCodes() []int {
	codes := make([]int, 0, len(r.Steps))
	for _, step := range r.Steps {
		codes = append(codes, step.ExitCode)
	}
	return codes
}

// RunResult is the aggregated outcome of a pipeline run
type RunResult struct {
	RunID     string        `json:"run_id"`
	Pipeline  string        `json:"pipeline"`
	Trigger   TriggerEvent  `json:"trigger"`
	Status    RunStatus     `json:"status"`
	Jobs      []*JobResult  `json:"jobs"` // declaration order
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// JobResult returns the result for a job by name, or nil
func (r *RunResult) JobResult(name string) *JobResult {
	for _, jr := range r.Jobs {
		if jr.Job == name {
			return jr
		}
	}
	return nil
}
