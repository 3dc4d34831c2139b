package runner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration marks pipeline definition errors that abort a run
// before any job is dispatched.
var ErrConfiguration = errors.New("invalid pipeline configuration")

// ErrTimeout marks a step that exceeded its job's wall-clock timeout.
var ErrTimeout = errors.New("timeout exceeded")

// CycleError is returned when the job dependency graph contains a cycle.
type CycleError struct {
	Jobs []string // members of the cycle, in dependency order
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Jobs, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrConfiguration }

// UnknownDependencyError is returned when a job depends on a job that
// does not exist in the pipeline.
type UnknownDependencyError struct {
	Job        string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("job %q depends on unknown job %q", e.Job, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrConfiguration }

// ExecError is returned when a step's command could not be started at all,
// as opposed to running and exiting non-zero.
type ExecError struct {
	Step string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("step %q could not be executed: %v", e.Step, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }
