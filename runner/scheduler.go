package runner

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"conductor/cache"
	"conductor/events"
	"conductor/runner/storage"
)

// SchedulerOptions is the explicit process configuration for the
// scheduler: concurrency bound, cancellation policies and collaborators.
type SchedulerOptions struct {
	MaxConcurrency   int  // parallel jobs per run, defaults to 4
	CancelOnFailure  bool // cancel the rest of the run when a required job fails
	SupersedeSameRef bool // a new push event cancels the in-flight run for the same ref
	StreamToTerminal bool
	BaseDir          string           // working directory for job steps
	Cache            *cache.Store     // optional
	Storage          *storage.Storage // optional run archive
	Broker           *events.Broker   // optional live event fan-out
	Sink             ReportSink       // optional report sink
}

// Scheduler dispatches pipeline runs: it orders jobs by their dependency
// graph, runs ready jobs in parallel under the concurrency bound, and
// aggregates results
type Scheduler struct {
	opts SchedulerOptions

	mu     sync.Mutex
	active map[string]*activeRun // by run ID
	byRef  map[string]*activeRun // latest in-flight run per ref
	wg     sync.WaitGroup
}

type activeRun struct {
	id     string
	ref    string
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler from explicit options
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	return &Scheduler{
		opts:   opts,
		active: make(map[string]*activeRun),
		byRef:  make(map[string]*activeRun),
	}
}

// Run executes the pipeline synchronously for the given trigger and
// returns the aggregated result. A configuration error (cycle, unknown
// dependency) is returned before any job starts.
func (s *Scheduler) Run(ctx context.Context, trigger TriggerEvent, p *Pipeline) (*RunResult, error) {
	readySets, err := ResolveOrder(p.Jobs)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.register(runID, trigger, cancel)
	defer s.unregister(runID)

	return s.execute(runCtx, runID, trigger, p, readySets), nil
}

// Dispatch validates the pipeline and starts the run in the background,
// returning its ID. Used by the trigger listener.
func (s *Scheduler) Dispatch(ctx context.Context, trigger TriggerEvent, p *Pipeline) (string, error) {
	readySets, err := ResolveOrder(p.Jobs)
	if err != nil {
		return "", err
	}

	if s.opts.SupersedeSameRef && trigger.Kind == EventPush {
		s.mu.Lock()
		prev := s.byRef[trigger.Ref]
		s.mu.Unlock()
		if prev != nil {
			log.Printf("🚫 Run %s superseded by new push on %s", prev.id, trigger.Ref)
			prev.cancel()
		}
	}

	runID := uuid.NewString()
	// Detach from the caller's context: the run outlives the triggering
	// request and is cancelled via Cancel, Shutdown or a superseding push.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.register(runID, trigger, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.unregister(runID)
		s.execute(runCtx, runID, trigger, p, readySets)
	}()
	return runID, nil
}

// Cancel cancels an in-flight run by ID. Returns false if the run is not
// active (unknown or already terminal).
func (s *Scheduler) Cancel(runID string) bool {
	s.mu.Lock()
	run, ok := s.active[runID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	log.Printf("🚫 Cancelling run %s", runID)
	run.cancel()
	return true
}

// Shutdown stops the scheduler. With drain set, in-flight runs finish
// normally; otherwise they are cancelled. Blocks until runs are done or
// ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context, drain bool) error {
	if !drain {
		s.mu.Lock()
		for _, run := range s.active {
			run.cancel()
		}
		s.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) register(runID string, trigger TriggerEvent, cancel context.CancelFunc) {
	run := &activeRun{id: runID, ref: trigger.Ref, cancel: cancel}
	s.mu.Lock()
	s.active[runID] = run
	s.byRef[trigger.Ref] = run
	s.mu.Unlock()
}

func (s *Scheduler) unregister(runID string) {
	s.mu.Lock()
	run, ok := s.active[runID]
	delete(s.active, runID)
	if ok && s.byRef[run.ref] == run {
		delete(s.byRef, run.ref)
	}
	s.mu.Unlock()
}

// execute runs the validated pipeline: ready sets in order, jobs within a
// set in parallel under the semaphore, dependents of non-successful jobs
// skipped without execution.
func (s *Scheduler) execute(runCtx context.Context, runID string, trigger TriggerEvent, p *Pipeline, readySets [][]string) *RunResult {
	result := &RunResult{
		RunID:     runID,
		Pipeline:  p.Name,
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: time.Now(),
	}

	if s.opts.Storage != nil {
		if _, err := s.opts.Storage.CreateRun(runID, p.Name, string(trigger.Kind), trigger.Ref); err != nil {
			log.Printf("⚠️  Failed to archive run %s: %v", runID, err)
		}
	}
	if s.opts.Broker != nil {
		s.opts.Broker.Broadcast("run_started", map[string]interface{}{
			"run_id": runID,
			"kind":   trigger.Kind,
			"ref":    trigger.Ref,
		})
	}

	jobsByName := make(map[string]Job, len(p.Jobs))
	for _, job := range p.Jobs {
		jobsByName[job.Name] = job
	}

	executor := &Executor{
		Cache:            s.opts.Cache,
		BaseDir:          s.opts.BaseDir,
		StreamToTerminal: s.opts.StreamToTerminal,
	}

	sem := semaphore.NewWeighted(int64(s.opts.MaxConcurrency))
	results := make(map[string]*JobResult, len(p.Jobs))
	var resultsMu sync.Mutex

	for _, set := range readySets {
		var wg sync.WaitGroup
		for _, name := range set {
			job := jobsByName[name]

			if runCtx.Err() != nil {
				s.finishJob(runID, terminalResult(job, JobCancelled), results, &resultsMu)
				continue
			}

			// Dependencies live in earlier sets, so their results are final here
			resultsMu.Lock()
			dep, unmet := unmetDependency(job, results)
			resultsMu.Unlock()
			if unmet {
				log.Printf("⏭️  Skipping %s (dependency %s did not succeed)", job.Name, dep)
				s.finishJob(runID, terminalResult(job, JobSkipped), results, &resultsMu)
				continue
			}

			wg.Add(1)
			go func(job Job) {
				defer wg.Done()

				if err := sem.Acquire(runCtx, 1); err != nil {
					s.finishJob(runID, terminalResult(job, JobCancelled), results, &resultsMu)
					return
				}
				defer sem.Release(1)

				if s.opts.Broker != nil {
					s.opts.Broker.Broadcast("job_started", map[string]interface{}{
						"run_id": runID,
						"job":    job.Name,
					})
				}

				jr := executor.RunJob(runCtx, job)
				s.finishJob(runID, jr, results, &resultsMu)

				if jr.Status == JobFailure && job.Required && s.opts.CancelOnFailure {
					log.Printf("🚫 Required job %s failed, cancelling run %s", job.Name, runID)
					s.Cancel(runID)
				}
			}(job)
		}
		wg.Wait()
	}

	requiredFailed := false
	anyCancelled := false
	for _, job := range p.Jobs {
		jr := results[job.Name]
		if jr == nil {
			jr = terminalResult(job, JobSkipped)
		}
		result.Jobs = append(result.Jobs, jr)
		if jr.Status == JobFailure && jr.Required {
			requiredFailed = true
		}
		if jr.Status == JobCancelled {
			anyCancelled = true
		}
	}

	switch {
	case requiredFailed:
		result.Status = RunFailed
	case anyCancelled:
		result.Status = RunCancelled
	default:
		result.Status = RunSuccess
	}
	result.Duration = time.Since(result.StartedAt)

	if s.opts.Storage != nil {
		if err := s.opts.Storage.UpdateRunStatus(runID, string(result.Status), result.Duration); err != nil {
			log.Printf("⚠️  Failed to archive run %s: %v", runID, err)
		}
	}
	if s.opts.Sink != nil {
		if err := s.opts.Sink.Report(result); err != nil {
			log.Printf("⚠️  Report sink failed for run %s: %v", runID, err)
		}
	}

	return result
}

// finishJob records a terminal job result in memory, the archive and the
// event stream
func (s *Scheduler) finishJob(runID string, jr *JobResult, results map[string]*JobResult, mu *sync.Mutex) {
	mu.Lock()
	results[jr.Job] = jr
	mu.Unlock()

	if s.opts.Storage != nil {
		if err := s.opts.Storage.SaveJobResult(runID, jr.Job, string(jr.Status), jr.Required, combinedOutput(jr), jr.ExitCodes(), jr.Duration); err != nil {
			log.Printf("⚠️  Failed to archive job %s: %v", jr.Job, err)
		}
	}
	if s.opts.Broker != nil {
		s.opts.Broker.Broadcast("job_finished", map[string]interface{}{
			"run_id": runID,
			"job":    jr.Job,
			"status": jr.Status,
		})
	}
}

// unmetDependency returns the first dependency that did not finish with
// success, if any
func unmetDependency(job Job, results map[string]*JobResult) (string, bool) {
	for _, dep := range job.DependsOn {
		if jr, ok := results[dep]; !ok || jr.Status != JobSuccess {
			return dep, true
		}
	}
	return "", false
}

// terminalResult builds a result for a job that never executed
func terminalResult(job Job, status JobStatus) *JobResult {
	now := time.Now()
	return &JobResult{
		Job:        job.Name,
		Status:     status,
		Required:   job.Required,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func combinedOutput(jr *JobResult) string {
	var out string
	for _, step := range jr.Steps {
		out += step.Output
	}
	return out
}
