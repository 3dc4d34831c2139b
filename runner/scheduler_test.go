package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/runner/storage"
)

func pipelineOf(jobs ...Job) *Pipeline {
	return &Pipeline{Name: "test", Jobs: jobs}
}

func shellJob(name, command string, required bool, deps ...string) Job {
	return Job{
		Name:      name,
		Required:  required,
		DependsOn: deps,
		Steps:     []Step{{Run: command}},
	}
}

func localTrigger() TriggerEvent {
	return TriggerEvent{Kind: EventPush, Ref: "refs/heads/main"}
}

func TestRunAllJobsSucceed(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{BaseDir: t.TempDir()})

	result, err := sched.Run(context.Background(), localTrigger(), pipelineOf(
		shellJob("tests", "true", true),
		shellJob("lint", "true", true),
	))
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, result.Status)
	require.Len(t, result.Jobs, 2)
	for _, jr := range result.Jobs {
		assert.Equal(t, JobSuccess, jr.Status)
	}
}

func TestRunRequiredFailureSkipsDependents(t *testing.T) {
	// tests fails, lint still runs to completion, build is skipped
	sched := NewScheduler(SchedulerOptions{BaseDir: t.TempDir()})

	result, err := sched.Run(context.Background(), localTrigger(), pipelineOf(
		shellJob("tests", "exit 1", true),
		shellJob("lint", "true", true),
		shellJob("build", "true", true, "tests"),
	))
	require.NoError(t, err)

	assert.Equal(t, RunFailed, result.Status)
	assert.Equal(t, JobFailure, result.JobResult("tests").Status)
	assert.Equal(t, JobSuccess, result.JobResult("lint").Status)
	assert.Equal(t, JobSkipped, result.JobResult("build").Status)
}

func TestRunOptionalFailureDoesNotFailRun(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{BaseDir: t.TempDir()})

	result, err := sched.Run(context.Background(), localTrigger(), pipelineOf(
		shellJob("tests", "true", true),
		shellJob("docs", "exit 1", false),
	))
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, result.Status)
	assert.Equal(t, JobFailure, result.JobResult("docs").Status)
}

func TestRunSkipPropagatesTransitively(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{BaseDir: t.TempDir()})

	result, err := sched.Run(context.Background(), localTrigger(), pipelineOf(
		shellJob("tests", "exit 1", true),
		shellJob("build", "true", true, "tests"),
		shellJob("publish", "true", true, "build"),
	))
	require.NoError(t, err)

	assert.Equal(t, RunFailed, result.Status)
	assert.Equal(t, JobSkipped, result.JobResult("build").Status)
	assert.Equal(t, JobSkipped, result.JobResult("publish").Status)
}

func TestRunConfigurationErrorAbortsBeforeDispatch(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{BaseDir: t.TempDir()})

	result, err := sched.Run(context.Background(), localTrigger(), pipelineOf(
		shellJob("a", "true", true, "b"),
		shellJob("b", "true", true, "a"),
	))
	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRunCancellationPreservesFinishedJobs(t *testing.T) {
	// Cancelling with build mid-execution and lint already
	// finished yields build cancelled, lint success, run cancelled
	sched := NewScheduler(SchedulerOptions{BaseDir: t.TempDir()})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	result, err := sched.Run(ctx, localTrigger(), pipelineOf(
		shellJob("lint", "true", true),
		shellJob("build", "sleep 5", true),
	))
	require.NoError(t, err)

	assert.Equal(t, RunCancelled, result.Status)
	assert.Equal(t, JobSuccess, result.JobResult("lint").Status)
	assert.Equal(t, JobCancelled, result.JobResult("build").Status)
}

func TestRunCancelOnFailurePolicy(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{
		BaseDir:         t.TempDir(),
		CancelOnFailure: true,
	})

	start := time.Now()
	result, err := sched.Run(context.Background(), localTrigger(), pipelineOf(
		shellJob("tests", "exit 1", true),
		shellJob("slow", "sleep 10", true),
	))
	require.NoError(t, err)

	assert.Equal(t, RunFailed, result.Status, "a required failure outranks cancellation")
	assert.Equal(t, JobFailure, result.JobResult("tests").Status)
	assert.Equal(t, JobCancelled, result.JobResult("slow").Status)
	assert.Less(t, time.Since(start), 5*time.Second, "the slow job must not run to completion")
}

func TestRunDefaultPolicyLetsIndependentJobsFinish(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{BaseDir: t.TempDir()})

	result, err := sched.Run(context.Background(), localTrigger(), pipelineOf(
		shellJob("tests", "exit 1", true),
		shellJob("lint", "sleep 0.2 && echo done", true),
	))
	require.NoError(t, err)

	assert.Equal(t, RunFailed, result.Status)
	assert.Equal(t, JobSuccess, result.JobResult("lint").Status, "independent jobs finish for diagnostic completeness")
}

func TestRunConcurrencyLimit(t *testing.T) {
	dir := t.TempDir()
	sched := NewScheduler(SchedulerOptions{BaseDir: dir, MaxConcurrency: 1})

	// Each job appends its start marker; with a concurrency of one the
	// sleeps serialize, so markers never interleave mid-job
	result, err := sched.Run(context.Background(), localTrigger(), pipelineOf(
		shellJob("a", "echo a-start >> order.txt; sleep 0.1; echo a-end >> order.txt", true),
		shellJob("b", "echo b-start >> order.txt; sleep 0.1; echo b-end >> order.txt", true),
	))
	require.NoError(t, err)
	require.Equal(t, RunSuccess, result.Status)

	data, err := readLines(filepath.Join(dir, "order.txt"))
	require.NoError(t, err)
	require.Len(t, data, 4)
	assert.Equal(t, data[0][:1], data[1][:1], "jobs must not overlap with max concurrency 1")
	assert.Equal(t, data[2][:1], data[3][:1])
}

func TestDispatchAndCancelByID(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{BaseDir: t.TempDir()})

	runID, err := sched.Dispatch(context.Background(), localTrigger(), pipelineOf(
		shellJob("slow", "sleep 10", true),
	))
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	time.Sleep(100 * time.Millisecond)
	assert.True(t, sched.Cancel(runID))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Shutdown(shutdownCtx, true))

	assert.False(t, sched.Cancel(runID), "a terminal run is no longer active")
}

func TestDispatchSupersedeSameRef(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "conductor.db"))
	require.NoError(t, err)
	defer store.Close()

	sched := NewScheduler(SchedulerOptions{
		BaseDir:          t.TempDir(),
		SupersedeSameRef: true,
		Storage:          store,
	})

	first, err := sched.Dispatch(context.Background(), localTrigger(), pipelineOf(
		shellJob("slow", "sleep 10", true),
	))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	second, err := sched.Dispatch(context.Background(), localTrigger(), pipelineOf(
		shellJob("quick", "true", true),
	))
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sched.Shutdown(shutdownCtx, true))

	firstRun, err := store.GetRun(first)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", firstRun.Status)

	secondRun, err := store.GetRun(second)
	require.NoError(t, err)
	assert.Equal(t, "success", secondRun.Status)
}

func TestRunArchivesResults(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "conductor.db"))
	require.NoError(t, err)
	defer store.Close()

	sched := NewScheduler(SchedulerOptions{BaseDir: t.TempDir(), Storage: store})

	result, err := sched.Run(context.Background(), localTrigger(), pipelineOf(
		shellJob("tests", "echo ok", true),
		shellJob("build", "true", true, "tests"),
	))
	require.NoError(t, err)
	require.Equal(t, RunSuccess, result.Status)

	run, err := store.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "success", run.Status)
	assert.Equal(t, "push", run.EventKind)

	records, err := store.GetJobResults(result.RunID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "tests", records[0].Name)
	assert.Contains(t, records[0].Output, "ok")
	assert.Equal(t, []int{0}, records[0].ExitCodes)
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n"), nil
}
