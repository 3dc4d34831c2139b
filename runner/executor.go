package runner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"conductor/cache"
)

// Executor runs a single job's steps sequentially and produces a JobResult
type Executor struct {
	Cache            *cache.Store // optional; caching is advisory
	BaseDir          string       // default working directory for steps
	StreamToTerminal bool         // if true, also stream output to terminal
}

const (
	stepSuccess   = "success"
	stepFailed    = "failed"
	stepCancelled = "cancelled"
)

// RunJob executes the job's steps in order. A non-zero exit aborts the
// remaining steps unless the step sets continue_on_error. The job times
// out as a whole when a timeout is declared; cancellation of ctx
// terminates the running command and marks the job cancelled.
func (e *Executor) RunJob(ctx context.Context, job Job) *JobResult {
	result := &JobResult{
		Job:       job.Name,
		Status:    JobRunning,
		Required:  job.Required,
		StartedAt: time.Now(),
	}

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.Timeout))
		defer cancel()
	}

	status := JobSuccess
	for _, step := range job.Steps {
		stepResult := e.runStep(ctx, job, step)
		result.Steps = append(result.Steps, stepResult)

		if stepResult.Status == stepCancelled {
			status = JobCancelled
			break
		}
		if stepResult.Status == stepFailed && !step.ContinueOnError {
			status = JobFailure
			result.Err = stepResult.Err
			break
		}
	}

	result.Status = status
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	return result
}

// runStep executes one step: optional cache restore, the command itself,
// optional cache save on success.
func (e *Executor) runStep(ctx context.Context, job Job, step Step) StepResult {
	stepStart := time.Now()
	name := step.Name
	if name == "" {
		name = step.Run
	}

	if e.StreamToTerminal {
		fmt.Println("→", name)
	}

	dir := e.BaseDir
	if step.WorkingDirectory != "" {
		if filepath.IsAbs(step.WorkingDirectory) {
			dir = step.WorkingDirectory
		} else {
			dir = filepath.Join(e.BaseDir, step.WorkingDirectory)
		}
	}

	cacheKey, hit := e.tryRestore(step, dir)

	output, exitCode, err := e.executeShellCommand(ctx, step.Run, dir)

	stepResult := StepResult{
		Name:     name,
		ExitCode: exitCode,
		Output:   output,
		CacheHit: hit,
		Duration: time.Since(stepStart),
	}

	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			stepResult.Status = stepFailed
			stepResult.Err = fmt.Errorf("step %q: %w", name, ErrTimeout)
		case errors.Is(ctx.Err(), context.Canceled):
			stepResult.Status = stepCancelled
			stepResult.Err = ctx.Err()
		default:
			stepResult.Status = stepFailed
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				stepResult.Err = fmt.Errorf("step %q failed: %w", name, err)
			} else {
				stepResult.Err = &ExecError{Step: name, Err: err}
			}
		}
		if e.StreamToTerminal {
			fmt.Println("❌ Step failed:", stepResult.Err)
		}
		return stepResult
	}

	stepResult.Status = stepSuccess
	if e.StreamToTerminal {
		fmt.Println("✅ Done:", name)
	}

	e.trySave(job, step, cacheKey, dir)

	return stepResult
}

// tryRestore resolves the step's cache key and materializes the cached
// payload before the command runs. The cache is advisory: every failure
// path degrades to a miss.
func (e *Executor) tryRestore(step Step, dir string) (key string, hit bool) {
	if e.Cache == nil || step.CacheKey == "" || step.CachePath == "" {
		return "", false
	}

	key, err := ResolveCacheKey(step.CacheKey, dir)
	if err != nil {
		log.Printf("⚠️  Cache key %q unresolved: %v", step.CacheKey, err)
		return "", false
	}

	blob, err := e.Cache.Get(key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			log.Printf("⚠️  Cache restore failed for %q: %v", key, err)
		}
		return key, false
	}

	target := step.CachePath
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	if err := cache.UnpackTo(blob, filepath.Dir(target)); err != nil {
		log.Printf("⚠️  Cache unpack failed for %q: %v", key, err)
		return key, false
	}
	return key, true
}

// trySave stores the step's cache path after a successful run. Integrity
// conflicts are logged and ignored; the job result is unaffected.
func (e *Executor) trySave(job Job, step Step, key string, dir string) {
	if e.Cache == nil || key == "" {
		return
	}

	target := step.CachePath
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	if _, err := os.Stat(target); err != nil {
		return
	}

	blob, err := cache.PackPath(target)
	if err != nil {
		log.Printf("⚠️  Cache pack failed for %q: %v", key, err)
		return
	}
	if err := e.Cache.Put(key, blob); err != nil {
		if errors.Is(err, cache.ErrIntegrity) {
			log.Printf("⚠️  Cache conflict for %q in job %s: %v", key, job.Name, err)
		} else {
			log.Printf("⚠️  Cache save failed for %q: %v", key, err)
		}
	}
}

var cacheKeyHash = regexp.MustCompile(`\{hash:([^}]+)\}`)

// ResolveCacheKey expands {hash:path} tokens in a cache key template to
// the SHA-256 of the named file, resolved relative to dir.
func ResolveCacheKey(template string, dir string) (string, error) {
	var resolveErr error
	key := cacheKeyHash.ReplaceAllStringFunc(template, func(token string) string {
		rel := cacheKeyHash.FindStringSubmatch(token)[1]
		p := rel
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			resolveErr = fmt.Errorf("failed to fingerprint %s: %w", rel, err)
			return token
		}
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return key, nil
}

// executeShellCommand runs a command via the shell and captures its
// combined output, optionally streaming it to the terminal as well
func (e *Executor) executeShellCommand(ctx context.Context, command string, dir string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	stdoutWriters := []io.Writer{&stdout}
	stderrWriters := []io.Writer{&stderr}

	if e.StreamToTerminal {
		stdoutWriters = append(stdoutWriters, os.Stdout)
		stderrWriters = append(stderrWriters, os.Stderr)
	}

	cmd.Stdout = io.MultiWriter(stdoutWriters...)
	cmd.Stderr = io.MultiWriter(stderrWriters...)

	err := cmd.Run()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	combinedOutput := stdout.String() + stderr.String()
	if len(combinedOutput) > 0 && combinedOutput[len(combinedOutput)-1] != '\n' {
		combinedOutput += "\n"
	}

	return combinedOutput, exitCode, err
}
