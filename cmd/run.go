package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"conductor/cache"
	"conductor/runner"
	"conductor/runner/storage"
)

// RunOptions configures a one-shot local pipeline execution
type RunOptions struct {
	MaxConcurrency  int
	CancelOnFailure bool
	JSONReport      bool // emit the structured report instead of log lines
}

// Run executes the 'run' command: one pipeline execution, results
// archived locally, exit status non-zero unless the run succeeds.
func Run(ctx context.Context, configPath string, opts RunOptions) error {
	// Load .env file if it exists (ignore errors if it doesn't)
	_ = godotenv.Load()

	pipeline, err := runner.LoadPipeline(configPath)
	if err != nil {
		return err
	}

	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	baseDir := filepath.Dir(absConfig)

	dataDir, err := ensureDataDir()
	if err != nil {
		return err
	}

	store, err := storage.NewStorage(filepath.Join(dataDir, "conductor.db"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	cacheStore, err := cache.Open(cacheDir(dataDir), cacheCapacity())
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	var sink runner.ReportSink = &runner.LogSink{}
	if opts.JSONReport {
		sink = &runner.JSONSink{W: os.Stdout}
	}

	sched := runner.NewScheduler(runner.SchedulerOptions{
		MaxConcurrency:   opts.MaxConcurrency,
		CancelOnFailure:  opts.CancelOnFailure,
		StreamToTerminal: !opts.JSONReport,
		BaseDir:          baseDir,
		Cache:            cacheStore,
		Storage:          store,
		Sink:             sink,
	})

	// Local runs are triggered by hand, not by a repository event
	trigger := runner.TriggerEvent{Kind: runner.EventPush, Ref: "local"}

	result, err := sched.Run(ctx, trigger, pipeline)
	if err != nil {
		return err
	}

	if result.Status != runner.RunSuccess {
		return fmt.Errorf("run %s finished with status %s", result.RunID, result.Status)
	}

	log.Printf("🏁 Run %s finished successfully", result.RunID)
	return nil
}

// ensureDataDir creates the local data directory next to the working
// directory and returns its path
func ensureDataDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	dataDir := filepath.Join(cwd, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
