package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"conductor/api"
	"conductor/cache"
	"conductor/events"
	"conductor/runner"
	"conductor/runner/storage"
)

// ServeOptions configures the HTTP trigger listener
type ServeOptions struct {
	MaxConcurrency  int
	CancelOnFailure bool
}

// Serve starts the HTTP server: it accepts repository events, schedules
// runs, archives results and streams status over SSE. A newer push on a
// ref supersedes the in-flight run for that ref.
func Serve(ctx context.Context, configPath string, opts ServeOptions) error {
	// Load .env file if it exists (ignore errors if it doesn't)
	_ = godotenv.Load()

	port := getEnv("PORT", "8080")

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

	broker := events.NewBroker()

	sched := runner.NewScheduler(runner.SchedulerOptions{
		MaxConcurrency:   opts.MaxConcurrency,
		CancelOnFailure:  opts.CancelOnFailure,
		SupersedeSameRef: true,
		BaseDir:          baseDir,
		Cache:            cacheStore,
		Storage:          store,
		Broker:           broker,
		Sink:             runner.MultiSink{&runner.LogSink{}, &runner.BrokerSink{Broker: broker}},
	})

	server := &http.Server{
		Addr:    ":" + port,
		Handler: api.NewRouter(sched, pipeline, store, broker),
	}

	log.Printf("🚀 Starting conductor server on port %s (pipeline: %s)", port, pipeline.Name)

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down, draining in-flight runs")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown: %v", err)
	}
	if err := sched.Shutdown(shutdownCtx, true); err != nil {
		log.Printf("⚠️  Some runs did not finish before shutdown: %v", err)
	}

	return nil
}
