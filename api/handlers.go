package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"conductor/events"
	"conductor/runner"
	"conductor/runner/storage"
)

// NewRouter builds the HTTP surface: the trigger endpoint, the run
// archive read API, run cancellation and the SSE event stream.
func NewRouter(sched *runner.Scheduler, pipeline *runner.Pipeline, store *storage.Storage, broker *events.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", PostEvent(sched, pipeline))
		r.Get("/runs", GetRuns(store))
		r.Get("/runs/{id}", GetRun(store))
		r.Get("/runs/{id}/status", GetRunStatus(store))
		r.Post("/runs/{id}/cancel", CancelRun(sched))
		r.Get("/stats", GetJobStats(store))
		r.Get("/stream", SSEHandler(broker))
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// PostEvent receives a repository event and schedules a run when the
// pipeline's trigger filter accepts it
func PostEvent(sched *runner.Scheduler, pipeline *runner.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event runner.TriggerEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": fmt.Sprintf("Invalid event: %v", err),
			})
			return
		}

		switch event.Kind {
		case runner.EventPush, runner.EventPullRequest:
		default:
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": fmt.Sprintf("Unknown event kind %q", event.Kind),
			})
			return
		}

		if !pipeline.On.Matches(event) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "ignored",
			})
			return
		}

		log.Printf("🚀 Triggering run: %s on %s", event.Kind, event.Ref)

		// The run outlives this request
		runID, err := sched.Dispatch(r.Context(), event, pipeline)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, runner.ErrConfiguration) {
				status = http.StatusUnprocessableEntity
			}
			writeJSON(w, status, map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"run_id": runID,
			"status": "starting",
		})
	}
}

// GetRuns returns the most recent runs
func GetRuns(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		runs, err := store.GetRuns(limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get runs: %v", err), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, runs)
	}
}

// GetRun returns a single run with its job results
func GetRun(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")

		run, err := store.GetRun(runID)
		if err != nil {
			http.Error(w, fmt.Sprintf("Run not found: %v", err), http.StatusNotFound)
			return
		}

		jobs, err := store.GetJobResults(runID)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get job results: %v", err), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"run":  run,
			"jobs": jobs,
		})
	}
}

// GetRunStatus returns just the status of a run (lightweight for polling)
func GetRunStatus(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")

		run, err := store.GetRun(runID)
		if err != nil {
			http.Error(w, fmt.Sprintf("Run not found: %v", err), http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":     run.ID,
			"status": run.Status,
		})
	}
}

// CancelRun cancels an in-flight run
func CancelRun(sched *runner.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")

		if !sched.Cancel(runID) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error": fmt.Sprintf("No active run %s", runID),
			})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"run_id": runID,
			"status": "cancelling",
		})
	}
}

// GetJobStats returns the latest results grouped by job name
func GetJobStats(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.GetLatestResultsByJob(5)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get job stats: %v", err), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, stats)
	}
}
