package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"conductor/events"
)

// ReportSink receives the aggregated result of a finished run
type ReportSink interface {
	Report(result *RunResult) error
}

// jobReport is the per-job shape emitted to external sinks
type jobReport struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Duration  string `json:"duration"`
	ExitCodes []int  `json:"exit_codes"`
}

type runReport struct {
	RunID    string      `json:"run_id"`
	Status   string      `json:"status"`
	Pipeline string      `json:"pipeline,omitempty"`
	Jobs     []jobReport `json:"jobs"`
}

func buildReport(result *RunResult) runReport {
	report := runReport{
		RunID:    result.RunID,
		Status:   string(result.Status),
		Pipeline: result.Pipeline,
	}
	for _, jr := range result.Jobs {
		report.Jobs = append(report.Jobs, jobReport{
			Name:      jr.Job,
			Status:    string(jr.Status),
			Duration:  jr.Duration.Round(time.Millisecond).String(),
			ExitCodes: jr.ExitCodes(),
		})
	}
	return report
}

// JSONSink writes the structured run report to a writer
type JSONSink struct {
	W io.Writer
}

func (s *JSONSink) Report(result *RunResult) error {
	enc := json.NewEncoder(s.W)
	enc.SetIndent("", "  ")
	return enc.Encode(buildReport(result))
}

// LogSink prints a human-readable per-job summary
type LogSink struct{}

func (s *LogSink) Report(result *RunResult) error {
	for _, jr := range result.Jobs {
		icon := "✅"
		switch jr.Status {
		case JobFailure:
			icon = "❌"
		case JobSkipped:
			icon = "⏭️"
		case JobCancelled:
			icon = "🚫"
		}
		log.Printf("%s %s: %s (%s)", icon, jr.Job, jr.Status, jr.Duration.Round(time.Millisecond))
	}
	log.Printf("📊 Run %s | Status: %s | Duration: %s", result.RunID, result.Status, result.Duration.Round(time.Millisecond))
	return nil
}

// BrokerSink broadcasts the run report to SSE clients
type BrokerSink struct {
	Broker *events.Broker
}

func (s *BrokerSink) Report(result *RunResult) error {
	if s.Broker == nil {
		return nil
	}
	s.Broker.Broadcast("run_finished", buildReport(result))
	return nil
}

// MultiSink fans a report out to several sinks, returning the first error
type MultiSink []ReportSink

func (s MultiSink) Report(result *RunResult) error {
	var first error
	for _, sink := range s {
		if err := sink.Report(result); err != nil && first == nil {
			first = fmt.Errorf("report sink: %w", err)
		}
	}
	return first
}
