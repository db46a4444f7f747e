package output

import (
	"time"

	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/resolver"
)

// Stream event types.
const (
	EventAttempt = "attempt"
	EventSkip    = "skip"
)

// StreamEvent represents a streaming output event.
type StreamEvent struct {
	Type string      `json:"type" yaml:"type"`
	Data interface{} `json:"data" yaml:"data"`
}

// Document is what JSON and YAML writers emit for a finished resolution.
type Document struct {
	Report  *resolver.Report `json:"report" yaml:"report"`
	Summary Summary          `json:"summary" yaml:"summary"`
	Hints   []string         `json:"hints,omitempty" yaml:"hints,omitempty"`
}

// NewDocument wraps report with its summary and operator hints.
func NewDocument(report *resolver.Report) Document {
	return Document{
		Report:  report,
		Summary: Summarize(report),
		Hints:   Hints(report),
	}
}

// Summary condenses a report for dashboards and history listings.
type Summary struct {
	ID          string         `json:"id" yaml:"id"`
	Original    string         `json:"original" yaml:"original"`
	State       string         `json:"state" yaml:"state"`
	Recommended string         `json:"recommended,omitempty" yaml:"recommended,omitempty"`
	Transform   string         `json:"transform,omitempty" yaml:"transform,omitempty"`
	Attempts    int            `json:"attempts" yaml:"attempts"`
	Skipped     int            `json:"skipped" yaml:"skipped"`
	Passes      int            `json:"passes" yaml:"passes"`
	ByOutcome   map[string]int `json:"by_outcome" yaml:"by_outcome"`
	StopReason  string         `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
	DurationMs  int64          `json:"duration_ms" yaml:"duration_ms"`
	FinishedAt  time.Time      `json:"finished_at" yaml:"finished_at"`
}

// Summarize builds a Summary from report.
func Summarize(report *resolver.Report) Summary {
	s := Summary{
		ID:         report.ID,
		Original:   report.Original,
		State:      report.State.String(),
		Attempts:   len(report.Attempts),
		Skipped:    len(report.Skipped),
		Passes:     report.Passes,
		ByOutcome:  make(map[string]int),
		StopReason: report.StopReason,
		DurationMs: report.Duration().Milliseconds(),
		FinishedAt: report.FinishedAt,
	}

	for outcome, n := range report.Outcomes() {
		s.ByOutcome[outcome.String()] = n
	}
	if report.Resolved != nil {
		s.Recommended = report.ResolvedURI
		s.Transform = report.Resolved.Transform.String()
	}
	return s
}

// outcomeOrder fixes the display order of outcome counts.
var outcomeOrder = []probe.Outcome{
	probe.Success,
	probe.DNSFailure,
	probe.AuthFailure,
	probe.Timeout,
	probe.OtherFailure,
}
