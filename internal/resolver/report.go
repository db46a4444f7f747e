package resolver

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobtracing/dbresolve/internal/candidate"
	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/uri"
)

// State is a resolver state.
type State int

const (
	// Idle means no resolution has started.
	Idle State = iota
	// Probing means candidates are being tried.
	Probing
	// Resolved means a candidate answered. Terminal.
	Resolved
	// Exhausted means no candidate answered. Terminal.
	Exhausted
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Probing:
		return "probing"
	case Resolved:
		return "resolved"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for v := Idle; v <= Exhausted; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s == Resolved || s == Exhausted
}

// Reasons a candidate was skipped or a pass stopped early.
const (
	SkipHostUnresolvable = "host_unresolvable"

	StopMaxAttempts = "max_attempts"
	StopDeadline    = "deadline"
	StopCancelled   = "cancelled"
)

// Skip records a candidate that was pruned without a probe.
type Skip struct {
	Candidate candidate.Candidate `json:"candidate" yaml:"candidate"`
	URI       string              `json:"uri" yaml:"uri"` // masked
	Reason    string              `json:"reason" yaml:"reason"`
}

// Report is the terminal value of a resolution.
type Report struct {
	ID          string               `json:"id" yaml:"id"`
	Original    string               `json:"original" yaml:"original"` // masked
	State       State                `json:"state" yaml:"state"`
	Resolved    *candidate.Candidate `json:"resolved,omitempty" yaml:"resolved,omitempty"`
	ResolvedURI string               `json:"resolved_uri,omitempty" yaml:"resolved_uri,omitempty"` // masked
	Attempts    []probe.Result       `json:"attempts" yaml:"attempts"`
	Skipped     []Skip               `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Passes      int                  `json:"passes" yaml:"passes"`
	StopReason  string               `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
	StartedAt   time.Time            `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time            `json:"finished_at" yaml:"finished_at"`
}

func newReport(original uri.Descriptor) *Report {
	return &Report{
		ID:        uuid.NewString(),
		Original:  original.Masked(),
		State:     Probing,
		Attempts:  []probe.Result{},
		StartedAt: time.Now(),
	}
}

// Failed reports whether the resolution ended without a working candidate.
func (r *Report) Failed() bool {
	return r.State != Resolved
}

// Duration returns how long the resolution took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Descriptor returns the resolved descriptor. It is only available on a
// report returned by Resolve; reports loaded from history carry masked
// strings only.
func (r *Report) Descriptor() (uri.Descriptor, bool) {
	if r.Resolved == nil || r.Resolved.Descriptor.Host == "" {
		return uri.Descriptor{}, false
	}
	return r.Resolved.Descriptor, true
}

// Outcomes counts attempts by outcome.
func (r *Report) Outcomes() map[probe.Outcome]int {
	counts := make(map[probe.Outcome]int)
	for _, a := range r.Attempts {
		counts[a.Outcome]++
	}
	return counts
}

func (r *Report) startPass() {
	r.Passes++
	r.Attempts = []probe.Result{}
	r.Skipped = nil
	r.StopReason = ""
}
