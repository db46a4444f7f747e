// Package probe makes one bounded connection attempt against a candidate.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/jobtracing/dbresolve/internal/candidate"
	reserrors "github.com/jobtracing/dbresolve/internal/errors"
)

// Outcome classifies a single attempt.
type Outcome int

const (
	// Success means the server answered the liveness command.
	Success Outcome = iota
	// Timeout means the attempt ran out of time.
	Timeout
	// AuthFailure means the server rejected the credentials.
	AuthFailure
	// DNSFailure means the host (or its SRV record) could not be resolved.
	DNSFailure
	// OtherFailure covers everything else.
	OtherFailure
)

// String returns the string representation of Outcome.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case AuthFailure:
		return "auth_failure"
	case DNSFailure:
		return "dns_failure"
	default:
		return "other_failure"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	for v := Success; v <= OtherFailure; v++ {
		if v.String() == string(text) {
			*o = v
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

// OutcomeFromErrorType maps the error taxonomy onto attempt outcomes.
func OutcomeFromErrorType(t reserrors.ErrorType) Outcome {
	switch t {
	case reserrors.DNS:
		return DNSFailure
	case reserrors.Auth:
		return AuthFailure
	case reserrors.Timeout:
		return Timeout
	default:
		return OtherFailure
	}
}

// Classify returns the outcome for err given how long the attempt took.
// Host and credential problems win over the clock: the driver usually
// reports them as a server selection timeout whose description names the
// real cause.
func Classify(err error, elapsed, timeout time.Duration) Outcome {
	if err == nil {
		return Success
	}

	switch t := reserrors.Categorize(err); t {
	case reserrors.DNS, reserrors.Auth:
		return OutcomeFromErrorType(t)
	}

	if timeout > 0 && elapsed >= timeout {
		return Timeout
	}
	return OutcomeFromErrorType(reserrors.Categorize(err))
}

// Result is the record of one attempt. It is never mutated once created.
type Result struct {
	Candidate candidate.Candidate `json:"candidate" yaml:"candidate"`
	URI       string              `json:"uri" yaml:"uri"` // masked
	Outcome   Outcome             `json:"outcome" yaml:"outcome"`
	Latency   time.Duration       `json:"-" yaml:"-"`
	LatencyMs int64               `json:"latency_ms" yaml:"latency_ms"`
	Detail    string              `json:"detail,omitempty" yaml:"detail,omitempty"`
	StartedAt time.Time           `json:"started_at" yaml:"started_at"`
}

// NewResult builds a Result, masking the candidate URI.
func NewResult(c candidate.Candidate, outcome Outcome, started time.Time, latency time.Duration, detail string) Result {
	return Result{
		Candidate: c,
		URI:       c.Masked(),
		Outcome:   outcome,
		Latency:   latency,
		LatencyMs: latency.Milliseconds(),
		Detail:    detail,
		StartedAt: started,
	}
}

// Prober makes single-shot attempts. Implementations must release every
// connection they open before returning, whatever the outcome.
type Prober interface {
	Attempt(ctx context.Context, c candidate.Candidate, timeout time.Duration) Result
}

// ProberFunc lets an ordinary function act as a Prober.
type ProberFunc func(ctx context.Context, c candidate.Candidate, timeout time.Duration) Result

// Attempt calls f.
func (f ProberFunc) Attempt(ctx context.Context, c candidate.Candidate, timeout time.Duration) Result {
	return f(ctx, c, timeout)
}
