// Package resolver drives probes over the candidate sequence until one
// answers or the sequence runs out.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jobtracing/dbresolve/internal/candidate"
	reserrors "github.com/jobtracing/dbresolve/internal/errors"
	"github.com/jobtracing/dbresolve/internal/logger"
	"github.com/jobtracing/dbresolve/internal/metrics"
	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/uri"
)

// Options bound a single resolution.
type Options struct {
	// Aliases are alternate host names, tried in order.
	Aliases []string
	// PerAttemptTimeout bounds each probe. Zero uses probe.DefaultTimeout.
	PerAttemptTimeout time.Duration
	// MaxAttempts bounds probes per pass. Zero or less means no bound.
	MaxAttempts int
	// Deadline bounds the whole resolution, retries included. Zero means
	// no bound beyond the caller's context.
	Deadline time.Duration
	// DisablePruning probes credential variants even after the host
	// failed to resolve.
	DisablePruning bool
}

// Retry re-runs whole passes after a fixed delay.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

// Pacer delays probes to a host. *ratelimit.Limiter satisfies it.
type Pacer interface {
	WaitHost(ctx context.Context, host string) error
}

// Observer is notified as a resolution progresses. Calls happen on the
// resolving goroutine, in order.
type Observer interface {
	OnCandidate(c candidate.Candidate)
	OnResult(r probe.Result)
	OnSkip(s Skip)
}

// Orchestrator runs resolutions. State reflects the most recent one;
// concurrent Resolve calls are safe but share that state.
type Orchestrator struct {
	prober    probe.Prober
	logger    *logger.Logger
	metrics   *metrics.Collector
	pacer     Pacer
	observers []Observer

	mu    sync.RWMutex
	state State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l.WithComponent("resolver")
		}
	}
}

// WithMetrics records probes and resolutions on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) {
		o.metrics = c
	}
}

// WithPacer paces probes with p.
func WithPacer(p Pacer) Option {
	return func(o *Orchestrator) {
		o.pacer = p
	}
}

// WithObserver adds an observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// New creates an orchestrator around prober.
func New(prober probe.Prober, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		prober: prober,
		logger: logger.NewNop(),
		state:  Idle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	if from != to {
		o.logger.TransitionEvent(from.String(), to.String())
	}
}

// Resolve makes a single pass over the candidates derived from rawURI.
//
// A malformed URI returns a nil report and an error matching
// uri.ErrMalformed. If ctx is cancelled the report holds the attempts
// completed so far and the context error is returned with it. Exhaustion
// is not an error: check Report.Failed.
func (o *Orchestrator) Resolve(ctx context.Context, rawURI string, opts Options) (*Report, error) {
	return o.ResolveWithRetry(ctx, rawURI, opts, Retry{Attempts: 1})
}

// ResolveWithRetry is Resolve with whole passes repeated after
// retry.Delay while they end exhausted, up to retry.Attempts passes.
func (o *Orchestrator) ResolveWithRetry(ctx context.Context, rawURI string, opts Options, retry Retry) (*Report, error) {
	desc, err := uri.Parse(rawURI)
	if err != nil {
		o.logger.WithError(err).Error("Cannot resolve malformed URI")
		return nil, err
	}
	return o.ResolveDescriptor(ctx, desc, opts, retry)
}

// ResolveDescriptor resolves an already parsed descriptor.
func (o *Orchestrator) ResolveDescriptor(ctx context.Context, desc uri.Descriptor, opts Options, retry Retry) (*Report, error) {
	runCtx, cancel := withDeadline(ctx, opts.Deadline)
	defer cancel()

	aliases := o.normalizeAliases(opts.Aliases)
	report := newReport(desc)
	o.transition(Probing)

	o.logger.WithURI(report.Original).
		WithField("aliases", len(aliases)).
		WithField("bound", candidate.Bound(len(aliases))).
		Info("Resolution started")

	retrier := reserrors.NewRetrier(reserrors.FixedRetryConfig(retry.Attempts, retry.Delay))
	var cancelled error

	retrier.Do(runCtx, "resolve", report.Original, func(passCtx context.Context) error {
		report.startPass()
		if o.metrics != nil {
			o.metrics.RecordPass()
		}
		if report.Passes > 1 {
			o.logger.WithField("pass", report.Passes).Info("Retrying resolution")
		}

		if err := o.pass(ctx, passCtx, desc, aliases, opts, report); err != nil {
			cancelled = err
			return reserrors.NewCancelledError(report.Original, "resolve")
		}
		if report.Resolved != nil {
			return nil
		}
		return reserrors.NewExhaustedError(report.Original, len(report.Attempts))
	})

	if cancelled == nil && report.Resolved == nil && ctx.Err() != nil {
		// Cancelled during the delay between passes.
		cancelled = ctx.Err()
		report.StopReason = StopCancelled
	}
	if report.StopReason == "" && report.Resolved == nil && runCtx.Err() != nil {
		report.StopReason = StopDeadline
	}

	o.finish(report)
	return report, cancelled
}

// Plan returns the candidates a resolution of rawURI would try, in order,
// without probing any of them.
func (o *Orchestrator) Plan(rawURI string, aliases []string) ([]candidate.Candidate, error) {
	desc, err := uri.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	return candidate.New(desc, o.normalizeAliases(aliases)).All(), nil
}

// pass probes candidates in order until one succeeds or the sequence ends.
// It returns a non-nil error only when parent is cancelled; the in-flight
// probe is then discarded.
func (o *Orchestrator) pass(parent, ctx context.Context, desc uri.Descriptor, aliases []string, opts Options, report *Report) error {
	gen := candidate.New(desc, aliases)
	unresolvable := make(map[string]bool)

	for {
		if err := parent.Err(); err != nil {
			report.StopReason = StopCancelled
			return err
		}
		if ctx.Err() != nil {
			report.StopReason = StopDeadline
			return nil
		}
		if opts.MaxAttempts > 0 && len(report.Attempts) >= opts.MaxAttempts {
			report.StopReason = StopMaxAttempts
			return nil
		}

		c, ok := gen.Next()
		if !ok {
			return nil
		}

		if !opts.DisablePruning && c.Transform.ChangesCredentials() && unresolvable[hostKey(c.Descriptor)] {
			o.skip(report, c, SkipHostUnresolvable)
			continue
		}

		for _, obs := range o.observers {
			obs.OnCandidate(c)
		}

		if o.pacer != nil {
			if err := o.pacer.WaitHost(ctx, c.Descriptor.Hostname()); err != nil {
				if perr := parent.Err(); perr != nil {
					report.StopReason = StopCancelled
					return perr
				}
				report.StopReason = StopDeadline
				return nil
			}
		}

		result := o.prober.Attempt(ctx, c, attemptTimeout(ctx, opts.PerAttemptTimeout))
		if err := parent.Err(); err != nil {
			report.StopReason = StopCancelled
			return err
		}

		o.record(report, result)

		if result.Outcome == probe.Success {
			report.Resolved = &c
			report.ResolvedURI = c.Masked()
			return nil
		}
		if result.Outcome == probe.DNSFailure {
			unresolvable[hostKey(c.Descriptor)] = true
		}
	}
}

func (o *Orchestrator) record(report *Report, result probe.Result) {
	report.Attempts = append(report.Attempts, result)

	o.logger.ProbeEvent(result.Candidate.Index, result.Candidate.Transform.String(),
		result.URI, result.Outcome.String(), result.Latency)
	if o.metrics != nil {
		o.metrics.RecordProbe(result.Outcome.String(), result.Latency)
	}
	for _, obs := range o.observers {
		obs.OnResult(result)
	}
}

func (o *Orchestrator) skip(report *Report, c candidate.Candidate, reason string) {
	s := Skip{Candidate: c, URI: c.Masked(), Reason: reason}
	report.Skipped = append(report.Skipped, s)

	o.logger.SkipEvent(c.Transform.String(), s.URI, reason)
	if o.metrics != nil {
		o.metrics.RecordSkip(reason)
	}
	for _, obs := range o.observers {
		obs.OnSkip(s)
	}
}

func (o *Orchestrator) finish(report *Report) {
	report.FinishedAt = time.Now()
	report.State = Exhausted
	if report.Resolved != nil {
		report.State = Resolved
	}
	o.transition(report.State)

	o.logger.ReportEvent(report.State.String(), len(report.Attempts), len(report.Skipped),
		report.ResolvedURI, report.Duration())
	if o.metrics != nil {
		o.metrics.RecordResolution(!report.Failed(), report.Duration())
	}
}

// normalizeAliases drops blank and invalid aliases, logging the latter.
func (o *Orchestrator) normalizeAliases(aliases []string) []string {
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if strings.TrimSpace(a) == "" {
			continue
		}
		n, err := uri.NormalizeHost(a)
		if err != nil {
			o.logger.WithError(err).WithField("alias", a).Warn("Ignoring invalid host alias")
			continue
		}
		out = append(out, n)
	}
	return out
}

// hostKey identifies a host under a scheme. A failed SRV lookup says
// nothing about the same name used directly, and vice versa.
func hostKey(d uri.Descriptor) string {
	return d.Scheme.Prefix() + strings.ToLower(d.Host)
}

// attemptTimeout clamps timeout to what is left before ctx's deadline.
func attemptTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = probe.DefaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			if remaining <= 0 {
				return time.Millisecond
			}
			return remaining
		}
	}
	return timeout
}

func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
