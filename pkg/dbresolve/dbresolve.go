// Package dbresolve finds a working MongoDB connection string by probing
// variants of a configured one: scheme flips, host aliases, relaxed
// credentials and a local fallback.
package dbresolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jobtracing/dbresolve/internal/candidate"
	"github.com/jobtracing/dbresolve/internal/collections"
	"github.com/jobtracing/dbresolve/internal/dnscheck"
	"github.com/jobtracing/dbresolve/internal/logger"
	"github.com/jobtracing/dbresolve/internal/metrics"
	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/progress"
	"github.com/jobtracing/dbresolve/internal/ratelimit"
	"github.com/jobtracing/dbresolve/internal/resolver"
	"github.com/jobtracing/dbresolve/internal/state"
	"github.com/jobtracing/dbresolve/internal/uri"
)

// Re-exported so callers outside this module can use the results.
type (
	Report    = resolver.Report
	Candidate = candidate.Candidate
	Result    = probe.Result
	Skip      = resolver.Skip
)

// ErrMalformed matches errors for connection strings that cannot be parsed.
var ErrMalformed = uri.ErrMalformed

// ErrNotResolved is returned by operations that need a resolved report.
var ErrNotResolved = errors.New("resolution did not find a working connection")

// Resolver is the entry point for endpoint resolution.
type Resolver struct {
	config    *Config
	prober    probe.Prober
	logger    *logger.Logger
	metrics   *metrics.Collector
	limiter   *ratelimit.Limiter
	history   *state.History
	progress  *progress.Display
	observers []resolver.Observer

	orchestrator *resolver.Orchestrator
	ownsHistory  bool
}

// New creates a Resolver with the given options.
func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		config: DefaultConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Validate config
	if err := r.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if r.logger == nil {
		level := logger.WarnLevel
		if r.config.Debug {
			level = logger.DebugLevel
		} else if r.config.Verbose {
			level = logger.InfoLevel
		}
		r.logger = logger.New(logger.Config{
			Level:     level,
			Pretty:    true,
			Component: "dbresolve",
		})
	}

	if r.prober == nil {
		r.prober = probe.NewMongoProber()
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}

	if rl := r.config.RateLimit; rl.ProbesPerSecond > 0 || rl.HostDelay > 0 {
		r.limiter = ratelimit.NewLimiter(rl.ProbesPerSecond, rl.Burst)
		r.limiter.SetHostDelay(rl.HostDelay)
	}

	if r.history == nil && r.config.History.Enabled {
		store, err := state.Open(r.config.History.Backend, r.config.History.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		r.history = state.NewHistory(store, r.config.History.MaxEntries, r.logger.Zerolog())
		r.ownsHistory = true
	}

	if r.config.Progress && r.progress == nil {
		r.progress = progress.New()
	}

	ropts := []resolver.Option{
		resolver.WithLogger(r.logger),
		resolver.WithMetrics(r.metrics),
	}
	if r.limiter != nil {
		ropts = append(ropts, resolver.WithPacer(r.limiter))
	}
	if r.progress != nil {
		ropts = append(ropts, resolver.WithObserver(r.progress))
	}
	for _, obs := range r.observers {
		ropts = append(ropts, resolver.WithObserver(obs))
	}
	r.orchestrator = resolver.New(r.prober, ropts...)

	return r, nil
}

// Resolve probes candidates until one connects. Exhaustion is reported
// through Report.Failed, not as an error. The report is recorded in
// history and metrics are exported when configured.
func (r *Resolver) Resolve(ctx context.Context) (*Report, error) {
	if r.progress != nil {
		bound := candidate.Bound(len(r.config.Aliases))
		r.progress.Start(uri.MaskString(r.config.URI), bound)
		defer r.progress.Stop()
	}

	report, err := r.orchestrator.ResolveWithRetry(ctx, r.config.URI, r.options(), resolver.Retry{
		Attempts: r.config.Retry.Attempts,
		Delay:    r.config.Retry.Delay,
	})
	if report == nil {
		return nil, err
	}

	if r.history != nil {
		if herr := r.history.Record(report); herr != nil {
			r.logger.WithError(herr).Warn("Failed to record resolution history")
		}
	}
	if path := r.config.Metrics.TextfilePath; path != "" {
		if merr := r.metrics.WriteTextfile(path); merr != nil {
			r.logger.WithError(merr).WithField("path", path).Warn("Failed to write metrics textfile")
		}
	}
	if r.limiter != nil {
		r.logger.WithField("pacing", r.limiter.Stats()).Debug("Probe pacing")
	}
	r.logger.StatsEvent(r.metrics.Snapshot().Summary())

	return report, err
}

// Plan returns the candidates Resolve would try, without probing.
func (r *Resolver) Plan() ([]Candidate, error) {
	return r.orchestrator.Plan(r.config.URI, r.config.Aliases)
}

// Diagnose runs DNS checks for the configured URI.
func (r *Resolver) Diagnose(ctx context.Context, opts ...dnscheck.Option) (*dnscheck.Report, error) {
	d, err := uri.Parse(r.config.URI)
	if err != nil {
		return nil, err
	}
	opts = append([]dnscheck.Option{
		dnscheck.WithLogger(r.logger.Zerolog()),
		dnscheck.WithTimeout(r.config.Timeout),
	}, opts...)
	return dnscheck.New(opts...).Check(ctx, d)
}

// Prepare creates the named collections (collections.Default when empty)
// on the database a successful report resolved to.
func (r *Resolver) Prepare(ctx context.Context, report *Report, names []string) ([]collections.Status, error) {
	if len(names) == 0 {
		names = collections.Default
	}

	session, err := r.open(ctx, report)
	if err != nil {
		return nil, err
	}
	defer r.closeSession(session)

	return collections.Ensure(ctx, session.Database(), names, r.logger.Zerolog())
}

// ListCollections lists collections on the resolved database.
func (r *Resolver) ListCollections(ctx context.Context, report *Report) ([]string, error) {
	session, err := r.open(ctx, report)
	if err != nil {
		return nil, err
	}
	defer r.closeSession(session)

	return collections.List(ctx, session.Database())
}

func (r *Resolver) open(ctx context.Context, report *Report) (*collections.Session, error) {
	if report == nil {
		return nil, ErrNotResolved
	}
	d, ok := report.Descriptor()
	if !ok {
		return nil, ErrNotResolved
	}
	return collections.Open(ctx, d, r.config.Timeout)
}

func (r *Resolver) closeSession(s *collections.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), probe.DefaultDisconnectTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		r.logger.WithError(err).Debug("Disconnect failed")
	}
}

// Config returns a copy of the configuration.
func (r *Resolver) Config() *Config {
	return r.config.Clone()
}

// Logger returns the logger.
func (r *Resolver) Logger() *logger.Logger {
	return r.logger
}

// Metrics returns the metrics collector.
func (r *Resolver) Metrics() *metrics.Collector {
	return r.metrics
}

// History returns the history, or nil when disabled.
func (r *Resolver) History() *state.History {
	return r.history
}

// State returns the orchestrator state.
func (r *Resolver) State() resolver.State {
	return r.orchestrator.State()
}

// Close releases the history store if the Resolver opened it.
func (r *Resolver) Close() error {
	if r.ownsHistory && r.history != nil {
		return r.history.Close()
	}
	return nil
}

func (r *Resolver) options() resolver.Options {
	return resolver.Options{
		Aliases:           r.config.Aliases,
		PerAttemptTimeout: r.config.Timeout,
		MaxAttempts:       r.config.MaxAttempts,
		Deadline:          r.config.Deadline,
		DisablePruning:    r.config.DisablePruning,
	}
}

// Timeout returns the configured per-attempt timeout, or the default.
func (r *Resolver) Timeout() time.Duration {
	if r.config.Timeout > 0 {
		return r.config.Timeout
	}
	return probe.DefaultTimeout
}
