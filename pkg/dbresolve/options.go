package dbresolve

import (
	"fmt"
	"time"

	"github.com/jobtracing/dbresolve/internal/logger"
	"github.com/jobtracing/dbresolve/internal/metrics"
	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/progress"
	"github.com/jobtracing/dbresolve/internal/resolver"
	"github.com/jobtracing/dbresolve/internal/state"
)

// Option is a functional option for configuring the Resolver.
type Option func(*Resolver) error

// WithConfig replaces the whole configuration.
func WithConfig(cfg *Config) Option {
	return func(r *Resolver) error {
		if cfg == nil {
			return fmt.Errorf("nil config")
		}
		r.config = cfg.Clone()
		return nil
	}
}

// WithURI sets the connection string to resolve.
func WithURI(raw string) Option {
	return func(r *Resolver) error {
		r.config.URI = raw
		return nil
	}
}

// WithAliases appends alternate host names.
func WithAliases(aliases ...string) Option {
	return func(r *Resolver) error {
		r.config.Aliases = append(r.config.Aliases, aliases...)
		return nil
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Resolver) error {
		if timeout < 0 {
			return fmt.Errorf("timeout must not be negative")
		}
		r.config.Timeout = timeout
		return nil
	}
}

// WithMaxAttempts bounds probes per pass.
func WithMaxAttempts(n int) Option {
	return func(r *Resolver) error {
		if n < 0 {
			n = 0
		}
		r.config.MaxAttempts = n
		return nil
	}
}

// WithDeadline bounds the whole resolution.
func WithDeadline(d time.Duration) Option {
	return func(r *Resolver) error {
		r.config.Deadline = d
		return nil
	}
}

// WithRetry repeats exhausted passes up to attempts times.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(r *Resolver) error {
		if attempts < 1 {
			attempts = 1
		}
		r.config.Retry = RetryConfig{Attempts: attempts, Delay: delay}
		return nil
	}
}

// WithPruning toggles skipping credential variants of unresolvable hosts.
func WithPruning(enabled bool) Option {
	return func(r *Resolver) error {
		r.config.DisablePruning = !enabled
		return nil
	}
}

// WithRateLimit paces probes.
func WithRateLimit(probesPerSecond float64, burst int) Option {
	return func(r *Resolver) error {
		r.config.RateLimit.ProbesPerSecond = probesPerSecond
		r.config.RateLimit.Burst = burst
		return nil
	}
}

// WithProber replaces the MongoDB prober.
func WithProber(p probe.Prober) Option {
	return func(r *Resolver) error {
		if p == nil {
			return fmt.Errorf("nil prober")
		}
		r.prober = p
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Resolver) error {
		r.logger = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Resolver) error {
		r.metrics = m
		return nil
	}
}

// WithMetricsFile writes Prometheus textfile metrics after each resolution.
func WithMetricsFile(path string) Option {
	return func(r *Resolver) error {
		r.config.Metrics.TextfilePath = path
		return nil
	}
}

// WithHistory records reports in h.
func WithHistory(h *state.History) Option {
	return func(r *Resolver) error {
		r.history = h
		return nil
	}
}

// WithHistoryFile records reports in a bbolt database at path.
func WithHistoryFile(path string) Option {
	return func(r *Resolver) error {
		r.config.History.Enabled = true
		r.config.History.Path = path
		return nil
	}
}

// WithProgress shows a progress line on d.
func WithProgress(d *progress.Display) Option {
	return func(r *Resolver) error {
		r.progress = d
		r.config.Progress = d != nil
		return nil
	}
}

// WithObserver adds a resolution observer.
func WithObserver(obs resolver.Observer) Option {
	return func(r *Resolver) error {
		if obs != nil {
			r.observers = append(r.observers, obs)
		}
		return nil
	}
}

// WithLenient makes exhaustion a successful exit for callers that honor
// ExitCode.
func WithLenient(lenient bool) Option {
	return func(r *Resolver) error {
		r.config.Lenient = lenient
		return nil
	}
}

// WithVerbose enables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(r *Resolver) error {
		r.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) Option {
	return func(r *Resolver) error {
		r.config.Debug = debug
		return nil
	}
}
