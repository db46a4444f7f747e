// Package metrics provides Prometheus metrics for endpoint resolution.
// Each Collector owns its registry so that several resolvers (and tests)
// never collide on registration.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace for all resolver metrics
	namespace = "dbresolve"
)

// Collector collects and aggregates metrics.
type Collector struct {
	registry *prometheus.Registry

	probesTotal        *prometheus.CounterVec
	probeDuration      *prometheus.HistogramVec
	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration prometheus.Histogram
	skippedTotal       *prometheus.CounterVec
	passesTotal        prometheus.Counter
	lastSuccess        prometheus.Gauge
	lastTimestamp      prometheus.Gauge

	// Plain counters back Snapshot without gathering the registry.
	probes     atomic.Int64
	successes  atomic.Int64
	resolved   atomic.Int64
	exhausted  atomic.Int64
	skipped    atomic.Int64
	passes     atomic.Int64
	latencySum atomic.Int64
	latencyNum atomic.Int64
	outcomeMu  sync.RWMutex
	outcomes   map[string]*atomic.Int64
	startTime  time.Time
}

// New creates a new metrics collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of connection attempts by outcome",
			},
			[]string{"outcome"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of connection attempts in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of finished resolutions by result",
			},
			[]string{"result"},
		),
		resolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Duration of whole resolutions in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		skippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_skipped_total",
				Help:      "Total number of candidates pruned without a probe",
			},
			[]string{"reason"},
		),
		passesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolution_passes_total",
				Help:      "Total number of passes over the candidate list, retries included",
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_resolution_success",
				Help:      "Whether the last resolution found a working endpoint (1=resolved, 0=exhausted)",
			},
		),
		lastTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_resolution_timestamp_seconds",
				Help:      "Unix time the last resolution finished",
			},
		),
		outcomes:  make(map[string]*atomic.Int64),
		startTime: time.Now(),
	}

	c.registry.MustRegister(
		c.probesTotal,
		c.probeDuration,
		c.resolutionsTotal,
		c.resolutionDuration,
		c.skippedTotal,
		c.passesTotal,
		c.lastSuccess,
		c.lastTimestamp,
	)
	return c
}

// Registry returns the registry holding this collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordProbe records one connection attempt.
func (c *Collector) RecordProbe(outcome string, latency time.Duration) {
	c.probesTotal.WithLabelValues(outcome).Inc()
	c.probeDuration.WithLabelValues(outcome).Observe(latency.Seconds())

	c.probes.Add(1)
	if outcome == "success" {
		c.successes.Add(1)
	}
	c.latencySum.Add(latency.Milliseconds())
	c.latencyNum.Add(1)

	c.outcomeMu.Lock()
	if c.outcomes[outcome] == nil {
		c.outcomes[outcome] = &atomic.Int64{}
	}
	c.outcomes[outcome].Add(1)
	c.outcomeMu.Unlock()
}

// RecordSkip records a pruned candidate.
func (c *Collector) RecordSkip(reason string) {
	c.skippedTotal.WithLabelValues(reason).Inc()
	c.skipped.Add(1)
}

// RecordPass records one pass over the candidate list.
func (c *Collector) RecordPass() {
	c.passesTotal.Inc()
	c.passes.Add(1)
}

// RecordResolution records a finished resolution.
func (c *Collector) RecordResolution(resolved bool, duration time.Duration) {
	result := "exhausted"
	value := 0.0
	if resolved {
		result = "resolved"
		value = 1.0
		c.resolved.Add(1)
	} else {
		c.exhausted.Add(1)
	}

	c.resolutionsTotal.WithLabelValues(result).Inc()
	c.resolutionDuration.Observe(duration.Seconds())
	c.lastSuccess.Set(value)
	c.lastTimestamp.SetToCurrentTime()
}

// GetAverageLatency returns the average probe latency.
func (c *Collector) GetAverageLatency() time.Duration {
	sum := c.latencySum.Load()
	num := c.latencyNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// WriteTextfile writes all metrics to path in the Prometheus text format,
// for pickup by a node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:        time.Now(),
		Uptime:           time.Since(c.startTime),
		ProbesTotal:      c.probes.Load(),
		SuccessfulProbes: c.successes.Load(),
		Resolved:         c.resolved.Load(),
		Exhausted:        c.exhausted.Load(),
		Skipped:          c.skipped.Load(),
		Passes:           c.passes.Load(),
		AverageLatency:   c.GetAverageLatency(),
		Outcomes:         make(map[string]int64),
	}

	c.outcomeMu.RLock()
	for k, v := range c.outcomes {
		s.Outcomes[k] = v.Load()
	}
	c.outcomeMu.RUnlock()

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp        time.Time        `json:"timestamp"`
	Uptime           time.Duration    `json:"uptime"`
	ProbesTotal      int64            `json:"probes_total"`
	SuccessfulProbes int64            `json:"successful_probes"`
	Resolved         int64            `json:"resolved"`
	Exhausted        int64            `json:"exhausted"`
	Skipped          int64            `json:"skipped"`
	Passes           int64            `json:"passes"`
	AverageLatency   time.Duration    `json:"average_latency"`
	Outcomes         map[string]int64 `json:"outcomes"`
}

// FailureRate returns the share of probes that did not succeed.
func (s *Snapshot) FailureRate() float64 {
	if s.ProbesTotal == 0 {
		return 0
	}
	return float64(s.ProbesTotal-s.SuccessfulProbes) / float64(s.ProbesTotal)
}

// Summary returns a human-readable summary.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":         s.Uptime.String(),
		"probes_total":   s.ProbesTotal,
		"failure_rate":   s.FailureRate(),
		"resolved":       s.Resolved,
		"exhausted":      s.Exhausted,
		"skipped":        s.Skipped,
		"passes":         s.Passes,
		"avg_latency_ms": s.AverageLatency.Milliseconds(),
	}
}
