// Package ratelimit paces connection attempts so a resolution does not
// hammer a cluster (or its DNS) with back-to-back handshakes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements probe pacing, globally and per host.
type Limiter struct {
	mu           sync.RWMutex
	limiter      *rate.Limiter
	perHost      map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	hostDelay    time.Duration
	lastProbe    map[string]time.Time
}

// NewLimiter creates a new limiter allowing probesPerSecond with burst.
// A non-positive rate means unlimited.
func NewLimiter(probesPerSecond float64, burst int) *Limiter {
	limit := rate.Limit(probesPerSecond)
	if probesPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(limit, burst),
		perHost:      make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
		lastProbe:    make(map[string]time.Time),
	}
}

// WaitHost blocks until a probe to host is allowed.
func (l *Limiter) WaitHost(ctx context.Context, host string) error {
	// Global rate limit
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	// Per-host rate limit
	l.mu.Lock()
	hostLimiter, exists := l.perHost[host]
	if !exists {
		hostLimiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.perHost[host] = hostLimiter
	}

	// Check host delay
	if l.hostDelay > 0 {
		if last, ok := l.lastProbe[host]; ok {
			elapsed := time.Since(last)
			if elapsed < l.hostDelay {
				l.mu.Unlock()
				timer := time.NewTimer(l.hostDelay - elapsed)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				}
				l.mu.Lock()
			}
		}
		l.lastProbe[host] = time.Now()
	}
	l.mu.Unlock()

	return hostLimiter.Wait(ctx)
}

// SetHostDelay sets the minimum delay between probes to the same host.
func (l *Limiter) SetHostDelay(delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hostDelay = delay
}

// Stats returns limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LimiterStats{
		HostCount:    len(l.perHost),
		DefaultRate:  float64(l.defaultRate),
		DefaultBurst: l.defaultBurst,
		HostDelay:    l.hostDelay,
	}
}

// LimiterStats contains limiter statistics.
type LimiterStats struct {
	HostCount    int           `json:"host_count"`
	DefaultRate  float64       `json:"default_rate"`
	DefaultBurst int           `json:"default_burst"`
	HostDelay    time.Duration `json:"host_delay"`
}
