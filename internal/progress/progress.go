// Package progress draws a one-line status display while candidates are
// probed.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jobtracing/dbresolve/internal/candidate"
	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/resolver"
)

// Display renders resolution progress. It implements resolver.Observer.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	// Stats
	tried    atomic.Int64
	failures atomic.Int64
	skipped  atomic.Int64
	bound    int

	// Timing
	startTime time.Time
	target    string

	// Display
	current  string
	lastLine string
}

var _ resolver.Observer = (*Display)(nil)

// New creates a progress display writing to stderr.
func New() *Display {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a progress display writing to w.
func NewWithWriter(w io.Writer) *Display {
	return &Display{out: w}
}

// Start begins the display. bound is the maximum candidate count; target
// must already be masked.
func (d *Display) Start(target string, bound int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.target = target
	d.bound = bound
}

// OnCandidate shows the candidate about to be probed.
func (d *Display) OnCandidate(c candidate.Candidate) {
	d.mu.Lock()
	d.current = fmt.Sprintf("%s %s", c.Transform, truncate(c.Masked(), 48))
	d.mu.Unlock()
	d.render()
}

// OnResult counts a finished attempt.
func (d *Display) OnResult(r probe.Result) {
	d.tried.Add(1)
	if r.Outcome != probe.Success {
		d.failures.Add(1)
	}
	d.render()
}

// OnSkip counts a pruned candidate.
func (d *Display) OnSkip(resolver.Skip) {
	d.skipped.Add(1)
	d.render()
}

func (d *Display) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return
	}

	done := int(d.tried.Load() + d.skipped.Load())
	progress := 0
	if d.bound > 0 {
		progress = done * 100 / d.bound
		if progress > 100 {
			progress = 100
		}
	}

	barWidth := 20
	filled := progress * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %d/%d | Failed: %d | Skipped: %d | %s | %s",
		bar, done, d.bound, d.failures.Load(), d.skipped.Load(),
		formatDuration(time.Since(d.startTime)), d.current)

	// Clear previous line and print new one
	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop ends the display.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true

	// Print newline to move past progress bar
	fmt.Fprintln(d.out)
}

// Stats returns tried, failed and skipped counts.
func (d *Display) Stats() (tried, failures, skipped int64) {
	return d.tried.Load(), d.failures.Load(), d.skipped.Load()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d - m*time.Minute) / time.Second
	return fmt.Sprintf("%dm%02ds", m, s)
}
