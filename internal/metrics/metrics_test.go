package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	c := New()
	if c == nil {
		t.Fatal("New() returned nil")
	}
	if c.Registry() == nil {
		t.Fatal("Registry() returned nil")
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	// Two collectors must not panic on duplicate registration.
	a := New()
	b := New()

	a.RecordProbe("success", time.Millisecond)

	if got := testutil.ToFloat64(b.probesTotal.WithLabelValues("success")); got != 0 {
		t.Errorf("second collector saw %v probes, want 0", got)
	}
}

func TestCollector_RecordProbe(t *testing.T) {
	c := New()

	c.RecordProbe("dns_failure", 100*time.Millisecond)
	c.RecordProbe("dns_failure", 200*time.Millisecond)
	c.RecordProbe("success", 300*time.Millisecond)

	if got := testutil.ToFloat64(c.probesTotal.WithLabelValues("dns_failure")); got != 2 {
		t.Errorf("probes_total{outcome=dns_failure} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.probesTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("probes_total{outcome=success} = %v, want 1", got)
	}

	snap := c.Snapshot()
	if snap.ProbesTotal != 3 {
		t.Errorf("ProbesTotal = %d, want 3", snap.ProbesTotal)
	}
	if snap.SuccessfulProbes != 1 {
		t.Errorf("SuccessfulProbes = %d, want 1", snap.SuccessfulProbes)
	}
	if snap.Outcomes["dns_failure"] != 2 {
		t.Errorf("Outcomes[dns_failure] = %d, want 2", snap.Outcomes["dns_failure"])
	}
	if avg := snap.AverageLatency.Milliseconds(); avg != 200 {
		t.Errorf("AverageLatency = %dms, want 200ms", avg)
	}
}

func TestCollector_RecordProbe_Histogram(t *testing.T) {
	c := New()

	c.RecordProbe("timeout", 5*time.Second)
	c.RecordProbe("success", 20*time.Millisecond)

	if n := testutil.CollectAndCount(c.probeDuration); n != 2 {
		t.Errorf("probe_duration_seconds series = %d, want 2", n)
	}
}

func TestCollector_RecordSkip(t *testing.T) {
	c := New()

	c.RecordSkip("host_unresolvable")
	c.RecordSkip("host_unresolvable")

	if got := testutil.ToFloat64(c.skippedTotal.WithLabelValues("host_unresolvable")); got != 2 {
		t.Errorf("candidates_skipped_total = %v, want 2", got)
	}
	if snap := c.Snapshot(); snap.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", snap.Skipped)
	}
}

func TestCollector_RecordResolution(t *testing.T) {
	c := New()

	c.RecordResolution(false, time.Second)
	if got := testutil.ToFloat64(c.lastSuccess); got != 0 {
		t.Errorf("last_resolution_success = %v, want 0", got)
	}

	c.RecordResolution(true, 2*time.Second)
	if got := testutil.ToFloat64(c.lastSuccess); got != 1 {
		t.Errorf("last_resolution_success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.resolutionsTotal.WithLabelValues("resolved")); got != 1 {
		t.Errorf("resolutions_total{result=resolved} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.lastTimestamp); got <= 0 {
		t.Errorf("last_resolution_timestamp_seconds = %v, want > 0", got)
	}

	snap := c.Snapshot()
	if snap.Resolved != 1 || snap.Exhausted != 1 {
		t.Errorf("Resolved/Exhausted = %d/%d, want 1/1", snap.Resolved, snap.Exhausted)
	}
}

func TestCollector_RecordPass(t *testing.T) {
	c := New()

	c.RecordPass()
	c.RecordPass()

	if got := testutil.ToFloat64(c.passesTotal); got != 2 {
		t.Errorf("resolution_passes_total = %v, want 2", got)
	}
	if snap := c.Snapshot(); snap.Passes != 2 {
		t.Errorf("Passes = %d, want 2", snap.Passes)
	}
}

func TestCollector_GetAverageLatency_Empty(t *testing.T) {
	c := New()
	if avg := c.GetAverageLatency(); avg != 0 {
		t.Errorf("GetAverageLatency() = %v, want 0", avg)
	}
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := New()
	c.RecordProbe("auth_failure", 50*time.Millisecond)
	c.RecordResolution(false, time.Second)

	path := filepath.Join(t.TempDir(), "dbresolve.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`dbresolve_probes_total{outcome="auth_failure"} 1`,
		`dbresolve_resolutions_total{result="exhausted"} 1`,
		"dbresolve_last_resolution_success 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}

func TestSnapshot_FailureRate(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		successes int64
		want      float64
	}{
		{"no probes", 0, 0, 0},
		{"all failed", 4, 0, 1},
		{"one in four", 4, 3, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Snapshot{ProbesTotal: tt.total, SuccessfulProbes: tt.successes}
			if got := s.FailureRate(); got != tt.want {
				t.Errorf("FailureRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshot_Summary(t *testing.T) {
	s := &Snapshot{
		Uptime:      time.Minute,
		ProbesTotal: 7,
		Resolved:    1,
		Skipped:     2,
	}

	summary := s.Summary()
	if summary["probes_total"] != int64(7) {
		t.Errorf("summary[probes_total] = %v, want 7", summary["probes_total"])
	}
	if summary["skipped"] != int64(2) {
		t.Errorf("summary[skipped] = %v, want 2", summary["skipped"])
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				c.RecordProbe("timeout", time.Millisecond)
				c.RecordSkip("host_unresolvable")
				c.RecordPass()
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	snap := c.Snapshot()
	if snap.ProbesTotal != 1000 {
		t.Errorf("ProbesTotal = %d, want 1000", snap.ProbesTotal)
	}
	if snap.Skipped != 1000 {
		t.Errorf("Skipped = %d, want 1000", snap.Skipped)
	}
	if got := testutil.ToFloat64(c.probesTotal.WithLabelValues("timeout")); got != 1000 {
		t.Errorf("probes_total{outcome=timeout} = %v, want 1000", got)
	}
}

func TestSnapshot_Uptime(t *testing.T) {
	c := New()
	time.Sleep(10 * time.Millisecond)
	snap := c.Snapshot()

	if snap.Uptime < 10*time.Millisecond {
		t.Errorf("Uptime = %v, should be >= 10ms", snap.Uptime)
	}
}
