package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/resolver"
)

// TextWriter writes a human-readable report.
type TextWriter struct {
	mu     sync.Mutex
	writer io.Writer
	stream bool
	closed bool
}

// NewTextWriter creates a new text writer. In stream mode each attempt
// is printed as one line when it finishes.
func NewTextWriter(w io.Writer, stream bool) *TextWriter {
	return &TextWriter{
		writer: w,
		stream: stream,
	}
}

// WriteReport writes the attempts table, skips, outcome and hints.
func (t *TextWriter) WriteReport(report *resolver.Report) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Resolution %s\n", report.ID)
	fmt.Fprintf(&b, "Original:  %s\n", report.Original)
	fmt.Fprintf(&b, "State:     %s\n", report.State)
	fmt.Fprintf(&b, "Duration:  %s\n", report.Duration().Round(time.Millisecond))
	if report.Passes > 1 {
		fmt.Fprintf(&b, "Passes:    %d\n", report.Passes)
	}
	if report.StopReason != "" {
		fmt.Fprintf(&b, "Stopped:   %s\n", report.StopReason)
	}

	if len(report.Attempts) > 0 {
		b.WriteString("\nAttempts:\n")
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  #\tTRANSFORM\tOUTCOME\tLATENCY\tURI")
		for _, a := range report.Attempts {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%dms\t%s\n",
				a.Candidate.Index, a.Candidate.Transform, a.Outcome, a.LatencyMs, a.URI)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(report.Skipped) > 0 {
		b.WriteString("\nSkipped:\n")
		for _, s := range report.Skipped {
			fmt.Fprintf(&b, "  %s %s (%s)\n", s.Candidate.Transform, s.URI, s.Reason)
		}
	}

	if counts := report.Outcomes(); len(counts) > 0 {
		parts := make([]string, 0, len(counts))
		for _, o := range outcomeOrder {
			if n := counts[o]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", o, n))
			}
		}
		fmt.Fprintf(&b, "\nOutcomes:  %s\n", strings.Join(parts, " "))
	}

	if report.Resolved != nil {
		fmt.Fprintf(&b, "\nRecommended URI: %s\n", report.ResolvedURI)
	} else {
		b.WriteString("\nNo candidate could connect.\n")
	}

	if hints := Hints(report); len(hints) > 0 {
		b.WriteString("\nHints:\n")
		for _, h := range hints {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
	}

	_, err := io.WriteString(t.writer, b.String())
	return err
}

// WriteAttempt writes a single attempt line in streaming mode.
func (t *TextWriter) WriteAttempt(result *probe.Result) error {
	if !t.stream {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	_, err := fmt.Fprintf(t.writer, "[%d] %-18s %-14s %6dms  %s\n",
		result.Candidate.Index, result.Candidate.Transform, result.Outcome, result.LatencyMs, result.URI)
	return err
}

// WriteSkip writes a single pruned candidate line in streaming mode.
func (t *TextWriter) WriteSkip(skip *resolver.Skip) error {
	if !t.stream {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	_, err := fmt.Fprintf(t.writer, "[-] %-18s %-14s %8s  %s\n",
		skip.Candidate.Transform, "skipped", "", skip.URI)
	return err
}

// Flush flushes the writer.
func (t *TextWriter) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if flusher, ok := t.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close stops the writer. The destination stays open for its owner to close.
func (t *TextWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	return nil
}
