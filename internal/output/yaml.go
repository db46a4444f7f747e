package output

import (
	"io"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/resolver"
)

// YAMLWriter writes output as YAML documents. Streamed events and the
// final report are separate documents in one stream.
type YAMLWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	encoder *yaml.Encoder
	stream  bool
	closed  bool
}

// NewYAMLWriter creates a new YAML writer.
func NewYAMLWriter(w io.Writer, stream bool) *YAMLWriter {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &YAMLWriter{
		writer:  w,
		encoder: enc,
		stream:  stream,
	}
}

// WriteReport writes the complete report with its summary.
func (y *YAMLWriter) WriteReport(report *resolver.Report) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil
	}
	return y.encoder.Encode(NewDocument(report))
}

// WriteAttempt writes a single attempt in streaming mode.
func (y *YAMLWriter) WriteAttempt(result *probe.Result) error {
	if !y.stream {
		return nil
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil
	}
	return y.encoder.Encode(StreamEvent{Type: EventAttempt, Data: result})
}

// WriteSkip writes a single pruned candidate in streaming mode.
func (y *YAMLWriter) WriteSkip(skip *resolver.Skip) error {
	if !y.stream {
		return nil
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil
	}
	return y.encoder.Encode(StreamEvent{Type: EventSkip, Data: skip})
}

// Flush flushes the writer.
func (y *YAMLWriter) Flush() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if flusher, ok := y.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close terminates the YAML stream. The destination stays open for its
// owner to close.
func (y *YAMLWriter) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil
	}
	y.closed = true

	return y.encoder.Close()
}
