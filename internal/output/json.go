package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/resolver"
)

// JSONWriter writes output in JSON format.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	stream bool
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// WriteReport writes the complete report with its summary.
func (j *JSONWriter) WriteReport(report *resolver.Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	return j.write(NewDocument(report))
}

// WriteAttempt writes a single attempt in streaming mode.
func (j *JSONWriter) WriteAttempt(result *probe.Result) error {
	if !j.stream {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	return j.write(StreamEvent{
		Type: EventAttempt,
		Data: result,
	})
}

// WriteSkip writes a single pruned candidate in streaming mode.
func (j *JSONWriter) WriteSkip(skip *resolver.Skip) error {
	if !j.stream {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	return j.write(StreamEvent{
		Type: EventSkip,
		Data: skip,
	})
}

// write marshals v followed by a newline.
func (j *JSONWriter) write(v interface{}) error {
	var data []byte
	var err error

	if j.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	_, err = j.writer.Write(data)
	if err != nil {
		return err
	}

	_, err = j.writer.Write([]byte("\n"))
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close stops the writer. The destination stays open for its owner to close.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true
	return nil
}
