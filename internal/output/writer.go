// Package output renders resolution reports as JSON, YAML or text.
package output

import (
	"io"

	"github.com/jobtracing/dbresolve/internal/candidate"
	"github.com/jobtracing/dbresolve/internal/probe"
	"github.com/jobtracing/dbresolve/internal/resolver"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteReport writes the complete resolution report
	WriteReport(report *resolver.Report) error

	// WriteAttempt writes a single attempt (for streaming)
	WriteAttempt(result *probe.Result) error

	// WriteSkip writes a single pruned candidate (for streaming)
	WriteSkip(skip *resolver.Skip) error

	// Flush flushes any buffered output
	Flush() error

	// Close stops the writer without closing the destination
	Close() error
}

// Formats understood by NewWriter.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Config holds output configuration.
type Config struct {
	Format   string `yaml:"format" json:"format"`
	Pretty   bool   `yaml:"pretty" json:"pretty"`
	Stream   bool   `yaml:"stream" json:"stream"`
	FilePath string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case FormatJSON:
		return NewJSONWriter(w, config.Pretty, config.Stream)
	case FormatYAML:
		return NewYAMLWriter(w, config.Stream)
	default:
		return NewTextWriter(w, config.Stream)
	}
}

// ValidFormat reports whether NewWriter knows format.
func ValidFormat(format string) bool {
	switch format {
	case FormatText, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// observer streams resolver events to a Writer.
type observer struct {
	w       Writer
	onError func(error)
}

// AsObserver adapts w so a resolver streams attempts into it as they
// finish. onError, if set, receives write failures.
func AsObserver(w Writer, onError func(error)) resolver.Observer {
	return &observer{w: w, onError: onError}
}

func (o *observer) OnCandidate(candidate.Candidate) {}

func (o *observer) OnResult(r probe.Result) {
	o.report(o.w.WriteAttempt(&r))
}

func (o *observer) OnSkip(s resolver.Skip) {
	o.report(o.w.WriteSkip(&s))
}

func (o *observer) report(err error) {
	if err != nil && o.onError != nil {
		o.onError(err)
	}
}
