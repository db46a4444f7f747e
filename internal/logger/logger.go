// Package logger provides structured logging for endpoint resolution.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jobtracing/dbresolve/internal/uri"
)

// Level represents log levels.
type Level = zerolog.Level

// Log levels.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	zl zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      Level
	Pretty     bool   // Use console writer (colored output)
	Output     io.Writer
	TimeFormat string
	Component  string // Component name (e.g., "resolver", "probe", "history")
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}

	zerolog.TimeFieldFormat = cfg.TimeFormat

	var output io.Writer = cfg.Output

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	zl := zerolog.New(output).
		With().
		Timestamp().
		Logger().
		Level(cfg.Level)

	if cfg.Component != "" {
		zl = zl.With().Str("component", cfg.Component).Logger()
	}

	return &Logger{zl: zl}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithComponent returns a new logger with the component field set.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		zl: l.zl.With().Str("component", component).Logger(),
	}
}

// WithField returns a new logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		zl: l.zl.With().Interface(key, value).Logger(),
	}
}

// WithURI returns a new logger with a uri field. The value is masked
// before it is recorded.
func (l *Logger) WithURI(raw string) *Logger {
	return &Logger{
		zl: l.zl.With().Str("uri", uri.MaskString(raw)).Logger(),
	}
}

// WithError returns a new logger with error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zl: l.zl.With().Err(err).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.zl.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string) {
	l.zl.Error().Msg(msg)
}

// Event returns a zerolog Event for complex logging.
func (l *Logger) Event(level Level) *zerolog.Event {
	switch level {
	case DebugLevel:
		return l.zl.Debug()
	case InfoLevel:
		return l.zl.Info()
	case WarnLevel:
		return l.zl.Warn()
	case ErrorLevel:
		return l.zl.Error()
	default:
		return l.zl.Info()
	}
}

// ProbeEvent logs the outcome of one connection attempt.
func (l *Logger) ProbeEvent(index int, transform, maskedURI, outcome string, latency time.Duration) {
	level := DebugLevel
	if outcome == "success" {
		level = InfoLevel
	}
	l.Event(level).
		Int("attempt", index).
		Str("transform", transform).
		Str("uri", uri.MaskString(maskedURI)).
		Str("outcome", outcome).
		Dur("latency", latency).
		Msg("Probe finished")
}

// SkipEvent logs a candidate that was pruned without being probed.
func (l *Logger) SkipEvent(transform, maskedURI, reason string) {
	l.zl.Debug().
		Str("transform", transform).
		Str("uri", uri.MaskString(maskedURI)).
		Str("reason", reason).
		Msg("Candidate skipped")
}

// TransitionEvent logs a resolver state change.
func (l *Logger) TransitionEvent(from, to string) {
	l.zl.Debug().
		Str("from", from).
		Str("to", to).
		Msg("State transition")
}

// ReportEvent logs the summary of a finished resolution.
func (l *Logger) ReportEvent(state string, attempts, skipped int, resolved string, duration time.Duration) {
	event := l.zl.Warn()
	if resolved != "" {
		event = l.zl.Info().Str("resolved", uri.MaskString(resolved))
	}
	event.
		Str("state", state).
		Int("attempts", attempts).
		Int("skipped", skipped).
		Dur("duration", duration).
		Msg("Resolution finished")
}

// StatsEvent logs statistics.
func (l *Logger) StatsEvent(stats map[string]interface{}) {
	event := l.zl.Info()
	for k, v := range stats {
		event = event.Interface(k, v)
	}
	event.Msg("Resolution statistics")
}

// Zerolog returns the underlying zerolog logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}
