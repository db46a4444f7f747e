// Package errors provides error types and classification for endpoint resolution.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// DNS represents host-not-found and SRV lookup failures.
	DNS
	// Auth represents credential rejection by the server.
	Auth
	// Timeout represents an attempt that ran out of time.
	Timeout
	// Network represents connection-level failures (refused, reset, unreachable).
	Network
	// Malformed represents an unparseable connection URI.
	Malformed
	// Exhausted represents a resolution pass where every candidate failed.
	Exhausted
	// Cancelled represents context cancellation by the caller.
	Cancelled
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case DNS:
		return "dns"
	case Auth:
		return "auth"
	case Timeout:
		return "timeout"
	case Network:
		return "network"
	case Malformed:
		return "malformed"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether a whole resolution pass that ended with this
// error type is worth running again.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case DNS, Timeout, Network, Exhausted:
		return true
	default:
		return false
	}
}

// ResolveError represents a categorized resolution error.
type ResolveError struct {
	Type      ErrorType
	Target    string // always a masked URI
	Operation string
	Message   string
	Cause     error
	Retryable bool
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Type.String(), e.Operation, e.Target, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type.String(), e.Operation, e.Target, e.Message)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target.
func (e *ResolveError) Is(target error) bool {
	t, ok := target.(*ResolveError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// New creates a new ResolveError.
func New(errType ErrorType, target, operation, message string, cause error) *ResolveError {
	return &ResolveError{
		Type:      errType,
		Target:    target,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: errType.IsRetryable(),
	}
}

// NewDNSError creates a DNS error.
func NewDNSError(target, operation string, cause error) *ResolveError {
	return New(DNS, target, operation, "host could not be resolved", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(target, operation string, cause error) *ResolveError {
	return New(Timeout, target, operation, "attempt timed out", cause)
}

// NewExhaustedError creates an error for a pass with no working candidate.
func NewExhaustedError(target string, attempts int) *ResolveError {
	return New(Exhausted, target, "resolve", fmt.Sprintf("all %d attempts failed", attempts), nil)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(target, operation string) *ResolveError {
	return New(Cancelled, target, operation, "operation cancelled", nil)
}

// Categorize determines the error type of a driver or network error.
// DNS and credential failures take precedence over timeouts because the
// driver often reports both (a server selection timeout whose description
// carries the real cause).
func Categorize(err error) ErrorType {
	if err == nil {
		return Unknown
	}

	var resolveErr *ResolveError
	if errors.As(err, &resolveErr) {
		return resolveErr.Type
	}

	if isDNSError(err) {
		return DNS
	}
	if isAuthError(err) {
		return Auth
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if isTimeout(err) {
		return Timeout
	}
	if isNetworkError(err) {
		return Network
	}
	return Unknown
}

// isDNSError checks if an error is a name resolution failure.
func isDNSError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "enotfound") ||
		strings.Contains(errStr, "server misbehaving") ||
		strings.Contains(errStr, "lookup _mongodb._tcp") ||
		strings.Contains(errStr, "could not be reached")
}

// isAuthError checks if an error is a credential rejection.
func isAuthError(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == 18 || cmdErr.Code == 8000) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "authentication failed") ||
		strings.Contains(errStr, "auth error") ||
		strings.Contains(errStr, "bad auth") ||
		strings.Contains(errStr, "unable to authenticate")
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if an error is connection-related.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	if mongo.IsNetworkError(err) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "network is unreachable")
}

// IsRetryable checks if an error should cause another resolution pass.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var resolveErr *ResolveError
	if errors.As(err, &resolveErr) {
		return resolveErr.Retryable
	}

	return Categorize(err).IsRetryable()
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var resolveErr *ResolveError
	if errors.As(err, &resolveErr) {
		return resolveErr.Type
	}
	return Unknown
}
