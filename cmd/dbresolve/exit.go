package main

import (
	"context"
	"errors"

	"github.com/jobtracing/dbresolve/pkg/dbresolve"
)

// Process exit codes.
const (
	exitResolved  = 0
	exitExhausted = 1
	exitMalformed = 2
)

// exitCodeFor maps a resolution outcome onto the exit policy. A malformed
// URI is a configuration error and fails even when lenient.
func exitCodeFor(report *dbresolve.Report, err error, lenient bool) int {
	switch {
	case errors.Is(err, dbresolve.ErrMalformed):
		return exitMalformed
	case err == nil && report != nil && !report.Failed():
		return exitResolved
	case lenient && !errors.Is(err, context.Canceled):
		return exitResolved
	default:
		return exitExhausted
	}
}
