// Package coroutine gives every long-running goroutine loop in this
// module a single place to check for cancellation, the Go realization
// of spec.md §5's cooperative pull()/interrupt() suspension point: a
// loop calls Pull(ctx) once per iteration instead of hand-rolling a
// `select { case <-ctx.Done(): ... }` at every call site.
package coroutine

import (
	"context"
	"errors"
	"time"
)

// ErrInterrupted is returned by Pull once ctx has been cancelled,
// standing in for SRS's coroutine interrupt() + pull()-returns-error
// pairing.
var ErrInterrupted = errors.New("coroutine: interrupted")

// Pull checks ctx for cancellation without blocking, returning
// ErrInterrupted if it has already been cancelled or its deadline has
// passed, and nil otherwise. Call it at the top of every loop iteration
// in a long-running goroutine.
func Pull(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrInterrupted
	default:
		return nil
	}
}

// Sleep blocks for d or until ctx is cancelled, whichever comes first,
// returning ErrInterrupted in the latter case — the suspension-point
// realization of srs_usleep.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrInterrupted
	case <-timer.C:
		return nil
	}
}
