// Package cerrors implements the connector's error taxonomy: transient,
// client-fault, non-fatal, slice failure, stream failure and fatal, as
// described by the sync protocol this connector speaks. Classification
// happens at the deepest layer able to tell the categories apart, and
// propagates upward by wrapping rather than by sentinel comparison.
package cerrors

import (
	"errors"
	"fmt"
)

// TransientError marks a failure the Retrying Invoker should retry:
// network errors, rate-limit replies, HTTP 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ClientFaultError marks an HTTP 400-class response. Never retried;
// bubbles up to the owning stream.
type ClientFaultError struct {
	Err    error
	Status int
}

func (e *ClientFaultError) Error() string {
	return fmt.Sprintf("client fault (status %d): %v", e.Status, e.Err)
}
func (e *ClientFaultError) Unwrap() error { return e.Err }

// NonFatalError is raised explicitly by a stream to signal skip-and-continue.
// Logged, an error-state emitted, the shard loop continues to the next slice.
type NonFatalError struct {
	Err error
}

func (e *NonFatalError) Error() string { return fmt.Sprintf("non-fatal: %v", e.Err) }
func (e *NonFatalError) Unwrap() error { return e.Err }

// SliceFailureError records that a shard produced an error which is not
// NonFatal, against a stream's max_slice_failures budget.
type SliceFailureError struct {
	Err   error
	Slice string
}

func (e *SliceFailureError) Error() string {
	return fmt.Sprintf("slice %q failed: %v", e.Slice, e.Err)
}
func (e *SliceFailureError) Unwrap() error { return e.Err }

// StreamFailureError is the aggregate: a stream exceeded its slice budget,
// or produced an unsliced error, against max_stream_failures.
type StreamFailureError struct {
	Err    error
	Stream string
}

func (e *StreamFailureError) Error() string {
	return fmt.Sprintf("stream %q failed: %v", e.Stream, e.Err)
}
func (e *StreamFailureError) Unwrap() error { return e.Err }

// FatalError terminates the run: cancellation, schema violation, a
// driver-level logic error, a missing stream, or a dependency cycle.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// errCancelled is the sentinel wrapped by Cancelled.
var errCancelled = errors.New("run cancelled")

// Cancelled is the fatal error raised when a run's cancellation token has
// been signalled. It is suppressed at the orchestrator boundary in favor
// of the original fault that caused the signal, per the propagation
// rule: the first non-cancellation error wins.
var Cancelled = &FatalError{Err: errCancelled}

// IsCancelled reports whether err is (or wraps) the Cancelled sentinel.
func IsCancelled(err error) bool {
	return errors.Is(err, errCancelled)
}
