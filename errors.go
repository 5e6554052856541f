package threadkit

import "errors"

// Error kinds shared across all components. Operations document the subset
// they may return; callers match with [errors.Is]. Kinds wrapping additional
// context are produced with fmt.Errorf("...: %w", kind).
var (
	// ErrInvalidArgument reports a nil, uninitialized, or out-of-range
	// argument, or an operation on a disposed handle.
	ErrInvalidArgument = errors.New("threadkit: invalid argument")

	// ErrBusy reports an operation attempted in the wrong state, such as
	// starting an already-started thread or adding to a full queue.
	ErrBusy = errors.New("threadkit: busy")

	// ErrResourceExhausted reports that a backing resource (such as a
	// ledger slot) could not be obtained. The caller may retry.
	ErrResourceExhausted = errors.New("threadkit: resource exhausted")

	// ErrNotPermitted reports an operation by a caller that does not own
	// the resource, such as unlocking a mutex held by another goroutine.
	ErrNotPermitted = errors.New("threadkit: operation not permitted")

	// ErrInternal reports a failure in an underlying primitive that the
	// component cannot translate into a more specific kind.
	ErrInternal = errors.New("threadkit: internal error")

	// ErrTimedOut reports that a timed wait reached its deadline. This is
	// expected control flow, not a failure.
	ErrTimedOut = errors.New("threadkit: timed out")

	// ErrDeadlock reports a detected self-deadlock: a goroutine locking a
	// plain mutex it already holds.
	ErrDeadlock = errors.New("threadkit: deadlock detected")

	// ErrNotStarted reports an operation that requires a started thread,
	// such as joining a Fresh handle.
	ErrNotStarted = errors.New("threadkit: thread not started")

	// ErrFinished reports an operation on a handle that has already
	// completed its lifecycle.
	ErrFinished = errors.New("threadkit: already finished")

	// ErrDetached reports a join on a detached or already-joined thread.
	// Join and detach are each once-only and mutually exclusive.
	ErrDetached = errors.New("threadkit: thread detached")

	// ErrCancelled reports a submission to a stopped pool. Expected
	// control flow during shutdown.
	ErrCancelled = errors.New("threadkit: cancelled")

	// ErrUnsupported reports a feature the backend cannot provide, such as
	// stepping a ghost that has no step function.
	ErrUnsupported = errors.New("threadkit: unsupported")
)
