package threadkit

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avelis/threadkit/goid"
)

// ThreadState identifies where a [Thread] is in its lifecycle.
type ThreadState int32

const (
	// Fresh is a handle that has not been started.
	Fresh ThreadState = iota
	// Started is a handle whose entry function is running.
	Started
	// Detached is a started handle whose completion will not be joined.
	Detached
	// Finished is a handle whose entry function has returned.
	Finished
	// Joined is a finished handle whose return value has been collected.
	Joined
	// Disposed is a handle whose backing resources have been released.
	Disposed
)

// String returns the state name.
func (s ThreadState) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Started:
		return "started"
	case Detached:
		return "detached"
	case Finished:
		return "finished"
	case Joined:
		return "joined"
	case Disposed:
		return "disposed"
	default:
		return fmt.Sprintf("ThreadState(%d)", int32(s))
	}
}

// Thread is a preemptive unit of execution with an observable lifecycle:
// Fresh → Started → Finished → Joined, with Detached and Disposed branching
// off as documented on each method. The entry function's return value is
// stored exactly once and transferred to the caller by [Thread.Join].
//
// Cancellation is cooperative: [Thread.Cancel] cancels the context passed to
// the entry function and sets a flag the entry can poll via
// [Thread.Cancelled]; nothing is ever forcibly terminated.
//
// A Thread must not be copied after [Thread.Start].
type Thread[R any] struct {
	mu       sync.Mutex
	state    atomic.Int32
	detached bool
	joined   bool

	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	ret        R
	id         atomic.Uint64
	startedAt  time.Time // written before done closes
	finishedAt time.Time // written before done closes
}

// NewThread creates a Fresh thread handle.
func NewThread[R any]() *Thread[R] {
	return &Thread[R]{}
}

// Start launches the entry function on a new goroutine. The trampoline marks
// the handle Started, records the start timestamp, runs fn, stores its
// return value, records the finish timestamp, and marks the handle Finished.
//
// Returns [ErrBusy] if the handle is not Fresh and [ErrInvalidArgument] for
// a nil entry function.
func (t *Thread[R]) Start(fn func(ctx context.Context) R) error {
	if t == nil || fn == nil {
		return ErrInvalidArgument
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ThreadState(t.state.Load()) != Fresh {
		return fmt.Errorf("start in state %v: %w", ThreadState(t.state.Load()), ErrBusy)
	}

	t.done = make(chan struct{})
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.state.Store(int32(Started))

	go func() {
		t.id.Store(goid.ID())
		t.startedAt = time.Now()
		t.ret = fn(t.ctx)
		t.finishedAt = time.Now()
		t.state.Store(int32(Finished))
		close(t.done)
	}()
	return nil
}

// Join blocks until the thread finishes and transfers its return value to
// the caller, moving the handle to Joined. Join succeeds at most once.
//
// Returns [ErrNotStarted] on a Fresh handle and [ErrDetached] when the
// thread was detached or already joined.
func (t *Thread[R]) Join() (R, error) {
	var zero R
	if t == nil {
		return zero, ErrInvalidArgument
	}
	t.mu.Lock()
	if ThreadState(t.state.Load()) == Fresh {
		t.mu.Unlock()
		return zero, ErrNotStarted
	}
	if t.detached || t.joined {
		t.mu.Unlock()
		return zero, ErrDetached
	}
	t.joined = true
	t.mu.Unlock()

	<-t.done
	t.state.Store(int32(Joined))
	return t.ret, nil
}

// Detach marks the thread non-joinable; its completion is observed only
// through [Thread.State]. Detach succeeds at most once and is mutually
// exclusive with [Thread.Join]. Handle fields remain readable afterwards.
//
// Returns [ErrNotStarted] on a Fresh handle and [ErrDetached] when the
// thread was already detached or joined.
func (t *Thread[R]) Detach() error {
	if t == nil {
		return ErrInvalidArgument
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ThreadState(t.state.Load()) == Fresh {
		return ErrNotStarted
	}
	if t.detached || t.joined {
		return ErrDetached
	}
	t.detached = true
	return nil
}

// Dispose releases the handle. Safe on a Fresh, Joined, or Detached handle;
// on a handle that is Started but not yet Finished it blocks until the entry
// function returns. Idempotent: a second Dispose is a no-op.
func (t *Thread[R]) Dispose() {
	if t == nil {
		return
	}
	t.mu.Lock()
	state := ThreadState(t.state.Load())
	if state == Disposed {
		t.mu.Unlock()
		return
	}
	done := t.done
	cancel := t.cancel
	t.mu.Unlock()

	if done != nil {
		<-done
	}
	if cancel != nil {
		cancel()
	}
	t.state.Store(int32(Disposed))
}

// Cancel requests cooperative cancellation: the context passed to the entry
// function is cancelled. The entry must poll the context (or
// [Thread.Cancelled]) at safe points; nothing is forcibly terminated.
func (t *Thread[R]) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether cancellation has been requested.
func (t *Thread[R]) Cancelled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	return ctx != nil && ctx.Err() != nil
}

// State returns the handle's current lifecycle state. Detached is reported
// while the detached thread is still running; once it finishes the state
// becomes Finished.
func (t *Thread[R]) State() ThreadState {
	if t == nil {
		return Disposed
	}
	state := ThreadState(t.state.Load())
	t.mu.Lock()
	detached := t.detached
	t.mu.Unlock()
	if detached && state == Started {
		return Detached
	}
	return state
}

// ID returns the identifier of the running goroutine backing this thread, or
// zero before the trampoline has recorded it. Identifiers are process-local
// and may be reused after the thread ends.
func (t *Thread[R]) ID() uint64 {
	if t == nil {
		return 0
	}
	return t.id.Load()
}

// StartedAt returns the trampoline's start timestamp. The zero time is
// returned until the thread has finished; read it after [Thread.Join] or
// once [Thread.State] reports Finished.
func (t *Thread[R]) StartedAt() time.Time {
	if t == nil || t.done == nil {
		return time.Time{}
	}
	select {
	case <-t.done:
		return t.startedAt
	default:
		return time.Time{}
	}
}

// FinishedAt returns the trampoline's completion timestamp, or the zero time
// while the thread is still running.
func (t *Thread[R]) FinishedAt() time.Time {
	if t == nil || t.done == nil {
		return time.Time{}
	}
	select {
	case <-t.done:
		return t.finishedAt
	default:
		return time.Time{}
	}
}

// Equal reports whether two handles refer to the same live thread. The
// identity of a finished or disposed handle is undefined.
func (t *Thread[R]) Equal(o *Thread[R]) bool {
	if t == o {
		return t != nil
	}
	if t == nil || o == nil {
		return false
	}
	a, b := t.id.Load(), o.id.Load()
	return a != 0 && a == b &&
		ThreadState(t.state.Load()) == Started &&
		ThreadState(o.state.Load()) == Started
}

// Yield hints the scheduler to run another goroutine.
func Yield() {
	runtime.Gosched()
}

// Sleep suspends the caller for at least d. Interruption handling is the
// runtime's responsibility; the full duration is always honored.
func Sleep(d time.Duration) {
	time.Sleep(d)
}
