package threadkit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avelis/threadkit/goid"
)

// Cond is a Mesa-style condition variable coupled to a [Mutex]. The mutex is
// an explicit argument of the wait calls as a reminder that waiting has a
// side effect on it: Wait atomically releases the mutex, suspends the
// caller, and re-acquires the mutex before returning on every path.
//
// Wakeups may be spurious; callers must re-check their predicate in a loop:
//
//	mu.Lock()
//	for !predicate() {
//		cv.Wait(mu)
//	}
//	mu.Unlock()
//
// A Cond must be initialized before use ([NewCond] or [Cond.Init]) and must
// not be copied after first use.
type Cond struct {
	initialized atomic.Bool
	count       atomic.Int32

	qmu     sync.Mutex
	waiters []chan struct{}
}

// NewCond creates an initialized condition variable with no waiters.
func NewCond() *Cond {
	c := &Cond{}
	c.initialized.Store(true)
	return c
}

// Init (re-)initializes the condition variable in place. Valid on a zero
// value and on a disposed handle. Returns [ErrInvalidArgument] if c is nil.
func (c *Cond) Init() error {
	if c == nil {
		return ErrInvalidArgument
	}
	c.qmu.Lock()
	c.waiters = nil
	c.qmu.Unlock()
	c.count.Store(0)
	c.initialized.Store(true)
	return nil
}

// Wait suspends the caller until woken by [Cond.Signal], [Cond.Broadcast],
// or spuriously. The caller must hold m; Wait releases m atomically with
// suspension and re-acquires it before returning.
//
// Returns [ErrInvalidArgument] on an uninitialized condition variable or
// mutex, [ErrNotPermitted] when the caller does not hold m, and
// [ErrInternal] when releasing m fails mid-wait.
func (c *Cond) Wait(m *Mutex) error {
	return c.wait(m, nil)
}

// TimedWait is [Cond.Wait] with a deadline measured from the call's entry.
// Returns [ErrTimedOut] if the timeout elapses before a wakeup; the mutex is
// re-acquired and held on return regardless of the outcome.
func (c *Cond) TimedWait(m *Mutex, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return c.wait(m, timer.C)
}

func (c *Cond) wait(m *Mutex, deadline <-chan time.Time) error {
	if c == nil || !c.initialized.Load() || m == nil || !m.initialized.Load() {
		return ErrInvalidArgument
	}
	if !m.heldBy(goid.ID()) {
		return fmt.Errorf("wait without holding the mutex: %w", ErrNotPermitted)
	}

	ch := make(chan struct{})
	c.qmu.Lock()
	c.waiters = append(c.waiters, ch)
	c.qmu.Unlock()
	c.count.Add(1)
	defer c.count.Add(-1)

	if err := m.Unlock(); err != nil {
		c.remove(ch)
		return fmt.Errorf("releasing mutex for wait: %w", ErrInternal)
	}

	timedOut := false
	select {
	case <-ch:
	case <-deadline:
		// A signal may have raced the deadline: if the waiter entry is
		// already gone, a wakeup was delivered and the wait succeeds.
		timedOut = c.remove(ch)
	}

	if err := m.Lock(); err != nil {
		return fmt.Errorf("re-acquiring mutex after wait: %w", ErrInternal)
	}
	if timedOut {
		return ErrTimedOut
	}
	return nil
}

// remove drops ch from the waiter queue, reporting whether it was still
// enqueued (false means a wakeup already claimed it).
func (c *Cond) remove(ch chan struct{}) bool {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Signal wakes at most one waiter. With no waiters it has no effect.
// Returns [ErrInvalidArgument] on an uninitialized condition variable.
func (c *Cond) Signal() error {
	if c == nil || !c.initialized.Load() {
		return ErrInvalidArgument
	}
	c.qmu.Lock()
	if len(c.waiters) > 0 {
		ch := c.waiters[0]
		c.waiters = c.waiters[1:]
		close(ch)
	}
	c.qmu.Unlock()
	return nil
}

// Broadcast wakes all current waiters, which then re-contend for the paired
// mutex. Returns [ErrInvalidArgument] on an uninitialized condition variable.
func (c *Cond) Broadcast() error {
	if c == nil || !c.initialized.Load() {
		return ErrInvalidArgument
	}
	c.qmu.Lock()
	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
	c.qmu.Unlock()
	return nil
}

// Waiters returns the advisory waiter count. The count is incremented when a
// wait enters and decremented on every exit path, including timeouts.
func (c *Cond) Waiters() int {
	if c == nil {
		return 0
	}
	return int(c.count.Load())
}

// Dispose tears the condition variable down and zeroes the handle so it can
// be re-initialized with [Cond.Init]. Idempotent and safe on a zero value.
// Returns [ErrBusy] if any goroutine is still waiting.
func (c *Cond) Dispose() error {
	if c == nil || !c.initialized.Load() {
		return nil
	}
	if c.count.Load() > 0 {
		return fmt.Errorf("dispose with %d waiters: %w", c.count.Load(), ErrBusy)
	}
	c.initialized.Store(false)
	c.qmu.Lock()
	c.waiters = nil
	c.qmu.Unlock()
	c.count.Store(0)
	return nil
}
