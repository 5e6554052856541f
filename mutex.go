package threadkit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avelis/threadkit/goid"
)

// Mutex is a blocking mutual-exclusion lock with explicit lifecycle and
// ownership tracking. Unlike [sync.Mutex], a Mutex must be initialized
// before use ([NewMutex] or [Mutex.Init]) and disposed afterwards, records
// which goroutine holds it, and rejects unlocks by non-owners.
//
// A plain Mutex detects self-deadlock: a goroutine locking a mutex it
// already holds receives [ErrDeadlock]. A recursive Mutex (see
// [WithRecursive]) instead counts nested acquisitions by the owner and
// releases the lock when the count returns to zero.
//
// A Mutex must not be copied after first use.
type Mutex struct {
	mu          sync.Mutex
	initialized atomic.Bool
	locked      atomic.Bool
	owner       atomic.Uint64
	depth       int // owner-only access while locked
	recursive   bool
}

// MutexOption configures a [Mutex].
type MutexOption func(*Mutex)

// WithRecursive makes the mutex recursive: the owning goroutine may lock it
// again, and must unlock once per acquisition.
func WithRecursive() MutexOption {
	return func(m *Mutex) {
		m.recursive = true
	}
}

// NewMutex creates an initialized, unlocked mutex.
func NewMutex(opts ...MutexOption) *Mutex {
	m := &Mutex{}
	for _, opt := range opts {
		opt(m)
	}
	m.initialized.Store(true)
	return m
}

// Init (re-)initializes the mutex in place, producing an unlocked handle.
// It is valid on a zero value and on a handle that has been disposed.
// Returns [ErrInvalidArgument] if m is nil.
func (m *Mutex) Init(opts ...MutexOption) error {
	if m == nil {
		return ErrInvalidArgument
	}
	m.locked.Store(false)
	m.owner.Store(0)
	m.depth = 0
	m.recursive = false
	for _, opt := range opts {
		opt(m)
	}
	m.initialized.Store(true)
	return nil
}

// Lock blocks until the mutex is acquired.
//
// Returns [ErrInvalidArgument] on an uninitialized or disposed mutex, and
// [ErrDeadlock] when a plain mutex is locked by the goroutine that already
// holds it.
func (m *Mutex) Lock() error {
	if m == nil || !m.initialized.Load() {
		return ErrInvalidArgument
	}
	self := goid.ID()
	if m.owner.Load() == self {
		if !m.recursive {
			return ErrDeadlock
		}
		m.depth++
		return nil
	}
	m.mu.Lock()
	m.owner.Store(self)
	m.depth = 1
	m.locked.Store(true)
	return nil
}

// TryLock attempts to acquire the mutex without blocking. It reports whether
// the mutex was acquired; false means the mutex was busy.
//
// Returns [ErrInvalidArgument] on an uninitialized or disposed mutex.
func (m *Mutex) TryLock() (bool, error) {
	if m == nil || !m.initialized.Load() {
		return false, ErrInvalidArgument
	}
	self := goid.ID()
	if m.owner.Load() == self {
		if !m.recursive {
			return false, nil
		}
		m.depth++
		return true, nil
	}
	if !m.mu.TryLock() {
		return false, nil
	}
	m.owner.Store(self)
	m.depth = 1
	m.locked.Store(true)
	return true, nil
}

// LockTimeout acquires the mutex, giving up after the timeout elapses. It
// polls [Mutex.TryLock] with a brief sleep between attempts, so the actual
// wait may exceed the timeout by the polling granularity.
//
// Returns [ErrTimedOut] when the deadline passes without acquisition.
func (m *Mutex) LockTimeout(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		acquired, err := m.TryLock()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrTimedOut
		}
		time.Sleep(time.Millisecond)
	}
}

// Unlock releases the mutex.
//
// Returns [ErrInvalidArgument] on an uninitialized or disposed mutex and
// [ErrNotPermitted] when the calling goroutine does not own it. For a
// recursive mutex, the lock is released when unlocks balance locks.
func (m *Mutex) Unlock() error {
	if m == nil || !m.initialized.Load() {
		return ErrInvalidArgument
	}
	self := goid.ID()
	if m.owner.Load() != self {
		return fmt.Errorf("unlock by goroutine %d: %w", self, ErrNotPermitted)
	}
	if m.recursive {
		m.depth--
		if m.depth > 0 {
			return nil
		}
	}
	m.depth = 0
	m.owner.Store(0)
	m.locked.Store(false)
	m.mu.Unlock()
	return nil
}

// IsLocked reports the best-effort locked hint. The value is advisory and
// may be stale by the time the caller observes it.
func (m *Mutex) IsLocked() bool {
	return m != nil && m.locked.Load()
}

// Dispose tears the mutex down and zeroes the handle so it can be
// re-initialized with [Mutex.Init]. It is idempotent and safe on a zero
// value. The mutex must not be held by any goroutine when disposed.
func (m *Mutex) Dispose() {
	if m == nil || !m.initialized.Load() {
		return
	}
	m.initialized.Store(false)
	m.locked.Store(false)
	m.owner.Store(0)
	m.depth = 0
	m.recursive = false
}

// heldBy reports whether the mutex is currently owned by the goroutine with
// the given id. Used by Cond to verify the wait precondition.
func (m *Mutex) heldBy(id uint64) bool {
	return m.owner.Load() == id
}
