package threadkit

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Barrier is an N-party rendezvous point. Each party calls [Barrier.Wait];
// once the threshold is reached the generation advances, the count resets,
// and every waiter is released together.
//
// A cyclic barrier is reusable across generations and supports
// [Barrier.Reset]. A one-shot barrier releases exactly one cohort; after the
// release, further waits return [ErrInvalidArgument] and Reset is ignored.
type Barrier struct {
	mu   Mutex
	cond Cond

	threshold int
	count     int
	gen       atomic.Uint64
	cyclic    bool
	released  bool // one-shot: the single cohort has been released
	destroyed bool

	initialized atomic.Bool
}

// NewBarrier creates a barrier that releases when threshold parties have
// arrived. A mutex or condition-variable initialization failure is surfaced
// as the constructor's error.
//
// Returns [ErrInvalidArgument] if threshold < 1.
func NewBarrier(threshold int, cyclic bool) (*Barrier, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("barrier threshold %d: %w", threshold, ErrInvalidArgument)
	}
	b := &Barrier{
		threshold: threshold,
		cyclic:    cyclic,
	}
	if err := b.mu.Init(); err != nil {
		return nil, err
	}
	if err := b.cond.Init(); err != nil {
		b.mu.Dispose()
		return nil, err
	}
	b.initialized.Store(true)
	return b, nil
}

// Wait blocks until the barrier's threshold is reached. The party that
// completes the cohort advances the generation, resets the count, and wakes
// the others; every party in the cohort returns nil.
//
// Returns [ErrInvalidArgument] if the barrier is destroyed while waiting, or
// on a one-shot barrier whose cohort has already been released.
func (b *Barrier) Wait() error {
	return b.waitDeadline(time.Time{})
}

// WaitTimeout is [Barrier.Wait] with a deadline measured from the call's
// entry. On [ErrTimedOut] the caller's arrival is withdrawn so a later
// cohort is not released short-handed.
func (b *Barrier) WaitTimeout(timeout time.Duration) error {
	return b.waitDeadline(time.Now().Add(timeout))
}

func (b *Barrier) waitDeadline(deadline time.Time) error {
	if b == nil || !b.initialized.Load() {
		return ErrInvalidArgument
	}
	if err := b.mu.Lock(); err != nil {
		return err
	}
	if b.destroyed || (!b.cyclic && b.released) {
		_ = b.mu.Unlock()
		return ErrInvalidArgument
	}

	gen := b.gen.Load()
	b.count++
	if b.count == b.threshold {
		b.gen.Add(1)
		b.count = 0
		if !b.cyclic {
			b.released = true
		}
		_ = b.cond.Broadcast()
		return b.mu.Unlock()
	}

	for gen == b.gen.Load() && !b.destroyed {
		var err error
		if deadline.IsZero() {
			err = b.cond.Wait(&b.mu)
		} else {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				err = ErrTimedOut
			} else {
				err = b.cond.TimedWait(&b.mu, remaining)
			}
		}
		if err != nil {
			if gen != b.gen.Load() {
				// Released and timed out in the same instant; the
				// generation advance wins.
				break
			}
			b.count--
			_ = b.mu.Unlock()
			return err
		}
	}

	destroyed := b.destroyed
	_ = b.mu.Unlock()
	if destroyed {
		return ErrInvalidArgument
	}
	return nil
}

// Reset advances the generation, zeroes the count, and releases in-flight
// waiters, which return success. Reset applies to cyclic barriers only;
// one-shot barriers ignore it.
func (b *Barrier) Reset() {
	if b == nil || !b.initialized.Load() || !b.cyclic {
		return
	}
	if err := b.mu.Lock(); err != nil {
		return
	}
	if !b.destroyed {
		b.count = 0
		b.gen.Add(1)
		_ = b.cond.Broadcast()
	}
	_ = b.mu.Unlock()
}

// Destroy marks the barrier destroyed, wakes all waiters (which return
// [ErrInvalidArgument]), and disposes the embedded condition variable and
// mutex in that order. Idempotent.
func (b *Barrier) Destroy() error {
	if b == nil || !b.initialized.Load() {
		return nil
	}
	if err := b.mu.Lock(); err != nil {
		return err
	}
	if b.destroyed {
		return b.mu.Unlock()
	}
	b.destroyed = true
	_ = b.cond.Broadcast()
	if err := b.mu.Unlock(); err != nil {
		return err
	}

	// Waiters woken above still need the cond and mutex to leave; let
	// them drain before tearing the primitives down.
	for b.cond.Waiters() > 0 {
		time.Sleep(time.Millisecond)
	}
	if err := b.mu.Lock(); err != nil {
		return err
	}
	if err := b.mu.Unlock(); err != nil {
		return err
	}
	b.initialized.Store(false)
	if err := b.cond.Dispose(); err != nil {
		return err
	}
	b.mu.Dispose()
	return nil
}

// Generation returns the current generation counter. Advisory: the value may
// advance immediately after it is read.
func (b *Barrier) Generation() uint64 {
	if b == nil {
		return 0
	}
	return b.gen.Load()
}

// Cyclic reports whether the barrier is reusable across generations.
func (b *Barrier) Cyclic() bool {
	return b != nil && b.cyclic
}
