package threadkit

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/avelis/threadkit/goid"
)

// fiberRegistry maps a goroutine id to the fiber backed by that goroutine.
// [Current] resolves the caller through it in O(1).
var fiberRegistry sync.Map // uint64 -> *Fiber

// DefaultStackSize is the advisory stack reservation recorded for fibers
// created without [WithStackSize]. Goroutine stacks grow on demand, so the
// value is bookkeeping only.
const DefaultStackSize = 64 * 1024

// fiberGroup is the shared state of one converted thread: the main fiber and
// the single fiber currently allowed to run.
type fiberGroup struct {
	mu       sync.Mutex
	current  *Fiber
	main     *Fiber
	released bool
}

// Fiber is a cooperative unit of execution. All fibers of a group take turns
// on the group's schedule: exactly one is current at any instant, and control
// moves only through an explicit [Fiber.Switch]. When a fiber's entry
// function returns, control transfers to the fiber that most recently
// resumed it, falling back to the main fiber.
//
// A group is rooted by [Convert], which turns the calling goroutine into the
// main fiber and pins it to its OS thread. Resuming a group's fiber from a
// goroutine outside the group is rejected, never undefined.
type Fiber struct {
	group *fiberGroup

	entry func(any)
	arg   any
	link  *Fiber

	wake chan struct{}
	quit chan struct{}

	gid       atomic.Uint64
	main      bool
	stackSize int

	resumed  atomic.Bool
	finished atomic.Bool
	disposed atomic.Bool
}

// FiberOption configures a fiber created by [Fiber.NewFiber].
type FiberOption func(*Fiber)

// WithStackSize records an advisory stack reservation for the fiber.
// The runtime sizes the actual stack on demand.
//
// Panics if n <= 0.
func WithStackSize(n int) FiberOption {
	if n <= 0 {
		panic("threadkit: WithStackSize requires n > 0")
	}
	return func(f *Fiber) {
		f.stackSize = n
	}
}

// Convert turns the calling goroutine into the main fiber of a new group and
// locks it to its OS thread. It must be called before any other fiber is
// created from this goroutine.
//
// Returns [ErrBusy] if the calling goroutine already belongs to a group.
func Convert() (*Fiber, error) {
	self := goid.ID()
	if _, ok := fiberRegistry.Load(self); ok {
		return nil, ErrBusy
	}
	runtime.LockOSThread()

	g := &fiberGroup{}
	main := &Fiber{
		group:     g,
		wake:      make(chan struct{}, 1),
		main:      true,
		stackSize: DefaultStackSize,
	}
	main.gid.Store(self)
	main.resumed.Store(true)
	g.main = main
	g.current = main
	fiberRegistry.Store(self, main)
	return main, nil
}

// NewFiber creates a fiber in the receiver's group. The entry function does
// not run until the fiber is first resumed via [Fiber.Switch]; on return
// from entry the fiber is marked finished and control transfers to its most
// recent resumer.
//
// Returns [ErrInvalidArgument] for a nil entry or a disposed receiver.
func (f *Fiber) NewFiber(entry func(arg any), arg any, opts ...FiberOption) (*Fiber, error) {
	if f == nil || f.disposed.Load() || entry == nil {
		return nil, ErrInvalidArgument
	}
	f.group.mu.Lock()
	released := f.group.released
	f.group.mu.Unlock()
	if released {
		return nil, ErrInvalidArgument
	}

	nf := &Fiber{
		group:     f.group,
		entry:     entry,
		arg:       arg,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		stackSize: DefaultStackSize,
	}
	for _, opt := range opts {
		opt(nf)
	}

	ready := make(chan struct{})
	go nf.trampoline(ready)
	<-ready
	return nf, nil
}

// trampoline is the fiber goroutine: register, park until the first resume,
// run entry, then hand control back to the link.
func (f *Fiber) trampoline(ready chan<- struct{}) {
	f.gid.Store(goid.ID())
	fiberRegistry.Store(f.gid.Load(), f)
	close(ready)

	select {
	case <-f.wake:
	case <-f.quit:
		fiberRegistry.Delete(f.gid.Load())
		return
	}

	f.entry(f.arg)
	f.finished.Store(true)

	g := f.group
	g.mu.Lock()
	to := f.link
	if to == nil || to.finished.Load() || to.disposed.Load() {
		to = g.main
	}
	g.current = to
	g.mu.Unlock()

	fiberRegistry.Delete(f.gid.Load())
	to.wake <- struct{}{}
}

// Switch transfers control from the receiver, which must be the group's
// current fiber running on its own goroutine, to the target. The target's
// link is set to the receiver, so the target's completion (or its own
// Switch) can return here. Switch returns when some fiber resumes the
// receiver again.
//
// Returns [ErrNotPermitted] when the caller is not the receiver's goroutine
// or the receiver is not current, [ErrFinished] for a finished target, and
// [ErrInvalidArgument] for a nil, disposed, or foreign-group target.
func (f *Fiber) Switch(to *Fiber) error {
	if f == nil || f.disposed.Load() {
		return ErrInvalidArgument
	}
	if to == nil || to.disposed.Load() || to.group != f.group || to == f {
		return ErrInvalidArgument
	}
	if to.finished.Load() {
		return ErrFinished
	}
	if goid.ID() != f.gid.Load() {
		return ErrNotPermitted
	}

	g := f.group
	g.mu.Lock()
	if g.current != f {
		g.mu.Unlock()
		return ErrNotPermitted
	}
	to.link = f
	to.resumed.Store(true)
	g.current = to
	g.mu.Unlock()

	to.wake <- struct{}{}
	<-f.wake
	return nil
}

// Current returns the fiber backed by the calling goroutine, or nil when the
// goroutine does not belong to any group.
func Current() *Fiber {
	v, ok := fiberRegistry.Load(goid.ID())
	if !ok {
		return nil
	}
	return v.(*Fiber)
}

// Finished reports whether the fiber's entry function has returned.
func (f *Fiber) Finished() bool {
	return f != nil && f.finished.Load()
}

// Main reports whether this is the group's main fiber.
func (f *Fiber) Main() bool {
	return f != nil && f.main
}

// StackSize returns the advisory stack reservation recorded at creation.
func (f *Fiber) StackSize() int {
	if f == nil {
		return 0
	}
	return f.stackSize
}

// Dispose releases the fiber. A plain fiber may be disposed only when it is
// finished or was never resumed; a fiber parked mid-execution, or the
// current fiber, returns [ErrBusy]. Disposing the main fiber releases the
// whole group and unlocks the OS thread; it must be called from the main
// goroutine. Idempotent.
func (f *Fiber) Dispose() error {
	if f == nil || f.disposed.Load() {
		return nil
	}
	g := f.group

	if f.main {
		if goid.ID() != f.gid.Load() {
			return ErrNotPermitted
		}
		g.mu.Lock()
		if g.current != f {
			g.mu.Unlock()
			return ErrBusy
		}
		g.released = true
		g.current = nil
		g.mu.Unlock()
		f.disposed.Store(true)
		fiberRegistry.Delete(f.gid.Load())
		runtime.UnlockOSThread()
		return nil
	}

	g.mu.Lock()
	if g.current == f {
		g.mu.Unlock()
		return ErrBusy
	}
	g.mu.Unlock()
	if f.resumed.Load() && !f.finished.Load() {
		return ErrBusy
	}
	f.disposed.Store(true)
	if !f.resumed.Load() {
		close(f.quit)
	}
	return nil
}
