// Package threadkit provides a low-level concurrency toolkit for Go: a
// coherent family of interlocking primitives an application can use to
// structure parallel work with explicit lifecycles.
//
// # Primitives
//
// The core pieces mirror each other's contracts and compose bottom-up:
//
//   - [Mutex]: a blocking lock with explicit init/dispose, ownership
//     tracking, self-deadlock detection, and an optional recursive mode
//     ([WithRecursive]). [Mutex.TryLock] and [Mutex.LockTimeout] cover
//     non-blocking and bounded acquisition.
//   - [Cond]: a Mesa-style condition variable paired with a [Mutex].
//     [Cond.Wait] and [Cond.TimedWait] release and re-acquire the mutex
//     atomically; wakeups may be spurious, so callers loop on their
//     predicate. [Cond.Waiters] exposes an advisory waiter count.
//   - [Barrier]: an N-party rendezvous built on Mutex and Cond, cyclic or
//     one-shot, with generation tracking, [Barrier.Reset], and timed waits.
//   - [Thread]: a preemptive unit of execution with an observable
//     lifecycle (fresh, started, finished, joined), a typed return value
//     transferred by [Thread.Join], once-only join/detach exclusivity, and
//     cooperative cancellation through a context.
//   - [Pool]: a fixed-size worker pool with a FIFO queue, built on Thread,
//     Mutex, and Cond. Dequeued tasks run exactly once, and tasks still
//     queued at [Pool.Close] are discarded; panics are recovered per task
//     and surface from [Pool.Close].
//
// # Fibers
//
// [Convert] turns the calling goroutine into the main fiber of a
// cooperative group pinned to its OS thread. Fibers created with
// [Fiber.NewFiber] take turns through explicit [Fiber.Switch] calls;
// exactly one fiber of a group runs at any instant, and a finished fiber
// hands control back to the fiber that most recently resumed it. Resuming
// a group's fiber from a foreign goroutine is rejected, never undefined.
//
// # Ghost engine
//
// [Engine] records speculative state transitions for [Ghost] handles in a
// bounded append-only ledger. Callers propose candidate next-states with
// [Engine.Propose]; [Engine.Collapse] selects exactly one with a
// deterministic content-addressed hash, so identical call sequences
// reproduce identical choices across runs and platforms. Ghosts with a
// step function advance through [Engine.Step], and [Engine.Schedule] or
// [Engine.ScheduleOn] (pool interop) drive whole rounds.
//
// # Errors
//
// All components report failures through the shared sentinel kinds in this
// package ([ErrInvalidArgument], [ErrBusy], [ErrTimedOut], [ErrDeadlock],
// and so on); match with [errors.Is]. Timed operations treat the deadline
// as a lower bound: the actual wait may exceed it by scheduling
// granularity.
//
// # Observability
//
// [Pool] and [Engine] accept a zerolog logger ([WithLogger],
// [WithEngineLogger]) and the pool offers periodic counter snapshots via
// [WithPoolMetrics] and [Pool.Stats]. The default loggers discard
// everything, so the primitives are silent unless asked.
package threadkit
