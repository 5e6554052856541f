package threadkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// task is an intrusive queue node: a work function, its argument, and the
// link to the next node.
type task struct {
	fn   func(any)
	arg  any
	next *task
}

// Pool is a fixed-size worker pool with an unbounded FIFO task queue. Tasks
// are submitted via [Pool.Submit] and executed in submission order by worker
// threads that block on a condition variable while the queue is empty.
//
// Each task taken from the queue is executed exactly once; tasks still
// queued when [Pool.Close] stops the pool are discarded without running.
// Close joins the workers and surfaces any panics recovered from tasks.
type Pool struct {
	mu   Mutex
	cond Cond

	head  *task
	tail  *task
	count int
	stop  bool

	stopped atomic.Bool // mirrors stop for the post-Close fast path

	workers []*Thread[struct{}]

	errMu sync.Mutex
	errs  []error

	// Observability counters.
	submitted atomic.Int64
	completed atomic.Int64
	dropped   atomic.Int64
	inFlight  atomic.Int64

	log         zerolog.Logger
	metricsStop chan struct{}
	closeOnce   sync.Once
	closeErr    error

	initialized atomic.Bool
}

// PoolStats provides a point-in-time snapshot of pool activity.
type PoolStats struct {
	Submitted  int64 // total tasks accepted by Submit
	Completed  int64 // tasks finished (including panicked ones)
	Dropped    int64 // submissions rejected after the pool stopped
	InFlight   int64 // tasks currently executing
	QueueDepth int   // tasks waiting in the queue
	Workers    int   // worker count (fixed at creation)
}

// PoolOption configures a [Pool].
type PoolOption func(*poolConfig)

type poolConfig struct {
	log             zerolog.Logger
	onMetrics       func(PoolStats)
	metricsInterval time.Duration
}

// WithLogger routes the pool's debug-level lifecycle events to log. The
// default logger discards everything.
func WithLogger(log zerolog.Logger) PoolOption {
	return func(c *poolConfig) {
		c.log = log
	}
}

// WithPoolMetrics registers a periodic pool metrics callback that fires
// every interval. The callback receives a snapshot of current pool counters.
//
// Panics if interval <= 0 or fn is nil.
func WithPoolMetrics(interval time.Duration, fn func(PoolStats)) PoolOption {
	if interval <= 0 {
		panic("threadkit: WithPoolMetrics requires interval > 0")
	}
	if fn == nil {
		panic("threadkit: WithPoolMetrics requires non-nil callback")
	}
	return func(c *poolConfig) {
		c.onMetrics = fn
		c.metricsInterval = interval
	}
}

// NewPool creates a pool with n worker threads. Workers start immediately
// and process tasks until [Pool.Close]. A primitive or worker start failure
// tears down whatever was created and is returned as the constructor's error.
//
// Returns [ErrInvalidArgument] if n < 1.
func NewPool(n int, opts ...PoolOption) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("pool workers %d: %w", n, ErrInvalidArgument)
	}

	cfg := poolConfig{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pool{log: cfg.log}
	if err := p.mu.Init(); err != nil {
		return nil, err
	}
	if err := p.cond.Init(); err != nil {
		p.mu.Dispose()
		return nil, err
	}
	p.initialized.Store(true)

	p.workers = make([]*Thread[struct{}], 0, n)
	for i := 0; i < n; i++ {
		w := NewThread[struct{}]()
		if err := w.Start(p.worker); err != nil {
			p.shutdownPartial()
			return nil, err
		}
		p.workers = append(p.workers, w)
	}

	if cfg.onMetrics != nil {
		p.metricsStop = make(chan struct{})
		go func() {
			ticker := time.NewTicker(cfg.metricsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					cfg.onMetrics(p.Stats())
				case <-p.metricsStop:
					return
				}
			}
		}()
	}

	p.log.Debug().Int("workers", n).Msg("pool started")
	return p, nil
}

// shutdownPartial stops and joins the workers started so far. Used when a
// worker fails to start mid-constructor.
func (p *Pool) shutdownPartial() {
	_ = p.mu.Lock()
	p.stop = true
	p.stopped.Store(true)
	_ = p.cond.Broadcast()
	_ = p.mu.Unlock()
	for _, w := range p.workers {
		_, _ = w.Join()
		w.Dispose()
	}
	p.initialized.Store(false)
	_ = p.cond.Dispose()
	p.mu.Dispose()
}

// worker loops: wait for work while the queue is empty, exit as soon as the
// pool is stopping, otherwise detach the head task and run it outside the
// lock. Tasks still queued at stop are freed by [Pool.Close], not executed.
func (p *Pool) worker(_ context.Context) struct{} {
	for {
		if err := p.mu.Lock(); err != nil {
			return struct{}{}
		}
		for p.head == nil && !p.stop {
			if err := p.cond.Wait(&p.mu); err != nil {
				_ = p.mu.Unlock()
				return struct{}{}
			}
		}
		if p.stop {
			_ = p.mu.Unlock()
			return struct{}{}
		}

		t := p.head
		p.head = t.next
		if p.head == nil {
			p.tail = nil
		}
		p.count--
		_ = p.mu.Unlock()

		p.runTask(t)
	}
}

func (p *Pool) runTask(t *task) {
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.completed.Add(1)
	}()
	defer func() {
		if r := recover(); r != nil {
			perr := newPanicError(r)
			p.log.Debug().Msg("task panicked")
			p.errMu.Lock()
			p.errs = append(p.errs, perr)
			p.errMu.Unlock()
		}
	}()
	t.fn(t.arg)
}

// Submit enqueues fn(arg) for execution by a worker in FIFO order. The queue
// is unbounded; Submit never blocks waiting for capacity.
//
// Returns [ErrInvalidArgument] for a nil fn and [ErrCancelled] once the pool
// has been closed.
func (p *Pool) Submit(fn func(any), arg any) error {
	if p == nil {
		return ErrInvalidArgument
	}
	if fn == nil {
		return ErrInvalidArgument
	}
	if p.stopped.Load() || !p.initialized.Load() {
		p.dropped.Add(1)
		return ErrCancelled
	}
	if err := p.mu.Lock(); err != nil {
		return err
	}
	if p.stop {
		_ = p.mu.Unlock()
		p.dropped.Add(1)
		return ErrCancelled
	}

	t := &task{fn: fn, arg: arg}
	if p.tail == nil {
		p.head = t
	} else {
		p.tail.next = t
	}
	p.tail = t
	p.count++
	p.submitted.Add(1)
	_ = p.cond.Signal()
	return p.mu.Unlock()
}

// Wait blocks until the task queue has drained, polling the count under the
// mutex with a 1ms sleep between polls. Tasks already handed to a worker may
// still be executing when Wait returns; only the queue is observed.
func (p *Pool) Wait() {
	if p == nil || !p.initialized.Load() {
		return
	}
	for {
		if err := p.mu.Lock(); err != nil {
			return
		}
		drained := p.count == 0
		_ = p.mu.Unlock()
		if drained {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// Stats returns a point-in-time snapshot of pool activity.
// Safe to call concurrently.
func (p *Pool) Stats() PoolStats {
	if p == nil {
		return PoolStats{}
	}
	depth := 0
	if p.initialized.Load() {
		if err := p.mu.Lock(); err == nil {
			depth = p.count
			_ = p.mu.Unlock()
		}
	}
	return PoolStats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Dropped:    p.dropped.Load(),
		InFlight:   p.inFlight.Load(),
		QueueDepth: depth,
		Workers:    len(p.workers),
	}
}

// Close stops the pool: no new tasks are accepted, workers exit after their
// in-flight task, unexecuted queued tasks are discarded, workers are joined,
// and the backing primitives are disposed. Returns the joined panics
// recovered from tasks, if any. Safe to call multiple times; subsequent
// calls return the same result.
func (p *Pool) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		if err := p.mu.Lock(); err != nil {
			p.closeErr = err
			return
		}
		p.stop = true
		p.stopped.Store(true)
		_ = p.cond.Broadcast()
		if err := p.mu.Unlock(); err != nil {
			p.closeErr = err
			return
		}

		for _, w := range p.workers {
			_, _ = w.Join()
			w.Dispose()
		}
		if p.metricsStop != nil {
			close(p.metricsStop)
		}

		p.initialized.Store(false)
		p.head = nil
		p.tail = nil
		p.count = 0
		_ = p.cond.Dispose()
		p.mu.Dispose()

		p.errMu.Lock()
		p.closeErr = errors.Join(p.errs...)
		p.errMu.Unlock()
		p.log.Debug().Msg("pool closed")
	})
	return p.closeErr
}
