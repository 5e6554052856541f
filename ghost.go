package threadkit

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// CollapseSeed is the fixed starting accumulator of the collapse selector.
const CollapseSeed uint64 = 0x9E3779B97F4A7C15

const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211
)

// maxGhostName bounds ghost ids and candidate tags; longer strings are
// truncated, not rejected.
const maxGhostName = 63

const (
	defaultLedgerCapacity = 4096
	defaultQueueCapacity  = 256
)

// StepFunc produces a ghost's next state from its user argument.
type StepFunc func(arg any) any

// Candidate is one proposed next-state: an opaque payload, its advisory
// size, and a short tag that is copied into the ledger for audit.
type Candidate struct {
	Data any
	Size int
	Tag  string
}

// LedgerEntry is one audit record. Entries are append-only; [Engine.Collapse]
// fills Chosen and State in place on the pending proposal entry.
type LedgerEntry struct {
	GhostID   string
	StepIndex uint64
	Proposed  bool
	Tags      []string
	Chosen    int // -1 until a collapse selects a candidate
	State     any
}

// Ghost is a speculative state holder managed by an [Engine]. Its lifecycle
// is Fresh → (Proposed ↔ Collapsed)* → Finished, or Fresh → Stepped* →
// Finished; mixed use is permitted, the engine branches on "proposal
// pending" at schedule time.
type Ghost struct {
	id        string
	state     any
	proposal  []Candidate // borrowed from the caller until collapse
	fn        StepFunc
	arg       any
	finished  bool
	stepIndex uint64
}

// ID returns the ghost's identifier as recorded at creation.
func (g *Ghost) ID() string {
	if g == nil {
		return ""
	}
	return g.id
}

// State returns the most recently collapsed or stepped state.
func (g *Ghost) State() any {
	if g == nil {
		return nil
	}
	return g.state
}

// Finished reports whether the ghost has been disposed.
func (g *Ghost) Finished() bool {
	return g != nil && g.finished
}

// StepIndex returns the ghost's per-ghost step counter.
func (g *Ghost) StepIndex() uint64 {
	if g == nil {
		return 0
	}
	return g.stepIndex
}

// Engine records speculative state transitions in a bounded append-only
// ledger and resolves proposals with a deterministic selector: identical
// call sequences with identical ids and tags produce bitwise-identical
// collapse indices across runs and platforms.
//
// The engine is single-writer. Concurrent use from multiple goroutines
// requires an external lock owned by the caller; see [Engine.ScheduleOn]
// for the pool interop that follows this rule.
type Engine struct {
	ledger    []LedgerEntry
	ledgerCap int

	queue    []*Ghost
	queueCap int

	log zerolog.Logger
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithLedgerCapacity bounds the ledger. Appends beyond the capacity fail
// with [ErrResourceExhausted]. Panics if n < 1.
func WithLedgerCapacity(n int) EngineOption {
	if n < 1 {
		panic("threadkit: WithLedgerCapacity requires n > 0")
	}
	return func(e *Engine) {
		e.ledgerCap = n
	}
}

// WithQueueCapacity bounds the scheduling queue. Panics if n < 1.
func WithQueueCapacity(n int) EngineOption {
	if n < 1 {
		panic("threadkit: WithQueueCapacity requires n > 0")
	}
	return func(e *Engine) {
		e.queueCap = n
	}
}

// WithEngineLogger routes the engine's debug-level events to log. The
// default logger discards everything.
func WithEngineLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = log
	}
}

// NewEngine creates an engine with an empty ledger and scheduling queue.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		ledgerCap: defaultLedgerCapacity,
		queueCap:  defaultQueueCapacity,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ledger = make([]LedgerEntry, 0, e.ledgerCap)
	e.queue = make([]*Ghost, 0, e.queueCap)
	return e
}

func truncateName(s string) string {
	if len(s) > maxGhostName {
		return s[:maxGhostName]
	}
	return s
}

func (e *Engine) appendEntry(entry LedgerEntry) error {
	if len(e.ledger) >= e.ledgerCap {
		return fmt.Errorf("ledger at capacity %d: %w", e.ledgerCap, ErrResourceExhausted)
	}
	e.ledger = append(e.ledger, entry)
	return nil
}

// Create registers a ghost: the id is copied (truncated to 63 bytes) and an
// initial ledger entry is recorded at step 0 with no proposal and no state.
// Duplicate ids are permitted.
//
// Returns [ErrInvalidArgument] for an empty id and [ErrResourceExhausted]
// when the ledger is full.
func (e *Engine) Create(id string, fn StepFunc, arg any) (*Ghost, error) {
	if e == nil || id == "" {
		return nil, ErrInvalidArgument
	}
	g := &Ghost{
		id:  truncateName(id),
		fn:  fn,
		arg: arg,
	}
	if err := e.appendEntry(LedgerEntry{
		GhostID: g.id,
		Chosen:  -1,
	}); err != nil {
		return nil, err
	}
	e.log.Debug().Str("ghost", g.id).Msg("ghost created")
	return g, nil
}

// Propose attaches a candidate set to the ghost. The slice and its payloads
// are borrowed; the caller keeps them valid until [Engine.Collapse]. The
// ghost's step index is pre-incremented and a ledger entry is appended with
// copied candidate tags and no chosen index.
//
// Returns [ErrInvalidArgument] for a nil or finished ghost or an empty
// candidate set, [ErrBusy] when a proposal is already pending, and
// [ErrResourceExhausted] when the ledger is full.
func (e *Engine) Propose(g *Ghost, candidates []Candidate) error {
	if e == nil || g == nil || g.finished || len(candidates) == 0 {
		return ErrInvalidArgument
	}
	if g.proposal != nil {
		return fmt.Errorf("proposal already pending for %q: %w", g.id, ErrBusy)
	}
	tags := make([]string, len(candidates))
	for i, c := range candidates {
		tags[i] = truncateName(c.Tag)
	}
	if err := e.appendEntry(LedgerEntry{
		GhostID:   g.id,
		StepIndex: g.stepIndex + 1,
		Proposed:  true,
		Tags:      tags,
		Chosen:    -1,
	}); err != nil {
		return err
	}
	g.stepIndex++
	g.proposal = candidates
	e.log.Debug().Str("ghost", g.id).Int("candidates", len(candidates)).Msg("proposal recorded")
	return nil
}

// fnvChain runs one FNV-1a-64 sub-hash over data with the prior accumulator
// XOR'd into the offset basis.
func fnvChain(acc uint64, data []byte) uint64 {
	h := fnvOffset ^ acc
	for _, b := range data {
		h ^= uint64(b)
		h *= fnvPrime
	}
	return h
}

func le64(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}

// Collapse resolves the ghost's pending proposal. The selector chains
// FNV-1a-64 sub-hashes starting from [CollapseSeed] over the ledger length
// as of the proposal's append (8-byte little-endian), the ghost id, the
// entry's step index (8-byte little-endian), and each candidate tag in
// order; the chosen index is the accumulator modulo the candidate count.
// The chosen candidate's data becomes the ghost's state, the entry records
// the chosen index and state snapshot, and the borrowed proposal is
// released.
//
// Returns [ErrInvalidArgument] when no proposal is pending.
func (e *Engine) Collapse(g *Ghost) (int, error) {
	if e == nil || g == nil || g.finished || g.proposal == nil {
		return 0, ErrInvalidArgument
	}

	pos := -1
	for i := len(e.ledger) - 1; i >= 0; i-- {
		ent := &e.ledger[i]
		if ent.GhostID == g.id && ent.Proposed && ent.Chosen < 0 {
			pos = i
			break
		}
	}
	if pos < 0 {
		return 0, ErrInvalidArgument
	}
	entry := &e.ledger[pos]

	acc := CollapseSeed
	acc = fnvChain(acc, le64(uint64(pos)+1))
	acc = fnvChain(acc, []byte(g.id))
	acc = fnvChain(acc, le64(entry.StepIndex))
	for _, tag := range entry.Tags {
		acc = fnvChain(acc, []byte(tag))
	}

	chosen := int(acc % uint64(len(g.proposal)))
	g.state = g.proposal[chosen].Data
	entry.Chosen = chosen
	entry.State = g.state
	g.proposal = nil
	e.log.Debug().Str("ghost", g.id).Int("chosen", chosen).Msg("proposal collapsed")
	return chosen, nil
}

// Step advances a ghost that has no pending proposal: the step function
// produces the next state, the step index is incremented, and a ledger
// entry is appended with the new state and no proposal.
//
// Returns [ErrBusy] when a proposal is pending, [ErrUnsupported] for a
// ghost created without a step function, and [ErrResourceExhausted] when
// the ledger is full.
func (e *Engine) Step(g *Ghost) error {
	if e == nil || g == nil || g.finished {
		return ErrInvalidArgument
	}
	if g.proposal != nil {
		return fmt.Errorf("proposal pending for %q: %w", g.id, ErrBusy)
	}
	if g.fn == nil {
		return fmt.Errorf("ghost %q has no step function: %w", g.id, ErrUnsupported)
	}
	next := g.fn(g.arg)
	if err := e.appendEntry(LedgerEntry{
		GhostID:   g.id,
		StepIndex: g.stepIndex + 1,
		Chosen:    -1,
		State:     next,
	}); err != nil {
		return err
	}
	g.stepIndex++
	g.state = next
	return nil
}

// QueueAdd appends the ghost to the scheduling queue.
//
// Returns [ErrBusy] when the queue is full.
func (e *Engine) QueueAdd(g *Ghost) error {
	if e == nil || g == nil {
		return ErrInvalidArgument
	}
	if len(e.queue) >= e.queueCap {
		return fmt.Errorf("queue at capacity %d: %w", e.queueCap, ErrBusy)
	}
	e.queue = append(e.queue, g)
	return nil
}

// scheduleOne advances one ghost by a single round: collapse a pending
// proposal, otherwise step.
func (e *Engine) scheduleOne(g *Ghost) error {
	if g.proposal != nil {
		_, err := e.Collapse(g)
		return err
	}
	return e.Step(g)
}

// Schedule runs one round over the queue: every queued unfinished ghost is
// collapsed if it has a pending proposal and stepped otherwise. Errors are
// collected and joined; the round continues past failing ghosts. The queue
// keeps its ghosts for later rounds.
//
// Returns [ErrInvalidArgument] when the queue is empty.
func (e *Engine) Schedule() error {
	if e == nil || len(e.queue) == 0 {
		return ErrInvalidArgument
	}
	var errs []error
	for _, g := range e.queue {
		if g.finished {
			continue
		}
		if err := e.scheduleOne(g); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScheduleOn submits one scheduling round per queued unfinished ghost as
// pool tasks, each serialized by the caller's mutex. The caller must use
// the same mutex around every direct engine call that can run concurrently
// with the submitted tasks.
//
// Returns [ErrInvalidArgument] when the queue is empty or mu is nil, and
// the first submission error otherwise.
func (e *Engine) ScheduleOn(p *Pool, mu *Mutex) error {
	if e == nil || p == nil || mu == nil || len(e.queue) == 0 {
		return ErrInvalidArgument
	}
	for _, g := range e.queue {
		if g.finished {
			continue
		}
		err := p.Submit(func(arg any) {
			ghost := arg.(*Ghost)
			if mu.Lock() != nil {
				return
			}
			defer func() { _ = mu.Unlock() }()
			if ghost.finished {
				return
			}
			_ = e.scheduleOne(ghost)
		}, g)
		if err != nil {
			return err
		}
	}
	return nil
}

// Dispose finishes the ghost: ledger entries recorded under its id keep
// their position but drop their tag and state references, and the handle
// is cleared. Payloads still owned by the caller are untouched. With
// duplicate ids, entries of the shared id are cleared for all holders.
func (e *Engine) Dispose(g *Ghost) {
	if e == nil || g == nil || g.finished {
		return
	}
	for i := range e.ledger {
		if e.ledger[i].GhostID == g.id {
			e.ledger[i].Tags = nil
			e.ledger[i].State = nil
		}
	}
	g.state = nil
	g.proposal = nil
	g.fn = nil
	g.arg = nil
	g.finished = true
	e.log.Debug().Str("ghost", g.id).Msg("ghost disposed")
}

// LedgerLen returns the number of ledger entries.
func (e *Engine) LedgerLen() int {
	if e == nil {
		return 0
	}
	return len(e.ledger)
}

// LedgerEntry returns a copy of the i'th entry for audit; the Tags slice is
// cloned so the ledger cannot be mutated through the copy.
//
// Returns [ErrInvalidArgument] when i is out of range.
func (e *Engine) LedgerEntry(i int) (LedgerEntry, error) {
	if e == nil || i < 0 || i >= len(e.ledger) {
		return LedgerEntry{}, ErrInvalidArgument
	}
	entry := e.ledger[i]
	if entry.Tags != nil {
		entry.Tags = append([]string(nil), entry.Tags...)
	}
	return entry, nil
}
