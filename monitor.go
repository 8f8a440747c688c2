package idlez

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// SpanBackend is the tracing surface the monitor consumes: something
// that can root a transaction span and open child spans under it.
// *Tracer implements it; tests may substitute their own.
type SpanBackend interface {
	// StartTransaction creates a transaction-rooted span and returns a
	// context that carries it.
	StartTransaction(ctx context.Context, name Key) (context.Context, *ActiveSpan)

	// StartSpan creates a span, nested under whatever span the context
	// carries.
	StartSpan(ctx context.Context, name Key) (context.Context, *ActiveSpan)
}

// transaction is the single active-transaction slot.
type transaction struct {
	span *ActiveSpan
	ctx  context.Context
}

// Monitor tracks one transaction at a time by counting outstanding
// activities, and finishes the transaction once the registry stays empty
// for the configured idle window. It owns the activity registry, the
// active-transaction slot, the idle deadline, and the sampling cache.
// Safe for concurrent use by multiple goroutines.
//
// The registry has three effective states: active (outstanding
// activities), idle (empty, idle deadline set), and settled (deadline
// reached, transaction finished). Pops drive active->idle, a wakeup
// drives idle->settled, and pushes drive idle->active by clearing the
// deadline.
//
// Idle finalization is deadline-driven rather than timer-driven: pops
// record the deadline and arm a one-shot wakeup for it, and the wakeup
// decides at fire time whether the deadline still stands. Wakeups that
// were superseded by a push, a later pop, or a replacement transaction
// find the recorded deadline cleared or moved and stand down. Wakeup
// callbacks therefore never touch the clock, which keeps them safe to
// run synchronously from a fake clock's Advance.
type Monitor struct {
	backend SpanBackend
	sampler *sampler
	clock   clockz.Clock
	cfg     Config

	mu           sync.Mutex
	activities   registry
	nextID       uint64
	tx           *transaction
	idleDeadline time.Time // zero unless the registry is empty with a live transaction
	lastEnd      time.Time // end of the most recently popped activity
}

// NewMonitor creates a monitor over the given backend.
// Uses the real clock for production behavior.
func NewMonitor(backend SpanBackend, cfg Config) *Monitor {
	cfg = cfg.normalize()
	return &Monitor{
		backend:    backend,
		sampler:    newSampler(cfg.TracesSampleRate),
		clock:      clockz.RealClock,
		cfg:        cfg,
		activities: make(registry),
	}
}

// WithClock returns a new monitor with the specified clock.
// Enables clock injection for deterministic testing. The sampling
// decision starts fresh on the returned monitor.
func (m *Monitor) WithClock(clock clockz.Clock) *Monitor {
	return &Monitor{
		backend:    m.backend,
		sampler:    newSampler(m.cfg.TracesSampleRate),
		clock:      clock,
		cfg:        m.cfg,
		activities: make(registry),
	}
}

// Start begins a new transaction with the given name and returns its
// handle, or nil when sampling is disabled or no backend is configured.
//
// If a transaction is already active it is force-finished first, its
// idle path abandoned and its outstanding activities dropped: last
// writer wins, and two transactions are never simultaneously active.
// The new transaction immediately carries one synthetic activity whose
// auto-pop after IdleTimeout guarantees the idle path engages even when
// no real work ever attaches.
func (m *Monitor) Start(ctx context.Context, name Key) *ActiveSpan {
	return m.start(ctx, name, "start")
}

func (m *Monitor) start(ctx context.Context, name Key, source string) *ActiveSpan {
	if !m.sampler.enabled() || m.backend == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	txCtx, span := m.backend.StartTransaction(ctx, name)
	span.SetTag(TagSource, source)
	syntheticEnd := m.clock.Now().Add(m.cfg.IdleTimeout)

	m.mu.Lock()

	// Swap the slot before the previous transaction is finished so two
	// transactions are never simultaneously visible. The predecessor's
	// idle deadline and outstanding activities are abandoned wholesale.
	prev := m.tx
	prevEnd := m.lastEnd
	m.tx = &transaction{span: span, ctx: txCtx}
	m.activities = make(registry)
	m.idleDeadline = time.Time{}
	m.lastEnd = time.Time{}
	id := m.pushLocked(SyntheticActivity, nil)

	m.mu.Unlock()

	if prev != nil {
		prev.span.FinishAt(prevEnd)
	}

	// Auto-pop the synthetic activity at its precomputed end. If the
	// transaction has been replaced by then, the id is gone from the
	// registry and the pop is a silent no-op. The pop runs inside the
	// clock's callback, so it cannot arm its own wakeup; the second
	// timer below is that wakeup, pre-armed for the deadline the
	// synthetic pop will record.
	m.clock.AfterFunc(m.cfg.IdleTimeout, func() {
		m.pop(id, syntheticEnd, false)
	})
	m.clock.AfterFunc(2*m.cfg.IdleTimeout, func() {
		m.idleWake(syntheticEnd.Add(m.cfg.IdleTimeout))
	})

	return span
}

// UpdateName renames the active transaction in place. No-op when no
// transaction is active. Does not reset idle timing.
func (m *Monitor) UpdateName(name Key) {
	if !m.sampler.enabled() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return
	}
	m.tx.span.SetName(string(name))
}

// Finish finalizes the active transaction, backdating its end to the
// completion of the most recently popped activity - true end-of-work
// rather than end-of-bookkeeping. Wall clock is used only when no
// activity ever completed. No-op when no transaction is active; the
// slot is kept, and a stray later finish is absorbed by the span's own
// finish idempotence.
func (m *Monitor) Finish() {
	if !m.sampler.enabled() {
		return
	}

	m.mu.Lock()
	span, end := m.settleLocked()
	m.mu.Unlock()

	if span != nil {
		span.FinishAt(end)
	}
}

// settleLocked clears the idle deadline and hands back the active
// transaction's span with its backdated end. The caller finishes the
// span after releasing the lock, so completion handlers never run under
// the monitor's lock.
func (m *Monitor) settleLocked() (*ActiveSpan, time.Time) {
	m.idleDeadline = time.Time{}
	if m.tx == nil {
		return nil, time.Time{}
	}
	return m.tx.span, m.lastEnd
}

// Push registers a named bookkeeping-only activity and returns its id.
// Returns NoActivity when sampling is disabled or no backend is
// configured. The transaction will not idle-finalize while the activity
// is outstanding.
func (m *Monitor) Push(name Key) uint64 {
	if !m.sampler.enabled() || m.backend == nil {
		return NoActivity
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushLocked(name, nil)
}

// PushSpan registers an activity backed by a child span opened under the
// active transaction, so the work shows up in the trace. With no active
// transaction it degrades to a bookkeeping-only push.
// Returns NoActivity when sampling is disabled or no backend is
// configured.
func (m *Monitor) PushSpan(name Key) uint64 {
	if !m.sampler.enabled() || m.backend == nil {
		return NoActivity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var span *ActiveSpan
	if m.tx != nil {
		_, span = m.backend.StartSpan(m.tx.ctx, name)
	}
	return m.pushLocked(name, span)
}

func (m *Monitor) pushLocked(name Key, span *ActiveSpan) uint64 {
	m.nextID++
	id := m.nextID
	m.activities.add(&activity{id: id, name: string(name), span: span})

	// A new activity means the transaction is not idle: clearing the
	// deadline stands down any wakeup already in flight.
	m.idleDeadline = time.Time{}

	return id
}

// Pop completes the activity with the given id: its span (if any) is
// finished and the id leaves the registry. Popping an unknown or
// already-popped id is a silent no-op. When the registry empties, the
// idle deadline is set one idle window out and a wakeup armed for it;
// if the deadline still stands when the wakeup fires, the transaction
// finishes.
func (m *Monitor) Pop(id uint64) {
	if !m.sampler.enabled() {
		return
	}
	m.pop(id, m.clock.Now(), true)
}

// pop removes the activity and records the idle deadline when the
// registry empties. With arm set it schedules the wakeup for that
// deadline; the synthetic auto-pop passes arm=false because it runs
// inside a clock callback, and its wakeup is pre-armed by start at the
// exact deadline computed here.
func (m *Monitor) pop(id uint64, end time.Time, arm bool) {
	m.mu.Lock()

	act, ok := m.activities.remove(id)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.lastEnd = end

	// Cardinality observation and deadline recording are atomic under
	// the lock: no push or pop can interleave between them.
	var deadline time.Time
	if m.activities.empty() && m.tx != nil {
		deadline = end.Add(m.cfg.IdleTimeout)
		m.idleDeadline = deadline
	}
	span := act.span

	m.mu.Unlock()

	if span != nil {
		span.FinishAt(end)
	}
	if arm && !deadline.IsZero() {
		m.clock.AfterFunc(m.cfg.IdleTimeout, func() {
			m.idleWake(deadline)
		})
	}
}

// idleWake is the deadline callback: finish the transaction iff the
// deadline it was armed for still stands. A cleared deadline means a
// push, manual finish, or replacement intervened; a later deadline
// means a later pop re-idled the registry and its own wakeup covers it.
// Must not touch the clock - a fake clock runs this synchronously under
// its own lock during Advance.
func (m *Monitor) idleWake(deadline time.Time) {
	m.mu.Lock()

	if m.idleDeadline.IsZero() || deadline.Before(m.idleDeadline) {
		m.mu.Unlock()
		return
	}
	span, end := m.settleLocked()

	m.mu.Unlock()

	if span != nil {
		span.FinishAt(end)
	}
}

// ActivityCount returns the number of outstanding activities.
func (m *Monitor) ActivityCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activities)
}

// NotifyNavigation reports an environment-level navigation (e.g. a
// history change) and starts a new transaction for it, subject to the
// PatchHistory and StartOnLocationChange options. Returns the new
// transaction's handle, or nil when navigation handling is disabled.
//
// The hosting environment's event source is wired outside this package;
// this entry point is its entire contract with the monitor.
func (m *Monitor) NotifyNavigation(name Key) *ActiveSpan {
	if !m.cfg.PatchHistory || !m.cfg.StartOnLocationChange {
		return nil
	}
	return m.start(context.Background(), name, "navigation")
}

// Context returns the ambient context of the active transaction, so
// callers can attach their own spans under it. Returns a background
// context when no transaction is active.
func (m *Monitor) Context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return context.Background()
	}
	return m.tx.ctx
}
