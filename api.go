// Package idlez tracks the lifetime of a performance-tracing transaction
// by counting concurrently outstanding named activities and finishing the
// transaction once the count reaches zero and stays there for an idle
// window. Callers never declare how many sub-operations a transaction
// will have or when the last one ends - they push an activity around each
// unit of in-flight work and pop it on completion.
//
// Core Components:.
//   - Monitor: owns the single active transaction, the activity registry,
//     and the idle debounce timer.
//   - Tracer: span backend - creates transaction and child spans.
//   - Span / ActiveSpan: one unit of traced work and its live handle.
//   - Collector: buffers completed spans for export.
//
// Basic Usage:.
//
//	tracer := idlez.New()
//	defer tracer.Close()
//
//	monitor := idlez.NewMonitor(tracer, idlez.DefaultConfig())
//
//	// One transaction per user-visible unit of work.
//	monitor.Start(ctx, "page-load")
//
//	// Wrap every in-flight sub-operation in a push/pop pair.
//	id := monitor.PushSpan("fetch-profile")
//	go func() {
//		defer monitor.Pop(id)
//		fetchProfile()
//	}()
//
// Once all activities are popped and the idle window elapses with no new
// push, the transaction finishes on its own, backdated to the end of the
// last completed activity.
//
// Degradation:.
//
// Every operation is safe to call from misbehaving call sites. Disabled
// sampling, a missing backend, double pops, pops of unknown ids, renames
// and finishes without an active transaction all degrade to silent no-ops
// returning zero values. Nothing in this package panics or logs.
//
// Timing:.
//
// All timing flows through a clockz.Clock. Production code uses the real
// clock; tests inject clockz.NewFakeClock() and drive the idle window
// deterministically with Advance and BlockUntilReady.
package idlez

// Key represents a transaction, activity, or span operation name.
type Key = string

// Tag represents a span tag key.
type Tag = string

// SyntheticActivity is the activity pushed automatically at transaction
// start. It guarantees at least one pop occurs even when no real work
// ever attaches to the transaction, which is the only event that arms
// the idle finalizer.
const SyntheticActivity Key = "idleTransactionStarted"

// NoActivity is the sentinel id returned by Push and PushSpan when
// tracking is disabled or no backend is configured.
const NoActivity uint64 = 0

// TagSource marks a transaction span with what triggered it.
const TagSource Tag = "idlez.source"
