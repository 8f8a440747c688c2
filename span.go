package idlez

import (
	"context"
	"sync"
	"time"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const (
	bundleKey bundleKeyType = "idlez"
)

// contextBundle holds both tracer and span to reduce context allocations.
type contextBundle struct {
	tracer *Tracer
	span   *Span
}

// Span represents a single unit of traced work: either a transaction
// root or an activity nested under one.
// Spans are NOT thread-safe - do not modify from multiple goroutines.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Tags        map[Tag]string `json:"tags,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time,omitempty"`
	Duration    time.Duration  `json:"duration"`
	TraceID     string         `json:"trace_id"`
	SpanID      string         `json:"span_id"`
	ParentID    string         `json:"parent_id,omitempty"`
	Name        string         `json:"name"`
	Transaction bool           `json:"transaction,omitempty"`
}

// ActiveSpan wraps a Span with thread-safe mutation and lifecycle
// management. Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	span   *Span
	tracer *Tracer
	mu     sync.Mutex // Protects the underlying span.
}

// SetTag adds a key-value pair to the span.
// No-op if the span is already finished.
func (a *ActiveSpan) SetTag(key Tag, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.span.EndTime.IsZero() {
		return
	}

	if a.span.Tags == nil {
		a.span.Tags = make(map[Tag]string)
	}
	a.span.Tags[key] = value
}

// GetTag retrieves a tag value by key.
func (a *ActiveSpan) GetTag(key Tag) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.span.Tags == nil {
		return "", false
	}
	value, ok := a.span.Tags[key]
	return value, ok
}

// SetName renames the span in place. Transactions are renamed while
// active when the caller learns a better display name (e.g. a route
// pattern resolved after navigation). No-op once finished.
func (a *ActiveSpan) SetName(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.span.EndTime.IsZero() {
		return
	}
	a.span.Name = name
}

// Name returns the span's current display name.
func (a *ActiveSpan) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.Name
}

// Finish completes the span at the current clock reading and hands it to
// the tracer's completion handlers.
// Safe to call multiple times - subsequent calls are no-ops.
func (a *ActiveSpan) Finish() {
	a.finish(a.tracer.clock.Now())
}

// FinishAt completes the span with an explicit end timestamp. The idle
// finalizer uses it to backdate a transaction's end to the completion of
// its last activity rather than the moment bookkeeping caught up.
// A zero end falls back to the current clock reading.
// Safe to call multiple times - subsequent calls are no-ops.
func (a *ActiveSpan) FinishAt(end time.Time) {
	if end.IsZero() {
		end = a.tracer.clock.Now()
	}
	a.finish(end)
}

func (a *ActiveSpan) finish(end time.Time) {
	a.mu.Lock()

	// Prevent double-finishing.
	if !a.span.EndTime.IsZero() {
		a.mu.Unlock()
		return
	}

	a.span.EndTime = end
	a.span.Duration = end.Sub(a.span.StartTime)

	// Snapshot under the lock; handlers run outside it so they may call
	// back into this span without deadlocking.
	snapshot := *a.span
	a.mu.Unlock()

	a.tracer.completeSpan(snapshot)
}

// Finished reports whether the span has been completed.
func (a *ActiveSpan) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.span.EndTime.IsZero()
}

// EndTime returns the span's end timestamp, zero while unfinished.
func (a *ActiveSpan) EndTime() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.EndTime
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.TraceID
}

// SpanID returns the span ID of this span.
func (a *ActiveSpan) SpanID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.SpanID
}

// Context creates a new context with this span embedded.
// The returned context can be used to start child spans.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()

	bundle := &contextBundle{tracer: a.tracer, span: a.span}
	return context.WithValue(parent, bundleKey, bundle)
}

// GetSpan extracts the current span from a context.
// Returns nil if no span is present.
func GetSpan(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}

	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.span
	}

	return nil
}
