package idlez

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector buffers completed spans for batch export. Its Collect method
// has the SpanHandler signature, so wiring it to a tracer is one line:
//
//	tracer.OnSpanComplete(collector.Collect)
//
// Safe for concurrent use by multiple goroutines.
type Collector struct {
	spans    []Span
	spansCh  chan Span
	stopCh   chan struct{}
	done     chan struct{}
	dropped  atomic.Int64
	name     string
	mu       sync.Mutex
	closed   atomic.Bool
	syncMode bool // Bypass the channel for deterministic tests.
}

// NewCollector creates a new collector with the specified name and buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:    name,
		spans:   make([]Span, 0, 8),
		spansCh: make(chan Span, bufferSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// Name returns the collector's name.
func (c *Collector) Name() string {
	return c.name
}

// run receives spans from the channel until the collector closes.
func (c *Collector) run() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining spans before shutdown.
			for {
				select {
				case span := <-c.spansCh:
					c.buffer(span)
				default:
					return
				}
			}
		case span := <-c.spansCh:
			c.buffer(span)
		}
	}
}

// Close shuts down the collector. Spans already queued are drained into
// the buffer and remain exportable; new spans are dropped.
func (c *Collector) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.stopCh)
	select {
	case <-c.done:
	case <-time.After(100 * time.Millisecond):
		// Drain goroutine wedged - give up rather than block the caller.
	}
}

// Collect buffers a completed span with backpressure protection: when
// the internal channel is full the span is dropped and counted. In sync
// mode spans are buffered directly, which makes tests deterministic.
func (c *Collector) Collect(span Span) {
	// Detach the tags map so later mutation by the producer is invisible.
	if span.Tags != nil {
		tags := make(map[Tag]string, len(span.Tags))
		for k, v := range span.Tags {
			tags[k] = v
		}
		span.Tags = tags
	}

	if c.syncMode {
		if c.closed.Load() {
			c.dropped.Add(1)
			return
		}
		c.buffer(span)
		return
	}

	select {
	case c.spansCh <- span:
	default:
		// Channel full - drop rather than block the finishing span.
		c.dropped.Add(1)
	}
}

func (c *Collector) buffer(span Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = append(c.spans, span)
}

// Export returns a copy of all buffered spans and clears the internal
// buffer. The returned slice is safe to modify.
func (c *Collector) Export() []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) == 0 {
		return nil
	}

	result := make([]Span, len(c.spans))
	for i := range c.spans {
		result[i] = c.spans[i]
		if c.spans[i].Tags != nil {
			result[i].Tags = make(map[Tag]string, len(c.spans[i].Tags))
			for k, v := range c.spans[i].Tags {
				result[i].Tags[k] = v
			}
		}
	}

	c.spans = c.spans[:0]
	return result
}

// Transactions returns the buffered transaction-rooted spans without
// clearing the buffer.
func (c *Collector) Transactions() []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []Span
	for i := range c.spans {
		if c.spans[i].Transaction {
			result = append(result, c.spans[i])
		}
	}
	return result
}

// Count returns the current number of buffered spans.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// DroppedCount returns the total number of spans dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.dropped.Load()
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, spans bypass the channel and buffer directly.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode = sync
}

// Reset clears all buffered spans and resets the drop counter.
// Does not stop the drain goroutine - use Close for that.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spans = c.spans[:0]
	c.dropped.Store(0)
}
