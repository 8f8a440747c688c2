package idlez

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestActiveSpanSetTag(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "test")

	span.SetTag("key1", "value1")
	span.SetTag("key2", "value2")

	if len(span.span.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %d", len(span.span.Tags))
	}

	if span.span.Tags["key1"] != "value1" {
		t.Errorf("Expected tag key1=value1, got %s", span.span.Tags["key1"])
	}

	if span.span.Tags["key2"] != "value2" {
		t.Errorf("Expected tag key2=value2, got %s", span.span.Tags["key2"])
	}
}

func TestActiveSpanGetTag(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "test")
	span.SetTag("existing", "value")

	value, ok := span.GetTag("existing")
	if !ok {
		t.Error("Expected to find existing tag")
	}
	if value != "value" {
		t.Errorf("Expected 'value', got %s", value)
	}

	_, ok = span.GetTag("missing")
	if ok {
		t.Error("Expected not to find missing tag")
	}
}

func TestActiveSpanSetTagAfterFinish(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "test")
	span.Finish()

	span.SetTag("late", "value")

	if _, ok := span.GetTag("late"); ok {
		t.Error("Expected tag set after finish to be dropped")
	}
}

func TestActiveSpanSetName(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "initial")

	span.SetName("renamed")
	if span.Name() != "renamed" {
		t.Errorf("Expected name 'renamed', got %s", span.Name())
	}

	// Renaming a finished span is a no-op.
	span.Finish()
	span.SetName("too-late")
	if span.Name() != "renamed" {
		t.Errorf("Expected name to stay 'renamed', got %s", span.Name())
	}
}

func TestActiveSpanFinishIdempotent(t *testing.T) {
	fakeClock := clockz.NewFakeClock()
	tracer := New().WithClock(fakeClock)
	defer tracer.Close()

	var completions int
	tracer.OnSpanComplete(func(_ Span) {
		completions++
	})

	_, span := tracer.StartSpan(context.Background(), "test")
	fakeClock.Advance(10 * time.Millisecond)
	span.Finish()

	firstEnd := span.EndTime()

	fakeClock.Advance(10 * time.Millisecond)
	span.Finish()

	if completions != 1 {
		t.Errorf("Expected 1 completion, got %d", completions)
	}
	if span.EndTime() != firstEnd {
		t.Error("Second finish should not move the end time")
	}
}

func TestActiveSpanFinishAtBackdates(t *testing.T) {
	fakeClock := clockz.NewFakeClock()
	tracer := New().WithClock(fakeClock)
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "test")
	start := span.span.StartTime

	// Work ended 100ms in, bookkeeping caught up 400ms later.
	workEnd := start.Add(100 * time.Millisecond)
	fakeClock.Advance(500 * time.Millisecond)
	span.FinishAt(workEnd)

	if span.EndTime() != workEnd {
		t.Errorf("Expected end time %v, got %v", workEnd, span.EndTime())
	}
	if span.span.Duration != 100*time.Millisecond {
		t.Errorf("Expected duration 100ms, got %v", span.span.Duration)
	}
}

func TestActiveSpanFinishAtZeroFallsBack(t *testing.T) {
	fakeClock := clockz.NewFakeClock()
	tracer := New().WithClock(fakeClock)
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "test")
	fakeClock.Advance(250 * time.Millisecond)
	span.FinishAt(time.Time{})

	if span.span.Duration != 250*time.Millisecond {
		t.Errorf("Expected duration 250ms, got %v", span.span.Duration)
	}
}

func TestConcurrentTagSetting(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "test")

	var wg sync.WaitGroup
	numGoroutines := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("key%d", n)
			value := fmt.Sprintf("value%d", n)
			span.SetTag(key, value)
		}(i)
	}

	wg.Wait()

	if len(span.span.Tags) != numGoroutines {
		t.Errorf("Expected %d tags, got %d", numGoroutines, len(span.span.Tags))
	}

	for i := 0; i < numGoroutines; i++ {
		key := fmt.Sprintf("key%d", i)
		expectedValue := fmt.Sprintf("value%d", i)
		if actualValue, ok := span.span.Tags[key]; !ok {
			t.Errorf("Expected to find tag %s", key)
		} else if actualValue != expectedValue {
			t.Errorf("Expected %s=%s, got %s", key, expectedValue, actualValue)
		}
	}
}

func TestGetSpanFromContext(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	ctx, span := tracer.StartSpan(context.Background(), "test")

	extracted := GetSpan(ctx)
	if extracted != span.span {
		t.Error("Expected span to be extractable from context")
	}

	if GetSpan(context.Background()) != nil {
		t.Error("Expected nil span from bare context")
	}

	if GetSpan(nil) != nil { //nolint:staticcheck // Deliberate nil context.
		t.Error("Expected nil span from nil context")
	}
}

func TestActiveSpanContextChaining(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	_, parent := tracer.StartSpan(context.Background(), "parent")

	ctx := parent.Context(context.Background())
	_, child := tracer.StartSpan(ctx, "child")

	if child.span.ParentID != parent.SpanID() {
		t.Error("Expected child started from span context to reference parent")
	}
	if child.TraceID() != parent.TraceID() {
		t.Error("Expected child to share the parent's trace")
	}
}
