package idlez

import (
	"testing"

	"github.com/zoobzio/clockz"
)

func TestIDSourceUniqueness(t *testing.T) {
	source := newIDSource(spanIDBytes, clockz.RealClock)
	defer source.close()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := source.next()
		if len(id) != spanIDBytes*2 {
			t.Fatalf("Expected %d hex chars, got %d", spanIDBytes*2, len(id))
		}
		if seen[id] {
			t.Fatalf("Duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestIDSourceSizes(t *testing.T) {
	traceSource := newIDSource(traceIDBytes, clockz.RealClock)
	defer traceSource.close()

	if got := len(traceSource.next()); got != 32 {
		t.Errorf("Expected 32-char trace IDs, got %d", got)
	}

	spanSource := newIDSource(spanIDBytes, clockz.RealClock)
	defer spanSource.close()

	if got := len(spanSource.next()); got != 16 {
		t.Errorf("Expected 16-char span IDs, got %d", got)
	}
}

func TestIDSourceNextAfterClose(t *testing.T) {
	source := newIDSource(spanIDBytes, clockz.RealClock)
	source.close()

	// Inline generation keeps working once the refill goroutine stops.
	for i := 0; i < idBuffer+10; i++ {
		if source.next() == "" {
			t.Fatal("Expected IDs after close")
		}
	}

	// Closing twice is safe.
	source.close()
}
