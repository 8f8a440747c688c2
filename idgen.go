package idlez

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

const (
	// traceIDBytes and spanIDBytes follow the common trace wire sizes:
	// 128-bit trace IDs, 64-bit span IDs, hex encoded.
	traceIDBytes = 16
	spanIDBytes  = 8

	// idBuffer bounds how many IDs are pre-generated per source.
	idBuffer = 256
)

// idSource hands out pre-generated random hex IDs so crypto/rand stays
// off the span hot path. A background goroutine keeps the buffer full;
// when it runs dry under burst load, IDs are generated inline.
type idSource struct {
	ids    chan string
	stopCh chan struct{}
	size   int
	clock  clockz.Clock
	mu     sync.Mutex
	closed bool
}

// newIDSource creates a source of size-byte hex IDs and starts its
// refill goroutine.
func newIDSource(size int, clock clockz.Clock) *idSource {
	s := &idSource{
		ids:    make(chan string, idBuffer),
		stopCh: make(chan struct{}),
		size:   size,
		clock:  clock,
	}
	go s.refill()
	return s
}

// next retrieves an ID from the buffer or generates one inline.
func (s *idSource) next() string {
	select {
	case id := <-s.ids:
		return id
	default:
		return s.generate()
	}
}

// generate produces one random hex ID, falling back to a time-based ID
// if crypto/rand fails.
func (s *idSource) generate() string {
	b := make([]byte, s.size)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(s.clock.Now().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(b)
}

// refill keeps the buffer full in the background.
func (s *idSource) refill() {
	for {
		select {
		case <-s.stopCh:
			return
		case s.ids <- s.generate():
		}
	}
}

// close shuts down the refill goroutine.
func (s *idSource) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.stopCh)
		s.closed = true
	}
}
