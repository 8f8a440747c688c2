package idlez

import (
	"math/rand/v2"
	"sync"
)

// sampler is the one-shot sampling gate. The first call to enabled draws
// a uniform value and fixes the decision for the sampler's lifetime;
// every public monitor operation consults it first, so a disabled
// monitor does no tracing work at all.
type sampler struct {
	randFloat func() float64 // Injectable for deterministic tests.
	rate      float64
	once      sync.Once
	decision  bool
}

func newSampler(rate float64) *sampler {
	return &sampler{
		rate:      rate,
		randFloat: rand.Float64,
	}
}

// enabled reports the cached sampling decision, evaluating it on first
// use. A draw r in [0,1) enables tracking iff r <= rate, so rate 1
// always samples and rate 0 effectively never does.
func (s *sampler) enabled() bool {
	s.once.Do(func() {
		s.decision = s.randFloat() <= s.rate
	})
	return s.decision
}
