package idlez

import "time"

// Defaults for Config fields.
const (
	DefaultIdleTimeout      = 500 * time.Millisecond
	DefaultTracesSampleRate = 1.0
)

// Config holds the recognized monitor options. Start from DefaultConfig
// and override fields as needed; NewMonitor clamps out-of-range values.
type Config struct {
	// IdleTimeout is how long the activity registry must stay empty
	// before the active transaction finishes. It also bounds how long
	// the synthetic start activity stays open.
	IdleTimeout time.Duration

	// TracesSampleRate is the probability in [0,1] that tracking is
	// enabled for this monitor. The draw happens once, lazily, on the
	// first operation, and the decision is cached for the monitor's
	// lifetime.
	TracesSampleRate float64

	// PatchHistory controls whether the navigation collaborator is
	// honored at all. When false, NotifyNavigation is inert.
	PatchHistory bool

	// StartOnLocationChange controls whether a reported navigation
	// starts a new transaction.
	StartOnLocationChange bool
}

// DefaultConfig returns the documented defaults: 500ms idle timeout,
// sample rate 1, navigation wired and starting transactions.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:           DefaultIdleTimeout,
		TracesSampleRate:      DefaultTracesSampleRate,
		PatchHistory:          true,
		StartOnLocationChange: true,
	}
}

// normalize clamps out-of-range values to usable ones.
func (c Config) normalize() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.TracesSampleRate < 0 {
		c.TracesSampleRate = 0
	}
	if c.TracesSampleRate > 1 {
		c.TracesSampleRate = 1
	}
	return c
}
