// Package retry wraps LLM calls in a resilience layer: exponential backoff
// for transient failures, a separate budget and a shared per-scope gate for
// provider throttling, and error classification to tell the two apart.
package retry

import (
	"math/rand"
	"time"
)

// JitterMode selects how backoff delays are randomized.
type JitterMode int

const (
	// JitterNone uses the exact computed delay.
	JitterNone JitterMode = iota

	// JitterPartial keeps half the delay and randomizes the other half,
	// bounding the spread while still de-synchronizing retries.
	JitterPartial

	// JitterFull randomizes over the whole delay.
	JitterFull
)

// ParseJitterMode converts a config string to a JitterMode.
// Unrecognized values map to JitterPartial.
func ParseJitterMode(name string) JitterMode {
	switch name {
	case "none":
		return JitterNone
	case "full":
		return JitterFull
	default:
		return JitterPartial
	}
}

// String returns the config name for a jitter mode.
func (j JitterMode) String() string {
	switch j {
	case JitterNone:
		return "none"
	case JitterFull:
		return "full"
	default:
		return "partial"
	}
}

// Backoff computes retry delays: initial × multiplier^(attempt-1), capped at
// Max, then jittered. The zero value is unusable; construct with the config
// values.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     JitterMode
}

// Delay returns the delay before the given retry attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	delay := time.Duration(d)
	if delay > b.Max {
		delay = b.Max
	}

	switch b.Jitter {
	case JitterFull:
		return time.Duration(rand.Int63n(int64(delay) + 1))
	case JitterPartial:
		half := delay / 2
		return half + time.Duration(rand.Int63n(int64(half)+1))
	default:
		return delay
	}
}
