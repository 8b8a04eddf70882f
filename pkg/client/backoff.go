package client

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential growth from BaseDelay by
// Multiplier, capped at MaxDelay, then jittered by ±JitterFactor. The
// pre-jitter sequence is non-decreasing, so only jitter can make one delay
// shorter than the previous.
type Backoff struct {
	config *ReconnectConfig

	// randFloat is swapped out in tests for determinism.
	randFloat func() float64
}

// NewBackoff creates a Backoff for the given config. Zero fields take the
// documented defaults.
func NewBackoff(config *ReconnectConfig) *Backoff {
	if config == nil {
		config = DefaultReconnectConfig()
	}
	return &Backoff{
		config:    config.normalized(),
		randFloat: rand.Float64,
	}
}

// Delay returns the delay to wait after the given failed attempt,
// 1-based: Delay(1) follows the first failure.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	ceiling := float64(b.config.MaxDelay)
	d := float64(b.config.BaseDelay)
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= b.config.Multiplier
	}
	if d > ceiling {
		d = ceiling
	}

	if f := b.config.JitterFactor; f > 0 {
		d *= 1 + f*(2*b.randFloat()-1)
	}
	return time.Duration(d)
}
