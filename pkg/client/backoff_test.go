package client

import (
	"testing"
	"time"
)

// fixedRand pins the jitter roll; 0.5 maps to a jitter multiplier of
// exactly 1.
func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

func TestBackoffDoubles(t *testing.T) {
	b := NewBackoff(nil)
	b.randFloat = fixedRand(0.5)

	want := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // 32s hits the ceiling
		30 * time.Second,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoffNonDecreasing(t *testing.T) {
	b := NewBackoff(nil)
	b.randFloat = fixedRand(0.5)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.Delay(attempt)
		if d < prev {
			t.Fatalf("Delay(%d) = %v, shorter than Delay(%d) = %v", attempt, d, attempt-1, prev)
		}
		prev = d
	}
}

func TestBackoffCeilingStable(t *testing.T) {
	b := NewBackoff(nil)
	b.randFloat = fixedRand(0.5)

	for _, attempt := range []int{8, 50, 1000} {
		if got := b.Delay(attempt); got != 30*time.Second {
			t.Errorf("Delay(%d) = %v, want 30s", attempt, got)
		}
	}
}

func TestBackoffAttemptFloor(t *testing.T) {
	b := NewBackoff(nil)
	b.randFloat = fixedRand(0.5)

	want := b.Delay(1)
	for _, attempt := range []int{0, -3} {
		if got := b.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff(nil)

	// Attempt 3 is 2s before jitter; with JitterFactor 0.1 every delay
	// must land within ±10%.
	lo := time.Duration(float64(2*time.Second)*0.9) - time.Millisecond
	hi := time.Duration(float64(2*time.Second)*1.1) + time.Millisecond
	for i := 0; i < 100; i++ {
		d := b.Delay(3)
		if d < lo || d > hi {
			t.Fatalf("Delay(3) = %v, outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestBackoffJitterVaries(t *testing.T) {
	b := NewBackoff(nil)

	seen := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		seen[b.Delay(5)] = true
	}
	if len(seen) < 2 {
		t.Errorf("20 jittered delays produced %d distinct values, want at least 2", len(seen))
	}
}

func TestBackoffJitterDirection(t *testing.T) {
	b := NewBackoff(nil)

	b.randFloat = fixedRand(1.0)
	if got, want := b.Delay(1), 550*time.Millisecond; got != want {
		t.Errorf("Delay(1) with max jitter roll = %v, want %v", got, want)
	}

	b.randFloat = fixedRand(0.0)
	got := b.Delay(1)
	want := time.Duration(float64(500*time.Millisecond) * 0.9)
	if got != want {
		t.Errorf("Delay(1) with min jitter roll = %v, want %v", got, want)
	}
}

func TestBackoffCustomConfig(t *testing.T) {
	b := NewBackoff(&ReconnectConfig{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 3.0,
	})
	b.randFloat = fixedRand(0.5)

	want := []time.Duration{1 * time.Second, 3 * time.Second, 9 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoffNormalizesPartialConfig(t *testing.T) {
	b := NewBackoff(&ReconnectConfig{BaseDelay: 100 * time.Millisecond})

	if b.config.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want backfilled 30s", b.config.MaxDelay)
	}
	if b.config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want backfilled 2.0", b.config.Multiplier)
	}
	if b.config.BaseDelay != 100*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 100ms kept", b.config.BaseDelay)
	}
}
