package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff produces capped exponential delays with bounded jitter, used
// when re-establishing a lost store subscription. The zero value is not
// usable; construct with NewBackoff.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

// NewBackoff returns a backoff starting at base and doubling up to max.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay for the current attempt and advances the
// sequence. Jitter of up to ±25% keeps reconnecting clients from
// stampeding the store in lockstep.
func (b *Backoff) Next() time.Duration {
	delay := b.base << uint(b.attempt)
	if delay > b.max || delay <= 0 {
		delay = b.max
	} else {
		b.attempt++
	}
	var jitter time.Duration
	if half := delay / 2; half > 0 {
		jitter = time.Duration(rand.Int64N(int64(half)))
	}
	return delay - delay/4 + jitter
}

// Reset restarts the sequence after a successful attempt.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Sleep waits for the next delay or until ctx is cancelled.
func (b *Backoff) Sleep(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
