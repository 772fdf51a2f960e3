package chat

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is an exponential backoff policy with full jitter.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	// Jitter picks a delay in [0, max). Nil means uniform random.
	Jitter func(max time.Duration) time.Duration
}

// DefaultBackoff is base 1s, cap 30s.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 30 * time.Second}
}

// Delay returns the wait before retry number attempt (starting at 0).
func (b Backoff) Delay(attempt int) time.Duration {
	base, ceiling := b.Base, b.Cap
	if base <= 0 {
		base = time.Second
	}
	if ceiling < base {
		ceiling = base
	}

	limit := base
	for i := 0; i < attempt && limit < ceiling; i++ {
		limit *= 2
	}
	if limit > ceiling {
		limit = ceiling
	}

	if b.Jitter != nil {
		return b.Jitter(limit)
	}
	return rand.N(limit)
}

// Wait sleeps for Delay(attempt) or until ctx is done.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(b.Delay(attempt))
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
