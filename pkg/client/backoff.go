package client

import (
	"math/rand"
	"time"
)

// BackoffStrategy decides how long DispatchWithRetry sleeps after a failed
// attempt (0-based). retryAfter is the daemon's Retry-After hint for that
// attempt, zero when it sent none.
type BackoffStrategy interface {
	Next(attempt int, retryAfter time.Duration) time.Duration
}

// ProviderBackoff doubles the wait from Base while every provider is busy.
// The wait never exceeds Max nor the daemon's Retry-After hint: by then a
// block has lapsed or a usage window has reset.
//
// Jitter shaves up to that fraction off each wait, so concurrent callers
// spread out below the cap instead of around it.
type ProviderBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0.0 to 1.0

	rand func() float64
}

// DefaultBackoff waits 0.5s, 1s, 2s, 4s and 8s over DefaultMaxRetries
// retries, less jitter.
func DefaultBackoff() *ProviderBackoff {
	return &ProviderBackoff{
		Base:   500 * time.Millisecond,
		Max:    30 * time.Second,
		Jitter: 0.2,
	}
}

func (b *ProviderBackoff) Next(attempt int, retryAfter time.Duration) time.Duration {
	limit := b.Max
	if retryAfter > 0 && (limit <= 0 || retryAfter < limit) {
		limit = retryAfter
	}

	delay := b.Base
	if limit > 0 {
		for i := 0; i < attempt && delay > 0 && delay < limit; i++ {
			delay *= 2
		}
		if delay > limit {
			delay = limit
		}
	}

	if b.Jitter > 0 && delay > 0 {
		r := rand.Float64
		if b.rand != nil {
			r = b.rand
		}
		delay -= time.Duration(float64(delay) * b.Jitter * r())
	}
	return delay
}
