package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles a byte stream using the token bucket algorithm.
//
// One token is one byte. The bucket capacity equals one second worth of
// tokens, or the largest single request the caller declares, whichever is
// greater, so a single chunk never exceeds the burst and blocks forever.
//
// A nil *RateLimiter is valid and never waits, which lets callers keep the
// throttling call unconditional.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing bytesPerSecond sustained throughput.
//
// Parameters:
//   - bytesPerSecond: Sustained rate. 0 disables throttling (returns nil).
//   - maxRequest: Largest n ever passed to WaitN (e.g. the chunk size).
func New(bytesPerSecond uint64, maxRequest int) *RateLimiter {
	if bytesPerSecond == 0 {
		return nil
	}

	burst := int(bytesPerSecond)
	if burst < maxRequest {
		burst = maxRequest
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

// WaitN blocks until n bytes may pass or the context is cancelled.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r == nil || n <= 0 {
		return nil
	}
	if n > r.limiter.Burst() {
		return fmt.Errorf("request of %d bytes exceeds limiter burst %d", n, r.limiter.Burst())
	}
	return r.limiter.WaitN(ctx, n)
}

// Allow reports whether n bytes may pass immediately, consuming the tokens if so.
func (r *RateLimiter) Allow(n int) bool {
	if r == nil {
		return true
	}
	return r.limiter.AllowN(time.Now(), n)
}

// Tokens returns the current number of available tokens.
//
// This is primarily useful for monitoring and debugging.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return 0
	}
	return r.limiter.Tokens()
}
