// Package ratelimiter paces outbound transfer requests using the token
// bucket algorithm.
//
// Every presign, upload and download call the sync pipeline issues consumes
// one token. Pacing keeps a busy sync pass from hammering the object service
// (or tripping its throttling) while still allowing short bursts when the
// bucket is full.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate with the pipeline's conventions:
// a zero sustained rate means unlimited, and waiting respects context
// cancellation.
//
// Thread safety: all methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained requests
// with the given burst capacity.
//
// Special cases:
//   - requestsPerSecond = 0: no rate limiting (effectively unlimited)
//   - burst below the sustained rate is raised to it, so a full bucket can
//     always absorb one second of traffic
//
// Returns a configured RateLimiter.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		// Effectively unlimited; rate.Inf has edge cases around Wait, so use
		// a very large finite rate instead.
		requestsPerSecond = 1_000_000_000
		burst = requestsPerSecond
	}
	if burst < requestsPerSecond {
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed right now, consuming a token
// when it may. This is the non-blocking path; callers that prefer throttling
// over rejection use Wait.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
//
// Parameters:
//   - ctx: Bounds the wait; its error is returned on cancellation
//
// Returns:
//   - error: nil once a token is acquired, the context error otherwise
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the number of tokens currently available. Useful for
// monitoring; the value may change immediately after the call.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
