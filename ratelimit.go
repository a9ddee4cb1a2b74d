package parley

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound deliveries on a channel using a token bucket.
// The effective rate is the tightest of the configured per-second,
// per-minute, and per-hour caps.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter from the binding's config. A nil config
// or one with no caps set returns nil, meaning unlimited.
func NewRateLimiter(cfg *RateLimitConfig) *RateLimiter {
	if cfg == nil {
		return nil
	}
	perSec := rate.Limit(0)
	if cfg.MaxPerSecond > 0 {
		perSec = rate.Limit(cfg.MaxPerSecond)
	}
	if cfg.MaxPerMinute > 0 {
		l := rate.Limit(float64(cfg.MaxPerMinute) / 60)
		if perSec == 0 || l < perSec {
			perSec = l
		}
	}
	if cfg.MaxPerHour > 0 {
		l := rate.Limit(float64(cfg.MaxPerHour) / 3600)
		if perSec == 0 || l < perSec {
			perSec = l
		}
	}
	if perSec == 0 {
		return nil
	}
	// Bucket capacity is the effective per-second rate rounded up, never
	// below one, so fractional rates (90/min = 1.5/s) keep a whole token
	// of headroom.
	burst := int(math.Ceil(float64(perSec)))
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(perSec, burst)}
}

// Acquire blocks until a delivery token is available or ctx is done.
// A nil limiter admits immediately.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// Allow reports whether a token is available right now without waiting.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}
