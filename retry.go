package parley

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy controls delivery retries on a transport binding. The first
// attempt is immediate; retry k (1-based) waits
// min(MaxDelay, BaseDelay * ExponentialBase^k) before running.
type RetryPolicy struct {
	MaxRetries      int           `json:"max_retries" toml:"max_retries"`
	BaseDelay       time.Duration `json:"base_delay" toml:"base_delay"`
	MaxDelay        time.Duration `json:"max_delay" toml:"max_delay"`
	ExponentialBase float64       `json:"exponential_base" toml:"exponential_base"`
}

// DefaultRetryPolicy matches the delivery defaults: 3 retries, 500ms base,
// 30s cap, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
	}
}

// Delay returns the backoff before retry k (1-based).
func (p RetryPolicy) Delay(k int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	expBase := p.ExponentialBase
	if expBase <= 1 {
		expBase = 2
	}
	d := float64(base)
	for i := 0; i < k; i++ {
		d *= expBase
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// retryDo runs fn up to 1+MaxRetries times. It returns nil on the first
// success, the last error once retries are exhausted, or ctx.Err() if the
// context ends while waiting out a backoff.
func retryDo(ctx context.Context, p RetryPolicy, logger *slog.Logger, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries {
			return err
		}
		delay := p.Delay(attempt + 1)
		if logger != nil {
			logger.Warn("delivery attempt failed, retrying",
				"attempt", attempt+1,
				"delay", delay,
				"error", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
