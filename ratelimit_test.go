package parley

import (
	"context"
	"testing"
	"time"
)

func TestNewRateLimiterNilConfig(t *testing.T) {
	if l := NewRateLimiter(nil); l != nil {
		t.Error("nil config should produce nil limiter")
	}
	if l := NewRateLimiter(&RateLimitConfig{}); l != nil {
		t.Error("empty config should produce nil limiter")
	}
}

func TestNilRateLimiterAdmitsImmediately(t *testing.T) {
	var l *RateLimiter
	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("nil limiter Acquire: %v", err)
	}
	if !l.Allow() {
		t.Error("nil limiter Allow = false")
	}
}

func TestRateLimiterPicksTightestCap(t *testing.T) {
	// 600/minute is 10/sec, tighter than the 100/sec cap
	l := NewRateLimiter(&RateLimitConfig{MaxPerSecond: 100, MaxPerMinute: 600})
	if l == nil {
		t.Fatal("limiter is nil")
	}
	// burst of 10 tokens available up front, the 11th is not
	for i := 0; i < 10; i++ {
		if !l.Allow() {
			t.Fatalf("token %d unavailable", i)
		}
	}
	if l.Allow() {
		t.Error("11th token admitted immediately at 10/sec")
	}
}

func TestRateLimiterBurstFloor(t *testing.T) {
	// 60/hour is far below 1/sec; burst must still admit one call
	l := NewRateLimiter(&RateLimitConfig{MaxPerHour: 60})
	if l == nil {
		t.Fatal("limiter is nil")
	}
	if !l.Allow() {
		t.Error("first call not admitted")
	}
	if l.Allow() {
		t.Error("second call admitted at 60/hour")
	}
}

func TestRateLimiterBurstRoundsUp(t *testing.T) {
	// 90/minute is 1.5/sec; capacity rounds up to two whole tokens
	l := NewRateLimiter(&RateLimitConfig{MaxPerMinute: 90})
	if l == nil {
		t.Fatal("limiter is nil")
	}
	if got := l.limiter.Burst(); got != 2 {
		t.Errorf("burst = %d, want 2", got)
	}
	if !l.Allow() || !l.Allow() {
		t.Error("both burst tokens should be admitted")
	}
	if l.Allow() {
		t.Error("third call admitted immediately at 1.5/sec")
	}
}

func TestRateLimiterAcquireRespectsContext(t *testing.T) {
	l := NewRateLimiter(&RateLimitConfig{MaxPerHour: 60})
	if !l.Allow() {
		t.Fatal("first token unavailable")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Error("Acquire should fail when no token arrives before the deadline")
	}
}
