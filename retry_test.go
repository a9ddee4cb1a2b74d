package parley

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, ExponentialBase: 2}
	cases := []struct {
		k    int
		want time.Duration
	}{
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 2 * time.Second},  // capped
		{10, 2 * time.Second}, // still capped
	}
	for _, tc := range cases {
		if got := p.Delay(tc.k); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.k, got, tc.want)
		}
	}
}

func TestRetryPolicyDelayZeroValueDefaults(t *testing.T) {
	var p RetryPolicy
	if got := p.Delay(1); got != time.Second {
		t.Errorf("zero-value Delay(1) = %v, want 1s", got)
	}
}

func TestRetryDoFirstAttemptImmediate(t *testing.T) {
	calls := 0
	start := time.Now()
	err := retryDo(context.Background(), DefaultRetryPolicy(), nil, func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("retryDo: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first attempt delayed by %v", elapsed)
	}
}

func TestRetryDoExhaustsRetries(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	calls := 0
	err := retryDo(context.Background(), p, nil, func(_ context.Context) error {
		calls++
		return errDown
	})
	if !errors.Is(err, errDown) {
		t.Errorf("err = %v, want errDown", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 attempt + 2 retries)", calls)
	}
}

func TestRetryDoRecoversMidway(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	calls := 0
	err := retryDo(context.Background(), p, nil, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errDown
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryDo: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryDoContextCancelDuringBackoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour, ExponentialBase: 2}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := retryDo(ctx, p, nil, func(_ context.Context) error { return errDown })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
