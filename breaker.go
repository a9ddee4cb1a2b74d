package parley

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState int

const (
	// BreakerClosed admits all calls.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all calls until the recovery window elapses.
	BreakerOpen
	// BreakerHalfOpen admits a single probe call.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold = 5
	defaultRecoveryTime     = 60 * time.Second
)

// CircuitBreaker guards a transport channel against a failing endpoint.
// After failureThreshold consecutive failures the breaker opens and calls
// fail fast with ErrCircuitOpen. Once recoveryTime elapses, exactly one
// probe call is admitted; its outcome closes or re-opens the breaker.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	failureThreshold int
	recoveryTime     time.Duration
	openedAt         time.Time
	probing          bool

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments fall
// back to the defaults (5 failures, 60s recovery).
func NewCircuitBreaker(failureThreshold int, recoveryTime time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	if recoveryTime <= 0 {
		recoveryTime = defaultRecoveryTime
	}
	return &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		recoveryTime:     recoveryTime,
		now:              time.Now,
	}
}

// Run executes fn under the breaker. When the breaker is open and the
// recovery window has not elapsed, fn is not called and ErrCircuitOpen is
// returned. While a half-open probe is in flight, concurrent calls fail
// fast the same way.
func (cb *CircuitBreaker) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.recoveryTime {
			return ErrCircuitOpen
		}
		cb.state = BreakerHalfOpen
		cb.probing = true
		return nil
	case BreakerHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		if cb.state == BreakerHalfOpen || cb.failures >= cb.failureThreshold {
			cb.state = BreakerOpen
			cb.openedAt = cb.now()
		}
		cb.probing = false
		return
	}
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probing = false
}

// State reports the breaker's current state. An open breaker whose recovery
// window has elapsed reports half-open.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.recoveryTime {
		return BreakerHalfOpen
	}
	return cb.state
}
