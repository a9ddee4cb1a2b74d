package parley

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestFrameworkEventsNamedAndWildcard(t *testing.T) {
	f := NewFrameworkEvents(nil)
	var named, wildcard atomic.Int64
	f.On(FERoomCreated, func(_ context.Context, _ FrameworkEvent) { named.Add(1) })
	f.On("", func(_ context.Context, _ FrameworkEvent) { wildcard.Add(1) })

	f.Emit(FrameworkEvent{Name: FERoomCreated})
	f.Emit(FrameworkEvent{Name: FERoomClosed})
	f.Wait()

	if named.Load() != 1 {
		t.Errorf("named handler calls = %d, want 1", named.Load())
	}
	if wildcard.Load() != 2 {
		t.Errorf("wildcard handler calls = %d, want 2", wildcard.Load())
	}
}

func TestFrameworkEventsOff(t *testing.T) {
	f := NewFrameworkEvents(nil)
	var calls atomic.Int64
	id := f.On(FEEventBlocked, func(_ context.Context, _ FrameworkEvent) { calls.Add(1) })

	f.Emit(FrameworkEvent{Name: FEEventBlocked})
	f.Wait()
	f.Off(id)
	f.Emit(FrameworkEvent{Name: FEEventBlocked})
	f.Wait()

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	// unknown id is a no-op
	f.Off("no-such-id")
}

func TestFrameworkEventsStampsTimestamp(t *testing.T) {
	f := NewFrameworkEvents(nil)
	var got atomic.Int64
	f.On(FEDeliverySucceeded, func(_ context.Context, ev FrameworkEvent) { got.Store(ev.Timestamp) })
	f.Emit(FrameworkEvent{Name: FEDeliverySucceeded})
	f.Wait()
	if got.Load() == 0 {
		t.Error("timestamp not stamped on emit")
	}
}

func TestFrameworkEventsHandlerPanicRecovered(t *testing.T) {
	f := NewFrameworkEvents(nil)
	var calls atomic.Int64
	f.On(FEHookError, func(_ context.Context, _ FrameworkEvent) { panic("handler bug") })
	f.On(FEHookError, func(_ context.Context, _ FrameworkEvent) { calls.Add(1) })

	f.Emit(FrameworkEvent{Name: FEHookError})
	f.Wait()

	if calls.Load() != 1 {
		t.Errorf("surviving handler calls = %d, want 1", calls.Load())
	}
}

func TestFrameworkEventsEmitDoesNotBlock(t *testing.T) {
	f := NewFrameworkEvents(nil)
	release := make(chan struct{})
	f.On(FERoomCreated, func(ctx context.Context, _ FrameworkEvent) {
		select {
		case <-release:
		case <-ctx.Done():
		}
	})

	start := time.Now()
	f.Emit(FrameworkEvent{Name: FERoomCreated})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Emit blocked for %v", elapsed)
	}
	close(release)
	f.Wait()
}
