package parley

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLockManagerMutualExclusion(t *testing.T) {
	m := newLockManager(0)
	ctx := context.Background()

	var mu sync.Mutex
	var inSection, maxInSection int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "room-1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			inSection++
			if inSection > maxInSection {
				maxInSection = inSection
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inSection--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxInSection != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInSection)
	}
}

func TestLockManagerIndependentRooms(t *testing.T) {
	m := newLockManager(0)
	ctx := context.Background()

	release1, err := m.Acquire(ctx, "room-1")
	if err != nil {
		t.Fatalf("acquire room-1: %v", err)
	}
	defer release1()

	done := make(chan struct{})
	go func() {
		release2, err := m.Acquire(ctx, "room-2")
		if err == nil {
			release2()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("room-2 acquire blocked behind room-1")
	}
}

func TestLockManagerAcquireContextCancel(t *testing.T) {
	m := newLockManager(0)
	release, err := m.Acquire(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "room-1"); err != context.DeadlineExceeded {
		t.Errorf("contended acquire err = %v, want DeadlineExceeded", err)
	}
}

func TestLockManagerEvictsOnlyIdleLocks(t *testing.T) {
	m := newLockManager(2)
	ctx := context.Background()

	release, err := m.Acquire(ctx, "held")
	if err != nil {
		t.Fatalf("acquire held: %v", err)
	}

	// fill past capacity with idle locks; the held one must survive
	for _, id := range []string{"idle-1", "idle-2", "idle-3"} {
		r, err := m.Acquire(ctx, id)
		if err != nil {
			t.Fatalf("acquire %s: %v", id, err)
		}
		r()
	}

	if got := m.size(); got > 3 {
		t.Errorf("tracked locks = %d, want <= 3", got)
	}
	m.mu.Lock()
	_, stillTracked := m.locks["held"]
	m.mu.Unlock()
	if !stillTracked {
		t.Error("held lock was evicted")
	}
	release()
}

func TestLockManagerReacquireAfterRelease(t *testing.T) {
	m := newLockManager(0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		release, err := m.Acquire(ctx, "room-1")
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		release()
	}
}
