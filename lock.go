package parley

import (
	"container/list"
	"context"
	"sync"
)

const defaultLockCapacity = 1024

// roomLock is a channel-based mutex with a waiter count, so the manager can
// tell whether anyone holds or wants the lock before evicting it.
type roomLock struct {
	ch      chan struct{} // buffered 1; token present = unlocked
	waiters int
	elem    *list.Element
}

// lockManager hands out per-room exclusive sections. Lock entries are kept
// in an LRU of bounded capacity; only idle entries (not held, no waiters)
// are evicted, so a lock that is in use is never recycled under its holder.
type lockManager struct {
	mu       sync.Mutex
	capacity int
	locks    map[string]*roomLock
	order    *list.List // front = most recently used, values are room ids
}

func newLockManager(capacity int) *lockManager {
	if capacity <= 0 {
		capacity = defaultLockCapacity
	}
	return &lockManager{
		capacity: capacity,
		locks:    make(map[string]*roomLock),
		order:    list.New(),
	}
}

// Acquire blocks until the room's exclusive section is entered or ctx is
// done. On success it returns a release func that must be called exactly
// once.
func (m *lockManager) Acquire(ctx context.Context, roomID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[roomID]
	if !ok {
		l = &roomLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{}
		l.elem = m.order.PushFront(roomID)
		m.locks[roomID] = l
		m.evictIdle()
	} else {
		m.order.MoveToFront(l.elem)
	}
	l.waiters++
	m.mu.Unlock()

	select {
	case <-l.ch:
		m.mu.Lock()
		l.waiters--
		m.mu.Unlock()
		return func() { l.ch <- struct{}{} }, nil
	case <-ctx.Done():
		m.mu.Lock()
		l.waiters--
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

// evictIdle trims the LRU past capacity, skipping entries that are held or
// contended. Caller holds m.mu.
func (m *lockManager) evictIdle() {
	for e := m.order.Back(); e != nil && len(m.locks) > m.capacity; {
		prev := e.Prev()
		roomID := e.Value.(string)
		l := m.locks[roomID]
		if l.waiters == 0 && len(l.ch) == 1 {
			m.order.Remove(e)
			delete(m.locks, roomID)
		}
		e = prev
	}
}

// size reports the number of tracked locks. Used by tests.
func (m *lockManager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
