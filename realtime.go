package parley

import (
	"log/slog"
	"sync"
)

// EphemeralHandler receives published ephemeral events for a subscribed
// room. Handlers run on the publisher's goroutine; keep them short.
type EphemeralHandler func(ev EphemeralEvent)

// RealtimeBus fans out ephemeral events (typing, presence, read receipts)
// to per-room subscribers without persisting anything. The in-process
// implementation is NewMemoryBus; the interface allows a remote pub/sub
// backend to be swapped in.
type RealtimeBus interface {
	Publish(roomID string, ev EphemeralEvent)
	Subscribe(roomID string, fn EphemeralHandler) (subscriptionID string)
	Unsubscribe(subscriptionID string)
	Close() error
}

type subscription struct {
	roomID string
	fn     EphemeralHandler
}

// memoryBus is the in-process RealtimeBus. Delivery to a single subscriber
// preserves publish order; handler panics are recovered and logged.
type memoryBus struct {
	mu     sync.RWMutex
	subs   map[string]subscription // subscription id -> sub
	byRoom map[string][]string     // roomID -> subscription ids
	closed bool
	logger *slog.Logger
}

// NewMemoryBus creates an in-process realtime bus. A nil logger discards.
func NewMemoryBus(logger *slog.Logger) RealtimeBus {
	if logger == nil {
		logger = nopLogger
	}
	return &memoryBus{
		subs:   make(map[string]subscription),
		byRoom: make(map[string][]string),
		logger: logger,
	}
}

func (b *memoryBus) Publish(roomID string, ev EphemeralEvent) {
	b.mu.RLock()
	ids := append([]string(nil), b.byRoom[roomID]...)
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}
	for _, id := range ids {
		b.mu.RLock()
		sub, ok := b.subs[id]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		b.deliver(sub, ev)
	}
}

func (b *memoryBus) deliver(sub subscription, ev EphemeralEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("realtime subscriber panicked",
				"room_id", sub.roomID,
				"event_type", ev.Type,
				"panic", r)
		}
	}()
	sub.fn(ev)
}

func (b *memoryBus) Subscribe(roomID string, fn EphemeralHandler) string {
	id := NewID()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return id
	}
	b.subs[id] = subscription{roomID: roomID, fn: fn}
	b.byRoom[roomID] = append(b.byRoom[roomID], id)
	return id
}

func (b *memoryBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	ids := b.byRoom[sub.roomID]
	for i, v := range ids {
		if v == id {
			b.byRoom[sub.roomID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(b.byRoom[sub.roomID]) == 0 {
		delete(b.byRoom, sub.roomID)
	}
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]subscription)
	b.byRoom = make(map[string][]string)
	return nil
}

var _ RealtimeBus = (*memoryBus)(nil)
