package parley

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FrameworkHandler observes an internal transition. Handlers run on their
// own goroutine under a per-handler timeout; a panic is recovered and
// logged.
type FrameworkHandler func(ctx context.Context, ev FrameworkEvent)

const defaultHandlerTimeout = 2 * time.Second

type frameworkSub struct {
	id string
	fn FrameworkHandler
}

// FrameworkEvents is the observability stream for internal transitions
// (room lifecycle, delivery outcomes, hook errors). It is separate from
// RoomEvents and nothing on it is persisted. Emission is fire-and-forget;
// a slow or failing handler never stalls the pipeline.
type FrameworkEvents struct {
	mu       sync.RWMutex
	handlers map[string][]frameworkSub // event name -> subscribers
	timeout  time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewFrameworkEvents creates an emitter. A nil logger discards.
func NewFrameworkEvents(logger *slog.Logger) *FrameworkEvents {
	if logger == nil {
		logger = nopLogger
	}
	return &FrameworkEvents{
		handlers: make(map[string][]frameworkSub),
		timeout:  defaultHandlerTimeout,
		logger:   logger,
	}
}

// On registers a handler for the named event and returns a handle for Off.
// The empty name subscribes to every event.
func (f *FrameworkEvents) On(name string, fn FrameworkHandler) string {
	id := NewID()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], frameworkSub{id: id, fn: fn})
	return id
}

// Off removes a previously registered handler. Unknown ids are a no-op.
func (f *FrameworkEvents) Off(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, subs := range f.handlers {
		for i, s := range subs {
			if s.id == id {
				f.handlers[name] = append(subs[:i], subs[i+1:]...)
				if len(f.handlers[name]) == 0 {
					delete(f.handlers, name)
				}
				return
			}
		}
	}
}

// Emit dispatches the event to all handlers registered for its name (and to
// wildcard handlers), each on its own goroutine.
func (f *FrameworkEvents) Emit(ev FrameworkEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = NowUnix()
	}
	f.mu.RLock()
	subs := append([]frameworkSub(nil), f.handlers[ev.Name]...)
	subs = append(subs, f.handlers[""]...)
	f.mu.RUnlock()

	for _, s := range subs {
		s := s
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					f.logger.Error("framework event handler panicked",
						"event", ev.Name,
						"panic", r)
				}
			}()
			s.fn(ctx, ev)
		}()
	}
}

// Wait blocks until all in-flight handler goroutines return. Used in tests
// and during shutdown.
func (f *FrameworkEvents) Wait() { f.wg.Wait() }
