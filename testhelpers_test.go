package parley

import (
	"context"
	"sync"
	"time"
)

// fakeTransport is a scriptable transport channel. Deliveries are recorded;
// deliverErr (when set) fails every Deliver call.
type fakeTransport struct {
	id       string
	chanType string
	caps     Capabilities

	mu         sync.Mutex
	delivered  []RoomEvent
	deliverErr error
	closed     bool
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id, chanType: "fake", caps: TextCapabilities()}
}

func (f *fakeTransport) ID() string                 { return f.id }
func (f *fakeTransport) ChannelType() string        { return f.chanType }
func (f *fakeTransport) Category() Category         { return CategoryTransport }
func (f *fakeTransport) Direction() Direction       { return DirectionBidirectional }
func (f *fakeTransport) Capabilities() Capabilities { return f.caps }

func (f *fakeTransport) HandleInbound(_ context.Context, msg InboundMessage, _ RoomContext) (RoomEvent, error) {
	return RoomEvent{
		Type:    EventMessage,
		Content: msg.Content,
		Source: EventSource{
			ChannelID:   f.id,
			ChannelType: f.chanType,
			Direction:   DirectionInbound,
		},
	}, nil
}

func (f *fakeTransport) Deliver(_ context.Context, ev RoomEvent, _ ChannelBinding, _ RoomContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.delivered = append(f.delivered, ev)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) deliveries() []RoomEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RoomEvent(nil), f.delivered...)
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliverErr = err
}

// fakeIntelligence is a scriptable intelligence channel. respond (when set)
// produces the reaction for each observed event.
type fakeIntelligence struct {
	id      string
	respond func(ev RoomEvent) Reaction

	mu   sync.Mutex
	seen []RoomEvent
}

func newFakeIntelligence(id string, respond func(ev RoomEvent) Reaction) *fakeIntelligence {
	return &fakeIntelligence{id: id, respond: respond}
}

func (f *fakeIntelligence) ID() string          { return f.id }
func (f *fakeIntelligence) ChannelType() string { return "model" }
func (f *fakeIntelligence) Category() Category  { return CategoryIntelligence }
func (f *fakeIntelligence) Direction() Direction {
	return DirectionBidirectional
}
func (f *fakeIntelligence) Capabilities() Capabilities { return TextCapabilities() }

func (f *fakeIntelligence) HandleInbound(_ context.Context, msg InboundMessage, _ RoomContext) (RoomEvent, error) {
	return RoomEvent{Type: EventMessage, Content: msg.Content}, nil
}

func (f *fakeIntelligence) OnEvent(_ context.Context, ev RoomEvent, _ ChannelBinding, _ RoomContext) (Reaction, error) {
	f.mu.Lock()
	f.seen = append(f.seen, ev)
	f.mu.Unlock()
	if f.respond == nil {
		return Reaction{}, nil
	}
	return f.respond(ev), nil
}

func (f *fakeIntelligence) Close() error { return nil }

func (f *fakeIntelligence) observed() []RoomEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RoomEvent(nil), f.seen...)
}

// frameworkSink records framework events for assertions.
type frameworkSink struct {
	mu     sync.Mutex
	events []FrameworkEvent
}

func (s *frameworkSink) attach(events *FrameworkEvents) {
	events.On("", func(_ context.Context, ev FrameworkEvent) {
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
	})
}

func (s *frameworkSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// setupRelay builds an orchestrator with one room and two transport
// bindings A and B, the standard topology for relay tests.
func setupRelay(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, opts ...Option) (*Orchestrator, Room, *fakeTransport, *fakeTransport) {
	t.Helper()
	ctx := context.Background()
	orch := New(NewMemoryStore(), opts...)
	a := newFakeTransport("A")
	b := newFakeTransport("B")
	if err := orch.RegisterChannel(a); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if err := orch.RegisterChannel(b); err != nil {
		t.Fatalf("register B: %v", err)
	}
	room, err := orch.CreateRoom(ctx, Room{})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := orch.AttachChannel(ctx, room.ID, ChannelBinding{ChannelID: "A"}); err != nil {
		t.Fatalf("attach A: %v", err)
	}
	if _, err := orch.AttachChannel(ctx, room.ID, ChannelBinding{ChannelID: "B"}); err != nil {
		t.Fatalf("attach B: %v", err)
	}
	return orch, room, a, b
}
