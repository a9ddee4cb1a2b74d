package parley

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRouter() (*eventRouter, *channelRegistry, *frameworkSink) {
	registry := newChannelRegistry()
	events := NewFrameworkEvents(nil)
	sink := &frameworkSink{}
	sink.attach(events)
	return &eventRouter{registry: registry, events: events, logger: nopLogger}, registry, sink
}

func relayRoom(bindings ...ChannelBinding) RoomContext {
	for i := range bindings {
		if bindings[i].Access == "" {
			bindings[i].Access = AccessReadWrite
		}
		if bindings[i].Category == "" {
			bindings[i].Category = CategoryTransport
		}
		if bindings[i].Direction == "" {
			bindings[i].Direction = DirectionBidirectional
		}
		if len(bindings[i].Capabilities.Content) == 0 {
			bindings[i].Capabilities = TextCapabilities()
		}
	}
	return RoomContext{Room: Room{ID: "r-1", Status: RoomActive}, Bindings: bindings}
}

func sourcedEvent(channelID string) RoomEvent {
	return RoomEvent{
		ID:      NewID(),
		RoomID:  "r-1",
		Type:    EventMessage,
		Content: TextContent("hello"),
		Source:  EventSource{ChannelID: channelID, ChannelType: "fake", Direction: DirectionInbound},
	}
}

func TestBroadcastExcludesSource(t *testing.T) {
	rt, registry, _ := newTestRouter()
	a := newFakeTransport("A")
	b := newFakeTransport("B")
	registry.register(a)
	registry.register(b)
	room := relayRoom(ChannelBinding{ChannelID: "A"}, ChannelBinding{ChannelID: "B"})

	res := rt.broadcast(context.Background(), sourcedEvent("A"), room)

	if len(a.deliveries()) != 0 {
		t.Error("source received its own event")
	}
	if len(b.deliveries()) != 1 {
		t.Fatalf("B deliveries = %d, want 1", len(b.deliveries()))
	}
	if len(res.Deliveries) != 1 || !res.Deliveries[0].Delivered {
		t.Errorf("deliveries = %+v", res.Deliveries)
	}
}

func TestBroadcastAlwaysProcessIncludesSource(t *testing.T) {
	rt, registry, _ := newTestRouter()
	a := newFakeTransport("A")
	registry.register(a)
	room := relayRoom(ChannelBinding{ChannelID: "A"})

	ev := sourcedEvent("A")
	ev.Metadata = map[string]any{MetaAlwaysProcess: true}
	rt.broadcast(context.Background(), ev, room)

	if len(a.deliveries()) != 1 {
		t.Errorf("source deliveries = %d, want 1", len(a.deliveries()))
	}
}

func TestBroadcastDropsWhenSourceCannotWrite(t *testing.T) {
	rt, registry, _ := newTestRouter()
	b := newFakeTransport("B")
	registry.register(b)

	for _, bad := range []ChannelBinding{
		{ChannelID: "A", Access: AccessReadOnly},
		{ChannelID: "A", Muted: true},
	} {
		room := relayRoom(bad, ChannelBinding{ChannelID: "B"})
		res := rt.broadcast(context.Background(), sourcedEvent("A"), room)
		if len(res.Deliveries) != 0 || len(b.deliveries()) != 0 {
			t.Errorf("binding %+v: broadcast not dropped", bad)
		}
	}
}

func TestRouteSkipsTargetWithoutReadAccess(t *testing.T) {
	rt, registry, _ := newTestRouter()
	b := newFakeTransport("B")
	registry.register(b)
	room := relayRoom(ChannelBinding{ChannelID: "A"}, ChannelBinding{ChannelID: "B", Access: AccessWriteOnly})

	res := rt.broadcast(context.Background(), sourcedEvent("A"), room)

	if len(res.Deliveries) != 1 || res.Deliveries[0].SkipReason != "no_read_access" {
		t.Errorf("deliveries = %+v", res.Deliveries)
	}
	if len(b.deliveries()) != 0 {
		t.Error("write-only binding received the event")
	}
}

func TestRouteReadOnlyBindingObservesButNeverDelivered(t *testing.T) {
	rt, registry, _ := newTestRouter()
	b := newFakeTransport("B")
	m := newFakeIntelligence("M", nil)
	registry.register(b)
	registry.register(m)
	room := relayRoom(
		ChannelBinding{ChannelID: "A"},
		ChannelBinding{ChannelID: "B", Access: AccessReadOnly},
		ChannelBinding{ChannelID: "M", Category: CategoryIntelligence, Access: AccessReadOnly},
	)

	res := rt.broadcast(context.Background(), sourcedEvent("A"), room)

	if len(b.deliveries()) != 0 {
		t.Errorf("read_only transport received %d deliveries, want 0", len(b.deliveries()))
	}
	if len(m.observed()) != 1 {
		t.Errorf("read_only intelligence observed %d events, want 1", len(m.observed()))
	}
	for _, d := range res.Deliveries {
		if d.ChannelID == "B" && (!d.Skipped || d.SkipReason != "read_only") {
			t.Errorf("B delivery = %+v, want read_only skip", d)
		}
	}
}

func TestVisibilityAllows(t *testing.T) {
	transport := ChannelBinding{ChannelID: "t-1", Category: CategoryTransport}
	intel := ChannelBinding{ChannelID: "i-1", Category: CategoryIntelligence}
	cases := []struct {
		visibility string
		binding    ChannelBinding
		want       bool
	}{
		{"", transport, true},
		{VisibilityAll, transport, true},
		{VisibilityNone, transport, false},
		{VisibilityNone, intel, false},
		{VisibilityTransport, transport, true},
		{VisibilityTransport, intel, false},
		{VisibilityIntelligence, intel, true},
		{VisibilityIntelligence, transport, false},
		{"t-1", transport, true},
		{"x-9", transport, false},
		{"x-9, t-1", transport, true},
	}
	for _, tc := range cases {
		if got := visibilityAllows(tc.visibility, tc.binding); got != tc.want {
			t.Errorf("visibilityAllows(%q, %s) = %v, want %v", tc.visibility, tc.binding.ChannelID, got, tc.want)
		}
	}
}

func TestVisibilityNoneStillFeedsIntelligence(t *testing.T) {
	rt, registry, _ := newTestRouter()
	b := newFakeTransport("B")
	intel := newFakeIntelligence("AI", nil)
	registry.register(b)
	registry.register(intel)
	room := relayRoom(
		ChannelBinding{ChannelID: "A"},
		ChannelBinding{ChannelID: "B"},
		ChannelBinding{ChannelID: "AI", Category: CategoryIntelligence},
	)

	ev := sourcedEvent("A")
	ev.Visibility = VisibilityNone
	res := rt.broadcast(context.Background(), ev, room)

	if len(b.deliveries()) != 0 {
		t.Error("hidden event delivered to transport")
	}
	if len(intel.observed()) != 1 {
		t.Errorf("intelligence observed %d events, want 1", len(intel.observed()))
	}
	for _, d := range res.Deliveries {
		if d.Delivered {
			t.Errorf("hidden event marked delivered on %s", d.ChannelID)
		}
	}
}

func TestRouteTranscodingFailureSkips(t *testing.T) {
	rt, registry, sink := newTestRouter()
	b := newFakeTransport("B")
	registry.register(b)
	room := relayRoom(ChannelBinding{ChannelID: "A"}, ChannelBinding{ChannelID: "B"})

	ev := sourcedEvent("A")
	ev.Content = SystemContent("maintenance", nil)
	res := rt.broadcast(context.Background(), ev, room)

	if len(res.Deliveries) != 1 || res.Deliveries[0].SkipReason != "not_transcodable" {
		t.Errorf("deliveries = %+v", res.Deliveries)
	}
	if !waitFor(time.Second, func() bool { return sink.count(FETranscodingFailed) == 1 }) {
		t.Error("transcoding_failed framework event not emitted")
	}
}

func TestRouteMaxLengthTruncatesByDefault(t *testing.T) {
	rt, registry, _ := newTestRouter()
	b := newFakeTransport("B")
	b.caps.MaxLength = 5
	registry.register(b)
	room := relayRoom(
		ChannelBinding{ChannelID: "A"},
		ChannelBinding{ChannelID: "B", Capabilities: Capabilities{Content: []ContentKind{KindText}, MaxLength: 5}},
	)

	ev := sourcedEvent("A")
	ev.Content = TextContent("hello world")
	rt.broadcast(context.Background(), ev, room)

	got := b.deliveries()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].Content.Text != "hell…" {
		t.Errorf("delivered text = %q, want hell…", got[0].Content.Text)
	}
}

func TestRouteMaxLengthRejectPolicy(t *testing.T) {
	rt, registry, _ := newTestRouter()
	b := newFakeTransport("B")
	registry.register(b)
	room := relayRoom(
		ChannelBinding{ChannelID: "A"},
		ChannelBinding{
			ChannelID:    "B",
			Capabilities: Capabilities{Content: []ContentKind{KindText}, MaxLength: 5},
			Metadata:     map[string]any{MetaRejectOverLength: true},
		},
	)

	ev := sourcedEvent("A")
	ev.Content = TextContent("hello world")
	res := rt.broadcast(context.Background(), ev, room)

	if len(res.Deliveries) != 1 || res.Deliveries[0].SkipReason != "over_length" {
		t.Errorf("deliveries = %+v", res.Deliveries)
	}
	if len(b.deliveries()) != 0 {
		t.Error("over-length event still delivered")
	}
}

func TestRouteUnregisteredChannelSkips(t *testing.T) {
	rt, _, _ := newTestRouter()
	room := relayRoom(ChannelBinding{ChannelID: "A"}, ChannelBinding{ChannelID: "gone"})

	res := rt.broadcast(context.Background(), sourcedEvent("A"), room)

	if len(res.Deliveries) != 1 || res.Deliveries[0].SkipReason != "channel_unregistered" {
		t.Errorf("deliveries = %+v", res.Deliveries)
	}
}

func TestIntelligenceResponsesCarryChainMetadata(t *testing.T) {
	rt, registry, _ := newTestRouter()
	intel := newFakeIntelligence("AI", func(RoomEvent) Reaction {
		return Reaction{ResponseEvents: []RoomEvent{{Type: EventMessage, Content: TextContent("reply")}}}
	})
	registry.register(intel)
	room := relayRoom(
		ChannelBinding{ChannelID: "A"},
		ChannelBinding{ChannelID: "AI", Category: CategoryIntelligence},
	)

	ev := sourcedEvent("A")
	ev.ChainDepth = 2
	ev.CorrelationID = "corr-1"
	res := rt.broadcast(context.Background(), ev, room)

	if len(res.Reentry) != 1 {
		t.Fatalf("reentry = %d, want 1", len(res.Reentry))
	}
	resp := res.Reentry[0]
	if resp.ChainDepth != 3 {
		t.Errorf("chain depth = %d, want 3", resp.ChainDepth)
	}
	if resp.ParentEventID != ev.ID {
		t.Errorf("parent = %s, want %s", resp.ParentEventID, ev.ID)
	}
	if resp.CorrelationID != "corr-1" {
		t.Errorf("correlation = %s, want corr-1", resp.CorrelationID)
	}
	if resp.RoomID != ev.RoomID {
		t.Errorf("room = %s, want %s", resp.RoomID, ev.RoomID)
	}
}

func TestMutedIntelligenceKeepsSideEffectsDropsResponses(t *testing.T) {
	rt, registry, _ := newTestRouter()
	intel := newFakeIntelligence("AI", func(RoomEvent) Reaction {
		return Reaction{
			ResponseEvents: []RoomEvent{{Content: TextContent("reply")}},
			Tasks:          []Task{{Payload: map[string]any{"kind": "followup"}}},
			Observations:   []Observation{{Payload: map[string]any{"kind": "sentiment"}}},
		}
	})
	registry.register(intel)
	room := relayRoom(
		ChannelBinding{ChannelID: "A"},
		ChannelBinding{ChannelID: "AI", Category: CategoryIntelligence, Muted: true},
	)

	res := rt.broadcast(context.Background(), sourcedEvent("A"), room)

	if len(res.Reentry) != 0 {
		t.Errorf("muted intelligence produced %d reentry events", len(res.Reentry))
	}
	if len(res.Tasks) != 1 || len(res.Observations) != 1 {
		t.Errorf("side effects = %d tasks, %d observations, want 1 each", len(res.Tasks), len(res.Observations))
	}
}

func TestDeliverRetriesThenFails(t *testing.T) {
	rt, registry, sink := newTestRouter()
	b := newFakeTransport("B")
	b.failWith(errors.New("gateway 502"))
	registry.register(b)
	fastRetry := &RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	room := relayRoom(
		ChannelBinding{ChannelID: "A"},
		ChannelBinding{ChannelID: "B", RetryPolicy: fastRetry},
	)

	res := rt.broadcast(context.Background(), sourcedEvent("A"), room)

	if len(res.Deliveries) != 1 || res.Deliveries[0].Err == nil {
		t.Fatalf("deliveries = %+v", res.Deliveries)
	}
	if !res.anyFailed() {
		t.Error("anyFailed = false")
	}
	if !waitFor(time.Second, func() bool {
		return sink.count(FEDeliveryFailed) == 1 && sink.count(FEBroadcastPartialFailure) == 1
	}) {
		t.Error("failure framework events not emitted")
	}
}

func TestDeliverOpensBreakerAfterRepeatedFailures(t *testing.T) {
	rt, registry, _ := newTestRouter()
	b := newFakeTransport("B")
	b.failWith(errors.New("gateway down"))
	registry.register(b)
	noRetry := &RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	room := relayRoom(
		ChannelBinding{ChannelID: "A"},
		ChannelBinding{ChannelID: "B", RetryPolicy: noRetry},
	)

	// one exhausted run counts as one breaker failure
	for i := 0; i < defaultFailureThreshold; i++ {
		rt.broadcast(context.Background(), sourcedEvent("A"), room)
	}
	if state := registry.breaker("B").State(); state != BreakerOpen {
		t.Fatalf("breaker state = %s, want open", state)
	}

	res := rt.broadcast(context.Background(), sourcedEvent("A"), room)
	if len(res.Deliveries) != 1 || !errors.Is(res.Deliveries[0].Err, ErrCircuitOpen) {
		t.Errorf("deliveries = %+v, want ErrCircuitOpen", res.Deliveries)
	}
}
