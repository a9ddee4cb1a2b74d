package parley

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// channelRegistry maps registered channel ids to their adapters and the
// per-channel delivery guards (breaker, limiter). Channel ids are globally
// unique across the orchestrator.
type channelRegistry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	breakers map[string]*CircuitBreaker
	limiters map[string]*RateLimiter
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{
		channels: make(map[string]Channel),
		breakers: make(map[string]*CircuitBreaker),
		limiters: make(map[string]*RateLimiter),
	}
}

func (r *channelRegistry) register(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[ch.ID()]; ok {
		return ErrChannelRegistered
	}
	r.channels[ch.ID()] = ch
	return nil
}

func (r *channelRegistry) unregister(id string) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		return nil, ErrChannelUnknown
	}
	delete(r.channels, id)
	delete(r.breakers, id)
	delete(r.limiters, id)
	return ch, nil
}

func (r *channelRegistry) get(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// breaker returns the channel's circuit breaker, creating it on first use.
func (r *channelRegistry) breaker(id string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[id]
	if !ok {
		cb = NewCircuitBreaker(0, 0)
		r.breakers[id] = cb
	}
	return cb
}

// limiter returns the channel's rate limiter for the binding's config,
// creating it on first use. A nil return means unlimited.
func (r *channelRegistry) limiter(id string, cfg *RateLimitConfig) *RateLimiter {
	if cfg == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rl, ok := r.limiters[id]
	if !ok {
		rl = NewRateLimiter(cfg)
		r.limiters[id] = rl
	}
	return rl
}

// DeliveryResult reports what happened to one target binding during a
// broadcast.
type DeliveryResult struct {
	ChannelID string `json:"channel_id"`
	Delivered bool   `json:"delivered"`
	// Skipped is set when the binding was filtered out before delivery
	// (access, visibility, transcoding, length policy).
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`
	Err        error  `json:"-"`
}

// broadcastResult aggregates one router pass over a room's bindings.
type broadcastResult struct {
	Deliveries   []DeliveryResult
	Reentry      []RoomEvent
	Tasks        []Task
	Observations []Observation
}

func (b broadcastResult) anyFailed() bool {
	for _, d := range b.Deliveries {
		if d.Err != nil {
			return true
		}
	}
	return false
}

// eventRouter fans a persisted event out to the room's bindings. Per-target
// work runs concurrently; within one target the decision steps are strictly
// sequential.
type eventRouter struct {
	registry *channelRegistry
	events   *FrameworkEvents
	logger   *slog.Logger
}

// broadcast applies the per-target decision tree to every binding in the
// room except the originator (unless the event opted into source delivery).
// Response events from intelligence targets come back on the result with
// ChainDepth and ParentEventID assigned; the caller enforces the depth
// ceiling and enqueues them for the drain loop.
func (rt *eventRouter) broadcast(ctx context.Context, ev RoomEvent, room RoomContext) broadcastResult {
	source, hasSource := room.Binding(ev.Source.ChannelID)
	if hasSource {
		if !source.Access.CanWrite() {
			rt.logger.Debug("source lacks write access, dropping broadcast",
				"room_id", ev.RoomID, "channel_id", source.ChannelID)
			return broadcastResult{}
		}
		if source.Muted {
			rt.logger.Debug("source muted, dropping broadcast",
				"room_id", ev.RoomID, "channel_id", source.ChannelID)
			return broadcastResult{}
		}
	}

	var targets []ChannelBinding
	for _, b := range room.Bindings {
		if b.ChannelID == ev.Source.ChannelID && !ev.AlwaysProcess() {
			continue
		}
		targets = append(targets, b)
	}
	if len(targets) == 0 {
		return broadcastResult{}
	}

	results := make([]broadcastResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range targets {
		i, b := i, b
		g.Go(func() error {
			results[i] = rt.routeToTarget(gctx, ev, b, room)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // per-target failures land in results

	var out broadcastResult
	for _, r := range results {
		out.Deliveries = append(out.Deliveries, r.Deliveries...)
		out.Reentry = append(out.Reentry, r.Reentry...)
		out.Tasks = append(out.Tasks, r.Tasks...)
		out.Observations = append(out.Observations, r.Observations...)
	}
	if out.anyFailed() {
		rt.events.Emit(FrameworkEvent{
			Name:   FEBroadcastPartialFailure,
			RoomID: ev.RoomID,
			Data:   map[string]any{"event_id": ev.ID},
		})
	}
	return out
}

// routeToTarget runs the sequential decision steps for one binding.
func (rt *eventRouter) routeToTarget(ctx context.Context, ev RoomEvent, b ChannelBinding, room RoomContext) broadcastResult {
	skip := func(reason string) broadcastResult {
		return broadcastResult{Deliveries: []DeliveryResult{{
			ChannelID: b.ChannelID, Skipped: true, SkipReason: reason,
		}}}
	}

	if !b.Access.CanRead() {
		return skip("no_read_access")
	}

	visible := visibilityAllows(ev.Visibility, b)
	// Hidden events still feed intelligence observers; only transport
	// delivery honors "none".
	observeOnly := !visible && b.Category == CategoryIntelligence && ev.Visibility == VisibilityNone
	if !visible && !observeOnly {
		return skip("visibility")
	}

	content, err := Transcode(ev.Content, b.Capabilities)
	if err != nil {
		rt.events.Emit(FrameworkEvent{
			Name:      FETranscodingFailed,
			RoomID:    ev.RoomID,
			ChannelID: b.ChannelID,
			Data:      map[string]any{"event_id": ev.ID, "kind": string(ev.Content.Kind)},
		})
		return skip("not_transcodable")
	}
	if max := b.Capabilities.MaxLength; max > 0 && content.Kind == KindText && len([]rune(content.Text)) > max {
		if reject, _ := b.Metadata[MetaRejectOverLength].(bool); reject {
			return skip("over_length")
		}
		content = TruncateText(content, max)
	}
	targetEv := ev
	targetEv.Content = content

	ch, ok := rt.registry.get(b.ChannelID)
	if !ok {
		return skip("channel_unregistered")
	}

	var out broadcastResult
	if obs, ok := ch.(EventObserver); ok {
		reaction, err := obs.OnEvent(ctx, targetEv, b, room)
		if err != nil {
			rt.logger.Warn("on_event failed",
				"room_id", ev.RoomID, "channel_id", b.ChannelID, "error", err)
		}
		out.Tasks = append(out.Tasks, reaction.Tasks...)
		out.Observations = append(out.Observations, reaction.Observations...)
		if b.Category == CategoryIntelligence {
			if b.Muted {
				// mute silences the voice, not the brain: tasks and
				// observations above are kept, responses dropped
				if len(reaction.ResponseEvents) > 0 {
					rt.logger.Debug("muted intelligence responses discarded",
						"room_id", ev.RoomID, "channel_id", b.ChannelID,
						"count", len(reaction.ResponseEvents))
				}
			} else {
				for _, resp := range reaction.ResponseEvents {
					resp.RoomID = ev.RoomID
					resp.ChainDepth = ev.ChainDepth + 1
					resp.ParentEventID = ev.ID
					if resp.CorrelationID == "" {
						resp.CorrelationID = ev.CorrelationID
					}
					out.Reentry = append(out.Reentry, resp)
				}
			}
		}
	}

	if b.Category != CategoryTransport {
		out.Deliveries = append(out.Deliveries, DeliveryResult{ChannelID: b.ChannelID, Skipped: true, SkipReason: "not_transport"})
		return out
	}
	if b.Direction == DirectionInbound {
		out.Deliveries = append(out.Deliveries, DeliveryResult{ChannelID: b.ChannelID, Skipped: true, SkipReason: "inbound_only"})
		return out
	}
	// read_only bindings observe the room (visibility and on_event above)
	// but are never delivered to.
	if b.Access == AccessReadOnly {
		out.Deliveries = append(out.Deliveries, DeliveryResult{ChannelID: b.ChannelID, Skipped: true, SkipReason: "read_only"})
		return out
	}
	transport, ok := ch.(Transport)
	if !ok {
		out.Deliveries = append(out.Deliveries, DeliveryResult{ChannelID: b.ChannelID, Skipped: true, SkipReason: "not_deliverable"})
		return out
	}

	out.Deliveries = append(out.Deliveries, rt.deliver(ctx, transport, targetEv, b, room))
	return out
}

// deliver pushes the event through the channel's circuit breaker, then the
// rate limiter, then the binding's retry policy. Breaker accounting covers
// the whole attempt chain: one exhausted retry run counts as one failure.
func (rt *eventRouter) deliver(ctx context.Context, transport Transport, ev RoomEvent, b ChannelBinding, room RoomContext) DeliveryResult {
	breaker := rt.registry.breaker(b.ChannelID)
	limiter := rt.registry.limiter(b.ChannelID, b.RateLimit)
	policy := DefaultRetryPolicy()
	if b.RetryPolicy != nil {
		policy = *b.RetryPolicy
	}

	err := breaker.Run(ctx, func(ctx context.Context) error {
		if err := limiter.Acquire(ctx); err != nil {
			return err
		}
		return retryDo(ctx, policy, rt.logger, func(ctx context.Context) error {
			return transport.Deliver(ctx, ev, b, room)
		})
	})
	if err != nil {
		name := FEDeliveryFailed
		if errors.Is(err, ErrCircuitOpen) {
			rt.logger.Debug("delivery short-circuited",
				"room_id", ev.RoomID, "channel_id", b.ChannelID)
		} else {
			rt.logger.Warn("delivery failed",
				"room_id", ev.RoomID, "channel_id", b.ChannelID, "error", err)
		}
		rt.events.Emit(FrameworkEvent{
			Name:      name,
			RoomID:    ev.RoomID,
			ChannelID: b.ChannelID,
			Data:      map[string]any{"event_id": ev.ID, "error": err.Error()},
		})
		return DeliveryResult{ChannelID: b.ChannelID, Err: err}
	}
	rt.events.Emit(FrameworkEvent{
		Name:      FEDeliverySucceeded,
		RoomID:    ev.RoomID,
		ChannelID: b.ChannelID,
		Data:      map[string]any{"event_id": ev.ID},
	})
	return DeliveryResult{ChannelID: b.ChannelID, Delivered: true}
}

// visibilityAllows evaluates an event's visibility against a target
// binding: "all" (or empty) matches everything, "none" matches nothing,
// "transport"/"intelligence" match the category, anything else is a
// comma-separated set of channel ids.
func visibilityAllows(v string, b ChannelBinding) bool {
	switch v {
	case "", VisibilityAll:
		return true
	case VisibilityNone:
		return false
	case VisibilityTransport:
		return b.Category == CategoryTransport
	case VisibilityIntelligence:
		return b.Category == CategoryIntelligence
	}
	for _, id := range strings.Split(v, ",") {
		if strings.TrimSpace(id) == b.ChannelID {
			return true
		}
	}
	return false
}
