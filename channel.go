package parley

import "context"

// RoomContext is the read-only room snapshot passed to channel adapters
// and hooks.
type RoomContext struct {
	Room     Room
	Bindings []ChannelBinding
}

// Binding returns the binding for the given channel id, if present.
func (rc RoomContext) Binding(channelID string) (ChannelBinding, bool) {
	for _, b := range rc.Bindings {
		if b.ChannelID == channelID {
			return b, true
		}
	}
	return ChannelBinding{}, false
}

// Channel is an adapter to an external communication endpoint (SMS, email,
// websocket, AI model, voice stream, ...). Implementations own their
// provider connections and release them in Close.
type Channel interface {
	// ID returns the globally unique channel identifier.
	ID() string
	// ChannelType names the endpoint kind ("sms", "email", "websocket", ...).
	ChannelType() string
	// Category reports whether the channel transports events outward or
	// reacts to them with new events.
	Category() Category
	// Direction reports which way messages flow on this channel.
	Direction() Direction
	// Capabilities declares the renderable content kinds, limits, and flags.
	Capabilities() Capabilities
	// HandleInbound converts an external message into the canonical RoomEvent.
	// The returned event's Index, Status, and ChainDepth are assigned by the
	// pipeline, not the adapter.
	HandleInbound(ctx context.Context, msg InboundMessage, room RoomContext) (RoomEvent, error)
	// Close releases provider resources.
	Close() error
}

// Transport is a Channel that can push events to its external endpoint.
// Deliver is invoked by the event router under the binding's circuit
// breaker, rate limiter, and retry policy.
type Transport interface {
	Channel
	Deliver(ctx context.Context, ev RoomEvent, binding ChannelBinding, room RoomContext) error
}

// Reaction is what a channel produced in response to observing an event.
// ResponseEvents from intelligence channels re-enter the pipeline within
// bounded chain depth; Tasks and Observations are persisted regardless of
// the binding's mute state.
type Reaction struct {
	ResponseEvents []RoomEvent
	Tasks          []Task
	Observations   []Observation
}

// EventObserver is the optional reactive half of a channel. Intelligence
// channels implement it as their primary behavior; transports may implement
// it for side effects (the default is a no-op). OnEvent is invoked for
// every event the binding is eligible to see, including events whose
// visibility suppresses transport delivery.
type EventObserver interface {
	OnEvent(ctx context.Context, ev RoomEvent, binding ChannelBinding, room RoomContext) (Reaction, error)
}

// Intelligence is a Channel that reacts to events by producing new events,
// typically an AI model backend. Per-room knobs (system prompt, temperature,
// tool list) live in the binding's Metadata and are read at each invocation.
type Intelligence interface {
	Channel
	EventObserver
}
