// Package parley is a multi-channel conversation orchestration core for Go.
//
// It coordinates rooms in which heterogeneous channels participate: SMS,
// email, and websocket transports push events outward, while intelligence
// channels (typically AI model backends) react to events by producing new
// ones. Every message becomes a canonical RoomEvent, flows through a
// hook pipeline, is persisted with a gap-free per-room index, and is fanned
// out to the room's bindings under per-channel circuit breakers, rate
// limits, and retry policies.
//
// # Quick Start
//
// Create an orchestrator on a store, register channels, and feed it
// inbound messages:
//
//	orch := parley.New(parley.NewMemoryStore(),
//		parley.WithLogger(logger),
//		parley.WithMaxChainDepth(3),
//	)
//	orch.RegisterChannel(smsAdapter)
//	orch.RegisterChannel(modelAdapter)
//
//	orch.Hooks().Register(parley.HookRegistration{
//		Name:    "profanity",
//		Trigger: parley.TriggerBeforeBroadcast,
//		Fn:      parley.NewKeywordBlocker("spam").Hook(),
//	})
//
//	outcome, err := orch.ProcessInbound(ctx, parley.InboundMessage{
//		ChannelID: "sms-1",
//		Content:   parley.TextContent("hello"),
//	})
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Channel]: adapter to an external endpoint; [Transport] delivers
//     outward, [Intelligence] reacts with response events
//   - [Store]: persistence of rooms, events, bindings, participants,
//     identities, tasks, and observations
//   - [InboundRouter]: inbound message to room resolution
//   - [IdentityResolver]: sender address to identity mapping
//   - [RealtimeBus]: ephemeral typing/presence/read-receipt pub/sub
//   - [Tracer]: span creation for pipeline operations
//
// # Included Implementations
//
// Storage: NewMemoryStore (in-process reference), store/postgres (pgx).
// Observability: observer (OTEL tracer and metric instruments).
// Hooks: KeywordBlocker, LengthLimiter.
//
// Response events from intelligence channels re-enter the pipeline within
// a bounded chain depth, so two models talking to each other cannot loop
// forever.
package parley
