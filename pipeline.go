package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultMaxChainDepth  = 10
	defaultProcessTimeout = 30 * time.Second
)

// Orchestrator is the conversation core: it owns the channel registry,
// routes inbound messages to rooms, runs the hook pipeline, persists
// events, and fans them out to the room's bindings. One Orchestrator
// serves many rooms concurrently; per-room work is serialized through the
// lock manager.
type Orchestrator struct {
	store    Store
	locks    *lockManager
	hooks    *HookRegistry
	registry *channelRegistry
	router   *eventRouter
	inbound  InboundRouter
	identity *identityPipeline
	bus      RealtimeBus
	events   *FrameworkEvents
	gate     *processGate
	logger   *slog.Logger
	tracer   Tracer

	maxChainDepth   int
	processTimeout  time.Duration
	autoCreateRooms bool
	lockCapacity    int
	maxConcurrent   int64

	identityResolver     IdentityResolver
	identityTimeout      time.Duration
	identityChannelTypes []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the span tracer (see observer.NewTracer).
func WithTracer(t Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMaxChainDepth bounds reentry generations. 0 blocks all reentry.
func WithMaxChainDepth(depth int) Option {
	return func(o *Orchestrator) { o.maxChainDepth = depth }
}

// WithProcessTimeout bounds how long one inbound message may hold a room's
// exclusive section.
func WithProcessTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.processTimeout = d }
}

// WithInboundRouter replaces the default store-backed room resolution.
func WithInboundRouter(r InboundRouter) Option {
	return func(o *Orchestrator) { o.inbound = r }
}

// WithAutoCreateRooms controls whether unroutable inbound messages
// materialize a new room (default true). When disabled they fail with
// ErrRoutingFailed.
func WithAutoCreateRooms(enabled bool) Option {
	return func(o *Orchestrator) { o.autoCreateRooms = enabled }
}

// WithIdentityResolver enables the identity pipeline for inbound senders.
func WithIdentityResolver(r IdentityResolver) Option {
	return func(o *Orchestrator) { o.identityResolver = r }
}

// WithIdentityTimeout bounds one resolver invocation (default 10s).
// Timeout degrades the result to unknown, it never fails the event.
func WithIdentityTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.identityTimeout = d }
}

// WithIdentityChannelTypes restricts identity resolution to the listed
// channel types. Empty means all.
func WithIdentityChannelTypes(types ...string) Option {
	return func(o *Orchestrator) { o.identityChannelTypes = types }
}

// WithRealtimeBus replaces the in-process ephemeral bus.
func WithRealtimeBus(bus RealtimeBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithLockCapacity sizes the per-room lock registry (default 1024).
func WithLockCapacity(n int) Option {
	return func(o *Orchestrator) { o.lockCapacity = n }
}

// WithMaxConcurrent bounds concurrent ProcessInbound runs across all rooms.
// 0 means unbounded.
func WithMaxConcurrent(n int64) Option {
	return func(o *Orchestrator) { o.maxConcurrent = n }
}

// New creates an Orchestrator on the given store.
func New(store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:           store,
		hooks:           NewHookRegistry(),
		registry:        newChannelRegistry(),
		maxChainDepth:   defaultMaxChainDepth,
		processTimeout:  defaultProcessTimeout,
		autoCreateRooms: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = nopLogger
	}
	o.events = NewFrameworkEvents(o.logger)
	o.locks = newLockManager(o.lockCapacity)
	o.gate = newProcessGate(o.maxConcurrent)
	if o.inbound == nil {
		o.inbound = NewStoreRouter(store)
	}
	if o.bus == nil {
		o.bus = NewMemoryBus(o.logger)
	}
	o.router = &eventRouter{registry: o.registry, events: o.events, logger: o.logger}
	o.identity = &identityPipeline{
		resolver:     o.identityResolver,
		hooks:        o.hooks,
		events:       o.events,
		timeout:      o.identityTimeout,
		channelTypes: o.identityChannelTypes,
	}
	return o
}

// Hooks exposes the hook registry for registration.
func (o *Orchestrator) Hooks() *HookRegistry { return o.hooks }

// Events exposes the framework event stream.
func (o *Orchestrator) Events() *FrameworkEvents { return o.events }

// Realtime exposes the ephemeral pub/sub bus.
func (o *Orchestrator) Realtime() RealtimeBus { return o.bus }

// Store exposes the backing store.
func (o *Orchestrator) Store() Store { return o.store }

// Close releases the bus and all registered channels.
func (o *Orchestrator) Close() error {
	var firstErr error
	o.registry.mu.Lock()
	for id, ch := range o.registry.channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close channel %s: %w", id, err)
		}
	}
	o.registry.channels = make(map[string]Channel)
	o.registry.mu.Unlock()
	if err := o.bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	o.events.Wait()
	return firstErr
}

// --- Channel registry ---

// RegisterChannel makes a channel adapter available for attachment and
// delivery. Channel ids are globally unique; re-registration fails with
// ErrChannelRegistered.
func (o *Orchestrator) RegisterChannel(ch Channel) error {
	if err := o.registry.register(ch); err != nil {
		return err
	}
	o.logger.Info("channel registered",
		"channel_id", ch.ID(),
		"channel_type", ch.ChannelType(),
		"category", string(ch.Category()))
	return nil
}

// UnregisterChannel removes a channel adapter and closes it. Bindings that
// reference it stop receiving deliveries until a channel with the same id
// is registered again.
func (o *Orchestrator) UnregisterChannel(id string) error {
	ch, err := o.registry.unregister(id)
	if err != nil {
		return err
	}
	return ch.Close()
}

// --- Room lifecycle ---

// CreateRoom persists a new active room. Zero-valued fields are filled in
// (id, timestamps, empty-room index sentinel).
func (o *Orchestrator) CreateRoom(ctx context.Context, room Room) (Room, error) {
	if room.ID == "" {
		room.ID = NewID()
	}
	if room.Status == "" {
		room.Status = RoomActive
	}
	now := NowUnix()
	if room.CreatedAt == 0 {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	room.LatestIndex = -1
	room.EventCount = 0
	if err := o.store.CreateRoom(ctx, room); err != nil {
		return Room{}, storeErr("create room", err)
	}
	o.events.Emit(FrameworkEvent{Name: FERoomCreated, RoomID: room.ID})
	o.logger.Info("room created", "room_id", room.ID)
	return room, nil
}

// CloseRoom transitions a room to closed. Inbound events routed to it are
// rejected from then on. Closing a closed room is a no-op.
func (o *Orchestrator) CloseRoom(ctx context.Context, roomID string) error {
	room, err := o.store.GetRoom(ctx, roomID)
	if err != nil {
		return storeErr("get room", err)
	}
	if room.Status == RoomClosed {
		return nil
	}
	now := NowUnix()
	room.Status = RoomClosed
	room.ClosedAt = now
	room.UpdatedAt = now
	if err := o.store.UpdateRoom(ctx, room); err != nil {
		return storeErr("update room", err)
	}
	o.events.Emit(FrameworkEvent{Name: FERoomClosed, RoomID: roomID})
	o.logger.Info("room closed", "room_id", roomID)
	return nil
}

// AttachChannel binds a registered channel to a room. Binding fields left
// zero are filled from the channel's own declaration.
func (o *Orchestrator) AttachChannel(ctx context.Context, roomID string, b ChannelBinding) (ChannelBinding, error) {
	ch, ok := o.registry.get(b.ChannelID)
	if !ok {
		return ChannelBinding{}, ErrChannelUnknown
	}
	if _, err := o.store.GetRoom(ctx, roomID); err != nil {
		return ChannelBinding{}, storeErr("get room", err)
	}
	b.RoomID = roomID
	if b.ChannelType == "" {
		b.ChannelType = ch.ChannelType()
	}
	if b.Category == "" {
		b.Category = ch.Category()
	}
	if b.Direction == "" {
		b.Direction = ch.Direction()
	}
	if b.Access == "" {
		b.Access = AccessReadWrite
	}
	if b.Visibility == "" {
		b.Visibility = VisibilityAll
	}
	if len(b.Capabilities.Content) == 0 {
		b.Capabilities = ch.Capabilities()
	}
	b.AttachedAt = NowUnix()
	b.LastReadIndex = -1
	if err := o.store.AddBinding(ctx, b); err != nil {
		return ChannelBinding{}, storeErr("add binding", err)
	}
	o.events.Emit(FrameworkEvent{Name: FEChannelAttached, RoomID: roomID, ChannelID: b.ChannelID})
	return b, nil
}

// DetachChannel removes a binding from a room. The channel stays
// registered.
func (o *Orchestrator) DetachChannel(ctx context.Context, roomID, channelID string) error {
	if err := o.store.RemoveBinding(ctx, roomID, channelID); err != nil {
		return storeErr("remove binding", err)
	}
	o.events.Emit(FrameworkEvent{Name: FEChannelDetached, RoomID: roomID, ChannelID: channelID})
	return nil
}

// AddParticipant records a participant in a room.
func (o *Orchestrator) AddParticipant(ctx context.Context, p Participant) (Participant, error) {
	if p.ID == "" {
		p.ID = NewID()
	}
	now := NowUnix()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := o.store.AddParticipant(ctx, p); err != nil {
		return Participant{}, storeErr("add participant", err)
	}
	return p, nil
}

// MarkRead advances a binding's read cursor to index.
func (o *Orchestrator) MarkRead(ctx context.Context, roomID, channelID string, index int64) error {
	if err := o.store.MarkRead(ctx, roomID, channelID, index); err != nil {
		return storeErr("mark read", err)
	}
	o.bus.Publish(roomID, EphemeralEvent{
		ID:        NewID(),
		RoomID:    roomID,
		Type:      EphemeralReadReceipt,
		ChannelID: channelID,
		Data:      map[string]any{"index": index},
		Timestamp: NowUnix(),
	})
	return nil
}

// UnreadCount reports events past a binding's read cursor.
func (o *Orchestrator) UnreadCount(ctx context.Context, roomID, channelID string) (int, error) {
	n, err := o.store.UnreadCount(ctx, roomID, channelID)
	if err != nil {
		return 0, storeErr("unread count", err)
	}
	return n, nil
}

// --- Inbound pipeline ---

// ProcessOutcome is the structured result of one inbound message. Blocked
// events and per-target delivery failures are normal outcomes, not errors;
// only store failures and cancellation surface as an error.
type ProcessOutcome struct {
	// Event is the persisted canonical event (also on duplicates).
	Event *RoomEvent
	// Duplicate is set when the idempotency key matched a stored event;
	// nothing new was written or broadcast.
	Duplicate bool
	Blocked   bool
	// BlockedReason and BlockedBy identify the blocking hook or policy.
	BlockedReason string
	BlockedBy     string
	Identity      IdentityResult
	HookErrors    []HookError
	Deliveries    []DeliveryResult
	// ReentryCount is the number of response events that re-entered the
	// pipeline during the drain loop.
	ReentryCount int
}

// ProcessInbound runs one external message through the full pipeline:
// route, convert, resolve identity, lock the room, hook, persist,
// broadcast, drain reentry, side effects.
func (o *Orchestrator) ProcessInbound(ctx context.Context, msg InboundMessage) (ProcessOutcome, error) {
	if err := o.gate.acquire(ctx); err != nil {
		return ProcessOutcome{}, err
	}
	defer o.gate.release()

	var span Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "parley.process_inbound",
			StringAttr("channel_id", msg.ChannelID),
			StringAttr("channel_type", msg.ChannelType))
		defer span.End()
	}

	outcome, err := o.processInbound(ctx, msg)
	if err != nil && span != nil {
		span.Error(err)
	}
	return outcome, err
}

func (o *Orchestrator) processInbound(ctx context.Context, msg InboundMessage) (ProcessOutcome, error) {
	// 1. Route to a room, materializing one if permitted.
	route, err := o.inbound.Resolve(ctx, msg)
	if err != nil {
		return ProcessOutcome{}, err
	}
	roomID := route.RoomID
	if route.Create {
		if !o.autoCreateRooms {
			return ProcessOutcome{}, ErrRoutingFailed
		}
		room, err := o.CreateRoom(ctx, Room{})
		if err != nil {
			return ProcessOutcome{}, err
		}
		if _, err := o.AttachChannel(ctx, room.ID, ChannelBinding{
			ChannelID:     msg.ChannelID,
			ParticipantID: msg.ParticipantID,
		}); err != nil {
			return ProcessOutcome{}, err
		}
		roomID = room.ID
	}

	roomCtx, err := o.loadRoom(ctx, roomID)
	if err != nil {
		return ProcessOutcome{}, err
	}
	if roomCtx.Room.Status == RoomClosed {
		return ProcessOutcome{}, ErrRoomClosed
	}

	// 2. Canonical event via the source channel.
	ch, ok := o.registry.get(msg.ChannelID)
	if !ok {
		return ProcessOutcome{}, ErrChannelUnknown
	}
	ev, err := ch.HandleInbound(ctx, msg, roomCtx)
	if err != nil {
		return ProcessOutcome{}, fmt.Errorf("handle inbound on %s: %w", msg.ChannelID, err)
	}
	o.fillEventDefaults(&ev, roomID, msg)

	// 3. Identity, outside the section; resolver latency must not hold
	// the room.
	idOut := o.identity.run(ctx, ev, roomCtx)
	o.emitHookErrors(idOut.Errors, roomID)

	outcome := ProcessOutcome{Identity: idOut.Result}
	outcome.HookErrors = append(outcome.HookErrors, idOut.Errors...)

	// 4. Exclusive section under the process timeout.
	sctx, cancel := context.WithTimeout(ctx, o.processTimeout)
	defer cancel()
	release, err := o.locks.Acquire(sctx, roomID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.events.Emit(FrameworkEvent{Name: FEProcessTimeout, RoomID: roomID})
		}
		return ProcessOutcome{}, err
	}
	sectionDone := false
	defer func() {
		if !sectionDone {
			release()
		}
	}()

	// 5. Idempotency short-circuit before any new write.
	if ev.IdempotencyKey != "" {
		prior, err := o.store.FindEventByIdempotencyKey(sctx, roomID, ev.IdempotencyKey)
		if err == nil {
			outcome.Event = &prior
			outcome.Duplicate = true
			outcome.Blocked = prior.Status == StatusBlocked
			outcome.BlockedReason = prior.BlockedBy
			return outcome, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return ProcessOutcome{}, storeErr("find idempotency key", err)
		}
	}

	st := &drainState{outcome: &outcome, room: roomCtx}

	// 6. Identity verdict can block the original and inject a challenge.
	if idOut.Block {
		stored, err := o.persistBlocked(sctx, ev, idOut.BlockReason)
		if err != nil {
			return ProcessOutcome{}, err
		}
		outcome.Event = &stored
		outcome.Blocked = true
		outcome.BlockedReason = idOut.BlockReason
		st.enqueue(idOut.Inject...)
	} else {
		st.enqueue(idOut.Inject...)
		stored, blocked, err := o.runEvent(sctx, ev, st, true)
		if err != nil {
			return ProcessOutcome{}, err
		}
		outcome.Event = &stored
		if blocked {
			outcome.Blocked = true
			if outcome.BlockedReason == "" {
				outcome.BlockedReason = stored.BlockedBy
			}
		}
	}

	// 7. Reentry drain, FIFO within the same section.
	if err := o.drain(sctx, st); err != nil {
		return ProcessOutcome{}, err
	}

	// 8. Accumulated side effects.
	if err := o.persistSideEffects(sctx, roomID, st); err != nil {
		return ProcessOutcome{}, err
	}

	// 9. Async after_broadcast hooks, joined before section release. The
	// hooks need a current room snapshot; if that read fails the phase is
	// skipped rather than run against a zero-value room.
	if outcome.Event != nil {
		if room, err := o.loadRoom(sctx, roomID); err != nil {
			o.logger.Warn("after_broadcast hooks skipped, room load failed",
				"room_id", roomID, "error", err)
		} else {
			ares := o.hooks.RunAsync(sctx, TriggerAfterBroadcast, *outcome.Event, room)
			o.emitHookErrors(ares.Errors, roomID)
			outcome.HookErrors = append(outcome.HookErrors, ares.Errors...)
			st.tasks = append(st.tasks, ares.Tasks...)
			st.observations = append(st.observations, ares.Observations...)
			st.enqueue(ares.Inject...)
			if err := o.drain(sctx, st); err != nil {
				return ProcessOutcome{}, err
			}
			if err := o.persistSideEffects(sctx, roomID, st); err != nil {
				return ProcessOutcome{}, err
			}
		}
	}

	// 10. Room activity stamp.
	if room, err := o.store.GetRoom(sctx, roomID); err == nil {
		room.UpdatedAt = NowUnix()
		if err := o.store.UpdateRoom(sctx, room); err != nil {
			return ProcessOutcome{}, storeErr("update room", err)
		}
	}

	if sctx.Err() != nil {
		o.events.Emit(FrameworkEvent{Name: FEProcessTimeout, RoomID: roomID})
	}
	release()
	sectionDone = true
	return outcome, nil
}

// drainState carries the work queue and accumulated side effects of one
// pipeline run.
type drainState struct {
	queue        []RoomEvent
	tasks        []Task
	observations []Observation
	outcome      *ProcessOutcome
	room         RoomContext
}

func (st *drainState) enqueue(evs ...RoomEvent) {
	st.queue = append(st.queue, evs...)
}

// runEvent takes one event through hooks, persistence, and broadcast.
// Returns the stored event and whether it was blocked. Store failures are
// the only errors.
func (o *Orchestrator) runEvent(ctx context.Context, ev RoomEvent, st *drainState, refreshRoom bool) (RoomEvent, bool, error) {
	if refreshRoom {
		room, err := o.loadRoom(ctx, ev.RoomID)
		if err != nil {
			return RoomEvent{}, false, err
		}
		st.room = room
	}

	hres := o.hooks.RunSync(ctx, TriggerBeforeBroadcast, ev, st.room)
	o.emitHookErrors(hres.Errors, ev.RoomID)
	st.outcome.HookErrors = append(st.outcome.HookErrors, hres.Errors...)
	st.tasks = append(st.tasks, hres.Tasks...)
	st.observations = append(st.observations, hres.Observations...)
	st.enqueue(hres.Inject...)

	if hres.Blocked {
		stored, err := o.persistBlocked(ctx, hres.Event, hres.BlockedBy)
		if err != nil {
			return RoomEvent{}, false, err
		}
		if st.outcome.BlockedBy == "" {
			st.outcome.BlockedBy = hres.BlockedBy
			st.outcome.BlockedReason = hres.BlockReason
		}
		return stored, true, nil
	}

	ev = hres.Event
	ev.Status = StatusDelivered
	stored, err := o.store.AddEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return stored, stored.Status == StatusBlocked, nil
		}
		return RoomEvent{}, false, storeErr("add event", err)
	}

	// Bindings may have changed since the section started (hook side
	// effects); broadcast sees the current set.
	room, err := o.loadRoom(ctx, stored.RoomID)
	if err != nil {
		return RoomEvent{}, false, err
	}
	st.room = room

	bres := o.router.broadcast(ctx, stored, st.room)
	st.outcome.Deliveries = append(st.outcome.Deliveries, bres.Deliveries...)
	st.tasks = append(st.tasks, bres.Tasks...)
	st.observations = append(st.observations, bres.Observations...)
	st.enqueue(bres.Reentry...)
	return stored, false, nil
}

// drain processes the queue FIFO: depth-check, hooks, persist, broadcast,
// enqueue grandchildren. Depth travels per event, so parallel fan-outs of
// one generation share a depth.
func (o *Orchestrator) drain(ctx context.Context, st *drainState) error {
	for len(st.queue) > 0 {
		ev := st.queue[0]
		st.queue = st.queue[1:]
		if ev.RoomID == "" {
			ev.RoomID = st.room.Room.ID
		}
		o.fillReentryDefaults(&ev)

		if ev.ChainDepth > o.maxChainDepth {
			stored, err := o.persistBlocked(ctx, ev, BlockedByChainDepth)
			if err != nil {
				return err
			}
			st.observations = append(st.observations, Observation{
				RoomID: ev.RoomID,
				Payload: map[string]any{
					"kind":            "chain_depth_exceeded",
					"event_id":        stored.ID,
					"chain_depth":     ev.ChainDepth,
					"max_chain_depth": o.maxChainDepth,
					"parent_event_id": ev.ParentEventID,
				},
			})
			o.events.Emit(FrameworkEvent{
				Name:      FEChainDepthExceeded,
				RoomID:    ev.RoomID,
				ChannelID: ev.Source.ChannelID,
				Data:      map[string]any{"event_id": stored.ID, "chain_depth": ev.ChainDepth},
			})
			continue
		}

		if _, _, err := o.runEvent(ctx, ev, st, false); err != nil {
			return err
		}
		st.outcome.ReentryCount++
	}
	return nil
}

// persistBlocked stores an event with status blocked and emits
// event_blocked. Blocked events occupy an index like any other.
func (o *Orchestrator) persistBlocked(ctx context.Context, ev RoomEvent, reason string) (RoomEvent, error) {
	ev.Status = StatusBlocked
	ev.BlockedBy = reason
	stored, err := o.store.AddEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return stored, nil
		}
		return RoomEvent{}, storeErr("add blocked event", err)
	}
	o.events.Emit(FrameworkEvent{
		Name:      FEEventBlocked,
		RoomID:    ev.RoomID,
		ChannelID: ev.Source.ChannelID,
		Data:      map[string]any{"event_id": stored.ID, "blocked_by": reason},
	})
	o.logger.Info("event blocked",
		"room_id", ev.RoomID, "event_id", stored.ID, "blocked_by", reason)
	return stored, nil
}

func (o *Orchestrator) persistSideEffects(ctx context.Context, roomID string, st *drainState) error {
	for _, t := range st.tasks {
		if t.ID == "" {
			t.ID = NewID()
		}
		if t.RoomID == "" {
			t.RoomID = roomID
		}
		if t.Status == "" {
			t.Status = TaskPending
		}
		if t.CreatedAt == 0 {
			t.CreatedAt = NowUnix()
		}
		if err := o.store.AddTask(ctx, t); err != nil {
			return storeErr("add task", err)
		}
	}
	st.tasks = nil
	for _, ob := range st.observations {
		if ob.ID == "" {
			ob.ID = NewID()
		}
		if ob.RoomID == "" {
			ob.RoomID = roomID
		}
		if ob.CreatedAt == 0 {
			ob.CreatedAt = NowUnix()
		}
		if err := o.store.AddObservation(ctx, ob); err != nil {
			return storeErr("add observation", err)
		}
	}
	st.observations = nil
	return nil
}

func (o *Orchestrator) loadRoom(ctx context.Context, roomID string) (RoomContext, error) {
	room, err := o.store.GetRoom(ctx, roomID)
	if err != nil {
		return RoomContext{}, storeErr("get room", err)
	}
	bindings, err := o.store.ListBindings(ctx, roomID)
	if err != nil {
		return RoomContext{}, storeErr("list bindings", err)
	}
	return RoomContext{Room: room, Bindings: bindings}, nil
}

func (o *Orchestrator) fillEventDefaults(ev *RoomEvent, roomID string, msg InboundMessage) {
	if ev.ID == "" {
		ev.ID = NewID()
	}
	ev.RoomID = roomID
	if ev.Type == "" {
		ev.Type = EventMessage
	}
	if ev.Source.ChannelID == "" {
		ev.Source.ChannelID = msg.ChannelID
	}
	if ev.Source.ChannelType == "" {
		ev.Source.ChannelType = msg.ChannelType
	}
	if ev.Source.Direction == "" {
		ev.Source.Direction = DirectionInbound
	}
	if ev.Source.ParticipantID == "" {
		ev.Source.ParticipantID = msg.ParticipantID
	}
	if ev.Source.ExternalID == "" {
		ev.Source.ExternalID = msg.ExternalID
	}
	if ev.Visibility == "" {
		ev.Visibility = VisibilityAll
	}
	if ev.IdempotencyKey == "" {
		ev.IdempotencyKey = msg.IdempotencyKey
	}
	if ev.Status == "" {
		ev.Status = StatusPending
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = NowUnix()
	}
	ev.ChainDepth = 0
}

func (o *Orchestrator) fillReentryDefaults(ev *RoomEvent) {
	if ev.ID == "" {
		ev.ID = NewID()
	}
	if ev.Type == "" {
		ev.Type = EventMessage
	}
	if ev.Visibility == "" {
		ev.Visibility = VisibilityAll
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = NowUnix()
	}
}

func (o *Orchestrator) emitHookErrors(errs []HookError, roomID string) {
	for _, he := range errs {
		o.events.Emit(FrameworkEvent{
			Name:   FEHookError,
			RoomID: roomID,
			Data: map[string]any{
				"hook":    he.Hook,
				"trigger": string(he.Trigger),
				"error":   he.Err.Error(),
			},
		})
	}
}
