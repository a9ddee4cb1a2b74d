package parley

import "context"

// Store abstracts persistence of all orchestrator entities. The core ships
// only the in-memory reference implementation (NewMemoryStore); persistent
// backends implement the same contract (see store/postgres).
//
// Event index assignment is atomic when AddEvent is called from within the
// room's exclusive section, which is the only place the pipeline calls it.
// Cross-room access is serialized by the implementation's own locking.
type Store interface {
	// --- Rooms ---
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	UpdateRoom(ctx context.Context, room Room) error
	DeleteRoom(ctx context.Context, id string) error
	ListRooms(ctx context.Context, status RoomStatus, limit int) ([]Room, error)
	// FindRoomByChannel returns the room holding a binding that matches the
	// channel id and, when non-empty, the participant id.
	FindRoomByChannel(ctx context.Context, channelID, participantID string) (Room, error)
	// FindLatestRoom returns the most recently updated room with a binding
	// of the given channel type involving the participant.
	FindLatestRoom(ctx context.Context, channelType, participantID string) (Room, error)

	// --- Events ---
	// AddEvent persists an event, assigning Index = room.LatestIndex + 1 and
	// bumping the room's counters. If the event carries an IdempotencyKey
	// already present in the room, the previously stored event is returned
	// together with ErrDuplicateIdempotencyKey and nothing is written.
	AddEvent(ctx context.Context, ev RoomEvent) (RoomEvent, error)
	GetEvent(ctx context.Context, roomID, eventID string) (RoomEvent, error)
	// ListEvents returns events with Index > afterIndex in ascending index
	// order, at most limit (0 = no limit).
	ListEvents(ctx context.Context, roomID string, afterIndex int64, limit int) ([]RoomEvent, error)
	EventCount(ctx context.Context, roomID string) (int, error)
	// FindEventByIdempotencyKey returns the stored event for (roomID, key),
	// or ErrNotFound.
	FindEventByIdempotencyKey(ctx context.Context, roomID, key string) (RoomEvent, error)

	// --- Bindings ---
	AddBinding(ctx context.Context, b ChannelBinding) error
	GetBinding(ctx context.Context, roomID, channelID string) (ChannelBinding, error)
	UpdateBinding(ctx context.Context, b ChannelBinding) error
	RemoveBinding(ctx context.Context, roomID, channelID string) error
	ListBindings(ctx context.Context, roomID string) ([]ChannelBinding, error)

	// --- Participants ---
	AddParticipant(ctx context.Context, p Participant) error
	GetParticipant(ctx context.Context, roomID, participantID string) (Participant, error)
	UpdateParticipant(ctx context.Context, p Participant) error
	ListParticipants(ctx context.Context, roomID string) ([]Participant, error)

	// --- Identities ---
	CreateIdentity(ctx context.Context, id Identity) error
	GetIdentity(ctx context.Context, id string) (Identity, error)
	// ResolveIdentity finds the identity owning the given address on the
	// given channel type, or ErrNotFound.
	ResolveIdentity(ctx context.Context, channelType, address string) (Identity, error)
	LinkAddress(ctx context.Context, identityID string, addr ChannelAddress) error

	// --- Tasks and observations ---
	AddTask(ctx context.Context, t Task) error
	ListTasks(ctx context.Context, roomID string, status TaskStatus) ([]Task, error)
	UpdateTask(ctx context.Context, t Task) error
	AddObservation(ctx context.Context, o Observation) error
	ListObservations(ctx context.Context, roomID string) ([]Observation, error)

	// --- Read tracking ---
	// MarkRead records that the binding has read up to and including index.
	MarkRead(ctx context.Context, roomID, channelID string, index int64) error
	MarkAllRead(ctx context.Context, roomID, channelID string) error
	UnreadCount(ctx context.Context, roomID, channelID string) (int, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
