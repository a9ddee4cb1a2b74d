package parley

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the in-memory reference implementation of Store.
// It is safe for concurrent use; all state is guarded by a single mutex,
// which also provides the cross-room serialization the Store contract
// requires. Index assignment is atomic by construction.
type MemoryStore struct {
	mu sync.Mutex

	rooms        map[string]Room
	events       map[string][]RoomEvent          // roomID -> events in index order
	eventsByID   map[string]map[string]int       // roomID -> eventID -> slice position
	idempotency  map[string]map[string]string    // roomID -> key -> eventID
	bindings     map[string]map[string]ChannelBinding // roomID -> channelID -> binding
	participants map[string]map[string]Participant    // roomID -> participantID
	identities   map[string]Identity
	tasks        map[string][]Task        // roomID
	observations map[string][]Observation // roomID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:        make(map[string]Room),
		events:       make(map[string][]RoomEvent),
		eventsByID:   make(map[string]map[string]int),
		idempotency:  make(map[string]map[string]string),
		bindings:     make(map[string]map[string]ChannelBinding),
		participants: make(map[string]map[string]Participant),
		identities:   make(map[string]Identity),
		tasks:        make(map[string][]Task),
		observations: make(map[string][]Observation),
	}
}

// --- Rooms ---

func (s *MemoryStore) CreateRoom(_ context.Context, room Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room
	return nil
}

func (s *MemoryStore) GetRoom(_ context.Context, id string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	return room, nil
}

func (s *MemoryStore) UpdateRoom(_ context.Context, room Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; !ok {
		return ErrNotFound
	}
	s.rooms[room.ID] = room
	return nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(s.rooms, id)
	delete(s.events, id)
	delete(s.eventsByID, id)
	delete(s.idempotency, id)
	delete(s.bindings, id)
	delete(s.participants, id)
	delete(s.tasks, id)
	delete(s.observations, id)
	return nil
}

func (s *MemoryStore) ListRooms(_ context.Context, status RoomStatus, limit int) ([]Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Room
	for _, room := range s.rooms {
		if status == "" || room.Status == status {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindRoomByChannel(_ context.Context, channelID, participantID string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best Room
	found := false
	for roomID, bs := range s.bindings {
		b, ok := bs[channelID]
		if !ok {
			continue
		}
		if participantID != "" && b.ParticipantID != "" && b.ParticipantID != participantID {
			continue
		}
		room, ok := s.rooms[roomID]
		if !ok {
			continue
		}
		if !found || room.UpdatedAt > best.UpdatedAt {
			best = room
			found = true
		}
	}
	if !found {
		return Room{}, ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) FindLatestRoom(_ context.Context, channelType, participantID string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best Room
	found := false
	for roomID, bs := range s.bindings {
		for _, b := range bs {
			if b.ChannelType != channelType {
				continue
			}
			if participantID != "" && b.ParticipantID != participantID {
				continue
			}
			room, ok := s.rooms[roomID]
			if !ok {
				continue
			}
			if !found || room.UpdatedAt > best.UpdatedAt {
				best = room
				found = true
			}
		}
	}
	if !found {
		return Room{}, ErrNotFound
	}
	return best, nil
}

// --- Events ---

func (s *MemoryStore) AddEvent(_ context.Context, ev RoomEvent) (RoomEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[ev.RoomID]
	if !ok {
		return RoomEvent{}, ErrNotFound
	}

	if ev.IdempotencyKey != "" {
		if keys, ok := s.idempotency[ev.RoomID]; ok {
			if priorID, dup := keys[ev.IdempotencyKey]; dup {
				pos := s.eventsByID[ev.RoomID][priorID]
				return s.events[ev.RoomID][pos], ErrDuplicateIdempotencyKey
			}
		}
	}

	ev.Index = room.LatestIndex + 1
	s.events[ev.RoomID] = append(s.events[ev.RoomID], ev)
	if s.eventsByID[ev.RoomID] == nil {
		s.eventsByID[ev.RoomID] = make(map[string]int)
	}
	s.eventsByID[ev.RoomID][ev.ID] = len(s.events[ev.RoomID]) - 1

	if ev.IdempotencyKey != "" {
		if s.idempotency[ev.RoomID] == nil {
			s.idempotency[ev.RoomID] = make(map[string]string)
		}
		s.idempotency[ev.RoomID][ev.IdempotencyKey] = ev.ID
	}

	room.LatestIndex = ev.Index
	room.EventCount++
	s.rooms[ev.RoomID] = room
	return ev, nil
}

func (s *MemoryStore) GetEvent(_ context.Context, roomID, eventID string) (RoomEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.eventsByID[roomID][eventID]
	if !ok {
		return RoomEvent{}, ErrNotFound
	}
	return s.events[roomID][pos], nil
}

func (s *MemoryStore) ListEvents(_ context.Context, roomID string, afterIndex int64, limit int) ([]RoomEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RoomEvent
	for _, ev := range s.events[roomID] {
		if ev.Index > afterIndex {
			out = append(out, ev)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) EventCount(_ context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[roomID]), nil
}

func (s *MemoryStore) FindEventByIdempotencyKey(_ context.Context, roomID, key string) (RoomEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eventID, ok := s.idempotency[roomID][key]
	if !ok {
		return RoomEvent{}, ErrNotFound
	}
	pos := s.eventsByID[roomID][eventID]
	return s.events[roomID][pos], nil
}

// --- Bindings ---

func (s *MemoryStore) AddBinding(_ context.Context, b ChannelBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bindings[b.RoomID] == nil {
		s.bindings[b.RoomID] = make(map[string]ChannelBinding)
	}
	s.bindings[b.RoomID][b.ChannelID] = b
	return nil
}

func (s *MemoryStore) GetBinding(_ context.Context, roomID, channelID string) (ChannelBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[roomID][channelID]
	if !ok {
		return ChannelBinding{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) UpdateBinding(_ context.Context, b ChannelBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[b.RoomID][b.ChannelID]; !ok {
		return ErrNotFound
	}
	s.bindings[b.RoomID][b.ChannelID] = b
	return nil
}

func (s *MemoryStore) RemoveBinding(_ context.Context, roomID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[roomID][channelID]; !ok {
		return ErrNotFound
	}
	delete(s.bindings[roomID], channelID)
	return nil
}

func (s *MemoryStore) ListBindings(_ context.Context, roomID string) ([]ChannelBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChannelBinding, 0, len(s.bindings[roomID]))
	for _, b := range s.bindings[roomID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

// --- Participants ---

func (s *MemoryStore) AddParticipant(_ context.Context, p Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participants[p.RoomID] == nil {
		s.participants[p.RoomID] = make(map[string]Participant)
	}
	s.participants[p.RoomID][p.ID] = p
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, roomID, participantID string) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[roomID][participantID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) UpdateParticipant(_ context.Context, p Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.RoomID][p.ID]; !ok {
		return ErrNotFound
	}
	s.participants[p.RoomID][p.ID] = p
	return nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, roomID string) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, 0, len(s.participants[roomID]))
	for _, p := range s.participants[roomID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Identities ---

func (s *MemoryStore) CreateIdentity(_ context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[id.ID] = id
	return nil
}

func (s *MemoryStore) GetIdentity(_ context.Context, id string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return ident, nil
}

func (s *MemoryStore) ResolveIdentity(_ context.Context, channelType, address string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.identities {
		for _, addr := range ident.Addresses {
			if addr.ChannelType == channelType && addr.Address == address {
				return ident, nil
			}
		}
	}
	return Identity{}, ErrNotFound
}

func (s *MemoryStore) LinkAddress(_ context.Context, identityID string, addr ChannelAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[identityID]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range ident.Addresses {
		if existing == addr {
			return nil
		}
	}
	ident.Addresses = append(ident.Addresses, addr)
	ident.UpdatedAt = NowUnix()
	s.identities[identityID] = ident
	return nil
}

// --- Tasks and observations ---

func (s *MemoryStore) AddTask(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.RoomID] = append(s.tasks[t.RoomID], t)
	return nil
}

func (s *MemoryStore) ListTasks(_ context.Context, roomID string, status TaskStatus) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks[roomID] {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tasks[t.RoomID] {
		if existing.ID == t.ID {
			s.tasks[t.RoomID][i] = t
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) AddObservation(_ context.Context, o Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations[o.RoomID] = append(s.observations[o.RoomID], o)
	return nil
}

func (s *MemoryStore) ListObservations(_ context.Context, roomID string) ([]Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Observation(nil), s.observations[roomID]...), nil
}

// --- Read tracking ---

func (s *MemoryStore) MarkRead(_ context.Context, roomID, channelID string, index int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[roomID][channelID]
	if !ok {
		return ErrNotFound
	}
	if index > b.LastReadIndex {
		b.LastReadIndex = index
		s.bindings[roomID][channelID] = b
	}
	return nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, roomID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[roomID][channelID]
	if !ok {
		return ErrNotFound
	}
	room, ok := s.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	b.LastReadIndex = room.LatestIndex
	s.bindings[roomID][channelID] = b
	return nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, roomID, channelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[roomID][channelID]
	if !ok {
		return 0, ErrNotFound
	}
	count := 0
	for _, ev := range s.events[roomID] {
		if ev.Index > b.LastReadIndex {
			count++
		}
	}
	return count, nil
}

// --- Lifecycle ---

func (s *MemoryStore) Init(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// compile-time check
var _ Store = (*MemoryStore)(nil)
