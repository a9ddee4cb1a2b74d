// Package postgres implements parley.Store using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool. Event index
// assignment runs in a transaction that locks the room row, so indexes
// stay gap-free even across processes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	parley "github.com/parley-go/parley"
)

// Store implements parley.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ parley.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			closed_at BIGINT NOT NULL DEFAULT 0,
			inactive_after BIGINT NOT NULL DEFAULT 0,
			closed_after BIGINT NOT NULL DEFAULT 0,
			metadata JSONB,
			event_count INTEGER NOT NULL DEFAULT 0,
			latest_index BIGINT NOT NULL DEFAULT -1
		)`,
		`CREATE INDEX IF NOT EXISTS rooms_status_idx ON rooms(status, updated_at DESC)`,

		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			source JSONB NOT NULL,
			content JSONB NOT NULL,
			status TEXT NOT NULL,
			blocked_by TEXT NOT NULL DEFAULT '',
			visibility TEXT NOT NULL DEFAULT 'all',
			index_num BIGINT NOT NULL,
			chain_depth INTEGER NOT NULL DEFAULT 0,
			parent_event_id TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT,
			created_at BIGINT NOT NULL,
			metadata JSONB,
			UNIQUE(room_id, index_num)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS events_idempotency_idx
			ON events(room_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS events_room_idx ON events(room_id, index_num)`,

		`CREATE TABLE IF NOT EXISTS bindings (
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			channel_id TEXT NOT NULL,
			channel_type TEXT NOT NULL,
			category TEXT NOT NULL,
			direction TEXT NOT NULL,
			access TEXT NOT NULL,
			muted BOOLEAN NOT NULL DEFAULT FALSE,
			visibility TEXT NOT NULL DEFAULT 'all',
			participant_id TEXT NOT NULL DEFAULT '',
			last_read_index BIGINT NOT NULL DEFAULT -1,
			attached_at BIGINT NOT NULL,
			capabilities JSONB,
			rate_limit JSONB,
			retry_policy JSONB,
			metadata JSONB,
			PRIMARY KEY (room_id, channel_id)
		)`,
		`CREATE INDEX IF NOT EXISTS bindings_channel_idx ON bindings(channel_id)`,
		`CREATE INDEX IF NOT EXISTS bindings_type_participant_idx ON bindings(channel_type, participant_id)`,

		`CREATE TABLE IF NOT EXISTS participants (
			id TEXT NOT NULL,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			channel_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			identity_id TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (room_id, id)
		)`,

		`CREATE TABLE IF NOT EXISTS identities (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT '',
			addresses JSONB,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			payload JSONB,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS tasks_room_idx ON tasks(room_id, status)`,

		`CREATE TABLE IF NOT EXISTS observations (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			payload JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS observations_room_idx ON observations(room_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// --- Rooms ---

func (s *Store) CreateRoom(ctx context.Context, room parley.Room) error {
	meta, err := marshalJSON(room.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: create room: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO rooms (id, organization_id, status, created_at, updated_at, closed_at,
		                    inactive_after, closed_after, metadata, event_count, latest_index)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)`,
		room.ID, room.OrganizationID, string(room.Status), room.CreatedAt, room.UpdatedAt,
		room.ClosedAt, room.Timers.InactiveAfter, room.Timers.ClosedAfter, meta,
		room.EventCount, room.LatestIndex)
	if err != nil {
		return fmt.Errorf("postgres: create room: %w", err)
	}
	return nil
}

const roomColumns = `id, organization_id, status, created_at, updated_at, closed_at,
	inactive_after, closed_after, metadata, event_count, latest_index`

func scanRoom(row pgx.Row) (parley.Room, error) {
	var room parley.Room
	var status string
	var meta []byte
	err := row.Scan(&room.ID, &room.OrganizationID, &status, &room.CreatedAt, &room.UpdatedAt,
		&room.ClosedAt, &room.Timers.InactiveAfter, &room.Timers.ClosedAfter, &meta,
		&room.EventCount, &room.LatestIndex)
	if err != nil {
		return parley.Room{}, err
	}
	room.Status = parley.RoomStatus(status)
	if err := unmarshalJSON(meta, &room.Metadata); err != nil {
		return parley.Room{}, err
	}
	return room, nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (parley.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return parley.Room{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.Room{}, fmt.Errorf("postgres: get room: %w", err)
	}
	return room, nil
}

func (s *Store) UpdateRoom(ctx context.Context, room parley.Room) error {
	meta, err := marshalJSON(room.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: update room: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms SET organization_id = $2, status = $3, updated_at = $4, closed_at = $5,
		        inactive_after = $6, closed_after = $7, metadata = $8::jsonb
		 WHERE id = $1`,
		room.ID, room.OrganizationID, string(room.Status), room.UpdatedAt, room.ClosedAt,
		room.Timers.InactiveAfter, room.Timers.ClosedAfter, meta)
	if err != nil {
		return fmt.Errorf("postgres: update room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parley.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parley.ErrNotFound
	}
	return nil
}

func (s *Store) ListRooms(ctx context.Context, status parley.RoomStatus, limit int) ([]parley.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []parley.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *Store) FindRoomByChannel(ctx context.Context, channelID, participantID string) (parley.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms
		 WHERE id IN (
			SELECT room_id FROM bindings
			WHERE channel_id = $1
			  AND ($2 = '' OR participant_id = '' OR participant_id = $2)
		 )
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		channelID, participantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return parley.Room{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.Room{}, fmt.Errorf("postgres: find room by channel: %w", err)
	}
	return room, nil
}

func (s *Store) FindLatestRoom(ctx context.Context, channelType, participantID string) (parley.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms
		 WHERE id IN (
			SELECT room_id FROM bindings
			WHERE channel_type = $1
			  AND ($2 = '' OR participant_id = $2)
		 )
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		channelType, participantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return parley.Room{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.Room{}, fmt.Errorf("postgres: find latest room: %w", err)
	}
	return room, nil
}

// --- Events ---

const eventColumns = `id, room_id, type, source, content, status, blocked_by, visibility,
	index_num, chain_depth, parent_event_id, correlation_id,
	COALESCE(idempotency_key, ''), created_at, metadata`

func scanEvent(row pgx.Row) (parley.RoomEvent, error) {
	var ev parley.RoomEvent
	var typ, status string
	var source, content, meta []byte
	err := row.Scan(&ev.ID, &ev.RoomID, &typ, &source, &content, &status, &ev.BlockedBy,
		&ev.Visibility, &ev.Index, &ev.ChainDepth, &ev.ParentEventID, &ev.CorrelationID,
		&ev.IdempotencyKey, &ev.CreatedAt, &meta)
	if err != nil {
		return parley.RoomEvent{}, err
	}
	ev.Type = parley.EventType(typ)
	ev.Status = parley.EventStatus(status)
	if err := json.Unmarshal(source, &ev.Source); err != nil {
		return parley.RoomEvent{}, err
	}
	if err := json.Unmarshal(content, &ev.Content); err != nil {
		return parley.RoomEvent{}, err
	}
	if err := unmarshalJSON(meta, &ev.Metadata); err != nil {
		return parley.RoomEvent{}, err
	}
	return ev, nil
}

// AddEvent persists an event, assigning the next index under a row lock on
// the room. A duplicate idempotency key returns the previously stored
// event together with parley.ErrDuplicateIdempotencyKey.
func (s *Store) AddEvent(ctx context.Context, ev parley.RoomEvent) (parley.RoomEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return parley.RoomEvent{}, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var latest int64
	err = tx.QueryRow(ctx,
		`SELECT latest_index FROM rooms WHERE id = $1 FOR UPDATE`, ev.RoomID).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return parley.RoomEvent{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.RoomEvent{}, fmt.Errorf("postgres: lock room: %w", err)
	}

	if ev.IdempotencyKey != "" {
		prior, err := scanEvent(tx.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events WHERE room_id = $1 AND idempotency_key = $2`,
			ev.RoomID, ev.IdempotencyKey))
		if err == nil {
			return prior, parley.ErrDuplicateIdempotencyKey
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return parley.RoomEvent{}, fmt.Errorf("postgres: idempotency check: %w", err)
		}
	}

	ev.Index = latest + 1
	source, err := json.Marshal(ev.Source)
	if err != nil {
		return parley.RoomEvent{}, fmt.Errorf("postgres: marshal source: %w", err)
	}
	content, err := json.Marshal(ev.Content)
	if err != nil {
		return parley.RoomEvent{}, fmt.Errorf("postgres: marshal content: %w", err)
	}
	meta, err := marshalJSON(ev.Metadata)
	if err != nil {
		return parley.RoomEvent{}, fmt.Errorf("postgres: marshal metadata: %w", err)
	}
	var idemKey *string
	if ev.IdempotencyKey != "" {
		idemKey = &ev.IdempotencyKey
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO events (id, room_id, type, source, content, status, blocked_by, visibility,
		                     index_num, chain_depth, parent_event_id, correlation_id,
		                     idempotency_key, created_at, metadata)
		 VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb)`,
		ev.ID, ev.RoomID, string(ev.Type), source, content, string(ev.Status), ev.BlockedBy,
		ev.Visibility, ev.Index, ev.ChainDepth, ev.ParentEventID, ev.CorrelationID,
		idemKey, ev.CreatedAt, meta)
	if err != nil {
		return parley.RoomEvent{}, fmt.Errorf("postgres: insert event: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE rooms SET latest_index = $2, event_count = event_count + 1 WHERE id = $1`,
		ev.RoomID, ev.Index)
	if err != nil {
		return parley.RoomEvent{}, fmt.Errorf("postgres: bump room counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return parley.RoomEvent{}, fmt.Errorf("postgres: commit event: %w", err)
	}
	return ev, nil
}

func (s *Store) GetEvent(ctx context.Context, roomID, eventID string) (parley.RoomEvent, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE room_id = $1 AND id = $2`, roomID, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return parley.RoomEvent{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.RoomEvent{}, fmt.Errorf("postgres: get event: %w", err)
	}
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context, roomID string, afterIndex int64, limit int) ([]parley.RoomEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		 WHERE room_id = $1 AND index_num > $2
		 ORDER BY index_num`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.pool.Query(ctx, query, roomID, afterIndex)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []parley.RoomEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) EventCount(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE room_id = $1`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: event count: %w", err)
	}
	return n, nil
}

func (s *Store) FindEventByIdempotencyKey(ctx context.Context, roomID, key string) (parley.RoomEvent, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE room_id = $1 AND idempotency_key = $2`,
		roomID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return parley.RoomEvent{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.RoomEvent{}, fmt.Errorf("postgres: find by idempotency key: %w", err)
	}
	return ev, nil
}

// --- Bindings ---

const bindingColumns = `room_id, channel_id, channel_type, category, direction, access, muted,
	visibility, participant_id, last_read_index, attached_at, capabilities,
	rate_limit, retry_policy, metadata`

func scanBinding(row pgx.Row) (parley.ChannelBinding, error) {
	var b parley.ChannelBinding
	var category, direction, access string
	var caps, rateLimit, retryPolicy, meta []byte
	err := row.Scan(&b.RoomID, &b.ChannelID, &b.ChannelType, &category, &direction, &access,
		&b.Muted, &b.Visibility, &b.ParticipantID, &b.LastReadIndex, &b.AttachedAt,
		&caps, &rateLimit, &retryPolicy, &meta)
	if err != nil {
		return parley.ChannelBinding{}, err
	}
	b.Category = parley.Category(category)
	b.Direction = parley.Direction(direction)
	b.Access = parley.Access(access)
	if err := unmarshalJSON(caps, &b.Capabilities); err != nil {
		return parley.ChannelBinding{}, err
	}
	if err := unmarshalJSON(rateLimit, &b.RateLimit); err != nil {
		return parley.ChannelBinding{}, err
	}
	if err := unmarshalJSON(retryPolicy, &b.RetryPolicy); err != nil {
		return parley.ChannelBinding{}, err
	}
	if err := unmarshalJSON(meta, &b.Metadata); err != nil {
		return parley.ChannelBinding{}, err
	}
	return b, nil
}

func (s *Store) AddBinding(ctx context.Context, b parley.ChannelBinding) error {
	caps, err := marshalJSON(b.Capabilities)
	if err != nil {
		return fmt.Errorf("postgres: add binding: %w", err)
	}
	rateLimit, err := marshalJSON(b.RateLimit)
	if err != nil {
		return fmt.Errorf("postgres: add binding: %w", err)
	}
	retryPolicy, err := marshalJSON(b.RetryPolicy)
	if err != nil {
		return fmt.Errorf("postgres: add binding: %w", err)
	}
	meta, err := marshalJSON(b.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: add binding: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO bindings (room_id, channel_id, channel_type, category, direction, access,
		                       muted, visibility, participant_id, last_read_index, attached_at,
		                       capabilities, rate_limit, retry_policy, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13::jsonb, $14::jsonb, $15::jsonb)
		 ON CONFLICT (room_id, channel_id) DO UPDATE SET
		   channel_type = EXCLUDED.channel_type,
		   category = EXCLUDED.category,
		   direction = EXCLUDED.direction,
		   access = EXCLUDED.access,
		   muted = EXCLUDED.muted,
		   visibility = EXCLUDED.visibility,
		   participant_id = EXCLUDED.participant_id,
		   capabilities = EXCLUDED.capabilities,
		   rate_limit = EXCLUDED.rate_limit,
		   retry_policy = EXCLUDED.retry_policy,
		   metadata = EXCLUDED.metadata`,
		b.RoomID, b.ChannelID, b.ChannelType, string(b.Category), string(b.Direction),
		string(b.Access), b.Muted, b.Visibility, b.ParticipantID, b.LastReadIndex,
		b.AttachedAt, caps, rateLimit, retryPolicy, meta)
	if err != nil {
		return fmt.Errorf("postgres: add binding: %w", err)
	}
	return nil
}

func (s *Store) GetBinding(ctx context.Context, roomID, channelID string) (parley.ChannelBinding, error) {
	b, err := scanBinding(s.pool.QueryRow(ctx,
		`SELECT `+bindingColumns+` FROM bindings WHERE room_id = $1 AND channel_id = $2`,
		roomID, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return parley.ChannelBinding{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.ChannelBinding{}, fmt.Errorf("postgres: get binding: %w", err)
	}
	return b, nil
}

func (s *Store) UpdateBinding(ctx context.Context, b parley.ChannelBinding) error {
	caps, err := marshalJSON(b.Capabilities)
	if err != nil {
		return fmt.Errorf("postgres: update binding: %w", err)
	}
	rateLimit, err := marshalJSON(b.RateLimit)
	if err != nil {
		return fmt.Errorf("postgres: update binding: %w", err)
	}
	retryPolicy, err := marshalJSON(b.RetryPolicy)
	if err != nil {
		return fmt.Errorf("postgres: update binding: %w", err)
	}
	meta, err := marshalJSON(b.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: update binding: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE bindings SET channel_type = $3, category = $4, direction = $5, access = $6,
		        muted = $7, visibility = $8, participant_id = $9, last_read_index = $10,
		        capabilities = $11::jsonb, rate_limit = $12::jsonb, retry_policy = $13::jsonb,
		        metadata = $14::jsonb
		 WHERE room_id = $1 AND channel_id = $2`,
		b.RoomID, b.ChannelID, b.ChannelType, string(b.Category), string(b.Direction),
		string(b.Access), b.Muted, b.Visibility, b.ParticipantID, b.LastReadIndex,
		caps, rateLimit, retryPolicy, meta)
	if err != nil {
		return fmt.Errorf("postgres: update binding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parley.ErrNotFound
	}
	return nil
}

func (s *Store) RemoveBinding(ctx context.Context, roomID, channelID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM bindings WHERE room_id = $1 AND channel_id = $2`, roomID, channelID)
	if err != nil {
		return fmt.Errorf("postgres: remove binding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parley.ErrNotFound
	}
	return nil
}

func (s *Store) ListBindings(ctx context.Context, roomID string) ([]parley.ChannelBinding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bindingColumns+` FROM bindings WHERE room_id = $1 ORDER BY channel_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []parley.ChannelBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// --- Participants ---

func (s *Store) AddParticipant(ctx context.Context, p parley.Participant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participants (id, room_id, channel_id, role, status, identity_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (room_id, id) DO UPDATE SET
		   channel_id = EXCLUDED.channel_id,
		   role = EXCLUDED.role,
		   status = EXCLUDED.status,
		   identity_id = EXCLUDED.identity_id,
		   updated_at = EXCLUDED.updated_at`,
		p.ID, p.RoomID, p.ChannelID, p.Role, p.Status, p.IdentityID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: add participant: %w", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, roomID, participantID string) (parley.Participant, error) {
	var p parley.Participant
	err := s.pool.QueryRow(ctx,
		`SELECT id, room_id, channel_id, role, status, identity_id, created_at, updated_at
		 FROM participants WHERE room_id = $1 AND id = $2`, roomID, participantID).
		Scan(&p.ID, &p.RoomID, &p.ChannelID, &p.Role, &p.Status, &p.IdentityID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return parley.Participant{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.Participant{}, fmt.Errorf("postgres: get participant: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateParticipant(ctx context.Context, p parley.Participant) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET channel_id = $3, role = $4, status = $5, identity_id = $6, updated_at = $7
		 WHERE room_id = $1 AND id = $2`,
		p.RoomID, p.ID, p.ChannelID, p.Role, p.Status, p.IdentityID, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parley.ErrNotFound
	}
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, roomID string) ([]parley.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, channel_id, role, status, identity_id, created_at, updated_at
		 FROM participants WHERE room_id = $1 ORDER BY id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list participants: %w", err)
	}
	defer rows.Close()

	var participants []parley.Participant
	for rows.Next() {
		var p parley.Participant
		if err := rows.Scan(&p.ID, &p.RoomID, &p.ChannelID, &p.Role, &p.Status, &p.IdentityID,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// --- Identities ---

func (s *Store) CreateIdentity(ctx context.Context, id parley.Identity) error {
	addrs, err := marshalJSON(id.Addresses)
	if err != nil {
		return fmt.Errorf("postgres: create identity: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO identities (id, display_name, external_id, addresses, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   external_id = EXCLUDED.external_id,
		   addresses = EXCLUDED.addresses,
		   updated_at = EXCLUDED.updated_at`,
		id.ID, id.DisplayName, id.ExternalID, addrs, id.CreatedAt, id.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create identity: %w", err)
	}
	return nil
}

func scanIdentity(row pgx.Row) (parley.Identity, error) {
	var ident parley.Identity
	var addrs []byte
	err := row.Scan(&ident.ID, &ident.DisplayName, &ident.ExternalID, &addrs,
		&ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		return parley.Identity{}, err
	}
	if err := unmarshalJSON(addrs, &ident.Addresses); err != nil {
		return parley.Identity{}, err
	}
	return ident, nil
}

func (s *Store) GetIdentity(ctx context.Context, id string) (parley.Identity, error) {
	ident, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT id, display_name, external_id, addresses, created_at, updated_at
		 FROM identities WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return parley.Identity{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.Identity{}, fmt.Errorf("postgres: get identity: %w", err)
	}
	return ident, nil
}

func (s *Store) ResolveIdentity(ctx context.Context, channelType, address string) (parley.Identity, error) {
	ident, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT id, display_name, external_id, addresses, created_at, updated_at
		 FROM identities
		 WHERE addresses @> $1::jsonb
		 LIMIT 1`,
		fmt.Sprintf(`[{"channel_type":%q,"address":%q}]`, channelType, address)))
	if errors.Is(err, pgx.ErrNoRows) {
		return parley.Identity{}, parley.ErrNotFound
	}
	if err != nil {
		return parley.Identity{}, fmt.Errorf("postgres: resolve identity: %w", err)
	}
	return ident, nil
}

func (s *Store) LinkAddress(ctx context.Context, identityID string, addr parley.ChannelAddress) error {
	ident, err := s.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	for _, existing := range ident.Addresses {
		if existing == addr {
			return nil
		}
	}
	ident.Addresses = append(ident.Addresses, addr)
	ident.UpdatedAt = parley.NowUnix()
	addrs, err := marshalJSON(ident.Addresses)
	if err != nil {
		return fmt.Errorf("postgres: link address: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE identities SET addresses = $2::jsonb, updated_at = $3 WHERE id = $1`,
		identityID, addrs, ident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: link address: %w", err)
	}
	return nil
}

// --- Tasks and observations ---

func (s *Store) AddTask(ctx context.Context, t parley.Task) error {
	payload, err := marshalJSON(t.Payload)
	if err != nil {
		return fmt.Errorf("postgres: add task: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (id, room_id, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4, $5, $6)`,
		t.ID, t.RoomID, payload, string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: add task: %w", err)
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, roomID string, status parley.TaskStatus) ([]parley.Task, error) {
	query := `SELECT id, room_id, payload, status, created_at, updated_at FROM tasks WHERE room_id = $1`
	args := []any{roomID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []parley.Task
	for rows.Next() {
		var t parley.Task
		var st string
		var payload []byte
		if err := rows.Scan(&t.ID, &t.RoomID, &payload, &st, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan task: %w", err)
		}
		t.Status = parley.TaskStatus(st)
		if err := unmarshalJSON(payload, &t.Payload); err != nil {
			return nil, fmt.Errorf("postgres: scan task payload: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, t parley.Task) error {
	payload, err := marshalJSON(t.Payload)
	if err != nil {
		return fmt.Errorf("postgres: update task: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET payload = $2::jsonb, status = $3, updated_at = $4 WHERE id = $1`,
		t.ID, payload, string(t.Status), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parley.ErrNotFound
	}
	return nil
}

func (s *Store) AddObservation(ctx context.Context, o parley.Observation) error {
	payload, err := marshalJSON(o.Payload)
	if err != nil {
		return fmt.Errorf("postgres: add observation: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO observations (id, room_id, payload, created_at)
		 VALUES ($1, $2, $3::jsonb, $4)`,
		o.ID, o.RoomID, payload, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: add observation: %w", err)
	}
	return nil
}

func (s *Store) ListObservations(ctx context.Context, roomID string) ([]parley.Observation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, payload, created_at FROM observations
		 WHERE room_id = $1 ORDER BY created_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list observations: %w", err)
	}
	defer rows.Close()

	var observations []parley.Observation
	for rows.Next() {
		var o parley.Observation
		var payload []byte
		if err := rows.Scan(&o.ID, &o.RoomID, &payload, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan observation: %w", err)
		}
		if err := unmarshalJSON(payload, &o.Payload); err != nil {
			return nil, fmt.Errorf("postgres: scan observation payload: %w", err)
		}
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

// --- Read tracking ---

func (s *Store) MarkRead(ctx context.Context, roomID, channelID string, index int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bindings SET last_read_index = GREATEST(last_read_index, $3)
		 WHERE room_id = $1 AND channel_id = $2`,
		roomID, channelID, index)
	if err != nil {
		return fmt.Errorf("postgres: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parley.ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, roomID, channelID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bindings SET last_read_index = (SELECT latest_index FROM rooms WHERE id = $1)
		 WHERE room_id = $1 AND channel_id = $2`,
		roomID, channelID)
	if err != nil {
		return fmt.Errorf("postgres: mark all read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return parley.ErrNotFound
	}
	return nil
}

func (s *Store) UnreadCount(ctx context.Context, roomID, channelID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events e
		 JOIN bindings b ON b.room_id = e.room_id AND b.channel_id = $2
		 WHERE e.room_id = $1 AND e.index_num > b.last_read_index`,
		roomID, channelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: unread count: %w", err)
	}
	return n, nil
}

// --- JSON helpers ---

// marshalJSON encodes v, mapping nil maps and pointers to SQL NULL.
func marshalJSON(v any) (*string, error) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	case *parley.RateLimitConfig:
		if t == nil {
			return nil, nil
		}
	case *parley.RetryPolicy:
		if t == nil {
			return nil, nil
		}
	case []parley.ChannelAddress:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// unmarshalJSON decodes data into v, treating NULL as absent.
func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
