package parley

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the core. Use errors.Is for classification.
var (
	// ErrNotFound is returned by store lookups for missing entities.
	ErrNotFound = errors.New("not found")

	// ErrRoomClosed rejects inbound events routed to a closed room.
	ErrRoomClosed = errors.New("room is closed")

	// ErrRoutingFailed means no room matched and auto-create is disabled.
	ErrRoutingFailed = errors.New("routing failed: no room for inbound message")

	// ErrCircuitOpen short-circuits delivery while a channel's breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrNotTranscodable means the content cannot be expressed within the
	// target binding's capabilities.
	ErrNotTranscodable = errors.New("content not transcodable for target capabilities")

	// ErrDuplicateIdempotencyKey is returned by Store.AddEvent when an event
	// with the same (room_id, idempotency_key) already exists. The previously
	// stored event accompanies the error.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrChannelRegistered rejects registration of an already-known channel id.
	ErrChannelRegistered = errors.New("channel id already registered")

	// ErrChannelUnknown means no registered channel matches the id.
	ErrChannelUnknown = errors.New("unknown channel id")
)

// ErrStore wraps a storage failure. Store errors are fatal to the pipeline
// run and propagate to the caller.
type ErrStore struct {
	Op  string
	Err error
}

func (e *ErrStore) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *ErrStore) Unwrap() error { return e.Err }

// storeErr wraps err as an *ErrStore unless it is nil or already one.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ErrStore
	if errors.As(err, &se) {
		return err
	}
	return &ErrStore{Op: op, Err: err}
}

// HookError records a hook that failed or timed out. Hook errors never fail
// the pipeline; they are collected on the outcome and emitted as hook_error
// framework events.
type HookError struct {
	Hook    string  `json:"hook"`
	Trigger Trigger `json:"trigger"`
	Err     error   `json:"-"`
}

func (e HookError) Error() string {
	return fmt.Sprintf("hook %q (%s): %v", e.Hook, e.Trigger, e.Err)
}
