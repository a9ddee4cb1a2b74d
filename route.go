package parley

import (
	"context"
	"errors"
)

// RouteResult names the room an inbound message belongs to, or asks the
// caller to create one.
type RouteResult struct {
	RoomID string
	// Create is set when no existing room matched; the caller materializes
	// a new room and attaches the source channel.
	Create bool
}

// InboundRouter resolves inbound messages to rooms. The default
// implementation queries the store; hosts can plug their own (sticky
// sessions, sharding, explicit thread ids in metadata).
type InboundRouter interface {
	Resolve(ctx context.Context, msg InboundMessage) (RouteResult, error)
}

// storeRouter resolves by binding lookup, then by channel type and
// participant, then falls back to a create sentinel.
type storeRouter struct {
	store Store
}

// NewStoreRouter returns the default store-backed inbound router.
func NewStoreRouter(store Store) InboundRouter {
	return &storeRouter{store: store}
}

func (r *storeRouter) Resolve(ctx context.Context, msg InboundMessage) (RouteResult, error) {
	room, err := r.store.FindRoomByChannel(ctx, msg.ChannelID, msg.ParticipantID)
	if err == nil {
		return RouteResult{RoomID: room.ID}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return RouteResult{}, storeErr("find room by channel", err)
	}

	if msg.ParticipantID != "" {
		room, err = r.store.FindLatestRoom(ctx, msg.ChannelType, msg.ParticipantID)
		if err == nil {
			return RouteResult{RoomID: room.ID}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return RouteResult{}, storeErr("find latest room", err)
		}
	}

	return RouteResult{Create: true}, nil
}

var _ InboundRouter = (*storeRouter)(nil)
