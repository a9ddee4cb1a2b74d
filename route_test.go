package parley

import (
	"context"
	"testing"
)

func TestStoreRouterResolvesByBinding(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room := newTestRoom(t, s)
	s.AddBinding(ctx, ChannelBinding{RoomID: room.ID, ChannelID: "tg-1", ChannelType: "telegram", ParticipantID: "p1"})
	r := NewStoreRouter(s)

	res, err := r.Resolve(ctx, InboundMessage{ChannelID: "tg-1", ChannelType: "telegram", ParticipantID: "p1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Create || res.RoomID != room.ID {
		t.Errorf("result = %+v, want room %s", res, room.ID)
	}
}

func TestStoreRouterFallsBackToLatestRoomByParticipant(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room := newTestRoom(t, s)
	// the participant talked on another channel of the same type before
	s.AddBinding(ctx, ChannelBinding{RoomID: room.ID, ChannelID: "sms-old", ChannelType: "sms", ParticipantID: "p1"})
	r := NewStoreRouter(s)

	res, err := r.Resolve(ctx, InboundMessage{ChannelID: "sms-new", ChannelType: "sms", ParticipantID: "p1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Create || res.RoomID != room.ID {
		t.Errorf("result = %+v, want existing room %s", res, room.ID)
	}
}

func TestStoreRouterAsksForCreateWhenNothingMatches(t *testing.T) {
	r := NewStoreRouter(NewMemoryStore())
	res, err := r.Resolve(context.Background(), InboundMessage{ChannelID: "sms-1", ChannelType: "sms", ParticipantID: "p1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Create {
		t.Errorf("result = %+v, want Create", res)
	}
}
