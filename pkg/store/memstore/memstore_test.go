package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/store"
	"github.com/a-essam23/go-chat/pkg/store/memstore"
	"github.com/a-essam23/go-chat/pkg/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository { return memstore.New() })
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	now := time.Now()
	room := &chat.Room{
		ID: "r1", Name: "copy", Type: chat.RoomGroup, IsActive: true,
		Participants: []chat.Participant{{ActorID: "u1", Role: chat.RoleAdmin, JoinedAt: now}},
	}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	room.Participants[0].Role = chat.RoleMember

	got, _ := s.FindRoomByID(ctx, "r1")
	if got.Participants[0].Role != chat.RoleAdmin {
		t.Fatalf("stored room aliased caller slice")
	}
	got.Participants = append(got.Participants, chat.Participant{ActorID: "u2"})

	again, _ := s.FindRoomByID(ctx, "r1")
	if len(again.Participants) != 1 {
		t.Errorf("stored room aliased returned slice, got %d participants", len(again.Participants))
	}
}
