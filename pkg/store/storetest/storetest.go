// Package storetest holds the behaviour every store.Repository adapter must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/store"
)

// Factory returns an empty repository. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Repository

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises the repository contract against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("Actors", func(t *testing.T) { testActors(t, newRepo(t)) })
	t.Run("RoomRoundTrip", func(t *testing.T) { testRoomRoundTrip(t, newRepo(t)) })
	t.Run("RoomsByParticipant", func(t *testing.T) { testRoomsByParticipant(t, newRepo(t)) })
	t.Run("DirectRoom", func(t *testing.T) { testDirectRoom(t, newRepo(t)) })
	t.Run("SaveRoom", func(t *testing.T) { testSaveRoom(t, newRepo(t)) })
	t.Run("MessagesByRoom", func(t *testing.T) { testMessagesByRoom(t, newRepo(t)) })
	t.Run("Receipts", func(t *testing.T) { testReceipts(t, newRepo(t)) })
	t.Run("SaveMessage", func(t *testing.T) { testSaveMessage(t, newRepo(t)) })
	t.Run("Forwarded", func(t *testing.T) { testForwarded(t, newRepo(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newRepo(t)) })
}

func group(id string, at time.Time, members ...string) *chat.Room {
	r := &chat.Room{
		ID:           id,
		Name:         "room " + id,
		Type:         chat.RoomGroup,
		CreatedBy:    members[0],
		LastActivity: at,
		IsActive:     true,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	for i, m := range members {
		role := chat.RoleMember
		if i == 0 {
			role = chat.RoleAdmin
		}
		r.Participants = append(r.Participants, chat.Participant{ActorID: m, Role: role, JoinedAt: at, LastSeen: at})
	}
	return r
}

func message(id, roomID, sender string, at time.Time) *chat.Message {
	return &chat.Message{ID: id, RoomID: roomID, SenderID: sender, Content: "hi " + id, Type: chat.MessageText, CreatedAt: at}
}

func mustCreateRoom(t *testing.T, repo store.Repository, r *chat.Room) {
	t.Helper()
	if err := repo.CreateRoom(context.Background(), r); err != nil {
		t.Fatalf("CreateRoom(%s) failed: %v", r.ID, err)
	}
}

func mustCreateMessage(t *testing.T, repo store.Repository, m *chat.Message) {
	t.Helper()
	if err := repo.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("CreateMessage(%s) failed: %v", m.ID, err)
	}
}

func testActors(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	for _, a := range []chat.Actor{{ID: "u1", Name: "Ann"}, {ID: "u2", Name: "Bo", Email: "bo@example.com"}} {
		if err := repo.CreateActor(ctx, a); err != nil {
			t.Fatalf("CreateActor failed: %v", err)
		}
	}
	got, err := repo.FindActorByID(ctx, "u2")
	if err != nil {
		t.Fatalf("FindActorByID failed: %v", err)
	}
	if got.Name != "Bo" || got.Email != "bo@example.com" {
		t.Errorf("unexpected actor: %+v", got)
	}
	list, err := repo.FindActorsByIDs(ctx, []string{"u1", "missing", "u2"})
	if err != nil {
		t.Fatalf("FindActorsByIDs failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 actors, got %d", len(list))
	}
}

func testRoomRoundTrip(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	r := group("r1", base, "u1", "u2", "u3")
	r.Description = "planning"
	mustCreateRoom(t, repo, r)

	got, err := repo.FindRoomByID(ctx, "r1")
	if err != nil {
		t.Fatalf("FindRoomByID failed: %v", err)
	}
	if got.Name != r.Name || got.Description != "planning" || got.Type != chat.RoomGroup || !got.IsActive {
		t.Errorf("room fields not preserved: %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("expected createdAt %v, got %v", base, got.CreatedAt)
	}
	if len(got.Participants) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(got.Participants))
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if got.Participants[i].ActorID != want {
			t.Errorf("participant %d: expected %s, got %s", i, want, got.Participants[i].ActorID)
		}
	}
	if role, _ := got.RoleOf("u1"); role != chat.RoleAdmin {
		t.Errorf("expected u1 admin, got %s", role)
	}
}

func testRoomsByParticipant(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	mustCreateRoom(t, repo, group("old", base, "u1", "u2"))
	mustCreateRoom(t, repo, group("new", base.Add(time.Hour), "u1", "u3"))
	inactive := group("gone", base.Add(2*time.Hour), "u1")
	inactive.IsActive = false
	mustCreateRoom(t, repo, inactive)

	rooms, err := repo.FindRoomsByParticipant(ctx, "u1")
	if err != nil {
		t.Fatalf("FindRoomsByParticipant failed: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 active rooms, got %d", len(rooms))
	}
	if rooms[0].ID != "new" || rooms[1].ID != "old" {
		t.Errorf("expected most recent first, got %s, %s", rooms[0].ID, rooms[1].ID)
	}

	if err := repo.TouchRoom(ctx, "old", "m9", base.Add(3*time.Hour)); err != nil {
		t.Fatalf("TouchRoom failed: %v", err)
	}
	rooms, _ = repo.FindRoomsByParticipant(ctx, "u1")
	if rooms[0].ID != "old" || rooms[0].LastMessageID != "m9" {
		t.Errorf("expected touched room first with last message m9, got %+v", rooms[0])
	}
}

func testDirectRoom(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	d := group("d1", base, "u1", "u2")
	d.Type = chat.RoomDirect
	mustCreateRoom(t, repo, d)
	mustCreateRoom(t, repo, group("g1", base, "u1", "u2"))

	got, err := repo.FindDirectRoom(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("FindDirectRoom failed: %v", err)
	}
	if got.ID != "d1" {
		t.Errorf("expected d1, got %s", got.ID)
	}
	if _, err := repo.FindDirectRoom(ctx, "u1", "u3"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testSaveRoom(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	mustCreateRoom(t, repo, group("r1", base, "u1", "u2"))

	r, _ := repo.FindRoomByID(ctx, "r1")
	later := base.Add(time.Minute)
	if _, err := r.RemoveParticipant("u2", later); err != nil {
		t.Fatalf("RemoveParticipant failed: %v", err)
	}
	if _, err := r.AddParticipant("u4", chat.RoleModerator, later); err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	r.Name = "renamed"
	if err := repo.SaveRoom(ctx, r); err != nil {
		t.Fatalf("SaveRoom failed: %v", err)
	}

	got, _ := repo.FindRoomByID(ctx, "r1")
	if got.Name != "renamed" {
		t.Errorf("expected renamed, got %s", got.Name)
	}
	if got.IsParticipant("u2") || !got.IsParticipant("u4") {
		t.Errorf("participants not replaced: %+v", got.Participants)
	}
	if role, _ := got.RoleOf("u4"); role != chat.RoleModerator {
		t.Errorf("expected moderator, got %s", role)
	}

	if err := repo.TouchParticipant(ctx, "r1", "u1", base.Add(time.Hour)); err != nil {
		t.Fatalf("TouchParticipant failed: %v", err)
	}
	got, _ = repo.FindRoomByID(ctx, "r1")
	if !got.Participants[0].LastSeen.Equal(base.Add(time.Hour)) {
		t.Errorf("expected lastSeen updated, got %v", got.Participants[0].LastSeen)
	}
}

func testMessagesByRoom(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	mustCreateRoom(t, repo, group("r1", base, "u1", "u2"))
	mustCreateRoom(t, repo, group("r2", base, "u1"))
	for i := 0; i < 5; i++ {
		mustCreateMessage(t, repo, message(fmt.Sprintf("m%d", i), "r1", "u1", base.Add(time.Duration(i)*time.Second)))
	}
	mustCreateMessage(t, repo, message("other", "r2", "u1", base))

	msgs, err := repo.FindMessagesByRoom(ctx, "r1", time.Time{}, 3)
	if err != nil {
		t.Fatalf("FindMessagesByRoom failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if msgs[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, msgs[i].ID)
		}
	}

	msgs, _ = repo.FindMessagesByRoom(ctx, "r1", base.Add(2*time.Second), 10)
	if len(msgs) != 2 || msgs[0].ID != "m0" || msgs[1].ID != "m1" {
		t.Errorf("expected m0, m1 strictly before cursor, got %d messages", len(msgs))
	}

	unread, err := repo.CountUnread(ctx, "r1", "u2")
	if err != nil {
		t.Fatalf("CountUnread failed: %v", err)
	}
	if unread != 5 {
		t.Errorf("expected 5 unread, got %d", unread)
	}
	if n, _ := repo.CountUnread(ctx, "r1", "u1"); n != 0 {
		t.Errorf("sender's own messages are not unread, got %d", n)
	}
}

func testReceipts(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	mustCreateRoom(t, repo, group("r1", base, "u1", "u2"))
	mustCreateMessage(t, repo, message("m1", "r1", "u1", base))

	for i := 0; i < 3; i++ {
		if err := repo.MarkRead(ctx, "m1", "u2", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("MarkRead failed: %v", err)
		}
	}
	if err := repo.MarkDelivered(ctx, "m1", "u2", base); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	if err := repo.AddDeletedFor(ctx, "m1", "u2"); err != nil {
		t.Fatalf("AddDeletedFor failed: %v", err)
	}
	if err := repo.AddDeletedFor(ctx, "m1", "u2"); err != nil {
		t.Fatalf("second AddDeletedFor failed: %v", err)
	}

	m, err := repo.FindMessageByID(ctx, "m1")
	if err != nil {
		t.Fatalf("FindMessageByID failed: %v", err)
	}
	if len(m.ReadBy) != 1 || m.ReadBy[0].ActorID != "u2" {
		t.Errorf("expected a single read receipt, got %+v", m.ReadBy)
	}
	if !m.ReadBy[0].At.Equal(base) {
		t.Errorf("expected the first read time to stick, got %v", m.ReadBy[0].At)
	}
	if len(m.DeliveredTo) != 1 {
		t.Errorf("expected a single delivery receipt, got %+v", m.DeliveredTo)
	}
	if len(m.DeletedFor) != 1 || !m.HiddenFor("u2") {
		t.Errorf("expected hidden for u2 once, got %v", m.DeletedFor)
	}
	if n, _ := repo.CountUnread(ctx, "r1", "u2"); n != 0 {
		t.Errorf("expected 0 unread after read, got %d", n)
	}

	if err := repo.MarkRead(ctx, "missing", "u2", base); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing message, got %v", err)
	}
}

func testSaveMessage(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	mustCreateRoom(t, repo, group("r1", base, "u1", "u2"))
	mustCreateMessage(t, repo, message("m1", "r1", "u1", base))
	if err := repo.MarkRead(ctx, "m1", "u2", base); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	m, _ := repo.FindMessageByID(ctx, "m1")
	m.Tombstone(chat.DefaultTombstone, base.Add(time.Minute))
	if err := repo.SaveMessage(ctx, m); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	got, _ := repo.FindMessageByID(ctx, "m1")
	if !got.IsDeleted || got.Content != chat.DefaultTombstone {
		t.Errorf("expected tombstone, got %+v", got)
	}
	if got.DeletedAt == nil || !got.DeletedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("expected deletedAt set, got %v", got.DeletedAt)
	}
	if len(got.ReadBy) != 1 {
		t.Errorf("SaveMessage must not drop receipts, got %+v", got.ReadBy)
	}
	if n, _ := repo.CountUnread(ctx, "r1", "u2"); n != 0 {
		t.Errorf("deleted messages are not unread, got %d", n)
	}
}

func testForwarded(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	mustCreateRoom(t, repo, group("r1", base, "u1", "u2"))
	mustCreateMessage(t, repo, message("m1", "r1", "u1", base))
	fwd := message("m2", "r1", "u2", base.Add(time.Second))
	fwd.ForwardedFrom = &chat.ForwardedFrom{
		OriginalMessage: "m1",
		OriginalSender:  "u1",
		OriginalRoom:    "r1",
		ForwardedBy:     "u2",
		ForwardedAt:     base.Add(time.Second),
	}
	mustCreateMessage(t, repo, fwd)

	msgs, err := repo.FindMessagesByIDs(ctx, []string{"m1", "m2"})
	if err != nil {
		t.Fatalf("FindMessagesByIDs failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		switch m.ID {
		case "m1":
			if m.IsForwarded() {
				t.Errorf("m1 should not be forwarded")
			}
		case "m2":
			if !m.IsForwarded() || m.ForwardedFrom.OriginalMessage != "m1" || m.ForwardedFrom.ForwardedBy != "u2" {
				t.Errorf("forward metadata not preserved: %+v", m.ForwardedFrom)
			}
		}
	}
}

func testNotFound(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	if _, err := repo.FindActorByID(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindActorByID: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.FindRoomByID(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindRoomByID: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.FindMessageByID(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindMessageByID: expected ErrNotFound, got %v", err)
	}
	if err := repo.SaveRoom(ctx, group("nope", base, "u1")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SaveRoom: expected ErrNotFound, got %v", err)
	}
	if err := repo.SaveMessage(ctx, message("nope", "r", "u", base)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SaveMessage: expected ErrNotFound, got %v", err)
	}
}
