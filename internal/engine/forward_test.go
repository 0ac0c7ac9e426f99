package engine_test

import (
	"testing"
	"time"

	"github.com/a-essam23/go-chat/internal/engine"
	"github.com/a-essam23/go-chat/pkg/chat"
)

func TestForwardScenario(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r", chat.RoomGroup, "alice", "bob")
	h.seedRoom("r2", chat.RoomGroup, "alice", "carol")
	h.seedRoom("r3", chat.RoomGroup, "dave", "alice")
	alice := h.connect("alice") // bob stays offline
	carol := h.connect("carol")
	m := h.send(alice, "r", "look at this")

	ev, err := h.eng.ForwardMessages(h.ctx, alice.sess, engine.ForwardMessagesRequest{
		MessageIDs:    []string{m.ID},
		TargetRoomIDs: []string{"r2", "r3"},
	})
	if err != nil {
		t.Fatalf("ForwardMessages failed: %v", err)
	}
	if ev.Count != 2 || len(ev.ForwardedMessages) != 2 || ev.Failed != 0 {
		t.Errorf("expected 2 forwarded, got %+v", ev)
	}

	for _, roomID := range []string{"r2", "r3"} {
		msgs, _ := h.repo.FindMessagesByRoom(h.ctx, roomID, time.Time{}, 0)
		if len(msgs) != 1 {
			t.Fatalf("%s: expected 1 forwarded message, got %d", roomID, len(msgs))
		}
		f := msgs[0].ForwardedFrom
		if f == nil || f.OriginalMessage != m.ID || f.OriginalRoom != "r" || f.OriginalSender != "alice" || f.ForwardedBy != "alice" {
			t.Errorf("%s: bad provenance %+v", roomID, f)
		}
		if msgs[0].Content != "look at this" {
			t.Errorf("%s: expected original content, got %q", roomID, msgs[0].Content)
		}
		if h.room(roomID).LastMessageID != msgs[0].ID {
			t.Errorf("%s: last message not updated", roomID)
		}
	}
	if len(carol.rec.Events(engine.EventNewMessage)) != 1 {
		t.Error("carol should see exactly the forward into r2")
	}
	if _, ok := alice.rec.Last(engine.EventMessagesForwarded); !ok {
		t.Error("requester should receive messages_forwarded")
	}
}

func TestForwardIsCartesianWithoutDedupe(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("src", chat.RoomGroup, "alice")
	h.seedRoom("a", chat.RoomGroup, "alice")
	h.seedRoom("b", chat.RoomGroup, "alice")
	alice := h.connect("alice")
	m1 := h.send(alice, "src", "one")
	m2 := h.send(alice, "src", "two")

	ev, err := h.eng.ForwardMessages(h.ctx, alice.sess, engine.ForwardMessagesRequest{
		MessageIDs:    []string{m1.ID, m2.ID},
		TargetRoomIDs: []string{"a", "a", "b"},
		Content:       "fyi",
	})
	if err != nil {
		t.Fatalf("ForwardMessages failed: %v", err)
	}
	if ev.Count != 6 || len(ev.ForwardedMessages) != 6 {
		t.Errorf("expected 2x3 = 6 messages, got %d", ev.Count)
	}
	if got := ev.ForwardedMessages[2]; got.RoomID != "b" || got.Content != "fyi" || got.ForwardedFrom == nil || got.ForwardedFrom.OriginalMessage != m1.ID {
		t.Errorf("forwarded copies should follow request order, third was %+v", got)
	}
	inA, _ := h.repo.FindMessagesByRoom(h.ctx, "a", time.Time{}, 0)
	inB, _ := h.repo.FindMessagesByRoom(h.ctx, "b", time.Time{}, 0)
	if len(inA) != 4 || len(inB) != 2 {
		t.Errorf("expected 4 in a and 2 in b, got %d and %d", len(inA), len(inB))
	}
	for _, m := range append(inA, inB...) {
		if m.Content != "fyi" {
			t.Errorf("content override not applied: %q", m.Content)
		}
	}
}

func TestForwardValidatesBeforeWriting(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("src", chat.RoomGroup, "alice", "bob")
	h.seedRoom("mine", chat.RoomGroup, "alice")
	h.seedRoom("theirs", chat.RoomGroup, "carol")
	alice, carol := h.connect("alice"), h.connect("carol")
	m := h.send(alice, "src", "x")
	deleted := h.send(alice, "src", "gone")
	if _, err := h.eng.DeleteMessage(h.ctx, alice.sess, engine.DeleteMessageRequest{MessageID: deleted.ID, ForEveryone: true}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		who  client
		req  engine.ForwardMessagesRequest
		want error
	}{
		{"no messages", alice, engine.ForwardMessagesRequest{TargetRoomIDs: []string{"mine"}}, chat.ErrValidation},
		{"no targets", alice, engine.ForwardMessagesRequest{MessageIDs: []string{m.ID}}, chat.ErrValidation},
		{"missing source", alice, engine.ForwardMessagesRequest{MessageIDs: []string{m.ID, "nope"}, TargetRoomIDs: []string{"mine"}}, chat.ErrNotFound},
		{"deleted source", alice, engine.ForwardMessagesRequest{MessageIDs: []string{deleted.ID}, TargetRoomIDs: []string{"mine"}}, chat.ErrValidation},
		{"missing target", alice, engine.ForwardMessagesRequest{MessageIDs: []string{m.ID}, TargetRoomIDs: []string{"mine", "nope"}}, chat.ErrNotFound},
		{"foreign target", alice, engine.ForwardMessagesRequest{MessageIDs: []string{m.ID}, TargetRoomIDs: []string{"mine", "theirs"}}, chat.ErrAuthorization},
		{"foreign source", carol, engine.ForwardMessagesRequest{MessageIDs: []string{m.ID}, TargetRoomIDs: []string{"theirs"}}, chat.ErrAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.eng.ForwardMessages(h.ctx, tt.who.sess, tt.req)
			expectKind(t, err, tt.want)
		})
	}
	msgs, _ := h.repo.FindMessagesByRoom(h.ctx, "mine", time.Time{}, 0)
	if len(msgs) != 0 {
		t.Errorf("rejected forwards must not write, found %d", len(msgs))
	}
}
