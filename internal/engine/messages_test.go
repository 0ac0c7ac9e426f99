package engine_test

import (
	"strings"
	"testing"
	"time"

	"github.com/a-essam23/go-chat/internal/engine"
	"github.com/a-essam23/go-chat/pkg/chat"
)

func TestEditWindowScenario(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r", chat.RoomGroup, "alice", "bob")
	alice, bob := h.connect("alice"), h.connect("bob")

	msg := h.send(alice, "r", "hello")

	h.clock.Set(t0.Add(20 * time.Minute))
	_, err := h.eng.EditMessage(h.ctx, bob.sess, engine.EditMessageRequest{MessageID: msg.ID, Content: "hijack"})
	expectKind(t, err, chat.ErrStaleEditWindow)

	h.clock.Set(t0.Add(5 * time.Minute))
	ev, err := h.eng.EditMessage(h.ctx, alice.sess, engine.EditMessageRequest{MessageID: msg.ID, Content: "hello, world"})
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if !ev.IsEdited || ev.Content != "hello, world" {
		t.Errorf("unexpected edit event %+v", ev)
	}
	stored := h.message(msg.ID)
	if !stored.IsEdited || stored.EditedAt == nil || !stored.EditedAt.Equal(t0.Add(5*time.Minute)) {
		t.Errorf("edit not persisted: %+v", stored)
	}
	if _, ok := bob.rec.Last(engine.EventMessageEdited); !ok {
		t.Error("bob should receive message_edited")
	}
}

func TestEditRejections(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r", chat.RoomGroup, "alice", "bob")
	alice, bob := h.connect("alice"), h.connect("bob")
	msg := h.send(alice, "r", "hello")

	h.clock.Set(t0.Add(time.Minute))
	_, err := h.eng.EditMessage(h.ctx, bob.sess, engine.EditMessageRequest{MessageID: msg.ID, Content: "mine now"})
	expectKind(t, err, chat.ErrAuthorization)

	_, err = h.eng.EditMessage(h.ctx, alice.sess, engine.EditMessageRequest{MessageID: msg.ID, Content: "   "})
	expectKind(t, err, chat.ErrValidation)

	_, err = h.eng.EditMessage(h.ctx, alice.sess, engine.EditMessageRequest{MessageID: "missing", Content: "x"})
	expectKind(t, err, chat.ErrNotFound)

	if h.message(msg.ID).Content != "hello" {
		t.Error("rejected edits must not change the message")
	}
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r", chat.RoomGroup, "alice", "bob")
	alice, carol := h.connect("alice"), h.connect("carol")

	tests := []struct {
		name   string
		client client
		req    engine.SendMessageRequest
		want   error
	}{
		{"empty content", alice, engine.SendMessageRequest{RoomID: "r", Content: "  \n"}, chat.ErrValidation},
		{"too long", alice, engine.SendMessageRequest{RoomID: "r", Content: strings.Repeat("x", 1001)}, chat.ErrValidation},
		{"bad type", alice, engine.SendMessageRequest{RoomID: "r", Content: "x", MessageType: "video"}, chat.ErrValidation},
		{"unknown room", alice, engine.SendMessageRequest{RoomID: "nope", Content: "x"}, chat.ErrNotFound},
		{"not a participant", carol, engine.SendMessageRequest{RoomID: "r", Content: "x"}, chat.ErrAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.eng.SendMessage(h.ctx, tt.client.sess, tt.req)
			expectKind(t, err, tt.want)
		})
	}
	msgs, _ := h.repo.FindMessagesByRoom(h.ctx, "r", time.Time{}, 0)
	if len(msgs) != 0 {
		t.Errorf("rejected sends must not persist, found %d", len(msgs))
	}
	if len(alice.rec.Events(engine.EventNewMessage)) != 0 {
		t.Error("rejected sends must not broadcast")
	}
}

func TestSendBroadcastsAndMarksPresentDelivered(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r", chat.RoomGroup, "alice", "bob", "carol")
	alice, bob := h.connect("alice"), h.connect("bob")

	first := h.send(alice, "r", "first")
	h.clock.Set(t0.Add(time.Second))
	v, err := h.eng.SendMessage(h.ctx, alice.sess, engine.SendMessageRequest{RoomID: "r", Content: " reply ", ReplyTo: first.ID})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if v.Content != "reply" {
		t.Errorf("content should be trimmed, got %q", v.Content)
	}
	if v.Reply == nil || v.Reply.ID != first.ID || v.Reply.Sender.ID != "alice" {
		t.Errorf("expected reply preview of %s, got %+v", first.ID, v.Reply)
	}

	f, ok := bob.rec.Last(engine.EventNewMessage)
	if !ok {
		t.Fatal("bob should receive new_message")
	}
	got := decode[engine.MessageView](t, f)
	if got.ID != v.ID || got.Sender.Name != "alice-name" || got.MessageType != chat.MessageText {
		t.Errorf("unexpected broadcast payload %+v", got)
	}

	stored := h.message(v.ID)
	if !stored.DeliveredToActor("bob") {
		t.Error("online participant should be marked delivered")
	}
	if stored.DeliveredToActor("carol") || stored.DeliveredToActor("alice") {
		t.Error("offline participants and the sender are not marked delivered")
	}
	room := h.room("r")
	if room.LastMessageID != v.ID || !room.LastActivity.Equal(t0.Add(time.Second)) {
		t.Errorf("room activity not updated: %+v", room)
	}
}

func TestReplyToOtherRoomIsKeptWithoutPreview(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r1", chat.RoomGroup, "alice", "bob")
	h.seedRoom("r2", chat.RoomGroup, "alice")
	alice := h.connect("alice")
	other := h.send(alice, "r2", "elsewhere")

	v, err := h.eng.SendMessage(h.ctx, alice.sess, engine.SendMessageRequest{RoomID: "r1", Content: "x", ReplyTo: other.ID})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if v.Reply != nil {
		t.Error("cross-room reply should not carry a preview")
	}
	if h.message(v.ID).ReplyTo != other.ID {
		t.Error("replyTo should be stored as given")
	}
}

func TestDeleteForEveryoneVisibleToAll(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r", chat.RoomGroup, "alice", "bob", "carol")
	alice, bob, carol := h.connect("alice"), h.connect("bob"), h.connect("carol")
	msg := h.send(bob, "r", "oops")

	if _, err := h.eng.DeleteMessage(h.ctx, carol.sess, engine.DeleteMessageRequest{MessageID: msg.ID, ForEveryone: true}); err == nil {
		t.Fatal("a plain member must not delete another member's message for everyone")
	}

	ev, err := h.eng.DeleteMessage(h.ctx, bob.sess, engine.DeleteMessageRequest{MessageID: msg.ID, ForEveryone: true})
	if err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if ev.Content != chat.DefaultTombstone || !ev.IsDeleted {
		t.Errorf("unexpected delete event %+v", ev)
	}
	for _, c := range []client{alice, bob, carol} {
		f, ok := c.rec.Last(engine.EventMessageDeleted)
		if !ok || !decode[engine.MessageDeletedEvent](t, f).ForEveryone {
			t.Errorf("%s should see the delete for everyone", c.sess.Actor.ID)
		}
		page, err := h.eng.FetchMessages(h.ctx, c.sess, engine.FetchMessagesRequest{RoomID: "r"})
		if err != nil {
			t.Fatalf("FetchMessages failed: %v", err)
		}
		if len(page.Messages) != 1 || page.Messages[0].Content != chat.DefaultTombstone {
			t.Errorf("%s should see the tombstone, got %+v", c.sess.Actor.ID, page.Messages)
		}
	}
}

func TestModeratorDeletesForEveryone(t *testing.T) {
	h := newHarness(t)
	r := h.seedRoom("r", chat.RoomGroup, "alice", "bob", "carol")
	r.Participants[2].Role = chat.RoleModerator
	if err := h.repo.SaveRoom(h.ctx, r); err != nil {
		t.Fatal(err)
	}
	bob, carol := h.connect("bob"), h.connect("carol")
	msg := h.send(bob, "r", "spam")

	if _, err := h.eng.DeleteMessage(h.ctx, carol.sess, engine.DeleteMessageRequest{MessageID: msg.ID, ForEveryone: true}); err != nil {
		t.Fatalf("moderator delete failed: %v", err)
	}
	if !h.message(msg.ID).IsDeleted {
		t.Error("message should be tombstoned")
	}
}

func TestDeleteForMeOnlyAffectsRequester(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r", chat.RoomGroup, "alice", "bob")
	alice, bob := h.connect("alice"), h.connect("bob")
	msg := h.send(alice, "r", "keep me")
	alice.rec.Reset()

	if _, err := h.eng.DeleteMessage(h.ctx, bob.sess, engine.DeleteMessageRequest{MessageID: msg.ID}); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if _, ok := bob.rec.Last(engine.EventMessageDeleted); !ok {
		t.Error("requester should be notified")
	}
	if len(alice.rec.Events(engine.EventMessageDeleted)) != 0 {
		t.Error("delete-for-me must not reach other participants")
	}

	bobPage, _ := h.eng.FetchMessages(h.ctx, bob.sess, engine.FetchMessagesRequest{RoomID: "r"})
	if len(bobPage.Messages) != 0 {
		t.Errorf("bob should no longer see the message, got %d", len(bobPage.Messages))
	}
	alicePage, _ := h.eng.FetchMessages(h.ctx, alice.sess, engine.FetchMessagesRequest{RoomID: "r"})
	if len(alicePage.Messages) != 1 || alicePage.Messages[0].Content != "keep me" {
		t.Errorf("alice should still see the original, got %+v", alicePage.Messages)
	}
}

func TestMarkAsReadIsIdempotentAndIndependentOfDelivery(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r", chat.RoomGroup, "alice", "bob")
	alice := h.connect("alice")
	msg := h.send(alice, "r", "read me") // bob offline: no delivery receipt
	bob := h.connect("bob")

	for i := 0; i < 3; i++ {
		if _, err := h.eng.MarkAsRead(h.ctx, bob.sess, engine.MarkAsReadRequest{RoomID: "r", MessageIDs: []string{msg.ID, msg.ID}}); err != nil {
			t.Fatalf("MarkAsRead failed: %v", err)
		}
	}
	stored := h.message(msg.ID)
	if len(stored.ReadBy) != 1 {
		t.Errorf("expected one read receipt, got %+v", stored.ReadBy)
	}
	if len(stored.DeliveredTo) != 0 {
		t.Errorf("read must not back-fill delivery, got %+v", stored.DeliveredTo)
	}
	if len(alice.rec.Events(engine.EventMessagesRead)) != 3 {
		t.Error("alice should be told about each read event")
	}
	if len(bob.rec.Events(engine.EventMessagesRead)) != 0 {
		t.Error("the reader is excluded from messages_read")
	}

	_, err := h.eng.MarkAsRead(h.ctx, bob.sess, engine.MarkAsReadRequest{RoomID: "r"})
	expectKind(t, err, chat.ErrValidation)
}

func TestFetchMessagesPagesAndMarksDelivered(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r", chat.RoomGroup, "alice", "bob")
	alice := h.connect("alice")
	var ids []string
	for i := 0; i < 5; i++ {
		h.clock.Set(t0.Add(time.Duration(i) * time.Second))
		ids = append(ids, h.send(alice, "r", "m").ID)
	}
	bob := h.connect("bob")

	page, err := h.eng.FetchMessages(h.ctx, bob.sess, engine.FetchMessagesRequest{RoomID: "r", Limit: 3})
	if err != nil {
		t.Fatalf("FetchMessages failed: %v", err)
	}
	if len(page.Messages) != 3 || !page.HasMore {
		t.Fatalf("expected 3 messages with more, got %d hasMore=%v", len(page.Messages), page.HasMore)
	}
	if page.Messages[0].ID != ids[2] || page.Messages[2].ID != ids[4] {
		t.Error("expected the newest three, oldest first")
	}
	if !h.message(ids[4]).DeliveredToActor("bob") {
		t.Error("fetched messages should be marked delivered to the requester")
	}
	if h.message(ids[0]).DeliveredToActor("bob") {
		t.Error("unfetched messages stay undelivered")
	}

	before := page.Messages[0].CreatedAt
	older, _ := h.eng.FetchMessages(h.ctx, bob.sess, engine.FetchMessagesRequest{RoomID: "r", Before: &before, Limit: 3})
	if len(older.Messages) != 2 || older.HasMore {
		t.Errorf("expected the two oldest and no more, got %d", len(older.Messages))
	}
	if _, ok := bob.rec.Last(engine.EventMessages); !ok {
		t.Error("requester should receive messages")
	}
}

func TestUnreadCount(t *testing.T) {
	h := newHarness(t)
	h.seedRoom("r", chat.RoomGroup, "alice", "bob")
	alice, bob := h.connect("alice"), h.connect("bob")
	m1 := h.send(alice, "r", "one")
	h.send(alice, "r", "two")

	ev, err := h.eng.UnreadCount(h.ctx, bob.sess, "r")
	if err != nil || ev.Count != 2 {
		t.Fatalf("expected 2 unread, got %+v %v", ev, err)
	}
	if _, err := h.eng.MarkAsRead(h.ctx, bob.sess, engine.MarkAsReadRequest{RoomID: "r", MessageIDs: []string{m1.ID}}); err != nil {
		t.Fatal(err)
	}
	ev, _ = h.eng.UnreadCount(h.ctx, bob.sess, "r")
	if ev.Count != 1 {
		t.Errorf("expected 1 unread, got %d", ev.Count)
	}
}
