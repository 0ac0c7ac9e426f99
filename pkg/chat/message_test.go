package chat_test

import (
	"errors"
	"testing"
	"time"

	"github.com/a-essam23/go-chat/pkg/chat"
)

var created = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestCheckEdit(t *testing.T) {
	window := chat.DefaultEditWindow
	deletedAt := created.Add(time.Minute)

	tests := []struct {
		name    string
		msg     chat.Message
		actor   string
		now     time.Time
		wantErr error
	}{
		{"sender inside window", chat.Message{SenderID: "alice", CreatedAt: created}, "alice", created.Add(10 * time.Minute), nil},
		{"just before the window closes", chat.Message{SenderID: "alice", CreatedAt: created}, "alice", created.Add(window - time.Nanosecond), nil},
		{"exactly at the window", chat.Message{SenderID: "alice", CreatedAt: created}, "alice", created.Add(window), chat.ErrStaleEditWindow},
		{"past the window", chat.Message{SenderID: "alice", CreatedAt: created}, "alice", created.Add(20 * time.Minute), chat.ErrStaleEditWindow},
		{"stale wins over ownership", chat.Message{SenderID: "alice", CreatedAt: created}, "bob", created.Add(20 * time.Minute), chat.ErrStaleEditWindow},
		{"not the sender", chat.Message{SenderID: "alice", CreatedAt: created}, "bob", created.Add(time.Minute), chat.ErrAuthorization},
		{"deleted", chat.Message{SenderID: "alice", CreatedAt: created, IsDeleted: true, DeletedAt: &deletedAt}, "alice", created.Add(time.Minute), chat.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := chat.CheckEdit(&tt.msg, tt.actor, tt.now, window)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected editable, got %v", err)
				}
				if !chat.IsEditable(&tt.msg, tt.actor, tt.now, window) {
					t.Error("IsEditable disagrees with CheckEdit")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestReceiptsAreSets(t *testing.T) {
	m := &chat.Message{ID: "m1", SenderID: "alice", CreatedAt: created}

	if !m.MarkRead("bob", created.Add(time.Minute)) {
		t.Fatal("first read should insert")
	}
	if m.MarkRead("bob", created.Add(time.Hour)) {
		t.Error("second read must be a no-op")
	}
	if len(m.ReadBy) != 1 || !m.ReadBy[0].At.Equal(created.Add(time.Minute)) {
		t.Errorf("first read time should stick, got %+v", m.ReadBy)
	}
	if m.DeliveredToActor("bob") {
		t.Error("reading must not imply delivery")
	}

	m.MarkDelivered("bob", created)
	m.MarkDelivered("bob", created)
	if len(m.DeliveredTo) != 1 {
		t.Errorf("expected one delivery receipt, got %d", len(m.DeliveredTo))
	}
}

func TestHideForAndTombstone(t *testing.T) {
	m := &chat.Message{ID: "m1", SenderID: "alice", Content: "hi"}
	m.HideFor("bob")
	if m.HideFor("bob") {
		t.Error("hiding twice must be a no-op")
	}
	if !m.HiddenFor("bob") || m.HiddenFor("alice") {
		t.Error("HiddenFor should only be true for bob")
	}

	m.Tombstone(chat.DefaultTombstone, created)
	if !m.IsDeleted || m.Content != chat.DefaultTombstone || m.DeletedAt == nil {
		t.Errorf("unexpected tombstone %+v", m)
	}
}
