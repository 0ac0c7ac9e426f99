package chat

import (
	"slices"
	"time"
)

// DefaultEditWindow is how long after creation a sender may still edit a message.
const DefaultEditWindow = 15 * time.Minute

// DefaultMaxContentLength bounds message content, in runes.
const DefaultMaxContentLength = 1000

// DefaultTombstone replaces the content of a message deleted for everyone.
const DefaultTombstone = "This message was deleted"

// CheckEdit returns nil when actorID may edit m at now. The window is checked before
// ownership, so a late edit is always reported as stale.
func CheckEdit(m *Message, actorID string, now time.Time, window time.Duration) error {
	if m.IsDeleted {
		return Validation("Deleted messages cannot be edited")
	}
	if now.Sub(m.CreatedAt) >= window {
		return StaleEditWindow("Message is too old to edit")
	}
	if m.SenderID != actorID {
		return Authorization("You can only edit your own messages")
	}
	return nil
}

func IsEditable(m *Message, actorID string, now time.Time, window time.Duration) bool {
	return CheckEdit(m, actorID, now, window) == nil
}

// HiddenFor reports whether actorID deleted m for themselves.
func (m *Message) HiddenFor(actorID string) bool {
	return slices.Contains(m.DeletedFor, actorID)
}

func (m *Message) IsForwarded() bool { return m.ForwardedFrom != nil }

func (m *Message) DeliveredToActor(actorID string) bool {
	return hasReceipt(m.DeliveredTo, actorID)
}

func (m *Message) ReadByActor(actorID string) bool {
	return hasReceipt(m.ReadBy, actorID)
}

// MarkDelivered inserts a delivery receipt unless one already exists for actorID.
func (m *Message) MarkDelivered(actorID string, at time.Time) bool {
	if m.DeliveredToActor(actorID) {
		return false
	}
	m.DeliveredTo = append(m.DeliveredTo, Receipt{ActorID: actorID, At: at})
	return true
}

// MarkRead inserts a read receipt unless one already exists for actorID.
// It does not touch DeliveredTo.
func (m *Message) MarkRead(actorID string, at time.Time) bool {
	if m.ReadByActor(actorID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, Receipt{ActorID: actorID, At: at})
	return true
}

func (m *Message) HideFor(actorID string) bool {
	if m.HiddenFor(actorID) {
		return false
	}
	m.DeletedFor = append(m.DeletedFor, actorID)
	return true
}

// Tombstone applies delete-for-everyone.
func (m *Message) Tombstone(text string, at time.Time) {
	m.Content = text
	m.IsDeleted = true
	m.DeletedAt = &at
}

func hasReceipt(rs []Receipt, actorID string) bool {
	for _, r := range rs {
		if r.ActorID == actorID {
			return true
		}
	}
	return false
}
