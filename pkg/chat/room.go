package chat

import "time"

// --- Membership index ---

func (r *Room) IsParticipant(actorID string) bool {
	_, ok := r.RoleOf(actorID)
	return ok
}

func (r *Room) RoleOf(actorID string) (Role, bool) {
	if p := r.participant(actorID); p != nil {
		return p.Role, true
	}
	return "", false
}

// CanModerate reports whether actorID is an admin or moderator of the room.
func (r *Room) CanModerate(actorID string) bool {
	role, ok := r.RoleOf(actorID)
	return ok && role.CanModerate()
}

func (r *Room) ParticipantIDs() []string {
	ids := make([]string, len(r.Participants))
	for i, p := range r.Participants {
		ids[i] = p.ActorID
	}
	return ids
}

func (r *Room) participant(actorID string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].ActorID == actorID {
			return &r.Participants[i]
		}
	}
	return nil
}

// --- Membership mutations ---
// These only change the in-memory value; callers persist with SaveRoom.

// AddParticipant adds actorID with role. It is a no-op returning false when already present.
func (r *Room) AddParticipant(actorID string, role Role, at time.Time) (bool, error) {
	if r.Type == RoomDirect {
		return false, Validation("Cannot add participants to direct rooms")
	}
	if r.IsParticipant(actorID) {
		return false, nil
	}
	r.Participants = append(r.Participants, Participant{
		ActorID:  actorID,
		Role:     role,
		JoinedAt: at,
		LastSeen: at,
	})
	r.UpdatedAt = at
	return true, nil
}

func (r *Room) RemoveParticipant(actorID string, at time.Time) (bool, error) {
	if r.Type == RoomDirect {
		return false, Validation("Cannot remove participants from direct rooms")
	}
	for i, p := range r.Participants {
		if p.ActorID == actorID {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			r.UpdatedAt = at
			return true, nil
		}
	}
	return false, nil
}

func (r *Room) SetRole(actorID string, role Role, at time.Time) error {
	if r.Type == RoomDirect {
		return Validation("Cannot change roles in direct rooms")
	}
	p := r.participant(actorID)
	if p == nil {
		return NotFound("User is not a participant in this room")
	}
	p.Role = role
	r.UpdatedAt = at
	return nil
}

// EnsureAdmin promotes the earliest remaining participant, whatever its role, when no admin is left.
// It returns the promoted actor id, or "" when nothing changed. Direct rooms have no admins.
func (r *Room) EnsureAdmin(at time.Time) string {
	if r.Type == RoomDirect || len(r.Participants) == 0 {
		return ""
	}
	for _, p := range r.Participants {
		if p.Role == RoleAdmin {
			return ""
		}
	}
	r.Participants[0].Role = RoleAdmin
	r.UpdatedAt = at
	return r.Participants[0].ActorID
}

// Validate checks the structural invariants of a room about to be created.
func (r *Room) Validate() error {
	if r.Name == "" {
		return Validation("Room name is required")
	}
	if len([]rune(r.Name)) > 50 {
		return Validation("Room name must be at most 50 characters")
	}
	seen := make(map[string]struct{}, len(r.Participants))
	for _, p := range r.Participants {
		if _, dup := seen[p.ActorID]; dup {
			return Validation("Duplicate participant " + p.ActorID)
		}
		seen[p.ActorID] = struct{}{}
	}
	if r.Type == RoomDirect && len(r.Participants) != 2 {
		return Validation("Direct rooms must have exactly 2 participants")
	}
	return nil
}
