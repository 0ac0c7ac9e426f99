package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/multicast"
	"github.com/a-essam23/go-chat/pkg/state"
	"github.com/a-essam23/go-chat/pkg/store"
)

// --- Channel membership ---

// JoinRoom subscribes the session to a room it belongs to. Public rooms admit
// non-participants as members.
func (e *Engine) JoinRoom(ctx context.Context, sess *state.Session, roomID string) error {
	actor := sess.Actor
	room, err := e.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	now := e.clock()
	if !room.IsParticipant(actor.ID) {
		if room.Type != chat.RoomPublic || !room.IsActive {
			return chat.Authorization("Not authorized to join this room")
		}
		if _, err := room.AddParticipant(actor.ID, chat.RoleMember, now); err != nil {
			return err
		}
		if err := e.repo.SaveRoom(ctx, room); err != nil {
			return chat.Storage("Failed to join room", err)
		}
	} else {
		e.touch(ctx, room.ID, "", actor.ID, now)
	}

	e.registry.Subscribe(sess, multicast.RoomChannel(room.ID))
	e.bus.Send(sess, EventJoinedRoom, RoomRefEvent{RoomID: room.ID})
	e.bus.Publish(multicast.RoomChannel(room.ID), EventUserJoinedRoom,
		UserRoomEvent{UserID: actor.ID, UserName: actor.Name, RoomID: room.ID},
		multicast.Except(sess.ID),
	)
	return nil
}

// LeaveRoom unsubscribes the session from the room channel. Membership is unchanged.
func (e *Engine) LeaveRoom(ctx context.Context, sess *state.Session, roomID string) error {
	if roomID == "" {
		return chat.Validation("Room ID is required")
	}
	channel := multicast.RoomChannel(roomID)
	e.registry.Unsubscribe(sess, channel)
	e.bus.Send(sess, EventLeftRoom, RoomRefEvent{RoomID: roomID})
	e.bus.Publish(channel, EventUserLeftRoom,
		UserRoomEvent{UserID: sess.Actor.ID, UserName: sess.Actor.Name, RoomID: roomID},
	)
	return nil
}

// --- Room lifecycle ---

// CreateRoom creates a room with the requester as admin. A direct room between two actors
// is unique: asking again returns the existing one.
func (e *Engine) CreateRoom(ctx context.Context, sess *state.Session, req CreateRoomRequest) (*chat.Room, error) {
	actor := sess.Actor
	roomType, ok := chat.ParseRoomType(req.Type)
	if !ok {
		return nil, chat.Validation("Unknown room type " + req.Type)
	}

	others := make([]string, 0, len(req.Participants))
	for _, id := range req.Participants {
		id = strings.TrimSpace(id)
		if id == "" || id == actor.ID || slices.Contains(others, id) {
			continue
		}
		others = append(others, id)
	}
	if roomType == chat.RoomDirect && len(others) != 1 {
		return nil, chat.Validation("Private rooms must have exactly 2 participants")
	}

	known, err := e.repo.FindActorsByIDs(ctx, others)
	if err != nil {
		return nil, chat.Storage("Failed to create room", err)
	}
	if len(known) != len(others) {
		return nil, chat.Validation("Some participants don't exist")
	}

	if roomType == chat.RoomDirect {
		existing, err := e.repo.FindDirectRoom(ctx, actor.ID, others[0])
		switch {
		case err == nil:
			e.registry.Subscribe(sess, multicast.RoomChannel(existing.ID))
			e.bus.Send(sess, EventRoomCreated, existing)
			return existing, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, chat.Storage("Failed to create room", err)
		}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" && roomType == chat.RoomDirect {
		name = actor.Name + ", " + known[0].Name
	}
	now := e.clock()
	room := &chat.Room{
		ID:           newRoomID(),
		Name:         name,
		Description:  strings.TrimSpace(req.Description),
		Type:         roomType,
		CreatedBy:    actor.ID,
		LastActivity: now,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Participants: []chat.Participant{{ActorID: actor.ID, Role: chat.RoleAdmin, JoinedAt: now, LastSeen: now}},
	}
	for _, id := range others {
		room.Participants = append(room.Participants, chat.Participant{ActorID: id, Role: chat.RoleMember, JoinedAt: now, LastSeen: now})
	}
	if roomType == chat.RoomDirect {
		// neither side of a direct room administers it
		room.Participants[0].Role = chat.RoleMember
	}
	if err := room.Validate(); err != nil {
		return nil, err
	}
	if err := e.repo.CreateRoom(ctx, room); err != nil {
		return nil, chat.Storage("Failed to create room", err)
	}

	e.registry.Subscribe(sess, multicast.RoomChannel(room.ID))
	for _, id := range others {
		e.subscribeIfOnline(id, room.ID)
		e.bus.SendToActor(id, EventNewRoom, room)
	}
	e.bus.Send(sess, EventRoomCreated, room)
	e.logger.Info("room created", slog.String("roomID", room.ID), slog.String("type", string(room.Type)))
	return room, nil
}

// UpdateRoom renames or re-describes a room. Admins and moderators only.
func (e *Engine) UpdateRoom(ctx context.Context, sess *state.Session, req UpdateRoomRequest) (*chat.Room, error) {
	room, err := e.loadMembership(ctx, req.RoomID, sess.Actor.ID)
	if err != nil {
		return nil, err
	}
	if room.Type == chat.RoomDirect {
		return nil, chat.Validation("Direct rooms cannot be updated")
	}
	if !room.CanModerate(sess.Actor.ID) {
		return nil, chat.Authorization("Only admins and moderators can update the room")
	}
	if req.Name != nil {
		room.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		room.Description = strings.TrimSpace(*req.Description)
	}
	if err := room.Validate(); err != nil {
		return nil, err
	}
	room.UpdatedAt = e.clock()
	if err := e.repo.SaveRoom(ctx, room); err != nil {
		return nil, chat.Storage("Failed to update room", err)
	}
	e.bus.Publish(multicast.RoomChannel(room.ID), EventRoomUpdated, room)
	return room, nil
}

// --- Membership mutations ---

// AddUser adds an existing actor to the room as a member. Admins and moderators only.
func (e *Engine) AddUser(ctx context.Context, sess *state.Session, req MemberRequest) error {
	actorID := sess.Actor.ID
	room, err := e.loadMembership(ctx, req.RoomID, actorID)
	if err != nil {
		return err
	}
	if room.Type == chat.RoomDirect {
		return chat.Validation("Cannot add participants to direct rooms")
	}
	if !room.CanModerate(actorID) {
		return chat.Authorization("Not authorized to add users")
	}
	target, err := e.loadActor(ctx, req.Target())
	if err != nil {
		return err
	}
	added, err := room.AddParticipant(target.ID, chat.RoleMember, e.clock())
	if err != nil {
		return err
	}
	if !added {
		return chat.Validation("User is already a participant")
	}
	if err := e.repo.SaveRoom(ctx, room); err != nil {
		return chat.Storage("Failed to add user", err)
	}

	e.bus.Publish(multicast.RoomChannel(room.ID), EventUserAdded,
		MemberAddedEvent{RoomID: room.ID, UserID: target.ID, UserName: target.Name, AddedBy: actorID},
	)
	e.subscribeIfOnline(target.ID, room.ID)
	e.bus.SendToActor(target.ID, EventAddedToRoom, room)
	return nil
}

// RemoveUser removes a participant. Admins and moderators may remove others, but only an
// admin may remove an admin. Removing oneself is the same as ExitRoom.
func (e *Engine) RemoveUser(ctx context.Context, sess *state.Session, req MemberRequest) error {
	actorID := sess.Actor.ID
	targetID := req.Target()
	if targetID == "" {
		return chat.Validation("User ID is required")
	}
	if targetID == actorID {
		return e.ExitRoom(ctx, sess, req.RoomID)
	}
	room, err := e.loadMembership(ctx, req.RoomID, actorID)
	if err != nil {
		return err
	}
	if room.Type == chat.RoomDirect {
		return chat.Validation("Cannot remove participants from direct rooms")
	}
	actorRole, _ := room.RoleOf(actorID)
	if !actorRole.CanModerate() {
		return chat.Authorization("Not authorized to remove users")
	}
	targetRole, ok := room.RoleOf(targetID)
	if !ok {
		return chat.NotFound("User is not a participant in this room")
	}
	if targetRole == chat.RoleAdmin && actorRole != chat.RoleAdmin {
		return chat.Authorization("Cannot remove another admin unless you are admin")
	}

	now := e.clock()
	if _, err := room.RemoveParticipant(targetID, now); err != nil {
		return err
	}
	if err := e.repo.SaveRoom(ctx, room); err != nil {
		return chat.Storage("Failed to remove user", err)
	}

	e.bus.SendToActor(targetID, EventRemovedFrom, RoomRefEvent{RoomID: room.ID})
	e.unsubscribeIfOnline(targetID, room.ID)
	e.bus.Publish(multicast.RoomChannel(room.ID), EventUserRemoved,
		MemberRemovedEvent{RoomID: room.ID, UserID: targetID, RemovedBy: actorID},
	)
	return nil
}

// ExitRoom removes the actor from a non-direct room. If no admin remains the earliest
// member is promoted; a room left empty is deactivated.
func (e *Engine) ExitRoom(ctx context.Context, sess *state.Session, roomID string) error {
	actor := sess.Actor
	room, err := e.loadMembership(ctx, roomID, actor.ID)
	if err != nil {
		return err
	}
	now := e.clock()
	if _, err := room.RemoveParticipant(actor.ID, now); err != nil {
		return err
	}
	promoted := room.EnsureAdmin(now)
	if len(room.Participants) == 0 {
		room.IsActive = false
	}
	if err := e.repo.SaveRoom(ctx, room); err != nil {
		return chat.Storage("Failed to exit room", err)
	}

	channel := multicast.RoomChannel(room.ID)
	e.registry.Unsubscribe(sess, channel)
	e.bus.Send(sess, EventLeftRoom, RoomRefEvent{RoomID: room.ID})
	e.bus.Publish(channel, EventUserRemoved, MemberRemovedEvent{RoomID: room.ID, UserID: actor.ID, RemovedBy: actor.ID})
	if promoted != "" {
		e.bus.Publish(channel, EventUserPromoted, RoleChangedEvent{RoomID: room.ID, UserID: promoted, Role: chat.RoleAdmin})
	}
	return nil
}

// SetRole changes a participant's role. Only admins may change roles, and the last admin
// cannot be demoted. Revoking to member applies to admins only; assigning the role a
// participant already holds is a silent no-op.
func (e *Engine) SetRole(ctx context.Context, sess *state.Session, req MemberRequest, role chat.Role) error {
	actorID := sess.Actor.ID
	room, err := e.loadMembership(ctx, req.RoomID, actorID)
	if err != nil {
		return err
	}
	if room.Type == chat.RoomDirect {
		return chat.Validation("Cannot change roles in direct rooms")
	}
	if r, _ := room.RoleOf(actorID); r != chat.RoleAdmin {
		return chat.Authorization("Only admins can change roles")
	}
	targetID := req.Target()
	current, ok := room.RoleOf(targetID)
	if !ok {
		return chat.NotFound("User is not a participant in this room")
	}
	if role == chat.RoleMember && current != chat.RoleAdmin {
		return chat.Validation("User is not an admin")
	}
	if current == role {
		return nil
	}
	if current == chat.RoleAdmin && role != chat.RoleAdmin && countRole(room, chat.RoleAdmin) == 1 {
		return chat.Validation("A room must keep at least one admin")
	}
	if err := room.SetRole(targetID, role, e.clock()); err != nil {
		return err
	}
	if err := e.repo.SaveRoom(ctx, room); err != nil {
		return chat.Storage("Failed to change role", err)
	}

	event := EventUserPromoted
	if rank(role) < rank(current) {
		event = EventUserDemoted
	}
	e.bus.Publish(multicast.RoomChannel(room.ID), event,
		RoleChangedEvent{RoomID: room.ID, UserID: targetID, Role: role, ChangedBy: actorID},
	)
	return nil
}

func countRole(room *chat.Room, role chat.Role) int {
	n := 0
	for _, p := range room.Participants {
		if p.Role == role {
			n++
		}
	}
	return n
}

func rank(r chat.Role) int {
	switch r {
	case chat.RoleAdmin:
		return 2
	case chat.RoleModerator:
		return 1
	}
	return 0
}
