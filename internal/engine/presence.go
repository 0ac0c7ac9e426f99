package engine

import (
	"context"
	"sort"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/multicast"
	"github.com/a-essam23/go-chat/pkg/state"
)

// Typing relays typing_start / typing_stop to the rest of the room. Nothing is stored and
// the server never expires a typing state; clients send the stop themselves.
func (e *Engine) Typing(ctx context.Context, sess *state.Session, roomID string, started bool) error {
	if roomID == "" {
		return chat.Validation("Room ID is required")
	}
	channel := multicast.RoomChannel(roomID)
	if !sess.Subscribed(channel) {
		return chat.Authorization("Join the room before typing")
	}
	event := EventUserStopTyping
	if started {
		event = EventUserTyping
	}
	e.bus.Publish(channel, event,
		UserRoomEvent{UserID: sess.Actor.ID, UserName: sess.Actor.Name, RoomID: roomID},
		multicast.Except(sess.ID),
	)
	return nil
}

// OnlineUsers sends the ids of every present actor.
func (e *Engine) OnlineUsers(ctx context.Context, sess *state.Session) []string {
	ids := e.registry.OnlineActors()
	if ids == nil {
		ids = []string{}
	}
	e.bus.Send(sess, EventOnlineUsers, ids)
	return ids
}

// OnlineUsersInRoom sends the room's participants that currently have a live session.
func (e *Engine) OnlineUsersInRoom(ctx context.Context, sess *state.Session, roomID string) (*OnlineUsersInRoomEvent, error) {
	room, err := e.loadMembership(ctx, roomID, sess.Actor.ID)
	if err != nil {
		return nil, err
	}
	var online []string
	for _, id := range room.ParticipantIDs() {
		if e.registry.IsOnline(id) {
			online = append(online, id)
		}
	}
	names := e.actorNames(ctx, online)
	ev := &OnlineUsersInRoomEvent{RoomID: room.ID, Users: make([]ActorView, 0, len(online))}
	for _, id := range online {
		ev.Users = append(ev.Users, actorView(names[id]))
	}
	sort.Slice(ev.Users, func(i, j int) bool { return ev.Users[i].ID < ev.Users[j].ID })
	ev.Count = len(ev.Users)
	e.bus.Send(sess, EventOnlineInRoom, ev)
	return ev, nil
}
