package engine

import (
	"context"
	"log/slog"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/metrics"
	"github.com/a-essam23/go-chat/pkg/multicast"
	"github.com/a-essam23/go-chat/pkg/state"
	"github.com/a-essam23/go-chat/pkg/transport"
)

// Connect registers an authenticated connection as the actor's single live session and
// subscribes it to the actor's private channel, the presence channel and every active room.
// A previous session of the same actor is displaced and closed.
func (e *Engine) Connect(ctx context.Context, actor chat.Actor, conn transport.Sender, ipAddr string) (*state.Session, error) {
	rooms, err := e.repo.FindRoomsByParticipant(ctx, actor.ID)
	if err != nil {
		return nil, chat.Storage("Failed to load rooms", err)
	}

	// Channels are joined before the session becomes visible as present, so nothing is
	// marked delivered to it that it cannot receive.
	sess := state.NewSession(actor, conn, ipAddr, e.clock())
	e.registry.Subscribe(sess, multicast.ActorChannel(actor.ID))
	e.registry.Subscribe(sess, multicast.PresenceChannel)
	for _, r := range rooms {
		e.registry.Subscribe(sess, multicast.RoomChannel(r.ID))
	}
	if rooms == nil {
		rooms = []chat.Room{}
	}
	e.bus.Send(sess, EventUserRooms, rooms)

	if previous := e.registry.Register(sess); previous != nil {
		e.registry.Deregister(previous)
		// the old peer may never answer the close handshake
		go previous.Conn.Close(transport.ErrReplaced)
		metrics.SessionsReplaced.Inc()
		e.logger.Info("previous session replaced",
			slog.String("userID", actor.ID),
			slog.String("previous", previous.ID.String()),
		)
	}
	e.reportSessions()

	e.bus.Publish(multicast.PresenceChannel, EventUserOnline,
		UserRoomEvent{UserID: actor.ID, UserName: actor.Name},
		multicast.Except(sess.ID),
	)

	e.logger.Info("session connected",
		slog.String("userID", actor.ID),
		slog.String("session", sess.ID.String()),
		slog.Int("rooms", len(rooms)),
	)
	return sess, nil
}

// Disconnect drops the session's subscriptions and, if it is still the actor's live
// session, its presence entry. user_offline is broadcast only in that case.
func (e *Engine) Disconnect(sess *state.Session) {
	removed := e.registry.Deregister(sess)
	e.reportSessions()
	if !removed {
		e.logger.Debug("displaced session disconnected", slog.String("session", sess.ID.String()))
		return
	}
	e.bus.Publish(multicast.PresenceChannel, EventUserOffline,
		UserRoomEvent{UserID: sess.Actor.ID, UserName: sess.Actor.Name},
	)
	e.logger.Info("session disconnected",
		slog.String("userID", sess.Actor.ID),
		slog.String("session", sess.ID.String()),
	)
}
