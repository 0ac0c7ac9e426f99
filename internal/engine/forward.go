package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/metrics"
	"github.com/a-essam23/go-chat/pkg/multicast"
	"github.com/a-essam23/go-chat/pkg/state"
)

// ForwardMessages copies every source message into every target room. The fan-out is the
// full product of the two lists as given, duplicates included. Every source and target is
// validated before anything is written; after that a failed pair is skipped and pairs
// already written stay.
func (e *Engine) ForwardMessages(ctx context.Context, sess *state.Session, req ForwardMessagesRequest) (*MessagesForwardedEvent, error) {
	if len(req.MessageIDs) == 0 {
		return nil, chat.Validation("Message IDs array is required")
	}
	if len(req.TargetRoomIDs) == 0 {
		return nil, chat.Validation("Target room IDs array is required")
	}
	override := ""
	if req.Content != "" {
		content, err := e.validContent(req.Content)
		if err != nil {
			return nil, err
		}
		override = content
	}
	actor := sess.Actor

	sources, err := e.forwardSources(ctx, actor.ID, req.MessageIDs)
	if err != nil {
		return nil, err
	}
	targets, err := e.forwardTargets(ctx, actor.ID, req.TargetRoomIDs)
	if err != nil {
		return nil, err
	}

	ev := &MessagesForwardedEvent{MessageIDs: req.MessageIDs, TargetRoomIDs: req.TargetRoomIDs, ForwardedMessages: []MessageView{}}
	for _, id := range req.MessageIDs {
		src := sources[id]
		for _, roomID := range req.TargetRoomIDs {
			view, err := e.forwardOne(ctx, actor, src, targets[roomID], override)
			if err != nil {
				ev.Failed++
				e.logger.Error("forward pair failed",
					slog.String("messageID", src.ID),
					slog.String("roomID", roomID),
					slog.Any("error", err),
				)
				continue
			}
			ev.ForwardedMessages = append(ev.ForwardedMessages, view)
			ev.Count++
		}
	}

	e.bus.Send(sess, EventMessagesForwarded, ev)
	if ev.Failed > 0 {
		e.bus.Send(sess, EventError, ErrorEvent{
			Message: fmt.Sprintf("Failed to forward %d of %d messages", ev.Failed, ev.Failed+ev.Count),
			Code:    chat.KindStorage.String(),
		})
	}
	return ev, nil
}

func (e *Engine) forwardSources(ctx context.Context, actorID string, ids []string) (map[string]*chat.Message, error) {
	msgs, err := e.repo.FindMessagesByIDs(ctx, ids)
	if err != nil {
		return nil, chat.Storage("Failed to forward messages", err)
	}
	byID := make(map[string]*chat.Message, len(msgs))
	roomIDs := make([]string, 0, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
		roomIDs = append(roomIDs, msgs[i].RoomID)
	}
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, chat.NotFound("Some messages not found")
		}
		if m.IsDeleted {
			return nil, chat.Validation("Deleted messages cannot be forwarded")
		}
	}

	rooms, err := e.repo.FindRoomsByIDs(ctx, roomIDs)
	if err != nil {
		return nil, chat.Storage("Failed to forward messages", err)
	}
	member := make(map[string]bool, len(rooms))
	for i := range rooms {
		member[rooms[i].ID] = rooms[i].IsParticipant(actorID)
	}
	for _, m := range byID {
		if !member[m.RoomID] {
			return nil, chat.Authorization("You can only forward messages from rooms you belong to")
		}
	}
	return byID, nil
}

func (e *Engine) forwardTargets(ctx context.Context, actorID string, ids []string) (map[string]*chat.Room, error) {
	rooms, err := e.repo.FindRoomsByIDs(ctx, ids)
	if err != nil {
		return nil, chat.Storage("Failed to forward messages", err)
	}
	byID := make(map[string]*chat.Room, len(rooms))
	for i := range rooms {
		byID[rooms[i].ID] = &rooms[i]
	}
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, chat.NotFound("Some target rooms not found")
		}
		if !r.IsParticipant(actorID) {
			return nil, chat.Authorization("You are not a participant of room: " + r.Name)
		}
	}
	return byID, nil
}

func (e *Engine) forwardOne(ctx context.Context, actor chat.Actor, src *chat.Message, target *chat.Room, override string) (MessageView, error) {
	now := e.clock()
	content := src.Content
	if override != "" {
		content = override
	}
	msg := &chat.Message{
		ID:        e.newMessageID(now),
		RoomID:    target.ID,
		SenderID:  actor.ID,
		Content:   content,
		Type:      src.Type,
		CreatedAt: now,
		ForwardedFrom: &chat.ForwardedFrom{
			OriginalMessage: src.ID,
			OriginalSender:  src.SenderID,
			OriginalRoom:    src.RoomID,
			ForwardedBy:     actor.ID,
			ForwardedAt:     now,
		},
	}
	if err := e.repo.CreateMessage(ctx, msg); err != nil {
		return MessageView{}, err
	}
	e.touch(ctx, target.ID, msg.ID, "", now)
	e.markDeliveredToPresent(ctx, target, msg, now)

	view := messageView(msg, actor, nil)
	e.bus.Publish(multicast.RoomChannel(target.ID), EventNewMessage, view)
	metrics.MessagesSent.WithLabelValues(string(target.Type), "forward").Inc()
	return view, nil
}
