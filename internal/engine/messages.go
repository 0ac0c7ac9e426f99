package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/metrics"
	"github.com/a-essam23/go-chat/pkg/multicast"
	"github.com/a-essam23/go-chat/pkg/state"
)

func (e *Engine) validContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", chat.Validation("Message content is required")
	}
	if utf8.RuneCountInString(content) > e.cfg.MaxContentLength {
		return "", chat.Validation(fmt.Sprintf("Message content must be at most %d characters", e.cfg.MaxContentLength))
	}
	return content, nil
}

// SendMessage persists a new message and multicasts new_message to the room.
func (e *Engine) SendMessage(ctx context.Context, sess *state.Session, req SendMessageRequest) (*MessageView, error) {
	content, err := e.validContent(req.Content)
	if err != nil {
		return nil, err
	}
	msgType, ok := chat.ParseMessageType(req.MessageType)
	if !ok {
		return nil, chat.Validation("Unknown message type " + req.MessageType)
	}
	actor := sess.Actor
	room, err := e.loadMembership(ctx, req.RoomID, actor.ID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	msg := &chat.Message{
		ID:        e.newMessageID(now),
		RoomID:    room.ID,
		SenderID:  actor.ID,
		Content:   content,
		Type:      msgType,
		CreatedAt: now,
		ReplyTo:   req.ReplyTo,
	}
	reply := e.replyPreview(ctx, room.ID, req.ReplyTo)

	if err := e.repo.CreateMessage(ctx, msg); err != nil {
		return nil, chat.Storage("Failed to send message", err)
	}
	e.touch(ctx, room.ID, msg.ID, actor.ID, now)
	e.markDeliveredToPresent(ctx, room, msg, now)

	view := messageView(msg, actor, reply)
	e.bus.Publish(multicast.RoomChannel(room.ID), EventNewMessage, view)
	metrics.MessagesSent.WithLabelValues(string(room.Type), "original").Inc()
	return &view, nil
}

// replyPreview resolves replyTo within the same room. A reference that does not resolve is
// kept on the message as given.
func (e *Engine) replyPreview(ctx context.Context, roomID, replyTo string) *ReplyView {
	if replyTo == "" {
		return nil
	}
	target, err := e.repo.FindMessageByID(ctx, replyTo)
	if err != nil || target.RoomID != roomID {
		e.logger.Debug("reply target not resolved in room",
			slog.String("replyTo", replyTo),
			slog.String("roomID", roomID),
		)
		return nil
	}
	sender := e.actorNames(ctx, []string{target.SenderID})[target.SenderID]
	return &ReplyView{ID: target.ID, Content: target.Content, Sender: actorView(sender), CreatedAt: target.CreatedAt}
}

// touch records room activity after a committed message. Failures are logged only:
// the message itself is already durable.
func (e *Engine) touch(ctx context.Context, roomID, messageID, actorID string, at time.Time) {
	if err := e.repo.TouchRoom(ctx, roomID, messageID, at); err != nil {
		e.logger.Warn("failed to update room activity", slog.String("roomID", roomID), slog.Any("error", err))
	}
	if actorID == "" {
		return
	}
	if err := e.repo.TouchParticipant(ctx, roomID, actorID, at); err != nil {
		e.logger.Warn("failed to update last seen", slog.String("roomID", roomID), slog.Any("error", err))
	}
}

func (e *Engine) markDeliveredToPresent(ctx context.Context, room *chat.Room, msg *chat.Message, at time.Time) {
	for _, p := range room.Participants {
		if p.ActorID == msg.SenderID || !e.registry.IsOnline(p.ActorID) {
			continue
		}
		if err := e.repo.MarkDelivered(ctx, msg.ID, p.ActorID, at); err != nil {
			e.logger.Warn("failed to mark delivered", slog.String("messageID", msg.ID), slog.Any("error", err))
			continue
		}
		msg.MarkDelivered(p.ActorID, at)
	}
}

// EditMessage replaces the content of the actor's own message inside the edit window.
func (e *Engine) EditMessage(ctx context.Context, sess *state.Session, req EditMessageRequest) (*MessageEditedEvent, error) {
	content, err := e.validContent(req.Content)
	if err != nil {
		return nil, err
	}
	msg, err := e.loadMessage(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if _, err := e.loadMembership(ctx, msg.RoomID, sess.Actor.ID); err != nil {
		return nil, err
	}
	now := e.clock()
	if err := chat.CheckEdit(msg, sess.Actor.ID, now, e.cfg.EditWindow); err != nil {
		return nil, err
	}

	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	if err := e.repo.SaveMessage(ctx, msg); err != nil {
		return nil, chat.Storage("Failed to edit message", err)
	}

	ev := MessageEditedEvent{MessageID: msg.ID, RoomID: msg.RoomID, Content: content, IsEdited: true, EditedAt: now}
	e.bus.Publish(multicast.RoomChannel(msg.RoomID), EventMessageEdited, ev)
	return &ev, nil
}

// DeleteMessage tombstones a message for everyone or hides it for the actor only.
func (e *Engine) DeleteMessage(ctx context.Context, sess *state.Session, req DeleteMessageRequest) (*MessageDeletedEvent, error) {
	msg, err := e.loadMessage(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	actorID := sess.Actor.ID
	room, err := e.loadMembership(ctx, msg.RoomID, actorID)
	if err != nil {
		return nil, err
	}

	if !req.ForEveryone {
		if err := e.repo.AddDeletedFor(ctx, msg.ID, actorID); err != nil {
			return nil, chat.Storage("Failed to delete message", err)
		}
		ev := MessageDeletedEvent{MessageID: msg.ID, RoomID: msg.RoomID}
		e.bus.Send(sess, EventMessageDeleted, ev)
		return &ev, nil
	}

	if msg.SenderID != actorID && !room.CanModerate(actorID) {
		return nil, chat.Authorization("You don't have permission to delete this message")
	}
	if !msg.IsDeleted {
		msg.Tombstone(e.cfg.Tombstone, e.clock())
		if err := e.repo.SaveMessage(ctx, msg); err != nil {
			return nil, chat.Storage("Failed to delete message", err)
		}
	}
	ev := MessageDeletedEvent{
		MessageID:   msg.ID,
		RoomID:      msg.RoomID,
		Content:     msg.Content,
		IsDeleted:   true,
		DeletedAt:   msg.DeletedAt,
		ForEveryone: true,
	}
	e.bus.Publish(multicast.RoomChannel(msg.RoomID), EventMessageDeleted, ev)
	return &ev, nil
}

// MarkAsRead records read receipts for the listed messages that belong to the room.
// It does not record delivery.
func (e *Engine) MarkAsRead(ctx context.Context, sess *state.Session, req MarkAsReadRequest) (*MessagesReadEvent, error) {
	if len(req.MessageIDs) == 0 {
		return nil, chat.Validation("Message IDs array is required")
	}
	actor := sess.Actor
	room, err := e.loadMembership(ctx, req.RoomID, actor.ID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.repo.FindMessagesByIDs(ctx, req.MessageIDs)
	if err != nil {
		return nil, chat.Storage("Failed to mark messages as read", err)
	}

	now := e.clock()
	read := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.RoomID != room.ID {
			continue
		}
		if err := e.repo.MarkRead(ctx, m.ID, actor.ID, now); err != nil {
			return nil, chat.Storage("Failed to mark messages as read", err)
		}
		read = append(read, m.ID)
	}
	e.touch(ctx, room.ID, "", actor.ID, now)

	ev := MessagesReadEvent{UserID: actor.ID, UserName: actor.Name, MessageIDs: read, RoomID: room.ID}
	if len(read) > 0 {
		e.bus.Publish(multicast.RoomChannel(room.ID), EventMessagesRead, ev, multicast.Except(sess.ID))
	}
	return &ev, nil
}

// FetchMessages returns a page of room history to the requester, oldest first, and marks
// the returned messages delivered to them. Messages the requester deleted for themselves
// are left out.
func (e *Engine) FetchMessages(ctx context.Context, sess *state.Session, req FetchMessagesRequest) (*MessagesPage, error) {
	actorID := sess.Actor.ID
	room, err := e.loadMembership(ctx, req.RoomID, actorID)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.FetchLimit
	}
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}
	var before time.Time
	if req.Before != nil {
		before = *req.Before
	}

	msgs, err := e.repo.FindMessagesByRoom(ctx, room.ID, before, limit)
	if err != nil {
		return nil, chat.Storage("Failed to load messages", err)
	}

	now := e.clock()
	senders := make([]string, 0, len(msgs))
	visible := msgs[:0]
	for i := range msgs {
		m := &msgs[i]
		if m.HiddenFor(actorID) {
			continue
		}
		if m.SenderID != actorID && !m.DeliveredToActor(actorID) {
			if err := e.repo.MarkDelivered(ctx, m.ID, actorID, now); err != nil {
				e.logger.Warn("failed to mark delivered", slog.String("messageID", m.ID), slog.Any("error", err))
			} else {
				m.MarkDelivered(actorID, now)
			}
		}
		senders = append(senders, m.SenderID)
		visible = append(visible, *m)
	}

	names := e.actorNames(ctx, senders)
	page := &MessagesPage{RoomID: room.ID, Messages: make([]MessageView, 0, len(visible)), HasMore: len(msgs) == limit}
	for i := range visible {
		m := &visible[i]
		page.Messages = append(page.Messages, messageView(m, names[m.SenderID], nil))
	}
	e.bus.Send(sess, EventMessages, page)
	return page, nil
}

// UnreadCount reports live messages in the room the actor has neither sent nor read.
func (e *Engine) UnreadCount(ctx context.Context, sess *state.Session, roomID string) (*UnreadCountEvent, error) {
	room, err := e.loadMembership(ctx, roomID, sess.Actor.ID)
	if err != nil {
		return nil, err
	}
	n, err := e.repo.CountUnread(ctx, room.ID, sess.Actor.ID)
	if err != nil {
		return nil, chat.Storage("Failed to count unread messages", err)
	}
	ev := &UnreadCountEvent{RoomID: room.ID, Count: n}
	e.bus.Send(sess, EventUnreadCount, ev)
	return ev, nil
}
