package engine

import (
	"time"

	"github.com/a-essam23/go-chat/pkg/chat"
)

// Outbound payload shapes.

type ActorView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func actorView(a chat.Actor) ActorView {
	return ActorView{ID: a.ID, Name: a.Name, Email: a.Email}
}

type ReplyView struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    ActorView `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

type MessageView struct {
	ID            string              `json:"id"`
	RoomID        string              `json:"roomId"`
	Sender        ActorView           `json:"sender"`
	Content       string              `json:"content"`
	MessageType   chat.MessageType    `json:"messageType"`
	CreatedAt     time.Time           `json:"createdAt"`
	IsEdited      bool                `json:"isEdited"`
	EditedAt      *time.Time          `json:"editedAt,omitempty"`
	IsDeleted     bool                `json:"isDeleted"`
	DeletedAt     *time.Time          `json:"deletedAt,omitempty"`
	DeliveredTo   []chat.Receipt      `json:"deliveredTo"`
	ReadBy        []chat.Receipt      `json:"readBy"`
	ReplyTo       string              `json:"replyTo,omitempty"`
	Reply         *ReplyView          `json:"reply,omitempty"`
	ForwardedFrom *chat.ForwardedFrom `json:"forwardedFrom,omitempty"`
}

func messageView(m *chat.Message, sender chat.Actor, reply *ReplyView) MessageView {
	v := MessageView{
		ID:            m.ID,
		RoomID:        m.RoomID,
		Sender:        actorView(sender),
		Content:       m.Content,
		MessageType:   m.Type,
		CreatedAt:     m.CreatedAt,
		IsEdited:      m.IsEdited,
		EditedAt:      m.EditedAt,
		IsDeleted:     m.IsDeleted,
		DeletedAt:     m.DeletedAt,
		DeliveredTo:   m.DeliveredTo,
		ReadBy:        m.ReadBy,
		ReplyTo:       m.ReplyTo,
		Reply:         reply,
		ForwardedFrom: m.ForwardedFrom,
	}
	if v.DeliveredTo == nil {
		v.DeliveredTo = []chat.Receipt{}
	}
	if v.ReadBy == nil {
		v.ReadBy = []chat.Receipt{}
	}
	return v
}

type MessageEditedEvent struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	Content   string    `json:"content"`
	IsEdited  bool      `json:"isEdited"`
	EditedAt  time.Time `json:"editedAt"`
}

type MessageDeletedEvent struct {
	MessageID   string     `json:"messageId"`
	RoomID      string     `json:"roomId"`
	Content     string     `json:"content,omitempty"`
	IsDeleted   bool       `json:"isDeleted,omitempty"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	ForEveryone bool       `json:"forEveryone"`
}

type MessagesReadEvent struct {
	UserID     string   `json:"userId"`
	UserName   string   `json:"userName"`
	MessageIDs []string `json:"messageIds"`
	RoomID     string   `json:"roomId"`
}

// MessagesForwardedEvent lists the copies written, in request order. Count is their number.
type MessagesForwardedEvent struct {
	MessageIDs        []string      `json:"messageIds"`
	TargetRoomIDs     []string      `json:"targetRoomIds"`
	ForwardedMessages []MessageView `json:"forwardedMessages"`
	Count             int           `json:"count"`
	Failed            int           `json:"failed,omitempty"`
}

type MessagesPage struct {
	RoomID   string        `json:"roomId"`
	Messages []MessageView `json:"messages"`
	HasMore  bool          `json:"hasMore"`
}

type UnreadCountEvent struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

// UserRoomEvent covers presence, typing and join/leave notifications.
type UserRoomEvent struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	RoomID   string `json:"roomId,omitempty"`
}

type RoomRefEvent struct {
	RoomID string `json:"roomId"`
}

type OnlineUsersInRoomEvent struct {
	RoomID string      `json:"roomId"`
	Users  []ActorView `json:"users"`
	Count  int         `json:"count"`
}

type RoleChangedEvent struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Role      chat.Role `json:"role"`
	ChangedBy string    `json:"changedBy,omitempty"`
}

type MemberAddedEvent struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	AddedBy  string `json:"addedBy"`
}

type MemberRemovedEvent struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	RemovedBy string `json:"removedBy"`
}

// ErrorEvent is the payload of the error event sent to the acting session.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
