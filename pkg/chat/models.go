package chat

import (
	"strings"
	"time"
)

// authenticated user identity attached to a connection.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type RoomType string

const (
	RoomDirect RoomType = "direct"
	RoomGroup  RoomType = "group"
	RoomPublic RoomType = "public"
)

// ParseRoomType maps a wire value to a RoomType. "private" is accepted as an alias of direct,
// and an empty value defaults to group.
func ParseRoomType(s string) (RoomType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return RoomGroup, true
	case "direct", "private":
		return RoomDirect, true
	case "group":
		return RoomGroup, true
	case "public":
		return RoomPublic, true
	}
	return "", false
}

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// CanModerate reports whether the role may change membership or delete others' messages.
func (r Role) CanModerate() bool {
	return r == RoleAdmin || r == RoleModerator
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func ParseMessageType(s string) (MessageType, bool) {
	switch MessageType(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return MessageText, true
	case MessageText:
		return MessageText, true
	case MessageImage:
		return MessageImage, true
	case MessageFile:
		return MessageFile, true
	case MessageSystem:
		return MessageSystem, true
	}
	return "", false
}

type Participant struct {
	ActorID  string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// durable conversation container. Participants are ordered by join time.
type Room struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Type          RoomType      `json:"type"`
	Participants  []Participant `json:"participants"`
	CreatedBy     string        `json:"createdBy"`
	LastMessageID string        `json:"lastMessageId,omitempty"`
	LastActivity  time.Time     `json:"lastActivity"`
	IsActive      bool          `json:"isActive"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// a (actor, time) pair in a delivered/read set.
type Receipt struct {
	ActorID string    `json:"userId"`
	At      time.Time `json:"at"`
}

// provenance record of a forwarded message.
type ForwardedFrom struct {
	OriginalMessage string    `json:"originalMessage"`
	OriginalSender  string    `json:"originalSender"`
	OriginalRoom    string    `json:"originalRoom"`
	ForwardedBy     string    `json:"forwardedBy"`
	ForwardedAt     time.Time `json:"forwardedAt"`
}

type Message struct {
	ID            string         `json:"id"`
	RoomID        string         `json:"roomId"`
	SenderID      string         `json:"senderId"`
	Content       string         `json:"content"`
	Type          MessageType    `json:"messageType"`
	CreatedAt     time.Time      `json:"createdAt"`
	EditedAt      *time.Time     `json:"editedAt,omitempty"`
	IsEdited      bool           `json:"isEdited"`
	IsDeleted     bool           `json:"isDeleted"`
	DeletedAt     *time.Time     `json:"deletedAt,omitempty"`
	DeletedFor    []string       `json:"-"`
	DeliveredTo   []Receipt      `json:"deliveredTo"`
	ReadBy        []Receipt      `json:"readBy"`
	ReplyTo       string         `json:"replyTo,omitempty"`
	ForwardedFrom *ForwardedFrom `json:"forwardedFrom,omitempty"`
}
