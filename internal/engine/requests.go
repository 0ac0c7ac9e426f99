package engine

import "time"

// Inbound payloads, decoded by the event router.

type SendMessageRequest struct {
	RoomID      string `json:"roomId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	ReplyTo     string `json:"replyTo"`
}

type EditMessageRequest struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessageRequest struct {
	MessageID   string `json:"messageId"`
	ForEveryone bool   `json:"forEveryone"`
}

type ForwardMessagesRequest struct {
	MessageIDs    []string `json:"messageIds"`
	TargetRoomIDs []string `json:"targetRoomIds"`
	Content       string   `json:"content"`
}

type MarkAsReadRequest struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

type FetchMessagesRequest struct {
	RoomID string     `json:"roomId"`
	Before *time.Time `json:"before"`
	Limit  int        `json:"limit"`
}

type CreateRoomRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
}

type UpdateRoomRequest struct {
	RoomID      string  `json:"roomId"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// MemberRequest names a room and a target user. UserIDToRemove is the
// remove_user_from_room spelling of UserID.
type MemberRequest struct {
	RoomID         string `json:"roomId"`
	UserID         string `json:"userId"`
	UserIDToRemove string `json:"userIdToRemove"`
}

func (r MemberRequest) Target() string {
	if r.UserIDToRemove != "" {
		return r.UserIDToRemove
	}
	return r.UserID
}
