package router

import "encoding/json"

// ClientMessage is one inbound frame.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event names.
const (
	EventJoinRoom             = "join_room"
	EventLeaveRoom            = "leave_room"
	EventSendMessage          = "send_message"
	EventEditMessage          = "edit_message"
	EventDeleteMessage        = "delete_message"
	EventMarkAsRead           = "mark_as_read"
	EventTypingStart          = "typing_start"
	EventTypingStop           = "typing_stop"
	EventForwardMessages      = "forward_messages"
	EventCreateRoom           = "create_room"
	EventUpdateRoom           = "update_room"
	EventGetOnlineUsers       = "get_online_users"
	EventGetOnlineUsersInRoom = "get_online_users_in_room"
	EventGetMessages          = "get_messages"
	EventGetUnreadCount       = "get_unread_count"
	EventMakeAdmin            = "make_admin"
	EventRevokeAdmin          = "revoke_admin"
	EventMakeModerator        = "make_moderator"
	EventAddUser              = "add_user_to_room"
	EventRemoveUser           = "remove_user_from_room"
	EventExitRoom             = "exit_room"
)
