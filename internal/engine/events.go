package engine

// Outbound event names.
const (
	EventNewMessage        = "new_message"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventMessagesRead      = "messages_read"
	EventMessagesForwarded = "messages_forwarded"
	EventMessages          = "messages"
	EventUnreadCount       = "unread_count"

	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventOnlineUsers    = "online_users"
	EventOnlineInRoom   = "online_users_in_room"
	EventUserRooms      = "user_rooms"

	EventJoinedRoom     = "joined_room"
	EventUserJoinedRoom = "user_joined_room"
	EventLeftRoom       = "left_room"
	EventUserLeftRoom   = "user_left_room"
	EventRoomCreated    = "room_created"
	EventNewRoom        = "new_room"
	EventRoomUpdated    = "room_updated"
	EventUserPromoted   = "user_promoted"
	EventUserDemoted    = "user_demoted"
	EventUserAdded      = "user_added"
	EventAddedToRoom    = "added_to_room"
	EventUserRemoved    = "user_removed"
	EventRemovedFrom    = "removed_from_room"

	EventError = "error"
)
