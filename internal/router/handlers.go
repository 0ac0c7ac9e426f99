package router

import (
	"github.com/tidwall/gjson"

	"github.com/a-essam23/go-chat/internal/engine"
	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/pipeline"
)

// routes binds every inbound event to the engine operation that serves it.
func (r *EventRouter) routes() map[string]pipeline.HandlerFunc {
	eng := r.engine
	return map[string]pipeline.HandlerFunc{
		EventJoinRoom: func(c *pipeline.Cargo) error {
			return eng.JoinRoom(c.Ctx, c.Session, roomIDOf(c))
		},
		EventLeaveRoom: func(c *pipeline.Cargo) error {
			return eng.LeaveRoom(c.Ctx, c.Session, roomIDOf(c))
		},
		EventExitRoom: func(c *pipeline.Cargo) error {
			return eng.ExitRoom(c.Ctx, c.Session, roomIDOf(c))
		},
		EventTypingStart: func(c *pipeline.Cargo) error {
			return eng.Typing(c.Ctx, c.Session, roomIDOf(c), true)
		},
		EventTypingStop: func(c *pipeline.Cargo) error {
			return eng.Typing(c.Ctx, c.Session, roomIDOf(c), false)
		},
		EventGetOnlineUsers: func(c *pipeline.Cargo) error {
			eng.OnlineUsers(c.Ctx, c.Session)
			return nil
		},
		EventGetOnlineUsersInRoom: func(c *pipeline.Cargo) error {
			_, err := eng.OnlineUsersInRoom(c.Ctx, c.Session, roomIDOf(c))
			return err
		},
		EventGetUnreadCount: func(c *pipeline.Cargo) error {
			_, err := eng.UnreadCount(c.Ctx, c.Session, roomIDOf(c))
			return err
		},

		EventSendMessage: withRequest(func(c *pipeline.Cargo, req engine.SendMessageRequest) error {
			_, err := eng.SendMessage(c.Ctx, c.Session, req)
			return err
		}),
		EventEditMessage: withRequest(func(c *pipeline.Cargo, req engine.EditMessageRequest) error {
			_, err := eng.EditMessage(c.Ctx, c.Session, req)
			return err
		}),
		EventDeleteMessage: withRequest(func(c *pipeline.Cargo, req engine.DeleteMessageRequest) error {
			_, err := eng.DeleteMessage(c.Ctx, c.Session, req)
			return err
		}),
		EventMarkAsRead: withRequest(func(c *pipeline.Cargo, req engine.MarkAsReadRequest) error {
			_, err := eng.MarkAsRead(c.Ctx, c.Session, req)
			return err
		}),
		EventForwardMessages: withRequest(func(c *pipeline.Cargo, req engine.ForwardMessagesRequest) error {
			_, err := eng.ForwardMessages(c.Ctx, c.Session, req)
			return err
		}),
		EventGetMessages: withRequest(func(c *pipeline.Cargo, req engine.FetchMessagesRequest) error {
			_, err := eng.FetchMessages(c.Ctx, c.Session, req)
			return err
		}),
		EventCreateRoom: withRequest(func(c *pipeline.Cargo, req engine.CreateRoomRequest) error {
			_, err := eng.CreateRoom(c.Ctx, c.Session, req)
			return err
		}),
		EventUpdateRoom: withRequest(func(c *pipeline.Cargo, req engine.UpdateRoomRequest) error {
			_, err := eng.UpdateRoom(c.Ctx, c.Session, req)
			return err
		}),
		EventAddUser: withRequest(func(c *pipeline.Cargo, req engine.MemberRequest) error {
			return eng.AddUser(c.Ctx, c.Session, req)
		}),
		EventRemoveUser: withRequest(func(c *pipeline.Cargo, req engine.MemberRequest) error {
			return eng.RemoveUser(c.Ctx, c.Session, req)
		}),
		EventMakeAdmin:     setRole(eng, chat.RoleAdmin),
		EventRevokeAdmin:   setRole(eng, chat.RoleMember),
		EventMakeModerator: setRole(eng, chat.RoleModerator),
	}
}

func setRole(eng *engine.Engine, role chat.Role) pipeline.HandlerFunc {
	return withRequest(func(c *pipeline.Cargo, req engine.MemberRequest) error {
		return eng.SetRole(c.Ctx, c.Session, req, role)
	})
}

// withRequest decodes the payload into T before calling fn.
func withRequest[T any](fn func(c *pipeline.Cargo, req T) error) pipeline.HandlerFunc {
	return func(c *pipeline.Cargo) error {
		req, err := pipeline.Decode[T](c)
		if err != nil {
			return chat.Validation("Invalid payload for " + c.Event)
		}
		return fn(c, req)
	}
}

// roomIDOf accepts both a bare JSON string and an object carrying roomId.
func roomIDOf(c *pipeline.Cargo) string {
	payload := gjson.ParseBytes(c.Payload)
	if payload.Type == gjson.String {
		return payload.String()
	}
	return payload.Get("roomId").String()
}
