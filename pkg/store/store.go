// Package store defines the durable repository the chat engine reads and writes.
// Adapters live in the memstore, sqlite and postgres subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/a-essam23/go-chat/pkg/chat"
)

// ErrNotFound is returned by lookups of a single record that does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is the durable store contract.
//
// Whole-record writes (SaveRoom, SaveMessage) are last-write-wins: there is no version token.
// Receipts and per-viewer deletion are set inserts and never rewrite the message row, so two
// actors marking the same message concurrently cannot lose each other's entry.
type Repository interface {
	// Connection management
	Ping(ctx context.Context) error
	Close() error

	// Actor operations
	CreateActor(ctx context.Context, actor chat.Actor) error
	FindActorByID(ctx context.Context, id string) (*chat.Actor, error)
	// FindActorsByIDs returns the actors that exist; missing ids are skipped.
	FindActorsByIDs(ctx context.Context, ids []string) ([]chat.Actor, error)

	// Room operations
	CreateRoom(ctx context.Context, room *chat.Room) error
	FindRoomByID(ctx context.Context, id string) (*chat.Room, error)
	FindRoomsByIDs(ctx context.Context, ids []string) ([]chat.Room, error)
	// FindRoomsByParticipant returns active rooms of actorID, most recent activity first.
	FindRoomsByParticipant(ctx context.Context, actorID string) ([]chat.Room, error)
	FindDirectRoom(ctx context.Context, actorA, actorB string) (*chat.Room, error)
	// SaveRoom overwrites the room row and its participant set.
	SaveRoom(ctx context.Context, room *chat.Room) error
	// TouchRoom records the latest message and activity time without touching membership.
	TouchRoom(ctx context.Context, roomID, lastMessageID string, at time.Time) error
	TouchParticipant(ctx context.Context, roomID, actorID string, at time.Time) error

	// Message operations
	CreateMessage(ctx context.Context, msg *chat.Message) error
	FindMessageByID(ctx context.Context, id string) (*chat.Message, error)
	FindMessagesByIDs(ctx context.Context, ids []string) ([]chat.Message, error)
	// FindMessagesByRoom returns up to limit messages created strictly before `before`
	// (zero means now), oldest first.
	FindMessagesByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]chat.Message, error)
	// CountUnread counts live messages in roomID not sent by and not read by actorID.
	CountUnread(ctx context.Context, roomID, actorID string) (int, error)
	// SaveMessage overwrites content, edit and deletion fields of an existing message.
	SaveMessage(ctx context.Context, msg *chat.Message) error
	AddDeletedFor(ctx context.Context, messageID, actorID string) error
	MarkDelivered(ctx context.Context, messageID, actorID string, at time.Time) error
	MarkRead(ctx context.Context, messageID, actorID string, at time.Time) error
}
