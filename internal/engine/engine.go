// Package engine applies chat operations: it authorizes the acting session against the
// durable room, mutates state through the repository and only then fans events out.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/metrics"
	"github.com/a-essam23/go-chat/pkg/multicast"
	"github.com/a-essam23/go-chat/pkg/state"
	"github.com/a-essam23/go-chat/pkg/store"
)

type Config struct {
	EditWindow       time.Duration
	MaxContentLength int
	Tombstone        string
	FetchLimit       int
}

func (c Config) withDefaults() Config {
	if c.EditWindow <= 0 {
		c.EditWindow = chat.DefaultEditWindow
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = chat.DefaultMaxContentLength
	}
	if c.Tombstone == "" {
		c.Tombstone = chat.DefaultTombstone
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 50
	}
	return c
}

// maxFetchLimit caps a client-supplied get_messages limit.
const maxFetchLimit = 200

type Engine struct {
	repo     store.Repository
	registry state.Registry
	bus      *multicast.Router
	cfg      Config
	logger   *slog.Logger

	now     func() time.Time
	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

type Option func(*Engine)

// WithClock replaces time.Now. Tests use it to move across the edit window.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(repo store.Repository, registry state.Registry, bus *multicast.Router, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		registry: registry,
		bus:      bus,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
		entropy:  ulid.Monotonic(ulid.DefaultEntropy(), 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// newMessageID returns a ULID so ids sort by creation time.
func (e *Engine) newMessageID(at time.Time) string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), e.entropy).String()
}

func newRoomID() string {
	return uuid.NewString()
}

// --- lookups shared by the operations ---

func (e *Engine) loadRoom(ctx context.Context, roomID string) (*chat.Room, error) {
	if roomID == "" {
		return nil, chat.Validation("Room ID is required")
	}
	room, err := e.repo.FindRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, chat.NotFound("Room not found")
		}
		return nil, chat.Storage("Failed to load room", err)
	}
	return room, nil
}

// loadMembership loads the room and checks the actor belongs to it.
func (e *Engine) loadMembership(ctx context.Context, roomID, actorID string) (*chat.Room, error) {
	room, err := e.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsParticipant(actorID) {
		return nil, chat.Authorization("You are not a participant in this room")
	}
	return room, nil
}

func (e *Engine) loadMessage(ctx context.Context, messageID string) (*chat.Message, error) {
	if messageID == "" {
		return nil, chat.Validation("Message ID is required")
	}
	msg, err := e.repo.FindMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, chat.NotFound("Message not found")
		}
		return nil, chat.Storage("Failed to load message", err)
	}
	return msg, nil
}

func (e *Engine) loadActor(ctx context.Context, actorID string) (*chat.Actor, error) {
	if actorID == "" {
		return nil, chat.Validation("User ID is required")
	}
	actor, err := e.repo.FindActorByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, chat.NotFound("User not found")
		}
		return nil, chat.Storage("Failed to load user", err)
	}
	return actor, nil
}

// actorNames resolves display names; unknown ids map to themselves.
func (e *Engine) actorNames(ctx context.Context, ids []string) map[string]chat.Actor {
	out := make(map[string]chat.Actor, len(ids))
	actors, err := e.repo.FindActorsByIDs(ctx, ids)
	if err != nil {
		e.logger.Warn("failed to resolve actors", slog.Any("error", err))
	}
	for _, a := range actors {
		out[a.ID] = a
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = chat.Actor{ID: id}
		}
	}
	return out
}

// subscribeIfOnline attaches the actor's live session, if any, to the room channel.
func (e *Engine) subscribeIfOnline(actorID, roomID string) {
	if sess, ok := e.registry.Lookup(actorID); ok {
		e.registry.Subscribe(sess, multicast.RoomChannel(roomID))
	}
}

func (e *Engine) unsubscribeIfOnline(actorID, roomID string) {
	if sess, ok := e.registry.Lookup(actorID); ok {
		e.registry.Unsubscribe(sess, multicast.RoomChannel(roomID))
	}
}

func (e *Engine) reportSessions() {
	metrics.ActiveSessions.Set(float64(e.registry.Count()))
}
