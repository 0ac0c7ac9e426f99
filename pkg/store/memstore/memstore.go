// Package memstore is a process-local Repository used by tests and the "memory" driver.
package memstore

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/store"
)

type Store struct {
	actors   map[string]chat.Actor
	rooms    map[string]*chat.Room
	messages map[string]*chat.Message

	actorMu sync.RWMutex
	roomMu  sync.RWMutex
	msgMu   sync.RWMutex
}

func New() *Store {
	return &Store{
		actors:   make(map[string]chat.Actor),
		rooms:    make(map[string]*chat.Room),
		messages: make(map[string]*chat.Message),
	}
}

// compile-time check to ensure Store implements Repository.
var _ store.Repository = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

// --- Actors ---

func (s *Store) CreateActor(ctx context.Context, actor chat.Actor) error {
	if actor.ID == "" {
		return errors.New("actor id is required")
	}
	s.actorMu.Lock()
	defer s.actorMu.Unlock()
	s.actors[actor.ID] = actor
	return nil
}

func (s *Store) FindActorByID(ctx context.Context, id string) (*chat.Actor, error) {
	s.actorMu.RLock()
	defer s.actorMu.RUnlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) FindActorsByIDs(ctx context.Context, ids []string) ([]chat.Actor, error) {
	s.actorMu.RLock()
	defer s.actorMu.RUnlock()
	out := make([]chat.Actor, 0, len(ids))
	for _, id := range dedupe(ids) {
		if a, ok := s.actors[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- Rooms ---

func (s *Store) CreateRoom(ctx context.Context, room *chat.Room) error {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()
	if _, exists := s.rooms[room.ID]; exists {
		return errors.New("room already exists")
	}
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *Store) FindRoomByID(ctx context.Context, id string) (*chat.Room, error) {
	s.roomMu.RLock()
	defer s.roomMu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRoom(r), nil
}

func (s *Store) FindRoomsByIDs(ctx context.Context, ids []string) ([]chat.Room, error) {
	s.roomMu.RLock()
	defer s.roomMu.RUnlock()
	out := make([]chat.Room, 0, len(ids))
	for _, id := range dedupe(ids) {
		if r, ok := s.rooms[id]; ok {
			out = append(out, *cloneRoom(r))
		}
	}
	return out, nil
}

func (s *Store) FindRoomsByParticipant(ctx context.Context, actorID string) ([]chat.Room, error) {
	s.roomMu.RLock()
	defer s.roomMu.RUnlock()
	var out []chat.Room
	for _, r := range s.rooms {
		if r.IsActive && r.IsParticipant(actorID) {
			out = append(out, *cloneRoom(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (s *Store) FindDirectRoom(ctx context.Context, actorA, actorB string) (*chat.Room, error) {
	s.roomMu.RLock()
	defer s.roomMu.RUnlock()
	for _, r := range s.rooms {
		if r.Type == chat.RoomDirect && r.IsParticipant(actorA) && r.IsParticipant(actorB) {
			return cloneRoom(r), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SaveRoom(ctx context.Context, room *chat.Room) error {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()
	if _, ok := s.rooms[room.ID]; !ok {
		return store.ErrNotFound
	}
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *Store) TouchRoom(ctx context.Context, roomID, lastMessageID string, at time.Time) error {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	if lastMessageID != "" {
		r.LastMessageID = lastMessageID
	}
	r.LastActivity = at
	return nil
}

func (s *Store) TouchParticipant(ctx context.Context, roomID, actorID string, at time.Time) error {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	for i := range r.Participants {
		if r.Participants[i].ActorID == actorID {
			r.Participants[i].LastSeen = at
		}
	}
	r.LastActivity = at
	return nil
}

// --- Messages ---

func (s *Store) CreateMessage(ctx context.Context, msg *chat.Message) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return errors.New("message already exists")
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *Store) FindMessageByID(ctx context.Context, id string) (*chat.Message, error) {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) FindMessagesByIDs(ctx context.Context, ids []string) ([]chat.Message, error) {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	out := make([]chat.Message, 0, len(ids))
	for _, id := range dedupe(ids) {
		if m, ok := s.messages[id]; ok {
			out = append(out, *cloneMessage(m))
		}
	}
	return out, nil
}

func (s *Store) FindMessagesByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]chat.Message, error) {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	var out []chat.Message
	for _, m := range s.messages {
		if m.RoomID != roomID {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, *cloneMessage(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) CountUnread(ctx context.Context, roomID, actorID string) (int, error) {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.RoomID == roomID && !m.IsDeleted && m.SenderID != actorID && !m.ReadByActor(actorID) {
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveMessage(ctx context.Context, msg *chat.Message) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	m, ok := s.messages[msg.ID]
	if !ok {
		return store.ErrNotFound
	}
	m.Content = msg.Content
	m.IsEdited = msg.IsEdited
	m.EditedAt = cloneTime(msg.EditedAt)
	m.IsDeleted = msg.IsDeleted
	m.DeletedAt = cloneTime(msg.DeletedAt)
	return nil
}

func (s *Store) AddDeletedFor(ctx context.Context, messageID, actorID string) error {
	return s.mutate(messageID, func(m *chat.Message) { m.HideFor(actorID) })
}

func (s *Store) MarkDelivered(ctx context.Context, messageID, actorID string, at time.Time) error {
	return s.mutate(messageID, func(m *chat.Message) { m.MarkDelivered(actorID, at) })
}

func (s *Store) MarkRead(ctx context.Context, messageID, actorID string, at time.Time) error {
	return s.mutate(messageID, func(m *chat.Message) { m.MarkRead(actorID, at) })
}

func (s *Store) mutate(messageID string, fn func(m *chat.Message)) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return store.ErrNotFound
	}
	fn(m)
	return nil
}

// --- copies, so callers never alias stored state ---

func cloneRoom(r *chat.Room) *chat.Room {
	c := *r
	c.Participants = slices.Clone(r.Participants)
	return &c
}

func cloneMessage(m *chat.Message) *chat.Message {
	c := *m
	c.EditedAt = cloneTime(m.EditedAt)
	c.DeletedAt = cloneTime(m.DeletedAt)
	c.DeletedFor = slices.Clone(m.DeletedFor)
	c.DeliveredTo = slices.Clone(m.DeliveredTo)
	c.ReadBy = slices.Clone(m.ReadBy)
	if m.ForwardedFrom != nil {
		f := *m.ForwardedFrom
		c.ForwardedFrom = &f
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
