package statemanager

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/a-essam23/go-chat/pkg/state"
)

const shardCount = 32

type presenceShard struct {
	mu       sync.RWMutex
	sessions map[string]*state.Session // keyed by actor id
}

type channelShard struct {
	mu          sync.RWMutex
	subscribers map[string]map[uuid.UUID]*state.Session // keyed by channel
}

// InMemoryManager is a sharded, process-local Registry.
// Lock order: session lock, then shard lock.
type InMemoryManager struct {
	presence [shardCount]*presenceShard
	channels [shardCount]*channelShard

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	m := &InMemoryManager{
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
	for i := 0; i < shardCount; i++ {
		m.presence[i] = &presenceShard{sessions: make(map[string]*state.Session)}
		m.channels[i] = &channelShard{subscribers: make(map[string]map[uuid.UUID]*state.Session)}
	}
	return m
}

// compile-time check to ensure InMemoryManager implements Registry.
var _ state.Registry = (*InMemoryManager)(nil)

func shardIndex(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}

func (m *InMemoryManager) presenceFor(actorID string) *presenceShard {
	return m.presence[shardIndex(actorID)]
}

func (m *InMemoryManager) channelFor(channel string) *channelShard {
	return m.channels[shardIndex(channel)]
}

// --- Presence ---

func (m *InMemoryManager) Register(sess *state.Session) *state.Session {
	shard := m.presenceFor(sess.Actor.ID)
	shard.mu.Lock()
	previous := shard.sessions[sess.Actor.ID]
	shard.sessions[sess.Actor.ID] = sess
	shard.mu.Unlock()

	if previous == sess {
		return nil
	}
	if previous != nil {
		m.logger.Debug("session replaced",
			slog.String("userID", sess.Actor.ID),
			slog.String("previous", previous.ID.String()),
			slog.String("session", sess.ID.String()),
		)
	}
	m.logger.Debug("session registered", slog.String("userID", sess.Actor.ID), slog.String("session", sess.ID.String()))
	return previous
}

func (m *InMemoryManager) Deregister(sess *state.Session) bool {
	for _, ch := range sess.Release() {
		m.dropSubscriber(ch, sess.ID)
	}

	shard := m.presenceFor(sess.Actor.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if current, ok := shard.sessions[sess.Actor.ID]; !ok || current != sess {
		m.logger.Debug("stale session deregistered", slog.String("session", sess.ID.String()))
		return false
	}
	delete(shard.sessions, sess.Actor.ID)
	m.logger.Debug("session deregistered", slog.String("userID", sess.Actor.ID), slog.String("session", sess.ID.String()))
	return true
}

func (m *InMemoryManager) Lookup(actorID string) (*state.Session, bool) {
	shard := m.presenceFor(actorID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	sess, ok := shard.sessions[actorID]
	return sess, ok
}

func (m *InMemoryManager) IsOnline(actorID string) bool {
	_, ok := m.Lookup(actorID)
	return ok
}

// OnlineActors returns the ids of every present actor, sorted.
func (m *InMemoryManager) OnlineActors() []string {
	var ids []string
	for _, shard := range m.presence {
		shard.mu.RLock()
		for id := range shard.sessions {
			ids = append(ids, id)
		}
		shard.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

func (m *InMemoryManager) Count() int {
	n := 0
	for _, shard := range m.presence {
		shard.mu.RLock()
		n += len(shard.sessions)
		shard.mu.RUnlock()
	}
	return n
}

// --- Subscriptions ---

func (m *InMemoryManager) Subscribe(sess *state.Session, channel string) bool {
	shard := m.channelFor(channel)
	ok := sess.Track(channel, func() {
		shard.mu.Lock()
		defer shard.mu.Unlock()
		subs, exists := shard.subscribers[channel]
		if !exists {
			subs = make(map[uuid.UUID]*state.Session)
			shard.subscribers[channel] = subs
		}
		subs[sess.ID] = sess
	})
	if !ok {
		m.logger.Debug("subscribe on released session ignored",
			slog.String("session", sess.ID.String()),
			slog.String("channel", channel),
		)
	}
	return ok
}

func (m *InMemoryManager) Unsubscribe(sess *state.Session, channel string) {
	sess.Untrack(channel, func() {
		m.dropSubscriber(channel, sess.ID)
	})
}

func (m *InMemoryManager) dropSubscriber(channel string, sessionID uuid.UUID) {
	shard := m.channelFor(channel)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	subs, ok := shard.subscribers[channel]
	if !ok {
		return
	}
	delete(subs, sessionID)
	if len(subs) == 0 {
		delete(shard.subscribers, channel)
	}
}

func (m *InMemoryManager) Subscribers(channel string) []*state.Session {
	shard := m.channelFor(channel)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	subs := shard.subscribers[channel]
	out := make([]*state.Session, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}
