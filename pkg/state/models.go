package state

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/transport"
)

// Session is one authenticated live connection. It is never persisted.
type Session struct {
	ID        uuid.UUID
	Actor     chat.Actor
	IPAddress string
	Conn      transport.Sender
	CreatedAt time.Time

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

func NewSession(actor chat.Actor, conn transport.Sender, ipAddr string, now time.Time) *Session {
	return &Session{
		ID:        conn.ID(),
		Actor:     actor,
		IPAddress: ipAddr,
		Conn:      conn,
		CreatedAt: now,
		channels:  make(map[string]struct{}),
	}
}

// Send queues a raw frame on the session's connection.
func (s *Session) Send(frame []byte) bool {
	return s.Conn.Send(frame)
}

// Track records channel as joined while insert runs under the session lock.
// It reports false, without calling insert, once the session has been released.
func (s *Session) Track(channel string, insert func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	insert()
	s.channels[channel] = struct{}{}
	return true
}

// Untrack forgets channel while remove runs under the session lock.
func (s *Session) Untrack(channel string, remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel]; !ok {
		return
	}
	remove()
	delete(s.channels, channel)
}

// Release marks the session closed and returns the channels it had joined.
// Later Track calls are refused, so the returned set is final.
func (s *Session) Release() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	s.channels = make(map[string]struct{})
	return out
}

func (s *Session) Subscribed(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channel]
	return ok
}

func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}
