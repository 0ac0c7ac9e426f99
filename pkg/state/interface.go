package state

// Registry holds the process-local presence table (actor -> session) and the
// subscription index (channel -> sessions).
type Registry interface {
	// --- Presence ---
	// Register makes sess the actor's active session and returns the session it displaced, if any.
	Register(sess *Session) (previous *Session)
	// Deregister drops every subscription of sess and removes the presence entry if it
	// still points at sess. It reports whether the entry was removed.
	Deregister(sess *Session) bool
	Lookup(actorID string) (*Session, bool)
	IsOnline(actorID string) bool
	OnlineActors() []string
	Count() int

	// --- Subscriptions ---
	Subscribe(sess *Session, channel string) bool
	Unsubscribe(sess *Session, channel string)
	// Subscribers is a snapshot; sessions may disconnect before the caller sends to them.
	Subscribers(channel string) []*Session
}
