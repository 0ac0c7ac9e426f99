package statemanager_test

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/state"
	"github.com/a-essam23/go-chat/pkg/state/statemanager"
	"github.com/a-essam23/go-chat/pkg/transport/transporttest"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger())
}

func newSession(actorID string) *state.Session {
	return state.NewSession(chat.Actor{ID: actorID, Name: "name-" + actorID}, transporttest.NewRecorder(), "127.0.0.1", time.Now())
}

// --- Presence Tests ---

func TestSessionLifecycle(t *testing.T) {
	m := newTestManager()
	sess := newSession("user-1")

	if prev := m.Register(sess); prev != nil {
		t.Fatalf("expected no previous session, got %s", prev.ID)
	}
	got, found := m.Lookup("user-1")
	if !found || got != sess {
		t.Fatal("Lookup failed to find registered session")
	}
	if !m.IsOnline("user-1") || m.Count() != 1 {
		t.Errorf("expected user-1 online and count 1, got %d", m.Count())
	}

	if !m.Deregister(sess) {
		t.Fatal("Deregister should remove the presence entry")
	}
	if m.IsOnline("user-1") {
		t.Error("found session after it should have been deregistered")
	}
	if m.Deregister(sess) {
		t.Error("second Deregister should be a no-op")
	}
}

func TestRegisterReplacesPreviousSession(t *testing.T) {
	m := newTestManager()
	first := newSession("user-cycle")
	second := newSession("user-cycle")

	m.Register(first)
	m.Subscribe(first, "room:a")

	prev := m.Register(second)
	if prev != first {
		t.Fatalf("expected first session to be displaced")
	}
	if got, _ := m.Lookup("user-cycle"); got != second {
		t.Fatal("presence entry should point at the newest session")
	}

	// the displaced session disconnecting must not evict the new one
	if m.Deregister(first) {
		t.Error("deregistering a displaced session must not remove the presence entry")
	}
	if !m.IsOnline("user-cycle") {
		t.Error("user should still be online through the second session")
	}
	if len(m.Subscribers("room:a")) != 0 {
		t.Error("displaced session's subscriptions should be dropped")
	}
}

func TestOnlineActorsSorted(t *testing.T) {
	m := newTestManager()
	for _, id := range []string{"c", "a", "b"} {
		m.Register(newSession(id))
	}
	got := m.OnlineActors()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

// --- Subscription Tests ---

func TestSubscriptions(t *testing.T) {
	m := newTestManager()
	s1, s2 := newSession("u1"), newSession("u2")
	m.Register(s1)
	m.Register(s2)

	m.Subscribe(s1, "room:r")
	m.Subscribe(s2, "room:r")
	m.Subscribe(s1, "room:r") // idempotent

	if n := len(m.Subscribers("room:r")); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}
	if !s1.Subscribed("room:r") {
		t.Error("session should know its own channels")
	}

	m.Unsubscribe(s1, "room:r")
	subs := m.Subscribers("room:r")
	if len(subs) != 1 || subs[0] != s2 {
		t.Errorf("expected only s2 after unsubscribe, got %d", len(subs))
	}
	if s1.Subscribed("room:r") {
		t.Error("s1 should no longer track room:r")
	}

	m.Deregister(s2)
	if n := len(m.Subscribers("room:r")); n != 0 {
		t.Errorf("expected no subscribers after disconnect, got %d", n)
	}
	if len(s2.Channels()) != 0 {
		t.Errorf("released session should hold no channels, got %v", s2.Channels())
	}
}

func TestSubscribeAfterReleaseIsRefused(t *testing.T) {
	m := newTestManager()
	sess := newSession("u1")
	m.Register(sess)
	m.Deregister(sess)

	if m.Subscribe(sess, "room:late") {
		t.Fatal("subscribe on a released session should be refused")
	}
	if n := len(m.Subscribers("room:late")); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}
}

func TestSessionSendUsesConnection(t *testing.T) {
	rec := transporttest.NewRecorder()
	sess := state.NewSession(chat.Actor{ID: "u1"}, rec, "", time.Now())
	if sess.ID != rec.ID() {
		t.Fatal("session id should match the connection id")
	}
	sess.Send([]byte(`{"event":"ping","payload":null}`))
	rec.Close(errors.New("bye"))
	if sess.Send([]byte(`{}`)) {
		t.Error("send on a closed connection should report false")
	}
	if n := len(rec.Frames()); n != 1 {
		t.Errorf("expected 1 frame, got %d", n)
	}
}

// --- Concurrency Tests ---

func TestConcurrentAccess(t *testing.T) {
	m := newTestManager()
	var wg sync.WaitGroup
	numActors := 50

	for i := 0; i < numActors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := newSession("user-" + strconv.Itoa(i))
			m.Register(sess)
			m.Subscribe(sess, "presence")
			m.Subscribe(sess, "room:"+strconv.Itoa(i%5))
			_ = m.Subscribers("presence")
			if i%2 == 0 {
				m.Deregister(sess)
			}
		}(i)
	}
	wg.Wait()

	if got := m.Count(); got != numActors/2 {
		t.Errorf("expected %d sessions, got %d", numActors/2, got)
	}
	if got := len(m.Subscribers("presence")); got != numActors/2 {
		t.Errorf("expected %d presence subscribers, got %d", numActors/2, got)
	}
}
