package transport_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/a-essam23/go-chat/pkg/transport"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// pair returns the server side of an accepted websocket and the dialing client.
func pair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- c
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.CloseNow() })

	select {
	case c := <-accepted:
		return c, client
	case <-ctx.Done():
		t.Fatal("server never accepted the connection")
	}
	return nil, nil
}

func newConnection(t *testing.T, wg *sync.WaitGroup, ws *websocket.Conn, onMessage transport.MessageHandler) *transport.Connection {
	t.Helper()
	if onMessage == nil {
		onMessage = func(context.Context, *transport.Connection, []byte) {}
	}
	return transport.NewConnection(context.Background(), wg, ws, transport.ConnectionConfig{SendBuffer: 8}, onMessage, nil, newTestLogger())
}

func waitGroupDone(t *testing.T, wg *sync.WaitGroup, within time.Duration) {
	t.Helper()
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(within):
		t.Fatalf("WaitGroup still blocked %s after close", within)
	}
}

// --- Lifecycle Tests ---

func TestCloseBeforeRunReleasesWaitGroup(t *testing.T) {
	ws, _ := pair(t)
	var wg sync.WaitGroup
	conn := newConnection(t, &wg, ws, nil)

	conn.Close(errors.New("gone before start"))
	conn.Run()

	waitGroupDone(t, &wg, 2*time.Second)
	select {
	case <-conn.Done():
	default:
		t.Error("Done should be closed")
	}
	if conn.Send([]byte(`{}`)) {
		t.Error("Send on a closed connection must report false")
	}
}

func TestCloseDoesNotWaitForSilentPeer(t *testing.T) {
	ws, _ := pair(t) // the client never reads
	var wg sync.WaitGroup
	conn := newConnection(t, &wg, ws, nil)
	conn.Run()

	start := time.Now()
	conn.Close(transport.ErrReplaced)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Close blocked for %s", elapsed)
	}
	waitGroupDone(t, &wg, 2*time.Second)
}

func TestReplacedConnectionClosesWithPolicyViolation(t *testing.T) {
	ws, client := pair(t)
	var wg sync.WaitGroup
	conn := newConnection(t, &wg, ws, nil)
	conn.Run()

	readErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for {
			if _, _, err := client.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	conn.Close(transport.ErrReplaced)
	err := <-readErr
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Errorf("expected policy violation, got %v", err)
	}
	waitGroupDone(t, &wg, 2*time.Second)
}

func TestFramesFlowBothWays(t *testing.T) {
	ws, client := pair(t)
	var wg sync.WaitGroup
	received := make(chan string, 1)
	conn := newConnection(t, &wg, ws, func(_ context.Context, _ *transport.Connection, msg []byte) {
		received <- string(msg)
	})
	conn.Run()
	defer conn.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-received:
		if got != "ping" {
			t.Errorf("handler got %q", got)
		}
	case <-ctx.Done():
		t.Fatal("handler never received the frame")
	}

	if !conn.Send([]byte("pong")) {
		t.Fatal("Send on an open connection should queue")
	}
	_, data, err := client.Read(ctx)
	if err != nil || string(data) != "pong" {
		t.Errorf("client read %q, %v", data, err)
	}
}
