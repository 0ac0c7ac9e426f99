package server_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	"github.com/a-essam23/go-chat/internal/server"
	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/config"
	"github.com/a-essam23/go-chat/pkg/store/memstore"
)

const secret = "test-secret"

// --- Test Suite Setup ---

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func testConfig(mode string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Auth:            config.AuthConfig{JWTSecret: secret, CookieName: "accessToken"},
			ConnectionLimit: config.ConnectionLimitConfig{Mode: mode},
		},
		Transport: config.TransportConfig{SendBuffer: 64},
	}
}

func startServer(t *testing.T, cfg *config.Config) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	repo := memstore.New()
	for _, id := range []string{"alice", "bob"} {
		if err := repo.CreateActor(ctx, chat.Actor{ID: id, Name: id}); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now().UTC()
	err := repo.CreateRoom(ctx, &chat.Room{ID: "r", Name: "general", Type: chat.RoomGroup, IsActive: true, CreatedAt: now, UpdatedAt: now, LastActivity: now,
		Participants: []chat.Participant{{ActorID: "alice", Role: chat.RoleAdmin}, {ActorID: "bob", Role: chat.RoleMember}},
	})
	if err != nil {
		t.Fatal(err)
	}

	app := server.NewApp(newTestLogger(), ctx, cfg, repo)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv.URL
}

func token(t *testing.T, sub string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func dial(t *testing.T, baseURL, sub string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, sub))
	conn, _, err := websocket.Dial(ctx, wsURL(baseURL), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial as %s failed: %v", sub, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func wsURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
}

// readUntil returns the first frame named event, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, event string) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		if env.Event == event {
			return env
		}
	}
}

func write(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"event": event, "payload": payload})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// --- End-to-end Tests ---

func TestHandshakeAndMessageFlow(t *testing.T) {
	url := startServer(t, testConfig("cycle"))

	alice := dial(t, url, "alice")
	rooms := readUntil(t, alice, "user_rooms")
	if !strings.Contains(string(rooms.Payload), `"id":"r"`) {
		t.Errorf("user_rooms should list room r, got %s", rooms.Payload)
	}

	bob := dial(t, url, "bob")
	readUntil(t, bob, "user_rooms")
	readUntil(t, alice, "user_online")

	write(t, bob, "send_message", map[string]string{"roomId": "r", "content": "hi alice"})
	got := readUntil(t, alice, "new_message")
	var msg struct {
		Content string `json:"content"`
		Sender  struct {
			ID string `json:"id"`
		} `json:"sender"`
	}
	if err := json.Unmarshal(got.Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Content != "hi alice" || msg.Sender.ID != "bob" {
		t.Errorf("unexpected new_message %s", got.Payload)
	}

	write(t, bob, "edit_message", map[string]string{"messageId": "missing", "content": "x"})
	errFrame := readUntil(t, bob, "error")
	if !strings.Contains(string(errFrame.Payload), `"code":"not_found"`) {
		t.Errorf("unexpected error frame %s", errFrame.Payload)
	}
}

func TestHandshakeRejections(t *testing.T) {
	url := startServer(t, testConfig("cycle"))

	tests := []struct {
		name   string
		header http.Header
	}{
		{"no token", http.Header{}},
		{"bad signature", http.Header{"Authorization": []string{"Bearer " + badToken(t)}}},
		{"unknown user", http.Header{"Authorization": []string{"Bearer " + token(t, "mallory")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, resp, err := websocket.Dial(ctx, wsURL(url), &websocket.DialOptions{HTTPHeader: tt.header})
			if err == nil {
				t.Fatal("expected the handshake to fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("expected 401, got %+v", resp)
			}
		})
	}
}

func badToken(t *testing.T) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	url := startServer(t, testConfig("cycle"))

	first := dial(t, url, "alice")
	readUntil(t, first, "user_rooms")
	second := dial(t, url, "alice")
	readUntil(t, second, "user_rooms")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := first.Read(ctx); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
				t.Fatalf("expected policy violation close, got %v", err)
			}
			break
		}
	}
}

func TestReplacingSilentConnectionDoesNotStall(t *testing.T) {
	url := startServer(t, testConfig("cycle"))

	first := dial(t, url, "alice")
	readUntil(t, first, "user_rooms")
	// first is never read again, so it cannot answer the close handshake.

	start := time.Now()
	second := dial(t, url, "alice")
	readUntil(t, second, "user_rooms")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("second connection took %s to become ready", elapsed)
	}

	write(t, second, "get_online_users", nil)
	readUntil(t, second, "online_users")
}

func TestRejectModeRefusesSecondConnection(t *testing.T) {
	url := startServer(t, testConfig("reject"))

	first := dial(t, url, "alice")
	readUntil(t, first, "user_rooms")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, "alice"))
	_, resp, err := websocket.Dial(ctx, wsURL(url), &websocket.DialOptions{HTTPHeader: header})
	if err == nil {
		t.Fatal("second connection should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %+v", resp)
	}
}

func TestHealthz(t *testing.T) {
	url := startServer(t, testConfig("cycle"))
	resp, err := http.Get(url + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
