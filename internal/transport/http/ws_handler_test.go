package http

import (
	"context"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvolkov/roomcast-server/internal/config"
	"github.com/mvolkov/roomcast-server/internal/core"
	"github.com/mvolkov/roomcast-server/internal/proto"
	"github.com/mvolkov/roomcast-server/internal/store/memory"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := zerolog.Nop()
	cfg := config.Default()
	st := memory.New()
	reg := core.NewRegistry(cfg.Room.QueueCapacity, &logger)

	srv := NewServer(reg, st, nil, nil, cfg, &logger)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func dialRoom(t *testing.T, ctx context.Context, ts *httptest.Server, roomID uuid.UUID) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + roomID.String()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendCommand(t *testing.T, ctx context.Context, conn *websocket.Conn, cmd proto.Command) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, cmd); err != nil {
		t.Fatalf("write %s command: %v", cmd.Type, err)
	}
}

// readUntil drains events from the connection until one matches the wanted
// text. Join announcements from other participants can interleave freely.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, text string) proto.Event {
	t.Helper()
	for {
		var ev proto.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read waiting for %q: %v", text, err)
		}
		if ev.Text == text {
			return ev
		}
	}
}

func TestPing(t *testing.T) {
	ts := startTestServer(t)

	resp, err := stdhttp.Get(ts.URL + "/ping")
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("ping status: %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"ping":"pong!"}` {
		t.Fatalf("ping body: %s", body)
	}
}

func TestWSRejectsInvalidRoomID(t *testing.T) {
	ts := startTestServer(t)

	resp, err := stdhttp.Get(ts.URL + "/ws/not-a-uuid")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 before upgrade, got %d", resp.StatusCode)
	}
}

func TestWSChatRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts := startTestServer(t)
	roomID := uuid.New()

	alice := dialRoom(t, ctx, ts, roomID)
	sendCommand(t, ctx, alice, proto.Command{Type: proto.CommandTypeJoin, Username: "alice"})

	joined := readUntil(t, ctx, alice, "alice joined the room")
	if joined.Username != "[system]" {
		t.Fatalf("join announcement author: %q", joined.Username)
	}

	sendCommand(t, ctx, alice, proto.Command{Type: proto.CommandTypeChat, Message: "hello room"})
	echo := readUntil(t, ctx, alice, "hello room")
	if echo.Username != "alice" || echo.ID == "" || echo.TS == 0 {
		t.Fatalf("chat echo: %+v", echo)
	}
}

func TestWSLateJoinerSeesHistoryThenLive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts := startTestServer(t)
	roomID := uuid.New()

	alice := dialRoom(t, ctx, ts, roomID)
	sendCommand(t, ctx, alice, proto.Command{Type: proto.CommandTypeJoin, Username: "alice"})
	sendCommand(t, ctx, alice, proto.Command{Type: proto.CommandTypeChat, Message: "before bob"})
	sent := readUntil(t, ctx, alice, "before bob")

	// Bob connects after the fact and gets the persisted history replayed
	// with the same message id the live fan-out carried.
	bob := dialRoom(t, ctx, ts, roomID)
	replayed := readUntil(t, ctx, bob, "before bob")
	if replayed.ID != sent.ID {
		t.Fatalf("history id %q differs from live id %q", replayed.ID, sent.ID)
	}

	sendCommand(t, ctx, bob, proto.Command{Type: proto.CommandTypeJoin, Username: "bob"})

	// Live traffic now reaches both with one identity.
	sendCommand(t, ctx, alice, proto.Command{Type: proto.CommandTypeChat, Message: "after bob"})
	fromAlice := readUntil(t, ctx, alice, "after bob")
	fromBob := readUntil(t, ctx, bob, "after bob")
	if fromAlice.ID != fromBob.ID {
		t.Fatalf("fan-out ids diverged: %q vs %q", fromAlice.ID, fromBob.ID)
	}
}

func TestWSSurvivesMalformedFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts := startTestServer(t)
	roomID := uuid.New()

	conn := dialRoom(t, ctx, ts, roomID)
	if err := conn.Write(ctx, websocket.MessageText, []byte("this is not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	sendCommand(t, ctx, conn, proto.Command{Type: proto.CommandTypeJoin, Username: "carol"})
	readUntil(t, ctx, conn, "carol joined the room")
}

func TestTruncateReasonFitsControlFrame(t *testing.T) {
	if got := truncateReason("connection reset"); got != "connection reset" {
		t.Fatalf("short reason changed: %q", got)
	}

	long := strings.Repeat("x", 200)
	got := truncateReason(long)
	if len(got) != maxCloseReason {
		t.Fatalf("long reason not bounded: %d bytes", len(got))
	}

	// A multibyte rune straddling the limit is dropped whole.
	multi := strings.Repeat("x", maxCloseReason-1) + "é"
	got = truncateReason(multi)
	if len(got) > maxCloseReason {
		t.Fatalf("truncated reason exceeds limit: %d bytes", len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated reason is not valid UTF-8: %q", got)
	}
}

func TestImageRoutesDisabledWithoutStorage(t *testing.T) {
	ts := startTestServer(t)

	resp, err := stdhttp.Get(ts.URL + "/images/whatever.png")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusNotImplemented {
		t.Fatalf("expected 501 without storage, got %d", resp.StatusCode)
	}
}
