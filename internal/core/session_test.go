package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mvolkov/roomcast-server/internal/store"
	"github.com/mvolkov/roomcast-server/internal/store/memory"
)

// commandResult scripts one ReadCommand outcome.
type commandResult struct {
	cmd Command
	err error
}

// scriptStream is a Stream driven by the test: commands are fed through a
// channel and written events are captured for assertion.
type scriptStream struct {
	incoming chan commandResult
	written  chan Event
}

func newScriptStream() *scriptStream {
	return &scriptStream{
		incoming: make(chan commandResult, 64),
		written:  make(chan Event, 256),
	}
}

func (s *scriptStream) ReadCommand(ctx context.Context) (Command, error) {
	select {
	case r, ok := <-s.incoming:
		if !ok {
			return Command{}, io.EOF
		}
		return r.cmd, r.err
	case <-ctx.Done():
		return Command{}, ctx.Err()
	}
}

func (s *scriptStream) WriteEvent(ctx context.Context, ev Event) error {
	select {
	case s.written <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *scriptStream) join(name string) {
	s.incoming <- commandResult{cmd: Command{Kind: CommandJoin, Username: name}}
}

func (s *scriptStream) chat(text string) {
	s.incoming <- commandResult{cmd: Command{Kind: CommandChat, Text: text}}
}

func mustEvent(t *testing.T, s *scriptStream) Event {
	t.Helper()
	select {
	case ev := <-s.written:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("expected event not received")
		return Event{}
	}
}

func noEvent(t *testing.T, s *scriptStream) {
	t.Helper()
	select {
	case ev := <-s.written:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func startSession(t *testing.T, reg *Registry, st store.MessageStore, roomID uuid.UUID, opts SessionOptions) (*scriptStream, chan error) {
	t.Helper()

	stream := newScriptStream()
	done := make(chan error, 1)
	go func() {
		done <- NewSession(reg, st, nopLogger(), opts).Run(context.Background(), roomID, stream)
	}()
	return stream, done
}

func stopSession(t *testing.T, stream *scriptStream, done chan error) {
	t.Helper()
	close(stream.incoming)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionHydratesHistoryBeforeLive(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	roomID := uuid.New()
	author := uuid.New()

	for i := 0; i < 150; i++ {
		if _, err := st.CreateMessage(ctx, roomID, author, fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	reg := NewRegistry(256, nopLogger())
	stream, done := startSession(t, reg, st, roomID, SessionOptions{HistoryLimit: 100})
	defer stopSession(t, stream, done)

	// Only the most recent 100 are replayed, oldest first.
	for i := 50; i < 150; i++ {
		ev := mustEvent(t, stream)
		if want := fmt.Sprintf("msg-%d", i); ev.Text != want {
			t.Fatalf("history out of order: got %q, want %q", ev.Text, want)
		}
	}

	// Live traffic follows the replay.
	stream.join("alice")
	ev := mustEvent(t, stream)
	if ev.Username != SystemUsername || ev.Text != "alice joined the room" {
		t.Fatalf("unexpected live event after history: %+v", ev)
	}
}

func TestSessionJoinAnnouncement(t *testing.T) {
	st := memory.New()
	roomID := uuid.New()
	reg := NewRegistry(8, nopLogger())

	stream, done := startSession(t, reg, st, roomID, SessionOptions{})
	defer stopSession(t, stream, done)

	stream.join("alice")

	ev := mustEvent(t, stream)
	if ev.Username != SystemUsername {
		t.Fatalf("join announcement author: got %q, want %q", ev.Username, SystemUsername)
	}
	if ev.Text != "alice joined the room" {
		t.Fatalf("join announcement text: %q", ev.Text)
	}
	if ev.ID == "" || ev.TS == 0 {
		t.Fatalf("announcement missing store-assigned id/timestamp: %+v", ev)
	}

	msgs, err := st.ListRecent(context.Background(), roomID, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].AuthorID != SystemAuthorID {
		t.Fatalf("announcement not persisted with sentinel author: %+v", msgs)
	}
}

func TestSessionRejectsInvalidChat(t *testing.T) {
	st := memory.New()
	roomID := uuid.New()
	reg := NewRegistry(8, nopLogger())

	stream, done := startSession(t, reg, st, roomID, SessionOptions{MaxMessageLength: 10})
	defer stopSession(t, stream, done)

	stream.join("bob")
	mustEvent(t, stream) // join announcement

	stream.chat("")
	stream.chat("   ")
	stream.chat(strings.Repeat("x", 11))
	noEvent(t, stream)

	stream.chat("ok")
	ev := mustEvent(t, stream)
	if ev.Text != "ok" || ev.Username != "bob" {
		t.Fatalf("valid message after rejects: %+v", ev)
	}

	msgs, err := st.ListRecent(context.Background(), roomID, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(msgs) != 2 { // join announcement + "ok"
		t.Fatalf("rejected text reached the store: %d messages", len(msgs))
	}
}

func TestSessionDropsChatBeforeJoin(t *testing.T) {
	st := memory.New()
	roomID := uuid.New()
	reg := NewRegistry(8, nopLogger())

	stream, done := startSession(t, reg, st, roomID, SessionOptions{})
	defer stopSession(t, stream, done)

	stream.chat("who am I")
	noEvent(t, stream)

	msgs, err := st.ListRecent(context.Background(), roomID, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("identity-less chat was persisted: %+v", msgs)
	}
}

// failingStore rejects creates for one specific content string.
type failingStore struct {
	store.MessageStore
	poison string
}

func (f *failingStore) CreateMessage(ctx context.Context, roomID, authorID uuid.UUID, content string) (*store.Message, error) {
	if content == f.poison {
		return nil, errors.New("store unavailable")
	}
	return f.MessageStore.CreateMessage(ctx, roomID, authorID, content)
}

func TestSessionPersistFailureDropsSingleMessage(t *testing.T) {
	st := &failingStore{MessageStore: memory.New(), poison: "boom"}
	roomID := uuid.New()
	reg := NewRegistry(8, nopLogger())

	stream, done := startSession(t, reg, st, roomID, SessionOptions{})
	defer stopSession(t, stream, done)

	stream.join("carol")
	mustEvent(t, stream)

	stream.chat("boom")
	noEvent(t, stream)

	// The pump survives a persistence failure.
	stream.chat("still here")
	ev := mustEvent(t, stream)
	if ev.Text != "still here" {
		t.Fatalf("session did not recover from store failure: %+v", ev)
	}
}

func TestSessionSkipsMalformedFrames(t *testing.T) {
	st := memory.New()
	roomID := uuid.New()
	reg := NewRegistry(8, nopLogger())

	stream, done := startSession(t, reg, st, roomID, SessionOptions{})
	defer stopSession(t, stream, done)

	stream.incoming <- commandResult{err: ErrMalformedCommand}
	stream.join("dave")

	ev := mustEvent(t, stream)
	if ev.Text != "dave joined the room" {
		t.Fatalf("session did not survive malformed frame: %+v", ev)
	}
}

func TestSessionFanOutDeliversSameIDToAllSubscribers(t *testing.T) {
	st := memory.New()
	roomID := uuid.New()
	reg := NewRegistry(64, nopLogger())

	alice, aliceDone := startSession(t, reg, st, roomID, SessionOptions{})
	defer stopSession(t, alice, aliceDone)
	bob, bobDone := startSession(t, reg, st, roomID, SessionOptions{})
	defer stopSession(t, bob, bobDone)

	alice.join("alice")
	bob.join("bob")

	alice.chat("hi everyone")

	find := func(s *scriptStream, text string) Event {
		for {
			ev := mustEvent(t, s)
			if ev.Text == text {
				return ev
			}
		}
	}

	got := find(alice, "hi everyone")
	if got.Username != "alice" {
		t.Fatalf("author echo: %+v", got)
	}
	other := find(bob, "hi everyone")
	if other.ID != got.ID {
		t.Fatalf("subscribers saw different ids: %q vs %q", got.ID, other.ID)
	}
}

func TestSessionReleasesRoomOnStreamClose(t *testing.T) {
	st := memory.New()
	roomID := uuid.New()
	reg := NewRegistry(8, nopLogger())

	stream, done := startSession(t, reg, st, roomID, SessionOptions{})

	if n, ok := reg.Subscribers(roomID.String()); !ok || n != 1 {
		t.Fatalf("room not registered: count=%d exists=%v", n, ok)
	}

	close(stream.incoming)
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, io.EOF) {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}

	if _, ok := reg.Subscribers(roomID.String()); ok {
		t.Fatal("room not removed after last session left")
	}
}

func TestSessionLagIsRecoverable(t *testing.T) {
	st := memory.New()
	roomID := uuid.New()
	// Tiny queue so an unread subscriber overflows quickly.
	reg := NewRegistry(4, nopLogger())

	// Passive subscriber that stops draining its events.
	lagging, laggingDone := startSession(t, reg, st, roomID, SessionOptions{})
	defer stopSession(t, lagging, laggingDone)

	sender, senderDone := startSession(t, reg, st, roomID, SessionOptions{})
	defer stopSession(t, sender, senderDone)

	sender.join("eve")

	// The lagging stream's written channel is large, so overflow the room
	// queue by publishing directly while nobody drains it.
	for i := 0; i < 512; i++ {
		reg.Publish(roomID.String(), Event{ID: fmt.Sprintf("%d", i), Text: "flood"})
	}

	// Both sessions must still be alive and receiving afterwards.
	sender.chat("after the flood")
	for {
		ev := mustEvent(t, sender)
		if ev.Text == "after the flood" {
			break
		}
	}
}
