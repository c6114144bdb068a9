package core

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvolkov/roomcast-server/internal/metrics"
	"github.com/mvolkov/roomcast-server/internal/store"
)

const (
	// DefaultHistoryLimit bounds the replay of persisted history on join.
	DefaultHistoryLimit = 100
	// DefaultMaxMessageLength bounds accepted chat text, in bytes.
	DefaultMaxMessageLength = 5000
)

// SessionOptions tune per-session limits.
type SessionOptions struct {
	HistoryLimit     int
	MaxMessageLength int
}

// Session bridges one client connection to a room: it subscribes, replays
// history, then runs an outbound pump (room channel -> stream) and an inbound
// pump (stream -> store -> room channel) until either side stops.
type Session struct {
	reg   *Registry
	store store.MessageStore
	log   *zerolog.Logger
	opts  SessionOptions

	// authorID is the server-stamped identity persisted with this session's
	// messages. The client-supplied username is a display hint only.
	authorID uuid.UUID
	username string
}

// NewSession builds a session with a freshly generated author identity.
func NewSession(reg *Registry, st store.MessageStore, logger *zerolog.Logger, opts SessionOptions) *Session {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = DefaultMaxMessageLength
	}
	return &Session{
		reg:      reg,
		store:    st,
		log:      logger,
		opts:     opts,
		authorID: uuid.New(),
	}
}

// Run drives the session until the stream closes, the room channel closes, or
// ctx is cancelled. The subscription is taken before the history fetch so no
// message published during hydration can be missed; a message may instead be
// delivered twice across the boundary, which clients deduplicate by id.
func (s *Session) Run(ctx context.Context, roomID uuid.UUID, stream Stream) error {
	sub := s.reg.Join(roomID.String())
	defer sub.Close()

	if err := s.hydrate(ctx, roomID, stream); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.outbound(ctx, sub, stream)
	}()
	go func() {
		errCh <- s.inbound(ctx, roomID, stream)
	}()

	err := <-errCh
	cancel() // stop the other pump
	<-errCh

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// hydrate replays the most recent persisted messages in chronological order.
// A failed fetch is logged and skipped: the client simply starts without
// history, live delivery is unaffected.
func (s *Session) hydrate(ctx context.Context, roomID uuid.UUID, stream Stream) error {
	msgs, err := s.store.ListRecent(ctx, roomID, s.opts.HistoryLimit)
	if err != nil {
		s.log.Error().Err(err).Str("room", roomID.String()).Msg("failed to load chat history")
		return nil
	}

	// ListRecent returns newest-first; deliver oldest-first.
	for i := len(msgs) - 1; i >= 0; i-- {
		if err := stream.WriteEvent(ctx, eventFromRecord(msgs[i])); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) outbound(ctx context.Context, sub *Subscription, stream Stream) error {
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			var lag *LagError
			if errors.As(err, &lag) {
				metrics.SubscriberLag.Add(float64(lag.Skipped))
				s.log.Warn().Uint64("skipped", lag.Skipped).Msg("subscriber lagged, resuming")
				continue
			}
			return err
		}
		if err := stream.WriteEvent(ctx, ev); err != nil {
			return err
		}
	}
}

func (s *Session) inbound(ctx context.Context, roomID uuid.UUID, stream Stream) error {
	for {
		cmd, err := stream.ReadCommand(ctx)
		if err != nil {
			if errors.Is(err, ErrMalformedCommand) {
				s.log.Warn().Err(err).Msg("dropping malformed client frame")
				continue
			}
			return err
		}

		switch cmd.Kind {
		case CommandJoin:
			s.handleJoin(ctx, roomID, cmd)
		case CommandChat:
			s.handleChat(ctx, roomID, cmd)
		}
	}
}

func (s *Session) handleJoin(ctx context.Context, roomID uuid.UUID, cmd Command) {
	name := strings.TrimSpace(cmd.Username)
	if name == "" {
		s.log.Warn().Msg("join without username dropped")
		return
	}
	s.username = name

	text := name + " joined the room"
	rec, err := s.store.CreateMessage(ctx, roomID, SystemAuthorID, text)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to persist join announcement")
		return
	}
	s.reg.Publish(roomID.String(), Event{
		ID:       rec.ID.String(),
		Username: SystemUsername,
		Text:     text,
		TS:       rec.CreatedAt.UnixMilli(),
	})
}

func (s *Session) handleChat(ctx context.Context, roomID uuid.UUID, cmd Command) {
	if s.username == "" {
		s.log.Warn().Msg("chat before join dropped")
		return
	}
	text := strings.TrimSpace(cmd.Text)
	if text == "" || len(text) > s.opts.MaxMessageLength {
		s.log.Warn().Int("length", len(text)).Msg("invalid message length")
		return
	}

	// Persist first: a message that failed to reach the store is never
	// broadcast, and a single write failure does not end the session.
	rec, err := s.store.CreateMessage(ctx, roomID, s.authorID, text)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to persist message, dropping")
		return
	}
	s.reg.Publish(roomID.String(), Event{
		ID:       rec.ID.String(),
		Username: s.username,
		Text:     text,
		TS:       rec.CreatedAt.UnixMilli(),
	})
}

// eventFromRecord renders a persisted message for delivery. Display names are
// not persisted, so history events carry the author id, or the system display
// name for sentinel-authored announcements.
func eventFromRecord(m *store.Message) Event {
	username := m.AuthorID.String()
	if m.AuthorID == SystemAuthorID {
		username = SystemUsername
	}
	return Event{
		ID:       m.ID.String(),
		Username: username,
		Text:     m.Content,
		TS:       m.CreatedAt.UnixMilli(),
	}
}
