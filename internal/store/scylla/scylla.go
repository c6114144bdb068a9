// Package scylla implements the message store on ScyllaDB. Messages are
// partitioned by room and clustered newest-first, so a room's recent history
// is a single-partition read. A secondary per-author table is maintained
// eventually, off the create path.
package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvolkov/roomcast-server/internal/store"
)

// Config holds ScyllaDB connection settings.
type Config struct {
	Hosts    []string
	Keyspace string
}

const (
	insertMessageCQL = `INSERT INTO %[1]s.messages
		(message_id, chat_id, user_id, content, created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertUserMessageCQL = `INSERT INTO %[1]s.user_messages
		(user_id, created_at, message_id, chat_id) VALUES (?, ?, ?, ?)`

	getByIDCQL = `SELECT message_id, chat_id, user_id, content, created_at, updated_at, is_deleted
		FROM %[1]s.messages WHERE message_id = ?`

	listByRoomCQL = `SELECT message_id, chat_id, user_id, content, created_at, updated_at, is_deleted
		FROM %[1]s.messages WHERE chat_id = ? LIMIT ?`

	updateContentCQL = `UPDATE %[1]s.messages SET content = ?, updated_at = ?
		WHERE chat_id = ? AND created_at = ? AND message_id = ?`

	softDeleteCQL = `UPDATE %[1]s.messages SET is_deleted = true, updated_at = ?
		WHERE chat_id = ? AND created_at = ? AND message_id = ?`
)

// Store is a MessageStore backed by a gocql session with prepared statements.
type Store struct {
	session  *gocql.Session
	keyspace string
	log      *zerolog.Logger

	insertStmt        string
	insertUserStmt    string
	getByIDStmt       string
	listByRoomStmt    string
	updateContentStmt string
	softDeleteStmt    string
}

// New connects to the cluster, creates the keyspace and tables if missing,
// and returns a ready store.
func New(cfg Config, logger *zerolog.Logger) (*Store, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("scylla: no hosts configured")
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = "chat"
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = gocql.Quorum
	cluster.ConnectTimeout = 3 * time.Second
	cluster.Timeout = 3 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}

	s := &Store{
		session:           session,
		keyspace:          cfg.Keyspace,
		log:               logger,
		insertStmt:        fmt.Sprintf(insertMessageCQL, cfg.Keyspace),
		insertUserStmt:    fmt.Sprintf(insertUserMessageCQL, cfg.Keyspace),
		getByIDStmt:       fmt.Sprintf(getByIDCQL, cfg.Keyspace),
		listByRoomStmt:    fmt.Sprintf(listByRoomCQL, cfg.Keyspace),
		updateContentStmt: fmt.Sprintf(updateContentCQL, cfg.Keyspace),
		softDeleteStmt:    fmt.Sprintf(softDeleteCQL, cfg.Keyspace),
	}

	if err := s.ensureSchema(); err != nil {
		session.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	statements := []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
			WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': 3}`, s.keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.messages (
			chat_id UUID,
			created_at TIMESTAMP,
			message_id UUID,
			user_id UUID,
			content TEXT,
			updated_at TIMESTAMP,
			is_deleted BOOLEAN,
			PRIMARY KEY ((chat_id), created_at, message_id)
		) WITH CLUSTERING ORDER BY (created_at DESC)`, s.keyspace),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ON %s.messages (message_id)`, s.keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.user_messages (
			user_id UUID,
			created_at TIMESTAMP,
			message_id UUID,
			chat_id UUID,
			PRIMARY KEY ((user_id), created_at, message_id)
		) WITH CLUSTERING ORDER BY (created_at DESC)`, s.keyspace),
	}

	for _, stmt := range statements {
		if err := s.session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("scylla: ensure schema: %w", err)
		}
	}
	return nil
}

// CreateMessage assigns a time-ordered id and creation timestamp, writes the
// primary room-ordered row, and returns once that write is durable. The
// per-author index row is written in the background; a failure there is
// logged, never surfaced, and never delays the broadcast.
func (s *Store) CreateMessage(ctx context.Context, roomID, authorID uuid.UUID, content string) (*store.Message, error) {
	id := gocql.TimeUUID()
	createdAt := time.Now().UTC().Truncate(time.Millisecond)

	msg := &store.Message{
		ID:        uuid.UUID(id),
		RoomID:    roomID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: createdAt,
	}

	err := s.session.Query(s.insertStmt,
		id, gocql.UUID(roomID), gocql.UUID(authorID), content, createdAt, nil, false,
	).WithContext(ctx).Exec()
	if err != nil {
		return nil, fmt.Errorf("scylla: insert message: %w", err)
	}

	go func() {
		idxCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.session.Query(s.insertUserStmt,
			gocql.UUID(authorID), createdAt, id, gocql.UUID(roomID),
		).WithContext(idxCtx).Exec()
		if err != nil {
			s.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("user_messages index write failed")
		}
	}()

	return msg, nil
}

// GetMessage looks a message up by id through the message_id index.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error) {
	var (
		msg       store.Message
		msgID     gocql.UUID
		chatID    gocql.UUID
		userID    gocql.UUID
		updatedAt *time.Time
	)

	err := s.session.Query(s.getByIDStmt, gocql.UUID(id)).WithContext(ctx).
		Scan(&msgID, &chatID, &userID, &msg.Content, &msg.CreatedAt, &updatedAt, &msg.Deleted)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scylla: get message: %w", err)
	}

	msg.ID = uuid.UUID(msgID)
	msg.RoomID = uuid.UUID(chatID)
	msg.AuthorID = uuid.UUID(userID)
	msg.UpdatedAt = updatedAt
	return &msg, nil
}

// ListRecent reads up to limit rows from the room's partition, which the
// clustering order already yields newest-first, then drops soft-deleted rows.
func (s *Store) ListRecent(ctx context.Context, roomID uuid.UUID, limit int) ([]*store.Message, error) {
	iter := s.session.Query(s.listByRoomStmt, gocql.UUID(roomID), limit).WithContext(ctx).Iter()

	var messages []*store.Message
	for {
		var (
			msg       store.Message
			msgID     gocql.UUID
			chatID    gocql.UUID
			userID    gocql.UUID
			updatedAt *time.Time
		)
		if !iter.Scan(&msgID, &chatID, &userID, &msg.Content, &msg.CreatedAt, &updatedAt, &msg.Deleted) {
			break
		}
		if msg.Deleted {
			continue
		}
		msg.ID = uuid.UUID(msgID)
		msg.RoomID = uuid.UUID(chatID)
		msg.AuthorID = uuid.UUID(userID)
		msg.UpdatedAt = updatedAt
		messages = append(messages, &msg)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scylla: list messages: %w", err)
	}
	return messages, nil
}

// UpdateContent rewrites the message body and update timestamp. The row key
// (room, created_at, id) is resolved first and never changes.
func (s *Store) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}

	err = s.session.Query(s.updateContentStmt,
		content, time.Now().UTC(), gocql.UUID(msg.RoomID), msg.CreatedAt, gocql.UUID(id),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("scylla: update content: %w", err)
	}
	return nil
}

// SoftDelete flags the message as deleted without removing the row.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}

	err = s.session.Query(s.softDeleteStmt,
		time.Now().UTC(), gocql.UUID(msg.RoomID), msg.CreatedAt, gocql.UUID(id),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("scylla: soft delete: %w", err)
	}
	return nil
}

// Close tears down the cluster session.
func (s *Store) Close() error {
	s.session.Close()
	return nil
}
