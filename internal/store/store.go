package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is a persisted chat message. RoomID and CreatedAt are part of the
// store's ordering key and never change after creation; only Content,
// UpdatedAt, and Deleted may be rewritten.
type Message struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	AuthorID  uuid.UUID
	Content   string
	CreatedAt time.Time
	UpdatedAt *time.Time
	Deleted   bool
}

// MessageStore is the durable message contract the broadcast engine consumes.
//
// CreateMessage assigns the id and creation timestamp authoritatively; the
// engine never trusts client-supplied values for ordering. The primary
// room-ordered write is durable before CreateMessage returns, since a
// successful return is the engine's cue to broadcast. Any secondary per-author
// index the implementation maintains may be written eventually.
type MessageStore interface {
	CreateMessage(ctx context.Context, roomID, authorID uuid.UUID, content string) (*Message, error)

	// GetMessage returns (nil, nil) when no message has the given id.
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)

	// ListRecent returns up to limit messages for the room, newest first,
	// excluding soft-deleted entries.
	ListRecent(ctx context.Context, roomID uuid.UUID, limit int) ([]*Message, error)

	UpdateContent(ctx context.Context, id uuid.UUID, content string) error

	// SoftDelete marks the message invisible without removing its record.
	SoftDelete(ctx context.Context, id uuid.UUID) error

	Close() error
}
