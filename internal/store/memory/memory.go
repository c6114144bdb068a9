// Package memory implements the message store on in-process maps. It backs
// the dev storage mode and the test suites.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mvolkov/roomcast-server/internal/store"
)

// Store keeps messages per room in insertion (chronological) order.
type Store struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*store.Message
	byRoom map[uuid.UUID][]*store.Message
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:   make(map[uuid.UUID]*store.Message),
		byRoom: make(map[uuid.UUID][]*store.Message),
	}
}

// CreateMessage assigns a time-ordered id and timestamp, mirroring the
// authoritative-id contract of the durable backend.
func (s *Store) CreateMessage(_ context.Context, roomID, authorID uuid.UUID, content string) (*store.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:        id,
		RoomID:    roomID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.byID[id] = msg
	s.byRoom[roomID] = append(s.byRoom[roomID], msg)
	s.mu.Unlock()

	return copyMessage(msg), nil
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return copyMessage(msg), nil
}

// ListRecent walks the room's log backwards, collecting up to limit
// non-deleted messages newest-first.
func (s *Store) ListRecent(_ context.Context, roomID uuid.UUID, limit int) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.byRoom[roomID]
	messages := make([]*store.Message, 0, limit)
	for i := len(log) - 1; i >= 0 && len(messages) < limit; i-- {
		if log[i].Deleted {
			continue
		}
		messages = append(messages, copyMessage(log[i]))
	}
	return messages, nil
}

func (s *Store) UpdateContent(_ context.Context, id uuid.UUID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	msg.Content = content
	msg.UpdatedAt = &now
	return nil
}

func (s *Store) SoftDelete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	msg.Deleted = true
	msg.UpdatedAt = &now
	return nil
}

func (s *Store) Close() error {
	return nil
}

func copyMessage(m *store.Message) *store.Message {
	clone := *m
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		clone.UpdatedAt = &t
	}
	return &clone
}
