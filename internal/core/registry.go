package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mvolkov/roomcast-server/internal/metrics"
)

// Registry maps room ids to live rooms. A room exists exactly as long as it
// has at least one subscriber: Join creates it on demand and the departure
// that drops the count to zero removes it, atomically with respect to
// concurrent joins on the same id.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*room
	queueCap int
	log      *zerolog.Logger
}

type room struct {
	b           *broadcaster
	subscribers int
}

// NewRegistry constructs an empty registry whose rooms carry delivery queues
// of the given capacity.
func NewRegistry(queueCapacity int, logger *zerolog.Logger) *Registry {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &Registry{
		rooms:    make(map[string]*room),
		queueCap: queueCapacity,
		log:      logger,
	}
}

// Join subscribes to the room, creating it if absent. It never fails. The
// subscription cursor is snapshotted under the registry lock, so no event
// published after Join returns can be missed by the subscriber.
func (r *Registry) Join(roomID string) *Subscription {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{b: newBroadcaster(r.queueCap)}
		r.rooms[roomID] = rm
		metrics.RoomsActive.Inc()
		r.log.Info().Str("room", roomID).Msg("room created")
	}
	rm.subscribers++
	cursor := rm.b.snapshot()
	r.mu.Unlock()

	return &Subscription{reg: r, roomID: roomID, b: rm.b, cursor: cursor}
}

// leave decrements the room's subscriber count and removes the room when it
// reaches zero. The check and the removal happen under the same lock that
// Join takes, so a racing joiner either finds the room with a positive count
// or creates a fresh one.
func (r *Registry) leave(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	rm.subscribers--
	if rm.subscribers <= 0 {
		delete(r.rooms, roomID)
		rm.b.close()
		metrics.RoomsActive.Dec()
		r.log.Info().Str("room", roomID).Msg("room removed, no active subscribers")
	}
}

// Publish sends ev to the room's channel. A room that vanished between the
// caller's last interaction and this send is not an error: there is nobody
// left to deliver to, so the event is dropped.
func (r *Registry) Publish(roomID string, ev Event) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()

	if !ok {
		metrics.MessagesDropped.Inc()
		r.log.Debug().Str("room", roomID).Msg("publish to missing room dropped")
		return
	}
	rm.b.publish(ev)
	metrics.MessagesPublished.Inc()
}

// Subscribers reports the live subscriber count for a room, and whether the
// room currently exists.
func (r *Registry) Subscribers(roomID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return 0, false
	}
	return rm.subscribers, true
}

// Subscription is one connection's receive handle into a room's channel.
// It must be closed when the session ends; Close is idempotent.
type Subscription struct {
	reg    *Registry
	roomID string
	b      *broadcaster
	cursor uint64
	once   sync.Once
}

// Recv blocks until the next event, a lag notification, channel close, or
// context cancellation.
func (s *Subscription) Recv(ctx context.Context) (Event, error) {
	return s.b.recv(ctx, &s.cursor)
}

// Close releases the subscription, removing the room if this was its last
// subscriber.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.reg.leave(s.roomID)
	})
}
