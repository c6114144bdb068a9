package core

import (
	"context"
	"sync"
)

// DefaultQueueCapacity is the per-room delivery queue depth used when the
// configuration does not override it.
const DefaultQueueCapacity = 100

// broadcaster is a bounded multi-producer multi-consumer fan-out channel.
// Published events land in a fixed-size ring; every subscriber keeps its own
// cursor into the sequence. A publisher never blocks: a subscriber that falls
// more than the ring capacity behind loses the oldest events and learns the
// exact skipped count on its next receive.
type broadcaster struct {
	mu     sync.Mutex
	buf    []Event
	seq    uint64 // sequence number of the next published event
	notify chan struct{}
	closed bool
}

func newBroadcaster(capacity int) *broadcaster {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &broadcaster{
		buf:    make([]Event, capacity),
		notify: make(chan struct{}),
	}
}

// publish appends ev to the ring. The order events are assigned sequence
// numbers under the lock is the single total order every subscriber observes.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.buf[b.seq%uint64(len(b.buf))] = ev
	b.seq++
	close(b.notify)
	b.notify = make(chan struct{})
}

// close wakes all pending receivers. Buffered events remain receivable;
// subscribers get ErrClosed once drained.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// snapshot returns the cursor a new subscriber starts from: only events
// published after this point are delivered to it.
func (b *broadcaster) snapshot() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// recv delivers the event at *cursor, advancing it. When the cursor has been
// overrun it skips to the oldest retained event and returns a LagError.
func (b *broadcaster) recv(ctx context.Context, cursor *uint64) (Event, error) {
	for {
		b.mu.Lock()
		capacity := uint64(len(b.buf))
		if b.seq > *cursor {
			if b.seq-*cursor > capacity {
				skipped := b.seq - capacity - *cursor
				*cursor = b.seq - capacity
				b.mu.Unlock()
				return Event{}, &LagError{Skipped: skipped}
			}
			ev := b.buf[*cursor%capacity]
			*cursor++
			b.mu.Unlock()
			return ev, nil
		}
		if b.closed {
			b.mu.Unlock()
			return Event{}, ErrClosed
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wait:
		}
	}
}
