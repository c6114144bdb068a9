package core

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Subscription.Recv after the room's channel has been
// closed and every buffered message has been drained.
var ErrClosed = errors.New("room channel closed")

// ErrMalformedCommand marks an inbound frame that could not be decoded into a
// command. It is recoverable: the session drops the frame and keeps reading.
var ErrMalformedCommand = errors.New("malformed command")

// LagError reports that a subscriber fell behind the publish rate and the
// oldest undelivered messages were discarded. Receiving resumes afterwards.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscriber lagged behind by %d messages", e.Skipped)
}
