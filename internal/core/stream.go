package core

import "context"

// Stream is the duplex connection a session pumps. The transport layer adapts
// the actual network stream (WebSocket) to this interface.
//
// ReadCommand returns ErrMalformedCommand (possibly wrapped) for a frame that
// could not be decoded; any other error means the transport is unusable and
// ends the session.
type Stream interface {
	ReadCommand(ctx context.Context) (Command, error)
	WriteEvent(ctx context.Context, ev Event) error
}
