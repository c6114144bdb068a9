package proto

import (
	"encoding/json"
	"fmt"

	"github.com/mvolkov/roomcast-server/internal/core"
)

// Command is the inbound wire shape, one of:
//
//	{"type":"join","username":"<string>"}
//	{"type":"chat","message":"<string>"}
type Command struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

const (
	CommandTypeJoin = "join"
	CommandTypeChat = "chat"
)

// Event is the outbound wire shape for a chat message.
type Event struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Text     string `json:"text"`
	TS       int64  `json:"ts"`
}

// DecodeCommand parses an inbound frame. Undecodable payloads and unknown
// types are reported as core.ErrMalformedCommand so the session can drop the
// frame without ending the connection.
func DecodeCommand(data []byte) (core.Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return core.Command{}, fmt.Errorf("%w: %v", core.ErrMalformedCommand, err)
	}

	switch cmd.Type {
	case CommandTypeJoin:
		return core.Command{Kind: core.CommandJoin, Username: cmd.Username}, nil
	case CommandTypeChat:
		return core.Command{Kind: core.CommandChat, Text: cmd.Message}, nil
	default:
		return core.Command{}, fmt.Errorf("%w: unknown type %q", core.ErrMalformedCommand, cmd.Type)
	}
}

// EncodeEvent serializes an event for the wire.
func EncodeEvent(ev core.Event) ([]byte, error) {
	return json.Marshal(Event{
		ID:       ev.ID,
		Username: ev.Username,
		Text:     ev.Text,
		TS:       ev.TS,
	})
}
