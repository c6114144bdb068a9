package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoin announces the client to the room and binds its display name.
	CommandJoin CommandKind = iota
	// CommandChat submits a chat message to the room.
	CommandChat
)

// Command represents an action requested by a client.
type Command struct {
	Kind     CommandKind
	Username string // join only
	Text     string // chat only
}
