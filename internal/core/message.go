package core

import "github.com/google/uuid"

// SystemAuthorID is the reserved author id stamped on system-generated
// messages such as join announcements. It is never assigned to a real user.
var SystemAuthorID = uuid.Nil

// SystemUsername is the display name system-generated messages carry on the wire.
const SystemUsername = "[system]"

// Event is a single chat message as delivered to subscribers.
type Event struct {
	ID       string
	Username string
	Text     string
	TS       int64 // milliseconds since epoch
}
