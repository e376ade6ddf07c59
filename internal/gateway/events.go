// Package gateway consumes the chat platform's event stream and normalizes
// it into the engine's internal event records.
package gateway

import "time"

type EventKind string

const (
	KindReady   EventKind = "ready"
	KindJoin    EventKind = "join"
	KindLeave   EventKind = "leave"
	KindMove    EventKind = "move"
	KindMessage EventKind = "message"
)

// User is a platform member as seen on the wire.
type User struct {
	ID          string
	DisplayName string
	IsBot       bool
}

// RoomSnapshot is one voice room's membership at Ready time.
type RoomSnapshot struct {
	RoomID   string
	RoomName string
	Members  []User
}

// Event is a normalized platform event. Kind determines which fields are set:
// Ready carries Rooms; Join/Leave/Message carry User and the room fields;
// Move additionally carries the From fields.
type Event struct {
	Kind EventKind
	At   time.Time

	User     User
	RoomID   string
	RoomName string

	FromRoomID   string
	FromRoomName string

	Rooms []RoomSnapshot
}
