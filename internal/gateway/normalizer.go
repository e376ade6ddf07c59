package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire frame shapes for the platform gateway.

type wireUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Bot         bool   `json:"bot"`
}

type wireRoom struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Members []wireUser `json:"members,omitempty"`
}

type frame struct {
	Op    string     `json:"op"`
	At    int64      `json:"at"` // unix milliseconds
	User  *wireUser  `json:"user,omitempty"`
	Room  *wireRoom  `json:"room,omitempty"`
	Rooms []wireRoom `json:"rooms,omitempty"`
}

const (
	opReady   = "ready"
	opJoin    = "voice_join"
	opLeave   = "voice_leave"
	opMessage = "message"
)

// normalizer turns wire frames into Events. The platform reports a room
// switch as a Leave plus a Join carrying the same user and instant, so a
// Leave is held back until the next frame decides whether it becomes a Move.
type normalizer struct {
	filter       *Filter
	pendingLeave *Event
}

func newNormalizer(filter *Filter) *normalizer {
	return &normalizer{filter: filter}
}

func (n *normalizer) push(raw []byte) ([]Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	at := time.UnixMilli(f.At).UTC()

	switch f.Op {
	case opReady:
		events := n.flush()
		rooms := make([]RoomSnapshot, 0, len(f.Rooms))
		for _, r := range f.Rooms {
			members := make([]User, 0, len(r.Members))
			for _, m := range r.Members {
				u := User{ID: m.ID, DisplayName: m.DisplayName, IsBot: m.Bot}
				if !n.filter.Drop(u) {
					members = append(members, u)
				}
			}
			rooms = append(rooms, RoomSnapshot{RoomID: r.ID, RoomName: r.Name, Members: members})
		}
		return append(events, Event{Kind: KindReady, At: at, Rooms: rooms}), nil

	case opJoin:
		user, room, err := userAndRoom(f)
		if err != nil {
			return n.flush(), err
		}
		if n.filter.Drop(user) {
			return n.flush(), nil
		}
		if p := n.pendingLeave; p != nil && p.User.ID == user.ID && p.At.Equal(at) {
			n.pendingLeave = nil
			return []Event{{
				Kind:         KindMove,
				At:           at,
				User:         user,
				RoomID:       room.ID,
				RoomName:     room.Name,
				FromRoomID:   p.RoomID,
				FromRoomName: p.RoomName,
			}}, nil
		}
		return append(n.flush(), Event{
			Kind: KindJoin, At: at, User: user, RoomID: room.ID, RoomName: room.Name,
		}), nil

	case opLeave:
		user, room, err := userAndRoom(f)
		if err != nil {
			return n.flush(), err
		}
		if n.filter.Drop(user) {
			return n.flush(), nil
		}
		events := n.flush()
		n.pendingLeave = &Event{
			Kind: KindLeave, At: at, User: user, RoomID: room.ID, RoomName: room.Name,
		}
		return events, nil

	case opMessage:
		user, room, err := userAndRoom(f)
		if err != nil {
			return n.flush(), err
		}
		if n.filter.Drop(user) {
			return n.flush(), nil
		}
		return append(n.flush(), Event{
			Kind: KindMessage, At: at, User: user, RoomID: room.ID, RoomName: room.Name,
		}), nil

	default:
		// unknown ops are ignored, but they still resolve a held-back Leave
		return n.flush(), nil
	}
}

// flush releases a held-back Leave that turned out not to be half of a Move.
func (n *normalizer) flush() []Event {
	if n.pendingLeave == nil {
		return nil
	}
	ev := *n.pendingLeave
	n.pendingLeave = nil
	return []Event{ev}
}

func userAndRoom(f frame) (User, wireRoom, error) {
	if f.User == nil || f.Room == nil {
		return User{}, wireRoom{}, fmt.Errorf("frame %q missing user or room", f.Op)
	}
	return User{ID: f.User.ID, DisplayName: f.User.DisplayName, IsBot: f.User.Bot}, *f.Room, nil
}
