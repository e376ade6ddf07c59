package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RoomMember is one person present in a voice room.
type RoomMember struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// RoomMembers is stored as a JSONB array on the session row.
type RoomMembers []RoomMember

func (m RoomMembers) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

func (m *RoomMembers) Scan(src any) error {
	return scanJSON(src, m)
}

// ProspectTiming records when a prospect entered and left a room relative
// to some observer's session. LeftAt is nil while the prospect is still in.
type ProspectTiming struct {
	UserID    string     `json:"userId"`
	EnteredAt time.Time  `json:"enteredAt"`
	LeftAt    *time.Time `json:"leftAt,omitempty"`
}

// ProspectTimings is keyed by the prospect's display name. Names can change;
// UserID travels inside each entry so readers can migrate to id keys later.
type ProspectTimings map[string]ProspectTiming

func (p ProspectTimings) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func (p *ProspectTimings) Scan(src any) error {
	return scanJSON(src, p)
}

// ActiveSession is an open voice-room session. At most one exists per user.
type ActiveSession struct {
	SessionID       string          `db:"session_id" json:"sessionId"`
	UserID          string          `db:"user_id" json:"userId"`
	UserDisplayName string          `db:"user_display_name" json:"userDisplayName"`
	RoomID          string          `db:"room_id" json:"roomId"`
	RoomName        string          `db:"room_name" json:"roomName"`
	OpenedAt        time.Time       `db:"opened_at" json:"openedAt"`
	CoPresentAtOpen RoomMembers     `db:"co_present_at_open" json:"coPresentAtOpen"`
	ProspectTimings ProspectTimings `db:"prospect_timings" json:"prospectTimings,omitempty"`
	LastSpokeAt     *time.Time      `db:"last_spoke_at" json:"lastSpokeAt,omitempty"`
}

// PairOverlap is the time one prospect spent co-present with the session owner.
type PairOverlap struct {
	OtherUserID      string     `json:"otherUserId"`
	OtherDisplayName string     `json:"otherDisplayName"`
	OverlapSeconds   int64      `json:"overlapSeconds"`
	OtherEnteredAt   time.Time  `json:"otherEnteredAt"`
	OtherLeftAt      *time.Time `json:"otherLeftAt,omitempty"`
}

// PairBreakdown is stored as a JSONB array on the completed session row.
type PairBreakdown []PairOverlap

func (b PairBreakdown) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	return json.Marshal(b)
}

func (b *PairBreakdown) Scan(src any) error {
	return scanJSON(src, b)
}

// CompletedSession is immutable once written.
type CompletedSession struct {
	SessionID       string          `db:"session_id" json:"sessionId"`
	UserID          string          `db:"user_id" json:"userId"`
	UserDisplayName string          `db:"user_display_name" json:"userDisplayName"`
	RoomID          string          `db:"room_id" json:"roomId"`
	RoomName        string          `db:"room_name" json:"roomName"`
	OpenedAt        time.Time       `db:"opened_at" json:"openedAt"`
	ClosedAt        time.Time       `db:"closed_at" json:"closedAt"`
	DurationSeconds int64           `db:"duration_seconds" json:"durationSeconds"`
	CoPresentAtOpen RoomMembers     `db:"co_present_at_open" json:"coPresentAtOpen"`
	ProspectTimings ProspectTimings `db:"prospect_timings" json:"prospectTimings,omitempty"`

	// Populated only for prospect-class rooms.
	PairBreakdown      PairBreakdown `db:"pair_breakdown" json:"pairBreakdown,omitempty"`
	TotalPairedSeconds int64         `db:"total_paired_seconds" json:"totalPairedSeconds"`
	SoloSeconds        int64         `db:"solo_seconds" json:"soloSeconds"`
}

func scanJSON(src any, dest any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
}
