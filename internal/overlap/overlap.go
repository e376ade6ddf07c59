// Package overlap derives per-pair time breakdowns for sessions closed in
// prospect-class rooms.
package overlap

import (
	"sort"
	"time"

	"github.com/steelhorse-mc/presence-engine/internal/model"
)

// Breakdown computes, for each prospect the session owner shared the room
// with, the seconds their presence intersected the [openedAt, closedAt)
// window. Intervals are clamped to the session window; entries that never
// intersect it are dropped.
//
// Pair seconds may sum past the session duration when several prospects were
// in the room at once. That is deliberate: the figure is "time spent with
// each", not a partition of the session.
func Breakdown(openedAt, closedAt time.Time, timings model.ProspectTimings) (model.PairBreakdown, int64) {
	if len(timings) == 0 {
		return nil, 0
	}

	breakdown := make(model.PairBreakdown, 0, len(timings))
	var totalPaired int64

	for name, timing := range timings {
		start := timing.EnteredAt
		if start.Before(openedAt) {
			start = openedAt
		}
		end := closedAt
		if timing.LeftAt != nil && timing.LeftAt.Before(end) {
			end = *timing.LeftAt
		}
		if !end.After(start) {
			continue
		}

		seconds := int64(end.Sub(start) / time.Second)
		breakdown = append(breakdown, model.PairOverlap{
			OtherUserID:      timing.UserID,
			OtherDisplayName: name,
			OverlapSeconds:   seconds,
			OtherEnteredAt:   timing.EnteredAt,
			OtherLeftAt:      timing.LeftAt,
		})
		totalPaired += seconds
	}

	sort.Slice(breakdown, func(i, j int) bool {
		if !breakdown[i].OtherEnteredAt.Equal(breakdown[j].OtherEnteredAt) {
			return breakdown[i].OtherEnteredAt.Before(breakdown[j].OtherEnteredAt)
		}
		return breakdown[i].OtherDisplayName < breakdown[j].OtherDisplayName
	})

	if len(breakdown) == 0 {
		return nil, 0
	}
	return breakdown, totalPaired
}

// Solo returns the seconds the owner spent with no prospect present,
// saturating at zero when pair seconds exceed the duration.
func Solo(durationSeconds, totalPairedSeconds int64) int64 {
	solo := durationSeconds - totalPairedSeconds
	if solo < 0 {
		return 0
	}
	return solo
}
