package presence

import "sync/atomic"

// Stats are the tracker's observable counters, exposed via the ops surface.
type Stats struct {
	EventsProcessed   atomic.Int64
	CompletedSessions atomic.Int64
	DiscardedShort    atomic.Int64
	ForceClosed       atomic.Int64
	UnknownLeaves     atomic.Int64
	Reconciliations   atomic.Int64
	StoreErrors       atomic.Int64
}

func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"events_processed":   s.EventsProcessed.Load(),
		"completed_sessions": s.CompletedSessions.Load(),
		"discarded_short":    s.DiscardedShort.Load(),
		"force_closed":       s.ForceClosed.Load(),
		"unknown_leaves":     s.UnknownLeaves.Load(),
		"reconciliations":    s.Reconciliations.Load(),
		"store_errors":       s.StoreErrors.Load(),
	}
}
