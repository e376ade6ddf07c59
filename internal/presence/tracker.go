// Package presence owns the live state of who is in which voice room. A
// single goroutine consumes the gateway stream and is the sole mutator of
// the active-session table: one event is fully handled, including its store
// writes, before the next is taken.
package presence

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/steelhorse-mc/presence-engine/internal/clock"
	"github.com/steelhorse-mc/presence-engine/internal/config"
	apperrors "github.com/steelhorse-mc/presence-engine/internal/errors"
	"github.com/steelhorse-mc/presence-engine/internal/gateway"
	"github.com/steelhorse-mc/presence-engine/internal/model"
	"github.com/steelhorse-mc/presence-engine/internal/overlap"
	"github.com/steelhorse-mc/presence-engine/internal/repository"
)

type Options struct {
	ProspectRoomSubstrings []string
	ProspectUserSubstring  string
	MinSession             time.Duration
}

type Tracker struct {
	clk       clock.Clock
	opts      Options
	active    repository.ActiveSessionRepository
	completed repository.CompletedSessionRepository

	// keyed by user_id; owned exclusively by the Run goroutine
	sessions map[string]*model.ActiveSession

	stats Stats
	newID func() string
}

func NewTracker(
	clk clock.Clock,
	active repository.ActiveSessionRepository,
	completed repository.CompletedSessionRepository,
	opts Options,
) *Tracker {
	return &Tracker{
		clk:       clk,
		opts:      opts,
		active:    active,
		completed: completed,
		sessions:  make(map[string]*model.ActiveSession),
		newID:     uuid.NewString,
	}
}

func (t *Tracker) Stats() *Stats {
	return &t.stats
}

// ActiveCount is safe only as an approximate figure for the ops surface.
func (t *Tracker) ActiveCount() int {
	return len(t.sessions)
}

// Restore surfaces sessions left behind by a crash. They are not resurrected:
// the first Ready reconciliation clears them, and no close time is ever
// fabricated for them. Should the store ever surface two active sessions for
// one user, the newer wins and the older is force-closed at now.
func (t *Tracker) Restore(ctx context.Context) error {
	stale, err := t.active.ListAll(ctx)
	if err != nil {
		return err
	}

	newest := make(map[string]*model.ActiveSession, len(stale))
	for i := range stale {
		s := &stale[i]
		prev, ok := newest[s.UserID]
		if !ok {
			newest[s.UserID] = s
			continue
		}
		older := s
		if prev.OpenedAt.Before(s.OpenedAt) {
			older, newest[s.UserID] = prev, s
		}
		t.stats.ForceClosed.Add(1)
		log.Error().Str("user_id", older.UserID).Str("session_id", older.SessionID).
			Msg("two active sessions surfaced by store, force closing the older")
		t.forceClose(older, t.clk.Now())
	}

	if len(stale) > 0 {
		log.Warn().Int("count", len(stale)).
			Msg("stale active sessions found, awaiting ready reconciliation")
	}
	return nil
}

// forceClose persists a completed record for a session that is not in the
// in-memory map, then drops its active row.
func (t *Tracker) forceClose(s *model.ActiveSession, at time.Time) {
	t.sessions[s.UserID] = s
	t.closeSession(s, at)
}

// Run consumes events until the channel closes, then closes every remaining
// active session. The caller stops the flow by cancelling the gateway, which
// closes the channel after the buffered tail has been delivered.
func (t *Tracker) Run(events <-chan gateway.Event) error {
	for ev := range events {
		t.handle(ev)
		t.stats.EventsProcessed.Add(1)
	}
	return t.closeAll()
}

func (t *Tracker) handle(ev gateway.Event) {
	switch ev.Kind {
	case gateway.KindReady:
		t.reconcile(ev)
	case gateway.KindJoin:
		t.handleJoin(ev.At, ev.User, ev.RoomID, ev.RoomName)
	case gateway.KindLeave:
		t.handleLeave(ev.At, ev.User, ev.RoomID, ev.RoomName)
	case gateway.KindMove:
		// logically a Leave then a Join at the same instant
		t.handleLeave(ev.At, ev.User, ev.FromRoomID, ev.FromRoomName)
		t.handleJoin(ev.At, ev.User, ev.RoomID, ev.RoomName)
	case gateway.KindMessage:
		t.handleMessage(ev.At, ev.User)
	}
}

// reconcile rebuilds all state from a Ready snapshot. Pre-existing sessions
// are discarded, never closed: fabricating a close time for a session that
// outlived a disconnect would poison the duration figures.
func (t *Tracker) reconcile(ev gateway.Event) {
	t.sessions = make(map[string]*model.ActiveSession)
	if err := t.persist("delete all active", func(ctx context.Context) error {
		_, err := t.active.DeleteAll(ctx)
		return err
	}); err == nil {
		log.Info().Int("rooms", len(ev.Rooms)).Msg("ready reconciliation")
	}

	for _, room := range ev.Rooms {
		for _, member := range room.Members {
			t.openFromSnapshot(ev.At, member, room)
		}
	}
	t.stats.Reconciliations.Add(1)
}

func (t *Tracker) openFromSnapshot(at time.Time, user gateway.User, room gateway.RoomSnapshot) {
	co := make(model.RoomMembers, 0, len(room.Members)-1)
	for _, m := range room.Members {
		if m.ID == user.ID {
			continue
		}
		co = append(co, model.RoomMember{UserID: m.ID, DisplayName: m.DisplayName})
	}
	sortMembers(co)
	t.open(at, user, room.RoomID, room.RoomName, co)
}

func (t *Tracker) handleJoin(at time.Time, user gateway.User, roomID, roomName string) {
	if existing, ok := t.sessions[user.ID]; ok {
		// duplicate Join is a platform protocol violation: repair and proceed
		log.Error().
			Str("user_id", user.ID).
			Str("session_id", existing.SessionID).
			Str("room", existing.RoomName).
			Msg("join for user with open session, force closing")
		t.closeSession(existing, at)
		t.stats.ForceClosed.Add(1)
	}

	co := make(model.RoomMembers, 0)
	for _, other := range t.sessions {
		if other.RoomID != roomID {
			continue
		}
		co = append(co, model.RoomMember{UserID: other.UserID, DisplayName: other.UserDisplayName})
	}
	sortMembers(co)
	t.open(at, user, roomID, roomName, co)

	// a prospect joining a prospect room starts a timing entry on every
	// other session in that room
	if t.isProspectRoom(roomName) && t.isProspect(user.DisplayName) {
		for _, other := range t.sessions {
			if other.UserID == user.ID || other.RoomID != roomID || other.ProspectTimings == nil {
				continue
			}
			other.ProspectTimings[user.DisplayName] = model.ProspectTiming{
				UserID:    user.ID,
				EnteredAt: at,
			}
			t.upsert(other)
		}
	}
}

func (t *Tracker) open(at time.Time, user gateway.User, roomID, roomName string, co model.RoomMembers) {
	s := &model.ActiveSession{
		SessionID:       t.newID(),
		UserID:          user.ID,
		UserDisplayName: user.DisplayName,
		RoomID:          roomID,
		RoomName:        roomName,
		OpenedAt:        at,
		CoPresentAtOpen: co,
	}

	if t.isProspectRoom(roomName) {
		s.ProspectTimings = make(model.ProspectTimings)
		for _, m := range co {
			if t.isProspect(m.DisplayName) {
				s.ProspectTimings[m.DisplayName] = model.ProspectTiming{
					UserID:    m.UserID,
					EnteredAt: at,
				}
			}
		}
	}

	t.sessions[user.ID] = s
	t.upsert(s)
}

func (t *Tracker) handleLeave(at time.Time, user gateway.User, roomID, roomName string) {
	if s, ok := t.sessions[user.ID]; ok {
		t.closeSession(s, at)
	} else {
		t.stats.UnknownLeaves.Add(1)
		log.Warn().Str("user_id", user.ID).Str("room", roomName).
			Msg("leave for user with no open session")
	}

	// a prospect leaving a prospect room seals open timing entries on the
	// sessions staying behind
	if t.isProspectRoom(roomName) && t.isProspect(user.DisplayName) {
		for _, other := range t.sessions {
			if other.RoomID != roomID || other.ProspectTimings == nil {
				continue
			}
			entry, ok := other.ProspectTimings[user.DisplayName]
			if !ok || entry.LeftAt != nil {
				continue
			}
			left := at
			entry.LeftAt = &left
			other.ProspectTimings[user.DisplayName] = entry
			t.upsert(other)
		}
	}
}

func (t *Tracker) handleMessage(at time.Time, user gateway.User) {
	s, ok := t.sessions[user.ID]
	if !ok {
		return
	}
	spoke := at
	s.LastSpokeAt = &spoke
	t.upsert(s)
}

// closeSession removes the session from memory and the store. Sessions
// shorter than the minimum are discarded without a completed record. The
// completed row is durable before the active row goes away.
func (t *Tracker) closeSession(s *model.ActiveSession, at time.Time) {
	delete(t.sessions, s.UserID)

	duration := at.Sub(s.OpenedAt)
	if duration < t.opts.MinSession {
		t.stats.DiscardedShort.Add(1)
		t.deleteActive(s.SessionID)
		return
	}

	cs := &model.CompletedSession{
		SessionID:       s.SessionID,
		UserID:          s.UserID,
		UserDisplayName: s.UserDisplayName,
		RoomID:          s.RoomID,
		RoomName:        s.RoomName,
		OpenedAt:        s.OpenedAt,
		ClosedAt:        at,
		DurationSeconds: int64(duration / time.Second),
		CoPresentAtOpen: s.CoPresentAtOpen,
		ProspectTimings: s.ProspectTimings,
	}

	if s.ProspectTimings != nil {
		breakdown, paired := overlap.Breakdown(s.OpenedAt, at, s.ProspectTimings)
		cs.PairBreakdown = breakdown
		cs.TotalPairedSeconds = paired
		cs.SoloSeconds = overlap.Solo(cs.DurationSeconds, paired)
	}

	if err := t.persist("append completed", func(ctx context.Context) error {
		return t.completed.Append(ctx, cs)
	}); err != nil {
		// the active row stays; the next reconciliation clears it
		return
	}
	t.stats.CompletedSessions.Add(1)
	t.deleteActive(s.SessionID)
}

// closeAll runs on graceful shutdown: every open session is closed at now
// with the same rules as a Leave.
func (t *Tracker) closeAll() error {
	now := t.clk.Now()

	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	before := t.stats.StoreErrors.Load()
	for _, id := range ids {
		t.closeSession(t.sessions[id], now)
	}
	if t.stats.StoreErrors.Load() != before {
		return apperrors.Internal("final session writes failed during shutdown")
	}
	log.Info().Int("closed", len(ids)).Msg("presence tracker drained")
	return nil
}

func (t *Tracker) upsert(s *model.ActiveSession) {
	t.persist("upsert active", func(ctx context.Context) error {
		return t.active.Upsert(ctx, s)
	})
}

func (t *Tracker) deleteActive(sessionID string) {
	t.persist("delete active", func(ctx context.Context) error {
		return t.active.Delete(ctx, sessionID)
	})
}

// persist retries transient store failures, then logs and moves on: the
// engine never aborts the event loop over a single bad write.
func (t *Tracker) persist(op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < config.StoreWriteAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(config.StoreWriteBackoff)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = fn(ctx)
		cancel()
		if err == nil {
			return nil
		}
	}
	t.stats.StoreErrors.Add(1)
	log.Error().Err(err).Str("op", op).Msg("store write failed after retries")
	return err
}

func (t *Tracker) isProspectRoom(roomName string) bool {
	normalized := strings.ToLower(strings.TrimSpace(roomName))
	for _, sub := range t.opts.ProspectRoomSubstrings {
		if strings.Contains(normalized, sub) {
			return true
		}
	}
	return false
}

func (t *Tracker) isProspect(displayName string) bool {
	return strings.Contains(
		strings.ToLower(displayName),
		strings.ToLower(t.opts.ProspectUserSubstring),
	)
}

func sortMembers(members model.RoomMembers) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].DisplayName != members[j].DisplayName {
			return members[i].DisplayName < members[j].DisplayName
		}
		return members[i].UserID < members[j].UserID
	})
}
