package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/steelhorse-mc/presence-engine/internal/model"
)

type CompletedSessionRepository interface {
	// Append writes a completed session. Rows are immutable once written;
	// replaying the same session_id is a no-op.
	Append(ctx context.Context, session *model.CompletedSession) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.CompletedSession, error)
	ListByMonth(ctx context.Context, year int, month time.Month) ([]model.CompletedSession, error)
	ListByRoomName(ctx context.Context, roomName string, limit, offset int) ([]model.CompletedSession, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type completedSessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type completedSessionRepo struct {
	db completedSessionDB
}

func NewCompletedSessionRepository(db *sqlx.DB) CompletedSessionRepository {
	return &completedSessionRepo{db: db}
}

func (r *completedSessionRepo) Append(ctx context.Context, s *model.CompletedSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO completed_sessions (
			session_id, user_id, user_display_name, room_id, room_name,
			opened_at, closed_at, duration_seconds,
			co_present_at_open, prospect_timings,
			pair_breakdown, total_paired_seconds, solo_seconds
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO NOTHING
	`, s.SessionID, s.UserID, s.UserDisplayName, s.RoomID, s.RoomName,
		s.OpenedAt, s.ClosedAt, s.DurationSeconds,
		s.CoPresentAtOpen, s.ProspectTimings,
		s.PairBreakdown, s.TotalPairedSeconds, s.SoloSeconds)
	return err
}

func (r *completedSessionRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.CompletedSession, error) {
	var sessions []model.CompletedSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM completed_sessions
		WHERE user_id = $1
		ORDER BY closed_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *completedSessionRepo) ListByMonth(ctx context.Context, year int, month time.Month) ([]model.CompletedSession, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var sessions []model.CompletedSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM completed_sessions
		WHERE closed_at >= $1 AND closed_at < $2
		ORDER BY closed_at
	`, start, end)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *completedSessionRepo) ListByRoomName(ctx context.Context, roomName string, limit, offset int) ([]model.CompletedSession, error) {
	var sessions []model.CompletedSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM completed_sessions
		WHERE room_name = $1
		ORDER BY closed_at DESC
		LIMIT $2 OFFSET $3
	`, roomName, limit, offset)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *completedSessionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM completed_sessions WHERE closed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
