package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/steelhorse-mc/presence-engine/internal/model"
)

type ActiveSessionRepository interface {
	// Upsert is idempotent on session_id.
	Upsert(ctx context.Context, session *model.ActiveSession) error
	Delete(ctx context.Context, sessionID string) error
	DeleteAll(ctx context.Context) (int64, error)
	// ListAll supplies the startup handoff after a restart.
	ListAll(ctx context.Context) ([]model.ActiveSession, error)
}

// activeSessionDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type activeSessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type activeSessionRepo struct {
	db activeSessionDB
}

func NewActiveSessionRepository(db *sqlx.DB) ActiveSessionRepository {
	return &activeSessionRepo{db: db}
}

func (r *activeSessionRepo) Upsert(ctx context.Context, s *model.ActiveSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO active_sessions (
			session_id, user_id, user_display_name, room_id, room_name,
			opened_at, co_present_at_open, prospect_timings, last_spoke_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			room_id = EXCLUDED.room_id,
			room_name = EXCLUDED.room_name,
			prospect_timings = EXCLUDED.prospect_timings,
			last_spoke_at = EXCLUDED.last_spoke_at
	`, s.SessionID, s.UserID, s.UserDisplayName, s.RoomID, s.RoomName,
		s.OpenedAt, s.CoPresentAtOpen, s.ProspectTimings, s.LastSpokeAt)
	return err
}

func (r *activeSessionRepo) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM active_sessions WHERE session_id = $1
	`, sessionID)
	return err
}

func (r *activeSessionRepo) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM active_sessions`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *activeSessionRepo) ListAll(ctx context.Context) ([]model.ActiveSession, error) {
	var sessions []model.ActiveSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM active_sessions ORDER BY opened_at
	`)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
