package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/steelhorse-mc/presence-engine/internal/errors"
	"github.com/steelhorse-mc/presence-engine/internal/model"
)

type DispatchRepository interface {
	// Record writes the idempotency marker for one reminder dispatch.
	// A prior "failed" row is overwritten by a later "sent" or "failed";
	// a prior "sent" row stands, and Record returns a Duplicate error.
	Record(ctx context.Context, rec model.DispatchRecord) error
	Exists(ctx context.Context, memberID, cycleYM, ruleID string) (bool, error)
	ListByMemberCycle(ctx context.Context, memberID, cycleYM string) ([]model.DispatchRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type dispatchDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type dispatchRepo struct {
	db dispatchDB
}

func NewDispatchRepository(db *sqlx.DB) DispatchRepository {
	return &dispatchRepo{db: db}
}

func (r *dispatchRepo) Record(ctx context.Context, rec model.DispatchRecord) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO dispatch_records (
			member_id, cycle_ym, rule_id, dispatched_at, result, failure_reason
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (member_id, cycle_ym, rule_id) DO UPDATE SET
			dispatched_at = EXCLUDED.dispatched_at,
			result = EXCLUDED.result,
			failure_reason = EXCLUDED.failure_reason
		WHERE dispatch_records.result <> 'sent'
	`, rec.MemberID, rec.CycleYM, rec.RuleID, rec.DispatchedAt, rec.Result, rec.FailureReason)
	if err != nil {
		return apperrors.Store(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Store(err)
	}
	if rows == 0 {
		return apperrors.Duplicate("dispatch")
	}
	return nil
}

func (r *dispatchRepo) Exists(ctx context.Context, memberID, cycleYM, ruleID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM dispatch_records
			WHERE member_id = $1 AND cycle_ym = $2 AND rule_id = $3
		)
	`, memberID, cycleYM, ruleID)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *dispatchRepo) ListByMemberCycle(ctx context.Context, memberID, cycleYM string) ([]model.DispatchRecord, error) {
	var records []model.DispatchRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM dispatch_records
		WHERE member_id = $1 AND cycle_ym = $2
		ORDER BY dispatched_at
	`, memberID, cycleYM)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *dispatchRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM dispatch_records WHERE dispatched_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
