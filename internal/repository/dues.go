package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/steelhorse-mc/presence-engine/internal/model"
)

// DuesRepository reads membership dues state written by the club's CRUD
// layer. The engine never mutates these rows.
type DuesRepository interface {
	// ListUnpaid returns members owing for the given cycle month,
	// excluding exempt members.
	ListUnpaid(ctx context.Context, year int, month time.Month) ([]model.MemberDues, error)
}

type duesDB interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type duesRepo struct {
	db duesDB
}

func NewDuesRepository(db *sqlx.DB) DuesRepository {
	return &duesRepo{db: db}
}

func (r *duesRepo) ListUnpaid(ctx context.Context, year int, month time.Month) ([]model.MemberDues, error) {
	var members []model.MemberDues
	err := r.db.SelectContext(ctx, &members, `
		SELECT d.member_id, m.display_name, m.contact_channel, d.cycle_ym, d.state, d.note
		FROM dues_status d
		JOIN members m ON m.member_id = d.member_id
		WHERE d.cycle_ym = $1 AND d.state = 'unpaid'
		ORDER BY d.member_id
	`, model.CycleYM(year, month))
	if err != nil {
		return nil, err
	}
	return members, nil
}
