package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/steelhorse-mc/presence-engine/internal/model"
)

type RuleRepository interface {
	// FindForDay returns the active rule whose trigger matches the day of
	// month, or nil when none is configured.
	FindForDay(ctx context.Context, day int) (*model.ReminderRule, error)
	// ListActive returns active rules ordered by trigger day.
	ListActive(ctx context.Context) ([]model.ReminderRule, error)
}

type ruleDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type ruleRepo struct {
	db ruleDB
}

func NewRuleRepository(db *sqlx.DB) RuleRepository {
	return &ruleRepo{db: db}
}

func (r *ruleRepo) FindForDay(ctx context.Context, day int) (*model.ReminderRule, error) {
	var rule model.ReminderRule
	err := r.db.GetContext(ctx, &rule, `
		SELECT * FROM reminder_rules
		WHERE trigger_day_of_month = $1 AND active
	`, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepo) ListActive(ctx context.Context) ([]model.ReminderRule, error) {
	var rules []model.ReminderRule
	err := r.db.SelectContext(ctx, &rules, `
		SELECT * FROM reminder_rules
		WHERE active
		ORDER BY trigger_day_of_month
	`)
	if err != nil {
		return nil, err
	}
	return rules, nil
}
