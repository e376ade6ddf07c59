// Package reminder walks membership dues state once a day and dispatches
// notifications idempotently.
package reminder

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/steelhorse-mc/presence-engine/internal/clock"
	apperrors "github.com/steelhorse-mc/presence-engine/internal/errors"
	"github.com/steelhorse-mc/presence-engine/internal/model"
	"github.com/steelhorse-mc/presence-engine/internal/notifier"
	"github.com/steelhorse-mc/presence-engine/internal/repository"
)

// Sender hands a rendered-elsewhere notification to the notifier gateway.
type Sender interface {
	Send(ctx context.Context, req notifier.Request) notifier.Result
}

// Stats are the scheduler's observable counters.
type Stats struct {
	Sent                atomic.Int64
	Failed              atomic.Int64
	SkippedExisting     atomic.Int64
	SkippedMissingPrior atomic.Int64
	SkippedNoContact    atomic.Int64
}

func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"sent":                  s.Sent.Load(),
		"failed":                s.Failed.Load(),
		"skipped_existing":      s.SkippedExisting.Load(),
		"skipped_missing_prior": s.SkippedMissingPrior.Load(),
		"skipped_no_contact":    s.SkippedNoContact.Load(),
	}
}

type Scheduler struct {
	clk      clock.Clock
	loc      *time.Location
	rules    repository.RuleRepository
	dues     repository.DuesRepository
	dispatch repository.DispatchRepository
	sender   Sender

	stats Stats
}

func NewScheduler(
	clk clock.Clock,
	loc *time.Location,
	rules repository.RuleRepository,
	dues repository.DuesRepository,
	dispatch repository.DispatchRepository,
	sender Sender,
) *Scheduler {
	return &Scheduler{
		clk:      clk,
		loc:      loc,
		rules:    rules,
		dues:     dues,
		dispatch: dispatch,
		sender:   sender,
	}
}

func (s *Scheduler) Stats() *Stats {
	return &s.stats
}

// Start registers the daily tick. The returned cancel stops future ticks.
func (s *Scheduler) Start(timers *clock.Timers, hour, minute int) clock.CancelFunc {
	return timers.ScheduleDaily(hour, minute, s.loc, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.Tick(ctx); err != nil {
			log.Error().Err(err).Msg("reminder tick failed")
		}
	})
}

// RunNow is the admin-invoked manual trigger. It uses the current wall-clock
// day and honors the same idempotency as the scheduled tick.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.Tick(ctx)
}

// Tick evaluates the rule for the current local day against every unpaid
// member. Dispatches that already happened are skipped; a rule may not fire
// before every lower-day rule has a record in the same cycle.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clk.Now().In(s.loc)
	year, month, day := now.Date()
	ym := model.CycleYM(year, month)

	rule, err := s.rules.FindForDay(ctx, day)
	if err != nil {
		return apperrors.Store(err)
	}
	if rule == nil {
		log.Debug().Int("day", day).Msg("no reminder rule for today")
		return nil
	}

	activeRules, err := s.rules.ListActive(ctx)
	if err != nil {
		return apperrors.Store(err)
	}

	members, err := s.dues.ListUnpaid(ctx, year, month)
	if err != nil {
		return apperrors.Store(err)
	}

	log.Info().
		Str("rule_id", rule.RuleID).
		Str("cycle", ym).
		Int("members", len(members)).
		Msg("reminder tick")

	for _, member := range members {
		if err := s.process(ctx, member, *rule, activeRules, ym); err != nil {
			// one member's failure never stops the sweep
			log.Error().Err(err).
				Str("member_id", member.MemberID).
				Str("rule_id", rule.RuleID).
				Msg("reminder dispatch failed")
		}
	}
	return nil
}

func (s *Scheduler) process(
	ctx context.Context,
	member model.MemberDues,
	rule model.ReminderRule,
	activeRules []model.ReminderRule,
	ym string,
) error {
	records, err := s.dispatch.ListByMemberCycle(ctx, member.MemberID, ym)
	if err != nil {
		return apperrors.Store(err)
	}
	byRule := make(map[string]model.DispatchRecord, len(records))
	for _, rec := range records {
		byRule[rec.RuleID] = rec
	}

	// "sent" is final; "failed" and "skipped" may be retried until the day rolls
	if rec, ok := byRule[rule.RuleID]; ok && rec.Result == model.DispatchSent {
		s.stats.SkippedExisting.Add(1)
		return nil
	}

	// escalation order: every lower-day active rule must have fired first
	for _, prior := range activeRules {
		if prior.TriggerDay >= rule.TriggerDay {
			continue
		}
		if _, ok := byRule[prior.RuleID]; !ok {
			s.stats.SkippedMissingPrior.Add(1)
			log.Warn().
				Str("member_id", member.MemberID).
				Str("rule_id", rule.RuleID).
				Str("missing_rule_id", prior.RuleID).
				Msg("skipping out-of-order escalation")
			return nil
		}
	}

	if member.ContactChannel == "" {
		s.stats.SkippedNoContact.Add(1)
		return s.record(ctx, member.MemberID, ym, rule.RuleID, model.DispatchSkipped, "no contact channel")
	}

	result := s.sender.Send(ctx, notifier.Request{
		Channel:    member.ContactChannel,
		TemplateID: rule.TemplateID,
		Payload: map[string]any{
			"member_id":    member.MemberID,
			"display_name": member.DisplayName,
			"cycle":        ym,
		},
	})

	if result.Status == notifier.StatusSent {
		s.stats.Sent.Add(1)
		return s.record(ctx, member.MemberID, ym, rule.RuleID, model.DispatchSent, "")
	}

	// a failed record may be retried by a later tick on the same day
	s.stats.Failed.Add(1)
	reason := result.Reason
	if reason == "" {
		reason = string(result.Status)
	}
	return s.record(ctx, member.MemberID, ym, rule.RuleID, model.DispatchFailed, reason)
}

func (s *Scheduler) record(
	ctx context.Context,
	memberID, ym, ruleID string,
	result model.DispatchResult,
	reason string,
) error {
	rec := model.DispatchRecord{
		MemberID:     memberID,
		CycleYM:      ym,
		RuleID:       ruleID,
		DispatchedAt: s.clk.Now(),
		Result:       result,
	}
	if reason != "" {
		rec.FailureReason = &reason
	}

	err := s.dispatch.Record(ctx, rec)
	if apperrors.IsDuplicate(err) {
		// a concurrent or earlier send stands
		return nil
	}
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}
