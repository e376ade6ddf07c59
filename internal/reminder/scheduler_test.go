package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steelhorse-mc/presence-engine/internal/clock"
	apperrors "github.com/steelhorse-mc/presence-engine/internal/errors"
	"github.com/steelhorse-mc/presence-engine/internal/model"
	"github.com/steelhorse-mc/presence-engine/internal/notifier"
)

type mockRuleRepo struct {
	rules []model.ReminderRule
}

func (m *mockRuleRepo) FindForDay(ctx context.Context, day int) (*model.ReminderRule, error) {
	for _, r := range m.rules {
		if r.TriggerDay == day && r.Active {
			rule := r
			return &rule, nil
		}
	}
	return nil, nil
}

func (m *mockRuleRepo) ListActive(ctx context.Context) ([]model.ReminderRule, error) {
	var active []model.ReminderRule
	for _, r := range m.rules {
		if r.Active {
			active = append(active, r)
		}
	}
	return active, nil
}

type mockDuesRepo struct {
	unpaid []model.MemberDues
}

func (m *mockDuesRepo) ListUnpaid(ctx context.Context, year int, month time.Month) ([]model.MemberDues, error) {
	return m.unpaid, nil
}

type memDispatchRepo struct {
	mu      sync.Mutex
	records map[string]model.DispatchRecord
}

func newMemDispatchRepo() *memDispatchRepo {
	return &memDispatchRepo{records: make(map[string]model.DispatchRecord)}
}

func key(memberID, ym, ruleID string) string {
	return memberID + "|" + ym + "|" + ruleID
}

func (m *memDispatchRepo) Record(ctx context.Context, rec model.DispatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(rec.MemberID, rec.CycleYM, rec.RuleID)
	if existing, ok := m.records[k]; ok && existing.Result == model.DispatchSent {
		return apperrors.Duplicate("dispatch")
	}
	m.records[k] = rec
	return nil
}

func (m *memDispatchRepo) Exists(ctx context.Context, memberID, ym, ruleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[key(memberID, ym, ruleID)]
	return ok, nil
}

func (m *memDispatchRepo) ListByMemberCycle(ctx context.Context, memberID, ym string) ([]model.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DispatchRecord
	for _, rec := range m.records {
		if rec.MemberID == memberID && rec.CycleYM == ym {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memDispatchRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memDispatchRepo) get(memberID, ym, ruleID string) (model.DispatchRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key(memberID, ym, ruleID)]
	return rec, ok
}

type mockSender struct {
	mu      sync.Mutex
	results []notifier.Result
	calls   int
}

func (m *mockSender) Send(ctx context.Context, req notifier.Request) notifier.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := notifier.Result{Status: notifier.StatusSent}
	if m.calls < len(m.results) {
		res = m.results[m.calls]
	}
	m.calls++
	return res
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func member(id string) model.MemberDues {
	return model.MemberDues{
		MemberID:       id,
		DisplayName:    "Member " + id,
		ContactChannel: "dm:" + id,
		CycleYM:        "2025-11",
		State:          model.DuesUnpaid,
	}
}

// day 3 of the November 2025 cycle
var day3 = time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

func newScheduler(clk clock.Clock, rules *mockRuleRepo, dues *mockDuesRepo, dispatch *memDispatchRepo, sender *mockSender) *Scheduler {
	return NewScheduler(clk, time.UTC, rules, dues, dispatch, sender)
}

func TestTickSendsAndRecords(t *testing.T) {
	rules := &mockRuleRepo{rules: []model.ReminderRule{
		{RuleID: "day3", TriggerDay: 3, TemplateID: "dues-first", Active: true},
	}}
	dues := &mockDuesRepo{unpaid: []model.MemberDues{member("m1"), member("m2")}}
	dispatch := newMemDispatchRepo()
	sender := &mockSender{}

	s := newScheduler(clock.NewManual(day3), rules, dues, dispatch, sender)
	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, 2, sender.callCount())
	for _, id := range []string{"m1", "m2"} {
		rec, ok := dispatch.get(id, "2025-11", "day3")
		require.True(t, ok, "dispatch record for %s", id)
		assert.Equal(t, model.DispatchSent, rec.Result)
	}
	assert.Equal(t, int64(2), s.stats.Sent.Load())
}

func TestTickIsIdempotentWithinDay(t *testing.T) {
	rules := &mockRuleRepo{rules: []model.ReminderRule{
		{RuleID: "day3", TriggerDay: 3, TemplateID: "dues-first", Active: true},
	}}
	dues := &mockDuesRepo{unpaid: []model.MemberDues{member("m1")}}
	dispatch := newMemDispatchRepo()
	sender := &mockSender{}

	s := newScheduler(clock.NewManual(day3), rules, dues, dispatch, sender)
	require.NoError(t, s.Tick(context.Background()))
	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, 1, sender.callCount(), "second tick must not dispatch again")
	rec, ok := dispatch.get("m1", "2025-11", "day3")
	require.True(t, ok)
	assert.Equal(t, model.DispatchSent, rec.Result)
	assert.Equal(t, int64(1), s.stats.SkippedExisting.Load())
}

func TestNoRuleForToday(t *testing.T) {
	rules := &mockRuleRepo{rules: []model.ReminderRule{
		{RuleID: "day10", TriggerDay: 10, TemplateID: "dues-second", Active: true},
	}}
	dues := &mockDuesRepo{unpaid: []model.MemberDues{member("m1")}}
	sender := &mockSender{}

	s := newScheduler(clock.NewManual(day3), rules, dues, newMemDispatchRepo(), sender)
	require.NoError(t, s.Tick(context.Background()))

	assert.Zero(t, sender.callCount())
}

func TestOutOfOrderRuleProtection(t *testing.T) {
	rules := &mockRuleRepo{rules: []model.ReminderRule{
		{RuleID: "day3", TriggerDay: 3, TemplateID: "dues-first", Active: true},
		{RuleID: "day10", TriggerDay: 10, TemplateID: "dues-second", Active: true},
	}}
	dues := &mockDuesRepo{unpaid: []model.MemberDues{member("m1")}}
	dispatch := newMemDispatchRepo()
	sender := &mockSender{}

	day10 := time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)
	s := newScheduler(clock.NewManual(day10), rules, dues, dispatch, sender)
	require.NoError(t, s.Tick(context.Background()))

	// no day3 record exists, so day10 must not fire
	assert.Zero(t, sender.callCount())
	_, ok := dispatch.get("m1", "2025-11", "day10")
	assert.False(t, ok)
	assert.Equal(t, int64(1), s.stats.SkippedMissingPrior.Load())
}

func TestEscalationAfterPriorRecord(t *testing.T) {
	rules := &mockRuleRepo{rules: []model.ReminderRule{
		{RuleID: "day3", TriggerDay: 3, TemplateID: "dues-first", Active: true},
		{RuleID: "day10", TriggerDay: 10, TemplateID: "dues-second", Active: true},
	}}
	dues := &mockDuesRepo{unpaid: []model.MemberDues{member("m1")}}
	dispatch := newMemDispatchRepo()
	sender := &mockSender{}

	require.NoError(t, dispatch.Record(context.Background(), model.DispatchRecord{
		MemberID: "m1", CycleYM: "2025-11", RuleID: "day3",
		DispatchedAt: day3, Result: model.DispatchSent,
	}))

	day10 := time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)
	s := newScheduler(clock.NewManual(day10), rules, dues, dispatch, sender)
	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, 1, sender.callCount())
	rec, ok := dispatch.get("m1", "2025-11", "day10")
	require.True(t, ok)
	assert.Equal(t, model.DispatchSent, rec.Result)
}

func TestFailureRecordedAndRetriable(t *testing.T) {
	rules := &mockRuleRepo{rules: []model.ReminderRule{
		{RuleID: "day3", TriggerDay: 3, TemplateID: "dues-first", Active: true},
	}}
	dues := &mockDuesRepo{unpaid: []model.MemberDues{member("m1")}}
	dispatch := newMemDispatchRepo()
	sender := &mockSender{results: []notifier.Result{
		{Status: notifier.StatusTransientError, Reason: "sink timeout"},
		{Status: notifier.StatusSent},
	}}

	s := newScheduler(clock.NewManual(day3), rules, dues, dispatch, sender)

	require.NoError(t, s.Tick(context.Background()))
	rec, ok := dispatch.get("m1", "2025-11", "day3")
	require.True(t, ok)
	assert.Equal(t, model.DispatchFailed, rec.Result)
	require.NotNil(t, rec.FailureReason)
	assert.Equal(t, "sink timeout", *rec.FailureReason)

	// a failed record is retried by a later tick on the same day
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 2, sender.callCount())
	rec, ok = dispatch.get("m1", "2025-11", "day3")
	require.True(t, ok)
	assert.Equal(t, model.DispatchSent, rec.Result)
	assert.Equal(t, int64(1), s.stats.Sent.Load())
	assert.Equal(t, int64(1), s.stats.Failed.Load())
}

func TestNoContactChannelRecordsSkip(t *testing.T) {
	rules := &mockRuleRepo{rules: []model.ReminderRule{
		{RuleID: "day3", TriggerDay: 3, TemplateID: "dues-first", Active: true},
	}}
	m := member("m1")
	m.ContactChannel = ""
	dues := &mockDuesRepo{unpaid: []model.MemberDues{m}}
	dispatch := newMemDispatchRepo()
	sender := &mockSender{}

	s := newScheduler(clock.NewManual(day3), rules, dues, dispatch, sender)
	require.NoError(t, s.Tick(context.Background()))

	assert.Zero(t, sender.callCount())
	rec, ok := dispatch.get("m1", "2025-11", "day3")
	require.True(t, ok)
	assert.Equal(t, model.DispatchSkipped, rec.Result)
	assert.Equal(t, int64(1), s.stats.SkippedNoContact.Load())
}

func TestRunNowMatchesTick(t *testing.T) {
	rules := &mockRuleRepo{rules: []model.ReminderRule{
		{RuleID: "day3", TriggerDay: 3, TemplateID: "dues-first", Active: true},
	}}
	dues := &mockDuesRepo{unpaid: []model.MemberDues{member("m1")}}
	dispatch := newMemDispatchRepo()
	sender := &mockSender{}

	s := newScheduler(clock.NewManual(day3), rules, dues, dispatch, sender)
	require.NoError(t, s.RunNow(context.Background()))
	require.NoError(t, s.RunNow(context.Background()))

	assert.Equal(t, 1, sender.callCount(), "manual trigger honors idempotency")
}

func TestDuplicateRecordTreatedAsSuccess(t *testing.T) {
	dispatch := newMemDispatchRepo()
	require.NoError(t, dispatch.Record(context.Background(), model.DispatchRecord{
		MemberID: "m1", CycleYM: "2025-11", RuleID: "day3",
		DispatchedAt: day3, Result: model.DispatchSent,
	}))

	s := newScheduler(clock.NewManual(day3), &mockRuleRepo{}, &mockDuesRepo{}, dispatch, &mockSender{})
	err := s.record(context.Background(), "m1", "2025-11", "day3", model.DispatchSent, "")
	assert.NoError(t, err, "idempotency conflict on dispatch is success")
}
