package model

import "time"

// ReminderRule fires on a fixed day of month (1..28) while active.
type ReminderRule struct {
	RuleID     string `db:"rule_id" json:"ruleId"`
	TriggerDay int    `db:"trigger_day_of_month" json:"triggerDayOfMonth"`
	TemplateID string `db:"template_id" json:"templateId"`
	Active     bool   `db:"active" json:"active"`
}

type DispatchResult string

const (
	DispatchSent    DispatchResult = "sent"
	DispatchFailed  DispatchResult = "failed"
	DispatchSkipped DispatchResult = "skipped"
)

// DispatchRecord is the idempotency marker for an outbound reminder,
// unique per (member_id, cycle_ym, rule_id). A "sent" record is final;
// "failed" may be overwritten by a later attempt.
type DispatchRecord struct {
	MemberID      string         `db:"member_id" json:"memberId"`
	CycleYM       string         `db:"cycle_ym" json:"cycleYm"`
	RuleID        string         `db:"rule_id" json:"ruleId"`
	DispatchedAt  time.Time      `db:"dispatched_at" json:"dispatchedAt"`
	Result        DispatchResult `db:"result" json:"result"`
	FailureReason *string        `db:"failure_reason" json:"failureReason,omitempty"`
}

type DuesState string

const (
	DuesPaid   DuesState = "paid"
	DuesUnpaid DuesState = "unpaid"
	DuesLate   DuesState = "late"
	DuesExempt DuesState = "exempt"
)

// MemberDues is the dues status of one member for one calendar month.
// Written by the membership CRUD layer; read-only here.
type MemberDues struct {
	MemberID       string    `db:"member_id" json:"memberId"`
	DisplayName    string    `db:"display_name" json:"displayName"`
	ContactChannel string    `db:"contact_channel" json:"contactChannel"`
	CycleYM        string    `db:"cycle_ym" json:"cycleYm"`
	State          DuesState `db:"state" json:"state"`
	Note           *string   `db:"note" json:"note,omitempty"`
}

// CycleYM formats a year/month pair the way dispatch records key it.
func CycleYM(year int, month time.Month) string {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}
