/*
lock.go - Report edit-lock policy

PURPOSE:
  Decides whether the rows of a daily report may be written "now".

RULES (evaluated in order):
  1. FORBIDDEN_UNIT  principal is not in the report's unit (ADMIN bypasses)
  2. REPORT_LOCKED   report is PENDING or APPROVED, regardless of date/time
  3. AFTER_CUTOFF    report is dated today and local time >= cutoff

  Reports dated in the past or future never hit the cutoff: a DRAFT for
  yesterday stays editable at any hour so units can correct late.

PERIOD RULE:
  Independent of the lock. A row in a period category (annual or medical
  leave) may not start or end today unless it is an emergency, in which case
  both ends are pinned to today.
*/
package attendance

import (
	"time"

	"github.com/warp/personnel-engine/personnel"
)

// DefaultCutoff is 16:00 local time.
const DefaultCutoff = 16 * time.Hour

// LockPolicy evaluates the edit-lock rules.
type LockPolicy struct {
	// Cutoff is the offset from local midnight after which today's report
	// is frozen.
	Cutoff time.Duration
}

func NewLockPolicy(cutoff time.Duration) LockPolicy {
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	return LockPolicy{Cutoff: cutoff}
}

// AssertEditable returns nil if p may write rows on report at now.
func (lp LockPolicy) AssertEditable(report *DailyReport, p personnel.Principal, now time.Time) error {
	if !p.IsAdmin() && !p.InUnit(report.UnitID) {
		return personnel.Errorf(personnel.CodeForbiddenUnit, "report belongs to another unit")
	}

	if report.Status.Locked() {
		return personnel.Errorf(personnel.CodeReportLocked, "report is %s", report.Status)
	}

	if personnel.SameDay(report.Date, now) && personnel.SinceMidnight(now) >= lp.cutoff() {
		return personnel.Errorf(personnel.CodeAfterCutoff, "today's report closed at %s", formatCutoff(lp.cutoff()))
	}

	return nil
}

func (lp LockPolicy) cutoff() time.Duration {
	if lp.Cutoff <= 0 {
		return DefaultCutoff
	}
	return lp.Cutoff
}

func formatCutoff(d time.Duration) string {
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format("15:04")
}

// NormalizeJustification checks the row dates against its category and
// today's date. Emergency rows in a period category are pinned to today.
func NormalizeJustification(j *Justification, c Category, today time.Time) error {
	if c.IsPeriod() && j.Emergency {
		day := personnel.StartOfDay(today)
		j.From = day
		j.To = day
		return nil
	}

	if j.From.IsZero() || j.To.IsZero() {
		return personnel.Errorf(personnel.CodeValidation, "from and to are required")
	}
	if personnel.StartOfDay(j.To).Before(personnel.StartOfDay(j.From)) {
		return personnel.Errorf(personnel.CodeValidation, "to must not be before from")
	}

	if c.IsPeriod() && (personnel.SameDay(j.From, today) || personnel.SameDay(j.To, today)) {
		return personnel.Errorf(personnel.CodePeriodInvalidToday,
			"%s rows cannot start or end today unless marked as emergency", c.Name)
	}
	return nil
}
