// Package attendance implements daily unit reports and the absence
// justifications recorded on them. It owns the report edit-lock: which
// reports can still be changed, by whom, and until what time of day.
package attendance

import (
	"context"
	"time"

	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// REPORT
// =============================================================================

type ReportID string
type JustificationID string
type CategoryID string

type ReportStatus string

const (
	ReportDraft    ReportStatus = "DRAFT"
	ReportPending  ReportStatus = "PENDING"
	ReportApproved ReportStatus = "APPROVED"
	ReportRejected ReportStatus = "REJECTED"
)

// Locked reports whether rows on a report in this status are immutable.
func (s ReportStatus) Locked() bool {
	return s == ReportPending || s == ReportApproved
}

// DailyReport is unique per (Date, UnitID). Date is a calendar day.
type DailyReport struct {
	ID        ReportID
	Date      time.Time
	UnitID    personnel.UnitID
	CreatedBy personnel.UserID
	Status    ReportStatus

	DecidedBy    *personnel.UserID
	DecidedAt    *time.Time
	DecisionNote *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// JUSTIFICATION
// =============================================================================

// Justification is one absence line on a report.
type Justification struct {
	ID         JustificationID
	ReportID   ReportID
	PersonID   personnel.PersonID
	CategoryID CategoryID
	From       time.Time
	To         time.Time
	Location   string
	Notes      string
	Emergency  bool
	CreatedAt  time.Time
}

// =============================================================================
// CATEGORY
// =============================================================================

// Category codes for multi-day leave. Rows in these categories may not start
// or end on the current day unless flagged as emergencies.
const (
	CodeAnnualLeave  = "01-12"
	CodeMedicalLeave = "01-13"
)

type Category struct {
	ID   CategoryID
	Code string
	Name string
}

// IsPeriod reports whether the category is a period (leave) category.
func (c Category) IsPeriod() bool {
	return c.Code == CodeAnnualLeave || c.Code == CodeMedicalLeave
}

// =============================================================================
// STORE
// =============================================================================

// Store persists reports and their rows. Getters return (nil, nil) when the
// row does not exist. A second report for the same (date, unit) returns
// *personnel.UniqueViolationError.
type Store interface {
	CreateReport(ctx context.Context, r DailyReport) error
	GetReport(ctx context.Context, id ReportID) (*DailyReport, error)
	UpdateReport(ctx context.Context, r DailyReport) error

	AddJustification(ctx context.Context, j Justification) error
	GetJustification(ctx context.Context, id JustificationID) (*Justification, error)
	UpdateJustification(ctx context.Context, j Justification) error
	DeleteJustification(ctx context.Context, id JustificationID) error
	ListJustifications(ctx context.Context, reportID ReportID) ([]Justification, error)

	GetCategory(ctx context.Context, id CategoryID) (*Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	SaveCategory(ctx context.Context, c Category) error
}
