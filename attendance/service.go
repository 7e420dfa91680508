package attendance

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// REPORT SERVICE - Report lifecycle and row writes under the edit-lock
// =============================================================================

type Service struct {
	Store  Store
	People personnel.PersonStore
	Units  personnel.UnitReader
	Auth   *personnel.Authorizer
	Lock   LockPolicy
	Clock  personnel.Clock
}

// JustificationInput is the writable part of a row.
type JustificationInput struct {
	PersonID   personnel.PersonID
	CategoryID CategoryID
	From       time.Time
	To         time.Time
	Location   string
	Notes      string
	Emergency  bool
}

// CreateReport opens a DRAFT report for (date, unit).
func (s *Service) CreateReport(ctx context.Context, p personnel.Principal, date time.Time, unitID personnel.UnitID) (*DailyReport, error) {
	if unitID == "" {
		if p.UnitID == nil {
			return nil, personnel.Errorf(personnel.CodeValidation, "unitId is required")
		}
		unitID = *p.UnitID
	}
	if !personnel.CanActInUnit(p, unitID) {
		return nil, personnel.Errorf(personnel.CodeForbiddenUnit, "cannot open a report for another unit")
	}
	if date.IsZero() {
		return nil, personnel.Errorf(personnel.CodeValidation, "date is required")
	}

	unit, err := s.Units.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, personnel.Errorf(personnel.CodeNotFound, "unit %s not found", unitID)
	}

	now := s.Clock()
	report := DailyReport{
		ID:        ReportID(uuid.NewString()),
		Date:      personnel.StartOfDay(date),
		UnitID:    unitID,
		CreatedBy: p.ID,
		Status:    ReportDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.CreateReport(ctx, report); err != nil {
		if _, ok := personnel.UniqueField(err); ok {
			return nil, personnel.Wrap(personnel.CodeReportExists, err,
				"a report for this unit and date already exists")
		}
		return nil, err
	}
	return &report, nil
}

// GetReport returns a report and its rows if the principal can see it.
func (s *Service) GetReport(ctx context.Context, p personnel.Principal, id ReportID) (*DailyReport, []Justification, error) {
	report, err := s.loadVisible(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.Store.ListJustifications(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return report, rows, nil
}

// AddJustification writes a new row on an editable report.
func (s *Service) AddJustification(ctx context.Context, p personnel.Principal, reportID ReportID, in JustificationInput) (*Justification, error) {
	report, err := s.loadEditable(ctx, p, reportID)
	if err != nil {
		return nil, err
	}

	row := Justification{
		ID:        JustificationID(uuid.NewString()),
		ReportID:  report.ID,
		CreatedAt: s.Clock(),
	}
	if err := s.fillRow(ctx, report, &row, in); err != nil {
		return nil, err
	}

	if err := s.Store.AddJustification(ctx, row); err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateJustification rewrites an existing row on an editable report.
func (s *Service) UpdateJustification(ctx context.Context, p personnel.Principal, reportID ReportID, rowID JustificationID, in JustificationInput) (*Justification, error) {
	report, err := s.loadEditable(ctx, p, reportID)
	if err != nil {
		return nil, err
	}
	row, err := s.loadRow(ctx, report, rowID)
	if err != nil {
		return nil, err
	}

	if err := s.fillRow(ctx, report, row, in); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateJustification(ctx, *row); err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteJustification removes a row from an editable report.
func (s *Service) DeleteJustification(ctx context.Context, p personnel.Principal, reportID ReportID, rowID JustificationID) error {
	report, err := s.loadEditable(ctx, p, reportID)
	if err != nil {
		return err
	}
	if _, err := s.loadRow(ctx, report, rowID); err != nil {
		return err
	}
	return s.Store.DeleteJustification(ctx, rowID)
}

// SubmitReport hands a DRAFT (or previously REJECTED) report to the
// commander. From here on its rows are locked.
func (s *Service) SubmitReport(ctx context.Context, p personnel.Principal, id ReportID) (*DailyReport, error) {
	report, err := s.loadReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if !personnel.CanActInUnit(p, report.UnitID) {
		return nil, personnel.Errorf(personnel.CodeForbiddenUnit, "report belongs to another unit")
	}
	if report.Status.Locked() {
		return nil, personnel.Errorf(personnel.CodeReportLocked, "report is already %s", report.Status)
	}

	report.Status = ReportPending
	report.UpdatedAt = s.Clock()
	if err := s.Store.UpdateReport(ctx, *report); err != nil {
		return nil, err
	}
	return report, nil
}

// DecideReport approves or rejects a submitted report. A rejected report
// becomes editable again.
func (s *Service) DecideReport(ctx context.Context, p personnel.Principal, id ReportID, approve bool, note string) (*DailyReport, error) {
	report, err := s.loadReport(ctx, id)
	if err != nil {
		return nil, err
	}

	switch p.Role {
	case personnel.RoleAdmin:
	case personnel.RoleCommander:
		ok, err := s.Auth.InCommand(ctx, p, &report.UnitID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, personnel.Errorf(personnel.CodeForbidden, "report is outside your command")
		}
	default:
		return nil, personnel.Errorf(personnel.CodeForbidden, "only commanders decide reports")
	}

	if report.Status != ReportPending {
		return nil, personnel.Errorf(personnel.CodeNotPending, "report is %s", report.Status)
	}

	now := s.Clock()
	report.Status = ReportRejected
	if approve {
		report.Status = ReportApproved
	}
	report.DecidedBy = &p.ID
	report.DecidedAt = &now
	if note = strings.TrimSpace(note); note != "" {
		report.DecisionNote = &note
	}
	report.UpdatedAt = now

	if err := s.Store.UpdateReport(ctx, *report); err != nil {
		return nil, err
	}
	return report, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

type CategoryCount struct {
	Code  string
	Name  string
	Count int
}

// Summary is the headline of a daily report.
type Summary struct {
	ReportID     ReportID
	Date         time.Time
	UnitID       personnel.UnitID
	Headcount    int
	Absent       int
	Present      int
	PresenceRate decimal.Decimal // percent, two decimals
	ByCategory   []CategoryCount
}

// Summarize counts active people in the unit against the people with an
// absence row on the report.
func (s *Service) Summarize(ctx context.Context, p personnel.Principal, id ReportID) (*Summary, error) {
	report, err := s.loadVisible(ctx, p, id)
	if err != nil {
		return nil, err
	}

	people, err := s.People.ListPeople(ctx, []personnel.UnitID{report.UnitID})
	if err != nil {
		return nil, err
	}
	headcount := 0
	for _, person := range people {
		if person.Status == personnel.PersonActive {
			headcount++
		}
	}

	rows, err := s.Store.ListJustifications(ctx, id)
	if err != nil {
		return nil, err
	}

	absent := make(map[personnel.PersonID]bool)
	counts := make(map[CategoryID]int)
	for _, row := range rows {
		absent[row.PersonID] = true
		counts[row.CategoryID]++
	}

	var byCategory []CategoryCount
	for categoryID, n := range counts {
		c, err := s.Store.GetCategory(ctx, categoryID)
		if err != nil {
			return nil, err
		}
		cc := CategoryCount{Code: string(categoryID), Count: n}
		if c != nil {
			cc.Code, cc.Name = c.Code, c.Name
		}
		byCategory = append(byCategory, cc)
	}
	sort.Slice(byCategory, func(i, j int) bool { return byCategory[i].Code < byCategory[j].Code })

	present := headcount - len(absent)
	if present < 0 {
		present = 0
	}

	return &Summary{
		ReportID:     report.ID,
		Date:         report.Date,
		UnitID:       report.UnitID,
		Headcount:    headcount,
		Absent:       len(absent),
		Present:      present,
		PresenceRate: presenceRate(present, headcount),
		ByCategory:   byCategory,
	}, nil
}

func presenceRate(present, headcount int) decimal.Decimal {
	if headcount == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(present)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(headcount))).
		Round(2)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) loadReport(ctx context.Context, id ReportID) (*DailyReport, error) {
	report, err := s.Store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, personnel.Errorf(personnel.CodeNotFound, "report %s not found", id)
	}
	return report, nil
}

func (s *Service) loadEditable(ctx context.Context, p personnel.Principal, id ReportID) (*DailyReport, error) {
	report, err := s.loadReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Lock.AssertEditable(report, p, s.Clock()); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Service) loadVisible(ctx context.Context, p personnel.Principal, id ReportID) (*DailyReport, error) {
	report, err := s.loadReport(ctx, id)
	if err != nil {
		return nil, err
	}

	switch p.Role {
	case personnel.RoleAdmin, personnel.RoleAuditor:
		return report, nil
	case personnel.RoleCommander:
		ok, err := s.Auth.InCommand(ctx, p, &report.UnitID)
		if err != nil {
			return nil, err
		}
		if ok {
			return report, nil
		}
	default:
		if p.InUnit(report.UnitID) {
			return report, nil
		}
	}
	return nil, personnel.Errorf(personnel.CodeForbidden, "report is outside your scope")
}

func (s *Service) loadRow(ctx context.Context, report *DailyReport, id JustificationID) (*Justification, error) {
	row, err := s.Store.GetJustification(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil || row.ReportID != report.ID {
		return nil, personnel.Errorf(personnel.CodeNotFound, "row %s not found on report", id)
	}
	return row, nil
}

// fillRow validates in against the report and copies it onto row.
func (s *Service) fillRow(ctx context.Context, report *DailyReport, row *Justification, in JustificationInput) error {
	category, err := s.Store.GetCategory(ctx, in.CategoryID)
	if err != nil {
		return err
	}
	if category == nil {
		return personnel.Errorf(personnel.CodeValidation, "unknown category %s", in.CategoryID)
	}

	person, err := s.People.GetPerson(ctx, in.PersonID)
	if err != nil {
		return err
	}
	if person == nil {
		return personnel.Errorf(personnel.CodeNotFound, "person %s not found", in.PersonID)
	}
	if person.UnitID != report.UnitID {
		return personnel.Errorf(personnel.CodeValidation, "person does not belong to the report's unit")
	}

	row.PersonID = in.PersonID
	row.CategoryID = in.CategoryID
	row.From = in.From
	row.To = in.To
	row.Location = strings.TrimSpace(in.Location)
	row.Notes = strings.TrimSpace(in.Notes)
	row.Emergency = in.Emergency

	return NormalizeJustification(row, *category, s.Clock())
}
