/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the wire contract: ids become strings, dates become
  YYYY-MM-DD, timestamps RFC3339, and change-request payloads are passed
  through as raw JSON encoded by the payload factory.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done by the domain services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/payload.go: Payload JSON per request type
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/personnel-engine/attendance"
	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// UNITS
// =============================================================================

type UnitDTO struct {
	ID       string  `json:"id"`
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	ParentID *string `json:"parentId,omitempty"`
}

type CreateUnitRequest struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	ParentID *string `json:"parentId"`
}

type MoveUnitRequest struct {
	ParentID *string `json:"parentId"`
}

func toUnitDTO(u personnel.Unit) UnitDTO {
	return UnitDTO{
		ID:       string(u.ID),
		Code:     u.Code,
		Name:     u.Name,
		ParentID: optionalID(u.ParentID),
	}
}

// =============================================================================
// PEOPLE
// =============================================================================

type PersonDTO struct {
	ID               string  `json:"id"`
	ServiceNo        string  `json:"serviceNo"`
	PersonalNumber   *string `json:"personalNumber,omitempty"`
	FirstName        string  `json:"firstName"`
	LastName         string  `json:"lastName"`
	MiddleName       *string `json:"middleName,omitempty"`
	BirthDate        string  `json:"birthDate,omitempty"`
	Gender           *string `json:"gender,omitempty"`
	City             *string `json:"city,omitempty"`
	Address          *string `json:"address,omitempty"`
	Phone            *string `json:"phone,omitempty"`
	Position         *string `json:"position,omitempty"`
	ServiceStartDate string  `json:"serviceStartDate,omitempty"`
	Notes            *string `json:"notes,omitempty"`
	PhotoURL         *string `json:"photoUrl,omitempty"`
	GradeID          string  `json:"gradeId"`
	UnitID           string  `json:"unitId"`
	Status           string  `json:"status"`
	CreatedBy        string  `json:"createdBy"`
	CreatedAt        string  `json:"createdAt"`
	UpdatedAt        string  `json:"updatedAt"`
}

// CreatePersonRequest is the request to register a person.
type CreatePersonRequest struct {
	ServiceNo        string  `json:"serviceNo"`
	PersonalNumber   *string `json:"personalNumber"`
	FirstName        string  `json:"firstName"`
	LastName         string  `json:"lastName"`
	MiddleName       *string `json:"middleName"`
	BirthDate        string  `json:"birthDate"`
	Gender           *string `json:"gender"`
	City             *string `json:"city"`
	Address          *string `json:"address"`
	Phone            *string `json:"phone"`
	Position         *string `json:"position"`
	ServiceStartDate string  `json:"serviceStartDate"`
	Notes            *string `json:"notes"`
	GradeID          string  `json:"gradeId"`
	UnitID           string  `json:"unitId"`
}

func toPersonDTO(p personnel.Person) PersonDTO {
	v := p.View()
	return PersonDTO{
		ID:               string(p.ID),
		ServiceNo:        p.ServiceNo,
		PersonalNumber:   p.PersonalNumber,
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		MiddleName:       p.MiddleName,
		BirthDate:        v.BirthDate,
		Gender:           p.Gender,
		City:             p.City,
		Address:          p.Address,
		Phone:            p.Phone,
		Position:         p.Position,
		ServiceStartDate: v.ServiceStartDate,
		Notes:            p.Notes,
		PhotoURL:         p.PhotoURL,
		GradeID:          string(p.GradeID),
		UnitID:           string(p.UnitID),
		Status:           string(p.Status),
		CreatedBy:        string(p.CreatedBy),
		CreatedAt:        formatTimestamp(p.CreatedAt),
		UpdatedAt:        formatTimestamp(p.UpdatedAt),
	}
}

// =============================================================================
// DAILY REPORTS
// =============================================================================

type ReportDTO struct {
	ID             string             `json:"id"`
	Date           string             `json:"date"`
	UnitID         string             `json:"unitId"`
	CreatedBy      string             `json:"createdBy"`
	Status         string             `json:"status"`
	DecidedBy      *string            `json:"decidedBy,omitempty"`
	DecidedAt      *string            `json:"decidedAt,omitempty"`
	DecisionNote   *string            `json:"decisionNote,omitempty"`
	Justifications []JustificationDTO `json:"justifications,omitempty"`
}

type JustificationDTO struct {
	ID         string `json:"id"`
	PersonID   string `json:"personId"`
	CategoryID string `json:"categoryId"`
	From       string `json:"from"`
	To         string `json:"to"`
	Location   string `json:"location,omitempty"`
	Notes      string `json:"notes,omitempty"`
	Emergency  bool   `json:"emergency"`
}

type CreateReportRequest struct {
	Date   string `json:"date"`
	UnitID string `json:"unitId"`
}

type JustificationRequest struct {
	PersonID   string `json:"personId"`
	CategoryID string `json:"categoryId"`
	From       string `json:"from"`
	To         string `json:"to"`
	Location   string `json:"location"`
	Notes      string `json:"notes"`
	Emergency  bool   `json:"emergency"`
}

type DecideReportRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

type SummaryDTO struct {
	ReportID     string             `json:"reportId"`
	Date         string             `json:"date"`
	UnitID       string             `json:"unitId"`
	Headcount    int                `json:"headcount"`
	Absent       int                `json:"absent"`
	Present      int                `json:"present"`
	PresenceRate decimal.Decimal    `json:"presenceRate"`
	ByCategory   []CategoryCountDTO `json:"byCategory"`
}

type CategoryCountDTO struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func toReportDTO(r attendance.DailyReport, rows []attendance.Justification) ReportDTO {
	dto := ReportDTO{
		ID:           string(r.ID),
		Date:         r.Date.Format(personnel.DateLayout),
		UnitID:       string(r.UnitID),
		CreatedBy:    string(r.CreatedBy),
		Status:       string(r.Status),
		DecidedBy:    optionalID(r.DecidedBy),
		DecidedAt:    optionalTimestamp(r.DecidedAt),
		DecisionNote: r.DecisionNote,
	}
	for _, row := range rows {
		dto.Justifications = append(dto.Justifications, toJustificationDTO(row))
	}
	return dto
}

func toJustificationDTO(j attendance.Justification) JustificationDTO {
	return JustificationDTO{
		ID:         string(j.ID),
		PersonID:   string(j.PersonID),
		CategoryID: string(j.CategoryID),
		From:       j.From.Format(personnel.DateLayout),
		To:         j.To.Format(personnel.DateLayout),
		Location:   j.Location,
		Notes:      j.Notes,
		Emergency:  j.Emergency,
	}
}

func toSummaryDTO(s *attendance.Summary) SummaryDTO {
	byCategory := make([]CategoryCountDTO, 0, len(s.ByCategory))
	for _, c := range s.ByCategory {
		byCategory = append(byCategory, CategoryCountDTO{Code: c.Code, Name: c.Name, Count: c.Count})
	}
	return SummaryDTO{
		ReportID:     string(s.ReportID),
		Date:         s.Date.Format(personnel.DateLayout),
		UnitID:       string(s.UnitID),
		Headcount:    s.Headcount,
		Absent:       s.Absent,
		Present:      s.Present,
		PresenceRate: s.PresenceRate,
		ByCategory:   byCategory,
	}
}

// =============================================================================
// CHANGE REQUESTS
// =============================================================================

type ChangeRequestDTO struct {
	ID              string                  `json:"id"`
	Type            string                  `json:"type"`
	Status          string                  `json:"status"`
	CreatedBy       string                  `json:"createdBy"`
	CreatedByRole   string                  `json:"createdByRole"`
	CreatedByUnitID *string                 `json:"createdByUnitId,omitempty"`
	PersonID        *string                 `json:"personId,omitempty"`
	TargetUnitID    *string                 `json:"targetUnitId,omitempty"`
	TargetRole      *string                 `json:"targetRole,omitempty"`
	Payload         json.RawMessage         `json:"payload"`
	DecidedBy       *string                 `json:"decidedBy,omitempty"`
	DecidedAt       *string                 `json:"decidedAt,omitempty"`
	DecisionNote    *string                 `json:"decisionNote,omitempty"`
	Snapshot        *changerequest.Snapshot `json:"snapshot,omitempty"`
	DocNo           *string                 `json:"docNo,omitempty"`
	HasDocument     bool                    `json:"hasDocument"`
	DocumentAt      *string                 `json:"documentGeneratedAt,omitempty"`
	CreatedAt       string                  `json:"createdAt"`
	UpdatedAt       string                  `json:"updatedAt"`
}

// CreateChangeRequestRequest carries the payload as raw JSON; its shape
// depends on Type.
type CreateChangeRequestRequest struct {
	Type     string          `json:"type"`
	PersonID *string         `json:"personId"`
	Payload  json.RawMessage `json:"payload"`
}

type DecisionRequest struct {
	Note string `json:"note"`
}

// DecisionResponse is the decided request plus best-effort outcomes.
type DecisionResponse struct {
	ChangeRequestDTO
	EmailSent     *bool  `json:"emailSent,omitempty"`
	TempPassword  string `json:"tempPassword,omitempty"`
	DocumentError string `json:"documentError,omitempty"`
}

type PageDTO struct {
	Items    []ChangeRequestDTO `json:"items"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

type DemoAccountDTO struct {
	Username string  `json:"username"`
	Role     string  `json:"role"`
	UnitID   *string `json:"unitId,omitempty"`
	Token    string  `json:"token"`
}

type LoadScenarioResponse struct {
	Scenario ScenarioDTO      `json:"scenario"`
	Accounts []DemoAccountDTO `json:"accounts"`
}

// =============================================================================
// HELPERS
// =============================================================================

func optionalID[T ~string](id *T) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func optionalTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
