/*
Package personnel provides the core personnel model and the policies shared
by every workflow built on top of it.

PURPOSE:
  Units, people, users and principals live here together with the two
  read-side policies the rest of the system depends on:
  - the unit tree resolver (who commands what)
  - the authorization policy (who may read or decide what)

KEY CONCEPTS IN THIS FILE (types.go):
  - Unit:      A node in the unit forest (parent pointer, no cycles)
  - Person:    A service member owned by exactly one unit
  - User:      A login account, optionally bound to a unit and a person
  - Principal: The authenticated caller (id, role, unit)

DESIGN PRINCIPLES:
  1. Type Safety: Distinct ID types so unit and person ids cannot be mixed
  2. Store agnostic: Types carry no persistence tags
  3. Snapshots: PersonView is the immutable shape written into audit documents

SEE ALSO:
  - unittree.go: Descendant closure over the unit forest
  - authz.go: Read/decide/ownership rules
  - store.go: Persistence interfaces
*/
package personnel

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UnitID string
type PersonID string
type UserID string
type GradeID string

// =============================================================================
// ROLES & PRINCIPAL
// =============================================================================

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleOfficer   Role = "OFFICER"
	RoleOperator  Role = "OPERATOR"
	RoleCommander Role = "COMMANDER"
	RoleAuditor   Role = "AUDITOR"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOfficer, RoleOperator, RoleCommander, RoleAuditor:
		return true
	}
	return false
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	ID     UserID
	Role   Role
	UnitID *UnitID
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// InUnit reports whether the principal is assigned to unitID.
func (p Principal) InUnit(unitID UnitID) bool {
	return p.UnitID != nil && *p.UnitID == unitID
}

// =============================================================================
// UNIT
// =============================================================================

type Unit struct {
	ID       UnitID
	Code     string
	Name     string
	ParentID *UnitID
}

// =============================================================================
// PERSON
// =============================================================================

type PersonStatus string

const (
	PersonPending  PersonStatus = "PENDING"
	PersonActive   PersonStatus = "ACTIVE"
	PersonInactive PersonStatus = "INACTIVE"
	PersonRejected PersonStatus = "REJECTED"
)

type Person struct {
	ID             PersonID
	ServiceNo      string
	PersonalNumber *string
	FirstName      string
	LastName       string
	MiddleName     *string

	BirthDate        *time.Time
	Gender           *string
	City             *string
	Address          *string
	Phone            *string
	Position         *string
	ServiceStartDate *time.Time
	Notes            *string
	PhotoURL         *string

	GradeID GradeID
	UnitID  UnitID
	Status  PersonStatus

	CreatedBy       UserID
	ApprovedBy      *UserID
	ApprovedAt      *time.Time
	RejectedBy      *UserID
	RejectedAt      *time.Time
	RejectionReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName joins the name parts that are set.
func (p *Person) FullName() string {
	name := p.LastName + " " + p.FirstName
	if p.MiddleName != nil && *p.MiddleName != "" {
		name += " " + *p.MiddleName
	}
	return name
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (p *Person) Clone() *Person {
	if p == nil {
		return nil
	}
	c := *p
	c.PersonalNumber = cloneString(p.PersonalNumber)
	c.MiddleName = cloneString(p.MiddleName)
	c.BirthDate = cloneTime(p.BirthDate)
	c.Gender = cloneString(p.Gender)
	c.City = cloneString(p.City)
	c.Address = cloneString(p.Address)
	c.Phone = cloneString(p.Phone)
	c.Position = cloneString(p.Position)
	c.ServiceStartDate = cloneTime(p.ServiceStartDate)
	c.Notes = cloneString(p.Notes)
	c.PhotoURL = cloneString(p.PhotoURL)
	return &c
}

// PersonView is a flat, serialisable snapshot of a person used in audit
// documents. Dates are rendered as YYYY-MM-DD.
type PersonView struct {
	ID               PersonID     `json:"id"`
	ServiceNo        string       `json:"serviceNo"`
	PersonalNumber   string       `json:"personalNumber,omitempty"`
	FirstName        string       `json:"firstName"`
	LastName         string       `json:"lastName"`
	MiddleName       string       `json:"middleName,omitempty"`
	BirthDate        string       `json:"birthDate,omitempty"`
	Gender           string       `json:"gender,omitempty"`
	City             string       `json:"city,omitempty"`
	Address          string       `json:"address,omitempty"`
	Phone            string       `json:"phone,omitempty"`
	Position         string       `json:"position,omitempty"`
	ServiceStartDate string       `json:"serviceStartDate,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	PhotoURL         string       `json:"photoUrl,omitempty"`
	GradeID          GradeID      `json:"gradeId"`
	UnitID           UnitID       `json:"unitId"`
	Status           PersonStatus `json:"status"`
}

// View converts a person to its snapshot form.
func (p *Person) View() *PersonView {
	if p == nil {
		return nil
	}
	return &PersonView{
		ID:               p.ID,
		ServiceNo:        p.ServiceNo,
		PersonalNumber:   deref(p.PersonalNumber),
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		MiddleName:       deref(p.MiddleName),
		BirthDate:        formatDate(p.BirthDate),
		Gender:           deref(p.Gender),
		City:             deref(p.City),
		Address:          deref(p.Address),
		Phone:            deref(p.Phone),
		Position:         deref(p.Position),
		ServiceStartDate: formatDate(p.ServiceStartDate),
		Notes:            deref(p.Notes),
		PhotoURL:         deref(p.PhotoURL),
		GradeID:          p.GradeID,
		UnitID:           p.UnitID,
		Status:           p.Status,
	}
}

// =============================================================================
// USER
// =============================================================================

type User struct {
	ID                 UserID
	Username           string
	Email              string
	Role               Role
	UnitID             *UnitID
	PersonID           *PersonID
	PasswordHash       string
	MustChangePassword bool
	NeverExpires       bool
	CreatedAt          time.Time
}

// =============================================================================
// HELPERS
// =============================================================================

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
