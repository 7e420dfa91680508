/*
Package changerequest implements the approval workflow for personnel
mutations.

PURPOSE:
  A change request is a proposal to mutate a person (delete, deactivate,
  transfer, regrade, edit) or to provision a login account. Nothing changes
  until a commander responsible for the person's unit (or an admin) approves.

LIFECYCLE:
  ┌─────────────────────────────────────────────────────────────────┐
  │                                                                 │
  │   create ──▶ PENDING ──approve──▶ APPROVED  (effect applied)    │
  │                 │                                               │
  │                 ├──reject───▶ REJECTED  (no effect)             │
  │                 │                                               │
  │                 └──cancel───▶ CANCELLED (no effect, no doc)     │
  │                                                                 │
  └─────────────────────────────────────────────────────────────────┘

  PENDING is the only state with outgoing transitions.

ROUTING:
  TargetUnitID is the person's unit at creation time. It is a snapshot:
  later transfers do not retarget a request already in flight.
  TargetRole routes requests to a role-only inbox (CREATE_USER → ADMIN).

KEY COMPONENTS:
  ChangeRequest: The request entity
  Payload:       Sum type, one variant per request Type
  Engine:        Create/list/decide/cancel and audit documents

SEE ALSO:
  - engine.go: Workflow operations
  - effects.go: What approval does per type
  - factory/payload.go: Decoding payloads from JSON
*/
package changerequest

import (
	"time"

	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// TYPE & STATUS
// =============================================================================

type RequestID string

type Type string

const (
	TypeDeletePerson     Type = "DELETE_PERSON"
	TypeTransferPerson   Type = "TRANSFER_PERSON"
	TypeChangeGrade      Type = "CHANGE_GRADE"
	TypeChangeUnit       Type = "CHANGE_UNIT"
	TypeDeactivatePerson Type = "DEACTIVATE_PERSON"
	TypeUpdatePerson     Type = "UPDATE_PERSON"
	TypeCreateUser       Type = "CREATE_USER"
)

// Types lists every known request type.
var Types = []Type{
	TypeDeletePerson,
	TypeTransferPerson,
	TypeChangeGrade,
	TypeChangeUnit,
	TypeDeactivatePerson,
	TypeUpdatePerson,
	TypeCreateUser,
}

func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// PersonScoped reports whether the type targets an existing person.
func (t Type) PersonScoped() bool { return t != TypeCreateUser }

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"

	// StatusArchive is a list filter meaning any terminal status.
	StatusArchive Status = "ARCHIVE"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// =============================================================================
// CHANGE REQUEST
// =============================================================================

type ChangeRequest struct {
	ID     RequestID
	Type   Type
	Status Status

	CreatedBy       personnel.UserID
	CreatedByRole   personnel.Role
	CreatedByUnitID *personnel.UnitID

	PersonID     *personnel.PersonID
	TargetUnitID *personnel.UnitID
	TargetRole   *personnel.Role

	Payload Payload

	DecidedBy    *personnel.UserID
	DecidedAt    *time.Time
	DecisionNote *string

	// Snapshot is written with the decision so the audit document can be
	// regenerated later from exactly what was decided.
	Snapshot *Snapshot

	DocNo    *string
	Document *DocumentRef

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Resource is the view the authorization policy evaluates.
func (cr *ChangeRequest) Resource() personnel.RequestResource {
	return personnel.RequestResource{
		CreatedBy:    cr.CreatedBy,
		TargetUnitID: cr.TargetUnitID,
		AdminOnly:    cr.Type == TypeCreateUser,
	}
}

// DocumentRef points at a stored audit document.
type DocumentRef struct {
	Path        string
	GeneratedAt time.Time
}

// Snapshot captures the state an audit document is rendered from.
type Snapshot struct {
	Before *personnel.PersonView `json:"before,omitempty"`
	After  *personnel.PersonView `json:"after,omitempty"`
	User   *UserSnapshot         `json:"user,omitempty"`
}

// UserSnapshot is the provisioning record without any credential.
type UserSnapshot struct {
	ID       personnel.UserID  `json:"id"`
	Username string            `json:"username"`
	Email    string            `json:"email"`
	Role     personnel.Role    `json:"role"`
	UnitID   *personnel.UnitID `json:"unitId,omitempty"`
}

// Decision is the terminal transition written atomically with the status
// compare-and-swap.
type Decision struct {
	Status    Status
	DecidedBy personnel.UserID
	DecidedAt time.Time
	Note      *string
	Snapshot  *Snapshot
}

// =============================================================================
// LISTING
// =============================================================================

// Filter selects requests for listing. Zero values mean "no constraint".
type Filter struct {
	CreatedBy *personnel.UserID

	// TargetUnitIDs restricts to requests targeted at one of these units.
	// A non-nil empty slice matches nothing.
	TargetUnitIDs []personnel.UnitID

	// ExcludeRoleTargeted drops requests routed to a role inbox.
	ExcludeRoleTargeted bool

	Status Status
	Type   Type

	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging to sane bounds.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// Offset is the zero-based index of the first row on the page.
func (f Filter) Offset() int { return (f.Page - 1) * f.PageSize }

// Page is one page of a listing.
type Page struct {
	Items    []ChangeRequest
	Total    int
	Page     int
	PageSize int
}
