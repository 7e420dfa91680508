package changerequest

import (
	"strings"

	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// PAYLOAD - One variant per request type
// =============================================================================

// Payload is the type-specific data of a request. Each variant carries only
// the fields its type needs; Validate reports what is missing.
type Payload interface {
	Type() Type
	Validate() error
}

type DeletePersonPayload struct {
	Reason string `json:"reason,omitempty"`
}

type DeactivatePersonPayload struct {
	Reason string `json:"reason,omitempty"`
}

type TransferPersonPayload struct {
	ToUnitID personnel.UnitID `json:"toUnitId" validate:"required"`
	Reason   string           `json:"reason,omitempty"`
}

type ChangeUnitPayload struct {
	ToUnitID personnel.UnitID `json:"toUnitId" validate:"required"`
	Reason   string           `json:"reason,omitempty"`
}

type ChangeGradePayload struct {
	NewGradeID personnel.GradeID `json:"newGradeId" validate:"required"`
	Reason     string            `json:"reason,omitempty"`
}

type UpdatePersonPayload struct {
	Patch  personnel.PersonPatch `json:"patch"`
	Reason string                `json:"reason,omitempty"`
}

type CreateUserPayload struct {
	User   NewUser `json:"user"`
	Reason string  `json:"reason,omitempty"`
}

// NewUser is the account to provision. Nil flags default to true.
type NewUser struct {
	Username           string              `json:"username" validate:"required"`
	Email              string              `json:"email" validate:"required,email"`
	Role               personnel.Role      `json:"role" validate:"required"`
	UnitID             *personnel.UnitID   `json:"unitId,omitempty"`
	PersonID           *personnel.PersonID `json:"personId,omitempty"`
	MustChangePassword *bool               `json:"mustChangePassword,omitempty"`
	NeverExpires       *bool               `json:"neverExpires,omitempty"`
}

func (DeletePersonPayload) Type() Type     { return TypeDeletePerson }
func (DeactivatePersonPayload) Type() Type { return TypeDeactivatePerson }
func (TransferPersonPayload) Type() Type   { return TypeTransferPerson }
func (ChangeUnitPayload) Type() Type       { return TypeChangeUnit }
func (ChangeGradePayload) Type() Type      { return TypeChangeGrade }
func (UpdatePersonPayload) Type() Type     { return TypeUpdatePerson }
func (CreateUserPayload) Type() Type       { return TypeCreateUser }

func (DeletePersonPayload) Validate() error     { return nil }
func (DeactivatePersonPayload) Validate() error { return nil }

func (p TransferPersonPayload) Validate() error { return requireUnit(p.ToUnitID) }
func (p ChangeUnitPayload) Validate() error     { return requireUnit(p.ToUnitID) }

func (p ChangeGradePayload) Validate() error {
	if strings.TrimSpace(string(p.NewGradeID)) == "" {
		return personnel.Errorf(personnel.CodeValidation, "newGradeId is required")
	}
	return nil
}

func (p UpdatePersonPayload) Validate() error {
	return p.Patch.Validate()
}

func (p CreateUserPayload) Validate() error {
	u := p.User
	switch {
	case strings.TrimSpace(u.Username) == "":
		return personnel.Errorf(personnel.CodeValidation, "user.username is required")
	case strings.TrimSpace(u.Email) == "":
		return personnel.Errorf(personnel.CodeValidation, "user.email is required")
	case u.Role == "":
		return personnel.Errorf(personnel.CodeValidation, "user.role is required")
	case !u.Role.Valid():
		return personnel.Errorf(personnel.CodeValidation, "user.role %q is not a known role", u.Role)
	}
	return nil
}

func requireUnit(id personnel.UnitID) error {
	if strings.TrimSpace(string(id)) == "" {
		return personnel.Errorf(personnel.CodeValidation, "toUnitId is required")
	}
	return nil
}

// destinationUnit returns the unit a move payload points at.
func destinationUnit(p Payload) (personnel.UnitID, bool) {
	switch v := p.(type) {
	case TransferPersonPayload:
		return v.ToUnitID, true
	case ChangeUnitPayload:
		return v.ToUnitID, true
	}
	return "", false
}

// Reason returns the free-text reason carried by any variant.
func Reason(p Payload) string {
	switch v := p.(type) {
	case DeletePersonPayload:
		return v.Reason
	case DeactivatePersonPayload:
		return v.Reason
	case TransferPersonPayload:
		return v.Reason
	case ChangeUnitPayload:
		return v.Reason
	case ChangeGradePayload:
		return v.Reason
	case UpdatePersonPayload:
		return v.Reason
	case CreateUserPayload:
		return v.Reason
	}
	return ""
}
