package personnel

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// PEOPLE SERVICE - Direct person CRUD under the ownership rules
// =============================================================================

type PeopleService struct {
	People PersonStore
	Units  UnitReader
	Auth   *Authorizer
	Clock  Clock
}

// CreatePerson registers a person in principal's unit. Admin-created
// records are ACTIVE immediately; everyone else's wait for approval.
func (s *PeopleService) CreatePerson(ctx context.Context, p Principal, in Person) (*Person, error) {
	in.ServiceNo = strings.TrimSpace(in.ServiceNo)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	switch {
	case in.ServiceNo == "":
		return nil, Errorf(CodeValidation, "serviceNo is required")
	case in.FirstName == "" || in.LastName == "":
		return nil, Errorf(CodeValidation, "firstName and lastName are required")
	case in.GradeID == "":
		return nil, Errorf(CodeValidation, "gradeId is required")
	case in.UnitID == "":
		return nil, Errorf(CodeValidation, "unitId is required")
	}

	if !CanActInUnit(p, in.UnitID) {
		return nil, Errorf(CodeForbidden, "cannot register people outside your unit")
	}

	unit, err := s.Units.GetUnit(ctx, in.UnitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, Errorf(CodeNotFound, "unit %s not found", in.UnitID)
	}

	now := s.Clock()
	in.ID = PersonID(uuid.NewString())
	in.CreatedBy = p.ID
	in.CreatedAt = now
	in.UpdatedAt = now
	in.Status = PersonPending
	if p.IsAdmin() {
		in.Status = PersonActive
		in.ApprovedBy = &p.ID
		in.ApprovedAt = &now
	}

	if err := s.People.CreatePerson(ctx, in); err != nil {
		return nil, MapPersonConflict(err)
	}
	return &in, nil
}

// UpdatePerson applies an allow-listed patch directly. Only the creator (or
// an admin) may edit, and only inside their own unit.
func (s *PeopleService) UpdatePerson(ctx context.Context, p Principal, id PersonID, patch PersonPatch) (*Person, error) {
	person, err := s.People.GetPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, Errorf(CodeNotFound, "person %s not found", id)
	}
	if !CanEditPerson(p, person) {
		return nil, Errorf(CodeForbidden, "only the creator in the owning unit may edit this person")
	}

	updated := person.Clone()
	if err := patch.Sanitize().Apply(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.Clock()

	if err := s.People.UpdatePerson(ctx, *updated); err != nil {
		return nil, MapPersonConflict(err)
	}
	return updated, nil
}

// GetPerson returns a person the principal can see.
func (s *PeopleService) GetPerson(ctx context.Context, p Principal, id PersonID) (*Person, error) {
	person, err := s.People.GetPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, Errorf(CodeNotFound, "person %s not found", id)
	}

	ok, err := s.canSee(ctx, p, person.UnitID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, Errorf(CodeForbidden, "person is outside your scope")
	}
	return person, nil
}

// ListPeople returns the people visible to the principal: everything for
// admins and auditors, the command subtree for commanders, the own unit for
// everyone else.
func (s *PeopleService) ListPeople(ctx context.Context, p Principal) ([]Person, error) {
	switch p.Role {
	case RoleAdmin, RoleAuditor:
		return s.People.ListPeople(ctx, nil)
	case RoleCommander:
		scope, err := s.Auth.CommandScope(ctx, p)
		if err != nil {
			return nil, err
		}
		return s.People.ListPeople(ctx, scope.Slice())
	default:
		if p.UnitID == nil {
			return nil, Errorf(CodeForbidden, "no assigned unit")
		}
		return s.People.ListPeople(ctx, []UnitID{*p.UnitID})
	}
}

func (s *PeopleService) canSee(ctx context.Context, p Principal, unitID UnitID) (bool, error) {
	switch p.Role {
	case RoleAdmin, RoleAuditor:
		return true, nil
	case RoleCommander:
		return s.Auth.InCommand(ctx, p, &unitID)
	default:
		return p.InUnit(unitID), nil
	}
}

// MapPersonConflict converts unique violations on people into their
// contract codes. Other errors pass through.
func MapPersonConflict(err error) error {
	field, ok := UniqueField(err)
	if !ok {
		return err
	}
	switch field {
	case "service_no":
		return Wrap(CodeServiceNoExists, err, "service number already registered")
	case "personal_number":
		return Wrap(CodePersonalNoExists, err, "personal number already registered")
	default:
		return Wrap(CodeValidation, err, "duplicate value")
	}
}
