package personnel

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// UNIT SERVICE - Admin tooling for the unit forest
// =============================================================================

type UnitService struct {
	Units UnitStore
}

// CreateUnit adds a unit under an optional parent. Admin only.
func (s *UnitService) CreateUnit(ctx context.Context, p Principal, code, name string, parentID *UnitID) (*Unit, error) {
	if !p.IsAdmin() {
		return nil, Errorf(CodeForbidden, "only administrators manage units")
	}
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return nil, Errorf(CodeValidation, "code and name are required")
	}

	u := Unit{ID: UnitID(uuid.NewString()), Code: code, Name: name, ParentID: parentID}
	if err := ValidateParent(ctx, s.Units, u.ID, parentID); err != nil {
		return nil, err
	}
	if err := s.Units.SaveUnit(ctx, u); err != nil {
		return nil, mapUnitConflict(err)
	}
	return &u, nil
}

// MoveUnit re-parents a unit. Links that would close a cycle are refused.
func (s *UnitService) MoveUnit(ctx context.Context, p Principal, id UnitID, parentID *UnitID) (*Unit, error) {
	if !p.IsAdmin() {
		return nil, Errorf(CodeForbidden, "only administrators manage units")
	}
	u, err := s.Units.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, Errorf(CodeNotFound, "unit %s not found", id)
	}
	if err := ValidateParent(ctx, s.Units, id, parentID); err != nil {
		return nil, err
	}

	u.ParentID = parentID
	if err := s.Units.SaveUnit(ctx, *u); err != nil {
		return nil, mapUnitConflict(err)
	}
	return u, nil
}

// ListUnits returns the whole forest.
func (s *UnitService) ListUnits(ctx context.Context) ([]Unit, error) {
	return s.Units.ListUnits(ctx)
}

func mapUnitConflict(err error) error {
	if _, ok := UniqueField(err); ok {
		return Wrap(CodeUnitCodeExists, err, "unit code already in use")
	}
	return err
}
