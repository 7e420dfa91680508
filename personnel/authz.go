/*
authz.go - Authorization policy

PURPOSE:
  Decides whether a principal may read or decide a change request and
  whether they may mutate a person. The same rules back the people service
  and the change-request engine so a mutation applied through an approved
  request is held to the same ownership semantics as a direct edit.

RULES:
  Read a request:
    ADMIN, AUDITOR        always
    OPERATOR, OFFICER     only their own requests
    COMMANDER             target unit inside their unit subtree
    anything else         denied

  Decide a request:
    ADMIN                 always
    COMMANDER             target unit inside their unit subtree
    admin-only requests   ADMIN alone (credential provisioning)

  Mutate a person:
    non-admin             only within their own unit
    update/resubmit       additionally must be the creator

SEE ALSO:
  - unittree.go: Descendant closure used for COMMANDER scope
  - changerequest/engine.go: Consumer
*/
package personnel

import "context"

// RequestResource is the part of a change request authorization looks at.
type RequestResource struct {
	CreatedBy    UserID
	TargetUnitID *UnitID
	AdminOnly    bool
}

// Authorizer evaluates the policy against the unit tree.
type Authorizer struct {
	Units UnitReader
}

func NewAuthorizer(units UnitReader) *Authorizer {
	return &Authorizer{Units: units}
}

// CommandScope returns the units a commander commands. A commander without
// a unit has no scope and is denied with FORBIDDEN.
func (a *Authorizer) CommandScope(ctx context.Context, p Principal) (UnitSet, error) {
	if p.UnitID == nil {
		return nil, Errorf(CodeForbidden, "commander has no assigned unit")
	}
	return DescendantUnitIDs(ctx, a.Units, *p.UnitID)
}

// InCommand reports whether unitID is inside the principal's unit subtree.
func (a *Authorizer) InCommand(ctx context.Context, p Principal, unitID *UnitID) (bool, error) {
	if p.UnitID == nil || unitID == nil {
		return false, nil
	}
	scope, err := DescendantUnitIDs(ctx, a.Units, *p.UnitID)
	if err != nil {
		return false, err
	}
	return scope.Has(*unitID), nil
}

// CanReadRequest implements the read rule.
func (a *Authorizer) CanReadRequest(ctx context.Context, p Principal, r RequestResource) (bool, error) {
	switch p.Role {
	case RoleAdmin, RoleAuditor:
		return true, nil
	case RoleOperator, RoleOfficer:
		return r.CreatedBy == p.ID, nil
	case RoleCommander:
		return a.InCommand(ctx, p, r.TargetUnitID)
	default:
		return false, nil
	}
}

// CanDecideRequest implements the approve/reject rule.
func (a *Authorizer) CanDecideRequest(ctx context.Context, p Principal, r RequestResource) (bool, error) {
	switch p.Role {
	case RoleAdmin:
		return true, nil
	case RoleCommander:
		if r.AdminOnly {
			return false, nil
		}
		return a.InCommand(ctx, p, r.TargetUnitID)
	default:
		return false, nil
	}
}

// =============================================================================
// OWNERSHIP
// =============================================================================

// CanActInUnit is the unit membership rule for person mutations.
func CanActInUnit(p Principal, unitID UnitID) bool {
	return p.IsAdmin() || p.InUnit(unitID)
}

// CanEditPerson is the rule for updating or resubmitting a person record.
func CanEditPerson(p Principal, person *Person) bool {
	if p.IsAdmin() {
		return true
	}
	return p.InUnit(person.UnitID) && person.CreatedBy == p.ID
}
