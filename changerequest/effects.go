package changerequest

import (
	"context"
	"fmt"

	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// EFFECTS - What approval does to the live person record
// =============================================================================
//
// Effects are planned in memory first (planEffect) and written second
// (commitEffect) so the audit snapshot is known before anything is
// persisted and a patch is either written whole or not at all.

// planEffect returns the person as it will look after approval, or nil when
// the person is deleted. current is not modified.
func planEffect(payload Payload, current *personnel.Person) (*personnel.Person, error) {
	next := current.Clone()

	switch p := payload.(type) {
	case DeletePersonPayload:
		return nil, nil
	case DeactivatePersonPayload:
		next.Status = personnel.PersonInactive
	case ChangeGradePayload:
		next.GradeID = p.NewGradeID
	case TransferPersonPayload:
		next.UnitID = p.ToUnitID
	case ChangeUnitPayload:
		next.UnitID = p.ToUnitID
	case UpdatePersonPayload:
		if err := p.Patch.Sanitize().Apply(next); err != nil {
			return nil, personnel.Wrap(personnel.CodeInvalidPayload, err, "patch cannot be applied")
		}
	default:
		return nil, personnel.Errorf(personnel.CodeInvalidPayload, "no person effect for %s", payload.Type())
	}
	return next, nil
}

// commitEffect persists the planned result through the transaction.
func commitEffect(ctx context.Context, tx Tx, id personnel.PersonID, next *personnel.Person) error {
	if next == nil {
		if err := tx.DeletePerson(ctx, id); err != nil {
			return fmt.Errorf("failed to delete person: %w", err)
		}
		return nil
	}
	if err := tx.UpdatePerson(ctx, *next); err != nil {
		return personnel.MapPersonConflict(err)
	}
	return nil
}
