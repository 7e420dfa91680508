package personnel

import (
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// UNIT SET
// =============================================================================

// UnitSet is an unordered set of unit ids.
type UnitSet map[UnitID]struct{}

func (s UnitSet) Has(id UnitID) bool {
	_, ok := s[id]
	return ok
}

// Slice returns the ids sorted, for stable queries and output.
func (s UnitSet) Slice() []UnitID {
	out := make([]UnitID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// DESCENDANT CLOSURE
// =============================================================================

// DescendantUnitIDs returns root and every unit reachable from it through
// child links. The walk is breadth-first with one store call per level.
// A root that does not exist yields {root}.
//
// The seen set bounds the walk even if parent links form a cycle; unit
// writes reject cycles (see ValidateParent) so that case only arises from
// data written around the service.
func DescendantUnitIDs(ctx context.Context, units UnitReader, root UnitID) (UnitSet, error) {
	seen := UnitSet{root: {}}
	frontier := []UnitID{root}

	for len(frontier) > 0 {
		children, err := units.ChildUnitIDs(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to load child units: %w", err)
		}

		var next []UnitID
		for _, id := range children {
			if seen.Has(id) {
				continue
			}
			seen[id] = struct{}{}
			next = append(next, id)
		}
		frontier = next
	}

	return seen, nil
}

// ValidateParent rejects a parent link that would put unitID inside its own
// subtree. A nil parent is always valid.
func ValidateParent(ctx context.Context, units UnitReader, unitID UnitID, parentID *UnitID) error {
	if parentID == nil {
		return nil
	}
	if *parentID == unitID {
		return Errorf(CodeUnitCycle, "unit %s cannot be its own parent", unitID)
	}

	parent, err := units.GetUnit(ctx, *parentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return Errorf(CodeNotFound, "parent unit %s not found", *parentID)
	}

	subtree, err := DescendantUnitIDs(ctx, units, unitID)
	if err != nil {
		return err
	}
	if subtree.Has(*parentID) {
		return Errorf(CodeUnitCycle, "unit %s is a descendant of %s", *parentID, unitID)
	}
	return nil
}
