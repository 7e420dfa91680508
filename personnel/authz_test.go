package personnel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/personnel-engine/personnel"
)

func TestCanReadRequest(t *testing.T) {
	ctx := context.Background()
	auth := personnel.NewAuthorizer(seedTree(t))

	request := personnel.RequestResource{CreatedBy: "op-1", TargetUnitID: unitPtr("c1")}

	tests := []struct {
		name string
		p    personnel.Principal
		want bool
	}{
		{"admin", personnel.Principal{ID: "a", Role: personnel.RoleAdmin}, true},
		{"auditor", personnel.Principal{ID: "x", Role: personnel.RoleAuditor}, true},
		{"creator", personnel.Principal{ID: "op-1", Role: personnel.RoleOperator, UnitID: unitPtr("c1")}, true},
		{"operator in same unit", personnel.Principal{ID: "op-2", Role: personnel.RoleOperator, UnitID: unitPtr("c1")}, false},
		{"officer", personnel.Principal{ID: "off", Role: personnel.RoleOfficer, UnitID: unitPtr("c1")}, false},
		{"commander of the unit", personnel.Principal{ID: "c", Role: personnel.RoleCommander, UnitID: unitPtr("c1")}, true},
		{"commander of ancestor", personnel.Principal{ID: "c", Role: personnel.RoleCommander, UnitID: unitPtr("root")}, true},
		{"commander of descendant", personnel.Principal{ID: "c", Role: personnel.RoleCommander, UnitID: unitPtr("p1")}, false},
		{"commander of sibling", personnel.Principal{ID: "c", Role: personnel.RoleCommander, UnitID: unitPtr("c2")}, false},
		{"commander without unit", personnel.Principal{ID: "c", Role: personnel.RoleCommander}, false},
		{"unknown role", personnel.Principal{ID: "g", Role: "GUEST", UnitID: unitPtr("c1")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := auth.CanReadRequest(ctx, tt.p, request)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanReadRequest_UntargetedIsInvisibleToCommanders(t *testing.T) {
	auth := personnel.NewAuthorizer(seedTree(t))
	commander := personnel.Principal{ID: "c", Role: personnel.RoleCommander, UnitID: unitPtr("root")}

	got, err := auth.CanReadRequest(context.Background(), commander, personnel.RequestResource{CreatedBy: "x"})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestCanDecideRequest(t *testing.T) {
	ctx := context.Background()
	auth := personnel.NewAuthorizer(seedTree(t))

	request := personnel.RequestResource{CreatedBy: "op-1", TargetUnitID: unitPtr("c1")}
	adminOnly := personnel.RequestResource{CreatedBy: "cmd", TargetUnitID: unitPtr("c1"), AdminOnly: true}

	admin := personnel.Principal{ID: "a", Role: personnel.RoleAdmin}
	commanderB1 := personnel.Principal{ID: "c", Role: personnel.RoleCommander, UnitID: unitPtr("b1")}
	commanderB2 := personnel.Principal{ID: "c", Role: personnel.RoleCommander, UnitID: unitPtr("b2")}
	auditor := personnel.Principal{ID: "x", Role: personnel.RoleAuditor}
	creator := personnel.Principal{ID: "op-1", Role: personnel.RoleOperator, UnitID: unitPtr("c1")}

	tests := []struct {
		name string
		p    personnel.Principal
		r    personnel.RequestResource
		want bool
	}{
		{"admin", admin, request, true},
		{"commander in scope", commanderB1, request, true},
		{"commander out of scope", commanderB2, request, false},
		{"auditor never decides", auditor, request, false},
		{"creator never decides", creator, request, false},
		{"admin-only by admin", admin, adminOnly, true},
		{"admin-only by commander", commanderB1, adminOnly, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := auth.CanDecideRequest(ctx, tt.p, tt.r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandScope(t *testing.T) {
	ctx := context.Background()
	auth := personnel.NewAuthorizer(seedTree(t))

	scope, err := auth.CommandScope(ctx, personnel.Principal{ID: "c", Role: personnel.RoleCommander, UnitID: unitPtr("b1")})
	require.NoError(t, err)
	assert.Equal(t, []personnel.UnitID{"b1", "c1", "c2", "p1"}, scope.Slice())

	_, err = auth.CommandScope(ctx, personnel.Principal{ID: "c", Role: personnel.RoleCommander})
	assert.Equal(t, personnel.CodeForbidden, personnel.CodeOf(err))
}

func TestCanActInUnit(t *testing.T) {
	assert.True(t, personnel.CanActInUnit(personnel.Principal{Role: personnel.RoleAdmin}, "c1"))
	assert.True(t, personnel.CanActInUnit(personnel.Principal{Role: personnel.RoleOperator, UnitID: unitPtr("c1")}, "c1"))
	assert.False(t, personnel.CanActInUnit(personnel.Principal{Role: personnel.RoleOperator, UnitID: unitPtr("c1")}, "c2"))
	assert.False(t, personnel.CanActInUnit(personnel.Principal{Role: personnel.RoleCommander, UnitID: unitPtr("b1")}, "c1"),
		"membership is the own unit, not the subtree")
	assert.False(t, personnel.CanActInUnit(personnel.Principal{Role: personnel.RoleOfficer}, "c1"))
}

func TestCanEditPerson(t *testing.T) {
	person := &personnel.Person{ID: "p", UnitID: "c1", CreatedBy: "op-1"}

	assert.True(t, personnel.CanEditPerson(personnel.Principal{ID: "a", Role: personnel.RoleAdmin}, person))
	assert.True(t, personnel.CanEditPerson(personnel.Principal{ID: "op-1", Role: personnel.RoleOperator, UnitID: unitPtr("c1")}, person))
	assert.False(t, personnel.CanEditPerson(personnel.Principal{ID: "op-2", Role: personnel.RoleOperator, UnitID: unitPtr("c1")}, person))
	assert.False(t, personnel.CanEditPerson(personnel.Principal{ID: "op-1", Role: personnel.RoleOperator, UnitID: unitPtr("c2")}, person))
}
