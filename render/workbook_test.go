package render

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/personnel"
)

func decidedTransfer() changerequest.ChangeRequest {
	created := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	decided := time.Date(2025, 3, 11, 14, 30, 0, 0, time.UTC)
	unit := personnel.UnitID("u-1")
	person := personnel.PersonID("p-1")
	decider := personnel.UserID("cmd-1")

	before := &personnel.PersonView{ID: person, ServiceNo: "S-100", FirstName: "Ana", LastName: "Kovac", UnitID: "u-1", Status: personnel.PersonActive}
	after := *before
	after.UnitID = "u-2"

	return changerequest.ChangeRequest{
		ID:            "5f0c2a9e-1111-2222-3333-444455556666",
		Type:          changerequest.TypeTransferPerson,
		Status:        changerequest.StatusApproved,
		CreatedBy:     "op-1",
		CreatedByRole: personnel.RoleOperator,
		PersonID:      &person,
		TargetUnitID:  &unit,
		Payload:       changerequest.TransferPersonPayload{ToUnitID: "u-2", Reason: "reassignment"},
		DecidedBy:     &decider,
		DecidedAt:     &decided,
		Snapshot:      &changerequest.Snapshot{Before: before, After: &after},
		CreatedAt:     created,
		UpdatedAt:     decided,
	}
}

func TestDocNo(t *testing.T) {
	cr := decidedTransfer()
	assert.Equal(t, "CR-20250311-5F0C2A9E", DocNo(cr))

	cr.DecidedAt = nil
	assert.Equal(t, "CR-20250310-5F0C2A9E", DocNo(cr))
}

func TestWorkbook_Render(t *testing.T) {
	cr := decidedTransfer()
	doc, err := NewWorkbook().Render(context.Background(), cr)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", doc.Extension)
	assert.Equal(t, "CR-20250311-5F0C2A9E", doc.DocNo)

	f, err := excelize.OpenReader(bytes.NewReader(doc.Data))
	require.NoError(t, err)
	defer f.Close()

	docNo, err := f.GetCellValue(sheetName, "B3")
	require.NoError(t, err)
	assert.Equal(t, doc.DocNo, docNo)

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)

	var unitRow []string
	for _, r := range rows {
		if len(r) == 3 && r[0] == "Unit" {
			unitRow = r
		}
	}
	assert.Equal(t, []string{"Unit", "u-1", "u-2"}, unitRow)
}

func TestWorkbook_RenderIsRepeatable(t *testing.T) {
	cr := decidedTransfer()
	a, err := NewWorkbook().Render(context.Background(), cr)
	require.NoError(t, err)
	b, err := NewWorkbook().Render(context.Background(), cr)
	require.NoError(t, err)
	assert.Equal(t, a.DocNo, b.DocNo)
}

func TestChangeRows(t *testing.T) {
	t.Run("rejected shows unchanged person", func(t *testing.T) {
		cr := decidedTransfer()
		cr.Status = changerequest.StatusRejected
		cr.Snapshot.After = nil
		for _, r := range changeRows(cr) {
			assert.Equal(t, r.before, r.after)
			assert.False(t, r.changed)
		}
	})

	t.Run("delete marks every row", func(t *testing.T) {
		cr := decidedTransfer()
		cr.Type = changerequest.TypeDeletePerson
		cr.Snapshot.After = nil
		rows := changeRows(cr)
		require.NotEmpty(t, rows)
		for _, r := range rows {
			assert.Equal(t, "(deleted)", r.after)
		}
	})

	t.Run("account provisioning", func(t *testing.T) {
		cr := decidedTransfer()
		cr.Snapshot = &changerequest.Snapshot{User: &changerequest.UserSnapshot{Username: "jdoe", Email: "j@x.org", Role: personnel.RoleOfficer}}
		rows := changeRows(cr)
		require.Len(t, rows, 4)
		assert.Equal(t, "jdoe", rows[0].after)
	})
}
