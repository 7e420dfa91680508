/*
workbook.go - Audit documents as Excel workbooks

PURPOSE:
  Renders a decided change request into a single-sheet .xlsx: a header
  block describing the request and decision, followed by a field table
  comparing the person before and after (or the provisioned account).

DETERMINISM:
  Output depends only on the request. The document number is derived from
  the decision date and the request id, so regenerating a document keeps
  its number.
*/
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/personnel"
)

const (
	sheetName       = "Request"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	timeLayout      = "2006-01-02 15:04"
)

// Workbook implements changerequest.Renderer.
type Workbook struct{}

func NewWorkbook() *Workbook { return &Workbook{} }

// DocNo returns the document number for a request.
func DocNo(cr changerequest.ChangeRequest) string {
	day := cr.CreatedAt
	if cr.DecidedAt != nil {
		day = *cr.DecidedAt
	}
	short := strings.ToUpper(strings.ReplaceAll(string(cr.ID), "-", ""))
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("CR-%s-%s", day.Format("20060102"), short)
}

func (w *Workbook) Render(ctx context.Context, cr changerequest.ChangeRequest) (*changerequest.RenderedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	})
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	changedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#FFF2CC"}},
	})

	docNo := DocNo(cr)
	f.SetCellValue(sheetName, "A1", "Personnel change request")
	f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	row := 3
	for _, kv := range headerRows(cr, docNo) {
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), kv[0])
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), kv[1])
		f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), boldStyle)
		row++
	}

	row++
	for i, h := range []string{"Field", "Before", "After"} {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := fmt.Sprintf("%s%d", col, row)
		f.SetCellValue(sheetName, cell, h)
		f.SetCellStyle(sheetName, cell, cell, boldStyle)
	}
	row++

	for _, line := range changeRows(cr) {
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), line.label)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), line.before)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), line.after)
		if line.changed {
			f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("C%d", row), changedStyle)
		}
		row++
	}

	for i, width := range []float64{22, 36, 36} {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, col, col, width)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	return &changerequest.RenderedDocument{
		DocNo:       docNo,
		Data:        buf.Bytes(),
		Extension:   "xlsx",
		ContentType: xlsxContentType,
	}, nil
}

// =============================================================================
// ROWS
// =============================================================================

func headerRows(cr changerequest.ChangeRequest, docNo string) [][2]string {
	rows := [][2]string{
		{"Document No", docNo},
		{"Request ID", string(cr.ID)},
		{"Type", string(cr.Type)},
		{"Status", string(cr.Status)},
		{"Created by", fmt.Sprintf("%s (%s)", cr.CreatedBy, cr.CreatedByRole)},
		{"Created at", cr.CreatedAt.Format(timeLayout)},
	}
	if cr.TargetUnitID != nil {
		rows = append(rows, [2]string{"Target unit", string(*cr.TargetUnitID)})
	}
	if cr.PersonID != nil {
		rows = append(rows, [2]string{"Person", string(*cr.PersonID)})
	}
	if reason := changerequest.Reason(cr.Payload); reason != "" {
		rows = append(rows, [2]string{"Reason", reason})
	}
	if cr.DecidedBy != nil {
		rows = append(rows, [2]string{"Decided by", string(*cr.DecidedBy)})
	}
	if cr.DecidedAt != nil {
		rows = append(rows, [2]string{"Decided at", cr.DecidedAt.Format(timeLayout)})
	}
	if cr.DecisionNote != nil {
		rows = append(rows, [2]string{"Decision note", *cr.DecisionNote})
	}
	return rows
}

type changeRow struct {
	label, before, after string
	changed              bool
}

func changeRows(cr changerequest.ChangeRequest) []changeRow {
	if cr.Snapshot == nil {
		return nil
	}
	if u := cr.Snapshot.User; u != nil {
		unit := ""
		if u.UnitID != nil {
			unit = string(*u.UnitID)
		}
		return []changeRow{
			{label: "Username", after: u.Username, changed: true},
			{label: "Email", after: u.Email, changed: true},
			{label: "Role", after: string(u.Role), changed: true},
			{label: "Unit", after: unit, changed: true},
		}
	}

	before := viewFields(cr.Snapshot.Before)
	after := viewFields(cr.Snapshot.After)
	rows := make([]changeRow, 0, len(before))
	for i, field := range before {
		r := changeRow{label: field[0], before: field[1]}
		switch {
		case cr.Status != changerequest.StatusApproved:
			r.after = field[1]
		case after == nil:
			r.after = "(deleted)"
			r.changed = true
		default:
			r.after = after[i][1]
			r.changed = r.before != r.after
		}
		rows = append(rows, r)
	}
	return rows
}

func viewFields(v *personnel.PersonView) [][2]string {
	if v == nil {
		return nil
	}
	return [][2]string{
		{"Service No", v.ServiceNo},
		{"Personal No", v.PersonalNumber},
		{"Last name", v.LastName},
		{"First name", v.FirstName},
		{"Middle name", v.MiddleName},
		{"Birth date", v.BirthDate},
		{"Gender", v.Gender},
		{"City", v.City},
		{"Address", v.Address},
		{"Phone", v.Phone},
		{"Position", v.Position},
		{"Service start", v.ServiceStartDate},
		{"Notes", v.Notes},
		{"Grade", string(v.GradeID)},
		{"Unit", string(v.UnitID)},
		{"Status", string(v.Status)},
	}
}

// Compile-time check.
var _ changerequest.Renderer = (*Workbook)(nil)
