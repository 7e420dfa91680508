/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	organization: a unit tree, absence categories, people, and one account
	per role. Each scenario returns ready-to-use bearer tokens so a client
	can act as any of the demo accounts immediately.

AVAILABLE SCENARIOS:

	baseline:          Unit tree, people and accounts; nothing in flight
	pending-approvals: Baseline plus change requests waiting in inboxes
	daily-report:      Baseline plus a submitted report for yesterday and
	                   an open draft for today

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create units and absence categories
 3. Create people directly as ACTIVE
 4. Create one account per role (password "demo1234")
 5. Optionally drive the workflow through the domain services

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "pending-approvals"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Domain services used by the loaders
  - auth.go: Token issuing
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/warp/personnel-engine/attendance"
	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/personnel"
)

// DemoPassword is the password of every demo account.
const DemoPassword = "demo1234"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "baseline",
		Name:        "Baseline",
		Description: "Headquarters with two battalions, five people and one account per role",
	},
	{
		ID:          "pending-approvals",
		Name:        "Pending Approvals",
		Description: "Transfer, grade change, record update and a new account waiting for decisions",
	},
	{
		ID:          "daily-report",
		Name:        "Daily Report",
		Description: "Yesterday's report submitted for the commander, today's report open for edits",
	},
}

// Fixed unit ids keep demo URLs stable across reloads.
const (
	unitHQ = personnel.UnitID("unit-hq")
	unitB1 = personnel.UnitID("unit-b1")
	unitC1 = personnel.UnitID("unit-c1")
	unitC2 = personnel.UnitID("unit-c2")
	unitB2 = personnel.UnitID("unit-b2")
)

// demoOrg is what the baseline loader created; workflow loaders build on it.
type demoOrg struct {
	accounts   []DemoAccountDTO
	principals map[string]personnel.Principal
	people     map[string]personnel.PersonID
	categories map[string]attendance.CategoryID
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.Seed(r.Context(), req.ScenarioID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Seed loads a scenario by id. It is also called at startup when demo
// seeding is enabled.
func (h *Handler) Seed(ctx context.Context, scenarioID string) (*LoadScenarioResponse, error) {
	scenario, ok := findScenario(scenarioID)
	if !ok {
		return nil, personnel.Errorf(personnel.CodeValidation, "unknown scenario %q", scenarioID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset database: %w", err)
	}
	h.currentScenario = ""

	org, err := h.loadBaseline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}

	switch scenario.ID {
	case "pending-approvals":
		err = h.loadPendingApprovals(ctx, org)
	case "daily-report":
		err = h.loadDailyReport(ctx, org)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario %s: %w", scenario.ID, err)
	}

	h.currentScenario = scenario.ID
	h.Log.WithField("scenario", scenario.ID).Info("scenario loaded")
	return &LoadScenarioResponse{Scenario: scenario, Accounts: org.accounts}, nil
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

// =============================================================================
// BASELINE
// =============================================================================

func (h *Handler) loadBaseline(ctx context.Context) (*demoOrg, error) {
	org := &demoOrg{
		principals: make(map[string]personnel.Principal),
		people:     make(map[string]personnel.PersonID),
		categories: make(map[string]attendance.CategoryID),
	}

	for _, u := range []personnel.Unit{
		{ID: unitHQ, Code: "HQ", Name: "Headquarters"},
		{ID: unitB1, Code: "B1", Name: "1st Battalion", ParentID: &[]personnel.UnitID{unitHQ}[0]},
		{ID: unitB2, Code: "B2", Name: "2nd Battalion", ParentID: &[]personnel.UnitID{unitHQ}[0]},
		{ID: unitC1, Code: "B1-C1", Name: "Alpha Company", ParentID: &[]personnel.UnitID{unitB1}[0]},
		{ID: unitC2, Code: "B1-C2", Name: "Bravo Company", ParentID: &[]personnel.UnitID{unitB1}[0]},
	} {
		if err := h.Store.SaveUnit(ctx, u); err != nil {
			return nil, err
		}
	}

	for _, c := range []attendance.Category{
		{Code: "01-01", Name: "Duty trip"},
		{Code: "01-05", Name: "Training course"},
		{Code: attendance.CodeAnnualLeave, Name: "Annual leave"},
		{Code: attendance.CodeMedicalLeave, Name: "Medical leave"},
	} {
		c.ID = attendance.CategoryID("cat-" + c.Code)
		if err := h.Store.SaveCategory(ctx, c); err != nil {
			return nil, err
		}
		org.categories[c.Code] = c.ID
	}

	now := h.Clock()
	for _, p := range []struct {
		key, serviceNo, first, last, grade string
		unit                               personnel.UnitID
	}{
		{"kovac", "SN-1001", "Ivan", "Kovac", "OR-4", unitC1},
		{"horvat", "SN-1002", "Ana", "Horvat", "OR-3", unitC1},
		{"babic", "SN-1003", "Marko", "Babic", "OR-6", unitC1},
		{"novak", "SN-1004", "Petra", "Novak", "OR-4", unitC2},
		{"juric", "SN-1005", "Luka", "Juric", "OF-1", unitB2},
	} {
		person := personnel.Person{
			ID:        personnel.PersonID(uuid.NewString()),
			ServiceNo: p.serviceNo,
			FirstName: p.first,
			LastName:  p.last,
			GradeID:   personnel.GradeID(p.grade),
			UnitID:    p.unit,
			Status:    personnel.PersonActive,
			CreatedBy: "system",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.Store.CreatePerson(ctx, person); err != nil {
			return nil, err
		}
		org.people[p.key] = person.ID
	}

	hash, err := h.Hasher.Hash(DemoPassword)
	if err != nil {
		return nil, err
	}
	for _, a := range []struct {
		username string
		role     personnel.Role
		unit     personnel.UnitID
	}{
		{"admin", personnel.RoleAdmin, ""},
		{"auditor", personnel.RoleAuditor, ""},
		{"commander.b1", personnel.RoleCommander, unitB1},
		{"commander.c1", personnel.RoleCommander, unitC1},
		{"officer.c1", personnel.RoleOfficer, unitC1},
		{"operator.c1", personnel.RoleOperator, unitC1},
		{"officer.b2", personnel.RoleOfficer, unitB2},
	} {
		user := personnel.User{
			ID:           personnel.UserID(uuid.NewString()),
			Username:     a.username,
			Email:        a.username + "@demo.local",
			Role:         a.role,
			PasswordHash: hash,
			NeverExpires: true,
			CreatedAt:    now,
		}
		if a.unit != "" {
			unit := a.unit
			user.UnitID = &unit
		}
		if err := h.Store.CreateUser(ctx, user); err != nil {
			return nil, err
		}

		principal := personnel.Principal{ID: user.ID, Role: user.Role, UnitID: user.UnitID}
		token, err := h.Tokens.Issue(principal)
		if err != nil {
			return nil, err
		}
		org.principals[a.username] = principal
		org.accounts = append(org.accounts, DemoAccountDTO{
			Username: a.username,
			Role:     string(a.role),
			UnitID:   optionalID(user.UnitID),
			Token:    token,
		})
	}
	return org, nil
}

// =============================================================================
// WORKFLOW SCENARIOS
// =============================================================================

func (h *Handler) loadPendingApprovals(ctx context.Context, org *demoOrg) error {
	officer := org.principals["officer.c1"]
	commander := org.principals["commander.b1"]

	phone := "+385 91 555 0101"
	for _, req := range []struct {
		as personnel.Principal
		in changerequest.CreateInput
	}{
		{officer, changerequest.CreateInput{
			Type:     changerequest.TypeTransferPerson,
			PersonID: personPtr(org.people["kovac"]),
			Payload:  changerequest.TransferPersonPayload{ToUnitID: unitC2, Reason: "reinforcement"},
		}},
		{officer, changerequest.CreateInput{
			Type:     changerequest.TypeChangeGrade,
			PersonID: personPtr(org.people["babic"]),
			Payload:  changerequest.ChangeGradePayload{NewGradeID: "OR-7", Reason: "promotion board"},
		}},
		{officer, changerequest.CreateInput{
			Type:     changerequest.TypeUpdatePerson,
			PersonID: personPtr(org.people["horvat"]),
			Payload: changerequest.UpdatePersonPayload{
				Patch:  personnel.PersonPatch{personnel.FieldPhone: &phone},
				Reason: "new contact number",
			},
		}},
		{commander, changerequest.CreateInput{
			Type: changerequest.TypeCreateUser,
			Payload: changerequest.CreateUserPayload{
				User: changerequest.NewUser{
					Username: "operator.c2",
					Email:    "operator.c2@demo.local",
					Role:     personnel.RoleOperator,
					UnitID:   &[]personnel.UnitID{unitC2}[0],
				},
				Reason: "Bravo Company needs a report operator",
			},
		}},
	} {
		if _, err := h.Requests.Create(ctx, req.as, req.in); err != nil {
			return fmt.Errorf("%s: %w", req.in.Type, err)
		}
	}
	return nil
}

func (h *Handler) loadDailyReport(ctx context.Context, org *demoOrg) error {
	operator := org.principals["operator.c1"]
	today := personnel.StartOfDay(h.Clock())
	yesterday := today.AddDate(0, 0, -1)

	report, err := h.Reports.CreateReport(ctx, operator, yesterday, "")
	if err != nil {
		return err
	}
	for _, in := range []attendance.JustificationInput{
		{
			PersonID:   org.people["kovac"],
			CategoryID: org.categories["01-01"],
			From:       yesterday,
			To:         today.AddDate(0, 0, 2),
			Location:   "Split",
		},
		{
			PersonID:   org.people["horvat"],
			CategoryID: org.categories[attendance.CodeAnnualLeave],
			From:       yesterday.AddDate(0, 0, -3),
			To:         today.AddDate(0, 0, 7),
		},
	} {
		if _, err := h.Reports.AddJustification(ctx, operator, report.ID, in); err != nil {
			return err
		}
	}
	if _, err := h.Reports.SubmitReport(ctx, operator, report.ID); err != nil {
		return err
	}

	// Today's draft stays empty so edits can be tried against the cutoff.
	if _, err := h.Reports.CreateReport(ctx, operator, today, ""); err != nil {
		return err
	}
	return nil
}

func personPtr(id personnel.PersonID) *personnel.PersonID { return &id }
