/*
handlers_test.go - HTTP tests for the API handlers

Tests drive the real router against an in-memory SQLite store with the
baseline demo organization loaded:
- Authentication and error-code mapping
- Change-request lifecycle including the audit document
- Daily report editing and the cutoff
- People and unit administration
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/personnel-engine/attendance"
	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/credentials"
	"github.com/warp/personnel-engine/docstore"
	"github.com/warp/personnel-engine/factory"
	"github.com/warp/personnel-engine/notify"
	"github.com/warp/personnel-engine/personnel"
	"github.com/warp/personnel-engine/render"
	"github.com/warp/personnel-engine/store/sqlite"
)

// =============================================================================
// HARNESS
// =============================================================================

type testServer struct {
	h      *Handler
	router http.Handler
	tokens map[string]string
	now    time.Time
}

func setupTestHandler(t *testing.T) *testServer {
	t.Helper()

	payloads := factory.NewPayloadFactory()
	store, err := sqlite.New(":memory:", payloads)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	docs, err := docstore.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	ts := &testServer{
		tokens: make(map[string]string),
		now:    time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return ts.now }

	hasher := credentials.NewBcryptHasher(4)
	engine := &changerequest.Engine{
		Store:     store,
		Units:     store,
		People:    store,
		Users:     store,
		Auth:      personnel.NewAuthorizer(store),
		Renderer:  render.NewWorkbook(),
		Documents: docs,
		Hasher:    hasher,
		Sender:    notify.NewSMTPSender(notify.SMTPConfig{}, log),
		Passwords: credentials.TempPassword,
		Clock:     clock,
		Log:       log,
	}

	ts.h = NewHandler(store, Options{
		Engine:   engine,
		Payloads: payloads,
		Tokens:   NewTokenIssuer("test-secret", time.Hour),
		Hasher:   hasher,
		Lock:     attendance.NewLockPolicy(attendance.DefaultCutoff),
		Clock:    clock,
		Log:      log,
	})
	ts.router = NewRouter(ts.h, RouterOptions{Log: log, Demo: true})
	return ts
}

// seed loads a scenario and remembers every account's token.
func (ts *testServer) seed(t *testing.T, scenario string) *LoadScenarioResponse {
	t.Helper()
	resp, err := ts.h.Seed(context.Background(), scenario)
	require.NoError(t, err)
	for _, a := range resp.Accounts {
		ts.tokens[a.Username] = a.Token
	}
	return resp
}

func (ts *testServer) do(t *testing.T, as, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		token, ok := ts.tokens[as]
		require.True(t, ok, "no token for %s", as)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code personnel.Code) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, string(code), decode[ErrorResponse](t, rec).Code)
}

// personID finds a seeded person by service number.
func (ts *testServer) personID(t *testing.T, serviceNo string) string {
	t.Helper()
	people, err := ts.h.Store.ListPeople(context.Background(), nil)
	require.NoError(t, err)
	for _, p := range people {
		if p.ServiceNo == serviceNo {
			return string(p.ID)
		}
	}
	t.Fatalf("person %s not seeded", serviceNo)
	return ""
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_RequiresToken(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")

	rec := ts.do(t, "", http.MethodGet, "/api/units", nil)
	requireCode(t, rec, http.StatusUnauthorized, personnel.CodeUnauthorized)

	ts.tokens["forged"] = "not-a-jwt"
	rec = ts.do(t, "forged", http.MethodGet, "/api/units", nil)
	requireCode(t, rec, http.StatusUnauthorized, personnel.CodeUnauthorized)

	other := NewTokenIssuer("other-secret", time.Hour)
	ts.tokens["wrong-key"], _ = other.Issue(personnel.Principal{ID: "x", Role: personnel.RoleAdmin})
	rec = ts.do(t, "wrong-key", http.MethodGet, "/api/units", nil)
	requireCode(t, rec, http.StatusUnauthorized, personnel.CodeUnauthorized)

	rec = ts.do(t, "admin", http.MethodGet, "/api/units", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]UnitDTO](t, rec), 5)
}

func TestAuth_TokenQueryParameter(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")

	rec := ts.do(t, "officer.c1", http.MethodPost, "/api/change-requests", map[string]any{
		"type":     "TRANSFER_PERSON",
		"personId": ts.personID(t, "SN-1001"),
		"payload":  map[string]any{"toUnitId": "unit-c2"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[ChangeRequestDTO](t, rec).ID
	rec = ts.do(t, "commander.b1", http.MethodPost, "/api/change-requests/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	get := func(method, target string) int {
		req := httptest.NewRequest(method, target, nil)
		rec := httptest.NewRecorder()
		ts.router.ServeHTTP(rec, req)
		return rec.Code
	}
	token := "?token=" + ts.tokens["auditor"]

	assert.Equal(t, http.StatusOK, get(http.MethodGet, "/api/change-requests/"+id+"/document"+token))
	assert.Equal(t, http.StatusUnauthorized, get(http.MethodGet, "/api/units"+token))
	assert.Equal(t, http.StatusUnauthorized, get(http.MethodGet, "/api/change-requests/"+id+token))
	assert.Equal(t, http.StatusUnauthorized, get(http.MethodPost, "/api/change-requests/"+id+"/document"+token))
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", time.Minute)
	unit := personnel.UnitID("unit-c1")
	in := personnel.Principal{ID: "u-1", Role: personnel.RoleOfficer, UnitID: &unit}

	token, err := issuer.Issue(in)
	require.NoError(t, err)

	out, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = issuer.Parse(token)
	assert.Error(t, err, "expired")
}

// =============================================================================
// CHANGE REQUESTS
// =============================================================================

func TestChangeRequest_TransferLifecycle(t *testing.T) {
	// GIVEN: An officer in Alpha Company and a commander over the battalion
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")
	kovac := ts.personID(t, "SN-1001")

	// WHEN: The officer requests a transfer to Bravo Company
	rec := ts.do(t, "officer.c1", http.MethodPost, "/api/change-requests", map[string]any{
		"type":     "TRANSFER_PERSON",
		"personId": kovac,
		"payload":  map[string]any{"toUnitId": "unit-c2", "reason": "reinforcement"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[ChangeRequestDTO](t, rec)
	assert.Equal(t, "PENDING", created.Status)
	assert.Equal(t, "unit-c1", *created.TargetUnitID)
	assert.JSONEq(t, `{"toUnitId": "unit-c2", "reason": "reinforcement"}`, string(created.Payload))

	// THEN: A second one for the same person is refused while it is pending
	rec = ts.do(t, "officer.c1", http.MethodPost, "/api/change-requests", map[string]any{
		"type": "TRANSFER_PERSON", "personId": kovac, "payload": map[string]any{"toUnitId": "unit-b2"},
	})
	requireCode(t, rec, http.StatusConflict, personnel.CodeAlreadyPending)

	// AND: It shows up in the battalion commander's inbox
	rec = ts.do(t, "commander.b1", http.MethodGet, "/api/change-requests/inbox", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decode[PageDTO](t, rec)
	require.Equal(t, 1, inbox.Total)
	assert.Equal(t, created.ID, inbox.Items[0].ID)

	// WHEN: The commander approves
	rec = ts.do(t, "commander.b1", http.MethodPost, "/api/change-requests/"+created.ID+"/approve",
		map[string]string{"note": "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decided := decode[DecisionResponse](t, rec)
	assert.Equal(t, "APPROVED", decided.Status)
	assert.True(t, decided.HasDocument)
	require.NotNil(t, decided.DocNo)
	assert.Empty(t, decided.DocumentError)
	require.NotNil(t, decided.Snapshot)
	assert.Equal(t, personnel.UnitID("unit-c1"), decided.Snapshot.Before.UnitID)
	assert.Equal(t, personnel.UnitID("unit-c2"), decided.Snapshot.After.UnitID)

	// THEN: The person moved
	rec = ts.do(t, "admin", http.MethodGet, "/api/people/"+kovac, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unit-c2", decode[PersonDTO](t, rec).UnitID)

	// AND: The document downloads as a workbook named after its number
	rec = ts.do(t, "officer.c1", http.MethodGet, "/api/change-requests/"+created.ID+"/document", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, contentTypeFor(".xlsx"), rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), *decided.DocNo)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	// AND: A second decision loses
	rec = ts.do(t, "commander.c1", http.MethodPost, "/api/change-requests/"+created.ID+"/reject",
		map[string]string{"note": "too late"})
	requireCode(t, rec, http.StatusConflict, personnel.CodeNotPending)
}

func TestChangeRequest_CreateRejections(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")
	kovac := ts.personID(t, "SN-1001")
	juric := ts.personID(t, "SN-1005")

	tests := []struct {
		name   string
		as     string
		body   map[string]any
		status int
		code   personnel.Code
	}{
		{
			name:   "unknown type",
			as:     "officer.c1",
			body:   map[string]any{"type": "PROMOTE", "personId": kovac},
			status: http.StatusBadRequest,
			code:   personnel.CodeValidation,
		},
		{
			name:   "payload missing destination",
			as:     "officer.c1",
			body:   map[string]any{"type": "TRANSFER_PERSON", "personId": kovac, "payload": map[string]any{}},
			status: http.StatusBadRequest,
			code:   personnel.CodeValidation,
		},
		{
			name:   "auditor",
			as:     "auditor",
			body:   map[string]any{"type": "DELETE_PERSON", "personId": kovac},
			status: http.StatusForbidden,
			code:   personnel.CodeForbidden,
		},
		{
			name:   "person in another battalion",
			as:     "officer.c1",
			body:   map[string]any{"type": "DEACTIVATE_PERSON", "personId": juric},
			status: http.StatusForbidden,
			code:   personnel.CodeForbidden,
		},
		{
			name:   "move into the current unit",
			as:     "officer.c1",
			body:   map[string]any{"type": "CHANGE_UNIT", "personId": kovac, "payload": map[string]any{"toUnitId": "unit-c1"}},
			status: http.StatusBadRequest,
			code:   personnel.CodeValidation,
		},
		{
			name:   "officer requesting an account",
			as:     "officer.c1",
			body:   map[string]any{"type": "CREATE_USER", "payload": map[string]any{"user": map[string]any{"username": "x", "email": "x@demo.local", "role": "OPERATOR"}}},
			status: http.StatusForbidden,
			code:   personnel.CodeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.as, http.MethodPost, "/api/change-requests", tt.body)
			requireCode(t, rec, tt.status, tt.code)
		})
	}
}

func TestChangeRequest_LookupErrors(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")

	rec := ts.do(t, "admin", http.MethodGet, "/api/change-requests/not-a-uuid", nil)
	requireCode(t, rec, http.StatusBadRequest, personnel.CodeValidation)

	rec = ts.do(t, "admin", http.MethodGet, "/api/change-requests/6f1c2d8e-0000-4000-8000-000000000000", nil)
	requireCode(t, rec, http.StatusNotFound, personnel.CodeNotFound)

	rec = ts.do(t, "admin", http.MethodGet, "/api/change-requests/mine?status=LOST", nil)
	requireCode(t, rec, http.StatusBadRequest, personnel.CodeValidation)
}

func TestChangeRequest_RejectRequiresNote(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")

	rec := ts.do(t, "officer.c1", http.MethodPost, "/api/change-requests", map[string]any{
		"type": "CHANGE_GRADE", "personId": ts.personID(t, "SN-1003"), "payload": map[string]any{"newGradeId": "OR-7"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[ChangeRequestDTO](t, rec).ID

	rec = ts.do(t, "commander.c1", http.MethodPost, "/api/change-requests/"+id+"/reject", nil)
	requireCode(t, rec, http.StatusBadRequest, personnel.CodeValidation)

	rec = ts.do(t, "commander.c1", http.MethodPost, "/api/change-requests/"+id+"/reject",
		map[string]string{"note": "board has not met"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decided := decode[DecisionResponse](t, rec)
	assert.Equal(t, "REJECTED", decided.Status)
	assert.Equal(t, "board has not met", *decided.DecisionNote)
	assert.True(t, decided.HasDocument, "rejections are documented too")

	rec = ts.do(t, "admin", http.MethodGet, "/api/people/"+ts.personID(t, "SN-1003"), nil)
	assert.Equal(t, "OR-6", decode[PersonDTO](t, rec).GradeID)
}

func TestChangeRequest_CancelByCreator(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")

	rec := ts.do(t, "officer.c1", http.MethodPost, "/api/change-requests", map[string]any{
		"type": "DELETE_PERSON", "personId": ts.personID(t, "SN-1002"), "payload": map[string]any{"reason": "duplicate"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[ChangeRequestDTO](t, rec).ID

	rec = ts.do(t, "operator.c1", http.MethodPost, "/api/change-requests/"+id+"/cancel", nil)
	requireCode(t, rec, http.StatusForbidden, personnel.CodeForbidden)

	rec = ts.do(t, "officer.c1", http.MethodPost, "/api/change-requests/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[ChangeRequestDTO](t, rec).Status)

	rec = ts.do(t, "officer.c1", http.MethodGet, "/api/change-requests/mine?status=ARCHIVE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[PageDTO](t, rec).Total)

	rec = ts.do(t, "officer.c1", http.MethodGet, "/api/change-requests/"+id+"/document", nil)
	requireCode(t, rec, http.StatusNotFound, personnel.CodeDocumentNotFound)
}

func TestChangeRequest_CreateUserGoesToAdmins(t *testing.T) {
	// GIVEN: The pending-approvals scenario with an account request
	ts := setupTestHandler(t)
	ts.seed(t, "pending-approvals")

	// THEN: Commanders do not see it, admins do
	rec := ts.do(t, "commander.b1", http.MethodGet, "/api/change-requests/inbox?type=CREATE_USER", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[PageDTO](t, rec).Total)

	rec = ts.do(t, "admin", http.MethodGet, "/api/change-requests/inbox?type=CREATE_USER", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[PageDTO](t, rec)
	require.Equal(t, 1, page.Total)
	id := page.Items[0].ID

	// WHEN: An admin approves without a mail server configured
	rec = ts.do(t, "admin", http.MethodPost, "/api/change-requests/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decided := decode[DecisionResponse](t, rec)

	// THEN: The account exists and the password is handed back
	assert.Equal(t, "APPROVED", decided.Status)
	require.NotNil(t, decided.EmailSent)
	assert.False(t, *decided.EmailSent)
	assert.NotEmpty(t, decided.TempPassword)

	user, err := ts.h.Store.GetUserByUsername(context.Background(), "operator.c2")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, credentials.Compare(user.PasswordHash, decided.TempPassword))
	assert.True(t, user.MustChangePassword)
	assert.NotContains(t, rec.Body.String(), user.PasswordHash)
}

func TestChangeRequest_RegenerateDocument(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "pending-approvals")

	rec := ts.do(t, "commander.b1", http.MethodGet, "/api/change-requests/inbox?type=UPDATE_PERSON", nil)
	page := decode[PageDTO](t, rec)
	require.Equal(t, 1, page.Total)
	id := page.Items[0].ID

	rec = ts.do(t, "commander.b1", http.MethodPost, "/api/change-requests/"+id+"/document", nil)
	requireCode(t, rec, http.StatusBadRequest, personnel.CodeValidation)

	rec = ts.do(t, "commander.b1", http.MethodPost, "/api/change-requests/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[DecisionResponse](t, rec)

	ts.now = ts.now.Add(time.Hour)
	rec = ts.do(t, "commander.b1", http.MethodPost, "/api/change-requests/"+id+"/document", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decode[ChangeRequestDTO](t, rec)
	assert.Equal(t, *first.DocNo, *again.DocNo, "document numbers are stable")
	assert.NotEqual(t, *first.DocumentAt, *again.DocumentAt)

	rec = ts.do(t, "officer.b2", http.MethodPost, "/api/change-requests/"+id+"/document", nil)
	requireCode(t, rec, http.StatusForbidden, personnel.CodeForbidden)
}

// =============================================================================
// DAILY REPORTS
// =============================================================================

func TestReports_EditUntilCutoff(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")
	kovac := ts.personID(t, "SN-1001")

	rec := ts.do(t, "operator.c1", http.MethodPost, "/api/reports", map[string]string{"date": "2026-03-10"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	report := decode[ReportDTO](t, rec)
	assert.Equal(t, "unit-c1", report.UnitID)

	rec = ts.do(t, "operator.c1", http.MethodPost, "/api/reports", map[string]string{"date": "2026-03-10"})
	requireCode(t, rec, http.StatusConflict, personnel.CodeReportExists)

	row := map[string]any{
		"personId": kovac, "categoryId": "cat-01-01", "from": "2026-03-09", "to": "2026-03-12", "location": "Split",
	}
	rec = ts.do(t, "operator.c1", http.MethodPost, "/api/reports/"+report.ID+"/justifications", row)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	leave := map[string]any{"personId": kovac, "categoryId": "cat-01-12", "from": "2026-03-10", "to": "2026-03-20"}
	rec = ts.do(t, "operator.c1", http.MethodPost, "/api/reports/"+report.ID+"/justifications", leave)
	requireCode(t, rec, http.StatusBadRequest, personnel.CodePeriodInvalidToday)

	rec = ts.do(t, "officer.b2", http.MethodPost, "/api/reports/"+report.ID+"/justifications", row)
	requireCode(t, rec, http.StatusForbidden, personnel.CodeForbiddenUnit)

	ts.now = time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	rec = ts.do(t, "operator.c1", http.MethodPost, "/api/reports/"+report.ID+"/justifications", row)
	requireCode(t, rec, http.StatusConflict, personnel.CodeAfterCutoff)

	rec = ts.do(t, "operator.c1", http.MethodPost, "/api/reports", map[string]string{"date": "10.03.2026"})
	requireCode(t, rec, http.StatusBadRequest, personnel.CodeValidation)
}

func TestReports_SubmitDecideSummarize(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")

	rec := ts.do(t, "operator.c1", http.MethodPost, "/api/reports", map[string]string{"date": "2026-03-09"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[ReportDTO](t, rec).ID

	rec = ts.do(t, "operator.c1", http.MethodPost, "/api/reports/"+id+"/justifications", map[string]any{
		"personId": ts.personID(t, "SN-1002"), "categoryId": "cat-01-13", "from": "2026-03-05", "to": "2026-03-12",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rowID := decode[JustificationDTO](t, rec).ID

	rec = ts.do(t, "operator.c1", http.MethodPost, "/api/reports/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PENDING", decode[ReportDTO](t, rec).Status)

	rec = ts.do(t, "operator.c1", http.MethodDelete, "/api/reports/"+id+"/justifications/"+rowID, nil)
	requireCode(t, rec, http.StatusConflict, personnel.CodeReportLocked)

	rec = ts.do(t, "commander.b1", http.MethodPost, "/api/reports/"+id+"/decide", map[string]any{"approve": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "APPROVED", decode[ReportDTO](t, rec).Status)

	rec = ts.do(t, "commander.b1", http.MethodGet, "/api/reports/"+id+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sum := decode[map[string]any](t, rec)
	assert.EqualValues(t, 3, sum["headcount"])
	assert.EqualValues(t, 1, sum["absent"])
	assert.Equal(t, "66.67", sum["presenceRate"])

	rec = ts.do(t, "officer.b2", http.MethodGet, "/api/reports/"+id, nil)
	requireCode(t, rec, http.StatusForbidden, personnel.CodeForbidden)

	rec = ts.do(t, "operator.c1", http.MethodGet, "/api/reports/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ReportDTO](t, rec).Justifications, 1)
}

func TestListCategories(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")

	rec := ts.do(t, "operator.c1", http.MethodGet, "/api/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var periodCodes []string
	for _, c := range decode[[]map[string]any](t, rec) {
		if c["period"] == true {
			periodCodes = append(periodCodes, c["code"].(string))
		}
	}
	assert.ElementsMatch(t, []string{"01-12", "01-13"}, periodCodes)
}

// =============================================================================
// PEOPLE & UNITS
// =============================================================================

func TestPeople_CreateAndPatch(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")

	rec := ts.do(t, "officer.c1", http.MethodPost, "/api/people", map[string]any{
		"serviceNo": "SN-2001", "firstName": "Iva", "lastName": "Maric", "gradeId": "OR-2", "birthDate": "1999-04-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	person := decode[PersonDTO](t, rec)
	assert.Equal(t, "PENDING", person.Status)
	assert.Equal(t, "unit-c1", person.UnitID)
	assert.Equal(t, "1999-04-01", person.BirthDate)

	rec = ts.do(t, "officer.c1", http.MethodPost, "/api/people", map[string]any{
		"serviceNo": "SN-2001", "firstName": "Other", "lastName": "Person", "gradeId": "OR-2",
	})
	requireCode(t, rec, http.StatusConflict, personnel.CodeServiceNoExists)

	rec = ts.do(t, "officer.c1", http.MethodPatch, "/api/people/"+person.ID, map[string]any{
		"phone": "555-0100", "unitId": "unit-b2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	patched := decode[PersonDTO](t, rec)
	assert.Equal(t, "555-0100", *patched.Phone)
	assert.Equal(t, "unit-c1", patched.UnitID, "unit is not patchable")

	rec = ts.do(t, "operator.c1", http.MethodPatch, "/api/people/"+person.ID, map[string]any{"phone": "1"})
	requireCode(t, rec, http.StatusForbidden, personnel.CodeForbidden)

	rec = ts.do(t, "officer.b2", http.MethodGet, "/api/people/"+person.ID, nil)
	requireCode(t, rec, http.StatusForbidden, personnel.CodeForbidden)

	rec = ts.do(t, "commander.b1", http.MethodGet, "/api/people", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]PersonDTO](t, rec), 5, "battalion subtree only")
}

func TestUnits_AdminOnlyAndAcyclic(t *testing.T) {
	ts := setupTestHandler(t)
	ts.seed(t, "baseline")

	rec := ts.do(t, "commander.b1", http.MethodPost, "/api/units", map[string]any{"code": "B1-C3", "name": "Charlie"})
	requireCode(t, rec, http.StatusForbidden, personnel.CodeForbidden)

	rec = ts.do(t, "admin", http.MethodPost, "/api/units", map[string]any{"code": "B1-C3", "name": "Charlie", "parentId": "unit-b1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[UnitDTO](t, rec)
	assert.Equal(t, "unit-b1", *created.ParentID)

	rec = ts.do(t, "admin", http.MethodPost, "/api/units", map[string]any{"code": "B1-C3", "name": "Again"})
	requireCode(t, rec, http.StatusConflict, personnel.CodeUnitCodeExists)

	rec = ts.do(t, "admin", http.MethodPost, "/api/units/unit-hq/move", map[string]any{"parentId": created.ID})
	requireCode(t, rec, http.StatusBadRequest, personnel.CodeUnitCycle)

	rec = ts.do(t, "admin", http.MethodPost, "/api/units/"+created.ID+"/move", map[string]any{"parentId": "unit-b2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "unit-b2", *decode[UnitDTO](t, rec).ParentID)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code personnel.Code
		want int
	}{
		{personnel.CodeValidation, http.StatusBadRequest},
		{personnel.CodeInvalidPayload, http.StatusBadRequest},
		{personnel.CodeUnitCycle, http.StatusBadRequest},
		{personnel.CodeUnauthorized, http.StatusUnauthorized},
		{personnel.CodeForbiddenUnit, http.StatusForbidden},
		{personnel.CodePersonNotFound, http.StatusNotFound},
		{personnel.CodeDocumentNotFound, http.StatusNotFound},
		{personnel.CodeUserExists, http.StatusConflict},
		{personnel.CodeReportLocked, http.StatusConflict},
		{personnel.CodeInternal, http.StatusInternalServerError},
		{personnel.Code("SOMETHING_NEW"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.code))
		})
	}
}

func TestFail_HidesInternalErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	h := &Handler{Log: log}

	req := httptest.NewRequest(http.MethodGet, "/api/units", nil)
	rec := httptest.NewRecorder()
	h.fail(rec, req, assert.AnError)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), assert.AnError.Error()))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
