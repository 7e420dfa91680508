package changerequest_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/personnel"
	"github.com/warp/personnel-engine/store/memory"
)

// =============================================================================
// FIXTURE
// =============================================================================

var now = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

// Unit tree:
//
//	root
//	├── b1
//	│   └── c1
//	└── b2
var (
	admin    = personnel.Principal{ID: "admin", Role: personnel.RoleAdmin}
	auditor  = personnel.Principal{ID: "auditor", Role: personnel.RoleAuditor}
	cmdB1    = personnel.Principal{ID: "cmd-b1", Role: personnel.RoleCommander, UnitID: unitPtr("b1")}
	cmdB2    = personnel.Principal{ID: "cmd-b2", Role: personnel.RoleCommander, UnitID: unitPtr("b2")}
	cmdC1    = personnel.Principal{ID: "cmd-c1", Role: personnel.RoleCommander, UnitID: unitPtr("c1")}
	operator = personnel.Principal{ID: "op-c1", Role: personnel.RoleOperator, UnitID: unitPtr("c1")}
	officer  = personnel.Principal{ID: "off-c1", Role: personnel.RoleOfficer, UnitID: unitPtr("c1")}
	opB2     = personnel.Principal{ID: "op-b2", Role: personnel.RoleOperator, UnitID: unitPtr("b2")}
)

func unitPtr(id personnel.UnitID) *personnel.UnitID { return &id }
func personPtr(id personnel.PersonID) *personnel.PersonID { return &id }
func strPtr(s string) *string { return &s }

type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeRenderer) Render(_ context.Context, cr changerequest.ChangeRequest) (*changerequest.RenderedDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &changerequest.RenderedDocument{
		DocNo:       "CR-" + string(cr.ID)[:8],
		Data:        []byte(fmt.Sprintf("%s:%s", cr.ID, cr.Status)),
		Extension:   "xlsx",
		ContentType: "application/octet-stream",
	}, nil
}

type fakeDocuments struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (d *fakeDocuments) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[name] = data
	return name, nil
}

func (d *fakeDocuments) Open(_ context.Context, path string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[path]
	if !ok {
		return nil, personnel.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeSender struct {
	err  error
	sent []changerequest.Credentials
}

func (s *fakeSender) SendCredentials(_ context.Context, c changerequest.Credentials) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, c)
	return nil
}

type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "hashed:" + p, nil }

type fixture struct {
	store    *memory.Memory
	engine   *changerequest.Engine
	renderer *fakeRenderer
	docs     *fakeDocuments
	sender   *fakeSender
	logs     *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemory()

	for _, u := range []personnel.Unit{
		{ID: "root", Code: "HQ", Name: "Headquarters"},
		{ID: "b1", Code: "B1", Name: "Battalion 1", ParentID: unitPtr("root")},
		{ID: "c1", Code: "C1", Name: "Company 1", ParentID: unitPtr("b1")},
		{ID: "b2", Code: "B2", Name: "Battalion 2", ParentID: unitPtr("root")},
	} {
		require.NoError(t, store.SaveUnit(ctx, u))
	}
	for _, p := range []personnel.Person{
		{ID: "p1", ServiceNo: "S-1", FirstName: "Ana", LastName: "Kovac", GradeID: "g1", UnitID: "c1", Status: personnel.PersonActive, CreatedBy: "op-c1"},
		{ID: "p2", ServiceNo: "S-2", FirstName: "Ivo", LastName: "Horvat", GradeID: "g1", UnitID: "c1", Status: personnel.PersonActive, CreatedBy: "op-c1"},
		{ID: "p3", ServiceNo: "S-3", FirstName: "Mia", LastName: "Babic", GradeID: "g2", UnitID: "b2", Status: personnel.PersonActive, CreatedBy: "op-b2"},
	} {
		require.NoError(t, store.CreatePerson(ctx, p))
	}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		store:    store,
		renderer: &fakeRenderer{},
		docs:     &fakeDocuments{files: map[string][]byte{}},
		sender:   &fakeSender{},
		logs:     hook,
	}
	f.engine = &changerequest.Engine{
		Store:     store,
		Units:     store,
		People:    store,
		Users:     store,
		Auth:      personnel.NewAuthorizer(store),
		Renderer:  f.renderer,
		Documents: f.docs,
		Hasher:    plainHasher{},
		Sender:    f.sender,
		Passwords: func() (string, error) { return "TempPass1234", nil },
		Clock:     personnel.FixedClock(now),
		Log:       logger,
	}
	return f
}

func (f *fixture) create(t *testing.T, p personnel.Principal, typ changerequest.Type, personID personnel.PersonID, payload changerequest.Payload) *changerequest.ChangeRequest {
	t.Helper()
	in := changerequest.CreateInput{Type: typ, Payload: payload}
	if personID != "" {
		in.PersonID = personPtr(personID)
	}
	cr, err := f.engine.Create(context.Background(), p, in)
	require.NoError(t, err)
	return cr
}

func (f *fixture) person(t *testing.T, id personnel.PersonID) *personnel.Person {
	t.Helper()
	p, err := f.store.GetPerson(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) request(t *testing.T, id changerequest.RequestID) *changerequest.ChangeRequest {
	t.Helper()
	cr, err := f.store.GetRequest(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, cr)
	return cr
}

func assertCode(t *testing.T, err error, code personnel.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, personnel.CodeOf(err), "error: %v", err)
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_Transfer(t *testing.T) {
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeTransferPerson, "p1", changerequest.TransferPersonPayload{ToUnitID: "b2"})

	assert.Equal(t, changerequest.StatusPending, cr.Status)
	assert.Equal(t, personnel.UnitID("c1"), *cr.TargetUnitID, "targets the person's unit")
	assert.Nil(t, cr.TargetRole)
	assert.Equal(t, personnel.RoleOperator, cr.CreatedByRole)

	// Nothing changes until approval.
	assert.Equal(t, personnel.UnitID("c1"), f.person(t, "p1").UnitID)
}

func TestCreate_Rejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		principal personnel.Principal
		input     changerequest.CreateInput
		code      personnel.Code
	}{
		{
			name:      "unknown type",
			principal: operator,
			input:     changerequest.CreateInput{Type: "PROMOTE", PersonID: personPtr("p1"), Payload: changerequest.DeletePersonPayload{}},
			code:      personnel.CodeValidation,
		},
		{
			name:      "payload of another type",
			principal: operator,
			input:     changerequest.CreateInput{Type: changerequest.TypeDeletePerson, PersonID: personPtr("p1"), Payload: changerequest.DeactivatePersonPayload{}},
			code:      personnel.CodeValidation,
		},
		{
			name:      "missing person id",
			principal: operator,
			input:     changerequest.CreateInput{Type: changerequest.TypeDeletePerson, Payload: changerequest.DeletePersonPayload{}},
			code:      personnel.CodeValidation,
		},
		{
			name:      "unknown person",
			principal: operator,
			input:     changerequest.CreateInput{Type: changerequest.TypeDeletePerson, PersonID: personPtr("ghost"), Payload: changerequest.DeletePersonPayload{}},
			code:      personnel.CodeNotFound,
		},
		{
			name:      "person in another unit",
			principal: opB2,
			input:     changerequest.CreateInput{Type: changerequest.TypeDeletePerson, PersonID: personPtr("p1"), Payload: changerequest.DeletePersonPayload{}},
			code:      personnel.CodeForbidden,
		},
		{
			name:      "auditor",
			principal: auditor,
			input:     changerequest.CreateInput{Type: changerequest.TypeDeletePerson, PersonID: personPtr("p1"), Payload: changerequest.DeletePersonPayload{}},
			code:      personnel.CodeForbidden,
		},
		{
			name:      "transfer without destination",
			principal: operator,
			input:     changerequest.CreateInput{Type: changerequest.TypeTransferPerson, PersonID: personPtr("p1"), Payload: changerequest.TransferPersonPayload{}},
			code:      personnel.CodeValidation,
		},
		{
			name:      "transfer to unknown unit",
			principal: operator,
			input:     changerequest.CreateInput{Type: changerequest.TypeTransferPerson, PersonID: personPtr("p1"), Payload: changerequest.TransferPersonPayload{ToUnitID: "nowhere"}},
			code:      personnel.CodeNotFound,
		},
		{
			name:      "transfer to current unit",
			principal: operator,
			input:     changerequest.CreateInput{Type: changerequest.TypeChangeUnit, PersonID: personPtr("p1"), Payload: changerequest.ChangeUnitPayload{ToUnitID: "c1"}},
			code:      personnel.CodeValidation,
		},
		{
			name:      "empty patch",
			principal: operator,
			input:     changerequest.CreateInput{Type: changerequest.TypeUpdatePerson, PersonID: personPtr("p1"), Payload: changerequest.UpdatePersonPayload{Patch: personnel.PersonPatch{}}},
			code:      personnel.CodeValidation,
		},
		{
			name:      "operator requesting an account",
			principal: operator,
			input: changerequest.CreateInput{Type: changerequest.TypeCreateUser, Payload: changerequest.CreateUserPayload{
				User: changerequest.NewUser{Username: "x", Email: "x@example.org", Role: personnel.RoleOfficer},
			}},
			code: personnel.CodeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.engine.Create(ctx, tt.principal, tt.input)
			assertCode(t, err, tt.code)
		})
	}
}

func TestCreate_AlreadyPending(t *testing.T) {
	f := newFixture(t)
	f.create(t, operator, changerequest.TypeDeletePerson, "p1", changerequest.DeletePersonPayload{})

	_, err := f.engine.Create(context.Background(), officer, changerequest.CreateInput{
		Type: changerequest.TypeDeletePerson, PersonID: personPtr("p1"), Payload: changerequest.DeletePersonPayload{},
	})
	assertCode(t, err, personnel.CodeAlreadyPending)

	// A different type for the same person is allowed.
	f.create(t, operator, changerequest.TypeDeactivatePerson, "p1", changerequest.DeactivatePersonPayload{})
}

func TestCreate_CreateUserRoutesToAdmin(t *testing.T) {
	f := newFixture(t)
	cr := f.create(t, cmdC1, changerequest.TypeCreateUser, "", changerequest.CreateUserPayload{
		User: changerequest.NewUser{Username: "nofficer", Email: "n@example.org", Role: personnel.RoleOfficer},
	})

	require.NotNil(t, cr.TargetRole)
	assert.Equal(t, personnel.RoleAdmin, *cr.TargetRole)
	assert.Equal(t, personnel.UnitID("c1"), *cr.TargetUnitID)
	assert.Nil(t, cr.PersonID)

	payload := cr.Payload.(changerequest.CreateUserPayload)
	assert.Equal(t, personnel.UnitID("c1"), *payload.User.UnitID, "defaults to the requester's unit")
}

// =============================================================================
// READ & INBOX
// =============================================================================

func TestGet_Visibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeDeletePerson, "p1", changerequest.DeletePersonPayload{})
	id := string(cr.ID)

	for _, p := range []personnel.Principal{operator, admin, auditor, cmdB1, cmdC1} {
		_, err := f.engine.Get(ctx, p, id)
		assert.NoError(t, err, "principal %s", p.ID)
	}
	for _, p := range []personnel.Principal{officer, cmdB2, opB2} {
		_, err := f.engine.Get(ctx, p, id)
		assertCode(t, err, personnel.CodeForbidden)
	}

	_, err := f.engine.Get(ctx, admin, "not-a-uuid")
	assertCode(t, err, personnel.CodeValidation)

	_, err = f.engine.Get(ctx, admin, "7d444840-9dc0-11d1-b245-5ffdce74fad2")
	assertCode(t, err, personnel.CodeNotFound)
}

func TestListInbox(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, operator, changerequest.TypeDeletePerson, "p1", changerequest.DeletePersonPayload{})
	f.create(t, opB2, changerequest.TypeDeletePerson, "p3", changerequest.DeletePersonPayload{})
	f.create(t, cmdC1, changerequest.TypeCreateUser, "", changerequest.CreateUserPayload{
		User: changerequest.NewUser{Username: "nofficer", Email: "n@example.org", Role: personnel.RoleOfficer},
	})

	page, err := f.engine.ListInbox(ctx, cmdB1, changerequest.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total, "descendant scope without role-targeted requests")
	assert.Equal(t, personnel.PersonID("p1"), *page.Items[0].PersonID)

	page, err = f.engine.ListInbox(ctx, cmdB2, changerequest.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = f.engine.ListInbox(ctx, admin, changerequest.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	page, err = f.engine.ListInbox(ctx, admin, changerequest.Filter{Type: changerequest.TypeCreateUser})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = f.engine.ListInbox(ctx, operator, changerequest.Filter{})
	assertCode(t, err, personnel.CodeForbidden)

	_, err = f.engine.ListInbox(ctx, personnel.Principal{ID: "lost", Role: personnel.RoleCommander}, changerequest.Filter{})
	assertCode(t, err, personnel.CodeForbidden)
}

func TestListMine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, operator, changerequest.TypeDeletePerson, "p1", changerequest.DeletePersonPayload{})
	f.create(t, officer, changerequest.TypeDeactivatePerson, "p2", changerequest.DeactivatePersonPayload{})

	page, err := f.engine.ListMine(ctx, operator, changerequest.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, personnel.UserID("op-c1"), page.Items[0].CreatedBy)
}

// =============================================================================
// APPROVE
// =============================================================================

func TestApprove_PersonEffects(t *testing.T) {
	ctx := context.Background()

	t.Run("transfer moves the person", func(t *testing.T) {
		f := newFixture(t)
		cr := f.create(t, operator, changerequest.TypeTransferPerson, "p1", changerequest.TransferPersonPayload{ToUnitID: "b2"})

		res, err := f.engine.Approve(ctx, cmdB1, string(cr.ID), "ok")
		require.NoError(t, err)
		assert.Equal(t, changerequest.StatusApproved, res.Request.Status)
		assert.Equal(t, personnel.UserID("cmd-b1"), *res.Request.DecidedBy)
		assert.Equal(t, "ok", *res.Request.DecisionNote)
		assert.Equal(t, personnel.UnitID("b2"), f.person(t, "p1").UnitID)
		assert.Nil(t, res.EmailSent)

		require.NotNil(t, res.Request.Snapshot)
		assert.Equal(t, personnel.UnitID("c1"), res.Request.Snapshot.Before.UnitID)
		assert.Equal(t, personnel.UnitID("b2"), res.Request.Snapshot.After.UnitID)
	})

	t.Run("change grade", func(t *testing.T) {
		f := newFixture(t)
		cr := f.create(t, operator, changerequest.TypeChangeGrade, "p1", changerequest.ChangeGradePayload{NewGradeID: "g9"})
		_, err := f.engine.Approve(ctx, admin, string(cr.ID), "")
		require.NoError(t, err)
		assert.Equal(t, personnel.GradeID("g9"), f.person(t, "p1").GradeID)
	})

	t.Run("deactivate", func(t *testing.T) {
		f := newFixture(t)
		cr := f.create(t, operator, changerequest.TypeDeactivatePerson, "p1", changerequest.DeactivatePersonPayload{})
		_, err := f.engine.Approve(ctx, cmdC1, string(cr.ID), "")
		require.NoError(t, err)
		assert.Equal(t, personnel.PersonInactive, f.person(t, "p1").Status)
	})

	t.Run("delete removes the person", func(t *testing.T) {
		f := newFixture(t)
		cr := f.create(t, operator, changerequest.TypeDeletePerson, "p1", changerequest.DeletePersonPayload{Reason: "discharged"})
		res, err := f.engine.Approve(ctx, cmdB1, string(cr.ID), "")
		require.NoError(t, err)
		assert.Nil(t, f.person(t, "p1"))
		assert.NotNil(t, res.Request.Snapshot.Before)
		assert.Nil(t, res.Request.Snapshot.After)
	})

	t.Run("update applies the whole patch", func(t *testing.T) {
		f := newFixture(t)
		cr := f.create(t, operator, changerequest.TypeUpdatePerson, "p1", changerequest.UpdatePersonPayload{Patch: personnel.PersonPatch{
			personnel.FieldPhone:     strPtr("555-0100"),
			personnel.FieldLastName:  strPtr("Kovac-Horvat"),
			personnel.FieldBirthDate: strPtr("1990-05-01"),
		}})
		_, err := f.engine.Approve(ctx, cmdB1, string(cr.ID), "")
		require.NoError(t, err)

		p := f.person(t, "p1")
		assert.Equal(t, "555-0100", *p.Phone)
		assert.Equal(t, "Kovac-Horvat", p.LastName)
		assert.Equal(t, "1990-05-01", p.BirthDate.Format(personnel.DateLayout))
	})
}

func TestApprove_DocumentGenerated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeDeactivatePerson, "p1", changerequest.DeactivatePersonPayload{})

	res, err := f.engine.Approve(ctx, cmdB1, string(cr.ID), "")
	require.NoError(t, err)
	assert.Empty(t, res.DocumentError)
	require.NotNil(t, res.Request.Document)
	require.NotNil(t, res.Request.DocNo)

	rc, got, err := f.engine.Document(ctx, operator, string(cr.ID))
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Contains(t, string(data), "APPROVED")
	assert.Equal(t, *res.Request.DocNo, *got.DocNo)
}

func TestApprove_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeDeletePerson, "p1", changerequest.DeletePersonPayload{})

	for _, p := range []personnel.Principal{cmdB2, operator, officer, auditor} {
		_, err := f.engine.Approve(ctx, p, string(cr.ID), "")
		assertCode(t, err, personnel.CodeForbidden)
	}
	assert.NotNil(t, f.person(t, "p1"))
	assert.Equal(t, changerequest.StatusPending, f.request(t, cr.ID).Status)
}

func TestApprove_NotPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeDeactivatePerson, "p1", changerequest.DeactivatePersonPayload{})

	_, err := f.engine.Approve(ctx, admin, string(cr.ID), "")
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, admin, string(cr.ID), "")
	assertCode(t, err, personnel.CodeNotPending)
	_, err = f.engine.Reject(ctx, admin, string(cr.ID), "too late")
	assertCode(t, err, personnel.CodeNotPending)
	_, err = f.engine.Cancel(ctx, operator, string(cr.ID))
	assertCode(t, err, personnel.CodeNotPending)
}

func TestApprove_PersonGone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeDeactivatePerson, "p1", changerequest.DeactivatePersonPayload{})
	require.NoError(t, f.store.DeletePerson(ctx, "p1"))

	_, err := f.engine.Approve(ctx, admin, string(cr.ID), "")
	assertCode(t, err, personnel.CodePersonNotFound)
	assert.Equal(t, changerequest.StatusPending, f.request(t, cr.ID).Status)
}

func TestApprove_InvalidStoredPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := "8c1f4a36-0000-4000-8000-000000000001"
	bad := changerequest.ChangeRequest{
		ID: changerequest.RequestID(id), Type: changerequest.TypeTransferPerson, Status: changerequest.StatusPending,
		CreatedBy: "op-c1", CreatedByRole: personnel.RoleOperator, PersonID: personPtr("p1"), TargetUnitID: unitPtr("c1"),
		Payload:   changerequest.TransferPersonPayload{},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.store.CreateRequest(ctx, bad))

	_, err := f.engine.Approve(ctx, admin, id, "")
	assertCode(t, err, personnel.CodeInvalidPayload)

	missing := bad
	missing.ID = "8c1f4a36-0000-4000-8000-000000000002"
	missing.Payload = nil
	require.NoError(t, f.store.CreateRequest(ctx, missing))

	_, err = f.engine.Approve(ctx, admin, string(missing.ID), "")
	assertCode(t, err, personnel.CodeInvalidPayload)
}

func TestApprove_UniqueConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeUpdatePerson, "p1", changerequest.UpdatePersonPayload{Patch: personnel.PersonPatch{
		personnel.FieldServiceNo: strPtr("S-2"),
	}})

	_, err := f.engine.Approve(ctx, admin, string(cr.ID), "")
	assertCode(t, err, personnel.CodeServiceNoExists)

	assert.Equal(t, changerequest.StatusPending, f.request(t, cr.ID).Status, "status change rolled back with the effect")
	assert.Equal(t, "S-1", f.person(t, "p1").ServiceNo)
}

func TestApprove_ConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeChangeGrade, "p1", changerequest.ChangeGradePayload{NewGradeID: "g5"})

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		codes     []personnel.Code
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.engine.Approve(ctx, admin, string(cr.ID), "")
			} else {
				_, err = f.engine.Reject(ctx, cmdB1, string(cr.ID), "not now")
			}
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				codes = append(codes, personnel.CodeOf(err))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, c := range codes {
		assert.Equal(t, personnel.CodeNotPending, c)
	}
}

func TestApprove_DocumentFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.renderer.err = errors.New("renderer down")
	cr := f.create(t, operator, changerequest.TypeDeactivatePerson, "p1", changerequest.DeactivatePersonPayload{})

	res, err := f.engine.Approve(ctx, admin, string(cr.ID), "")
	require.NoError(t, err)
	assert.Equal(t, changerequest.StatusApproved, res.Request.Status)
	assert.Contains(t, res.DocumentError, "renderer down")
	assert.Equal(t, personnel.PersonInactive, f.person(t, "p1").Status)

	_, _, err = f.engine.Document(ctx, admin, string(cr.ID))
	assertCode(t, err, personnel.CodeDocumentNotFound)

	assert.NotEmpty(t, f.logs.AllEntries())
	assert.Equal(t, logrus.WarnLevel, f.logs.LastEntry().Level)

	// Regeneration fills the gap once rendering works again.
	f.renderer.err = nil
	regenerated, err := f.engine.RegenerateDocument(ctx, auditor, string(cr.ID))
	require.NoError(t, err)
	require.NotNil(t, regenerated.Document)
}

// =============================================================================
// CREATE_USER
// =============================================================================

func createUserRequest(t *testing.T, f *fixture, username string) *changerequest.ChangeRequest {
	return f.create(t, cmdC1, changerequest.TypeCreateUser, "", changerequest.CreateUserPayload{
		User: changerequest.NewUser{Username: username, Email: username + "@example.org", Role: personnel.RoleOfficer},
	})
}

func TestApproveCreateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := createUserRequest(t, f, "nofficer")

	_, err := f.engine.Approve(ctx, cmdC1, string(cr.ID), "")
	assertCode(t, err, personnel.CodeForbidden)
	_, err = f.engine.Approve(ctx, cmdB1, string(cr.ID), "")
	assertCode(t, err, personnel.CodeForbidden)

	res, err := f.engine.Approve(ctx, admin, string(cr.ID), "")
	require.NoError(t, err)
	require.NotNil(t, res.EmailSent)
	assert.True(t, *res.EmailSent)
	assert.Equal(t, "TempPass1234", res.TempPassword)

	user, err := f.store.GetUserByUsername(ctx, "nofficer")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "hashed:TempPass1234", user.PasswordHash)
	assert.Equal(t, personnel.UnitID("c1"), *user.UnitID)
	assert.True(t, user.MustChangePassword)
	assert.True(t, user.NeverExpires)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "C1 Company 1", f.sender.sent[0].UnitLabel)

	require.NotNil(t, res.Request.Snapshot.User)
	assert.Equal(t, "nofficer", res.Request.Snapshot.User.Username)
}

func TestApproveCreateUser_EmailFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sender.err = errors.New("smtp is not configured")
	cr := createUserRequest(t, f, "nofficer")

	res, err := f.engine.Approve(ctx, admin, string(cr.ID), "")
	require.NoError(t, err)
	require.NotNil(t, res.EmailSent)
	assert.False(t, *res.EmailSent)
	assert.Equal(t, "TempPass1234", res.TempPassword)

	user, err := f.store.GetUserByUsername(ctx, "nofficer")
	require.NoError(t, err)
	assert.NotNil(t, user, "account exists even when delivery fails")
}

func TestApproveCreateUser_UsernameTaken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.CreateUser(ctx, personnel.User{ID: "existing", Username: "NOfficer"}))
	cr := createUserRequest(t, f, "nofficer")

	_, err := f.engine.Approve(ctx, admin, string(cr.ID), "")
	assertCode(t, err, personnel.CodeUserExists)
	assert.Equal(t, changerequest.StatusPending, f.request(t, cr.ID).Status)
}

// =============================================================================
// REJECT & CANCEL
// =============================================================================

func TestReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeTransferPerson, "p1", changerequest.TransferPersonPayload{ToUnitID: "b2"})

	for _, note := range []string{"", "  ", "no"} {
		_, err := f.engine.Reject(ctx, cmdB1, string(cr.ID), note)
		assertCode(t, err, personnel.CodeValidation)
	}

	res, err := f.engine.Reject(ctx, cmdB1, string(cr.ID), "  wrong unit  ")
	require.NoError(t, err)
	assert.Equal(t, changerequest.StatusRejected, res.Request.Status)
	assert.Equal(t, "wrong unit", *res.Request.DecisionNote)
	assert.NotNil(t, res.Request.Document, "rejections are documented too")
	assert.Equal(t, personnel.UnitID("c1"), f.person(t, "p1").UnitID)
	assert.Nil(t, res.Request.Snapshot.After)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeDeletePerson, "p1", changerequest.DeletePersonPayload{})

	_, err := f.engine.Cancel(ctx, officer, string(cr.ID))
	assertCode(t, err, personnel.CodeForbidden)
	_, err = f.engine.Cancel(ctx, cmdB1, string(cr.ID))
	assertCode(t, err, personnel.CodeForbidden)

	cancelled, err := f.engine.Cancel(ctx, operator, string(cr.ID))
	require.NoError(t, err)
	assert.Equal(t, changerequest.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.Document)
	assert.Zero(t, f.renderer.calls)
	assert.NotNil(t, f.person(t, "p1"))

	// A cancelled request no longer blocks a new one.
	f.create(t, operator, changerequest.TypeDeletePerson, "p1", changerequest.DeletePersonPayload{})
}

func TestCancel_ByAdmin(t *testing.T) {
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeDeletePerson, "p1", changerequest.DeletePersonPayload{})

	cancelled, err := f.engine.Cancel(context.Background(), admin, string(cr.ID))
	require.NoError(t, err)
	assert.Equal(t, changerequest.StatusCancelled, cancelled.Status)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func TestRegenerateDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeDeactivatePerson, "p1", changerequest.DeactivatePersonPayload{})

	_, err := f.engine.RegenerateDocument(ctx, admin, string(cr.ID))
	assertCode(t, err, personnel.CodeValidation)

	res, err := f.engine.Approve(ctx, admin, string(cr.ID), "")
	require.NoError(t, err)
	first := *res.Request.DocNo

	again, err := f.engine.RegenerateDocument(ctx, operator, string(cr.ID))
	require.NoError(t, err)
	assert.Equal(t, first, *again.DocNo)
	assert.Equal(t, res.Request.Document.Path, again.Document.Path)
	assert.Equal(t, 2, f.renderer.calls)

	_, err = f.engine.RegenerateDocument(ctx, cmdB2, string(cr.ID))
	assertCode(t, err, personnel.CodeForbidden)
}

func TestDocument_MissingFromStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cr := f.create(t, operator, changerequest.TypeDeactivatePerson, "p1", changerequest.DeactivatePersonPayload{})
	res, err := f.engine.Approve(ctx, admin, string(cr.ID), "")
	require.NoError(t, err)

	delete(f.docs.files, res.Request.Document.Path)

	_, _, err = f.engine.Document(ctx, admin, string(cr.ID))
	assertCode(t, err, personnel.CodeDocumentNotFound)
}
