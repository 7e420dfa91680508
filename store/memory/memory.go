// Package memory provides an in-memory implementation of every store
// interface, for tests and demos.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/personnel-engine/attendance"
	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
}

// state is everything WithTx snapshots and restores.
type state struct {
	units          map[personnel.UnitID]personnel.Unit
	people         map[personnel.PersonID]personnel.Person
	users          map[personnel.UserID]personnel.User
	requests       map[changerequest.RequestID]changerequest.ChangeRequest
	reports        map[attendance.ReportID]attendance.DailyReport
	justifications map[attendance.JustificationID]attendance.Justification
	categories     map[attendance.CategoryID]attendance.Category
}

func NewMemory() *Memory {
	return &Memory{state: state{
		units:          make(map[personnel.UnitID]personnel.Unit),
		people:         make(map[personnel.PersonID]personnel.Person),
		users:          make(map[personnel.UserID]personnel.User),
		requests:       make(map[changerequest.RequestID]changerequest.ChangeRequest),
		reports:        make(map[attendance.ReportID]attendance.DailyReport),
		justifications: make(map[attendance.JustificationID]attendance.Justification),
		categories:     make(map[attendance.CategoryID]attendance.Category),
	}}
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	fresh := NewMemory()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = fresh.state
	return nil
}

func unique(table, field string) error {
	return &personnel.UniqueViolationError{Table: table, Field: field}
}

// =============================================================================
// UNITS
// =============================================================================

func (m *Memory) GetUnit(_ context.Context, id personnel.UnitID) (*personnel.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) ChildUnitIDs(_ context.Context, parentIDs []personnel.UnitID) ([]personnel.UnitID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	parents := make(map[personnel.UnitID]bool, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = true
	}
	var out []personnel.UnitID
	for _, u := range m.units {
		if u.ParentID != nil && parents[*u.ParentID] {
			out = append(out, u.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) ListUnits(_ context.Context) ([]personnel.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]personnel.Unit, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) SaveUnit(_ context.Context, u personnel.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.units {
		if other.ID != u.ID && strings.EqualFold(other.Code, u.Code) {
			return unique("units", "code")
		}
	}
	m.units[u.ID] = u
	return nil
}

// =============================================================================
// PEOPLE
// =============================================================================

func (m *Memory) GetPerson(_ context.Context, id personnel.PersonID) (*personnel.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPersonLocked(id), nil
}

func (m *Memory) CreatePerson(_ context.Context, p personnel.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPersonLocked(p)
}

func (m *Memory) UpdatePerson(_ context.Context, p personnel.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePersonLocked(p)
}

func (m *Memory) DeletePerson(_ context.Context, id personnel.PersonID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletePersonLocked(id)
	return nil
}

func (m *Memory) ListPeople(_ context.Context, unitIDs []personnel.UnitID) ([]personnel.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var allowed map[personnel.UnitID]bool
	if unitIDs != nil {
		allowed = make(map[personnel.UnitID]bool, len(unitIDs))
		for _, id := range unitIDs {
			allowed[id] = true
		}
	}

	out := make([]personnel.Person, 0)
	for _, p := range m.people {
		if allowed == nil || allowed[p.UnitID] {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) getPersonLocked(id personnel.PersonID) *personnel.Person {
	p, ok := m.people[id]
	if !ok {
		return nil
	}
	return p.Clone()
}

func (m *Memory) createPersonLocked(p personnel.Person) error {
	if err := m.checkPersonUniqueLocked(p); err != nil {
		return err
	}
	m.people[p.ID] = *p.Clone()
	return nil
}

func (m *Memory) updatePersonLocked(p personnel.Person) error {
	if _, ok := m.people[p.ID]; !ok {
		return personnel.Errorf(personnel.CodePersonNotFound, "person %s not found", p.ID)
	}
	if err := m.checkPersonUniqueLocked(p); err != nil {
		return err
	}
	m.people[p.ID] = *p.Clone()
	return nil
}

// deletePersonLocked removes the person with its justification rows and
// unlinks any account.
func (m *Memory) deletePersonLocked(id personnel.PersonID) {
	delete(m.people, id)
	for jid, j := range m.justifications {
		if j.PersonID == id {
			delete(m.justifications, jid)
		}
	}
	for uid, u := range m.users {
		if u.PersonID != nil && *u.PersonID == id {
			u.PersonID = nil
			m.users[uid] = u
		}
	}
}

func (m *Memory) checkPersonUniqueLocked(p personnel.Person) error {
	for _, other := range m.people {
		if other.ID == p.ID {
			continue
		}
		if other.ServiceNo == p.ServiceNo {
			return unique("people", "service_no")
		}
		if p.PersonalNumber != nil && other.PersonalNumber != nil && *p.PersonalNumber == *other.PersonalNumber {
			return unique("people", "personal_number")
		}
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id personnel.UserID) (*personnel.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*personnel.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateUser(_ context.Context, u personnel.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUserLocked(u)
}

func (m *Memory) createUserLocked(u personnel.User) error {
	for _, other := range m.users {
		if strings.EqualFold(other.Username, u.Username) {
			return unique("users", "username")
		}
	}
	m.users[u.ID] = u
	return nil
}

// =============================================================================
// CHANGE REQUESTS
// =============================================================================

func (m *Memory) CreateRequest(_ context.Context, cr changerequest.ChangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[cr.ID] = cr
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id changerequest.RequestID) (*changerequest.ChangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cr, ok := m.requests[id]
	if !ok {
		return nil, nil
	}
	return &cr, nil
}

func (m *Memory) HasPending(_ context.Context, personID personnel.PersonID, t changerequest.Type) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cr := range m.requests {
		if cr.Status == changerequest.StatusPending && cr.Type == t &&
			cr.PersonID != nil && *cr.PersonID == personID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListRequests(_ context.Context, f changerequest.Filter) (*changerequest.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f = f.Normalize()
	var targets map[personnel.UnitID]bool
	if f.TargetUnitIDs != nil {
		targets = make(map[personnel.UnitID]bool, len(f.TargetUnitIDs))
		for _, id := range f.TargetUnitIDs {
			targets[id] = true
		}
	}

	matched := make([]changerequest.ChangeRequest, 0)
	for _, cr := range m.requests {
		if f.CreatedBy != nil && cr.CreatedBy != *f.CreatedBy {
			continue
		}
		if targets != nil && (cr.TargetUnitID == nil || !targets[*cr.TargetUnitID]) {
			continue
		}
		if f.ExcludeRoleTargeted && cr.TargetRole != nil {
			continue
		}
		if !statusMatches(f.Status, cr.Status) {
			continue
		}
		if f.Type != "" && cr.Type != f.Type {
			continue
		}
		matched = append(matched, cr)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	page := &changerequest.Page{Total: len(matched), Page: f.Page, PageSize: f.PageSize}
	start := f.Offset()
	if start < len(matched) {
		end := start + f.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		page.Items = matched[start:end]
	} else {
		page.Items = []changerequest.ChangeRequest{}
	}
	return page, nil
}

func statusMatches(filter, status changerequest.Status) bool {
	switch filter {
	case "":
		return true
	case changerequest.StatusArchive:
		return status.Terminal()
	default:
		return filter == status
	}
}

func (m *Memory) SetDocument(_ context.Context, id changerequest.RequestID, docNo string, ref changerequest.DocumentRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cr, ok := m.requests[id]
	if !ok {
		return personnel.Errorf(personnel.CodeNotFound, "request %s not found", id)
	}
	cr.DocNo = &docNo
	cr.Document = &ref
	m.requests[id] = cr
	return nil
}

func (m *Memory) ListUndocumented(_ context.Context, limit int) ([]changerequest.ChangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []changerequest.ChangeRequest
	for _, cr := range m.requests {
		if cr.Document == nil &&
			(cr.Status == changerequest.StatusApproved || cr.Status == changerequest.StatusRejected) {
			out = append(out, cr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return decidedAt(out[i]).Before(decidedAt(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func decidedAt(cr changerequest.ChangeRequest) time.Time {
	if cr.DecidedAt != nil {
		return *cr.DecidedAt
	}
	return cr.CreatedAt
}

func (m *Memory) transitionLocked(id changerequest.RequestID, d changerequest.Decision) error {
	cr, ok := m.requests[id]
	if !ok {
		return personnel.Errorf(personnel.CodeNotFound, "request %s not found", id)
	}
	if cr.Status != changerequest.StatusPending {
		return personnel.ErrNotPending
	}
	cr.Status = d.Status
	cr.DecidedBy = &d.DecidedBy
	cr.DecidedAt = &d.DecidedAt
	cr.DecisionNote = d.Note
	cr.Snapshot = d.Snapshot
	cr.UpdatedAt = d.DecidedAt
	m.requests[id] = cr
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(changerequest.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) snapshot() state {
	return state{
		units:          copyMap(m.units),
		people:         copyMap(m.people),
		users:          copyMap(m.users),
		requests:       copyMap(m.requests),
		reports:        copyMap(m.reports),
		justifications: copyMap(m.justifications),
		categories:     copyMap(m.categories),
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// txView runs with the parent's write lock already held.
type txView struct {
	parent *Memory
}

func (tv *txView) GetPerson(_ context.Context, id personnel.PersonID) (*personnel.Person, error) {
	return tv.parent.getPersonLocked(id), nil
}

func (tv *txView) CreatePerson(_ context.Context, p personnel.Person) error {
	return tv.parent.createPersonLocked(p)
}

func (tv *txView) UpdatePerson(_ context.Context, p personnel.Person) error {
	return tv.parent.updatePersonLocked(p)
}

func (tv *txView) DeletePerson(_ context.Context, id personnel.PersonID) error {
	tv.parent.deletePersonLocked(id)
	return nil
}

func (tv *txView) CreateUser(_ context.Context, u personnel.User) error {
	return tv.parent.createUserLocked(u)
}

func (tv *txView) Transition(_ context.Context, id changerequest.RequestID, d changerequest.Decision) error {
	return tv.parent.transitionLocked(id, d)
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (m *Memory) CreateReport(_ context.Context, r attendance.DailyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.reports {
		if other.UnitID == r.UnitID && personnel.SameDay(other.Date, r.Date) {
			return unique("daily_reports", "report_date")
		}
	}
	m.reports[r.ID] = r
	return nil
}

func (m *Memory) GetReport(_ context.Context, id attendance.ReportID) (*attendance.DailyReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) UpdateReport(_ context.Context, r attendance.DailyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; !ok {
		return personnel.Errorf(personnel.CodeNotFound, "report %s not found", r.ID)
	}
	m.reports[r.ID] = r
	return nil
}

func (m *Memory) AddJustification(_ context.Context, j attendance.Justification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.justifications[j.ID] = j
	return nil
}

func (m *Memory) GetJustification(_ context.Context, id attendance.JustificationID) (*attendance.Justification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.justifications[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (m *Memory) UpdateJustification(_ context.Context, j attendance.Justification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.justifications[j.ID]; !ok {
		return personnel.Errorf(personnel.CodeNotFound, "justification %s not found", j.ID)
	}
	m.justifications[j.ID] = j
	return nil
}

func (m *Memory) DeleteJustification(_ context.Context, id attendance.JustificationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.justifications, id)
	return nil
}

func (m *Memory) ListJustifications(_ context.Context, reportID attendance.ReportID) ([]attendance.Justification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]attendance.Justification, 0)
	for _, j := range m.justifications {
		if j.ReportID == reportID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetCategory(_ context.Context, id attendance.CategoryID) (*attendance.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListCategories(_ context.Context) ([]attendance.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]attendance.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) SaveCategory(_ context.Context, c attendance.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.categories {
		if other.ID != c.ID && other.Code == c.Code {
			return unique("absence_categories", "code")
		}
	}
	m.categories[c.ID] = c
	return nil
}

// Compile-time interface checks.
var (
	_ personnel.UnitStore   = (*Memory)(nil)
	_ personnel.PersonStore = (*Memory)(nil)
	_ personnel.UserStore   = (*Memory)(nil)
	_ attendance.Store      = (*Memory)(nil)
	_ changerequest.Store   = (*Memory)(nil)
	_ changerequest.Tx      = (*txView)(nil)
)
