/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (units, people, users, change
  requests, daily reports) using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  personnel.UnitStore:   Unit forest (parent pointers)
  personnel.PersonStore: Personnel records
  personnel.UserStore:   Login accounts
  changerequest.Store:   Requests, decisions and document references
  attendance.Store:      Daily reports, justifications, categories

KEY TABLES:
  units:              Organizational forest, code unique (case-insensitive)
  people:             service_no and personal_number unique
  users:              username unique (case-insensitive)
  change_requests:    Payload and snapshot stored as JSON
  daily_reports:      Unique per (report_date, unit_id)
  justifications:     Rows on a report, cascade with the report and person
  absence_categories: Reference data

COMPARE-AND-SWAP:
  Deciding a request is a conditional update:
    UPDATE change_requests SET status = ? ... WHERE id = ? AND status = 'PENDING'
  Zero rows affected means another decision landed first and the whole
  transaction (including the person mutation) rolls back.

UNIQUENESS:
  Unique indexes are the authority. Violations surface as
  *personnel.UniqueViolationError naming the first violated column.

CONCURRENCY:
  Uses sync.RWMutex plus a single pooled connection. Transaction views never
  touch the pool, so reads inside WithTx see the transaction's own writes.

USAGE:
  store, err := sqlite.New("./data/personnel.db", factory.NewPayloadFactory())
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - personnel/store.go, changerequest/store.go, attendance/types.go: Interfaces
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/personnel-engine/attendance"
	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/factory"
	"github.com/warp/personnel-engine/personnel"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	payloads *factory.PayloadFactory
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, payloads *factory.PayloadFactory) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if payloads == nil {
		payloads = factory.NewPayloadFactory()
	}
	store := &Store{db: db, payloads: payloads}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL COLLATE NOCASE UNIQUE,
		name TEXT NOT NULL,
		parent_id TEXT REFERENCES units(id)
	);

	-- Resolver hot path: one query per tree level
	CREATE INDEX IF NOT EXISTS idx_units_parent ON units(parent_id);

	CREATE TABLE IF NOT EXISTS people (
		id TEXT PRIMARY KEY,
		service_no TEXT NOT NULL UNIQUE,
		personal_number TEXT UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		middle_name TEXT,
		birth_date TEXT,
		gender TEXT,
		city TEXT,
		address TEXT,
		phone TEXT,
		position TEXT,
		service_start_date TEXT,
		notes TEXT,
		photo_url TEXT,
		grade_id TEXT NOT NULL DEFAULT '',
		unit_id TEXT NOT NULL REFERENCES units(id),
		status TEXT NOT NULL,
		created_by TEXT NOT NULL,
		approved_by TEXT,
		approved_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_people_unit ON people(unit_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL COLLATE NOCASE UNIQUE,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		unit_id TEXT REFERENCES units(id),
		person_id TEXT REFERENCES people(id) ON DELETE SET NULL,
		password_hash TEXT NOT NULL,
		must_change_password BOOLEAN NOT NULL DEFAULT TRUE,
		never_expires BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- No foreign key to people: decided requests outlive deleted persons.
	CREATE TABLE IF NOT EXISTS change_requests (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_by TEXT NOT NULL,
		created_by_role TEXT NOT NULL,
		created_by_unit_id TEXT,
		person_id TEXT,
		target_unit_id TEXT,
		target_role TEXT,
		payload_json TEXT NOT NULL,
		decided_by TEXT,
		decided_at TEXT,
		decision_note TEXT,
		snapshot_json TEXT,
		doc_no TEXT,
		doc_path TEXT,
		doc_generated_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_change_requests_target
		ON change_requests(target_unit_id, status);
	CREATE INDEX IF NOT EXISTS idx_change_requests_creator
		ON change_requests(created_by, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_change_requests_person_pending
		ON change_requests(person_id, type) WHERE status = 'PENDING';

	CREATE TABLE IF NOT EXISTS absence_categories (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_reports (
		id TEXT PRIMARY KEY,
		report_date TEXT NOT NULL,
		unit_id TEXT NOT NULL REFERENCES units(id),
		created_by TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		decided_by TEXT,
		decided_at TEXT,
		decision_note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(report_date, unit_id)
	);

	CREATE TABLE IF NOT EXISTS justifications (
		id TEXT PRIMARY KEY,
		report_id TEXT NOT NULL REFERENCES daily_reports(id) ON DELETE CASCADE,
		person_id TEXT NOT NULL REFERENCES people(id) ON DELETE CASCADE,
		category_id TEXT NOT NULL REFERENCES absence_categories(id),
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		location TEXT,
		notes TEXT,
		emergency BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_justifications_report ON justifications(report_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UNITS (personnel.UnitStore interface)
// =============================================================================

func (s *Store) GetUnit(ctx context.Context, id personnel.UnitID) (*personnel.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT id, code, name, parent_id FROM units WHERE id = ?`, id)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *Store) ChildUnitIDs(ctx context.Context, parentIDs []personnel.UnitID) ([]personnel.UnitID, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id FROM units WHERE parent_id IN (` + placeholders(len(parentIDs)) + `) ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, toArgs(parentIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query child units: %w", err)
	}
	defer rows.Close()

	var ids []personnel.UnitID
	for rows.Next() {
		var id personnel.UnitID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan unit id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListUnits(ctx context.Context) ([]personnel.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, parent_id FROM units ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	units := make([]personnel.Unit, 0)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

func (s *Store) SaveUnit(ctx context.Context, u personnel.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (id, code, name, parent_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code = excluded.code, name = excluded.name, parent_id = excluded.parent_id
	`, u.ID, u.Code, u.Name, nullID(u.ParentID))
	if err != nil {
		return wrapWriteError("failed to save unit", err)
	}
	return nil
}

func scanUnit(row scanner) (*personnel.Unit, error) {
	var (
		u        personnel.Unit
		parentID sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Code, &u.Name, &parentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan unit: %w", err)
	}
	u.ParentID = idPtr[personnel.UnitID](parentID)
	return &u, nil
}

// =============================================================================
// PEOPLE (personnel.PersonStore interface)
// =============================================================================

const personColumns = `id, service_no, personal_number, first_name, last_name, middle_name,
	birth_date, gender, city, address, phone, position, service_start_date, notes, photo_url,
	grade_id, unit_id, status, created_by, approved_by, approved_at, rejected_by, rejected_at,
	rejection_reason, created_at, updated_at`

func (s *Store) GetPerson(ctx context.Context, id personnel.PersonID) (*personnel.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPerson(ctx, s.db, id)
}

func (s *Store) CreatePerson(ctx context.Context, p personnel.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createPerson(ctx, s.db, p)
}

func (s *Store) UpdatePerson(ctx context.Context, p personnel.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePerson(ctx, s.db, p)
}

func (s *Store) DeletePerson(ctx context.Context, id personnel.PersonID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePerson(ctx, s.db, id)
}

func (s *Store) ListPeople(ctx context.Context, unitIDs []personnel.UnitID) ([]personnel.Person, error) {
	if unitIDs != nil && len(unitIDs) == 0 {
		return []personnel.Person{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + personColumns + ` FROM people`
	var args []any
	if unitIDs != nil {
		query += ` WHERE unit_id IN (` + placeholders(len(unitIDs)) + `)`
		args = toArgs(unitIDs)
	}
	query += ` ORDER BY last_name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query people: %w", err)
	}
	defer rows.Close()

	people := make([]personnel.Person, 0)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, *p)
	}
	return people, rows.Err()
}

func getPerson(ctx context.Context, q querier, id personnel.PersonID) (*personnel.Person, error) {
	row := q.QueryRowContext(ctx, `SELECT `+personColumns+` FROM people WHERE id = ?`, id)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func createPerson(ctx context.Context, q querier, p personnel.Person) error {
	_, err := q.ExecContext(ctx, `INSERT INTO people (`+personColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		personArgs(p)...)
	if err != nil {
		return wrapWriteError("failed to insert person", err)
	}
	return nil
}

func updatePerson(ctx context.Context, q querier, p personnel.Person) error {
	args := personArgs(p)
	args = append(args[1:], p.ID)
	res, err := q.ExecContext(ctx, `
		UPDATE people SET
			service_no = ?, personal_number = ?, first_name = ?, last_name = ?, middle_name = ?,
			birth_date = ?, gender = ?, city = ?, address = ?, phone = ?, position = ?,
			service_start_date = ?, notes = ?, photo_url = ?, grade_id = ?, unit_id = ?,
			status = ?, created_by = ?, approved_by = ?, approved_at = ?, rejected_by = ?,
			rejected_at = ?, rejection_reason = ?, created_at = ?, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return wrapWriteError("failed to update person", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return personnel.Errorf(personnel.CodePersonNotFound, "person %s not found", p.ID)
	}
	return nil
}

func deletePerson(ctx context.Context, q querier, id personnel.PersonID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM people WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete person: %w", err)
	}
	return nil
}

func personArgs(p personnel.Person) []any {
	return []any{
		p.ID, p.ServiceNo, nullStr(p.PersonalNumber), p.FirstName, p.LastName, nullStr(p.MiddleName),
		nullDate(p.BirthDate), nullStr(p.Gender), nullStr(p.City), nullStr(p.Address), nullStr(p.Phone),
		nullStr(p.Position), nullDate(p.ServiceStartDate), nullStr(p.Notes), nullStr(p.PhotoURL),
		p.GradeID, p.UnitID, p.Status, p.CreatedBy,
		nullID(p.ApprovedBy), nullTime(p.ApprovedAt), nullID(p.RejectedBy), nullTime(p.RejectedAt),
		nullStr(p.RejectionReason), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	}
}

func scanPerson(row scanner) (*personnel.Person, error) {
	var (
		p                                             personnel.Person
		personalNumber, middleName, birthDate, gender sql.NullString
		city, address, phone, position, serviceStart  sql.NullString
		notes, photoURL, approvedBy, approvedAt       sql.NullString
		rejectedBy, rejectedAt, rejectionReason       sql.NullString
		createdAt, updatedAt                          string
	)
	err := row.Scan(
		&p.ID, &p.ServiceNo, &personalNumber, &p.FirstName, &p.LastName, &middleName,
		&birthDate, &gender, &city, &address, &phone, &position, &serviceStart, &notes, &photoURL,
		&p.GradeID, &p.UnitID, &p.Status, &p.CreatedBy, &approvedBy, &approvedAt,
		&rejectedBy, &rejectedAt, &rejectionReason, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan person: %w", err)
	}

	p.PersonalNumber = strPtr(personalNumber)
	p.MiddleName = strPtr(middleName)
	p.BirthDate = datePtr(birthDate)
	p.Gender = strPtr(gender)
	p.City = strPtr(city)
	p.Address = strPtr(address)
	p.Phone = strPtr(phone)
	p.Position = strPtr(position)
	p.ServiceStartDate = datePtr(serviceStart)
	p.Notes = strPtr(notes)
	p.PhotoURL = strPtr(photoURL)
	p.ApprovedBy = idPtr[personnel.UserID](approvedBy)
	p.ApprovedAt = timePtr(approvedAt)
	p.RejectedBy = idPtr[personnel.UserID](rejectedBy)
	p.RejectedAt = timePtr(rejectedAt)
	p.RejectionReason = strPtr(rejectionReason)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// =============================================================================
// USERS (personnel.UserStore interface)
// =============================================================================

const userColumns = `id, username, email, role, unit_id, person_id, password_hash,
	must_change_password, never_expires, created_at`

func (s *Store) GetUser(ctx context.Context, id personnel.UserID) (*personnel.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*personnel.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (s *Store) CreateUser(ctx context.Context, u personnel.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createUser(ctx, s.db, u)
}

func (s *Store) queryUser(ctx context.Context, query string, args ...any) (*personnel.User, error) {
	var (
		u                personnel.User
		unitID, personID sql.NullString
		createdAt        string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.Role, &unitID, &personID, &u.PasswordHash,
		&u.MustChangePassword, &u.NeverExpires, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.UnitID = idPtr[personnel.UnitID](unitID)
	u.PersonID = idPtr[personnel.PersonID](personID)
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func createUser(ctx context.Context, q querier, u personnel.User) error {
	_, err := q.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.Role, nullID(u.UnitID), nullID(u.PersonID), u.PasswordHash,
		u.MustChangePassword, u.NeverExpires, formatTime(u.CreatedAt),
	)
	if err != nil {
		return wrapWriteError("failed to insert user", err)
	}
	return nil
}

// =============================================================================
// CHANGE REQUESTS (changerequest.Store interface)
// =============================================================================

const requestColumns = `id, type, status, created_by, created_by_role, created_by_unit_id,
	person_id, target_unit_id, target_role, payload_json, decided_by, decided_at, decision_note,
	snapshot_json, doc_no, doc_path, doc_generated_at, created_at, updated_at`

func (s *Store) CreateRequest(ctx context.Context, cr changerequest.ChangeRequest) error {
	payloadJSON, err := s.payloads.Encode(cr.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO change_requests
		(id, type, status, created_by, created_by_role, created_by_unit_id, person_id,
		 target_unit_id, target_role, payload_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cr.ID, cr.Type, cr.Status, cr.CreatedBy, cr.CreatedByRole, nullID(cr.CreatedByUnitID),
		nullID(cr.PersonID), nullID(cr.TargetUnitID), nullID(cr.TargetRole), string(payloadJSON),
		formatTime(cr.CreatedAt), formatTime(cr.UpdatedAt),
	)
	if err != nil {
		return wrapWriteError("failed to insert change request", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id changerequest.RequestID) (*changerequest.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM change_requests WHERE id = ?`, id)
	cr, err := s.scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cr, err
}

func (s *Store) HasPending(ctx context.Context, personID personnel.PersonID, t changerequest.Type) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_requests WHERE person_id = ? AND type = ? AND status = 'PENDING'`,
		personID, t,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pending requests: %w", err)
	}
	return count > 0, nil
}

func (s *Store) ListRequests(ctx context.Context, f changerequest.Filter) (*changerequest.Page, error) {
	f = f.Normalize()
	page := &changerequest.Page{Items: []changerequest.ChangeRequest{}, Page: f.Page, PageSize: f.PageSize}
	if f.TargetUnitIDs != nil && len(f.TargetUnitIDs) == 0 {
		return page, nil
	}

	var (
		where []string
		args  []any
	)
	if f.CreatedBy != nil {
		where = append(where, "created_by = ?")
		args = append(args, *f.CreatedBy)
	}
	if f.TargetUnitIDs != nil {
		where = append(where, "target_unit_id IN ("+placeholders(len(f.TargetUnitIDs))+")")
		args = append(args, toArgs(f.TargetUnitIDs)...)
	}
	if f.ExcludeRoleTargeted {
		where = append(where, "target_role IS NULL")
	}
	switch f.Status {
	case "":
	case changerequest.StatusArchive:
		where = append(where, "status IN ('APPROVED', 'REJECTED', 'CANCELLED')")
	default:
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_requests`+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count change requests: %w", err)
	}

	query := `SELECT ` + requestColumns + ` FROM change_requests` + clause +
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, f.PageSize, f.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		cr, err := s.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *cr)
	}
	return page, rows.Err()
}

func (s *Store) SetDocument(ctx context.Context, id changerequest.RequestID, docNo string, ref changerequest.DocumentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE change_requests SET doc_no = ?, doc_path = ?, doc_generated_at = ? WHERE id = ?`,
		docNo, ref.Path, formatTime(ref.GeneratedAt), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return personnel.Errorf(personnel.CodeNotFound, "request %s not found", id)
	}
	return nil
}

func (s *Store) ListUndocumented(ctx context.Context, limit int) ([]changerequest.ChangeRequest, error) {
	if limit <= 0 {
		limit = changerequest.MaxPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM change_requests
		WHERE status IN ('APPROVED', 'REJECTED') AND doc_path IS NULL
		ORDER BY decided_at ASC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query undocumented requests: %w", err)
	}
	defer rows.Close()

	var out []changerequest.ChangeRequest
	for rows.Next() {
		cr, err := s.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cr)
	}
	return out, rows.Err()
}

func transition(ctx context.Context, q querier, id changerequest.RequestID, d changerequest.Decision) error {
	var snapshot sql.NullString
	if d.Snapshot != nil {
		data, err := json.Marshal(d.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		snapshot = sql.NullString{String: string(data), Valid: true}
	}

	res, err := q.ExecContext(ctx, `
		UPDATE change_requests
		SET status = ?, decided_by = ?, decided_at = ?, decision_note = ?, snapshot_json = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'`,
		d.Status, d.DecidedBy, formatTime(d.DecidedAt), nullStr(d.Note), snapshot, formatTime(d.DecidedAt), id,
	)
	if err != nil {
		return fmt.Errorf("failed to transition request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return personnel.ErrNotPending
	}
	return nil
}

func (s *Store) scanRequest(row scanner) (*changerequest.ChangeRequest, error) {
	var (
		cr                                        changerequest.ChangeRequest
		createdByUnit, personID, targetUnit, role sql.NullString
		payloadJSON                               string
		decidedBy, decidedAt, note, snapshotJSON  sql.NullString
		docNo, docPath, docGeneratedAt            sql.NullString
		createdAt, updatedAt                      string
	)
	err := row.Scan(
		&cr.ID, &cr.Type, &cr.Status, &cr.CreatedBy, &cr.CreatedByRole, &createdByUnit,
		&personID, &targetUnit, &role, &payloadJSON, &decidedBy, &decidedAt, &note,
		&snapshotJSON, &docNo, &docPath, &docGeneratedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan change request: %w", err)
	}

	cr.CreatedByUnitID = idPtr[personnel.UnitID](createdByUnit)
	cr.PersonID = idPtr[personnel.PersonID](personID)
	cr.TargetUnitID = idPtr[personnel.UnitID](targetUnit)
	cr.TargetRole = idPtr[personnel.Role](role)
	cr.DecidedBy = idPtr[personnel.UserID](decidedBy)
	cr.DecidedAt = timePtr(decidedAt)
	cr.DecisionNote = strPtr(note)
	cr.DocNo = strPtr(docNo)
	cr.CreatedAt = parseTime(createdAt)
	cr.UpdatedAt = parseTime(updatedAt)

	// An unreadable payload is left nil; approval reports it as INVALID_PAYLOAD.
	if payload, err := s.payloads.Decode(cr.Type, []byte(payloadJSON)); err == nil {
		cr.Payload = payload
	}
	if snapshotJSON.Valid && snapshotJSON.String != "" {
		var snap changerequest.Snapshot
		if err := json.Unmarshal([]byte(snapshotJSON.String), &snap); err == nil {
			cr.Snapshot = &snap
		}
	}
	if docPath.Valid {
		cr.Document = &changerequest.DocumentRef{Path: docPath.String, GeneratedAt: parseTime(docGeneratedAt.String)}
	}
	return &cr, nil
}

// =============================================================================
// TRANSACTIONAL STORE (changerequest.Tx interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx changerequest.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetPerson(ctx context.Context, id personnel.PersonID) (*personnel.Person, error) {
	return getPerson(ctx, ts.tx, id)
}

func (ts *txStore) CreatePerson(ctx context.Context, p personnel.Person) error {
	return createPerson(ctx, ts.tx, p)
}

func (ts *txStore) UpdatePerson(ctx context.Context, p personnel.Person) error {
	return updatePerson(ctx, ts.tx, p)
}

func (ts *txStore) DeletePerson(ctx context.Context, id personnel.PersonID) error {
	return deletePerson(ctx, ts.tx, id)
}

func (ts *txStore) CreateUser(ctx context.Context, u personnel.User) error {
	return createUser(ctx, ts.tx, u)
}

func (ts *txStore) Transition(ctx context.Context, id changerequest.RequestID, d changerequest.Decision) error {
	return transition(ctx, ts.tx, id, d)
}

// =============================================================================
// ATTENDANCE (attendance.Store interface)
// =============================================================================

const reportColumns = `id, report_date, unit_id, created_by, status, decided_by, decided_at,
	decision_note, created_at, updated_at`

func (s *Store) CreateReport(ctx context.Context, r attendance.DailyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO daily_reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Date.Format(personnel.DateLayout), r.UnitID, r.CreatedBy, r.Status,
		nullID(r.DecidedBy), nullTime(r.DecidedAt), nullStr(r.DecisionNote),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return wrapWriteError("failed to insert report", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, id attendance.ReportID) (*attendance.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r                          attendance.DailyReport
		date, createdAt, updatedAt string
		decidedBy, decidedAt, note sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM daily_reports WHERE id = ?`, id).Scan(
		&r.ID, &date, &r.UnitID, &r.CreatedBy, &r.Status, &decidedBy, &decidedAt, &note, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}
	r.Date = parseDate(date)
	r.DecidedBy = idPtr[personnel.UserID](decidedBy)
	r.DecidedAt = timePtr(decidedAt)
	r.DecisionNote = strPtr(note)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func (s *Store) UpdateReport(ctx context.Context, r attendance.DailyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE daily_reports
		SET status = ?, decided_by = ?, decided_at = ?, decision_note = ?, updated_at = ?
		WHERE id = ?`,
		r.Status, nullID(r.DecidedBy), nullTime(r.DecidedAt), nullStr(r.DecisionNote), formatTime(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return personnel.Errorf(personnel.CodeNotFound, "report %s not found", r.ID)
	}
	return nil
}

const justificationColumns = `id, report_id, person_id, category_id, from_date, to_date,
	location, notes, emergency, created_at`

func (s *Store) AddJustification(ctx context.Context, j attendance.Justification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO justifications (`+justificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.ReportID, j.PersonID, j.CategoryID,
		j.From.Format(personnel.DateLayout), j.To.Format(personnel.DateLayout),
		nullString(j.Location), nullString(j.Notes), j.Emergency, formatTime(j.CreatedAt),
	)
	if err != nil {
		return wrapWriteError("failed to insert justification", err)
	}
	return nil
}

func (s *Store) GetJustification(ctx context.Context, id attendance.JustificationID) (*attendance.Justification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+justificationColumns+` FROM justifications WHERE id = ?`, id)
	j, err := scanJustification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (s *Store) UpdateJustification(ctx context.Context, j attendance.Justification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE justifications
		SET person_id = ?, category_id = ?, from_date = ?, to_date = ?, location = ?, notes = ?, emergency = ?
		WHERE id = ?`,
		j.PersonID, j.CategoryID, j.From.Format(personnel.DateLayout), j.To.Format(personnel.DateLayout),
		nullString(j.Location), nullString(j.Notes), j.Emergency, j.ID,
	)
	if err != nil {
		return wrapWriteError("failed to update justification", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return personnel.Errorf(personnel.CodeNotFound, "justification %s not found", j.ID)
	}
	return nil
}

func (s *Store) DeleteJustification(ctx context.Context, id attendance.JustificationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM justifications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete justification: %w", err)
	}
	return nil
}

func (s *Store) ListJustifications(ctx context.Context, reportID attendance.ReportID) ([]attendance.Justification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+justificationColumns+` FROM justifications
		WHERE report_id = ? ORDER BY created_at, id`, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query justifications: %w", err)
	}
	defer rows.Close()

	out := make([]attendance.Justification, 0)
	for rows.Next() {
		j, err := scanJustification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func scanJustification(row scanner) (*attendance.Justification, error) {
	var (
		j                   attendance.Justification
		from, to, createdAt string
		location, notes     sql.NullString
	)
	err := row.Scan(&j.ID, &j.ReportID, &j.PersonID, &j.CategoryID, &from, &to, &location, &notes, &j.Emergency, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan justification: %w", err)
	}
	j.From = parseDate(from)
	j.To = parseDate(to)
	j.Location = location.String
	j.Notes = notes.String
	j.CreatedAt = parseTime(createdAt)
	return &j, nil
}

func (s *Store) GetCategory(ctx context.Context, id attendance.CategoryID) (*attendance.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c attendance.Category
	err := s.db.QueryRowContext(ctx, `SELECT id, code, name FROM absence_categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Code, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]attendance.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name FROM absence_categories ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	out := make([]attendance.Category, 0)
	for rows.Next() {
		var c attendance.Category
		if err := rows.Scan(&c.ID, &c.Code, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveCategory(ctx context.Context, c attendance.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO absence_categories (id, code, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code = excluded.code, name = excluded.name`,
		c.ID, c.Code, c.Name,
	)
	if err != nil {
		return wrapWriteError("failed to save category", err)
	}
	return nil
}

// =============================================================================
// RESET
// =============================================================================

// Reset clears all data (for demo scenarios and tests). Children are
// deleted before their parents so foreign keys stay satisfied.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"justifications",
		"daily_reports",
		"absence_categories",
		"change_requests",
		"users",
		"people",
		"units",
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset: %w", err)
	}
	defer tx.Rollback()

	// Units reference each other; detach before deleting.
	if _, err := tx.ExecContext(ctx, "UPDATE units SET parent_id = NULL"); err != nil {
		return fmt.Errorf("failed to detach units: %w", err)
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toArgs[T ~string](ids []T) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	return args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// parseDate reads a calendar day as midnight UTC.
func parseDate(s string) time.Time {
	t, _ := time.Parse(personnel.DateLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullID[T ~string](id *T) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(personnel.DateLayout), Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func idPtr[T ~string](ns sql.NullString) *T {
	if !ns.Valid {
		return nil
	}
	v := T(ns.String)
	return &v
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func datePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseDate(ns.String)
	return &t
}

// wrapWriteError converts unique violations into *personnel.UniqueViolationError.
func wrapWriteError(msg string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		table, field := uniqueColumn(sqliteErr.Error())
		return fmt.Errorf("%s: %w", msg, &personnel.UniqueViolationError{Table: table, Field: field})
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// uniqueColumn parses "UNIQUE constraint failed: people.service_no" (and the
// multi-column form) into its first table and column.
func uniqueColumn(msg string) (table, field string) {
	const prefix = "constraint failed: "
	i := strings.Index(msg, prefix)
	if i < 0 {
		return "", ""
	}
	first := strings.TrimSpace(strings.SplitN(msg[i+len(prefix):], ",", 2)[0])
	table, field, found := strings.Cut(first, ".")
	if !found {
		return "", first
	}
	return table, field
}

// Compile-time interface checks.
var (
	_ personnel.UnitStore   = (*Store)(nil)
	_ personnel.PersonStore = (*Store)(nil)
	_ personnel.UserStore   = (*Store)(nil)
	_ attendance.Store      = (*Store)(nil)
	_ changerequest.Store   = (*Store)(nil)
	_ changerequest.Tx      = (*txStore)(nil)
)
