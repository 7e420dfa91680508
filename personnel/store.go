/*
store.go - Persistence interfaces for units, people and users

PURPOSE:
  Defines the interface between the personnel policies and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  UnitReader:  What the unit tree resolver needs (one query per level)
  UnitStore:   Unit reads plus writes for unit administration
  PersonStore: Person CRUD used by the people service and approved requests
  UserStore:   Account lookups and creation for credential provisioning

NOT-FOUND CONTRACT:
  Getters return (nil, nil) when the row does not exist. Callers decide
  which result code a missing row maps to (NOT_FOUND vs PERSON_NOT_FOUND).

UNIQUENESS:
  Writes that collide with a unique index return *UniqueViolationError.
  The store never checks-then-writes; the index is the authority.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: In-memory for testing

SEE ALSO:
  - unittree.go: Uses UnitReader
  - changerequest/store.go: Request persistence and the transactional view
*/
package personnel

import "context"

// =============================================================================
// UNITS
// =============================================================================

// UnitReader is the read side the resolver needs.
type UnitReader interface {
	// GetUnit returns the unit or nil if it does not exist.
	GetUnit(ctx context.Context, id UnitID) (*Unit, error)

	// ChildUnitIDs returns ids of all units whose parent is in parentIDs.
	ChildUnitIDs(ctx context.Context, parentIDs []UnitID) ([]UnitID, error)
}

type UnitStore interface {
	UnitReader

	ListUnits(ctx context.Context) ([]Unit, error)

	// SaveUnit inserts or updates a unit. Code collisions return
	// *UniqueViolationError.
	SaveUnit(ctx context.Context, u Unit) error
}

// =============================================================================
// PEOPLE
// =============================================================================

type PersonReader interface {
	GetPerson(ctx context.Context, id PersonID) (*Person, error)
}

type PersonWriter interface {
	// CreatePerson inserts a new person.
	CreatePerson(ctx context.Context, p Person) error

	// UpdatePerson overwrites every column of an existing person.
	UpdatePerson(ctx context.Context, p Person) error

	// DeletePerson hard-deletes the person and its dependent rows.
	DeletePerson(ctx context.Context, id PersonID) error
}

type PersonStore interface {
	PersonReader
	PersonWriter

	// ListPeople returns people in the given units; nil means all units.
	ListPeople(ctx context.Context, unitIDs []UnitID) ([]Person, error)
}

// =============================================================================
// USERS
// =============================================================================

type UserReader interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

type UserWriter interface {
	// CreateUser inserts a user. A taken username returns
	// *UniqueViolationError{Field: "username"}.
	CreateUser(ctx context.Context, u User) error
}

type UserStore interface {
	UserReader
	UserWriter
}
