package changerequest

import (
	"context"

	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// STORE - Request persistence
// =============================================================================

// Store persists change requests. GetRequest returns (nil, nil) for an
// unknown id.
type Store interface {
	CreateRequest(ctx context.Context, cr ChangeRequest) error
	GetRequest(ctx context.Context, id RequestID) (*ChangeRequest, error)

	// HasPending reports whether a PENDING request of this type exists for
	// the person.
	HasPending(ctx context.Context, personID personnel.PersonID, t Type) (bool, error)

	ListRequests(ctx context.Context, f Filter) (*Page, error)

	// SetDocument records (or overwrites) the audit document reference.
	SetDocument(ctx context.Context, id RequestID, docNo string, ref DocumentRef) error

	// ListUndocumented returns decided (APPROVED/REJECTED) requests with no
	// document reference, oldest first.
	ListUndocumented(ctx context.Context, limit int) ([]ChangeRequest, error)

	// WithTx runs fn in one database transaction. If fn returns an error
	// every write made through tx is rolled back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used while deciding a request: the status
// compare-and-swap and the type-specific effect commit together.
type Tx interface {
	personnel.PersonReader
	personnel.PersonWriter
	personnel.UserWriter

	// Transition moves the request out of PENDING. If the stored status is
	// no longer PENDING it returns personnel.ErrNotPending and writes nothing.
	Transition(ctx context.Context, id RequestID, d Decision) error
}
