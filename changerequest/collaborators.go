package changerequest

import (
	"context"
	"io"

	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// COLLABORATORS - Side-effect ports used after a decision is durable
// =============================================================================

// Renderer turns a decided request into an audit document. It must be a
// pure function of the request: rendering the same request twice yields the
// same DocNo.
type Renderer interface {
	Render(ctx context.Context, cr ChangeRequest) (*RenderedDocument, error)
}

type RenderedDocument struct {
	DocNo       string
	Data        []byte
	Extension   string // without the dot, e.g. "xlsx"
	ContentType string
}

// DocumentStore keeps rendered documents. Put overwrites an existing object
// with the same name. Open returns personnel.ErrDocumentNotFound for a
// missing object.
type DocumentStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// PasswordHasher hashes a temporary credential for storage.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
}

// CredentialSender delivers a temporary credential out-of-band.
type CredentialSender interface {
	SendCredentials(ctx context.Context, c Credentials) error
}

// Credentials is what the account holder receives.
type Credentials struct {
	To           string
	Username     string
	TempPassword string
	Role         personnel.Role
	UnitLabel    string
}
