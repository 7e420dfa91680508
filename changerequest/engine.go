package changerequest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/personnel-engine/personnel"
)

// MinNoteLength is the shortest accepted rejection note, after trimming.
const MinNoteLength = 3

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs the change-request workflow and the side effects of decisions.
type Engine struct {
	Store  Store
	Units  personnel.UnitReader
	People personnel.PersonReader
	Users  personnel.UserReader
	Auth   *personnel.Authorizer

	Renderer  Renderer
	Documents DocumentStore
	Hasher    PasswordHasher
	Sender    CredentialSender
	Passwords func() (string, error)

	Clock personnel.Clock
	Log   logrus.FieldLogger
}

// CreateInput is a validated submission.
type CreateInput struct {
	Type     Type
	PersonID *personnel.PersonID
	Payload  Payload
}

// DecisionResult is returned by Approve and Reject. The request is already
// decided when it is returned; the remaining fields report best-effort
// follow-ups that never undo the decision.
type DecisionResult struct {
	Request *ChangeRequest

	// EmailSent is set for CREATE_USER approvals only.
	EmailSent *bool
	// TempPassword echoes the provisioned credential so it can be handed
	// over manually when delivery failed.
	TempPassword string

	DocumentError string
}

// =============================================================================
// CREATE
// =============================================================================

// Create validates a submission and stores it as PENDING.
func (e *Engine) Create(ctx context.Context, p personnel.Principal, in CreateInput) (*ChangeRequest, error) {
	if !in.Type.Valid() {
		return nil, personnel.Errorf(personnel.CodeValidation, "unknown request type %q", in.Type)
	}
	if in.Payload == nil {
		return nil, personnel.Errorf(personnel.CodeValidation, "payload is required")
	}
	if in.Payload.Type() != in.Type {
		return nil, personnel.Errorf(personnel.CodeValidation, "payload does not match type %s", in.Type)
	}
	if err := in.Payload.Validate(); err != nil {
		return nil, err
	}

	now := e.Clock()
	cr := ChangeRequest{
		ID:              RequestID(uuid.NewString()),
		Type:            in.Type,
		Status:          StatusPending,
		CreatedBy:       p.ID,
		CreatedByRole:   p.Role,
		CreatedByUnitID: p.UnitID,
		Payload:         in.Payload,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if in.Type == TypeCreateUser {
		if err := e.prepareCreateUser(ctx, p, &cr); err != nil {
			return nil, err
		}
	} else {
		if err := e.preparePersonChange(ctx, p, in.PersonID, &cr); err != nil {
			return nil, err
		}
	}

	if err := e.Store.CreateRequest(ctx, cr); err != nil {
		return nil, fmt.Errorf("failed to store change request: %w", err)
	}

	e.logger().WithFields(logrus.Fields{
		"request_id": cr.ID,
		"type":       cr.Type,
		"created_by": cr.CreatedBy,
	}).Info("change request created")

	return &cr, nil
}

func (e *Engine) prepareCreateUser(ctx context.Context, p personnel.Principal, cr *ChangeRequest) error {
	if p.Role != personnel.RoleCommander && p.Role != personnel.RoleAdmin {
		return personnel.Errorf(personnel.CodeForbidden, "only commanders and admins may request accounts")
	}

	payload := cr.Payload.(CreateUserPayload)
	if payload.User.UnitID == nil {
		payload.User.UnitID = p.UnitID
	} else if err := e.requireUnit(ctx, *payload.User.UnitID, personnel.CodeNotFound); err != nil {
		return err
	}
	if payload.User.PersonID != nil {
		person, err := e.People.GetPerson(ctx, *payload.User.PersonID)
		if err != nil {
			return err
		}
		if person == nil {
			return personnel.Errorf(personnel.CodeNotFound, "person %s not found", *payload.User.PersonID)
		}
	}

	admin := personnel.RoleAdmin
	cr.Payload = payload
	cr.PersonID = nil
	cr.TargetUnitID = p.UnitID
	cr.TargetRole = &admin
	return nil
}

func (e *Engine) preparePersonChange(ctx context.Context, p personnel.Principal, personID *personnel.PersonID, cr *ChangeRequest) error {
	if p.Role == personnel.RoleAuditor {
		return personnel.Errorf(personnel.CodeForbidden, "auditors cannot submit change requests")
	}
	if personID == nil || *personID == "" {
		return personnel.Errorf(personnel.CodeValidation, "personId is required for %s", cr.Type)
	}

	person, err := e.People.GetPerson(ctx, *personID)
	if err != nil {
		return err
	}
	if person == nil {
		return personnel.Errorf(personnel.CodeNotFound, "person %s not found", *personID)
	}
	if !personnel.CanActInUnit(p, person.UnitID) {
		return personnel.Errorf(personnel.CodeForbidden, "person belongs to another unit")
	}

	if to, ok := destinationUnit(cr.Payload); ok {
		if err := e.requireUnit(ctx, to, personnel.CodeNotFound); err != nil {
			return err
		}
		if to == person.UnitID {
			return personnel.Errorf(personnel.CodeValidation, "person is already in unit %s", to)
		}
	}

	pending, err := e.Store.HasPending(ctx, person.ID, cr.Type)
	if err != nil {
		return err
	}
	if pending {
		return personnel.Errorf(personnel.CodeAlreadyPending,
			"a %s request for this person is already pending", cr.Type)
	}

	target := person.UnitID
	cr.PersonID = &person.ID
	cr.TargetUnitID = &target
	return nil
}

// =============================================================================
// READ
// =============================================================================

// Get returns a request the principal may read. A malformed id is a
// validation error, an unknown one NOT_FOUND.
func (e *Engine) Get(ctx context.Context, p personnel.Principal, id string) (*ChangeRequest, error) {
	cr, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := e.Auth.CanReadRequest(ctx, p, cr.Resource())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, personnel.Errorf(personnel.CodeForbidden, "request is outside your scope")
	}
	return cr, nil
}

// ListMine lists requests created by the caller.
func (e *Engine) ListMine(ctx context.Context, p personnel.Principal, f Filter) (*Page, error) {
	f.CreatedBy = &p.ID
	f.TargetUnitIDs = nil
	return e.Store.ListRequests(ctx, f.Normalize())
}

// ListInbox lists requests the caller is expected to decide or audit.
// The status filter defaults to PENDING.
func (e *Engine) ListInbox(ctx context.Context, p personnel.Principal, f Filter) (*Page, error) {
	if f.Status == "" {
		f.Status = StatusPending
	}
	f.CreatedBy = nil

	switch p.Role {
	case personnel.RoleAdmin, personnel.RoleAuditor:
		f.TargetUnitIDs = nil
	case personnel.RoleCommander:
		scope, err := e.Auth.CommandScope(ctx, p)
		if err != nil {
			return nil, err
		}
		f.TargetUnitIDs = scope.Slice()
		f.ExcludeRoleTargeted = true
	default:
		return nil, personnel.Errorf(personnel.CodeForbidden, "role %s has no inbox", p.Role)
	}
	return e.Store.ListRequests(ctx, f.Normalize())
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve applies the request's effect and marks it APPROVED in a single
// transaction, then renders the audit document.
func (e *Engine) Approve(ctx context.Context, p personnel.Principal, id string, note string) (*DecisionResult, error) {
	cr, err := e.loadForDecision(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if cr.Payload == nil || cr.Payload.Type() != cr.Type {
		return nil, personnel.Errorf(personnel.CodeInvalidPayload, "stored payload does not match %s", cr.Type)
	}
	if err := cr.Payload.Validate(); err != nil {
		return nil, personnel.Wrap(personnel.CodeInvalidPayload, err, "stored payload is incomplete")
	}

	decision := Decision{
		Status:    StatusApproved,
		DecidedBy: p.ID,
		DecidedAt: e.Clock(),
		Note:      optionalNote(note),
	}

	result := &DecisionResult{}
	if cr.Type == TypeCreateUser {
		err = e.approveCreateUser(ctx, cr, decision, result)
	} else {
		err = e.approvePersonChange(ctx, cr, decision)
	}
	if err != nil {
		return nil, err
	}

	e.logger().WithFields(logrus.Fields{
		"request_id": cr.ID,
		"type":       cr.Type,
		"decided_by": p.ID,
	}).Info("change request approved")

	return e.finishDecision(ctx, cr.ID, result)
}

func (e *Engine) approvePersonChange(ctx context.Context, cr *ChangeRequest, decision Decision) error {
	if cr.PersonID == nil {
		return personnel.Errorf(personnel.CodeInvalidPayload, "%s request has no person", cr.Type)
	}
	if to, ok := destinationUnit(cr.Payload); ok {
		if err := e.requireUnit(ctx, to, personnel.CodeInvalidPayload); err != nil {
			return err
		}
	}

	return e.Store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetPerson(ctx, *cr.PersonID)
		if err != nil {
			return err
		}
		if current == nil {
			return personnel.Errorf(personnel.CodePersonNotFound, "person %s no longer exists", *cr.PersonID)
		}

		next, err := planEffect(cr.Payload, current)
		if err != nil {
			return err
		}
		if next != nil {
			next.UpdatedAt = decision.DecidedAt
		}

		decision.Snapshot = &Snapshot{Before: current.View(), After: next.View()}
		if err := tx.Transition(ctx, cr.ID, decision); err != nil {
			return mapTransitionError(err)
		}
		return commitEffect(ctx, tx, current.ID, next)
	})
}

func (e *Engine) approveCreateUser(ctx context.Context, cr *ChangeRequest, decision Decision, result *DecisionResult) error {
	payload := cr.Payload.(CreateUserPayload)
	username := strings.TrimSpace(payload.User.Username)

	existing, err := e.Users.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return personnel.Errorf(personnel.CodeUserExists, "username %q is taken", username)
	}

	temp, err := e.Passwords()
	if err != nil {
		return fmt.Errorf("failed to generate temporary password: %w", err)
	}
	hash, err := e.Hasher.Hash(temp)
	if err != nil {
		return fmt.Errorf("failed to hash temporary password: %w", err)
	}

	unitID := payload.User.UnitID
	if unitID == nil {
		unitID = cr.TargetUnitID
	}
	user := personnel.User{
		ID:                 personnel.UserID(uuid.NewString()),
		Username:           username,
		Email:              strings.TrimSpace(payload.User.Email),
		Role:               payload.User.Role,
		UnitID:             unitID,
		PersonID:           payload.User.PersonID,
		PasswordHash:       hash,
		MustChangePassword: boolOr(payload.User.MustChangePassword, true),
		NeverExpires:       boolOr(payload.User.NeverExpires, true),
		CreatedAt:          decision.DecidedAt,
	}
	decision.Snapshot = &Snapshot{User: userSnapshot(user)}

	err = e.Store.WithTx(ctx, func(tx Tx) error {
		if err := tx.Transition(ctx, cr.ID, decision); err != nil {
			return mapTransitionError(err)
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			if _, ok := personnel.UniqueField(err); ok {
				return personnel.Wrap(personnel.CodeUserExists, err, "username is taken")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	sent := e.deliverCredentials(ctx, user, temp)
	result.EmailSent = &sent
	result.TempPassword = temp
	return nil
}

// deliverCredentials is best-effort: the account exists whatever happens.
func (e *Engine) deliverCredentials(ctx context.Context, user personnel.User, temp string) bool {
	if e.Sender == nil {
		return false
	}

	label := ""
	if user.UnitID != nil {
		if unit, err := e.Units.GetUnit(ctx, *user.UnitID); err == nil && unit != nil {
			label = unit.Code + " " + unit.Name
		}
	}

	err := e.Sender.SendCredentials(ctx, Credentials{
		To:           user.Email,
		Username:     user.Username,
		TempPassword: temp,
		Role:         user.Role,
		UnitLabel:    label,
	})
	if err != nil {
		e.logger().WithFields(logrus.Fields{
			"username": user.Username,
			"error":    err,
		}).Warn("credential delivery failed")
		return false
	}
	return true
}

// =============================================================================
// REJECT
// =============================================================================

// Reject marks the request REJECTED and renders a document recording the
// refusal against the unchanged person.
func (e *Engine) Reject(ctx context.Context, p personnel.Principal, id string, note string) (*DecisionResult, error) {
	cr, err := e.loadForDecision(ctx, p, id)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(note)
	if len([]rune(trimmed)) < MinNoteLength {
		return nil, personnel.Errorf(personnel.CodeValidation,
			"a rejection note of at least %d characters is required", MinNoteLength)
	}

	snapshot := &Snapshot{}
	if cr.PersonID != nil {
		person, err := e.People.GetPerson(ctx, *cr.PersonID)
		if err != nil {
			return nil, err
		}
		snapshot.Before = person.View()
	}
	if payload, ok := cr.Payload.(CreateUserPayload); ok {
		snapshot.User = &UserSnapshot{
			Username: payload.User.Username,
			Email:    payload.User.Email,
			Role:     payload.User.Role,
			UnitID:   payload.User.UnitID,
		}
	}

	decision := Decision{
		Status:    StatusRejected,
		DecidedBy: p.ID,
		DecidedAt: e.Clock(),
		Note:      &trimmed,
		Snapshot:  snapshot,
	}
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		return mapTransitionError(tx.Transition(ctx, cr.ID, decision))
	})
	if err != nil {
		return nil, err
	}

	e.logger().WithFields(logrus.Fields{
		"request_id": cr.ID,
		"type":       cr.Type,
		"decided_by": p.ID,
	}).Info("change request rejected")

	return e.finishDecision(ctx, cr.ID, &DecisionResult{})
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws a pending request. Only its creator or an admin may
// cancel; nothing is applied and no document is produced.
func (e *Engine) Cancel(ctx context.Context, p personnel.Principal, id string) (*ChangeRequest, error) {
	cr, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && cr.CreatedBy != p.ID {
		return nil, personnel.Errorf(personnel.CodeForbidden, "only the creator may cancel")
	}
	if cr.Status != StatusPending {
		return nil, personnel.Errorf(personnel.CodeNotPending, "request is %s", cr.Status)
	}

	decision := Decision{
		Status:    StatusCancelled,
		DecidedBy: p.ID,
		DecidedAt: e.Clock(),
	}
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		return mapTransitionError(tx.Transition(ctx, cr.ID, decision))
	})
	if err != nil {
		return nil, err
	}
	return e.reload(ctx, cr.ID)
}

// =============================================================================
// AUDIT DOCUMENTS
// =============================================================================

// Document opens the stored audit document of a request.
func (e *Engine) Document(ctx context.Context, p personnel.Principal, id string) (io.ReadCloser, *ChangeRequest, error) {
	cr, err := e.Get(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}
	if cr.Document == nil {
		return nil, nil, personnel.Errorf(personnel.CodeDocumentNotFound, "no document generated for this request")
	}

	rc, err := e.Documents.Open(ctx, cr.Document.Path)
	if err != nil {
		if errors.Is(err, personnel.ErrDocumentNotFound) {
			return nil, nil, personnel.Wrap(personnel.CodeDocumentNotFound, err, "document is missing from storage")
		}
		return nil, nil, err
	}
	return rc, cr, nil
}

// RegenerateDocument renders and stores the audit document again,
// overwriting the previous reference. Readers of the request may trigger it.
func (e *Engine) RegenerateDocument(ctx context.Context, p personnel.Principal, id string) (*ChangeRequest, error) {
	cr, err := e.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if cr.Status != StatusApproved && cr.Status != StatusRejected {
		return nil, personnel.Errorf(personnel.CodeValidation, "%s requests have no audit document", cr.Status)
	}
	if err := e.GenerateDocument(ctx, cr); err != nil {
		return nil, err
	}
	return cr, nil
}

// GenerateDocument renders cr, stores the bytes and records the reference
// on the request. Running it twice overwrites the first result.
func (e *Engine) GenerateDocument(ctx context.Context, cr *ChangeRequest) error {
	if e.Renderer == nil || e.Documents == nil {
		return errors.New("document rendering is not configured")
	}

	doc, err := e.Renderer.Render(ctx, *cr)
	if err != nil {
		return fmt.Errorf("failed to render document: %w", err)
	}
	path, err := e.Documents.Put(ctx, documentName(cr.ID, doc.Extension), doc.Data, doc.ContentType)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}

	ref := DocumentRef{Path: path, GeneratedAt: e.Clock()}
	if err := e.Store.SetDocument(ctx, cr.ID, doc.DocNo, ref); err != nil {
		return fmt.Errorf("failed to record document: %w", err)
	}

	cr.DocNo = &doc.DocNo
	cr.Document = &ref
	return nil
}

func documentName(id RequestID, ext string) string {
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("change-requests/%s.%s", id, ext)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) load(ctx context.Context, id string) (*ChangeRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, personnel.Errorf(personnel.CodeValidation, "invalid request id %q", id)
	}
	cr, err := e.Store.GetRequest(ctx, RequestID(id))
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return nil, personnel.Errorf(personnel.CodeNotFound, "request %s not found", id)
	}
	return cr, nil
}

// loadForDecision runs the checks shared by approve and reject: the caller
// must be allowed to decide and the request must still be PENDING.
func (e *Engine) loadForDecision(ctx context.Context, p personnel.Principal, id string) (*ChangeRequest, error) {
	cr, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := e.Auth.CanDecideRequest(ctx, p, cr.Resource())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, personnel.Errorf(personnel.CodeForbidden, "you may not decide this request")
	}
	if cr.Status != StatusPending {
		return nil, personnel.Errorf(personnel.CodeNotPending, "request is %s", cr.Status)
	}
	return cr, nil
}

func (e *Engine) reload(ctx context.Context, id RequestID) (*ChangeRequest, error) {
	cr, err := e.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return nil, personnel.Errorf(personnel.CodeNotFound, "request %s not found", id)
	}
	return cr, nil
}

// finishDecision reloads the decided request and renders its document.
// Rendering failures are reported on the result, never returned.
func (e *Engine) finishDecision(ctx context.Context, id RequestID, result *DecisionResult) (*DecisionResult, error) {
	cr, err := e.reload(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.GenerateDocument(ctx, cr); err != nil {
		e.logger().WithFields(logrus.Fields{
			"request_id": cr.ID,
			"error":      err,
		}).Warn("audit document generation failed")
		result.DocumentError = err.Error()
	}
	result.Request = cr
	return result, nil
}

func (e *Engine) requireUnit(ctx context.Context, id personnel.UnitID, code personnel.Code) error {
	unit, err := e.Units.GetUnit(ctx, id)
	if err != nil {
		return err
	}
	if unit == nil {
		return personnel.Errorf(code, "unit %s not found", id)
	}
	return nil
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

func mapTransitionError(err error) error {
	if errors.Is(err, personnel.ErrNotPending) {
		return personnel.Wrap(personnel.CodeNotPending, err, "another decision landed first")
	}
	return err
}

func optionalNote(note string) *string {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}
	return &note
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func userSnapshot(u personnel.User) *UserSnapshot {
	return &UserSnapshot{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		UnitID:   u.UnitID,
	}
}
