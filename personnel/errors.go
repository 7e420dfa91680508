/*
errors.go - Centralized error types for the personnel engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure that crosses a package boundary carries a Code: the
  result codes are the contract surface the HTTP layer and clients depend on.

ERROR CATEGORIES:
  1. Validation    - Missing/malformed input, caller-fixable
  2. Authorization - Role, unit or ownership mismatch
  3. State conflict - Wrong status, duplicate pending, uniqueness violation
  4. Not found     - Referenced entity does not exist
  5. Internal      - Unexpected persistence failures (never leaked)

USAGE:
  if personnel.CodeOf(err) == personnel.CodeNotPending {
      // someone else decided first
  }

SEE ALSO:
  - api/handlers.go: Maps codes to HTTP status
  - store/sqlite/sqlite.go: Produces UniqueViolationError
*/
package personnel

import (
	"errors"
	"fmt"
)

// =============================================================================
// RESULT CODES
// =============================================================================

type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyPending     Code = "ALREADY_PENDING"
	CodeNotPending         Code = "NOT_PENDING"
	CodeInvalidPayload     Code = "INVALID_PAYLOAD"
	CodeUserExists         Code = "USER_EXISTS"
	CodePersonNotFound     Code = "PERSON_NOT_FOUND"
	CodeDocumentNotFound   Code = "PDF_NOT_FOUND"
	CodeForbiddenUnit      Code = "FORBIDDEN_UNIT"
	CodeReportLocked       Code = "REPORT_LOCKED"
	CodeAfterCutoff        Code = "AFTER_CUTOFF"
	CodePeriodInvalidToday Code = "PERIOD_INVALID_TODAY"
	CodeServiceNoExists    Code = "SERVICE_NO_EXISTS"
	CodePersonalNoExists   Code = "PERSONAL_NO_EXISTS"
	CodeReportExists       Code = "REPORT_EXISTS"
	CodeUnitCodeExists     Code = "UNIT_CODE_EXISTS"
	CodeUnitCycle          Code = "UNIT_CYCLE"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotPending is returned by stores when a conditional status update
	// finds the row no longer PENDING.
	ErrNotPending = errors.New("request is no longer pending")

	// ErrDocumentNotFound is returned by document stores for a missing object.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUniqueViolation is the parent of every UniqueViolationError.
	ErrUniqueViolation = errors.New("unique constraint violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Error is a domain failure with a contract code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, Errorf(CodeX, ""))
// works as a code check.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Errorf builds a domain error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// UniqueViolationError reports which unique field a write collided on.
// Field is the column name, e.g. "service_no" or "username".
type UniqueViolationError struct {
	Table string
	Field string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique violation on %s.%s", e.Table, e.Field)
}

func (e *UniqueViolationError) Unwrap() error { return ErrUniqueViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// CodeOf extracts the contract code from err. Errors without a code are
// internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	if errors.Is(err, ErrNotPending) {
		return CodeNotPending
	}
	if errors.Is(err, ErrDocumentNotFound) {
		return CodeDocumentNotFound
	}
	return CodeInternal
}

// IsClientError returns true if the error is due to invalid client input or
// a state the client can observe and resolve.
func IsClientError(err error) bool {
	code := CodeOf(err)
	return code != CodeInternal && code != ""
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodePersonNotFound, CodeDocumentNotFound:
		return true
	}
	return false
}

// UniqueField returns the violated column if err is a unique violation.
func UniqueField(err error) (string, bool) {
	var uv *UniqueViolationError
	if errors.As(err, &uv) {
		return uv.Field, true
	}
	return "", false
}
