package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/attend/internal/attendance"
)

// Error is returned by every Engine operation that fails.
//
// Errors include:
//   - Invalid request: missing subject or actor, unknown status
//   - Permission denied: the PermissionGate refused
//   - Invalid transition: the edge is not in the transition table
//   - Persistence failure: the store write did not happen
//
// Error includes structured fields so callers can render a rejection that
// names the attempted move.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// SubjectID identifies the affected record.
	SubjectID string

	// From and To are set for transition errors.
	From attendance.Status
	To   attendance.Status

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInvalidRequest indicates a missing subject id or actor field.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrCodeInvalidStatus indicates an unrecognised status value.
	ErrCodeInvalidStatus ErrorCode = "INVALID_STATUS"

	// ErrCodeInvalidTransition indicates the edge is absent from the table.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// ErrCodePermissionDenied indicates the gate refused the action.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrCodePersistenceFailure indicates the store write failed.
	ErrCodePersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"

	// ErrCodeNotFound indicates the subject was never admitted.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeAlreadyAdmitted indicates a second admission of one subject.
	ErrCodeAlreadyAdmitted ErrorCode = "ALREADY_ADMITTED"

	// ErrCodeCorruptRecord indicates a stored record failed verification.
	ErrCodeCorruptRecord ErrorCode = "CORRUPT_RECORD"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.SubjectID != "" {
		msg += fmt.Sprintf(" (subject=%s)", e.SubjectID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the engine error code in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsInvalidTransition returns true if the requested edge was rejected.
// Uses errors.As to handle wrapped errors.
func IsInvalidTransition(err error) bool {
	return CodeOf(err) == ErrCodeInvalidTransition
}

// IsPermissionDenied returns true if the gate refused the request.
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == ErrCodePermissionDenied
}

// IsPersistenceFailure returns true if the store write failed.
func IsPersistenceFailure(err error) bool {
	return CodeOf(err) == ErrCodePersistenceFailure
}

// IsNotFound returns true if the subject does not exist.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsInvalidRequest returns true for malformed requests, including
// unrecognised statuses.
func IsInvalidRequest(err error) bool {
	c := CodeOf(err)
	return c == ErrCodeInvalidRequest || c == ErrCodeInvalidStatus
}

// NewInvalidTransitionError creates an Error for a rejected edge.
func NewInvalidTransitionError(subjectID string, from, to attendance.Status) *Error {
	msg := fmt.Sprintf("cannot move from %s to %s", from, to)
	if from.Terminal() {
		msg += fmt.Sprintf(" (%s is terminal)", from)
	}
	return &Error{
		Code:      ErrCodeInvalidTransition,
		Message:   msg,
		SubjectID: subjectID,
		From:      from,
		To:        to,
	}
}

// NewPermissionDeniedError creates an Error for a gate refusal.
func NewPermissionDeniedError(subjectID, actorID, action string) *Error {
	return &Error{
		Code:      ErrCodePermissionDenied,
		Message:   fmt.Sprintf("actor %s may not %s", actorID, action),
		SubjectID: subjectID,
	}
}

// NewPersistenceError creates an Error for a failed store write.
func NewPersistenceError(subjectID string, from, to attendance.Status, err error) *Error {
	msg := "record not saved"
	if from != "" && to != "" {
		msg = fmt.Sprintf("transition from %s to %s not saved", from, to)
	}
	return &Error{
		Code:      ErrCodePersistenceFailure,
		Message:   msg,
		SubjectID: subjectID,
		From:      from,
		To:        to,
		Err:       err,
	}
}
