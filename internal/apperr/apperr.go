// Package apperr defines the error kinds surfaced to API callers.
//
// Every failure that has a domain meaning is an *Error carrying one of the
// kinds below plus enough detail (entity id, expected vs actual status) for a
// client to decide whether to retry.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error.
type Kind string

const (
	// KindValidation marks missing or malformed request fields. Returned
	// before any external call is made.
	KindValidation Kind = "VALIDATION"

	// KindAuthorization marks a caller that is not the owner, participant or
	// invitee required for the action.
	KindAuthorization Kind = "AUTHORIZATION"

	// KindStateConflict marks an action that is invalid for the entity's
	// current status, or a uniqueness violation.
	KindStateConflict Kind = "STATE_CONFLICT"

	// KindExternalOperation marks a ledger rejection or transport failure.
	KindExternalOperation Kind = "EXTERNAL_OPERATION"

	// KindResolutionTimeout marks an exhausted confirmation polling budget.
	KindResolutionTimeout Kind = "RESOLUTION_TIMEOUT"

	// KindNotFound marks a referenced entity that does not exist.
	KindNotFound Kind = "NOT_FOUND"
)

// Error is a categorized error with structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// With returns a copy of e with key set in its details.
func (e *Error) With(key string, value any) *Error {
	out := *e
	out.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

func Authorization(format string, args ...any) *Error {
	return newf(KindAuthorization, format, args...)
}

func NotFound(entity, id string) *Error {
	return newf(KindNotFound, "%s %s not found", entity, id).With("entity", entity).With("id", id)
}

// StateConflict reports an action attempted in the wrong status.
func StateConflict(entity, id string, expected []string, actual string) *Error {
	return newf(KindStateConflict, "%s %s is %s; expected one of %v", entity, id, actual, expected).
		With("entity", entity).
		With("id", id).
		With("expected", expected).
		With("actual", actual)
}

// Conflict reports a uniqueness violation or other non-status conflict.
func Conflict(format string, args ...any) *Error {
	return newf(KindStateConflict, format, args...)
}

// External wraps a ledger-side failure, keeping the cause.
func External(op string, err error) *Error {
	return &Error{Kind: KindExternalOperation, Message: op + " failed", Err: err, Details: map[string]any{"operation": op}}
}

// ResolutionTimeout reports that submissionID was not observed in time.
func ResolutionTimeout(submissionID string, attempts int) *Error {
	return newf(KindResolutionTimeout, "submission %s not confirmed after %d attempts", submissionID, attempts).
		With("submission_id", submissionID).
		With("attempts", attempts)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func IsValidation(err error) bool        { return Is(err, KindValidation) }
func IsAuthorization(err error) bool     { return Is(err, KindAuthorization) }
func IsStateConflict(err error) bool     { return Is(err, KindStateConflict) }
func IsExternalOperation(err error) bool { return Is(err, KindExternalOperation) }
func IsResolutionTimeout(err error) bool { return Is(err, KindResolutionTimeout) }
func IsNotFound(err error) bool          { return Is(err, KindNotFound) }
