package models

import "errors"

// Precondition failures. Fatal to the current operation and never retried.
var (
	ErrMissingIdentity = errors.New("site or operator identity is not configured")
	ErrAlreadyUploaded = errors.New("draft has already been uploaded")
	ErrInvalidDraft    = errors.New("invalid draft")
)

// Conflict failures. Surfaced to the operator for an explicit decision.
var (
	ErrDraftExists        = errors.New("a draft already exists for this uuid")
	ErrParticipantExists  = errors.New("participant already exists remotely")
	ErrParticipantDeleted = errors.New("participant was deleted remotely")
)

// Transient failures. Safe to retry from the sync loop.
var ErrTransient = errors.New("transient failure")

var (
	ErrNotFound             = errors.New("not found")
	ErrOverrideDateRequired = errors.New("no automatic next visit date; an override date is required")
)

// IsPrecondition reports whether err is a precondition failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrMissingIdentity) ||
		errors.Is(err, ErrAlreadyUploaded) ||
		errors.Is(err, ErrInvalidDraft)
}

// IsConflict reports whether err requires an operator decision.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDraftExists) ||
		errors.Is(err, ErrParticipantExists) ||
		errors.Is(err, ErrParticipantDeleted)
}

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
