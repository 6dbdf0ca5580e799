package remote

import (
	"errors"
	"fmt"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// ErrorCategory is the normalized failure taxonomy of remote calls.
type ErrorCategory string

const (
	// CategoryDuplicate means the request id was already applied. Callers treat it as success.
	CategoryDuplicate ErrorCategory = "duplicate_request"

	// CategoryAlreadyExists means a first-time registration collided with an existing participant.
	CategoryAlreadyExists ErrorCategory = "already_exists"

	// CategoryDeleted means the participant was deleted remotely.
	CategoryDeleted ErrorCategory = "deleted"

	// CategoryNotFound means the addressed entity does not exist.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryUnauthorized means the backend rejected the site or operator identity.
	CategoryUnauthorized ErrorCategory = "unauthorized"

	// CategoryInvalid means the backend rejected the payload.
	CategoryInvalid ErrorCategory = "invalid"

	// CategoryTransient covers transport failures, timeouts, throttling and 5xx responses.
	CategoryTransient ErrorCategory = "transient"
)

// Wire error codes sent by the backend in 409 responses.
const (
	CodeDuplicateRequest  = "DUPLICATE_REQUEST"
	CodeParticipantExists = "PARTICIPANT_EXISTS"
)

// APIError wraps remote failures with normalized categorization.
type APIError struct {
	Category   ErrorCategory
	Op         string
	Message    string
	Underlying error
	Retryable  bool
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("remote %s [%s]: %s: %v", e.Op, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("remote %s [%s]: %s", e.Op, e.Category, e.Message)
}

// Unwrap supports error unwrapping
func (e *APIError) Unwrap() error {
	return e.Underlying
}

// Is maps the category onto the shared error taxonomy so callers can use errors.Is with
// the models sentinels.
func (e *APIError) Is(target error) bool {
	switch e.Category {
	case CategoryAlreadyExists:
		return target == models.ErrParticipantExists
	case CategoryDeleted:
		return target == models.ErrParticipantDeleted
	case CategoryNotFound:
		return target == models.ErrNotFound
	case CategoryUnauthorized:
		return target == models.ErrMissingIdentity
	case CategoryInvalid:
		return target == models.ErrInvalidDraft
	case CategoryTransient:
		return target == models.ErrTransient
	default:
		return false
	}
}

// NewAPIError creates a new normalized remote error
func NewAPIError(category ErrorCategory, op, message string, underlying error) *APIError {
	return &APIError{
		Category:   category,
		Op:         op,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == CategoryTransient,
	}
}

// IsDuplicate reports whether err says the request was already applied.
func IsDuplicate(err error) bool {
	return GetCategory(err) == CategoryDuplicate
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error
func GetCategory(err error) ErrorCategory {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
