package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies an application error for callers that need to map it
// onto a boundary response without inspecting messages.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindForbidden         Kind = "forbidden"
	KindInvalidTransition Kind = "invalid_transition"
	KindResourceExhausted Kind = "resource_exhausted"
	KindInternal          Kind = "internal"
)

// AppError represents an application error
type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`

	// ExistingID is set on duplicate conflicts so the caller can
	// redirect the user to the record that already exists.
	ExistingID uuid.UUID `json:"existing_id,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors
func Validation(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message}
}

func Validationf(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(resource string) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

func Conflict(message string, err error) *AppError {
	return &AppError{Kind: KindConflict, Message: message, Err: err}
}

// DuplicateConflict reports a duplicate-record conflict carrying the id of
// the record that already holds the contested value.
func DuplicateConflict(message string, existingID uuid.UUID) *AppError {
	return &AppError{Kind: KindConflict, Message: message, ExistingID: existingID}
}

func Forbidden(reason string) *AppError {
	return &AppError{Kind: KindForbidden, Message: reason}
}

func InvalidTransition(message string) *AppError {
	return &AppError{Kind: KindInvalidTransition, Message: message}
}

func ResourceExhausted(message string, err error) *AppError {
	return &AppError{Kind: KindResourceExhausted, Message: message, Err: err}
}

func Internal(err error) *AppError {
	return &AppError{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) an *AppError,
// KindInternal otherwise.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is (or wraps) an *AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

func IsNotFound(err error) bool          { return IsKind(err, KindNotFound) }
func IsConflict(err error) bool          { return IsKind(err, KindConflict) }
func IsForbidden(err error) bool         { return IsKind(err, KindForbidden) }
func IsValidation(err error) bool        { return IsKind(err, KindValidation) }
func IsInvalidTransition(err error) bool { return IsKind(err, KindInvalidTransition) }
