package shared

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found, soft-deleted or outside the actor's scope.
	ErrNotFound = errors.New("not found")
	// ErrNotAuthorized indicates a failed permission or tenant check.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrHasActiveChildren blocks deletion of a parent that still has kept children.
	ErrHasActiveChildren = errors.New("has active children")
	// ErrValidationFailed marks malformed input.
	ErrValidationFailed = errors.New("validation failed")
	// ErrAuditWriteFailed is reported when the audit ledger cannot persist an entry.
	ErrAuditWriteFailed = errors.New("audit write failed")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// ValidationError carries per-field messages and unwraps to ErrValidationFailed.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidationFailed.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// UserSafeMessage returns a message that can be shown to the end user.
func UserSafeMessage(err error) string {
	var vErr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &vErr):
		return vErr.Error()
	case errors.Is(err, ErrNotAuthorized), errors.Is(err, ErrNotFound):
		return DeniedMessage
	case errors.Is(err, ErrHasActiveChildren):
		return "Record still has active dependents and cannot be deleted."
	case errors.Is(err, ErrValidationFailed):
		return err.Error()
	default:
		return "Something went wrong. Please try again."
	}
}
