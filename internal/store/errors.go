package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common errors
var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation is blocked by a
	// dependent or conflicting entity (provider still referenced by
	// models, duplicate email, revoking a used invitation).
	ErrConflict = errors.New("conflict")

	// ErrInvitationUsed is returned when revoking an invitation that
	// was already redeemed. It wraps ErrConflict.
	ErrInvitationUsed = fmt.Errorf("%w: invitation already used", ErrConflict)

	// ErrRunFinalized is returned when attempting to transition a run
	// that already reached a terminal state.
	ErrRunFinalized = errors.New("run already finalized")
)

// ValidationError carries per-field validation messages from a
// rejected create or update.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns a ValidationError with the given fields.
func NewValidationError(fields map[string]string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// Error joins field messages into a single human-readable string,
// ordered by field name for stable output.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return strings.Join(parts, "; ")
}

// IsValidation reports whether err is a ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
