package core

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input. Row names the offending bulk-save
// row (its title, or its key when the title is blank).
type ValidationError struct {
	Row   string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Row != "" && e.Field != "":
		return fmt.Sprintf("row %q: invalid %s: %s", e.Row, e.Field, e.Msg)
	case e.Row != "":
		return fmt.Sprintf("row %q: %s", e.Row, e.Msg)
	case e.Field != "":
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
	default:
		return e.Msg
	}
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// NotFoundError reports an update or delete of a record that does not exist.
type NotFoundError struct {
	Entity string
	ID     int64
	Row    string
}

func (e *NotFoundError) Error() string {
	if e.Row != "" {
		return fmt.Sprintf("row %q: %s %d not found", e.Row, e.Entity, e.ID)
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// PersistenceError wraps a storage failure. Its message is safe to show to
// clients; the wrapped error is for logs only.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed", e.Op)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
