package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors.
var (
	// ErrNilTable indicates that an operation received a nil table.
	ErrNilTable = errors.New("nil table")

	// ErrInvalidTable indicates that a table or column violates its structural invariants.
	ErrInvalidTable = errors.New("invalid table")

	// ErrRaggedTable indicates that columns or masks disagree on row count.
	ErrRaggedTable = errors.New("column lengths differ")

	// ErrDuplicateColumn indicates that a column name appears more than once.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrKindMismatch indicates that a cell's kind differs from its column's kind.
	ErrKindMismatch = errors.New("kind mismatch")

	// ErrInvalidConfiguration is matched by every transform configuration
	// error, so callers can classify failures with errors.Is.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ColumnNotFoundError reports target columns absent from the input table.
type ColumnNotFoundError struct {
	// Columns lists every missing column in the order it was requested.
	Columns []string
}

// Error implements the error interface for ColumnNotFoundError.
func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("columns not found: %s", strings.Join(e.Columns, ", "))
}

// Is makes ColumnNotFoundError match ErrInvalidConfiguration.
func (e *ColumnNotFoundError) Is(target error) bool { return target == ErrInvalidConfiguration }

// NewColumnNotFoundError creates a ColumnNotFoundError for the given columns.
func NewColumnNotFoundError(columns ...string) *ColumnNotFoundError {
	return &ColumnNotFoundError{Columns: columns}
}

// NonNumericColumnError reports a target column that must be numeric but is not.
type NonNumericColumnError struct {
	Column string
	Kind   ColumnKind
}

// Error implements the error interface for NonNumericColumnError.
func (e *NonNumericColumnError) Error() string {
	return fmt.Sprintf("column %q is not numeric (kind=%s)", e.Column, e.Kind)
}

// Is makes NonNumericColumnError match ErrInvalidConfiguration.
func (e *NonNumericColumnError) Is(target error) bool { return target == ErrInvalidConfiguration }

// NonTextColumnError reports a target column that must be text but is not.
type NonTextColumnError struct {
	Column string
	Kind   ColumnKind
}

// Error implements the error interface for NonTextColumnError.
func (e *NonTextColumnError) Error() string {
	return fmt.Sprintf("column %q is not text type (kind=%s)", e.Column, e.Kind)
}

// Is makes NonTextColumnError match ErrInvalidConfiguration.
func (e *NonTextColumnError) Is(target error) bool { return target == ErrInvalidConfiguration }

// UnknownMethodError reports a method name a transform does not implement.
type UnknownMethodError struct {
	Transform string
	Method    string
}

// Error implements the error interface for UnknownMethodError.
func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("%s: unknown method %q", e.Transform, e.Method)
}

// Is makes UnknownMethodError match ErrInvalidConfiguration.
func (e *UnknownMethodError) Is(target error) bool { return target == ErrInvalidConfiguration }

// UnknownActionError reports an action name a transform does not implement.
type UnknownActionError struct {
	Transform string
	Action    string
}

// Error implements the error interface for UnknownActionError.
func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("%s: unknown action %q", e.Transform, e.Action)
}

// Is makes UnknownActionError match ErrInvalidConfiguration.
func (e *UnknownActionError) Is(target error) bool { return target == ErrInvalidConfiguration }

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Is makes ValidationError match ErrInvalidConfiguration.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidConfiguration }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
