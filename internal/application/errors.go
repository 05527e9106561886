package application

import (
	"errors"
	"fmt"
)

// Run-level precondition and configuration errors.
var (
	// ErrDuplicateStep indicates that two steps in one run share a name.
	ErrDuplicateStep = errors.New("duplicate step name")

	// ErrNilFactory indicates that a step has no transform factory.
	ErrNilFactory = errors.New("step has no transform factory")

	// ErrEmptyStepName indicates that a step has no name.
	ErrEmptyStepName = errors.New("step name cannot be empty")

	// ErrUnknownModule is matched by UnknownModuleError.
	ErrUnknownModule = errors.New("unknown module")

	// ErrModuleExists indicates that a module name is already registered.
	ErrModuleExists = errors.New("module already registered")
)

// UnknownModuleError reports a pipeline step naming a module that is not
// registered, with the closest registered name when one is close enough.
type UnknownModuleError struct {
	Module     string
	Suggestion string
}

// Error implements the error interface for UnknownModuleError.
func (e *UnknownModuleError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown module %q (did you mean %q?)", e.Module, e.Suggestion)
	}
	return fmt.Sprintf("unknown module %q", e.Module)
}

// Is makes UnknownModuleError match ErrUnknownModule.
func (e *UnknownModuleError) Is(target error) bool { return target == ErrUnknownModule }
