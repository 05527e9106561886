// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"
	"time"

	"github.com/sheetpilot/sheetpilot/internal/domain"
)

// Transform is one configured cleaning operation over a table.
// A Transform is built from step parameters by a TransformFactory and is
// applied exactly once per pipeline step.
type Transform interface {
	// Name returns the registered module name the transform was built from.
	Name() string

	// Apply runs the transform against table and returns a new table in
	// the StepOutput. The input table must not be modified and the output
	// must not share cell storage with it.
	//
	// The user identity is passed through for audit attribution only and
	// must not influence the output. It may be nil.
	//
	// Configuration problems detected against the table (missing columns,
	// wrong column kinds) are returned as errors matching
	// domain.ErrInvalidConfiguration.
	Apply(ctx context.Context, table *domain.Table, user *domain.Identity) (domain.StepOutput, error)
}

// TransformFactory builds a Transform from loosely typed step parameters.
// Factories decode params into a typed configuration and validate it, so
// an unknown method or action is reported here rather than during Apply.
type TransformFactory func(params map[string]any) (Transform, error)

// StepInfo identifies a pipeline step for observers.
type StepInfo struct {
	RunID  string
	Step   string
	Module string
	Index  int
	RowsIn int
}

// StepObserver receives notifications around every executed step.
// Implementations typically open a tracing span in PreStep and close it
// in PostStep, recording metrics along the way.
type StepObserver interface {
	// PreStep is called before the step's transform is built. The returned
	// context is passed to the transform and to PostStep.
	PreStep(ctx context.Context, info StepInfo) context.Context

	// PostStep is called after the step finished, successfully or not.
	// stats is nil when err is non-nil.
	PostStep(ctx context.Context, info StepInfo, stats domain.StepStats, elapsed time.Duration, err error)
}
