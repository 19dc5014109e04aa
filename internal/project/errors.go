package project

import (
	"errors"
	"fmt"
)

var (
	// ErrProjectNotFound is returned by step transitions for an unknown id.
	ErrProjectNotFound = errors.New("project not found")
	// ErrInvalidStep is returned when a patch names a step outside the wizard.
	ErrInvalidStep = errors.New("invalid workflow step")
	// ErrInvalidStatus is returned when a patch names an unknown status.
	ErrInvalidStatus = errors.New("invalid project status")
	// ErrUnvisitedStep is returned when a patch marks a step completed that
	// the project has never reached.
	ErrUnvisitedStep = errors.New("completed steps include a step that was never reached")
	// ErrStepNotReachable is returned by GoTo for a step beyond the next one
	// that is not already completed.
	ErrStepNotReachable = errors.New("step is not reachable from the current step")
	// ErrNotAtFinalStep is returned by Complete before the deploy step.
	ErrNotAtFinalStep = errors.New("project is not at the final step")
)

// PersistenceWarning reports that a mutation was applied in memory but could
// not be saved. The in-memory state stays authoritative.
type PersistenceWarning struct {
	Op  string
	Err error
}

func (w *PersistenceWarning) Error() string {
	return fmt.Sprintf("%s applied but not persisted: %v", w.Op, w.Err)
}

func (w *PersistenceWarning) Unwrap() error { return w.Err }

// IsPersistenceWarning reports whether err carries a *PersistenceWarning.
func IsPersistenceWarning(err error) bool {
	var w *PersistenceWarning
	return errors.As(err, &w)
}
