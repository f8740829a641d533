package attractor

import (
	"errors"
	"fmt"
)

var (
	ErrDimensionMismatch   = errors.New("attractor: state dimension mismatch")
	ErrInvalidParameters   = errors.New("attractor: parameters outside feasible region")
	ErrUnknownKind         = errors.New("attractor: unknown kind")
	ErrUnknownPreset       = errors.New("attractor: unknown parameter preset")
	ErrNumericalDivergence = errors.New("attractor: integration produced a non-finite state")
)

// StepError carries the integration context of a failed evolution step.
type StepError struct {
	Kind      Kind
	MicroStep int
	State     State
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s micro-step %d: %v", e.Kind, e.MicroStep, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
