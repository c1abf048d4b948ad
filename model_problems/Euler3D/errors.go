package Euler3D

import (
	"errors"
	"fmt"
)

var (
	// ErrRecoverable marks failures the integrator may retry with a smaller step
	ErrRecoverable = errors.New("euler3d: recoverable failure")

	ErrNegativeDensity  = fmt.Errorf("%w: negative density", ErrRecoverable)
	ErrNegativePressure = fmt.Errorf("%w: negative pressure", ErrRecoverable)
	ErrRemoteFailure    = fmt.Errorf("%w: reported by another rank", ErrRecoverable)
)

// FaceError locates a failed cell or face state
type FaceError struct {
	Rank, Axis int
	Cell       [3]int // Local index of the cell right of the face
	Wrapped    error
}

func (e *FaceError) Error() string {
	return fmt.Sprintf("rank %d, axis %d, cell %v: %v", e.Rank, e.Axis, e.Cell, e.Wrapped)
}

func (e *FaceError) Unwrap() error {
	return e.Wrapped
}
