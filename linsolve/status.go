package linsolve

import (
	"errors"
	"fmt"
)

var (
	ErrRecoverable   = errors.New("linsolve: recoverable failure")
	ErrUnrecoverable = errors.New("linsolve: unrecoverable failure")
)

// Status is a linear solver return code: zero on success, positive for
// failures the integrator may recover from by retrying with a smaller step,
// negative for failures it cannot recover from.
type Status int

const (
	Success Status = 0

	ResReduced    Status = 801 // Iterative solve reduced the residual but missed the tolerance
	ConvFail      Status = 802 // Iterative solve made no progress
	ATimesFailRec Status = 803 // Right hand side failed recoverably inside the operator

	MemNull          Status = -801 // Solve before Setup
	IllInput         Status = -802
	ATimesFailUnrec  Status = -804
	PackageFailUnrec Status = -807 // Singular block in the factorization
	QRSolFail        Status = -809
)

var StatusNames = map[Status]string{
	Success:          "success",
	ResReduced:       "residual reduced",
	ConvFail:         "convergence failure",
	ATimesFailRec:    "operator failed (recoverable)",
	MemNull:          "solver not set up",
	IllInput:         "illegal input",
	ATimesFailUnrec:  "operator failed",
	PackageFailUnrec: "singular block",
	QRSolFail:        "least squares solve failed",
}

func (s Status) String() string {
	if name, ok := StatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status %d", int(s))
}

func (s Status) Recoverable() bool { return s > 0 }

// Err maps the status onto ErrRecoverable or ErrUnrecoverable
func (s Status) Err() error {
	switch {
	case s == Success:
		return nil
	case s > 0:
		return fmt.Errorf("%w: %v", ErrRecoverable, s)
	default:
		return fmt.Errorf("%w: %v", ErrUnrecoverable, s)
	}
}
