package integrator

import (
	"fmt"

	"github.com/notargets/chemhydro/linsolve"
)

type Stats struct {
	Steps, FailedSteps int
	NFe, NFi           int // Explicit and implicit right hand side evaluations
	NJe                int // Jacobian evaluations
	NNewton            int // Nonlinear iterations
	NConvFails         int // Nonlinear convergence failures
	NLinSetups         int
	NLinSolves         int
	NLinFails          int
	NLinIters          int // Krylov iterations of a matrix free solver
	NFeDQ              int // Right hand side evaluations inside matrix free products
	T, HLast           float64
}

// Stats returns the counters so far, including those of the linear solver
func (it *Integrator) Stats() (s Stats) {
	s = it.stats
	s.T, s.HLast = it.T, it.HLast
	if it.LS != nil {
		if mf, ok := it.LS.Local.(*linsolve.MatrixFree); ok {
			s.NLinIters, s.NFeDQ = mf.NIters, mf.NFeDQ
		}
	}
	return
}

func (s Stats) Print() {
	fmt.Printf("\nFinal Solver Statistics:\n")
	fmt.Printf("   Internal solver steps = %d\n", s.Steps)
	fmt.Printf("   Failed steps = %d\n", s.FailedSteps)
	fmt.Printf("   Current time = %g, last step = %g\n", s.T, s.HLast)
	fmt.Printf("   Total RHS evals:  Fe = %d,  Fi = %d\n", s.NFe, s.NFi)
	fmt.Printf("   Total Jacobian evaluations = %d\n", s.NJe)
	fmt.Printf("   Total nonlinear iterations = %d, convergence failures = %d\n", s.NNewton, s.NConvFails)
	fmt.Printf("   Total linear solver setups = %d, solves = %d, failures = %d\n",
		s.NLinSetups, s.NLinSolves, s.NLinFails)
	if s.NLinIters > 0 || s.NFeDQ > 0 {
		fmt.Printf("   Total linear iterations = %d\n", s.NLinIters)
		fmt.Printf("   Total RHS evals in Jacobian products (nfeDQ) = %d\n", s.NFeDQ)
	}
}
