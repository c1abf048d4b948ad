// Package linsolve solves the block diagonal systems of the implicit
// chemistry update. Each rank factors or iterates on its own block only and
// the BlockDiagonal wrapper makes the outcome consistent across ranks.
package linsolve

import (
	"fmt"
	"strings"

	"github.com/notargets/chemhydro/utils"
)

// Solver is a local linear solver for the chemistry block of one rank. A is
// the iteration matrix I - gamma*J; matrix free solvers accept a nil A.
type Solver interface {
	Setup(A utils.BlockMatrix) Status
	Solve(x, b []float64, tol float64) Status
	ApplyOperator(v, z []float64) Status
	LastFlag() Status
	Type() SolverType
	Free()
}

type SolverType uint8

const (
	SolverDense SolverType = iota
	SolverSparse
	SolverMatrixFree
)

var (
	SolverNames = map[string]SolverType{
		"dense":       SolverDense,
		"lu":          SolverDense,
		"sparse":      SolverSparse,
		"klu":         SolverSparse,
		"matrixfree":  SolverMatrixFree,
		"matrix-free": SolverMatrixFree,
		"gmres":       SolverMatrixFree,
	}
	SolverPrintNames = []string{"Dense block LU", "Sparse block LU", "Matrix free GMRES"}
)

func (st SolverType) Print() (txt string) {
	txt = SolverPrintNames[st]
	return
}

// Iterative solvers need the linearization state and no assembled matrix
func (st SolverType) Iterative() bool { return st == SolverMatrixFree }

func ParseSolverType(label string) (st SolverType, err error) {
	var ok bool
	label = strings.ToLower(strings.TrimSpace(label))
	if len(label) == 0 {
		return SolverSparse, nil
	}
	if st, ok = SolverNames[label]; !ok {
		err = fmt.Errorf("unable to use linear solver named %s", label)
	}
	return
}

func NewSolverType(label string) (st SolverType) {
	var err error
	if st, err = ParseSolverType(label); err != nil {
		panic(err)
	}
	return
}

// NewMatrix allocates the matrix form the solver factors, nil for matrix free
func (st SolverType) NewMatrix(nBlocks, blockDim int, rowPtr, colIdx []int) utils.BlockMatrix {
	switch st {
	case SolverDense:
		return utils.NewBlockDense(nBlocks, blockDim)
	case SolverSparse:
		return utils.NewBlockCSR(nBlocks, blockDim, rowPtr, colIdx)
	}
	return nil
}
