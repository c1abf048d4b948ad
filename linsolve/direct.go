package linsolve

import (
	"errors"
	"fmt"
	"math"

	"github.com/james-bowman/sparse/blas"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/chemhydro/utils"
)

// CondLimit is the largest block condition number accepted by Setup
var CondLimit = 1. / (2 * 1.1102230246251565e-16)

type singularBlock struct {
	block int
	cond  float64
}

func (e singularBlock) Error() string {
	return fmt.Sprintf("block %d is singular (condition %g)", e.block, e.cond)
}

// blockLU holds one LU factorization per diagonal block
type blockLU struct {
	Exec       *utils.ExecPolicy
	lu         []mat.LU
	bd         int
	lastFlag   Status
	Singular   int // First singular block of the last failed Setup, -1 otherwise
	NSetups    int
	NSolves    int
	factorized bool
}

func (s *blockLU) factor(A utils.BlockMatrix) Status {
	s.NSetups++
	s.factorized = false
	s.Singular = -1
	nb := A.NumBlocks()
	if len(s.lu) != nb {
		s.lu = make([]mat.LU, nb)
	}
	s.bd = A.BlockSize()
	err := s.Exec.ForEach(nb, func(kMin, kMax int) (err error) {
		B := mat.NewDense(s.bd, s.bd, nil)
		for b := kMin; b < kMax; b++ {
			A.DenseBlock(b, B)
			s.lu[b].Factorize(B)
			if c := s.lu[b].Cond(); math.IsInf(c, 0) || math.IsNaN(c) || c > CondLimit {
				return singularBlock{block: b, cond: c}
			}
		}
		return
	})
	var sb singularBlock
	switch {
	case errors.As(err, &sb):
		s.Singular = sb.block
		s.lastFlag = PackageFailUnrec
	case err != nil:
		s.lastFlag = IllInput
	default:
		s.factorized = true
		s.lastFlag = Success
	}
	return s.lastFlag
}

func (s *blockLU) solve(x, b []float64) Status {
	s.NSolves++
	if !s.factorized {
		s.lastFlag = MemNull
		return s.lastFlag
	}
	n := len(s.lu) * s.bd
	if len(x) != n || len(b) != n {
		s.lastFlag = IllInput
		return s.lastFlag
	}
	err := s.Exec.ForEach(len(s.lu), func(kMin, kMax int) (err error) {
		bv := mat.NewVecDense(s.bd, nil) // x may alias b
		for k := kMin; k < kMax; k++ {
			xv := mat.NewVecDense(s.bd, x[k*s.bd:(k+1)*s.bd])
			copy(bv.RawVector().Data, b[k*s.bd:(k+1)*s.bd])
			if err = s.lu[k].SolveVecTo(xv, false, bv); err != nil {
				var c mat.Condition
				if !errors.As(err, &c) {
					return
				}
				err = nil
			}
		}
		return
	})
	s.lastFlag = Success
	if err != nil {
		s.lastFlag = PackageFailUnrec
	}
	return s.lastFlag
}

func (s *blockLU) LastFlag() Status { return s.lastFlag }

func (s *blockLU) Free() {
	s.lu = nil
	s.factorized = false
}

// Dense factors every block with a partially pivoted LU, whatever form the
// matrix is stored in
type Dense struct {
	blockLU
	A utils.BlockMatrix
}

func NewDense(exec *utils.ExecPolicy) *Dense {
	return &Dense{blockLU: blockLU{Exec: exec, Singular: -1}}
}

func (s *Dense) Type() SolverType { return SolverDense }

func (s *Dense) Setup(A utils.BlockMatrix) Status {
	if A == nil {
		s.lastFlag = IllInput
		return s.lastFlag
	}
	s.A = A
	return s.factor(A)
}

func (s *Dense) Solve(x, b []float64, tol float64) Status { return s.solve(x, b) }

// ApplyOperator sets z = A v with the matrix of the last Setup
func (s *Dense) ApplyOperator(v, z []float64) Status {
	if s.A == nil {
		return MemNull
	}
	s.A.MulVec(z, v)
	return Success
}

func (s *Dense) Free() {
	s.blockLU.Free()
	s.A = nil
}

// Sparse works from the shared block CSR pattern. The pattern is checked
// once and reused by later setups; a changed pattern is analyzed again.
type Sparse struct {
	blockLU
	A        *utils.BlockCSR
	pattern  []int
	Analyses int
}

func NewSparse(exec *utils.ExecPolicy) *Sparse {
	return &Sparse{blockLU: blockLU{Exec: exec, Singular: -1}}
}

func (s *Sparse) Type() SolverType { return SolverSparse }

func (s *Sparse) Setup(A utils.BlockMatrix) Status {
	csr, ok := A.(*utils.BlockCSR)
	if !ok || csr == nil {
		s.lastFlag = IllInput
		return s.lastFlag
	}
	if !s.samePattern(csr) {
		s.pattern = append(append([]int{}, csr.RowPtr...), csr.ColIdx...)
		s.Analyses++
	}
	s.A = csr
	return s.factor(csr)
}

func (s *Sparse) samePattern(A *utils.BlockCSR) bool {
	if len(s.pattern) != len(A.RowPtr)+len(A.ColIdx) {
		return false
	}
	for i, v := range A.RowPtr {
		if s.pattern[i] != v {
			return false
		}
	}
	for i, v := range A.ColIdx {
		if s.pattern[len(A.RowPtr)+i] != v {
			return false
		}
	}
	return true
}

func (s *Sparse) Solve(x, b []float64, tol float64) Status { return s.solve(x, b) }

func (s *Sparse) ApplyOperator(v, z []float64) Status {
	if s.A == nil {
		return MemNull
	}
	for i := range z {
		z[i] = 0
	}
	blas.Dusmv(false, 1, s.A.RawMatrix(), v, 1, z, 1)
	return Success
}

func (s *Sparse) Free() {
	s.blockLU.Free()
	s.A, s.pattern = nil, nil
}
