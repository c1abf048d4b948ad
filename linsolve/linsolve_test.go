package linsolve

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/state"
	"github.com/notargets/chemhydro/utils"
)

var (
	// 3x3 block pattern: row 0 {0,2}, row 1 {1}, row 2 {0,1,2}
	testRowPtr = []int{0, 2, 3, 6}
	testColIdx = []int{0, 2, 1, 0, 1, 2}
)

// testJacobian fills a block CSR with a nonsymmetric pattern, block b scaled by b+1
func testJacobian(nBlocks int) (J *utils.BlockCSR) {
	J = utils.NewBlockCSR(nBlocks, 3, testRowPtr, testColIdx)
	for b := 0; b < nBlocks; b++ {
		s := float64(b + 1)
		copy(J.Block(b), []float64{-2 * s, 0.5, -1 * s, 0.3, 0.2 * s, -3 * s})
	}
	return
}

// iterationMatrix returns I - gamma*J in both storage forms
func iterationMatrix(J *utils.BlockCSR, gamma float64) (S *utils.BlockCSR, D *utils.BlockDense) {
	S = utils.NewBlockCSR(J.NBlocks, J.BlockDim, J.RowPtr, J.ColIdx)
	S.CopyFrom(J)
	S.Scale(-gamma)
	S.AddDiagonal(1)
	D = utils.NewBlockDense(J.NBlocks, J.BlockDim)
	for b := 0; b < J.NBlocks; b++ {
		copy(D.Block(b), S.DenseBlock(b, nil).RawMatrix().Data)
	}
	return
}

func residual(A utils.BlockMatrix, x, b []float64) (r []float64) {
	r = make([]float64, len(b))
	A.MulVec(r, x)
	for i := range r {
		r[i] -= b[i]
	}
	return
}

func TestStatus(t *testing.T) {
	assert.NoError(t, Success.Err())
	assert.True(t, errors.Is(ConvFail.Err(), ErrRecoverable))
	assert.True(t, ConvFail.Recoverable())
	assert.True(t, errors.Is(PackageFailUnrec.Err(), ErrUnrecoverable))
	assert.False(t, PackageFailUnrec.Recoverable())
	assert.Equal(t, "singular block", PackageFailUnrec.String())
	assert.Equal(t, "status 17", Status(17).String())
	assert.Equal(t, SolverMatrixFree, NewSolverType("GMRES"))
	assert.Equal(t, SolverSparse, NewSolverType(""))
	assert.Panics(t, func() { NewSolverType("cholesky") })
	_, ok := SolverDense.NewMatrix(2, 3, testRowPtr, testColIdx).(*utils.BlockDense)
	assert.True(t, ok)
	assert.Nil(t, SolverMatrixFree.NewMatrix(2, 3, testRowPtr, testColIdx))
}

func TestDirectSolvers(t *testing.T) {
	var (
		J    = testJacobian(4)
		S, D = iterationMatrix(J, 0.7)
		b    = []float64{1, 2, 3, -1, 0.5, 4, 0, 0, 1, 7, -3, 2}
	)
	for _, tc := range []struct {
		solver Solver
		A      utils.BlockMatrix
	}{
		{NewDense(nil), D},
		{NewDense(utils.NewExecPolicy(utils.ExecGoroutines, 3)), S},
		{NewSparse(utils.NewExecPolicy(utils.ExecGoroutines, 2)), S},
	} {
		name := fmt.Sprintf("%s/%T", tc.solver.Type().Print(), tc.A)
		x := make([]float64, len(b))
		{ // Test solving before setup fails
			assert.Equal(t, MemNull, tc.solver.Solve(x, b, 0), name)
		}
		{ // Test the solution satisfies the system
			require.Equal(t, Success, tc.solver.Setup(tc.A), name)
			require.Equal(t, Success, tc.solver.Solve(x, b, 0), name)
			assert.InDeltaSlice(t, make([]float64, len(b)), residual(tc.A, x, b), 1.e-12, name)
		}
		{ // Test the operator is the setup matrix
			z := make([]float64, len(b))
			require.Equal(t, Success, tc.solver.ApplyOperator(x, z), name)
			assert.InDeltaSlice(t, b, z, 1.e-12, name)
		}
		{ // Test in place solves
			y := append([]float64{}, b...)
			require.Equal(t, Success, tc.solver.Solve(y, y, 0), name)
			assert.InDeltaSlice(t, x, y, 1.e-14, name)
		}
		tc.solver.Free()
		assert.Equal(t, MemNull, tc.solver.Solve(x, b, 0), name)
	}
	{ // Test a singular block is found and reported as unrecoverable
		_, D := iterationMatrix(J, 0.7)
		blk := D.Block(2)
		for c := 0; c < 3; c++ {
			blk[2*3+c] = blk[0*3+c]
		}
		s := NewDense(utils.NewExecPolicy(utils.ExecGoroutines, 4))
		assert.Equal(t, PackageFailUnrec, s.Setup(D))
		assert.Equal(t, 2, s.Singular)
		assert.Equal(t, MemNull, s.Solve(make([]float64, 12), b, 0))
	}
	{ // Test the sparse solver wants the CSR form and reuses its analysis
		s := NewSparse(nil)
		assert.Equal(t, IllInput, s.Setup(D))
		assert.Equal(t, Success, s.Setup(S))
		assert.Equal(t, Success, s.Setup(S))
		assert.Equal(t, 1, s.Analyses)
		assert.Equal(t, 3, s.NSetups)
	}
}

func TestMatrixFree(t *testing.T) {
	var (
		J     = testJacobian(2)
		gamma = 0.4
		_, D  = iterationMatrix(J, gamma)
		n     = 6
		y     = []float64{1, 1, 2, 3, 0.5, 0.25}
		b     = []float64{0.1, -1, 2, 0.3, 4, -2}
		fcur  = make([]float64, n)
		wts   = []float64{1, 2, 1, 0.5, 1, 3}
		// Linear right hand side, so divided differences are exact
		F = func(y, ydot []float64) error {
			J.MulVec(ydot, y)
			return nil
		}
	)
	J.MulVec(fcur, y)
	{ // Test the divided difference operator matches I - gamma*J
		s := NewMatrixFree(F, n)
		s.SetLinearization(y, fcur, wts, gamma)
		var (
			v     = []float64{0.3, -0.2, 1, 0, 2, -1}
			z, zd = make([]float64, n), make([]float64, n)
		)
		require.Equal(t, Success, s.ApplyOperator(v, z))
		D.MulVec(zd, v)
		assert.InDeltaSlice(t, zd, z, 1.e-10)
		assert.Equal(t, 1, s.NFeDQ)
		require.Equal(t, Success, s.ApplyOperator(make([]float64, n), z))
		assert.Equal(t, make([]float64, n), z)
		assert.Equal(t, 1, s.NFeDQ)
	}
	{ // Test a full Krylov space solves the system
		s := NewMatrixFree(F, n)
		s.SetLinearization(y, fcur, wts, gamma)
		require.Equal(t, Success, s.Setup(nil))
		x := make([]float64, n)
		require.Equal(t, Success, s.Solve(x, b, 1.e-10))
		assert.InDeltaSlice(t, make([]float64, n), residual(D, x, b), 1.e-8)
		assert.LessOrEqual(t, s.NIters, n)
	}
	{ // Test restarts reach the tolerance with a small Krylov space
		s := NewMatrixFree(F, 2)
		s.MaxRestarts = 50
		s.SetLinearization(y, fcur, nil, gamma)
		x := make([]float64, n)
		require.Equal(t, Success, s.Solve(x, b, 1.e-9))
		assert.InDeltaSlice(t, make([]float64, n), residual(D, x, b), 1.e-7)
	}
	{ // Test a truncated Krylov space reports a recoverable failure
		s := NewMatrixFree(F, 1)
		s.SetLinearization(y, fcur, nil, gamma)
		st := s.Solve(make([]float64, n), b, 1.e-14)
		assert.True(t, st.Recoverable(), st.String())
	}
	{ // Test right hand side failures map onto operator status codes
		rec := NewMatrixFree(func(y, ydot []float64) error { return fmt.Errorf("%w: bad cell", ErrRecoverable) }, n)
		rec.SetLinearization(y, fcur, nil, gamma)
		assert.Equal(t, ATimesFailRec, rec.Solve(make([]float64, n), b, 1.e-8))
		hard := NewMatrixFree(func(y, ydot []float64) error { return errors.New("io") }, n)
		hard.SetLinearization(y, fcur, nil, gamma)
		assert.Equal(t, ATimesFailUnrec, hard.Solve(make([]float64, n), b, 1.e-8))
		unset := NewMatrixFree(F, n)
		assert.Equal(t, MemNull, unset.ApplyOperator(b, make([]float64, n)))
	}
}

func TestReduce(t *testing.T) {
	for _, tc := range []struct {
		local []Status
		want  Status
	}{
		{[]Status{Success, Success, Success}, Success},
		{[]Status{Success, ConvFail, ResReduced}, ConvFail},
		{[]Status{ATimesFailRec, PackageFailUnrec, Success}, PackageFailUnrec},
		{[]Status{MemNull, Success, PackageFailUnrec}, PackageFailUnrec},
	} {
		got := make([]Status, len(tc.local))
		err := cluster.Run(len(tc.local), func(ctx *cluster.Context) error {
			got[ctx.Rank] = Reduce(ctx, tc.local[ctx.Rank])
			return nil
		})
		require.NoError(t, err)
		for _, g := range got {
			assert.Equal(t, tc.want, g, "%v", tc.local)
		}
	}
	assert.Equal(t, ConvFail, Reduce(nil, ConvFail))
}

func TestBlockDiagonalConsistency(t *testing.T) {
	const (
		nprocs = 3
		nchem  = 3
	)
	var (
		N      = [3]int{2, 1, 1}
		setups = make([]Status, nprocs)
		solves = make([]Status, nprocs)
		fluid  = make([]bool, nprocs)
	)
	// Rank 1 factors a singular block, every rank must see the failure
	err := cluster.Run(nprocs, func(ctx *cluster.Context) error {
		var (
			J    = testJacobian(2)
			_, D = iterationMatrix(J, 0.5)
			bd   = NewBlockDiagonal(ctx, NewDense(nil))
			x    = state.New(ctx, N, nchem)
			b    = state.New(ctx, N, nchem)
		)
		if ctx.Rank == 1 {
			D.Zero()
		}
		b.Const(1)
		setups[ctx.Rank] = bd.Setup(D)
		solves[ctx.Rank] = bd.Solve(x, b, 0)
		fluid[ctx.Rank] = x.Field(state.Rho)[0] == 1
		return nil
	})
	require.NoError(t, err)
	for r := 0; r < nprocs; r++ {
		assert.Equal(t, PackageFailUnrec, setups[r], "rank %d", r)
		assert.True(t, solves[r] < 0, "rank %d solve status %v", r, solves[r])
		assert.True(t, fluid[r])
	}

	// A recoverable failure on one rank makes every rank retry
	err = cluster.Run(nprocs, func(ctx *cluster.Context) error {
		var (
			J  = testJacobian(N[0])
			mf = NewMatrixFree(func(y, ydot []float64) error {
				if ctx.Rank == 2 {
					return fmt.Errorf("%w: negative density", ErrRecoverable)
				}
				J.MulVec(ydot, y)
				return nil
			}, 6)
			bd   = NewBlockDiagonal(ctx, mf)
			x    = state.New(ctx, N, nchem)
			b    = state.New(ctx, N, nchem)
			y    = utils.ConstArray(6, 1)
			fcur = make([]float64, 6)
		)
		J.MulVec(fcur, y)
		mf.SetLinearization(y, fcur, nil, 0.1)
		b.Const(1)
		setups[ctx.Rank] = bd.Setup(nil)
		solves[ctx.Rank] = bd.Solve(x, b, 1.e-10)
		return nil
	})
	require.NoError(t, err)
	for r := 0; r < nprocs; r++ {
		assert.Equal(t, Success, setups[r])
		assert.Equal(t, ATimesFailRec, solves[r], "rank %d", r)
	}
}
