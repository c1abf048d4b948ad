package integrator

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/linsolve"
	"github.com/notargets/chemhydro/state"
	"github.com/notargets/chemhydro/utils"
)

// relaxation decays the fluid fields explicitly, y' = -y, and relaxes every
// chemistry value toward 1 at rate K, c' = -K(c-1)
type relaxation struct {
	K         float64
	NChem     int
	NCells    int
	HStab     float64
	FailImpl  int  // Recoverable Fimpl failures left
	Hard      bool // Fail unrecoverably instead
	FailPost  int  // Recoverable Postprocess failures left
	FailStab  int  // Recoverable Stability failures left
	NExplicit int
}

func (p *relaxation) Fexpl(t float64, y, ydot *state.StateVector) error {
	p.NExplicit++
	for n := 0; n < state.NFluid; n++ {
		for i, v := range y.Field(n) {
			ydot.Field(n)[i] = -v
		}
	}
	if y.NChem > 0 {
		ch := ydot.Field(state.Chem)
		for i := range ch {
			ch[i] = 0
		}
	}
	return nil
}

func (p *relaxation) Fimpl(t float64, y, ydot *state.StateVector) error {
	if p.FailImpl > 0 {
		p.FailImpl--
		if p.Hard {
			return errors.New("rate table lookup failed")
		}
		return fmt.Errorf("%w: negative density", ErrRecoverable)
	}
	for n := 0; n < state.NFluid; n++ {
		f := ydot.Field(n)
		for i := range f {
			f[i] = 0
		}
	}
	return p.ImplicitBlock()(y.Field(state.Chem), ydot.Field(state.Chem))
}

func (p *relaxation) ImplicitBlock() linsolve.RHSFunc {
	return func(y, ydot []float64) error {
		for i, c := range y {
			ydot[i] = -p.K * (c - 1)
		}
		return nil
	}
}

func (p *relaxation) diagonalPattern() (rowPtr, colIdx []int) {
	rowPtr, colIdx = make([]int, p.NChem+1), make([]int, p.NChem)
	for i := 0; i < p.NChem; i++ {
		rowPtr[i+1], colIdx[i] = i+1, i
	}
	return
}

func (p *relaxation) NewJacobian(kind linsolve.SolverType) utils.BlockMatrix {
	rowPtr, colIdx := p.diagonalPattern()
	return kind.NewMatrix(p.NCells, p.NChem, rowPtr, colIdx)
}

func (p *relaxation) Jimpl(t float64, y *state.StateVector, J utils.BlockMatrix) error {
	J.Zero()
	switch m := J.(type) {
	case *utils.BlockDense:
		for b := 0; b < p.NCells; b++ {
			blk := m.Block(b)
			for i := 0; i < p.NChem; i++ {
				blk[i*p.NChem+i] = -p.K
			}
		}
	case *utils.BlockCSR:
		for b := 0; b < p.NCells; b++ {
			blk := m.Block(b)
			for i := range blk {
				blk[i] = -p.K
			}
		}
	}
	return nil
}

// Postprocess scribbles on the state it rejects
func (p *relaxation) Postprocess(t float64, y *state.StateVector) error {
	if p.FailPost > 0 {
		p.FailPost--
		y.Field(state.Rho)[0] = -1
		return fmt.Errorf("%w: density -1 at cell 0", ErrRecoverable)
	}
	return nil
}

func (p *relaxation) Stability(t float64, y *state.StateVector) (float64, error) {
	if p.FailStab > 0 {
		p.FailStab--
		return 0, fmt.Errorf("%w: negative pressure", ErrRecoverable)
	}
	return p.HStab, nil
}

func newRelaxation(ctx *cluster.Context, nchem int) (p *relaxation, y *state.StateVector) {
	N := [3]int{2, 2, 1}
	p = &relaxation{K: 1.e4, NChem: nchem, NCells: 4}
	y = state.New(ctx, N, nchem)
	y.Const(3)
	return
}

func TestMethods(t *testing.T) {
	assert.Equal(t, SSPRK3, NewMethod("", 0))
	assert.Equal(t, IMEXEuler, NewMethod("", 10))
	assert.Equal(t, IMEXEuler, NewMethod("ARK", 0))
	assert.Panics(t, func() { NewMethod("bdf", 0) })
	{ // Test option validation
		o := DefaultOptions()
		require.NoError(t, o.Validate())
		o.FixedStep = Fixed
		assert.Error(t, o.Validate())
		o.HMax = 0.1
		assert.NoError(t, o.Validate())
		o.EtaMxf = 1
		assert.Error(t, o.Validate())
		o = DefaultOptions()
		o.HMin, o.HMax = 1, 0.5
		assert.Error(t, o.Validate())
	}
	{ // Test implicit chemistry needs a linear solver
		p, y := newRelaxation(nil, 2)
		_, err := New(nil, p, y, 0, DefaultOptions(), nil)
		assert.Error(t, err)
	}
}

func TestSSPRK3(t *testing.T) {
	{ // Test each fixed step applies the third order amplification factor
		p, y := newRelaxation(nil, 0)
		o := DefaultOptions()
		o.Method, o.FixedStep, o.HMax = SSPRK3, Fixed, 0.1
		it, err := New(nil, p, y, 0, o, nil)
		require.NoError(t, err)
		require.NoError(t, it.Evolve(y, 1))
		h := 0.1
		g := 1 - h + h*h/2 - h*h*h/6
		assert.InDelta(t, 3*math.Pow(g, 10), y.Field(state.ET)[3], 1.e-13)
		assert.Equal(t, 1., it.T)
		assert.Equal(t, 10, it.Stats().Steps)
		assert.Equal(t, 30, p.NExplicit)
	}
	{ // Test halving the step reduces the error eightfold
		errAt := func(h float64) float64 {
			p, y := newRelaxation(nil, 0)
			o := DefaultOptions()
			o.Method, o.FixedStep, o.HMax = SSPRK3, Fixed, h
			it, err := New(nil, p, y, 0, o, nil)
			require.NoError(t, err)
			require.NoError(t, it.Evolve(y, 1))
			return math.Abs(y.Field(state.Rho)[0] - 3*math.Exp(-1))
		}
		ratio := errAt(0.1) / errAt(0.05)
		assert.InDelta(t, 8, ratio, 0.5)
	}
	{ // Test the chemistry is stepped explicitly too
		p, y := newRelaxation(nil, 1)
		p.K = 1
		o := DefaultOptions()
		o.Method, o.FixedStep, o.HMax = SSPRK3, Fixed, 0.1
		it, err := New(nil, p, y, 0, o, nil)
		require.NoError(t, err)
		require.NoError(t, it.Evolve(y, 0.2))
		h := 0.1
		g := 1 - h + h*h/2 - h*h*h/6
		assert.InDelta(t, 1+2*g*g, y.ChemCell(0)[0], 1.e-14)
		assert.Equal(t, 6, it.Stats().NFi)
	}
}

func TestStepSelection(t *testing.T) {
	run := func(o Options, hstab, tout float64) (it *Integrator) {
		p, y := newRelaxation(nil, 0)
		p.HStab = hstab
		o.Method = SSPRK3
		it, err := New(nil, p, y, 0, o, nil)
		require.NoError(t, err)
		require.NoError(t, it.Evolve(y, tout))
		assert.Equal(t, tout, it.T)
		return
	}
	{ // Test the stability limit sets the step and the last step is cut to tout
		it := run(DefaultOptions(), 0.03, 0.1)
		assert.Equal(t, 4, it.Stats().Steps)
		assert.InDelta(t, 0.01, it.HLast, 1.e-14)
	}
	{ // Test hmax bounds the stability step
		o := DefaultOptions()
		o.HMax = 0.02
		assert.Equal(t, 5, run(o, 0.03, 0.1).Stats().Steps)
	}
	{ // Test growth from the initial step
		o := DefaultOptions()
		o.H0, o.Growth = 0.001, 2
		assert.Equal(t, 7, run(o, 0, 0.1).Stats().Steps)
	}
	{ // Test adaptive steps through the transient, fixed steps afterwards
		o := DefaultOptions()
		o.FixedStep, o.HTrans, o.HMax = TransientThenFixed, 0.25, 0.125
		it := run(o, 0.0625, 0.5)
		assert.Equal(t, 6, it.Stats().Steps)
		assert.Equal(t, 0.125, it.HLast)
	}
	{ // Test the step limit per call
		p, y := newRelaxation(nil, 0)
		o := DefaultOptions()
		o.Method, o.FixedStep, o.HMax, o.MxSteps = SSPRK3, Fixed, 0.1, 5
		it, err := New(nil, p, y, 0, o, nil)
		require.NoError(t, err)
		err = it.Evolve(y, 1)
		assert.True(t, errors.Is(err, ErrTooMuchWork))
		assert.InDelta(t, 0.5, it.T, 1.e-14)
	}
}

func TestIMEXEuler(t *testing.T) {
	var (
		h    = 0.1
		nst  = 10
		tout = h * float64(nst)
	)
	for _, kind := range []linsolve.SolverType{linsolve.SolverDense, linsolve.SolverSparse, linsolve.SolverMatrixFree} {
		var (
			solver linsolve.Solver
			name   = kind.Print()
		)
		switch kind {
		case linsolve.SolverDense:
			solver = linsolve.NewDense(nil)
		case linsolve.SolverSparse:
			solver = linsolve.NewSparse(nil)
		default:
			solver = linsolve.NewMatrixFree(nil, 0)
		}
		p, y := newRelaxation(nil, 3)
		o := DefaultOptions()
		o.FixedStep, o.HMax = Fixed, h
		it, err := New(nil, p, y, 0, o, solver)
		require.NoError(t, err, name)
		require.NoError(t, it.Evolve(y, tout), name)
		{ // Test the chemistry follows backward Euler and the fluid forward Euler
			want := 1 + 2/math.Pow(1+p.K*h, float64(nst))
			for _, c := range y.Field(state.Chem) {
				assert.InDelta(t, want, c, 1.e-10, name)
			}
			assert.InDelta(t, 3*math.Pow(1-h, float64(nst)), y.Field(state.MX)[1], 1.e-13, name)
		}
		{ // Test the counters
			s := it.Stats()
			assert.Equal(t, nst, s.Steps, name)
			assert.Equal(t, 0, s.FailedSteps, name)
			assert.Equal(t, nst, s.NFe, name)
			assert.Equal(t, nst, s.NLinSetups, name)
			assert.Equal(t, s.NNewton, s.NFi, name)
			if kind.Iterative() {
				assert.Equal(t, 0, s.NJe, name)
				assert.Greater(t, s.NFeDQ, 0, name)
			} else {
				assert.Equal(t, nst, s.NJe, name)
				assert.Equal(t, 0, s.NFeDQ, name)
			}
		}
	}
	{ // Test the predictor starts Newton from an explicit chemistry estimate
		p, y := newRelaxation(nil, 2)
		p.K = 1
		o := DefaultOptions()
		o.FixedStep, o.HMax, o.Predictor = Fixed, h, 1
		it, err := New(nil, p, y, 0, o, linsolve.NewDense(nil))
		require.NoError(t, err)
		require.NoError(t, it.Evolve(y, h))
		assert.InDelta(t, 1+2/(1+h), y.ChemCell(3)[1], 1.e-12)
		assert.Equal(t, it.Stats().NNewton+1, it.Stats().NFi)
	}
	{ // Test a single Newton iteration cannot meet the tolerance on a stiff step
		p, y := newRelaxation(nil, 2)
		o := DefaultOptions()
		o.FixedStep, o.HMax, o.MaxNIters, o.MaxNEF = Fixed, h, 1, 2
		it, err := New(nil, p, y, 0, o, linsolve.NewDense(nil))
		require.NoError(t, err)
		err = it.Evolve(y, h)
		assert.True(t, errors.Is(err, ErrStepFailed))
		assert.True(t, errors.Is(err, ErrNewtonConv))
		assert.Equal(t, 2, it.Stats().NConvFails)
		assert.Equal(t, 0., it.T)
		assert.Equal(t, 3., y.ChemCell(0)[0])
	}
}

func TestPostprocessRetry(t *testing.T) {
	amp := func(h float64) float64 { return 1 - h + h*h/2 - h*h*h/6 }
	{ // Test a rejected post process retries with a smaller step from the old state
		p, y := newRelaxation(nil, 0)
		p.FailPost = 1
		o := DefaultOptions()
		o.Method, o.HMax = SSPRK3, 0.1
		it, err := New(nil, p, y, 0, o, nil)
		require.NoError(t, err)
		require.NoError(t, it.Step(y, 1))
		assert.Equal(t, 1, it.Stats().FailedSteps)
		assert.Equal(t, 1, it.Stats().Steps)
		assert.InDelta(t, 0.03, it.HLast, 1.e-15)
		assert.InDelta(t, 0.03, it.T, 1.e-15)
		assert.InDelta(t, 3*amp(0.03), y.Field(state.Rho)[0], 1.e-14)
		assert.Equal(t, y.Field(state.Rho)[0], y.Field(state.Rho)[1])
	}
	{ // Test the state and time are untouched when every attempt is rejected
		p, y := newRelaxation(nil, 0)
		p.FailPost = 100
		o := DefaultOptions()
		o.Method, o.HMax, o.MaxNEF = SSPRK3, 0.1, 3
		it, err := New(nil, p, y, 0, o, nil)
		require.NoError(t, err)
		err = it.Step(y, 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrStepFailed))
		assert.Equal(t, 3, it.Stats().FailedSteps)
		assert.Equal(t, 0., it.T)
		assert.Equal(t, 3., y.Field(state.Rho)[0])
	}
	{ // Test a recoverable stability failure shrinks the bounded step
		p, y := newRelaxation(nil, 0)
		p.FailStab = 1
		o := DefaultOptions()
		o.Method, o.HMax = SSPRK3, 0.1
		it, err := New(nil, p, y, 0, o, nil)
		require.NoError(t, err)
		require.NoError(t, it.Step(y, 1))
		assert.Equal(t, 1, it.Stats().FailedSteps)
		assert.InDelta(t, 0.03, it.HLast, 1.e-15)
		assert.InDelta(t, 3*amp(0.03), y.Field(state.Rho)[0], 1.e-14)
		// Without any step bound there is nothing to shrink
		p, y = newRelaxation(nil, 0)
		p.FailStab = 1
		o.HMax = 0
		it, err = New(nil, p, y, 0, o, nil)
		require.NoError(t, err)
		assert.True(t, errors.Is(it.Step(y, 1), ErrStepFailed))
		assert.Equal(t, 3., y.Field(state.Rho)[0])
	}
}

func TestCollectiveRetry(t *testing.T) {
	const nprocs = 2
	var (
		hs    = make([]float64, nprocs)
		fails = make([]int, nprocs)
		chem  = make([]float64, nprocs)
		errs  = make([]error, nprocs)
	)
	// Rank 1 fails recoverably twice, both ranks retry with the same steps
	err := cluster.Run(nprocs, func(ctx *cluster.Context) error {
		p, y := newRelaxation(ctx, 2)
		if ctx.Rank == 1 {
			p.FailImpl = 2
		}
		o := DefaultOptions()
		o.HMax = 0.1
		it, err := New(ctx, p, y, 0, o, linsolve.NewSparse(nil))
		if err != nil {
			return err
		}
		if err = it.Step(y, 1); err != nil {
			return err
		}
		hs[ctx.Rank], fails[ctx.Rank] = it.HLast, it.Stats().FailedSteps
		chem[ctx.Rank] = y.ChemCell(2)[1]
		return nil
	})
	require.NoError(t, err)
	for r := 0; r < nprocs; r++ {
		assert.InDelta(t, 0.009, hs[r], 1.e-15, "rank %d", r)
		assert.Equal(t, 2, fails[r], "rank %d", r)
	}
	assert.Equal(t, chem[0], chem[1])

	// An unrecoverable failure on rank 0 stops both ranks without a retry
	err = cluster.Run(nprocs, func(ctx *cluster.Context) error {
		p, y := newRelaxation(ctx, 2)
		if ctx.Rank == 0 {
			p.FailImpl, p.Hard = 1, true
		}
		it, err := New(ctx, p, y, 0, DefaultOptions(), linsolve.NewDense(nil))
		if err != nil {
			return err
		}
		errs[ctx.Rank] = it.Step(y, 1)
		fails[ctx.Rank] = it.Stats().FailedSteps
		return nil
	})
	require.NoError(t, err)
	assert.Error(t, errs[0])
	assert.False(t, IsRecoverable(errs[0]))
	assert.True(t, errors.Is(errs[1], ErrRemoteFatal))
	assert.Equal(t, []int{0, 0}, fails)
}
