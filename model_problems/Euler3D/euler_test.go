package Euler3D

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/grid"
	"github.com/notargets/chemhydro/state"
	"github.com/notargets/chemhydro/utils"
)

func allBC(bc grid.BCType) (b [3][2]grid.BCType) {
	for ax := 0; ax < 3; ax++ {
		b[ax] = [2]grid.BCType{bc, bc}
	}
	return
}

func newEngine(t *testing.T, ctx *cluster.Context, N [3]int, nprocs, nchem int, bc grid.BCType,
	ft FluxType) (c *Euler) {
	g, err := grid.NewGrid(N, [3]float64{}, [3]float64{1, 1, 1}, allBC(bc))
	require.NoError(t, err)
	d, err := grid.NewDecomposition(g, nprocs, [3]int{})
	require.NoError(t, err)
	c, err = NewEuler(ctx, g, d.Tile(ctx.Rank), 1.4, ft, nchem,
		utils.NewExecPolicy(utils.ExecGoroutines, 3))
	require.NoError(t, err)
	return
}

func setUniform(y *state.StateVector) {
	vals := []float64{4, .5, .3, .1, 2}
	for v := 0; v < state.NFluid; v++ {
		f := y.Field(v)
		for i := range f {
			f[i] = vals[v]
		}
	}
	for cell := 0; cell < y.NCells(); cell++ {
		for v := range y.ChemCell(cell) {
			y.ChemCell(cell)[v] = float64(v+1) / float64(y.NChem)
		}
	}
}

func TestWENO5(t *testing.T) {
	{ // Test linear data is reconstructed exactly from both sides
		lin := func(i int) float64 { return 3 - 0.7*float64(i) }
		pencil := make([]float64, 12)
		for p := range pencil {
			pencil[p] = lin(p)
		}
		for f := 3; f <= 9; f++ {
			qL, qR := ReconstructFace(pencil, f)
			want := 3 - 0.7*(float64(f)-0.5)
			assert.InDelta(t, want, qL, 1e-12)
			assert.InDelta(t, want, qR, 1e-12)
		}
	}
	{ // Test a step is reconstructed without overshoot
		q := WENO5(0, 0, 0, 1, 1)
		assert.True(t, q >= -1e-12 && q < 1e-6)
		q = WENO5(1, 1, 1, 0, 0)
		assert.True(t, q <= 1+1e-12 && q > 1-1e-6)
	}
	{ // Test constant data
		assert.Equal(t, 0.3, WENO5(.3, .3, .3, .3, .3))
	}
}

func TestNumericalFlux(t *testing.T) {
	gas := NewGas(1.4)
	q := []float64{1.2, 0.3, -0.2, 0.1, 2.5, 0.7}
	F, FL, FR := make([]float64, 6), make([]float64, 6), make([]float64, 6)
	for _, ft := range []FluxType{FLUX_Rusanov, FLUX_HLL} {
		for ax := 0; ax < 3; ax++ {
			require.NoError(t, gas.NumericalFlux(ft, ax, q, q, FL, FR, F))
			var (
				un = q[1+ax] / q[0]
				p  = gas.GetFlowFunctionBase(q[0], q[1], q[2], q[3], q[4], StaticPressure)
			)
			assert.InDelta(t, q[1+ax], F[0], 1e-14)
			assert.InDelta(t, q[1+ax]*un+p, F[1+ax], 1e-14)
			assert.InDelta(t, (q[4]+p)*un, F[4], 1e-14)
			assert.InDelta(t, q[5]*un, F[5], 1e-14)
		}
	}
	bad := []float64{-1, 0, 0, 0, 1, 0}
	err := gas.NumericalFlux(FLUX_HLL, 0, q, bad, FL, FR, F)
	assert.ErrorIs(t, err, ErrNegativeDensity)
	bad = []float64{1, 3, 0, 0, 1, 0}
	err = gas.NumericalFlux(FLUX_Rusanov, 0, bad, q, FL, FR, F)
	assert.ErrorIs(t, err, ErrNegativePressure)
	assert.True(t, IsRecoverable(err))
	assert.Equal(t, FLUX_HLL, NewFluxType("HLL"))
	assert.Panics(t, func() { NewFluxType("roe") })
}

func TestFlowFunctions(t *testing.T) {
	gas := NewGas(0)
	assert.Equal(t, 1.4, gas.Gamma)
	var (
		rho, mx, my, mz, E = 4., .5, .3, .1, 2.
		ke                 = 0.5 * (mx*mx + my*my + mz*mz) / rho
		p                  = 0.4 * (E - ke)
	)
	assert.InDelta(t, p, gas.GetFlowFunctionBase(rho, mx, my, mz, E, StaticPressure), 1e-15)
	assert.InDelta(t, math.Sqrt(1.4*p/rho), gas.GetFlowFunctionBase(rho, mx, my, mz, E, SoundSpeed), 1e-15)
	assert.InDelta(t, E-ke, gas.GetFlowFunctionBase(rho, mx, my, mz, E, InternalEnergy), 1e-15)
	assert.InDelta(t, .025, gas.GetFlowFunctionQQ([5]float64{rho, mx, my, mz, E}, ZVelocity), 1e-15)
	assert.Equal(t, "ZMomentum", ZMomentum.String())
}

func TestSmokeUniformState(t *testing.T) {
	for _, bc := range []grid.BCType{grid.BCPeriodic, grid.BCNeumann} {
		for _, ft := range []FluxType{FLUX_Rusanov, FLUX_HLL} {
			err := cluster.Run(2, func(ctx *cluster.Context) error {
				c := newEngine(t, ctx, [3]int{8, 5, 4}, 2, 10, bc, ft)
				y := state.New(ctx, c.Tile.N, 10)
				ydot := y.CloneEmpty()
				setUniform(y)
				if err := c.RHS(0, y, ydot); err != nil {
					return err
				}
				for v := 0; v < ydot.NFields(); v++ {
					for _, r := range ydot.Field(v) {
						if !assert.InDelta(t, 0, r, 1e-12) {
							return nil
						}
					}
				}
				return nil
			})
			require.NoError(t, err)
		}
	}
}

func TestConservativeDivergence(t *testing.T) {
	// On a periodic domain the divergence telescopes: the sum of the RHS over
	// all cells vanishes for every conserved variable
	var (
		sums = make([][]float64, 4)
	)
	err := cluster.Run(4, func(ctx *cluster.Context) error {
		c := newEngine(t, ctx, [3]int{12, 8, 6}, 4, 1, grid.BCPeriodic, FLUX_Rusanov)
		y := state.New(ctx, c.Tile.N, 1)
		ydot := y.CloneEmpty()
		tile := c.Tile
		for k := 0; k < tile.N[2]; k++ {
			for j := 0; j < tile.N[1]; j++ {
				for i := 0; i < tile.N[0]; i++ {
					x, yy, z := c.Grid.CellCenter(i+tile.Offset[0], j+tile.Offset[1], k+tile.Offset[2])
					cell := y.Idx(i, j, k)
					rho := 1 + 0.2*math.Sin(2*math.Pi*x)*math.Cos(2*math.Pi*yy)
					if x > 0.5 {
						rho += 0.5 // a contact discontinuity
					}
					y.Field(state.Rho)[cell] = rho
					y.Field(state.MX)[cell] = 0.3 * rho
					y.Field(state.MY)[cell] = -0.1 * rho * math.Sin(2*math.Pi*z)
					y.Field(state.MZ)[cell] = 0.05 * rho
					y.Field(state.ET)[cell] = 2.5 + 0.1*math.Cos(2*math.Pi*z)
					y.ChemCell(cell)[0] = 0.1 * rho
				}
			}
		}
		if err := c.RHS(0, y, ydot); err != nil {
			return err
		}
		sums[ctx.Rank] = make([]float64, 6)
		for v := 0; v < 6; v++ {
			sums[ctx.Rank][v] = ydot.Sum(v)
		}
		return nil
	})
	require.NoError(t, err)
	for v := 0; v < 6; v++ {
		assert.InDelta(t, 0, sums[0][v], 1e-9)
	}
}

func TestForcingAndFailures(t *testing.T) {
	{ // Test forcing is added to the divergence
		ctx := cluster.Single()
		c := newEngine(t, ctx, [3]int{4, 4, 4}, 1, 0, grid.BCPeriodic, FLUX_HLL)
		c.Force = func(t float64, y, force *state.StateVector) error {
			f := force.Field(state.ET)
			for i := range f {
				f[i] = t
			}
			return nil
		}
		y := state.New(ctx, c.Tile.N, 0)
		ydot := y.CloneEmpty()
		setUniform(y)
		require.NoError(t, c.RHS(0.25, y, ydot))
		assert.InDelta(t, 0.25, ydot.Field(state.ET)[13], 1e-12)
		assert.InDelta(t, 0, ydot.Field(state.Rho)[13], 1e-12)
		assert.Equal(t, 1, c.NRHS)
	}
	{ // Test a negative density on one rank fails the RHS on every rank
		errs := make([]error, 2)
		err := cluster.Run(2, func(ctx *cluster.Context) error {
			c := newEngine(t, ctx, [3]int{8, 4, 4}, 2, 0, grid.BCPeriodic, FLUX_Rusanov)
			y := state.New(ctx, c.Tile.N, 0)
			ydot := y.CloneEmpty()
			setUniform(y)
			if ctx.Rank == 1 {
				y.Field(state.Rho)[5] = -1
			}
			errs[ctx.Rank] = c.RHS(0, y, ydot)
			return nil
		})
		require.NoError(t, err)
		assert.ErrorIs(t, errs[0], ErrRemoteFailure)
		assert.ErrorIs(t, errs[1], ErrNegativeDensity)
		var fe *FaceError
		assert.True(t, errors.As(errs[1], &fe))
		for _, e := range errs {
			assert.True(t, IsRecoverable(e))
		}
	}
}

func TestStableStep(t *testing.T) {
	ctx := cluster.Single()
	c := newEngine(t, ctx, [3]int{10, 5, 4}, 1, 0, grid.BCPeriodic, FLUX_Rusanov)
	y := state.New(ctx, c.Tile.N, 0)
	setUniform(y)
	dt, err := c.StableStep(y, 0.5)
	require.NoError(t, err)
	var (
		p    = c.Gas.GetFlowFunctionBase(4, .5, .3, .1, 2, StaticPressure)
		cs   = math.Sqrt(1.4 * p / 4)
		want = math.Inf(1)
	)
	for ax, m := range []float64{.5, .3, .1} {
		want = math.Min(want, c.Grid.D[ax]/(m/4+cs))
	}
	assert.InDelta(t, 0.5*want, dt, 1e-14)
	y.Field(state.ET)[0] = -5
	_, err = c.StableStep(y, 0.5)
	assert.True(t, IsRecoverable(err))
}
