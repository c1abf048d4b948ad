package Euler3D

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/grid"
	"github.com/notargets/chemhydro/halo"
	"github.com/notargets/chemhydro/state"
	"github.com/notargets/chemhydro/utils"
)

// ForceFunc adds problem specific source terms into force, which is zeroed
// before each call
type ForceFunc func(t float64, y, force *state.StateVector) error

// Euler evaluates the explicit hydrodynamic right hand side over one tile
type Euler struct {
	Ctx          *cluster.Context
	Grid         *grid.Grid
	Tile         *grid.Tile
	Gas          *Gas
	FluxCalcAlgo FluxType
	NChem        int
	Halo         *halo.Exchanger
	Force        ForceFunc
	Exec         *utils.ExecPolicy
	Log          logrus.FieldLogger
	NRHS         int // Number of RHS evaluations
	force        *state.StateVector
}

func NewEuler(ctx *cluster.Context, g *grid.Grid, tile *grid.Tile, Gamma float64,
	fluxType FluxType, nchem int, exec *utils.ExecPolicy) (c *Euler, err error) {
	c = &Euler{
		Ctx:          ctx,
		Grid:         g,
		Tile:         tile,
		Gas:          NewGas(Gamma),
		FluxCalcAlgo: fluxType,
		NChem:        nchem,
		Exec:         exec,
		Log:          logrus.StandardLogger(),
		force:        state.New(ctx, tile.N, nchem),
	}
	if c.Halo, err = halo.NewExchanger(ctx, g, tile, nchem); err != nil {
		return
	}
	return
}

func (c *Euler) NV() int { return state.NFluid + c.NChem }

// RHS sets ydot = -dF/dx - dG/dy - dH/dz + force. It is collective: a
// reconstruction failure on any rank is returned on every rank.
func (c *Euler) RHS(t float64, y, ydot *state.StateVector) (err error) {
	var (
		failed int
	)
	c.NRHS++
	if err = c.Halo.Exchange(y); err != nil {
		return
	}
	ydot.Const(0)
	for ax := 0; ax < 3 && err == nil; ax++ {
		err = c.sweep(ax, ydot)
	}
	if err == nil && c.Force != nil {
		c.force.Const(0)
		if err = c.Force(t, y, c.force); err == nil {
			ydot.LinearSum(1, ydot, 1, c.force)
		}
	}
	if err != nil {
		failed = 1
		c.Log.WithFields(logrus.Fields{"rank": c.Ctx.Rank, "t": t}).Debug(err)
	}
	if cluster.AllreduceScalar(c.Ctx, cluster.OpMax, failed) > 0 && err == nil {
		err = ErrRemoteFailure
	}
	return
}

// sweep accumulates the flux divergence along axis ax into ydot
func (c *Euler) sweep(ax int, ydot *state.StateVector) (err error) {
	var (
		h      = c.Halo
		N      = c.Tile.N
		n      = N[ax]
		t1, t2 = (ax + 1) % 3, (ax + 2) % 3
		NV     = c.NV()
		oodx   = 1. / c.Grid.D[ax]
		stride = h.Stride[ax]
	)
	return c.Exec.ForEach(N[t1]*N[t2], func(kMin, kMax int) (err error) {
		var (
			pencil = make([][]float64, NV)
			qL, qR = make([]float64, NV), make([]float64, NV)
			FL, FR = make([]float64, NV), make([]float64, NV)
			flux   = make([]float64, (n+1)*NV)
			fluid  [state.NFluid][]float64
			chem   []float64
			cc     [3]int
		)
		for v := 0; v < state.NFluid; v++ {
			fluid[v] = ydot.Field(v)
		}
		if c.NChem > 0 {
			chem = ydot.Field(state.Chem)
		}
		for v := range pencil {
			pencil[v] = make([]float64, n+2*halo.Width)
		}
		for kk := kMin; kk < kMax; kk++ {
			cc[ax], cc[t1], cc[t2] = -halo.Width, kk%N[t1], kk/N[t1]
			base := h.Idx(cc[0], cc[1], cc[2])
			for v := 0; v < NV; v++ {
				ext := h.Ext[v]
				for p := range pencil[v] {
					pencil[v][p] = ext[base+p*stride]
				}
			}
			if ax == 0 { // cell states, once per cell
				for p := halo.Width; p < n+halo.Width; p++ {
					for v := 0; v < state.NFluid; v++ {
						qL[v] = pencil[v][p]
					}
					if _, ok := c.Gas.primitives(qL, 0); !ok {
						cc[ax] = p - halo.Width
						return &FaceError{Rank: c.Tile.Rank, Axis: ax, Cell: cc, Wrapped: c.Gas.faceError(qL)}
					}
				}
			}
			for f := halo.Width; f <= n+halo.Width; f++ {
				for v := 0; v < NV; v++ {
					qL[v], qR[v] = ReconstructFace(pencil[v], f)
				}
				F := flux[(f-halo.Width)*NV : (f-halo.Width+1)*NV]
				if err = c.Gas.NumericalFlux(c.FluxCalcAlgo, ax, qL, qR, FL, FR, F); err != nil {
					cc[ax] = f - halo.Width
					return &FaceError{Rank: c.Tile.Rank, Axis: ax, Cell: cc, Wrapped: err}
				}
			}
			for i := 0; i < n; i++ {
				cc[ax] = i
				var (
					cell   = ydot.Idx(cc[0], cc[1], cc[2])
					Fm, Fp = flux[i*NV : (i+1)*NV], flux[(i+1)*NV : (i+2)*NV]
				)
				for v := 0; v < state.NFluid; v++ {
					fluid[v][cell] -= (Fp[v] - Fm[v]) * oodx
				}
				for v := 0; v < c.NChem; v++ {
					chem[cell*c.NChem+v] -= (Fp[state.NFluid+v] - Fm[state.NFluid+v]) * oodx
				}
			}
		}
		return
	})
}

// StableStep returns cfl * min over all cells and axes of dx/(|u|+c),
// reduced over the cluster. An unphysical cell gives a recoverable error on
// every rank.
func (c *Euler) StableStep(y *state.StateVector, cfl float64) (dt float64, err error) {
	var (
		q      = make([]float64, state.NFluid)
		localM = math.Inf(1)
		failed float64
	)
	for cell := 0; cell < y.NCells(); cell++ {
		for v := 0; v < state.NFluid; v++ {
			q[v] = y.Field(v)[cell]
		}
		for ax := 0; ax < 3; ax++ {
			s, ok := c.Gas.MaxWaveSpeed(q, ax)
			if !ok {
				failed = 1
				continue
			}
			if s > 0 {
				localM = math.Min(localM, c.Grid.D[ax]/s)
			}
		}
	}
	red := cluster.Allreduce(c.Ctx, cluster.OpMin, []float64{localM, -failed})
	if red[1] < 0 {
		err = fmt.Errorf("stability estimate: %w", ErrNegativePressure)
		return
	}
	dt = cfl * red[0]
	return
}

// IsRecoverable reports whether err can be retried with a smaller step
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

func (c *Euler) Print() {
	fmt.Printf("Euler Equations in 3 Dimensions\n")
	fmt.Printf("Algorithm: WENO5 reconstruction, %s flux\n", c.FluxCalcAlgo.Print())
	fmt.Printf("gamma = %8.5f, passive scalars = %d\n", c.Gas.Gamma, c.NChem)
	if c.Exec != nil {
		fmt.Printf("Execution: %s, parallel degree %d\n", c.Exec.Kind.Print(), c.Exec.ParallelDegree)
	}
}
