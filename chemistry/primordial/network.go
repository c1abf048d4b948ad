// Package primordial evaluates the nine species primordial hydrogen and
// helium network with a gas energy equation: the temperature solve, the
// reaction and cooling right hand side and its analytic Jacobian.
package primordial

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/notargets/chemhydro/chemistry/ratetable"
	"github.com/notargets/chemhydro/utils"
)

var (
	ErrRecoverable     = errors.New("primordial: recoverable failure")
	ErrNegativeDensity = fmt.Errorf("%w: negative mixture density", ErrRecoverable)
	ErrNonFinite       = fmt.Errorf("%w: non finite temperature", ErrRecoverable)
)

// CellError reports the cell where an evaluation failed
type CellError struct {
	Cell     int
	MDensity float64
	Wrapped  error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("cell %d (mass density %g): %v", e.Cell, e.MDensity, e.Wrapped)
}

func (e *CellError) Unwrap() error { return e.Wrapped }

func (e *CellError) Recoverable() bool { return errors.Is(e.Wrapped, ErrRecoverable) }

const (
	DefaultNewtonIters = 10
	DefaultTSeed       = 1000. // K, first temperature guess in every cell
)

// Network evaluates the chemistry block of NCells cells. The block holds
// scaled values: the physical value of field s in cell i is
// y[i*NSpecies+s]*Scale[i*NSpecies+s].
type Network struct {
	Rates       *ratetable.Set
	NCells      int
	Scale       []float64
	InvScale    []float64
	Redshift    float64
	NewtonIters int     // Temperature iterations per evaluation
	NewtonTol   float64 // Relative change that ends the iteration early, 0 runs all NewtonIters
	Exec        *utils.ExecPolicy
	Log         logrus.FieldLogger
	Ts          []float64 // Temperature of each cell from the last evaluation, used as the next seed
	TsGe        []float64 // dT/dge of each cell
	NRHS, NJac  int
	rateIdx     [nReactions]int
	coolIdx     [nCooling]int
	gammaIdx    [4]int
}

func NewNetwork(rates *ratetable.Set, ncells int, exec *utils.ExecPolicy) (nw *Network, err error) {
	if ncells < 1 {
		return nil, fmt.Errorf("primordial network needs at least one cell, have %d", ncells)
	}
	nw = &Network{
		Rates:       rates,
		NCells:      ncells,
		Scale:       utils.ConstArray(ncells*NSpecies, 1),
		InvScale:    utils.ConstArray(ncells*NSpecies, 1),
		Redshift:    rates.Redshift,
		NewtonIters: DefaultNewtonIters,
		Exec:        exec,
		Log:         logrus.StandardLogger(),
		Ts:          utils.ConstArray(ncells, DefaultTSeed),
		TsGe:        make([]float64, ncells),
	}
	var idx []int
	if idx, err = rates.Require(RateNames); err != nil {
		return nil, err
	}
	copy(nw.rateIdx[:], idx)
	if idx, err = rates.Require(CoolingNames); err != nil {
		return nil, err
	}
	copy(nw.coolIdx[:], idx)
	if idx, err = rates.Require(GammaNames); err != nil {
		return nil, err
	}
	copy(nw.gammaIdx[:], idx)
	return
}

func (nw *Network) Len() int { return nw.NCells * NSpecies }

// SetScale takes the per field scale from the magnitudes of a physical
// state, so that the scaled state is of order one. Zero entries scale by 1.
func (nw *Network) SetScale(phys []float64) {
	nw.checkLen(phys)
	for i, v := range phys {
		s := math.Abs(v)
		if !(s > 0) || math.IsInf(s, 0) {
			s = 1
		}
		nw.Scale[i] = s
		nw.InvScale[i] = 1. / s
	}
}

// ApplyScaling converts a scaled chemistry block to physical units in place
func (nw *Network) ApplyScaling(y []float64) {
	nw.checkLen(y)
	for i := range y {
		y[i] *= nw.Scale[i]
	}
}

// UnapplyScaling converts a physical chemistry block to scaled units in place
func (nw *Network) UnapplyScaling(y []float64) {
	nw.checkLen(y)
	for i := range y {
		y[i] *= nw.InvScale[i]
	}
}

func (nw *Network) checkLen(y []float64) {
	if len(y) != nw.Len() {
		err := fmt.Errorf("chemistry block has %d values, network has %d", len(y), nw.Len())
		panic(err)
	}
}

// load unscales cell i of y into w and computes its mixture properties
func (nw *Network) load(y []float64, i int, w *cell) (err error) {
	j := i * NSpecies
	for s := 0; s < NSpecies; s++ {
		w.n[s] = y[j+s] * nw.Scale[j+s]
	}
	w.z = nw.Redshift
	if !w.mixture() {
		return &CellError{Cell: i, MDensity: w.mdensity, Wrapped: ErrNegativeDensity}
	}
	return
}

// temperature runs the Newton iteration for T from the seed Ts[i] and stores
// the result and dT/dge back into Ts, TsGe. A non finite result leaves the
// seed in place.
func (nw *Network) temperature(i int, w *cell) (err error) {
	var (
		rs      = nw.Rates
		n       = &w.n
		ge      = n[Ge]
		density = w.mdensity / mHydrogen
		kDen    = kBoltzmann / (density * mHydrogen)
		gm1     = 1. / (gammaMono - 1)
		mono    = (n[H_1] + n[H_2] + n[H_m0] + n[He_1] + n[He_2] + n[He_3] + n[De]) * gm1
		T       = nw.Ts[i]
		Tnew    = T
		dgedT   float64
		iters   = nw.NewtonIters
	)
	if iters < 1 {
		iters = 1
	}
	for it := 0; it < iters; it++ {
		T = Tnew
		loc := rs.Locate(T)
		g1, _ := rs.Interpolate(nw.gammaIdx[0], loc)
		dg1, _ := rs.Interpolate(nw.gammaIdx[1], loc)
		g2, _ := rs.Interpolate(nw.gammaIdx[2], loc)
		dg2, _ := rs.Interpolate(nw.gammaIdx[3], loc)
		var (
			r1  = 1. / (g1 - 1)
			r2  = 1. / (g2 - 1)
			sum = n[H2_1]*r1 + n[H2_2]*r2 + mono
		)
		dgedT = T*kDen*(-n[H2_1]*r1*r1*dg1-n[H2_2]*r2*r2*dg2) + kDen*sum
		dge := T*kDen*sum - ge
		Tnew = T - dge/dgedT
		if nw.NewtonTol > 0 && math.Abs(Tnew-T) <= nw.NewtonTol*math.Abs(Tnew) {
			break
		}
	}
	Tnew = math.Max(rs.TLow, math.Min(rs.THigh, Tnew))
	Tge := 1. / dgedT
	if !finite(ge) || !finite(Tnew) || !finite(Tge) {
		return &CellError{Cell: i, MDensity: w.mdensity, Wrapped: ErrNonFinite}
	}
	w.T, w.Tge = Tnew, Tge
	nw.Ts[i], nw.TsGe[i] = w.T, w.Tge
	return
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// interpolate looks up every rate and cooling coefficient at w.T
func (nw *Network) interpolate(w *cell) {
	loc := nw.Rates.Locate(w.T)
	for r, ti := range nw.rateIdx {
		w.k[r], w.dk[r] = nw.Rates.Interpolate(ti, loc)
	}
	for c, ti := range nw.coolIdx {
		w.c[c], w.dc[c] = nw.Rates.Interpolate(ti, loc)
	}
}

func (nw *Network) prepare(y []float64, i int, w *cell) (err error) {
	if err = nw.load(y, i, w); err != nil {
		return
	}
	if err = nw.temperature(i, w); err != nil {
		return
	}
	nw.interpolate(w)
	return
}

// rhs writes the scaled time derivative of cell i from a prepared w
func (nw *Network) rhs(i int, w *cell, ydot []float64) {
	j := i * NSpecies
	out := ydot[j : j+NSpecies]
	w.production(out)
	C, _, _ := w.cooling()
	out[Ge] = C / w.mdensity
	for s := range out {
		out[s] *= nw.InvScale[j+s]
	}
}

// RHS sets ydot to the chemistry time derivative of y, both scaled. A
// negative mixture density in any cell is returned as a recoverable error.
func (nw *Network) RHS(y, ydot []float64) (err error) {
	nw.checkLen(y)
	nw.checkLen(ydot)
	nw.NRHS++
	return nw.Exec.ForEach(nw.NCells, func(kMin, kMax int) (err error) {
		var w cell
		for i := kMin; i < kMax; i++ {
			if err = nw.prepare(y, i, &w); err != nil {
				return
			}
			nw.rhs(i, &w, ydot)
		}
		return
	})
}

// jacobianCell calls add with every scaled Jacobian entry of cell i. The ge
// row is differentiated with the mixture density held fixed.
func (nw *Network) jacobianCell(i int, w *cell, add func(row, col int, v float64)) {
	var (
		j      = i * NSpecies
		scaled = func(row, col int, v float64) {
			add(row, col, v*nw.InvScale[j+row]*nw.Scale[j+col])
		}
	)
	w.productionJacobian(scaled)
	_, dn, dT := w.cooling()
	imd := 1. / w.mdensity
	for _, s := range []int{H2_1, H_1, H_2, He_1, He_2, He_3, De} {
		scaled(Ge, s, dn[s]*imd)
	}
	scaled(Ge, Ge, dT*w.Tge*imd)
}

// JacobianCSR fills J, one block per cell, with the scaled Jacobian at y
func (nw *Network) JacobianCSR(y []float64, J *utils.BlockCSR) (err error) {
	nw.checkLen(y)
	if J.NBlocks != nw.NCells || J.BlockDim != NSpecies || J.NNZ != NSparse {
		return fmt.Errorf("jacobian has %d blocks of dim %d, network has %d cells of %d fields",
			J.NBlocks, J.BlockDim, nw.NCells, NSpecies)
	}
	nw.NJac++
	J.Zero()
	return nw.Exec.ForEach(nw.NCells, func(kMin, kMax int) (err error) {
		var w cell
		for i := kMin; i < kMax; i++ {
			if err = nw.prepare(y, i, &w); err != nil {
				return
			}
			block := J.Block(i)
			nw.jacobianCell(i, &w, func(row, col int, v float64) {
				slot := jacSlot[row][col]
				if slot < 0 {
					panic(fmt.Errorf("jacobian entry (%d,%d) outside the block pattern", row, col))
				}
				block[slot] += v
			})
		}
		return
	})
}

// JacobianDense fills dst with one row major NSpecies x NSpecies block per cell
func (nw *Network) JacobianDense(y, dst []float64) (err error) {
	nw.checkLen(y)
	nb := NSpecies * NSpecies
	if len(dst) != nw.NCells*nb {
		return fmt.Errorf("dense jacobian has %d values, want %d", len(dst), nw.NCells*nb)
	}
	nw.NJac++
	for i := range dst {
		dst[i] = 0
	}
	return nw.Exec.ForEach(nw.NCells, func(kMin, kMax int) (err error) {
		var w cell
		for i := kMin; i < kMax; i++ {
			if err = nw.prepare(y, i, &w); err != nil {
				return
			}
			block := dst[i*nb : (i+1)*nb]
			nw.jacobianCell(i, &w, func(row, col int, v float64) {
				block[row*NSpecies+col] += v
			})
		}
		return
	})
}

// NewJacobian allocates a block CSR matrix with the network pattern
func (nw *Network) NewJacobian() *utils.BlockCSR {
	return utils.NewBlockCSR(nw.NCells, NSpecies, JacRowPtr, JacColIdx)
}

// Temperatures computes the temperature of every cell of y without
// evaluating rates, for diagnostics
func (nw *Network) Temperatures(y []float64) (T []float64, err error) {
	nw.checkLen(y)
	T = make([]float64, nw.NCells)
	err = nw.Exec.ForEach(nw.NCells, func(kMin, kMax int) (err error) {
		var w cell
		for i := kMin; i < kMax; i++ {
			if err = nw.load(y, i, &w); err != nil {
				return
			}
			if err = nw.temperature(i, &w); err != nil {
				return
			}
			T[i] = w.T
		}
		return
	})
	return
}

// GasEnergy is the specific gas energy (erg/g) of a cell with physical
// number densities n at temperature T, using the monatomic gamma for all
// species. It is the inverse of the temperature solve when H2 is absent.
func GasEnergy(n []float64, T float64) float64 {
	var (
		ndens, rho float64
	)
	for s := 0; s < De; s++ {
		ndens += n[s]
		rho += Weights[s] * n[s]
	}
	ndens += n[De]
	return kBoltzmann * T * ndens / (rho * mHydrogen * (gammaMono - 1))
}

func (nw *Network) Print() {
	fmt.Printf("Primordial chemistry: %d species + gas energy, %d cells\n", NSpecies-1, nw.NCells)
	fmt.Printf("Temperature solve: %d Newton iterations", nw.NewtonIters)
	if nw.NewtonTol > 0 {
		fmt.Printf(", relative tolerance %g", nw.NewtonTol)
	}
	fmt.Printf("\nRedshift = %g\n", nw.Redshift)
}
