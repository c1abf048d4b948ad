package problems

import (
	"fmt"

	"github.com/notargets/chemhydro/chemistry/primordial"
	"github.com/notargets/chemhydro/integrator"
	"github.com/notargets/chemhydro/linsolve"
	"github.com/notargets/chemhydro/model_problems/Euler3D"
	"github.com/notargets/chemhydro/state"
	"github.com/notargets/chemhydro/utils"
)

var _ integrator.Problem = &ChemHydro{}

// ChemHydro splits the composite right hand side: hydrodynamics, including
// the advection of the chemistry block, is explicit and the chemistry network
// is implicit. The chemistry block of the solution is carried scaled by the
// network; Net is nil for hydro only runs.
type ChemHydro struct {
	UD    *UserData
	Euler *Euler3D.Euler
	Net   *primordial.Network
	work  *state.StateVector // Chemistry block unscaled for advection
}

func NewChemHydro(ud *UserData, euler *Euler3D.Euler, net *primordial.Network) (ch *ChemHydro, err error) {
	ch = &ChemHydro{UD: ud, Euler: euler, Net: net}
	if net == nil {
		return
	}
	if ud.NChem != primordial.NSpecies {
		return nil, fmt.Errorf("primordial network needs nchem = %d, have %d", primordial.NSpecies, ud.NChem)
	}
	if ncells := ud.Tile.N[0] * ud.Tile.N[1] * ud.Tile.N[2]; net.NCells != ncells {
		return nil, fmt.Errorf("network has %d cells, tile has %d", net.NCells, ncells)
	}
	return
}

// Prepare takes the network scale from the physical chemistry block of y
// and leaves y scaled, ready for the integrator
func (ch *ChemHydro) Prepare(y *state.StateVector) {
	if ch.Net == nil || y.NChem == 0 {
		return
	}
	chem := y.Field(state.Chem)
	ch.Net.SetScale(chem)
	ch.Net.UnapplyScaling(chem)
}

// Physical returns a copy of y with the chemistry block in physical units
func (ch *ChemHydro) Physical(y *state.StateVector) (p *state.StateVector) {
	p = y.Clone()
	if ch.Net != nil && p.NChem > 0 {
		ch.Net.ApplyScaling(p.Field(state.Chem))
	}
	return
}

func (ch *ChemHydro) euler(t float64, y, ydot *state.StateVector) (err error) {
	if err = ch.Euler.RHS(t, y, ydot); err != nil && Euler3D.IsRecoverable(err) {
		err = fmt.Errorf("%w: %w", integrator.ErrRecoverable, err)
	}
	return
}

// Fexpl is the hydrodynamic tendency. With the network, the chemistry block
// is advected in physical units and the gas energy follows the change of
// internal energy of the fluid, which leaves the fluid energy unchanged here.
func (ch *ChemHydro) Fexpl(t float64, y, ydot *state.StateVector) (err error) {
	if ch.Net == nil || y.NChem == 0 {
		return ch.euler(t, y, ydot)
	}
	if ch.work == nil {
		ch.work = y.CloneEmpty()
	}
	ch.work.Copy(y)
	ch.Net.ApplyScaling(ch.work.Field(state.Chem))
	if err = ch.euler(t, ch.work, ydot); err != nil {
		return
	}
	var (
		u                   = ch.UD.Units
		rho, mx, my, mz     = y.Field(state.Rho), y.Field(state.MX), y.Field(state.MY), y.Field(state.MZ)
		drho, dmx, dmy, dmz = ydot.Field(state.Rho), ydot.Field(state.MX), ydot.Field(state.MY), ydot.Field(state.MZ)
		det                 = ydot.Field(state.ET)
		chem                = ch.work.Field(state.Chem)
		dchem               = ydot.Field(state.Chem)
		inv                 = ch.Net.InvScale
	)
	for i := range dchem {
		dchem[i] *= inv[i]
	}
	for cell := 0; cell < y.NCells(); cell++ {
		var (
			r   = rho[cell]
			ke2 = mx[cell]*mx[cell] + my[cell]*my[cell] + mz[cell]*mz[cell]
			mdm = mx[cell]*dmx[cell] + my[cell]*dmy[cell] + mz[cell]*dmz[cell]
			dIE = det[cell] - (mdm/r - 0.5*ke2*drho[cell]/(r*r))
			g   = cell*primordial.NSpecies + primordial.Ge
			dge = (dIE*u.Energy - chem[g]*drho[cell]*u.Density) / (r * u.Density)
		)
		dchem[g] = dge * inv[g]
		det[cell] = 0
	}
	return
}

// Fimpl is the network tendency per code time unit
func (ch *ChemHydro) Fimpl(t float64, y, ydot *state.StateVector) (err error) {
	for v := 0; v < state.NFluid; v++ {
		clear(ydot.Field(v))
	}
	if y.NChem == 0 {
		return
	}
	return ch.ImplicitBlock()(y.Field(state.Chem), ydot.Field(state.Chem))
}

// ImplicitBlock is the chemistry block of Fimpl, zero without a network
func (ch *ChemHydro) ImplicitBlock() linsolve.RHSFunc {
	return func(y, ydot []float64) (err error) {
		if ch.Net == nil {
			clear(ydot)
			return
		}
		if err = ch.Net.RHS(y, ydot); err != nil {
			return
		}
		tu := ch.UD.Units.Time
		for i := range ydot {
			ydot[i] *= tu
		}
		return
	}
}

func (ch *ChemHydro) Jimpl(t float64, y *state.StateVector, J utils.BlockMatrix) (err error) {
	if ch.Net == nil {
		J.Zero()
		return
	}
	chem := y.Field(state.Chem)
	switch jm := J.(type) {
	case *utils.BlockCSR:
		err = ch.Net.JacobianCSR(chem, jm)
	case *utils.BlockDense:
		err = ch.Net.JacobianDense(chem, jm.Data)
	default:
		panic(fmt.Errorf("unable to fill a jacobian of type %T", J))
	}
	if err != nil {
		return
	}
	J.Scale(ch.UD.Units.Time)
	return
}

// NewJacobian allocates the matrix the solver kind factors. Without a
// network the pattern is the block diagonal.
func (ch *ChemHydro) NewJacobian(kind linsolve.SolverType) utils.BlockMatrix {
	ncells := ch.UD.Tile.N[0] * ch.UD.Tile.N[1] * ch.UD.Tile.N[2]
	if ch.Net != nil {
		if kind == linsolve.SolverSparse {
			return ch.Net.NewJacobian()
		}
		return kind.NewMatrix(ncells, primordial.NSpecies, nil, nil)
	}
	if ch.UD.NChem == 0 {
		return nil
	}
	var (
		nc             = ch.UD.NChem
		rowPtr, colIdx = make([]int, nc+1), make([]int, nc)
	)
	for i := 0; i < nc; i++ {
		rowPtr[i+1], colIdx[i] = i+1, i
	}
	return kind.NewMatrix(ncells, nc, rowPtr, colIdx)
}

// Postprocess rejects non finite states and makes the fluid energy
// consistent with the gas energy after each step
func (ch *ChemHydro) Postprocess(t float64, y *state.StateVector) (err error) {
	for v := 0; v < y.NFields(); v++ {
		if i := utils.FirstNonFinite(y.Field(v)); i >= 0 {
			return fmt.Errorf("%w: non finite %s at index %d", integrator.ErrRecoverable, state.FieldNames[v], i)
		}
	}
	if ch.Net == nil || y.NChem == 0 {
		return
	}
	var (
		u               = ch.UD.Units
		rho, mx, my, mz = y.Field(state.Rho), y.Field(state.MX), y.Field(state.MY), y.Field(state.MZ)
		et              = y.Field(state.ET)
		chem            = y.Field(state.Chem)
		scale           = ch.Net.Scale
	)
	for cell := 0; cell < y.NCells(); cell++ {
		r := rho[cell]
		if !(r > 0) {
			return fmt.Errorf("%w: density %g at cell %d", integrator.ErrRecoverable, r, cell)
		}
		g := cell*primordial.NSpecies + primordial.Ge
		ke := 0.5 * (mx[cell]*mx[cell] + my[cell]*my[cell] + mz[cell]*mz[cell]) / r
		et[cell] = r*u.Density*chem[g]*scale[g]/u.Energy + ke
	}
	return
}

// Stability is the CFL step limit, none when the CFL number is not positive
func (ch *ChemHydro) Stability(t float64, y *state.StateVector) (h float64, err error) {
	if ch.UD.CFL <= 0 {
		return
	}
	if h, err = ch.Euler.StableStep(y, ch.UD.CFL); err != nil && Euler3D.IsRecoverable(err) {
		err = fmt.Errorf("%w: %w", integrator.ErrRecoverable, err)
	}
	return
}
