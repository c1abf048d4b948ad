// Package problems holds the test cases of the chemistry hydro driver: their
// initial conditions and forcing, and the coupling of the hydro solver and
// the chemistry network into one split right hand side.
package problems

import (
	"fmt"
	"strings"

	"github.com/notargets/chemhydro/chemistry/primordial"
	"github.com/notargets/chemhydro/grid"
	"github.com/notargets/chemhydro/model_problems/Euler3D"
	"github.com/notargets/chemhydro/state"
)

type ProblemType uint8

const (
	CompileTest ProblemType = iota
	FluidBlast
	PrimordialBlast
)

var (
	ProblemNames = map[string]ProblemType{
		"compile":          CompileTest,
		"compile_test":     CompileTest,
		"fluid_blast":      FluidBlast,
		"fluidblast":       FluidBlast,
		"primordial_blast": PrimordialBlast,
		"primordialblast":  PrimordialBlast,
	}
	ProblemPrintNames = []string{"Compile Test", "Clumpy Fluid Blast", "Clumpy Primordial Blast"}
)

func (pt ProblemType) Print() (txt string) {
	txt = ProblemPrintNames[pt]
	return
}

func ParseProblemType(label string) (pt ProblemType, err error) {
	var ok bool
	label = strings.ToLower(strings.TrimSpace(label))
	if pt, ok = ProblemNames[label]; !ok {
		err = fmt.Errorf("unable to use problem named %s", label)
	}
	return
}

func NewProblemType(label string) (pt ProblemType) {
	var err error
	if pt, err = ParseProblemType(label); err != nil {
		panic(err)
	}
	return
}

// Chemistry reports whether the problem runs the primordial network
func (pt ProblemType) Chemistry() bool { return pt == PrimordialBlast }

// Check rejects runs the problem cannot set up
func (pt ProblemType) Check(ud *UserData) (err error) {
	switch pt {
	case FluidBlast:
		if ud.NChem != 0 {
			err = fmt.Errorf("%s is pure hydrodynamics, have nchem = %d", pt.Print(), ud.NChem)
		}
	case PrimordialBlast:
		if ud.NChem != primordial.NSpecies {
			err = fmt.Errorf("%s needs nchem = %d, have %d", pt.Print(), primordial.NSpecies, ud.NChem)
		}
	}
	if err == nil && pt != CompileTest && !ud.Grid.AllBC(grid.BCReflecting) {
		err = fmt.Errorf("%s needs reflecting boundaries on every face", pt.Print())
	}
	return
}

// InitialConditions fills y at t0. The chemistry block, if any, is left in
// physical units.
func (pt ProblemType) InitialConditions(ud *UserData, t0 float64, y *state.StateVector) (err error) {
	if err = pt.Check(ud); err != nil {
		return
	}
	switch pt {
	case CompileTest:
		compileTest(ud, y)
	case FluidBlast, PrimordialBlast:
		err = blast(ud, y, pt == PrimordialBlast)
	}
	return
}

// ExternalForces is zero for every problem here
func (pt ProblemType) ExternalForces(ud *UserData) Euler3D.ForceFunc {
	return func(t float64, y, force *state.StateVector) error { return nil }
}

func compileTest(ud *UserData, y *state.StateVector) {
	var (
		rho, mx, my, mz, et = y.Field(state.Rho), y.Field(state.MX), y.Field(state.MY),
			y.Field(state.MZ), y.Field(state.ET)
	)
	for cell := 0; cell < y.NCells(); cell++ {
		rho[cell], mx[cell], my[cell], mz[cell], et[cell] = 4, 0.5, 0.3, 0.1, 2
		if y.NChem == 0 {
			continue
		}
		chem := y.ChemCell(cell)
		for v := range chem {
			chem[v] = float64(v+1) / float64(y.NChem)
		}
	}
}
