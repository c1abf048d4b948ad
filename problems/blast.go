package problems

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/notargets/chemhydro/chemistry/primordial"
	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/grid"
	"github.com/notargets/chemhydro/state"
)

const (
	ClumpsPerProc    = 10
	MinClumpRadius   = 3.  // cells
	MaxClumpRadius   = 6.  // cells
	MaxClumpStrength = 10. // overdensity at the clump center
	BlastDensity     = 10. // overdensity at the blast center
	BlastTemperature = 5.  // temperature excess at the blast center, in units of T0
	BlastRadius      = 0.1 // fraction of the smallest domain extent
	BlastCenter      = 0.5 // fraction of each domain extent

	T0        = 10.      // K, background temperature
	NH0       = 100.     // cm^-3, background hydrogen number density
	MH        = 1.67e-24 // g
	KBoltz    = 1.3806488e-16
	HFrac     = 0.76 // hydrogen mass fraction
	tinyFrac  = 1.e-40
	smallFrac = 1.e-12
	traceFrac = 1.e-3
)

// Clump is one Gaussian overdensity. The radius is in cells of the x axis.
type Clump struct {
	X, Y, Z          float64
	Radius, Strength float64
}

// NewClumps draws ClumpsPerProc clumps per rank on rank 0, from a generator
// seeded with the process count, and shares them. The result depends only
// on the process count and the domain.
func NewClumps(ctx *cluster.Context, g *grid.Grid) (clumps []Clump) {
	if ctx.IsRoot() {
		var (
			src  = rand.NewPCG(uint64(ctx.Size), 0)
			unif = func(lo, hi float64) distuv.Uniform { return distuv.Uniform{Min: lo, Max: hi, Src: src} }
			cx   = unif(g.Lo[0], g.Hi[0])
			cy   = unif(g.Lo[1], g.Hi[1])
			cz   = unif(g.Lo[2], g.Hi[2])
			cr   = unif(MinClumpRadius, MaxClumpRadius)
			cs   = unif(0, MaxClumpStrength)
		)
		clumps = make([]Clump, ClumpsPerProc*ctx.Size)
		for i := range clumps {
			clumps[i] = Clump{X: cx.Rand(), Y: cy.Rand(), Z: cz.Rand(), Radius: cr.Rand(), Strength: cs.Rand()}
		}
	}
	clumps = cluster.Bcast(ctx, 0, clumps)
	return
}

func printClumps(clumps []Clump, g *grid.Grid) {
	fmt.Printf("\nInitializing problem with %d clumps:\n", len(clumps))
	for i, c := range clumps {
		fmt.Printf("   clump %3d, center = (%10.4g,%10.4g,%10.4g), radius = %6.3f cells, strength = %6.3f\n",
			i, c.X, c.Y, c.Z, c.Radius, c.Strength)
	}
	x, y, z := blastCenter(g)
	fmt.Printf("\n'Blast' clump:\n")
	fmt.Printf("       overdensity = %g\n   overtemperature = %g\n            radius = %g\n",
		BlastDensity, BlastTemperature, BlastRadius)
	fmt.Printf("            center = %g, %g, %g\n", x, y, z)
}

func blastCenter(g *grid.Grid) (x, y, z float64) {
	x = g.Lo[0] + BlastCenter*(g.Hi[0]-g.Lo[0])
	y = g.Lo[1] + BlastCenter*(g.Hi[1]-g.Lo[1])
	z = g.Lo[2] + BlastCenter*(g.Hi[2]-g.Lo[2])
	return
}

// blastGas is the gas of one cell: mass density (g/cm^3), temperature and
// the number densities of the eight primordial species plus electrons
type blastGas struct {
	density, T float64
	n          [primordial.Ge]float64
}

func gasAt(g *grid.Grid, clumps []Clump, x, y, z float64) (gas blastGas) {
	var (
		density0 = NH0 * MH
		density  = 1.
		rsq      = func(cx, cy, cz float64) float64 {
			dx, dy, dz := x-cx, y-cy, z-cz
			return dx*dx + dy*dy + dz*dz
		}
	)
	for _, c := range clumps {
		cr := c.Radius * g.D[0]
		density += c.Strength * math.Exp(-2*rsq(c.X, c.Y, c.Z)/(cr*cr))
	}
	density *= density0
	var (
		cx, cy, cz = blastCenter(g)
		cr         = BlastRadius * math.Min(g.Hi[0]-g.Lo[0], math.Min(g.Hi[1]-g.Lo[1], g.Hi[2]-g.Lo[2]))
		r2         = rsq(cx, cy, cz) / (cr * cr)
		profile    = math.Exp(-2 * r2)
	)
	density += density0 * BlastDensity * profile
	gas.density = density
	gas.T = T0 * (1 + BlastTemperature*profile)

	// The blast is neutral H and He, the background carries traces of the rest
	var (
		mass        [primordial.De]float64
		trace, ions = traceFrac, traceFrac
	)
	if r2 < 2 {
		trace, ions = tinyFrac, smallFrac
	}
	mass[primordial.H2_1] = trace * density
	mass[primordial.H2_2] = trace * density
	mass[primordial.H_m0] = trace * density
	mass[primordial.H_2] = ions * density
	mass[primordial.He_2] = ions * density
	mass[primordial.He_3] = ions * density
	mass[primordial.He_1] = (1-HFrac)*density - mass[primordial.He_2] - mass[primordial.He_3]
	mass[primordial.H_1] = density
	for s := range mass {
		if s != primordial.H_1 {
			mass[primordial.H_1] -= mass[s]
		}
	}
	for s, m := range mass {
		gas.n[s] = m / (primordial.Weights[s] * MH)
	}
	gas.n[primordial.De] = gas.n[primordial.H_2] + gas.n[primordial.He_2] + 2*gas.n[primordial.He_3] +
		gas.n[primordial.H2_2] - gas.n[primordial.H_m0]
	return
}

// heavyNumberDensity sums the number densities of all species but electrons
func (gas *blastGas) heavyNumberDensity() (ndens float64) {
	for s := 0; s < primordial.De; s++ {
		ndens += gas.n[s]
	}
	return
}

// blast sets up a clumpy medium at rest with a hot overdense blast at the
// center. With chemistry the species number densities and the gas energy
// fill the chemistry block.
func blast(ud *UserData, y *state.StateVector, chemistry bool) (err error) {
	var (
		clumps              = NewClumps(ud.Ctx, ud.Grid)
		u                   = ud.Units
		rho, mx, my, mz, et = y.Field(state.Rho), y.Field(state.MX), y.Field(state.MY),
			y.Field(state.MZ), y.Field(state.ET)
	)
	if ud.Ctx.IsRoot() {
		printClumps(clumps, ud.Grid)
	}
	for k := 0; k < y.N[2]; k++ {
		for j := 0; j < y.N[1]; j++ {
			for i := 0; i < y.N[0]; i++ {
				var (
					x, yc, z = ud.CellCenter(i, j, k)
					gas      = gasAt(ud.Grid, clumps, x, yc, z)
					cell     = y.Idx(i, j, k)
					ge       float64
				)
				if chemistry {
					chem := y.ChemCell(cell)
					copy(chem, gas.n[:])
					ge = primordial.GasEnergy(chem, gas.T)
					chem[primordial.Ge] = ge
				} else {
					ge = KBoltz * gas.T * gas.heavyNumberDensity() / (gas.density * (ud.Gamma - 1))
				}
				rho[cell] = gas.density / u.Density
				mx[cell], my[cell], mz[cell] = 0, 0, 0
				et[cell] = gas.density * ge / u.Energy
				if !(rho[cell] > 0) || !(et[cell] > 0) {
					return fmt.Errorf("blast initial state at cell (%d,%d,%d) is unphysical: rho = %g, et = %g",
						i, j, k, rho[cell], et[cell])
				}
			}
		}
	}
	return
}
