package output

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/state"
)

// Conservation tracks the domain totals of mass and energy. The first Check
// prints the totals, later ones the change relative to them.
type Conservation struct {
	Ctx            *cluster.Context
	CellVolume     float64
	Mass0, Energy0 float64
	started        bool
}

func NewConservation(ctx *cluster.Context, cellVolume float64) *Conservation {
	return &Conservation{Ctx: ctx, CellVolume: cellVolume}
}

// Check returns the current totals in code units. It is collective.
func (c *Conservation) Check(y *state.StateVector) (mass, energy float64) {
	mass = y.Sum(state.Rho) * c.CellVolume
	energy = y.Sum(state.ET) * c.CellVolume
	if !c.started {
		c.Mass0, c.Energy0, c.started = mass, energy, true
		if c.Ctx.IsRoot() {
			fmt.Printf("   Total mass   = %22.16e\n", mass)
			fmt.Printf("   Total energy = %22.16e\n", energy)
		}
		return
	}
	if c.Ctx.IsRoot() {
		fmt.Printf("   Mass conservation relative error   = %7.2e\n", relChange(c.Mass0, mass))
		fmt.Printf("   Energy conservation relative error = %7.2e\n", relChange(c.Energy0, energy))
	}
	return
}

// RelativeError is the largest relative change of either total since the first Check
func (c *Conservation) RelativeError(mass, energy float64) float64 {
	return math.Max(relChange(c.Mass0, mass), relChange(c.Energy0, energy))
}

func relChange(ref, v float64) float64 {
	if ref == 0 {
		return math.Abs(v)
	}
	return math.Abs(v-ref) / math.Abs(ref)
}

// RMS returns the global root mean square of every fluid field followed by
// every chemistry component. It is collective.
func RMS(y *state.StateVector) (rms []float64) {
	var (
		nc   = y.NCells()
		sums = make([]float64, state.NFluid+y.NChem+1)
	)
	for v := 0; v < state.NFluid; v++ {
		f := y.Field(v)
		sums[v] = floats.Dot(f, f)
	}
	for cell := 0; cell < nc; cell++ {
		for s, x := range y.ChemCell(cell) {
			sums[state.NFluid+s] += x * x
		}
	}
	sums[len(sums)-1] = float64(nc)
	if y.Ctx != nil {
		sums = cluster.Allreduce(y.Ctx, cluster.OpSum, sums)
	}
	n := sums[len(sums)-1]
	rms = sums[:len(sums)-1]
	for i := range rms {
		rms[i] = math.Sqrt(rms[i] / n)
	}
	return
}

// PrintRMSHeader prints the column titles of the RMS table on rank 0
func PrintRMSHeader(ctx *cluster.Context, nchem int) {
	if !ctx.IsRoot() {
		return
	}
	fmt.Printf("\n%12s", "t")
	for _, name := range state.FieldNames[:state.NFluid] {
		fmt.Printf("%12s", "||"+name+"||")
	}
	for s := 0; s < nchem; s++ {
		fmt.Printf("%12s", fmt.Sprintf("||c%d||", s))
	}
	fmt.Printf("%8s\n", "nst")
}

// PrintRMS prints one row of the RMS table. It is collective.
func PrintRMS(ctx *cluster.Context, t float64, y *state.StateVector, nst int) {
	rms := RMS(y)
	if !ctx.IsRoot() {
		return
	}
	fmt.Printf("%12.5e", t)
	for _, r := range rms {
		fmt.Printf("%12.5e", r)
	}
	fmt.Printf("%8d\n", nst)
}

// Timer records the wall time of each output interval
type Timer struct {
	Intervals []float64 // seconds
	start     time.Time
}

func (tm *Timer) Start() { tm.start = time.Now() }

func (tm *Timer) Stop() (dt time.Duration) {
	dt = time.Since(tm.start)
	tm.Intervals = append(tm.Intervals, dt.Seconds())
	return
}

// Total is the summed wall time of all intervals, in seconds
func (tm *Timer) Total() float64 { return floats.Sum(tm.Intervals) }

// Print reports the interval timings and the cost per cell and step
func (tm *Timer) Print(ncells, nsteps int) {
	if len(tm.Intervals) == 0 {
		return
	}
	mean, std := stat.MeanStdDev(tm.Intervals, nil)
	if len(tm.Intervals) < 2 {
		std = 0
	}
	fmt.Printf("\nWall time: total = %8.3f s, per output interval = %8.3f +/- %8.3f s\n",
		tm.Total(), mean, std)
	if ncells > 0 && nsteps > 0 {
		fmt.Printf("Rate: %8.3f us per cell step\n", 1.e6*tm.Total()/float64(ncells*nsteps))
	}
}
