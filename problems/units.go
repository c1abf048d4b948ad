package problems

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/grid"
)

// Units converts code units to CGS. Density, Momentum and Energy (an energy
// density) are derived from the three base factors.
type Units struct {
	Mass, Length, Time        float64
	Density, Momentum, Energy float64
}

func NewUnits(mass, length, time float64) (u Units, err error) {
	if !(mass > 0) || !(length > 0) || !(time > 0) {
		err = fmt.Errorf("unit factors must be positive, have mass = %g, length = %g, time = %g",
			mass, length, time)
		return
	}
	u = Units{Mass: mass, Length: length, Time: time}
	u.Density = mass / (length * length * length)
	u.Momentum = u.Density * length / time
	u.Energy = u.Density * length * length / (time * time)
	return
}

func (u Units) Print() {
	fmt.Printf("Units: mass = %g g, length = %g cm, time = %g s\n", u.Mass, u.Length, u.Time)
	fmt.Printf("       density = %g, momentum = %g, energy = %g\n", u.Density, u.Momentum, u.Energy)
}

// UserData is what every problem collaborator sees of the run: the rank,
// its tile of the grid and the physical constants
type UserData struct {
	Ctx   *cluster.Context
	Grid  *grid.Grid
	Tile  *grid.Tile
	Units Units
	Gamma float64
	NChem int
	CFL   float64
	Log   logrus.FieldLogger
}

// CellCenter returns the coordinate of local cell (i,j,k)
func (ud *UserData) CellCenter(i, j, k int) (x, y, z float64) {
	o := ud.Tile.Offset
	return ud.Grid.CellCenter(o[0]+i, o[1]+j, o[2]+k)
}

func (ud *UserData) logger() logrus.FieldLogger {
	if ud.Log == nil {
		return logrus.StandardLogger()
	}
	return ud.Log
}
