package grid

import (
	"fmt"
	"strconv"
	"strings"
)

type BCType uint8

const (
	BCPeriodic BCType = iota
	BCNeumann
	BCDirichlet
	BCReflecting
)

var (
	BCNames = map[string]BCType{
		"periodic":   BCPeriodic,
		"per":        BCPeriodic,
		"neumann":    BCNeumann,
		"zerograd":   BCNeumann,
		"dirichlet":  BCDirichlet,
		"fixed":      BCDirichlet,
		"reflecting": BCReflecting,
		"reflect":    BCReflecting,
		"wall":       BCReflecting,
	}
	BCPrintNames = []string{"Periodic", "Neumann", "Dirichlet", "Reflecting"}
)

func (bc BCType) Print() (txt string) {
	txt = BCPrintNames[bc]
	return
}

// ParseBCType accepts a name or the legacy integer code (0=periodic,
// 1=Neumann, 2=Dirichlet, 3=reflecting)
func ParseBCType(label string) (bc BCType, err error) {
	var (
		ok bool
		n  int
	)
	label = strings.ToLower(strings.TrimSpace(label))
	if n, err = strconv.Atoi(label); err == nil {
		if n < 0 || n > int(BCReflecting) {
			err = fmt.Errorf("boundary condition code %d out of range [0,3]", n)
			return
		}
		bc = BCType(n)
		return
	}
	err = nil
	if bc, ok = BCNames[label]; !ok {
		err = fmt.Errorf("unable to use boundary condition named %s", label)
	}
	return
}

func NewBCType(label string) (bc BCType) {
	var err error
	if bc, err = ParseBCType(label); err != nil {
		panic(err)
	}
	return
}

const (
	Low  = 0
	High = 1
)

// Grid is the global structured mesh; immutable once built
type Grid struct {
	N         [3]int          // nx, ny, nz
	Lo, Hi    [3]float64      // [xl,yl,zl], [xr,yr,zr]
	D         [3]float64      // dx, dy, dz
	BC        [3][2]BCType    // [axis][Low|High]
	Dirichlet [3][2][]float64 // Optional fixed ghost state per face, nil means zero
}

func NewGrid(N [3]int, Lo, Hi [3]float64, BC [3][2]BCType) (g *Grid, err error) {
	g = &Grid{N: N, Lo: Lo, Hi: Hi, BC: BC}
	axisNames := "xyz"
	for ax := 0; ax < 3; ax++ {
		if N[ax] < 1 {
			err = fmt.Errorf("grid size n%c = %d must be positive", axisNames[ax], N[ax])
			return
		}
		if Hi[ax] <= Lo[ax] {
			err = fmt.Errorf("domain bounds %cl = %g, %cr = %g are not increasing",
				axisNames[ax], Lo[ax], axisNames[ax], Hi[ax])
			return
		}
		if (BC[ax][Low] == BCPeriodic) != (BC[ax][High] == BCPeriodic) {
			err = fmt.Errorf("inconsistent %c boundary conditions: %s/%s, periodic must pair with periodic",
				axisNames[ax], BC[ax][Low].Print(), BC[ax][High].Print())
			return
		}
		g.D[ax] = (Hi[ax] - Lo[ax]) / float64(N[ax])
	}
	return
}

func (g *Grid) NCells() int { return g.N[0] * g.N[1] * g.N[2] }

func (g *Grid) CellVolume() float64 { return g.D[0] * g.D[1] * g.D[2] }

// CellCenter returns the coordinate of global cell (i,j,k)
func (g *Grid) CellCenter(i, j, k int) (x, y, z float64) {
	x = g.Lo[0] + (float64(i)+0.5)*g.D[0]
	y = g.Lo[1] + (float64(j)+0.5)*g.D[1]
	z = g.Lo[2] + (float64(k)+0.5)*g.D[2]
	return
}

func (g *Grid) Periodic(ax int) bool { return g.BC[ax][Low] == BCPeriodic }

// AllBC reports whether every face carries bc
func (g *Grid) AllBC(bc BCType) bool {
	for ax := 0; ax < 3; ax++ {
		if g.BC[ax][Low] != bc || g.BC[ax][High] != bc {
			return false
		}
	}
	return true
}
