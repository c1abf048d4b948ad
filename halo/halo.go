// Package halo fills the ghost layers of a local tile from neighboring ranks
// or from the physical boundary conditions.
package halo

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/grid"
	"github.com/notargets/chemhydro/state"
)

// Width is the ghost layer depth needed by the WENO5 stencil
const Width = 3

// Exchanger owns the extended (ghosted) copy of every variable of a tile.
// Variables are the five fluid fields followed by the NChem species.
type Exchanger struct {
	Ctx    *cluster.Context
	Grid   *grid.Grid
	Tile   *grid.Tile
	NV     int
	NE     [3]int      // Extended dimensions, N + 2*Width
	Stride [3]int      // Index stride along each axis in Ext
	Ext    [][]float64 // Ext[v][Idx(i,j,k)], i in [-Width, N+Width)
	Log    logrus.FieldLogger
}

func NewExchanger(ctx *cluster.Context, g *grid.Grid, tile *grid.Tile, nchem int) (h *Exchanger, err error) {
	h = &Exchanger{
		Ctx:  ctx,
		Grid: g,
		Tile: tile,
		NV:   state.NFluid + nchem,
		Log:  logrus.StandardLogger(),
	}
	for ax := 0; ax < 3; ax++ {
		h.NE[ax] = tile.N[ax] + 2*Width
		for face := grid.Low; face <= grid.High; face++ {
			nb := tile.Neighbor[ax][face]
			if fixed := g.Dirichlet[ax][face]; fixed != nil && len(fixed) != h.NV {
				err = fmt.Errorf("dirichlet state on axis %d face %d has %d values, want %d",
					ax, face, len(fixed), h.NV)
				return
			}
			if nb >= 0 && nb != tile.Rank && tile.N[ax] < Width {
				err = fmt.Errorf("rank %d: local extent %d along axis %d is thinner than the halo width %d",
					tile.Rank, tile.N[ax], ax, Width)
				return
			}
		}
	}
	h.Stride = [3]int{1, h.NE[0], h.NE[0] * h.NE[1]}
	size := h.NE[0] * h.NE[1] * h.NE[2]
	h.Ext = make([][]float64, h.NV)
	for v := range h.Ext {
		h.Ext[v] = make([]float64, size)
	}
	return
}

// Idx is the offset of local cell (i,j,k) in an extended array; ghost cells
// have negative or >= N indices
func (h *Exchanger) Idx(i, j, k int) int {
	return (i + Width) + h.NE[0]*((j+Width)+h.NE[1]*(k+Width))
}

func (h *Exchanger) At(v, i, j, k int) float64 { return h.Ext[v][h.Idx(i, j, k)] }

// Load copies the tile interior of s into the extended arrays
func (h *Exchanger) Load(s *state.StateVector) {
	var (
		N     = h.Tile.N
		nchem = h.NV - state.NFluid
	)
	if s.N != N || s.NChem != nchem {
		panic(fmt.Errorf("state shape %v/%d does not match halo %v/%d", s.N, s.NChem, N, nchem))
	}
	for k := 0; k < N[2]; k++ {
		for j := 0; j < N[1]; j++ {
			for i := 0; i < N[0]; i++ {
				var (
					cell = s.Idx(i, j, k)
					ind  = h.Idx(i, j, k)
				)
				for v := 0; v < state.NFluid; v++ {
					h.Ext[v][ind] = s.Field(v)[cell]
				}
				if nchem > 0 {
					for c, val := range s.ChemCell(cell) {
						h.Ext[state.NFluid+c][ind] = val
					}
				}
			}
		}
	}
}

// Exchange loads s and fills all six ghost faces. It is collective over
// the cluster and must complete before any stencil reads ghost cells.
func (h *Exchanger) Exchange(s *state.StateVector) (err error) {
	h.Load(s)
	for ax := 0; ax < 3; ax++ {
		h.postAxis(ax)
		h.Ctx.Exchange()
		if err = h.fillAxis(ax); err != nil {
			return
		}
	}
	return
}

func tag(ax, face int) int { return 100 + 2*ax + face }

// sendLayers returns the interior along-axis indices adjacent to face
func (h *Exchanger) sendLayers(ax, face int) (a0 int) {
	if face == grid.Low {
		return 0
	}
	return h.Tile.N[ax] - Width
}

func (h *Exchanger) ghostStart(ax, face int) (a0 int) {
	if face == grid.Low {
		return -Width
	}
	return h.Tile.N[ax]
}

// sweep visits every cell of Width layers starting at along-axis index a0,
// over the interior transverse range, in a fixed order
func (h *Exchanger) sweep(ax, a0 int, fn func(d, ind int)) {
	var (
		N      = h.Tile.N
		t1, t2 = (ax + 1) % 3, (ax + 2) % 3
		c      [3]int
	)
	for d := 0; d < Width; d++ {
		for b := 0; b < N[t2]; b++ {
			for a := 0; a < N[t1]; a++ {
				c[ax], c[t1], c[t2] = a0+d, a, b
				fn(d, h.Idx(c[0], c[1], c[2]))
			}
		}
	}
}

func (h *Exchanger) postAxis(ax int) {
	for face := grid.Low; face <= grid.High; face++ {
		nb := h.Tile.Neighbor[ax][face]
		if nb < 0 || nb == h.Tile.Rank {
			continue
		}
		buf := make([]float64, 0, h.NV*Width*h.faceCells(ax))
		for v := 0; v < h.NV; v++ {
			ext := h.Ext[v]
			h.sweep(ax, h.sendLayers(ax, face), func(d, ind int) {
				buf = append(buf, ext[ind])
			})
		}
		h.Ctx.Post(nb, tag(ax, 1-face), buf)
	}
}

func (h *Exchanger) faceCells(ax int) int {
	return h.Tile.N[(ax+1)%3] * h.Tile.N[(ax+2)%3]
}

func (h *Exchanger) fillAxis(ax int) (err error) {
	for face := grid.Low; face <= grid.High; face++ {
		nb := h.Tile.Neighbor[ax][face]
		switch {
		case nb == h.Tile.Rank:
			h.fillPeriodicSelf(ax, face)
		case nb >= 0:
			var data []float64
			if data, err = h.Ctx.Receive(nb, tag(ax, face)); err != nil {
				return
			}
			if len(data) != h.NV*Width*h.faceCells(ax) {
				return fmt.Errorf("rank %d: halo message from rank %d has %d values, want %d",
					h.Tile.Rank, nb, len(data), h.NV*Width*h.faceCells(ax))
			}
			var n int
			for v := 0; v < h.NV; v++ {
				ext := h.Ext[v]
				h.sweep(ax, h.ghostStart(ax, face), func(d, ind int) {
					ext[ind] = data[n]
					n++
				})
			}
		default:
			h.fillPhysical(ax, face)
		}
	}
	return
}

// fillPeriodicSelf wraps the tile onto itself with modulo indexing, which
// also covers tiles thinner than the halo
func (h *Exchanger) fillPeriodicSelf(ax, face int) {
	var (
		n      = h.Tile.N[ax]
		stride = h.Stride[ax]
		a0     = h.ghostStart(ax, face)
	)
	for v := 0; v < h.NV; v++ {
		ext := h.Ext[v]
		h.sweep(ax, a0, func(d, ind int) {
			a := a0 + d
			src := ((a % n) + n) % n
			ext[ind] = ext[ind+(src-a)*stride]
		})
	}
}

// fillPhysical synthesises ghosts at a non-periodic domain edge. Ghost d
// cells outside the face mirrors the interior cell d-1 inside it.
func (h *Exchanger) fillPhysical(ax, face int) {
	var (
		n      = h.Tile.N[ax]
		stride = h.Stride[ax]
		a0     = h.ghostStart(ax, face)
		bc     = h.Grid.BC[ax][face]
		fixed  = h.Grid.Dirichlet[ax][face]
	)
	mirror := func(a int) (src int) {
		if face == grid.Low {
			src = -a - 1
		} else {
			src = 2*n - 1 - a
		}
		if src < 0 {
			src = 0
		} else if src > n-1 {
			src = n - 1
		}
		return
	}
	for v := 0; v < h.NV; v++ {
		var (
			ext  = h.Ext[v]
			sign = 1.
			val  float64
		)
		if bc == grid.BCReflecting && v == state.MX+ax {
			sign = -1
		}
		if fixed != nil {
			val = fixed[v]
		}
		h.sweep(ax, a0, func(d, ind int) {
			a := a0 + d
			switch bc {
			case grid.BCDirichlet:
				ext[ind] = val
			default: // Neumann and reflecting
				ext[ind] = sign * ext[ind+(mirror(a)-a)*stride]
			}
		})
	}
}
