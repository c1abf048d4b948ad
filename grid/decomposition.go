package grid

import (
	"fmt"

	"github.com/notargets/chemhydro/utils"
)

// Decomposition tiles the global grid over NP[0]*NP[1]*NP[2] ranks. Ranks
// are numbered with x fastest.
type Decomposition struct {
	Grid   *Grid
	NProcs int
	NP     [3]int                 // npx, npy, npz
	Splits [3]*utils.PartitionMap // Per axis extents of each tile
}

// Tile is the sub-box owned by one rank
type Tile struct {
	Rank     int
	Coords   [3]int    // Position in the process grid
	N        [3]int    // nxl, nyl, nzl
	Offset   [3]int    // is, js, ks
	Neighbor [3][2]int // Rank across each face, -1 at a non-periodic domain edge
	Edge     [3][2]bool
}

func (t *Tile) NCells() int { return t.N[0] * t.N[1] * t.N[2] }

// NewDecomposition factors nprocs over the three axes. Non-zero entries of
// request fix the count on that axis. Decompositions that would leave any
// rank with an empty tile are rejected.
func NewDecomposition(g *Grid, nprocs int, request [3]int) (d *Decomposition, err error) {
	var (
		np [3]int
	)
	if nprocs < 1 {
		err = fmt.Errorf("process count must be positive, have %d", nprocs)
		return
	}
	if np, err = factor(g.N, nprocs, request); err != nil {
		return
	}
	d = &Decomposition{
		Grid:   g,
		NProcs: nprocs,
		NP:     np,
	}
	for ax := 0; ax < 3; ax++ {
		d.Splits[ax] = utils.NewPartitionMap(np[ax], g.N[ax])
	}
	return
}

// factor picks the process grid with the smallest total cut area
func factor(N [3]int, nprocs int, request [3]int) (np [3]int, err error) {
	var (
		best  = -1
		found bool
	)
	fits := func(ax, p int) bool {
		return p <= N[ax] && (request[ax] == 0 || request[ax] == p)
	}
	for px := 1; px <= nprocs; px++ {
		if nprocs%px != 0 || !fits(0, px) {
			continue
		}
		for py := 1; py <= nprocs/px; py++ {
			if (nprocs/px)%py != 0 || !fits(1, py) {
				continue
			}
			pz := nprocs / (px * py)
			if !fits(2, pz) {
				continue
			}
			cut := (px-1)*N[1]*N[2] + (py-1)*N[0]*N[2] + (pz-1)*N[0]*N[1]
			if !found || cut < best {
				best, found = cut, true
				np = [3]int{px, py, pz}
			}
		}
	}
	if !found {
		err = fmt.Errorf("no decomposition of %dx%dx%d over %d processes (requested %v) gives every process a non-empty tile",
			N[0], N[1], N[2], nprocs, request)
	}
	return
}

func (d *Decomposition) Coords(rank int) (c [3]int) {
	c[0] = rank % d.NP[0]
	c[1] = (rank / d.NP[0]) % d.NP[1]
	c[2] = rank / (d.NP[0] * d.NP[1])
	return
}

func (d *Decomposition) RankOf(c [3]int) int {
	return c[0] + d.NP[0]*(c[1]+d.NP[1]*c[2])
}

func (d *Decomposition) Tile(rank int) (t *Tile) {
	if rank < 0 || rank >= d.NProcs {
		panic(fmt.Errorf("rank %d out of range [0,%d)", rank, d.NProcs))
	}
	t = &Tile{Rank: rank, Coords: d.Coords(rank)}
	for ax := 0; ax < 3; ax++ {
		lo, hi := d.Splits[ax].GetBucketRange(t.Coords[ax])
		t.Offset[ax], t.N[ax] = lo, hi-lo
		for face := Low; face <= High; face++ {
			var (
				nc   = t.Coords
				step = 2*face - 1
			)
			nc[ax] += step
			t.Edge[ax][face] = nc[ax] < 0 || nc[ax] >= d.NP[ax]
			switch {
			case !t.Edge[ax][face]:
				t.Neighbor[ax][face] = d.RankOf(nc)
			case d.Grid.Periodic(ax):
				nc[ax] = (nc[ax] + d.NP[ax]) % d.NP[ax]
				t.Neighbor[ax][face] = d.RankOf(nc)
			default:
				t.Neighbor[ax][face] = -1
			}
		}
	}
	return
}

// Owner returns the rank owning global cell (i,j,k)
func (d *Decomposition) Owner(i, j, k int) int {
	var c [3]int
	for ax, g := range [3]int{i, j, k} {
		c[ax], _, _ = d.Splits[ax].GetBucket(g)
	}
	return d.RankOf(c)
}

func (d *Decomposition) Print() {
	fmt.Printf("nprocs = %d (%d x %d x %d)\n", d.NProcs, d.NP[0], d.NP[1], d.NP[2])
}
