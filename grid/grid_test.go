package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allBC(bc BCType) (b [3][2]BCType) {
	for ax := 0; ax < 3; ax++ {
		b[ax] = [2]BCType{bc, bc}
	}
	return
}

func TestGrid(t *testing.T) {
	{ // Test spacing and cell centres
		g, err := NewGrid([3]int{10, 20, 5}, [3]float64{0, -1, 0}, [3]float64{1, 1, 5}, allBC(BCPeriodic))
		require.NoError(t, err)
		assert.InDelta(t, 0.1, g.D[0], 1e-15)
		assert.InDelta(t, 0.1, g.D[1], 1e-15)
		assert.InDelta(t, 1.0, g.D[2], 1e-15)
		x, y, z := g.CellCenter(0, 19, 4)
		assert.InDelta(t, 0.05, x, 1e-15)
		assert.InDelta(t, 0.95, y, 1e-15)
		assert.InDelta(t, 4.5, z, 1e-15)
		assert.InDelta(t, 0.01, g.CellVolume(), 1e-15)
		assert.True(t, g.AllBC(BCPeriodic))
	}
	{ // Test configuration errors
		bc := allBC(BCReflecting)
		bc[1][Low] = BCPeriodic
		_, err := NewGrid([3]int{4, 4, 4}, [3]float64{}, [3]float64{1, 1, 1}, bc)
		assert.Error(t, err)
		_, err = NewGrid([3]int{4, 0, 4}, [3]float64{}, [3]float64{1, 1, 1}, allBC(BCNeumann))
		assert.Error(t, err)
		_, err = NewGrid([3]int{4, 4, 4}, [3]float64{}, [3]float64{1, 0, 1}, allBC(BCNeumann))
		assert.Error(t, err)
	}
	{ // Test BC parsing
		assert.Equal(t, BCReflecting, NewBCType("3"))
		assert.Equal(t, BCNeumann, NewBCType("Neumann"))
		_, err := ParseBCType("7")
		assert.Error(t, err)
		assert.Panics(t, func() { NewBCType("outflow") })
	}
}

func TestDecompositionCompleteness(t *testing.T) {
	cases := []struct {
		N      [3]int
		nprocs int
	}{
		{[3]int{16, 16, 16}, 1},
		{[3]int{16, 16, 16}, 8},
		{[3]int{17, 9, 5}, 6},
		{[3]int{30, 7, 3}, 12},
		{[3]int{5, 7, 5}, 7},
		{[3]int{100, 1, 1}, 9},
	}
	for _, tc := range cases {
		g, err := NewGrid(tc.N, [3]float64{}, [3]float64{1, 1, 1}, allBC(BCPeriodic))
		require.NoError(t, err)
		d, err := NewDecomposition(g, tc.nprocs, [3]int{})
		require.NoError(t, err)
		assert.Equal(t, tc.nprocs, d.NP[0]*d.NP[1]*d.NP[2])
		owner := make([]int, g.NCells())
		for i := range owner {
			owner[i] = -1
		}
		var total int
		for r := 0; r < tc.nprocs; r++ {
			tile := d.Tile(r)
			assert.Equal(t, r, d.RankOf(tile.Coords))
			for ax := 0; ax < 3; ax++ {
				assert.True(t, tile.N[ax] > 0)
			}
			total += tile.NCells()
			for k := 0; k < tile.N[2]; k++ {
				for j := 0; j < tile.N[1]; j++ {
					for i := 0; i < tile.N[0]; i++ {
						gi, gj, gk := i+tile.Offset[0], j+tile.Offset[1], k+tile.Offset[2]
						ind := gi + tc.N[0]*(gj+tc.N[1]*gk)
						assert.Equal(t, -1, owner[ind], "cell assigned twice")
						owner[ind] = r
						assert.Equal(t, r, d.Owner(gi, gj, gk))
					}
				}
			}
		}
		assert.Equal(t, g.NCells(), total)
		for _, o := range owner {
			assert.NotEqual(t, -1, o, "cell not assigned")
		}
		// Local extents sum to the global extent along each axis
		for ax := 0; ax < 3; ax++ {
			var sum int
			for p := 0; p < d.NP[ax]; p++ {
				sum += d.Splits[ax].GetBucketDimension(p)
			}
			assert.Equal(t, tc.N[ax], sum)
		}
	}
}

func TestDecompositionNeighbors(t *testing.T) {
	{ // Test balanced factor choice and neighbor wrap
		g, _ := NewGrid([3]int{8, 8, 8}, [3]float64{}, [3]float64{1, 1, 1}, allBC(BCPeriodic))
		d, err := NewDecomposition(g, 8, [3]int{})
		require.NoError(t, err)
		assert.Equal(t, [3]int{2, 2, 2}, d.NP)
		tile := d.Tile(0)
		assert.Equal(t, [2]int{1, 1}, tile.Neighbor[0])
		assert.Equal(t, [2]int{2, 2}, tile.Neighbor[1])
		assert.Equal(t, [2]int{4, 4}, tile.Neighbor[2])
		assert.True(t, tile.Edge[0][Low])
	}
	{ // Test non-periodic edges and single-rank self neighbors
		bc := allBC(BCReflecting)
		g, _ := NewGrid([3]int{8, 4, 4}, [3]float64{}, [3]float64{1, 1, 1}, bc)
		d, err := NewDecomposition(g, 2, [3]int{2, 1, 1})
		require.NoError(t, err)
		t0 := d.Tile(0)
		assert.Equal(t, -1, t0.Neighbor[0][Low])
		assert.Equal(t, 1, t0.Neighbor[0][High])
		assert.Equal(t, [2]int{-1, -1}, t0.Neighbor[1])
		gp, _ := NewGrid([3]int{4, 4, 4}, [3]float64{}, [3]float64{1, 1, 1}, allBC(BCPeriodic))
		dp, _ := NewDecomposition(gp, 1, [3]int{})
		assert.Equal(t, [3][2]int{{0, 0}, {0, 0}, {0, 0}}, dp.Tile(0).Neighbor)
	}
	{ // Test zero-size tiles are rejected
		g, _ := NewGrid([3]int{2, 2, 1}, [3]float64{}, [3]float64{1, 1, 1}, allBC(BCNeumann))
		_, err := NewDecomposition(g, 5, [3]int{})
		assert.Error(t, err)
		_, err = NewDecomposition(g, 4, [3]int{4, 1, 1})
		assert.Error(t, err)
		_, err = NewDecomposition(g, 0, [3]int{})
		assert.Error(t, err)
	}
}
