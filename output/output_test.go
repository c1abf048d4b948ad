package output

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/grid"
	"github.com/notargets/chemhydro/problems"
	"github.com/notargets/chemhydro/state"
)

func testDecomp(t *testing.T, nprocs int) *grid.Decomposition {
	var bcs [3][2]grid.BCType
	for ax := range bcs {
		bcs[ax] = [2]grid.BCType{grid.BCReflecting, grid.BCReflecting}
	}
	g, err := grid.NewGrid([3]int{6, 4, 3}, [3]float64{0, -1, 0}, [3]float64{3, 1, 1}, bcs)
	require.NoError(t, err)
	d, err := grid.NewDecomposition(g, nprocs, [3]int{})
	require.NoError(t, err)
	return d
}

// fill sets every value from its global position, so that any misplaced
// tile shows up
func fill(y *state.StateVector, tile *grid.Tile, g *grid.Grid) {
	local := 0
	for k := 0; k < tile.N[2]; k++ {
		for j := 0; j < tile.N[1]; j++ {
			for i := 0; i < tile.N[0]; i++ {
				gi, gj, gk := tile.Offset[0]+i, tile.Offset[1]+j, tile.Offset[2]+k
				cell := float64(gi + g.N[0]*(gj+g.N[1]*gk))
				for v := 0; v < state.NFluid; v++ {
					y.Field(v)[local] = 1 + cell + 0.1*float64(v)
				}
				for s := range y.ChemCell(local) {
					y.ChemCell(local)[s] = 1.e3 * (cell + 0.01*float64(s))
				}
				local++
			}
		}
	}
}

func TestWriteRead(t *testing.T) {
	var (
		dir   = t.TempDir()
		units = problems.Units{Density: 2, Momentum: 3, Energy: 5}
	)
	err := cluster.Run(3, func(ctx *cluster.Context) (err error) {
		var (
			d    = testDecomp(t, ctx.Size)
			tile = d.Tile(ctx.Rank)
			y    = state.New(ctx, tile.N, 3)
			w    = NewWriter(ctx, d, units, dir)
			desc = Descriptor{T: 1.5, H: 0.01, NChem: 3, N: d.Grid.N, Lo: d.Grid.Lo, Hi: d.Grid.Hi}
		)
		fill(y, tile, d.Grid)
		{ // Test the gathered state is in physical units and in global order
			global, err := w.Gather(y)
			require.NoError(t, err)
			if ctx.IsRoot() {
				require.NotNil(t, global)
				c := global.Idx(5, 3, 2)
				cell := float64(5 + 6*(3+4*2))
				assert.InDelta(t, 2*(1+cell), global.Field(state.Rho)[c], 1e-12)
				assert.InDelta(t, 3*(1+cell+0.2), global.Field(state.MY)[c], 1e-12)
				assert.InDelta(t, 5*(1+cell+0.4), global.Field(state.ET)[c], 1e-12)
				assert.InDelta(t, 1.e3*(cell+0.02), global.ChemCell(c)[2], 1e-9)
			} else {
				assert.Nil(t, global)
			}
		}
		require.NoError(t, w.Write(7, y, desc))
		{ // Test a restart reproduces the local tile in code units
			r := state.New(ctx, tile.N, 3)
			have, err := w.Read(7, r)
			require.NoError(t, err)
			assert.Equal(t, desc, have)
			for v := 0; v < r.NFields(); v++ {
				for i, x := range y.Field(v) {
					assert.InDelta(t, x, r.Field(v)[i], 1e-12*math.Abs(x))
				}
			}
		}
		{ // Test a mismatched run and a missing file fail on every rank
			r := state.New(ctx, tile.N, 2)
			_, err := w.Read(7, r)
			assert.Error(t, err)
			_, err = w.Read(8, state.New(ctx, tile.N, 3))
			assert.Error(t, err)
		}
		return
	})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "output-0007.nc"))
	assert.NoError(t, err)
}

func TestRestartParameters(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	ctx := cluster.Single()
	w := NewWriter(ctx, testDecomp(t, 1), problems.Units{}, dir)
	require.NoError(t, w.WriteRestartParameters(map[string]any{
		"t0": 0.25, "restart": 3, "nout": 7, "h0": 1.e-3,
	}))
	b, err := os.ReadFile(filepath.Join(dir, RestartParametersFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"# chemhydro restart file", "h0 = 0.001", "nout = 7", "restart = 3", "t0 = 0.25"},
		strings.Split(strings.TrimSpace(string(b)), "\n"))
}

func TestDiagnostics(t *testing.T) {
	err := cluster.Run(2, func(ctx *cluster.Context) error {
		y := state.New(ctx, [3]int{2, 2, 1}, 2)
		y.Const(2)
		y.Field(state.MX)[0] = 0
		{ // Test the RMS of every field over both ranks
			rms := RMS(y)
			require.Len(t, rms, state.NFluid+2)
			assert.InDelta(t, 2, rms[state.Rho], 1e-15)
			assert.InDelta(t, math.Sqrt(3), rms[state.MX], 1e-15)
			assert.InDelta(t, 2, rms[state.NFluid+1], 1e-15)
		}
		{ // Test conservation is measured against the first totals
			c := NewConservation(ctx, 0.5)
			m, e := c.Check(y)
			assert.Equal(t, 8., m)
			assert.Equal(t, 8., e)
			y.Field(state.Rho)[1] = 2.5 // on both ranks
			m, e = c.Check(y)
			assert.Equal(t, 8.5, m)
			assert.InDelta(t, 0.5/8, c.RelativeError(m, e), 1e-15)
		}
		return nil
	})
	require.NoError(t, err)
	{ // Test the timer accumulates intervals
		var tm Timer
		tm.Start()
		time.Sleep(time.Millisecond)
		assert.True(t, tm.Stop() >= time.Millisecond)
		tm.Start()
		tm.Stop()
		assert.Len(t, tm.Intervals, 2)
		assert.True(t, tm.Total() >= 1.e-3)
	}
}
