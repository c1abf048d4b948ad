// Package output writes solution files in physical units, reads them back
// for restarts and prints the run diagnostics. Files are netCDF, one per
// output time, written by rank 0 from the tiles of every rank.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/grid"
	"github.com/notargets/chemhydro/problems"
	"github.com/notargets/chemhydro/state"
)

const (
	gatherTag = 9000
	chemVar   = "chem"
	chemDim   = "nchem"
)

var (
	axisDims = []string{"nz", "ny", "nx"}

	// OpenRetries and OpenInterval control how rank 0 retries opening a
	// restart file
	OpenRetries  uint64 = 3
	OpenInterval        = 50 * time.Millisecond
)

// Descriptor is the scalar part of a solution file needed to restart from it
type Descriptor struct {
	T, H   float64 // Time and current step, code units
	NChem  int
	N      [3]int
	Lo, Hi [3]float64
}

// Writer gathers the distributed state onto rank 0 and writes it. The
// chemistry block it is given must already be in physical units.
type Writer struct {
	Ctx    *cluster.Context
	Decomp *grid.Decomposition
	Units  problems.Units
	Dir    string
	Log    logrus.FieldLogger
}

func NewWriter(ctx *cluster.Context, d *grid.Decomposition, u problems.Units, dir string) *Writer {
	if len(dir) == 0 {
		dir = "."
	}
	return &Writer{Ctx: ctx, Decomp: d, Units: u, Dir: dir, Log: logrus.StandardLogger()}
}

func FileName(dir string, iout int) string {
	return filepath.Join(dir, fmt.Sprintf("output-%04d.nc", iout))
}

// fieldScale converts fluid field v from code units to physical units
func fieldScale(u problems.Units, v int) float64 {
	switch v {
	case state.Rho:
		return u.Density
	case state.MX, state.MY, state.MZ:
		return u.Momentum
	}
	return u.Energy
}

// pack lays the local tile out field after field, in physical units
func (w *Writer) pack(y *state.StateVector) (buf []float64) {
	buf = make([]float64, 0, y.NCells()*(state.NFluid+y.NChem))
	for v := 0; v < state.NFluid; v++ {
		s := fieldScale(w.Units, v)
		for _, x := range y.Field(v) {
			buf = append(buf, x*s)
		}
	}
	if y.NChem > 0 {
		buf = append(buf, y.Field(state.Chem)...)
	}
	return
}

// Gather returns the global fields on rank 0, nil elsewhere. It is collective.
func (w *Writer) Gather(y *state.StateVector) (global *state.StateVector, err error) {
	w.Ctx.Post(0, gatherTag, w.pack(y))
	w.Ctx.Exchange()
	if !w.Ctx.IsRoot() {
		return
	}
	g := w.Decomp.Grid
	global = state.New(nil, g.N, y.NChem)
	for r := 0; r < w.Ctx.Size; r++ {
		var data []float64
		if data, err = w.Ctx.Receive(r, gatherTag); err != nil {
			return
		}
		if err = unpackTile(w.Decomp.Tile(r), data, global); err != nil {
			return
		}
	}
	return
}

// unpackTile copies a packed tile into its place in the global state
func unpackTile(t *grid.Tile, data []float64, global *state.StateVector) error {
	var (
		nc    = t.NCells()
		nchem = global.NChem
	)
	if len(data) != nc*(state.NFluid+nchem) {
		return fmt.Errorf("tile of rank %d has %d values, want %d", t.Rank, len(data), nc*(state.NFluid+nchem))
	}
	forTile(t, global, func(local, cell int) {
		for v := 0; v < state.NFluid; v++ {
			global.Field(v)[cell] = data[v*nc+local]
		}
		if nchem > 0 {
			off := state.NFluid*nc + local*nchem
			copy(global.ChemCell(cell), data[off:off+nchem])
		}
	})
	return nil
}

// forTile calls fn with the local and global index of every cell of t
func forTile(t *grid.Tile, global *state.StateVector, fn func(local, cell int)) {
	local := 0
	for k := 0; k < t.N[2]; k++ {
		for j := 0; j < t.N[1]; j++ {
			for i := 0; i < t.N[0]; i++ {
				fn(local, global.Idx(t.Offset[0]+i, t.Offset[1]+j, t.Offset[2]+k))
				local++
			}
		}
	}
}

type outcome struct {
	err error
}

// Write stores y as output number iout. It is collective and every rank
// returns rank 0's error.
func (w *Writer) Write(iout int, y *state.StateVector, desc Descriptor) (err error) {
	var (
		global *state.StateVector
		res    outcome
	)
	if global, err = w.Gather(y); err != nil {
		res.err = err
	}
	if w.Ctx.IsRoot() && res.err == nil {
		path := FileName(w.Dir, iout)
		if res.err = writeFile(path, global, desc); res.err == nil {
			w.Log.WithFields(logrus.Fields{"file": path, "t": desc.T}).Debug("solution written")
		}
	}
	res = cluster.Bcast(w.Ctx, 0, res)
	return res.err
}

func writeFile(path string, global *state.StateVector, desc Descriptor) (err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	var fp *os.File
	if fp, err = os.Create(path); err != nil {
		return
	}
	defer func() {
		if e := fp.Close(); err == nil {
			err = e
		}
	}()
	return encode(fp, global, desc)
}

func encode(fp *os.File, global *state.StateVector, desc Descriptor) (err error) {
	var (
		N      = global.N
		dims   = append([]string{}, axisDims...)
		lens   = []int{N[2], N[1], N[0]}
		nchem  = global.NChem
		fields = state.FieldNames[:state.NFluid]
	)
	if nchem > 0 {
		dims = append(dims, chemDim)
		lens = append(lens, nchem)
	}
	h := cdf.NewHeader(dims, lens)
	h.AddAttribute("", "comment", "chemistry hydrodynamics solution, CGS units")
	h.AddAttribute("", "t", []float64{desc.T})
	h.AddAttribute("", "h", []float64{desc.H})
	h.AddAttribute("", "nchem", []int32{int32(nchem)})
	h.AddAttribute("", "lo", desc.Lo[:])
	h.AddAttribute("", "hi", desc.Hi[:])
	for _, name := range fields {
		h.AddVariable(name, axisDims, []float64{0})
	}
	if nchem > 0 {
		h.AddVariable(chemVar, dims, []float64{0})
	}
	h.Define()
	if errs := h.Check(); len(errs) != 0 {
		return fmt.Errorf("output: invalid header: %v", errs)
	}
	var f *cdf.File
	if f, err = cdf.Create(fp, h); err != nil {
		return
	}
	for v, name := range fields {
		wr := f.Writer(name, []int{0, 0, 0}, lens[:3])
		if _, err = wr.Write(global.Field(v)); err != nil {
			return fmt.Errorf("output: writing %s: %v", name, err)
		}
	}
	if nchem > 0 {
		wr := f.Writer(chemVar, []int{0, 0, 0, 0}, lens)
		if _, err = wr.Write(global.Field(state.Chem)); err != nil {
			return fmt.Errorf("output: writing %s: %v", chemVar, err)
		}
	}
	return cdf.UpdateNumRecs(fp)
}
