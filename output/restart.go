package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cenkalti/backoff"
	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/state"
)

const RestartParametersFile = "restart_parameters.txt"

type loaded struct {
	global *state.StateVector
	desc   Descriptor
	err    error
}

// Read loads output number iout into y, converting the fluid fields back to
// code units. The chemistry block is left in physical units. Rank 0 reads
// the file and every rank copies its own tile; it is collective.
func (w *Writer) Read(iout int, y *state.StateVector) (desc Descriptor, err error) {
	var l loaded
	if w.Ctx.IsRoot() {
		path := FileName(w.Dir, iout)
		if l.global, l.desc, l.err = readFile(path); l.err == nil {
			w.Log.WithFields(logrus.Fields{"file": path, "t": l.desc.T}).Info("restart loaded")
		}
	}
	l = cluster.Bcast(w.Ctx, 0, l)
	if err = l.err; err != nil {
		return
	}
	desc = l.desc
	g := w.Decomp.Grid
	if desc.N != g.N || desc.NChem != y.NChem {
		err = fmt.Errorf("restart file %s holds a %v grid with nchem = %d, run has %v with nchem = %d",
			FileName(w.Dir, iout), desc.N, desc.NChem, g.N, y.NChem)
		return
	}
	forTile(w.Decomp.Tile(w.Ctx.Rank), l.global, func(local, cell int) {
		for v := 0; v < state.NFluid; v++ {
			y.Field(v)[local] = l.global.Field(v)[cell] / fieldScale(w.Units, v)
		}
		if y.NChem > 0 {
			copy(y.ChemCell(local), l.global.ChemCell(cell))
		}
	})
	return
}

func readFile(path string) (global *state.StateVector, desc Descriptor, err error) {
	var fp *os.File
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = OpenInterval
	err = backoff.Retry(func() (e error) {
		fp, e = os.Open(path)
		return
	}, backoff.WithMaxRetries(b, OpenRetries))
	if err != nil {
		return nil, desc, fmt.Errorf("output: %v", err)
	}
	defer fp.Close()
	return decode(fp)
}

func decode(rw cdf.ReaderWriterAt) (global *state.StateVector, desc Descriptor, err error) {
	var f *cdf.File
	if f, err = cdf.Open(rw); err != nil {
		return nil, desc, fmt.Errorf("output: %v", err)
	}
	hdr := f.Header
	if desc.T, err = floatAttribute(hdr, "t"); err != nil {
		return
	}
	if desc.H, err = floatAttribute(hdr, "h"); err != nil {
		return
	}
	if nc, ok := hdr.GetAttribute("", "nchem").([]int32); ok && len(nc) == 1 {
		desc.NChem = int(nc[0])
	} else {
		return nil, desc, fmt.Errorf("output: missing attribute nchem")
	}
	for name, dst := range map[string]*[3]float64{"lo": &desc.Lo, "hi": &desc.Hi} {
		a, ok := hdr.GetAttribute("", name).([]float64)
		if !ok || len(a) != 3 {
			return nil, desc, fmt.Errorf("output: missing attribute %s", name)
		}
		copy(dst[:], a)
	}
	lens := hdr.Lengths(state.FieldNames[state.Rho])
	if len(lens) != 3 {
		return nil, desc, fmt.Errorf("output: density has shape %v", lens)
	}
	desc.N = [3]int{lens[2], lens[1], lens[0]}
	global = state.New(nil, desc.N, desc.NChem)
	for v := 0; v < global.NFields(); v++ {
		name := state.FieldNames[v]
		dst := global.Field(v)
		if _, err = f.Reader(name, nil, nil).Read(dst); err != nil {
			return nil, desc, fmt.Errorf("output: reading %s: %v", name, err)
		}
	}
	return
}

func floatAttribute(h *cdf.Header, name string) (v float64, err error) {
	if a, ok := h.GetAttribute("", name).([]float64); ok && len(a) > 0 {
		return a[0], nil
	}
	err = fmt.Errorf("output: missing attribute %s", name)
	return
}

// WriteRestartParameters writes params as sorted key = value lines, the
// format the legacy input reader accepts. Only rank 0 writes, it is collective.
func (w *Writer) WriteRestartParameters(params map[string]any) (err error) {
	var res outcome
	if w.Ctx.IsRoot() {
		res.err = writeKeyValue(filepath.Join(w.Dir, RestartParametersFile), params)
	}
	res = cluster.Bcast(w.Ctx, 0, res)
	return res.err
}

func writeKeyValue(path string, params map[string]any) (err error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
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
	if _, err = fmt.Fprintf(fp, "# chemhydro restart file\n"); err != nil {
		return
	}
	for _, k := range keys {
		var val string
		switch v := params[k].(type) {
		case float64:
			val = strconv.FormatFloat(v, 'g', -1, 64)
		default:
			val = fmt.Sprint(v)
		}
		if _, err = fmt.Fprintf(fp, "%s = %s\n", k, val); err != nil {
			return
		}
	}
	return
}
