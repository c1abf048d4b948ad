// Package state holds the composite solution vector: five fluid fields plus
// an optional interleaved chemistry block, all over the local tile.
package state

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/chemhydro/cluster"
)

const (
	Rho = iota
	MX
	MY
	MZ
	ET
	NFluid
	Chem = NFluid // Field index of the chemistry block
)

var FieldNames = []string{"rho", "mx", "my", "mz", "et", "chem"}

type StateVector struct {
	N      [3]int // nxl, nyl, nzl
	NChem  int
	fluid  [NFluid][]float64
	chem   []float64 // chem[v + NChem*cell]
	Ctx    *cluster.Context
	nlocal int
}

func New(ctx *cluster.Context, N [3]int, NChem int) (s *StateVector) {
	nc := N[0] * N[1] * N[2]
	s = &StateVector{
		N:      N,
		NChem:  NChem,
		chem:   make([]float64, nc*NChem),
		Ctx:    ctx,
		nlocal: nc,
	}
	for n := 0; n < NFluid; n++ {
		s.fluid[n] = make([]float64, nc)
	}
	return
}

func (s *StateVector) NCells() int { return s.nlocal }

// NFields is 5 without chemistry, 6 with it
func (s *StateVector) NFields() int {
	if s.NChem > 0 {
		return NFluid + 1
	}
	return NFluid
}

// Field returns the storage of field i; Chem returns the whole chemistry block
func (s *StateVector) Field(i int) []float64 {
	switch {
	case i >= 0 && i < NFluid:
		return s.fluid[i]
	case i == Chem && s.NChem > 0:
		return s.chem
	}
	panic(fmt.Errorf("field index %d out of range [0,%d)", i, s.NFields()))
}

func (s *StateVector) Idx(i, j, k int) int { return i + s.N[0]*(j+s.N[1]*k) }

// ChemCell returns the NChem species values of one cell
func (s *StateVector) ChemCell(cell int) []float64 {
	return s.Field(Chem)[cell*s.NChem : (cell+1)*s.NChem]
}

func (s *StateVector) Clone() (c *StateVector) {
	c = s.CloneEmpty()
	c.Copy(s)
	return
}

func (s *StateVector) CloneEmpty() *StateVector {
	return New(s.Ctx, s.N, s.NChem)
}

func (s *StateVector) checkShape(o *StateVector) {
	if s.N != o.N || s.NChem != o.NChem {
		panic(fmt.Errorf("state shape mismatch: %v/%d vs %v/%d", s.N, s.NChem, o.N, o.NChem))
	}
}

func (s *StateVector) Copy(from *StateVector) {
	s.checkShape(from)
	for n := 0; n < s.NFields(); n++ {
		copy(s.Field(n), from.Field(n))
	}
}

func (s *StateVector) Const(c float64) {
	for n := 0; n < s.NFields(); n++ {
		f := s.Field(n)
		for i := range f {
			f[i] = c
		}
	}
}

// Scale sets s = c*x
func (s *StateVector) Scale(c float64, x *StateVector) {
	s.checkShape(x)
	for n := 0; n < s.NFields(); n++ {
		floats.ScaleTo(s.Field(n), c, x.Field(n))
	}
}

// LinearSum sets s = a*x + b*y; s may alias x, y or both
func (s *StateVector) LinearSum(a float64, x *StateVector, b float64, y *StateVector) {
	s.checkShape(x)
	s.checkShape(y)
	for n := 0; n < s.NFields(); n++ {
		var (
			dst, xf, yf = s.Field(n), x.Field(n), y.Field(n)
		)
		if len(dst) == 0 {
			continue
		}
		switch {
		case &xf[0] == &yf[0]:
			floats.ScaleTo(dst, a+b, xf)
			continue
		case &dst[0] == &yf[0]:
			floats.Scale(b, dst)
			floats.AddScaled(dst, a, xf)
			continue
		}
		floats.ScaleTo(dst, a, xf)
		floats.AddScaled(dst, b, yf)
	}
}

// Len is the global number of unknowns
func (s *StateVector) Len() int {
	n := s.nlocal * (NFluid + s.NChem)
	if s.Ctx == nil {
		return n
	}
	return cluster.AllreduceScalar(s.Ctx, cluster.OpSum, n)
}

// WrmsNorm is the global weighted root mean square norm of s with weights w
func (s *StateVector) WrmsNorm(w *StateVector) float64 {
	s.checkShape(w)
	var (
		sums = []float64{0, float64(s.nlocal * (NFluid + s.NChem))}
	)
	for n := 0; n < s.NFields(); n++ {
		sums[0] += WeightedSquares(s.Field(n), w.Field(n))
	}
	if s.Ctx != nil {
		sums = cluster.Allreduce(s.Ctx, cluster.OpSum, sums)
	}
	return math.Sqrt(sums[0] / sums[1])
}

// MaxAbs is the global max norm
func (s *StateVector) MaxAbs() (m float64) {
	for n := 0; n < s.NFields(); n++ {
		f := s.Field(n)
		if len(f) == 0 {
			continue
		}
		m = math.Max(m, math.Max(math.Abs(floats.Max(f)), math.Abs(floats.Min(f))))
	}
	if s.Ctx != nil {
		m = cluster.AllreduceScalar(s.Ctx, cluster.OpMax, m)
	}
	return
}

// Sum returns the global sum of field i
func (s *StateVector) Sum(i int) (sum float64) {
	sum = floats.Sum(s.Field(i))
	if s.Ctx != nil {
		sum = cluster.AllreduceScalar(s.Ctx, cluster.OpSum, sum)
	}
	return
}

func WeightedSquares(x, w []float64) (sum float64) {
	for i, v := range x {
		p := v * w[i]
		sum += p * p
	}
	return
}

// WrmsNormLocal is the weighted RMS norm of x with weights w, local only
func WrmsNormLocal(x, w []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(WeightedSquares(x, w) / float64(len(x)))
}
