// Package ratetable holds reaction and cooling coefficients tabulated on a
// uniform grid in log temperature, and interpolates them linearly.
package ratetable

import (
	"fmt"
	"math"
	"sort"
)

const (
	DefaultTLow  = 1.
	DefaultTHigh = 1.e5
	DefaultNBins = 1023
)

// Set is an immutable collection of tables sharing one temperature grid.
// Once built it is safe for concurrent reads.
type Set struct {
	TLow, THigh     float64
	NBins           int // Number of intervals, tables have NBins+1 entries
	LogLow, LogHigh float64
	DBin, IDBin     float64
	Names           []string
	Values          [][]float64
	index           map[string]int
	Redshift        float64 // Redshift the tables were generated for, if any
	Comment         string
}

func NewSet(TLow, THigh float64, NBins int) (s *Set, err error) {
	if !(TLow > 0) || !(THigh > TLow) || NBins < 1 {
		err = fmt.Errorf("invalid table grid: T in [%g, %g] with %d bins", TLow, THigh, NBins)
		return
	}
	s = &Set{
		TLow:    TLow,
		THigh:   THigh,
		NBins:   NBins,
		LogLow:  math.Log(TLow),
		LogHigh: math.Log(THigh),
		index:   make(map[string]int),
	}
	s.DBin = (s.LogHigh - s.LogLow) / float64(NBins)
	s.IDBin = 1. / s.DBin
	return
}

// Add stores a copy of values under name
func (s *Set) Add(name string, values []float64) (err error) {
	if len(values) != s.NBins+1 {
		return fmt.Errorf("table %s has %d entries, want %d", name, len(values), s.NBins+1)
	}
	if _, present := s.index[name]; present {
		return fmt.Errorf("duplicate table %s", name)
	}
	v := make([]float64, len(values))
	copy(v, values)
	s.index[name] = len(s.Names)
	s.Names = append(s.Names, name)
	s.Values = append(s.Values, v)
	return
}

// AddFunc tabulates f at the bin edges
func (s *Set) AddFunc(name string, f func(T float64) float64) error {
	values := make([]float64, s.NBins+1)
	for b := range values {
		values[b] = f(s.BinTemperature(b))
	}
	return s.Add(name, values)
}

// BinTemperature is the temperature of table entry b
func (s *Set) BinTemperature(b int) float64 {
	switch b {
	case 0:
		return s.TLow
	case s.NBins:
		return s.THigh
	}
	return math.Exp(s.LogLow + float64(b)*s.DBin)
}

func (s *Set) Index(name string) (i int, err error) {
	var ok bool
	if i, ok = s.index[name]; !ok {
		err = fmt.Errorf("rate table %s not present", name)
	}
	return
}

// Require returns the table indices of names, in order
func (s *Set) Require(names []string) (idx []int, err error) {
	var missing []string
	idx = make([]int, len(names))
	for i, name := range names {
		var e error
		if idx[i], e = s.Index(name); e != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) != 0 {
		sort.Strings(missing)
		err = fmt.Errorf("rate tables missing: %v", missing)
	}
	return
}

// Location is the bin of a temperature and the interpolation weights shared
// by every table
type Location struct {
	Bin   int
	Tdef  float64 // Fractional position in the bin
	Slope float64 // dTdef/dT = 1/(T*dlogT)
	Edge  int     // -1 at or below TLow, +1 at or above THigh, 0 inside
}

func (s *Set) Locate(T float64) (loc Location) {
	if T <= s.TLow {
		loc.Edge = -1
		T = s.TLow
	} else if T >= s.THigh {
		loc.Edge = 1
		T = s.THigh
	}
	var (
		lnT = math.Log(T)
	)
	loc.Bin = int(s.IDBin * (lnT - s.LogLow))
	if loc.Bin <= 0 {
		loc.Bin = 0
	} else if loc.Bin >= s.NBins {
		loc.Bin = s.NBins - 1
	}
	t1 := s.LogLow + float64(loc.Bin)*s.DBin
	loc.Tdef = (lnT - t1) * s.IDBin
	loc.Slope = s.IDBin / T
	switch loc.Edge {
	case -1:
		loc.Tdef = 0
	case 1:
		loc.Tdef = 1
	}
	return
}

// Interpolate returns table i and its T derivative at loc. The table
// endpoints are returned exactly at or beyond the bounds.
func (s *Set) Interpolate(i int, loc Location) (value, deriv float64) {
	var (
		r      = s.Values[i]
		b      = loc.Bin
		r1, r2 = r[b], r[b+1]
	)
	deriv = (r2 - r1) * loc.Slope
	switch loc.Edge {
	case -1:
		value = r1
	case 1:
		value = r2
	default:
		value = r1 + loc.Tdef*(r2-r1)
	}
	return
}

// Value interpolates the named table at T
func (s *Set) Value(name string, T float64) (value, deriv float64, err error) {
	var i int
	if i, err = s.Index(name); err != nil {
		return
	}
	value, deriv = s.Interpolate(i, s.Locate(T))
	return
}

func (s *Set) Print() {
	fmt.Printf("Rate tables: %d tables, T in [%g, %g] K, %d bins\n",
		len(s.Names), s.TLow, s.THigh, s.NBins)
}
