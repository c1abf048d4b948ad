package Euler3D

import (
	"fmt"
	"math"
	"strings"
)

type FluxType uint

const (
	FLUX_Rusanov FluxType = iota
	FLUX_HLL
)

var (
	FluxNames = map[string]FluxType{
		"rusanov": FLUX_Rusanov,
		"lax":     FLUX_Rusanov,
		"hll":     FLUX_HLL,
	}
	FluxPrintNames = []string{"Rusanov (local Lax Friedrichs)", "HLL"}
)

func (ft FluxType) Print() (txt string) {
	txt = FluxPrintNames[ft]
	return
}

func NewFluxType(label string) (ft FluxType) {
	var (
		ok  bool
		err error
	)
	label = strings.ToLower(label)
	if len(label) == 0 {
		return FLUX_Rusanov
	}
	if ft, ok = FluxNames[label]; !ok {
		err = fmt.Errorf("unable to use flux named %s", label)
		panic(err)
	}
	return
}

// faceState holds the primitive quantities of one side of a face along axis ax
type faceState struct {
	un, p, c float64
}

func (g *Gas) primitives(q []float64, ax int) (fs faceState, ok bool) {
	var (
		rho = q[0]
	)
	if !(rho > 0) {
		return
	}
	var (
		oorho = 1. / rho
		ke    = 0.5 * (q[1]*q[1] + q[2]*q[2] + q[3]*q[3]) * oorho
	)
	fs.p = (g.Gamma - 1.) * (q[4] - ke)
	if !(fs.p > 0) {
		return
	}
	fs.un = q[1+ax] * oorho
	fs.c = math.Sqrt(g.Gamma * fs.p * oorho)
	ok = true
	return
}

// physicalFlux is the Euler flux along axis ax, with passive scalars after
// the five fluid variables
func physicalFlux(q []float64, fs faceState, ax int, F []float64) {
	F[0] = q[1+ax]
	for d := 0; d < 3; d++ {
		F[1+d] = q[1+d] * fs.un
	}
	F[1+ax] += fs.p
	F[4] = (q[4] + fs.p) * fs.un
	for v := 5; v < len(q); v++ {
		F[v] = q[v] * fs.un
	}
}

// NumericalFlux combines the left and right states qL, qR at a face normal
// to axis ax into F. FL and FR are scratch of the same length.
func (g *Gas) NumericalFlux(ft FluxType, ax int, qL, qR, FL, FR, F []float64) (err error) {
	var (
		sL, sR faceState
		ok     bool
	)
	if sL, ok = g.primitives(qL, ax); !ok {
		return g.faceError(qL)
	}
	if sR, ok = g.primitives(qR, ax); !ok {
		return g.faceError(qR)
	}
	physicalFlux(qL, sL, ax, FL)
	physicalFlux(qR, sR, ax, FR)
	switch ft {
	case FLUX_Rusanov:
		smax := math.Max(math.Abs(sL.un)+sL.c, math.Abs(sR.un)+sR.c)
		for v := range F {
			F[v] = 0.5*(FL[v]+FR[v]) - 0.5*smax*(qR[v]-qL[v])
		}
	case FLUX_HLL:
		var (
			SL = math.Min(sL.un-sL.c, sR.un-sR.c)
			SR = math.Max(sL.un+sL.c, sR.un+sR.c)
		)
		switch {
		case SL >= 0:
			copy(F, FL)
		case SR <= 0:
			copy(F, FR)
		default:
			oodS := 1. / (SR - SL)
			for v := range F {
				F[v] = (SR*FL[v] - SL*FR[v] + SL*SR*(qR[v]-qL[v])) * oodS
			}
		}
	}
	return
}

func (g *Gas) faceError(q []float64) error {
	if !(q[0] > 0) {
		return ErrNegativeDensity
	}
	return ErrNegativePressure
}

// MaxWaveSpeed is |u_ax| + c for the cell state q
func (g *Gas) MaxWaveSpeed(q []float64, ax int) (s float64, ok bool) {
	var fs faceState
	if fs, ok = g.primitives(q, ax); !ok {
		return
	}
	s = math.Abs(fs.un) + fs.c
	return
}
