package Euler3D

import (
	"math"
)

type FlowFunction uint8

func (pm FlowFunction) String() string {
	strings := []string{
		"Density",
		"XMomentum",
		"YMomentum",
		"ZMomentum",
		"Energy",
		"Mach",
		"Static Pressure",
		"Dynamic Pressure",
		"Sound Speed",
		"Velocity",
		"XVelocity",
		"YVelocity",
		"ZVelocity",
		"Enthalpy",
		"Internal Energy",
	}
	return strings[int(pm)]
}

const (
	Density FlowFunction = iota
	XMomentum
	YMomentum
	ZMomentum
	Energy
	Mach            // 5
	StaticPressure  // 6
	DynamicPressure // 7
	SoundSpeed      // 8
	Velocity        // 9
	XVelocity       // 10
	YVelocity       // 11
	ZVelocity       // 12
	Enthalpy        // 13
	InternalEnergy  // 14, per unit volume
)

// Gas is an ideal gas with p = (Gamma-1)(E - 0.5 rho |v|^2)
type Gas struct {
	Gamma float64
}

func NewGas(Gamma float64) (g *Gas) {
	if Gamma == 0 {
		Gamma = 1.4
	}
	g = &Gas{Gamma: Gamma}
	return
}

func (g *Gas) GetFlowFunctionQQ(Q [5]float64, pf FlowFunction) (f float64) {
	return g.GetFlowFunctionBase(Q[0], Q[1], Q[2], Q[3], Q[4], pf)
}

func (g *Gas) GetFlowFunctionBase(rho, rhoU, rhoV, rhoW, E float64, pf FlowFunction) (f float64) {
	var (
		Gamma = g.Gamma
		GM1   = Gamma - 1.
		oorho = 1. / rho
		q, p  float64
	)
	// Calculate q if needed
	switch pf {
	case StaticPressure, SoundSpeed, Enthalpy, Mach, InternalEnergy:
		q = 0.5 * (rhoU*rhoU + rhoV*rhoV + rhoW*rhoW) * oorho
	}
	// Calculate p if needed
	switch pf {
	case SoundSpeed, Enthalpy, Mach:
		p = GM1 * (E - q)
	}

	switch pf {
	case Density:
		f = rho
	case XMomentum:
		f = rhoU
	case YMomentum:
		f = rhoV
	case ZMomentum:
		f = rhoW
	case Energy:
		f = E
	case StaticPressure:
		f = GM1 * (E - q)
	case DynamicPressure:
		f = 0.5 * (rhoU*rhoU + rhoV*rhoV + rhoW*rhoW) * oorho
	case SoundSpeed:
		f = math.Sqrt(math.Abs(Gamma * p * oorho))
	case Velocity:
		f = math.Sqrt(rhoU*rhoU+rhoV*rhoV+rhoW*rhoW) * oorho
	case XVelocity:
		f = rhoU * oorho
	case YVelocity:
		f = rhoV * oorho
	case ZVelocity:
		f = rhoW * oorho
	case Mach:
		C := math.Sqrt(math.Abs(Gamma * p * oorho))
		U := math.Sqrt(rhoU*rhoU+rhoV*rhoV+rhoW*rhoW) * oorho
		f = U / C
	case Enthalpy:
		f = (E + p) / rho
	case InternalEnergy:
		f = E - q
	}
	return
}
