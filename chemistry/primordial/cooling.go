package primordial

import (
	"math"
)

const (
	kBoltzmann = 1.3806504e-16 // erg/K
	mHydrogen  = 1.67e-24      // g
	gammaMono  = 5. / 3.
	tCMB0      = 2.73 // K at z = 0
)

// cell holds everything computed for one cell during an RHS or Jacobian
// evaluation. Species densities n are physical (cm^-3), ge is erg/g.
type cell struct {
	n             [NSpecies]float64
	T, Tge        float64
	mdensity      float64
	cieODA, h2ODA float64
	k, dk         [nReactions]float64
	c, dc         [nCooling]float64
	z             float64
}

// mixture sets the mass density and the optical depth approximations
func (w *cell) mixture() (ok bool) {
	var sum float64
	for s := 0; s < De; s++ {
		sum += Weights[s] * w.n[s]
	}
	w.mdensity = mHydrogen * sum
	if !(w.mdensity > 0) {
		return false
	}
	tau := math.Max(math.Pow(w.mdensity/3.3e-8, 2.8), 1.e-5)
	w.cieODA = math.Min(1, (1-math.Exp(-tau))/tau)
	w.h2ODA = math.Min(1, math.Pow(w.mdensity/1.34e-14, -0.45))
	return true
}

// production fills ydot[0:De+1] with the mass action network
func (w *cell) production(ydot []float64) {
	for s := 0; s <= De; s++ {
		ydot[s] = 0
	}
	for _, rx := range reactions {
		r := w.k[rx.rate]
		for _, s := range rx.reactants {
			r *= w.n[s]
		}
		for _, ch := range rx.change {
			ydot[ch.species] += ch.coef * r
		}
	}
}

// productionJacobian calls add(row, col, value) with the partial derivatives
// of the network, the ge column through dk/dT * dT/dge
func (w *cell) productionJacobian(add func(row, col int, v float64)) {
	for _, rx := range reactions {
		var (
			k, dk = w.k[rx.rate], w.dk[rx.rate]
			prod  = 1.
		)
		for _, s := range rx.reactants {
			prod *= w.n[s]
		}
		for i, s := range rx.reactants {
			p := k
			for j, o := range rx.reactants {
				if j != i {
					p *= w.n[o]
				}
			}
			for _, ch := range rx.change {
				add(ch.species, s, ch.coef*p)
			}
		}
		for _, ch := range rx.change {
			add(ch.species, Ge, ch.coef*dk*prod*w.Tge)
		}
	}
}

// cooling returns the net heating rate per volume (erg/cm^3/s), its gradient
// with respect to the species densities and its T derivative. The mixture
// density and optical depth factors are held fixed.
func (w *cell) cooling() (C float64, dn [NSpecies]float64, dT float64) {
	var (
		n, c, dc = &w.n, &w.c, &w.dc
		cie      = w.cieODA
		h2       = w.h2ODA
		T        = w.T
	)
	{ // Collision induced emission of H2
		a := 2.01588 * cie * w.mdensity
		C -= a * c[cCIE] * n[H2_1]
		dn[H2_1] -= a * c[cCIE]
		dT -= a * dc[cCIE] * n[H2_1]
	}
	{ // H2 line cooling, Glover & Abel 2008 low density fit against the LTE rate
		var (
			L, dL = c[cH2LTE], dc[cH2LTE]
			sp    = [5]int{H2_1, H_1, H_2, He_1, De}
			g     = [5]float64{c[cGAH2], c[cGAHI], c[cGAHp], c[cGAHe], c[cGAel]}
			dg    = [5]float64{dc[cGAH2], dc[cGAHI], dc[cGAHp], dc[cGAHe], dc[cGAel]}
			G, dG float64
		)
		for i, s := range sp {
			G += n[s] * g[i]
			dG += n[s] * dg[i]
		}
		if G > 0 {
			var (
				q  = L/G + 1
				a  = cie * h2
				dq = dL/G - L*dG/(G*G)
			)
			C -= a * n[H2_1] * L / q
			dn[H2_1] -= a * L / q
			for i, s := range sp {
				dn[s] -= a * n[H2_1] * L * L * g[i] / (q * q * G * G)
			}
			dT -= a * n[H2_1] * (dL/q - L*dq/(q*q))
		}
	}
	{ // Collisional excitation, ionization, recombination and bremsstrahlung, linear in de
		var (
			coef = [NSpecies]float64{
				H_1:  c[cCeHI] + c[cCiHI],
				H_2:  c[cReHII] + c[cBrem],
				He_1: c[cCiHeI],
				He_2: c[cCeHeII] + c[cCiHeII] + c[cReHeII1] + c[cReHeII2] + c[cBrem],
				He_3: c[cReHeIII] + 4*c[cBrem],
			}
			dcoef = [NSpecies]float64{
				H_1:  dc[cCeHI] + dc[cCiHI],
				H_2:  dc[cReHII] + dc[cBrem],
				He_1: dc[cCiHeI],
				He_2: dc[cCeHeII] + dc[cCiHeII] + dc[cReHeII1] + dc[cReHeII2] + dc[cBrem],
				He_3: dc[cReHeIII] + 4*dc[cBrem],
			}
			S, dS float64
			de    = n[De]
		)
		for s := range coef {
			S += coef[s] * n[s]
			dS += dcoef[s] * n[s]
			dn[s] -= cie * de * coef[s]
		}
		C -= cie * de * S
		dn[De] -= cie * S
		dT -= cie * de * dS
	}
	{ // Processes quadratic in de
		var (
			B  = c[cCeHeI] + c[cCiHeIS]
			dB = dc[cCeHeI] + dc[cCiHeIS]
			de = n[De]
		)
		C -= cie * de * de * n[He_2] * B
		dn[De] -= 2 * cie * de * n[He_2] * B
		dn[He_2] -= cie * de * de * B
		dT -= cie * de * de * n[He_2] * dB
	}
	{ // Compton cooling off the CMB
		var (
			zp   = 1 + w.z
			Z    = zp * zp * zp * zp
			dTc  = T - tCMB0*zp
			comp = c[cCompton]
			de   = n[De]
		)
		C -= cie * comp * de * Z * dTc
		dn[De] -= cie * comp * Z * dTc
		dT -= cie * de * Z * (dc[cCompton]*dTc + comp)
	}
	{ // H2 formation heating and cooling, with a critical density switch
		var (
			D    = n[H2_1]*c[cNcrd2] + n[H_1]*c[cNcrd1]
			dD   = n[H2_1]*dc[cNcrd2] + n[H_1]*dc[cNcrd1]
			ncrn = c[cNcrn]
			P    = -n[H2_1]*n[H_1]*c[cH2mcool] + n[H_1]*n[H_1]*n[H_1]*c[cH2mheat]
			dP   = -n[H2_1]*n[H_1]*dc[cH2mcool] + n[H_1]*n[H_1]*n[H_1]*dc[cH2mheat]
		)
		if D > 0 {
			var (
				r  = ncrn/D + 1
				dr = dc[cNcrn]/D - ncrn*dD/(D*D)
			)
			C += 0.5 * P / r
			dn[H2_1] += 0.5 * (-n[H_1]*c[cH2mcool]/r + P*ncrn*c[cNcrd2]/(D*D*r*r))
			dn[H_1] += 0.5 * ((-n[H2_1]*c[cH2mcool]+3*n[H_1]*n[H_1]*c[cH2mheat])/r +
				P*ncrn*c[cNcrd1]/(D*D*r*r))
			dT += 0.5 * (dP/r - P*dr/(r*r))
		}
	}
	return
}
