package primordial

import (
	"math"

	"github.com/notargets/chemhydro/chemistry/ratetable"
)

type tableFunc func(T float64) float64

// Simple fits used to generate a complete table set when no rate file is
// given. They follow the usual functional forms for each process and are
// close enough in magnitude for testing and demonstration runs.
var syntheticFits = map[string]tableFunc{
	"k01": func(T float64) float64 { return 5.85e-11 * math.Sqrt(T) * math.Exp(-157809.1/T) * hiT(T) },
	"k02": func(T float64) float64 { return 8.4e-11 / math.Sqrt(T) * math.Pow(T/1e3, -0.2) * recomb(T) },
	"k03": func(T float64) float64 { return 2.38e-11 * math.Sqrt(T) * math.Exp(-285335.4/T) * hiT(T) },
	"k04": func(T float64) float64 { return 1.5e-10 * math.Pow(T, -0.6353) },
	"k05": func(T float64) float64 { return 5.68e-12 * math.Sqrt(T) * math.Exp(-631515./T) * hiT(T) },
	"k06": func(T float64) float64 { return 3.36e-10 / math.Sqrt(T) * math.Pow(T/1e3, -0.2) * recomb(T) },
	"k07": func(T float64) float64 { return 6.77e-15 * math.Pow(T/11604.5, 0.8779) },
	"k08": func(T float64) float64 { return 1.43e-9 },
	"k09": func(T float64) float64 { return 1.85e-23 * math.Pow(math.Min(T, 6700), 1.8) },
	"k10": func(T float64) float64 { return 6.0e-10 },
	"k11": func(T float64) float64 { return 3.0e-10 * math.Exp(-21050./T) },
	"k12": func(T float64) float64 { return 4.4e-10 * math.Pow(T, 0.35) * math.Exp(-102000./T) },
	"k13": func(T float64) float64 { return 1.0e-8 * math.Exp(-84100./T) },
	"k14": func(T float64) float64 { return 3.0e-9 * math.Exp(-8750./T) },
	"k15": func(T float64) float64 { return 5.0e-10 * math.Exp(-8750./T) },
	"k16": func(T float64) float64 { return 7.0e-8 / math.Sqrt(T/100) },
	"k17": func(T float64) float64 { return 1.0e-8 * math.Pow(T, -0.4) },
	"k18": func(T float64) float64 { return 1.32e-6 * math.Pow(math.Max(T, 617), -0.76) },
	"k19": func(T float64) float64 { return 5.0e-7 * math.Sqrt(100/T) },
	"k21": func(T float64) float64 { return 2.8e-31 * math.Pow(T, -0.6) },
	"k22": func(T float64) float64 { return 5.5e-29 / T },

	"brem_brem":           func(T float64) float64 { return 1.43e-27 * math.Sqrt(T) * 1.3 },
	"ceHeI_ceHeI":         func(T float64) float64 { return 9.1e-27 * math.Pow(T, -0.1687) * math.Exp(-13179./T) * hiT(T) },
	"ceHeII_ceHeII":       func(T float64) float64 { return 5.54e-17 * math.Pow(T, -0.397) * math.Exp(-473638./T) * hiT(T) },
	"ceHI_ceHI":           func(T float64) float64 { return 7.5e-19 * math.Exp(-118348./T) * hiT(T) },
	"cie_cooling_cieco":   func(T float64) float64 { return 1.0e-48 * math.Pow(T, 4) / (1 + math.Pow(T/1e4, 4)) },
	"ciHeI_ciHeI":         func(T float64) float64 { return 9.38e-22 * math.Sqrt(T) * math.Exp(-285335.4/T) * hiT(T) },
	"ciHeII_ciHeII":       func(T float64) float64 { return 4.95e-22 * math.Sqrt(T) * math.Exp(-631515./T) * hiT(T) },
	"ciHeIS_ciHeIS":       func(T float64) float64 { return 5.01e-27 * math.Pow(T, -0.1687) * math.Exp(-55338./T) * hiT(T) },
	"ciHI_ciHI":           func(T float64) float64 { return 1.27e-21 * math.Sqrt(T) * math.Exp(-157809.1/T) * hiT(T) },
	"compton_comp_":       func(T float64) float64 { return 5.65e-36 },
	"gloverabel08_gael":   func(T float64) float64 { return 100 * lowDensityH2(T) },
	"gloverabel08_gaH2":   func(T float64) float64 { return 0.5 * lowDensityH2(T) },
	"gloverabel08_gaHe":   func(T float64) float64 { return 0.3 * lowDensityH2(T) },
	"gloverabel08_gaHI":   lowDensityH2,
	"gloverabel08_gaHp":   func(T float64) float64 { return 10 * lowDensityH2(T) },
	"gloverabel08_h2lte":  func(T float64) float64 { x := T / 1e3; return 1.e-23 * x * x / (1 + x*x) },
	"h2formation_h2mcool": func(T float64) float64 { return 1.0e-30 * math.Sqrt(T) },
	"h2formation_h2mheat": func(T float64) float64 { return 7.2e-44 / math.Sqrt(T) },
	"h2formation_ncrd1":   func(T float64) float64 { return 1.6 * math.Exp(-math.Pow(400/T, 2)) },
	"h2formation_ncrd2":   func(T float64) float64 { return 1.4 * math.Exp(-12000./(T+1200)) },
	"h2formation_ncrn":    func(T float64) float64 { return 1.0e6 / math.Sqrt(T) },
	"reHeII1_reHeII1":     func(T float64) float64 { return 1.55e-26 * math.Pow(T, 0.3647) },
	"reHeII2_reHeII2": func(T float64) float64 {
		return 1.24e-13 * math.Pow(T, -1.5) * math.Exp(-470000./T) * (1 + 0.3*math.Exp(-94000./T))
	},
	"reHeIII_reHeIII": func(T float64) float64 { return 3.48e-26 * math.Sqrt(T) * math.Pow(T/1e3, -0.2) * recomb(T) },
	"reHII_reHII":     func(T float64) float64 { return 8.7e-27 * math.Sqrt(T) * math.Pow(T/1e3, -0.2) * recomb(T) },

	"gammaH2_1":     gammaH2,
	"dgammaH2_1_dT": dgammaH2,
	"gammaH2_2":     gammaH2,
	"dgammaH2_2_dT": dgammaH2,
}

func hiT(T float64) float64    { return 1 / (1 + math.Sqrt(T/1e5)) }
func recomb(T float64) float64 { return 1 / (1 + math.Pow(T/1e6, 0.7)) }

func lowDensityH2(T float64) float64 { x := T / 100; return 1.e-27 * x * x }

// The H2 heat capacity ratio moves from 5/3 to 7/5 as rotational levels
// are excited around a few hundred K
const tRot = 300.

func gammaH2(T float64) float64 {
	x := T / tRot
	return 7./5. + (5./3.-7./5.)/(1+x*x)
}

func dgammaH2(T float64) float64 {
	var (
		x = T / tRot
		d = 1 + x*x
	)
	return -(5./3. - 7./5.) * 2 * x / (tRot * d * d)
}

// SyntheticRates tabulates every table the network needs on the default
// temperature grid
func SyntheticRates(redshift float64) (s *ratetable.Set, err error) {
	if s, err = ratetable.NewSet(ratetable.DefaultTLow, ratetable.DefaultTHigh, ratetable.DefaultNBins); err != nil {
		return
	}
	s.Redshift = redshift
	s.Comment = "synthetic primordial rate tables"
	for _, name := range TableNames() {
		if err = s.AddFunc(name, syntheticFits[name]); err != nil {
			return
		}
	}
	return
}
