package primordial

import (
	"fmt"
)

// Species order within one cell of the chemistry block
const (
	H2_1 = iota
	H2_2
	H_1
	H_2
	H_m0
	He_1
	He_2
	He_3
	De
	Ge
	NSpecies
)

// NSparse is the number of Jacobian nonzeros per cell
const NSparse = 64

var (
	SpeciesNames = []string{"H2_1", "H2_2", "H_1", "H_2", "H_m0", "He_1", "He_2", "He_3", "de", "ge"}

	// Weights are the masses of each species in units of the hydrogen mass.
	// Electrons carry no mass, ge is not a species.
	Weights = [NSpecies]float64{2, 2, 1.00794, 1.00794, 1.00794, 4.002602, 4.002602, 4.002602, 0, 0}

	// Block sparsity of the per cell Jacobian in CSR form
	JacRowPtr = []int{0, 7, 14, 21, 28, 34, 38, 43, 47, 56, 64}
	JacColIdx = []int{
		0, 1, 2, 3, 4, 8, 9, // H2_1
		0, 1, 2, 3, 4, 8, 9, // H2_2
		0, 1, 2, 3, 4, 8, 9, // H_1
		0, 1, 2, 3, 4, 8, 9, // H_2
		1, 2, 3, 4, 8, 9, // H_m0
		5, 6, 8, 9, // He_1
		5, 6, 7, 8, 9, // He_2
		6, 7, 8, 9, // He_3
		1, 2, 3, 4, 5, 6, 7, 8, 9, // de
		0, 2, 3, 5, 6, 7, 8, 9, // ge
	}
	jacSlot = buildSlots()
)

func buildSlots() (slot [NSpecies][NSpecies]int) {
	for r := range slot {
		for c := range slot[r] {
			slot[r][c] = -1
		}
		for i := JacRowPtr[r]; i < JacRowPtr[r+1]; i++ {
			slot[r][JacColIdx[i]] = i
		}
	}
	return
}

// Reaction rate coefficient names, in the order of reactions below
var RateNames = []string{
	"k01", "k02", "k03", "k04", "k05", "k06", "k07", "k08", "k09", "k10",
	"k11", "k12", "k13", "k14", "k15", "k16", "k17", "k18", "k19", "k21", "k22",
}

const (
	k01 = iota
	k02
	k03
	k04
	k05
	k06
	k07
	k08
	k09
	k10
	k11
	k12
	k13
	k14
	k15
	k16
	k17
	k18
	k19
	k21
	k22
	nReactions
)

type stoich struct {
	species int
	coef    float64
}

// reaction is a mass action term k*prod(reactants), with each reactant
// listed as many times as its order
type reaction struct {
	rate      int
	reactants []int
	change    []stoich
}

var reactions = [nReactions]reaction{
	{k01, []int{H_1, De}, []stoich{{H_1, -1}, {H_2, 1}, {De, 1}}},
	{k02, []int{H_2, De}, []stoich{{H_2, -1}, {H_1, 1}, {De, -1}}},
	{k03, []int{He_1, De}, []stoich{{He_1, -1}, {He_2, 1}, {De, 1}}},
	{k04, []int{He_2, De}, []stoich{{He_2, -1}, {He_1, 1}, {De, -1}}},
	{k05, []int{He_2, De}, []stoich{{He_2, -1}, {He_3, 1}, {De, 1}}},
	{k06, []int{He_3, De}, []stoich{{He_3, -1}, {He_2, 1}, {De, -1}}},
	{k07, []int{H_1, De}, []stoich{{H_1, -1}, {H_m0, 1}, {De, -1}}},
	{k08, []int{H_1, H_m0}, []stoich{{H_1, -1}, {H_m0, -1}, {H2_1, 1}, {De, 1}}},
	{k09, []int{H_1, H_2}, []stoich{{H_1, -1}, {H_2, -1}, {H2_2, 1}}},
	{k10, []int{H2_2, H_1}, []stoich{{H2_2, -1}, {H_1, -1}, {H2_1, 1}, {H_2, 1}}},
	{k11, []int{H2_1, H_2}, []stoich{{H2_1, -1}, {H_2, -1}, {H2_2, 1}, {H_1, 1}}},
	{k12, []int{H2_1, De}, []stoich{{H2_1, -1}, {H_1, 2}}},
	{k13, []int{H2_1, H_1}, []stoich{{H2_1, -1}, {H_1, 2}}},
	{k14, []int{H_m0, De}, []stoich{{H_m0, -1}, {H_1, 1}, {De, 1}}},
	{k15, []int{H_1, H_m0}, []stoich{{H_m0, -1}, {H_1, 1}, {De, 1}}},
	{k16, []int{H_2, H_m0}, []stoich{{H_m0, -1}, {H_2, -1}, {H_1, 2}}},
	{k17, []int{H_2, H_m0}, []stoich{{H_m0, -1}, {H_2, -1}, {H2_2, 1}, {De, 1}}},
	{k18, []int{H2_2, De}, []stoich{{H2_2, -1}, {H_1, 2}, {De, -1}}},
	{k19, []int{H2_2, H_m0}, []stoich{{H2_2, -1}, {H_m0, -1}, {H2_1, 1}, {H_1, 1}}},
	{k21, []int{H2_1, H_1, H_1}, []stoich{{H2_1, 1}, {H_1, -2}}},
	{k22, []int{H_1, H_1, H_1}, []stoich{{H2_1, 1}, {H_1, -2}}},
}

// CoolingNames are the cooling and heating coefficient tables
var CoolingNames = []string{
	"brem_brem", "ceHeI_ceHeI", "ceHeII_ceHeII", "ceHI_ceHI", "cie_cooling_cieco",
	"ciHeI_ciHeI", "ciHeII_ciHeII", "ciHeIS_ciHeIS", "ciHI_ciHI", "compton_comp_",
	"gloverabel08_gael", "gloverabel08_gaH2", "gloverabel08_gaHe", "gloverabel08_gaHI",
	"gloverabel08_gaHp", "gloverabel08_h2lte", "h2formation_h2mcool", "h2formation_h2mheat",
	"h2formation_ncrd1", "h2formation_ncrd2", "h2formation_ncrn", "reHeII1_reHeII1",
	"reHeII2_reHeII2", "reHeIII_reHeIII", "reHII_reHII",
}

const (
	cBrem = iota
	cCeHeI
	cCeHeII
	cCeHI
	cCIE
	cCiHeI
	cCiHeII
	cCiHeIS
	cCiHI
	cCompton
	cGAel
	cGAH2
	cGAHe
	cGAHI
	cGAHp
	cH2LTE
	cH2mcool
	cH2mheat
	cNcrd1
	cNcrd2
	cNcrn
	cReHeII1
	cReHeII2
	cReHeIII
	cReHII
	nCooling
)

// GammaNames are the H2 heat capacity ratio tables and their T derivatives
var GammaNames = []string{"gammaH2_1", "dgammaH2_1_dT", "gammaH2_2", "dgammaH2_2_dT"}

// TableNames lists every table the network reads
func TableNames() (names []string) {
	names = append(names, RateNames...)
	names = append(names, CoolingNames...)
	names = append(names, GammaNames...)
	return
}

// speciesPattern derives the Jacobian sparsity from the reaction list and
// the cooling dependencies
func speciesPattern() (pattern [NSpecies][NSpecies]bool) {
	for _, rx := range reactions {
		for _, ch := range rx.change {
			for _, s := range rx.reactants {
				pattern[ch.species][s] = true
			}
			pattern[ch.species][Ge] = true
		}
	}
	for _, s := range []int{H2_1, H_1, H_2, He_1, He_2, He_3, De, Ge} {
		pattern[Ge][s] = true
	}
	return
}

func init() {
	var (
		pattern = speciesPattern()
		nnz     int
	)
	for r := range pattern {
		for c := range pattern[r] {
			if pattern[r][c] {
				nnz++
				if jacSlot[r][c] < 0 {
					panic(fmt.Errorf("reaction network touches (%s, %s) outside the Jacobian pattern",
						SpeciesNames[r], SpeciesNames[c]))
				}
			}
		}
	}
	if nnz != NSparse || len(JacColIdx) != NSparse {
		panic(fmt.Errorf("jacobian pattern has %d entries, network needs %d", len(JacColIdx), nnz))
	}
}
