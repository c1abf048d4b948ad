/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notargets/chemhydro/InputParameters"
	"github.com/notargets/chemhydro/chemistry/primordial"
	"github.com/notargets/chemhydro/chemistry/ratetable"
	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/grid"
	"github.com/notargets/chemhydro/integrator"
	"github.com/notargets/chemhydro/linsolve"
	"github.com/notargets/chemhydro/model_problems/Euler3D"
	"github.com/notargets/chemhydro/output"
	"github.com/notargets/chemhydro/problems"
	"github.com/notargets/chemhydro/state"
	"github.com/notargets/chemhydro/utils"
)

type Model3D struct {
	ICFile         string
	LegacyFile     string
	Overrides      []string
	Perf           bool
	ParallelDegree int
}

// ThreeDCmd represents the 3D command
var ThreeDCmd = &cobra.Command{
	Use:   "3D",
	Short: "Three dimensional chemically reacting flow solver",
	Long: `Three dimensional solver for the Euler equations with primordial chemistry,
on a Cartesian grid split across ranks, writing netCDF solution files`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		m3d := &Model3D{}
		if m3d.ICFile, err = cmd.Flags().GetString("inputConditionsFile"); err != nil {
			panic(err)
		}
		if m3d.LegacyFile, err = cmd.Flags().GetString("legacyInputFile"); err != nil {
			panic(err)
		}
		if m3d.Overrides, err = cmd.Flags().GetStringArray("set"); err != nil {
			panic(err)
		}
		m3d.Perf = viper.GetBool("perf")
		m3d.ParallelDegree = viper.GetInt("parallel-degree")
		var ip *InputParameters.InputParameters3D
		if ip, err = processInput(m3d); err != nil {
			return
		}
		return Run3D(m3d, ip)
	},
}

func init() {
	rootCmd.AddCommand(ThreeDCmd)
	ThreeDCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML file for input parameters like:\n\t- problem\n\t- nx, ny, nz\n\t- tf, nout")
	ThreeDCmd.Flags().StringP("legacyInputFile", "L", "", "input parameters as key = value lines, such as restart_parameters.txt")
	ThreeDCmd.Flags().StringArray("set", nil, "override one input parameter, key=value, repeatable")
}

const exampleFile = `
########################################
Title: "Primordial Blast"
problem: primordial_blast # or fluid_blast, compile
nx: 32
ny: 32
nz: 32
xlbc: 3 # 0 = periodic, 1 = Neumann, 2 = Dirichlet, 3 = reflecting
xrbc: 3
ylbc: 3
yrbc: 3
zlbc: 3
zrbc: 3
nchem: 10
MassUnits: 1.67e-22
TimeUnits: 3.15e10
tf: 10
nout: 10
linsolver: sparse # or dense, gmres
########################################
`

func processInput(m3d *Model3D) (ip *InputParameters.InputParameters3D, err error) {
	ip = InputParameters.NewInputParameters3D()
	if len(m3d.ICFile) == 0 && len(m3d.LegacyFile) == 0 && len(m3d.Overrides) == 0 {
		fmt.Printf("error: must supply an input parameters file (-I, --inputConditionsFile)\n")
		fmt.Printf("Example File:%s\n", exampleFile)
		os.Exit(1)
	}
	if len(m3d.ICFile) != 0 {
		var data []byte
		if data, err = os.ReadFile(m3d.ICFile); err != nil {
			return
		}
		if err = ip.Parse(data); err != nil {
			return nil, fmt.Errorf("%s: %v", m3d.ICFile, err)
		}
	}
	if len(m3d.LegacyFile) != 0 {
		var fp *os.File
		if fp, err = os.Open(m3d.LegacyFile); err != nil {
			return
		}
		defer fp.Close()
		if err = ip.ReadKeyValue(fp); err != nil {
			return nil, fmt.Errorf("%s: %w", m3d.LegacyFile, err)
		}
	}
	if err = ip.ApplyOverrides(m3d.Overrides); err != nil {
		return
	}
	if err = ip.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input:\n%w", err)
	}
	for _, key := range ip.Ignored() {
		logrus.WithField("key", key).Warn("input parameter has no effect on the built in integrators")
	}
	return
}

// setup is the part of a run shared by every rank
type setup struct {
	ip      *InputParameters.InputParameters3D
	pt      problems.ProblemType
	units   problems.Units
	decomp  *grid.Decomposition
	opts    integrator.Options
	solver  linsolve.SolverType
	exec    *utils.ExecPolicy
	perf    bool
	noWrite bool
}

func Run3D(m3d *Model3D, ip *InputParameters.InputParameters3D) (err error) {
	s := &setup{ip: ip, perf: m3d.Perf, noWrite: ip.NOut <= 0}
	s.pt = problems.NewProblemType(ip.Problem)
	if s.units, err = problems.NewUnits(ip.MassUnits, ip.LengthUnits, ip.TimeUnits); err != nil {
		return
	}
	var (
		bcs [3][2]grid.BCType
		g   *grid.Grid
	)
	if bcs, err = ip.BCs(); err != nil {
		return
	}
	if g, err = grid.NewGrid([3]int{ip.NX, ip.NY, ip.NZ},
		[3]float64{ip.XL, ip.YL, ip.ZL}, [3]float64{ip.XR, ip.YR, ip.ZR}, bcs); err != nil {
		return
	}
	if s.decomp, err = grid.NewDecomposition(g, ip.NProcs, [3]int{ip.NPX, ip.NPY, ip.NPZ}); err != nil {
		return
	}
	if s.opts, err = ip.IntegratorOptions(); err != nil {
		return
	}
	s.solver = linsolve.NewSolverType(ip.LinSolver)
	degree := ip.ParallelDegree
	if degree == 0 {
		degree = m3d.ParallelDegree
	}
	s.exec = utils.NewExecPolicy(utils.NewExecKind(ip.ExecPolicy), degree)
	return cluster.Run(ip.NProcs, func(ctx *cluster.Context) error {
		r := *s
		return r.rank(ctx)
	})
}

// rank sets up and advances the tile of one rank, on its own copy of s
func (s *setup) rank(ctx *cluster.Context) (err error) {
	var (
		ip   = s.ip
		g    = s.decomp.Grid
		tile = s.decomp.Tile(ctx.Rank)
		log  = logrus.WithField("rank", ctx.Rank)
		ud   = &problems.UserData{
			Ctx: ctx, Grid: g, Tile: tile, Units: s.units, Gamma: ip.Gamma,
			NChem: ip.NChem, CFL: ip.CFL, Log: log,
		}
		euler *Euler3D.Euler
		net   *primordial.Network
		ch    *problems.ChemHydro
	)
	if err = s.pt.Check(ud); err != nil {
		return
	}
	if euler, err = Euler3D.NewEuler(ctx, g, tile, ip.Gamma, Euler3D.NewFluxType(ip.Flux), ip.NChem, s.exec); err != nil {
		return
	}
	euler.Force, euler.Log = s.pt.ExternalForces(ud), log
	if s.pt.Chemistry() {
		if net, err = s.network(ctx, tile.NCells(), log); err != nil {
			return
		}
	}
	if ch, err = problems.NewChemHydro(ud, euler, net); err != nil {
		return
	}
	var (
		y       = state.New(ctx, tile.N, ip.NChem)
		w       = output.NewWriter(ctx, s.decomp, s.units, ip.OutputDir)
		t0      = ip.T0
		restart = 0
	)
	w.Log = log
	if ip.Restart >= 0 {
		var desc output.Descriptor
		if desc, err = w.Read(ip.Restart, y); err != nil {
			return
		}
		if desc.T != ip.T0 {
			log.WithFields(logrus.Fields{"t0": ip.T0, "file": desc.T}).Warn("restart time replaces t0")
		}
		t0, restart = desc.T, ip.Restart
		if s.opts.H0 == 0 {
			s.opts.H0 = desc.H
		}
	} else if err = s.pt.InitialConditions(ud, t0, y); err != nil {
		return
	}
	ch.Prepare(y)

	var (
		solver linsolve.Solver
		it     *integrator.Integrator
	)
	if ip.NChem > 0 {
		switch s.solver {
		case linsolve.SolverDense:
			solver = linsolve.NewDense(s.exec)
		case linsolve.SolverSparse:
			solver = linsolve.NewSparse(s.exec)
		case linsolve.SolverMatrixFree:
			solver = linsolve.NewMatrixFree(nil, ip.MaxL)
		}
	}
	if it, err = integrator.New(ctx, ch, y, t0, s.opts, solver); err != nil {
		return
	}
	it.Log = log
	if ctx.IsRoot() {
		s.banner(tile, t0, euler, net, it)
	}
	return s.evolve(ctx, ch, it, w, y, restart)
}

// network loads or generates the rate tables and builds the chemistry of one tile
func (s *setup) network(ctx *cluster.Context, ncells int, log logrus.FieldLogger) (net *primordial.Network, err error) {
	var (
		ip    = s.ip
		rates *ratetable.Set
	)
	if len(ip.RateFile) != 0 {
		if rates, err = ratetable.LoadOnRoot(ctx, ip.RateFile, log); err != nil {
			return
		}
	} else {
		if ctx.IsRoot() {
			if rates, err = primordial.SyntheticRates(ip.Redshift); err != nil {
				return
			}
		}
		rates = ratetable.Share(ctx, rates)
	}
	if net, err = primordial.NewNetwork(rates, ncells, s.exec); err != nil {
		return
	}
	if ip.Redshift != 0 {
		net.Redshift = ip.Redshift
	}
	if ip.NewtonIters > 0 {
		net.NewtonIters = ip.NewtonIters
	}
	net.NewtonTol, net.Log = ip.NewtonTol, log
	return
}

func (s *setup) banner(tile *grid.Tile, t0 float64, euler *Euler3D.Euler, net *primordial.Network,
	it *integrator.Integrator) {
	var (
		ip = s.ip
		g  = s.decomp.Grid
	)
	fmt.Printf("\n3D chemistry hydrodynamics solver\n")
	ip.Print()
	s.decomp.Print()
	fmt.Printf("Time interval: [%g, %g], CGS [%g, %g] s\n",
		t0, ip.TF, t0*s.units.Time, ip.TF*s.units.Time)
	if s.noWrite {
		fmt.Printf("No output, a single interval\n")
	} else {
		fmt.Printf("Output interval: %g (%d outputs)\n", ip.OutputInterval(), ip.NOut)
	}
	fmt.Printf("Global grid: %d x %d x %d, local grid (rank 0): %d x %d x %d\n",
		g.N[0], g.N[1], g.N[2], tile.N[0], tile.N[1], tile.N[2])
	fmt.Printf("Cell size: %g x %g x %g\n", g.D[0], g.D[1], g.D[2])
	s.units.Print()
	euler.Print()
	if net != nil {
		net.Print()
	}
	it.Opts.Print()
	if it.LS != nil {
		it.LS.Print()
	}
	if s.exec != nil {
		fmt.Printf("Execution: %s, parallel degree %d\n", s.exec.Kind.Print(), s.exec.ParallelDegree)
	}
}

// evolve runs the optional transient and then every output interval,
// writing the solution and restart parameters after each
func (s *setup) evolve(ctx *cluster.Context, ch *problems.ChemHydro, it *integrator.Integrator,
	w *output.Writer, y *state.StateVector, restart int) (err error) {
	var (
		ip      = s.ip
		g       = s.decomp.Grid
		nout    = max(ip.NOut, 1)
		dTout   = (ip.TF - it.T) / float64(nout)
		cons    = output.NewConservation(ctx, g.CellVolume())
		timer   output.Timer
		tout    = it.T + dTout
		nsteps0 = it.Stats().Steps
	)
	if ip.ShowStats {
		cons.Check(y)
		output.PrintRMSHeader(ctx, ip.NChem)
		output.PrintRMS(ctx, it.T, y, 0)
	}
	if err = s.write(ch, it, w, y, restart, restart); err != nil {
		return
	}
	if it.Opts.FixedStep == integrator.TransientThenFixed {
		if err = it.Evolve(y, it.T0+it.Opts.HTrans); err != nil {
			return
		}
		if ctx.IsRoot() {
			fmt.Printf("Transient evolution to t = %g took %d steps, last step %g\n",
				it.T, it.Stats().Steps-nsteps0, it.HLast)
		}
	}
	for iout := restart; iout < restart+nout; iout++ {
		timer.Start()
		if err = s.advance(ctx, it, y, tout); err != nil {
			return
		}
		timer.Stop()
		tout = min(tout+dTout, ip.TF)
		if ip.ShowStats {
			output.PrintRMS(ctx, it.T, y, it.Stats().Steps)
		}
		if err = s.write(ch, it, w, y, iout+1, restart); err != nil {
			return
		}
	}
	if ip.ShowStats {
		mass, energy := cons.Check(y)
		if ctx.IsRoot() {
			logrus.WithField("relative error", cons.RelativeError(mass, energy)).Info("conservation")
		}
	}
	if ctx.IsRoot() {
		it.Stats().Print()
		timer.Print(g.NCells(), it.Stats().Steps-nsteps0)
		fmt.Printf("Memory: %s\n", utils.GetMemUsage())
	}
	return
}

// advance evolves y to tout, counting instructions when asked to
func (s *setup) advance(ctx *cluster.Context, it *integrator.Integrator, y *state.StateVector,
	tout float64) (err error) {
	if !s.perf {
		return it.Evolve(y, tout)
	}
	var (
		count   uint64
		counted bool
	)
	count, counted, err = utils.CountInstructions(func() error { return it.Evolve(y, tout) })
	log := logrus.WithField("rank", ctx.Rank)
	if !counted {
		log.Warn("instruction counter unavailable, reporting wall time only")
		s.perf = false
		return
	}
	log.WithFields(logrus.Fields{"t": it.T, "instructions": count}).Info("interval complete")
	return
}

// write stores output iout and the parameters that restart from it
func (s *setup) write(ch *problems.ChemHydro, it *integrator.Integrator, w *output.Writer,
	y *state.StateVector, iout, restart int) (err error) {
	if s.noWrite {
		return
	}
	var (
		g    = s.decomp.Grid
		h    = it.HLast
		desc = output.Descriptor{T: it.T, NChem: y.NChem, N: g.N, Lo: g.Lo, Hi: g.Hi}
	)
	if h == 0 {
		h = it.Opts.H0
	}
	desc.H = h
	if err = w.Write(iout, ch.Physical(y), desc); err != nil {
		return
	}
	kv := s.ip.KeyValues()
	kv["t0"], kv["h0"] = it.T, h
	kv["nout"] = restart + max(s.ip.NOut, 1) - iout
	kv["restart"] = iout
	return w.WriteRestartParameters(kv)
}
