// Package integrator advances the composite hydro and chemistry state in
// time. The hydro right hand side is always explicit; with IMEX Euler the
// chemistry is implicit and solved by a modified Newton iteration through the
// block diagonal linear solver.
//
// Every exported method that steps is collective: all ranks take the same
// steps and agree on every failure before retrying.
package integrator

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/linsolve"
	"github.com/notargets/chemhydro/state"
	"github.com/notargets/chemhydro/utils"
)

var (
	ErrRecoverable   = errors.New("integrator: recoverable failure")
	ErrRemoteFailure = fmt.Errorf("%w: reported by another rank", ErrRecoverable)
	ErrNewtonConv    = fmt.Errorf("%w: nonlinear iteration did not converge", ErrRecoverable)

	ErrRemoteFatal = errors.New("integrator: unrecoverable failure on another rank")
	ErrStepFailed  = errors.New("integrator: step failed")
	ErrTooMuchWork = errors.New("integrator: too many steps")
)

// Problem supplies the split right hand side. Fexpl and Stability are
// collective; the others are local to the rank's tile.
type Problem interface {
	Fexpl(t float64, y, ydot *state.StateVector) error
	// Fimpl is the implicit part, zero outside the chemistry block
	Fimpl(t float64, y, ydot *state.StateVector) error
	// Jimpl fills the per cell Jacobian of the chemistry block of Fimpl
	Jimpl(t float64, y *state.StateVector, J utils.BlockMatrix) error
	// ImplicitBlock evaluates the chemistry block of Fimpl alone, for
	// divided difference Jacobian products
	ImplicitBlock() linsolve.RHSFunc
	NewJacobian(kind linsolve.SolverType) utils.BlockMatrix
	Postprocess(t float64, y *state.StateVector) error
	// Stability returns the largest stable explicit step, 0 for no limit
	Stability(t float64, y *state.StateVector) (h float64, err error)
}

// IsRecoverable reports whether a failed step may be retried with a smaller
// step size
func IsRecoverable(err error) bool {
	if errors.Is(err, ErrRecoverable) || errors.Is(err, linsolve.ErrRecoverable) {
		return true
	}
	var r interface{ Recoverable() bool }
	if errors.As(err, &r) {
		return r.Recoverable()
	}
	return false
}

type Integrator struct {
	Ctx   *cluster.Context
	P     Problem
	Opts  Options
	LS    *linsolve.BlockDiagonal // nil without chemistry
	Log   logrus.FieldLogger
	T0, T float64
	HLast float64 // Last successful step
	J     utils.BlockMatrix
	stats Stats
	// Largest ratio between the next and the last step, 1 right after a failure
	etaMax float64
	// Stage storage
	y1, y2, fe, fi, yexp, z, b, delta, w *state.StateVector
}

// New prepares an integrator for states shaped like y0 starting at t0. The
// solver is the rank local chemistry solver and may be nil when y0 carries
// no chemistry or the method is explicit.
func New(ctx *cluster.Context, P Problem, y0 *state.StateVector, t0 float64, opts Options,
	solver linsolve.Solver) (it *Integrator, err error) {
	if err = opts.Validate(); err != nil {
		return
	}
	it = &Integrator{
		Ctx:    ctx,
		P:      P,
		Opts:   opts,
		Log:    logrus.StandardLogger(),
		T0:     t0,
		T:      t0,
		etaMax: opts.Growth,
		y1:     y0.CloneEmpty(),
		y2:     y0.CloneEmpty(),
		fe:     y0.CloneEmpty(),
		fi:     y0.CloneEmpty(),
		z:      y0.CloneEmpty(),
	}
	if y0.NChem == 0 || opts.Method != IMEXEuler {
		return
	}
	if solver == nil {
		return nil, fmt.Errorf("implicit chemistry needs a linear solver")
	}
	if opts.RTol == 0 && opts.ATol == 0 {
		return nil, fmt.Errorf("implicit chemistry needs rtol or atol > 0")
	}
	if mf, ok := solver.(*linsolve.MatrixFree); ok && mf.F == nil {
		mf.F = P.ImplicitBlock()
	}
	it.LS = linsolve.NewBlockDiagonal(ctx, solver)
	it.J = P.NewJacobian(solver.Type())
	it.yexp, it.b = y0.CloneEmpty(), y0.CloneEmpty()
	it.delta, it.w = y0.CloneEmpty(), y0.CloneEmpty()
	return
}

// Evolve steps y from T up to exactly tout
func (it *Integrator) Evolve(y *state.StateVector, tout float64) (err error) {
	var (
		nsteps int
	)
	for it.T < tout {
		if it.Opts.MxSteps > 0 && nsteps >= it.Opts.MxSteps {
			return fmt.Errorf("%w: %d steps taken toward t = %g, at t = %g",
				ErrTooMuchWork, nsteps, tout, it.T)
		}
		if err = it.Step(y, tout); err != nil {
			return
		}
		nsteps++
	}
	return
}

// Step takes one successful step toward tout, retrying recoverable failures
// with a reduced step. y is only updated once a step is accepted.
func (it *Integrator) Step(y *state.StateVector, tout float64) (err error) {
	var (
		h, tNew float64
		failed  bool
	)
	if h, failed, err = it.proposeStep(y, tout); err != nil {
		return
	}
	for nef := 0; ; nef++ {
		if tNew, err = it.try(y, h, tout); err == nil {
			break
		}
		if !IsRecoverable(err) {
			return
		}
		it.stats.FailedSteps++
		it.Log.WithFields(logrus.Fields{
			"rank": it.rank(), "t": it.T, "h": h, "attempt": nef + 1,
		}).Debug(err)
		if nef+1 >= it.Opts.MaxNEF {
			return fmt.Errorf("%w at t = %g after %d attempts: %w", ErrStepFailed, it.T, nef+1, err)
		}
		if h, err = it.shrink(h, err); err != nil {
			return
		}
		failed = true
	}
	y.Copy(it.z)
	it.T, it.HLast = tNew, h
	it.stats.Steps++
	it.etaMax = it.Opts.Growth
	if failed {
		it.etaMax = 1
	}
	return
}

// try advances y by h into z and post processes z, agreeing on the outcome
func (it *Integrator) try(y *state.StateVector, h, tout float64) (tNew float64, err error) {
	if err = it.attempt(y, h); err != nil {
		return
	}
	tNew = it.T + h
	if tout-tNew <= 1.e-14*math.Max(1, math.Abs(tout)) {
		tNew = tout
	}
	err = it.agree(it.P.Postprocess(tNew, it.z))
	return
}

func (it *Integrator) shrink(h float64, cause error) (float64, error) {
	h *= it.Opts.EtaMxf
	if it.Opts.HMin > 0 && h < it.Opts.HMin {
		return h, fmt.Errorf("%w at t = %g, step %g below hmin = %g: %w", ErrStepFailed, it.T, h, it.Opts.HMin, cause)
	}
	return h, nil
}

func (it *Integrator) fixed() bool {
	switch it.Opts.FixedStep {
	case Fixed:
		return true
	case TransientThenFixed:
		return it.T >= it.T0+it.Opts.HTrans
	}
	return false
}

// proposeStep picks the first step size to try. A recoverable stability
// failure counts as a failed step and shrinks the otherwise proposed step.
func (it *Integrator) proposeStep(y *state.StateVector, tout float64) (h float64, failed bool, err error) {
	o := it.Opts
	if it.fixed() {
		h = o.HMax
	} else {
		var (
			hs      float64
			stabErr error
		)
		h = math.Inf(1)
		if o.HMax > 0 {
			h = o.HMax
		}
		if hs, stabErr = it.P.Stability(it.T, y); stabErr != nil {
			if !IsRecoverable(stabErr) {
				return 0, false, stabErr
			}
			it.stats.FailedSteps++
			it.Log.WithFields(logrus.Fields{"rank": it.rank(), "t": it.T}).Debug(stabErr)
			hs, failed = 0, true
		}
		if hs > 0 {
			h = math.Min(h, hs)
		}
		switch {
		case it.HLast == 0 && o.H0 > 0:
			h = math.Min(h, o.H0)
		case it.HLast > 0 && it.etaMax > 0:
			h = math.Min(h, it.etaMax*it.HLast)
		}
		if math.IsInf(h, 1) {
			if failed {
				return 0, failed, fmt.Errorf("%w at t = %g, no step bound: %w", ErrStepFailed, it.T, stabErr)
			}
			h = tout - it.T
		}
		if failed {
			if h, err = it.shrink(h, stabErr); err != nil {
				return
			}
		}
		if o.HMin > 0 {
			h = math.Max(h, o.HMin)
		}
	}
	if it.T+h > tout {
		h = tout - it.T
	}
	return
}

func (it *Integrator) attempt(y *state.StateVector, h float64) error {
	if it.Opts.Method == IMEXEuler {
		return it.imexEuler(y, h)
	}
	return it.sspRK3(y, h)
}

// sspRK3 leaves the new state in z; the chemistry, if any, is explicit too
func (it *Integrator) sspRK3(y *state.StateVector, h float64) (err error) {
	var (
		t = it.T
	)
	if err = it.fullRHS(t, y, it.fe); err != nil {
		return
	}
	it.y1.LinearSum(1, y, h, it.fe)
	if err = it.fullRHS(t+h, it.y1, it.fe); err != nil {
		return
	}
	it.y2.LinearSum(1, it.y1, h, it.fe)
	it.y2.LinearSum(0.75, y, 0.25, it.y2)
	if err = it.fullRHS(t+0.5*h, it.y2, it.fe); err != nil {
		return
	}
	it.z.LinearSum(1, it.y2, h, it.fe)
	it.z.LinearSum(1./3., y, 2./3., it.z)
	return
}

func (it *Integrator) fullRHS(t float64, y, ydot *state.StateVector) (err error) {
	if err = it.fexpl(t, y, ydot); err != nil || y.NChem == 0 {
		return
	}
	if err = it.fimpl(t, y, it.fi); err != nil {
		return
	}
	ydot.LinearSum(1, ydot, 1, it.fi)
	return
}

func (it *Integrator) fexpl(t float64, y, ydot *state.StateVector) error {
	it.stats.NFe++
	return it.P.Fexpl(t, y, ydot)
}

func (it *Integrator) fimpl(t float64, y, ydot *state.StateVector) error {
	it.stats.NFi++
	return it.agree(it.P.Fimpl(t, y, ydot))
}

// imexEuler solves z = y + h*fexpl(t, y) + h*fimpl(t+h, z)
func (it *Integrator) imexEuler(y *state.StateVector, h float64) (err error) {
	var (
		t = it.T
	)
	if err = it.fexpl(t, y, it.fe); err != nil {
		return
	}
	if y.NChem == 0 {
		it.z.LinearSum(1, y, h, it.fe)
		return
	}
	it.yexp.LinearSum(1, y, h, it.fe)
	it.z.Copy(it.yexp)
	if it.Opts.Predictor == 1 {
		if err = it.fimpl(t, y, it.fi); err != nil {
			return
		}
		floats.AddScaled(it.z.Field(state.Chem), h, it.fi.Field(state.Chem))
	}
	it.setWeights(y)
	return it.newton(t+h, h)
}

// setWeights sets w = 1/(rtol*|y| + atol)
func (it *Integrator) setWeights(y *state.StateVector) {
	for n := 0; n < y.NFields(); n++ {
		var (
			yf, wf = y.Field(n), it.w.Field(n)
		)
		for i, v := range yf {
			wf[i] = 1. / (it.Opts.RTol*math.Abs(v) + it.Opts.ATol)
		}
	}
}

// newton runs the modified Newton iteration with the iteration matrix
// I - h*J set up once at the predicted state
func (it *Integrator) newton(t, h float64) (err error) {
	var (
		chem        = state.Chem
		mf, _       = it.LS.Local.(*linsolve.MatrixFree)
		tol         = 0.05 * it.Opts.NLConvCoef
		delp, crate = 0., 1.
	)
	for m := 0; m < it.Opts.MaxNIters; m++ {
		it.stats.NNewton++
		if err = it.fimpl(t, it.z, it.fi); err != nil {
			return
		}
		// b = -G(z) = yexp + h*fimpl(z) - z
		it.b.LinearSum(1, it.yexp, h, it.fi)
		it.b.LinearSum(1, it.b, -1, it.z)
		if m == 0 {
			if err = it.setup(t, h); err != nil {
				return
			}
		}
		if mf != nil {
			mf.SetLinearization(it.z.Field(chem), it.fi.Field(chem), it.w.Field(chem), h)
		}
		it.stats.NLinSolves++
		st := it.LS.Solve(it.delta, it.b, tol)
		if st != linsolve.Success && st != linsolve.ResReduced {
			it.stats.NLinFails++
			return fmt.Errorf("linear solve at t = %g: %w", t, st.Err())
		}
		it.z.LinearSum(1, it.z, 1, it.delta)
		del := it.delta.WrmsNorm(it.w)
		if m > 0 {
			crate = math.Max(0.3*crate, del/delp)
		}
		if del*math.Min(1, crate)/it.Opts.NLConvCoef <= 1 {
			return
		}
		if m > 0 && del > 2*delp {
			break
		}
		delp = del
	}
	it.stats.NConvFails++
	return fmt.Errorf("%w at t = %g", ErrNewtonConv, t)
}

func (it *Integrator) setup(t, h float64) (err error) {
	if it.J != nil {
		if err = it.agree(it.P.Jimpl(t, it.z, it.J)); err != nil {
			return
		}
		it.stats.NJe++
		it.J.Scale(-h)
		it.J.AddDiagonal(1)
	}
	it.stats.NLinSetups++
	if st := it.LS.Setup(it.J); st != linsolve.Success {
		it.stats.NLinFails++
		return fmt.Errorf("linear setup at t = %g: %w", t, st.Err())
	}
	return
}

// agree makes a local outcome global: a rank without a local error returns
// the worst failure of any other rank
func (it *Integrator) agree(err error) error {
	if it.Ctx == nil || it.Ctx.Size == 1 {
		return err
	}
	code := 0
	if err != nil {
		code = 2
		if IsRecoverable(err) {
			code = 1
		}
	}
	glob := cluster.AllreduceScalar(it.Ctx, cluster.OpMax, code)
	switch {
	case glob == 2 && code < 2:
		return ErrRemoteFatal
	case glob == 1 && code == 0:
		return ErrRemoteFailure
	}
	return err
}

func (it *Integrator) rank() int {
	if it.Ctx == nil {
		return 0
	}
	return it.Ctx.Rank
}
