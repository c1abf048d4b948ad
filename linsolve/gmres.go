package linsolve

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/chemhydro/state"
	"github.com/notargets/chemhydro/utils"
)

const (
	DefaultMaxL        = 5 // Krylov subspace dimension
	DefaultMaxRestarts = 0
)

// RHSFunc evaluates the chemistry right hand side of the local block, in the
// same units as the cached FCur
type RHSFunc func(y, ydot []float64) error

// MatrixFree solves (I - gamma*J) x = b with restarted GMRES, approximating
// J v by a divided difference of the right hand side about Y. The caller
// supplies the linearization with SetLinearization before each solve.
type MatrixFree struct {
	F           RHSFunc
	MaxL        int
	MaxRestarts int
	Y, FCur     []float64 // Linearization state and its right hand side
	Weights     []float64 // Error weights, nil for unit weights
	Gamma       float64
	NFeDQ       int // Right hand side evaluations in ApplyOperator
	NIters      int // Krylov iterations
	NSetups     int
	NSolves     int
	lastFlag    Status
	work        []float64
	ones        []float64
}

func NewMatrixFree(F RHSFunc, maxl int) *MatrixFree {
	if maxl < 1 {
		maxl = DefaultMaxL
	}
	return &MatrixFree{F: F, MaxL: maxl, MaxRestarts: DefaultMaxRestarts}
}

func (s *MatrixFree) Type() SolverType { return SolverMatrixFree }

func (s *MatrixFree) LastFlag() Status { return s.lastFlag }

// SetLinearization stores references to the state the operator is taken
// about, its right hand side, the error weights and gamma
func (s *MatrixFree) SetLinearization(y, fcur, weights []float64, gamma float64) {
	s.Y, s.FCur, s.Weights, s.Gamma = y, fcur, weights, gamma
}

// Setup has nothing to factor
func (s *MatrixFree) Setup(A utils.BlockMatrix) Status {
	s.NSetups++
	s.lastFlag = Success
	return s.lastFlag
}

func (s *MatrixFree) weights(n int) []float64 {
	if s.Weights != nil {
		return s.Weights
	}
	if len(s.ones) != n {
		s.ones = utils.ConstArray(n, 1)
	}
	return s.ones
}

// ApplyOperator sets z = v - gamma*(F(Y+sigma*v) - FCur)/sigma with
// sigma = 1/||v||, the norm weighted by the error weights
func (s *MatrixFree) ApplyOperator(v, z []float64) Status {
	if s.F == nil || s.Y == nil || s.FCur == nil {
		s.lastFlag = MemNull
		return s.lastFlag
	}
	n := len(v)
	if len(s.Y) != n || len(z) != n || len(s.FCur) != n {
		s.lastFlag = IllInput
		return s.lastFlag
	}
	vnorm := state.WrmsNormLocal(v, s.weights(n))
	if vnorm == 0 {
		copy(z, v)
		return Success
	}
	if len(s.work) != n {
		s.work = make([]float64, n)
	}
	sig := 1. / vnorm
	floats.AddScaledTo(s.work, s.Y, sig, v)
	err := s.F(s.work, z)
	s.NFeDQ++
	if err != nil {
		s.lastFlag = ATimesFailUnrec
		if isRecoverable(err) {
			s.lastFlag = ATimesFailRec
		}
		return s.lastFlag
	}
	siginv := 1. / sig
	for i := range z {
		Jv := siginv * (z[i] - s.FCur[i])
		z[i] = v[i] - s.Gamma*Jv
	}
	return Success
}

type recoverable interface{ Recoverable() bool }

// isRecoverable treats errors wrapping ErrRecoverable, or reporting
// themselves recoverable, as retryable
func isRecoverable(err error) bool {
	if errors.Is(err, ErrRecoverable) {
		return true
	}
	var r recoverable
	if errors.As(err, &r) {
		return r.Recoverable()
	}
	return false
}

// Solve runs GMRES from a zero initial guess on the weighted system and
// stops when the weighted RMS norm of the residual is at most tol
func (s *MatrixFree) Solve(x, b []float64, tol float64) (st Status) {
	s.NSolves++
	defer func() { s.lastFlag = st }()
	var (
		n     = len(b)
		w     = s.weights(n)
		maxl  = s.MaxL
		delta = tol * math.Sqrt(float64(n))
		r     = make([]float64, n)
		u     = make([]float64, n)
		z     = make([]float64, n)
		V     = make([][]float64, maxl+1)
		H     = mat.NewDense(maxl+1, maxl, nil)
		g     = make([]float64, maxl+1)
		cs    = make([]float64, maxl)
		sn    = make([]float64, maxl)
	)
	if len(x) != n || len(w) != n {
		return IllInput
	}
	for i := range V {
		V[i] = make([]float64, n)
	}
	for i := range x {
		x[i] = 0
	}
	floats.MulTo(r, w, b)
	var (
		beta  = floats.Norm(r, 2)
		beta0 = beta
		rnorm = beta
	)
	if beta <= delta {
		return Success
	}
	for restart := 0; restart <= s.MaxRestarts; restart++ {
		floats.ScaleTo(V[0], 1/beta, r)
		for i := range g {
			g[i] = 0
		}
		g[0] = beta
		H.Zero()
		l := 0
		for j := 0; j < maxl; j++ {
			floats.DivTo(u, V[j], w)
			if st = s.ApplyOperator(u, z); st != Success {
				return
			}
			s.NIters++
			floats.MulTo(V[j+1], w, z)
			for k := 0; k <= j; k++ { // Modified Gram-Schmidt
				hkj := floats.Dot(V[k], V[j+1])
				H.Set(k, j, hkj)
				floats.AddScaled(V[j+1], -hkj, V[k])
			}
			hNext := floats.Norm(V[j+1], 2)
			H.Set(j+1, j, hNext)
			for k := 0; k < j; k++ { // Previous Givens rotations
				a, c := H.At(k, j), H.At(k+1, j)
				H.Set(k, j, cs[k]*a+sn[k]*c)
				H.Set(k+1, j, -sn[k]*a+cs[k]*c)
			}
			a, c := H.At(j, j), H.At(j+1, j)
			den := math.Hypot(a, c)
			if den == 0 {
				return ConvFail
			}
			cs[j], sn[j] = a/den, c/den
			H.Set(j, j, den)
			H.Set(j+1, j, 0)
			g[j+1] = -sn[j] * g[j]
			g[j] = cs[j] * g[j]
			rnorm = math.Abs(g[j+1])
			l = j + 1
			if rnorm <= delta || hNext == 0 {
				break
			}
			floats.Scale(1/hNext, V[j+1])
		}
		// Update x with the least squares solution on the Krylov basis
		var (
			R = mat.NewTriDense(l, mat.Upper, nil)
			y mat.VecDense
		)
		for i := 0; i < l; i++ {
			for k := i; k < l; k++ {
				R.SetTri(i, k, H.At(i, k))
			}
		}
		if err := y.SolveVec(R, mat.NewVecDense(l, append([]float64{}, g[:l]...))); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return QRSolFail
			}
		}
		for i := range u {
			u[i] = 0
		}
		for k := 0; k < l; k++ {
			floats.AddScaled(u, y.AtVec(k), V[k])
		}
		floats.Div(u, w)
		floats.Add(x, u)
		if rnorm <= delta {
			return Success
		}
		if restart == s.MaxRestarts {
			break
		}
		// Weighted residual of the updated x for the next cycle
		if st = s.ApplyOperator(x, z); st != Success {
			return
		}
		for i := range r {
			r[i] = w[i] * (b[i] - z[i])
		}
		if beta = floats.Norm(r, 2); beta <= delta {
			return Success
		}
	}
	if rnorm < beta0 {
		return ResReduced
	}
	return ConvFail
}

func (s *MatrixFree) Free() {
	s.work, s.ones = nil, nil
	s.Y, s.FCur, s.Weights = nil, nil, nil
}
