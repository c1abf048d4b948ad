package linsolve

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/notargets/chemhydro/cluster"
	"github.com/notargets/chemhydro/state"
	"github.com/notargets/chemhydro/utils"
)

// BlockDiagonal applies a local Solver to the chemistry block of a composite
// state and agrees on the outcome across ranks. The fluid fields carry an
// identity block: Solve copies them from b into x.
//
// Every Setup and Solve is collective. The reduced status is the most
// negative code of any rank if one is negative, otherwise the largest
// recoverable code, so that no rank proceeds while another failed.
type BlockDiagonal struct {
	Ctx      *cluster.Context
	Local    Solver
	Log      logrus.FieldLogger
	lastFlag Status
	NSetups  int
	NSolves  int
	NFails   int // Collective failures of Setup or Solve
}

func NewBlockDiagonal(ctx *cluster.Context, local Solver) *BlockDiagonal {
	return &BlockDiagonal{
		Ctx:   ctx,
		Local: local,
		Log:   logrus.StandardLogger(),
	}
}

// Reduce combines a per rank status: the minimum of {s, -s} over all ranks
// gives both the worst unrecoverable and the worst recoverable code
func Reduce(ctx *cluster.Context, s Status) Status {
	if ctx == nil || ctx.Size == 1 {
		return s
	}
	glob := cluster.Allreduce(ctx, cluster.OpMin, []int{int(s), -int(s)})
	if glob[0] < 0 {
		return Status(glob[0])
	}
	return Status(-glob[1])
}

func (bd *BlockDiagonal) reduce(op string, local Status) (glob Status) {
	glob = Reduce(bd.Ctx, local)
	bd.lastFlag = glob
	if glob != Success {
		bd.NFails++
		if local != Success && bd.Log != nil {
			bd.Log.WithFields(logrus.Fields{
				"rank":   bd.rank(),
				"op":     op,
				"status": int(local),
			}).Debugf("local linear solver: %v", local)
		}
	}
	return
}

func (bd *BlockDiagonal) rank() int {
	if bd.Ctx == nil {
		return 0
	}
	return bd.Ctx.Rank
}

// Setup passes A to the local solver
func (bd *BlockDiagonal) Setup(A utils.BlockMatrix) Status {
	bd.NSetups++
	return bd.reduce("setup", bd.Local.Setup(A))
}

// Solve solves for the chemistry block of x from that of b
func (bd *BlockDiagonal) Solve(x, b *state.StateVector, tol float64) Status {
	bd.NSolves++
	for n := 0; n < state.NFluid; n++ {
		copy(x.Field(n), b.Field(n))
	}
	local := IllInput
	if b.NChem > 0 && x.NChem == b.NChem {
		local = bd.Local.Solve(x.Field(state.Chem), b.Field(state.Chem), tol)
	}
	return bd.reduce("solve", local)
}

// ApplyOperator sets z = A v on the chemistry block and z = v on the fluid
// fields. It is local.
func (bd *BlockDiagonal) ApplyOperator(v, z *state.StateVector) Status {
	for n := 0; n < state.NFluid; n++ {
		copy(z.Field(n), v.Field(n))
	}
	return bd.Local.ApplyOperator(v.Field(state.Chem), z.Field(state.Chem))
}

func (bd *BlockDiagonal) LastFlag() Status { return bd.lastFlag }

func (bd *BlockDiagonal) Free() { bd.Local.Free() }

func (bd *BlockDiagonal) Print() {
	fmt.Printf("Linear solver: %s, block diagonal over %d ranks\n",
		bd.Local.Type().Print(), bd.size())
}

func (bd *BlockDiagonal) size() int {
	if bd.Ctx == nil {
		return 1
	}
	return bd.Ctx.Size
}
