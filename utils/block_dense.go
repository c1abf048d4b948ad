package utils

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// BlockMatrix is a block diagonal matrix with equal square blocks, as
// assembled per cell by the chemistry Jacobian
type BlockMatrix interface {
	NumBlocks() int
	BlockSize() int
	DenseBlock(b int, dst *mat.Dense) *mat.Dense
	MulVec(dst, x []float64)
	Scale(alpha float64)
	AddDiagonal(c float64)
	Zero()
}

var (
	_ BlockMatrix = &BlockCSR{}
	_ BlockMatrix = &BlockDense{}
)

// BlockDense stores every block in full, row major, block after block
type BlockDense struct {
	NBlocks, BlockDim int
	Data              []float64
}

func NewBlockDense(nBlocks, blockDim int) *BlockDense {
	return &BlockDense{
		NBlocks:  nBlocks,
		BlockDim: blockDim,
		Data:     make([]float64, nBlocks*blockDim*blockDim),
	}
}

func (m *BlockDense) NumBlocks() int { return m.NBlocks }
func (m *BlockDense) BlockSize() int { return m.BlockDim }

// Block returns the row major values of block b
func (m *BlockDense) Block(b int) []float64 {
	nb := m.BlockDim * m.BlockDim
	return m.Data[b*nb : (b+1)*nb]
}

func (m *BlockDense) DenseBlock(b int, dst *mat.Dense) *mat.Dense {
	bd := m.BlockDim
	if dst == nil {
		dst = mat.NewDense(bd, bd, nil)
	}
	src := mat.NewDense(bd, bd, m.Block(b))
	dst.Copy(src)
	return dst
}

func (m *BlockDense) MulVec(dst, x []float64) {
	var (
		bd = m.BlockDim
		n  = m.NBlocks * bd
	)
	if len(dst) != n || len(x) != n {
		err := fmt.Errorf("dimension mismatch: matrix %dx%d, len(dst) = %d, len(x) = %d",
			n, n, len(dst), len(x))
		panic(err)
	}
	for b := 0; b < m.NBlocks; b++ {
		var (
			A  = mat.NewDense(bd, bd, m.Block(b))
			xv = mat.NewVecDense(bd, x[b*bd:(b+1)*bd])
			yv = mat.NewVecDense(bd, dst[b*bd:(b+1)*bd])
		)
		yv.MulVec(A, xv)
	}
}

func (m *BlockDense) Scale(alpha float64) {
	for i := range m.Data {
		m.Data[i] *= alpha
	}
}

func (m *BlockDense) AddDiagonal(c float64) {
	bd := m.BlockDim
	for b := 0; b < m.NBlocks; b++ {
		blk := m.Block(b)
		for r := 0; r < bd; r++ {
			blk[r*bd+r] += c
		}
	}
}

func (m *BlockDense) Zero() {
	for i := range m.Data {
		m.Data[i] = 0
	}
}
