package utils

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"github.com/james-bowman/sparse/blas"
	"gonum.org/v1/gonum/mat"
)

// BlockCSR is a block diagonal sparse matrix where every diagonal block
// shares the same sparsity pattern. The global CSR arrays are built once and
// the values of block b live in Data[b*NNZ:(b+1)*NNZ].
type BlockCSR struct {
	M                 *sparse.CSR
	NBlocks, BlockDim int
	NNZ               int   // Nonzeros per block
	RowPtr, ColIdx    []int // Pattern of a single block
	readOnly          bool
	name              string
	diag              []int // Slot of each diagonal entry in the block pattern
}

func NewBlockCSR(nBlocks, blockDim int, rowPtr, colIdx []int) (R *BlockCSR) {
	var (
		nnz = len(colIdx)
		n   = nBlocks * blockDim
		ia  = make([]int, n+1)
		ja  = make([]int, nBlocks*nnz)
	)
	if len(rowPtr) != blockDim+1 || rowPtr[blockDim] != nnz {
		err := fmt.Errorf("inconsistent block pattern: %d row pointers for dim %d, nnz %d",
			len(rowPtr), blockDim, nnz)
		panic(err)
	}
	for b := 0; b < nBlocks; b++ {
		for r := 0; r < blockDim; r++ {
			ia[b*blockDim+r] = b*nnz + rowPtr[r]
		}
		for i, c := range colIdx {
			ja[b*nnz+i] = b*blockDim + c
		}
	}
	ia[n] = nBlocks * nnz
	R = &BlockCSR{
		M:        sparse.NewCSR(n, n, ia, ja, make([]float64, nBlocks*nnz)),
		NBlocks:  nBlocks,
		BlockDim: blockDim,
		NNZ:      nnz,
		RowPtr:   rowPtr,
		ColIdx:   colIdx,
		name:     "unnamed - hint: pass a variable name to SetReadOnly()",
	}
	return
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m *BlockCSR) Dims() (r, c int)              { return m.M.Dims() }
func (m *BlockCSR) At(i, j int) float64           { return m.M.At(i, j) }
func (m *BlockCSR) T() mat.Matrix                 { return m.M.T() }
func (m *BlockCSR) RawMatrix() *blas.SparseMatrix { return m.M.RawMatrix() }
func (m *BlockCSR) Data() []float64 {
	return m.RawMatrix().Data
}

func (m *BlockCSR) SetReadOnly(name ...string) *BlockCSR {
	if len(name) != 0 {
		m.name = name[0]
	}
	m.readOnly = true
	return m
}

func (m *BlockCSR) SetWritable() *BlockCSR {
	m.readOnly = false
	return m
}

func (m *BlockCSR) checkWritable() {
	if m.readOnly {
		err := fmt.Errorf("attempt to write to a read only matrix named: \"%v\"", m.name)
		panic(err)
	}
}

// Block returns the values of block b, ordered as the block pattern
func (m *BlockCSR) Block(b int) []float64 {
	m.checkWritable()
	return m.Data()[b*m.NNZ : (b+1)*m.NNZ]
}

func (m *BlockCSR) Zero() {
	m.checkWritable()
	data := m.Data()
	for i := range data {
		data[i] = 0
	}
}

func (m *BlockCSR) Scale(alpha float64) {
	m.checkWritable()
	data := m.Data()
	for i := range data {
		data[i] *= alpha
	}
}

// DenseBlock expands block b into a dense BlockDim x BlockDim matrix
func (m *BlockCSR) DenseBlock(b int, dst *mat.Dense) *mat.Dense {
	var (
		bd   = m.BlockDim
		vals = m.Data()[b*m.NNZ : (b+1)*m.NNZ]
	)
	if dst == nil {
		dst = mat.NewDense(bd, bd, nil)
	} else {
		dst.Zero()
	}
	for r := 0; r < bd; r++ {
		for i := m.RowPtr[r]; i < m.RowPtr[r+1]; i++ {
			dst.Set(r, m.ColIdx[i], vals[i])
		}
	}
	return dst
}

// MulVec computes dst = M x over the whole block diagonal
func (m *BlockCSR) MulVec(dst, x []float64) {
	var (
		raw = m.RawMatrix()
	)
	if len(dst) != raw.I || len(x) != raw.J {
		err := fmt.Errorf("dimension mismatch: matrix %dx%d, len(dst) = %d, len(x) = %d",
			raw.I, raw.J, len(dst), len(x))
		panic(err)
	}
	for i := 0; i < raw.I; i++ {
		var sum float64
		for ii := raw.Indptr[i]; ii < raw.Indptr[i+1]; ii++ {
			sum += raw.Data[ii] * x[raw.Ind[ii]]
		}
		dst[i] = sum
	}
}

func (m *BlockCSR) NumBlocks() int { return m.NBlocks }
func (m *BlockCSR) BlockSize() int { return m.BlockDim }

// AddDiagonal adds c to every diagonal entry, which must be in the pattern
func (m *BlockCSR) AddDiagonal(c float64) {
	m.checkWritable()
	if m.diag == nil {
		m.diag = make([]int, m.BlockDim)
		for r := 0; r < m.BlockDim; r++ {
			m.diag[r] = -1
			for i := m.RowPtr[r]; i < m.RowPtr[r+1]; i++ {
				if m.ColIdx[i] == r {
					m.diag[r] = i
				}
			}
			if m.diag[r] < 0 {
				panic(fmt.Errorf("block pattern has no diagonal entry in row %d", r))
			}
		}
	}
	data := m.Data()
	for b := 0; b < m.NBlocks; b++ {
		for _, i := range m.diag {
			data[b*m.NNZ+i] += c
		}
	}
}

// CopyFrom copies the values of o, which must share the block pattern
func (m *BlockCSR) CopyFrom(o *BlockCSR) {
	m.checkWritable()
	if o.NBlocks != m.NBlocks || o.NNZ != m.NNZ || o.BlockDim != m.BlockDim {
		panic(fmt.Errorf("block pattern mismatch: %dx%d/%d vs %dx%d/%d",
			m.NBlocks, m.BlockDim, m.NNZ, o.NBlocks, o.BlockDim, o.NNZ))
	}
	copy(m.Data(), o.Data())
}
