// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sparse provides a sparse matrix whose rows are distributed over
// the ranks of a communicator.
package sparse

import (
	"errors"
	"fmt"

	"github.com/vladimir-ch/pcg/comm"
	"github.com/vladimir-ch/pcg/internal/dok"
)

var (
	// ErrOutOfRange is returned for an entry outside of the matrix or
	// outside of the rows owned by the caller.
	ErrOutOfRange = errors.New("sparse: index out of range")

	// ErrDimensionMismatch is returned when vector lengths disagree with
	// the matrix.
	ErrDimensionMismatch = errors.New("sparse: dimension mismatch")

	// ErrFormat is returned for malformed Matrix Market input.
	ErrFormat = errors.New("sparse: malformed Matrix Market input")
)

// Partition returns the rows begin..end of an n-row matrix owned by rank
// out of size ranks. Rows are split into contiguous blocks whose sizes
// differ by at most one, larger blocks first. A rank without rows gets
// end == begin-1.
func Partition(n, size, rank int) (begin, end int) {
	if n < 0 || size <= 0 || rank < 0 || size <= rank {
		panic("sparse: invalid partition")
	}
	base, rem := n/size, n%size
	begin = rank*base + min(rank, rem)
	local := base
	if rank < rem {
		local++
	}
	return begin, begin + local - 1
}

// CSR is the block of rows begin..end of a distributed rows×cols matrix in
// compressed sparse row form. Column indices are global.
//
// CSR implements pcg.Matrix and pcg.Communicator.
type CSR struct {
	comm       comm.Comm
	rows, cols int
	begin, end int

	rowPtr []int
	colIdx []int
	val    []float64
}

// Builder assembles the rows owned by one rank of a distributed matrix.
type Builder struct {
	comm       comm.Comm
	rows, cols int
	d          *dok.DOK
}

// NewBuilder returns a Builder for the rows begin..end of a rows×cols
// matrix distributed over c.
func NewBuilder(c comm.Comm, rows, cols, begin, end int) *Builder {
	if rows < 0 || cols < 0 || begin < 0 || end < begin-1 || rows <= end {
		panic("sparse: invalid row range")
	}
	return &Builder{
		comm: c,
		rows: rows,
		cols: cols,
		d:    dok.New(begin, end-begin+1, cols),
	}
}

// Add adds v to the entry in global row i and column j. Row i must be owned
// by the builder.
func (b *Builder) Add(i, j int, v float64) error {
	if i < b.d.Begin || b.d.Begin+b.d.Rows <= i || j < 0 || b.cols <= j {
		return fmt.Errorf("%w: (%d, %d) in rows %d..%d of a %d×%d matrix",
			ErrOutOfRange, i, j, b.d.Begin, b.d.Begin+b.d.Rows-1, b.rows, b.cols)
	}
	b.d.Add(i, j, v)
	return nil
}

// CSR returns the assembled matrix. The Builder can be reused afterwards.
func (b *Builder) CSR() *CSR {
	rowPtr, colIdx, val := b.d.Compress()
	return &CSR{
		comm:   b.comm,
		rows:   b.rows,
		cols:   b.cols,
		begin:  b.d.Begin,
		end:    b.d.Begin + b.d.Rows - 1,
		rowPtr: rowPtr,
		colIdx: colIdx,
		val:    val,
	}
}

// Comm returns the communicator the rows are distributed over.
func (m *CSR) Comm() comm.Comm { return m.comm }

// Dims returns the global dimensions of the matrix.
func (m *CSR) Dims() (r, c int) { return m.rows, m.cols }

// RowRange returns the first and the last row owned by the caller.
func (m *CSR) RowRange() (begin, end int) { return m.begin, m.end }

// NNZ returns the number of locally stored entries.
func (m *CSR) NNZ() int { return len(m.val) }

// Do calls fn for every locally stored entry, row by row.
func (m *CSR) Do(fn func(i, j int, v float64)) {
	for i := 0; i < m.end-m.begin+1; i++ {
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			fn(m.begin+i, m.colIdx[k], m.val[k])
		}
	}
}

// MulVec computes the local rows of A*x, where x holds the local part of a
// distributed vector. MulVec gathers x from all ranks and must be called by
// all of them.
func (m *CSR) MulVec(dst, x []float64) error {
	// Gather before checking dst so that a local error does not leave
	// the peers waiting.
	full, err := m.comm.AllGather(x)
	if err != nil {
		return err
	}
	n := m.end - m.begin + 1
	if len(dst) != n {
		return fmt.Errorf("%w: len(dst) = %d for %d local rows", ErrDimensionMismatch, len(dst), n)
	}
	if len(full) != m.cols {
		return fmt.Errorf("%w: gathered %d elements for %d columns", ErrDimensionMismatch, len(full), m.cols)
	}
	for i := range dst {
		var sum float64
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			sum += m.val[k] * full[m.colIdx[k]]
		}
		dst[i] = sum
	}
	return nil
}

// Diagonal returns the diagonal entries of the local rows.
func (m *CSR) Diagonal() []float64 {
	d := make([]float64, m.end-m.begin+1)
	m.Do(func(i, j int, v float64) {
		if i == j {
			d[i-m.begin] = v
		}
	})
	return d
}

// LocalBlock returns the square block of the local rows and the columns
// with the same indices as a dense row-major n×n slice, where n is the
// number of local rows.
func (m *CSR) LocalBlock() []float64 {
	n := m.end - m.begin + 1
	a := make([]float64, n*n)
	m.Do(func(i, j int, v float64) {
		if m.begin <= j && j <= m.end {
			a[(i-m.begin)*n+j-m.begin] = v
		}
	})
	return a
}
