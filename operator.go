// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcg

import "github.com/vladimir-ch/pcg/comm"

// Matrix is the square matrix A of a linear system whose rows are
// distributed over the ranks of a communicator. Each rank owns the
// contiguous rows begin..end (inclusive) and the same rows of every
// distributed vector.
type Matrix interface {
	// Dims returns the global dimensions of the matrix.
	Dims() (r, c int)

	// RowRange returns the first and the last global row owned by the
	// caller. A rank that owns no rows returns end == begin-1.
	RowRange() (begin, end int)

	// MulVec computes the local rows of A*x and stores them into dst,
	// where x is the local part of the distributed vector. It may
	// communicate with the other ranks and must be called by all of them.
	// A rank whose product fails must still take part in the
	// communication of the product.
	MulVec(dst, x []float64) error
}

// Communicator is implemented by matrices that know the communicator
// their rows are distributed over. LinearSolve uses it when
// Settings.Comm is nil.
type Communicator interface {
	Comm() comm.Comm
}

// Preconditioner applies an approximation of the inverse of A.
//
// For CG the approximation must be symmetric positive definite.
type Preconditioner interface {
	// Apply stores into dst the solution z of
	//  M z = r,
	// where r and z are the local parts of distributed vectors.
	Apply(dst, r []float64) error
}

// PreconditionerFunc is an adapter to allow the use of ordinary
// functions as a Preconditioner.
type PreconditionerFunc func(dst, r []float64) error

// Apply calls f(dst, r).
func (f PreconditionerFunc) Apply(dst, r []float64) error {
	return f(dst, r)
}

// Identity is the identity preconditioner.
type Identity struct{}

// Apply implements the Preconditioner interface.
func (Identity) Apply(dst, r []float64) error {
	copy(dst, r)
	return nil
}

// MatrixOps describes an n×n matrix held by a single process in terms of
// its matrix-vector product.
type MatrixOps struct {
	// N is the dimension of the matrix.
	N int

	// Compute A*x and store the result
	// into dst.
	// It must be non-nil.
	MatVec func(dst, x []float64)
}

// Dims implements the Matrix interface.
func (m MatrixOps) Dims() (r, c int) { return m.N, m.N }

// RowRange implements the Matrix interface.
func (m MatrixOps) RowRange() (begin, end int) { return 0, m.N - 1 }

// MulVec implements the Matrix interface.
func (m MatrixOps) MulVec(dst, x []float64) error {
	m.MatVec(dst, x)
	return nil
}
