// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package precond provides preconditioners for distributed matrices that
// need no communication to be applied.
package precond

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrZeroDiagonal is returned for a matrix with a zero diagonal entry.
	ErrZeroDiagonal = errors.New("precond: zero diagonal entry")

	// ErrNotPositiveDefinite is returned when a factorization requires a
	// positive definite matrix and gets something else.
	ErrNotPositiveDefinite = errors.New("precond: not positive definite")

	// ErrDimensionMismatch is returned when vector lengths disagree with the
	// preconditioner.
	ErrDimensionMismatch = errors.New("precond: dimension mismatch")
)

// Diagonaler is a distributed matrix that provides the diagonal of its
// local rows.
type Diagonaler interface {
	Diagonal() []float64
}

// LocalBlocker is a distributed matrix that provides the square block of
// its local rows and the columns of the same indices, as a dense row-major
// slice.
type LocalBlocker interface {
	LocalBlock() []float64
}

// Jacobi is the diagonal preconditioner
//  M = diag(A).
type Jacobi struct {
	inv []float64
}

// NewJacobi returns the Jacobi preconditioner of the local rows of a.
func NewJacobi(a Diagonaler) (*Jacobi, error) {
	d := a.Diagonal()
	inv := make([]float64, len(d))
	for i, v := range d {
		if v == 0 {
			return nil, fmt.Errorf("%w: local row %d", ErrZeroDiagonal, i)
		}
		inv[i] = 1 / v
	}
	return &Jacobi{inv: inv}, nil
}

// Apply implements the pcg.Preconditioner interface.
func (j *Jacobi) Apply(dst, r []float64) error {
	if len(dst) != len(j.inv) || len(r) != len(j.inv) {
		return ErrDimensionMismatch
	}
	for i, v := range r {
		dst[i] = v * j.inv[i]
	}
	return nil
}

// BlockJacobi is the block diagonal preconditioner whose blocks are the
// diagonal blocks of A owned by the individual ranks. Each block is solved
// exactly with its Cholesky factorization. Only the upper triangle of a
// block is used.
type BlockJacobi struct {
	n    int
	chol mat.Cholesky
}

// NewBlockJacobi factorizes the local diagonal block of a.
func NewBlockJacobi(a LocalBlocker) (*BlockJacobi, error) {
	blk := a.LocalBlock()
	n := 0
	for n*n < len(blk) {
		n++
	}
	if n*n != len(blk) {
		return nil, fmt.Errorf("%w: block of %d elements is not square", ErrDimensionMismatch, len(blk))
	}
	b := &BlockJacobi{n: n}
	if n == 0 {
		return b, nil
	}
	if ok := b.chol.Factorize(mat.NewSymDense(n, blk)); !ok {
		return nil, fmt.Errorf("%w: local %d×%d block", ErrNotPositiveDefinite, n, n)
	}
	return b, nil
}

// Apply implements the pcg.Preconditioner interface.
func (b *BlockJacobi) Apply(dst, r []float64) error {
	if len(dst) != b.n || len(r) != b.n {
		return ErrDimensionMismatch
	}
	if b.n == 0 {
		return nil
	}
	z := mat.NewVecDense(b.n, dst)
	err := b.chol.SolveVecTo(z, mat.NewVecDense(b.n, r))
	var cond mat.Condition
	if err != nil && !errors.As(err, &cond) {
		return err
	}
	return nil
}
