// Copyright ©2016 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pcg provides the preconditioned conjugate gradient method and
// related iterative methods for solving linear systems whose matrix and
// vectors are distributed over the ranks of a communicator.
//
// All ranks of a computation call LinearSolve (or Solve) together with
// their local rows of the right-hand side. Every inner product is formed
// from local partial sums reduced over all ranks, so every rank takes the
// same decisions and performs the same sequence of collective operations.
package pcg

import "fmt"

// Operation specifies the type of operation.
type Operation uint64

// Operations commanded by Method.Iterate.
const (
	NoOperation Operation = 0

	// Multiply A*x where x is stored
	// in Context.Src and the result will
	// be stored in Context.Dst.
	MatVec Operation = 1 << (iota - 1)

	// Do the preconditioner solve
	//  M z = r,
	// where r is stored in Context.Src,
	// and store the solution z in
	// Context.Dst.
	PSolve

	// Replace every element of
	// Context.Sums, which holds local
	// partial sums, by its sum over all
	// ranks.
	Reduce

	// Compute b - A*x where x is stored
	// in Context.X and store the result
	// into Context.Residual.
	ComputeResidual

	// Check convergence using the
	// squared residual norm in
	// Context.ResidualNormSq.
	// If convergence is detected,
	// Context.Converged will be set to
	// true before calling Method.Iterate
	// again.
	CheckResidualNorm

	// EndIteration indicates that Method
	// has finished what it considers to
	// be one iteration. It can be used
	// to update an iteration counter. If
	// Context.Converged is true, the
	// iterative process must be
	// terminated, and Method.Init must
	// be called before calling
	// Method.Iterate again.
	EndIteration
)

func (op Operation) String() string {
	switch op {
	case NoOperation:
		return "NoOperation"
	case MatVec:
		return "MatVec"
	case PSolve:
		return "PSolve"
	case Reduce:
		return "Reduce"
	case ComputeResidual:
		return "ComputeResidual"
	case CheckResidualNorm:
		return "CheckResidualNorm"
	case EndIteration:
		return "EndIteration"
	}
	return fmt.Sprintf("Operation(%d)", uint64(op))
}

// Method is an iterative method that produces a sequence of vectors converging
// to the vector x satisfying a system of linear equations
//  A x = b,
// where A is non-singular n×n matrix, and x and b are vectors of dimension
// n distributed over a number of ranks.
//
// Method uses a reverse-communication interface between the iterative algorithm
// and the caller. Method acts as a client that commands the caller to perform
// needed operations via Operation returned from Iterate methods. This provides
// independence of Method on representation and distribution of the matrix A,
// and enables automation of common operations like checking for convergence
// and maintaining statistics.
//
// Method sees only the local rows of distributed vectors. Inner products
// must be reduced with the Reduce operation before Method uses them to take
// a decision.
type Method interface {
	// Init initializes the method for solving a linear system of which
	// the caller owns dim rows. dim may be zero.
	Init(dim int)

	// Iterate retrieves data from Context, updates it, and returns the next
	// operation. The caller must perform the Operation using data in
	// Context, and depending on the state call Iterate again.
	Iterate(*Context) (Operation, error)
}

// Context mediates the communication between a Method and the caller. It must
// not be modified or accessed apart from the commanded Operations.
type Context struct {
	// X is the local part of the current approximate solution. On the
	// first call to Method.Iterate, X must contain the initial estimate.
	// Method must update X with the current estimate when it commands
	// ComputeResidual and EndIteration.
	X []float64
	// Residual is the local part of the current residual b-A*x. On the
	// first call to Method.Iterate, Residual must contain the initial
	// residual.
	Residual []float64
	// ResidualNormSq is the squared 2-norm of the current residual over
	// all ranks. Method must update it when it commands CheckResidualNorm.
	ResidualNormSq float64
	// Converged indicates to Method that the ResidualNormSq satisfies the
	// stopping criterion as a result of CheckResidualNorm operation.
	// If a Method commands EndIteration with Converged true, the caller
	// must not call Method.Iterate again without calling Method.Init first.
	Converged bool

	// Src and Dst are the source and destination vectors for MatVec and
	// PSolve.
	Src, Dst []float64

	// Sums holds the scalars of a Reduce operation.
	Sums []float64
}

func reuse(v []float64, n int) []float64 {
	if cap(v) < n {
		return make([]float64, n)
	}
	return v[:n]
}
