// Copyright ©2016 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcg

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// PCG implements the preconditioned Conjugate Gradient iterative method for
// solving the system of linear equations
//  Ax = b,
// where A is a symmetric positive definite matrix and the preconditioner M
// is symmetric positive definite as well.
//
// PCG needs MatVec, PSolve and Reduce operations. Every iteration reduces
// twice: <p, Ap> for the step length, and <r, z> together with <r, r> for
// the next direction and the convergence check.
type PCG struct {
	resume int

	gamma, gammaPrev float64

	z  []float64 // Preconditioned residual.
	p  []float64 // Search direction.
	ap []float64 // A times the search direction.
}

// Init implements the Method interface.
func (cg *PCG) Init(dim int) {
	if dim < 0 {
		panic("pcg: negative dimension")
	}

	cg.z = reuse(cg.z, dim)
	cg.p = reuse(cg.p, dim)
	cg.ap = reuse(cg.ap, dim)
	cg.resume = 1
}

// Iterate implements the Method interface.
func (cg *PCG) Iterate(ctx *Context) (Operation, error) {
	r := ctx.Residual
	switch cg.resume {
	case 1:
		ctx.Src = r
		ctx.Dst = cg.z
		cg.resume = 2
		return PSolve, nil
		// Solve M z = r_0.
	case 2:
		ctx.Src = nil
		ctx.Dst = nil
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(r, cg.z))
		cg.resume = 3
		return Reduce, nil
		// γ = r_0 · z
	case 3:
		cg.gamma = ctx.Sums[0]
		copy(cg.p, cg.z) // p_1 = z
		fallthrough
	case 4:
		ctx.Src = cg.p
		ctx.Dst = cg.ap
		cg.resume = 5
		return MatVec, nil
		// Compute Ap_i.
	case 5:
		ctx.Src = nil
		ctx.Dst = nil
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(cg.ap, cg.p))
		cg.resume = 6
		return Reduce, nil
		// p_i · Ap_i
	case 6:
		pAp := ctx.Sums[0]
		if !(pAp > 0) {
			cg.resume = 0 // Calling Iterate again without Init will panic.
			return NoOperation, fmt.Errorf("%w: <p, Ap> = %v", ErrDegenerateOperator, pAp)
		}
		alpha := cg.gamma / pAp // α = γ / (p_i · Ap_i)
		cg.gammaPrev = cg.gamma
		floats.AddScaled(ctx.X, alpha, cg.p) // x_i = x_{i-1} + α p_i
		floats.AddScaled(r, -alpha, cg.ap)   // r_i = r_{i-1} - α Ap_i

		ctx.Src = r
		ctx.Dst = cg.z
		cg.resume = 7
		return PSolve, nil
		// Solve M z = r_i.
	case 7:
		ctx.Src = nil
		ctx.Dst = nil
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(r, cg.z), floats.Dot(r, r))
		cg.resume = 8
		return Reduce, nil
		// γ = r_i · z, |r_i|^2
	case 8:
		cg.gamma = ctx.Sums[0]
		ctx.ResidualNormSq = ctx.Sums[1]
		ctx.Converged = false
		cg.resume = 9
		return CheckResidualNorm, nil
	case 9:
		if ctx.Converged {
			cg.resume = 0 // Calling Iterate again without Init will panic.
			return EndIteration, nil
		}
		beta := cg.gamma / cg.gammaPrev // β = γ_i / γ_{i-1}
		floats.Scale(beta, cg.p)        // p_{i+1} = β p_i
		floats.Add(cg.p, cg.z)          // p_{i+1} += z
		cg.resume = 4
		return EndIteration, nil

	default:
		panic("pcg: PCG.Init not called")
	}
}
