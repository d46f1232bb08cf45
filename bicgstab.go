// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// BiCGSTAB implements the BiConjugate Gradient STABilized iterative method with
// preconditioning for solving the system of linear equations
//  Ax = b,
// where A is a non-symmetric matrix. For symmetric positive definite systems
// use PCG.
//
// BiCGSTAB needs MatVec, PSolve and Reduce operations.
type BiCGSTAB struct {
	first  bool
	resume int

	rho, rhoPrev float64
	alpha        float64
	omega        float64

	rt   []float64
	p    []float64
	v    []float64
	t    []float64
	phat []float64
	s    []float64
	shat []float64
}

// Init implements the Method interface.
func (b *BiCGSTAB) Init(dim int) {
	if dim < 0 {
		panic("pcg: negative dimension")
	}

	b.rt = reuse(b.rt, dim)
	b.p = reuse(b.p, dim)
	b.v = reuse(b.v, dim)
	b.t = reuse(b.t, dim)
	b.phat = reuse(b.phat, dim)
	b.s = reuse(b.s, dim)
	b.shat = reuse(b.shat, dim)
	b.first = true
	b.resume = 1
}

// Iterate implements the Method interface.
func (b *BiCGSTAB) Iterate(ctx *Context) (Operation, error) {
	const tiny = dlamchE * dlamchE
	switch b.resume {
	case 1:
		if b.first {
			copy(b.rt, ctx.Residual)
		}
		ctx.Src = nil
		ctx.Dst = nil
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(b.rt, ctx.Residual))
		b.resume = 2
		return Reduce, nil
		// ρ_i = rt · r_{i-1}
	case 2:
		b.rho = ctx.Sums[0]
		if math.Abs(b.rho) < tiny {
			b.resume = 0 // Calling Iterate again without Init will panic.
			return NoOperation, fmt.Errorf("%w: rho breakdown", ErrDegenerateOperator)
		}
		if b.first {
			copy(b.p, ctx.Residual)
		} else {
			beta := (b.rho / b.rhoPrev) * (b.alpha / b.omega)
			floats.AddScaled(b.p, -b.omega, b.v) // p_i -= ω * v_i
			floats.Scale(beta, b.p)              // p_i *= β
			floats.Add(b.p, ctx.Residual)        // p_i += r_i
		}
		ctx.Src = b.p
		ctx.Dst = b.phat
		b.resume = 3
		return PSolve, nil
		// Solve M p^_i = p_i.
	case 3:
		ctx.Src = b.phat
		ctx.Dst = b.v
		b.resume = 4
		return MatVec, nil
		// Compute Ap^_i -> v_i.
	case 4:
		ctx.Src = nil
		ctx.Dst = nil
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(b.rt, b.v))
		b.resume = 5
		return Reduce, nil
		// rt · v_i
	case 5:
		if ctx.Sums[0] == 0 {
			b.resume = 0 // Calling Iterate again without Init will panic.
			return NoOperation, fmt.Errorf("%w: <rt, v> = 0", ErrDegenerateOperator)
		}
		b.alpha = b.rho / ctx.Sums[0]
		// Early check for tolerance.
		floats.AddScaled(ctx.Residual, -b.alpha, b.v)
		copy(b.s, ctx.Residual)
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(ctx.Residual, ctx.Residual))
		b.resume = 6
		return Reduce, nil
	case 6:
		ctx.ResidualNormSq = ctx.Sums[0]
		ctx.Converged = false
		b.resume = 7
		return CheckResidualNorm, nil
	case 7:
		if ctx.Converged {
			floats.AddScaled(ctx.X, b.alpha, b.phat)
			b.resume = 0 // Calling Iterate again without Init will panic.
			return EndIteration, nil
		}
		ctx.Src = ctx.Residual
		ctx.Dst = b.shat
		b.resume = 8
		return PSolve, nil
		// Solve M s^_i = r_i.
	case 8:
		ctx.Src = b.shat
		ctx.Dst = b.t
		b.resume = 9
		return MatVec, nil
		// Compute As^_i -> t_i.
	case 9:
		ctx.Src = nil
		ctx.Dst = nil
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(b.t, b.s), floats.Dot(b.t, b.t))
		b.resume = 10
		return Reduce, nil
		// t_i · s_i, t_i · t_i
	case 10:
		if ctx.Sums[1] == 0 {
			b.resume = 0 // Calling Iterate again without Init will panic.
			return NoOperation, fmt.Errorf("%w: <t, t> = 0", ErrDegenerateOperator)
		}
		b.omega = ctx.Sums[0] / ctx.Sums[1]
		floats.AddScaled(ctx.X, b.alpha, b.phat)
		floats.AddScaled(ctx.X, b.omega, b.shat)
		floats.AddScaled(ctx.Residual, -b.omega, b.t)
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(ctx.Residual, ctx.Residual))
		b.resume = 11
		return Reduce, nil
	case 11:
		ctx.ResidualNormSq = ctx.Sums[0]
		ctx.Converged = false
		b.resume = 12
		return CheckResidualNorm, nil
	case 12:
		if ctx.Converged {
			b.resume = 0 // Calling Iterate again without Init will panic.
			return EndIteration, nil
		}
		if math.Abs(b.omega) < tiny {
			b.resume = 0
			return NoOperation, fmt.Errorf("%w: omega breakdown", ErrDegenerateOperator)
		}
		b.rhoPrev = b.rho
		b.first = false
		b.resume = 1
		return EndIteration, nil

	default:
		panic("pcg: BiCGSTAB.Init not called")
	}
}

const dlamchE = 1.0 / (1 << 53)
