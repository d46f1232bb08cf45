// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
)

// DefaultRestart is the restart parameter of GMRES when GMRES.Restart is
// zero.
const DefaultRestart = 5

// GMRES implements the restarted Generalized Minimal RESidual method with
// right preconditioning for solving the system of linear equations
//  Ax = b,
// where A is a general non-singular matrix.
//
// The preconditioned basis vectors are kept, so the residual estimate of
// every iteration is the norm of b - A*x itself and X is current after
// every iteration. At the end of every restart cycle the residual is
// recomputed explicitly.
//
// GMRES needs MatVec, PSolve, Reduce and ComputeResidual operations. Every
// iteration reduces three times: twice for the classical Gram-Schmidt
// projections, which are repeated once for stability, and once for the
// norm of the new basis vector.
type GMRES struct {
	// Restart is the number of iterations in a restart cycle. It must not
	// be negative. If it is zero, DefaultRestart is used.
	Restart int

	resume int
	k      int // Restart in use.
	i      int // Inner iteration within the cycle.

	x0 []float64 // X at the start of the cycle.
	w  []float64

	// v holds the k+1 Arnoldi vectors and z the k preconditioned ones,
	// each as a row of length n with stride ldv.
	v, z []float64
	ldv  int

	// h holds the Hessenberg matrix column by column with stride ldh,
	// reduced to upper triangular form by the Givens rotations in givs.
	h    []float64
	ldh  int
	givs []givens
	s    []float64 // Rotated β e_1.
	y    []float64
}

type givens struct {
	c, s float64
}

// Init implements the Method interface.
func (g *GMRES) Init(dim int) {
	if dim < 0 {
		panic("pcg: negative dimension")
	}
	if g.Restart < 0 {
		panic("pcg: negative GMRES.Restart")
	}

	k := g.Restart
	if k == 0 {
		k = DefaultRestart
	}
	g.k = k
	g.x0 = reuse(g.x0, dim)
	g.w = reuse(g.w, dim)

	g.ldv = max(1, dim)
	g.v = reuse(g.v, g.ldv*(k+1))
	g.z = reuse(g.z, g.ldv*k)
	g.ldh = k + 1
	g.h = reuse(g.h, g.ldh*k)
	if cap(g.givs) < k {
		g.givs = make([]givens, k)
	} else {
		g.givs = g.givs[:k]
	}
	g.s = reuse(g.s, k+1)
	g.y = reuse(g.y, k)

	g.resume = 1
}

// Iterate implements the Method interface.
func (g *GMRES) Iterate(ctx *Context) (Operation, error) {
	n := len(ctx.X)
	ldv := g.ldv
	switch g.resume {
	case 1:
		ctx.Src = nil
		ctx.Dst = nil
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(ctx.Residual, ctx.Residual))
		g.resume = 2
		return Reduce, nil
		// |r_0|^2
	case 2:
		g.start(ctx, ctx.Sums[0])
		fallthrough
	case 3:
		i := g.i
		ctx.Src = g.v[i*ldv : i*ldv+n]
		ctx.Dst = g.z[i*ldv : i*ldv+n]
		g.resume = 4
		return PSolve, nil
		// Solve M Z[i] = V[i].
	case 4:
		i := g.i
		ctx.Src = g.z[i*ldv : i*ldv+n]
		ctx.Dst = g.w
		g.resume = 5
		return MatVec, nil
		// w = A Z[i].
	case 5:
		clear(g.h[g.i*g.ldh : (g.i+1)*g.ldh])
		g.project(ctx, n)
		g.resume = 6
		return Reduce, nil
		// V[0:i+1] · w
	case 6:
		g.orthogonalize(ctx.Sums, n)
		g.project(ctx, n)
		g.resume = 7
		return Reduce, nil
		// Repeat the projection.
	case 7:
		g.orthogonalize(ctx.Sums, n)
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(g.w, g.w))
		g.resume = 8
		return Reduce, nil
		// |w|^2
	case 8:
		i := g.i
		wnorm := math.Sqrt(ctx.Sums[0])
		hi := g.h[i*g.ldh : (i+1)*g.ldh]
		hi[i+1] = wnorm // H[i+1,i] = |w|
		if wnorm > 0 {
			vi1 := g.v[(i+1)*ldv : (i+1)*ldv+n]
			copy(vi1, g.w)
			floats.Scale(1/wnorm, vi1)
		}

		// Apply the previous rotations to the new column of H and
		// compute the one that zeroes H[i+1,i].
		for j := 0; j < i; j++ {
			hi[j], hi[j+1] = rotvec(hi[j], hi[j+1], g.givs[j])
		}
		g.givs[i] = drotg(hi[i], hi[i+1])
		hi[i], hi[i+1] = rotvec(hi[i], hi[i+1], g.givs[i])
		if !(math.Abs(hi[i]) > 0) {
			g.resume = 0 // Calling Iterate again without Init will panic.
			return NoOperation, fmt.Errorf("%w: H[%d,%d] = %v", ErrDegenerateOperator, i, i, hi[i])
		}
		g.s[i], g.s[i+1] = rotvec(g.s[i], g.s[i+1], g.givs[i])

		g.update(ctx.X)
		ctx.ResidualNormSq = g.s[i+1] * g.s[i+1]
		ctx.Src = nil
		ctx.Dst = nil
		ctx.Converged = false
		g.resume = 9
		return CheckResidualNorm, nil
	case 9:
		if ctx.Converged {
			g.resume = 0 // Calling Iterate again without Init will panic.
			return EndIteration, nil
		}
		if g.i+1 < g.k {
			g.i++
			g.resume = 3
			return EndIteration, nil
		}
		g.resume = 10
		return ComputeResidual, nil
		// End of the cycle, r = b - A x.
	case 10:
		ctx.Sums = append(ctx.Sums[:0], floats.Dot(ctx.Residual, ctx.Residual))
		g.resume = 11
		return Reduce, nil
	case 11:
		ctx.ResidualNormSq = ctx.Sums[0]
		ctx.Converged = false
		g.resume = 12
		return CheckResidualNorm, nil
	case 12:
		if ctx.Converged {
			g.resume = 0 // Calling Iterate again without Init will panic.
			return EndIteration, nil
		}
		g.start(ctx, ctx.ResidualNormSq)
		g.resume = 3
		return EndIteration, nil

	default:
		panic("pcg: GMRES.Init not called")
	}
}

// start begins a restart cycle from the residual in ctx whose squared norm
// over all ranks is rr.
func (g *GMRES) start(ctx *Context, rr float64) {
	n := len(ctx.X)
	beta := math.Sqrt(rr)
	v0 := g.v[:n]
	copy(v0, ctx.Residual)
	if beta > 0 {
		floats.Scale(1/beta, v0)
	}
	clear(g.s)
	g.s[0] = beta
	copy(g.x0, ctx.X)
	g.i = 0
}

// project stores the local part of V[0:i+1] · w into ctx.Sums.
func (g *GMRES) project(ctx *Context, n int) {
	m := g.i + 1
	ctx.Src = nil
	ctx.Dst = nil
	ctx.Sums = reuse(ctx.Sums, m)
	// Dgemv does not touch y when n is zero.
	clear(ctx.Sums)
	blas64.Implementation().Dgemv(blas.NoTrans, m, n, 1, g.v, g.ldv, g.w, 1, 0, ctx.Sums, 1)
}

// orthogonalize subtracts from w its projection c onto V[0:i+1] and adds c
// to the current column of H.
func (g *GMRES) orthogonalize(c []float64, n int) {
	m := g.i + 1
	blas64.Implementation().Dgemv(blas.Trans, m, n, -1, g.v, g.ldv, c, 1, 1, g.w, 1)
	floats.Add(g.h[g.i*g.ldh:g.i*g.ldh+m], c)
}

// update sets x = x0 + Z[0:i+1] y where y solves the triangular system
// R y = s of the current cycle.
func (g *GMRES) update(x []float64) {
	m := g.i + 1
	y := g.y[:m]
	copy(y, g.s[:m])
	// R is upper triangular and stored column by column, which is its
	// lower triangular transpose in row-major order.
	bi := blas64.Implementation()
	bi.Dtrsv(blas.Lower, blas.Trans, blas.NonUnit, m, g.h, g.ldh, y, 1)
	copy(x, g.x0)
	bi.Dgemv(blas.Trans, m, len(x), 1, g.z, g.ldv, y, 1, 1, x, 1)
}

func drotg(a, b float64) givens {
	if b == 0 {
		return givens{c: 1, s: 0}
	}
	if math.Abs(b) > math.Abs(a) {
		tmp := -a / b
		s := 1 / math.Sqrt(1+tmp*tmp)
		return givens{c: tmp * s, s: s}
	}
	tmp := -b / a
	c := 1 / math.Sqrt(1+tmp*tmp)
	return givens{c: c, s: tmp * c}
}

func rotvec(x, y float64, g givens) (rx, ry float64) {
	rx = g.c*x - g.s*y
	ry = g.s*x + g.c*y
	return
}
