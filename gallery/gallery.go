// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gallery generates distributed test matrices from finite
// difference discretizations on structured grids, and right-hand sides.
//
// Grid points are numbered lexicographically with x running fastest:
//  row = ix + nx*(iy + ny*iz).
// Rows are split into contiguous blocks with sparse.Partition.
package gallery

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/vladimir-ch/pcg/comm"
	"github.com/vladimir-ch/pcg/sparse"
)

// ErrBadGrid is returned for grids with a non-positive extent.
var ErrBadGrid = errors.New("gallery: invalid grid")

type grid struct {
	nx, ny, nz int
}

func newGrid(nx, ny, nz int) (grid, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return grid{}, fmt.Errorf("%w: %d×%d×%d", ErrBadGrid, nx, ny, nz)
	}
	return grid{nx, ny, nz}, nil
}

func (g grid) size() int { return g.nx * g.ny * g.nz }

func (g grid) index(ix, iy, iz int) int { return ix + g.nx*(iy+g.ny*iz) }

func (g grid) contains(ix, iy, iz int) bool {
	return 0 <= ix && ix < g.nx && 0 <= iy && iy < g.ny && 0 <= iz && iz < g.nz
}

// stencil adds the entries of the row of grid point (ix, iy, iz) by calling
// add with the coordinates of the column point.
type stencil func(ix, iy, iz int, add func(jx, jy, jz int, v float64))

// assemble builds the rows owned by the rank of c. Entries whose column
// point falls outside of the grid are dropped.
func assemble(c comm.Comm, g grid, st stencil) (*sparse.CSR, error) {
	n := g.size()
	begin, end := sparse.Partition(n, c.Size(), c.Rank())
	b := sparse.NewBuilder(c, n, n, begin, end)
	var err error
	for row := begin; row <= end; row++ {
		ix := row % g.nx
		iy := (row / g.nx) % g.ny
		iz := row / (g.nx * g.ny)
		st(ix, iy, iz, func(jx, jy, jz int, v float64) {
			if err != nil || !g.contains(jx, jy, jz) {
				return
			}
			err = b.Add(row, g.index(jx, jy, jz), v)
		})
		if err != nil {
			return nil, err
		}
	}
	return b.CSR(), nil
}

// Laplacian returns the 7-point discretization of
//  -cx Dxx - cy Dyy - cz Dzz
// on an nx×ny×nz grid. The diagonal is 2*cx + 2*cy + 2*cz where the terms
// of dimensions with a single point are left out, the off-diagonal
// entries are -cx, -cy and -cz.
func Laplacian(c comm.Comm, nx, ny, nz int, cx, cy, cz float64) (*sparse.CSR, error) {
	g, err := newGrid(nx, ny, nz)
	if err != nil {
		return nil, err
	}
	var diag float64
	if nx > 1 {
		diag += 2 * cx
	}
	if ny > 1 {
		diag += 2 * cy
	}
	if nz > 1 {
		diag += 2 * cz
	}
	return assemble(c, g, func(ix, iy, iz int, add func(int, int, int, float64)) {
		add(ix, iy, iz-1, -cz)
		add(ix, iy-1, iz, -cy)
		add(ix-1, iy, iz, -cx)
		add(ix, iy, iz, diag)
		add(ix+1, iy, iz, -cx)
		add(ix, iy+1, iz, -cy)
		add(ix, iy, iz+1, -cz)
	})
}

// Laplacian9pt returns the 9-point Laplacian on an nx×ny grid with 8 on
// the diagonal and -1 for all neighbors.
func Laplacian9pt(c comm.Comm, nx, ny int) (*sparse.CSR, error) {
	g, err := newGrid(nx, ny, 1)
	if err != nil {
		return nil, err
	}
	return assemble(c, g, func(ix, iy, iz int, add func(int, int, int, float64)) {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				v := -1.0
				if dx == 0 && dy == 0 {
					v = 8
				}
				add(ix+dx, iy+dy, iz, v)
			}
		}
	})
}

// Laplacian27pt returns the 27-point Laplacian on an nx×ny×nz grid with 26
// on the diagonal and -1 for all neighbors.
func Laplacian27pt(c comm.Comm, nx, ny, nz int) (*sparse.CSR, error) {
	g, err := newGrid(nx, ny, nz)
	if err != nil {
		return nil, err
	}
	return assemble(c, g, func(ix, iy, iz int, add func(int, int, int, float64)) {
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					v := -1.0
					if dx == 0 && dy == 0 && dz == 0 {
						v = 26
					}
					add(ix+dx, iy+dy, iz+dz, v)
				}
			}
		}
	})
}

// DiffConv returns the 7-point discretization of the convection-diffusion
// operator
//  -cx Dxx - cy Dyy - cz Dzz + ax Dx + ay Dy + az Dz
// on an nx×ny×nz grid of the unit cube with mesh widths 1/(n+1). The
// convection terms use one-sided differences, so the matrix is not
// symmetric unless all of ax, ay and az are zero.
func DiffConv(c comm.Comm, nx, ny, nz int, cx, cy, cz, ax, ay, az float64) (*sparse.CSR, error) {
	g, err := newGrid(nx, ny, nz)
	if err != nil {
		return nil, err
	}
	hx := 1 / float64(nx+1)
	hy := 1 / float64(ny+1)
	hz := 1 / float64(nz+1)

	west, south, down := -cx/(hx*hx), -cy/(hy*hy), -cz/(hz*hz)
	east, north, up := west+ax/hx, south+ay/hy, down+az/hz
	var diag float64
	if nx > 1 {
		diag += 2*cx/(hx*hx) - ax/hx
	}
	if ny > 1 {
		diag += 2*cy/(hy*hy) - ay/hy
	}
	if nz > 1 {
		diag += 2*cz/(hz*hz) - az/hz
	}
	return assemble(c, g, func(ix, iy, iz int, add func(int, int, int, float64)) {
		add(ix, iy, iz-1, down)
		add(ix, iy-1, iz, south)
		add(ix-1, iy, iz, west)
		add(ix, iy, iz, diag)
		add(ix+1, iy, iz, east)
		add(ix, iy+1, iz, north)
		add(ix, iy, iz+1, up)
	})
}

// Distributed is a distributed matrix or vector layout.
type Distributed interface {
	Dims() (r, c int)
	RowRange() (begin, end int)
}

// Ones returns the local part of the vector of all ones.
func Ones(m Distributed) []float64 {
	begin, end := m.RowRange()
	v := make([]float64, end-begin+1)
	for i := range v {
		v[i] = 1
	}
	return v
}

// Random returns the local part of a vector of unit 2-norm with elements
// drawn uniformly from [0, 1) and scaled. The vector depends only on seed,
// not on the number of ranks.
func Random(m Distributed, seed uint64) []float64 {
	rows, _ := m.Dims()
	begin, end := m.RowRange()
	// Every rank draws the whole vector, so the norm is the same on all
	// of them without communication.
	rnd := rand.New(rand.NewPCG(seed, 0))
	all := make([]float64, rows)
	for i := range all {
		all[i] = rnd.Float64()
	}
	if norm := floats.Norm(all, 2); norm > 0 {
		floats.Scale(1/norm, all)
	}
	v := make([]float64, end-begin+1)
	copy(v, all[begin:end+1])
	return v
}

// OnesImage returns the local part of b = A*1, the right-hand side for
// which the solution of A x = b is the vector of all ones. It must be
// called by all ranks of a.
func OnesImage(a *sparse.CSR) ([]float64, error) {
	b := make([]float64, len(Ones(a)))
	if err := a.MulVec(b, Ones(a)); err != nil {
		return nil, err
	}
	return b, nil
}
