// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gallery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/vladimir-ch/pcg/comm"
	"github.com/vladimir-ch/pcg/sparse"
)

type index struct{ i, j int }

// collect assembles a matrix on size ranks and returns all its entries.
func collect(t *testing.T, size int, build func(c comm.Comm) (*sparse.CSR, error)) map[index]float64 {
	t.Helper()
	var mu sync.Mutex
	got := make(map[index]float64)
	err := comm.Run(context.Background(), size, func(c comm.Comm) error {
		a, err := build(c)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		a.Do(func(i, j int, v float64) {
			got[index{i, j}] = v
		})
		return nil
	})
	require.NoError(t, err, "size=%d", size)
	return got
}

func TestLaplacian1D(t *testing.T) {
	a, err := Laplacian(comm.Self(), 3, 1, 1, 1, 1, 1)
	require.NoError(t, err)
	r, c := a.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)

	dense := make([]float64, 9)
	a.Do(func(i, j int, v float64) { dense[i*3+j] = v })
	assert.Equal(t, []float64{
		2, -1, 0,
		-1, 2, -1,
		0, -1, 2,
	}, dense)
}

func TestLaplacianDistributed(t *testing.T) {
	for _, test := range []struct {
		name  string
		build func(c comm.Comm) (*sparse.CSR, error)
	}{
		{"7pt", func(c comm.Comm) (*sparse.CSR, error) { return Laplacian(c, 4, 3, 2, 1, 2, 3) }},
		{"9pt", func(c comm.Comm) (*sparse.CSR, error) { return Laplacian9pt(c, 4, 5) }},
		{"27pt", func(c comm.Comm) (*sparse.CSR, error) { return Laplacian27pt(c, 3, 3, 2) }},
		{"diffconv", func(c comm.Comm) (*sparse.CSR, error) { return DiffConv(c, 4, 3, 2, 1, 1, 1, 10, 0, -5) }},
	} {
		want := collect(t, 1, test.build)
		for _, size := range []int{2, 3, 5} {
			got := collect(t, size, test.build)
			assert.Equal(t, want, got, "%s size=%d", test.name, size)
		}
	}
}

func TestStencilCounts(t *testing.T) {
	for _, test := range []struct {
		name  string
		build func(c comm.Comm) (*sparse.CSR, error)
		n     int
		nnz   int
		diag  float64
	}{
		{"7pt", func(c comm.Comm) (*sparse.CSR, error) { return Laplacian(c, 3, 3, 3, 1, 1, 1) }, 27, 135, 6},
		{"5pt", func(c comm.Comm) (*sparse.CSR, error) { return Laplacian(c, 3, 3, 1, 1, 1, 1) }, 9, 33, 4},
		{"9pt", func(c comm.Comm) (*sparse.CSR, error) { return Laplacian9pt(c, 3, 3) }, 9, 49, 8},
		{"27pt", func(c comm.Comm) (*sparse.CSR, error) { return Laplacian27pt(c, 3, 3, 3) }, 27, 343, 26},
	} {
		a, err := test.build(comm.Self())
		require.NoError(t, err, test.name)
		r, _ := a.Dims()
		assert.Equal(t, test.n, r, test.name)
		assert.Equal(t, test.nnz, a.NNZ(), test.name)
		for i, d := range a.Diagonal() {
			assert.Equal(t, test.diag, d, "%s row %d", test.name, i)
		}
	}
}

func TestDiffConv(t *testing.T) {
	const nx, ny, nz = 3, 3, 3
	a, err := DiffConv(comm.Self(), nx, ny, nz, 1, 2, 0.5, 3, -1, 2)
	require.NoError(t, err)

	// The rows of interior points annihilate constants.
	center := 1 + nx*(1+ny*1)
	var sum, scale float64
	a.Do(func(i, j int, v float64) {
		if i == center {
			sum += v
			scale += v * v
		}
	})
	assert.InDelta(t, 0, sum, 1e-12*scale)

	got := collect(t, 1, func(c comm.Comm) (*sparse.CSR, error) {
		return DiffConv(c, nx, ny, nz, 1, 2, 0.5, 3, -1, 2)
	})
	assert.NotEqual(t, got[index{0, 1}], got[index{1, 0}], "convection must break symmetry")

	sym := collect(t, 1, func(c comm.Comm) (*sparse.CSR, error) {
		return DiffConv(c, nx, ny, nz, 1, 2, 0.5, 0, 0, 0)
	})
	for k, v := range sym {
		assert.Equal(t, v, sym[index{k.j, k.i}], "entry (%d,%d)", k.i, k.j)
	}
}

func TestBadGrid(t *testing.T) {
	_, err := Laplacian(comm.Self(), 0, 1, 1, 1, 1, 1)
	assert.True(t, errors.Is(err, ErrBadGrid), "err=%v", err)
	_, err = Laplacian9pt(comm.Self(), 2, -1)
	assert.True(t, errors.Is(err, ErrBadGrid), "err=%v", err)
	_, err = Laplacian27pt(comm.Self(), 1, 1, 0)
	assert.True(t, errors.Is(err, ErrBadGrid), "err=%v", err)
	_, err = DiffConv(comm.Self(), 1, 0, 1, 1, 1, 1, 0, 0, 0)
	assert.True(t, errors.Is(err, ErrBadGrid), "err=%v", err)
}

func TestRightHandSides(t *testing.T) {
	const n = 11
	want := make([]float64, n)
	for _, size := range []int{1, 2, 4} {
		got := make([]float64, n)
		var mu sync.Mutex
		err := comm.Run(context.Background(), size, func(c comm.Comm) error {
			a, err := Laplacian(c, n, 1, 1, 1, 0, 0)
			if err != nil {
				return err
			}
			begin, _ := a.RowRange()
			for _, v := range Ones(a) {
				assert.Equal(t, 1.0, v)
			}
			v := Random(a, 7)
			mu.Lock()
			copy(got[begin:], v)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err, "size=%d", size)
		if size == 1 {
			copy(want, got)
			for _, v := range want {
				assert.True(t, 0 <= v && v < 1, "v=%v", v)
			}
			assert.InDelta(t, 1, floats.Norm(want, 2), 1e-14)
			continue
		}
		assert.Equal(t, want, got, "size=%d", size)
	}
}

func TestOnesImage(t *testing.T) {
	const n = 9
	for _, size := range []int{1, 2, 4} {
		got := make([]float64, n)
		var mu sync.Mutex
		err := comm.Run(context.Background(), size, func(c comm.Comm) error {
			a, err := Laplacian(c, n, 1, 1, 1, 0, 0)
			if err != nil {
				return err
			}
			b, err := OnesImage(a)
			if err != nil {
				return err
			}
			begin, _ := a.RowRange()
			mu.Lock()
			copy(got[begin:], b)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err, "size=%d", size)
		// Only the boundary rows of the 1D Laplacian have a non-zero
		// row sum.
		want := make([]float64, n)
		want[0], want[n-1] = 1, 1
		assert.Equal(t, want, got, "size=%d", size)
	}
}
