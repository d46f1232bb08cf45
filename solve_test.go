// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcg

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladimir-ch/pcg/comm"
	"github.com/vladimir-ch/pcg/gallery"
	"github.com/vladimir-ch/pcg/sparse"
)

var errBoom = errors.New("boom")

// failing is a matrix whose MulVec fails from the given call on.
type failing struct {
	MatrixOps
	calls, after int
}

func (f *failing) MulVec(dst, x []float64) error {
	f.calls++
	if f.calls >= f.after {
		return errBoom
	}
	return f.MatrixOps.MulVec(dst, x)
}

func TestZeroRightHandSide(t *testing.T) {
	settings := DefaultSettings()
	settings.X0 = []float64{1, 2, 3}
	r, err := LinearSolve(diagonal(1, 2, 3), make([]float64, 3), &PCG{}, settings)
	require.NoError(t, err)
	assert.Equal(t, Converged, r.Status)
	assert.Equal(t, []float64{0, 0, 0}, r.X)
	assert.Zero(t, r.Stats.Iterations)
	assert.Zero(t, r.Stats.MatVec)
}

func TestConvergedInitialGuess(t *testing.T) {
	settings := DefaultSettings()
	settings.X0 = []float64{1, 1, 1}
	r, err := LinearSolve(diagonal(1, 2, 3), []float64{1, 2, 3}, &PCG{}, settings)
	require.NoError(t, err)
	assert.Equal(t, Converged, r.Status)
	assert.Equal(t, []float64{1, 1, 1}, r.X)
	assert.Zero(t, r.Stats.Iterations)
	assert.Zero(t, r.Stats.ResidualNorm)
}

func TestZeroIterationLimit(t *testing.T) {
	x0 := []float64{0.5, 0.5, 0.5}
	settings := DefaultSettings()
	settings.X0 = x0
	settings.MaxIterations = 0
	r, err := LinearSolve(diagonal(1, 2, 3), []float64{1, 2, 3}, &PCG{}, settings)
	assert.True(t, errors.Is(err, ErrIterationLimit), "err=%v", err)
	assert.True(t, errors.Is(err, ErrNotConverged), "err=%v", err)
	assert.Equal(t, NotConverged, r.Status)
	assert.Equal(t, x0, r.X)
	assert.Zero(t, r.Stats.Iterations)
	assert.InDelta(t, 0.5, r.Stats.ResidualNorm, 1e-15)
	assert.InDelta(t, 0.5, r.Stats.TrueResidualNorm, 1e-15)

	// The initial guess is copied.
	r.X[0] = 7
	assert.Equal(t, 0.5, x0[0])
}

func TestZeroTolerance(t *testing.T) {
	a, err := gallery.Laplacian(comm.Self(), 50, 1, 1, 1, 0, 0)
	require.NoError(t, err)
	r, err := LinearSolve(a, gallery.Ones(a), &PCG{}, Settings{MaxIterations: 5})
	assert.True(t, errors.Is(err, ErrIterationLimit), "err=%v", err)
	assert.Equal(t, NotConverged, r.Status)
	assert.Equal(t, 5, r.Stats.Iterations)
	assert.Zero(t, r.Stats.TrueResidualNorm, "not requested")
}

func TestStallGuard(t *testing.T) {
	a, err := gallery.Laplacian(comm.Self(), 50, 1, 1, 1, 0, 0)
	require.NoError(t, err)
	settings := DefaultSettings()
	settings.Tolerance = 1e-14
	settings.StallIterations = 3
	settings.StallRatio = 1e-30
	r, err := LinearSolve(a, gallery.Ones(a), &PCG{}, settings)
	assert.True(t, errors.Is(err, ErrStalled), "err=%v", err)
	assert.True(t, errors.Is(err, ErrNotConverged), "err=%v", err)
	assert.Equal(t, NotConverged, r.Status)
	assert.Equal(t, 3, r.Stats.Iterations)
	assert.Positive(t, r.Stats.TrueResidualNorm)
}

func TestOperatorFailure(t *testing.T) {
	a := &failing{MatrixOps: diagonal(1, 2, 3), after: 2}
	r, err := Solve(a, nil, []float64{1, 2, 3}, nil, 1e-10, 100)
	assert.True(t, errors.Is(err, errBoom), "err=%v", err)
	assert.Equal(t, Failed, r.Status)
	assert.Equal(t, 2, a.calls, "no MatVec after the failure")

	p := PreconditionerFunc(func(dst, r []float64) error { return errBoom })
	r, err = Solve(diagonal(1, 2, 3), p, []float64{1, 2, 3}, nil, 1e-10, 100)
	assert.True(t, errors.Is(err, errBoom), "err=%v", err)
	assert.Equal(t, Failed, r.Status)
}

// faulty is a distributed matrix whose MulVec reports an error on the
// given call after taking part in the product. A zero fail never fails.
type faulty struct {
	*sparse.CSR
	calls, fail int
}

func (f *faulty) MulVec(dst, x []float64) error {
	err := f.CSR.MulVec(dst, x)
	f.calls++
	if err == nil && f.calls == f.fail {
		err = errBoom
	}
	return err
}

func TestRankFailure(t *testing.T) {
	const size = 3
	for _, test := range []struct {
		name   string
		method func() Method
		matrix bool
	}{
		{"pcg/precond", func() Method { return &PCG{} }, false},
		{"bicgstab/precond", func() Method { return &BiCGSTAB{} }, false},
		{"gmres/precond", func() Method { return &GMRES{} }, false},
		{"pcg/matvec", func() Method { return &PCG{} }, true},
		{"gmres/matvec", func() Method { return &GMRES{} }, true},
	} {
		var mu sync.Mutex
		iters := make(map[int]int)
		err := comm.Run(context.Background(), size, func(c comm.Comm) error {
			csr, err := gallery.Laplacian(c, 10, 10, 1, 1, 1, 0)
			if err != nil {
				return err
			}
			a := &faulty{CSR: csr}
			settings := DefaultSettings()
			var calls int
			settings.Preconditioner = PreconditionerFunc(func(dst, r []float64) error {
				calls++
				if !test.matrix && c.Rank() == 1 && calls == 3 {
					return errBoom
				}
				copy(dst, r)
				return nil
			})
			if test.matrix && c.Rank() == 1 {
				a.fail = 3
			}

			r, err := LinearSolve(a, gallery.Ones(a), test.method(), settings)
			assert.Equal(t, Failed, r.Status, "%s: rank %d", test.name, c.Rank())
			if c.Rank() == 1 {
				assert.ErrorIs(t, err, errBoom, "%s", test.name)
			} else {
				assert.ErrorIs(t, err, ErrPeerFailure, "%s: rank %d", test.name, c.Rank())
			}
			mu.Lock()
			iters[c.Rank()] = r.Stats.Iterations
			mu.Unlock()
			// Returning nil keeps the group running, so no rank is
			// released by cancellation.
			return nil
		})
		require.NoError(t, err, test.name)
		for rank := 1; rank < size; rank++ {
			assert.Equal(t, iters[0], iters[rank], "%s: rank %d", test.name, rank)
		}
	}
}

// block is a diagonal rows×rows matrix of which the caller claims the rows
// begin..end.
type block struct {
	rows, begin, end int
}

func (b block) Dims() (r, c int)              { return b.rows, b.rows }
func (b block) RowRange() (begin, end int)    { return b.begin, b.end }
func (b block) MulVec(dst, x []float64) error { copy(dst, x); return nil }

func TestRowBlocks(t *testing.T) {
	for _, test := range []struct {
		name   string
		rows   int
		blocks [][2]int
		ok     bool
	}{
		{"overlap", 4, [][2]int{{0, 1}, {0, 1}}, false},
		{"reversed", 4, [][2]int{{2, 3}, {0, 1}}, false},
		{"shifted", 4, [][2]int{{0, 1}, {1, 2}}, false},
		{"short", 4, [][2]int{{0, 1}, {2, 2}}, false},
		{"tiled", 4, [][2]int{{0, 1}, {2, 3}}, true},
		{"empty rank", 4, [][2]int{{0, 1}, {2, 1}, {2, 3}}, true},
	} {
		err := comm.Run(context.Background(), len(test.blocks), func(c comm.Comm) error {
			rb := test.blocks[c.Rank()]
			a := block{rows: test.rows, begin: rb[0], end: rb[1]}
			settings := DefaultSettings()
			settings.Comm = c
			r, err := LinearSolve(a, gallery.Ones(a), &PCG{}, settings)
			if test.ok {
				assert.NoError(t, err, "%s: rank %d", test.name, c.Rank())
				assert.Equal(t, Converged, r.Status, "%s", test.name)
				return nil
			}
			assert.ErrorIs(t, err, ErrPartitionMismatch, "%s: rank %d", test.name, c.Rank())
			assert.Zero(t, r.Stats.MatVec, "%s", test.name)
			return nil
		})
		require.NoError(t, err, test.name)
	}
}

func TestInvalidSettings(t *testing.T) {
	a := diagonal(1, 2)
	b := []float64{1, 1}
	assert.Panics(t, func() { LinearSolve(nil, b, &PCG{}, DefaultSettings()) })
	assert.Panics(t, func() { LinearSolve(a, b, nil, DefaultSettings()) })
	assert.Panics(t, func() { Solve(a, nil, b, nil, -1, 10) })
	assert.Panics(t, func() { Solve(a, nil, b, nil, math.NaN(), 10) })
	assert.Panics(t, func() { Solve(a, nil, b, nil, 1e-8, -1) })
}

func TestPartitionMismatch(t *testing.T) {
	const n = 10
	err := comm.Run(context.Background(), 3, func(c comm.Comm) error {
		a, err := gallery.Laplacian(c, n, 1, 1, 1, 0, 0)
		if err != nil {
			return err
		}
		b := gallery.Ones(a)
		if c.Rank() == 1 {
			b = append(b, 1)
		}
		r, err := Solve(a, nil, b, nil, 1e-8, 100)
		assert.True(t, errors.Is(err, ErrPartitionMismatch), "rank %d: err=%v", c.Rank(), err)
		assert.Equal(t, PartitionMismatch, r.Status)
		assert.Zero(t, r.Stats.Iterations)
		return nil
	})
	require.NoError(t, err)

	// A mismatched initial guess on a single process.
	settings := DefaultSettings()
	settings.X0 = []float64{1}
	_, err = LinearSolve(diagonal(1, 2), []float64{1, 1}, &PCG{}, settings)
	assert.True(t, errors.Is(err, ErrPartitionMismatch), "err=%v", err)
}

func TestDistributed(t *testing.T) {
	const nx, ny = 10, 10
	want := make([]float64, nx*ny)
	var iters int
	for _, size := range []int{1, 2, 4, 7} {
		got := make([]float64, nx*ny)
		var mu sync.Mutex
		err := comm.Run(context.Background(), size, func(c comm.Comm) error {
			a, err := gallery.Laplacian(c, nx, ny, 1, 1, 1, 0)
			if err != nil {
				return err
			}
			r, err := Solve(a, nil, gallery.Ones(a), nil, 1e-6, 1000)
			if err != nil {
				return err
			}
			begin, _ := a.RowRange()
			mu.Lock()
			defer mu.Unlock()
			copy(got[begin:], r.X)
			if size == 1 {
				iters = r.Stats.Iterations
			}
			assert.Equal(t, iters, r.Stats.Iterations, "size=%d rank=%d", size, c.Rank())
			assert.Less(t, r.Stats.TrueResidualNorm, 1e-6)
			return nil
		})
		require.NoError(t, err, "size=%d", size)
		if size == 1 {
			copy(want, got)
			continue
		}
		assert.InDeltaSlice(t, want, got, 1e-10, "size=%d", size)
	}
	assert.Equal(t, 14, iters)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	var iters int
	err := comm.Run(context.Background(), 2, func(c comm.Comm) error {
		a, err := gallery.Laplacian(c, 6, 6, 1, 1, 1, 0)
		if err != nil {
			return err
		}
		settings := DefaultSettings()
		settings.Logger = logger
		r, err := LinearSolve(a, gallery.Ones(a), &PCG{}, settings)
		if err != nil {
			return err
		}
		if c.Rank() == comm.Root {
			iters = r.Stats.Iterations
		}
		return nil
	})
	require.NoError(t, err)

	// Only the root rank logs.
	out := buf.String()
	assert.Equal(t, iters, strings.Count(out, `msg="pcg: iteration"`))
	assert.Equal(t, 1, strings.Count(out, `msg="pcg: initial residual"`))
	assert.Equal(t, 1, strings.Count(out, `msg="pcg: computed residual"`))
}

func TestStatusString(t *testing.T) {
	for s, want := range map[Status]string{
		Converged:          "converged",
		NotConverged:       "not converged",
		DegenerateOperator: "degenerate operator",
		PartitionMismatch:  "partition mismatch",
		Failed:             "failed",
		Status(42):         "Status(42)",
	} {
		assert.Equal(t, want, s.String())
	}
	assert.Equal(t, "CheckResidualNorm", CheckResidualNorm.String())
	assert.Equal(t, "Operation(128)", Operation(128).String())
}
