// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcg

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/vladimir-ch/pcg/comm"
)

// Settings holds various settings for
// solving a linear system.
//
// Unlike in many solvers, the zero value
// of a field is not replaced by a default:
// a zero Tolerance and a zero
// MaxIterations have their literal
// meaning. Use DefaultSettings to start
// from sensible values.
type Settings struct {
	// X0 is the local part of an initial
	// guess.
	// If it is nil, the zero vector will
	// be used.
	// If it is not nil, the length of X0
	// must be equal to the number of local
	// rows of the system.
	X0 []float64

	// Tolerance specifies the relative
	// error tolerance for the final
	// approximate solution. The solve
	// stops when
	//  |r_i|^2 < Tolerance^2 * |b|^2.
	// It must not be negative. If it is
	// zero, the solve runs until the
	// residual vanishes, the iteration
	// limit is reached or the stall guard
	// fires.
	Tolerance float64

	// MaxIterations is the limit on the
	// number of iterations. It must not be
	// negative. If it is zero, no
	// iteration is done.
	MaxIterations int

	// Preconditioner is the
	// preconditioner M.
	// If it is nil, no preconditioning
	// will be used (M is the identity).
	Preconditioner Preconditioner

	// Comm is the communicator the rows
	// of the system are distributed over.
	// If it is nil, the communicator of
	// the matrix is used if it implements
	// Communicator, otherwise the system
	// is taken to be held by a single
	// process.
	Comm comm.Comm

	// StallIterations and StallRatio
	// control the stall guard: the solve
	// is aborted with ErrStalled after
	// iteration i >= StallIterations if
	//  |r_i|^2 / |b|^2 > StallRatio.
	// If StallIterations is not positive,
	// the guard is disabled.
	StallIterations int
	StallRatio      float64

	// TrueResidual requests that the
	// residual b - A*x of the final
	// iterate be computed explicitly
	// and reported in
	// Stats.TrueResidualNorm.
	TrueResidual bool

	// History requests that the relative
	// residual norm after every iteration
	// be recorded in Stats.History.
	History bool

	// Logger receives the progress of the
	// solve on rank 0. If it is nil,
	// nothing is logged.
	Logger *slog.Logger
}

// DefaultSettings returns the settings
// used by Solve.
func DefaultSettings() Settings {
	return Settings{
		Tolerance:       1e-8,
		MaxIterations:   1000,
		StallIterations: 500,
		StallRatio:      0.01,
		TrueResidual:    true,
	}
}

// Result holds the result of an iterative solve.
type Result struct {
	// X is the local part of the
	// approximate solution.
	X []float64
	// Status tells how the solve ended.
	Status Status
	// Stats holds the statistics of the
	// solve.
	Stats Stats
}

// Stats holds statistics about an iterative solve.
type Stats struct {
	// Iterations is the number of
	// iteration done by Method.
	Iterations int
	// MatVec is the number of MatVec
	// operations, including those of the
	// driver.
	MatVec int
	// PSolve is the number of PSolve
	// operations with a non-nil
	// preconditioner.
	PSolve int
	// Reductions is the number of
	// collective reductions.
	Reductions int
	// ResidualNorm is the final relative
	// norm |r|/|b| of the residual as
	// updated by the iteration.
	ResidualNorm float64
	// TrueResidualNorm is the relative
	// norm |b - A*x|/|b| of the final
	// iterate computed explicitly. It is
	// set only if Settings.TrueResidual
	// is true.
	TrueResidualNorm float64
	// History holds ResidualNorm after
	// every iteration if
	// Settings.History is true.
	History []float64
	// StartTime is an approximate time
	// when the solve was started.
	StartTime time.Time
	// Runtime is an approximate duration
	// of the solve.
	Runtime time.Duration
}

// Solve solves the system of linear equations
//  A*x = b
// with the preconditioned conjugate gradient method. A must be symmetric
// positive definite and p, which may be nil, an approximation of its inverse
// that is also symmetric positive definite. x0 is the initial guess, nil
// meaning zero. The solve stops when the relative residual norm falls below
// tol or after maxIter iterations.
//
// Solve uses DefaultSettings, so the stall guard is enabled and the final
// residual is recomputed.
func Solve(a Matrix, p Preconditioner, b, x0 []float64, tol float64, maxIter int) (Result, error) {
	settings := DefaultSettings()
	settings.X0 = x0
	settings.Tolerance = tol
	settings.MaxIterations = maxIter
	settings.Preconditioner = p
	return LinearSolve(a, b, &PCG{}, settings)
}

// LinearSolve solves the system of n linear equations
//  A*x = b,
// where the n×n matrix A is represented by a and its rows are distributed
// over the ranks of a communicator. b and the returned solution hold the
// rows owned by the caller.
//
// method is an iterative method used for finding an approximate solution of the
// linear system. It must not be nil.
//
// LinearSolve must be called by all ranks with consistent settings. If the
// local sizes disagree with the row distribution of a on any rank, every rank
// returns an error matching ErrPartitionMismatch. If b is zero, the solution
// is zero. Otherwise the returned Result holds the last iterate even when the
// error is non-nil; Result.Status classifies the outcome.
func LinearSolve(a Matrix, b []float64, method Method, settings Settings) (Result, error) {
	switch {
	case a == nil:
		panic("pcg: nil matrix")
	case method == nil:
		panic("pcg: nil method")
	case settings.Tolerance < 0 || math.IsNaN(settings.Tolerance):
		panic("pcg: invalid tolerance")
	case settings.MaxIterations < 0:
		panic("pcg: negative iteration limit")
	}

	s := newSolver(a, b, settings)
	x, err := s.solve(method)
	s.stats.Runtime = time.Since(s.stats.StartTime)
	return Result{
		X:      x,
		Status: statusOf(err),
		Stats:  s.stats,
	}, err
}

type solver struct {
	a        Matrix
	b        []float64
	settings Settings
	comm     comm.Comm
	log      *slog.Logger
	stats    Stats

	bb  float64 // |b|^2 over all ranks
	eps float64 // Tolerance^2 * bb

	// fault is the first local failure of an operation. It is reported to
	// all ranks by the next reduction.
	fault error
	buf   []float64
}

func newSolver(a Matrix, b []float64, settings Settings) *solver {
	c := settings.Comm
	if c == nil {
		if ac, ok := a.(Communicator); ok {
			c = ac.Comm()
		} else {
			c = comm.Self()
		}
	}
	log := settings.Logger
	if log == nil || c.Rank() != comm.Root {
		log = slog.New(slog.DiscardHandler)
	}
	return &solver{
		a:        a,
		b:        b,
		settings: settings,
		comm:     c,
		log:      log,
		stats:    Stats{StartTime: time.Now()},
	}
}

func (s *solver) solve(method Method) ([]float64, error) {
	n := len(s.b)
	err := s.checkPartition()
	if err != nil {
		return nil, err
	}

	x := make([]float64, n)
	if s.bb == 0 {
		// The solution of a system with zero right-hand side is zero.
		if s.settings.TrueResidual {
			s.stats.TrueResidualNorm = 0
		}
		return x, nil
	}
	tol := s.settings.Tolerance
	s.eps = tol * tol * s.bb

	ctx := &Context{
		X:        x,
		Residual: make([]float64, n),
	}
	if s.settings.X0 != nil {
		copy(ctx.X, s.settings.X0)
	}
	// All ranks compute the initial residual even with a zero initial
	// guess, so that no rank can skip the collectives of the MatVec.
	s.residual(ctx.Residual, ctx.X)
	ctx.ResidualNormSq, err = s.dot(ctx.Residual, ctx.Residual)
	if err != nil {
		return ctx.X, err
	}
	s.stats.ResidualNorm = math.Sqrt(ctx.ResidualNormSq / s.bb)
	s.log.Debug("pcg: initial residual", "relres", s.stats.ResidualNorm, "ranks", s.comm.Size())

	switch {
	case s.converged(ctx.ResidualNormSq):
		err = nil
	case s.settings.MaxIterations == 0:
		err = ErrIterationLimit
	default:
		err = s.iterate(ctx, method)
	}
	if statusOf(err) == Failed || !s.settings.TrueResidual {
		return ctx.X, err
	}
	if terr := s.trueResidual(ctx.X); terr != nil {
		return ctx.X, terr
	}
	return ctx.X, err
}

// checkPartition verifies the row blocks and the local sizes on every rank
// and computes |b|^2. The verdicts of all ranks are combined in the same
// reduction as |b|^2, so all ranks return the same error.
func (s *solver) checkPartition() error {
	n := len(s.b)
	rows, cols := s.a.Dims()
	begin, end := s.a.RowRange()

	// Every rank sees the same blocks and takes the same decision.
	blocks, err := s.comm.AllGather([]float64{float64(begin), float64(end)})
	if err != nil {
		return fmt.Errorf("pcg: gather: %w", err)
	}
	if len(blocks) != 2*s.comm.Size() || !contiguous(blocks, rows) {
		return fmt.Errorf("%w: row blocks %v do not cover rows 0..%d in rank order",
			ErrPartitionMismatch, blocks, rows-1)
	}

	var bad float64
	switch {
	case rows != cols:
		bad = 1
	case begin < 0 || end >= rows || end-begin+1 != n:
		bad = 1
	case s.settings.X0 != nil && len(s.settings.X0) != n:
		bad = 1
	}
	sums := []float64{bad, float64(n), floats.Dot(s.b, s.b)}
	if err := s.reduce(sums); err != nil {
		return err
	}
	if sums[0] != 0 || int(sums[1]) != rows {
		return fmt.Errorf("%w: %d of %d ranks inconsistent, %v local rows in total for a %d×%d matrix",
			ErrPartitionMismatch, int(sums[0]), s.comm.Size(), sums[1], rows, cols)
	}
	s.bb = sums[2]
	return nil
}

// contiguous reports whether the (begin, end) pairs of blocks, taken in
// rank order, cover the rows 0..rows-1 exactly once. Empty blocks have
// end == begin-1.
func contiguous(blocks []float64, rows int) bool {
	next := 0
	for k := 0; k+1 < len(blocks); k += 2 {
		begin, end := int(blocks[k]), int(blocks[k+1])
		if begin != next || end < begin-1 {
			return false
		}
		next = end + 1
	}
	return next == rows
}

func (s *solver) iterate(ctx *Context, method Method) error {
	method.Init(len(ctx.X))

	for {
		op, err := method.Iterate(ctx)
		if err != nil {
			return err
		}

		switch op {
		case NoOperation:

		case ComputeResidual:
			s.residual(ctx.Residual, ctx.X)

		case MatVec:
			s.matVec(ctx.Dst, ctx.Src)

		case PSolve:
			if s.settings.Preconditioner == nil {
				copy(ctx.Dst, ctx.Src)
				continue
			}
			if err := s.settings.Preconditioner.Apply(ctx.Dst, ctx.Src); err != nil {
				s.fail(fmt.Errorf("pcg: preconditioner: %w", err), ctx.Dst)
				continue
			}
			s.stats.PSolve++

		case Reduce:
			if err := s.reduce(ctx.Sums); err != nil {
				return err
			}

		case CheckResidualNorm:
			ctx.Converged = s.converged(ctx.ResidualNormSq)

		case EndIteration:
			s.stats.Iterations++
			rel := ctx.ResidualNormSq / s.bb
			s.stats.ResidualNorm = math.Sqrt(rel)
			if s.settings.History {
				s.stats.History = append(s.stats.History, s.stats.ResidualNorm)
			}
			s.log.Debug("pcg: iteration", "iter", s.stats.Iterations, "relres", s.stats.ResidualNorm)
			if ctx.Converged {
				return nil
			}
			if s.settings.StallIterations > 0 && s.stats.Iterations >= s.settings.StallIterations && rel > s.settings.StallRatio {
				s.log.Warn("pcg: aborting solve due to slow or no convergence",
					"iter", s.stats.Iterations, "relres", s.stats.ResidualNorm)
				return ErrStalled
			}
			if s.stats.Iterations == s.settings.MaxIterations {
				return ErrIterationLimit
			}

		default:
			panic("pcg: invalid operation " + op.String())
		}
	}
}

// converged reports whether the squared residual norm rr satisfies the
// stopping criterion. A residual that vanished exactly is converged
// whatever the tolerance.
func (s *solver) converged(rr float64) bool {
	return rr < s.eps || rr == 0
}

func (s *solver) trueResidual(x []float64) error {
	r := make([]float64, len(x))
	s.residual(r, x)
	rr, err := s.dot(r, r)
	if err != nil {
		return err
	}
	s.stats.TrueResidualNorm = math.Sqrt(rr / s.bb)
	s.log.Debug("pcg: computed residual", "iter", s.stats.Iterations, "relres", s.stats.TrueResidualNorm)
	return nil
}

// residual computes dst = b - A*x.
func (s *solver) residual(dst, x []float64) {
	s.matVec(dst, x)
	floats.AddScaledTo(dst, s.b, -1, dst)
}

func (s *solver) matVec(dst, x []float64) {
	if err := s.a.MulVec(dst, x); err != nil {
		s.fail(fmt.Errorf("pcg: matrix: %w", err), dst)
		return
	}
	s.stats.MatVec++
}

// fail records a local failure of an operation that should have written
// dst. The rank carries on with dst zeroed so that it keeps taking part in
// the collectives until the next reduction tells every rank.
func (s *solver) fail(err error, dst []float64) {
	clear(dst)
	if s.fault == nil {
		s.fault = err
	}
}

// reduce sums sums over all ranks. A flag of local failure travels with the
// sums, so all ranks fail in the same reduction.
func (s *solver) reduce(sums []float64) error {
	n := len(sums)
	s.buf = append(append(s.buf[:0], sums...), 0)
	if s.fault != nil {
		s.buf[n] = 1
	}
	if err := s.comm.AllReduceSum(s.buf); err != nil {
		if s.fault != nil {
			return s.fault
		}
		return fmt.Errorf("pcg: reduce: %w", err)
	}
	s.stats.Reductions++
	if failed := s.buf[n]; failed != 0 {
		if s.fault != nil {
			return s.fault
		}
		return fmt.Errorf("%w: %v of %d ranks", ErrPeerFailure, failed, s.comm.Size())
	}
	copy(sums, s.buf[:n])
	return nil
}

// dot returns the inner product of x and y over all ranks.
func (s *solver) dot(x, y []float64) (float64, error) {
	sums := []float64{floats.Dot(x, y)}
	err := s.reduce(sums)
	return sums[0], err
}
