// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcg

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConverged is matched by errors of solves that stopped before
	// reaching the tolerance. The Result of such a solve holds the last
	// iterate and can be used.
	ErrNotConverged = errors.New("pcg: not converged")

	// ErrIterationLimit is returned when Settings.MaxIterations iterations
	// did not reach the tolerance.
	ErrIterationLimit = fmt.Errorf("%w: iteration limit reached", ErrNotConverged)

	// ErrStalled is returned when the relative residual was not reduced
	// enough within Settings.StallIterations iterations.
	ErrStalled = fmt.Errorf("%w: slow or no convergence", ErrNotConverged)

	// ErrDegenerateOperator is returned when the method divides by a
	// quantity that is zero, negative where it must be positive, or NaN,
	// typically <p, A*p> <= 0 in CG. The solution is left at the last
	// well-defined iterate.
	ErrDegenerateOperator = errors.New("pcg: degenerate operator")

	// ErrPartitionMismatch is returned when the matrix, the right-hand
	// side and the initial guess disagree on the distribution of rows.
	ErrPartitionMismatch = errors.New("pcg: partition mismatch")

	// ErrPeerFailure is returned by the ranks whose own operations
	// succeeded when a matrix or preconditioner operation failed on
	// another rank. The failing rank returns its own error.
	ErrPeerFailure = errors.New("pcg: operation failed on another rank")
)

// Status summarizes how a solve ended.
type Status int

const (
	// Converged means the residual satisfied the stopping criterion
	// (including the trivial case of a zero right-hand side).
	Converged Status = iota
	// NotConverged means the iteration limit was reached or the stall
	// guard fired. The solution is usable but not accurate.
	NotConverged
	// DegenerateOperator means the method broke down.
	DegenerateOperator
	// PartitionMismatch means the input was inconsistently distributed
	// and no iteration was attempted.
	PartitionMismatch
	// Failed means a matrix, preconditioner or communication operation
	// returned an error on some rank.
	Failed
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case NotConverged:
		return "not converged"
	case DegenerateOperator:
		return "degenerate operator"
	case PartitionMismatch:
		return "partition mismatch"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func statusOf(err error) Status {
	switch {
	case err == nil:
		return Converged
	case errors.Is(err, ErrNotConverged):
		return NotConverged
	case errors.Is(err, ErrDegenerateOperator):
		return DegenerateOperator
	case errors.Is(err, ErrPartitionMismatch):
		return PartitionMismatch
	}
	return Failed
}
