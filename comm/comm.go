// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package comm provides the collective communication used by distributed
// iterative solvers.
//
// A computation following the SPMD model runs the same program on Size()
// cooperating ranks. Each rank owns a contiguous piece of every distributed
// vector and calls the collective operations of its Comm in the same order
// and with the same lengths as every other rank. A rank that skips a
// collective, or calls a different one, blocks its peers.
//
// Self is the communicator of a program running on a single rank. Group
// connects ranks running as goroutines of one process and is what Run uses.
package comm

import "errors"

// Root is the rank that combines contributions in a Group.
const Root = 0

var (
	// ErrMismatch is returned when ranks disagree on the collective being
	// performed or on the length of its buffer.
	ErrMismatch = errors.New("comm: mismatched collective")

	// ErrClosed is returned by collectives of a Group whose peers have
	// stopped.
	ErrClosed = errors.New("comm: group closed")
)

// Comm is a communicator shared by the ranks of one distributed
// computation. All methods except Rank and Size are collective.
type Comm interface {
	// Rank returns the rank of the caller, 0 <= Rank() < Size().
	Rank() int

	// Size returns the number of ranks.
	Size() int

	// AllReduceSum replaces every element of buf with its sum over all
	// ranks. All ranks receive bit-identical results.
	AllReduceSum(buf []float64) error

	// AllGather returns the concatenation of local from all ranks in rank
	// order. The lengths of local may differ between ranks.
	AllGather(local []float64) ([]float64, error)
}

// Self returns the communicator of a single-rank computation. Its
// collectives do not communicate.
func Self() Comm {
	return self{}
}

type self struct{}

func (self) Rank() int { return 0 }
func (self) Size() int { return 1 }

func (self) AllReduceSum(buf []float64) error { return nil }

func (self) AllGather(local []float64) ([]float64, error) {
	dst := make([]float64, len(local))
	copy(dst, local)
	return dst, nil
}

// SumFloat64 returns the sum of a single value over all ranks of c.
func SumFloat64(c Comm, v float64) (float64, error) {
	buf := [1]float64{v}
	err := c.AllReduceSum(buf[:])
	return buf[0], err
}
