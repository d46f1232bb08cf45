// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package triplet provides a coordinate list of sparse matrix entries.
package triplet

// Entry is a single matrix entry. Duplicate entries of a Matrix are summed.
type Entry struct {
	I, J int
	V    float64
}

type Matrix struct {
	r, c int
	data []Entry
}

func New(r, c int) *Matrix {
	return &Matrix{
		r: r,
		c: c,
	}
}

func (m *Matrix) Dims() (r, c int) {
	return m.r, m.c
}

// Len returns the number of stored entries, duplicates included.
func (m *Matrix) Len() int {
	return len(m.data)
}

func (m *Matrix) Append(i, j int, v float64) {
	if i < 0 || m.r <= i {
		panic("triplet: row index out of range")
	}
	if j < 0 || m.c <= j {
		panic("triplet: column index out of range")
	}
	m.data = append(m.data, Entry{i, j, v})
}

// Do calls fn for every stored entry in the order of insertion.
func (m *Matrix) Do(fn func(e Entry)) {
	for _, e := range m.data {
		fn(e)
	}
}

func (m *Matrix) MulVec(dst, x []float64) {
	if m.c != len(x) {
		panic("triplet: dimension mismatch")
	}
	if m.r != len(dst) {
		panic("triplet: dimension mismatch")
	}
	for i := range dst {
		dst[i] = 0
	}
	for _, aij := range m.data {
		dst[aij.I] += aij.V * x[aij.J]
	}
}
