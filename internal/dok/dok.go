// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dok provides a dictionary-of-keys store for the rows
// Begin..Begin+Rows-1 of a sparse matrix.
package dok

import "sort"

type DOK struct {
	Begin, Rows, Cols int

	data map[index]float64
}

type index struct {
	row, col int
}

func New(begin, r, c int) *DOK {
	return &DOK{
		Begin: begin,
		Rows:  r,
		Cols:  c,
		data:  make(map[index]float64),
	}
}

func (m *DOK) check(i, j int) {
	if i < m.Begin || m.Begin+m.Rows <= i {
		panic("dok: row index out of range")
	}
	if j < 0 || m.Cols <= j {
		panic("dok: column index out of range")
	}
}

// Add adds v to the entry in row i and column j.
func (m *DOK) Add(i, j int, v float64) {
	m.check(i, j)
	m.data[index{i, j}] += v
}

// Len returns the number of stored entries.
func (m *DOK) Len() int {
	return len(m.data)
}

// Compress returns the stored entries in compressed sparse row form with
// row pointers relative to Begin and column indices sorted within every row.
func (m *DOK) Compress() (rowPtr, colIdx []int, val []float64) {
	keys := make([]index, 0, len(m.data))
	for ij := range m.data {
		keys = append(keys, ij)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].row != keys[b].row {
			return keys[a].row < keys[b].row
		}
		return keys[a].col < keys[b].col
	})

	rowPtr = make([]int, m.Rows+1)
	colIdx = make([]int, len(keys))
	val = make([]float64, len(keys))
	for k, ij := range keys {
		rowPtr[ij.row-m.Begin+1]++
		colIdx[k] = ij.col
		val[k] = m.data[ij]
	}
	for i := 0; i < m.Rows; i++ {
		rowPtr[i+1] += rowPtr[i]
	}
	return rowPtr, colIdx, val
}
