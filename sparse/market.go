// Copyright ©2026 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparse

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vladimir-ch/pcg/comm"
	"github.com/vladimir-ch/pcg/internal/triplet"
)

// Market is a sparse matrix read from a Matrix Market coordinate file and
// held entirely by the reading process.
type Market struct {
	t *triplet.Matrix
}

// Dims returns the dimensions of the matrix.
func (m *Market) Dims() (r, c int) { return m.t.Dims() }

// Len returns the number of stored entries. The mirrored entries of a
// symmetric file are counted.
func (m *Market) Len() int { return m.t.Len() }

// MulVec computes dst = A*x serially.
func (m *Market) MulVec(dst, x []float64) { m.t.MulVec(dst, x) }

// Distribute returns the rows of the matrix owned by the rank of c when the
// rows are partitioned with Partition.
func (m *Market) Distribute(c comm.Comm) *CSR {
	rows, cols := m.t.Dims()
	begin, end := Partition(rows, c.Size(), c.Rank())
	b := NewBuilder(c, rows, cols, begin, end)
	m.t.Do(func(e triplet.Entry) {
		if begin <= e.I && e.I <= end {
			b.d.Add(e.I, e.J, e.V)
		}
	})
	return b.CSR()
}

type mmHeader struct {
	format   string // coordinate or array
	field    string // real, integer or pattern
	symmetry string // general or symmetric
}

// ReadMarket reads a sparse matrix in the Matrix Market coordinate format.
// Real, integer and pattern fields with general or symmetric symmetry are
// supported. Entries of a symmetric file are mirrored.
func ReadMarket(r io.Reader) (*Market, error) {
	sc := bufio.NewScanner(r)
	h, err := readHeader(sc)
	if err != nil {
		return nil, err
	}
	if h.format != "coordinate" {
		return nil, fmt.Errorf("%w: %s format of a matrix", ErrFormat, h.format)
	}

	size, err := readSize(sc, 3)
	if err != nil {
		return nil, err
	}
	rows, cols, nnz := size[0], size[1], size[2]
	if h.symmetry == "symmetric" && rows != cols {
		return nil, fmt.Errorf("%w: symmetric %d×%d matrix", ErrFormat, rows, cols)
	}
	t := triplet.New(rows, cols)
	for k := 0; k < nnz; {
		f, err := nextFields(sc)
		if err == io.EOF {
			return nil, fmt.Errorf("%w: %d of %d entries", ErrFormat, k, nnz)
		}
		if err != nil {
			return nil, err
		}
		want := 3
		if h.field == "pattern" {
			want = 2
		}
		if len(f) != want {
			return nil, fmt.Errorf("%w: entry %q", ErrFormat, strings.Join(f, " "))
		}
		i, err1 := strconv.Atoi(f[0])
		j, err2 := strconv.Atoi(f[1])
		if err1 != nil || err2 != nil || i < 1 || rows < i || j < 1 || cols < j {
			return nil, fmt.Errorf("%w: entry index %q", ErrFormat, strings.Join(f[:2], " "))
		}
		v := 1.0
		if h.field != "pattern" {
			v, err = strconv.ParseFloat(f[2], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrFormat, err)
			}
		}
		t.Append(i-1, j-1, v)
		if h.symmetry == "symmetric" && i != j {
			t.Append(j-1, i-1, v)
		}
		k++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &Market{t: t}, nil
}

// ReadMarketVector reads a dense vector stored as a single-column matrix in
// the Matrix Market array format.
func ReadMarketVector(r io.Reader) ([]float64, error) {
	sc := bufio.NewScanner(r)
	h, err := readHeader(sc)
	if err != nil {
		return nil, err
	}
	if h.format != "array" || h.field == "pattern" || h.symmetry != "general" {
		return nil, fmt.Errorf("%w: %s %s %s vector", ErrFormat, h.format, h.field, h.symmetry)
	}
	size, err := readSize(sc, 2)
	if err != nil {
		return nil, err
	}
	if size[1] != 1 {
		return nil, fmt.Errorf("%w: %d columns in a vector", ErrFormat, size[1])
	}
	v := make([]float64, size[0])
	for i := range v {
		f, err := nextFields(sc)
		if err != nil && err != io.EOF {
			return nil, err
		}
		if err == io.EOF || len(f) != 1 {
			return nil, fmt.Errorf("%w: %d of %d vector elements", ErrFormat, i, len(v))
		}
		v[i], err = strconv.ParseFloat(f[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

func readHeader(sc *bufio.Scanner) (mmHeader, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return mmHeader{}, err
		}
		return mmHeader{}, fmt.Errorf("%w: empty input", ErrFormat)
	}
	f := strings.Fields(strings.ToLower(sc.Text()))
	if len(f) != 5 || f[0] != "%%matrixmarket" || f[1] != "matrix" {
		return mmHeader{}, fmt.Errorf("%w: header %q", ErrFormat, sc.Text())
	}
	h := mmHeader{format: f[2], field: f[3], symmetry: f[4]}
	switch {
	case h.format != "coordinate" && h.format != "array":
		return h, fmt.Errorf("%w: format %q", ErrFormat, h.format)
	case h.field != "real" && h.field != "integer" && h.field != "pattern":
		return h, fmt.Errorf("%w: field %q", ErrFormat, h.field)
	case h.symmetry != "general" && h.symmetry != "symmetric":
		return h, fmt.Errorf("%w: symmetry %q", ErrFormat, h.symmetry)
	}
	return h, nil
}

func readSize(sc *bufio.Scanner, n int) ([]int, error) {
	f, err := nextFields(sc)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if err == io.EOF || len(f) != n {
		return nil, fmt.Errorf("%w: size line", ErrFormat)
	}
	size := make([]int, n)
	for i, s := range f {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: size %q", ErrFormat, s)
		}
		size[i] = v
	}
	return size, nil
}

// nextFields returns the fields of the next line that is neither empty nor
// a comment. It returns io.EOF at the end of the input and the error of
// the scanner if reading failed.
func nextFields(sc *bufio.Scanner) ([]string, error) {
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		return strings.Fields(line), nil
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
