// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sparse implements the complex sparse matrices used for
// gridding visibilities, and the distribution of the sparse vectors
// they act on across a communication group.
package sparse

import (
	"fmt"
	"math/cmplx"
	"sort"

	"github.com/grailbio/base/errors"
	"golang.org/x/sync/errgroup"
)

// parallelRows is the row count above which products are computed
// by several goroutines.
const parallelRows = 1 << 12

// A Matrix is an immutable complex matrix in compressed sparse row
// form. Matrices are safe for concurrent use.
type Matrix struct {
	rows, cols int
	// rowPtr[i]:rowPtr[i+1] indexes the entries of row i in colIdx
	// and values. Columns within a row are ascending.
	rowPtr []int
	colIdx []int
	values []complex128
}

// Rows returns the number of rows of m.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns of m.
func (m *Matrix) Cols() int { return m.cols }

// NNZ returns the number of stored entries of m.
func (m *Matrix) NNZ() int { return len(m.values) }

// String returns a short description of m.
func (m *Matrix) String() string {
	return fmt.Sprintf("sparse %dx%d (%d nonzeros)", m.rows, m.cols, m.NNZ())
}

// Row returns the column indices and values of row i. The returned
// slices must not be modified.
func (m *Matrix) Row(i int) (cols []int, values []complex128) {
	lo, hi := m.rowPtr[i], m.rowPtr[i+1]
	return m.colIdx[lo:hi], m.values[lo:hi]
}

// At returns the entry at row i, column j.
func (m *Matrix) At(i, j int) complex128 {
	cols, values := m.Row(i)
	k := sort.SearchInts(cols, j)
	if k < len(cols) && cols[k] == j {
		return values[k]
	}
	return 0
}

// Mul returns m·x.
func (m *Matrix) Mul(x []complex128) ([]complex128, error) {
	if len(x) != m.cols {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sparse: %v applied to vector of length %d", m, len(x)))
	}
	y := make([]complex128, m.rows)
	mulRows := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			var sum complex128
			for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
				sum += m.values[k] * x[m.colIdx[k]]
			}
			y[i] = sum
		}
	}
	if m.rows < parallelRows {
		mulRows(0, m.rows)
		return y, nil
	}
	var g errgroup.Group
	for lo := 0; lo < m.rows; lo += parallelRows {
		lo, hi := lo, lo+parallelRows
		if hi > m.rows {
			hi = m.rows
		}
		g.Go(func() error {
			mulRows(lo, hi)
			return nil
		})
	}
	return y, g.Wait()
}

// Adjoint returns the conjugate transpose of m.
func (m *Matrix) Adjoint() *Matrix {
	a := &Matrix{
		rows:   m.cols,
		cols:   m.rows,
		rowPtr: make([]int, m.cols+1),
		colIdx: make([]int, len(m.colIdx)),
		values: make([]complex128, len(m.values)),
	}
	for _, j := range m.colIdx {
		a.rowPtr[j+1]++
	}
	for j := 0; j < a.rows; j++ {
		a.rowPtr[j+1] += a.rowPtr[j]
	}
	next := append([]int(nil), a.rowPtr[:a.rows]...)
	// Rows of m are visited in order, so the columns of each row of a
	// come out ascending.
	for i := 0; i < m.rows; i++ {
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			j := m.colIdx[k]
			a.colIdx[next[j]] = i
			a.values[next[j]] = cmplx.Conj(m.values[k])
			next[j]++
		}
	}
	return a
}

// MulMatrix returns the product m·b.
func (m *Matrix) MulMatrix(b *Matrix) (*Matrix, error) {
	if m.cols != b.rows {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sparse: cannot multiply %v by %v", m, b))
	}
	builder := NewBuilder(m.rows, b.cols)
	acc := make(map[int]complex128)
	for i := 0; i < m.rows; i++ {
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			cols, values := b.Row(m.colIdx[k])
			for l, j := range cols {
				acc[j] += m.values[k] * values[l]
			}
		}
		for j, v := range acc {
			builder.Add(i, j, v)
			delete(acc, j)
		}
	}
	return builder.Build(), nil
}

// NonzeroColumns returns the ascending indices of the columns of m
// that hold at least one entry.
func (m *Matrix) NonzeroColumns() []int {
	seen := make([]bool, m.cols)
	for _, j := range m.colIdx {
		seen[j] = true
	}
	var cols []int
	for j, ok := range seen {
		if ok {
			cols = append(cols, j)
		}
	}
	return cols
}

// CompressColumns returns the matrix of len(cols) columns whose
// column k is column cols[k] of m. Cols must be ascending and include
// every nonzero column of m.
func (m *Matrix) CompressColumns(cols []int) (*Matrix, error) {
	index := make(map[int]int, len(cols))
	for k, j := range cols {
		if k > 0 && cols[k-1] >= j {
			return nil, errors.E(errors.Invalid, "sparse: compressed columns must be ascending")
		}
		index[j] = k
	}
	c := &Matrix{
		rows:   m.rows,
		cols:   len(cols),
		rowPtr: append([]int(nil), m.rowPtr...),
		colIdx: make([]int, len(m.colIdx)),
		values: append([]complex128(nil), m.values...),
	}
	for k, j := range m.colIdx {
		jj, ok := index[j]
		if !ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("sparse: column %d is nonzero but not retained", j))
		}
		c.colIdx[k] = jj
	}
	return c, nil
}

type entry struct {
	row, col int
	value    complex128
}

// A Builder accumulates matrix entries as (row, column, value)
// triplets. Entries added more than once at the same position are
// summed.
type Builder struct {
	rows, cols int
	entries    []entry
}

// NewBuilder returns a builder for a rows×cols matrix.
func NewBuilder(rows, cols int) *Builder {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("sparse.NewBuilder: invalid shape %dx%d", rows, cols))
	}
	return &Builder{rows: rows, cols: cols}
}

// Reserve grows the builder's capacity by n entries.
func (b *Builder) Reserve(n int) {
	if cap(b.entries)-len(b.entries) < n {
		entries := make([]entry, len(b.entries), len(b.entries)+n)
		copy(entries, b.entries)
		b.entries = entries
	}
}

// Add adds v at row i, column j. Add panics if the position lies
// outside the matrix.
func (b *Builder) Add(i, j int, v complex128) {
	if i < 0 || i >= b.rows || j < 0 || j >= b.cols {
		panic(fmt.Sprintf("sparse: entry (%d, %d) outside %dx%d matrix", i, j, b.rows, b.cols))
	}
	b.entries = append(b.entries, entry{i, j, v})
}

// Build returns the matrix holding the accumulated entries.
// Duplicate entries are summed in the order they were added. The
// builder may not be used afterwards.
func (b *Builder) Build() *Matrix {
	sort.SliceStable(b.entries, func(i, j int) bool {
		if b.entries[i].row != b.entries[j].row {
			return b.entries[i].row < b.entries[j].row
		}
		return b.entries[i].col < b.entries[j].col
	})
	m := &Matrix{
		rows:   b.rows,
		cols:   b.cols,
		rowPtr: make([]int, b.rows+1),
		colIdx: make([]int, 0, len(b.entries)),
		values: make([]complex128, 0, len(b.entries)),
	}
	for k, e := range b.entries {
		if k > 0 && e.row == b.entries[k-1].row && e.col == b.entries[k-1].col {
			m.values[len(m.values)-1] += e.value
			continue
		}
		m.colIdx = append(m.colIdx, e.col)
		m.values = append(m.values, e.value)
		m.rowPtr[e.row+1]++
	}
	for i := 0; i < b.rows; i++ {
		m.rowPtr[i+1] += m.rowPtr[i]
	}
	b.entries = nil
	return m
}
