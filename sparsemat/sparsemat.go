// Package sparsemat implements the triplet-form sparse matrix used as the
// template storage for every stage's transfer and current coefficient
// blocks, plus its CSR export for the solver adapter's add_rows call.
//
// The triplet-to-CSR conversion is a two-pass counting sort: the first
// pass tallies per-row occupancy into a cumulative row_begin array, the
// second scatters (col, val) pairs into place using a per-row write
// cursor. Row order is therefore exactly preserved and column order
// within a row matches triplet insertion order — both properties the
// solver-adapter contract in solver.Backend accepts.
package sparsemat

import (
	"fmt"

	"github.com/twostage/twosd/errs"
)

// Float is the element type constraint for Matrix: the decomposition
// only ever needs float64 (templates, RHS, cost) or float32 (compact
// caches), never complex or integer coefficients.
type Float interface {
	~float32 | ~float64
}

// Matrix is a triplet-list sparse matrix with declared dimensions.
// Duplicate (row, col) coordinates are permitted; their sum is the
// effective value. CSR export via the counting-sort below never
// deduplicates: each duplicate stays a separate entry, and a consumer
// of the CSR arrays sums them.
//
// A Matrix is built once via Add during template construction, then
// treated as immutable: Multiply*, NNZ, and ToCSR never mutate it.
type Matrix[T Float] struct {
	rows, cols int
	rowIdx     []int
	colIdx     []int
	val        []T
}

// New returns an empty Matrix with the given declared dimensions.
func New[T Float](rows, cols int) *Matrix[T] {
	return &Matrix[T]{rows: rows, cols: cols}
}

// Dims returns the declared (rows, cols) of the matrix.
func (m *Matrix[T]) Dims() (int, int) {
	return m.rows, m.cols
}

// Add appends a triplet (row, col, value). Out-of-range indices are a
// caller bug and panic immediately rather than propagate silently.
func (m *Matrix[T]) Add(row, col int, value T) {
	if row < 0 || row >= m.rows || col < 0 || col >= m.cols {
		panic(fmt.Sprintf("sparsemat: triplet (%d,%d) out of bounds for %dx%d matrix", row, col, m.rows, m.cols))
	}
	m.rowIdx = append(m.rowIdx, row)
	m.colIdx = append(m.colIdx, col)
	m.val = append(m.val, value)
}

// NNZ returns the number of stored triplets, including duplicates.
func (m *Matrix[T]) NNZ() int {
	return len(m.val)
}

// Each calls fn once per stored triplet, in insertion order. Used at
// parse time to reclassify a whole-instance coefficient matrix into
// per-stage transfer/current blocks (see smps.Core and
// stageproblem.FromSMPS) — not part of the per-iteration hot path.
func (m *Matrix[T]) Each(fn func(row, col int, val T)) {
	for k, v := range m.val {
		fn(m.rowIdx[k], m.colIdx[k], v)
	}
}

// At returns the effective value at (row, col), summing every matching
// triplet per the duplicate-coordinate convention in the package doc.
// It is a linear scan over all triplets and is intended for parse-time
// template lookups (reference values for stochastic cells), not the
// per-iteration hot path.
func (m *Matrix[T]) At(row, col int) T {
	var sum T
	for k, r := range m.rowIdx {
		if r == row && m.colIdx[k] == col {
			sum += m.val[k]
		}
	}
	return sum
}

// MultiplyInto assigns out[i] = sum_j A[i,j]*x[j] for all i. out must
// already be sized nrows and x sized ncols; MultiplyInto zeroes out
// itself before accumulating.
func (m *Matrix[T]) MultiplyInto(x, out []T) error {
	if len(x) != m.cols {
		return fmt.Errorf("sparsemat: MultiplyInto: len(x)=%d != cols=%d: %w", len(x), m.cols, errs.ErrShapeMismatch)
	}
	if len(out) != m.rows {
		return fmt.Errorf("sparsemat: MultiplyInto: len(out)=%d != rows=%d: %w", len(out), m.rows, errs.ErrShapeMismatch)
	}
	for i := range out {
		out[i] = 0
	}
	for k, v := range m.val {
		out[m.rowIdx[k]] += v * x[m.colIdx[k]]
	}
	return nil
}

// MultiplySubtractInto performs out -= A*x in place, preserving any
// existing values in out (used to apply the transfer block's
// contribution on top of a template RHS already in out).
func (m *Matrix[T]) MultiplySubtractInto(x, out []T) error {
	if len(x) != m.cols {
		return fmt.Errorf("sparsemat: MultiplySubtractInto: len(x)=%d != cols=%d: %w", len(x), m.cols, errs.ErrShapeMismatch)
	}
	if len(out) != m.rows {
		return fmt.Errorf("sparsemat: MultiplySubtractInto: len(out)=%d != rows=%d: %w", len(out), m.rows, errs.ErrShapeMismatch)
	}
	for k, v := range m.val {
		out[m.rowIdx[k]] -= v * x[m.colIdx[k]]
	}
	return nil
}

// MultiplyTransposeInto assigns out[j] = sum_i A[i,j]*y[i] for all j.
// y must be sized nrows, out sized ncols; out is zeroed before
// accumulating.
func (m *Matrix[T]) MultiplyTransposeInto(y, out []T) error {
	if len(y) != m.rows {
		return fmt.Errorf("sparsemat: MultiplyTransposeInto: len(y)=%d != rows=%d: %w", len(y), m.rows, errs.ErrShapeMismatch)
	}
	if len(out) != m.cols {
		return fmt.Errorf("sparsemat: MultiplyTransposeInto: len(out)=%d != cols=%d: %w", len(out), m.cols, errs.ErrShapeMismatch)
	}
	for i := range out {
		out[i] = 0
	}
	for k, v := range m.val {
		out[m.colIdx[k]] += v * y[m.rowIdx[k]]
	}
	return nil
}

// CSR is a compressed-sparse-row snapshot: RowBegin has length nrows+1,
// ColIdx and Val have length nnz, rows are sorted ascending, and within
// a row columns appear in triplet insertion order.
type CSR[T Float] struct {
	RowBegin []int
	ColIdx   []int
	Val      []T
}

// ToCSR produces a CSR snapshot of the matrix via counting sort: a
// first pass counts per-row occupancy into RowBegin (turned into a
// cumulative-sum prefix), a second pass scatters each triplet into its
// row's slot using a per-row write cursor that starts at RowBegin[row]
// and advances by one per write.
func (m *Matrix[T]) ToCSR() CSR[T] {
	nnz := len(m.val)
	rowBegin := make([]int, m.rows+1)
	for _, r := range m.rowIdx {
		rowBegin[r+1]++
	}
	for i := 0; i < m.rows; i++ {
		rowBegin[i+1] += rowBegin[i]
	}

	cursor := make([]int, m.rows)
	copy(cursor, rowBegin[:m.rows])

	colIdx := make([]int, nnz)
	val := make([]T, nnz)
	for k := range m.val {
		r := m.rowIdx[k]
		pos := cursor[r]
		colIdx[pos] = m.colIdx[k]
		val[pos] = m.val[k]
		cursor[r]++
	}

	return CSR[T]{RowBegin: rowBegin, ColIdx: colIdx, Val: val}
}
