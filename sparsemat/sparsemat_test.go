package sparsemat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiplyInto(t *testing.T) {
	// A = [[1,0,2],[0,3,0]]
	m := New[float64](2, 3)
	m.Add(0, 0, 1)
	m.Add(0, 2, 2)
	m.Add(1, 1, 3)

	x := []float64{1, 2, 3}
	out := make([]float64, 2)
	require.NoError(t, m.MultiplyInto(x, out))
	assert.Equal(t, []float64{1*1 + 2*3, 3 * 2}, out)
}

func TestMultiplySubtractInto(t *testing.T) {
	m := New[float64](2, 2)
	m.Add(0, 0, 1)
	m.Add(1, 1, 1)

	out := []float64{10, 10}
	require.NoError(t, m.MultiplySubtractInto([]float64{1, 1}, out))
	assert.Equal(t, []float64{9, 9}, out)
}

func TestMultiplyTransposeInto(t *testing.T) {
	// A = [[1,0],[0,2],[3,0]] (3x2); A^T*y for y=[1,1,1] -> [1+3, 2]
	m := New[float64](3, 2)
	m.Add(0, 0, 1)
	m.Add(1, 1, 2)
	m.Add(2, 0, 3)

	out := make([]float64, 2)
	require.NoError(t, m.MultiplyTransposeInto([]float64{1, 1, 1}, out))
	assert.Equal(t, []float64{4, 2}, out)
}

func TestMultiplyIntoShapeMismatch(t *testing.T) {
	m := New[float64](2, 2)
	err := m.MultiplyInto([]float64{1}, make([]float64, 2))
	assert.Error(t, err)
}

// TestToCSRIsPermutationOfTriplets checks P2: the CSR snapshot's
// multiset of (row, col, val) equals the triplet multiset, with row
// order ascending and duplicate coordinates preserved (not summed).
func TestToCSRIsPermutationOfTriplets(t *testing.T) {
	m := New[float64](3, 4)
	type triplet struct {
		r, c int
		v    float64
	}
	triplets := []triplet{
		{2, 1, 5}, {0, 0, 1}, {0, 3, 2}, {1, 1, 3}, {2, 1, 7}, // duplicate coordinate
	}
	for _, tr := range triplets {
		m.Add(tr.r, tr.c, tr.v)
	}

	csr := m.ToCSR()
	require.Len(t, csr.RowBegin, 4)
	require.Len(t, csr.ColIdx, len(triplets))
	require.Len(t, csr.Val, len(triplets))

	var got []triplet
	for r := 0; r < 3; r++ {
		for p := csr.RowBegin[r]; p < csr.RowBegin[r+1]; p++ {
			got = append(got, triplet{r, csr.ColIdx[p], csr.Val[p]})
		}
	}
	assert.ElementsMatch(t, triplets, got)

	// rows ascending: every entry's row index is non-decreasing as p grows
	prevRow := -1
	for r := 0; r < 3; r++ {
		for p := csr.RowBegin[r]; p < csr.RowBegin[r+1]; p++ {
			assert.GreaterOrEqual(t, r, prevRow)
			prevRow = r
		}
	}
}

func TestNNZ(t *testing.T) {
	m := New[float64](1, 1)
	assert.Equal(t, 0, m.NNZ())
	m.Add(0, 0, 1)
	m.Add(0, 0, 2)
	assert.Equal(t, 2, m.NNZ())
}
