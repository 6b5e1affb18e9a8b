package scsdir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstUpdateSeedsDirection(t *testing.T) {
	s := New()
	require.NoError(t, s.Update([]float64{3, 4}))

	assert.True(t, s.Initialized())
	assert.Equal(t, []float64{3, 4}, s.Direction())
	assert.Equal(t, 25.0, s.NormSquared())
}

func TestSecondUpdateConvexCombination(t *testing.T) {
	s := New()
	require.NoError(t, s.Update([]float64{3, 4}))
	require.NoError(t, s.Update([]float64{1, 0}))

	// dg=3, gg=1, dd=25 => a=-2, b=20, lambda=-0.1 clamped to 0 => d = g
	assert.Equal(t, []float64{1, 0}, s.Direction())
	assert.Equal(t, 1.0, s.NormSquared())
}

func TestUpdateShrinksNormSquared(t *testing.T) {
	s := New()
	require.NoError(t, s.Update([]float64{1, 0}))
	n0 := s.NormSquared()
	require.NoError(t, s.Update([]float64{0, 1}))
	n1 := s.NormSquared()

	// P7: norm squared never grows across an update
	assert.LessOrEqual(t, n1, n0)
	assert.InDelta(t, 0.5, n1, 1e-12)
	assert.InDelta(t, []float64{0.5, 0.5}[0], s.Direction()[0], 1e-12)
}

func TestUpdateShapeMismatch(t *testing.T) {
	s := New()
	require.NoError(t, s.Update([]float64{1, 0}))
	err := s.Update([]float64{1, 2, 3})
	assert.Error(t, err)
}

func TestSatisfiesLAndR(t *testing.T) {
	s := WithConstants(0.4, 0.2)
	require.NoError(t, s.Update([]float64{2, 0}))
	// normSquared = 4

	assert.True(t, s.SatisfiesL(10-0.4*1*4, 10, 1)) // equality holds
	assert.False(t, s.SatisfiesL(10, 10, 1))        // no decrease at all

	assert.True(t, s.SatisfiesR([]float64{1, 0}))  // dg=2 >= -0.8
	assert.False(t, s.SatisfiesR([]float64{-10, 0})) // dg=-20 < -0.8
}
