package vectorcontainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndGet(t *testing.T) {
	c := New(4, 2)
	pos, err := c.Insert([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, []float64{1, 2}, c.Get(0))
}

func TestInsertShapeMismatch(t *testing.T) {
	c := New(4, 2)
	_, err := c.Insert([]float64{1, 2, 3})
	assert.Error(t, err)
}

func TestWrapAround(t *testing.T) {
	c := New(2, 1)
	_, err := c.Insert([]float64{1})
	require.NoError(t, err)
	_, err = c.Insert([]float64{2})
	require.NoError(t, err)
	// filling the last slot moves the write position back to slot 0
	assert.True(t, c.WrapAroundFlag())

	_, err = c.Insert([]float64{3})
	require.NoError(t, err)
	assert.True(t, c.WrapAroundFlag())
	assert.Equal(t, 2, c.Size())
	// slot 0 was overwritten by the third insert
	assert.Equal(t, []float64{3}, c.Get(0))
	assert.Equal(t, []float64{2}, c.Get(1))
}

func TestResetSyncRange(t *testing.T) {
	c := New(2, 1)
	_, _ = c.Insert([]float64{1})
	_, _ = c.Insert([]float64{2})
	_, _ = c.Insert([]float64{3})
	require.True(t, c.WrapAroundFlag())

	c.ResetSyncRange()
	assert.False(t, c.WrapAroundFlag())
	assert.Equal(t, c.CurrentPosition(), c.SyncPosition())
}

func TestUniqueContainerSkipsDuplicate(t *testing.T) {
	u := NewUnique(4, 2)

	pos, inserted, err := u.Insert([]float64{1, 2})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 0, pos)

	_, inserted, err = u.Insert([]float64{1, 2})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 1, u.Size())
}

func TestUniqueContainerWithinToleranceIsDuplicate(t *testing.T) {
	u := NewUnique(4, 2)
	_, inserted, err := u.Insert([]float64{1.5, 2.5})
	require.NoError(t, err)
	require.True(t, inserted)

	// each entry differs by 2^-20 (about 9.5e-7, below the 1e-6
	// tolerance) and the two offsets cancel, so both vectors have the
	// exact 1-norm 4.0 and land in the same hash bucket.
	_, inserted, err = u.Insert([]float64{1.5 + 0x1p-20, 2.5 - 0x1p-20})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestUniqueContainerDistinctVectorsBothInserted(t *testing.T) {
	u := NewUnique(4, 1)
	_, inserted, err := u.Insert([]float64{1.0})
	require.NoError(t, err)
	require.True(t, inserted)

	_, inserted, err = u.Insert([]float64{2.0})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 2, u.Size())
}

func TestUniqueContainerFindApprox(t *testing.T) {
	u := NewUnique(4, 2)
	_, _, err := u.Insert([]float64{3, 4})
	require.NoError(t, err)

	idx, ok := u.FindApprox([]float64{3, 4})
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = u.FindApprox([]float64{5, 6})
	assert.False(t, ok)
}

func TestUniqueContainerEvictsOldestHashOnOverwrite(t *testing.T) {
	u := NewUnique(2, 1)
	_, _, err := u.Insert([]float64{1.0})
	require.NoError(t, err)
	_, _, err = u.Insert([]float64{2.0})
	require.NoError(t, err)
	// overwrites slot 0 (value 1.0); 1.0 should now be insertable again
	_, _, err = u.Insert([]float64{3.0})
	require.NoError(t, err)

	_, inserted, err := u.Insert([]float64{1.0})
	require.NoError(t, err)
	assert.True(t, inserted)
}
