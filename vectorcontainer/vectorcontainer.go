// Package vectorcontainer implements the optional ring-buffer vector
// dedup gadget (spec.md §9): a fixed-capacity FIFO of low-precision
// vectors with wrap-around sync tracking, plus a deduplicating variant
// that skips inserting a vector already present within tolerance in the
// same 1-norm hash bucket.
//
// Grounded on vector_container.h/.cpp. Not thread-safe: insertion must
// be serialized by the caller, same as the original.
package vectorcontainer

import (
	"fmt"
	"math"

	"github.com/twostage/twosd/errs"
)

const tolerance = 1e-6

// Container is a fixed-capacity ring buffer of vectorDim-length
// float32 vectors (low precision by design, matching the source: the
// gadget trades accuracy for storage density since it only needs to
// recognize "close enough," not reproduce exact values).
type Container struct {
	maxVectors int
	vectorDim  int
	storage    [][]float32

	currentSize     int
	currentPosition int

	syncStartPosition int
	wrapAround        bool
	full              bool
}

// New returns an empty Container holding at most maxVectors vectors of
// dimension vectorDim.
func New(maxVectors, vectorDim int) *Container {
	return &Container{
		maxVectors: maxVectors,
		vectorDim:  vectorDim,
		storage:    make([][]float32, maxVectors),
	}
}

// VectorDim returns the fixed per-vector dimension.
func (c *Container) VectorDim() int { return c.vectorDim }

// Size returns the number of vectors currently stored (caps at
// maxVectors once the ring has wrapped).
func (c *Container) Size() int { return c.currentSize }

// CurrentPosition returns the ring slot the next Insert will write to.
func (c *Container) CurrentPosition() int { return c.currentPosition }

// SyncPosition returns the slot where the range of vectors inserted
// since the last ResetSyncRange begins; once every slot has been
// written since then, it moves along with CurrentPosition.
func (c *Container) SyncPosition() int { return c.syncStartPosition }

// WrapAroundFlag reports whether the write position has wrapped from
// the last slot back to slot 0 since construction or the last
// ResetSyncRange (this happens on the insert that fills the last slot).
func (c *Container) WrapAroundFlag() bool { return c.wrapAround }

// Get returns a copy of the vector stored at index, or nil if index is
// out of the currently-populated range.
func (c *Container) Get(index int) []float64 {
	if index < 0 || index >= c.currentSize {
		return nil
	}
	out := make([]float64, c.vectorDim)
	for i, v := range c.storage[index] {
		out[i] = float64(v)
	}
	return out
}

// Insert stores vec at the current ring position, advancing and
// wrapping as needed, and returns the position it was stored at.
func (c *Container) Insert(vec []float64) (int, error) {
	if len(vec) != c.vectorDim {
		return 0, fmt.Errorf("vectorcontainer: Insert: len(vec)=%d != dim=%d: %w", len(vec), c.vectorDim, errs.ErrShapeMismatch)
	}

	row := make([]float32, c.vectorDim)
	for i, v := range vec {
		row[i] = float32(v)
	}
	pos := c.currentPosition
	c.storage[pos] = row

	if c.currentSize < c.maxVectors {
		c.currentSize++
	}

	c.currentPosition++
	if c.currentPosition >= c.maxVectors {
		c.wrapAround = true
		c.currentPosition = 0
	}

	if c.wrapAround && c.currentPosition == c.syncStartPosition {
		c.full = true
	}
	if c.full {
		c.syncStartPosition = c.currentPosition
	}

	return pos, nil
}

// ResetSyncRange marks every currently-stored vector as synced,
// clearing the wrap-around and full flags.
func (c *Container) ResetSyncRange() {
	c.syncStartPosition = c.currentPosition
	c.wrapAround = false
	c.full = false
}

// UniqueContainer wraps Container with an insertion-order-preserving
// hash index (1-norm bucket, then linear approx-equal scan within the
// bucket). A vector is skipped as a duplicate only when a stored vector
// with exactly the same 1-norm matches it within tolerance; a vector
// within tolerance of a stored one but with a different 1-norm is
// inserted again.
type UniqueContainer struct {
	*Container
	hashIndex map[float64][]int
}

// NewUnique returns an empty deduplicating container.
func NewUnique(maxVectors, vectorDim int) *UniqueContainer {
	return &UniqueContainer{
		Container: New(maxVectors, vectorDim),
		hashIndex: make(map[float64][]int),
	}
}

// Insert stores vec unless an existing entry already matches it within
// tolerance, in which case it reports inserted=false and leaves the
// container untouched. When the ring is full, the slot about to be
// overwritten is first evicted from the hash index.
func (u *UniqueContainer) Insert(vec []float64) (pos int, inserted bool, err error) {
	if len(vec) != u.vectorDim {
		return 0, false, fmt.Errorf("vectorcontainer: Insert: len(vec)=%d != dim=%d: %w", len(vec), u.vectorDim, errs.ErrShapeMismatch)
	}

	h := hashOf(vec)
	for _, idx := range u.hashIndex[h] {
		if approxEqual(vec, u.Get(idx), tolerance) {
			return 0, false, nil
		}
	}

	if u.currentSize == u.maxVectors {
		// The bucket key is the 1-norm of the vector as it was passed in,
		// which the float32 copy in storage may not reproduce, so the
		// overwritten slot is removed from every bucket.
		for key, idxs := range u.hashIndex {
			u.hashIndex[key] = removeValue(idxs, u.currentPosition)
		}
	}

	u.hashIndex[h] = append(u.hashIndex[h], u.currentPosition)

	pos, err = u.Container.Insert(vec)
	if err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

// FindApprox scans the stored vectors in vec's 1-norm hash bucket for
// one within tolerance of vec, returning its index and true, or
// (0, false) if none matches.
func (u *UniqueContainer) FindApprox(vec []float64) (int, bool) {
	h := hashOf(vec)
	for _, idx := range u.hashIndex[h] {
		if approxEqual(vec, u.Get(idx), tolerance) {
			return idx, true
		}
	}
	return 0, false
}

func hashOf(vec []float64) float64 {
	sum := 0.0
	for _, v := range vec {
		sum += math.Abs(v)
	}
	return sum
}

func approxEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func removeValue(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
