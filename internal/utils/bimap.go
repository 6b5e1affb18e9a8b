// Package utils holds small primitives shared by every twosd package:
// a bidirectional name<->index map for SMPS row/column names, and the
// fixed-tolerance float comparison used throughout the decomposition.
package utils

import "fmt"

// BijectiveMap is a bidirectional string name <-> dense int index map,
// used to resolve SMPS row and column names to their position within a
// stage's vectors and back. Indices are expected to be assigned densely
// from 0, mirroring the order names are first seen in the COR file.
type BijectiveMap struct {
	nameToIndex map[string]int
	indexToName []string
}

// NewBijectiveMap returns an empty map ready for Add.
func NewBijectiveMap() *BijectiveMap {
	return &BijectiveMap{nameToIndex: make(map[string]int)}
}

// Add records name at index. If index falls beyond the current backing
// slice, the slice grows to accommodate it (entries in the gap, if any,
// stay as the empty string).
func (m *BijectiveMap) Add(name string, index int) {
	if index >= len(m.indexToName) {
		grown := make([]string, index+1)
		copy(grown, m.indexToName)
		m.indexToName = grown
	}
	m.indexToName[index] = name
	m.nameToIndex[name] = index
}

// Index returns the index registered for name, or (-1, false) if absent.
func (m *BijectiveMap) Index(name string) (int, bool) {
	idx, ok := m.nameToIndex[name]
	if !ok {
		return -1, false
	}
	return idx, true
}

// Name returns the name registered at index, or an error if index is out
// of range.
func (m *BijectiveMap) Name(index int) (string, error) {
	if index < 0 || index >= len(m.indexToName) {
		return "", fmt.Errorf("utils: index %d out of range [0,%d)", index, len(m.indexToName))
	}
	return m.indexToName[index], nil
}

// Len returns the number of distinct indices registered.
func (m *BijectiveMap) Len() int {
	return len(m.indexToName)
}
