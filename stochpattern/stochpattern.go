// Package stochpattern records where the random cells of an SMPS instance
// live and what their deterministic reference values are, then projects
// that whole-instance pattern onto a single stage for use by
// stageproblem.StageProblem.
package stochpattern

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/twostage/twosd/errs"
)

// Pattern is the full-instance stochastic pattern: one entry per random
// cell, classified by stage.
//
//   - ColIndex[i] == -1 means the cell is in the right-hand side of row
//     RowIndex[i] at stage Stage[i].
//   - RowIndex[i] == -1 means the cell is a cost coefficient, which is
//     rejected at construction (see New).
//   - Otherwise the cell lives in the transfer block from stage
//     Stage[i]-1 into stage Stage[i], at (RowIndex[i], ColIndex[i])
//     relative to that stage's own row/column numbering.
type Pattern struct {
	Stage     []int
	RowIndex  []int
	ColIndex  []int
	RefValue  []float64
	RVCount   []int // RVCount[s] = number of entries with Stage[i] == s
}

// New validates the four parallel arrays have equal length and builds
// the per-stage histogram RVCount. It does not itself reject
// cost-row/RHS-of-cost randomness — that classification happens where
// entries are produced (see the smps package), but New still checks the
// RowIndex==-1 convention defensively since a -1 row index always means
// "randomness in cost" per spec.md §3.
func New(stage, rowIndex, colIndex []int, refValue []float64) (*Pattern, error) {
	n := len(stage)
	if len(rowIndex) != n || len(colIndex) != n || len(refValue) != n {
		return nil, fmt.Errorf("stochpattern: New: arrays have mismatched lengths (%d,%d,%d,%d): %w",
			len(stage), len(rowIndex), len(colIndex), len(refValue), errs.ErrShapeMismatch)
	}
	for i := range rowIndex {
		if rowIndex[i] == -1 {
			return nil, fmt.Errorf("stochpattern: New: entry %d has randomness in cost: %w", i, errs.ErrUnsupportedRandomness)
		}
	}

	maxStage := -1
	for _, s := range stage {
		if s > maxStage {
			maxStage = s
		}
	}
	rvCount := make([]int, maxStage+1)
	for _, s := range stage {
		rvCount[s]++
	}

	return &Pattern{
		Stage:    append([]int(nil), stage...),
		RowIndex: append([]int(nil), rowIndex...),
		ColIndex: append([]int(nil), colIndex...),
		RefValue: append([]float64(nil), refValue...),
		RVCount:  rvCount,
	}, nil
}

// Len returns the number of random cells in the whole-instance pattern.
func (p *Pattern) Len() int {
	return len(p.Stage)
}

// StagePattern is the projection of a Pattern onto a single stage: the
// subset of entries with Stage[i] == s, row/col indices already
// relative to that stage, plus IndicesInScenario mapping a position
// within this stage's entries back to its position in the full-instance
// scenario vector the generator produces.
type StagePattern struct {
	RowIndex          []int
	ColIndex          []int
	RefValue          []float64
	IndicesInScenario []int
	RVCount           int
}

// FilterByStage projects p onto stage s, preserving the original
// (generator) ordering of entries in IndicesInScenario so a scenario
// vector produced for the whole instance can be indexed directly.
func (p *Pattern) FilterByStage(s int) StagePattern {
	type idxEntry struct {
		pos int
		row int
		col int
		ref float64
	}

	var entries []idxEntry
	for i, stg := range p.Stage {
		if stg == s {
			entries = append(entries, idxEntry{pos: i, row: p.RowIndex[i], col: p.ColIndex[i], ref: p.RefValue[i]})
		}
	}

	return StagePattern{
		RowIndex:          lo.Map(entries, func(e idxEntry, _ int) int { return e.row }),
		ColIndex:          lo.Map(entries, func(e idxEntry, _ int) int { return e.col }),
		RefValue:          lo.Map(entries, func(e idxEntry, _ int) float64 { return e.ref }),
		IndicesInScenario: lo.Map(entries, func(e idxEntry, _ int) int { return e.pos }),
		RVCount:           len(entries),
	}
}
