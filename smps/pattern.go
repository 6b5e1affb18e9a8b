package smps

import (
	"fmt"

	"github.com/twostage/twosd/errs"
	"github.com/twostage/twosd/stochpattern"
)

// BuildPattern classifies every STO INDEP position against cor and tim,
// per spec.md §4.2:
//
//  1. Resolve (row_stage, row_index_in_stage) and (col_stage,
//     col_index_in_stage).
//  2. col_stage == -1 (RHS marker): RHS randomness at stage = row_stage,
//     reference value = the template RHS at the absolute row.
//  3. row_stage == -1 (cost row): errs.ErrUnsupportedRandomness.
//  4. Both == -1: errs.ErrUnsupportedRandomness ("RHS-of-cost").
//  5. col_stage == row_stage-1: transfer-block randomness, reference
//     value = the template coefficient at (absolute row, absolute col).
//  6. Otherwise: errs.ErrUnsupportedRandomness.
func BuildPattern(cor *Core, tim *Time, sto *Stoch) (*stochpattern.Pattern, error) {
	n := len(sto.Records)
	stage := make([]int, n)
	rowIndex := make([]int, n)
	colIndex := make([]int, n)
	refValue := make([]float64, n)

	for i, rec := range sto.Records {
		rowStage, rowIdxInStage, err := tim.RowStage(rec.RowName, cor)
		if err != nil {
			return nil, err
		}
		colStage, colIdxInStage, err := tim.ColStage(rec.ColName, cor)
		if err != nil {
			return nil, err
		}

		switch {
		case rowStage == -1 && colStage == -1:
			return nil, fmt.Errorf("smps: BuildPattern: randomness at (COST, RHS) for position (%s,%s): %w",
				rec.ColName, rec.RowName, errs.ErrUnsupportedRandomness)

		case rowStage == -1:
			return nil, fmt.Errorf("smps: BuildPattern: randomness in cost at position (%s,%s): %w",
				rec.ColName, rec.RowName, errs.ErrUnsupportedRandomness)

		case colStage == -1:
			// RHS randomness.
			rowIdxAbs, _ := cor.RowNames.Index(rec.RowName)
			stage[i] = rowStage
			rowIndex[i] = rowIdxInStage
			colIndex[i] = -1
			refValue[i] = cor.RHS[rowIdxAbs]

		case colStage == rowStage-1:
			// Transfer-block randomness.
			rowIdxAbs, _ := cor.RowNames.Index(rec.RowName)
			colIdxAbs, _ := cor.ColNames.Index(rec.ColName)
			stage[i] = rowStage
			rowIndex[i] = rowIdxInStage
			colIndex[i] = colIdxInStage
			refValue[i] = cor.Coefficients.At(rowIdxAbs, colIdxAbs)

		default:
			return nil, fmt.Errorf("smps: BuildPattern: random position (%s,%s) is not supported (col_stage=%d, row_stage=%d): %w",
				rec.ColName, rec.RowName, colStage, rowStage, errs.ErrUnsupportedRandomness)
		}
	}

	return stochpattern.New(stage, rowIndex, colIndex, refValue)
}
