package smps

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Time holds the parsed contents of a <name>.tim file in implicit form:
// a PERIODS section listing (first_column, first_row, period_label)
// triples. Stage boundaries are derived by locating each triple's
// column/row name within the Core's dense name ordering.
type Time struct {
	Labels          []string
	colStageStart   []int // colStageStart[s] = index (in Core.ColNames order) where stage s begins
	rowStageStart   []int // rowStageStart[s] = index (in Core.RowNames order) where stage s begins
}

// ParseTime reads the TIM file at path against the already-parsed Core
// cor, resolving each PERIODS triple's column/row names to their
// positions in cor's name tables.
func ParseTime(path string, cor *Core) (*Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", path, err)
	}
	defer f.Close()

	t := &Time{}
	inPeriods := false
	lineNo := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if len(line) == 0 || line[0] == '*' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch {
		case fields[0] == "TIME":
			// fields[1], if present, is the problem name; not needed here.
		case fields[0] == "PERIODS":
			inPeriods = true
		case fields[0] == "ENDATA":
			// done
		case inPeriods:
			if len(fields) != 3 {
				return nil, parseErr(path, lineNo, "PERIODS line must have 3 fields (column, row, label)")
			}
			colIdx, ok := cor.ColNames.Index(fields[0])
			if !ok {
				return nil, parseErr(path, lineNo, "column name "+fields[0]+" not found in core file")
			}
			rowIdx, ok := cor.RowNames.Index(fields[1])
			if !ok {
				return nil, parseErr(path, lineNo, "row name "+fields[1]+" not found in core file")
			}
			t.Labels = append(t.Labels, fields[2])
			t.colStageStart = append(t.colStageStart, colIdx)
			t.rowStageStart = append(t.rowStageStart, rowIdx)
		default:
			return nil, parseErr(path, lineNo, "data line outside PERIODS section")
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: scan: %w", path, err)
	}
	if len(t.Labels) == 0 {
		return nil, parseErr(path, lineNo, "PERIODS section is empty")
	}

	return t, nil
}

// NumStages returns the number of stages named in the PERIODS section.
// spec.md restricts this implementation to two-stage instances (stage 0
// = root, stage 1 = recourse); NumStages > 2 is rejected by the caller
// that constructs a driver.TwoStageDriver, not by Time itself.
func (t *Time) NumStages() int {
	return len(t.Labels)
}

// RowStage returns (stage, indexInStage) for rowName, or (-1, -1) if
// rowName is the objective row (cost row randomness, per spec.md §4.2
// step 3). name must be a row registered in cor's RowNames, or an
// error is returned.
func (t *Time) RowStage(rowName string, cor *Core) (int, int, error) {
	if rowName == cor.ObjectiveRowName {
		return -1, -1, nil
	}
	idx, ok := cor.RowNames.Index(rowName)
	if !ok {
		return 0, 0, fmt.Errorf("smps: RowStage: row name %q not found in core file", rowName)
	}
	stage := stageOf(t.rowStageStart, idx)
	return stage, idx - t.rowStageStart[stage], nil
}

// ColStage returns (stage, indexInStage) for colName, or (-1, -1) if
// colName is the literal "RHS" marker used by STO files to denote
// right-hand-side randomness (per spec.md §4.2 step 2).
func (t *Time) ColStage(colName string, cor *Core) (int, int, error) {
	if colName == "RHS" {
		return -1, -1, nil
	}
	idx, ok := cor.ColNames.Index(colName)
	if !ok {
		return 0, 0, fmt.Errorf("smps: ColStage: column name %q not found in core file", colName)
	}
	stage := stageOf(t.colStageStart, idx)
	return stage, idx - t.colStageStart[stage], nil
}

// NCols returns the number of columns belonging to stage s.
func (t *Time) NCols(stage int, cor *Core) int {
	return countInStage(t.colStageStart, stage, cor.NumCols)
}

// NRows returns the number of rows belonging to stage s.
func (t *Time) NRows(stage int, cor *Core) int {
	return countInStage(t.rowStageStart, stage, cor.NumRows)
}

// stageOf returns the largest s such that starts[s] <= idx.
func stageOf(starts []int, idx int) int {
	// starts is already sorted ascending by construction order, so a
	// binary search (sort.Search for the first start above idx) finds
	// the last period boundary at or below idx.
	s := sort.Search(len(starts), func(i int) bool { return starts[i] > idx })
	return s - 1
}

func countInStage(starts []int, stage, total int) int {
	if stage < 0 || stage >= len(starts) {
		return 0
	}
	end := total
	if stage+1 < len(starts) {
		end = starts[stage+1]
	}
	return end - starts[stage]
}
