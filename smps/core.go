// Package smps implements the subset of the SMPS (Stochastic MPS) file
// grammar named in spec.md §6: the COR, TIM, and STO text formats. This
// tokenizer is an "external collaborator" per spec.md §1 — the core
// decomposition in stageproblem/driver only ever consumes the Core/Time/
// Stoch structs this package produces, never the raw text.
package smps

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/twostage/twosd/errs"
	"github.com/twostage/twosd/internal/utils"
	"github.com/twostage/twosd/sparsemat"
)

// Core holds the parsed contents of a <name>.cor file: row/column name
// tables, the LP coefficient matrix, RHS, bounds, and inequality senses.
// The objective ("N") row is tracked separately by name and is not
// counted among NumRows or present in RowNames — it has no RHS or
// inequality sense of its own.
type Core struct {
	ProblemName string

	ObjectiveRowName      string
	RowNames              *utils.BijectiveMap
	NumRows               int
	InequalityDirections  []byte // 'L', 'G', or 'E', indexed by row
	RHS                   []float64

	ColNames              *utils.BijectiveMap
	NumCols               int
	LowerBounds           []float64
	UpperBounds           []float64
	ObjectiveCoefficients []float64 // indexed by column

	// Coefficients is the full nrows x ncols LP coefficient matrix
	// (objective row excluded; its coefficients live in
	// ObjectiveCoefficients instead).
	Coefficients *sparsemat.Matrix[float64]
}

// infinityThreshold is the SMPS convention: a bound value at or beyond
// this magnitude means +/-infinity.
const infinityThreshold = 1e30

func clampInf(v float64) float64 {
	switch {
	case v >= infinityThreshold:
		return math.Inf(1)
	case v <= -infinityThreshold:
		return math.Inf(-1)
	default:
		return v
	}
}

// coreCoef is a staged triplet collected during parsing, before the
// final matrix dimensions (NumRows x NumCols) are known.
type coreCoef struct {
	row, col int
	val      float64
}

// ParseCore reads the COR file at path. Supported sections: NAME, ROWS
// (N/E/L/G), COLUMNS, RHS, BOUNDS (UP/LO/FX/FR), ENDATA. Any other
// section, or a malformed line within a supported one, fails with
// errs.ErrParse carrying the file and line number.
func ParseCore(path string) (*Core, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", path, err)
	}
	defer f.Close()

	c := &Core{
		RowNames: utils.NewBijectiveMap(),
		ColNames: utils.NewBijectiveMap(),
	}
	var coefs []coreCoef

	var section string
	lineNo := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if len(line) == 0 || line[0] == '*' {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			section = fields[0]
			if section == "NAME" {
				if len(fields) < 2 {
					return nil, parseErr(path, lineNo, "NAME line missing problem name")
				}
				c.ProblemName = fields[1]
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch section {
		case "ROWS":
			if len(fields) != 2 {
				return nil, parseErr(path, lineNo, "ROWS line must have 2 fields")
			}
			direction, name := fields[0], fields[1]
			if direction == "N" {
				if c.ObjectiveRowName != "" {
					return nil, parseErr(path, lineNo, "multiple N (objective) rows are not supported")
				}
				c.ObjectiveRowName = name
				continue
			}
			if direction != "L" && direction != "G" && direction != "E" {
				return nil, parseErr(path, lineNo, "unsupported row direction "+direction)
			}
			c.RowNames.Add(name, c.NumRows)
			c.InequalityDirections = append(c.InequalityDirections, direction[0])
			c.RHS = append(c.RHS, 0.0)
			c.NumRows++

		case "COLUMNS":
			if len(fields) != 3 && len(fields) != 5 {
				return nil, parseErr(path, lineNo, "COLUMNS line must have 3 or 5 fields")
			}
			colName := fields[0]
			colIdx, ok := c.ColNames.Index(colName)
			if !ok {
				colIdx = c.NumCols
				c.ColNames.Add(colName, colIdx)
				c.NumCols++
				c.LowerBounds = append(c.LowerBounds, 0.0)
				c.UpperBounds = append(c.UpperBounds, math.Inf(1))
				c.ObjectiveCoefficients = append(c.ObjectiveCoefficients, 0.0)
			}
			for i := 1; i+1 < len(fields); i += 2 {
				rowName := fields[i]
				value, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, parseErr(path, lineNo, "bad coefficient "+fields[i+1])
				}
				if rowName == c.ObjectiveRowName {
					c.ObjectiveCoefficients[colIdx] = value
					continue
				}
				rowIdx, ok := c.RowNames.Index(rowName)
				if !ok {
					return nil, parseErr(path, lineNo, "row name "+rowName+" not found")
				}
				coefs = append(coefs, coreCoef{row: rowIdx, col: colIdx, val: value})
			}

		case "RHS":
			if len(fields) != 3 {
				return nil, parseErr(path, lineNo, "RHS line must have 3 fields")
			}
			rowName := fields[1]
			value, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, parseErr(path, lineNo, "bad RHS value "+fields[2])
			}
			rowIdx, ok := c.RowNames.Index(rowName)
			if !ok {
				return nil, parseErr(path, lineNo, "row name "+rowName+" not found")
			}
			c.RHS[rowIdx] = value

		case "BOUNDS":
			if len(fields) != 4 {
				return nil, parseErr(path, lineNo, "BOUNDS line must have 4 fields")
			}
			boundType, colName := fields[0], fields[2]
			value, err := strconv.ParseFloat(fields[3], 64)
			if err != nil {
				return nil, parseErr(path, lineNo, "bad bound value "+fields[3])
			}
			colIdx, ok := c.ColNames.Index(colName)
			if !ok {
				return nil, parseErr(path, lineNo, "column name "+colName+" not found")
			}
			switch boundType {
			case "UP":
				c.UpperBounds[colIdx] = clampInf(value)
			case "LO":
				c.LowerBounds[colIdx] = clampInf(value)
			case "FX":
				c.LowerBounds[colIdx] = value
				c.UpperBounds[colIdx] = value
			case "FR":
				c.LowerBounds[colIdx] = math.Inf(-1)
				c.UpperBounds[colIdx] = math.Inf(1)
			default:
				return nil, parseErr(path, lineNo, "unsupported bound type "+boundType)
			}

		case "ENDATA":
			// nothing to do

		default:
			return nil, parseErr(path, lineNo, "unsupported section "+section)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: scan: %w", path, err)
	}

	c.Coefficients = sparsemat.New[float64](c.NumRows, c.NumCols)
	for _, tr := range coefs {
		c.Coefficients.Add(tr.row, tr.col, tr.val)
	}

	return c, nil
}

func parseErr(path string, line int, reason string) error {
	return fmt.Errorf("%s:%d: %s: %w", path, line, reason, errs.ErrParse)
}
