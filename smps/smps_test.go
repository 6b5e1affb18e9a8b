package smps

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A minimal two-stage instance, hand-written as literal SMPS text: the
// lands-instance stage-0 rows/columns (spec.md §8 scenario 1) plus one
// stage-1 row R1 with a transfer cell from X4 and a second-stage column
// Y1, enough to exercise ParseCore/ParseTime/ParseStoch/BuildPattern end
// to end against real files rather than in-memory structs.
const corText = `NAME          LANDS
ROWS
 N  COST
 G  S1C1
 L  S1C2
 G  R1
COLUMNS
    X1        COST           10.0   S1C1           1.0
    X1        S1C2           10.0
    X2        COST           7.0    S1C1           1.0
    X2        S1C2           7.0
    X3        COST           16.0   S1C1           1.0
    X3        S1C2           16.0
    X4        COST           6.0    S1C1           1.0
    X4        S1C2           6.0
    X4        R1             1.0
    Y1        R1             3.0
RHS
    RHS       S1C1           12.0
    RHS       S1C2           120.0
    RHS       R1             10.0
BOUNDS
 LO BND       Y1             0.0
ENDATA
`

const timText = `TIME          LANDS
PERIODS
    X1        S1C1      STAGE0
    Y1        R1        STAGE1
ENDATA
`

const stoText = `STOCH         LANDS
INDEP         DISCRETE
    RHS       R1            123.4         1.0
    X4        R1            2.0           1.0
ENDATA
`

func writeFixture(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func parseFixture(t *testing.T) (*Core, *Time, *Stoch) {
	t.Helper()

	cor, err := ParseCore(writeFixture(t, "lands.cor", corText))
	require.NoError(t, err)
	tim, err := ParseTime(writeFixture(t, "lands.tim", timText), cor)
	require.NoError(t, err)
	sto, err := ParseStoch(writeFixture(t, "lands.sto", stoText))
	require.NoError(t, err)
	return cor, tim, sto
}

func TestParseCore(t *testing.T) {
	cor, _, _ := parseFixture(t)

	assert.Equal(t, "LANDS", cor.ProblemName)
	assert.Equal(t, "COST", cor.ObjectiveRowName)
	assert.Equal(t, 3, cor.NumRows)
	assert.Equal(t, 5, cor.NumCols)
	assert.Equal(t, []byte{'G', 'L', 'G'}, cor.InequalityDirections)
	assert.Equal(t, []float64{12.0, 120.0, 10.0}, cor.RHS)
	assert.Equal(t, []float64{10, 7, 16, 6, 0}, cor.ObjectiveCoefficients)

	ylb, ok := cor.ColNames.Index("Y1")
	require.True(t, ok)
	assert.Equal(t, 0.0, cor.LowerBounds[ylb])
	assert.True(t, math.IsInf(cor.UpperBounds[ylb], 1))

	x1, _ := cor.ColNames.Index("X1")
	s1c1, _ := cor.RowNames.Index("S1C1")
	assert.Equal(t, 1.0, cor.Coefficients.At(s1c1, x1))

	x4, _ := cor.ColNames.Index("X4")
	r1, _ := cor.RowNames.Index("R1")
	assert.Equal(t, 1.0, cor.Coefficients.At(r1, x4))
}

func TestParseCoreBadRowDirection(t *testing.T) {
	bad := `NAME BAD
ROWS
 Z BADROW
COLUMNS
ENDATA
`
	_, err := ParseCore(writeFixture(t, "bad.cor", bad))
	assert.Error(t, err)
}

func TestParseCoreUnsupportedSection(t *testing.T) {
	bad := `NAME BAD
RANGES
    X1 R1 1.0
ENDATA
`
	_, err := ParseCore(writeFixture(t, "bad.cor", bad))
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	cor, tim, _ := parseFixture(t)

	assert.Equal(t, 2, tim.NumStages())
	assert.Equal(t, []string{"STAGE0", "STAGE1"}, tim.Labels)

	stage, idx, err := tim.ColStage("X1", cor)
	require.NoError(t, err)
	assert.Equal(t, 0, stage)
	assert.Equal(t, 0, idx)

	stage, idx, err = tim.ColStage("Y1", cor)
	require.NoError(t, err)
	assert.Equal(t, 1, stage)
	assert.Equal(t, 0, idx)

	stage, idx, err = tim.RowStage("R1", cor)
	require.NoError(t, err)
	assert.Equal(t, 1, stage)
	assert.Equal(t, 0, idx)

	stage, idx, err = tim.RowStage("S1C2", cor)
	require.NoError(t, err)
	assert.Equal(t, 0, stage)
	assert.Equal(t, 1, idx)

	stage, _, err = tim.ColStage("RHS", cor)
	require.NoError(t, err)
	assert.Equal(t, -1, stage)

	stage, _, err = tim.RowStage("COST", cor)
	require.NoError(t, err)
	assert.Equal(t, -1, stage)

	assert.Equal(t, 4, tim.NCols(0, cor))
	assert.Equal(t, 1, tim.NCols(1, cor))
	assert.Equal(t, 2, tim.NRows(0, cor))
	assert.Equal(t, 1, tim.NRows(1, cor))
}

func TestParseTimeUnknownColumn(t *testing.T) {
	cor, _, _ := parseFixture(t)
	bad := `TIME BAD
PERIODS
    NOPE      S1C1      STAGE0
ENDATA
`
	_, err := ParseTime(writeFixture(t, "bad.tim", bad), cor)
	assert.Error(t, err)
}

func TestParseStoch(t *testing.T) {
	_, _, sto := parseFixture(t)

	require.Len(t, sto.Records, 2)

	assert.Equal(t, "RHS", sto.Records[0].ColName)
	assert.Equal(t, "R1", sto.Records[0].RowName)
	assert.Equal(t, Discrete, sto.Records[0].Kind)
	assert.Equal(t, []float64{123.4}, sto.Records[0].Values)
	assert.Equal(t, []float64{1.0}, sto.Records[0].Probabilities)

	assert.Equal(t, "X4", sto.Records[1].ColName)
	assert.Equal(t, "R1", sto.Records[1].RowName)
	assert.Equal(t, []float64{2.0}, sto.Records[1].Values)

	assert.Equal(t, [][2]string{{"RHS", "R1"}, {"X4", "R1"}}, sto.Positions())
}

func TestParseStochUnsupportedSection(t *testing.T) {
	bad := `STOCH BAD
BLOCKS DISCRETE
    RHS R1 1.0 1.0
ENDATA
`
	_, err := ParseStoch(writeFixture(t, "bad.sto", bad))
	assert.Error(t, err)
}

// GenerateSample against the literal lands-instance STO fixture: each
// record has a single (value, probability=1.0) outcome, so the draw is
// deterministic regardless of rng seed — scenario 5's omega = [123.4]
// (spec.md §8) is exactly the first entry here, with the transfer-cell
// draw appended as the second entry.
func TestGenerateSample(t *testing.T) {
	_, _, sto := parseFixture(t)

	rng := rand.New(rand.NewSource(1))
	sample := GenerateSample(sto, rng)

	require.Len(t, sample, 2)
	assert.Equal(t, 123.4, sample[0])
	assert.Equal(t, 2.0, sample[1])
}

func TestBuildPattern(t *testing.T) {
	cor, tim, sto := parseFixture(t)

	pattern, err := BuildPattern(cor, tim, sto)
	require.NoError(t, err)

	require.Equal(t, 2, pattern.Len())

	// entry 0: RHS randomness at stage 1, row R1 (index 0 within stage 1),
	// reference value = the template RHS at R1 (10.0).
	assert.Equal(t, 1, pattern.Stage[0])
	assert.Equal(t, 0, pattern.RowIndex[0])
	assert.Equal(t, -1, pattern.ColIndex[0])
	assert.Equal(t, 10.0, pattern.RefValue[0])

	// entry 1: transfer-block randomness from stage 0 (X4, the fourth of
	// stage 0's four columns) into stage 1 (R1), reference value = the
	// template coefficient (1.0).
	assert.Equal(t, 1, pattern.Stage[1])
	assert.Equal(t, 0, pattern.RowIndex[1])
	assert.Equal(t, 3, pattern.ColIndex[1])
	assert.Equal(t, 1.0, pattern.RefValue[1])
}

func TestBuildPatternCostRandomnessUnsupported(t *testing.T) {
	cor, tim, _ := parseFixture(t)
	bad := `STOCH BAD
INDEP DISCRETE
    RHS COST 1.0 1.0
ENDATA
`
	sto, err := ParseStoch(writeFixture(t, "bad.sto", bad))
	require.NoError(t, err)

	_, err = BuildPattern(cor, tim, sto)
	assert.Error(t, err)
}
