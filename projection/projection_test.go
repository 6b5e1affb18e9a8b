package projection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twostage/twosd/refsolver"
	"github.com/twostage/twosd/solver"
	"github.com/twostage/twosd/sparsemat"
	"github.com/twostage/twosd/stageproblem"
	"github.com/twostage/twosd/stochpattern"
)

// landsStageZero builds the stage-0 StageProblem from the lands-instance
// fixture in spec.md §8, scenario 1: nvars_current=4, nrows=2, variable
// names [X1,X2,X3,X4], row names [S1C1,S1C2], inequality_directions =
// [G,L], rhs_bar = [12,120], cost = [10,7,16,6].
func landsStageZero(t *testing.T) *stageproblem.StageProblem {
	t.Helper()

	current := sparsemat.New[float64](2, 4)
	for _, c := range []int{0, 1, 2, 3} {
		current.Add(0, c, 1)
	}
	current.Add(1, 0, 10)
	current.Add(1, 1, 7)
	current.Add(1, 2, 16)
	current.Add(1, 3, 6)

	transfer := sparsemat.New[float64](2, 0)

	p, err := stageproblem.New(
		0, 4, 2,
		nil,
		[]string{"X1", "X2", "X3", "X4"},
		[]string{"S1C1", "S1C2"},
		transfer, current,
		[]float64{0, 0, 0, 0}, []float64{math.Inf(1), math.Inf(1), math.Inf(1), math.Inf(1)},
		[]float64{12, 120},
		[]solver.Sense{solver.SenseGreaterEqual, solver.SenseLessEqual},
		[]float64{10, 7, 16, 6},
		stochpattern.StagePattern{},
	)
	require.NoError(t, err)
	return p
}

func newLandsProjection(t *testing.T) *Problem {
	t.Helper()

	pr := New(landsStageZero(t))
	require.NoError(t, pr.AttachSolver(refsolver.New()))
	return pr
}

// P4: for any feasible x0, Project returns Empty.
func TestProjectFeasiblePointIsEmpty(t *testing.T) {
	pr := newLandsProjection(t)

	// scenario 2: [0, 12, 0, 0] satisfies X1+X2+X3+X4 >= 12 (=12) and
	// 10*X1+7*X2+16*X3+6*X4 <= 120 (=84).
	result, err := pr.Project([]float64{0, 12, 0, 0})
	require.NoError(t, err)
	assert.True(t, result.Empty)
}

// scenario 3: lands projection at [4,3,3,3].
func TestProjectInfeasiblePoint(t *testing.T) {
	pr := newLandsProjection(t)

	x0 := []float64{4, 3, 3, 3}
	feasible, err := pr.IsFeasible(x0)
	require.NoError(t, err)
	require.False(t, feasible)

	result, err := pr.Project(x0)
	require.NoError(t, err)
	require.False(t, result.Empty)

	want := []float64{-0.15873, -0.11111, -0.25397, -0.09524}
	require.Len(t, result.Delta, len(want))
	for i := range want {
		assert.InDelta(t, want[i], result.Delta[i], 1e-3)
	}

	// P5: the repaired point must satisfy every constraint.
	xProj := make([]float64, len(x0))
	for i := range x0 {
		xProj[i] = x0[i] + result.Delta[i]
	}
	feasible, err = pr.IsFeasible(xProj)
	require.NoError(t, err)
	assert.True(t, feasible)
}

// scenario 4: lands projection at [-1,13,0,0].
func TestProjectInfeasiblePointBoundActive(t *testing.T) {
	pr := newLandsProjection(t)

	x0 := []float64{-1, 13, 0, 0}
	result, err := pr.Project(x0)
	require.NoError(t, err)
	require.False(t, result.Empty)

	want := []float64{1, 0, 0, 0}
	require.Len(t, result.Delta, len(want))
	for i := range want {
		assert.InDelta(t, want[i], result.Delta[i], 1e-3)
	}
}

func TestIsFeasibleShapeMismatch(t *testing.T) {
	pr := newLandsProjection(t)
	_, err := pr.IsFeasible([]float64{1, 2})
	assert.Error(t, err)
}

func TestIsFeasibleOutOfBounds(t *testing.T) {
	pr := newLandsProjection(t)
	feasible, err := pr.IsFeasible([]float64{-1, 0, 0, 0})
	require.NoError(t, err)
	assert.False(t, feasible)
}
