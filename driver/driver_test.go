package driver

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twostage/twosd/projection"
	"github.com/twostage/twosd/solver"
	"github.com/twostage/twosd/sparsemat"
	"github.com/twostage/twosd/stageproblem"
	"github.com/twostage/twosd/stochpattern"
)

// fakeBackend is a recording/constant-returning solver.Backend stub:
// it performs no optimization, just serves back whatever objective,
// primal, and dual values the test pre-seeded, regardless of the
// model pushed to it — enough to drive deterministic evaluate/Run
// assertions without a real LP solve.
type fakeBackend struct {
	nVars       int
	lowerBounds map[int]float64
	upperBounds map[int]float64

	primal    []float64
	objective float64
	dualRows  []float64
	reduced   map[int]float64
}

func newFakeBackend(primal []float64, objective float64, dualRows []float64) *fakeBackend {
	return &fakeBackend{
		lowerBounds: map[int]float64{},
		upperBounds: map[int]float64{},
		reduced:     map[int]float64{},
		primal:      primal,
		objective:   objective,
		dualRows:    dualRows,
	}
}

func (f *fakeBackend) NewModel(nVars int, cost, lb, ub []float64) error {
	f.nVars = nVars
	for i, v := range lb {
		f.lowerBounds[i] = v
	}
	for i, v := range ub {
		f.upperBounds[i] = v
	}
	return nil
}
func (f *fakeBackend) AddRows(csr sparsemat.CSR[float64], sense []solver.Sense, rhs []float64) error {
	return nil
}
func (f *fakeBackend) SetNames(rowNames, colNames []string) error { return nil }
func (f *fakeBackend) SetRHS(rhs []float64) error                 { return nil }
func (f *fakeBackend) SetLowerBound(i int, v float64) error       { f.lowerBounds[i] = v; return nil }
func (f *fakeBackend) SetUpperBound(i int, v float64) error       { f.upperBounds[i] = v; return nil }
func (f *fakeBackend) AddDiagonalQuadratic(gamma float64) error   { return nil }
func (f *fakeBackend) RemoveQuadratic() error                     { return nil }
func (f *fakeBackend) Optimize() error                             { return nil }
func (f *fakeBackend) GetPrimal() ([]float64, error)               { return f.primal, nil }
func (f *fakeBackend) GetDualRows() ([]float64, error)             { return f.dualRows, nil }
func (f *fakeBackend) GetReducedCost(i int) (float64, error)       { return f.reduced[i], nil }
func (f *fakeBackend) GetVariableValue(i int) (float64, error)     { return f.primal[i], nil }
func (f *fakeBackend) GetLowerBound(i int) (float64, error)        { return f.lowerBounds[i], nil }
func (f *fakeBackend) GetUpperBound(i int) (float64, error)        { return f.upperBounds[i], nil }
func (f *fakeBackend) WriteLP(path string) error                   { return nil }
func (f *fakeBackend) ObjectiveValue() (float64, error)             { return f.objective, nil }

// rootFixture builds an unconstrained 1-variable root stage: no rows,
// wide bounds, so IsFeasible is always true and the projection step
// never needs to touch its backend.
func rootFixture(t *testing.T) *stageproblem.StageProblem {
	t.Helper()
	transfer := sparsemat.New[float64](0, 0)
	current := sparsemat.New[float64](0, 1)
	p, err := stageproblem.New(
		0, 1, 0,
		nil,
		[]string{"X1"},
		nil,
		transfer, current,
		[]float64{-1e6}, []float64{1e6},
		nil,
		nil,
		[]float64{2.0},
		stochpattern.StagePattern{},
	)
	require.NoError(t, err)
	return p
}

// secondStageFixture builds a 1-row, 1-transfer-variable, 1-current-
// variable second stage whose single row's RHS carries the sample's
// only random entry (col_index == -1).
func secondStageFixture(t *testing.T) *stageproblem.StageProblem {
	t.Helper()
	transfer := sparsemat.New[float64](1, 1)
	transfer.Add(0, 0, 3)
	current := sparsemat.New[float64](1, 1)
	current.Add(0, 0, 1)

	pattern := stochpattern.StagePattern{
		RowIndex:          []int{0},
		ColIndex:          []int{-1},
		RefValue:          []float64{10},
		IndicesInScenario: []int{0},
		RVCount:           1,
	}

	p, err := stageproblem.New(
		1, 1, 1,
		[]string{"X1"},
		[]string{"Y1"},
		[]string{"R1"},
		transfer, current,
		[]float64{0}, []float64{math.Inf(1)},
		[]float64{10},
		[]solver.Sense{solver.SenseGreaterEqual},
		[]float64{0},
		pattern,
	)
	require.NoError(t, err)
	return p
}

func newTestDriver(t *testing.T, opts Options) *TwoStageDriver {
	t.Helper()

	root := rootFixture(t)
	proj := projection.New(root.Copy())
	require.NoError(t, proj.AttachSolver(newFakeBackend(nil, 0, nil)))

	worker := secondStageFixture(t)
	require.NoError(t, worker.AttachSolver(newFakeBackend([]float64{0}, 7.0, []float64{0.5})))

	samplePool := [][]float64{{10}, {14}}

	return NewFromComponents(root, proj, []*stageproblem.StageProblem{worker}, samplePool, opts)
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 50, o.IterationCap)
	assert.Equal(t, 10.0, o.TMax)
	assert.Equal(t, 0.4, o.M1)
	assert.Equal(t, 0.2, o.M2)
	assert.Equal(t, 50, o.SamplePoolSize)
}

func TestApplyOptions(t *testing.T) {
	o := Apply(WithIterationCap(3), WithSeed(42), WithSamplePoolSize(5))
	assert.Equal(t, 3, o.IterationCap)
	assert.Equal(t, int64(42), o.Seed)
	assert.Equal(t, 5, o.SamplePoolSize)
	// unset fields still carry DefaultOptions values
	assert.Equal(t, 10.0, o.TMax)
}

func TestEvaluateAggregatesIndexAscending(t *testing.T) {
	d := newTestDriver(t, DefaultOptions())

	fx, gx, err := d.evaluate(context.Background(), []float64{0})
	require.NoError(t, err)

	// worker obj is constant 7 across both scenarios; avgObj = 7.
	// avgBeta = (1.5+1.5)/2 = 1.5 (see cuthelper hand-derivation).
	// objective = avgObj + cost.x = 7 + 2*0 = 7.
	assert.InDelta(t, 7.0, fx, 1e-9)
	require.Len(t, gx, 1)
	assert.InDelta(t, 0.5, gx[0], 1e-9) // cost - avgBeta = 2 - 1.5
}

func TestRunOneIteration(t *testing.T) {
	opts := Apply(WithIterationCap(1))
	d := newTestDriver(t, opts)

	x, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, x, 1)
	// direction seeds to gx=[0.5] on the only SCS update; bisection's
	// first midpoint t=5 already satisfies L and R (hand-derived), so
	// x moves from 0 to 0 - 5*0.5 = -2.5.
	assert.InDelta(t, -2.5, x[0], 1e-9)
}
