// Package refsolver is the one concrete solver.Backend this repository
// ships: a dense, small-scale LP/QP solver good enough to drive the
// decomposition's own test fixtures and CLI runs. It is not meant to
// compete with a production solver — the core decomposition in
// stageproblem/projection/driver never imports this package directly,
// only through the solver.Backend interface (spec.md §4.6).
//
// Two solve paths:
//   - Optimize dispatches to the bounded-variable Big-M simplex
//     (simplex.go) when no quadratic term is installed.
//   - When a diagonal quadratic term is installed (AddDiagonalQuadratic,
//     used only by the projection specialization), Optimize instead
//     runs the active-set QP solver (qp.go), which gets its initial
//     feasible vertex from the same simplex routine run with a zero
//     linear objective.
package refsolver

import (
	"fmt"
	"math"
	"os"

	"github.com/twostage/twosd/solver"
	"github.com/twostage/twosd/sparsemat"
	"github.com/twostage/twosd/vectorcontainer"
)

// Backend is a single in-memory LP/QP model. It implements
// solver.Backend. A Backend instance is single-use per model lifetime:
// NewModel discards all prior state, matching the contract's "any
// existing model state is discarded" rule.
type Backend struct {
	nVars int
	cost  []float64
	lb    []float64
	ub    []float64

	csr   sparsemat.CSR[float64]
	sense []solver.Sense
	rhs   []float64

	rowNames []string
	colNames []string

	gamma float64 // 0 means no quadratic term installed

	solved      bool
	x           []float64
	rowDual     []float64
	reducedCost []float64
	objective   float64

	// vertices caches augmented-space QP vertices seen across repeated
	// Optimize calls on this same model (RHS/bounds change, dimensions
	// don't), so a later solveQP can reuse one still feasible under the
	// new RHS/bounds instead of resolving phase-1 from scratch. Lazily
	// sized to aug.n on first use; reset to nil by NewModel.
	vertices *vectorcontainer.UniqueContainer
}

// New returns an unconfigured Backend; call NewModel before anything
// else.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) NewModel(nVars int, cost, lb, ub []float64) error {
	if len(cost) != nVars || len(lb) != nVars || len(ub) != nVars {
		return fmt.Errorf("refsolver: NewModel: cost/lb/ub must have length %d", nVars)
	}
	*b = Backend{
		nVars: nVars,
		cost:  append([]float64(nil), cost...),
		lb:    append([]float64(nil), lb...),
		ub:    append([]float64(nil), ub...),
	}
	return nil
}

func (b *Backend) AddRows(csr sparsemat.CSR[float64], sense []solver.Sense, rhs []float64) error {
	nRows := len(csr.RowBegin) - 1
	if len(sense) != nRows || len(rhs) != nRows {
		return fmt.Errorf("refsolver: AddRows: sense/rhs must have length %d", nRows)
	}
	b.csr = csr
	b.sense = append([]solver.Sense(nil), sense...)
	b.rhs = append([]float64(nil), rhs...)
	b.solved = false
	return nil
}

func (b *Backend) SetNames(rowNames, colNames []string) error {
	b.rowNames = append([]string(nil), rowNames...)
	b.colNames = append([]string(nil), colNames...)
	return nil
}

func (b *Backend) SetRHS(rhs []float64) error {
	if len(rhs) != len(b.rhs) {
		return fmt.Errorf("refsolver: SetRHS: expected length %d, got %d", len(b.rhs), len(rhs))
	}
	b.rhs = append([]float64(nil), rhs...)
	b.solved = false
	return nil
}

func (b *Backend) SetLowerBound(i int, v float64) error {
	if i < 0 || i >= b.nVars {
		return fmt.Errorf("refsolver: SetLowerBound: index %d out of range", i)
	}
	b.lb[i] = v
	b.solved = false
	return nil
}

func (b *Backend) SetUpperBound(i int, v float64) error {
	if i < 0 || i >= b.nVars {
		return fmt.Errorf("refsolver: SetUpperBound: index %d out of range", i)
	}
	b.ub[i] = v
	b.solved = false
	return nil
}

func (b *Backend) AddDiagonalQuadratic(gamma float64) error {
	b.gamma = gamma
	b.solved = false
	return nil
}

func (b *Backend) RemoveQuadratic() error {
	b.gamma = 0
	b.solved = false
	return nil
}

func (b *Backend) Optimize() error {
	b.solved = false
	var err error
	if b.gamma == 0 {
		err = b.solveLP()
	} else {
		err = b.solveQP()
	}
	if err != nil {
		return err
	}
	b.solved = true
	return nil
}

func (b *Backend) GetPrimal() ([]float64, error) {
	if !b.solved {
		return nil, fmt.Errorf("refsolver: GetPrimal: model has not been optimized")
	}
	return append([]float64(nil), b.x...), nil
}

func (b *Backend) GetDualRows() ([]float64, error) {
	if !b.solved {
		return nil, fmt.Errorf("refsolver: GetDualRows: model has not been optimized")
	}
	return append([]float64(nil), b.rowDual...), nil
}

func (b *Backend) GetReducedCost(i int) (float64, error) {
	if !b.solved {
		return 0, fmt.Errorf("refsolver: GetReducedCost: model has not been optimized")
	}
	if i < 0 || i >= b.nVars {
		return 0, fmt.Errorf("refsolver: GetReducedCost: index %d out of range", i)
	}
	return b.reducedCost[i], nil
}

func (b *Backend) GetVariableValue(i int) (float64, error) {
	if !b.solved {
		return 0, fmt.Errorf("refsolver: GetVariableValue: model has not been optimized")
	}
	if i < 0 || i >= b.nVars {
		return 0, fmt.Errorf("refsolver: GetVariableValue: index %d out of range", i)
	}
	return b.x[i], nil
}

func (b *Backend) GetLowerBound(i int) (float64, error) {
	if i < 0 || i >= b.nVars {
		return 0, fmt.Errorf("refsolver: GetLowerBound: index %d out of range", i)
	}
	return b.lb[i], nil
}

func (b *Backend) GetUpperBound(i int) (float64, error) {
	if i < 0 || i >= b.nVars {
		return 0, fmt.Errorf("refsolver: GetUpperBound: index %d out of range", i)
	}
	return b.ub[i], nil
}

func (b *Backend) ObjectiveValue() (float64, error) {
	if !b.solved {
		return 0, fmt.Errorf("refsolver: ObjectiveValue: model has not been optimized")
	}
	return b.objective, nil
}

// WriteLP dumps a diagnostic, human-readable rendering of the current
// model — not a re-readable LP-format file, just enough to eyeball a
// failing model by hand.
func (b *Backend) WriteLP(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "minimize")
	for i, c := range b.cost {
		name := colName(b.colNames, i)
		fmt.Fprintf(f, " %+g %s", c, name)
	}
	if b.gamma != 0 {
		fmt.Fprintf(f, " + %g*sum(d_i^2)", b.gamma)
	}
	fmt.Fprintln(f)

	fmt.Fprintln(f, "subject to")
	nRows := len(b.rhs)
	for i := 0; i < nRows; i++ {
		name := rowName(b.rowNames, i)
		fmt.Fprintf(f, "  %s:", name)
		for p := b.csr.RowBegin[i]; p < b.csr.RowBegin[i+1]; p++ {
			fmt.Fprintf(f, " %+g %s", b.csr.Val[p], colName(b.colNames, b.csr.ColIdx[p]))
		}
		fmt.Fprintf(f, " %s %g\n", string(b.sense[i]), b.rhs[i])
	}

	fmt.Fprintln(f, "bounds")
	for i := range b.cost {
		fmt.Fprintf(f, "  %g <= %s <= %g\n", b.lb[i], colName(b.colNames, i), b.ub[i])
	}

	return nil
}

func colName(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("x%d", i)
}

func rowName(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("r%d", i)
}

// freeVariableBound is the magnitude a fully free (both bounds
// infinite) variable is clamped to so the bounded-variable simplex and
// active-set QP below — which require every variable to rest at a
// finite bound when nonbasic — never need a separate free-variable
// pivoting rule.
const freeVariableBound = 1e12

func clampFree(lb, ub []float64) (clb, cub []float64) {
	clb = make([]float64, len(lb))
	cub = make([]float64, len(ub))
	for i := range lb {
		clb[i] = lb[i]
		cub[i] = ub[i]
		if math.IsInf(lb[i], -1) && math.IsInf(ub[i], 1) {
			clb[i] = -freeVariableBound
			cub[i] = freeVariableBound
		}
	}
	return clb, cub
}
