// Package solver declares the capability contract that stageproblem and
// projection require of an LP/QP backend (spec.md §4.6). The core
// decomposition is written entirely against this interface; it never
// imports a concrete backend. See package refsolver for the one
// implementation this repository ships.
package solver

import "github.com/twostage/twosd/sparsemat"

// Sense is a constraint row's inequality direction: 'G' (>=), 'L' (<=),
// or 'E' (=).
type Sense = byte

const (
	SenseGreaterEqual Sense = 'G'
	SenseLessEqual    Sense = 'L'
	SenseEqual        Sense = 'E'
)

// Backend is the capability set a StageProblem drives. Implementations
// own exactly one underlying model; every call is synchronous and
// single-threaded (spec.md §5 requires callers never to oversubscribe
// by running a multi-threaded backend per worker goroutine).
//
// Every method returns a plain error; stageproblem wraps backend errors
// into errs.BackendFailure at the call site, naming the failing
// operation — Backend implementations themselves need not know about
// the errs package.
type Backend interface {
	// NewModel (re)initializes the model with nVars variables, the given
	// linear cost, and box bounds. Any existing model state is discarded.
	NewModel(nVars int, cost, lb, ub []float64) error

	// AddRows appends nrows constraint rows from a CSR snapshot, one
	// sense per row, with the given right-hand sides.
	AddRows(csr sparsemat.CSR[float64], sense []Sense, rhs []float64) error

	// SetNames assigns human-readable row and column names, purely for
	// diagnostics (WriteLP output).
	SetNames(rowNames, colNames []string) error

	// SetRHS overwrites every row's right-hand side in one call.
	SetRHS(rhs []float64) error

	// SetLowerBound / SetUpperBound adjust a single variable's bound,
	// used when shifting to/from an x_base.
	SetLowerBound(i int, v float64) error
	SetUpperBound(i int, v float64) error

	// AddDiagonalQuadratic installs gamma*sum(d_i^2) on top of the
	// existing linear objective; RemoveQuadratic strips it back out.
	AddDiagonalQuadratic(gamma float64) error
	RemoveQuadratic() error

	// Optimize solves the model synchronously.
	Optimize() error

	// GetPrimal returns the primal solution vector after Optimize.
	GetPrimal() ([]float64, error)

	// GetDualRows returns the constraint-row dual vector (length
	// nrows) after Optimize.
	GetDualRows() ([]float64, error)

	// GetReducedCost returns the reduced cost of variable i.
	GetReducedCost(i int) (float64, error)

	// GetVariableValue returns the primal value of variable i.
	GetVariableValue(i int) (float64, error)

	// GetLowerBound / GetUpperBound return variable i's current bound.
	GetLowerBound(i int) (float64, error)
	GetUpperBound(i int) (float64, error)

	// WriteLP writes a diagnostic dump of the model to path; the dump's
	// format is up to the implementation.
	WriteLP(path string) error

	// ObjectiveValue returns the optimized objective value after
	// Optimize.
	ObjectiveValue() (float64, error)
}
