// Package projection implements the feasibility-repair subproblem
// (spec.md §4.4, component D): a StageProblem specialization whose
// objective is replaced by ½‖d‖², used to project an arbitrary
// first-stage point onto the feasible polyhedron.
package projection

import (
	"math"

	"github.com/twostage/twosd/errs"
	"github.com/twostage/twosd/internal/utils"
	"github.com/twostage/twosd/solver"
	"github.com/twostage/twosd/stageproblem"
)

// quadraticGamma is the fixed coefficient of the projection QP's
// objective, ½·Σd_i² — always ½, never caller-tunable, per spec.md
// §4.4.
const quadraticGamma = 0.5

// Problem wraps a root-stage StageProblem, replacing its linear
// objective with the quadratic projection objective on AttachSolver.
type Problem struct {
	*stageproblem.StageProblem
}

// New wraps root, a root-stage (stage-0) StageProblem template. root
// must not yet have a solver attached; call AttachSolver on the
// returned Problem instead of on root directly, since Problem's
// AttachSolver additionally zeroes the linear objective.
func New(root *stageproblem.StageProblem) *Problem {
	return &Problem{StageProblem: root}
}

// AttachSolver builds the model exactly as StageProblem.AttachSolver
// does, then zeroes the cost vector at the backend and installs the
// ½·Σd_i² quadratic term — producing min ½‖d‖² s.t. A·d △ r − A·x_base,
// lb−x_base ≤ d ≤ ub−x_base.
func (pr *Problem) AttachSolver(backend solver.Backend) error {
	if err := pr.StageProblem.AttachSolver(backend); err != nil {
		return err
	}
	zeroCost := make([]float64, pr.NVarsCurrent)
	if err := backend.NewModel(pr.NVarsCurrent, zeroCost, pr.LB, pr.UB); err != nil {
		return errs.NewBackendFailure("new_model", "", err)
	}
	csr := pr.CurrentBlock.ToCSR()
	if err := backend.AddRows(csr, pr.InequalityDirections, pr.RHSBar); err != nil {
		return errs.NewBackendFailure("add_rows", "", err)
	}
	if err := backend.SetNames(pr.RowNames, pr.VariableNames); err != nil {
		return errs.NewBackendFailure("set_names", "", err)
	}
	return pr.AddQuadraticTerm(quadraticGamma)
}

// IsFeasible reports whether x0 already satisfies every bound and row
// constraint (rows checked via current_block·x0 against rhs_bar per
// inequality_directions, equality within utils.ApproxEqualTol).
func (pr *Problem) IsFeasible(x0 []float64) (bool, error) {
	if len(x0) != pr.NVarsCurrent {
		return false, errs.ErrShapeMismatch
	}

	for i, v := range x0 {
		if v < pr.LB[i]-utils.ApproxEqualTol || v > pr.UB[i]+utils.ApproxEqualTol {
			return false, nil
		}
	}

	ax := make([]float64, pr.NRows)
	if err := pr.CurrentBlock.MultiplyInto(x0, ax); err != nil {
		return false, err
	}

	for i, lhs := range ax {
		rhs := pr.RHSBar[i]
		switch pr.InequalityDirections[i] {
		case solver.SenseGreaterEqual:
			if lhs < rhs-utils.ApproxEqualTol {
				return false, nil
			}
		case solver.SenseLessEqual:
			if lhs > rhs+utils.ApproxEqualTol {
				return false, nil
			}
		case solver.SenseEqual:
			if !utils.ApproxEqual(lhs, rhs) {
				return false, nil
			}
		}
	}

	return true, nil
}

// Result is Project's outcome: either Empty (x0 was already feasible,
// no adjustment needed) or a non-empty Delta to add to x0.
type Result struct {
	Empty bool
	Delta []float64
}

// Project returns Empty if x0 is already feasible; otherwise it shifts
// the QP around x0, solves it, and returns the resulting d as Delta —
// the caller computes x0 + Delta to get the projection. A backend must
// already be attached via AttachSolver.
func (pr *Problem) Project(x0 []float64) (Result, error) {
	feasible, err := pr.IsFeasible(x0)
	if err != nil {
		return Result{}, err
	}
	if feasible {
		return Result{Empty: true}, nil
	}

	if err := pr.SetXBase(x0); err != nil {
		return Result{}, err
	}
	if err := pr.ApplyRootStageRHS(); err != nil {
		return Result{}, err
	}

	_, primal, _, err := pr.Solve(false)
	if err != nil {
		return Result{}, err
	}
	if primal == nil || containsNaN(primal) {
		return Result{}, errs.ErrInfeasibleProjection
	}

	return Result{Delta: primal}, nil
}

func containsNaN(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}
