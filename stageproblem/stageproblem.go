// Package stageproblem implements the parametric per-stage LP template
// (spec.md §4.3, component C): a current-stage block of variables and
// constraints, a transfer block carrying the previous stage's
// variables, an optional x_base change-of-variable shift, and the
// glue that drives an attached solver.Backend through scenario and
// root-stage right-hand-side applications.
package stageproblem

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/twostage/twosd/errs"
	"github.com/twostage/twosd/internal/utils"
	"github.com/twostage/twosd/smps"
	"github.com/twostage/twosd/solver"
	"github.com/twostage/twosd/sparsemat"
	"github.com/twostage/twosd/stochpattern"
)

// StageProblem is the template for one stage of the decomposition. See
// spec.md §3 for the full invariant list (I1-I3); the most important
// to keep in mind while reading this file:
//
//	I1: shift_enabled => rhsShift = CurrentBlock*xBase, costShift = cost.xBase.
//	I2: the attached backend always reflects the current template,
//	    current bounds, and the most recently applied RHS.
//	I3: FixedIdx/LBIdx/UBIdx are classified independently (a variable
//	    can appear in both LBIdx and UBIdx if it has two non-trivial,
//	    unequal finite bounds).
type StageProblem struct {
	NVarsLast    int
	NVarsCurrent int
	NRows        int

	LastStageVarNames []string
	VariableNames     []string
	RowNames          []string

	TransferBlock *sparsemat.Matrix[float64] // NRows x NVarsLast
	CurrentBlock  *sparsemat.Matrix[float64] // NRows x NVarsCurrent

	LB, UB               []float64
	RHSBar               []float64
	InequalityDirections []solver.Sense
	CostCoefficients     []float64

	StagePattern stochpattern.StagePattern

	FixedIdx []int
	LBIdx    []int
	UBIdx    []int

	shiftEnabled bool
	xBase        []float64
	rhsShift     []float64
	costShift    float64

	quadGamma float64 // 0 means no quadratic term installed

	backend solver.Backend
}

// New builds a StageProblem directly from its fields, classifying
// bounds and validating array lengths. Most callers use FromSMPS
// instead; New is exposed so tests and the projection specialization
// can construct fixtures without a full SMPS instance.
func New(
	nVarsLast, nVarsCurrent, nRows int,
	lastStageVarNames, variableNames, rowNames []string,
	transferBlock, currentBlock *sparsemat.Matrix[float64],
	lb, ub, rhsBar []float64,
	inequalityDirections []solver.Sense,
	costCoefficients []float64,
	stagePattern stochpattern.StagePattern,
) (*StageProblem, error) {
	if len(variableNames) != nVarsCurrent || len(lb) != nVarsCurrent || len(ub) != nVarsCurrent || len(costCoefficients) != nVarsCurrent {
		return nil, fmt.Errorf("stageproblem: New: current-stage arrays must have length %d: %w", nVarsCurrent, errs.ErrShapeMismatch)
	}
	if len(lastStageVarNames) != nVarsLast {
		return nil, fmt.Errorf("stageproblem: New: last-stage name array must have length %d: %w", nVarsLast, errs.ErrShapeMismatch)
	}
	if len(rowNames) != nRows || len(rhsBar) != nRows || len(inequalityDirections) != nRows {
		return nil, fmt.Errorf("stageproblem: New: row arrays must have length %d: %w", nRows, errs.ErrShapeMismatch)
	}

	fixed, lbIdx, ubIdx := classifyBounds(lb, ub)

	return &StageProblem{
		NVarsLast:            nVarsLast,
		NVarsCurrent:         nVarsCurrent,
		NRows:                nRows,
		LastStageVarNames:    lastStageVarNames,
		VariableNames:        variableNames,
		RowNames:             rowNames,
		TransferBlock:        transferBlock,
		CurrentBlock:         currentBlock,
		LB:                   lb,
		UB:                   ub,
		RHSBar:               rhsBar,
		InequalityDirections: inequalityDirections,
		CostCoefficients:     costCoefficients,
		StagePattern:         stagePattern,
		FixedIdx:             fixed,
		LBIdx:                lbIdx,
		UBIdx:                ubIdx,
		rhsShift:             make([]float64, nRows),
	}, nil
}

// classifyBounds independently classifies each current-stage variable
// (spec.md §3 I3): fixed when lb==ub and non-zero; otherwise lb_idx
// when it has a finite, non-zero lower bound, and independently ub_idx
// when it has a finite, non-zero upper bound — a variable can land in
// both lb_idx and ub_idx.
func classifyBounds(lb, ub []float64) (fixed, lbIdx, ubIdx []int) {
	indices := lo.Range(len(lb))
	fixed = lo.Filter(indices, func(i int, _ int) bool {
		return ub[i] == lb[i] && !utils.ApproxEqual(lb[i], 0)
	})
	isFixed := make(map[int]bool, len(fixed))
	for _, i := range fixed {
		isFixed[i] = true
	}
	lbIdx = lo.Filter(indices, func(i int, _ int) bool {
		return !isFixed[i] && !math.IsInf(lb[i], -1) && !utils.ApproxEqual(lb[i], 0)
	})
	ubIdx = lo.Filter(indices, func(i int, _ int) bool {
		return !isFixed[i] && !math.IsInf(ub[i], 1) && !utils.ApproxEqual(ub[i], 0)
	})
	return fixed, lbIdx, ubIdx
}

// Copy returns a StageProblem sharing this one's immutable template
// data (name tables, coefficient blocks, bound/cost arrays) but with no
// attached backend — per spec.md §9, solver handles are never aliased
// across copies; AttachSolver must be called again on the copy. Shift
// state (x_base, rhs_shift, cost_shift) is copied by value so a worker
// that receives a copy before any SetXBase call starts unshifted.
func (p *StageProblem) Copy() *StageProblem {
	cp := *p
	cp.xBase = append([]float64(nil), p.xBase...)
	cp.rhsShift = append([]float64(nil), p.rhsShift...)
	cp.backend = nil
	return &cp
}

// AttachSolver (re)creates the backend model: declares current-stage
// variables with their bounds and cost vector, adds every row of
// CurrentBlock with sense from InequalityDirections and RHS = RHSBar,
// assigns row/variable names, and reinstalls the quadratic term if one
// was previously added (so AttachSolver can be called again after a
// backend is replaced without losing a projection's QP objective).
func (p *StageProblem) AttachSolver(backend solver.Backend) error {
	p.backend = backend

	if err := backend.NewModel(p.NVarsCurrent, p.CostCoefficients, p.LB, p.UB); err != nil {
		return errs.NewBackendFailure("new_model", "", err)
	}

	csr := p.CurrentBlock.ToCSR()
	if err := backend.AddRows(csr, p.InequalityDirections, p.RHSBar); err != nil {
		return errs.NewBackendFailure("add_rows", "", err)
	}

	if err := backend.SetNames(p.RowNames, p.VariableNames); err != nil {
		return errs.NewBackendFailure("set_names", "", err)
	}

	if p.quadGamma != 0 {
		if err := backend.AddDiagonalQuadratic(p.quadGamma); err != nil {
			return errs.NewBackendFailure("add_diagonal_quadratic", "", err)
		}
	}

	return nil
}

// pushShiftedBounds writes (lb-x_base, ub-x_base) to the backend for
// every variable with a finite bound, per spec.md §4.3.
func (p *StageProblem) pushShiftedBounds() error {
	for i := 0; i < p.NVarsCurrent; i++ {
		if !math.IsInf(p.LB[i], -1) {
			if err := p.backend.SetLowerBound(i, p.LB[i]-p.xBase[i]); err != nil {
				return errs.NewBackendFailure("set_lower_bound", "", err)
			}
		}
		if !math.IsInf(p.UB[i], 1) {
			if err := p.backend.SetUpperBound(i, p.UB[i]-p.xBase[i]); err != nil {
				return errs.NewBackendFailure("set_upper_bound", "", err)
			}
		}
	}
	return nil
}

// restoreOriginalBounds writes the template's own (lb, ub) back to the
// backend. Called by UnsetXBase, resolving the open question in
// spec.md §9 about whether bounds are restored when a shift is
// cleared: here they always are.
func (p *StageProblem) restoreOriginalBounds() error {
	for i := 0; i < p.NVarsCurrent; i++ {
		if !math.IsInf(p.LB[i], -1) {
			if err := p.backend.SetLowerBound(i, p.LB[i]); err != nil {
				return errs.NewBackendFailure("set_lower_bound", "", err)
			}
		}
		if !math.IsInf(p.UB[i], 1) {
			if err := p.backend.SetUpperBound(i, p.UB[i]); err != nil {
				return errs.NewBackendFailure("set_upper_bound", "", err)
			}
		}
	}
	return nil
}

// SetXBase enables the d = x - x_base change of variable: validates
// |x0| = NVarsCurrent, recomputes rhs_shift = CurrentBlock*x0 and
// cost_shift = cost.x0. It does not itself touch the backend — the
// shift only reaches the solver on the next ApplyScenarioRHS or
// ApplyRootStageRHS call, which push both the shifted RHS and the
// shifted bounds together.
func (p *StageProblem) SetXBase(x0 []float64) error {
	if len(x0) != p.NVarsCurrent {
		return fmt.Errorf("stageproblem: SetXBase: len(x0)=%d != %d: %w", len(x0), p.NVarsCurrent, errs.ErrShapeMismatch)
	}

	p.xBase = append([]float64(nil), x0...)
	p.shiftEnabled = true

	if err := p.CurrentBlock.MultiplyInto(p.xBase, p.rhsShift); err != nil {
		return err
	}

	p.costShift = 0
	for i, c := range p.CostCoefficients {
		p.costShift += c * p.xBase[i]
	}

	return nil
}

// UnsetXBase disables the shift, zeroes rhs_shift and cost_shift, and
// — if a solver is attached — restores the template's original bounds.
func (p *StageProblem) UnsetXBase() error {
	p.shiftEnabled = false
	for i := range p.rhsShift {
		p.rhsShift[i] = 0
	}
	p.costShift = 0

	if p.backend != nil {
		return p.restoreOriginalBounds()
	}
	return nil
}

// GetCostShift returns cost_shift if the shift is enabled, else 0.
func (p *StageProblem) GetCostShift() float64 {
	if p.shiftEnabled {
		return p.costShift
	}
	return 0
}

// ApplyScenarioRHS computes new_rhs = rhs_bar - transfer_block*z -
// rhs_shift (if shifted) + scenario deltas, and pushes it (plus, if
// shifted, the shifted bounds) to the backend.
func (p *StageProblem) ApplyScenarioRHS(z, omega []float64) error {
	if len(z) != p.NVarsLast {
		return fmt.Errorf("stageproblem: ApplyScenarioRHS: len(z)=%d != %d: %w", len(z), p.NVarsLast, errs.ErrShapeMismatch)
	}
	if len(omega) != p.StagePattern.RVCount {
		return fmt.Errorf("stageproblem: ApplyScenarioRHS: len(omega)=%d != rv_count=%d: %w", len(omega), p.StagePattern.RVCount, errs.ErrShapeMismatch)
	}

	newRHS := append([]float64(nil), p.RHSBar...)

	if p.TransferBlock.NNZ() > 0 {
		if err := p.TransferBlock.MultiplySubtractInto(z, newRHS); err != nil {
			return err
		}
	}

	if p.shiftEnabled {
		for i := range newRHS {
			newRHS[i] -= p.rhsShift[i]
		}
	}

	for i := 0; i < p.StagePattern.RVCount; i++ {
		row := p.StagePattern.RowIndex[i]
		col := p.StagePattern.ColIndex[i]
		delta := omega[i] - p.StagePattern.RefValue[i]
		if col == -1 {
			newRHS[row] += delta
		} else {
			newRHS[row] -= delta * z[col]
		}
	}

	if err := p.backend.SetRHS(newRHS); err != nil {
		return errs.NewBackendFailure("set_rhs", "", err)
	}

	if p.shiftEnabled {
		if err := p.pushShiftedBounds(); err != nil {
			return err
		}
	}

	return nil
}

// ApplyRootStageRHS computes new_rhs = rhs_bar - rhs_shift (if shifted,
// else just rhs_bar) and pushes it (plus, if shifted, the shifted
// bounds) to the backend. Used both for the root-stage problem's own
// solves and by the projection specialization.
func (p *StageProblem) ApplyRootStageRHS() error {
	newRHS := append([]float64(nil), p.RHSBar...)

	if p.shiftEnabled {
		for i := range newRHS {
			newRHS[i] -= p.rhsShift[i]
		}
	}

	if err := p.backend.SetRHS(newRHS); err != nil {
		return errs.NewBackendFailure("set_rhs", "", err)
	}

	if p.shiftEnabled {
		if err := p.pushShiftedBounds(); err != nil {
			return err
		}
	}

	return nil
}

// AddQuadraticTerm installs gamma*sum(d_i^2) on top of the linear
// objective (used only by the projection specialization). RemoveQuadraticTerm
// strips it back out.
func (p *StageProblem) AddQuadraticTerm(gamma float64) error {
	p.quadGamma = gamma
	if p.backend != nil {
		if err := p.backend.AddDiagonalQuadratic(gamma); err != nil {
			return errs.NewBackendFailure("add_diagonal_quadratic", "", err)
		}
	}
	return nil
}

// RemoveQuadraticTerm strips any installed quadratic term.
func (p *StageProblem) RemoveQuadraticTerm() error {
	p.quadGamma = 0
	if p.backend != nil {
		if err := p.backend.RemoveQuadratic(); err != nil {
			return errs.NewBackendFailure("remove_quadratic", "", err)
		}
	}
	return nil
}

// DualLayout describes where each block begins in the dual vector
// Solve returns: constraint-row duals first, then fixed-variable,
// lower-bound, and upper-bound reduced costs, in that order (matching
// cuthelper's expectations).
type DualLayout struct {
	FixedStart int
	LBStart    int
	UBStart    int
	Len        int
}

// Layout returns the dual-vector layout implied by NRows and the
// current bound classification.
func (p *StageProblem) Layout() DualLayout {
	fixedStart := p.NRows
	lbStart := fixedStart + len(p.FixedIdx)
	ubStart := lbStart + len(p.LBIdx)
	return DualLayout{FixedStart: fixedStart, LBStart: lbStart, UBStart: ubStart, Len: ubStart + len(p.UBIdx)}
}

// Solve invokes the backend and returns the stage's objective value
// (backend-reported linear/quadratic objective, plus cost_shift when
// shifted, so the caller always gets the cost of the original
// unshifted x rather than of d) and the primal solution in d-space (add
// x_base back to recover x). If requireDual, the dual vector is laid
// out as [row duals | fixed RC | lb RC | ub RC] per DualLayout/Layout,
// with a bound's reduced cost reported only when that variable sits at
// the corresponding bound (within utils.ApproxEqualTol), zero otherwise.
func (p *StageProblem) Solve(requireDual bool) (objValue float64, primal, dual []float64, err error) {
	if err := p.backend.Optimize(); err != nil {
		return 0, nil, nil, errs.NewBackendFailure("optimize", "", err)
	}

	objValue, err = p.backend.ObjectiveValue()
	if err != nil {
		return 0, nil, nil, errs.NewBackendFailure("get_objective", "", err)
	}
	objValue += p.GetCostShift()

	primal, err = p.backend.GetPrimal()
	if err != nil {
		return 0, nil, nil, errs.NewBackendFailure("get_primal", "", err)
	}

	if !requireDual {
		return objValue, primal, nil, nil
	}

	layout := p.Layout()
	dual = make([]float64, layout.Len)

	rowDual, err := p.backend.GetDualRows()
	if err != nil {
		return 0, nil, nil, errs.NewBackendFailure("get_dual_rows", "", err)
	}
	copy(dual[:p.NRows], rowDual)

	for k, idx := range p.FixedIdx {
		rc, err := p.backend.GetReducedCost(idx)
		if err != nil {
			return 0, nil, nil, errs.NewBackendFailure("get_reduced_cost", "", err)
		}
		dual[layout.FixedStart+k] = rc
	}

	for k, idx := range p.LBIdx {
		active, err := p.atLowerBound(idx)
		if err != nil {
			return 0, nil, nil, err
		}
		if active {
			rc, err := p.backend.GetReducedCost(idx)
			if err != nil {
				return 0, nil, nil, errs.NewBackendFailure("get_reduced_cost", "", err)
			}
			dual[layout.LBStart+k] = rc
		}
	}

	for k, idx := range p.UBIdx {
		active, err := p.atUpperBound(idx)
		if err != nil {
			return 0, nil, nil, err
		}
		if active {
			rc, err := p.backend.GetReducedCost(idx)
			if err != nil {
				return 0, nil, nil, errs.NewBackendFailure("get_reduced_cost", "", err)
			}
			dual[layout.UBStart+k] = rc
		}
	}

	return objValue, primal, dual, nil
}

func (p *StageProblem) atLowerBound(idx int) (bool, error) {
	x, err := p.backend.GetVariableValue(idx)
	if err != nil {
		return false, errs.NewBackendFailure("get_variable_value", "", err)
	}
	lb, err := p.backend.GetLowerBound(idx)
	if err != nil {
		return false, errs.NewBackendFailure("get_lower_bound", "", err)
	}
	return utils.ApproxEqual(x, lb), nil
}

func (p *StageProblem) atUpperBound(idx int) (bool, error) {
	x, err := p.backend.GetVariableValue(idx)
	if err != nil {
		return false, errs.NewBackendFailure("get_variable_value", "", err)
	}
	ub, err := p.backend.GetUpperBound(idx)
	if err != nil {
		return false, errs.NewBackendFailure("get_upper_bound", "", err)
	}
	return utils.ApproxEqual(x, ub), nil
}

// FromSMPS builds the StageProblem template for stage, given the
// already-parsed core/time files and the whole-instance stochastic
// pattern (built once via smps.BuildPattern and reused across stages by
// the caller, rather than rebuilt per stage). Stage 0's transfer block
// is NRows x 0 (NVarsLast == 0).
//
// Mirrors a from_smps-style construction: one pass over every core
// column to split it into last-stage and
// current-stage name/bound/cost arrays by its Time-derived stage, one
// pass over every core row to collect current-stage row names/RHS/
// sense, and one pass over the coefficient matrix's stored triplets to
// split into transfer and current blocks.
func FromSMPS(cor *smps.Core, tim *smps.Time, pattern *stochpattern.Pattern, stage int) (*StageProblem, error) {
	nVarsLast := 0
	if stage > 0 {
		nVarsLast = tim.NCols(stage-1, cor)
	}
	nVarsCurrent := tim.NCols(stage, cor)
	nRows := tim.NRows(stage, cor)

	lastStageVarNames := make([]string, nVarsLast)
	variableNames := make([]string, nVarsCurrent)
	lb := make([]float64, nVarsCurrent)
	ub := make([]float64, nVarsCurrent)
	cost := make([]float64, nVarsCurrent)

	for i := 0; i < cor.NumCols; i++ {
		name, err := cor.ColNames.Name(i)
		if err != nil {
			return nil, err
		}
		colStage, colIdx, err := tim.ColStage(name, cor)
		if err != nil {
			return nil, err
		}
		switch colStage {
		case stage - 1:
			lastStageVarNames[colIdx] = name
		case stage:
			variableNames[colIdx] = name
			lb[colIdx] = cor.LowerBounds[i]
			ub[colIdx] = cor.UpperBounds[i]
			cost[colIdx] = cor.ObjectiveCoefficients[i]
		}
	}

	rowNames := make([]string, nRows)
	rhsBar := make([]float64, nRows)
	inequalityDirections := make([]solver.Sense, nRows)

	for j := 0; j < cor.NumRows; j++ {
		name, err := cor.RowNames.Name(j)
		if err != nil {
			return nil, err
		}
		rowStage, rowIdx, err := tim.RowStage(name, cor)
		if err != nil {
			return nil, err
		}
		if rowStage == stage {
			rowNames[rowIdx] = name
			rhsBar[rowIdx] = cor.RHS[j]
			inequalityDirections[rowIdx] = cor.InequalityDirections[j]
		}
	}

	transferBlock := sparsemat.New[float64](nRows, nVarsLast)
	currentBlock := sparsemat.New[float64](nRows, nVarsCurrent)

	var splitErr error
	cor.Coefficients.Each(func(row, col int, val float64) {
		if splitErr != nil {
			return
		}
		rowName, err := cor.RowNames.Name(row)
		if err != nil {
			splitErr = err
			return
		}
		colName, err := cor.ColNames.Name(col)
		if err != nil {
			splitErr = err
			return
		}
		rowStage, rowIdx, err := tim.RowStage(rowName, cor)
		if err != nil {
			splitErr = err
			return
		}
		if rowStage != stage {
			return
		}
		colStage, colIdx, err := tim.ColStage(colName, cor)
		if err != nil {
			splitErr = err
			return
		}
		switch colStage {
		case stage - 1:
			transferBlock.Add(rowIdx, colIdx, val)
		case stage:
			currentBlock.Add(rowIdx, colIdx, val)
		}
	})
	if splitErr != nil {
		return nil, splitErr
	}

	stagePattern := pattern.FilterByStage(stage)

	return New(
		nVarsLast, nVarsCurrent, nRows,
		lastStageVarNames, variableNames, rowNames,
		transferBlock, currentBlock,
		lb, ub, rhsBar, inequalityDirections, cost,
		stagePattern,
	)
}
