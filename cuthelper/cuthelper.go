// Package cuthelper builds Benders-style affine lower bounds ("cuts")
// on the second-stage cost-to-go function from a second-stage dual
// vector (spec.md §4.5, component F), grounded on cut_helper.cpp/.h.
package cuthelper

import (
	"fmt"

	"github.com/twostage/twosd/errs"
	"github.com/twostage/twosd/stageproblem"
)

// Cut is an affine lower bound Q_hat(z) = Alpha + Beta.z on the
// previous-stage cost-to-go, immutable after construction.
type Cut struct {
	Alpha float64
	Beta  []float64
}

// StaticPart builds the template-only portion of the cut from a
// second-stage dual vector pi, laid out per prob.Layout() (row duals,
// then fixed/lb/ub reduced costs). It is independent of any
// particular scenario; call AddDynamicPart afterward to fold in a
// specific omega.
//
// Unlike the original C++ (which logs a one-time warning when the
// transfer block is empty and otherwise proceeds identically), an
// empty transfer block is not a notable condition here: a root-stage
// cut simply carries a zero-length Beta, and callers never build cuts
// off the root stage's own dual anyway.
func StaticPart(prob *stageproblem.StageProblem, pi []float64) (Cut, error) {
	layout := prob.Layout()
	if len(pi) != layout.Len {
		return Cut{}, fmt.Errorf("cuthelper: StaticPart: len(pi)=%d != layout.Len=%d: %w", len(pi), layout.Len, errs.ErrShapeMismatch)
	}

	alpha := 0.0
	for i := 0; i < prob.NRows; i++ {
		alpha += prob.RHSBar[i] * pi[i]
	}

	for k, idx := range prob.FixedIdx {
		alpha += prob.UB[idx] * pi[layout.FixedStart+k]
	}
	for k, idx := range prob.LBIdx {
		alpha += prob.LB[idx] * pi[layout.LBStart+k]
	}
	for k, idx := range prob.UBIdx {
		alpha += prob.UB[idx] * pi[layout.UBStart+k]
	}

	beta := make([]float64, prob.NVarsLast)
	if err := prob.TransferBlock.MultiplyTransposeInto(pi[:prob.NRows], beta); err != nil {
		return Cut{}, err
	}

	return Cut{Alpha: alpha, Beta: beta}, nil
}

// AddDynamicPart folds the scenario-dependent part of the cut into an
// existing Cut built by StaticPart: each random entry i with
// delta = omega[i] - reference[i] either adds to Alpha (RHS
// randomness, col_index == -1) or to Beta[col_index] (transfer-cell
// randomness).
func AddDynamicPart(prob *stageproblem.StageProblem, pi, omega []float64, cut *Cut) error {
	pattern := prob.StagePattern
	if len(omega) != pattern.RVCount {
		return fmt.Errorf("cuthelper: AddDynamicPart: len(omega)=%d != rv_count=%d: %w", len(omega), pattern.RVCount, errs.ErrShapeMismatch)
	}

	for i := 0; i < pattern.RVCount; i++ {
		row := pattern.RowIndex[i]
		col := pattern.ColIndex[i]
		delta := omega[i] - pattern.RefValue[i]
		if col == -1 {
			cut.Alpha += delta * pi[row]
		} else {
			cut.Beta[col] += delta * pi[row]
		}
	}
	return nil
}

// BuildCut is the common case: static part from (prob, pi) followed
// immediately by the dynamic part for a single scenario, returned as
// one finished Cut.
func BuildCut(prob *stageproblem.StageProblem, pi, omega []float64) (Cut, error) {
	cut, err := StaticPart(prob, pi)
	if err != nil {
		return Cut{}, err
	}
	if err := AddDynamicPart(prob, pi, omega, &cut); err != nil {
		return Cut{}, err
	}
	return cut, nil
}
