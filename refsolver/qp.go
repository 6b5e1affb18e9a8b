package refsolver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/twostage/twosd/vectorcontainer"
)

// vertexCacheSize bounds the per-model warm-start ring buffer
// (vectorcontainer.NewUnique); 8 prior vertices is enough to catch the
// common case of driver iterations revisiting a nearby feasible
// region without growing unbounded over an iteration cap of 50+.
const vertexCacheSize = 8

// qpHessianFloor is the minimum curvature applied to every diagonal
// Hessian entry, including the slack columns buildAugmented appends
// for inequality rows (which otherwise carry no quadratic term at
// all) — keeps the KKT system below well-conditioned without
// measurably perturbing the gamma*sum(x_i^2) objective the caller
// actually asked for.
const qpHessianFloor = 1e-9

// solveQP is the Backend's Optimize path when a diagonal quadratic
// term (AddDiagonalQuadratic) is installed: min cost.x + gamma*sum(x_i^2)
// s.t. A x {>=,<=,=} rhs, lb <= x <= ub.
//
// Grounded structurally on shangy-gosl's LinIpm ("build a KKT-like
// system from the active constraints, solve it with the package's own
// linear-algebra primitives, iterate") but implemented as an
// active-set method rather than an interior-point one: the Hessian
// here is diagonal and the feasible region's active face changes in
// finitely many discrete steps, so a primal active-set walk converges
// exactly without the barrier parameter schedule an interior-point
// method needs.
//
// The solver works in the same augmented (original vars + per-row
// slack) space boundedSimplex uses, so inequality rows stay true
// equalities throughout — only the bound constraints on that extended
// variable set form the active set. The initial feasible vertex comes
// from running the same bounded simplex with a zero linear objective
// (phase-1 reuse): any vertex of the feasible polyhedron is a valid
// active-set start.
func (b *Backend) solveQP() error {
	aug := buildAugmented(b.nVars, b.csr.RowBegin, b.csr.ColIdx, b.csr.Val, b.sense, b.rhs, make([]float64, b.nVars), b.lb, b.ub)

	nAll := aug.n
	if b.vertices == nil {
		b.vertices = vectorcontainer.NewUnique(vertexCacheSize, nAll)
	}

	var x []float64
	if warm := findFeasibleVertex(b.vertices, aug); warm != nil {
		x = warm
	} else {
		vertex, _, err := boundedSimplex(aug, simplexTol)
		if err != nil {
			return fmt.Errorf("refsolver: solveQP: phase-1 vertex: %w", err)
		}
		x = append([]float64(nil), vertex...)
	}

	fullCost := make([]float64, nAll)
	copy(fullCost, b.cost)
	gamma := b.gamma

	activeLow := make([]bool, nAll)
	activeUp := make([]bool, nAll)
	for i := 0; i < nAll; i++ {
		if x[i] <= aug.lb[i]+simplexTol {
			activeLow[i] = true
			x[i] = aug.lb[i]
		} else if x[i] >= aug.ub[i]-simplexTol {
			activeUp[i] = true
			x[i] = aug.ub[i]
		}
	}

	maxIter := 100 + 20*nAll
	for iter := 0; iter < maxIter; iter++ {
		free := make([]int, 0, nAll)
		for i := 0; i < nAll; i++ {
			if !activeLow[i] && !activeUp[i] {
				free = append(free, i)
			}
		}

		step, rowLambda, err := kktStep(aug, fullCost, b.nVars, gamma, x, free)
		if err != nil {
			return fmt.Errorf("refsolver: solveQP: %w", err)
		}

		alpha := 1.0
		blockVar, blockToUpper := -1, false
		for _, i := range free {
			d := step[i]
			switch {
			case d > simplexTol:
				if t := (aug.ub[i] - x[i]) / d; t < alpha-1e-12 {
					alpha, blockVar, blockToUpper = t, i, true
				}
			case d < -simplexTol:
				if t := (aug.lb[i] - x[i]) / d; t < alpha-1e-12 {
					alpha, blockVar, blockToUpper = t, i, false
				}
			}
		}
		if alpha < 0 {
			alpha = 0
		}

		for _, i := range free {
			x[i] += alpha * step[i]
		}

		if blockVar != -1 && alpha < 1-1e-12 {
			if blockToUpper {
				activeUp[blockVar] = true
				x[blockVar] = aug.ub[blockVar]
			} else {
				activeLow[blockVar] = true
				x[blockVar] = aug.lb[blockVar]
			}
			continue
		}

		grad := make([]float64, nAll)
		for i := 0; i < nAll; i++ {
			grad[i] = fullCost[i] + 2*hessianDiag(i, b.nVars, gamma)*x[i]
		}
		aty := make([]float64, nAll)
		for r := 0; r < aug.m; r++ {
			lam := rowLambda[r]
			if lam == 0 {
				continue
			}
			for j := 0; j < nAll; j++ {
				aty[j] += aug.a.At(r, j) * lam
			}
		}

		released := false
		for i := 0; i < nAll; i++ {
			if !activeLow[i] && !activeUp[i] {
				continue
			}
			reduced := grad[i] + aty[i]
			if activeLow[i] && reduced < -simplexTol {
				activeLow[i] = false
				released = true
			} else if activeUp[i] && reduced > simplexTol {
				activeUp[i] = false
				released = true
			}
		}

		norm := 0.0
		for _, d := range step {
			norm += d * d
		}
		if !released && norm < simplexTol*simplexTol {
			break
		}
	}

	if _, _, err := b.vertices.Insert(x); err != nil {
		return fmt.Errorf("refsolver: solveQP: caching vertex: %w", err)
	}

	b.x = append([]float64(nil), x[:b.nVars]...)

	finalFree := make([]int, 0, nAll)
	for i := 0; i < nAll; i++ {
		if !activeLow[i] && !activeUp[i] {
			finalFree = append(finalFree, i)
		}
	}
	_, rowLambda, err := kktStep(aug, fullCost, b.nVars, gamma, x, finalFree)
	if err != nil {
		return fmt.Errorf("refsolver: solveQP: final duals: %w", err)
	}
	b.rowDual = rowLambda

	b.reducedCost = make([]float64, b.nVars)
	for i := 0; i < b.nVars; i++ {
		reduced := fullCost[i] + 2*hessianDiag(i, b.nVars, gamma)*x[i]
		for r := 0; r < aug.m; r++ {
			reduced -= aug.a.At(r, i) * rowLambda[r]
		}
		b.reducedCost[i] = reduced
	}

	obj := 0.0
	for i := 0; i < b.nVars; i++ {
		obj += b.cost[i]*x[i] + gamma*x[i]*x[i]
	}
	b.objective = obj
	return nil
}

// findFeasibleVertex scans the warm-start cache for a stored vertex
// still feasible under aug's current bounds and equality rows, or
// returns nil if none qualifies (the caller falls back to resolving
// phase-1 from scratch).
func findFeasibleVertex(vertices *vectorcontainer.UniqueContainer, aug augmented) []float64 {
	for i := 0; i < vertices.Size(); i++ {
		v := vertices.Get(i)
		if isFeasibleVertex(aug, v) {
			return v
		}
	}
	return nil
}

func isFeasibleVertex(aug augmented, v []float64) bool {
	if len(v) != aug.n {
		return false
	}
	for i, vi := range v {
		if vi < aug.lb[i]-simplexTol || vi > aug.ub[i]+simplexTol {
			return false
		}
	}
	for r := 0; r < aug.m; r++ {
		sum := 0.0
		for j := 0; j < aug.n; j++ {
			sum += aug.a.At(r, j) * v[j]
		}
		if math.Abs(sum-aug.b[r]) > 1e-6 {
			return false
		}
	}
	return true
}

// hessianDiag is the QP's quadratic-term curvature for column i: gamma
// on the caller's own nVars original columns, zero (before the
// solvability floor) on the slack columns buildAugmented appends.
func hessianDiag(i, nVars int, gamma float64) float64 {
	if i < nVars {
		return gamma
	}
	return 0
}

// kktStep solves for the Newton-like step on the free columns of a
// diagonal-Hessian QP restricted to the equality rows: minimize the
// quadratic over the free coordinates subject to A_free·step = 0 (the
// active, bound-pinned coordinates stay put, so the row residual the
// step must preserve is zero), via the KKT system
//
//	[ H_free     A_free^T ] [step  ]   [ -grad ]
//	[ A_free        0     ] [lambda] = [  0    ]
//
// where H_free is the diagonal of hessianDiag (floored at
// qpHessianFloor) restricted to the free columns.
func kktStep(aug augmented, cost []float64, nVars int, gamma float64, x []float64, free []int) (step []float64, rowLambda []float64, err error) {
	nAll := aug.n
	step = make([]float64, nAll)

	grad := make([]float64, nAll)
	for i := 0; i < nAll; i++ {
		grad[i] = cost[i] + 2*hessianDiag(i, nVars, gamma)*x[i]
	}

	nf := len(free)
	m := aug.m
	if nf == 0 {
		return step, make([]float64, m), nil
	}

	size := nf + m
	kkt := mat.NewDense(size, size, nil)
	rhs := mat.NewVecDense(size, nil)

	for k, i := range free {
		d := 2*hessianDiag(i, nVars, gamma) + qpHessianFloor
		kkt.Set(k, k, d)
		rhs.SetVec(k, -grad[i])
	}
	for r := 0; r < m; r++ {
		for k, i := range free {
			v := aug.a.At(r, i)
			kkt.Set(nf+r, k, v)
			kkt.Set(k, nf+r, v)
		}
	}

	var sol mat.VecDense
	if err := sol.SolveVec(kkt, rhs); err != nil {
		return nil, nil, fmt.Errorf("singular KKT system: %w", err)
	}

	for k, i := range free {
		step[i] = sol.AtVec(k)
	}
	rowLambda = make([]float64, m)
	for r := 0; r < m; r++ {
		rowLambda[r] = sol.AtVec(nf + r)
	}

	return step, rowLambda, nil
}
