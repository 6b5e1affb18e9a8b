package refsolver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/twostage/twosd/solver"
)

const simplexTol = 1e-8

// nonbasicStatus records which bound a nonbasic variable currently
// rests at.
type nonbasicStatus int

const (
	atLower nonbasicStatus = iota
	atUpper
)

// augmented is the equality-with-slacks system the bounded simplex
// operates on: A x = b with slack columns appended so every row
// (G/L/E) becomes an equality, grounded on the standard-form
// conversion in thinkeridea-optimize's lp.Convert — generalized here
// to keep original (possibly two-sided, possibly infinite) variable
// bounds instead of splitting every variable into nonnegative parts.
type augmented struct {
	m, n int // m rows, n = nVars + nSlack columns
	a    *mat.Dense
	b    []float64
	cost []float64
	lb   []float64
	ub   []float64
}

// buildAugmented converts the Backend's current (csr, sense, rhs,
// lb, ub) into equality-with-slack form. Slack j for row i has
// coefficient -1 (G: A x - s = rhs, s >= 0) or +1 (L: A x + s = rhs,
// s >= 0); E rows get no slack column.
func buildAugmented(nVars int, csr_rowBegin, csr_colIdx []int, csr_val []float64, sense []solver.Sense, rhs, cost, lb, ub []float64) augmented {
	m := len(rhs)
	nSlack := 0
	for _, s := range sense {
		if s != solver.SenseEqual {
			nSlack++
		}
	}
	n := nVars + nSlack

	clb, cub := clampFree(lb, ub)

	a := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for p := csr_rowBegin[i]; p < csr_rowBegin[i+1]; p++ {
			a.Set(i, csr_colIdx[p], a.At(i, csr_colIdx[p])+csr_val[p])
		}
	}

	fullLB := make([]float64, n)
	fullUB := make([]float64, n)
	fullCost := make([]float64, n)
	copy(fullLB, clb)
	copy(fullUB, cub)
	copy(fullCost, cost)

	slackCol := nVars
	for i, s := range sense {
		switch s {
		case solver.SenseGreaterEqual:
			a.Set(i, slackCol, -1)
			fullLB[slackCol], fullUB[slackCol] = 0, math.Inf(1)
			slackCol++
		case solver.SenseLessEqual:
			a.Set(i, slackCol, 1)
			fullLB[slackCol], fullUB[slackCol] = 0, math.Inf(1)
			slackCol++
		}
	}

	return augmented{m: m, n: n, a: a, b: append([]float64(nil), rhs...), cost: fullCost, lb: fullLB, ub: fullUB}
}

// boundedSimplex solves min cost.x s.t. a.x = b, lb <= x <= ub via a
// bounded-variable Big-M primal simplex: every row gets an artificial
// column seeded to exactly satisfy that row given the other variables'
// starting nonbasic values, with a per-problem Big-M cost driving
// artificials to zero. Returns the solution restricted to the first
// aug.n columns (the caller's own variables, without the internal
// artificials) plus the row duals implied by the final basis.
func boundedSimplex(aug augmented, tol float64) (x, rowDual []float64, err error) {
	m, n := aug.m, aug.n
	nTotal := n + m

	bigM := 1.0
	for _, c := range aug.cost {
		bigM += math.Abs(c)
	}
	bigM *= 1000

	extA := mat.NewDense(m, nTotal, nil)
	extA.Slice(0, m, 0, n).(*mat.Dense).Copy(aug.a)
	extCost := make([]float64, nTotal)
	copy(extCost, aug.cost)
	extLB := make([]float64, nTotal)
	extUB := make([]float64, nTotal)
	copy(extLB, aug.lb)
	copy(extUB, aug.ub)

	status := make([]nonbasicStatus, n)
	x0 := make([]float64, n)
	for j := 0; j < n; j++ {
		if !math.IsInf(aug.lb[j], -1) {
			status[j] = atLower
			x0[j] = aug.lb[j]
		} else {
			status[j] = atUpper
			x0[j] = aug.ub[j]
		}
	}

	residual := make([]float64, m)
	for i := 0; i < m; i++ {
		v := 0.0
		for j := 0; j < n; j++ {
			v += aug.a.At(i, j) * x0[j]
		}
		residual[i] = v
	}

	basis := make([]int, m)
	xB := make([]float64, m)
	for i := 0; i < m; i++ {
		artCol := n + i
		need := aug.b[i] - residual[i]
		sign := 1.0
		if need < 0 {
			sign = -1.0
		}
		extA.Set(i, artCol, sign)
		extCost[artCol] = bigM
		extLB[artCol], extUB[artCol] = 0, math.Inf(1)
		basis[i] = artCol
		xB[i] = math.Abs(need)
	}

	inBasis := make([]bool, nTotal)
	for _, bcol := range basis {
		inBasis[bcol] = true
	}

	maxIter := 200 + 20*nTotal
	for iter := 0; iter < maxIter; iter++ {
		basisMat := mat.NewDense(m, m, nil)
		for k, col := range basis {
			for i := 0; i < m; i++ {
				basisMat.Set(i, k, extA.At(i, col))
			}
		}

		cB := mat.NewVecDense(m, nil)
		for k, col := range basis {
			cB.SetVec(k, extCost[col])
		}

		var y mat.VecDense
		if err := y.SolveVec(basisMat.T(), cB); err != nil {
			return nil, nil, fmt.Errorf("refsolver: simplex: singular basis: %w", err)
		}

		enter, enterStatus, bestReduced := -1, atLower, -tol
		for j := 0; j < nTotal; j++ {
			if inBasis[j] {
				continue
			}
			aj := mat.NewVecDense(m, nil)
			for i := 0; i < m; i++ {
				aj.SetVec(i, extA.At(i, j))
			}
			reduced := extCost[j] - mat.Dot(&y, aj)

			var st nonbasicStatus
			if j < n {
				st = status[j]
			} else {
				st = atLower // artificials always rest at their lower bound (0) once nonbasic
			}

			switch st {
			case atLower:
				if reduced < bestReduced {
					enter, enterStatus, bestReduced = j, atLower, reduced
				}
			case atUpper:
				if -reduced < bestReduced {
					enter, enterStatus, bestReduced = j, atUpper, -reduced
				}
			}
		}

		if enter == -1 {
			break // optimal
		}

		delta := 1.0
		if enterStatus == atUpper {
			delta = -1.0
		}

		aq := mat.NewVecDense(m, nil)
		for i := 0; i < m; i++ {
			aq.SetVec(i, extA.At(i, enter))
		}
		var alpha mat.VecDense
		if err := alpha.SolveVec(basisMat, aq); err != nil {
			return nil, nil, fmt.Errorf("refsolver: simplex: singular basis: %w", err)
		}

		tMax := math.Inf(1)
		widthQ := extUB[enter] - extLB[enter]
		if !math.IsInf(widthQ, 1) {
			tMax = widthQ
		}
		leaveRow := -1
		leaveToUpper := false
		for i := 0; i < m; i++ {
			rate := -delta * alpha.AtVec(i)
			bcol := basis[i]
			switch {
			case rate < -tol:
				t := (xB[i] - extLB[bcol]) / -rate
				if t < tMax-tol {
					tMax, leaveRow, leaveToUpper = t, i, false
				}
			case rate > tol:
				if math.IsInf(extUB[bcol], 1) {
					continue
				}
				t := (extUB[bcol] - xB[i]) / rate
				if t < tMax-tol {
					tMax, leaveRow, leaveToUpper = t, i, true
				}
			}
		}

		if math.IsInf(tMax, 1) {
			return nil, nil, fmt.Errorf("refsolver: simplex: problem is unbounded")
		}
		if tMax < 0 {
			tMax = 0
		}

		for i := 0; i < m; i++ {
			xB[i] -= delta * tMax * alpha.AtVec(i)
		}

		if leaveRow == -1 {
			// Bound flip: the entering variable reached its other bound
			// without any basic variable becoming binding.
			if enterStatus == atLower {
				status[enter] = atUpper
			} else {
				status[enter] = atLower
			}
			continue
		}

		leaving := basis[leaveRow]
		basis[leaveRow] = enter
		inBasis[enter] = true
		inBasis[leaving] = false
		if leaving < n {
			if leaveToUpper {
				status[leaving] = atUpper
			} else {
				status[leaving] = atLower
			}
		}
	}

	for i, bcol := range basis {
		if bcol >= n && xB[i] > 1e-6 {
			return nil, nil, fmt.Errorf("refsolver: simplex: problem is infeasible")
		}
	}

	full := make([]float64, nTotal)
	for j := 0; j < n; j++ {
		if !inBasis[j] {
			if status[j] == atLower {
				full[j] = aug.lb[j]
			} else {
				full[j] = aug.ub[j]
			}
		}
	}
	for i, bcol := range basis {
		full[bcol] = xB[i]
	}

	basisMat := mat.NewDense(m, m, nil)
	for k, col := range basis {
		for i := 0; i < m; i++ {
			basisMat.Set(i, k, extA.At(i, col))
		}
	}
	cB := mat.NewVecDense(m, nil)
	for k, col := range basis {
		cB.SetVec(k, extCost[col])
	}
	var y mat.VecDense
	if err := y.SolveVec(basisMat.T(), cB); err != nil {
		return nil, nil, fmt.Errorf("refsolver: simplex: singular basis at termination: %w", err)
	}
	rowDual = make([]float64, m)
	for i := 0; i < m; i++ {
		rowDual[i] = y.AtVec(i)
	}

	return full[:n], rowDual, nil
}

// solveLP is the Backend's Optimize path when no quadratic term is
// installed.
func (b *Backend) solveLP() error {
	aug := buildAugmented(b.nVars, b.csr.RowBegin, b.csr.ColIdx, b.csr.Val, b.sense, b.rhs, b.cost, b.lb, b.ub)
	full, rowDual, err := boundedSimplex(aug, simplexTol)
	if err != nil {
		return err
	}

	b.x = full[:b.nVars]
	b.rowDual = rowDual
	b.reducedCost = make([]float64, b.nVars)
	for j := 0; j < b.nVars; j++ {
		acc := 0.0
		for i := 0; i < aug.m; i++ {
			acc += aug.a.At(i, j) * rowDual[i]
		}
		b.reducedCost[j] = b.cost[j] - acc
	}

	obj := 0.0
	for j, c := range b.cost {
		obj += c * b.x[j]
	}
	b.objective = obj
	return nil
}
