package utils

import "math"

// ApproxEqualTol is the absolute tolerance used by ApproxEqual throughout
// the decomposition (feasibility checks, bound classification, dual
// active-bound detection). Fixed per spec.md §6.
const ApproxEqualTol = 1e-6

// ApproxEqual reports whether a and b differ by less than ApproxEqualTol
// in absolute value. It is not a relative comparison; callers working
// with very large magnitudes should scale first.
func ApproxEqual(a, b float64) bool {
	return math.Abs(a-b) < ApproxEqualTol
}
