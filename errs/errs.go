// SPDX-License-Identifier: MIT
// Package errs: sentinel error taxonomy shared across the twosd modules.
//
// Failures of the classes below are reported with these sentinels (wrapped
// with %w and call-site context via fmt.Errorf) rather than with
// package-local ones; some failures outside these classes (file open
// errors, argument checks, refsolver's own solve errors) are plain errors.
// Callers branch on failure class with errors.Is, never string matching.
//
// Error policy:
//   - ErrParse / ErrUnsupportedRandomness: parse-time rejection, aborts
//     startup before any solve begins.
//   - ErrShapeMismatch: programming error — mismatched vector/matrix sizes
//     that indicate a caller bug, not bad input data.
//   - BackendFailure: a typed error (not a bare sentinel) since callers
//     need the backend operation name and opaque error code to log it.
//   - ErrInfeasibleProjection: the first-stage feasible region is empty;
//     no first-stage point can be produced.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrParse indicates a malformed SMPS file. Always wrapped with file
	// and line context at the point of detection.
	ErrParse = errors.New("twosd: parse error")

	// ErrUnsupportedRandomness indicates a stochastic position that the
	// decomposition cannot model (randomness in cost, RHS-of-cost, or a
	// column more than one stage behind its row).
	ErrUnsupportedRandomness = errors.New("twosd: unsupported randomness")

	// ErrShapeMismatch indicates a caller passed a vector or matrix whose
	// dimensions do not match what the receiver expects.
	ErrShapeMismatch = errors.New("twosd: shape mismatch")

	// ErrInfeasibleProjection indicates the first-stage projection QP
	// found the feasible region empty.
	ErrInfeasibleProjection = errors.New("twosd: infeasible projection")
)

// BackendFailure wraps an opaque error surfaced by the LP/QP backend
// during a named operation (e.g. "optimize", "add_rows"). Unwrap exposes
// the underlying error to errors.Is/As; callers recover Op and Code with
//
//	var bf *errs.BackendFailure
//	errors.As(err, &bf)
type BackendFailure struct {
	Op   string // backend operation that failed, e.g. "optimize"
	Code string // backend-reported status/code, opaque to the core
	Err  error  // underlying error, if any
}

// Error implements the error interface.
func (b *BackendFailure) Error() string {
	if b.Err != nil {
		return fmt.Sprintf("twosd: backend failure during %s (code=%s): %v", b.Op, b.Code, b.Err)
	}
	return fmt.Sprintf("twosd: backend failure during %s (code=%s)", b.Op, b.Code)
}

// Unwrap exposes the underlying backend error for errors.Is/As chains.
func (b *BackendFailure) Unwrap() error {
	return b.Err
}

// NewBackendFailure constructs a BackendFailure for operation op.
func NewBackendFailure(op, code string, err error) *BackendFailure {
	return &BackendFailure{Op: op, Code: code, Err: err}
}
