// Package scsdir implements the SCS search-direction accumulator
// (spec.md §4.7, component G): a sequential convex combination of
// subgradients with a provably non-increasing squared norm, grounded
// on scs.cpp/scs.h.
package scsdir

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/twostage/twosd/errs"
)

// Default acceptance-test constants (m1, m2 in spec.md §4.7); callers
// may override via WithConstants.
const (
	DefaultM1 = 0.4
	DefaultM2 = 0.2
)

// State is the SCS accumulator: a two-state machine (uninitialized,
// running) with one transition, triggered by the first Update.
type State struct {
	initialized  bool
	direction    []float64
	normSquared  float64
	m1, m2       float64
}

// New returns an uninitialized accumulator using the default m1/m2.
func New() *State {
	return &State{m1: DefaultM1, m2: DefaultM2}
}

// WithConstants returns an uninitialized accumulator with caller-chosen
// acceptance-test constants.
func WithConstants(m1, m2 float64) *State {
	return &State{m1: m1, m2: m2}
}

// Initialized reports whether Update has been called at least once.
func (s *State) Initialized() bool {
	return s.initialized
}

// Direction returns the current accumulated direction. Calling it
// before the first Update returns a nil slice.
func (s *State) Direction() []float64 {
	return s.direction
}

// NormSquared returns the squared norm of the current direction.
func (s *State) NormSquared() float64 {
	return s.normSquared
}

// Update folds a new subgradient g into the accumulated direction. On
// the first call, d is seeded to g directly. On subsequent calls, d is
// replaced by the optimal convex combination lambda*d + (1-lambda)*g,
// where lambda minimizes ||lambda*d + (1-lambda)*g||^2 subject to
// lambda in [0,1] — this is exactly what guarantees (P7) the new
// squared norm never exceeds the old one.
func (s *State) Update(g []float64) error {
	if s.initialized && len(g) != len(s.direction) {
		return fmt.Errorf("scsdir: Update: len(g)=%d != direction dimension %d: %w", len(g), len(s.direction), errs.ErrShapeMismatch)
	}

	if !s.initialized {
		s.direction = append([]float64(nil), g...)
		s.initialized = true
	} else {
		dg := floats.Dot(g, s.direction)
		gg := floats.Dot(g, g)
		lambda := optimalLambda(dg, gg, s.normSquared)
		for i := range s.direction {
			s.direction[i] = lambda*s.direction[i] + (1-lambda)*g[i]
		}
	}

	s.normSquared = floats.Dot(s.direction, s.direction)
	return nil
}

// optimalLambda computes the minimizer of ||lambda*d + (1-lambda)*g||^2
// over lambda in [0,1], given dg = g.d, gg = g.g, dd = d.d.
func optimalLambda(dg, gg, dd float64) float64 {
	a := -dg + gg
	b := dd - 2*dg + gg
	if b == 0 {
		return 1.0
	}
	lambda := a / b
	if lambda < 0 {
		return 0
	}
	if lambda > 1 {
		return 1
	}
	return lambda
}

// SatisfiesL reports the sufficient-decrease (Lewis-Overton "L")
// condition: f_forward <= f_current - m1*t*||d||^2.
func (s *State) SatisfiesL(fForward, fCurrent, t float64) bool {
	return fForward <= fCurrent-s.m1*t*s.normSquared
}

// SatisfiesR reports the curvature ("R") condition:
// gradForward.d >= -m2*||d||^2.
func (s *State) SatisfiesR(gradForward []float64) bool {
	dg := floats.Dot(gradForward, s.direction)
	return dg >= -s.m2*s.normSquared
}
