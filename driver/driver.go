// Package driver implements the top-level two-stage decomposition loop
// (spec.md §4.8, component H): feasibility repair, a parallel
// per-scenario subproblem sweep, SCS-direction accumulation, and a
// bisection line search, iterated to a fixed cap.
package driver

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/twostage/twosd/cuthelper"
	"github.com/twostage/twosd/errs"
	"github.com/twostage/twosd/projection"
	"github.com/twostage/twosd/scsdir"
	"github.com/twostage/twosd/smps"
	"github.com/twostage/twosd/solver"
	"github.com/twostage/twosd/stageproblem"
)

// Options are the driver's tunable knobs (spec.md §4.8/§9): iteration
// cap, line-search ceiling T_max, SCS acceptance constants m1/m2, and
// the sample-pool generation parameters. Field defaults come from
// DefaultOptions; Apply folds With* functional options (one per knob:
// iteration cap, T_max, m1/m2, sample-pool size, seed) over those
// defaults. The worker count is not an option: it is New's nWorkers
// argument.
type Options struct {
	IterationCap   int
	TMax           float64
	M1, M2         float64
	SamplePoolSize int
	Seed           int64
}

// DefaultOptions returns the algorithm's default knob values.
func DefaultOptions() Options {
	return Options{
		IterationCap:   50,
		TMax:           10,
		M1:             scsdir.DefaultM1,
		M2:             scsdir.DefaultM2,
		SamplePoolSize: 50,
		Seed:           1,
	}
}

// Option mutates an Options value; With* constructors compose with
// DefaultOptions() using the usual functional-options pattern.
type Option func(*Options)

func WithIterationCap(n int) Option       { return func(o *Options) { o.IterationCap = n } }
func WithTMax(t float64) Option           { return func(o *Options) { o.TMax = t } }
func WithConstants(m1, m2 float64) Option { return func(o *Options) { o.M1, o.M2 = m1, m2 } }
func WithSamplePoolSize(n int) Option     { return func(o *Options) { o.SamplePoolSize = n } }
func WithSeed(seed int64) Option          { return func(o *Options) { o.Seed = seed } }

// Apply folds a list of Options over DefaultOptions().
func Apply(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TwoStageDriver owns the root-stage template, the projection
// subproblem, one second-stage StageProblem+backend per worker, and
// the immutable sample pool — everything component H needs to run its
// iteration loop (spec.md §5: each worker's StageProblem and backend
// are exclusively owned, never shared, so the sweep in evaluate needs
// no synchronization beyond the errgroup barrier).
type TwoStageDriver struct {
	rootTemplate *stageproblem.StageProblem
	projection   *projection.Problem
	workers      []*stageproblem.StageProblem

	samplePool [][]float64

	scs    *scsdir.State
	opts   Options
	logger *log.Logger
}

// New parses the three SMPS files for problemName under basePath
// (<basePath>/<problemName>/<problemName>.{cor,tim,sto}), builds the
// root and second-stage templates, attaches nWorkers independent
// backend instances (via newBackend, so the driver stays solver-
// agnostic per spec.md §9), pre-generates the sample pool, and returns
// a ready-to-run TwoStageDriver.
func New(basePath, problemName string, nWorkers int, opts Options, newBackend func() solver.Backend) (*TwoStageDriver, error) {
	if nWorkers < 1 {
		return nil, fmt.Errorf("driver: New: nWorkers must be >= 1, got %d", nWorkers)
	}

	dir := fmt.Sprintf("%s/%s", basePath, problemName)
	corPath := fmt.Sprintf("%s/%s.cor", dir, problemName)
	timPath := fmt.Sprintf("%s/%s.tim", dir, problemName)
	stoPath := fmt.Sprintf("%s/%s.sto", dir, problemName)

	cor, err := smps.ParseCore(corPath)
	if err != nil {
		return nil, err
	}
	tim, err := smps.ParseTime(timPath, cor)
	if err != nil {
		return nil, err
	}
	if n := tim.NumStages(); n > 2 {
		return nil, fmt.Errorf("driver: New: %s: %d stages, only two-stage instances are supported: %w", timPath, n, errs.ErrUnsupportedRandomness)
	}
	sto, err := smps.ParseStoch(stoPath)
	if err != nil {
		return nil, err
	}
	pattern, err := smps.BuildPattern(cor, tim, sto)
	if err != nil {
		return nil, err
	}

	root, err := stageproblem.FromSMPS(cor, tim, pattern, 0)
	if err != nil {
		return nil, err
	}
	secondTemplate, err := stageproblem.FromSMPS(cor, tim, pattern, 1)
	if err != nil {
		return nil, err
	}

	proj := projection.New(root.Copy())
	if err := proj.AttachSolver(newBackend()); err != nil {
		return nil, err
	}

	workers := make([]*stageproblem.StageProblem, nWorkers)
	for w := 0; w < nWorkers; w++ {
		workers[w] = secondTemplate.Copy()
		if err := workers[w].AttachSolver(newBackend()); err != nil {
			return nil, err
		}
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	pool := make([][]float64, opts.SamplePoolSize)
	for i := range pool {
		pool[i] = smps.GenerateSample(sto, rng)
	}

	return &TwoStageDriver{
		rootTemplate: root,
		projection:   proj,
		workers:      workers,
		samplePool:   pool,
		scs:          scsdir.WithConstants(opts.M1, opts.M2),
		opts:         opts,
		logger:       log.New(os.Stderr, "", log.LstdFlags),
	}, nil
}

// NewFromComponents builds a TwoStageDriver directly from already-built
// templates and an already-attached projection, bypassing SMPS
// parsing — used by tests and by callers who construct their
// StageProblem templates some other way (e.g. in-memory fixtures).
// workers must already have a backend attached; proj must already have
// a backend attached.
func NewFromComponents(root *stageproblem.StageProblem, proj *projection.Problem, workers []*stageproblem.StageProblem, samplePool [][]float64, opts Options) *TwoStageDriver {
	return &TwoStageDriver{
		rootTemplate: root,
		projection:   proj,
		workers:      workers,
		samplePool:   samplePool,
		scs:          scsdir.WithConstants(opts.M1, opts.M2),
		opts:         opts,
		logger:       log.New(os.Stderr, "", log.LstdFlags),
	}
}

// sweepResult is one scenario's contribution to the aggregate
// objective/subgradient, written by its assigned worker into a
// pre-sized slice at its own sample index — the canonical
// index-ascending reduction order spec.md §5 requires never emerges
// from a shared accumulator mutated concurrently.
type sweepResult struct {
	obj  float64
	cut  cuthelper.Cut
	fail error
}

// evaluate runs the parallel subproblem sweep at point x: partitions
// the sample pool contiguously across the driver's workers, has each
// worker apply_scenario_rhs/solve/build_cut sequentially over its
// partition using its own StageProblem and backend, then reduces the
// results index-ascending into (objective, subgradient).
func (d *TwoStageDriver) evaluate(ctx context.Context, x []float64) (objective float64, subgradient []float64, err error) {
	n := len(d.samplePool)
	results := make([]sweepResult, n)

	nWorkers := len(d.workers)
	chunk := (n + nWorkers - 1) / nWorkers

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < nWorkers; w++ {
		w := w
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			prob := d.workers[w]
			for i := lo; i < hi; i++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}

				scenario := d.samplePool[i]
				omega := make([]float64, prob.StagePattern.RVCount)
				for k, pos := range prob.StagePattern.IndicesInScenario {
					omega[k] = scenario[pos]
				}

				if err := prob.ApplyScenarioRHS(x, omega); err != nil {
					results[i] = sweepResult{fail: err}
					return err
				}
				obj, _, dual, err := prob.Solve(true)
				if err != nil {
					results[i] = sweepResult{fail: err}
					return err
				}
				cut, err := cuthelper.BuildCut(prob, dual, omega)
				if err != nil {
					results[i] = sweepResult{fail: err}
					return err
				}
				results[i] = sweepResult{obj: obj, cut: cut}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	nvarsLast := d.rootTemplate.NVarsCurrent
	objs := make([]float64, n)
	avgBeta := make([]float64, nvarsLast)
	for i := 0; i < n; i++ {
		objs[i] = results[i].obj
		floats.AddScaled(avgBeta, 1, results[i].cut.Beta)
	}
	avgObj := floats.Sum(objs) / float64(n)
	floats.Scale(1/float64(n), avgBeta)

	objective = avgObj + floats.Dot(d.rootTemplate.CostCoefficients, x)

	subgradient = append([]float64(nil), d.rootTemplate.CostCoefficients...)
	floats.Sub(subgradient, avgBeta)

	return objective, subgradient, nil
}

// Run executes the decomposition loop to the iteration cap, returning
// the final first-stage point.
func (d *TwoStageDriver) Run(ctx context.Context) ([]float64, error) {
	x := make([]float64, d.rootTemplate.NVarsCurrent)

	for iter := 0; iter < d.opts.IterationCap; iter++ {
		result, err := d.projection.Project(x)
		if err != nil {
			return nil, err
		}
		if !result.Empty {
			for i, delta := range result.Delta {
				x[i] += delta
			}
		}

		fx, gx, err := d.evaluate(ctx, x)
		if err != nil {
			return nil, err
		}

		if err := d.scs.Update(gx); err != nil {
			return nil, err
		}
		direction := d.scs.Direction()

		t, err := d.lineSearch(ctx, x, fx, direction)
		if err != nil {
			return nil, err
		}

		for i, di := range direction {
			x[i] -= t * di
		}

		d.logger.Printf("iter=%d obj=%.6f step=%.4f", iter, fx, t)
	}

	return x, nil
}

// lineSearch performs the bisection search of spec.md §4.8 step (5)
// over t in [0, T_max]: at each trial midpoint, infeasible forward
// points shrink the right endpoint; feasible points that fail the SCS
// L condition also shrink the right endpoint; points that pass L but
// fail R grow the left endpoint; otherwise the midpoint is accepted.
func (d *TwoStageDriver) lineSearch(ctx context.Context, x []float64, fCurrent float64, direction []float64) (float64, error) {
	left, right := 0.0, d.opts.TMax
	accepted := 0.0

	const maxBisectionIter = 40
	for iter := 0; iter < maxBisectionIter; iter++ {
		mid := (left + right) / 2

		xForward := make([]float64, len(x))
		for i := range x {
			xForward[i] = x[i] - mid*direction[i]
		}

		feasible, err := d.projection.IsFeasible(xForward)
		if err != nil {
			return 0, err
		}
		if !feasible {
			right = mid
			continue
		}

		fForward, gForward, err := d.evaluate(ctx, xForward)
		if err != nil {
			return 0, err
		}

		if !d.scs.SatisfiesL(fForward, fCurrent, mid) {
			right = mid
			continue
		}
		if !d.scs.SatisfiesR(gForward) {
			left = mid
			continue
		}

		accepted = mid
		break
	}

	return accepted, nil
}
