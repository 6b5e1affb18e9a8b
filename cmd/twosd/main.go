// Command twosd runs the two-stage stochastic decomposition driver
// (spec.md §4.9) against a problem's SMPS files.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/twostage/twosd/driver"
	"github.com/twostage/twosd/errs"
	"github.com/twostage/twosd/refsolver"
	"github.com/twostage/twosd/solver"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: twosd <base_path> <problem_name> <n_workers>")
		return 2
	}

	basePath, problemName := args[0], args[1]
	var nWorkers int
	if _, err := fmt.Sscanf(args[2], "%d", &nWorkers); err != nil || nWorkers < 1 {
		fmt.Fprintf(os.Stderr, "twosd: n_workers must be a positive integer, got %q\n", args[2])
		return 2
	}

	opts := driver.DefaultOptions()
	newBackend := func() solver.Backend { return refsolver.New() }

	d, err := driver.New(basePath, problemName, nWorkers, opts, newBackend)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode(err)
	}

	if _, err := d.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode(err)
	}

	return 0
}

func exitCode(err error) int {
	var backendFailure *errs.BackendFailure
	switch {
	case errors.Is(err, errs.ErrParse), errors.Is(err, errs.ErrUnsupportedRandomness):
		return 2
	case errors.As(err, &backendFailure):
		return 3
	case errors.Is(err, errs.ErrInfeasibleProjection):
		return 4
	default:
		return 1
	}
}
