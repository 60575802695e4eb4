package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/hahplan/internal/mip"
)

// SolveOptions control one end-to-end solve.
type SolveOptions struct {
	Build     BuildOptions
	TimeLimit time.Duration

	// WarmStart, if set, seeds the solver with a metaheuristic allocation.
	WarmStart *WarmStartOptions

	OnIncumbent func(mip.Incumbent)
}

// Solve builds the model for p, runs solver and extracts the solution.
//
// Errors: *ConfigurationError for malformed input, *InfeasibleModelError when
// no allocation can satisfy the constraints and *TimeoutNoIncumbentError when
// the time limit passed before any feasible point was found.
func Solve(ctx context.Context, p *Params, dist DistanceMatrix, solver mip.Solver, opts SolveOptions) (*Solution, error) {
	f, err := Build(p, dist, opts.Build)
	if err != nil {
		return nil, err
	}
	if h := len(p.Ineligible()); h > p.BedCapacity {
		return nil, &InfeasibleModelError{Reason: fmt.Sprintf("%d ineligible patients need beds, capacity is %d", h, p.BedCapacity)}
	}

	solveOpts := mip.Options{
		TimeLimit:   opts.TimeLimit,
		NonConvex:   true,
		OnIncumbent: opts.OnIncumbent,
	}
	if opts.WarmStart != nil {
		start, estimate, err := f.WarmStart(*opts.WarmStart)
		if err != nil {
			slog.Warn("Skipping warm start", "error", err)
		} else {
			solveOpts.Start = start
			slog.Info("Warm start ready", "estimated_cost", estimate)
		}
	}

	slog.Info("Solving",
		"scenario", p.Name,
		"solver", solver.Name(),
		"patients", len(p.Patients),
		"eligible", len(f.Eligible),
		"vars", f.Program.NumVars(),
		"constraints", len(f.Program.Constraints),
		"time_limit", opts.TimeLimit,
	)
	res, err := solver.Solve(ctx, f.Program, solveOpts)
	if err != nil {
		return nil, fmt.Errorf("solve %s with %s: %w", p.Name, solver.Name(), err)
	}

	switch res.Status {
	case mip.StatusOptimal, mip.StatusTimeLimit:
	case mip.StatusInfeasible:
		return nil, &InfeasibleModelError{Reason: "solver proved the constraints inconsistent"}
	case mip.StatusNoIncumbent:
		return nil, &TimeoutNoIncumbentError{TimeLimit: opts.TimeLimit}
	default:
		return nil, fmt.Errorf("solver %s returned status %s", solver.Name(), res.Status)
	}

	sol, err := Extract(f, res)
	if err != nil {
		return nil, err
	}
	slog.Info("Solve finished",
		"status", sol.Status.String(),
		"total_cost", sol.TotalCost,
		"home_patients", len(sol.HomePatients()),
		"nodes", res.Nodes,
		"runtime", res.Runtime,
	)
	return sol, nil
}
