package mip

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the outcome of a solve.
type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	StatusTimeLimit
	StatusInfeasible
	StatusNoIncumbent
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "OPTIMAL"
	case StatusTimeLimit:
		return "TIME_LIMIT_WITH_INCUMBENT"
	case StatusInfeasible:
		return "INFEASIBLE"
	case StatusNoIncumbent:
		return "NO_INCUMBENT"
	default:
		return "UNKNOWN"
	}
}

// HasSolution reports whether Values carries a feasible incumbent.
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusTimeLimit
}

// Result is what a Solver returns. Values is indexed by VarID and is nil
// unless Status.HasSolution().
type Result struct {
	Status    Status
	Objective float64
	Values    []float64
	Nodes     int
	Runtime   time.Duration
}

// Value returns the value of v, or 0 when there is no solution.
func (r *Result) Value(v VarID) float64 {
	if r == nil || int(v) >= len(r.Values) {
		return 0
	}
	return r.Values[v]
}

// Incumbent is reported through Options.OnIncumbent on every improvement.
type Incumbent struct {
	Objective float64
	Nodes     int
	Elapsed   time.Duration
}

// Options control a single solve.
type Options struct {
	// TimeLimit bounds wall-clock time. Zero means no limit beyond ctx.
	TimeLimit time.Duration

	// NonConvex must be set for programs with bilinear or power constraints.
	NonConvex bool

	// Start is a (possibly partial) warm start.
	Start map[VarID]float64

	// OnIncumbent, if set, is called synchronously on every improving solution.
	OnIncumbent func(Incumbent)
}

// Solver solves a Program. Implementations must not mutate the program.
type Solver interface {
	Name() string
	Solve(ctx context.Context, p *Program, opts Options) (*Result, error)
}

var (
	// ErrNonConvexDisabled is returned when a non-convex program is submitted without Options.NonConvex.
	ErrNonConvexDisabled = errors.New("mip: program is non-convex but non-convex mode is disabled")

	// ErrUnsupported is returned when a solver cannot handle a program's structure.
	ErrUnsupported = errors.New("mip: unsupported program structure")
)

// NewSolver returns the solver registered under name: "enum" (the default)
// or "gurobi", which runs gurobiBin.
func NewSolver(name, gurobiBin string) (Solver, error) {
	switch name {
	case "", "enum":
		return NewEnumerator(), nil
	case "gurobi":
		return NewGurobi(gurobiBin), nil
	}
	return nil, fmt.Errorf("unknown solver %q (want enum or gurobi)", name)
}
