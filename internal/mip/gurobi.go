package mip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Gurobi solves programs by running the gurobi_cl command line tool on an
// LP file in a scratch directory.
type Gurobi struct {
	// Binary is the gurobi_cl executable; empty means "gurobi_cl" on PATH.
	Binary string

	// WorkDir holds the scratch files. Empty means a fresh temp directory
	// that is removed after the solve.
	WorkDir string

	// Threads is passed through when positive.
	Threads int
}

// NewGurobi returns a Gurobi adapter using binary.
func NewGurobi(binary string) *Gurobi {
	return &Gurobi{Binary: binary}
}

func (g *Gurobi) Name() string { return "gurobi" }

// Solve writes the program, runs gurobi_cl and reads back the incumbent.
// Gurobi reports incumbents only in its log, so OnIncumbent is called once
// with the final objective.
func (g *Gurobi) Solve(ctx context.Context, p *Program, opts Options) (*Result, error) {
	if p.NonConvex() && !opts.NonConvex {
		return nil, ErrNonConvexDisabled
	}

	dir := g.WorkDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "hahplan-gurobi-")
		if err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	modelPath := filepath.Join(dir, "model.lp")
	solPath := filepath.Join(dir, "model.sol")
	if err := writeFile(modelPath, func(f *os.File) error { return WriteLP(f, p) }); err != nil {
		return nil, fmt.Errorf("write model: %w", err)
	}

	args := []string{"ResultFile=" + solPath}
	if opts.TimeLimit > 0 {
		args = append(args, "TimeLimit="+strconv.FormatFloat(opts.TimeLimit.Seconds(), 'f', -1, 64))
	}
	if opts.NonConvex {
		args = append(args, "NonConvex=2")
	}
	if g.Threads > 0 {
		args = append(args, "Threads="+strconv.Itoa(g.Threads))
	}
	if len(opts.Start) > 0 {
		startPath := filepath.Join(dir, "start.mst")
		if err := writeFile(startPath, func(f *os.File) error { return WriteStart(f, opts.Start) }); err != nil {
			return nil, fmt.Errorf("write start: %w", err)
		}
		args = append(args, "InputFile="+startPath)
	}
	args = append(args, modelPath)

	binary := g.Binary
	if binary == "" {
		binary = "gurobi_cl"
	}

	slog.Info("Running Gurobi", "binary", binary, "vars", len(p.Vars), "constraints", len(p.Constraints), "time_limit", opts.TimeLimit)

	if err := os.Remove(solPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale solution: %w", err)
	}

	started := time.Now()
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	elapsed := time.Since(started)

	var execErr *exec.Error
	if errors.As(runErr, &execErr) {
		return nil, fmt.Errorf("gurobi: %w", runErr)
	}

	status := parseGurobiLog(out.String())
	res := &Result{Status: status, Runtime: elapsed}

	values, solErr := readSolutionFile(solPath, len(p.Vars))
	switch {
	case solErr == nil && (status == StatusOptimal || status == StatusTimeLimit || status == StatusUnknown):
		if status == StatusUnknown {
			res.Status = StatusTimeLimit
		}
		res.Values = values
		res.Objective = p.Evaluate(values)
	case status == StatusTimeLimit || (status == StatusUnknown && ctx.Err() != nil):
		res.Status = StatusNoIncumbent
	case status == StatusInfeasible:
	default:
		if runErr != nil {
			return nil, fmt.Errorf("gurobi failed: %w: %s", runErr, lastLines(out.String(), 5))
		}
		return nil, fmt.Errorf("gurobi produced no solution: %s", lastLines(out.String(), 5))
	}

	if res.Status.HasSolution() && opts.OnIncumbent != nil {
		opts.OnIncumbent(Incumbent{Objective: res.Objective, Elapsed: elapsed})
	}
	slog.Info("Gurobi finished", "status", res.Status.String(), "objective", res.Objective, "runtime", elapsed)
	return res, nil
}

// parseGurobiLog maps the termination message of a gurobi_cl log to a Status.
func parseGurobiLog(log string) Status {
	switch {
	case strings.Contains(log, "Optimal solution found"):
		return StatusOptimal
	case strings.Contains(log, "Model is infeasible"),
		strings.Contains(log, "Infeasible model"):
		return StatusInfeasible
	case strings.Contains(log, "Time limit reached"):
		return StatusTimeLimit
	default:
		return StatusUnknown
	}
}

func readSolutionFile(path string, n int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSolution(f, n)
}

func writeFile(path string, fill func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
