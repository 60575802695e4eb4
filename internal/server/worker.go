package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cwbudde/hahplan/internal/distance"
	"github.com/cwbudde/hahplan/internal/metrics"
	"github.com/cwbudde/hahplan/internal/mip"
	"github.com/cwbudde/hahplan/internal/model"
	"github.com/cwbudde/hahplan/internal/scenario"
	"github.com/cwbudde/hahplan/internal/store"
)

// SolverFactory resolves the solver a job config names.
type SolverFactory func(name string) (mip.Solver, error)

// runJob generates the job's scenario, solves it and persists the record.
// If st is not nil the record is saved, and if st is also a store.Tracer
// every incumbent is appended to the record's trace.
func runJob(ctx context.Context, jm *JobManager, st store.Store, solvers SolverFactory, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	cfg := job.Config

	ctx, cancel, ok := jm.start(ctx, jobID)
	if !ok {
		slog.Info("Skipping job that is no longer pending", "job_id", jobID, "state", job.State)
		return context.Canceled
	}
	defer cancel()

	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	slog.Info("Starting job", "job_id", jobID, "scenario", cfg.Scenario.Name, "solver", cfg.Solver)

	routing, err := model.ParseRoutingMode(cfg.Routing)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	solver, err := solvers(cfg.Solver)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	inst, err := scenario.Generate(cfg.Scenario, rand.New(rand.NewSource(cfg.Scenario.Seed)))
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("generate scenario: %w", err))
		return err
	}
	dist, err := distance.BuildMatrix(ctx, distance.HaversineProvider{}, inst.Depots, inst.Patients)
	if ctx.Err() != nil {
		markJobCancelled(jm, jobID)
		return ctx.Err()
	}
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("build distance matrix: %w", err))
		return err
	}

	var trace *store.TraceWriter
	if tracer, ok := st.(store.Tracer); ok {
		trace, err = tracer.OpenTrace(jobID)
		if err != nil {
			slog.Warn("Incumbent trace disabled", "job_id", jobID, "error", err)
		} else {
			defer trace.Close()
		}
	}

	start := time.Now()
	opts := model.SolveOptions{
		Build:     model.BuildOptions{Routing: routing, RelaxSqrt: cfg.RelaxSqrt},
		TimeLimit: cfg.timeLimit(),
		OnIncumbent: func(inc mip.Incumbent) {
			onIncumbent(jm, trace, solver.Name(), jobID, inc)
		},
	}
	if cfg.WarmStart {
		opts.WarmStart = &model.WarmStartOptions{Seed: cfg.Scenario.Seed}
	}

	sol, err := model.Solve(ctx, inst.Params, dist, solver, opts)
	elapsed := time.Since(start)
	metrics.SolveDuration.WithLabelValues(solver.Name(), routing.String()).Observe(elapsed.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			metrics.SolveOutcomes.WithLabelValues(solver.Name(), "CANCELLED").Inc()
			markJobCancelled(jm, jobID)
			return ctx.Err()
		}
		metrics.SolveOutcomes.WithLabelValues(solver.Name(), outcomeOf(err)).Inc()
		markJobFailed(jm, jobID, err)
		return err
	}

	// A cancelled solve may still carry an incumbent; keep it.
	cancelled := ctx.Err() != nil
	if cancelled {
		metrics.SolveOutcomes.WithLabelValues(solver.Name(), "CANCELLED").Inc()
	} else {
		metrics.SolveOutcomes.WithLabelValues(solver.Name(), sol.Status.String()).Inc()
	}

	if st != nil {
		record := model.NewRecord(jobID, inst.Params, sol, store.SolveConfig{
			Solver:           solver.Name(),
			Routing:          routing.String(),
			RelaxSqrt:        cfg.RelaxSqrt,
			TimeLimitSeconds: cfg.TimeLimitSeconds,
			WarmStart:        cfg.WarmStart,
			Seed:             cfg.Scenario.Seed,
		})
		if err := st.SaveRecord(record); err != nil {
			markJobFailed(jm, jobID, fmt.Errorf("save solution: %w", err))
			return err
		}
	}

	finalState := StateCompleted
	if cancelled {
		finalState = StateCancelled
	}
	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = finalState
		j.Status = sol.Status.String()
		j.BestCost = sol.TotalCost
		j.Nodes = sol.Nodes
		j.HomePatients = sol.HomePatients()
		j.Costs = sol.Costs
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Job finished",
		"job_id", jobID,
		"state", finalState,
		"elapsed", elapsed,
		"status", sol.Status.String(),
		"total_cost", sol.TotalCost,
	)

	final, _ := jm.GetJob(jobID)
	jm.broadcaster.Broadcast(eventFor(final, elapsed))
	if cancelled {
		return ctx.Err()
	}
	return nil
}

// onIncumbent records an improving solution: job state, trace line, SSE event.
func onIncumbent(jm *JobManager, trace *store.TraceWriter, solverName, jobID string, inc mip.Incumbent) {
	metrics.Incumbents.WithLabelValues(solverName).Inc()

	var seq int
	jm.UpdateJob(jobID, func(j *Job) {
		j.Incumbents++
		j.BestCost = inc.Objective
		j.Nodes = inc.Nodes
		seq = j.Incumbents
	})

	if trace != nil {
		err := trace.Write(store.TraceEntry{
			Sequence:       seq,
			Objective:      inc.Objective,
			Nodes:          inc.Nodes,
			ElapsedSeconds: inc.Elapsed.Seconds(),
			Timestamp:      time.Now(),
		})
		if err != nil {
			slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
		}
	}

	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(eventFor(job, inc.Elapsed))
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, model.ErrInfeasible):
		return mip.StatusInfeasible.String()
	case errors.Is(err, model.ErrTimeoutNoIncumbent):
		return mip.StatusNoIncumbent.String()
	default:
		return "ERROR"
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(eventFor(job, endTime.Sub(job.StartTime)))
	}
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(eventFor(job, endTime.Sub(job.StartTime)))
	}
}
