package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/hahplan/internal/distance"
	"github.com/cwbudde/hahplan/internal/mip"
	"github.com/cwbudde/hahplan/internal/model"
	"github.com/cwbudde/hahplan/internal/scenario"
	"github.com/cwbudde/hahplan/internal/store"
)

var (
	configPath    string
	instancePath  string
	matrixPath    string
	seed          int64
	timeLimit     time.Duration
	routingMode   string
	relaxSqrt     bool
	bigM          float64
	looseLink     bool
	solverName    string
	gurobiBin     string
	maxNodes      int
	warmStart     bool
	warmIters     int
	retryTimeouts int
	dataDir       string
	noSave        bool
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Build and solve the planning model",
	Long: `Builds the allocation, inventory and routing model for a scenario and
solves it. The scenario comes from --instance (written by "generate") or is
generated from --config. Distances come from --matrix, or are computed as
great-circle distances when no matrix is given.`,
	RunE: runSolve,
}

func init() {
	addScenarioFlags(solveCmd)
	solveCmd.Flags().StringVar(&matrixPath, "matrix", "", "Distance matrix JSON (default: haversine distances)")
	solveCmd.Flags().DurationVar(&timeLimit, "time-limit", 5*time.Minute, "Solver time limit")
	solveCmd.Flags().StringVar(&routingMode, "routing", "coupled", "Routing approximation: coupled, constant")
	solveCmd.Flags().BoolVar(&relaxSqrt, "relax-sqrt", false, "Relax sqrtCount <= sqrt(deliveryCount) (constant routing only)")
	solveCmd.Flags().Float64Var(&bigM, "big-m", 0, "Override the delivery/service big-M (0 = max daily demand)")
	solveCmd.Flags().BoolVar(&looseLink, "loose-service-link", false, "Drop the rows that tie served to actual deliveries")
	solveCmd.Flags().StringVar(&solverName, "solver", "enum", "Solver: enum, gurobi")
	solveCmd.Flags().StringVar(&gurobiBin, "gurobi-bin", "", "gurobi_cl executable (default: gurobi_cl on PATH)")
	solveCmd.Flags().IntVar(&maxNodes, "max-nodes", 0, "Node limit of the enum solver (0 = default)")
	solveCmd.Flags().BoolVar(&warmStart, "warm-start", false, "Seed the solver with a mayfly allocation search")
	solveCmd.Flags().IntVar(&warmIters, "warm-iters", 100, "Mayfly iterations for --warm-start")
	solveCmd.Flags().IntVar(&retryTimeouts, "retry-timeouts", 0, "Retry up to N times with a doubled time limit when no incumbent was found")
	solveCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Base directory for solution storage")
	solveCmd.Flags().BoolVar(&noSave, "no-save", false, "Do not persist the solution")

	rootCmd.AddCommand(solveCmd)
}

// addScenarioFlags registers the flags that select a scenario.
func addScenarioFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configPath, "config", "", "Scenario YAML (default: built-in reference scenario)")
	cmd.Flags().StringVar(&instancePath, "instance", "", "Instance JSON written by generate")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Override the scenario seed")
	cmd.MarkFlagsMutuallyExclusive("config", "instance")
}

// loadInstance reads --instance or generates one from --config.
func loadInstance(cmd *cobra.Command) (*scenario.Instance, error) {
	if instancePath != "" {
		if cmd.Flags().Changed("seed") {
			return nil, fmt.Errorf("--seed has no effect with --instance")
		}
		return scenario.LoadInstance(instancePath)
	}

	cfg := scenario.Default()
	if configPath != "" {
		var err error
		if cfg, err = scenario.Load(configPath); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	return scenario.Generate(cfg, rand.New(rand.NewSource(cfg.Seed)))
}

func loadMatrix(ctx context.Context, inst *scenario.Instance) (model.DistanceMatrix, error) {
	if matrixPath != "" {
		return distance.Load(matrixPath)
	}
	return distance.BuildMatrix(ctx, distance.HaversineProvider{}, inst.Depots, inst.Patients)
}

func runSolve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	routing, err := model.ParseRoutingMode(routingMode)
	if err != nil {
		return err
	}
	solver, err := mip.NewSolver(solverName, gurobiBin)
	if err != nil {
		return err
	}
	if enum, ok := solver.(*mip.Enumerator); ok {
		enum.MaxNodes = maxNodes
	}

	inst, err := loadInstance(cmd)
	if err != nil {
		return err
	}
	dist, err := loadMatrix(ctx, inst)
	if err != nil {
		return err
	}

	id := uuid.New().String()
	var st *store.FSStore
	var trace *store.TraceWriter
	if !noSave {
		if st, err = store.NewFSStore(dataDir); err != nil {
			return fmt.Errorf("failed to create solution store: %w", err)
		}
		if trace, err = st.OpenTrace(id); err != nil {
			return err
		}
		defer trace.Close()
	}

	opts := model.SolveOptions{
		Build: model.BuildOptions{
			Routing:          routing,
			RelaxSqrt:        relaxSqrt,
			BigM:             bigM,
			LooseServiceLink: looseLink,
		},
		TimeLimit: timeLimit,
	}
	if warmStart {
		opts.WarmStart = &model.WarmStartOptions{Iterations: warmIters, Seed: inst.Config.Seed}
	}
	seq := 0
	opts.OnIncumbent = func(inc mip.Incumbent) {
		seq++
		slog.Debug("Incumbent", "sequence", seq, "objective", inc.Objective, "nodes", inc.Nodes)
		if trace == nil {
			return
		}
		err := trace.Write(store.TraceEntry{
			Sequence:       seq,
			Objective:      inc.Objective,
			Nodes:          inc.Nodes,
			ElapsedSeconds: inc.Elapsed.Seconds(),
			Timestamp:      time.Now(),
		})
		if err != nil {
			slog.Warn("Failed to write trace entry", "error", err)
		}
	}

	sol, limit, err := solveWithRetry(ctx, inst.Params, dist, solver, opts, retryTimeouts)
	if err != nil {
		return err
	}

	record := model.NewRecord(id, inst.Params, sol, store.SolveConfig{
		Solver:           solver.Name(),
		Routing:          routing.String(),
		RelaxSqrt:        relaxSqrt,
		TimeLimitSeconds: limit.Seconds(),
		WarmStart:        warmStart,
		Seed:             inst.Config.Seed,
	})
	if st != nil {
		if err := st.SaveRecord(record); err != nil {
			return err
		}
		slog.Info("Solution saved", "id", id, "data_dir", st.BaseDir())
	}

	writeReport(os.Stdout, record)
	return nil
}

// solveWithRetry doubles the time limit after every timeout without an
// incumbent, at most retries times. It returns the time limit of the last attempt.
func solveWithRetry(ctx context.Context, p *model.Params, dist model.DistanceMatrix, solver mip.Solver, opts model.SolveOptions, retries int) (*model.Solution, time.Duration, error) {
	for attempt := 0; ; attempt++ {
		sol, err := model.Solve(ctx, p, dist, solver, opts)
		if err == nil || attempt >= retries || opts.TimeLimit <= 0 || ctx.Err() != nil || !errors.Is(err, model.ErrTimeoutNoIncumbent) {
			return sol, opts.TimeLimit, err
		}
		opts.TimeLimit *= 2
		slog.Warn("No incumbent within the time limit, retrying",
			"attempt", attempt+1,
			"time_limit", opts.TimeLimit,
		)
	}
}
