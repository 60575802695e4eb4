package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cwbudde/hahplan/internal/distance"
)

var (
	instanceOut string
	matrixOut   string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a scenario instance",
	Long: `Draws patients, lengths of stay, demand and locations from a scenario
config and writes them as an instance file. With --matrix-out the
great-circle distance matrix is written as well; use "matrix" for road
distances.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&configPath, "config", "", "Scenario YAML (default: built-in reference scenario)")
	generateCmd.Flags().Int64Var(&seed, "seed", 0, "Override the scenario seed")
	generateCmd.Flags().StringVar(&instanceOut, "out", "instance.json", "Instance output path")
	generateCmd.Flags().StringVar(&matrixOut, "matrix-out", "", "Also write a haversine distance matrix")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	inst, err := loadInstance(cmd)
	if err != nil {
		return err
	}
	if err := inst.Save(instanceOut); err != nil {
		return err
	}

	p := inst.Params
	slog.Info("Instance written",
		"path", instanceOut,
		"scenario", p.Name,
		"seed", inst.Config.Seed,
		"patients", len(p.Patients),
		"eligible", len(p.Eligible()),
		"demand_entries", p.Demand.Len(),
	)

	if matrixOut != "" {
		m, err := distance.BuildMatrix(cmd.Context(), distance.HaversineProvider{}, inst.Depots, inst.Patients)
		if err != nil {
			return err
		}
		if err := distance.Save(matrixOut, m); err != nil {
			return err
		}
		slog.Info("Matrix written", "path", matrixOut, "size", len(m))
	}

	fmt.Printf("Wrote %s (%d patients, %d eligible, %d beds)\n", instanceOut, len(p.Patients), len(p.Eligible()), p.BedCapacity)
	return nil
}
