package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cwbudde/hahplan/internal/distance"
	"github.com/cwbudde/hahplan/internal/scenario"
)

var (
	providerName string
	orsProfile   string
	orsChunk     int
	circuity     float64
)

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Compute the distance matrix of an instance",
	Long: `Computes the depot and patient distance matrix of an instance file.
The ors provider queries the OpenRouteService matrix API and reads
ORS_API_KEY (and optionally ORS_BASE_URL) from the environment or a .env
file. The haversine provider works offline.`,
	RunE: runMatrix,
}

func init() {
	matrixCmd.Flags().StringVar(&instancePath, "instance", "", "Instance JSON written by generate (required)")
	matrixCmd.Flags().StringVar(&matrixOut, "out", "matrix.json", "Matrix output path")
	matrixCmd.Flags().StringVar(&providerName, "provider", "ors", "Distance provider: ors, haversine")
	matrixCmd.Flags().StringVar(&orsProfile, "profile", "driving-car", "OpenRouteService routing profile")
	matrixCmd.Flags().IntVar(&orsChunk, "chunk-size", 10, "Origins per OpenRouteService request")
	matrixCmd.Flags().Float64Var(&circuity, "circuity", 1, "Road/straight-line factor for haversine distances")
	matrixCmd.MarkFlagRequired("instance")
	rootCmd.AddCommand(matrixCmd)
}

func newProvider() (distance.Provider, error) {
	switch providerName {
	case "haversine":
		return distance.HaversineProvider{Circuity: circuity}, nil
	case "ors":
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to read .env", "error", err)
		}
		key := os.Getenv("ORS_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ORS_API_KEY is not set")
		}
		ors := distance.NewORSProvider(os.Getenv("ORS_BASE_URL"), key)
		ors.Profile = orsProfile
		if orsChunk > 0 {
			ors.ChunkSize = orsChunk
		}
		return ors, nil
	}
	return nil, fmt.Errorf("unknown provider %q (want ors or haversine)", providerName)
}

func runMatrix(cmd *cobra.Command, args []string) error {
	inst, err := scenario.LoadInstance(instancePath)
	if err != nil {
		return err
	}
	provider, err := newProvider()
	if err != nil {
		return err
	}

	m, err := distance.BuildMatrix(cmd.Context(), provider, inst.Depots, inst.Patients)
	if err != nil {
		return err
	}
	if err := distance.Save(matrixOut, m); err != nil {
		return err
	}

	fmt.Printf("Wrote %s (%dx%d, %s)\n", matrixOut, len(m), len(m), provider.Name())
	return nil
}
