// Package distance builds the depot/patient distance matrix the model reads.
package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/cwbudde/hahplan/internal/model"
)

// NoRoute marks a matrix cell the provider could not route.
const NoRoute = -1

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Provider returns one-way distances in km from every origin to every
// destination. Unroutable pairs are NoRoute.
type Provider interface {
	Name() string
	Matrix(ctx context.Context, origins, destinations []Point) ([][]float64, error)
}

// BuildMatrix queries p for the unified [depots..., patients...] matrix.
func BuildMatrix(ctx context.Context, p Provider, depots, patients []Point) (model.DistanceMatrix, error) {
	all := make([]Point, 0, len(depots)+len(patients))
	all = append(all, depots...)
	all = append(all, patients...)

	rows, err := p.Matrix(ctx, all, all)
	if err != nil {
		return nil, fmt.Errorf("%s matrix: %w", p.Name(), err)
	}
	if len(rows) != len(all) {
		return nil, fmt.Errorf("%s matrix: got %d rows for %d locations", p.Name(), len(rows), len(all))
	}

	unrouted := 0
	for j := range depots {
		for i := range patients {
			if rows[j][len(depots)+i] < 0 {
				unrouted++
			}
		}
	}
	if unrouted > 0 {
		slog.Warn("Depot-patient pairs without a route", "provider", p.Name(), "pairs", unrouted)
	}
	slog.Info("Distance matrix built", "provider", p.Name(), "locations", len(all))
	return model.DistanceMatrix(rows), nil
}

const earthRadiusKm = 6371.0088

// Haversine returns the great-circle distance between a and b in km.
func Haversine(a, b Point) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// HaversineProvider is an offline provider. Circuity scales the straight
// line distance to approximate road distance; zero means 1.
type HaversineProvider struct {
	Circuity float64
}

func (HaversineProvider) Name() string { return "haversine" }

func (h HaversineProvider) Matrix(ctx context.Context, origins, destinations []Point) ([][]float64, error) {
	factor := h.Circuity
	if factor <= 0 {
		factor = 1
	}
	rows := make([][]float64, len(origins))
	for r, o := range origins {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows[r] = make([]float64, len(destinations))
		for c, d := range destinations {
			rows[r][c] = factor * Haversine(o, d)
		}
	}
	return rows, nil
}

// Save writes m as indented JSON.
func Save(path string, m model.DistanceMatrix) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode matrix: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write matrix: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write matrix: %w", err)
	}
	return nil
}

// Load reads a matrix written by Save.
func Load(path string) (model.DistanceMatrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matrix: %w", err)
	}
	var m model.DistanceMatrix
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode matrix %s: %w", path, err)
	}
	return m, nil
}
