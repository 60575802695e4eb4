// Package scenario describes and generates synthetic planning instances.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/hahplan/internal/distance"
	"github.com/cwbudde/hahplan/internal/model"
)

// Range is an inclusive integer range.
type Range struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Config is a scenario description. Load overlays a YAML file on Default.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Seed int64  `json:"seed" yaml:"seed"`

	Patients      int     `json:"patients" yaml:"patients"`
	EligibleRatio float64 `json:"eligibleRatio" yaml:"eligible_ratio"`
	Bundles       int     `json:"bundles" yaml:"bundles"`
	Depots        int     `json:"depots" yaml:"depots"`
	Horizon       int     `json:"horizon" yaml:"horizon"`
	Beds          int     `json:"beds" yaml:"beds"`

	HospCostPerDay    float64 `json:"hospCostPerDay" yaml:"hosp_cost_per_day"`
	NurseCostPerDay   float64 `json:"nurseCostPerDay" yaml:"nurse_cost_per_day"`
	HoldingCost       float64 `json:"holdingCost" yaml:"holding_cost"`
	DeliveryCostPerKm float64 `json:"deliveryCostPerKm" yaml:"delivery_cost_per_km"`

	// Bundle s costs ProcureBase + s*ProcureStep.
	ProcureBase float64 `json:"procureBase" yaml:"procure_base"`
	ProcureStep float64 `json:"procureStep" yaml:"procure_step"`

	NurseCapacity int     `json:"nurseCapacity" yaml:"nurse_capacity"`
	Beta          float64 `json:"beta" yaml:"beta"`

	// AvgDistanceKm is the per-depot average used by constant routing.
	// Zero derives it from the distance matrix.
	AvgDistanceKm float64 `json:"avgDistanceKm,omitempty" yaml:"avg_distance_km"`

	HospitalLOS       Range `json:"hospitalLos" yaml:"hospital_los"`
	HomeLOS           Range `json:"homeLos" yaml:"home_los"`
	BundlesPerPatient int   `json:"bundlesPerPatient" yaml:"bundles_per_patient"`

	Center   distance.Point `json:"center" yaml:"center"`
	RadiusKm float64        `json:"radiusKm" yaml:"radius_km"`
}

// Default returns the reference scenario: 100 patients, one depot, 12 days.
func Default() Config {
	return Config{
		Name:              "default",
		Seed:              42,
		Patients:          100,
		EligibleRatio:     0.85,
		Bundles:           5,
		Depots:            1,
		Horizon:           12,
		Beds:              42,
		HospCostPerDay:    300,
		NurseCostPerDay:   250,
		HoldingCost:       3,
		DeliveryCostPerKm: 2.2,
		ProcureBase:       50,
		ProcureStep:       10,
		NurseCapacity:     5,
		Beta:              1.2,
		AvgDistanceKm:     15,
		HospitalLOS:       Range{Min: 3, Max: 8},
		HomeLOS:           Range{Min: 5, Max: 12},
		BundlesPerPatient: 2,
		Center:            distance.Point{Lat: 40.7484, Lon: -73.9857},
		RadiusKm:          15,
	}
}

// Load reads a YAML scenario. Fields absent from the file keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &model.ConfigurationError{Field: "scenario", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field as a *model.ConfigurationError.
func (c Config) Validate() error {
	bad := func(field, reason string) error {
		return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("%s (scenario %q)", reason, c.Name)}
	}
	switch {
	case c.Name == "":
		return bad("name", "cannot be empty")
	case c.Patients <= 0:
		return bad("patients", "must be positive")
	case c.EligibleRatio < 0 || c.EligibleRatio > 1 || math.IsNaN(c.EligibleRatio):
		return bad("eligible_ratio", "must be within [0,1]")
	case c.Bundles <= 0:
		return bad("bundles", "must be positive")
	case c.Depots <= 0:
		return bad("depots", "must be positive")
	case c.Horizon <= 0:
		return bad("horizon", "must be positive")
	case c.Beds < 0:
		return bad("beds", "cannot be negative")
	case c.NurseCapacity <= 0:
		return bad("nurse_capacity", "must be positive")
	case c.BundlesPerPatient < 0 || c.BundlesPerPatient > c.Bundles:
		return bad("bundles_per_patient", fmt.Sprintf("must be within [0,%d]", c.Bundles))
	case c.HospitalLOS.Min < 0 || c.HospitalLOS.Max < c.HospitalLOS.Min:
		return bad("hospital_los", "must satisfy 0 <= min <= max")
	case c.HomeLOS.Min < 0 || c.HomeLOS.Max < c.HomeLOS.Min:
		return bad("home_los", "must satisfy 0 <= min <= max")
	case c.RadiusKm < 0:
		return bad("radius_km", "cannot be negative")
	}
	costs := []struct {
		field string
		value float64
	}{
		{"hosp_cost_per_day", c.HospCostPerDay},
		{"nurse_cost_per_day", c.NurseCostPerDay},
		{"holding_cost", c.HoldingCost},
		{"delivery_cost_per_km", c.DeliveryCostPerKm},
		{"procure_base", c.ProcureBase},
		{"beta", c.Beta},
		{"avg_distance_km", c.AvgDistanceKm},
	}
	for _, cost := range costs {
		if v := cost.value; v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return bad(cost.field, "must be a finite non-negative number")
		}
	}
	if last := c.ProcureBase + float64(c.Bundles-1)*c.ProcureStep; last < 0 {
		return bad("procure_step", "makes the last bundle cost negative")
	}
	return nil
}
