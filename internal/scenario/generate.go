package scenario

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sort"

	"github.com/cwbudde/hahplan/internal/distance"
	"github.com/cwbudde/hahplan/internal/model"
)

const kmPerDegreeLat = 111.32

// Instance is a generated scenario: model parameters plus the locations the
// distance matrix is built from.
type Instance struct {
	Config   Config
	Params   *model.Params
	Depots   []distance.Point
	Patients []distance.Point
}

// Generate draws an instance from cfg. All randomness comes from rng, so the
// same seed yields the same instance.
func Generate(cfg Config, rng *rand.Rand) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := cfg.Patients
	numEligible := int(float64(n) * cfg.EligibleRatio)
	eligible := make([]bool, n)
	for _, i := range rng.Perm(n)[:numEligible] {
		eligible[i] = true
	}

	patients := make([]model.Patient, n)
	for i := range patients {
		patients[i] = model.Patient{ID: i, Eligible: eligible[i], HospitalLOS: draw(rng, cfg.HospitalLOS)}
	}
	for i := range patients {
		if eligible[i] {
			patients[i].HomeLOS = draw(rng, cfg.HomeLOS)
		}
	}

	demand := model.NewDemand()
	for i, pt := range patients {
		if !pt.Eligible {
			continue
		}
		bundles := rng.Perm(cfg.Bundles)[:cfg.BundlesPerPatient]
		sort.Ints(bundles)
		for _, s := range bundles {
			for t := 0; t < min(pt.HomeLOS, cfg.Horizon); t++ {
				demand.Set(s, i, t, 1)
			}
		}
	}

	inst := &Instance{
		Config:   cfg,
		Params:   cfg.params(patients, demand),
		Depots:   scatter(rng, cfg.Center, cfg.RadiusKm, cfg.Depots),
		Patients: scatter(rng, cfg.Center, cfg.RadiusKm, n),
	}
	slog.Debug("Scenario generated",
		"scenario", cfg.Name,
		"patients", n,
		"eligible", numEligible,
		"demand_entries", demand.Len(),
	)
	return inst, nil
}

func draw(rng *rand.Rand, r Range) int {
	return r.Min + rng.Intn(r.Max-r.Min+1)
}

// scatter draws n points uniformly from the disc of radius km around center.
func scatter(rng *rand.Rand, center distance.Point, radiusKm float64, n int) []distance.Point {
	pts := make([]distance.Point, n)
	cosLat := math.Cos(center.Lat * math.Pi / 180)
	for k := range pts {
		r := radiusKm * math.Sqrt(rng.Float64())
		theta := 2 * math.Pi * rng.Float64()
		pts[k] = distance.Point{
			Lat: center.Lat + r*math.Cos(theta)/kmPerDegreeLat,
			Lon: center.Lon + r*math.Sin(theta)/(kmPerDegreeLat*cosLat),
		}
	}
	return pts
}

func (c Config) params(patients []model.Patient, demand *model.Demand) *model.Params {
	procure := make([]float64, c.Bundles)
	for s := range procure {
		procure[s] = c.ProcureBase + float64(s)*c.ProcureStep
	}
	var avg []float64
	if c.AvgDistanceKm > 0 {
		avg = make([]float64, c.Depots)
		for j := range avg {
			avg[j] = c.AvgDistanceKm
		}
	}
	return &model.Params{
		Name:              c.Name,
		Patients:          patients,
		NumDepots:         c.Depots,
		ProcureCost:       procure,
		Horizon:           c.Horizon,
		BedCapacity:       c.Beds,
		HospCostPerDay:    c.HospCostPerDay,
		NurseCostPerDay:   c.NurseCostPerDay,
		HoldingCost:       c.HoldingCost,
		DeliveryCostPerKm: c.DeliveryCostPerKm,
		NurseCapacity:     c.NurseCapacity,
		Beta:              c.Beta,
		AvgDistance:       avg,
		Demand:            demand,
	}
}

type demandEntry struct {
	model.DemandKey
	Units float64 `json:"units"`
}

type instanceFile struct {
	Config           Config           `json:"config"`
	Patients         []model.Patient  `json:"patients"`
	Demand           []demandEntry    `json:"demand"`
	DepotLocations   []distance.Point `json:"depotLocations"`
	PatientLocations []distance.Point `json:"patientLocations"`
}

// Save writes the instance as JSON.
func (in *Instance) Save(path string) error {
	f := instanceFile{
		Config:           in.Config,
		Patients:         in.Params.Patients,
		Demand:           []demandEntry{},
		DepotLocations:   in.Depots,
		PatientLocations: in.Patients,
	}
	for _, k := range in.Params.Demand.Keys() {
		f.Demand = append(f.Demand, demandEntry{DemandKey: k, Units: in.Params.Demand.Get(k.Bundle, k.Patient, k.Day)})
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode instance: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write instance: %w", err)
	}
	return nil
}

// LoadInstance reads an instance written by Save and validates it.
func LoadInstance(path string) (*Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instance: %w", err)
	}
	var f instanceFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", path, err)
	}
	if err := f.Config.Validate(); err != nil {
		return nil, err
	}
	if len(f.PatientLocations) != len(f.Patients) || len(f.DepotLocations) != f.Config.Depots {
		return nil, fmt.Errorf("instance %s: %d patients with %d locations, %d depots with %d locations",
			path, len(f.Patients), len(f.PatientLocations), f.Config.Depots, len(f.DepotLocations))
	}

	demand := model.NewDemand()
	for _, e := range f.Demand {
		demand.Set(e.Bundle, e.Patient, e.Day, e.Units)
	}
	f.Config.Patients = len(f.Patients)
	in := &Instance{
		Config:   f.Config,
		Params:   f.Config.params(f.Patients, demand),
		Depots:   f.DepotLocations,
		Patients: f.PatientLocations,
	}
	if err := in.Params.Validate(); err != nil {
		return nil, fmt.Errorf("instance %s: %w", path, err)
	}
	return in, nil
}
