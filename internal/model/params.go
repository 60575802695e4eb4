package model

import (
	"fmt"
	"math"
)

// Patient is one member of the population. HomeLOS is zero for patients
// that are not eligible for home treatment.
type Patient struct {
	ID          int  `json:"id"`
	Eligible    bool `json:"eligible"`
	HospitalLOS int  `json:"hospitalLos"`
	HomeLOS     int  `json:"homeLos"`
}

// Params is the immutable input of the model. Patient IDs equal their
// index in Patients; depots and bundles are plain indices.
type Params struct {
	Name        string
	Patients    []Patient
	NumDepots   int
	ProcureCost []float64 // per bundle
	Horizon     int       // days
	BedCapacity int

	HospCostPerDay    float64
	NurseCostPerDay   float64
	HoldingCost       float64 // per unit and day
	DeliveryCostPerKm float64

	NurseCapacity int     // patients one nurse visits per shift
	Beta          float64 // tour term coefficient

	// AvgDistance is the constant per-depot average used by RoutingConstant.
	// Nil means the mean depot-to-eligible-patient distance.
	AvgDistance []float64

	Demand *Demand
}

// NumBundles returns the number of bundle types.
func (p *Params) NumBundles() int {
	return len(p.ProcureCost)
}

// Eligible returns the ids of patients in E, ascending.
func (p *Params) Eligible() []int {
	var ids []int
	for _, pt := range p.Patients {
		if pt.Eligible {
			ids = append(ids, pt.ID)
		}
	}
	return ids
}

// Ineligible returns the ids of patients in H, ascending.
func (p *Params) Ineligible() []int {
	var ids []int
	for _, pt := range p.Patients {
		if !pt.Eligible {
			ids = append(ids, pt.ID)
		}
	}
	return ids
}

// Validate reports the first malformed field as a *ConfigurationError.
func (p *Params) Validate() error {
	switch {
	case len(p.Patients) == 0:
		return &ConfigurationError{Field: "Patients", Reason: "cannot be empty"}
	case p.NumDepots <= 0:
		return &ConfigurationError{Field: "NumDepots", Reason: "must be positive"}
	case len(p.ProcureCost) == 0:
		return &ConfigurationError{Field: "ProcureCost", Reason: "needs at least one bundle"}
	case p.Horizon <= 0:
		return &ConfigurationError{Field: "Horizon", Reason: "must be positive"}
	case p.BedCapacity < 0:
		return &ConfigurationError{Field: "BedCapacity", Reason: "cannot be negative"}
	case p.NurseCapacity <= 0:
		return &ConfigurationError{Field: "NurseCapacity", Reason: "must be positive"}
	}

	costs := []struct {
		field string
		value float64
	}{
		{"HospCostPerDay", p.HospCostPerDay},
		{"NurseCostPerDay", p.NurseCostPerDay},
		{"HoldingCost", p.HoldingCost},
		{"DeliveryCostPerKm", p.DeliveryCostPerKm},
		{"Beta", p.Beta},
	}
	for _, c := range costs {
		if err := checkNonNegative(c.field, c.value); err != nil {
			return err
		}
	}
	for s, c := range p.ProcureCost {
		if err := checkNonNegative(fmt.Sprintf("ProcureCost[%d]", s), c); err != nil {
			return err
		}
	}
	if p.AvgDistance != nil {
		if len(p.AvgDistance) != p.NumDepots {
			return &ConfigurationError{Field: "AvgDistance", Reason: fmt.Sprintf("has %d entries for %d depots", len(p.AvgDistance), p.NumDepots)}
		}
		for j, d := range p.AvgDistance {
			if err := checkNonNegative(fmt.Sprintf("AvgDistance[%d]", j), d); err != nil {
				return err
			}
		}
	}

	for idx, pt := range p.Patients {
		field := fmt.Sprintf("Patients[%d]", idx)
		switch {
		case pt.ID != idx:
			return &ConfigurationError{Field: field, Reason: fmt.Sprintf("has id %d, want %d", pt.ID, idx)}
		case pt.HospitalLOS < 0 || pt.HomeLOS < 0:
			return &ConfigurationError{Field: field, Reason: "length of stay cannot be negative"}
		case !pt.Eligible && pt.HomeLOS != 0:
			return &ConfigurationError{Field: field, Reason: "is ineligible but has a home length of stay"}
		}
	}

	for _, k := range p.Demand.Keys() {
		switch {
		case k.Bundle < 0 || k.Bundle >= p.NumBundles():
			return &ConfigurationError{Field: "Demand", Reason: fmt.Sprintf("bundle %d out of range", k.Bundle)}
		case k.Patient < 0 || k.Patient >= len(p.Patients):
			return &ConfigurationError{Field: "Demand", Reason: fmt.Sprintf("patient %d out of range", k.Patient)}
		case k.Day < 0:
			return &ConfigurationError{Field: "Demand", Reason: fmt.Sprintf("day %d is negative", k.Day)}
		case !p.Patients[k.Patient].Eligible:
			return &ConfigurationError{Field: "Demand", Reason: fmt.Sprintf("patient %d is ineligible", k.Patient)}
		}
		if u := p.Demand.Get(k.Bundle, k.Patient, k.Day); math.IsInf(u, 0) || math.IsNaN(u) {
			return &ConfigurationError{Field: "Demand", Reason: fmt.Sprintf("entry %v is not finite", k)}
		}
	}
	return nil
}

func checkNonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ConfigurationError{Field: field, Reason: "must be finite"}
	}
	if v < 0 {
		return &ConfigurationError{Field: field, Reason: "cannot be negative"}
	}
	return nil
}

// demandDays returns the days on which eligible patient i's demand is read.
func (p *Params) demandDays(i int) int {
	return min(p.Patients[i].HomeLOS, p.Horizon)
}
