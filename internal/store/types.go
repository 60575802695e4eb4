package store

import (
	"fmt"
	"math"
	"time"
)

// ScenarioMeta identifies the instance a record was solved for.
type ScenarioMeta struct {
	Name     string `json:"name"`
	Patients int    `json:"patients"`
	Beds     int    `json:"beds"`
	Depots   int    `json:"depots"`
	Bundles  int    `json:"bundles"`
	Horizon  int    `json:"horizon"`
}

// SolveConfig records how the solve was run. It is a copy of the run
// settings so the store does not depend on the model or server packages.
type SolveConfig struct {
	Solver           string  `json:"solver"`
	Routing          string  `json:"routing"`
	RelaxSqrt        bool    `json:"relaxSqrt,omitempty"`
	TimeLimitSeconds float64 `json:"timeLimitSeconds,omitempty"`
	WarmStart        bool    `json:"warmStart,omitempty"`
	Seed             int64   `json:"seed,omitempty"`
}

// Record is a persisted solution.
//
// Variables maps a variable group ("select", "deliver", ...) to composite
// index keys ("s,i,j,t") and values. CostBreakdown maps cost category to
// dollars and sums to TotalCost.
type Record struct {
	ID             string                        `json:"id"`
	Status         string                        `json:"status"`
	TotalCost      float64                       `json:"totalCost"`
	Variables      map[string]map[string]float64 `json:"variables"`
	CostBreakdown  map[string]float64            `json:"costBreakdown"`
	Scenario       ScenarioMeta                  `json:"scenario"`
	Config         SolveConfig                   `json:"config"`
	RuntimeSeconds float64                       `json:"runtimeSeconds"`
	CreatedAt      time.Time                     `json:"createdAt"`
}

// RecordInfo is record metadata without the variable maps.
// Used for listing records without holding every solution in memory.
type RecordInfo struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	TotalCost float64   `json:"totalCost"`
	Scenario  string    `json:"scenario"`
	Patients  int       `json:"patients"`
	Beds      int       `json:"beds"`
	Routing   string    `json:"routing"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToInfo converts a full Record to RecordInfo (metadata only).
func (r *Record) ToInfo() RecordInfo {
	return RecordInfo{
		ID:        r.ID,
		Status:    r.Status,
		TotalCost: r.TotalCost,
		Scenario:  r.Scenario.Name,
		Patients:  r.Scenario.Patients,
		Beds:      r.Scenario.Beds,
		Routing:   r.Config.Routing,
		CreatedAt: r.CreatedAt,
	}
}

// Validate checks if the record has valid data.
// Returns an error if any required field is missing or invalid.
func (r *Record) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if r.Status == "" {
		return &ValidationError{Field: "Status", Reason: "cannot be empty"}
	}
	if math.IsNaN(r.TotalCost) || math.IsInf(r.TotalCost, 0) {
		return &ValidationError{Field: "TotalCost", Reason: "must be finite"}
	}
	if r.Scenario.Name == "" {
		return &ValidationError{Field: "Scenario.Name", Reason: "cannot be empty"}
	}
	counts := []struct {
		field string
		n     int
	}{
		{"Scenario.Patients", r.Scenario.Patients},
		{"Scenario.Beds", r.Scenario.Beds},
		{"Scenario.Depots", r.Scenario.Depots},
		{"Scenario.Bundles", r.Scenario.Bundles},
		{"Scenario.Horizon", r.Scenario.Horizon},
	}
	for _, c := range counts {
		if c.n < 0 {
			return &ValidationError{Field: c.field, Reason: "cannot be negative"}
		}
	}
	if r.Variables == nil {
		return &ValidationError{Field: "Variables", Reason: "cannot be nil"}
	}
	if sel, ok := r.Variables["select"]; ok && len(sel) != r.Scenario.Patients {
		return &ValidationError{
			Field:  "Variables.select",
			Reason: fmt.Sprintf("has %d entries for %d patients", len(sel), r.Scenario.Patients),
		}
	}
	if r.CreatedAt.IsZero() {
		return &ValidationError{Field: "CreatedAt", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents a record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
