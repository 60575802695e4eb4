package model

import (
	"time"

	"github.com/cwbudde/hahplan/internal/store"
)

// NewRecord converts a solution into its persisted form.
func NewRecord(id string, p *Params, sol *Solution, cfg store.SolveConfig) *store.Record {
	return &store.Record{
		ID:            id,
		Status:        sol.Status.String(),
		TotalCost:     sol.TotalCost,
		Variables:     sol.Variables,
		CostBreakdown: sol.Costs,
		Scenario: store.ScenarioMeta{
			Name:     p.Name,
			Patients: len(p.Patients),
			Beds:     p.BedCapacity,
			Depots:   p.NumDepots,
			Bundles:  p.NumBundles(),
			Horizon:  p.Horizon,
		},
		Config:         cfg,
		RuntimeSeconds: sol.Runtime.Seconds(),
		CreatedAt:      time.Now(),
	}
}
