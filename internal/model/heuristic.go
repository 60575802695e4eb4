package model

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/cwbudde/hahplan/internal/mip"
	"github.com/cwbudde/hahplan/internal/opt"
)

// WarmStartOptions configure the metaheuristic allocation search run before
// the exact solve.
type WarmStartOptions struct {
	Iterations int
	PopSize    int
	Seed       int64
}

func (o WarmStartOptions) withDefaults() WarmStartOptions {
	if o.Iterations <= 0 {
		o.Iterations = 100
	}
	if o.PopSize < opt.MinPopSize {
		o.PopSize = opt.MinPopSize
	}
	return o
}

// EstimateCost returns the objective of a feasible point that treats exactly
// the patients in home at home: deliveries are procured on the day they
// leave, every patient is served from its nearest depot and each depot uses
// the fewest vehicles. The result is an upper bound on the optimum.
func (f *Formulation) EstimateCost(home []int) (float64, error) {
	atHome := make([]bool, len(f.Eligible))
	pos := make(map[int]int, len(f.Eligible))
	for e, i := range f.Eligible {
		pos[i] = e
	}
	beds := len(f.Params.Patients)
	for _, i := range home {
		e, ok := pos[i]
		if !ok {
			return 0, &ConfigurationError{Field: "home", Reason: fmt.Sprintf("patient %d is not eligible", i)}
		}
		if !atHome[e] {
			atHome[e] = true
			beds--
		}
	}
	if beds > f.Params.BedCapacity {
		return 0, &InfeasibleModelError{Reason: fmt.Sprintf("%d patients need beds, capacity is %d", beds, f.Params.BedCapacity)}
	}
	return f.estimate(atHome), nil
}

// estimate prices an allocation indexed like Eligible. It does not check
// bed capacity.
func (f *Formulation) estimate(atHome []bool) float64 {
	p := f.Params
	var cost float64
	for _, pt := range p.Patients {
		if !pt.Eligible {
			cost += p.HospCostPerDay * float64(pt.HospitalLOS)
		}
	}

	type depotDay struct {
		n    int
		dist float64
	}
	load := make([][]depotDay, p.NumDepots)
	for j := range load {
		load[j] = make([]depotDay, p.Horizon)
	}

	for e, i := range f.Eligible {
		pt := p.Patients[i]
		if !atHome[e] {
			cost += p.HospCostPerDay * float64(pt.HospitalLOS)
			continue
		}
		cost += p.NurseCostPerDay * float64(pt.HomeLOS)
		for s := 0; s < p.NumBundles(); s++ {
			for t := 0; t < p.Horizon; t++ {
				cost += p.ProcureCost[s] * f.demand(s, i, t)
			}
		}
		j, d := f.nearestDepot(i)
		for t := 0; t < p.Horizon; t++ {
			if f.dailyDemand[e][t] > 0 {
				load[j][t].n++
				load[j][t].dist += d
			}
		}
	}

	gamma := float64(p.NurseCapacity)
	for j := range load {
		for _, dd := range load[j] {
			if dd.n == 0 {
				continue
			}
			n := float64(dd.n)
			vehicles := math.Ceil(n / gamma)
			tour := p.Beta * math.Sqrt(n)
			var avg float64
			switch f.Options.Routing {
			case RoutingCoupled:
				avg = dd.dist / n
			case RoutingConstant:
				avg = f.constantDistance(j)
				if f.Options.RelaxSqrt {
					tour = 0
				}
			}
			cost += p.DeliveryCostPerKm * (2*vehicles*avg + tour)
		}
	}
	return cost
}

// nearestDepot returns the closest depot to patient i, lowest index on ties.
func (f *Formulation) nearestDepot(i int) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for j := 0; j < f.Params.NumDepots; j++ {
		if d := f.Distances.DepotToPatient(f.Params.NumDepots, j, i); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best, bestDist
}

// repair sends eligible patients home, largest saving first, until the
// remaining patients fit in the beds. It reports false when even sending
// every eligible patient home is not enough.
func (f *Formulation) repair(atHome []bool) bool {
	p := f.Params
	hospitalized := len(p.Patients)
	var candidates []int
	for e := range f.Eligible {
		if atHome[e] {
			hospitalized--
			continue
		}
		candidates = append(candidates, e)
	}
	if hospitalized <= p.BedCapacity {
		return true
	}
	saving := func(e int) float64 {
		pt := p.Patients[f.Eligible[e]]
		return p.HospCostPerDay*float64(pt.HospitalLOS) - p.NurseCostPerDay*float64(pt.HomeLOS)
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return saving(candidates[a]) > saving(candidates[b])
	})
	for _, e := range candidates {
		if hospitalized <= p.BedCapacity {
			break
		}
		atHome[e] = true
		hospitalized--
	}
	return hospitalized <= p.BedCapacity
}

// WarmStart searches allocations with the mayfly optimizer and returns the
// best one as select values, plus its estimated cost.
func (f *Formulation) WarmStart(o WarmStartOptions) (map[mip.VarID]float64, float64, error) {
	o = o.withDefaults()
	if h := len(f.Params.Ineligible()); h > f.Params.BedCapacity {
		return nil, 0, &InfeasibleModelError{Reason: fmt.Sprintf("%d ineligible patients need beds, capacity is %d", h, f.Params.BedCapacity)}
	}

	cost := func(alloc []bool) float64 {
		a := make([]bool, len(f.Eligible))
		copy(a, alloc)
		f.repair(a)
		return f.estimate(a)
	}
	optimizer := opt.NewMayfly(o.Iterations, o.PopSize, o.Seed)
	alloc, best, err := opt.SearchAllocation(optimizer, len(f.Eligible), cost)
	if err != nil {
		return nil, 0, fmt.Errorf("warm start: %w", err)
	}
	atHome := make([]bool, len(f.Eligible))
	copy(atHome, alloc)
	f.repair(atHome)

	start := make(map[mip.VarID]float64, len(f.Params.Patients))
	for _, i := range f.Params.Ineligible() {
		start[f.Select[i]] = 0
	}
	home := 0
	for e, i := range f.Eligible {
		start[f.Select[i]] = 0
		if atHome[e] {
			start[f.Select[i]] = 1
			home++
		}
	}
	slog.Debug("Warm start found", "estimated_cost", best, "home_patients", home)
	return start, best, nil
}
