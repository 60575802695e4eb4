package model

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cwbudde/hahplan/internal/mip"
)

// Cost categories, in report order.
const (
	CostHospital    = "In-Hospital"
	CostNurse       = "Nurse Visits"
	CostProcurement = "Procurement"
	CostInventory   = "Inventory"
	CostTransport   = "Transport"
)

// CostCategories lists the breakdown keys in report order.
var CostCategories = []string{CostHospital, CostNurse, CostProcurement, CostInventory, CostTransport}

// Variable groups exposed in Solution.Variables.
const (
	GroupSelect        = "select"
	GroupInventory     = "inventory"
	GroupProcure       = "procure"
	GroupDeliver       = "deliver"
	GroupServed        = "served"
	GroupDeliveryCount = "deliveryCount"
	GroupAvgDistance   = "avgDistance"
	GroupSqrtCount     = "sqrtCount"
	GroupVehicleCount  = "vehicleCount"
	GroupRoutingCost   = "routingCost"
)

// Solution is the structured result of a successful solve. Variables maps a
// group name to composite keys ("s,i,j,t") and values.
type Solution struct {
	Status    mip.Status
	TotalCost float64
	Variables map[string]map[string]float64
	Costs     map[string]float64
	Nodes     int
	Runtime   time.Duration
}

// Value returns one variable value, or 0 when absent.
func (s *Solution) Value(group string, idx ...int) float64 {
	return s.Variables[group][Key(idx...)]
}

// HomePatients returns the ids assigned to home treatment, ascending.
func (s *Solution) HomePatients() []int {
	var ids []int
	for k, v := range s.Variables[GroupSelect] {
		if v < 0.5 {
			continue
		}
		if idx, err := ParseKey(k); err == nil {
			ids = append(ids, idx[0])
		}
	}
	sort.Ints(ids)
	return ids
}

// CostSum adds up the breakdown.
func (s *Solution) CostSum() float64 {
	var sum float64
	for _, name := range CostCategories {
		sum += s.Costs[name]
	}
	return sum
}

// Extract reads every decision variable and the cost breakdown out of r.
func Extract(f *Formulation, r *mip.Result) (*Solution, error) {
	if r == nil || !r.Status.HasSolution() {
		return nil, errors.New("result carries no solution")
	}
	if len(r.Values) != f.Program.NumVars() {
		return nil, fmt.Errorf("result has %d values for %d variables", len(r.Values), f.Program.NumVars())
	}
	p := f.Params
	val := r.Values

	sol := &Solution{
		Status:    r.Status,
		Variables: make(map[string]map[string]float64),
		Costs:     make(map[string]float64, len(CostCategories)),
		Nodes:     r.Nodes,
		Runtime:   r.Runtime,
	}
	put := func(group string, v mip.VarID, idx ...int) {
		m, ok := sol.Variables[group]
		if !ok {
			m = make(map[string]float64)
			sol.Variables[group] = m
		}
		m[Key(idx...)] = val[v]
	}

	for i := range p.Patients {
		put(GroupSelect, f.Select[i], i)
	}
	for s := 0; s < p.NumBundles(); s++ {
		for j := 0; j < p.NumDepots; j++ {
			for t := 0; t < p.Horizon; t++ {
				put(GroupInventory, f.Inventory[s][j][t], s, j, t)
				put(GroupProcure, f.Procure[s][j][t], s, j, t)
			}
		}
		for e, i := range f.Eligible {
			for j := 0; j < p.NumDepots; j++ {
				for t := 0; t < p.Horizon; t++ {
					put(GroupDeliver, f.Deliver[s][e][j][t], s, i, j, t)
				}
			}
		}
	}
	for e, i := range f.Eligible {
		for j := 0; j < p.NumDepots; j++ {
			for t := 0; t < p.Horizon; t++ {
				put(GroupServed, f.Served[e][j][t], i, j, t)
			}
		}
	}
	for j := 0; j < p.NumDepots; j++ {
		for t := 0; t < p.Horizon; t++ {
			put(GroupDeliveryCount, f.DeliveryCount[j][t], j, t)
			put(GroupSqrtCount, f.SqrtCount[j][t], j, t)
			put(GroupVehicleCount, f.VehicleCount[j][t], j, t)
			put(GroupRoutingCost, f.RoutingCost[j][t], j, t)
			if f.AvgDistance != nil {
				put(GroupAvgDistance, f.AvgDistance[j][t], j, t)
			}
		}
	}

	for _, name := range CostCategories {
		sol.Costs[name] = f.costs[name].eval(val)
	}
	sol.TotalCost = f.Program.Evaluate(val)
	return sol, nil
}
