package model

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/cwbudde/hahplan/internal/mip"
)

// bigMRiskThreshold is the big-M value above which LP tolerances start to
// blur the indicator link.
const bigMRiskThreshold = 1e6

// BuildOptions select the routing policy and linking constants.
type BuildOptions struct {
	Routing RoutingMode

	// RelaxSqrt bounds sqrtCount <= sqrt(deliveryCount) instead of fixing it.
	// Only valid with RoutingConstant. The solver is then free to report a
	// tour term below its true value.
	RelaxSqrt bool

	// BigM overrides the computed per-instance bound when positive.
	BigM float64

	// LooseServiceLink drops the rows that force served to 0 when a depot
	// delivers nothing to a patient on a day. Without them coupled routing
	// can mark idle patients as served to lower the average distance.
	LooseServiceLink bool
}

// Formulation is an assembled program plus the handles needed to read it back.
// Per-patient slices of eligible patients are indexed by position in Eligible.
type Formulation struct {
	Params    *Params
	Distances DistanceMatrix
	Options   BuildOptions
	Program   *mip.Program
	BigM      float64
	Warnings  []NumericRiskWarning

	Eligible []int

	Select        []mip.VarID       // [i]
	Inventory     [][][]mip.VarID   // [s][j][t]
	Procure       [][][]mip.VarID   // [s][j][t]
	Deliver       [][][][]mip.VarID // [s][e][j][t]
	Served        [][][]mip.VarID   // [e][j][t]
	DeliveryCount [][]mip.VarID     // [j][t]
	AvgDistance   [][]mip.VarID     // [j][t], coupled routing only
	SqrtCount     [][]mip.VarID     // [j][t]
	VehicleCount  [][]mip.VarID     // [j][t]
	RoutingCost   [][]mip.VarID     // [j][t]

	// dailyDemand[e][t] is the total demand of eligible patient e on day t,
	// minUnit[e][t] its smallest positive single-bundle demand.
	dailyDemand [][]float64
	minUnit     [][]float64

	costs map[string]*costExpr
}

type costExpr struct {
	constant float64
	terms    []mip.Term
}

func (c *costExpr) eval(values []float64) float64 {
	v := c.constant
	for _, t := range c.terms {
		v += t.Coef * values[t.Var]
	}
	return v
}

// Build validates p and dist and assembles the program.
func Build(p *Params, dist DistanceMatrix, opts BuildOptions) (*Formulation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := dist.Validate(p.NumDepots, len(p.Patients)); err != nil {
		return nil, err
	}
	if opts.RelaxSqrt && opts.Routing != RoutingConstant {
		return nil, &ConfigurationError{Field: "RelaxSqrt", Reason: "requires constant-distance routing"}
	}
	if opts.BigM < 0 || math.IsNaN(opts.BigM) || math.IsInf(opts.BigM, 0) {
		return nil, &ConfigurationError{Field: "BigM", Reason: "must be a finite non-negative number"}
	}

	f := &Formulation{
		Params:    p,
		Distances: dist,
		Options:   opts,
		Program:   mip.NewProgram(),
		Eligible:  p.Eligible(),
		costs:     make(map[string]*costExpr),
	}
	f.aggregateDemand()
	f.chooseBigM()

	f.addVariables()
	f.addAllocation()
	f.addDemand()
	f.addInventory()
	f.addDeliveryLinks()
	f.addRouting()
	f.addObjective()

	for _, w := range f.Warnings {
		w.log()
	}
	slog.Debug("Model built",
		"scenario", p.Name,
		"vars", len(f.Program.Vars),
		"constraints", len(f.Program.Constraints),
		"power_constraints", len(f.Program.Pows),
		"routing", opts.Routing.String(),
		"big_m", f.BigM,
	)
	return f, nil
}

// Key renders a composite index as "a,b,c".
func Key(idx ...int) string {
	parts := make([]string, len(idx))
	for k, v := range idx {
		parts[k] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// ParseKey splits a key produced by Key back into its indices.
func ParseKey(k string) ([]int, error) {
	parts := strings.Split(k, ",")
	idx := make([]int, len(parts))
	for n, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("malformed key %q: %w", k, err)
		}
		idx[n] = v
	}
	return idx, nil
}

func varName(group string, idx ...int) string {
	return group + "[" + Key(idx...) + "]"
}

func (f *Formulation) aggregateDemand() {
	p := f.Params
	pos := make(map[int]int, len(f.Eligible))
	for e, i := range f.Eligible {
		pos[i] = e
	}
	f.dailyDemand = make([][]float64, len(f.Eligible))
	f.minUnit = make([][]float64, len(f.Eligible))
	for e := range f.Eligible {
		f.dailyDemand[e] = make([]float64, p.Horizon)
		f.minUnit[e] = make([]float64, p.Horizon)
	}

	ignored := 0
	for _, k := range p.Demand.Keys() {
		if k.Day >= p.demandDays(k.Patient) {
			ignored++
			continue
		}
		e := pos[k.Patient]
		u := p.Demand.Get(k.Bundle, k.Patient, k.Day)
		f.dailyDemand[e][k.Day] += u
		if m := f.minUnit[e][k.Day]; m == 0 || u < m {
			f.minUnit[e][k.Day] = u
		}
	}
	if ignored > 0 {
		slog.Debug("Ignoring demand outside home stay or horizon", "entries", ignored)
	}
}

// demand returns demand(s, i, t) as the model reads it.
func (f *Formulation) demand(s, i, t int) float64 {
	if t >= f.Params.demandDays(i) {
		return 0
	}
	return f.Params.Demand.Get(s, i, t)
}

// chooseBigM sets M to the largest aggregate patient-day demand unless
// overridden.
func (f *Formulation) chooseBigM() {
	var bound float64
	for e := range f.dailyDemand {
		for _, d := range f.dailyDemand[e] {
			bound = math.Max(bound, d)
		}
	}
	f.BigM = bound
	if f.Options.BigM > 0 {
		f.BigM = f.Options.BigM
		if f.BigM < bound {
			f.Warnings = append(f.Warnings, NumericRiskWarning{
				Kind:   "big_m",
				Value:  f.BigM,
				Detail: fmt.Sprintf("below the largest patient-day demand %g; demand cannot be delivered", bound),
			})
		}
	}
	if f.BigM > bigMRiskThreshold {
		f.Warnings = append(f.Warnings, NumericRiskWarning{
			Kind:   "big_m",
			Value:  f.BigM,
			Detail: "indicator rows may be satisfied by tolerance alone",
		})
	}
}

func grid(a, b int) [][]mip.VarID {
	g := make([][]mip.VarID, a)
	for x := range g {
		g[x] = make([]mip.VarID, b)
	}
	return g
}

func grid3(a, b, c int) [][][]mip.VarID {
	g := make([][][]mip.VarID, a)
	for x := range g {
		g[x] = grid(b, c)
	}
	return g
}

func (f *Formulation) addVariables() {
	p := f.Params
	prog := f.Program
	S, J, T, E := p.NumBundles(), p.NumDepots, p.Horizon, len(f.Eligible)
	inf := math.Inf(1)

	f.Select = make([]mip.VarID, len(p.Patients))
	for i := range p.Patients {
		f.Select[i] = prog.AddVar(varName("select", i), mip.Binary, 0, 1)
	}

	f.Inventory = grid3(S, J, T)
	f.Procure = grid3(S, J, T)
	for s := 0; s < S; s++ {
		for j := 0; j < J; j++ {
			for t := 0; t < T; t++ {
				f.Inventory[s][j][t] = prog.AddVar(varName("inventory", s, j, t), mip.Continuous, 0, inf)
				f.Procure[s][j][t] = prog.AddVar(varName("procure", s, j, t), mip.Continuous, 0, inf)
			}
		}
	}

	f.Deliver = make([][][][]mip.VarID, S)
	for s := 0; s < S; s++ {
		f.Deliver[s] = make([][][]mip.VarID, E)
		for e, i := range f.Eligible {
			f.Deliver[s][e] = grid(J, T)
			for j := 0; j < J; j++ {
				for t := 0; t < T; t++ {
					f.Deliver[s][e][j][t] = prog.AddVar(varName("deliver", s, i, j, t), mip.Continuous, 0, inf)
				}
			}
		}
	}

	f.Served = grid3(E, J, T)
	for e, i := range f.Eligible {
		for j := 0; j < J; j++ {
			for t := 0; t < T; t++ {
				upper := 1.0
				if !f.Options.LooseServiceLink && f.dailyDemand[e][t] == 0 {
					upper = 0
				}
				f.Served[e][j][t] = prog.AddVar(varName("served", i, j, t), mip.Binary, 0, upper)
			}
		}
	}

	f.DeliveryCount = grid(J, T)
	f.SqrtCount = grid(J, T)
	f.VehicleCount = grid(J, T)
	f.RoutingCost = grid(J, T)
	if f.Options.Routing == RoutingCoupled {
		f.AvgDistance = grid(J, T)
	}
	for j := 0; j < J; j++ {
		reach := f.depotReach(j)
		for t := 0; t < T; t++ {
			f.DeliveryCount[j][t] = prog.AddVar(varName("deliveryCount", j, t), mip.Continuous, 0, float64(E))
			f.SqrtCount[j][t] = prog.AddVar(varName("sqrtCount", j, t), mip.Continuous, 0, math.Sqrt(float64(E)))
			f.VehicleCount[j][t] = prog.AddVar(varName("vehicleCount", j, t), mip.Integer, 0, float64(E))
			f.RoutingCost[j][t] = prog.AddVar(varName("routingCost", j, t), mip.Continuous, 0, inf)
			if f.AvgDistance != nil {
				f.AvgDistance[j][t] = prog.AddVar(varName("avgDistance", j, t), mip.Continuous, 0, reach.max)
			}
		}
	}
}

// addAllocation emits ineligibility and bed capacity.
func (f *Formulation) addAllocation() {
	p := f.Params
	prog := f.Program

	for _, i := range p.Ineligible() {
		prog.AddConstr(varName("ineligible", i), []mip.Term{{Var: f.Select[i], Coef: 1}}, mip.EQ, 0)
	}

	// sum(1 - select) <= beds  <=>  -sum(select) <= beds - |P|
	beds := make([]mip.Term, len(p.Patients))
	for i := range p.Patients {
		beds[i] = mip.Term{Var: f.Select[i], Coef: -1}
	}
	prog.AddConstr("beds", beds, mip.LE, float64(p.BedCapacity-len(p.Patients)))
}

// addDemand gates each patient-day demand by select.
func (f *Formulation) addDemand() {
	p := f.Params
	for s := 0; s < p.NumBundles(); s++ {
		for e, i := range f.Eligible {
			for t := 0; t < p.Horizon; t++ {
				terms := make([]mip.Term, 0, p.NumDepots+1)
				for j := 0; j < p.NumDepots; j++ {
					terms = append(terms, mip.Term{Var: f.Deliver[s][e][j][t], Coef: 1})
				}
				if d := f.demand(s, i, t); d != 0 {
					terms = append(terms, mip.Term{Var: f.Select[i], Coef: -d})
				}
				f.Program.AddConstr(varName("demand", s, i, t), terms, mip.EQ, 0)
			}
		}
	}
}

// addInventory emits the stock recursion with zero opening stock.
func (f *Formulation) addInventory() {
	p := f.Params
	for s := 0; s < p.NumBundles(); s++ {
		for j := 0; j < p.NumDepots; j++ {
			for t := 0; t < p.Horizon; t++ {
				// inventory[t] - inventory[t-1] - procure[t] + sum_i deliver[t] = 0
				terms := []mip.Term{
					{Var: f.Inventory[s][j][t], Coef: 1},
					{Var: f.Procure[s][j][t], Coef: -1},
				}
				if t > 0 {
					terms = append(terms, mip.Term{Var: f.Inventory[s][j][t-1], Coef: -1})
				}
				for e := range f.Eligible {
					terms = append(terms, mip.Term{Var: f.Deliver[s][e][j][t], Coef: 1})
				}
				f.Program.AddConstr(varName("balance", s, j, t), terms, mip.EQ, 0)
			}
		}
	}
}

// addDeliveryLinks ties deliveries to the served indicator and counts
// served patients per depot and day.
func (f *Formulation) addDeliveryLinks() {
	p := f.Params
	prog := f.Program
	S := p.NumBundles()

	for e, i := range f.Eligible {
		for j := 0; j < p.NumDepots; j++ {
			for t := 0; t < p.Horizon; t++ {
				sent := make([]mip.Term, 0, S+1)
				for s := 0; s < S; s++ {
					sent = append(sent, mip.Term{Var: f.Deliver[s][e][j][t], Coef: 1})
				}
				served := f.Served[e][j][t]

				link := append(append([]mip.Term(nil), sent...), mip.Term{Var: served, Coef: -f.BigM})
				prog.AddConstr(varName("bigM", i, j, t), link, mip.LE, 0)

				if f.Options.LooseServiceLink || f.dailyDemand[e][t] == 0 {
					continue
				}
				// served implies at least the smallest demanded unit leaves depot j.
				active := []mip.Term{{Var: served, Coef: f.minUnit[e][t]}}
				for _, term := range sent {
					active = append(active, mip.Term{Var: term.Var, Coef: -1})
				}
				prog.AddConstr(varName("serviceLink", i, j, t), active, mip.LE, 0)
			}
		}
	}

	for j := 0; j < p.NumDepots; j++ {
		for t := 0; t < p.Horizon; t++ {
			terms := []mip.Term{{Var: f.DeliveryCount[j][t], Coef: 1}}
			for e := range f.Eligible {
				terms = append(terms, mip.Term{Var: f.Served[e][j][t], Coef: -1})
			}
			prog.AddConstr(varName("count", j, t), terms, mip.EQ, 0)
		}
	}
}

// addObjective adds the five cost terms and records each for the breakdown.
func (f *Formulation) addObjective() {
	p := f.Params
	prog := f.Program

	hosp := &costExpr{}
	for i, pt := range p.Patients {
		c := p.HospCostPerDay * float64(pt.HospitalLOS)
		hosp.constant += c
		if c != 0 {
			hosp.terms = append(hosp.terms, mip.Term{Var: f.Select[i], Coef: -c})
		}
	}

	nurse := &costExpr{}
	for _, i := range f.Eligible {
		if c := p.NurseCostPerDay * float64(p.Patients[i].HomeLOS); c != 0 {
			nurse.terms = append(nurse.terms, mip.Term{Var: f.Select[i], Coef: c})
		}
	}

	procure, holding := &costExpr{}, &costExpr{}
	for s := 0; s < p.NumBundles(); s++ {
		for j := 0; j < p.NumDepots; j++ {
			for t := 0; t < p.Horizon; t++ {
				if c := p.ProcureCost[s]; c != 0 {
					procure.terms = append(procure.terms, mip.Term{Var: f.Procure[s][j][t], Coef: c})
				}
				if p.HoldingCost != 0 {
					holding.terms = append(holding.terms, mip.Term{Var: f.Inventory[s][j][t], Coef: p.HoldingCost})
				}
			}
		}
	}

	transport := &costExpr{}
	if p.DeliveryCostPerKm != 0 {
		for j := 0; j < p.NumDepots; j++ {
			for t := 0; t < p.Horizon; t++ {
				transport.terms = append(transport.terms, mip.Term{Var: f.RoutingCost[j][t], Coef: p.DeliveryCostPerKm})
			}
		}
	}

	f.costs[CostHospital] = hosp
	f.costs[CostNurse] = nurse
	f.costs[CostProcurement] = procure
	f.costs[CostInventory] = holding
	f.costs[CostTransport] = transport

	// Hospital and nurse terms share select; merge them into one coefficient.
	coef := make(map[mip.VarID]float64)
	var order []mip.VarID
	for _, name := range CostCategories {
		c := f.costs[name]
		prog.ObjConstant += c.constant
		for _, t := range c.terms {
			if _, seen := coef[t.Var]; !seen {
				order = append(order, t.Var)
			}
			coef[t.Var] += t.Coef
		}
	}
	for _, v := range order {
		prog.AddObjective(v, coef[v])
	}
}
