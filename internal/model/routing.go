package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/hahplan/internal/mip"
)

// RoutingMode selects how daily tour cost per depot is approximated.
type RoutingMode int

const (
	// RoutingCoupled derives the average distance from the served set:
	// avgDistance*count = sum of served distances, and
	// routingCost = 2*vehicles*avgDistance + beta*sqrt(count).
	RoutingCoupled RoutingMode = iota

	// RoutingConstant uses a fixed per-depot average distance, making the
	// routing rows linear apart from the square root.
	RoutingConstant
)

func (m RoutingMode) String() string {
	switch m {
	case RoutingCoupled:
		return "coupled"
	case RoutingConstant:
		return "constant"
	default:
		return fmt.Sprintf("RoutingMode(%d)", int(m))
	}
}

// ParseRoutingMode accepts "coupled" or "constant". The empty string selects
// the default coupled mode.
func ParseRoutingMode(s string) (RoutingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "coupled":
		return RoutingCoupled, nil
	case "constant":
		return RoutingConstant, nil
	}
	return 0, &ConfigurationError{Field: "Routing", Reason: fmt.Sprintf("unknown mode %q (want coupled or constant)", s)}
}

type reach struct {
	max  float64
	mean float64
}

// depotReach summarizes depot j's distances to the eligible patients.
func (f *Formulation) depotReach(j int) reach {
	var r reach
	if len(f.Eligible) == 0 {
		return r
	}
	for _, i := range f.Eligible {
		d := f.Distances.DepotToPatient(f.Params.NumDepots, j, i)
		r.max = math.Max(r.max, d)
		r.mean += d
	}
	r.mean /= float64(len(f.Eligible))
	return r
}

// constantDistance returns the average distance RoutingConstant uses for depot j.
func (f *Formulation) constantDistance(j int) float64 {
	if f.Params.AvgDistance != nil {
		return f.Params.AvgDistance[j]
	}
	return f.depotReach(j).mean
}

func (f *Formulation) addRouting() {
	p := f.Params
	prog := f.Program
	gamma := float64(p.NurseCapacity)

	sqrtSense := mip.EQ
	if f.Options.RelaxSqrt {
		sqrtSense = mip.LE
	}

	for j := 0; j < p.NumDepots; j++ {
		r := f.depotReach(j)
		if f.Options.Routing == RoutingCoupled && r.max*float64(len(f.Eligible)) > bigMRiskThreshold {
			f.Warnings = append(f.Warnings, NumericRiskWarning{
				Kind:   "distance_scale",
				Value:  r.max,
				Detail: fmt.Sprintf("depot %d: bilinear distance rows span a wide coefficient range", j),
			})
		}

		for t := 0; t < p.Horizon; t++ {
			count := f.DeliveryCount[j][t]
			sq := f.SqrtCount[j][t]
			veh := f.VehicleCount[j][t]
			cost := f.RoutingCost[j][t]

			// Enough vehicles for the served patients, and none on idle days.
			prog.AddConstr(varName("vehicles", j, t),
				[]mip.Term{{Var: veh, Coef: gamma}, {Var: count, Coef: -1}}, mip.GE, 0)
			prog.AddConstr(varName("idleVehicles", j, t),
				[]mip.Term{{Var: veh, Coef: 1}, {Var: count, Coef: -1}}, mip.LE, 0)

			prog.AddPow(varName("tour", j, t), count, sq, 0.5, sqrtSense)

			switch f.Options.Routing {
			case RoutingCoupled:
				avg := f.AvgDistance[j][t]

				var served []mip.Term
				for e, i := range f.Eligible {
					if d := f.Distances.DepotToPatient(p.NumDepots, j, i); d != 0 {
						served = append(served, mip.Term{Var: f.Served[e][j][t], Coef: -d})
					}
				}
				prog.AddQConstr(varName("avgDistance", j, t), served,
					[]mip.QTerm{{A: avg, B: count, Coef: 1}}, mip.EQ, 0)

				// The product row says nothing when count is 0; pin avg to 0 there.
				prog.AddConstr(varName("avgDistanceIdle", j, t),
					[]mip.Term{{Var: avg, Coef: 1}, {Var: count, Coef: -r.max}}, mip.LE, 0)

				prog.AddQConstr(varName("routing", j, t),
					[]mip.Term{{Var: cost, Coef: 1}, {Var: sq, Coef: -p.Beta}},
					[]mip.QTerm{{A: veh, B: avg, Coef: -2}}, mip.EQ, 0)

			case RoutingConstant:
				d := f.constantDistance(j)
				prog.AddConstr(varName("routing", j, t),
					[]mip.Term{{Var: cost, Coef: 1}, {Var: veh, Coef: -2 * d}, {Var: sq, Coef: -p.Beta}}, mip.EQ, 0)
			}
		}
	}
}
