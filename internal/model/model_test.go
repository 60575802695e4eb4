package model

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/hahplan/internal/mip"
	"github.com/cwbudde/hahplan/internal/store"
)

const costTol = 1e-4

// threePatients is the reference instance: patient 0 must stay in hospital,
// patients 1 and 2 live 5 km from the only depot and need one unit on day 0.
func threePatients() (*Params, DistanceMatrix) {
	d := NewDemand()
	d.Set(0, 1, 0, 1)
	d.Set(0, 2, 0, 1)
	p := &Params{
		Name: "three-patients",
		Patients: []Patient{
			{ID: 0, Eligible: false, HospitalLOS: 1},
			{ID: 1, Eligible: true, HospitalLOS: 1, HomeLOS: 1},
			{ID: 2, Eligible: true, HospitalLOS: 1, HomeLOS: 1},
		},
		NumDepots:         1,
		ProcureCost:       []float64{50},
		Horizon:           1,
		BedCapacity:       1,
		HospCostPerDay:    300,
		NurseCostPerDay:   250,
		HoldingCost:       3,
		DeliveryCostPerKm: 2,
		NurseCapacity:     5,
		Beta:              1.2,
		Demand:            d,
	}
	dist := DistanceMatrix{
		{0, 7, 5, 5},
		{7, 0, 1, 1},
		{5, 1, 0, 1},
		{5, 1, 1, 0},
	}
	return p, dist
}

// fourPatients has one depot, one bundle and two days; every patient is eligible.
func fourPatients(beds int) (*Params, DistanceMatrix) {
	d := NewDemand()
	homeLOS := []int{2, 2, 1, 2}
	for i, los := range homeLOS {
		for t := 0; t < los; t++ {
			d.Set(0, i, t, float64(1+i%2))
		}
	}
	p := &Params{
		Name: "four-patients",
		Patients: []Patient{
			{ID: 0, Eligible: true, HospitalLOS: 2, HomeLOS: 2},
			{ID: 1, Eligible: true, HospitalLOS: 3, HomeLOS: 2},
			{ID: 2, Eligible: true, HospitalLOS: 1, HomeLOS: 1},
			{ID: 3, Eligible: true, HospitalLOS: 4, HomeLOS: 2},
		},
		NumDepots:         1,
		ProcureCost:       []float64{20},
		Horizon:           2,
		BedCapacity:       beds,
		HospCostPerDay:    300,
		NurseCostPerDay:   250,
		HoldingCost:       1,
		DeliveryCostPerKm: 2,
		NurseCapacity:     2,
		Beta:              1.2,
		Demand:            d,
	}
	reach := []float64{3, 8, 2, 12}
	n := 1 + len(reach)
	dist := make(DistanceMatrix, n)
	for r := range dist {
		dist[r] = make([]float64, n)
	}
	for i, km := range reach {
		dist[0][1+i] = km
		dist[1+i][0] = km
	}
	return p, dist
}

func solveWith(t *testing.T, p *Params, dist DistanceMatrix, opts SolveOptions) *Solution {
	t.Helper()
	sol, err := Solve(context.Background(), p, dist, mip.NewEnumerator(), opts)
	require.NoError(t, err)
	require.Equal(t, mip.StatusOptimal, sol.Status)
	return sol
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestThreePatientScenario(t *testing.T) {
	p, dist := threePatients()
	sol := solveWith(t, p, dist, SolveOptions{})

	assert.Zero(t, sol.Value(GroupSelect, 0))
	assert.InDelta(t, 1, sol.Value(GroupSelect, 1), costTol)
	assert.InDelta(t, 1, sol.Value(GroupSelect, 2), costTol)
	assert.Equal(t, []int{1, 2}, sol.HomePatients())

	transport := 2 * (2*1*5 + 1.2*math.Sqrt2)
	assert.InDelta(t, 300, sol.Costs[CostHospital], costTol)
	assert.InDelta(t, 500, sol.Costs[CostNurse], costTol)
	assert.InDelta(t, 100, sol.Costs[CostProcurement], costTol)
	assert.InDelta(t, 0, sol.Costs[CostInventory], costTol)
	assert.InDelta(t, transport, sol.Costs[CostTransport], costTol)
	assert.InDelta(t, 900+transport, sol.TotalCost, costTol)
	assert.InDelta(t, sol.TotalCost, sol.CostSum(), costTol)

	assert.InDelta(t, 2, sol.Value(GroupDeliveryCount, 0, 0), costTol)
	assert.InDelta(t, 1, sol.Value(GroupVehicleCount, 0, 0), costTol)
	assert.InDelta(t, 5, sol.Value(GroupAvgDistance, 0, 0), costTol)
	assert.InDelta(t, math.Sqrt2, sol.Value(GroupSqrtCount, 0, 0), costTol)
}

func TestThreePatientScenarioConstantRouting(t *testing.T) {
	p, dist := threePatients()
	want := 900 + 2*(10+1.2*math.Sqrt2)

	sol := solveWith(t, p, dist, SolveOptions{Build: BuildOptions{Routing: RoutingConstant}})
	assert.InDelta(t, want, sol.TotalCost, costTol)
	assert.NotContains(t, sol.Variables, GroupAvgDistance)

	relaxed := solveWith(t, p, dist, SolveOptions{Build: BuildOptions{Routing: RoutingConstant, RelaxSqrt: true}})
	assert.InDelta(t, 0, relaxed.Value(GroupSqrtCount, 0, 0), costTol)
	assert.InDelta(t, 20, relaxed.Costs[CostTransport], costTol)
	assert.LessOrEqual(t, relaxed.Costs[CostTransport], sol.Costs[CostTransport]+costTol)
}

func TestSolutionKeySets(t *testing.T) {
	p, dist := threePatients()
	sol := solveWith(t, p, dist, SolveOptions{})

	assert.Equal(t, []string{"0", "1", "2"}, keys(sol.Variables[GroupSelect]))
	assert.Equal(t, []string{"0,0,0"}, keys(sol.Variables[GroupInventory]))
	assert.Equal(t, []string{"0,0,0"}, keys(sol.Variables[GroupProcure]))
	assert.Equal(t, []string{"0,1,0,0", "0,2,0,0"}, keys(sol.Variables[GroupDeliver]))
	assert.Equal(t, []string{"1,0,0", "2,0,0"}, keys(sol.Variables[GroupServed]))
	assert.Equal(t, []string{"0,0"}, keys(sol.Variables[GroupDeliveryCount]))
	assert.Equal(t, []string{"0,0"}, keys(sol.Variables[GroupRoutingCost]))
	assert.ElementsMatch(t, CostCategories, keys(sol.Costs))
}

func TestInfeasibleScenario(t *testing.T) {
	p, dist := threePatients()
	p.Patients[1] = Patient{ID: 1, Eligible: false, HospitalLOS: 1}
	p.Demand.Set(0, 1, 0, 0)
	p.BedCapacity = 0

	_, err := Solve(context.Background(), p, dist, mip.NewEnumerator(), SolveOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInfeasible)

	// The solver reaches the same verdict on the assembled program.
	f, err := Build(p, dist, BuildOptions{})
	require.NoError(t, err)
	res, err := mip.NewEnumerator().Solve(context.Background(), f.Program, mip.Options{NonConvex: true})
	require.NoError(t, err)
	assert.Equal(t, mip.StatusInfeasible, res.Status)
}

func TestIneligibleStaysInHospital(t *testing.T) {
	p, dist := threePatients()
	p.BedCapacity = 3
	p.Patients[0].HospitalLOS = 50

	sol := solveWith(t, p, dist, SolveOptions{})
	assert.Zero(t, sol.Value(GroupSelect, 0))
}

func TestBedCapacityAndDemand(t *testing.T) {
	for beds := 0; beds <= 4; beds++ {
		p, dist := fourPatients(beds)
		sol := solveWith(t, p, dist, SolveOptions{})

		hospitalized := len(p.Patients) - len(sol.HomePatients())
		assert.LessOrEqualf(t, hospitalized, beds, "beds=%d", beds)

		// Demand is met exactly for home patients and is zero otherwise.
		for i := range p.Patients {
			sel := sol.Value(GroupSelect, i)
			for tt := 0; tt < p.Horizon; tt++ {
				var sent float64
				for j := 0; j < p.NumDepots; j++ {
					sent += sol.Value(GroupDeliver, 0, i, j, tt)
				}
				want := p.Demand.Get(0, i, tt) * sel
				assert.InDeltaf(t, want, sent, costTol, "beds=%d patient=%d day=%d", beds, i, tt)
			}
		}
	}
}

func TestInventoryBalance(t *testing.T) {
	p, dist := fourPatients(1)
	sol := solveWith(t, p, dist, SolveOptions{})

	for j := 0; j < p.NumDepots; j++ {
		var prev float64
		for tt := 0; tt < p.Horizon; tt++ {
			var out float64
			for i := range p.Patients {
				out += sol.Value(GroupDeliver, 0, i, j, tt)
			}
			inv := sol.Value(GroupInventory, 0, j, tt)
			assert.InDelta(t, prev+sol.Value(GroupProcure, 0, j, tt)-out, inv, costTol)
			assert.GreaterOrEqual(t, inv, -costTol)
			// Procurement price is flat, so any stock only adds holding cost.
			assert.InDelta(t, 0, inv, costTol)
			prev = inv
		}
	}
	assert.InDelta(t, 0, sol.Costs[CostInventory], costTol)
}

func TestCostMonotoneInBeds(t *testing.T) {
	prev := math.Inf(1)
	for beds := 0; beds <= 4; beds++ {
		p, dist := fourPatients(beds)
		sol := solveWith(t, p, dist, SolveOptions{})
		assert.LessOrEqualf(t, sol.TotalCost, prev+costTol, "beds=%d", beds)
		prev = sol.TotalCost
	}
}

func TestNobodyHomeRoutesNothing(t *testing.T) {
	p, dist := threePatients()
	p.BedCapacity = 3
	p.NurseCostPerDay = 10_000

	sol := solveWith(t, p, dist, SolveOptions{})
	assert.Empty(t, sol.HomePatients())
	for _, g := range []string{GroupDeliveryCount, GroupSqrtCount, GroupVehicleCount, GroupAvgDistance, GroupRoutingCost} {
		assert.InDeltaf(t, 0, sol.Value(g, 0, 0), costTol, "%s", g)
	}
	assert.InDelta(t, 900, sol.TotalCost, costTol)
}

// phantomInstance has an eligible patient without any home stay right next
// to the depot. Marking it served would halve the average distance.
func phantomInstance() (*Params, DistanceMatrix) {
	d := NewDemand()
	d.Set(0, 0, 0, 1)
	p := &Params{
		Name: "phantom",
		Patients: []Patient{
			{ID: 0, Eligible: true, HospitalLOS: 1, HomeLOS: 1},
			{ID: 1, Eligible: true, HospitalLOS: 1, HomeLOS: 0},
		},
		NumDepots:         1,
		ProcureCost:       []float64{50},
		Horizon:           1,
		BedCapacity:       2,
		HospCostPerDay:    400,
		NurseCostPerDay:   250,
		DeliveryCostPerKm: 2,
		NurseCapacity:     5,
		Beta:              1.2,
		Demand:            d,
	}
	dist := DistanceMatrix{
		{0, 10, 0},
		{10, 0, 10},
		{0, 10, 0},
	}
	return p, dist
}

func TestServiceLinkBlocksPhantomServed(t *testing.T) {
	p, dist := phantomInstance()

	tight := solveWith(t, p, dist, SolveOptions{})
	assert.Equal(t, []int{0, 1}, tight.HomePatients())
	assert.InDelta(t, 0, tight.Value(GroupServed, 1, 0, 0), costTol)
	assert.InDelta(t, 300+2*(20+1.2), tight.TotalCost, costTol)

	loose := solveWith(t, p, dist, SolveOptions{Build: BuildOptions{LooseServiceLink: true}})
	assert.InDelta(t, 1, loose.Value(GroupServed, 1, 0, 0), costTol)
	assert.Less(t, loose.TotalCost, tight.TotalCost)
}

func TestEstimateCostBoundsOptimum(t *testing.T) {
	p, dist := fourPatients(2)
	sol := solveWith(t, p, dist, SolveOptions{})

	f, err := Build(p, dist, BuildOptions{})
	require.NoError(t, err)

	est, err := f.EstimateCost(sol.HomePatients())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, est, sol.TotalCost-costTol)

	_, err = f.EstimateCost(nil)
	assert.ErrorIs(t, err, ErrInfeasible, "four patients do not fit in two beds")

	tp, tdist := threePatients()
	tf, err := Build(tp, tdist, BuildOptions{})
	require.NoError(t, err)
	est, err = tf.EstimateCost([]int{1, 2})
	require.NoError(t, err)
	assert.InDelta(t, 900+2*(10+1.2*math.Sqrt2), est, costTol)

	_, err = tf.EstimateCost([]int{0})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestWarmStartKeepsOptimum(t *testing.T) {
	p, dist := fourPatients(2)
	cold := solveWith(t, p, dist, SolveOptions{})

	var incumbents []float64
	warm := solveWith(t, p, dist, SolveOptions{
		WarmStart:   &WarmStartOptions{Iterations: 20, Seed: 3},
		OnIncumbent: func(inc mip.Incumbent) { incumbents = append(incumbents, inc.Objective) },
	})
	assert.InDelta(t, cold.TotalCost, warm.TotalCost, costTol)
	require.NotEmpty(t, incumbents)

	f, err := Build(p, dist, BuildOptions{})
	require.NoError(t, err)
	start, est, err := f.WarmStart(WarmStartOptions{Iterations: 20, Seed: 3})
	require.NoError(t, err)
	assert.Len(t, start, len(p.Patients))
	assert.GreaterOrEqual(t, est, cold.TotalCost-costTol)
}

func TestTimeLimitWithoutIncumbent(t *testing.T) {
	p, dist := fourPatients(2)
	_, err := Solve(context.Background(), p, dist, &mip.Enumerator{MaxNodes: 1}, SolveOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeoutNoIncumbent)
	assert.NotErrorIs(t, err, ErrInfeasible)
}

func TestBuildOptionsValidation(t *testing.T) {
	p, dist := threePatients()

	_, err := Build(p, dist, BuildOptions{Routing: RoutingCoupled, RelaxSqrt: true})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Build(p, dist, BuildOptions{BigM: -1})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestBigM(t *testing.T) {
	p, dist := fourPatients(2)

	f, err := Build(p, dist, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, f.BigM, "largest patient-day demand")
	assert.Empty(t, f.Warnings)

	f, err = Build(p, dist, BuildOptions{BigM: 0.5})
	require.NoError(t, err)
	require.Len(t, f.Warnings, 1)
	assert.Equal(t, "big_m", f.Warnings[0].Kind)

	f, err = Build(p, dist, BuildOptions{BigM: 1e7})
	require.NoError(t, err)
	assert.Len(t, f.Warnings, 1)
}

func TestBigMOverrideBelowDemandIsInfeasible(t *testing.T) {
	p, dist := threePatients()
	_, err := Solve(context.Background(), p, dist, mip.NewEnumerator(), SolveOptions{Build: BuildOptions{BigM: 0.5}})
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestParseRoutingMode(t *testing.T) {
	for in, want := range map[string]RoutingMode{"": RoutingCoupled, "coupled": RoutingCoupled, " Constant ": RoutingConstant} {
		got, err := ParseRoutingMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseRoutingMode("exact")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, "constant", RoutingConstant.String())
}

func TestNewRecord(t *testing.T) {
	p, dist := threePatients()
	sol := solveWith(t, p, dist, SolveOptions{})

	rec := NewRecord("run-1", p, sol, store.SolveConfig{Solver: "enum", Routing: "coupled"})
	require.NoError(t, rec.Validate())
	assert.Equal(t, "OPTIMAL", rec.Status)
	assert.Equal(t, store.ScenarioMeta{Name: "three-patients", Patients: 3, Beds: 1, Depots: 1, Bundles: 1, Horizon: 1}, rec.Scenario)
	assert.InDelta(t, sol.TotalCost, rec.TotalCost, 1e-12)
	assert.Len(t, rec.CostBreakdown, len(CostCategories))
}

func TestParseKey(t *testing.T) {
	idx, err := ParseKey(Key(3, 0, 11))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 0, 11}, idx)

	_, err = ParseKey("1,x")
	assert.Error(t, err)
	_, err = ParseKey("")
	assert.Error(t, err)
}
