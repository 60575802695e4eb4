package opt

// Decode maps continuous positions to a binary allocation: a coordinate of
// 0.5 or more means true.
func Decode(pos []float64) []bool {
	out := make([]bool, len(pos))
	for k, x := range pos {
		out[k] = x >= 0.5
	}
	return out
}

// SearchAllocation searches over dim binary choices with o, relaxing each
// choice to [0,1] and rounding through Decode. cost must accept any
// allocation; infeasible ones should be repaired or penalized by the caller.
func SearchAllocation(o Optimizer, dim int, cost func([]bool) float64) ([]bool, float64, error) {
	if dim == 0 {
		return nil, cost(nil), nil
	}
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for k := range upper {
		upper[k] = 1
	}
	eval := func(pos []float64) float64 {
		return cost(Decode(pos))
	}
	best, _, err := o.Run(eval, lower, upper, dim)
	if err != nil {
		return nil, 0, err
	}
	alloc := Decode(best)
	return alloc, cost(alloc), nil
}
