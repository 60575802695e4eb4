package mip

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

var (
	errLPInfeasible = errors.New("mip: linear relaxation infeasible")
	errLPUnbounded  = errors.New("mip: linear relaxation unbounded")
)

// lpRow is sum(coefs[k]*x[cols[k]]) (sense) rhs.
type lpRow struct {
	cols  []int
	coefs []float64
	sense Sense
	rhs   float64
}

// solveLP minimizes c·x subject to rows and lo <= x <= hi using gonum's
// simplex. Every lo must be finite; hi may be +Inf.
//
// The problem is brought to the standard form gonum expects
// (A y = b, y >= 0, A with full row rank, no empty rows or columns)
// by shifting x = lo + y, adding slacks for inequality rows and finite
// upper bounds, and dropping rows that are linear combinations of
// earlier ones.
func solveLP(c []float64, rows []lpRow, lo, hi []float64) ([]float64, error) {
	const tol = 1e-9
	n := len(c)
	for j := 0; j < n; j++ {
		if math.IsInf(lo[j], 0) || math.IsNaN(lo[j]) {
			return nil, fmt.Errorf("%w: column %d has no finite lower bound", ErrUnsupported, j)
		}
	}

	width := n
	for _, r := range rows {
		if r.sense != EQ {
			width++
		}
	}
	for j := 0; j < n; j++ {
		if !math.IsInf(hi[j], 1) {
			width++
		}
	}

	A := make([][]float64, 0, width)
	b := make([]float64, 0, width)
	slack := n
	for _, r := range rows {
		a := make([]float64, width)
		rhs := r.rhs
		for k, col := range r.cols {
			a[col] += r.coefs[k]
			rhs -= r.coefs[k] * lo[col]
		}
		switch r.sense {
		case LE:
			a[slack] = 1
			slack++
		case GE:
			a[slack] = -1
			slack++
		}
		A = append(A, a)
		b = append(b, rhs)
	}
	for j := 0; j < n; j++ {
		if math.IsInf(hi[j], 1) {
			continue
		}
		span := hi[j] - lo[j]
		if span < -tol {
			return nil, errLPInfeasible
		}
		a := make([]float64, width)
		a[j] = 1
		a[slack] = 1
		slack++
		A = append(A, a)
		b = append(b, math.Max(span, 0))
	}
	for i := range A {
		if b[i] < 0 {
			for k := range A[i] {
				A[i][k] = -A[i][k]
			}
			b[i] = -b[i]
		}
	}

	keep, err := independentRows(A, b)
	if err != nil {
		return nil, err
	}

	cStd := make([]float64, width)
	copy(cStd, c)

	// Columns that appear in no kept row stay at zero.
	var cols []int
	for k := 0; k < width; k++ {
		used := false
		for _, i := range keep {
			if A[i][k] != 0 {
				used = true
				break
			}
		}
		if used {
			cols = append(cols, k)
			continue
		}
		if cStd[k] < 0 {
			return nil, errLPUnbounded
		}
	}

	y := make([]float64, width)
	if len(keep) > 0 {
		data := make([]float64, 0, len(keep)*len(cols))
		for _, i := range keep {
			for _, k := range cols {
				data = append(data, A[i][k])
			}
		}
		bRed := make([]float64, len(keep))
		for r, i := range keep {
			bRed[r] = b[i]
		}
		cRed := make([]float64, len(cols))
		for r, k := range cols {
			cRed[r] = cStd[k]
		}

		_, sol, err := lp.Simplex(cRed, mat.NewDense(len(keep), len(cols), data), bRed, 1e-10, nil)
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return nil, errLPInfeasible
		case errors.Is(err, lp.ErrUnbounded):
			return nil, errLPUnbounded
		case err != nil:
			return nil, fmt.Errorf("simplex: %w", err)
		}
		for r, k := range cols {
			y[k] = sol[r]
		}
	}

	x := make([]float64, n)
	for j := 0; j < n; j++ {
		x[j] = math.Min(math.Max(lo[j]+y[j], lo[j]), hi[j])
	}
	return x, nil
}

// independentRows returns the indices of a maximal linearly independent
// subset of the rows of [A | b]. A row that reduces to 0 = nonzero makes the
// system inconsistent and yields errLPInfeasible.
func independentRows(A [][]float64, b []float64) ([]int, error) {
	type pivotRow struct {
		vec   []float64
		rhs   float64
		pivot int
	}
	var basis []pivotRow
	var keep []int

	for i, row := range A {
		scale := 1.0
		for _, v := range row {
			scale = math.Max(scale, math.Abs(v))
		}
		eps := 1e-9 * scale

		r := append([]float64(nil), row...)
		rhs := b[i]
		for _, br := range basis {
			f := r[br.pivot]
			if f == 0 {
				continue
			}
			for k := range r {
				r[k] -= f * br.vec[k]
			}
			rhs -= f * br.rhs
		}

		pivot, best := -1, eps
		for k, v := range r {
			if math.Abs(v) > best {
				pivot, best = k, math.Abs(v)
			}
		}
		if pivot < 0 {
			if math.Abs(rhs) > 1e-7*math.Max(1, math.Abs(b[i])) {
				return nil, errLPInfeasible
			}
			continue
		}

		inv := 1 / r[pivot]
		for k := range r {
			r[k] *= inv
		}
		basis = append(basis, pivotRow{vec: r, rhs: rhs * inv, pivot: pivot})
		keep = append(keep, i)
	}
	return keep, nil
}
