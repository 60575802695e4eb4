package mip

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// DefaultMaxNodes bounds an Enumerator search when MaxNodes is zero.
const DefaultMaxNodes = 2_000_000

// Enumerator is an exact in-process solver for small programs. It enumerates
// the finite domains of integer and binary variables depth first, tightens
// bounds through every linear row after each fixing, and solves the remaining
// continuous problem with the simplex method.
//
// Bilinear terms must have a fixed factor and power constraints a fixed base
// by the time all integer variables are fixed; otherwise Solve returns
// ErrUnsupported. Hitting MaxNodes is reported like a time limit.
type Enumerator struct {
	MaxNodes int
	Tol      float64
}

// NewEnumerator returns an Enumerator with default limits.
func NewEnumerator() *Enumerator {
	return &Enumerator{}
}

func (e *Enumerator) Name() string { return "enum" }

type search struct {
	p        *Program
	opts     Options
	ctx      context.Context
	tol      float64
	maxNodes int
	started  time.Time
	deadline time.Time

	order []VarID
	nodes int

	stopped bool
	best    []float64
	bestObj float64
}

// Solve runs the enumeration until it is exhausted, ctx is done, the time
// limit passes or the node limit is reached.
func (e *Enumerator) Solve(ctx context.Context, p *Program, opts Options) (*Result, error) {
	if p.NonConvex() && !opts.NonConvex {
		return nil, ErrNonConvexDisabled
	}
	for _, pc := range p.Pows {
		if pc.Exp <= 0 {
			return nil, fmt.Errorf("%w: %s has non-positive exponent %g", ErrUnsupported, pc.Name, pc.Exp)
		}
		if pc.Sense == GE {
			return nil, fmt.Errorf("%w: %s uses >=", ErrUnsupported, pc.Name)
		}
	}

	s := &search{
		p:        p,
		opts:     opts,
		ctx:      ctx,
		tol:      e.Tol,
		maxNodes: e.MaxNodes,
		started:  time.Now(),
		bestObj:  math.Inf(1),
	}
	if s.tol <= 0 {
		s.tol = 1e-6
	}
	if s.maxNodes <= 0 {
		s.maxNodes = DefaultMaxNodes
	}
	if opts.TimeLimit > 0 {
		s.deadline = s.started.Add(opts.TimeLimit)
	}
	s.order = branchOrder(p, opts.Start)

	lo := make([]float64, len(p.Vars))
	hi := make([]float64, len(p.Vars))
	for i, v := range p.Vars {
		lo[i], hi[i] = v.Lower, v.Upper
		if v.Kind != Continuous {
			lo[i] = math.Ceil(lo[i] - s.tol)
			hi[i] = math.Floor(hi[i] + s.tol)
		}
	}
	for _, pc := range p.Pows {
		lo[pc.X] = math.Max(lo[pc.X], 0)
	}

	if err := s.branch(lo, hi); err != nil {
		return nil, err
	}

	res := &Result{Nodes: s.nodes, Runtime: time.Since(s.started)}
	switch {
	case s.best != nil && !s.stopped:
		res.Status = StatusOptimal
	case s.best != nil:
		res.Status = StatusTimeLimit
	case s.stopped:
		res.Status = StatusNoIncumbent
	default:
		res.Status = StatusInfeasible
	}
	if s.best != nil {
		res.Values = s.best
		res.Objective = s.bestObj
	}

	slog.Debug("Enumeration finished",
		"status", res.Status.String(),
		"nodes", res.Nodes,
		"objective", res.Objective,
		"runtime", res.Runtime,
	)
	return res, nil
}

// branchOrder lists integer variables, warm-started ones first.
func branchOrder(p *Program, start map[VarID]float64) []VarID {
	var hinted, rest []VarID
	for i, v := range p.Vars {
		if v.Kind == Continuous {
			continue
		}
		if _, ok := start[VarID(i)]; ok {
			hinted = append(hinted, VarID(i))
		} else {
			rest = append(rest, VarID(i))
		}
	}
	return append(hinted, rest...)
}

func (s *search) stop() bool {
	if s.stopped {
		return true
	}
	switch {
	case s.nodes >= s.maxNodes:
		s.stopped = true
	case s.ctx.Err() != nil:
		s.stopped = true
	case !s.deadline.IsZero() && time.Now().After(s.deadline):
		s.stopped = true
	}
	return s.stopped
}

func (s *search) branch(lo, hi []float64) error {
	if s.stop() {
		return nil
	}
	s.nodes++

	if !s.propagate(lo, hi) {
		return nil
	}
	if s.best != nil && s.bound(lo, hi) >= s.bestObj-s.tol*math.Max(1, math.Abs(s.bestObj)) {
		return nil
	}

	v, ok := s.pick(lo, hi)
	if !ok {
		return s.leaf(lo, hi)
	}
	if math.IsInf(hi[v], 1) || math.IsInf(lo[v], -1) {
		return fmt.Errorf("%w: integer variable %s has an unbounded domain", ErrUnsupported, s.p.Vars[v].Name)
	}

	for _, val := range s.domain(v, lo[v], hi[v]) {
		clo := append([]float64(nil), lo...)
		chi := append([]float64(nil), hi...)
		clo[v], chi[v] = val, val
		if err := s.branch(clo, chi); err != nil {
			return err
		}
		if s.stopped {
			return nil
		}
	}
	return nil
}

func (s *search) pick(lo, hi []float64) (VarID, bool) {
	for _, v := range s.order {
		if hi[v]-lo[v] > 0.5 {
			return v, true
		}
	}
	return 0, false
}

// domain lists the candidate values of v, the warm start value first.
func (s *search) domain(v VarID, lo, hi float64) []float64 {
	vals := make([]float64, 0, int(hi-lo)+1)
	first := math.NaN()
	if hint, ok := s.opts.Start[v]; ok {
		h := math.Round(hint)
		if h >= lo && h <= hi {
			first = h
			vals = append(vals, h)
		}
	}
	for x := lo; x <= hi; x++ {
		if x != first {
			vals = append(vals, x)
		}
	}
	return vals
}

// bound is a valid lower bound on the objective under the current bounds.
func (s *search) bound(lo, hi []float64) float64 {
	b := s.p.ObjConstant
	for _, t := range s.p.Objective {
		if t.Coef > 0 {
			b += t.Coef * lo[t.Var]
		} else {
			b += t.Coef * hi[t.Var]
		}
	}
	if math.IsNaN(b) {
		return math.Inf(-1)
	}
	return b
}

func (s *search) isFixed(v VarID, lo, hi []float64) bool {
	return hi[v]-lo[v] <= 1e-9*math.Max(1, math.Abs(lo[v]))
}

func (s *search) fixedValue(v VarID, lo, hi []float64) float64 {
	if s.p.Vars[v].Kind != Continuous {
		r := math.Round(lo[v])
		if r == 0 {
			return 0 // not -0
		}
		return r
	}
	return lo[v]
}

// linearize substitutes fixed factors of bilinear terms. It reports false
// when a bilinear term still has two free factors.
func (s *search) linearize(c *Constraint, lo, hi []float64) ([]Term, bool) {
	if !c.Quadratic() {
		return c.Terms, true
	}
	coef := make(map[VarID]float64, len(c.Terms)+len(c.QTerms))
	order := make([]VarID, 0, len(c.Terms)+len(c.QTerms))
	add := func(v VarID, a float64) {
		if _, seen := coef[v]; !seen {
			order = append(order, v)
		}
		coef[v] += a
	}
	for _, t := range c.Terms {
		add(t.Var, t.Coef)
	}
	for _, q := range c.QTerms {
		switch {
		case s.isFixed(q.A, lo, hi):
			add(q.B, q.Coef*s.fixedValue(q.A, lo, hi))
		case s.isFixed(q.B, lo, hi):
			add(q.A, q.Coef*s.fixedValue(q.B, lo, hi))
		default:
			return nil, false
		}
	}
	terms := make([]Term, 0, len(order))
	for _, v := range order {
		terms = append(terms, Term{Var: v, Coef: coef[v]})
	}
	return terms, true
}

const maxPropagationPasses = 50

// propagate tightens lo/hi in place and reports false on infeasibility.
func (s *search) propagate(lo, hi []float64) bool {
	for pass := 0; pass < maxPropagationPasses; pass++ {
		changed := false
		for i := range s.p.Pows {
			ok, ch := s.propagatePow(&s.p.Pows[i], lo, hi)
			if !ok {
				return false
			}
			changed = changed || ch
		}
		for i := range s.p.Constraints {
			c := &s.p.Constraints[i]
			terms, ok := s.linearize(c, lo, hi)
			if !ok {
				continue
			}
			if c.Sense == LE || c.Sense == EQ {
				ok, ch := s.tighten(terms, 1, c.RHS, lo, hi)
				if !ok {
					return false
				}
				changed = changed || ch
			}
			if c.Sense == GE || c.Sense == EQ {
				ok, ch := s.tighten(terms, -1, -c.RHS, lo, hi)
				if !ok {
					return false
				}
				changed = changed || ch
			}
		}
		if !changed {
			return true
		}
	}
	return true
}

// tighten applies sign*sum(terms) <= rhs to the bounds of every term.
func (s *search) tighten(terms []Term, sign, rhs float64, lo, hi []float64) (bool, bool) {
	contrib := func(t Term) float64 {
		a := sign * t.Coef
		if a > 0 {
			return a * lo[t.Var]
		}
		return a * hi[t.Var]
	}

	minAct, infCount, infIdx := 0.0, 0, -1
	for k, t := range terms {
		if t.Coef == 0 {
			continue
		}
		m := contrib(t)
		if math.IsInf(m, -1) {
			infCount++
			infIdx = k
			continue
		}
		minAct += m
	}
	if infCount == 0 && minAct > rhs+s.tol*math.Max(1, math.Abs(rhs)) {
		return false, false
	}
	if infCount > 1 {
		return true, false
	}

	changed := false
	for k, t := range terms {
		if t.Coef == 0 {
			continue
		}
		var rest float64
		switch {
		case infCount == 0:
			rest = minAct - contrib(t)
		case infIdx == k:
			rest = minAct
		default:
			continue
		}

		a := sign * t.Coef
		v := t.Var
		limit := (rhs - rest) / a
		integral := s.p.Vars[v].Kind != Continuous
		if a > 0 {
			if integral {
				limit = math.Floor(limit + s.tol)
			}
			if limit < hi[v]-1e-7*math.Max(1, math.Abs(hi[v])) {
				hi[v] = limit
				changed = true
			}
		} else {
			if integral {
				limit = math.Ceil(limit - s.tol)
			}
			if limit > lo[v]+1e-7*math.Max(1, math.Abs(lo[v])) {
				lo[v] = limit
				changed = true
			}
		}
		if lo[v] > hi[v] {
			if lo[v]-hi[v] > s.tol*math.Max(1, math.Abs(hi[v])) {
				return false, changed
			}
			hi[v] = lo[v]
		}
	}
	return true, changed
}

func (s *search) propagatePow(pc *PowConstraint, lo, hi []float64) (bool, bool) {
	changed := false
	setHi := func(v VarID, x float64) bool {
		if s.p.Vars[v].Kind != Continuous {
			x = math.Floor(x + s.tol)
		}
		if x < hi[v]-1e-7*math.Max(1, math.Abs(hi[v])) {
			hi[v] = x
			changed = true
		}
		return lo[v] <= hi[v]+s.tol*math.Max(1, math.Abs(hi[v]))
	}
	setLo := func(v VarID, x float64) bool {
		if s.p.Vars[v].Kind != Continuous {
			x = math.Ceil(x - s.tol)
		}
		if x > lo[v]+1e-7*math.Max(1, math.Abs(lo[v])) {
			lo[v] = x
			changed = true
		}
		return lo[v] <= hi[v]+s.tol*math.Max(1, math.Abs(hi[v]))
	}

	yHi := math.Pow(hi[pc.X], pc.Exp)
	if !setHi(pc.Y, yHi) {
		return false, changed
	}
	if pc.Sense == EQ {
		if !setLo(pc.Y, math.Pow(lo[pc.X], pc.Exp)) {
			return false, changed
		}
		inv := 1 / pc.Exp
		if !setLo(pc.X, math.Pow(math.Max(lo[pc.Y], 0), inv)) {
			return false, changed
		}
		if !setHi(pc.X, math.Pow(math.Max(hi[pc.Y], 0), inv)) {
			return false, changed
		}
	}
	for _, v := range []VarID{pc.X, pc.Y} {
		if lo[v] > hi[v] {
			hi[v] = lo[v]
		}
	}
	return true, changed
}

// leaf solves the continuous remainder once every integer variable is fixed.
func (s *search) leaf(lo, hi []float64) error {
	p := s.p
	n := len(p.Vars)
	x := make([]float64, n)
	col := make([]int, n)
	var free []VarID
	for i := range p.Vars {
		v := VarID(i)
		if p.Vars[i].Kind == Continuous && !s.isFixed(v, lo, hi) {
			col[i] = len(free)
			free = append(free, v)
			continue
		}
		col[i] = -1
		x[i] = s.fixedValue(v, lo, hi)
	}

	var rows []lpRow
	addRow := func(name string, terms []Term, sense Sense, rhs float64) bool {
		r := lpRow{sense: sense, rhs: rhs}
		for _, t := range terms {
			if t.Coef == 0 {
				continue
			}
			if col[t.Var] < 0 {
				r.rhs -= t.Coef * x[t.Var]
				continue
			}
			r.cols = append(r.cols, col[t.Var])
			r.coefs = append(r.coefs, t.Coef)
		}
		if len(r.cols) == 0 {
			return satisfied(0, sense, r.rhs, s.tol)
		}
		rows = append(rows, r)
		return true
	}

	for i := range p.Pows {
		pc := &p.Pows[i]
		if col[pc.X] >= 0 {
			return fmt.Errorf("%w: base of %s is free at a leaf", ErrUnsupported, pc.Name)
		}
		target := math.Pow(x[pc.X], pc.Exp)
		if col[pc.Y] < 0 {
			if !satisfied(x[pc.Y], pc.Sense, target, s.tol) {
				return nil
			}
			continue
		}
		if !addRow(pc.Name, []Term{{Var: pc.Y, Coef: 1}}, pc.Sense, target) {
			return nil
		}
	}
	for i := range p.Constraints {
		c := &p.Constraints[i]
		terms, ok := s.linearize(c, lo, hi)
		if !ok {
			return fmt.Errorf("%w: %s has a bilinear term with two free factors", ErrUnsupported, c.Name)
		}
		if !addRow(c.Name, terms, c.Sense, c.RHS) {
			return nil
		}
	}

	if len(free) > 0 {
		cost := make([]float64, len(free))
		for _, t := range p.Objective {
			if col[t.Var] >= 0 {
				cost[col[t.Var]] += t.Coef
			}
		}
		flo := make([]float64, len(free))
		fhi := make([]float64, len(free))
		for k, v := range free {
			flo[k], fhi[k] = lo[v], hi[v]
		}
		sol, err := solveLP(cost, rows, flo, fhi)
		switch {
		case err == errLPInfeasible:
			return nil
		case err == errLPUnbounded:
			return fmt.Errorf("%w: objective is unbounded", ErrUnsupported)
		case err != nil:
			return err
		}
		for k, v := range free {
			x[v] = sol[k]
		}
	}

	if err := p.Check(x, s.tol); err != nil {
		slog.Debug("Discarding leaf", "error", err)
		return nil
	}

	obj := p.Evaluate(x)
	if s.best != nil && obj >= s.bestObj-1e-9*math.Max(1, math.Abs(s.bestObj)) {
		return nil
	}
	s.best = x
	s.bestObj = obj

	inc := Incumbent{Objective: obj, Nodes: s.nodes, Elapsed: time.Since(s.started)}
	slog.Debug("New incumbent", "objective", obj, "nodes", s.nodes)
	if s.opts.OnIncumbent != nil {
		s.opts.OnIncumbent(inc)
	}
	return nil
}
