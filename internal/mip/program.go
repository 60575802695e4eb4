package mip

import (
	"fmt"
	"math"
)

// VarKind is the domain of a decision variable.
type VarKind int

const (
	Continuous VarKind = iota
	Integer
	Binary
)

func (k VarKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Integer:
		return "integer"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("VarKind(%d)", int(k))
	}
}

// VarID indexes Program.Vars.
type VarID int

// Var is a single decision variable. Upper may be +Inf.
type Var struct {
	Name  string
	Kind  VarKind
	Lower float64
	Upper float64
}

// Sense is the relation of a constraint row to its right-hand side.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

func (s Sense) String() string {
	switch s {
	case LE:
		return "<="
	case GE:
		return ">="
	default:
		return "="
	}
}

// Term is coef*x.
type Term struct {
	Var  VarID
	Coef float64
}

// QTerm is coef*a*b.
type QTerm struct {
	A, B VarID
	Coef float64
}

// Constraint is a linear row, optionally carrying bilinear terms:
// sum(Terms) + sum(QTerms) (sense) RHS.
type Constraint struct {
	Name   string
	Terms  []Term
	QTerms []QTerm
	Sense  Sense
	RHS    float64
}

// Quadratic reports whether the row carries bilinear terms.
func (c *Constraint) Quadratic() bool {
	return len(c.QTerms) > 0
}

// PowConstraint relates Y to X^Exp with Sense EQ (Y = X^Exp) or LE (Y <= X^Exp).
// X must be non-negative.
type PowConstraint struct {
	Name  string
	X, Y  VarID
	Exp   float64
	Sense Sense
}

// Program is a minimization problem over Vars. It carries no solver state.
type Program struct {
	Vars        []Var
	Constraints []Constraint
	Pows        []PowConstraint
	Objective   []Term
	ObjConstant float64
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{}
}

// AddVar appends a variable and returns its id. Binary variables are clamped to [0,1].
func (p *Program) AddVar(name string, kind VarKind, lower, upper float64) VarID {
	if kind == Binary {
		lower = math.Max(lower, 0)
		upper = math.Min(upper, 1)
	}
	p.Vars = append(p.Vars, Var{Name: name, Kind: kind, Lower: lower, Upper: upper})
	return VarID(len(p.Vars) - 1)
}

// AddConstr appends a linear row.
func (p *Program) AddConstr(name string, terms []Term, sense Sense, rhs float64) {
	p.Constraints = append(p.Constraints, Constraint{Name: name, Terms: terms, Sense: sense, RHS: rhs})
}

// AddQConstr appends a row with bilinear terms.
func (p *Program) AddQConstr(name string, terms []Term, qterms []QTerm, sense Sense, rhs float64) {
	p.Constraints = append(p.Constraints, Constraint{Name: name, Terms: terms, QTerms: qterms, Sense: sense, RHS: rhs})
}

// AddPow appends y (sense) x^exp.
func (p *Program) AddPow(name string, x, y VarID, exp float64, sense Sense) {
	p.Pows = append(p.Pows, PowConstraint{Name: name, X: x, Y: y, Exp: exp, Sense: sense})
}

// AddObjective adds coef*v to the objective.
func (p *Program) AddObjective(v VarID, coef float64) {
	if coef == 0 {
		return
	}
	p.Objective = append(p.Objective, Term{Var: v, Coef: coef})
}

// NumVars returns the number of variables.
func (p *Program) NumVars() int {
	return len(p.Vars)
}

// NonConvex reports whether the program needs a non-convex capable solver.
func (p *Program) NonConvex() bool {
	if len(p.Pows) > 0 {
		return true
	}
	for i := range p.Constraints {
		if p.Constraints[i].Quadratic() {
			return true
		}
	}
	return false
}

// Evaluate returns the objective value of a full assignment.
func (p *Program) Evaluate(values []float64) float64 {
	obj := p.ObjConstant
	for _, t := range p.Objective {
		obj += t.Coef * values[t.Var]
	}
	return obj
}

// Activity returns the left-hand side of c under values.
func (c *Constraint) Activity(values []float64) float64 {
	var act float64
	for _, t := range c.Terms {
		act += t.Coef * values[t.Var]
	}
	for _, q := range c.QTerms {
		act += q.Coef * values[q.A] * values[q.B]
	}
	return act
}

// ViolationError describes the first constraint or bound an assignment breaks.
type ViolationError struct {
	Name     string
	Activity float64
	Sense    Sense
	RHS      float64
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("violated %s: %g %s %g", e.Name, e.Activity, e.Sense, e.RHS)
}

// Check verifies bounds, integrality and every constraint within tol.
func (p *Program) Check(values []float64, tol float64) error {
	if len(values) != len(p.Vars) {
		return fmt.Errorf("expected %d values, got %d", len(p.Vars), len(values))
	}
	for i, v := range p.Vars {
		x := values[i]
		if x < v.Lower-tol {
			return &ViolationError{Name: v.Name + " lower bound", Activity: x, Sense: GE, RHS: v.Lower}
		}
		if x > v.Upper+tol {
			return &ViolationError{Name: v.Name + " upper bound", Activity: x, Sense: LE, RHS: v.Upper}
		}
		if v.Kind != Continuous && math.Abs(x-math.Round(x)) > tol {
			return &ViolationError{Name: v.Name + " integrality", Activity: x, Sense: EQ, RHS: math.Round(x)}
		}
	}
	for i := range p.Constraints {
		c := &p.Constraints[i]
		if !satisfied(c.Activity(values), c.Sense, c.RHS, tol) {
			return &ViolationError{Name: c.Name, Activity: c.Activity(values), Sense: c.Sense, RHS: c.RHS}
		}
	}
	for _, pc := range p.Pows {
		target := math.Pow(math.Max(values[pc.X], 0), pc.Exp)
		if !satisfied(values[pc.Y], pc.Sense, target, tol) {
			return &ViolationError{Name: pc.Name, Activity: values[pc.Y], Sense: pc.Sense, RHS: target}
		}
	}
	return nil
}

func satisfied(act float64, sense Sense, rhs, tol float64) bool {
	scaled := tol * math.Max(1, math.Abs(rhs))
	switch sense {
	case LE:
		return act <= rhs+scaled
	case GE:
		return act >= rhs-scaled
	default:
		return math.Abs(act-rhs) <= scaled
	}
}
