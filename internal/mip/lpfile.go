package mip

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// colName is the column name used in LP, MST and SOL files. Program
// variable names carry brackets and commas, which the LP format reserves.
func colName(v VarID) string {
	return "x" + strconv.Itoa(int(v))
}

// WriteLP writes p in the LP file format understood by Gurobi, including
// bilinear constraint terms and POW general constraints. The objective
// constant is not written; callers add Program.ObjConstant back.
//
// A power constraint with sense LE and exponent 0.5 is written as the
// convex quadratic y^2 - x <= 0.
func WriteLP(w io.Writer, p *Program) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "\\ %d variables, %d constraints, %d power constraints\n", len(p.Vars), len(p.Constraints), len(p.Pows))
	for i, v := range p.Vars {
		fmt.Fprintf(bw, "\\ %s = %s\n", colName(VarID(i)), v.Name)
	}

	bw.WriteString("Minimize\n obj:")
	if len(p.Objective) == 0 {
		bw.WriteString(" 0 " + colName(0))
	}
	writeTerms(bw, p.Objective)
	bw.WriteString("\nSubject To\n")

	for i := range p.Constraints {
		c := &p.Constraints[i]
		fmt.Fprintf(bw, " c%d:", i)
		writeTerms(bw, c.Terms)
		if len(c.QTerms) > 0 {
			bw.WriteString(" + [")
			for k, q := range c.QTerms {
				if k > 0 || q.Coef < 0 {
					bw.WriteString(" " + sign(q.Coef))
				}
				fmt.Fprintf(bw, " %s %s * %s", formatCoef(math.Abs(q.Coef)), colName(q.A), colName(q.B))
			}
			bw.WriteString(" ]")
		}
		if len(c.Terms) == 0 && len(c.QTerms) == 0 {
			bw.WriteString(" 0 " + colName(0))
		}
		fmt.Fprintf(bw, " %s %s\n", c.Sense, formatCoef(c.RHS))
	}

	var general []int
	for i := range p.Pows {
		pc := &p.Pows[i]
		if pc.Sense == LE && pc.Exp == 0.5 {
			fmt.Fprintf(bw, " p%d: - %s + [ %s ^ 2 ] <= 0\n", i, colName(pc.X), colName(pc.Y))
			continue
		}
		general = append(general, i)
	}

	bw.WriteString("Bounds\n")
	for i, v := range p.Vars {
		name := colName(VarID(i))
		switch {
		case v.Kind == Binary:
			if v.Upper <= 0 {
				fmt.Fprintf(bw, " %s = 0\n", name)
			} else if v.Lower >= 1 {
				fmt.Fprintf(bw, " %s = 1\n", name)
			}
		case v.Lower == v.Upper:
			fmt.Fprintf(bw, " %s = %s\n", name, formatCoef(v.Lower))
		case math.IsInf(v.Lower, -1) && math.IsInf(v.Upper, 1):
			fmt.Fprintf(bw, " %s free\n", name)
		default:
			lower := "-inf"
			if !math.IsInf(v.Lower, -1) {
				lower = formatCoef(v.Lower)
			}
			upper := "+inf"
			if !math.IsInf(v.Upper, 1) {
				upper = formatCoef(v.Upper)
			}
			fmt.Fprintf(bw, " %s <= %s <= %s\n", lower, name, upper)
		}
	}

	writeSection(bw, "Generals", p, Integer)
	writeSection(bw, "Binaries", p, Binary)

	if len(general) > 0 {
		bw.WriteString("General Constraints\n")
		for _, i := range general {
			pc := &p.Pows[i]
			if pc.Sense != EQ {
				return fmt.Errorf("%w: %s: only y = x^a or y <= x^0.5 can be exported", ErrUnsupported, pc.Name)
			}
			fmt.Fprintf(bw, " g%d: %s = POW ( %s , %s )\n", i, colName(pc.Y), colName(pc.X), formatCoef(pc.Exp))
		}
	}

	bw.WriteString("End\n")
	return bw.Flush()
}

func writeTerms(bw *bufio.Writer, terms []Term) {
	for k, t := range terms {
		if k > 0 || t.Coef < 0 {
			bw.WriteString(" " + sign(t.Coef))
		}
		fmt.Fprintf(bw, " %s %s", formatCoef(math.Abs(t.Coef)), colName(t.Var))
	}
}

func writeSection(bw *bufio.Writer, header string, p *Program, kind VarKind) {
	var names []string
	for i, v := range p.Vars {
		if v.Kind == kind {
			names = append(names, colName(VarID(i)))
		}
	}
	if len(names) == 0 {
		return
	}
	bw.WriteString(header + "\n")
	for i := 0; i < len(names); i += 10 {
		end := min(i+10, len(names))
		bw.WriteString(" " + strings.Join(names[i:end], " ") + "\n")
	}
}

func sign(c float64) string {
	if c < 0 {
		return "-"
	}
	return "+"
}

func formatCoef(c float64) string {
	return strconv.FormatFloat(c, 'g', -1, 64)
}

// WriteStart writes a MIP start file with one "name value" line per entry.
func WriteStart(w io.Writer, start map[VarID]float64) error {
	ids := make([]int, 0, len(start))
	for v := range start {
		ids = append(ids, int(v))
	}
	sort.Ints(ids)

	bw := bufio.NewWriter(w)
	for _, id := range ids {
		fmt.Fprintf(bw, "%s %s\n", colName(VarID(id)), formatCoef(start[VarID(id)]))
	}
	return bw.Flush()
}

// ReadSolution parses a SOL file into a value slice of length n.
// Lines starting with '#' are comments.
func ReadSolution(r io.Reader, n int) ([]float64, error) {
	values := make([]float64, n)
	seen := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || !strings.HasPrefix(fields[0], "x") {
			return nil, fmt.Errorf("malformed solution line %q", line)
		}
		id, err := strconv.Atoi(fields[0][1:])
		if err != nil || id < 0 || id >= n {
			return nil, fmt.Errorf("unknown column %q", fields[0])
		}
		val, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse value of %s: %w", fields[0], err)
		}
		values[id] = val
		seen++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read solution: %w", err)
	}
	if seen == 0 {
		return nil, fmt.Errorf("solution file has no values")
	}
	return values, nil
}
