/*
Copyright © 2025 the Clyfar authors.
This file is part of Clyfar.

Clyfar is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Clyfar is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Clyfar.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package fis implements the fuzzy inference engine that maps
// basin-representative weather values to a possibility distribution over
// ozone categories. Membership functions are piecewise linear over finite
// uniform universes of discourse; rule evaluation uses min for AND and max
// for OR; defuzzification takes percentiles of the area under the
// aggregated output shape.
package fis

import (
	"fmt"
	"math"
	"sort"
)

// Universe is a finite uniform grid over which membership functions are
// represented.
type Universe struct {
	Min, Max, Step float64
	Points         []float64
}

// NewUniverse constructs a uniform universe of discourse covering
// [min, max] with the given step. The endpoints are included.
func NewUniverse(min, max, step float64) (*Universe, error) {
	if !(min < max) {
		return nil, fmt.Errorf("fis: universe min %g must be less than max %g", min, max)
	}
	if !(step > 0) {
		return nil, fmt.Errorf("fis: universe step %g must be positive", step)
	}
	n := int(math.Floor((max-min)/step+1e-9)) + 1
	u := &Universe{Min: min, Max: max, Step: step, Points: make([]float64, n)}
	for i := 0; i < n; i++ {
		u.Points[i] = min + float64(i)*step
	}
	return u, nil
}

// Clip limits v to the universe bounds, reporting whether clipping
// occurred. Clipping is idempotent and order-preserving for in-universe
// values; NaN passes through unclipped.
func (u *Universe) Clip(v float64) (float64, bool) {
	if math.IsNaN(v) {
		return v, false
	}
	if v < u.Min {
		return u.Min, true
	}
	if v > u.Max {
		return u.Max, true
	}
	return v, false
}

// PLS returns a piecewise-linear sigmoid membership array over u: constant
// hLeft up to xLeft, a linear transition to hRight between xLeft and
// xRight, and constant hRight beyond.
func PLS(u *Universe, hLeft, xLeft, xRight, hRight float64) ([]float64, error) {
	if !(xLeft < xRight) {
		return nil, fmt.Errorf("fis: sigmoid requires x_left %g < x_right %g", xLeft, xRight)
	}
	for _, h := range []float64{hLeft, hRight} {
		if h < 0 || h > 1 {
			return nil, fmt.Errorf("fis: sigmoid height %g outside [0,1]", h)
		}
	}
	mf := make([]float64, len(u.Points))
	slope := (hRight - hLeft) / (xRight - xLeft)
	for i, x := range u.Points {
		switch {
		case x <= xLeft:
			mf[i] = hLeft
		case x >= xRight:
			mf[i] = hRight
		default:
			mf[i] = hLeft + slope*(x-xLeft)
		}
	}
	return mf, nil
}

// Trap returns a trapezoidal membership array over u: zero outside
// [xLeft, xRight], rising linearly to h on [xLeft, mLower], constant h on
// the core [mLower, mUpper], and falling linearly to zero on
// [mUpper, xRight].
func Trap(u *Universe, xLeft, mLower, mUpper, xRight, h float64) ([]float64, error) {
	if !(xLeft < mLower && mLower <= mUpper && mUpper < xRight) {
		return nil, fmt.Errorf("fis: trapezoid requires x_left < m_lower <= m_upper < x_right, got %g, %g, %g, %g",
			xLeft, mLower, mUpper, xRight)
	}
	if h < 0 || h > 1 {
		return nil, fmt.Errorf("fis: trapezoid height %g outside [0,1]", h)
	}
	mf := make([]float64, len(u.Points))
	riseSlope := h / (mLower - xLeft)
	fallSlope := h / (xRight - mUpper)
	for i, x := range u.Points {
		switch {
		case x < xLeft || x > xRight:
			mf[i] = 0
		case x < mLower:
			mf[i] = riseSlope * (x - xLeft)
		case x <= mUpper:
			mf[i] = h
		default:
			mf[i] = h - fallSlope*(x-mUpper)
		}
	}
	return mf, nil
}

// VariableDef holds a variable's universe and its category membership
// functions.
type VariableDef struct {
	Name       string
	Universe   *Universe
	Categories []string
	mfs        map[string][]float64
}

// NewVariableDef creates a variable definition with no categories.
func NewVariableDef(name string, u *Universe) *VariableDef {
	return &VariableDef{Name: name, Universe: u, mfs: make(map[string][]float64)}
}

// AddCategory attaches a membership array to the variable. The array must
// match the universe length.
func (v *VariableDef) AddCategory(category string, mf []float64) error {
	if len(mf) != len(v.Universe.Points) {
		return fmt.Errorf("fis: %s[%s] membership length %d does not match universe length %d",
			v.Name, category, len(mf), len(v.Universe.Points))
	}
	if _, ok := v.mfs[category]; ok {
		return fmt.Errorf("fis: duplicate category %s[%s]", v.Name, category)
	}
	v.Categories = append(v.Categories, category)
	v.mfs[category] = mf
	return nil
}

// MF returns the membership array for the named category, or nil.
func (v *VariableDef) MF(category string) []float64 { return v.mfs[category] }

// Membership fuzzifies a crisp value against one category by linear
// interpolation on the universe grid. Values beyond the grid take the end
// memberships.
func (v *VariableDef) Membership(category string, value float64) float64 {
	mf, ok := v.mfs[category]
	if !ok || math.IsNaN(value) {
		return math.NaN()
	}
	pts := v.Universe.Points
	if value <= pts[0] {
		return mf[0]
	}
	if value >= pts[len(pts)-1] {
		return mf[len(mf)-1]
	}
	i := sort.SearchFloat64s(pts, value)
	if pts[i] == value {
		return mf[i]
	}
	frac := (value - pts[i-1]) / (pts[i] - pts[i-1])
	return mf[i-1] + frac*(mf[i]-mf[i-1])
}

// Expr is a rule antecedent: a Boolean tree whose leaves are
// variable-category memberships combined with min (AND) and max (OR).
type Expr interface {
	activation(memberships map[string]map[string]float64) float64
	leaves() []leaf
}

type leaf struct{ variable, category string }

func (l leaf) activation(m map[string]map[string]float64) float64 {
	return m[l.variable][l.category]
}
func (l leaf) leaves() []leaf { return []leaf{l} }

type opExpr struct {
	isAnd bool
	terms []Expr
}

func (o opExpr) activation(m map[string]map[string]float64) float64 {
	val := o.terms[0].activation(m)
	for _, t := range o.terms[1:] {
		a := t.activation(m)
		if o.isAnd {
			val = math.Min(val, a)
		} else {
			val = math.Max(val, a)
		}
	}
	return val
}

func (o opExpr) leaves() []leaf {
	var out []leaf
	for _, t := range o.terms {
		out = append(out, t.leaves()...)
	}
	return out
}

// Is builds an antecedent leaf "variable has category".
func Is(variable, category string) Expr { return leaf{variable, category} }

// And combines antecedent terms with the min operator.
func And(terms ...Expr) Expr { return opExpr{isAnd: true, terms: terms} }

// Or combines antecedent terms with the max operator.
func Or(terms ...Expr) Expr { return opExpr{isAnd: false, terms: terms} }

// Rule maps an antecedent expression to a single output category.
type Rule struct {
	Name       string
	Antecedent Expr
	Consequent string
}

// FIS is a fuzzy inference system with a fixed set of input variables, a
// single output variable, and a static rule list. It is immutable after
// construction and safe for concurrent use.
type FIS struct {
	inputs     map[string]*VariableDef
	inputOrder []string
	output     *VariableDef
	rules      []Rule
}

// New validates and assembles a fuzzy inference system. Configuration
// inconsistencies (unknown variables or categories in rules, empty
// definitions) fail here so that Evaluate and DefuzzifyPercentiles can
// never fail.
func New(inputs []*VariableDef, output *VariableDef, rules []Rule) (*FIS, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("fis: no input variables defined")
	}
	if output == nil || len(output.Categories) == 0 {
		return nil, fmt.Errorf("fis: output variable has no categories")
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("fis: no rules defined")
	}
	f := &FIS{inputs: make(map[string]*VariableDef), output: output, rules: rules}
	for _, in := range inputs {
		if len(in.Categories) == 0 {
			return nil, fmt.Errorf("fis: input variable %s has no categories", in.Name)
		}
		if _, ok := f.inputs[in.Name]; ok {
			return nil, fmt.Errorf("fis: duplicate input variable %s", in.Name)
		}
		f.inputs[in.Name] = in
		f.inputOrder = append(f.inputOrder, in.Name)
	}
	for _, r := range rules {
		if output.MF(r.Consequent) == nil {
			return nil, fmt.Errorf("fis: rule %s consequent %s[%s] is not defined",
				r.Name, output.Name, r.Consequent)
		}
		for _, l := range r.Antecedent.leaves() {
			in, ok := f.inputs[l.variable]
			if !ok {
				return nil, fmt.Errorf("fis: rule %s references unknown variable %s", r.Name, l.variable)
			}
			if in.MF(l.category) == nil {
				return nil, fmt.Errorf("fis: rule %s references unknown category %s[%s]",
					r.Name, l.variable, l.category)
			}
		}
	}
	return f, nil
}

// Inputs returns the input variable names in definition order.
func (f *FIS) Inputs() []string { return f.inputOrder }

// Input returns the definition of the named input variable, or nil.
func (f *FIS) Input(name string) *VariableDef { return f.inputs[name] }

// Output returns the output variable definition.
func (f *FIS) Output() *VariableDef { return f.output }

// Fuzzify returns the membership of value in each category of the named
// input variable.
func (f *FIS) Fuzzify(variable string, value float64) map[string]float64 {
	in := f.inputs[variable]
	out := make(map[string]float64, len(in.Categories))
	for _, c := range in.Categories {
		out[c] = in.Membership(c, value)
	}
	return out
}

// Evaluate runs the rule base against the given crisp inputs and returns
// the possibility of each output category: the maximum antecedent
// activation over the rules with that consequent. A NaN input
// short-circuits to all-NaN possibilities. Evaluate never fails.
func (f *FIS) Evaluate(values map[string]float64) map[string]float64 {
	poss := make(map[string]float64, len(f.output.Categories))
	for _, name := range f.inputOrder {
		if math.IsNaN(values[name]) {
			for _, c := range f.output.Categories {
				poss[c] = math.NaN()
			}
			return poss
		}
	}
	memberships := make(map[string]map[string]float64, len(f.inputs))
	for _, name := range f.inputOrder {
		memberships[name] = f.Fuzzify(name, values[name])
	}
	for _, c := range f.output.Categories {
		poss[c] = 0
	}
	for _, r := range f.rules {
		a := r.Antecedent.activation(memberships)
		if a > poss[r.Consequent] {
			poss[r.Consequent] = a
		}
	}
	return poss
}

// AggregateShape builds the aggregated output shape over the ozone
// universe: at each point, the maximum over categories of the category
// membership clipped at its activation.
func (f *FIS) AggregateShape(possibilities map[string]float64) []float64 {
	n := len(f.output.Universe.Points)
	agg := make([]float64, n)
	for _, c := range f.output.Categories {
		act := possibilities[c]
		if math.IsNaN(act) {
			for i := range agg {
				agg[i] = math.NaN()
			}
			return agg
		}
		mf := f.output.MF(c)
		for i := 0; i < n; i++ {
			clipped := math.Min(act, mf[i])
			if clipped > agg[i] {
				agg[i] = clipped
			}
		}
	}
	return agg
}

// DefuzzifyPercentiles projects the possibility distribution onto crisp
// output values: for each requested percentile p it returns the smallest
// universe point at which the normalized cumulative area under the
// aggregated shape reaches p/100. When the aggregated shape carries no
// mass every percentile is NaN. DefuzzifyPercentiles never fails.
func (f *FIS) DefuzzifyPercentiles(possibilities map[string]float64, percentiles []int) map[int]float64 {
	out := make(map[int]float64, len(percentiles))
	agg := f.AggregateShape(possibilities)
	var total float64
	for _, a := range agg {
		if math.IsNaN(a) {
			total = math.NaN()
			break
		}
		total += a
	}
	if math.IsNaN(total) || total <= 0 {
		for _, p := range percentiles {
			out[p] = math.NaN()
		}
		return out
	}
	pts := f.output.Universe.Points
	for _, p := range percentiles {
		target := float64(p) / 100
		cum := 0.
		val := pts[len(pts)-1]
		for i, a := range agg {
			cum += a / total
			if cum >= target {
				val = pts[i]
				break
			}
		}
		out[p] = val
	}
	return out
}
