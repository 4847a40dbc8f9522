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

package fis

import "fmt"

// Universe bounds for version 0.9 of the Clyfar configuration. Units:
// snow mm, mslp hPa, wind m/s, solar W/m², ozone ppb.
type universeSpec struct {
	min, max, step float64
}

var v0p9Universes = map[string]universeSpec{
	"snow":  {0, 250, 2},
	"mslp":  {995, 1050, 0.5},
	"wind":  {0, 15, 0.25},
	"solar": {0, 800, 5},
	"ozone": {20, 140, 0.5},
}

// mslpHPaCeiling guards against a configuration expressed in Pa: two
// incompatible unit conventions coexisted historically, and an mslp
// universe with values this large must be rejected rather than silently
// accepted.
const mslpHPaCeiling = 1100

// NewV0p9 builds version 0.9 of the Clyfar fuzzy inference system: four
// weather inputs, one ozone output, and the fixed six-rule base.
func NewV0p9() (*FIS, error) {
	for name, spec := range v0p9Universes {
		if name == "mslp" && spec.max > mslpHPaCeiling {
			return nil, fmt.Errorf("fis: mslp universe max %g appears to be in Pa; expected hPa", spec.max)
		}
	}
	mkUniverse := func(name string) (*Universe, error) {
		s := v0p9Universes[name]
		u, err := NewUniverse(s.min, s.max, s.step)
		if err != nil {
			return nil, fmt.Errorf("fis: %s universe: %v", name, err)
		}
		return u, nil
	}

	snowU, err := mkUniverse("snow")
	if err != nil {
		return nil, err
	}
	mslpU, err := mkUniverse("mslp")
	if err != nil {
		return nil, err
	}
	windU, err := mkUniverse("wind")
	if err != nil {
		return nil, err
	}
	solarU, err := mkUniverse("solar")
	if err != nil {
		return nil, err
	}
	ozoneU, err := mkUniverse("ozone")
	if err != nil {
		return nil, err
	}

	snow := NewVariableDef("snow", snowU)
	mslp := NewVariableDef("mslp", mslpU)
	wind := NewVariableDef("wind", windU)
	solar := NewVariableDef("solar", solarU)
	ozone := NewVariableDef("ozone", ozoneU)

	type plsSpec struct {
		v            *VariableDef
		category     string
		hl, xl, xr, hr float64
	}
	for _, s := range []plsSpec{
		// Snow: transition from bare to sufficient pack between 60 and 90 mm.
		{snow, "negligible", 1, 60, 90, 0},
		{snow, "sufficient", 0, 60, 90, 1},
		// Wind: calm below 2 m/s, breezy above 4 m/s.
		{wind, "calm", 1, 2, 4, 0},
		{wind, "breezy", 0, 2, 4, 1},
		{mslp, "low", 1, 1010, 1015, 0},
		{mslp, "high", 0, 1025, 1035, 1},
		{solar, "low", 1, 200, 300, 0},
		{solar, "high", 0, 500, 700, 1},
	} {
		mf, err := PLS(s.v.Universe, s.hl, s.xl, s.xr, s.hr)
		if err != nil {
			return nil, fmt.Errorf("fis: %s[%s]: %v", s.v.Name, s.category, err)
		}
		if err := s.v.AddCategory(s.category, mf); err != nil {
			return nil, err
		}
	}

	type trapSpec struct {
		v              *VariableDef
		category       string
		xl, ml, mu, xr float64
	}
	for _, s := range []trapSpec{
		{mslp, "moderate", 1010, 1015, 1030, 1035},
		{solar, "moderate", 200, 300, 500, 700},
		{ozone, "background", 20, 30, 40, 50},
		{ozone, "moderate", 40, 50, 60, 70},
		{ozone, "elevated", 50, 60, 75, 90},
		{ozone, "extreme", 60, 75, 90, 125},
	} {
		mf, err := Trap(s.v.Universe, s.xl, s.ml, s.mu, s.xr, 1)
		if err != nil {
			return nil, fmt.Errorf("fis: %s[%s]: %v", s.v.Name, s.category, err)
		}
		if err := s.v.AddCategory(s.category, mf); err != nil {
			return nil, err
		}
	}

	rules := []Rule{
		// Catching cases where ozone cannot build.
		{Name: "R1",
			Antecedent: Or(Is("snow", "negligible"), Is("mslp", "low"), Is("wind", "breezy")),
			Consequent: "background"},
		// Sufficient snow, high pressure, calm wind: severity follows insolation.
		{Name: "R2",
			Antecedent: And(Is("snow", "sufficient"), Is("mslp", "high"), Is("wind", "calm"), Is("solar", "high")),
			Consequent: "extreme"},
		{Name: "R3",
			Antecedent: And(Is("snow", "sufficient"), Is("mslp", "high"), Is("wind", "calm"), Is("solar", "moderate")),
			Consequent: "elevated"},
		{Name: "R4",
			Antecedent: And(Is("snow", "sufficient"), Is("mslp", "high"), Is("wind", "calm"), Is("solar", "low")),
			Consequent: "moderate"},
		// Cusp cases under moderate pressure.
		{Name: "R5",
			Antecedent: And(Is("snow", "sufficient"), Is("mslp", "moderate"), Is("wind", "calm"), Is("solar", "high")),
			Consequent: "elevated"},
		{Name: "R6",
			Antecedent: And(Is("snow", "sufficient"), Is("mslp", "moderate"), Is("wind", "calm"), Is("solar", "moderate")),
			Consequent: "moderate"},
	}

	return New([]*VariableDef{snow, mslp, wind, solar}, ozone, rules)
}
