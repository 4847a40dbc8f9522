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

package clyfar

import (
	"fmt"
	"math"
	"time"
)

// Ozone possibility categories, in severity order. These are the
// consequent categories of the fuzzy inference system and the row labels
// of the possibility heatmap products.
var OzoneCategories = []string{"background", "moderate", "elevated", "extreme"}

// DefaultPercentiles are the defuzzification percentiles computed for each
// timestamp unless configured otherwise.
var DefaultPercentiles = []int{10, 50, 90}

// MemberFrame is the aligned per-member table of inputs, possibilities,
// and percentile ozone values, indexed by strictly increasing valid time.
// Every numeric cell is either a finite float or NaN.
type MemberFrame struct {
	Member Member
	Init   time.Time
	Times  []time.Time

	// Inputs, aligned on the snow series' timestamp index.
	Snow, MSLP, Wind, Solar, Temp []float64

	// Possibility values in [0,1] per ozone category.
	Background, Moderate, Elevated, Extreme []float64

	// Percentiles holds the requested defuzzification percentiles;
	// Ozone[i] is the series for Percentiles[i].
	Percentiles []int
	Ozone       [][]float64

	// Per-timestamp flags marking inputs that were clipped into the FIS
	// universe before evaluation.
	SnowClipped, MSLPClipped, WindClipped, SolarClipped []bool
}

// NewMemberFrame allocates a frame with n rows for the given percentile
// list, with all numeric cells initialized to NaN.
func NewMemberFrame(m Member, init time.Time, times []time.Time, percentiles []int) *MemberFrame {
	n := len(times)
	nanCol := func() []float64 {
		c := make([]float64, n)
		for i := range c {
			c[i] = math.NaN()
		}
		return c
	}
	f := &MemberFrame{
		Member: m, Init: init.UTC(), Times: times,
		Snow: nanCol(), MSLP: nanCol(), Wind: nanCol(), Solar: nanCol(), Temp: nanCol(),
		Background: nanCol(), Moderate: nanCol(), Elevated: nanCol(), Extreme: nanCol(),
		Percentiles:  append([]int(nil), percentiles...),
		SnowClipped:  make([]bool, n),
		MSLPClipped:  make([]bool, n),
		WindClipped:  make([]bool, n),
		SolarClipped: make([]bool, n),
	}
	f.Ozone = make([][]float64, len(percentiles))
	for i := range f.Ozone {
		f.Ozone[i] = nanCol()
	}
	return f
}

// Len returns the number of rows.
func (f *MemberFrame) Len() int { return len(f.Times) }

// CheckIndex verifies the strictly-increasing time index invariant.
func (f *MemberFrame) CheckIndex() error {
	for i := 1; i < len(f.Times); i++ {
		if !f.Times[i].After(f.Times[i-1]) {
			return fmt.Errorf("clyfar: member frame index not strictly increasing at row %d", i)
		}
	}
	return nil
}

// PercentileColumn returns the ozone series for percentile p, or nil if p
// was not computed.
func (f *MemberFrame) PercentileColumn(p int) []float64 {
	for i, fp := range f.Percentiles {
		if fp == p {
			return f.Ozone[i]
		}
	}
	return nil
}

// Possibility returns the possibility column for the named ozone category.
func (f *MemberFrame) Possibility(category string) []float64 {
	switch category {
	case "background":
		return f.Background
	case "moderate":
		return f.Moderate
	case "elevated":
		return f.Elevated
	case "extreme":
		return f.Extreme
	}
	return nil
}

// Input returns the input column for the given variable.
func (f *MemberFrame) Input(v Variable) []float64 {
	switch v {
	case Snow:
		return f.Snow
	case MSLP:
		return f.MSLP
	case Wind:
		return f.Wind
	case Solar:
		return f.Solar
	case Temp:
		return f.Temp
	}
	return nil
}

// DailyMaxFrame holds per-local-day maxima of a MemberFrame. Dates are
// local calendar days in the aggregation zone, with no time component.
type DailyMaxFrame struct {
	Member Member
	Init   time.Time
	// Dates are midnights in the local aggregation zone, one per local
	// calendar day, strictly increasing.
	Dates []time.Time

	Snow, MSLP, Wind, Solar, Temp           []float64
	Background, Moderate, Elevated, Extreme []float64
	Percentiles                             []int
	Ozone                                   [][]float64

	// Clipped flags are true for a day when any hour of that day was
	// clipped.
	SnowClipped, MSLPClipped, WindClipped, SolarClipped []bool
}

// Len returns the number of local days.
func (d *DailyMaxFrame) Len() int { return len(d.Dates) }

// PercentileColumn returns the daily-max ozone series for percentile p, or
// nil if p was not computed.
func (d *DailyMaxFrame) PercentileColumn(p int) []float64 {
	for i, fp := range d.Percentiles {
		if fp == p {
			return d.Ozone[i]
		}
	}
	return nil
}

// Possibility returns the daily-max possibility column for the named
// ozone category.
func (d *DailyMaxFrame) Possibility(category string) []float64 {
	switch category {
	case "background":
		return d.Background
	case "moderate":
		return d.Moderate
	case "elevated":
		return d.Elevated
	case "extreme":
		return d.Extreme
	}
	return nil
}

// DailyMax collapses the intra-day rows of f to per-local-day maxima in
// the given zone. NaN cells are treated as missing: a day's cell is the
// maximum of the finite hourly values, or NaN when every hour is NaN.
// Boolean clip flags aggregate with OR.
func DailyMax(f *MemberFrame, loc *time.Location) *DailyMaxFrame {
	type group struct {
		date time.Time
		rows []int
	}
	var groups []group
	byDay := make(map[string]int)
	for i, t := range f.Times {
		lt := t.In(loc)
		key := lt.Format("2006-01-02")
		gi, ok := byDay[key]
		if !ok {
			gi = len(groups)
			byDay[key] = gi
			groups = append(groups, group{
				date: time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc),
			})
		}
		groups[gi].rows = append(groups[gi].rows, i)
	}

	n := len(groups)
	d := &DailyMaxFrame{
		Member: f.Member, Init: f.Init,
		Dates:        make([]time.Time, n),
		Percentiles:  append([]int(nil), f.Percentiles...),
		SnowClipped:  make([]bool, n),
		MSLPClipped:  make([]bool, n),
		WindClipped:  make([]bool, n),
		SolarClipped: make([]bool, n),
	}
	maxOver := func(col []float64) []float64 {
		out := make([]float64, n)
		for gi, g := range groups {
			vals := make([]float64, 0, len(g.rows))
			for _, r := range g.rows {
				vals = append(vals, col[r])
			}
			out[gi] = NaNMax(vals)
		}
		return out
	}
	anyOver := func(col []bool) []bool {
		out := make([]bool, n)
		for gi, g := range groups {
			for _, r := range g.rows {
				if col[r] {
					out[gi] = true
					break
				}
			}
		}
		return out
	}
	for gi, g := range groups {
		d.Dates[gi] = g.date
	}
	d.Snow = maxOver(f.Snow)
	d.MSLP = maxOver(f.MSLP)
	d.Wind = maxOver(f.Wind)
	d.Solar = maxOver(f.Solar)
	d.Temp = maxOver(f.Temp)
	d.Background = maxOver(f.Background)
	d.Moderate = maxOver(f.Moderate)
	d.Elevated = maxOver(f.Elevated)
	d.Extreme = maxOver(f.Extreme)
	d.Ozone = make([][]float64, len(f.Percentiles))
	for i := range f.Percentiles {
		d.Ozone[i] = maxOver(f.Ozone[i])
	}
	d.SnowClipped = anyOver(f.SnowClipped)
	d.MSLPClipped = anyOver(f.MSLPClipped)
	d.WindClipped = anyOver(f.WindClipped)
	d.SolarClipped = anyOver(f.SolarClipped)
	return d
}
