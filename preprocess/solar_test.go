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

package preprocess

import (
	"math"
	"testing"
	"time"

	"github.com/bingham-research-center/clyfar"
)

func mustLoadDenver(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(clyfar.LocalTimeZone)
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

// diurnalValue is a fixed diurnal cycle keyed by local hour: symmetric
// about midday from 06 to 18 local, peaking at 700 at 12 and 13, and
// zero at all other hours.
func diurnalValue(localHour int) float64 {
	cycle := map[int]float64{
		6: 0, 7: 100, 8: 200, 9: 400, 10: 550, 11: 650,
		12: 700, 13: 700, 14: 650, 15: 550, 16: 400, 17: 200, 18: 100,
	}
	if v, ok := cycle[localHour]; ok {
		return v
	}
	return 0
}

func syntheticSolar(t *testing.T, loc *time.Location, deltaH, maxAnchorH int) *clyfar.VariableSeries {
	t.Helper()
	s := clyfar.NewVariableSeries(clyfar.Solar, clyfar.Member(1), testInit)
	for h := deltaH; h <= maxAnchorH; h += deltaH {
		ts := testInit.Add(time.Duration(h) * time.Hour)
		s.Append(ts, diurnalValue(ts.In(loc).Hour()))
	}
	return s
}

func TestFillLateSolarUsesLocalHourMedian(t *testing.T) {
	loc := mustLoadDenver(t)
	s := syntheticSolar(t, loc, 3, 240)
	FillLateSolar(s, 3, 384, loc)
	if err := s.CheckMonotone(); err != nil {
		t.Fatal(err)
	}
	for i, f := range s.Fxx {
		if f <= SolarCutoffH {
			continue
		}
		localHour := s.Times[i].In(loc).Hour()
		want := diurnalValue(localHour)
		// Anchor samples exist only every 3 h; the filler maps any
		// unseen local hour to the nearest anchored hour.
		if !anchorHourSeen(s, loc, localHour) {
			continue
		}
		if got := s.Values[i]; math.Abs(got-want) > 1e-9 {
			t.Errorf("late value at local hour %d = %g; want %g", localHour, got, want)
		}
	}
}

func anchorHourSeen(s *clyfar.VariableSeries, loc *time.Location, hour int) bool {
	for i, f := range s.Fxx {
		if f <= SolarCutoffH && s.Times[i].In(loc).Hour() == hour {
			return true
		}
	}
	return false
}

func TestFillLateSolarNoonPersistence(t *testing.T) {
	loc := mustLoadDenver(t)
	// Hourly anchors so every local hour, including noon, is anchored.
	// The 01 UTC start puts 19 UTC (noon in Denver) on the 6-hourly
	// late-range step.
	init := time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC)
	s := clyfar.NewVariableSeries(clyfar.Solar, clyfar.Member(1), init)
	for h := 1; h <= 240; h++ {
		ts := init.Add(time.Duration(h) * time.Hour)
		s.Append(ts, diurnalValue(ts.In(loc).Hour()))
	}
	FillLateSolar(s, 1, 384, loc)
	var checked bool
	for i, f := range s.Fxx {
		if f <= SolarCutoffH {
			continue
		}
		if s.Times[i].In(loc).Hour() != 12 {
			continue
		}
		checked = true
		if got := s.Values[i]; got != 700 {
			t.Errorf("late noon value = %g; want the anchor median 700", got)
		}
	}
	if !checked {
		t.Fatal("no late-range noon timestamp found")
	}
}

func TestFillLateSolarIdempotent(t *testing.T) {
	loc := mustLoadDenver(t)
	s := syntheticSolar(t, loc, 3, 240)
	FillLateSolar(s, 3, 384, loc)
	first := append([]float64(nil), s.Values...)
	FillLateSolar(s, 3, 384, loc)
	if len(s.Values) != len(first) {
		t.Fatalf("length changed on reapplication: %d != %d", len(s.Values), len(first))
	}
	for i := range first {
		a, b := first[i], s.Values[i]
		if math.IsNaN(a) && math.IsNaN(b) {
			continue
		}
		if a != b {
			t.Errorf("value[%d] changed on reapplication: %g != %g", i, a, b)
		}
	}
}

func TestFillLateSolarOverwritesDegradedValues(t *testing.T) {
	loc := mustLoadDenver(t)
	s := syntheticSolar(t, loc, 3, 240)
	// Append degraded lo-resolution samples beyond the cutoff.
	for h := 246; h <= 384; h += 6 {
		s.Append(testInit.Add(time.Duration(h)*time.Hour), -999)
	}
	FillLateSolar(s, 3, 384, loc)
	for i, f := range s.Fxx {
		if f > SolarCutoffH && s.Values[i] == -999 {
			t.Errorf("degraded value at lead %d not overwritten", f)
		}
	}
}

func TestFillLateSolarEmptyAnchorEmitsZero(t *testing.T) {
	loc := mustLoadDenver(t)
	s := clyfar.NewVariableSeries(clyfar.Solar, clyfar.Member(1), testInit)
	for h := 3; h <= 240; h += 3 {
		s.Append(testInit.Add(time.Duration(h)*time.Hour), math.NaN())
	}
	FillLateSolar(s, 3, 384, loc)
	var lateCount int
	for i, f := range s.Fxx {
		if f <= SolarCutoffH {
			continue
		}
		lateCount++
		if s.Values[i] != 0 {
			t.Errorf("empty anchor should emit 0 at lead %d, got %g", f, s.Values[i])
		}
	}
	if lateCount == 0 {
		t.Fatal("no late-range samples were emitted")
	}
}

func TestFillLateSolarNoOpWithinCutoff(t *testing.T) {
	loc := mustLoadDenver(t)
	s := syntheticSolar(t, loc, 3, 120)
	before := append([]float64(nil), s.Values...)
	FillLateSolar(s, 3, 240, loc)
	if len(s.Values) != len(before) {
		t.Fatal("filler modified a series that ends within the cutoff")
	}
}

func TestCyclicHourDistance(t *testing.T) {
	tests := []struct{ a, b, want int }{
		{23, 1, 2},
		{1, 23, 2},
		{0, 12, 12},
		{6, 6, 0},
		{22, 2, 4},
	}
	for _, test := range tests {
		if got := cyclicHourDistance(test.a, test.b); got != test.want {
			t.Errorf("cyclicHourDistance(%d, %d) = %d; want %d",
				test.a, test.b, got, test.want)
		}
	}
}
