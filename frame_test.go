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
	"math"
	"testing"
	"time"
)

func testFrame(t *testing.T, init time.Time, hours int, deltaH int) *MemberFrame {
	t.Helper()
	var times []time.Time
	for h := 0; h <= hours; h += deltaH {
		times = append(times, init.Add(time.Duration(h)*time.Hour))
	}
	return NewMemberFrame(Member(1), init, times, DefaultPercentiles)
}

func TestDailyMaxGroupsByLocalDay(t *testing.T) {
	loc, err := time.LoadLocation(LocalTimeZone)
	if err != nil {
		t.Fatal(err)
	}
	init := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	f := testFrame(t, init, 48, 6)
	for i := range f.Times {
		f.Background[i] = float64(i)
	}

	d := DailyMax(f, loc)
	// 00 UTC on Jan 10 is 17:00 Jan 9 in America/Denver, so the frame
	// spans parts of three local days.
	if d.Len() != 3 {
		t.Fatalf("got %d local days; want 3", d.Len())
	}
	for i := 1; i < d.Len(); i++ {
		if !d.Dates[i].After(d.Dates[i-1]) {
			t.Errorf("dates not increasing at %d", i)
		}
	}
	// The max over each group is the last row of that local day.
	if d.Background[0] != 1 {
		t.Errorf("first local day max = %g; want 1 (rows 0-1)", d.Background[0])
	}
	if got := d.Background[d.Len()-1]; got != 8 {
		t.Errorf("last local day max = %g; want 8", got)
	}
}

func TestDailyMaxAllNaNDayIsNaN(t *testing.T) {
	loc, err := time.LoadLocation(LocalTimeZone)
	if err != nil {
		t.Fatal(err)
	}
	init := time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC) // 00:00 local
	f := testFrame(t, init, 23, 1)
	// All hours NaN for extreme; finite for moderate.
	for i := range f.Times {
		f.Moderate[i] = 0.25
	}
	d := DailyMax(f, loc)
	if d.Len() != 1 {
		t.Fatalf("got %d local days; want 1", d.Len())
	}
	if !math.IsNaN(d.Extreme[0]) {
		t.Errorf("all-NaN day should aggregate to NaN, got %g", d.Extreme[0])
	}
	if d.Moderate[0] != 0.25 {
		t.Errorf("moderate daily max = %g; want 0.25", d.Moderate[0])
	}
}

func TestDailyMaxClipFlagsAggregateWithOr(t *testing.T) {
	loc, err := time.LoadLocation(LocalTimeZone)
	if err != nil {
		t.Fatal(err)
	}
	init := time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)
	f := testFrame(t, init, 23, 1)
	f.SnowClipped[5] = true
	d := DailyMax(f, loc)
	if !d.SnowClipped[0] {
		t.Error("day containing a clipped hour should flag clipped")
	}
	if d.WindClipped[0] {
		t.Error("day with no clipped hours should not flag clipped")
	}
}

func TestSeriesSortAndDedup(t *testing.T) {
	init := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	s := NewVariableSeries(MSLP, Member(0), init)
	s.Append(init.Add(246*time.Hour), 1012)
	s.Append(init.Add(240*time.Hour), 1010)
	s.Append(init.Add(246*time.Hour), 9999) // later duplicate is dropped
	s.Sort()
	s.DedupKeepFirst()
	if s.Len() != 2 {
		t.Fatalf("got %d samples; want 2", s.Len())
	}
	if s.Values[0] != 1010 || s.Values[1] != 1012 {
		t.Errorf("got values %v; want [1010 1012]", s.Values)
	}
	if err := s.CheckMonotone(); err != nil {
		t.Error(err)
	}
}

func TestSeriesNearestValue(t *testing.T) {
	init := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	s := NewVariableSeries(MSLP, Member(0), init)
	for h := 0; h <= 24; h += 6 {
		s.Append(init.Add(time.Duration(h)*time.Hour), float64(h))
	}
	if got := s.NearestValue(init.Add(7 * time.Hour)); got != 6 {
		t.Errorf("nearest to +7h = %g; want 6", got)
	}
	if got := s.NearestValue(init.Add(10 * time.Hour)); got != 12 {
		t.Errorf("nearest to +10h = %g; want 12", got)
	}
	if got := s.NearestValue(init.Add(-5 * time.Hour)); got != 0 {
		t.Errorf("nearest before start = %g; want 0", got)
	}
}

func TestEnsembleMembers(t *testing.T) {
	full, err := EnsembleMembers(31)
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != 31 || full[0].GEFSLabel() != "c00" || full[30].GEFSLabel() != "p30" {
		t.Errorf("full ensemble wrong: %d members, first %s, last %s",
			len(full), full[0].GEFSLabel(), full[30].GEFSLabel())
	}
	small, err := EnsembleMembers(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(small) != 3 || small[0].GEFSLabel() != "p01" {
		t.Errorf("small ensemble should use perturbations only, got %v", small)
	}
	if _, err := EnsembleMembers(32); err == nil {
		t.Error("32 members should be rejected")
	}
	if got := Member(0).Label(); got != "clyfar000" {
		t.Errorf("control label = %s; want clyfar000", got)
	}
	if got := Member(7).Label(); got != "clyfar007" {
		t.Errorf("member 7 label = %s; want clyfar007", got)
	}
}

func TestResolveInitTime(t *testing.T) {
	// 2025-01-10 14:30 UTC with an 8 h delay: the 12Z cycle is only
	// 2.5 h old, 06Z is 8.5 h old and usable.
	now := time.Date(2025, 1, 10, 14, 30, 0, 0, time.UTC)
	it := ResolveInitTime(now, 8*time.Hour)
	want := time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)
	if !it.Time.Equal(want) {
		t.Errorf("resolved init = %v; want %v", it.Time, want)
	}
	if len(it.Skipped) != 1 || !it.Skipped[0].Equal(time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("skipped cycles = %v; want [12Z]", it.Skipped)
	}
}

func TestForcedInitTimeAlignment(t *testing.T) {
	if _, err := ForcedInitTime(time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)); err == nil {
		t.Error("07Z is not a cycle boundary and should be rejected")
	}
	it, err := ForcedInitTime(time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if got := InitString(it.Time); got != "20250110_1800Z" {
		t.Errorf("InitString = %s; want 20250110_1800Z", got)
	}
}
