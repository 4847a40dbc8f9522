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

package export

import (
	"encoding/json"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bingham-research-center/clyfar"
)

var testInit = time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC)

// testDailyMax builds a daily-max frame with the given p50 values and
// full possibility columns.
func testDailyMax(m clyfar.Member, days int, p50 []float64) *clyfar.DailyMaxFrame {
	loc, _ := time.LoadLocation(clyfar.LocalTimeZone)
	d := &clyfar.DailyMaxFrame{
		Member: m, Init: testInit,
		Percentiles: []int{10, 50, 90},
	}
	for i := 0; i < days; i++ {
		d.Dates = append(d.Dates, time.Date(2025, 1, 10+i, 0, 0, 0, 0, loc))
	}
	nanCol := func() []float64 {
		c := make([]float64, days)
		for i := range c {
			c[i] = math.NaN()
		}
		return c
	}
	constCol := func(v float64) []float64 {
		c := make([]float64, days)
		for i := range c {
			c[i] = v
		}
		return c
	}
	d.Snow, d.MSLP, d.Wind, d.Solar, d.Temp = constCol(100), constCol(1030), constCol(2), constCol(500), constCol(-5)
	d.Background, d.Moderate, d.Elevated, d.Extreme = constCol(1), constCol(0), constCol(0), constCol(0)
	d.Ozone = [][]float64{nanCol(), p50, nanCol()}
	n := days
	d.SnowClipped = make([]bool, n)
	d.MSLPClipped = make([]bool, n)
	d.WindClipped = make([]bool, n)
	d.SolarClipped = make([]bool, n)
	return d
}

func TestExceedanceProbabilityExcludesNaN(t *testing.T) {
	// Five members with daily-max p50 {55, 60, NaN, 45, 80}: the NaN
	// member drops from numerator and denominator.
	vals := [][]float64{{55}, {60}, {math.NaN()}, {45}, {80}}
	p50 := ExceedanceProbability(vals, 50)
	if math.Abs(p50[0]-0.75) > 1e-12 {
		t.Errorf("p(>50) = %g; want 0.75", p50[0])
	}
	p75 := ExceedanceProbability(vals, 75)
	if math.Abs(p75[0]-0.25) > 1e-12 {
		t.Errorf("p(>75) = %g; want 0.25", p75[0])
	}
}

func TestExceedanceProbabilityAllNaNIsNaN(t *testing.T) {
	vals := [][]float64{{math.NaN()}, {math.NaN()}}
	p := ExceedanceProbability(vals, 50)
	if !math.IsNaN(p[0]) {
		t.Errorf("no contributing members should give NaN, got %g", p[0])
	}
}

func TestExceedanceStrictlyGreater(t *testing.T) {
	vals := [][]float64{{50}, {51}}
	p := ExceedanceProbability(vals, 50)
	if p[0] != 0.5 {
		t.Errorf("a value equal to the threshold must not count: got %g; want 0.5", p[0])
	}
}

func TestNumberMarshal(t *testing.T) {
	tests := []struct {
		n    Number
		want string
	}{
		{Number{Value: math.NaN(), Prec: 2}, "null"},
		{Number{Value: math.Inf(1), Prec: 1}, "null"},
		{Number{Value: 0.756, Prec: 2}, "0.76"},
		{Number{Value: 123.4, Prec: 0}, "123"},
		{Number{Value: 55.25, Prec: 1}, "55.2"},
	}
	for _, test := range tests {
		b, err := json.Marshal(test.n)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != test.want {
			t.Errorf("marshal %v = %s; want %s", test.n, b, test.want)
		}
	}
}

func TestArtefactsContainNoNaNTokens(t *testing.T) {
	dir := t.TempDir()
	e := &Exporter{Dir: dir}
	dailymax := map[clyfar.Member]*clyfar.DailyMaxFrame{
		clyfar.Member(1): testDailyMax(clyfar.Member(1), 3, []float64{40, math.NaN(), 65}),
		clyfar.Member(2): testDailyMax(clyfar.Member(2), 3, []float64{35, 55, math.NaN()}),
	}
	files, err := e.WritePossibilityHeatmaps(testInit, dailymax)
	if err != nil {
		t.Fatal(err)
	}
	exc, err := e.WriteExceedanceProbabilities(testInit, dailymax)
	if err != nil {
		t.Fatal(err)
	}
	scen, err := e.WritePercentileScenarios(testInit, dailymax)
	if err != nil {
		t.Fatal(err)
	}
	files = append(files, exc)
	files = append(files, scen...)
	for _, fpath := range files {
		b, err := os.ReadFile(fpath)
		if err != nil {
			t.Fatal(err)
		}
		s := string(b)
		if strings.Contains(s, "NaN") || strings.Contains(s, "Infinity") {
			t.Errorf("%s contains a non-finite token", fpath)
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(b, &decoded); err != nil {
			t.Errorf("%s is not valid JSON: %v", fpath, err)
		}
	}
}

func TestPercentileScenarioRounding(t *testing.T) {
	dir := t.TempDir()
	e := &Exporter{Dir: dir}
	dailymax := map[clyfar.Member]*clyfar.DailyMaxFrame{
		clyfar.Member(1): testDailyMax(clyfar.Member(1), 1, []float64{41.27}),
	}
	files, err := e.WritePercentileScenarios(testInit, dailymax)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	var payload struct {
		Scenarios map[string][]*float64 `json:"scenarios"`
	}
	if err := json.Unmarshal(b, &payload); err != nil {
		t.Fatal(err)
	}
	p50 := payload.Scenarios["p50"]
	if len(p50) != 1 || p50[0] == nil || *p50[0] != 41.3 {
		t.Errorf("p50 = %v; want [41.3] rounded to one decimal", p50)
	}
	p10 := payload.Scenarios["p10"]
	if len(p10) != 1 || p10[0] != nil {
		t.Errorf("p10 = %v; want [null] for NaN", p10)
	}
}

func TestHeatmapMissingDates(t *testing.T) {
	dir := t.TempDir()
	e := &Exporter{Dir: dir}
	df := testDailyMax(clyfar.Member(1), 3, []float64{40, 50, 60})
	for _, col := range []([]float64){df.Background, df.Moderate, df.Elevated, df.Extreme} {
		col[1] = math.NaN()
	}
	files, err := e.WritePossibilityHeatmaps(testInit,
		map[clyfar.Member]*clyfar.DailyMaxFrame{clyfar.Member(1): df})
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	var payload struct {
		Metadata struct {
			NumDays    int `json:"num_days"`
			NumMissing int `json:"num_missing"`
		} `json:"metadata"`
		MissingDates []string `json:"missing_dates"`
	}
	if err := json.Unmarshal(b, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Metadata.NumDays != 3 || payload.Metadata.NumMissing != 1 {
		t.Errorf("metadata days/missing = %d/%d; want 3/1",
			payload.Metadata.NumDays, payload.Metadata.NumMissing)
	}
	if len(payload.MissingDates) != 1 || payload.MissingDates[0] != "2025-01-11" {
		t.Errorf("missing dates = %v; want [2025-01-11]", payload.MissingDates)
	}
}

func TestRoundingStableUnderReserialization(t *testing.T) {
	n := Number{Value: 0.125, Prec: 2}
	b1, _ := json.Marshal(n)
	var back float64
	if err := json.Unmarshal(b1, &back); err != nil {
		t.Fatal(err)
	}
	b2, _ := json.Marshal(Number{Value: back, Prec: 2})
	if string(b1) != string(b2) {
		t.Errorf("rounding not stable: %s != %s", b1, b2)
	}
}
