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

package forecast

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ctessum/sparse"

	"github.com/bingham-research-center/clyfar"
	"github.com/bingham-research-center/clyfar/fis"
	"github.com/bingham-research-center/clyfar/geog"
	"github.com/bingham-research-center/clyfar/nwp"
	"github.com/bingham-research-center/clyfar/preprocess"
)

const (
	testNy = 2
	testNx = 2
)

var testInit = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

// stagnantProvider synthesizes a cold-pool episode: deep snow, high
// pressure, calm wind, bright sun.
type stagnantProvider struct {
	// failMember simulates a member with a total provider outage.
	failMember clyfar.Member
	hasFailure bool
}

func (p *stagnantProvider) Fetch(ctx context.Context, init time.Time, lead int, v clyfar.Variable,
	res clyfar.Resolution, member clyfar.Member) (*nwp.Grid, error) {

	if p.hasFailure && member == p.failMember {
		return nil, fmt.Errorf("fetching member %s: %w", member.GEFSLabel(), nwp.ErrNotFound)
	}
	var val float64
	switch v {
	case clyfar.Snow:
		val = 0.2 // m → 200 mm
	case clyfar.MSLP:
		val = 103800 // Pa → 1038 hPa
	case clyfar.Wind:
		val = 0.5
	case clyfar.Solar:
		val = 750
	case clyfar.Temp:
		val = 263.15 // K → −10 °C
	}
	data := sparse.ZerosDense(testNy, testNx)
	for i := 0; i < testNy; i++ {
		for j := 0; j < testNx; j++ {
			data.Set(val+0.001*float64(i*testNx+j), i, j)
		}
	}
	return &nwp.Grid{
		Data: data,
		Lats: []float64{40.5, 40.0},
		Lons: []float64{-110.0, -109.5},
		ValidTime:  init.Add(time.Duration(lead) * time.Hour),
		Resolution: res,
	}, nil
}

func testMasks() *geog.Masks {
	cells := make([]bool, testNy*testNx)
	for i := range cells {
		cells[i] = true
	}
	m := &geog.Mask{Cells: cells, Ny: testNy, Nx: testNx}
	return geog.StaticMasks(map[clyfar.Resolution]*geog.Mask{
		clyfar.HiRes: m, clyfar.LoRes: m,
	})
}

func testDriver(t *testing.T, p nwp.Provider) *Driver {
	t.Helper()
	engine, err := fis.NewV0p9()
	if err != nil {
		t.Fatal(err)
	}
	return &Driver{
		Reducer: &preprocess.Reducer{Provider: p, Masks: testMasks(), Interp: clyfar.Hazen},
		Engine:  engine,
		Workers: 4,
		DeltaH:  6,
		MaxH:    24,
	}
}

func denver(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(clyfar.LocalTimeZone)
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func TestEnsembleRunProducesFrames(t *testing.T) {
	d := testDriver(t, &stagnantProvider{})
	members := []clyfar.Member{0, 1, 2}
	result, err := d.Run(context.Background(), testInit, members, denver(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Frames) != 3 || len(result.DailyMax) != 3 {
		t.Fatalf("got %d frames, %d dailymax; want 3 each", len(result.Frames), len(result.DailyMax))
	}
	for m, frame := range result.Frames {
		if err := frame.CheckIndex(); err != nil {
			t.Errorf("member %s: %v", m.Label(), err)
		}
		// First row has no solar, so possibilities are NaN there.
		if !math.IsNaN(frame.Extreme[0]) {
			t.Errorf("member %s first row extreme = %g; want NaN", m.Label(), frame.Extreme[0])
		}
		// The stagnant setup fires the extreme rule everywhere else.
		for i := 1; i < frame.Len(); i++ {
			if math.Abs(frame.Extreme[i]-1) > 1e-9 {
				t.Errorf("member %s row %d extreme = %g; want 1", m.Label(), i, frame.Extreme[i])
			}
			if frame.Background[i] != 0 {
				t.Errorf("member %s row %d background = %g; want 0", m.Label(), i, frame.Background[i])
			}
		}
		// Possibility components stay in [0,1].
		for _, cat := range clyfar.OzoneCategories {
			for i, v := range frame.Possibility(cat) {
				if !math.IsNaN(v) && (v < 0 || v > 1) {
					t.Errorf("member %s %s[%d] = %g outside [0,1]", m.Label(), cat, i, v)
				}
			}
		}
		// Percentile ordering where defined.
		p10, p50, p90 := frame.PercentileColumn(10), frame.PercentileColumn(50), frame.PercentileColumn(90)
		for i := range p50 {
			if math.IsNaN(p50[i]) {
				continue
			}
			if !(p10[i] <= p50[i] && p50[i] <= p90[i]) {
				t.Errorf("member %s row %d percentiles not ordered: %g %g %g",
					m.Label(), i, p10[i], p50[i], p90[i])
			}
		}
	}
}

func TestEnsembleDiscardsFailedMember(t *testing.T) {
	d := testDriver(t, &stagnantProvider{failMember: clyfar.Member(2), hasFailure: true})
	members := []clyfar.Member{0, 1, 2}
	result, err := d.Run(context.Background(), testInit, members, denver(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Frames) != 2 {
		t.Fatalf("got %d frames; want 2 after discarding the failed member", len(result.Frames))
	}
	if _, ok := result.Frames[clyfar.Member(2)]; ok {
		t.Error("failed member should have been discarded")
	}
}

func TestEnsembleFailsWhenNoMembersComplete(t *testing.T) {
	p := &stagnantProvider{failMember: clyfar.Member(0), hasFailure: true}
	d := testDriver(t, p)
	if _, err := d.Run(context.Background(), testInit, []clyfar.Member{0}, denver(t)); err == nil {
		t.Error("run with no completed members should fail")
	}
}

func TestEnsembleSerialMatchesParallel(t *testing.T) {
	members := []clyfar.Member{0, 1}
	d1 := testDriver(t, &stagnantProvider{})
	parallel, err := d1.Run(context.Background(), testInit, members, denver(t))
	if err != nil {
		t.Fatal(err)
	}
	d2 := testDriver(t, &stagnantProvider{})
	d2.Serial = true
	serial, err := d2.Run(context.Background(), testInit, members, denver(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members {
		pf, sf := parallel.Frames[m], serial.Frames[m]
		if pf.Len() != sf.Len() {
			t.Fatalf("member %s length mismatch: %d != %d", m.Label(), pf.Len(), sf.Len())
		}
		for i := range pf.Times {
			if !pf.Times[i].Equal(sf.Times[i]) {
				t.Errorf("member %s time %d differs", m.Label(), i)
			}
			a, b := pf.Extreme[i], sf.Extreme[i]
			if !(math.IsNaN(a) && math.IsNaN(b)) && a != b {
				t.Errorf("member %s extreme[%d] differs: %g != %g", m.Label(), i, a, b)
			}
		}
	}
}

func TestEnsembleAppliesSnowOffset(t *testing.T) {
	d := testDriver(t, &stagnantProvider{})
	d.UseSnowObservation = true
	d.ObservedSnow = 150 // mm vs the 202.5 mm forecast
	result, err := d.Run(context.Background(), testInit, []clyfar.Member{1}, denver(t))
	if err != nil {
		t.Fatal(err)
	}
	offset := result.SnowOffsets[clyfar.Member(1)]
	if offset < 52 || offset > 53 {
		t.Errorf("snow offset = %g mm; want about 52.5", offset)
	}
	frame := result.Frames[clyfar.Member(1)]
	if frame.Snow[0] < 149 || frame.Snow[0] > 151 {
		t.Errorf("offset snow = %g mm; want about 150", frame.Snow[0])
	}
}

func TestBuildFrameMissingSolarRowsAreNaN(t *testing.T) {
	engine, err := fis.NewV0p9()
	if err != nil {
		t.Fatal(err)
	}
	mk := func(v clyfar.Variable, vals map[int]float64) *clyfar.VariableSeries {
		s := clyfar.NewVariableSeries(v, clyfar.Member(1), testInit)
		for h := 0; h <= 12; h += 6 {
			if val, ok := vals[h]; ok {
				s.Append(testInit.Add(time.Duration(h)*time.Hour), val)
			} else {
				s.Append(testInit.Add(time.Duration(h)*time.Hour), math.NaN())
			}
		}
		return s
	}
	series := map[clyfar.Variable]*clyfar.VariableSeries{
		clyfar.Snow:  mk(clyfar.Snow, map[int]float64{0: 200, 6: 200, 12: 200}),
		clyfar.MSLP:  mk(clyfar.MSLP, map[int]float64{0: 1038, 6: 1038, 12: 1038}),
		clyfar.Wind:  mk(clyfar.Wind, map[int]float64{0: 0.5, 6: 0.5, 12: 0.5}),
		clyfar.Solar: mk(clyfar.Solar, map[int]float64{6: 750, 12: 750}),
	}
	frame, err := BuildFrame(engine, series, clyfar.DefaultPercentiles)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(frame.Extreme[0]) || !math.IsNaN(frame.PercentileColumn(50)[0]) {
		t.Error("row with NaN solar should have NaN outputs")
	}
	if frame.Snow[0] != 200 {
		t.Errorf("inputs must still be recorded on NaN rows, snow = %g", frame.Snow[0])
	}
	if math.Abs(frame.Extreme[1]-1) > 1e-9 {
		t.Errorf("extreme[1] = %g; want 1", frame.Extreme[1])
	}
}

func TestBuildFrameClipsAndFlags(t *testing.T) {
	engine, err := fis.NewV0p9()
	if err != nil {
		t.Fatal(err)
	}
	mk := func(v clyfar.Variable, val float64) *clyfar.VariableSeries {
		s := clyfar.NewVariableSeries(v, clyfar.Member(1), testInit)
		s.Append(testInit.Add(6*time.Hour), val)
		return s
	}
	series := map[clyfar.Variable]*clyfar.VariableSeries{
		clyfar.Snow:  mk(clyfar.Snow, 1000), // universe max is 250
		clyfar.MSLP:  mk(clyfar.MSLP, 1038),
		clyfar.Wind:  mk(clyfar.Wind, 0.5),
		clyfar.Solar: mk(clyfar.Solar, 750),
	}
	frame, err := BuildFrame(engine, series, clyfar.DefaultPercentiles)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Snow[0] != 250 {
		t.Errorf("snow = %g; want clipped to 250", frame.Snow[0])
	}
	if !frame.SnowClipped[0] {
		t.Error("snow_clipped flag should be set")
	}
	if frame.WindClipped[0] {
		t.Error("wind_clipped should not be set")
	}
	// Evaluation proceeds with the clipped value: the extreme rule
	// still fires fully.
	if math.Abs(frame.Extreme[0]-1) > 1e-9 {
		t.Errorf("extreme = %g; want 1 with clipped snow", frame.Extreme[0])
	}
}
