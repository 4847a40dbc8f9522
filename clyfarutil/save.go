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

package clyfarutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/bingham-research-center/clyfar"
)

// Persisted table layout, stable across releases:
//
//	<data_root>/<init>/<init>_<variable>_<member>_df.parquet
//	<data_root>/<init>/<clyfar_member>_df.parquet
//	<data_root>/<init>/dailymax/<clyfar_member>_dailymax.parquet
//	<data_root>/geog/...

// RunDir is the run-scoped directory for one cycle.
func RunDir(dataRoot string, init time.Time) string {
	return filepath.Join(dataRoot, clyfar.InitString(init))
}

type seriesRow struct {
	ValidTime int64   `parquet:"valid_time"` // unix seconds, UTC
	Fxx       int32   `parquet:"fxx"`
	Value     float64 `parquet:"value"`
}

// SaveSeries persists a per-member per-variable time series.
func SaveSeries(dataRoot string, s *clyfar.VariableSeries) error {
	dir := RunDir(dataRoot, s.Init)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	rows := make([]seriesRow, s.Len())
	for i := range rows {
		rows[i] = seriesRow{
			ValidTime: s.Times[i].Unix(),
			Fxx:       int32(s.Fxx[i]),
			Value:     s.Values[i],
		}
	}
	fname := fmt.Sprintf("%s_%s_%s_df.parquet",
		clyfar.InitString(s.Init), s.Variable, s.Member.GEFSLabel())
	fpath := filepath.Join(dir, fname)
	if err := parquet.WriteFile(fpath, rows); err != nil {
		return fmt.Errorf("clyfarutil: writing %s: %v", fpath, err)
	}
	return nil
}

// LoadSeries reads back a persisted variable series.
func LoadSeries(dataRoot string, init time.Time, v clyfar.Variable, m clyfar.Member) (*clyfar.VariableSeries, error) {
	fname := fmt.Sprintf("%s_%s_%s_df.parquet", clyfar.InitString(init), v, m.GEFSLabel())
	fpath := filepath.Join(RunDir(dataRoot, init), fname)
	rows, err := parquet.ReadFile[seriesRow](fpath)
	if err != nil {
		return nil, fmt.Errorf("clyfarutil: reading %s: %v", fpath, err)
	}
	s := clyfar.NewVariableSeries(v, m, init)
	for _, r := range rows {
		s.Append(time.Unix(r.ValidTime, 0).UTC(), r.Value)
	}
	s.Sort()
	return s, nil
}

// frameRow flattens one MemberFrame row. Ozone columns hold the default
// percentiles; non-default percentile lists fall back to NaN columns on
// the percentiles that are absent.
type frameRow struct {
	ValidTime  int64   `parquet:"valid_time"`
	Snow       float64 `parquet:"snow"`
	Mslp       float64 `parquet:"mslp"`
	Wind       float64 `parquet:"wind"`
	Solar      float64 `parquet:"solar"`
	Temp       float64 `parquet:"temp"`
	Background float64 `parquet:"background"`
	Moderate   float64 `parquet:"moderate"`
	Elevated   float64 `parquet:"elevated"`
	Extreme    float64 `parquet:"extreme"`
	Ozone10    float64 `parquet:"ozone_10pc"`
	Ozone50    float64 `parquet:"ozone_50pc"`
	Ozone90    float64 `parquet:"ozone_90pc"`

	SnowClipped  bool `parquet:"snow_clipped"`
	MslpClipped  bool `parquet:"mslp_clipped"`
	WindClipped  bool `parquet:"wind_clipped"`
	SolarClipped bool `parquet:"solar_clipped"`
}

func percentileOrNaN(f *clyfar.MemberFrame, p, i int) float64 {
	col := f.PercentileColumn(p)
	if col == nil {
		return math.NaN()
	}
	return col[i]
}

// SaveFrame persists a member's aligned frame.
func SaveFrame(dataRoot string, f *clyfar.MemberFrame) error {
	dir := RunDir(dataRoot, f.Init)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	rows := make([]frameRow, f.Len())
	for i := range rows {
		rows[i] = frameRow{
			ValidTime:    f.Times[i].Unix(),
			Snow:         f.Snow[i],
			Mslp:         f.MSLP[i],
			Wind:         f.Wind[i],
			Solar:        f.Solar[i],
			Temp:         f.Temp[i],
			Background:   f.Background[i],
			Moderate:     f.Moderate[i],
			Elevated:     f.Elevated[i],
			Extreme:      f.Extreme[i],
			Ozone10:      percentileOrNaN(f, 10, i),
			Ozone50:      percentileOrNaN(f, 50, i),
			Ozone90:      percentileOrNaN(f, 90, i),
			SnowClipped:  f.SnowClipped[i],
			MslpClipped:  f.MSLPClipped[i],
			WindClipped:  f.WindClipped[i],
			SolarClipped: f.SolarClipped[i],
		}
	}
	fpath := filepath.Join(dir, f.Member.Label()+"_df.parquet")
	if err := parquet.WriteFile(fpath, rows); err != nil {
		return fmt.Errorf("clyfarutil: writing %s: %v", fpath, err)
	}
	return nil
}

// LoadFrame reads back a persisted member frame with the default
// percentile columns.
func LoadFrame(dataRoot string, init time.Time, m clyfar.Member) (*clyfar.MemberFrame, error) {
	fpath := filepath.Join(RunDir(dataRoot, init), m.Label()+"_df.parquet")
	rows, err := parquet.ReadFile[frameRow](fpath)
	if err != nil {
		return nil, fmt.Errorf("clyfarutil: reading %s: %v", fpath, err)
	}
	times := make([]time.Time, len(rows))
	for i, r := range rows {
		times[i] = time.Unix(r.ValidTime, 0).UTC()
	}
	f := clyfar.NewMemberFrame(m, init, times, clyfar.DefaultPercentiles)
	for i, r := range rows {
		f.Snow[i] = r.Snow
		f.MSLP[i] = r.Mslp
		f.Wind[i] = r.Wind
		f.Solar[i] = r.Solar
		f.Temp[i] = r.Temp
		f.Background[i] = r.Background
		f.Moderate[i] = r.Moderate
		f.Elevated[i] = r.Elevated
		f.Extreme[i] = r.Extreme
		f.Ozone[0][i] = r.Ozone10
		f.Ozone[1][i] = r.Ozone50
		f.Ozone[2][i] = r.Ozone90
		f.SnowClipped[i] = r.SnowClipped
		f.MSLPClipped[i] = r.MslpClipped
		f.WindClipped[i] = r.WindClipped
		f.SolarClipped[i] = r.SolarClipped
	}
	return f, nil
}

// dailyRow flattens one DailyMaxFrame row; the date is a local calendar
// day with no time component.
type dailyRow struct {
	Date       string  `parquet:"date"`
	Snow       float64 `parquet:"snow"`
	Mslp       float64 `parquet:"mslp"`
	Wind       float64 `parquet:"wind"`
	Solar      float64 `parquet:"solar"`
	Temp       float64 `parquet:"temp"`
	Background float64 `parquet:"background"`
	Moderate   float64 `parquet:"moderate"`
	Elevated   float64 `parquet:"elevated"`
	Extreme    float64 `parquet:"extreme"`
	Ozone10    float64 `parquet:"ozone_10pc"`
	Ozone50    float64 `parquet:"ozone_50pc"`
	Ozone90    float64 `parquet:"ozone_90pc"`

	SnowClipped  bool `parquet:"snow_clipped"`
	MslpClipped  bool `parquet:"mslp_clipped"`
	WindClipped  bool `parquet:"wind_clipped"`
	SolarClipped bool `parquet:"solar_clipped"`
}

func dailyPercentileOrNaN(d *clyfar.DailyMaxFrame, p, i int) float64 {
	col := d.PercentileColumn(p)
	if col == nil {
		return math.NaN()
	}
	return col[i]
}

// SaveDailyMax persists a member's daily-max table.
func SaveDailyMax(dataRoot string, d *clyfar.DailyMaxFrame) error {
	dir := filepath.Join(RunDir(dataRoot, d.Init), "dailymax")
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	rows := make([]dailyRow, d.Len())
	for i := range rows {
		rows[i] = dailyRow{
			Date:         d.Dates[i].Format("2006-01-02"),
			Snow:         d.Snow[i],
			Mslp:         d.MSLP[i],
			Wind:         d.Wind[i],
			Solar:        d.Solar[i],
			Temp:         d.Temp[i],
			Background:   d.Background[i],
			Moderate:     d.Moderate[i],
			Elevated:     d.Elevated[i],
			Extreme:      d.Extreme[i],
			Ozone10:      dailyPercentileOrNaN(d, 10, i),
			Ozone50:      dailyPercentileOrNaN(d, 50, i),
			Ozone90:      dailyPercentileOrNaN(d, 90, i),
			SnowClipped:  d.SnowClipped[i],
			MslpClipped:  d.MSLPClipped[i],
			WindClipped:  d.WindClipped[i],
			SolarClipped: d.SolarClipped[i],
		}
	}
	fpath := filepath.Join(dir, d.Member.Label()+"_dailymax.parquet")
	if err := parquet.WriteFile(fpath, rows); err != nil {
		return fmt.Errorf("clyfarutil: writing %s: %v", fpath, err)
	}
	return nil
}

// LoadDailyMax reads back a persisted daily-max table in the given local
// zone.
func LoadDailyMax(dataRoot string, init time.Time, m clyfar.Member, loc *time.Location) (*clyfar.DailyMaxFrame, error) {
	fpath := filepath.Join(RunDir(dataRoot, init), "dailymax", m.Label()+"_dailymax.parquet")
	rows, err := parquet.ReadFile[dailyRow](fpath)
	if err != nil {
		return nil, fmt.Errorf("clyfarutil: reading %s: %v", fpath, err)
	}
	n := len(rows)
	d := &clyfar.DailyMaxFrame{
		Member: m, Init: init.UTC(),
		Dates:        make([]time.Time, n),
		Snow:         make([]float64, n),
		MSLP:         make([]float64, n),
		Wind:         make([]float64, n),
		Solar:        make([]float64, n),
		Temp:         make([]float64, n),
		Background:   make([]float64, n),
		Moderate:     make([]float64, n),
		Elevated:     make([]float64, n),
		Extreme:      make([]float64, n),
		Percentiles:  append([]int(nil), clyfar.DefaultPercentiles...),
		Ozone:        [][]float64{make([]float64, n), make([]float64, n), make([]float64, n)},
		SnowClipped:  make([]bool, n),
		MSLPClipped:  make([]bool, n),
		WindClipped:  make([]bool, n),
		SolarClipped: make([]bool, n),
	}
	for i, r := range rows {
		date, err := time.ParseInLocation("2006-01-02", r.Date, loc)
		if err != nil {
			return nil, fmt.Errorf("clyfarutil: reading %s: %v", fpath, err)
		}
		d.Dates[i] = date
		d.Snow[i] = r.Snow
		d.MSLP[i] = r.Mslp
		d.Wind[i] = r.Wind
		d.Solar[i] = r.Solar
		d.Temp[i] = r.Temp
		d.Background[i] = r.Background
		d.Moderate[i] = r.Moderate
		d.Elevated[i] = r.Elevated
		d.Extreme[i] = r.Extreme
		d.Ozone[0][i] = r.Ozone10
		d.Ozone[1][i] = r.Ozone50
		d.Ozone[2][i] = r.Ozone90
		d.SnowClipped[i] = r.SnowClipped
		d.MSLPClipped[i] = r.MslpClipped
		d.WindClipped[i] = r.WindClipped
		d.SolarClipped[i] = r.SolarClipped
	}
	return d, nil
}
