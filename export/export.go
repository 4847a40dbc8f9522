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

// Package export serializes ensemble results into the fixed family of
// JSON artefacts consumed downstream: per-member possibility heatmaps and
// percentile scenarios, ensemble exceedance probabilities, weather time
// series and spreads, and the scenario clustering summary. Non-finite
// floats always serialize as JSON null; numeric precision is fixed per
// product.
package export

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bingham-research-center/clyfar"
)

// DataSource identifies the producing system in artefact metadata.
var DataSource = "Clyfar v" + clyfar.Version

// ExceedanceThresholds are the ozone thresholds (ppb) for the ensemble
// exceedance product: the start of each category's peak membership.
var ExceedanceThresholds = []float64{30, 50, 60, 75}

// ExceedancePercentile is the member percentile column the exceedance
// product is computed from.
const ExceedancePercentile = 50

// Number is a JSON numeric cell with fixed decimal precision. NaN and
// ±Inf marshal as null; zero-precision values marshal without a decimal
// point. Rounding is deterministic and stable under reserialization.
type Number struct {
	Value float64
	Prec  int
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(n.Value, 'f', n.Prec, 64)), nil
}

func numbers(vals []float64, prec int) []Number {
	out := make([]Number, len(vals))
	for i, v := range vals {
		out[i] = Number{Value: v, Prec: prec}
	}
	return out
}

// Precision of derived quantities; weather variables carry their own
// precision in the variable table.
const (
	ozonePrec       = 1
	possibilityPrec = 2
	probabilityPrec = 2
)

// Exporter writes artefacts for one cycle into Dir, overwriting artefacts
// from earlier runs of the same init time.
type Exporter struct {
	Dir string
	Log *logrus.Logger
}

func (e *Exporter) logger() *logrus.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e *Exporter) writeJSON(fname string, payload interface{}) (string, error) {
	if err := os.MkdirAll(e.Dir, os.ModePerm); err != nil {
		return "", err
	}
	fpath := filepath.Join(e.Dir, fname)
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export: encoding %s: %v", fname, err)
	}
	if err := os.WriteFile(fpath, b, 0644); err != nil {
		return "", fmt.Errorf("export: writing %s: %v", fname, err)
	}
	return fpath, nil
}

func isoDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05") + "Z"
}

func isoDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func sortedMembers[T any](frames map[clyfar.Member]T) []clyfar.Member {
	members := make([]clyfar.Member, 0, len(frames))
	for m := range frames {
		members = append(members, m)
	}
	sort.Slice(members, func(a, b int) bool { return members[a] < members[b] })
	return members
}

type heatmapMetadata struct {
	InitDatetime string   `json:"init_datetime"`
	Member       string   `json:"member"`
	ProductType  string   `json:"product_type"`
	Categories   []string `json:"categories"`
	NumDays      int      `json:"num_days"`
	NumMissing   int      `json:"num_missing"`
	DataSource   string   `json:"data_source"`
	Units        string   `json:"units"`
}

type possibilityHeatmap struct {
	Metadata      heatmapMetadata     `json:"metadata"`
	ForecastDates []string            `json:"forecast_dates"`
	MissingDates  []string            `json:"missing_dates"`
	Heatmap       map[string][]Number `json:"heatmap"`
}

// WritePossibilityHeatmaps exports one heatmap artefact per member: a
// categories × days grid of daily-max possibilities. Days where every
// category is NaN are listed as missing dates for the frontend.
func (e *Exporter) WritePossibilityHeatmaps(init time.Time,
	dailymax map[clyfar.Member]*clyfar.DailyMaxFrame) ([]string, error) {

	initStr := clyfar.InitString(init)
	var files []string
	for _, m := range sortedMembers(dailymax) {
		df := dailymax[m]
		var missing []string
		for i := range df.Dates {
			allNaN := true
			for _, cat := range clyfar.OzoneCategories {
				if !math.IsNaN(df.Possibility(cat)[i]) {
					allNaN = false
					break
				}
			}
			if allNaN {
				missing = append(missing, isoDate(df.Dates[i]))
			}
		}
		if missing == nil {
			missing = []string{}
		}
		dates := make([]string, len(df.Dates))
		for i, d := range df.Dates {
			dates[i] = isoDate(d)
		}
		heatmap := make(map[string][]Number, len(clyfar.OzoneCategories))
		for _, cat := range clyfar.OzoneCategories {
			heatmap[cat] = numbers(df.Possibility(cat), possibilityPrec)
		}
		payload := possibilityHeatmap{
			Metadata: heatmapMetadata{
				InitDatetime: isoDateTime(init),
				Member:       m.Label(),
				ProductType:  "possibility_heatmap",
				Categories:   clyfar.OzoneCategories,
				NumDays:      df.Len(),
				NumMissing:   len(missing),
				DataSource:   DataSource,
				Units:        "possibility (0-1)",
			},
			ForecastDates: dates,
			MissingDates:  missing,
			Heatmap:       heatmap,
		}
		fname := fmt.Sprintf("forecast_possibility_heatmap_%s_%s.json", m.Label(), initStr)
		fpath, err := e.writeJSON(fname, payload)
		if err != nil {
			return files, err
		}
		files = append(files, fpath)
	}
	e.logger().Infof("export: created %d possibility heatmap files", len(files))
	return files, nil
}

type exceedanceMetadata struct {
	InitDatetime   string    `json:"init_datetime"`
	ProductType    string    `json:"product_type"`
	NumMembers     int       `json:"num_members"`
	NumDays        int       `json:"num_days"`
	ThresholdsPpb  []float64 `json:"thresholds_ppb"`
	PercentileUsed string    `json:"percentile_used"`
	DataSource     string    `json:"data_source"`
	Units          string    `json:"units"`
}

type exceedancePayload struct {
	Metadata                exceedanceMetadata  `json:"metadata"`
	ForecastDates           []string            `json:"forecast_dates"`
	ExceedanceProbabilities map[string][]Number `json:"exceedance_probabilities"`
}

// unionDates returns the sorted union of the frames' local days.
func unionDates(dailymax map[clyfar.Member]*clyfar.DailyMaxFrame) []time.Time {
	seen := make(map[string]time.Time)
	for _, df := range dailymax {
		for _, d := range df.Dates {
			seen[isoDate(d)] = d
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(a, b int) bool { return dates[a].Before(dates[b]) })
	return dates
}

// dateColumn reindexes a daily column onto the union dates, filling NaN
// for days the member does not cover.
func dateColumn(df *clyfar.DailyMaxFrame, col []float64, dates []time.Time) []float64 {
	byDate := make(map[string]float64, len(df.Dates))
	for i, d := range df.Dates {
		byDate[isoDate(d)] = col[i]
	}
	out := make([]float64, len(dates))
	for i, d := range dates {
		if v, ok := byDate[isoDate(d)]; ok {
			out[i] = v
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// ExceedanceProbability computes, for each day, the fraction of members
// whose value strictly exceeds the threshold. Members with a NaN value on
// a day are excluded from both numerator and denominator: missing is not
// the same as non-exceeding. With no finite member the probability is
// NaN.
func ExceedanceProbability(memberValues [][]float64, threshold float64) []float64 {
	if len(memberValues) == 0 {
		return nil
	}
	nDays := len(memberValues[0])
	out := make([]float64, nDays)
	for day := 0; day < nDays; day++ {
		var exceeding, finite int
		for _, vals := range memberValues {
			v := vals[day]
			if math.IsNaN(v) {
				continue
			}
			finite++
			if v > threshold {
				exceeding++
			}
		}
		if finite == 0 {
			out[day] = math.NaN()
		} else {
			out[day] = float64(exceeding) / float64(finite)
		}
	}
	return out
}

// WriteExceedanceProbabilities exports the ensemble exceedance product.
func (e *Exporter) WriteExceedanceProbabilities(init time.Time,
	dailymax map[clyfar.Member]*clyfar.DailyMaxFrame) (string, error) {

	if len(dailymax) == 0 {
		return "", fmt.Errorf("export: no member forecasts for exceedance calculation")
	}
	dates := unionDates(dailymax)
	members := sortedMembers(dailymax)
	memberValues := make([][]float64, 0, len(members))
	for _, m := range members {
		df := dailymax[m]
		col := df.PercentileColumn(ExceedancePercentile)
		if col == nil {
			e.logger().Warnf("export: member %s lacks ozone_%dpc; skipping from exceedance",
				m.Label(), ExceedancePercentile)
			continue
		}
		memberValues = append(memberValues, dateColumn(df, col, dates))
	}
	if len(memberValues) == 0 {
		return "", fmt.Errorf("export: no members carry the exceedance percentile column")
	}

	probs := make(map[string][]Number, len(ExceedanceThresholds))
	for _, threshold := range ExceedanceThresholds {
		p := ExceedanceProbability(memberValues, threshold)
		probs[fmt.Sprintf("%dppb", int(threshold))] = numbers(p, probabilityPrec)
	}
	dateStrs := make([]string, len(dates))
	for i, d := range dates {
		dateStrs[i] = isoDate(d)
	}
	payload := exceedancePayload{
		Metadata: exceedanceMetadata{
			InitDatetime:   isoDateTime(init),
			ProductType:    "exceedance_probabilities",
			NumMembers:     len(memberValues),
			NumDays:        len(dates),
			ThresholdsPpb:  ExceedanceThresholds,
			PercentileUsed: fmt.Sprintf("ozone_%dpc", ExceedancePercentile),
			DataSource:     DataSource,
			Units:          "probability (0-1)",
		},
		ForecastDates:           dateStrs,
		ExceedanceProbabilities: probs,
	}
	fname := fmt.Sprintf("forecast_exceedance_probabilities_%s.json", clyfar.InitString(init))
	fpath, err := e.writeJSON(fname, payload)
	if err == nil {
		e.logger().Infof("export: created %s (thresholds %v ppb)", fname, ExceedanceThresholds)
	}
	return fpath, err
}

type scenarioMetadata struct {
	InitDatetime string `json:"init_datetime"`
	Member       string `json:"member"`
	ProductType  string `json:"product_type"`
	Percentiles  []int  `json:"percentiles"`
	NumDays      int    `json:"num_days"`
	DataSource   string `json:"data_source"`
	Units        string `json:"units"`
}

type scenarioPayload struct {
	Metadata      scenarioMetadata    `json:"metadata"`
	ForecastDates []string            `json:"forecast_dates"`
	Scenarios     map[string][]Number `json:"scenarios"`
}

// WritePercentileScenarios exports one artefact per member with the
// defuzzified daily-max ozone percentiles.
func (e *Exporter) WritePercentileScenarios(init time.Time,
	dailymax map[clyfar.Member]*clyfar.DailyMaxFrame) ([]string, error) {

	initStr := clyfar.InitString(init)
	var files []string
	for _, m := range sortedMembers(dailymax) {
		df := dailymax[m]
		scenarios := make(map[string][]Number, len(df.Percentiles))
		for i, p := range df.Percentiles {
			scenarios[fmt.Sprintf("p%d", p)] = numbers(df.Ozone[i], ozonePrec)
		}
		dates := make([]string, len(df.Dates))
		for i, d := range df.Dates {
			dates[i] = isoDate(d)
		}
		payload := scenarioPayload{
			Metadata: scenarioMetadata{
				InitDatetime: isoDateTime(init),
				Member:       m.Label(),
				ProductType:  "percentile_scenarios",
				Percentiles:  df.Percentiles,
				NumDays:      df.Len(),
				DataSource:   DataSource,
				Units:        "ppb (ozone concentration)",
			},
			ForecastDates: dates,
			Scenarios:     scenarios,
		}
		fname := fmt.Sprintf("forecast_percentile_scenarios_%s_%s.json", m.Label(), initStr)
		fpath, err := e.writeJSON(fname, payload)
		if err != nil {
			return files, err
		}
		files = append(files, fpath)
	}
	e.logger().Infof("export: created %d percentile scenario files", len(files))
	return files, nil
}
