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
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bingham-research-center/clyfar"
)

// weatherVariableMeta describes one exported weather variable.
type weatherVariableMeta struct {
	Units       string `json:"units"`
	Description string `json:"description"`
}

var weatherDescriptions = map[clyfar.Variable]string{
	clyfar.Snow:  "Snow depth",
	clyfar.MSLP:  "Mean sea level pressure",
	clyfar.Wind:  "Wind speed",
	clyfar.Solar: "Solar radiation",
	clyfar.Temp:  "Temperature",
}

func weatherVariableBlock() map[string]weatherVariableMeta {
	out := make(map[string]weatherVariableMeta, len(clyfar.Variables))
	for _, v := range clyfar.Variables {
		out[v.String()] = weatherVariableMeta{
			Units:       v.Info().Units,
			Description: weatherDescriptions[v],
		}
	}
	return out
}

type weatherMemberMetadata struct {
	InitDatetime string                         `json:"init_datetime"`
	Member       string                         `json:"member"`
	ProductType  string                         `json:"product_type"`
	Variables    map[string]weatherVariableMeta `json:"variables"`
	NumTimesteps int                            `json:"num_timesteps"`
	DataSource   string                         `json:"data_source"`
}

type weatherMemberPayload struct {
	Metadata      weatherMemberMetadata `json:"metadata"`
	ForecastTimes []string              `json:"forecast_times"`
	Weather       map[string][]Number   `json:"weather"`
}

// WriteWeatherMembers exports the full-resolution weather series for each
// member, with per-variable precision.
func (e *Exporter) WriteWeatherMembers(init time.Time,
	frames map[clyfar.Member]*clyfar.MemberFrame) ([]string, error) {

	initStr := clyfar.InitString(init)
	var files []string
	for _, m := range sortedMembers(frames) {
		f := frames[m]
		times := make([]string, len(f.Times))
		for i, t := range f.Times {
			times[i] = isoDateTime(t)
		}
		weather := make(map[string][]Number, len(clyfar.Variables))
		for _, v := range clyfar.Variables {
			weather[v.String()] = numbers(f.Input(v), v.Info().Precision)
		}
		payload := weatherMemberPayload{
			Metadata: weatherMemberMetadata{
				InitDatetime: isoDateTime(init),
				Member:       m.Label(),
				ProductType:  "gefs_weather",
				Variables:    weatherVariableBlock(),
				NumTimesteps: f.Len(),
				DataSource:   "GEFS via " + DataSource,
			},
			ForecastTimes: times,
			Weather:       weather,
		}
		fname := fmt.Sprintf("forecast_gefs_weather_%s_%s.json", m.Label(), initStr)
		fpath, err := e.writeJSON(fname, payload)
		if err != nil {
			return files, err
		}
		files = append(files, fpath)
	}
	e.logger().Infof("export: created %d weather member files", len(files))
	return files, nil
}

type weatherPercentilesMetadata struct {
	InitDatetime string                         `json:"init_datetime"`
	ProductType  string                         `json:"product_type"`
	NumMembers   int                            `json:"num_members"`
	NumTimesteps int                            `json:"num_timesteps"`
	Percentiles  []int                          `json:"percentiles"`
	Variables    map[string]weatherVariableMeta `json:"variables"`
	DataSource   string                         `json:"data_source"`
}

type weatherPercentilesPayload struct {
	Metadata           weatherPercentilesMetadata     `json:"metadata"`
	ForecastTimes      []string                       `json:"forecast_times"`
	WeatherPercentiles map[string]map[string][]Number `json:"weather_percentiles"`
}

// WriteWeatherPercentiles exports the per-timestep ensemble p10/p50/p90
// of each weather variable over the union of member time indices.
func (e *Exporter) WriteWeatherPercentiles(init time.Time,
	frames map[clyfar.Member]*clyfar.MemberFrame, percentiles []int) (string, error) {

	if len(frames) == 0 {
		return "", fmt.Errorf("export: no member frames for weather percentiles")
	}
	if percentiles == nil {
		percentiles = clyfar.DefaultPercentiles
	}

	// Union time index across members.
	seen := make(map[string]time.Time)
	for _, f := range frames {
		for _, t := range f.Times {
			seen[isoDateTime(t)] = t
		}
	}
	times := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		times = append(times, t)
	}
	sort.Slice(times, func(a, b int) bool { return times[a].Before(times[b]) })

	members := sortedMembers(frames)
	pctData := make(map[string]map[string][]Number, len(clyfar.Variables))
	for _, v := range clyfar.Variables {
		prec := v.Info().Precision
		// Column per member, reindexed onto the union times.
		cols := make([][]float64, 0, len(members))
		for _, m := range members {
			f := frames[m]
			col := f.Input(v)
			byTime := make(map[string]float64, len(f.Times))
			for i, t := range f.Times {
				byTime[isoDateTime(t)] = col[i]
			}
			re := make([]float64, len(times))
			for i, t := range times {
				if val, ok := byTime[isoDateTime(t)]; ok {
					re[i] = val
				} else {
					re[i] = math.NaN()
				}
			}
			cols = append(cols, re)
		}
		varPcts := make(map[string][]Number, len(percentiles))
		for _, p := range percentiles {
			vals := make([]float64, len(times))
			for i := range times {
				sample := make([]float64, len(cols))
				for mi := range cols {
					sample[mi] = cols[mi][i]
				}
				vals[i] = clyfar.LinearQuantile(sample, float64(p)/100)
			}
			varPcts[fmt.Sprintf("p%d", p)] = numbers(vals, prec)
		}
		pctData[v.String()] = varPcts
	}

	timeStrs := make([]string, len(times))
	for i, t := range times {
		timeStrs[i] = isoDateTime(t)
	}
	payload := weatherPercentilesPayload{
		Metadata: weatherPercentilesMetadata{
			InitDatetime: isoDateTime(init),
			ProductType:  "gefs_weather_percentiles",
			NumMembers:   len(frames),
			NumTimesteps: len(times),
			Percentiles:  percentiles,
			Variables:    weatherVariableBlock(),
			DataSource:   "GEFS via " + DataSource,
		},
		ForecastTimes:      timeStrs,
		WeatherPercentiles: pctData,
	}
	fname := fmt.Sprintf("forecast_gefs_weather_percentiles_%s.json", clyfar.InitString(init))
	fpath, err := e.writeJSON(fname, payload)
	if err == nil {
		e.logger().Infof("export: created %s (%d timesteps)", fname, len(times))
	}
	return fpath, err
}
