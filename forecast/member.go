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

// Package forecast orchestrates the per-member pipeline and the ensemble
// worker pool: variable reductions feed the fuzzy inference system at
// every timestamp, producing aligned member frames and their daily
// maxima.
package forecast

import (
	"fmt"
	"log"
	"math"

	"github.com/bingham-research-center/clyfar"
	"github.com/bingham-research-center/clyfar/fis"
)

// BuildFrame aligns a member's variable series and runs the fuzzy
// inference system at every timestamp. The snow series' timestamp index
// is canonical: wind, solar, and temperature align exactly, while
// pressure (which may be temporally coarser) aligns by nearest neighbor.
// A timestamp with any NaN FIS input records the inputs but emits NaN
// possibilities and percentiles; inputs outside a universe (including
// ±Inf) are clipped and flagged.
func BuildFrame(engine *fis.FIS, series map[clyfar.Variable]*clyfar.VariableSeries,
	percentiles []int) (*clyfar.MemberFrame, error) {

	snow, ok := series[clyfar.Snow]
	if !ok || snow.Len() == 0 {
		return nil, fmt.Errorf("forecast: no snow series to define the canonical index")
	}
	for _, v := range []clyfar.Variable{clyfar.MSLP, clyfar.Wind, clyfar.Solar} {
		if series[v] == nil {
			return nil, fmt.Errorf("forecast: missing %s series", v)
		}
	}

	frame := clyfar.NewMemberFrame(snow.Member, snow.Init, snow.Times, percentiles)

	for i, t := range frame.Times {
		snowVal := snow.Values[i]
		mslpVal := series[clyfar.MSLP].NearestValue(t)
		windVal := series[clyfar.Wind].ValueAt(t)
		solarVal := series[clyfar.Solar].ValueAt(t)
		tempVal := math.NaN()
		if temp := series[clyfar.Temp]; temp != nil {
			tempVal = temp.ValueAt(t)
		}

		clip := func(name string, val float64, flag *bool) float64 {
			def := engine.Input(name)
			clipped, wasClipped := def.Universe.Clip(val)
			if wasClipped {
				log.Printf("forecast: %s %s=%.3f outside [%g,%g] at %v; clipped",
					snow.Member.Label(), name, val,
					def.Universe.Min, def.Universe.Max, t)
				*flag = true
			}
			return clipped
		}
		snowVal = clip("snow", snowVal, &frame.SnowClipped[i])
		mslpVal = clip("mslp", mslpVal, &frame.MSLPClipped[i])
		windVal = clip("wind", windVal, &frame.WindClipped[i])
		solarVal = clip("solar", solarVal, &frame.SolarClipped[i])

		frame.Snow[i] = snowVal
		frame.MSLP[i] = mslpVal
		frame.Wind[i] = windVal
		frame.Solar[i] = solarVal
		frame.Temp[i] = tempVal

		// Solar is NaN by design on the first row; any other missing
		// input likewise yields NaN outputs for the timestamp.
		poss := engine.Evaluate(map[string]float64{
			"snow": snowVal, "mslp": mslpVal, "wind": windVal, "solar": solarVal,
		})
		frame.Background[i] = poss["background"]
		frame.Moderate[i] = poss["moderate"]
		frame.Elevated[i] = poss["elevated"]
		frame.Extreme[i] = poss["extreme"]

		pcs := engine.DefuzzifyPercentiles(poss, percentiles)
		for pi, p := range percentiles {
			frame.Ozone[pi][i] = pcs[p]
		}
	}
	if err := frame.CheckIndex(); err != nil {
		return nil, err
	}
	return frame, nil
}
