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
	"time"

	"github.com/bingham-research-center/clyfar"
)

// SolarCutoffH is the lead hour beyond which the lo-resolution solar
// stream is considered degraded and replaced by persistence.
const SolarCutoffH = clyfar.HorizonSplit

// FillLateSolar overwrites every solar sample beyond the cutoff with a
// deterministic local-hour persistence value built from the ≤cutoff
// anchor window: per local clock hour in loc, the median of the anchor
// values with that hour. A late timestamp whose local hour is missing
// from the anchor takes the nearest available hour on a cyclic 24-hour
// ring (ties break toward the smaller hour), falling back to the
// anchor-wide median. An empty anchor emits zero. The function is pure
// apart from mutating s, deterministic, and idempotent: the anchor window
// is never modified, so reapplication reproduces the same values.
func FillLateSolar(s *clyfar.VariableSeries, deltaH, maxH int, loc *time.Location) {
	if maxH <= SolarCutoffH {
		return
	}
	deltaLo := deltaH
	if deltaLo < 6 {
		deltaLo = 6
	}

	// Anchor lookup: local hour → median of finite ≤cutoff values.
	hourVals := make(map[int][]float64)
	var anchorAll []float64
	for i, t := range s.Times {
		if s.Fxx[i] > SolarCutoffH || math.IsNaN(s.Values[i]) {
			continue
		}
		h := t.In(loc).Hour()
		hourVals[h] = append(hourVals[h], s.Values[i])
		anchorAll = append(anchorAll, s.Values[i])
	}
	hourMedian := make(map[int]float64, len(hourVals))
	for h, vals := range hourVals {
		hourMedian[h] = clyfar.Median(vals)
	}
	fallback := clyfar.Median(anchorAll)

	lookup := func(localHour int) float64 {
		if v, ok := hourMedian[localHour]; ok {
			return v
		}
		if len(hourMedian) > 0 {
			best := -1
			bestDist := 25
			for h := 0; h < 24; h++ {
				if _, ok := hourMedian[h]; !ok {
					continue
				}
				d := cyclicHourDistance(h, localHour)
				if d < bestDist || (d == bestDist && (best < 0 || h < best)) {
					bestDist = d
					best = h
				}
			}
			return hourMedian[best]
		}
		if len(anchorAll) > 0 {
			return fallback
		}
		return 0
	}

	// Emit the canonical late-range timestamps, overwriting any existing
	// sample at the same valid time.
	for lead := SolarCutoffH + deltaLo; lead <= maxH; lead += deltaLo {
		t := s.Init.Add(time.Duration(lead) * time.Hour)
		val := lookup(t.In(loc).Hour())
		if i := s.IndexOf(t); i >= 0 {
			s.Values[i] = val
			s.Fxx[i] = lead
		} else {
			s.Append(t, val)
		}
	}
	s.Sort()
}

// cyclicHourDistance is the distance between two clock hours on a 24-hour
// ring.
func cyclicHourDistance(a, b int) int {
	d := (a - b) % 24
	if d < 0 {
		d += 24
	}
	if rd := 24 - d; rd < d {
		return rd
	}
	return d
}
