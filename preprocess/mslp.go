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
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/ctessum/geom"

	"github.com/bingham-research-center/clyfar"
)

// ReduceMSLP builds the pressure series by nearest-gridpoint lookup at
// the fixed basin reference location, sweeping the hi-range leads and
// then the lo-range leads. A failed fetch records NaN for that lead.
// Duplicate valid times collapse keeping the earliest record, the series
// is sorted, and values convert Pa → hPa via the variable's unit scale.
func (r *Reducer) ReduceMSLP(ctx context.Context, init time.Time, member clyfar.Member,
	startH, maxH, deltaH int) (*clyfar.VariableSeries, error) {
	return r.reducePoint(ctx, init, member, clyfar.MSLP, clyfar.Ouray, startH, maxH, deltaH)
}

func (r *Reducer) reducePoint(ctx context.Context, init time.Time, member clyfar.Member,
	v clyfar.Variable, p geom.Point, startH, maxH, deltaH int) (*clyfar.VariableSeries, error) {

	info := v.Info()
	series := clyfar.NewVariableSeries(v, member, init)
	var fetched int
	for _, res := range []clyfar.Resolution{clyfar.HiRes, clyfar.LoRes} {
		for _, lead := range leads(startH, maxH, deltaH, res) {
			validTime := init.UTC().Add(time.Duration(lead) * time.Hour)
			grid, err := r.Provider.Fetch(ctx, init, lead, v, res, member)
			if err != nil {
				log.Printf("preprocess: %s %s f%03d: %v; recording NaN",
					member.GEFSLabel(), v, lead, err)
				series.Append(validTime, math.NaN())
				continue
			}
			fetched++
			series.Append(validTime, grid.NearestCell(p)*info.Scale+info.Offset)
		}
	}
	if fetched == 0 {
		return nil, fmt.Errorf("preprocess: %s %s: no forecast hours processed",
			member.GEFSLabel(), v)
	}
	series.Sort()
	series.DedupKeepFirst()
	if err := series.CheckMonotone(); err != nil {
		return nil, err
	}
	return series, nil
}
