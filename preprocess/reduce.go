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

// Package preprocess reduces a member's gridded forecast to univariate
// basin-representative time series: masked quantile reductions for the
// area variables, a nearest-gridpoint sweep for pressure, horizon
// stitching across the two grid resolutions, and the deterministic solar
// persistence filler for extended leads.
package preprocess

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/bingham-research-center/clyfar"
	"github.com/bingham-research-center/clyfar/geog"
	"github.com/bingham-research-center/clyfar/nwp"
)

// Reducer converts grids into representative time series using the
// configured provider and masks.
type Reducer struct {
	Provider nwp.Provider
	Masks    *geog.Masks
	// Interp selects the quantile estimator; the production policy is
	// Hazen.
	Interp clyfar.Interpolation
}

// leads returns the forecast hours for one resolution's stream. The lead
// at exactly the horizon split belongs to the hi stream only.
func leads(start, max, delta int, res clyfar.Resolution) []int {
	var out []int
	switch res {
	case clyfar.HiRes:
		for l := start; l <= max && l <= clyfar.HorizonSplit; l += delta {
			out = append(out, l)
		}
	default:
		deltaLo := delta
		if deltaLo < 6 {
			deltaLo = 6
		}
		for l := clyfar.HorizonSplit + deltaLo; l <= max; l += deltaLo {
			out = append(out, l)
		}
	}
	return out
}

// Reduce builds the representative series for an area-reduced variable:
// for each lead it fetches the grid at the appropriate resolution, masks
// low-terrain cells, and reduces the survivors with the variable's policy
// quantile. The hi-range (≤240 h) and lo-range (>240 h) streams are
// stitched in time order. A failed fetch records NaN for that lead; if no
// lead in either stream yields a grid the member's variable is
// unrecoverable and an error is returned.
func (r *Reducer) Reduce(ctx context.Context, init time.Time, member clyfar.Member,
	v clyfar.Variable, startH, maxH, deltaH int) (*clyfar.VariableSeries, error) {

	info := v.Info()
	if info.Kind == clyfar.PointLookup {
		return nil, fmt.Errorf("preprocess: %s uses the point pipeline, not an area reduction", v)
	}
	if v == clyfar.Solar && startH == 0 {
		// Downward shortwave is an accumulation-derived field with no
		// meaning at analysis time.
		startH = deltaH
	}

	reduceStream := func(series *clyfar.VariableSeries, res clyfar.Resolution, streamLeads []int) (int, error) {
		mask, err := r.Masks.Get(ctx, res)
		if err != nil {
			return 0, fmt.Errorf("preprocess: %s mask: %v", res, err)
		}
		if mask.CountTrue() == 0 && len(streamLeads) > 0 {
			log.Printf("preprocess: %s mask selects zero cells; %s %s leads will be NaN",
				res, v, res)
		}
		var fetched int
		for _, lead := range streamLeads {
			validTime := init.UTC().Add(time.Duration(lead) * time.Hour)
			grid, err := r.Provider.Fetch(ctx, init, lead, v, res, member)
			if err != nil {
				log.Printf("preprocess: %s %s f%03d: %v; recording NaN",
					member.GEFSLabel(), v, lead, err)
				series.Append(validTime, math.NaN())
				continue
			}
			fetched++
			series.Append(validTime, r.reduceGrid(grid, mask, info))
		}
		return fetched, nil
	}

	series := clyfar.NewVariableSeries(v, member, init)
	hiFetched, err := reduceStream(series, clyfar.HiRes, leads(startH, maxH, deltaH, clyfar.HiRes))
	if err != nil {
		return nil, err
	}
	loLeads := leads(startH, maxH, deltaH, clyfar.LoRes)
	if hiFetched == 0 {
		// Hi-stream outage: proceed lo-only over the whole horizon
		// rather than carrying a dead hi range.
		log.Printf("preprocess: %s %s: hi-resolution stream unavailable; using lo-only",
			member.GEFSLabel(), v)
		series = clyfar.NewVariableSeries(v, member, init)
		deltaLo := deltaH
		if deltaLo < 6 {
			deltaLo = 6
		}
		loLeads = nil
		for l := startH; l <= maxH; l += deltaLo {
			loLeads = append(loLeads, l)
		}
	}
	loFetched, err := reduceStream(series, clyfar.LoRes, loLeads)
	if err != nil {
		return nil, err
	}
	if hiFetched == 0 && loFetched == 0 {
		return nil, fmt.Errorf("preprocess: %s %s: no forecast hours processed",
			member.GEFSLabel(), v)
	}
	series.Sort()
	if err := series.CheckMonotone(); err != nil {
		return nil, err
	}
	return series, nil
}

// reduceGrid collapses one masked grid to its policy quantile, applying
// the variable's unit conversion.
func (r *Reducer) reduceGrid(grid *nwp.Grid, mask *geog.Mask, info clyfar.VariableInfo) float64 {
	vals, err := grid.MaskedValues(mask.Cells, mask.Ny, mask.Nx)
	if err != nil {
		log.Printf("preprocess: %v; recording NaN", err)
		return math.NaN()
	}
	q := clyfar.Quantile(vals, info.Quantile, r.Interp)
	return q*info.Scale + info.Offset
}

// ApplySnowOffset adjusts a snow series toward a representative observed
// depth: every value shifts by (s₀ − observed) where s₀ is the first
// sample, then clamps at zero. The offset is a single scalar for the
// whole horizon; it returns the applied offset in mm so the correction
// can be surfaced downstream.
func ApplySnowOffset(s *clyfar.VariableSeries, observed float64) float64 {
	if s.Len() == 0 || math.IsNaN(observed) {
		return 0
	}
	s0 := s.Values[0]
	if math.IsNaN(s0) {
		return 0
	}
	offset := s0 - observed
	for i, v := range s.Values {
		if math.IsNaN(v) {
			continue
		}
		adjusted := v - offset
		if adjusted < 0 {
			adjusted = 0
		}
		s.Values[i] = adjusted
	}
	return offset
}
