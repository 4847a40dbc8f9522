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

// Package nwp provides access to gridded ensemble weather forecasts. The
// Provider capability abstracts the forecast source; the GEFS
// implementation fetches NetCDF grid subsets over HTTP, with retrying and
// caching wrappers that compose around any Provider.
package nwp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ctessum/sparse"

	"github.com/bingham-research-center/clyfar"
)

// ErrNotFound reports that the provider has no file for the requested
// grid. It is a permanent condition: callers record a missing lead rather
// than retrying.
var ErrNotFound = errors.New("nwp: no such forecast file")

// Grid is a 2-D latitude×longitude field at a single valid time.
// Latitudes are stored in the order delivered by the provider (descending
// for GEFS); consumers treat orientation agnostically.
type Grid struct {
	// Data holds values indexed (latitude, longitude). Values may be NaN.
	Data *sparse.DenseArray
	// Lats and Lons are the coordinate vectors matching Data's shape.
	Lats, Lons []float64
	// ValidTime is the forecast valid time of the field.
	ValidTime time.Time
	// Resolution tags the source grid.
	Resolution clyfar.Resolution
}

// Check verifies that the grid shape matches its coordinate vectors.
func (g *Grid) Check() error {
	if len(g.Data.Shape) != 2 {
		return fmt.Errorf("nwp: grid has %d dimensions; want 2", len(g.Data.Shape))
	}
	if g.Data.Shape[0] != len(g.Lats) || g.Data.Shape[1] != len(g.Lons) {
		return fmt.Errorf("nwp: grid shape %v does not match coordinate lengths %d×%d",
			g.Data.Shape, len(g.Lats), len(g.Lons))
	}
	return nil
}

// Provider is the capability the reduction pipeline consumes: fetch one
// 2-D field for (init time, lead hour, variable, resolution, member).
type Provider interface {
	Fetch(ctx context.Context, init time.Time, lead int, v clyfar.Variable,
		res clyfar.Resolution, member clyfar.Member) (*Grid, error)
}
