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

// Package geog manages the static geography used for spatial reduction:
// per-resolution coordinate vectors, the basin elevation field, and the
// low-terrain masks derived from it. Coordinates and elevations are
// fetched once and cached on disk, keyed by resolution.
package geog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ctessum/sparse"
	"github.com/parquet-go/parquet-go"

	"github.com/bingham-research-center/clyfar"
	"github.com/bingham-research-center/clyfar/nwp"
)

// epqsURL is the USGS Elevation Point Query Service.
const epqsURL = "https://epqs.nationalmap.gov/v1/json"

// Service resolves coordinates, elevations, and masks for the basin
// domain, caching each on disk under Dir.
type Service struct {
	// Dir is the geography cache directory (<data_root>/geog).
	Dir string
	// Provider fetches a reference grid when coordinate caches are
	// missing.
	Provider nwp.Provider
	// Client is used for elevation queries. If nil, http.DefaultClient.
	Client *http.Client
}

// Coords holds the coordinate vectors of one resolution's basin subset.
type Coords struct {
	Lats, Lons []float64
}

type coordRow struct {
	Index int32   `parquet:"index"`
	Value float64 `parquet:"value"`
}

type elevRow struct {
	Row       int32   `parquet:"row"`
	Col       int32   `parquet:"col"`
	Elevation float64 `parquet:"elevation_m"`
}

// Coords returns the basin coordinate vectors for the given resolution,
// reading the cache if present and otherwise deriving them from a
// reference grid fetch and writing the cache.
func (s *Service) Coords(ctx context.Context, res clyfar.Resolution) (*Coords, error) {
	latFile := filepath.Join(s.Dir, fmt.Sprintf("gefs%s_latitudes.parquet", res))
	lonFile := filepath.Join(s.Dir, fmt.Sprintf("gefs%s_longitudes.parquet", res))

	lats, latErr := readVectorParquet(latFile)
	lons, lonErr := readVectorParquet(lonFile)
	if latErr == nil && lonErr == nil {
		return &Coords{Lats: lats, Lons: lons}, nil
	}

	// Use the most recent certainly-complete cycle for the reference
	// fetch; any cycle works because the grid geometry is fixed.
	init := clyfar.ResolveInitTime(time.Now(), 24*time.Hour).Time
	grid, err := s.Provider.Fetch(ctx, init, 0, clyfar.MSLP, res, clyfar.Member(1))
	if err != nil {
		return nil, fmt.Errorf("geog: fetching reference grid for %s coordinates: %v", res, err)
	}
	if err := os.MkdirAll(s.Dir, os.ModePerm); err != nil {
		return nil, err
	}
	if err := writeVectorParquet(latFile, grid.Lats); err != nil {
		return nil, fmt.Errorf("geog: caching %s latitudes: %v", res, err)
	}
	if err := writeVectorParquet(lonFile, grid.Lons); err != nil {
		return nil, fmt.Errorf("geog: caching %s longitudes: %v", res, err)
	}
	return &Coords{Lats: grid.Lats, Lons: grid.Lons}, nil
}

// Elevations returns the basin elevation matrix for the given resolution,
// shaped (latitude, longitude) to match Coords. The matrix is cached on
// disk; a missing cache triggers one point query per grid cell.
func (s *Service) Elevations(ctx context.Context, res clyfar.Resolution) (*sparse.DenseArray, error) {
	fpath := filepath.Join(s.Dir, fmt.Sprintf("elev_%s.parquet", res))
	if elev, err := readElevParquet(fpath); err == nil {
		return elev, nil
	}

	coords, err := s.Coords(ctx, res)
	if err != nil {
		return nil, err
	}
	elev := sparse.ZerosDense(len(coords.Lats), len(coords.Lons))
	for i, lat := range coords.Lats {
		for j, lon := range coords.Lons {
			v, err := s.elevationAt(ctx, lat, lon)
			if err != nil {
				return nil, fmt.Errorf("geog: elevation lookup at (%g, %g): %v", lat, lon, err)
			}
			elev.Set(v, i, j)
		}
	}
	if err := os.MkdirAll(s.Dir, os.ModePerm); err != nil {
		return nil, err
	}
	if err := writeElevParquet(fpath, elev); err != nil {
		return nil, fmt.Errorf("geog: caching %s elevations: %v", res, err)
	}
	return elev, nil
}

// elevationAt queries the point elevation service with backoff retries.
func (s *Service) elevationAt(ctx context.Context, lat, lon float64) (float64, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	q := url.Values{}
	q.Set("output", "json")
	q.Set("x", fmt.Sprintf("%g", lon))
	q.Set("y", fmt.Sprintf("%g", lat))
	q.Set("units", "Meters")
	reqURL := epqsURL + "?" + q.Encode()

	var elevation float64
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	err := backoff.RetryNotify(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status %s", resp.Status)
			}
			var payload struct {
				Value float64 `json:"value"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				return err
			}
			elevation = payload.Value
			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx),
		func(err error, d time.Duration) {
			log.Printf("geog: elevation query: %v: retrying in %v", err, d)
		},
	)
	return elevation, err
}

func writeVectorParquet(fpath string, vals []float64) error {
	rows := make([]coordRow, len(vals))
	for i, v := range vals {
		rows[i] = coordRow{Index: int32(i), Value: v}
	}
	return parquet.WriteFile(fpath, rows)
}

func readVectorParquet(fpath string) ([]float64, error) {
	rows, err := parquet.ReadFile[coordRow](fpath)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for _, r := range rows {
		if int(r.Index) >= len(out) {
			return nil, fmt.Errorf("geog: corrupt coordinate cache %s", fpath)
		}
		out[r.Index] = r.Value
	}
	return out, nil
}

func writeElevParquet(fpath string, elev *sparse.DenseArray) error {
	ny, nx := elev.Shape[0], elev.Shape[1]
	rows := make([]elevRow, 0, ny*nx)
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			rows = append(rows, elevRow{Row: int32(i), Col: int32(j), Elevation: elev.Get(i, j)})
		}
	}
	return parquet.WriteFile(fpath, rows)
}

func readElevParquet(fpath string) (*sparse.DenseArray, error) {
	rows, err := parquet.ReadFile[elevRow](fpath)
	if err != nil {
		return nil, err
	}
	var ny, nx int
	for _, r := range rows {
		if int(r.Row) >= ny {
			ny = int(r.Row) + 1
		}
		if int(r.Col) >= nx {
			nx = int(r.Col) + 1
		}
	}
	if ny*nx != len(rows) {
		return nil, fmt.Errorf("geog: corrupt elevation cache %s", fpath)
	}
	elev := sparse.ZerosDense(ny, nx)
	for _, r := range rows {
		elev.Set(r.Elevation, int(r.Row), int(r.Col))
	}
	return elev, nil
}
