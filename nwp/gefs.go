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

package nwp

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"

	"github.com/bingham-research-center/clyfar"
)

// GEFS fetches basin subsets of GEFS ensemble output as NetCDF files from
// a subset server and crops them to the analysis domain.
type GEFS struct {
	// BaseURL is the root of the subset server, e.g.
	// https://example.org/gefs-subsets.
	BaseURL string
	// Client is the HTTP client used for downloads. If nil,
	// http.DefaultClient is used.
	Client *http.Client
	// ScratchDir stages downloaded files. If empty, the OS temporary
	// directory is used.
	ScratchDir string
	// Bounds crops fetched grids. If zero, clyfar.Basin is used.
	Bounds geom.Bounds
}

// gridURL builds the subset server path for one field:
// <base>/gefs.<YYYYMMDD>/<HH>/<res>/<member>/<key>_f<FFF>.nc
func (g *GEFS) gridURL(init time.Time, lead int, key string, res clyfar.Resolution, member clyfar.Member) string {
	init = init.UTC()
	return fmt.Sprintf("%s/gefs.%s/%s/%s/%s/%s_f%03d.nc",
		g.BaseURL, init.Format("20060102"), init.Format("15"),
		res, member.GEFSLabel(), key, lead)
}

// Fetch downloads, decodes, and crops one grid. A server 404 is reported
// as ErrNotFound so callers can distinguish a missing file from a
// transient failure.
func (g *GEFS) Fetch(ctx context.Context, init time.Time, lead int, v clyfar.Variable,
	res clyfar.Resolution, member clyfar.Member) (*Grid, error) {

	if lead > res.MaxLead() {
		return nil, fmt.Errorf("nwp: lead %d h exceeds %s horizon %d h", lead, res, res.MaxLead())
	}
	info := v.Info()
	url := g.gridURL(init, lead, info.Key, res, member)

	fname, err := g.download(ctx, url)
	if err != nil {
		return nil, err
	}
	defer os.Remove(fname)

	grid, err := readGridNCF(fname, info.Key)
	if err != nil {
		return nil, fmt.Errorf("nwp: decoding %s: %v", url, err)
	}
	grid.ValidTime = init.UTC().Add(time.Duration(lead) * time.Hour)
	grid.Resolution = res

	bounds := g.Bounds
	if bounds == (geom.Bounds{}) {
		bounds = clyfar.Basin
	}
	cropGrid(grid, bounds)
	if err := grid.Check(); err != nil {
		return nil, err
	}
	return grid, nil
}

// download stages url into the scratch directory, writing to a temporary
// file and renaming so partially-downloaded files are never read.
func (g *GEFS) download(ctx context.Context, url string) (string, error) {
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("nwp: building request for %s: %v", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("nwp: fetching %s: %v", url, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("nwp: fetching %s: %w", url, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("nwp: fetching %s: status %s", url, resp.Status)
	}

	dir := g.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	tmp, err := os.CreateTemp(dir, "gefs_*.nc.tmp")
	if err != nil {
		return "", fmt.Errorf("nwp: staging download: %v", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("nwp: staging %s: %v", url, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	final := strings.TrimSuffix(tmp.Name(), ".tmp")
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return final, nil
}

// readGridNCF reads the named variable plus its latitude and longitude
// coordinate vectors from a NetCDF file.
func readGridNCF(fname, key string) (*Grid, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ff, err := cdf.Open(f)
	if err != nil {
		return nil, err
	}
	lats, err := readVector(ff, "latitude")
	if err != nil {
		return nil, err
	}
	lons, err := readVector(ff, "longitude")
	if err != nil {
		return nil, err
	}
	dims := ff.Header.Lengths(key)
	if len(dims) == 0 {
		return nil, fmt.Errorf("variable %v not in file", key)
	}
	// Some subsets carry a leading length-one time dimension.
	if len(dims) == 3 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("variable %v has shape %v; want 2-D", key, dims)
	}
	r := ff.Reader(key, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading variable %s: %v", key, err)
	}
	data := sparse.ZerosDense(dims...)
	switch vals := buf.(type) {
	case []float32:
		for i, val := range vals {
			data.Elements[i] = float64(val)
		}
	case []float64:
		copy(data.Elements, vals)
	default:
		return nil, fmt.Errorf("variable %s has unsupported type %T", key, buf)
	}
	// GEFS longitudes run 0–360; shift to ±180 for basin comparisons.
	for i, lon := range lons {
		if lon > 180 {
			lons[i] = lon - 360
		}
	}
	return &Grid{Data: data, Lats: lats, Lons: lons}, nil
}

// readVector reads a 1-D coordinate variable as float64.
func readVector(ff *cdf.File, name string) ([]float64, error) {
	dims := ff.Header.Lengths(name)
	if len(dims) != 1 {
		return nil, fmt.Errorf("coordinate %s has shape %v; want 1-D", name, dims)
	}
	r := ff.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading coordinate %s: %v", name, err)
	}
	out := make([]float64, dims[0])
	switch vals := buf.(type) {
	case []float32:
		for i, val := range vals {
			out[i] = float64(val)
		}
	case []float64:
		copy(out, vals)
	default:
		return nil, fmt.Errorf("coordinate %s has unsupported type %T", name, buf)
	}
	return out, nil
}

// cropGrid restricts g in place to the cells inside bounds. Latitude
// order is preserved as delivered.
func cropGrid(g *Grid, b geom.Bounds) {
	latIdx := indexRange(g.Lats, b.Min.Y, b.Max.Y)
	lonIdx := indexRange(g.Lons, b.Min.X, b.Max.X)
	if len(latIdx) == len(g.Lats) && len(lonIdx) == len(g.Lons) {
		return
	}
	cropped := sparse.ZerosDense(len(latIdx), len(lonIdx))
	for i, li := range latIdx {
		for j, lj := range lonIdx {
			cropped.Set(g.Data.Get(li, lj), i, j)
		}
	}
	lats := make([]float64, len(latIdx))
	for i, li := range latIdx {
		lats[i] = g.Lats[li]
	}
	lons := make([]float64, len(lonIdx))
	for j, lj := range lonIdx {
		lons[j] = g.Lons[lj]
	}
	g.Data, g.Lats, g.Lons = cropped, lats, lons
}

// indexRange returns the indices of coords with min <= coord <= max, in
// their original order.
func indexRange(coords []float64, min, max float64) []int {
	var idx []int
	for i, c := range coords {
		if c >= min && c <= max {
			idx = append(idx, i)
		}
	}
	return idx
}

// NearestCell returns the value of the grid cell closest to the given
// point, by independent nearest search on each rectilinear coordinate.
func (g *Grid) NearestCell(p geom.Point) float64 {
	if len(g.Lats) == 0 || len(g.Lons) == 0 {
		return math.NaN()
	}
	li := nearestIndex(g.Lats, p.Y)
	lj := nearestIndex(g.Lons, p.X)
	return g.Data.Get(li, lj)
}

func nearestIndex(coords []float64, target float64) int {
	best := 0
	bestDist := math.Abs(coords[0] - target)
	for i, c := range coords[1:] {
		if d := math.Abs(c - target); d < bestDist {
			bestDist = d
			best = i + 1
		}
	}
	return best
}

// MaskedValues returns the grid values at cells where mask is true. The
// mask shape must match the grid; a mismatch returns an error rather than
// a partial selection.
func (g *Grid) MaskedValues(mask []bool, ny, nx int) ([]float64, error) {
	if ny != g.Data.Shape[0] || nx != g.Data.Shape[1] {
		return nil, fmt.Errorf("nwp: mask shape %d×%d does not match grid shape %v", ny, nx, g.Data.Shape)
	}
	var out []float64
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			if mask[i*nx+j] {
				out = append(out, g.Data.Get(i, j))
			}
		}
	}
	return out, nil
}
