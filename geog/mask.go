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

package geog

import (
	"context"
	"fmt"
	"sync"

	"github.com/ctessum/sparse"

	"github.com/bingham-research-center/clyfar"
)

// Mask is a boolean matrix over a resolution's basin subset selecting
// low-terrain cells. It is never NaN.
type Mask struct {
	Cells  []bool
	Ny, Nx int
}

// At reports whether the cell at (i, j) is selected.
func (m *Mask) At(i, j int) bool { return m.Cells[i*m.Nx+j] }

// CountTrue returns the number of selected cells.
func (m *Mask) CountTrue() int {
	var n int
	for _, c := range m.Cells {
		if c {
			n++
		}
	}
	return n
}

// MaskConfig controls how the low-terrain mask is derived from the
// elevation field.
type MaskConfig struct {
	// Threshold is the low/high terrain split elevation in metres.
	Threshold float64
	// Buffer is added to the threshold so marginal benches stay in the
	// mask.
	Buffer float64
	// Smooth applies a weighted 8-neighbor average to the elevation
	// field before thresholding. Disabled in the production freeze.
	Smooth bool
}

// DefaultMaskConfig matches the production build.
func DefaultMaskConfig() MaskConfig {
	return MaskConfig{
		Threshold: clyfar.ElevationThreshold,
		Buffer:    clyfar.ElevationBuffer,
	}
}

// BuildMask thresholds the elevation field into a low-terrain mask.
func BuildMask(elev *sparse.DenseArray, cfg MaskConfig) (*Mask, error) {
	if len(elev.Shape) != 2 {
		return nil, fmt.Errorf("geog: elevation field has %d dimensions; want 2", len(elev.Shape))
	}
	field := elev
	if cfg.Smooth {
		// Smoothing needs the unbuffered mask to pick its neighbors.
		raw := threshold(elev, cfg.Threshold)
		field = weightedNeighborAverage(elev, raw)
	}
	return threshold(field, cfg.Threshold+cfg.Buffer), nil
}

func threshold(elev *sparse.DenseArray, limit float64) *Mask {
	ny, nx := elev.Shape[0], elev.Shape[1]
	m := &Mask{Cells: make([]bool, ny*nx), Ny: ny, Nx: nx}
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			m.Cells[i*nx+j] = elev.Get(i, j) < limit
		}
	}
	return m
}

// weightedNeighborAverage blends each cell's elevation with the average of
// its low-terrain 8-connected neighbors, weighting the cell itself twice
// as much as the neighborhood. Cells with no selected neighbors keep
// their original elevation.
func weightedNeighborAverage(elev *sparse.DenseArray, mask *Mask) *sparse.DenseArray {
	ny, nx := elev.Shape[0], elev.Shape[1]
	out := sparse.ZerosDense(ny, nx)
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			var sum float64
			var count int
			for di := -1; di <= 1; di++ {
				for dj := -1; dj <= 1; dj++ {
					if di == 0 && dj == 0 {
						continue
					}
					ii, jj := i+di, j+dj
					if ii < 0 || ii >= ny || jj < 0 || jj >= nx {
						continue
					}
					if !mask.At(ii, jj) {
						continue
					}
					sum += elev.Get(ii, jj)
					count++
				}
			}
			if count == 0 {
				out.Set(elev.Get(i, j), i, j)
				continue
			}
			avg := sum / float64(count)
			out.Set((2*elev.Get(i, j)+avg)/3, i, j)
		}
	}
	return out
}

// Masks resolves the low-terrain mask for each resolution, computing each
// at most once per process. First writer wins; concurrent readers are
// safe.
type Masks struct {
	Service *Service
	Config  MaskConfig

	mu    sync.Mutex
	cache map[clyfar.Resolution]*Mask
}

// StaticMasks returns a mask resolver preloaded with fixed masks,
// bypassing the elevation service.
func StaticMasks(masks map[clyfar.Resolution]*Mask) *Masks {
	cache := make(map[clyfar.Resolution]*Mask, len(masks))
	for res, m := range masks {
		cache[res] = m
	}
	return &Masks{cache: cache}
}

// Get returns the mask for the given resolution.
func (ms *Masks) Get(ctx context.Context, res clyfar.Resolution) (*Mask, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if m, ok := ms.cache[res]; ok {
		return m, nil
	}
	elev, err := ms.Service.Elevations(ctx, res)
	if err != nil {
		return nil, err
	}
	m, err := BuildMask(elev, ms.Config)
	if err != nil {
		return nil, err
	}
	if ms.cache == nil {
		ms.cache = make(map[clyfar.Resolution]*Mask)
	}
	ms.cache[res] = m
	return m, nil
}
