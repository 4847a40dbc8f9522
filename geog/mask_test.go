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
	"testing"

	"github.com/ctessum/sparse"

	"github.com/bingham-research-center/clyfar"
)

func elevField(vals [][]float64) *sparse.DenseArray {
	ny, nx := len(vals), len(vals[0])
	a := sparse.ZerosDense(ny, nx)
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			a.Set(vals[i][j], i, j)
		}
	}
	return a
}

func TestBuildMaskThresholdWithBuffer(t *testing.T) {
	elev := elevField([][]float64{
		{1400, 1900, 2200},
		{1800, 2050, 2500},
	})
	m, err := BuildMask(elev, DefaultMaskConfig())
	if err != nil {
		t.Fatal(err)
	}
	// Threshold 1850 + 250 buffer = 2100 m.
	want := []bool{true, true, false, true, true, false}
	for i, w := range want {
		if m.Cells[i] != w {
			t.Errorf("cell %d = %v; want %v", i, m.Cells[i], w)
		}
	}
	if m.CountTrue() != 4 {
		t.Errorf("CountTrue = %d; want 4", m.CountTrue())
	}
}

func TestBuildMaskNoBuffer(t *testing.T) {
	elev := elevField([][]float64{{1840, 1860}})
	m, err := BuildMask(elev, MaskConfig{Threshold: clyfar.ElevationThreshold})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Cells[0] || m.Cells[1] {
		t.Errorf("unbuffered mask = %v; want [true false]", m.Cells)
	}
}

func TestBuildMaskRejectsNon2D(t *testing.T) {
	if _, err := BuildMask(sparse.ZerosDense(4), DefaultMaskConfig()); err == nil {
		t.Error("1-D elevation field should be rejected")
	}
}

func TestWeightedNeighborAverage(t *testing.T) {
	elev := elevField([][]float64{
		{1500, 1500, 1500},
		{1500, 2400, 1500},
		{1500, 1500, 1500},
	})
	raw := threshold(elev, clyfar.ElevationThreshold)
	smoothed := weightedNeighborAverage(elev, raw)
	// The center cell blends toward its eight low neighbors:
	// (2*2400 + 1500) / 3 = 2100.
	if got := smoothed.Get(1, 1); got != 2100 {
		t.Errorf("smoothed center = %g; want 2100", got)
	}
	// A corner keeps low elevation dominant.
	if got := smoothed.Get(0, 0); got >= 1800 {
		t.Errorf("smoothed corner = %g; want well below threshold", got)
	}
}

func TestSmoothingChangesMarginalCells(t *testing.T) {
	// A 2150 m bench surrounded by low terrain drops under the
	// 2100 m buffered limit once smoothed.
	elev := elevField([][]float64{
		{1500, 1500, 1500},
		{1500, 2150, 1500},
		{1500, 1500, 1500},
	})
	plain, err := BuildMask(elev, DefaultMaskConfig())
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultMaskConfig()
	cfg.Smooth = true
	smoothed, err := BuildMask(elev, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if plain.At(1, 1) {
		t.Error("2150 m cell should be excluded without smoothing")
	}
	if !smoothed.At(1, 1) {
		t.Error("2150 m cell should be included after neighbor smoothing")
	}
}

func TestStaticMasks(t *testing.T) {
	m := &Mask{Cells: []bool{true, false}, Ny: 1, Nx: 2}
	masks := StaticMasks(map[clyfar.Resolution]*Mask{clyfar.HiRes: m})
	got, err := masks.Get(nil, clyfar.HiRes)
	if err != nil {
		t.Fatal(err)
	}
	if got != m {
		t.Error("static mask not returned")
	}
}
