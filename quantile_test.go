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

package clyfar

import (
	"math"
	"testing"
)

func TestHazenQuantile(t *testing.T) {
	tests := []struct {
		vals []float64
		q    float64
		want float64
	}{
		// 4 samples, median: rank 0.5*4+0.5 = 2.5 → midway between
		// the 2nd and 3rd sorted samples.
		{[]float64{1, 2, 3, 4}, 0.5, 2.5},
		// Rank beyond the last sample clamps to the maximum.
		{[]float64{1, 2, 3, 4}, 0.95, 4},
		// Rank before the first sample clamps to the minimum.
		{[]float64{1, 2, 3, 4}, 0.05, 1},
		// 5 samples at q=0.75: rank 4.25 → 4 + 0.25*(5−4).
		{[]float64{1, 2, 3, 4, 5}, 0.75, 4.25},
		// Unsorted input sorts first.
		{[]float64{4, 1, 3, 2}, 0.5, 2.5},
		// NaN samples are ignored.
		{[]float64{1, math.NaN(), 2, 3, 4}, 0.5, 2.5},
	}
	for _, test := range tests {
		got := Quantile(test.vals, test.q, Hazen)
		if math.Abs(got-test.want) > 1e-12 {
			t.Errorf("Quantile(%v, %g, Hazen) = %g; want %g",
				test.vals, test.q, got, test.want)
		}
	}
}

func TestQuantileTooFewSamples(t *testing.T) {
	if got := Quantile([]float64{5}, 0.5, Hazen); !math.IsNaN(got) {
		t.Errorf("one finite sample should give NaN, got %g", got)
	}
	if got := Quantile([]float64{math.NaN(), math.Inf(1)}, 0.5, Hazen); !math.IsNaN(got) {
		t.Errorf("no finite samples should give NaN, got %g", got)
	}
}

func TestNearestRankQuantile(t *testing.T) {
	vals := []float64{10, 20, 30, 40}
	if got := Quantile(vals, 0.5, NearestRank); got != 20 {
		t.Errorf("nearest-rank median = %g; want 20", got)
	}
	if got := Quantile(vals, 1, NearestRank); got != 40 {
		t.Errorf("nearest-rank q=1 = %g; want 40", got)
	}
}

func TestLinearQuantile(t *testing.T) {
	vals := []float64{0, 10, 20, 30, 40}
	if got := LinearQuantile(vals, 0.5); got != 20 {
		t.Errorf("linear median = %g; want 20", got)
	}
	if got := LinearQuantile(vals, 0.25); got != 10 {
		t.Errorf("linear q=0.25 = %g; want 10", got)
	}
	if got := LinearQuantile([]float64{math.NaN(), 7}, 0.9); got != 7 {
		t.Errorf("single finite sample = %g; want 7", got)
	}
}

func TestMedian(t *testing.T) {
	if got := Median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("Median odd = %g; want 2", got)
	}
	if got := Median([]float64{4, 1, 2, 3}); got != 2.5 {
		t.Errorf("Median even = %g; want 2.5", got)
	}
	if got := Median(nil); !math.IsNaN(got) {
		t.Errorf("Median(nil) = %g; want NaN", got)
	}
}

func TestNaNMax(t *testing.T) {
	if got := NaNMax([]float64{math.NaN(), 2, 5, 1}); got != 5 {
		t.Errorf("NaNMax = %g; want 5", got)
	}
	if got := NaNMax([]float64{math.NaN()}); !math.IsNaN(got) {
		t.Errorf("NaNMax of all-NaN = %g; want NaN", got)
	}
}
