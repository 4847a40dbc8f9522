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
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Interpolation selects the quantile estimator used by the reduction
// kernel.
type Interpolation int

const (
	// Hazen estimates the quantile at rank q·n + 0.5 with linear
	// interpolation between sorted samples.
	Hazen Interpolation = iota
	// NearestRank returns the sample at the nearest whole rank.
	NearestRank
)

// FiniteVals returns the finite entries of vals.
func FiniteVals(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// Quantile reduces vals to the quantile q using the given estimator,
// ignoring non-finite samples. With fewer than two finite samples the
// result is NaN: a single cell cannot anchor an interpolated rank.
func Quantile(vals []float64, q float64, interp Interpolation) float64 {
	finite := FiniteVals(vals)
	n := len(finite)
	if n < 2 {
		return math.NaN()
	}
	sort.Float64s(finite)
	switch interp {
	case NearestRank:
		rank := int(math.Ceil(q * float64(n)))
		if rank < 1 {
			rank = 1
		} else if rank > n {
			rank = n
		}
		return finite[rank-1]
	default:
		h := q*float64(n) + 0.5 // 1-based Hazen rank
		if h <= 1 {
			return finite[0]
		}
		if h >= float64(n) {
			return finite[n-1]
		}
		lo := int(math.Floor(h))
		frac := h - float64(lo)
		return finite[lo-1] + frac*(finite[lo]-finite[lo-1])
	}
}

// LinearQuantile is the piecewise-linear empirical quantile used for
// ensemble spread summaries, ignoring non-finite samples. It matches the
// conventional "linear" estimator at rank 1 + q·(n−1).
func LinearQuantile(vals []float64, q float64) float64 {
	finite := FiniteVals(vals)
	n := len(finite)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return finite[0]
	}
	sort.Float64s(finite)
	h := q * float64(n-1) // 0-based position
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return finite[n-1]
	}
	frac := h - float64(lo)
	return finite[lo] + frac*(finite[lo+1]-finite[lo])
}

// Median returns the median of the finite entries of vals, or NaN if there
// are none.
func Median(vals []float64) float64 {
	finite := FiniteVals(vals)
	if len(finite) == 0 {
		return math.NaN()
	}
	if len(finite) == 1 {
		return finite[0]
	}
	sort.Float64s(finite)
	n := len(finite)
	if n%2 == 1 {
		return finite[n/2]
	}
	return 0.5 * (finite[n/2-1] + finite[n/2])
}

// NaNMax returns the maximum of the finite entries of vals, or NaN if
// there are none.
func NaNMax(vals []float64) float64 {
	finite := FiniteVals(vals)
	if len(finite) == 0 {
		return math.NaN()
	}
	return floats.Max(finite)
}

// NaNMean returns the mean of the finite entries of vals, or NaN if there
// are none.
func NaNMean(vals []float64) float64 {
	finite := FiniteVals(vals)
	if len(finite) == 0 {
		return math.NaN()
	}
	return floats.Sum(finite) / float64(len(finite))
}
