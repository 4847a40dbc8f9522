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
	"fmt"
	"math"
	"sort"
	"time"
)

// VariableSeries is an ordered sequence of (valid-time, scalar) samples for
// a single variable and ensemble member. The lead-hour column fxx is
// round((valid-time − init-time)/1h). NaN values mark missing samples;
// lead zero may be absent for variables where analysis time is
// ill-defined (solar).
type VariableSeries struct {
	Variable Variable
	Member   Member
	Init     time.Time
	Times    []time.Time
	Values   []float64
	Fxx      []int
}

// NewVariableSeries returns an empty series for the given variable,
// member, and init time.
func NewVariableSeries(v Variable, m Member, init time.Time) *VariableSeries {
	return &VariableSeries{Variable: v, Member: m, Init: init.UTC()}
}

// Len returns the number of samples.
func (s *VariableSeries) Len() int { return len(s.Times) }

// Append adds a sample at valid time t with lead hour derived from the
// init time.
func (s *VariableSeries) Append(t time.Time, val float64) {
	t = t.UTC()
	fxx := int(math.Round(t.Sub(s.Init).Hours()))
	s.Times = append(s.Times, t)
	s.Values = append(s.Values, val)
	s.Fxx = append(s.Fxx, fxx)
}

// Sort orders the samples by valid time, keeping the sample order stable
// for equal timestamps.
func (s *VariableSeries) Sort() {
	idx := make([]int, len(s.Times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.Times[idx[a]].Before(s.Times[idx[b]])
	})
	times := make([]time.Time, len(idx))
	vals := make([]float64, len(idx))
	fxx := make([]int, len(idx))
	for i, j := range idx {
		times[i] = s.Times[j]
		vals[i] = s.Values[j]
		fxx[i] = s.Fxx[j]
	}
	s.Times, s.Values, s.Fxx = times, vals, fxx
}

// DedupKeepFirst removes samples with duplicated valid times, keeping the
// earliest-recorded sample for each timestamp. The series must already be
// sorted.
func (s *VariableSeries) DedupKeepFirst() {
	if len(s.Times) < 2 {
		return
	}
	times := s.Times[:1]
	vals := s.Values[:1]
	fxx := s.Fxx[:1]
	for i := 1; i < len(s.Times); i++ {
		if s.Times[i].Equal(times[len(times)-1]) {
			continue
		}
		times = append(times, s.Times[i])
		vals = append(vals, s.Values[i])
		fxx = append(fxx, s.Fxx[i])
	}
	s.Times, s.Values, s.Fxx = times, vals, fxx
}

// CheckMonotone verifies the series invariants: strictly increasing valid
// times and strictly increasing non-negative lead hours.
func (s *VariableSeries) CheckMonotone() error {
	for i := 1; i < len(s.Times); i++ {
		if !s.Times[i].After(s.Times[i-1]) {
			return fmt.Errorf("clyfar: %s series valid times not strictly increasing at index %d", s.Variable, i)
		}
		if s.Fxx[i] <= s.Fxx[i-1] {
			return fmt.Errorf("clyfar: %s series lead hours not strictly increasing at index %d", s.Variable, i)
		}
	}
	for i, f := range s.Fxx {
		if f < 0 {
			return fmt.Errorf("clyfar: %s series negative lead hour at index %d", s.Variable, i)
		}
	}
	return nil
}

// IndexOf returns the index of the sample at exactly t, or -1.
func (s *VariableSeries) IndexOf(t time.Time) int {
	t = t.UTC()
	i := sort.Search(len(s.Times), func(i int) bool { return !s.Times[i].Before(t) })
	if i < len(s.Times) && s.Times[i].Equal(t) {
		return i
	}
	return -1
}

// NearestIndex returns the index of the sample whose valid time is
// closest to t. The series must be sorted and non-empty.
func (s *VariableSeries) NearestIndex(t time.Time) int {
	t = t.UTC()
	i := sort.Search(len(s.Times), func(i int) bool { return !s.Times[i].Before(t) })
	if i == 0 {
		return 0
	}
	if i == len(s.Times) {
		return len(s.Times) - 1
	}
	if t.Sub(s.Times[i-1]) <= s.Times[i].Sub(t) {
		return i - 1
	}
	return i
}

// ValueAt returns the value at exactly t, or NaN if t is not in the
// series.
func (s *VariableSeries) ValueAt(t time.Time) float64 {
	if i := s.IndexOf(t); i >= 0 {
		return s.Values[i]
	}
	return math.NaN()
}

// NearestValue returns the value of the sample closest in time to t, or
// NaN for an empty series.
func (s *VariableSeries) NearestValue(t time.Time) float64 {
	if len(s.Times) == 0 {
		return math.NaN()
	}
	return s.Values[s.NearestIndex(t)]
}
