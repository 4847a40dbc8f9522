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

// Package clyfar implements an operational probabilistic forecasting system
// for wintertime surface ozone in the Uintah Basin. For each six-hour
// ensemble cycle it reduces gridded weather ensemble output to basin-scale
// representative values, drives a fuzzy inference system to obtain a
// possibility distribution over four ozone categories, and exports member
// time series, daily maxima, exceedance probabilities, and ensemble
// percentile scenarios.
package clyfar

import (
	"fmt"
	"time"

	"github.com/ctessum/geom"
)

// Version gives the version of this build of Clyfar.
const Version = "0.9.5"

// Basin is the bounding box of the Uintah Basin analysis domain.
var Basin = geom.Bounds{
	Min: geom.Point{X: -110.9, Y: 39.2},
	Max: geom.Point{X: -108.2, Y: 41.3},
}

// Ouray is the fixed location used for the MSLP point lookup.
var Ouray = geom.Point{X: -109.6774, Y: 40.0891}

// Elevation masking parameters. The production build buffers the split
// elevation upward so marginal benches stay in the low-terrain mask.
const (
	ElevationThreshold = 1850. // m
	ElevationBuffer    = 250.  // m
)

// LocalTimeZone is the IANA zone used for local-day aggregation and the
// solar persistence filler.
const LocalTimeZone = "America/Denver"

// Resolution identifies one of the two GEFS output grids.
type Resolution string

const (
	// HiRes is the 0.25° grid, available for leads 0–240 h.
	HiRes Resolution = "0p25"
	// LoRes is the 0.5° grid, available for leads 0–384 h.
	LoRes Resolution = "0p5"
)

// MaxLead returns the last forecast hour available at this resolution.
func (r Resolution) MaxLead() int {
	if r == HiRes {
		return 240
	}
	return 384
}

// HorizonSplit is the lead hour where the pipeline switches from the
// hi-resolution stream to the lo-resolution stream.
const HorizonSplit = 240

// Forecast time stepping defaults.
const (
	DefaultDeltaH    = 3
	DefaultSolarDelta = 3
)

// Variable identifies one of the meteorological quantities Clyfar reduces
// from the ensemble grids.
type Variable int

const (
	Snow Variable = iota
	MSLP
	Wind
	Solar
	Temp
)

// Variables lists all variables processed for each member, in the order
// they are reduced.
var Variables = []Variable{Snow, MSLP, Wind, Solar, Temp}

// ReductionKind distinguishes area reductions from point lookups.
type ReductionKind int

const (
	// AreaQuantile reduces masked grid cells with a quantile.
	AreaQuantile ReductionKind = iota
	// PointLookup extracts the nearest grid cell to a fixed location.
	PointLookup
)

// VariableInfo carries the static per-variable configuration: the provider
// query, the reduction policy, unit handling, and export precision.
type VariableInfo struct {
	Name      string  // short name used in file names and frame columns
	Query     string  // provider variable query
	Key       string  // dataset variable key in provider output
	Kind      ReductionKind
	Quantile  float64 // reduction quantile for AreaQuantile variables
	Scale     float64 // multiplicative unit conversion applied after reduction
	Offset    float64 // additive unit conversion applied after reduction
	Units     string
	Precision int  // decimal places in exported JSON
	FISInput  bool // whether the variable feeds the fuzzy inference system
}

// variableTable is the static configuration for each variable. Quantiles
// and interpolation policy are fixed: snow uses a high quantile to capture
// deep-pack extremes, wind the median, solar a near-maximum to represent
// clear-basin insolation. Snow converts m to mm and temperature K to °C.
var variableTable = map[Variable]VariableInfo{
	Snow: {
		Name: "snow", Query: "snow depth", Key: "sde",
		Kind: AreaQuantile, Quantile: 0.75, Scale: 1000, Offset: 0,
		Units: "mm", Precision: 0, FISInput: true,
	},
	MSLP: {
		Name: "mslp", Query: "mean-sea-level pressure", Key: "prmsl",
		Kind: PointLookup, Quantile: 0.5, Scale: 0.01, Offset: 0,
		Units: "hPa", Precision: 1, FISInput: true,
	},
	Wind: {
		Name: "wind", Query: "10 m wind speed", Key: "si10",
		Kind: AreaQuantile, Quantile: 0.5, Scale: 1, Offset: 0,
		Units: "m/s", Precision: 1, FISInput: true,
	},
	Solar: {
		Name: "solar", Query: "downward shortwave radiation at surface", Key: "sdswrf",
		Kind: AreaQuantile, Quantile: 0.9, Scale: 1, Offset: 0,
		Units: "W/m²", Precision: 0, FISInput: true,
	},
	Temp: {
		Name: "temp", Query: "2 m temperature", Key: "t2m",
		Kind: AreaQuantile, Quantile: 0.5, Scale: 1, Offset: -273.15,
		Units: "°C", Precision: 1, FISInput: false,
	},
}

// Info returns the static configuration for v.
func (v Variable) Info() VariableInfo { return variableTable[v] }

// String implements fmt.Stringer.
func (v Variable) String() string { return variableTable[v].Name }

// ParseVariable returns the variable with the given short name.
func ParseVariable(name string) (Variable, error) {
	for _, v := range Variables {
		if v.Info().Name == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("clyfar: unknown variable %q", name)
}

// Member identifies one ensemble member: 0 is the control and 1–30 are the
// perturbation members.
type Member int

// MaxMembers is the GEFS ensemble size (control + 30 perturbations).
const MaxMembers = 31

// GEFSLabel returns the provider-specific member label (c00, p01…p30).
func (m Member) GEFSLabel() string {
	if m == 0 {
		return "c00"
	}
	return fmt.Sprintf("p%02d", int(m))
}

// Label returns the stable output label (clyfar000…clyfar030).
func (m Member) Label() string {
	return fmt.Sprintf("clyfar%03d", int(m))
}

// EnsembleMembers returns the member set for a run with n members. A full
// 31-member run is the control plus all perturbations; smaller runs use
// perturbation members only, matching historical behavior.
func EnsembleMembers(n int) ([]Member, error) {
	if n < 1 {
		return nil, fmt.Errorf("clyfar: member count must be at least 1")
	}
	if n > MaxMembers {
		return nil, fmt.Errorf("clyfar: GEFS has at most %d members (c00 + p01-p30)", MaxMembers)
	}
	var members []Member
	if n == MaxMembers {
		for i := 0; i < MaxMembers; i++ {
			members = append(members, Member(i))
		}
		return members, nil
	}
	for i := 1; i <= n; i++ {
		members = append(members, Member(i))
	}
	return members, nil
}

// InitTime is a forecast initialization time, always aligned to a 6-hour
// cycle boundary in UTC.
type InitTime struct {
	// Time is the UTC cycle instant.
	Time time.Time
	// Skipped lists more recent cycles that were passed over while waiting
	// for provider data availability.
	Skipped []time.Time
}

// CycleInterval is the spacing of ensemble initialization cycles.
const CycleInterval = 6 * time.Hour

// DefaultRequiredDelay is the provider latency assumed before a cycle's
// output is complete enough to use.
const DefaultRequiredDelay = 8 * time.Hour

// ResolveInitTime finds the most recent cycle whose output should be
// available, stepping back in 6-hour increments from now until the
// required provider delay is satisfied.
func ResolveInitTime(now time.Time, requiredDelay time.Duration) InitTime {
	now = now.UTC()
	cycle := now.Truncate(CycleInterval)
	var skipped []time.Time
	for now.Sub(cycle) < requiredDelay {
		skipped = append(skipped, cycle)
		cycle = cycle.Add(-CycleInterval)
	}
	return InitTime{Time: cycle, Skipped: skipped}
}

// ForcedInitTime wraps an operator-specified cycle time, validating the
// 6-hour alignment.
func ForcedInitTime(t time.Time) (InitTime, error) {
	t = t.UTC()
	if !t.Truncate(CycleInterval).Equal(t) {
		return InitTime{}, fmt.Errorf("clyfar: init time %v is not aligned to a 6 h cycle", t)
	}
	return InitTime{Time: t}, nil
}

// InitString formats an init time the way run directories and artefact
// file names expect it.
func InitString(t time.Time) string {
	return t.UTC().Format("20060102_1504Z")
}
