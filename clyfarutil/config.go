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

// Package clyfarutil wires the Clyfar core into an operational command
// surface: configuration handling, on-disk persistence of member tables,
// the cobra command tree, and run metadata.
package clyfarutil

import (
	"fmt"
	"os"
	"time"

	"github.com/lnashier/viper"
	"github.com/spf13/cast"

	"github.com/bingham-research-center/clyfar"
)

// Config collects the runtime configuration of a forecast cycle.
type Config struct {
	// DataRoot is the root directory for persisted tables, caches, and
	// artefacts.
	DataRoot string
	// GEFSBaseURL is the root of the grid subset server.
	GEFSBaseURL string
	// GridCache enables the on-disk grid cache under
	// <DataRoot>/gridcache.
	GridCache bool

	// InitTime forces a specific cycle (YYYYMMDDHH). Empty means the
	// most recent cycle satisfying the provider delay.
	InitTime string
	// RequiredDelayHours is the assumed provider latency for resolving
	// the most recent usable cycle.
	RequiredDelayHours int

	Members int
	Workers int
	Serial  bool

	DeltaH int
	MaxH   int

	Percentiles []int

	// TimeoutMinutes bounds the whole ensemble run; zero disables.
	TimeoutMinutes int

	LocalTimeZone string

	MaskThreshold   float64
	MaskBuffer      float64
	SmoothElevation bool

	// UseSnowObservation enables the snow offset hook with
	// ObservedSnowMM as the representative observed depth.
	UseSnowObservation bool
	ObservedSnowMM     float64

	Verbose bool
}

// configDefaults are applied before reading any configuration source.
func configDefaults(cfg *viper.Viper) {
	cfg.SetDefault("DataRoot", "./data")
	cfg.SetDefault("GEFSBaseURL", "")
	cfg.SetDefault("GridCache", true)
	cfg.SetDefault("InitTime", "")
	cfg.SetDefault("RequiredDelayHours", 8)
	cfg.SetDefault("Members", clyfar.MaxMembers)
	cfg.SetDefault("Workers", 8)
	cfg.SetDefault("Serial", false)
	cfg.SetDefault("DeltaH", clyfar.DefaultDeltaH)
	cfg.SetDefault("MaxH", clyfar.LoRes.MaxLead())
	cfg.SetDefault("Percentiles", []int{10, 50, 90})
	cfg.SetDefault("TimeoutMinutes", 0)
	cfg.SetDefault("LocalTimeZone", clyfar.LocalTimeZone)
	cfg.SetDefault("MaskThreshold", clyfar.ElevationThreshold)
	cfg.SetDefault("MaskBuffer", clyfar.ElevationBuffer)
	cfg.SetDefault("SmoothElevation", false)
	cfg.SetDefault("UseSnowObservation", false)
	cfg.SetDefault("ObservedSnowMM", 0.)
	cfg.SetDefault("Verbose", false)
}

// LoadConfig builds the run configuration from a viper instance.
func LoadConfig(cfg *viper.Viper) (*Config, error) {
	percentiles, err := toIntSlice(cfg.Get("Percentiles"))
	if err != nil {
		return nil, fmt.Errorf("clyfarutil: parsing Percentiles: %v", err)
	}
	c := &Config{
		DataRoot:           os.ExpandEnv(cfg.GetString("DataRoot")),
		GEFSBaseURL:        os.ExpandEnv(cfg.GetString("GEFSBaseURL")),
		GridCache:          cfg.GetBool("GridCache"),
		InitTime:           cfg.GetString("InitTime"),
		RequiredDelayHours: cfg.GetInt("RequiredDelayHours"),
		Members:            cfg.GetInt("Members"),
		Workers:            cfg.GetInt("Workers"),
		Serial:             cfg.GetBool("Serial"),
		DeltaH:             cfg.GetInt("DeltaH"),
		MaxH:               cfg.GetInt("MaxH"),
		Percentiles:        percentiles,
		TimeoutMinutes:     cfg.GetInt("TimeoutMinutes"),
		LocalTimeZone:      cfg.GetString("LocalTimeZone"),
		MaskThreshold:      cfg.GetFloat64("MaskThreshold"),
		MaskBuffer:         cfg.GetFloat64("MaskBuffer"),
		SmoothElevation:    cfg.GetBool("SmoothElevation"),
		UseSnowObservation: cfg.GetBool("UseSnowObservation"),
		ObservedSnowMM:     cfg.GetFloat64("ObservedSnowMM"),
		Verbose:            cfg.GetBool("Verbose"),
	}
	if c.GEFSBaseURL == "" {
		return nil, fmt.Errorf("clyfarutil: GEFSBaseURL must be set to the grid subset server")
	}
	if c.DeltaH < 1 {
		return nil, fmt.Errorf("clyfarutil: DeltaH=%d but must be at least 1", c.DeltaH)
	}
	if c.MaxH < c.DeltaH || c.MaxH > clyfar.LoRes.MaxLead() {
		return nil, fmt.Errorf("clyfarutil: MaxH=%d outside [%d, %d]",
			c.MaxH, c.DeltaH, clyfar.LoRes.MaxLead())
	}
	if _, err := time.LoadLocation(c.LocalTimeZone); err != nil {
		return nil, fmt.Errorf("clyfarutil: LocalTimeZone: %v", err)
	}
	return c, nil
}

// ResolveInit returns the cycle this configuration runs for.
func (c *Config) ResolveInit() (clyfar.InitTime, error) {
	if c.InitTime == "" {
		return clyfar.ResolveInitTime(time.Now(),
			time.Duration(c.RequiredDelayHours)*time.Hour), nil
	}
	t, err := time.ParseInLocation("2006010215", c.InitTime, time.UTC)
	if err != nil {
		return clyfar.InitTime{}, fmt.Errorf("clyfarutil: parsing InitTime %q (want YYYYMMDDHH): %v",
			c.InitTime, err)
	}
	return clyfar.ForcedInitTime(t)
}

// toIntSlice converts a viper value that may be a native slice or a
// command-line string into []int.
func toIntSlice(v interface{}) ([]int, error) {
	switch vals := v.(type) {
	case []int:
		return vals, nil
	case []interface{}:
		out := make([]int, len(vals))
		for i, val := range vals {
			n, err := cast.ToIntE(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return cast.ToIntSliceE(v)
	}
}
