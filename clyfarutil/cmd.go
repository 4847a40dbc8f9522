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

package clyfarutil

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bingham-research-center/clyfar"
	"github.com/bingham-research-center/clyfar/cluster"
	"github.com/bingham-research-center/clyfar/export"
	"github.com/bingham-research-center/clyfar/fis"
	"github.com/bingham-research-center/clyfar/forecast"
	"github.com/bingham-research-center/clyfar/geog"
	"github.com/bingham-research-center/clyfar/nwp"
	"github.com/bingham-research-center/clyfar/preprocess"
)

// Cfg is the global configuration for the command tree.
var Cfg *viper.Viper

var logger = logrus.New()

// Root is the main command.
var Root = &cobra.Command{
	Use:   "clyfar",
	Short: "Clyfar is a probabilistic winter ozone forecasting system for the Uintah Basin.",
	Long: `Clyfar reduces a 31-member global weather ensemble to basin-scale
representative values, drives a fuzzy inference system to a possibility
distribution over four ozone categories, and exports member time series,
daily maxima, exceedance probabilities, percentile scenarios, and a
scenario clustering summary.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
			Cfg.SetConfigFile(cfgFile)
			if err := Cfg.ReadInConfig(); err != nil {
				return fmt.Errorf("clyfarutil: reading configuration file: %v", err)
			}
		}
		if Cfg.GetBool("Verbose") {
			logger.SetLevel(logrus.DebugLevel)
		}
		return nil
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Clyfar v%s\n", clyfar.Version)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full ensemble forecast cycle",
	Long: `run executes the whole cycle: reduce every member's grids to
representative series, run the fuzzy inference loop, persist the member
tables, and export the JSON artefact bundle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return Run(cmd.Context(), cfg)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Re-export JSON artefacts from persisted member tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return Export(cfg)
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Rebuild the scenario clustering summary from persisted tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return Cluster(cfg)
	},
}

var geogCmd = &cobra.Command{
	Use:   "geog",
	Short: "Prepare the geography caches (coordinates, elevations, masks)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return PrepareGeography(cmd.Context(), cfg)
	},
}

func init() {
	Cfg = viper.New()
	configDefaults(Cfg)

	p := Root.PersistentFlags()
	p.String("config", "", "configuration file location")
	p.String("DataRoot", "./data", "root directory for data output")
	p.String("GEFSBaseURL", "", "base URL of the GEFS grid subset server")
	p.String("InitTime", "", "forecast initialization time (YYYYMMDDHH); empty for most recent")
	p.Int("Members", clyfar.MaxMembers, "number of ensemble members")
	p.Int("Workers", 8, "worker pool concurrency")
	p.Bool("Serial", false, "process reductions one at a time (debugging)")
	p.Int("DeltaH", clyfar.DefaultDeltaH, "forecast time step in hours")
	p.Int("MaxH", clyfar.LoRes.MaxLead(), "forecast horizon in hours")
	p.Int("TimeoutMinutes", 0, "global run timeout in minutes (0 disables)")
	p.Bool("Verbose", false, "enable verbose logging")
	p.Bool("UseSnowObservation", false, "offset snow by the representative observed depth")
	p.Float64("ObservedSnowMM", 0, "representative observed snow depth (mm)")
	bindFlags(Cfg, p, []string{"DataRoot", "GEFSBaseURL", "InitTime",
		"Members", "Workers", "Serial", "DeltaH", "MaxH", "TimeoutMinutes",
		"Verbose", "UseSnowObservation", "ObservedSnowMM"})

	Root.AddCommand(versionCmd, runCmd, exportCmd, clusterCmd, geogCmd)
}

// bindFlags connects command-line flags to their configuration variables
// so flags override file values.
func bindFlags(cfg *viper.Viper, flags *pflag.FlagSet, names []string) {
	for _, name := range names {
		if err := cfg.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// buildProvider composes the provider chain: HTTP fetcher, backoff
// retries, then deduplicated caching.
func buildProvider(cfg *Config) nwp.Provider {
	var p nwp.Provider = &nwp.GEFS{BaseURL: cfg.GEFSBaseURL}
	p = &nwp.Retrying{Provider: p}
	caching := &nwp.Caching{Provider: p, Workers: cfg.Workers}
	if cfg.GridCache {
		caching.Dir = filepath.Join(cfg.DataRoot, "gridcache")
	}
	return caching
}

func buildGeography(cfg *Config, provider nwp.Provider) *geog.Masks {
	return &geog.Masks{
		Service: &geog.Service{
			Dir:      filepath.Join(cfg.DataRoot, "geog"),
			Provider: provider,
		},
		Config: geog.MaskConfig{
			Threshold: cfg.MaskThreshold,
			Buffer:    cfg.MaskBuffer,
			Smooth:    cfg.SmoothElevation,
		},
	}
}

// Run executes a full forecast cycle.
func Run(ctx context.Context, cfg *Config) error {
	started := time.Now().UTC()
	init, err := cfg.ResolveInit()
	if err != nil {
		return err
	}
	for _, skipped := range init.Skipped {
		logger.WithField("cycle", clyfar.InitString(skipped)).Info(
			"skipping cycle awaiting provider availability")
	}
	logger.WithField("init", clyfar.InitString(init.Time)).Info("starting forecast cycle")

	members, err := clyfar.EnsembleMembers(cfg.Members)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.LocalTimeZone)
	if err != nil {
		return err
	}
	engine, err := fis.NewV0p9()
	if err != nil {
		return err
	}
	provider := buildProvider(cfg)
	driver := &forecast.Driver{
		Reducer: &preprocess.Reducer{
			Provider: provider,
			Masks:    buildGeography(cfg, provider),
			Interp:   clyfar.Hazen,
		},
		Engine:             engine,
		Workers:            cfg.Workers,
		Timeout:            time.Duration(cfg.TimeoutMinutes) * time.Minute,
		Percentiles:        cfg.Percentiles,
		DeltaH:             cfg.DeltaH,
		MaxH:               cfg.MaxH,
		UseSnowObservation: cfg.UseSnowObservation,
		ObservedSnow:       cfg.ObservedSnowMM,
		Serial:             cfg.Serial,
		Log:                logger,
	}

	result, err := driver.Run(ctx, init.Time, members, loc)
	if err != nil {
		return err
	}
	for m, offset := range result.SnowOffsets {
		logger.WithFields(logrus.Fields{
			"member": m.Label(), "offset_mm": fmt.Sprintf("%.1f", offset),
		}).Info("applied snow observation offset")
	}

	for _, memberSeries := range result.Series {
		for _, s := range memberSeries {
			if err := SaveSeries(cfg.DataRoot, s); err != nil {
				return err
			}
		}
	}
	for _, frame := range result.Frames {
		if err := SaveFrame(cfg.DataRoot, frame); err != nil {
			return err
		}
	}
	for _, daily := range result.DailyMax {
		if err := SaveDailyMax(cfg.DataRoot, daily); err != nil {
			return err
		}
	}
	logger.WithField("dir", RunDir(cfg.DataRoot, init.Time)).Info("persisted member tables")

	exporter := &export.Exporter{
		Dir: filepath.Join(RunDir(cfg.DataRoot, init.Time), "basinwx_export"),
		Log: logger,
	}
	bundle, err := exporter.WriteAll(init.Time, result.Frames, result.DailyMax, cfg.Percentiles)
	if err != nil {
		return err
	}

	summary := NewRunSummary(init.Time, "operational", clyfar.Version)
	summary.Timing.StartedUTC = started.Format(time.RFC3339)
	summary.Timing.FinishedUTC = time.Now().UTC().Format(time.RFC3339)
	summary.Timing.DurationSeconds = time.Since(started).Seconds()
	summary.Members.Requested = len(members)
	summary.Members.Completed = len(result.Frames)
	summary.Members.Discarded = len(members) - len(result.Frames)
	summary.Artifacts.ForecastDataDir = RunDir(cfg.DataRoot, init.Time)
	summary.Artifacts.ExportDir = exporter.Dir
	summary.Artifacts.ExportFiles = bundle.Files()
	fpath, err := WriteRunSummary(cfg.DataRoot, summary)
	if err != nil {
		return err
	}
	logger.WithField("path", fpath).Info("run metadata written")
	return nil
}

// loadRunTables reads back every member table persisted for a cycle.
func loadRunTables(cfg *Config, init time.Time, loc *time.Location) (
	map[clyfar.Member]*clyfar.MemberFrame, map[clyfar.Member]*clyfar.DailyMaxFrame, error) {

	frames := make(map[clyfar.Member]*clyfar.MemberFrame)
	dailymax := make(map[clyfar.Member]*clyfar.DailyMaxFrame)
	for i := 0; i < clyfar.MaxMembers; i++ {
		m := clyfar.Member(i)
		frame, err := LoadFrame(cfg.DataRoot, init, m)
		if err != nil {
			continue // member absent from this run
		}
		daily, err := LoadDailyMax(cfg.DataRoot, init, m, loc)
		if err != nil {
			daily = clyfar.DailyMax(frame, loc)
		}
		frames[m] = frame
		dailymax[m] = daily
	}
	if len(frames) == 0 {
		return nil, nil, fmt.Errorf("clyfarutil: no member tables found under %s",
			RunDir(cfg.DataRoot, init))
	}
	return frames, dailymax, nil
}

// Export rebuilds the artefact bundle from persisted tables.
func Export(cfg *Config) error {
	init, err := cfg.ResolveInit()
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.LocalTimeZone)
	if err != nil {
		return err
	}
	frames, dailymax, err := loadRunTables(cfg, init.Time, loc)
	if err != nil {
		return err
	}
	exporter := &export.Exporter{
		Dir: filepath.Join(RunDir(cfg.DataRoot, init.Time), "basinwx_export"),
		Log: logger,
	}
	_, err = exporter.WriteAll(init.Time, frames, dailymax, cfg.Percentiles)
	return err
}

// Cluster rebuilds only the clustering summary artefact.
func Cluster(cfg *Config) error {
	init, err := cfg.ResolveInit()
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.LocalTimeZone)
	if err != nil {
		return err
	}
	frames, dailymax, err := loadRunTables(cfg, init.Time, loc)
	if err != nil {
		return err
	}
	members, weather := cluster.FromDailyMax(dailymax, frames)
	summary, err := cluster.BuildSummary(clyfar.InitString(init.Time), members, weather)
	if err != nil {
		return err
	}
	exporter := &export.Exporter{
		Dir: filepath.Join(RunDir(cfg.DataRoot, init.Time), "basinwx_export"),
		Log: logger,
	}
	_, err = exporter.WriteClusteringSummary(init.Time, summary)
	return err
}

// PrepareGeography warms the coordinate, elevation, and mask caches.
func PrepareGeography(ctx context.Context, cfg *Config) error {
	provider := buildProvider(cfg)
	masks := buildGeography(cfg, provider)
	for _, res := range []clyfar.Resolution{clyfar.HiRes, clyfar.LoRes} {
		m, err := masks.Get(ctx, res)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"resolution": res, "low_terrain_cells": m.CountTrue(),
		}).Info("mask ready")
	}
	return nil
}
