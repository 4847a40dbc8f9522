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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// RunSummary records what one forecast cycle did: identity, timing,
// artefact locations, and the environment. It is written next to the run
// data so later re-exports and audits can reconstruct the cycle.
type RunSummary struct {
	RunID   string `json:"run_id"`
	RunType string `json:"run_type"`
	Version string `json:"version"`

	Timing struct {
		StartedUTC      string  `json:"started_utc"`
		FinishedUTC     string  `json:"finished_utc"`
		DurationSeconds float64 `json:"duration_seconds"`
	} `json:"timing"`

	Members struct {
		Requested int `json:"requested"`
		Completed int `json:"completed"`
		Discarded int `json:"discarded"`
	} `json:"members"`

	Artifacts struct {
		ForecastDataDir string   `json:"forecast_data_dir"`
		ExportDir       string   `json:"export_dir"`
		ExportFiles     []string `json:"export_files"`
	} `json:"artifacts"`

	Environment struct {
		GoVersion string `json:"go_version"`
		Platform  string `json:"platform"`
	} `json:"environment"`

	Notes string `json:"notes"`
}

// WriteRunSummary persists the summary under <dataRoot>/runlog and
// returns the file path.
func WriteRunSummary(dataRoot string, s *RunSummary) (string, error) {
	s.Environment.GoVersion = runtime.Version()
	s.Environment.Platform = runtime.GOOS + "/" + runtime.GOARCH
	dir := filepath.Join(dataRoot, "runlog")
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}
	fpath := filepath.Join(dir, s.RunID+".json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("clyfarutil: encoding run summary: %v", err)
	}
	if err := os.WriteFile(fpath, b, 0644); err != nil {
		return "", fmt.Errorf("clyfarutil: writing run summary: %v", err)
	}
	return fpath, nil
}

// NewRunSummary starts a summary for the given cycle.
func NewRunSummary(init time.Time, runType, version string) *RunSummary {
	s := &RunSummary{
		RunID:   fmt.Sprintf("%s_%s", init.UTC().Format("20060102_1504Z"), runType),
		RunType: runType,
		Version: version,
	}
	return s
}
